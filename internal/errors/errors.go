// Package errors defines the error taxonomy shared across the membership
// service. Wire-layer failures never escape the service boundary except as
// one of these sentinels, retries, or detector verdicts.
package errors

import "errors"

// Sentinel errors matching the taxonomy in the design: transient transport
// failures, configuration fencing, identity conflicts, rejected joins,
// invariant violations, and shutdown races.
var (
	// ErrTransientTransport covers RPC timeouts and connection failures.
	// Callers retry with backoff up to their attempt bound.
	ErrTransientTransport = errors.New("rapidmember: transient transport failure")

	// ErrConfigMismatch is returned when an inbound message carries a
	// configurationId other than the receiver's current one.
	ErrConfigMismatch = errors.New("rapidmember: configuration mismatch")

	// ErrUUIDAlreadyInRing means the joiner's NodeId collides with one
	// already admitted into this configuration.
	ErrUUIDAlreadyInRing = errors.New("rapidmember: uuid already in ring")

	// ErrHostnameAlreadyInRing means the joiner's endpoint is already a
	// current member.
	ErrHostnameAlreadyInRing = errors.New("rapidmember: hostname already in ring")

	// ErrMembershipRejected is fatal to a joiner: a reachable member
	// refused the join outright.
	ErrMembershipRejected = errors.New("rapidmember: membership rejected")

	// ErrInvariantViolation indicates a logic bug, not a protocol error.
	// Callers should fail fast rather than attempt recovery.
	ErrInvariantViolation = errors.New("rapidmember: invariant violation")

	// ErrShutdown is returned to callers whose operation raced with
	// teardown.
	ErrShutdown = errors.New("rapidmember: service is shutting down")

	// ErrJoinAttemptsExhausted is fatal: the joiner exceeded its bounded
	// retry count without being admitted.
	ErrJoinAttemptsExhausted = errors.New("rapidmember: join attempts exhausted")
)

// Is is a thin re-export of the standard library's errors.Is so callers in
// this module don't need a second import for comparisons against the
// sentinels above.
func Is(err, target error) bool { return errors.Is(err, target) }
