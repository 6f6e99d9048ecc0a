// Package join implements the joiner side of the two-phase join protocol
// described in spec.md §4.5.
package join

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	rmerrors "github.com/masallsome/rapidmember/internal/errors"
	"github.com/masallsome/rapidmember/internal/logging"
	"github.com/masallsome/rapidmember/pkg/configuration"
	"github.com/masallsome/rapidmember/pkg/membership"
	"github.com/masallsome/rapidmember/pkg/wire"
)

// MaxAttempts bounds the joiner's retry loop (spec.md §6.3: "join attempts
// ≤ 5").
const MaxAttempts = 5

// Transport is the subset of rpc.Transport the joiner needs. Defined
// locally so tests can supply a fake without depending on pkg/rpc.
type Transport interface {
	SendJoinPhase1(ctx context.Context, seed wire.Endpoint, msg *wire.JoinMessage) (*wire.JoinResponse, error)
	SendJoinPhase2(ctx context.Context, observer wire.Endpoint, msg *wire.JoinMessage) (*wire.JoinResponse, error)
}

// Joiner drives the join protocol for a new node.
type Joiner struct {
	self      wire.Endpoint
	metadata  map[string]string
	transport Transport
	log       *logging.Logger
}

// New constructs a Joiner for the given local endpoint.
func New(self wire.Endpoint, metadata map[string]string, t Transport) *Joiner {
	return &Joiner{self: self, metadata: metadata, transport: t, log: logging.New("joiner")}
}

// Join drives phase 1 against seed, then phase 2 against the K observers
// it returns, making at most MaxAttempts attempts. On success it returns the
// fully resolved MembershipView extracted from the admitting observer's
// response.
func (j *Joiner) Join(ctx context.Context, seed wire.Endpoint) (*membership.View, error) {
	nodeID := configuration.NodeID(uuid.New())

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		view, retry, err := j.attempt(ctx, seed, nodeID)
		if err != nil {
			return nil, err
		}
		if view != nil {
			return view, nil
		}
		if retry.regenerateID {
			nodeID = configuration.NodeID(uuid.New())
		}
		j.log.Printf("join attempt %d/%d did not complete (%s), retrying", attempt+1, MaxAttempts, retry.reason)
	}
	return nil, rmerrors.ErrJoinAttemptsExhausted
}

type retryHint struct {
	regenerateID bool
	reason       string
}

// attempt runs one full phase-1 + phase-2 round. It returns a non-nil view
// on success, or a retry hint (and nil error) when the caller should loop
// again, or a fatal error when the join must abort outright.
func (j *Joiner) attempt(ctx context.Context, seed wire.Endpoint, nodeID configuration.NodeID) (*membership.View, retryHint, error) {
	phase1Msg := &wire.JoinMessage{Sender: j.self, NodeID: [16]byte(nodeID), Metadata: j.metadata}
	resp, err := j.transport.SendJoinPhase1(ctx, seed, phase1Msg)
	if err != nil {
		return nil, retryHint{reason: fmt.Sprintf("phase1 transport error: %v", err)}, nil
	}

	switch resp.StatusCode {
	case wire.StatusUUIDAlreadyInRing, wire.StatusConfigChanged:
		return nil, retryHint{regenerateID: true, reason: resp.StatusCode.String()}, nil
	case wire.StatusHostnameAlreadyInRing:
		// Resolved Open Question (SPEC_FULL.md §4): the observer attaches its
		// current snapshot specifically so we can tell a stale reservation
		// (our own prior phase-2 committed but its response never reached
		// us) apart from a genuine live hostname collision.
		switch view, boundToOther := j.resolveHostnameCollision(resp, nodeID); {
		case view != nil:
			return view, retryHint{}, nil
		case boundToOther:
			return nil, retryHint{}, rmerrors.ErrHostnameAlreadyInRing
		default:
			return nil, retryHint{reason: resp.StatusCode.String()}, nil
		}
	case wire.StatusMembershipRejected:
		return nil, retryHint{}, rmerrors.ErrMembershipRejected
	case wire.StatusSafeToJoin:
		// fall through to phase 2
	default:
		return nil, retryHint{reason: "unrecognized phase1 status"}, nil
	}

	phase1ConfigID := resp.ConfigID
	observers := resp.Hosts
	if len(observers) == 0 {
		return nil, retryHint{reason: "phase1 returned no observers"}, nil
	}

	view, ok := j.runPhase2(ctx, observers, nodeID, phase1ConfigID)
	if !ok {
		return nil, retryHint{reason: "phase2 did not observe a commit"}, nil
	}
	return view, retryHint{}, nil
}

// resolveHostnameCollision inspects a StatusHostnameAlreadyInRing snapshot
// for our own endpoint. If it's bound to the nodeID we're currently joining
// with, a prior attempt's phase-2 already committed us but its response
// never made it back, so the view can be resolved directly from the
// snapshot instead of retrying. If it's bound to a different nodeID, a
// genuine live node already occupies our hostname, which is fatal rather
// than retryable. If our endpoint isn't in the snapshot at all, neither
// return value fires and the caller falls back to a bare retry.
func (j *Joiner) resolveHostnameCollision(resp *wire.JoinResponse, nodeID configuration.NodeID) (view *membership.View, boundToOther bool) {
	for i, host := range resp.Hosts {
		if host != j.self || i >= len(resp.Identifiers) {
			continue
		}
		if configuration.NodeID(resp.Identifiers[i]) != nodeID {
			return nil, true
		}
		ids := make([]configuration.NodeID, len(resp.Identifiers))
		for k, raw := range resp.Identifiers {
			ids[k] = configuration.NodeID(raw)
		}
		v, err := membership.NewFromLists(resp.Hosts, ids)
		if err != nil {
			j.log.Printf("phase1: malformed hostname-collision snapshot: %v", err)
			return nil, false
		}
		return v, false
	}
	return nil, false
}

// runPhase2 sends a phase-2 join message to each observer in parallel and
// returns the view built from the first response that both reports
// SAFE_TO_JOIN and carries a configurationId different from phase1ConfigID
// — the signal that the view has committed the joiner's addition
// (spec.md §4.5).
func (j *Joiner) runPhase2(ctx context.Context, observers []wire.Endpoint, nodeID configuration.NodeID, phase1ConfigID int64) (*membership.View, bool) {
	type result struct {
		resp *wire.JoinResponse
		err  error
	}

	results := make(chan result, len(observers))
	var wg sync.WaitGroup
	for ring, observer := range observers {
		ring, observer := ring, observer
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := &wire.JoinMessage{
				Sender: j.self, NodeID: [16]byte(nodeID), Metadata: j.metadata,
				RingNumber: ring, ConfigID: phase1ConfigID, HasRingNumber: true, HasConfigID: true,
			}
			resp, err := j.transport.SendJoinPhase2(ctx, observer, msg)
			results <- result{resp: resp, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			continue
		}
		if r.resp.StatusCode == wire.StatusSafeToJoin && r.resp.ConfigID != phase1ConfigID {
			ids := make([]configuration.NodeID, len(r.resp.Identifiers))
			for i, raw := range r.resp.Identifiers {
				ids[i] = configuration.NodeID(raw)
			}
			view, err := membership.NewFromLists(r.resp.Hosts, ids)
			if err != nil {
				j.log.Printf("phase2: malformed admitting response: %v", err)
				continue
			}
			return view, true
		}
	}
	return nil, false
}
