// Package detector defines the pluggable LinkFailureDetector contract
// (spec.md §4.3) and ships a default ping-pong implementation. The
// transport used to actually send probes is supplied by the caller via
// ProbeTransport — this package never dials a socket itself.
package detector

import (
	"context"
	"sync"

	"github.com/masallsome/rapidmember/pkg/wire"
)

// LinkFailureDetector is the capability set a pluggable per-edge liveness
// estimator must implement. Implementations are swappable at cluster
// construction time (cluster.WithLinkFailureDetector); no runtime type
// introspection is required of callers.
type LinkFailureDetector interface {
	// CreateProbe builds the opaque probe payload to send to subject.
	CreateProbe(subject wire.Endpoint) wire.ProbeMessage
	// HandleProbeMessage answers an inbound probe from a remote observer.
	HandleProbeMessage(msg wire.ProbeMessage) wire.ProbeResponse
	// OnProbeSuccess records a successful round trip for subject.
	OnProbeSuccess(resp wire.ProbeResponse, subject wire.Endpoint)
	// OnProbeFailure records a failed or timed-out round trip for subject.
	OnProbeFailure(err error, subject wire.Endpoint)
	// HasFailed reports whether subject should now be treated as down.
	HasFailed(subject wire.Endpoint) bool
	// OnMembershipChange is invoked once per tick when the subject set
	// changes, so implementations can drop stale per-subject state.
	OnMembershipChange(newSubjects []wire.Endpoint)
}

// ProbeTransport is the external collaborator that actually performs the
// network round trip. The runner calls it once per subject per tick,
// skipping subjects the detector already reports as failed.
type ProbeTransport interface {
	SendProbe(ctx context.Context, subject wire.Endpoint, msg wire.ProbeMessage) (wire.ProbeResponse, error)
}

// PingPong is the default detector: it flags a subject failed after
// FailureThreshold consecutive unanswered probes.
type PingPong struct {
	// FailureThreshold is N in spec.md §4.3 ("flags a subject after N
	// consecutive unanswered probes"); defaults to 5 if left zero via
	// NewPingPong.
	FailureThreshold int

	mu     sync.Mutex
	misses map[wire.Endpoint]int
}

// NewPingPong constructs the default detector with the spec's typical
// threshold of 5 consecutive misses.
func NewPingPong() *PingPong {
	return &PingPong{FailureThreshold: 5, misses: make(map[wire.Endpoint]int)}
}

func (p *PingPong) CreateProbe(subject wire.Endpoint) wire.ProbeMessage {
	return wire.ProbeMessage{Subject: subject}
}

func (p *PingPong) HandleProbeMessage(msg wire.ProbeMessage) wire.ProbeResponse {
	return wire.ProbeResponse{Sender: msg.Subject}
}

func (p *PingPong) OnProbeSuccess(resp wire.ProbeResponse, subject wire.Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.misses[subject] = 0
}

func (p *PingPong) OnProbeFailure(err error, subject wire.Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.misses[subject]++
}

func (p *PingPong) HasFailed(subject wire.Endpoint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.misses[subject] >= p.FailureThreshold
}

// SetFailureThreshold changes how many consecutive unanswered probes flag
// a subject failed, effective on the next HasFailed check. Driven by
// internal/config.Watcher reloads of detector.failure_threshold; a
// non-positive value is ignored.
func (p *PingPong) SetFailureThreshold(n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	p.FailureThreshold = n
	p.mu.Unlock()
}

func (p *PingPong) OnMembershipChange(newSubjects []wire.Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keep := make(map[wire.Endpoint]struct{}, len(newSubjects))
	for _, s := range newSubjects {
		keep[s] = struct{}{}
	}
	for s := range p.misses {
		if _, ok := keep[s]; !ok {
			delete(p.misses, s)
		}
	}
	for _, s := range newSubjects {
		if _, ok := p.misses[s]; !ok {
			p.misses[s] = 0
		}
	}
}
