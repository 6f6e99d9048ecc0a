package service

import (
	"sync"

	"github.com/masallsome/rapidmember/pkg/configuration"
	"github.com/masallsome/rapidmember/pkg/wire"
)

// Callback receives an event payload. The concrete payload type depends on
// the EventKind it was registered under; see ViewChangePayload,
// NodeAddedPayload, NodeRemovedPayload, and ViewChangeProposalPayload.
type Callback func(payload interface{})

// ViewChangeProposalPayload fires immediately once the watermark buffer
// produces a stable batch, before the view mutation is applied.
type ViewChangeProposalPayload struct {
	Batch []wire.Endpoint
}

// ViewChangePayload fires after a new view has been installed.
type ViewChangePayload struct {
	Members  []wire.Endpoint
	ConfigID configuration.ID
	Added    []wire.Endpoint
	Removed  []wire.Endpoint
}

// NodeAddedPayload fires once per endpoint added by a commit.
type NodeAddedPayload struct {
	Endpoint wire.Endpoint
	NodeID   configuration.NodeID
}

// NodeRemovedPayload fires once per endpoint removed by a commit.
type NodeRemovedPayload struct {
	Endpoint wire.Endpoint
}

// subscriberRegistry is a mapping event kind -> ordered sequence of sinks,
// fired synchronously but outside the service's critical section (see
// commitViewChange in service.go).
type subscriberRegistry struct {
	mu   sync.Mutex
	subs map[wire.EventKind][]Callback
}

func newSubscriberRegistry() *subscriberRegistry {
	return &subscriberRegistry{subs: make(map[wire.EventKind][]Callback)}
}

func (r *subscriberRegistry) register(kind wire.EventKind, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[kind] = append(r.subs[kind], cb)
}

func (r *subscriberRegistry) fire(kind wire.EventKind, payload interface{}) {
	r.mu.Lock()
	cbs := make([]Callback, len(r.subs[kind]))
	copy(cbs, r.subs[kind])
	r.mu.Unlock()

	for _, cb := range cbs {
		cb(payload)
	}
}
