package rpc

import (
	"context"
	"sync"

	"github.com/masallsome/rapidmember/internal/logging"
	"github.com/masallsome/rapidmember/pkg/wire"
)

// Broadcaster disseminates link-status updates to every current member.
// Per SPEC_FULL.md it is an external collaborator specified only by
// interface — the MembershipService never assumes anything about delivery
// order or a particular substrate (consistent-hash ring gossip, a
// broadcast tree, or, as here, a flat fan-out). This is the default,
// concrete implementation used when no alternative broadcast substrate is
// wired in.
type Broadcaster interface {
	BroadcastLinkUpdate(ctx context.Context, targets []wire.Endpoint, msg *wire.LinkUpdateMessage)
}

// FanOutBroadcaster disseminates a message to every target concurrently
// over the shared Transport, logging (but not retrying) per-target
// failures — delivery is best-effort, matching the "every member's
// WatermarkBuffer" eventually-consistent data flow in spec.md §2.
type FanOutBroadcaster struct {
	transport *Transport
	log       *logging.Logger
}

// NewFanOutBroadcaster builds a Broadcaster over an existing Transport so
// both paths share the same cached client connections.
func NewFanOutBroadcaster(t *Transport) *FanOutBroadcaster {
	return &FanOutBroadcaster{transport: t, log: logging.New("broadcaster")}
}

func (b *FanOutBroadcaster) BroadcastLinkUpdate(ctx context.Context, targets []wire.Endpoint, msg *wire.LinkUpdateMessage) {
	var wg sync.WaitGroup
	for _, target := range targets {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.transport.SendLinkUpdate(ctx, target, msg); err != nil {
				b.log.Printf("link-update to %s failed: %v", target, err)
			}
		}()
	}
	wg.Wait()
}
