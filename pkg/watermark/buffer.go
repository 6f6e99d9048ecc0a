// Package watermark implements the WatermarkBuffer: the almost-everywhere
// agreement mechanism described in spec.md §4.2. It aggregates per-subject
// link-status reports and releases a stable batch only once no subject is
// left in the "in progress" interval (L, H).
package watermark

import (
	"fmt"
	"sync"

	rmerrors "github.com/masallsome/rapidmember/internal/errors"
	"github.com/masallsome/rapidmember/pkg/wire"
)

// Buffer is the per-configuration watermark aggregator. All state
// mutations are serialized on a single lock held for the duration of
// Receive; the lists Receive returns are immutable snapshots safe to
// share across goroutines.
type Buffer struct {
	k, h, l int

	mu                sync.Mutex
	counters          map[wire.Endpoint]int
	updatesInProgress int
	readyList         []wire.Endpoint
	deliverCounter    uint64
}

// New constructs a WatermarkBuffer. Construction fails unless
// K >= H > L >= 0 and K >= 3, per spec.md §8 invariant 8.
func New(k, h, l int) (*Buffer, error) {
	if k < 3 {
		return nil, fmt.Errorf("%w: K must be >= 3, got %d", rmerrors.ErrInvariantViolation, k)
	}
	if !(k >= h && h > l && l >= 0) {
		return nil, fmt.Errorf("%w: requires K >= H > L >= 0 (K=%d H=%d L=%d)", rmerrors.ErrInvariantViolation, k, h, l)
	}
	return &Buffer{
		k:        k,
		h:        h,
		l:        l,
		counters: make(map[wire.Endpoint]int),
	}, nil
}

// Receive applies one subject's counter increment and returns a stable
// batch if, after this call, no subject remains in the open interval
// (L, H). Otherwise it returns nil.
//
// The caller (MembershipService) is responsible for deduplicating reports
// keyed by (observer, subject, ring, configurationId) before calling
// Receive: this layer treats every call as an independent increment, per
// spec.md §4.2's edge-case note.
func (b *Buffer) Receive(subject wire.Endpoint) []wire.Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.counters[subject]
	next := prev + 1
	b.counters[subject] = next

	if prev == b.l-1 && next == b.l {
		b.updatesInProgress++
	}

	if next == b.h {
		b.readyList = append(b.readyList, subject)
		b.updatesInProgress--
	}

	if b.updatesInProgress != 0 {
		return nil
	}
	if len(b.readyList) == 0 {
		return nil
	}

	snapshot := make([]wire.Endpoint, len(b.readyList))
	copy(snapshot, b.readyList)
	for _, s := range snapshot {
		b.counters[s] = 0
	}
	b.readyList = b.readyList[:0]
	b.deliverCounter++
	return snapshot
}

// DeliverCounter returns the number of batches delivered so far.
func (b *Buffer) DeliverCounter() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deliverCounter
}

// Reset clears all counter state. Called when a new view is installed
// (spec.md §3: "The WatermarkBuffer is reset atomically when a new view is
// installed").
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters = make(map[wire.Endpoint]int)
	b.updatesInProgress = 0
	b.readyList = nil
}
