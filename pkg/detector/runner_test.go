package detector

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masallsome/rapidmember/pkg/wire"
)

type fakeTransport struct {
	mu   sync.Mutex
	fail map[wire.Endpoint]bool
	sent int
}

func (f *fakeTransport) SendProbe(_ context.Context, subject wire.Endpoint, _ wire.ProbeMessage) (wire.ProbeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	if f.fail[subject] {
		return wire.ProbeResponse{}, errors.New("probe failed")
	}
	return wire.ProbeResponse{Sender: subject}, nil
}

func TestRunnerTickFlagsFailureAfterThreshold(t *testing.T) {
	subject := wire.Endpoint{Host: "10.0.0.2", Port: 9000}
	det := NewPingPong()
	det.FailureThreshold = 1
	transport := &fakeTransport{fail: map[wire.Endpoint]bool{subject: true}}

	var mu sync.Mutex
	var failed []wire.Endpoint
	onFailed := func(s wire.Endpoint) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, s)
	}

	r := NewRunner(det, transport, onFailed, 0, 0)
	r.UpdateSubjects([]wire.Endpoint{subject})

	r.tick() // probe fails, crosses threshold, reports failure
	mu.Lock()
	require.Len(t, failed, 1)
	assert.Equal(t, subject, failed[0])
	mu.Unlock()

	r.tick() // detector already flags failed; no new probe needed
	mu.Lock()
	assert.Len(t, failed, 2)
	mu.Unlock()

	transport.mu.Lock()
	assert.Equal(t, 1, transport.sent, "second tick should not re-probe an already-failed subject")
	transport.mu.Unlock()
}

func TestRunnerTickSucceedsWithoutFailure(t *testing.T) {
	subject := wire.Endpoint{Host: "10.0.0.2", Port: 9000}
	det := NewPingPong()
	transport := &fakeTransport{fail: map[wire.Endpoint]bool{}}

	called := false
	r := NewRunner(det, transport, func(wire.Endpoint) { called = true }, 0, 0)
	r.UpdateSubjects([]wire.Endpoint{subject})

	r.tick()
	assert.False(t, called)
	assert.False(t, det.HasFailed(subject))
}

func TestRunnerStartStopIdempotent(t *testing.T) {
	det := NewPingPong()
	transport := &fakeTransport{fail: map[wire.Endpoint]bool{}}
	r := NewRunner(det, transport, func(wire.Endpoint) {}, 0, 0)

	r.Start()
	r.Start() // second call should be a no-op, not a second goroutine
	r.Stop()
	r.Stop() // second call should be a no-op
}
