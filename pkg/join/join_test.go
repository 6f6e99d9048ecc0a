package join

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rmerrors "github.com/masallsome/rapidmember/internal/errors"
	"github.com/masallsome/rapidmember/pkg/configuration"
	"github.com/masallsome/rapidmember/pkg/wire"
)

var seed = wire.Endpoint{Host: "10.0.0.1", Port: 9000}

func newNodeID() configuration.NodeID {
	return configuration.NodeID(uuid.New())
}

// fakeTransport scripts phase1/phase2 responses per call, letting each
// test simulate a specific admitting cluster without any real networking.
type fakeTransport struct {
	phase1 func(calls int) (*wire.JoinResponse, error)
	phase2 func(observer wire.Endpoint) (*wire.JoinResponse, error)

	phase1Calls int
}

func (f *fakeTransport) SendJoinPhase1(_ context.Context, _ wire.Endpoint, _ *wire.JoinMessage) (*wire.JoinResponse, error) {
	f.phase1Calls++
	return f.phase1(f.phase1Calls)
}

func (f *fakeTransport) SendJoinPhase2(_ context.Context, observer wire.Endpoint, _ *wire.JoinMessage) (*wire.JoinResponse, error) {
	return f.phase2(observer)
}

func TestJoinSucceedsOnFirstAttempt(t *testing.T) {
	observers := []wire.Endpoint{
		{Host: "10.0.0.2", Port: 9000},
		{Host: "10.0.0.3", Port: 9000},
	}
	finalHosts := append([]wire.Endpoint{seed}, observers...)
	finalIDs := [][16]byte{newNodeID(), newNodeID(), newNodeID()}

	transport := &fakeTransport{
		phase1: func(int) (*wire.JoinResponse, error) {
			return &wire.JoinResponse{StatusCode: wire.StatusSafeToJoin, ConfigID: 1, Hosts: observers}, nil
		},
		phase2: func(observer wire.Endpoint) (*wire.JoinResponse, error) {
			return &wire.JoinResponse{
				StatusCode: wire.StatusSafeToJoin, ConfigID: 2,
				Hosts: finalHosts, Identifiers: finalIDs,
			}, nil
		},
	}

	joiner := New(wire.Endpoint{Host: "10.0.0.9", Port: 9000}, nil, transport)
	view, err := joiner.Join(context.Background(), seed)
	require.NoError(t, err)
	assert.ElementsMatch(t, finalHosts, view.Members())
}

func TestJoinRegeneratesNodeIDOnUUIDConflict(t *testing.T) {
	observers := []wire.Endpoint{{Host: "10.0.0.2", Port: 9000}}
	finalHosts := []wire.Endpoint{seed, observers[0]}
	finalIDs := [][16]byte{newNodeID(), newNodeID()}

	transport := &fakeTransport{
		phase1: func(calls int) (*wire.JoinResponse, error) {
			if calls == 1 {
				return &wire.JoinResponse{StatusCode: wire.StatusUUIDAlreadyInRing, ConfigID: 1}, nil
			}
			return &wire.JoinResponse{StatusCode: wire.StatusSafeToJoin, ConfigID: 1, Hosts: observers}, nil
		},
		phase2: func(wire.Endpoint) (*wire.JoinResponse, error) {
			return &wire.JoinResponse{StatusCode: wire.StatusSafeToJoin, ConfigID: 2, Hosts: finalHosts, Identifiers: finalIDs}, nil
		},
	}

	joiner := New(wire.Endpoint{Host: "10.0.0.9", Port: 9000}, nil, transport)
	view, err := joiner.Join(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, 2, transport.phase1Calls)
	assert.ElementsMatch(t, finalHosts, view.Members())
}

func TestJoinFailsFatallyOnMembershipRejected(t *testing.T) {
	transport := &fakeTransport{
		phase1: func(int) (*wire.JoinResponse, error) {
			return &wire.JoinResponse{StatusCode: wire.StatusMembershipRejected}, nil
		},
	}
	joiner := New(wire.Endpoint{Host: "10.0.0.9", Port: 9000}, nil, transport)
	_, err := joiner.Join(context.Background(), seed)
	assert.ErrorIs(t, err, rmerrors.ErrMembershipRejected)
}

func TestJoinExhaustsAttempts(t *testing.T) {
	transport := &fakeTransport{
		phase1: func(int) (*wire.JoinResponse, error) {
			return &wire.JoinResponse{StatusCode: wire.StatusHostnameAlreadyInRing}, nil
		},
	}
	joiner := New(wire.Endpoint{Host: "10.0.0.9", Port: 9000}, nil, transport)
	_, err := joiner.Join(context.Background(), seed)
	assert.ErrorIs(t, err, rmerrors.ErrJoinAttemptsExhausted)
	assert.Equal(t, MaxAttempts, transport.phase1Calls)
}

func TestJoinResolvesStaleSelfReservation(t *testing.T) {
	self := wire.Endpoint{Host: "10.0.0.9", Port: 9000}
	fixedID := newNodeID()

	transport := &fakeTransport{
		phase1: func(int) (*wire.JoinResponse, error) {
			return &wire.JoinResponse{
				StatusCode:  wire.StatusHostnameAlreadyInRing,
				Hosts:       []wire.Endpoint{seed, self},
				Identifiers: [][16]byte{newNodeID(), [16]byte(fixedID)},
			}, nil
		},
	}

	joiner := New(self, nil, transport)
	view, retry, err := joiner.attempt(context.Background(), seed, fixedID)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, retryHint{}, retry)
	assert.ElementsMatch(t, []wire.Endpoint{seed, self}, view.Members())
	assert.Equal(t, 1, transport.phase1Calls)
}

func TestJoinFailsFatallyOnGenuineHostnameCollision(t *testing.T) {
	self := wire.Endpoint{Host: "10.0.0.9", Port: 9000}
	transport := &fakeTransport{
		phase1: func(int) (*wire.JoinResponse, error) {
			return &wire.JoinResponse{
				StatusCode:  wire.StatusHostnameAlreadyInRing,
				Hosts:       []wire.Endpoint{seed, self},
				Identifiers: [][16]byte{newNodeID(), newNodeID()},
			}, nil
		},
	}
	joiner := New(self, nil, transport)
	_, err := joiner.Join(context.Background(), seed)
	assert.ErrorIs(t, err, rmerrors.ErrHostnameAlreadyInRing)
	assert.Equal(t, 1, transport.phase1Calls)
}

func TestJoinPhase2NoCommitRetries(t *testing.T) {
	observers := []wire.Endpoint{{Host: "10.0.0.2", Port: 9000}}
	calls := 0
	transport := &fakeTransport{
		phase1: func(int) (*wire.JoinResponse, error) {
			calls++
			return &wire.JoinResponse{StatusCode: wire.StatusSafeToJoin, ConfigID: 1, Hosts: observers}, nil
		},
		phase2: func(wire.Endpoint) (*wire.JoinResponse, error) {
			// ConfigID equals phase1's: no commit observed yet.
			return &wire.JoinResponse{StatusCode: wire.StatusSafeToJoin, ConfigID: 1}, nil
		},
	}
	joiner := New(wire.Endpoint{Host: "10.0.0.9", Port: 9000}, nil, transport)
	_, err := joiner.Join(context.Background(), seed)
	assert.ErrorIs(t, err, rmerrors.ErrJoinAttemptsExhausted)
	assert.Equal(t, MaxAttempts, calls)
}
