package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/masallsome/rapidmember/pkg/wire"
)

func TestPingPongFailsAfterThreshold(t *testing.T) {
	p := NewPingPong()
	p.FailureThreshold = 3
	subject := wire.Endpoint{Host: "10.0.0.2", Port: 9000}

	assert.False(t, p.HasFailed(subject))
	p.OnProbeFailure(nil, subject)
	assert.False(t, p.HasFailed(subject))
	p.OnProbeFailure(nil, subject)
	assert.False(t, p.HasFailed(subject))
	p.OnProbeFailure(nil, subject)
	assert.True(t, p.HasFailed(subject))
}

func TestPingPongSuccessResetsMisses(t *testing.T) {
	p := NewPingPong()
	p.FailureThreshold = 2
	subject := wire.Endpoint{Host: "10.0.0.2", Port: 9000}

	p.OnProbeFailure(nil, subject)
	p.OnProbeFailure(nil, subject)
	assert.True(t, p.HasFailed(subject))

	p.OnProbeSuccess(wire.ProbeResponse{}, subject)
	assert.False(t, p.HasFailed(subject))
}

func TestPingPongMembershipChangeDropsStaleSubjects(t *testing.T) {
	p := NewPingPong()
	p.FailureThreshold = 1
	stale := wire.Endpoint{Host: "10.0.0.2", Port: 9000}
	keep := wire.Endpoint{Host: "10.0.0.3", Port: 9000}

	p.OnProbeFailure(nil, stale)
	assert.True(t, p.HasFailed(stale))

	p.OnMembershipChange([]wire.Endpoint{keep})
	assert.False(t, p.HasFailed(stale), "dropped subject's miss count should reset to zero")
	assert.False(t, p.HasFailed(keep))
}
