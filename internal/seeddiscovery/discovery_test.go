package seeddiscovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	discoveryv1 "k8s.io/api/discovery/v1"

	"github.com/masallsome/rapidmember/pkg/wire"
)

func boolPtr(b bool) *bool { return &b }

func TestOnSliceExtractsReadyAddresses(t *testing.T) {
	src := NewSource(nil, "default", "rapidmember-headless", 9000)

	slice := &discoveryv1.EndpointSlice{
		Endpoints: []discoveryv1.Endpoint{
			{Addresses: []string{"10.0.0.2"}, Conditions: discoveryv1.EndpointConditions{Ready: boolPtr(true)}},
			{Addresses: []string{"10.0.0.3"}, Conditions: discoveryv1.EndpointConditions{Ready: boolPtr(false)}},
			{Addresses: []string{"10.0.0.4"}}, // nil Ready treated as ready
		},
	}
	src.onSlice(slice)

	candidates := src.Candidates()
	assert.ElementsMatch(t, []wire.Endpoint{
		{Host: "10.0.0.2", Port: 9000},
		{Host: "10.0.0.4", Port: 9000},
	}, candidates)
}

func TestOnSliceSignalsChangeOnce(t *testing.T) {
	src := NewSource(nil, "default", "rapidmember-headless", 9000)
	slice := &discoveryv1.EndpointSlice{
		Endpoints: []discoveryv1.Endpoint{
			{Addresses: []string{"10.0.0.2"}},
		},
	}

	src.onSlice(slice)
	select {
	case <-src.Changed():
	default:
		t.Fatal("expected a change signal on first sync")
	}

	// Re-delivering the identical slice must not signal again.
	src.onSlice(slice)
	select {
	case <-src.Changed():
		t.Fatal("unexpected change signal for an unchanged candidate set")
	default:
	}
}

func TestStartRequiresClientset(t *testing.T) {
	src := NewSource(nil, "default", "rapidmember-headless", 9000)
	err := src.Start(nil) //nolint:staticcheck // nil context: Start fails before it is ever used
	require.Error(t, err)
}
