package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/masallsome/rapidmember/pkg/wire"
)

func TestParseEndpoint(t *testing.T) {
	ep, err := parseEndpoint("10.0.0.5:9000")
	assert.NoError(t, err)
	assert.Equal(t, wire.Endpoint{Host: "10.0.0.5", Port: 9000}, ep)
}

func TestParseEndpointDefaultsEmptyHost(t *testing.T) {
	ep, err := parseEndpoint(":9000")
	assert.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ep.Host)
	assert.Equal(t, 9000, ep.Port)
}

func TestParseEndpointRejectsMissingPort(t *testing.T) {
	_, err := parseEndpoint("not-a-valid-address")
	assert.Error(t, err)
}

func TestBuilderDefaultsAndOverrides(t *testing.T) {
	b := New("10.0.0.1:9000")
	assert.Equal(t, DefaultK, b.k)
	assert.Equal(t, DefaultH, b.h)
	assert.Equal(t, DefaultL, b.l)

	b.WithWatermark(5, 4, 2).WithLogProposals(true).WithMetadata(map[string]string{"zone": "a"})
	assert.Equal(t, 5, b.k)
	assert.Equal(t, 4, b.h)
	assert.Equal(t, 2, b.l)
	assert.True(t, b.logProposals)
	assert.Equal(t, "a", b.metadata["zone"])
}
