package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masallsome/rapidmember/pkg/wire"
)

func TestGobCodecRoundTrip(t *testing.T) {
	codec := gobCodec{}
	original := &wire.JoinMessage{
		Sender:   wire.Endpoint{Host: "10.0.0.2", Port: 9000},
		NodeID:   [16]byte{1, 2, 3},
		Metadata: map[string]string{"zone": "a"},
	}

	data, err := codec.Marshal(original)
	require.NoError(t, err)

	var decoded wire.JoinMessage
	require.NoError(t, codec.Unmarshal(data, &decoded))
	assert.Equal(t, *original, decoded)
}

func TestGobCodecName(t *testing.T) {
	assert.Equal(t, "gob", gobCodec{}.Name())
}
