package watermark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rmerrors "github.com/masallsome/rapidmember/internal/errors"
	"github.com/masallsome/rapidmember/pkg/wire"
)

func TestNewRejectsInvalidParameters(t *testing.T) {
	_, err := New(2, 1, 0) // K < 3
	assert.ErrorIs(t, err, rmerrors.ErrInvariantViolation)

	_, err = New(10, 1, 1) // H must be > L
	assert.ErrorIs(t, err, rmerrors.ErrInvariantViolation)

	_, err = New(10, 11, 1) // H must be <= K
	assert.ErrorIs(t, err, rmerrors.ErrInvariantViolation)

	_, err = New(10, 3, -1) // L must be >= 0
	assert.ErrorIs(t, err, rmerrors.ErrInvariantViolation)
}

func TestReceiveDeliversOnSingleQuiescentSubject(t *testing.T) {
	b, err := New(10, 3, 1)
	require.NoError(t, err)

	subject := wire.Endpoint{Host: "10.0.0.2", Port: 9000}

	assert.Nil(t, b.Receive(subject)) // 1st report: enters (L, H)
	assert.Nil(t, b.Receive(subject)) // 2nd report: still in progress
	batch := b.Receive(subject)       // 3rd report: reaches H, quiescent
	assert.Equal(t, []wire.Endpoint{subject}, batch)
	assert.Equal(t, uint64(1), b.DeliverCounter())
}

func TestReceiveWaitsForAllSubjectsToQuiesce(t *testing.T) {
	b, err := New(10, 3, 1)
	require.NoError(t, err)

	subjA := wire.Endpoint{Host: "10.0.0.2", Port: 9000}
	subjB := wire.Endpoint{Host: "10.0.0.3", Port: 9000}

	assert.Nil(t, b.Receive(subjB)) // B enters (L, H), still in progress

	assert.Nil(t, b.Receive(subjA)) // A enters (L, H) too
	assert.Nil(t, b.Receive(subjA)) // A still below H
	assert.Nil(t, b.Receive(subjA), "A reaches H but B is still in progress")

	assert.Nil(t, b.Receive(subjB)) // B's 2nd report, still below H
	batch := b.Receive(subjB)       // B's 3rd report: both now quiescent
	require.NotNil(t, batch)
	assert.ElementsMatch(t, []wire.Endpoint{subjA, subjB}, batch)
	assert.Equal(t, uint64(1), b.DeliverCounter())
}

func TestReceiveIsOrderInsensitive(t *testing.T) {
	subjA := wire.Endpoint{Host: "10.0.0.2", Port: 9000}
	subjB := wire.Endpoint{Host: "10.0.0.3", Port: 9000}

	// A multiset that reports A by exactly H observers and B by fewer than
	// L must produce the batch {A} — and the same batch for every
	// interleaving.
	orders := [][]wire.Endpoint{
		{subjA, subjA, subjA, subjB},
		{subjB, subjA, subjA, subjA},
		{subjA, subjB, subjA, subjA},
		{subjA, subjA, subjB, subjA},
	}
	for _, order := range orders {
		b, err := New(10, 3, 2)
		require.NoError(t, err)

		var batches [][]wire.Endpoint
		for _, s := range order {
			if batch := b.Receive(s); batch != nil {
				batches = append(batches, batch)
			}
		}
		require.Len(t, batches, 1, "order %v must deliver exactly one batch", order)
		assert.Equal(t, []wire.Endpoint{subjA}, batches[0])
	}
}

func TestResetClearsState(t *testing.T) {
	b, err := New(10, 3, 1)
	require.NoError(t, err)

	subject := wire.Endpoint{Host: "10.0.0.2", Port: 9000}
	b.Receive(subject)
	b.Receive(subject)

	b.Reset()

	// After reset, a fresh round of H reports is required to deliver again.
	assert.Nil(t, b.Receive(subject))
	assert.Nil(t, b.Receive(subject))
	batch := b.Receive(subject)
	assert.Equal(t, []wire.Endpoint{subject}, batch)
}
