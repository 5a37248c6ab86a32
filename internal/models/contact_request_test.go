package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKey(t *testing.T) {
	key, err := PairKey(" J1 ", "A1")
	require.NoError(t, err)
	assert.Equal(t, ResourceKey("job/J1:app/A1"), key)

	_, err = PairKey("", "A1")
	assert.Error(t, err)
	_, err = PairKey("J1", "  ")
	assert.Error(t, err)
}

func TestPairKeyRejectsSeparators(t *testing.T) {
	tests := []struct {
		name string
		job  string
		app  string
	}{
		{"app marker in job", "J1:app/A1", "X"},
		{"colon in app", "J1", "A1:app/X"},
		{"slash in job", "J/1", "A1"},
		{"slash in app", "J1", "A/1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PairKey(tt.job, tt.app)
			assert.Error(t, err)
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusRequested.CanTransition(StatusRevealed))
	assert.True(t, StatusRevealed.CanTransition(StatusConsumed))
	assert.False(t, StatusRequested.CanTransition(StatusConsumed))
	assert.False(t, StatusConsumed.CanTransition(StatusExpired))
	assert.True(t, StatusDeclined.Terminal())
	assert.False(t, StatusRevealed.Terminal())
}
