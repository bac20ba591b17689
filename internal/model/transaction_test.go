package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TransactionStatus
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusCompleted, StatusReversed, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusProcessing, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusFailed, StatusReversed, false},
		{StatusReversed, StatusReversed, false},
		{StatusPending, StatusCancelled, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusReversed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestEnumsValid(t *testing.T) {
	assert.True(t, TypeRefund.Valid())
	assert.False(t, TransactionType("BONUS").Valid())
	assert.True(t, StatusCancelled.Valid())
	assert.False(t, TransactionStatus("pending").Valid())
}
