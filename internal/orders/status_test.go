package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[Status][]Status{
		StatusNew:            {StatusConfirmed, StatusCancelled},
		StatusConfirmed:      {StatusInProgress, StatusCancelled},
		StatusInProgress:     {StatusReady, StatusCancelled},
		StatusReady:          {StatusOutForDelivery, StatusDelivered, StatusReturned},
		StatusOutForDelivery: {StatusDelivered, StatusReturned},
		StatusDelivered:      nil,
		StatusCancelled:      nil,
		StatusReturned:       {StatusCancelled},
	}
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, IsTerminal(StatusDelivered))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.False(t, IsTerminal(StatusReturned))
	assert.False(t, IsTerminal("BOGUS"))
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus(" out_for_delivery ")
	assert.True(t, ok)
	assert.Equal(t, StatusOutForDelivery, st)
	_, ok = ParseStatus("shipped")
	assert.False(t, ok)
	assert.Equal(t, "In progress", Label(StatusInProgress))
}
