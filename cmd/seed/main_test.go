package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxoffice/internal/models"
)

func TestGenerateLayout(t *testing.T) {
	seats := generateLayout("E9", []string{"A", "B"}, 12, 4)
	require.Len(t, seats, 2*12*4)

	ids := map[string]struct{}{}
	tiers := map[string]int{}
	for _, s := range seats {
		ids[s.ID] = struct{}{}
		tiers[s.PriceTier]++
		assert.Equal(t, "E9", s.EventID)
		assert.Equal(t, models.SeatAvailable, s.Status)
	}
	assert.Len(t, ids, len(seats))
	assert.Equal(t, 2*3*4, tiers["vip"])
	assert.Equal(t, 2*7*4, tiers["premium"])
	assert.Equal(t, 2*2*4, tiers["standard"])
	assert.Equal(t, "E9-A-1-1", seats[0].ID)
}

func TestSplitSections(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, splitSections("A,,B,"))
	assert.Nil(t, splitSections(""))
}
