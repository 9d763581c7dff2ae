package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jewelpark/poker3/internal/rules"
)

func TestRoundBlob(t *testing.T) {
	r := NewRound(Entry{
		Action:     ActionRoundStart,
		RoomID:     7,
		RoundLevel: 2,
		RoundPoint: 200,
		Players:    []int64{1, 2, 3},
		TurnID:     2,
	})
	r.Add(Entry{
		Action:   ActionPlayCards,
		PlayerID: 2,
		Cards:    []rules.Card{0, 1},
		Point:    200,
	})
	r.Add(Entry{Action: ActionPassTurn, PlayerID: 3})
	r.Add(Entry{
		Action:     ActionRoundEnd,
		FinishedAt: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		JewelStates: []JewelState{
			{PlayerID: 2, Change: PointChange{Direction: 1, FreePoint: 200}, Jewels: 1200},
		},
	})
	require.Equal(t, 4, r.Len())

	blob, err := r.Blob()
	require.NoError(t, err)

	var entries []Entry
	require.NoError(t, json.Unmarshal(blob, &entries))
	require.Len(t, entries, 4)
	assert.Equal(t, ActionRoundStart, entries[0].Action)
	assert.Equal(t, int64(7), entries[0].RoomID)
	assert.Equal(t, []rules.Card{0, 1}, entries[1].Cards)
	assert.Equal(t, ActionRoundEnd, entries[3].Action)
	assert.Equal(t, int64(1200), entries[3].JewelStates[0].Jewels)
}

func TestPassEntryOmitsUnsetFields(t *testing.T) {
	r := NewRound(Entry{Action: ActionRoundStart, RoomID: 1})
	r.Add(Entry{Action: ActionPassTurn, PlayerID: 9})

	blob, err := r.Blob()
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(blob, &raw))
	assert.NotContains(t, raw[1], "play")
	assert.NotContains(t, raw[1], "jewels_state")
	assert.EqualValues(t, 9, raw[1]["player_id"])
}
