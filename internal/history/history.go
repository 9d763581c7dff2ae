// Package history builds the immutable per-round history blob that is
// persisted at settlement and served back for replay and dispute votes.
package history

import (
	"encoding/json"
	"time"

	"github.com/jewelpark/poker3/internal/rules"
)

// Action tags one history entry.
type Action int

const (
	ActionRoundStart Action = 0
	ActionPlayCards  Action = 3
	ActionPassTurn   Action = 4
	ActionRoundEnd   Action = 5
)

// ProfileSnapshot is the slice of a player profile frozen into the
// round-start entry.
type ProfileSnapshot struct {
	PlayerID int64   `json:"player_id"`
	Username string  `json:"username"`
	Level    int     `json:"level"`
	Score    float64 `json:"score"`
	Jewels   int64   `json:"jewel"`
}

// PointChange is the settlement delta recorded per player.
type PointChange struct {
	Direction int   `json:"point_type"`
	FreePoint int64 `json:"free_point"`
	PayPoint  int64 `json:"pay_point"`
}

// JewelState captures a player's balances after settlement.
type JewelState struct {
	PlayerID         int64       `json:"player_id"`
	Change           PointChange `json:"point_change"`
	Jewels           int64       `json:"jewel"`
	TournamentJewels int64       `json:"tournament_jewel"`
}

// Entry is one step of a round. Only the fields for its action are set.
type Entry struct {
	Action Action `json:"action"`

	// ActionRoundStart
	RoomID       int64             `json:"room_id,omitempty"`
	CategoryType int               `json:"category_type,omitempty"`
	RoundLevel   int               `json:"round_level,omitempty"`
	RoundPoint   int64             `json:"round_point,omitempty"`
	Players      []int64           `json:"players,omitempty"`
	TurnID       int64             `json:"turn_id,omitempty"`
	HiddenCards  []rules.Card      `json:"hcards,omitempty"`
	Profiles     []ProfileSnapshot `json:"player_profiles,omitempty"`
	Hands        [][]rules.Card    `json:"cards,omitempty"`

	// ActionPlayCards / ActionPassTurn
	PlayerID int64        `json:"player_id,omitempty"`
	Cards    []rules.Card `json:"play,omitempty"`
	CardKind int          `json:"card_type,omitempty"`
	Point    int64        `json:"point,omitempty"`

	// ActionRoundEnd
	FinishedAt  time.Time    `json:"finish_time,omitempty"`
	JewelStates []JewelState `json:"jewels_state,omitempty"`
}

// Round accumulates entries between start-round and settlement.
type Round struct {
	entries []Entry
}

func NewRound(start Entry) *Round {
	return &Round{entries: []Entry{start}}
}

func (r *Round) Add(e Entry) {
	r.entries = append(r.entries, e)
}

func (r *Round) Len() int { return len(r.entries) }

// Blob serializes the round for storage. The blob is written once and
// never mutated afterwards.
func (r *Round) Blob() ([]byte, error) {
	return json.Marshal(r.entries)
}
