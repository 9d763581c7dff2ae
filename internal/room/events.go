package room

import (
	"github.com/jewelpark/poker3/internal/history"
	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/rules"
)

// Event names on the wire. Rooms emit directly; the transport fans out
// to the room topic, the lobby topic or a single player.
const (
	EventNewRound         = "new-round"
	EventGetCards         = "get-cards"
	EventStartRound       = "start-round"
	EventPassBet          = "pass-bet"
	EventLevelUp          = "level-up"
	EventPassTurn         = "pass-turn"
	EventPutCard          = "put-card"
	EventLastCard         = "last-card"
	EventEndRound         = "end-round"
	EventUpdatePlayerInfo = "update-player-info"
	EventUpdateRoom       = "update-room"
	EventAddRoom          = "add-room"
	EventRemoveRoom       = "remove-room"
	EventLeaveRoom        = "leave-room"
	EventLeaveRequest     = "leave-request"
	EventLeaveCancel      = "leave-cancel"
	EventSetReady         = "set-ready"
	EventUseItem          = "use-item"
	EventRejoinRoom       = "rejoin-room"
	EventJoinRoom         = "join-room"
	EventJoinObserver     = "join-observer"
	EventIdlePlayers      = "idle-players"
	EventInviteRoom       = "invite-room"
	EventInviteWaitroom   = "invite-waitroom"
	EventPickCards        = "pick-cards"
	EventUpdateRank       = "update-player-rank"
	EventJoinPlayer       = "join-player"
)

// Emitter delivers events to connected clients. Implemented by the
// websocket server; tests use a recording fake.
type Emitter interface {
	ToRoom(roomID int64, event string, payload any)
	ToLobby(event string, payload any)
	ToPlayer(id player.ID, event string, payload any)
	ToAll(event string, payload any)
}

// Item use outcomes.
const (
	ItemRejected = 0x00
	ItemUsed     = 0x01
	ItemQueued   = 0x02
)

// Info is the lobby-facing room summary.
type Info struct {
	ID           int64       `json:"id"`
	CategoryID   int64       `json:"category_id"`
	CategoryType int         `json:"category_type"`
	Point        int64       `json:"point"`
	Players      [3]int64    `json:"players"`
	Observers    int         `json:"observers"`
	Phase        Phase       `json:"status"`
}

// State is the full per-room snapshot pushed on new-round, start-round
// and rejoin. Cards and HiddenCards are only filled for the receiving
// player and the playing phase respectively.
type State struct {
	ID            int64           `json:"id"`
	CategoryID    int64           `json:"category_id"`
	CategoryType  int             `json:"category_type"`
	Phase         Phase           `json:"status"`
	Point         int64           `json:"point"`
	RoundPoint    int64           `json:"round_point"`
	DealerID      int64           `json:"home_id"`
	DealerLevel   int             `json:"home_level"`
	RoundCount    int             `json:"round_count"`
	TurnID        int64           `json:"turn_id"`
	TurnTime      float64         `json:"turn_time"`
	Players       [3]int64        `json:"players"`
	SeatStatus    [3]SeatStatus   `json:"pstatus"`
	CardCounts    [3]int          `json:"card_counts"`
	Cards         []rules.Card    `json:"cards,omitempty"`
	HiddenCards   []rules.Card    `json:"hcards,omitempty"`
	LastPutID     int64           `json:"last_put_id,omitempty"`
	LastPutCards  []rules.Card    `json:"last_put_cards,omitempty"`
	Observers     []player.ID     `json:"observers,omitempty"`
	ContinueGame  bool            `json:"continueGame,omitempty"`
}

type newRoundPayload struct {
	Round State `json:"round"`
}

type startRoundPayload struct {
	Round       State        `json:"round"`
	HiddenCards []rules.Card `json:"hcards"`
}

type getCardsPayload struct {
	Cards  []rules.Card `json:"cards"`
	RoomID int64        `json:"room_id"`
}

type passBetPayload struct {
	TurnID     int64   `json:"turn_id"`
	NextID     int64   `json:"next_id"`
	TurnTime   float64 `json:"turn_time"`
	RoundPoint int64   `json:"round_point"`
	RoomID     int64   `json:"room_id"`
}

type levelUpPayload struct {
	Level      int     `json:"level"`
	TurnID     int64   `json:"turn_id"`
	NextID     int64   `json:"next_id"`
	TurnTime   float64 `json:"turn_time"`
	RoundPoint int64   `json:"round_point"`
	TurnIndex  int     `json:"turn_index"`
	RoomID     int64   `json:"room_id"`
}

type passTurnPayload struct {
	TurnID   int64   `json:"turn_id"`
	NextID   int64   `json:"next_id"`
	TurnTime float64 `json:"turn_time"`
	IsCover  bool    `json:"is_cover"`
	RoomID   int64   `json:"room_id"`
}

type putCardPayload struct {
	Success    int          `json:"success"`
	TurnID     int64        `json:"turn_id"`
	Cards      []rules.Card `json:"cards"`
	CardKind   int          `json:"card_type"`
	NextID     int64        `json:"next_id"`
	TurnTime   float64      `json:"turn_time"`
	RoundPoint int64        `json:"round_point"`
	RoomID     int64        `json:"room_id"`
}

type lastCardPayload struct {
	TurnID     int64                       `json:"turn_id"`
	Cards      []rules.Card                `json:"cards"`
	CardKind   int                         `json:"card_type"`
	RoundPoint int64                       `json:"round_point"`
	Others     map[player.ID][]rules.Card  `json:"others"`
	RoomID     int64                       `json:"room_id"`
}

// PlayerState is the post-settlement balance view, broadcast globally
// and, with the point change attached, into the room.
type PlayerState struct {
	UserID           int64                `json:"user_id"`
	Jewels           int64                `json:"jewel"`
	Coin             int64                `json:"coin"`
	TournamentJewels int64                `json:"tournament_jewel"`
	Level            int                  `json:"level"`
	PointChange      *history.PointChange `json:"point_change,omitempty"`
}

type endRoundPayload struct {
	Players []PlayerState `json:"players"`
	RoomID  int64         `json:"room_id,omitempty"`
}

type updateRoomPayload struct {
	Room      any         `json:"room"`
	Action    string      `json:"action,omitempty"`
	PlayerID  int64       `json:"player_id,omitempty"`
	Observers []player.ID `json:"observers,omitempty"`
}

type addRoomPayload struct {
	Room Info `json:"room"`
}

type removeRoomPayload struct {
	RoomID int64 `json:"room_id"`
}

type seatEventPayload struct {
	UserID int64 `json:"user_id"`
}

type setReadyPayload struct {
	PlayerID int64 `json:"player_id"`
	RoomID   int64 `json:"room_id"`
}

type itemResult struct {
	RoomID   int64        `json:"room_id"`
	PlayerID int64        `json:"player_id"`
	ItemID   int64        `json:"item_id"`
	Cards    []rules.Card `json:"cards,omitempty"`
}

type useItemPayload struct {
	Action int        `json:"action"`
	Result itemResult `json:"result"`
}

type idlePlayersPayload struct {
	Players []player.ID `json:"players"`
}
