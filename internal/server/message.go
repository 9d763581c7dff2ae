package server

import (
	"encoding/json"
	"time"

	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/room"
	"github.com/jewelpark/poker3/internal/rules"
)

// Message is the websocket envelope in both directions: an event name
// and a JSON payload.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessage wraps a payload in the envelope.
func NewMessage(event string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Event: event, Data: data}, nil
}

// Request status codes.
const (
	statusFailed  = 0
	statusSuccess = 1
)

// Server-only event names. Room-driven events live in the room package.
const (
	eventLogout       = "poker3-logout"
	eventGetProfile   = "get-profile"
	eventPlayerList   = "player-list"
	eventPlayerInfo   = "player-info"
	eventRoomList     = "room-list"
	eventCreateRoom   = "create-room"
	eventJoinWaitroom = "join-waitroom"

	eventTournamentRoomList = "tournament-room-list"
	eventJoinTournament     = "join-tournament-room"
	eventTournamentProfile  = "get-tournament-profile"
)

// Client → Server requests. Every request carries the session token.

type baseRequest struct {
	Token string `json:"token"`
}

type createRoomRequest struct {
	Token      string `json:"token"`
	CategoryID int64  `json:"category_id"`
}

type joinRoomRequest struct {
	Token  string `json:"token"`
	RoomID int64  `json:"room_id"`
}

type putCardRequest struct {
	Token string       `json:"token"`
	Cards []rules.Card `json:"cards"`
}

type pickCardsRequest struct {
	Token string       `json:"token"`
	Cards []rules.Card `json:"cards"`
}

type useItemRequest struct {
	Token    string `json:"token"`
	ItemID   int64  `json:"item_id"`
	TargetID int64  `json:"target_id"`
}

type inviteRequest struct {
	Token    string `json:"token"`
	InviteID int64  `json:"invite_id"`
}

type playerInfoRequest struct {
	Token    string `json:"token"`
	PlayerID int64  `json:"player_id"`
}

// Server → Client payloads.

type statusResponse struct {
	Success int `json:"success"`
}

type createRoomResponse struct {
	Success      int        `json:"success"`
	Room         *room.Info `json:"room,omitempty"`
	MinJewels    int64      `json:"min_jewels,omitempty"`
	CategoryType int        `json:"category_type,omitempty"`
}

type joinRoomResponse struct {
	Success int         `json:"success"`
	RoomID  int64       `json:"room_id,omitempty"`
	Room    *room.State `json:"room,omitempty"`
}

type roomPayload struct {
	Room room.State `json:"room"`
}

type getCardsResponse struct {
	Cards  []rules.Card `json:"cards"`
	RoomID int64        `json:"room_id"`
}

type roomListResponse struct {
	Rooms      []room.Info    `json:"rooms"`
	Categories []categoryView `json:"categories"`
}

type categoryView struct {
	ID        int64  `json:"id"`
	Name      string `json:"category_name"`
	Type      int    `json:"category_type"`
	UnitJewel int64  `json:"unit_jewel"`
	Fee       int64  `json:"fee"`
	TimeLimit int64  `json:"time_limit"`
}

func categoryViewOf(c room.Category) categoryView {
	return categoryView{
		ID:        c.ID,
		Name:      c.Name,
		Type:      c.Type,
		UnitJewel: c.UnitJewel,
		Fee:       c.Fee,
		TimeLimit: int64(c.TimeLimit / time.Second),
	}
}

type updateRoomEvent struct {
	Room      any         `json:"room"`
	Action    string      `json:"action,omitempty"`
	PlayerID  int64       `json:"player_id,omitempty"`
	Observers []player.ID `json:"observers,omitempty"`
}

type addRoomEvent struct {
	Room room.Info `json:"room"`
}

type pickCardsEvent struct {
	UserID int64        `json:"user_id"`
	Cards  []rules.Card `json:"cards"`
}

type seatEvent struct {
	UserID int64 `json:"user_id"`
}

type inviteInfo struct {
	Player int64 `json:"player"`
	RoomID int64 `json:"room_id"`
	Point  int64 `json:"point"`
}

type inviteEvent struct {
	InviteInfo inviteInfo `json:"inviteinfo"`
}

type idlePlayersResponse struct {
	Players []player.ID `json:"players"`
}

type profileResponse struct {
	Profile profileView `json:"profile"`
}

type playerListResponse struct {
	Players []profileView `json:"players"`
}

type playerInfoResponse struct {
	Player profileView `json:"player"`
}

type useItemReject struct {
	Action int `json:"action"`
	Result struct {
		ItemID int64 `json:"item_id"`
	} `json:"result"`
}

// profileView is the client-facing profile. Items are only attached to
// a player's own profile, never to broadcast lists.
type profileView struct {
	UserID           int64      `json:"user_id"`
	Username         string     `json:"username"`
	Avatar           string     `json:"avatar"`
	Gender           int        `json:"gender"`
	Coin             int64      `json:"coin"`
	Jewels           int64      `json:"jewel"`
	TournamentJewels int64      `json:"tournament_jewel"`
	Score            float64    `json:"score"`
	Level            int        `json:"level"`
	Rank             int        `json:"rank"`
	RoomID           int64      `json:"room_id,omitempty"`
	Status           string     `json:"status"`
	Items            []itemView `json:"items,omitempty"`
}

type itemView struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Cost  int64  `json:"cost"`
	Count int    `json:"count"`
}

func profileViewOf(p player.Profile, withItems bool) profileView {
	v := profileView{
		UserID:           p.ID,
		Username:         p.Username,
		Avatar:           p.Avatar,
		Gender:           p.Gender,
		Coin:             p.Coin,
		Jewels:           p.Jewels,
		TournamentJewels: p.TournamentJewels,
		Score:            p.Score,
		Level:            p.Level,
		Rank:             p.Rank,
		RoomID:           p.RoomID,
		Status:           p.Status.String(),
	}
	if withItems {
		for _, it := range p.Items {
			v.Items = append(v.Items, itemView{ID: it.ID, Name: it.Name, Cost: it.Cost, Count: it.Count})
		}
	}
	return v
}
