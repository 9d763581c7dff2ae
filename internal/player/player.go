// Package player holds the in-memory registry of connected and recently
// seen players: public profile state the rooms mutate during play, and
// the session bookkeeping the transport needs to evict stale logins.
package player

// ID is a player's database id.
type ID = int64

// Status tracks where a player currently is.
type Status int

const (
	Disconnected Status = iota
	InLobby
	Gamer
	Observer
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case InLobby:
		return "lobby"
	case Gamer:
		return "gamer"
	case Observer:
		return "observer"
	}
	return "unknown"
}

// Mission is one of the three per-level missions. HistoryID is 0 while
// incomplete, -1 when completed this session and not yet persisted, and
// a history row id once recorded.
type Mission struct {
	ID        int64
	HistoryID int64
}

const MissionsPerLevel = 3

// MissionCompleted is the HistoryID of a mission finished this round and
// still waiting for its play-log row id.
const MissionCompleted int64 = -1

// Profile is the mutable in-memory view of a player. All access goes
// through the registry so rooms on different goroutines never race.
type Profile struct {
	ID       ID
	Username string
	Avatar   string
	Gender   int

	Coin   int64
	Jewels int64
	Score  float64
	Level  int
	Rank   int

	TournamentJewels      int64
	TournamentRoundID     int64
	TournamentRoundNumber int

	IP     string
	RoomID int64
	Status Status

	Missions [MissionsPerLevel]Mission
	Items    map[int64]*Item
}

// InRoom reports whether the player is bound to a room, seated or
// observing.
func (p *Profile) InRoom() bool { return p.RoomID != 0 }

// Session is the transport-side identity of a connected player.
type Session struct {
	Token  string
	ConnID string
	IP     string
}
