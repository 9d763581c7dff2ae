// Package room implements the per-room game state machine: seating,
// betting, trick play, timers and settlement. Every transition runs
// under the room mutex; timer callbacks re-validate phase and turn
// before mutating so a late timeout can never race a client action.
package room

import (
	"context"
	"errors"
	rand "math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/jewelpark/poker3/internal/history"
	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/rules"
)

const (
	// PassTurnLimit destroys an abandoned room once this many turns in
	// a row pass without a play.
	PassTurnLimit = 10
	// DroppedTurnLimit replaces the category time limit when the next
	// player is disconnected.
	DroppedTurnLimit = 15 * time.Second
	// NewRoundDelay is the gap between settlement and the next-round
	// eviction check.
	NewRoundDelay = 1 * time.Second
	// EndRoundDelay lets clients show the final play before settlement.
	EndRoundDelay = 3 * time.Second
	// MinJewelMultiple of the room stake is required to sit.
	MinJewelMultiple = 1
	// MaxDealerLevel caps the bet doubling ladder.
	MaxDealerLevel = 8
	// StartRoomNumber is the first room id handed out each day.
	StartRoomNumber = 1
)

// Phase is the room lifecycle stage.
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseJoined
	PhaseReady
	PhasePlaying
	PhaseRoundEnd
)

// SeatStatus is the per-seat readiness flag.
type SeatStatus int

const (
	NotReady SeatStatus = iota
	Ready
	LeaveRequested
)

// Category types.
const (
	CategoryNormal     = 0
	CategoryTournament = 1
)

// Category is the room template loaded from storage.
type Category struct {
	ID        int64
	Name      string
	Type      int
	UnitJewel int64
	Fee       int64
	TimeLimit time.Duration
}

// Tournament carries the extra state of a tournament-backed room.
type Tournament struct {
	ID         int64
	EntryMoney int64
	MaxRounds  int
}

// Seat holds one of the three player positions.
type Seat struct {
	PlayerID player.ID
	IP       string
	Status   SeatStatus
}

func (s *Seat) Empty() bool { return s.PlayerID == 0 }

// cardState tracks custody of one dealt card.
type cardState struct {
	card   rules.Card
	played bool
}

// lastPlay is the set currently on the board.
type lastPlay struct {
	playerID player.ID
	combo    rules.Combo
}

// itemRequest is a queued item use awaiting its trigger.
type itemRequest struct {
	playerID player.ID
	itemID   int64
	targetID player.ID
	effect   player.Effect
}

// PlayLog is the per-player settlement row.
type PlayLog struct {
	HistoryID        string
	PlayerID         player.ID
	RoomID           int64
	CategoryType     int
	Team             int
	WinType          int
	RoundLevel       int
	RoundNumber      int
	RoundPoint       int64
	JewelDelta       int64
	FreeFee          int64
	Score            float64
	PlayerLevel      int
	OtherPlayers     [2]player.ID
	FinishedAt       time.Time
	TournamentJewels bool
}

// ItemLog records a consumed item against a play-log row.
type ItemLog struct {
	ItemID    int64
	PlayLogID int64
}

// Store is the persistence the room needs around settlement and deals.
type Store interface {
	LoadInitCardGrants(ctx context.Context, id player.ID) ([]rules.Grant, error)
	CheckMissionComplete(ctx context.Context, cards []rules.Card, id player.ID, level int, roomID int64,
		missions [player.MissionsPerLevel]player.Mission) ([player.MissionsPerLevel]player.Mission, bool, error)
	CreateMissions(ctx context.Context, id player.ID, level int) ([player.MissionsPerLevel]player.Mission, error)
	UpdateMissions(ctx context.Context, id player.ID, level int, missions [player.MissionsPerLevel]player.Mission) error
	PersistPlayerBalances(ctx context.Context, id player.ID, jewels, tournamentJewels int64, score float64, level int) error
	PersistRoundHistory(ctx context.Context, blob []byte) (string, error)
	PersistPlayLog(ctx context.Context, row PlayLog) (int64, error)
	PersistItemLog(ctx context.Context, rows []ItemLog) error
	PersistItemCount(ctx context.Context, id player.ID, itemID int64, count int) error
	UpdateAdminJewels(ctx context.Context, delta int64) error
	UpdateTournamentRound(ctx context.Context, endAt time.Time, status int, jewels int64, tournamentID int64, id player.ID) error
	UpdateTournamentProcess(ctx context.Context, roundNumber int, roundID int64, tournamentID int64, id player.ID) error
}

// Rejection sentinels, mapped to failure events by the dispatch layer.
var (
	ErrRoomFull       = errors.New("room is full")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrWrongPhase     = errors.New("wrong room phase")
	ErrNotYourCards   = errors.New("cards not held")
	ErrIllegalCards   = errors.New("illegal card set")
	ErrCannotBeat     = errors.New("cards do not beat the board")
	ErrRoomLocked     = errors.New("room is busy")
	ErrItemUnusable   = errors.New("item not usable")
	ErrNotSeated      = errors.New("player not seated")
	ErrLevelCapped    = errors.New("bet level capped")
)

// Room is one table. All exported methods serialize on mu.
type Room struct {
	mu sync.Mutex

	id         int64
	category   Category
	tournament *Tournament

	phase     Phase
	seats     [3]Seat
	startSeat int

	dealerID    player.ID
	dealerLevel int
	roundPoint  int64
	roundCount  int

	turnID      player.ID
	turnIndex   int
	turnCount   int
	turnStarted time.Time
	turnLimit   time.Duration

	hands  map[player.ID][]cardState
	hidden []rules.Card
	last   lastPlay
	putID  player.ID

	perTurnItems  []itemRequest
	perRoundItems []itemRequest

	round   *history.Round
	settled bool

	putGuard atomic.Bool
	timer    *quartz.Timer

	clock   quartz.Clock
	rng     *rand.Rand
	emitter Emitter
	players *player.Registry
	store   Store
	logger  *log.Logger

	// destroy detaches the room from its registry. Set by the registry
	// at creation.
	destroy func()
}

func (r *Room) ID() int64 { return r.id }

// Tournament returns the tournament binding, if any. Set once at
// creation, never mutated.
func (r *Room) Tournament() (Tournament, bool) {
	if r.tournament == nil {
		return Tournament{}, false
	}
	return *r.tournament, true
}

// Phase returns the current lifecycle stage.
func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// seatOf returns the seat index of a player, or -1.
func (r *Room) seatOf(id player.ID) int {
	for i := range r.seats {
		if r.seats[i].PlayerID == id {
			return i
		}
	}
	return -1
}

// Seated reports whether the player holds one of the three seats.
func (r *Room) Seated(id player.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seatOf(id) >= 0
}

func (r *Room) playerIDs() [3]player.ID {
	return [3]player.ID{r.seats[0].PlayerID, r.seats[1].PlayerID, r.seats[2].PlayerID}
}

// holding returns the cards a player still holds.
func (r *Room) holding(id player.ID) []rules.Card {
	var cards []rules.Card
	for _, cs := range r.hands[id] {
		if !cs.played {
			cards = append(cards, cs.card)
		}
	}
	return cards
}

func (r *Room) holdingCount(id player.ID) int {
	n := 0
	for _, cs := range r.hands[id] {
		if !cs.played {
			n++
		}
	}
	return n
}

// playedCards returns every card already on the table, across players.
func (r *Room) playedCards() []rules.Card {
	var cards []rules.Card
	for _, hand := range r.hands {
		for _, cs := range hand {
			if cs.played {
				cards = append(cards, cs.card)
			}
		}
	}
	return cards
}

// othersHoldings maps each other player to their unplayed cards,
// revealed at round end.
func (r *Room) othersHoldings(exclude player.ID) map[player.ID][]rules.Card {
	result := make(map[player.ID][]rules.Card)
	for id := range r.hands {
		if id == exclude {
			continue
		}
		if held := r.holding(id); len(held) > 0 {
			result[id] = held
		}
	}
	return result
}

// remainingTurnTime is what a rejoining client has left on the clock.
func (r *Room) remainingTurnTime() float64 {
	elapsed := r.clock.Now().Sub(r.turnStarted)
	left := r.turnLimit - elapsed
	if left < 0 {
		left = 0
	}
	return left.Seconds()
}

// armTimer replaces the room's single timer. Arming always cancels the
// previous handle so stale callbacks cannot stack.
func (r *Room) armTimer(d time.Duration, fn func()) {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = r.clock.AfterFunc(d, fn)
}

func (r *Room) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// turnLimitFor is the timer duration for a player, shortened when the
// player is disconnected.
func (r *Room) turnLimitFor(id player.ID) time.Duration {
	if p, ok := r.players.Get(id); ok && p.Status != player.Disconnected {
		return r.category.TimeLimit
	}
	return DroppedTurnLimit
}

// Info snapshots the lobby summary.
func (r *Room) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infoLocked()
}

func (r *Room) infoLocked() Info {
	return Info{
		ID:           r.id,
		CategoryID:   r.category.ID,
		CategoryType: r.category.Type,
		Point:        r.category.UnitJewel,
		Players:      r.playerIDs(),
		Observers:    len(r.players.Observers(r.id)),
		Phase:        r.phase,
	}
}

// StateFor snapshots the room for one player, including their own
// cards and, while playing, the revealed dealer cards.
func (r *Room) StateFor(id player.ID) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked(id)
}

func (r *Room) stateLocked(id player.ID) State {
	s := State{
		ID:           r.id,
		CategoryID:   r.category.ID,
		CategoryType: r.category.Type,
		Phase:        r.phase,
		Point:        r.category.UnitJewel,
		RoundPoint:   r.roundPoint,
		DealerID:     r.dealerID,
		DealerLevel:  r.dealerLevel,
		RoundCount:   r.roundCount,
		TurnID:       r.turnID,
		TurnTime:     r.remainingTurnTime(),
		Players:      r.playerIDs(),
		Observers:    r.players.Observers(r.id),
	}
	for i := range r.seats {
		s.SeatStatus[i] = r.seats[i].Status
		if !r.seats[i].Empty() {
			s.CardCounts[i] = r.holdingCount(r.seats[i].PlayerID)
		}
	}
	if id != 0 {
		s.Cards = r.holding(id)
	}
	if r.phase == PhasePlaying {
		s.HiddenCards = r.hidden
	}
	if r.last.playerID != 0 {
		s.LastPutID = r.last.playerID
		s.LastPutCards = r.last.combo.Cards
	}
	return s
}
