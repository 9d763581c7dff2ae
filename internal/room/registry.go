package room

import (
	"context"
	rand "math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/randutil"
)

// TournamentRound is the storage row a tournament room is built from.
type TournamentRound struct {
	RoomID       int64
	TournamentID int64
	EntryMoney   int64
	MaxRounds    int
	RoundMoney   int64
}

// RegistryStore is what the registry itself needs from persistence.
type RegistryStore interface {
	Store
	LoadTournamentRounds(ctx context.Context, tournamentID int64) ([]TournamentRound, error)
}

// Deps bundles the collaborators every room shares.
type Deps struct {
	Emitter Emitter
	Players *player.Registry
	Store   RegistryStore
	Clock   quartz.Clock
	Logger  *log.Logger

	// NewRand builds the per-room deal RNG. Tests inject a seeded one.
	NewRand func() *rand.Rand
}

// Registry owns the live room map and id allocation. Room ids restart
// from StartRoomNumber on the first creation of each day.
type Registry struct {
	mu          sync.Mutex
	rooms       map[int64]*Room
	nextID      int64
	lastCreated time.Time

	deps   Deps
	logger *log.Logger
}

func NewRegistry(deps Deps) *Registry {
	if deps.NewRand == nil {
		deps.NewRand = randutil.NewFromTime
	}
	return &Registry{
		rooms:  make(map[int64]*Room),
		nextID: StartRoomNumber,
		deps:   deps,
		logger: deps.Logger.WithPrefix("rooms"),
	}
}

func (g *Registry) newRoom(id int64, category Category, tournament *Tournament) *Room {
	r := &Room{
		id:          id,
		category:    category,
		tournament:  tournament,
		phase:       PhaseJoined,
		dealerLevel: 0,
		roundCount:  1,
		hands:       make(map[player.ID][]cardState),
		clock:       g.deps.Clock,
		rng:         g.deps.NewRand(),
		emitter:     g.deps.Emitter,
		players:     g.deps.Players,
		store:       g.deps.Store,
		logger:      g.logger.With("room", id),
	}
	r.destroy = func() { g.Remove(id) }
	return r
}

// Create builds a normal-category room seated by its creator.
func (g *Registry) Create(creator player.Profile, category Category) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.deps.Clock.Now()
	if g.lastCreated.Day() != now.Day() {
		g.nextID = StartRoomNumber
	}
	g.lastCreated = now
	for g.rooms[g.nextID] != nil {
		g.nextID++
	}
	id := g.nextID
	g.nextID++

	r := g.newRoom(id, category, nil)
	r.seats[0] = Seat{PlayerID: creator.ID, IP: creator.IP}
	g.rooms[id] = r
	g.logger.Debug("room created", "room", id, "creator", creator.ID, "category", category.ID)
	return r
}

// MaterializeTournaments loads the open tournament rounds and registers
// a room for each, keyed by the round's fixed room id. Called at
// startup and when a tournament opens.
func (g *Registry) MaterializeTournaments(ctx context.Context, tournamentID int64) ([]*Room, error) {
	rows, err := g.deps.Store.LoadTournamentRounds(ctx, tournamentID)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	var created []*Room
	for _, row := range rows {
		if g.rooms[row.RoomID] != nil {
			continue
		}
		category := Category{
			Type:      CategoryTournament,
			UnitJewel: row.RoundMoney,
			TimeLimit: 30 * time.Second,
		}
		r := g.newRoom(row.RoomID, category, &Tournament{
			ID:         row.TournamentID,
			EntryMoney: row.EntryMoney,
			MaxRounds:  row.MaxRounds,
		})
		r.phase = PhaseCreated
		g.rooms[row.RoomID] = r
		created = append(created, r)
	}
	return created, nil
}

// Get returns a live room.
func (g *Registry) Get(id int64) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[id]
	return r, ok
}

// Remove detaches a room and stops its timer.
func (g *Registry) Remove(id int64) {
	g.mu.Lock()
	r, ok := g.rooms[id]
	delete(g.rooms, id)
	g.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	r.stopTimer()
	r.mu.Unlock()
	g.deps.Players.ClearRoom(id)
}

// List returns lobby summaries sorted by category type then stake.
func (g *Registry) List() []Info {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	infos := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CategoryType != infos[j].CategoryType {
			return infos[i].CategoryType < infos[j].CategoryType
		}
		if infos[i].Point != infos[j].Point {
			return infos[i].Point < infos[j].Point
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// BroadcastIdlePlayers pushes the invitable list to every room still
// waiting for players.
func (g *Registry) BroadcastIdlePlayers() {
	idle := g.deps.Players.Invitable()
	g.mu.Lock()
	waiting := make([]int64, 0)
	for id, r := range g.rooms {
		if r.Phase() < PhaseReady {
			waiting = append(waiting, id)
		}
	}
	g.mu.Unlock()
	for _, id := range waiting {
		g.deps.Emitter.ToRoom(id, EventIdlePlayers, idlePlayersPayload{Players: idle})
	}
}

// Sweep drops seated players whose registry binding no longer points at
// the room, and removes rooms emptied by that. Only pre-round rooms are
// touched.
func (g *Registry) Sweep() {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	for _, r := range rooms {
		r.sweep()
	}
}
