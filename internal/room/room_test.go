package room

import (
	"context"
	"fmt"
	"io"
	rand "math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/randutil"
	"github.com/jewelpark/poker3/internal/rules"
)

// recordingEmitter captures everything a room broadcasts.
type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

type emitted struct {
	scope    string
	roomID   int64
	playerID player.ID
	event    string
	payload  any
}

func (e *recordingEmitter) ToRoom(roomID int64, event string, payload any) {
	e.record(emitted{scope: "room", roomID: roomID, event: event, payload: payload})
}

func (e *recordingEmitter) ToLobby(event string, payload any) {
	e.record(emitted{scope: "lobby", event: event, payload: payload})
}

func (e *recordingEmitter) ToPlayer(id player.ID, event string, payload any) {
	e.record(emitted{scope: "player", playerID: id, event: event, payload: payload})
}

func (e *recordingEmitter) ToAll(event string, payload any) {
	e.record(emitted{scope: "all", event: event, payload: payload})
}

func (e *recordingEmitter) record(ev emitted) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEmitter) count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.event == event {
			n++
		}
	}
	return n
}

func (e *recordingEmitter) last(event string) (emitted, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		if e.events[i].event == event {
			return e.events[i], true
		}
	}
	return emitted{}, false
}

func (e *recordingEmitter) lastFor(id player.ID, event string) (emitted, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		if e.events[i].event == event && e.events[i].playerID == id {
			return e.events[i], true
		}
	}
	return emitted{}, false
}

// memStore is the in-memory persistence double for room tests.
type memStore struct {
	mu           sync.Mutex
	grants       map[player.ID][]rules.Grant
	completions  map[player.ID]bool
	balances     map[player.ID]int64
	playLogs     []PlayLog
	itemLogs     []ItemLog
	itemCounts   map[string]int
	missionSaves map[player.ID][player.MissionsPerLevel]player.Mission
	adminFee     int64
	histories    int
	tournaments  []TournamentRound
	tournamentOps []string
	nextLogID    int64
}

func newMemStore() *memStore {
	return &memStore{
		grants:       make(map[player.ID][]rules.Grant),
		completions:  make(map[player.ID]bool),
		balances:     make(map[player.ID]int64),
		itemCounts:   make(map[string]int),
		missionSaves: make(map[player.ID][player.MissionsPerLevel]player.Mission),
	}
}

func (s *memStore) LoadInitCardGrants(_ context.Context, id player.ID) ([]rules.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants[id], nil
}

func (s *memStore) CheckMissionComplete(_ context.Context, _ []rules.Card, id player.ID, _ int, _ int64,
	missions [player.MissionsPerLevel]player.Mission) ([player.MissionsPerLevel]player.Mission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completions[id] {
		missions[0].HistoryID = player.MissionCompleted
		return missions, true, nil
	}
	return missions, false, nil
}

func (s *memStore) CreateMissions(_ context.Context, _ player.ID, level int) ([player.MissionsPerLevel]player.Mission, error) {
	var out [player.MissionsPerLevel]player.Mission
	for i := range out {
		out[i] = player.Mission{ID: int64(level*100 + i)}
	}
	return out, nil
}

func (s *memStore) UpdateMissions(_ context.Context, id player.ID, _ int, missions [player.MissionsPerLevel]player.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missionSaves[id] = missions
	return nil
}

func (s *memStore) PersistPlayerBalances(_ context.Context, id player.ID, jewels, _ int64, _ float64, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[id] = jewels
	return nil
}

func (s *memStore) PersistRoundHistory(_ context.Context, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories++
	return fmt.Sprintf("hist-%d", s.histories), nil
}

func (s *memStore) PersistPlayLog(_ context.Context, row PlayLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	s.playLogs = append(s.playLogs, row)
	return s.nextLogID, nil
}

func (s *memStore) PersistItemLog(_ context.Context, rows []ItemLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemLogs = append(s.itemLogs, rows...)
	return nil
}

func (s *memStore) PersistItemCount(_ context.Context, id player.ID, itemID int64, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemCounts[fmt.Sprintf("%d:%d", id, itemID)] = count
	return nil
}

func (s *memStore) UpdateAdminJewels(_ context.Context, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminFee += delta
	return nil
}

func (s *memStore) UpdateTournamentRound(_ context.Context, _ time.Time, status int, jewels int64, tournamentID int64, id player.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tournamentOps = append(s.tournamentOps, fmt.Sprintf("round:%d:%d:%d:%d", tournamentID, id, status, jewels))
	return nil
}

func (s *memStore) UpdateTournamentProcess(_ context.Context, roundNumber int, roundID int64, tournamentID int64, id player.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tournamentOps = append(s.tournamentOps, fmt.Sprintf("process:%d:%d:%d:%d", tournamentID, id, roundID, roundNumber))
	return nil
}

func (s *memStore) LoadTournamentRounds(_ context.Context, _ int64) ([]TournamentRound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tournaments, nil
}

// profileStore backs the player registry in tests.
type profileStore struct {
	profiles map[player.ID]player.Profile
	items    map[player.ID][]*player.Item
}

func (s *profileStore) LoadPlayerProfile(_ context.Context, id player.ID) (player.Profile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return player.Profile{}, fmt.Errorf("no player %d", id)
	}
	return p, nil
}

func (s *profileStore) LoadMissions(_ context.Context, _ player.ID, _ int) ([player.MissionsPerLevel]player.Mission, bool, error) {
	return [player.MissionsPerLevel]player.Mission{}, false, nil
}

func (s *profileStore) CreateMissions(_ context.Context, _ player.ID, level int) ([player.MissionsPerLevel]player.Mission, error) {
	var out [player.MissionsPerLevel]player.Mission
	for i := range out {
		out[i] = player.Mission{ID: int64(level*100 + i)}
	}
	return out, nil
}

func (s *profileStore) LoadItems(_ context.Context, id player.ID) ([]*player.Item, error) {
	return s.items[id], nil
}

type fixture struct {
	clock    *quartz.Mock
	emitter  *recordingEmitter
	store    *memStore
	players  *player.Registry
	registry *Registry
	room     *Room
}

// newFixture seats players 1, 2 and 3 (1000 jewels each) in a fresh
// normal room with a 100 jewel stake, 10 jewel fee and 20s turns.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := quartz.NewMock(t)
	logger := log.New(io.Discard)
	ps := &profileStore{
		profiles: make(map[player.ID]player.Profile),
		items:    make(map[player.ID][]*player.Item),
	}
	players := player.NewRegistry(ps, logger)
	st := newMemStore()
	em := &recordingEmitter{}
	g := NewRegistry(Deps{
		Emitter: em,
		Players: players,
		Store:   st,
		Clock:   clock,
		Logger:  logger,
		NewRand: func() *rand.Rand { return randutil.New(11) },
	})

	ctx := context.Background()
	for id := player.ID(1); id <= 3; id++ {
		ps.profiles[id] = player.Profile{ID: id, Username: fmt.Sprintf("p%d", id), Jewels: 1000, Level: 1}
		_, err := players.Load(ctx, id)
		require.NoError(t, err)
	}

	cat := Category{ID: 1, Type: CategoryNormal, UnitJewel: 100, Fee: 10, TimeLimit: 20 * time.Second}
	p1, _ := players.Get(1)
	r := g.Create(p1, cat)
	for id := player.ID(2); id <= 3; id++ {
		p, _ := players.Get(id)
		_, err := r.AddPlayer(p)
		require.NoError(t, err)
	}
	for id := player.ID(1); id <= 3; id++ {
		players.SetRoom(id, r.ID(), player.Gamer)
	}
	return &fixture{clock: clock, emitter: em, store: st, players: players, registry: g, room: r}
}

func (f *fixture) ready(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for id := player.ID(1); id <= 3; id++ {
		require.NoError(t, f.room.SetReady(ctx, id))
	}
}

func (f *fixture) setPlaying(dealer player.ID, hands map[player.ID][]rules.Card) {
	setPlaying(f.room, dealer, hands)
}

// setPlaying drops a room straight into the playing phase with
// handcrafted hands, bypassing the deal.
func setPlaying(r *Room, dealer player.ID, hands map[player.ID][]rules.Card) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = PhasePlaying
	r.dealerID = dealer
	r.dealerLevel = 1
	r.roundPoint = r.category.UnitJewel
	r.turnID = dealer
	r.turnIndex = 0
	r.turnCount = 0
	r.turnStarted = r.clock.Now()
	r.turnLimit = r.category.TimeLimit
	r.last = lastPlay{}
	r.putID = 0
	r.settled = false
	r.round = nil
	r.hands = make(map[player.ID][]cardState)
	for id, cards := range hands {
		states := make([]cardState, len(cards))
		for i, c := range cards {
			states[i] = cardState{card: c}
		}
		r.hands[id] = states
	}
	for i := range r.seats {
		r.seats[i].Status = Ready
	}
}

// cardOf builds a specific card. Ranks 16 and 17 are the jokers.
func cardOf(rank, suit int) rules.Card {
	switch rank {
	case 16:
		return rules.RedJoker
	case 17:
		return rules.BlackJoker
	}
	return rules.Card((rank-3)*4 + suit)
}

func TestSetReadyDealsNewRound(t *testing.T) {
	f := newFixture(t)
	f.ready(t)

	assert.Equal(t, PhaseReady, f.room.Phase())
	assert.Equal(t, 1, f.emitter.count(EventNewRound))

	// Lead seat rotated off the creator, dealer seeded one past it.
	st := f.room.StateFor(0)
	assert.Equal(t, int64(2), st.TurnID)
	assert.Equal(t, int64(3), st.DealerID)
	assert.Equal(t, int64(100), st.RoundPoint)

	for id := player.ID(1); id <= 3; id++ {
		ev, ok := f.emitter.lastFor(id, EventGetCards)
		require.True(t, ok)
		assert.Len(t, ev.payload.(getCardsPayload).Cards, rules.HandSize)
	}
}

func TestPassBetAllThreeStartsRound(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()

	require.NoError(t, f.room.PassBet(ctx, 2))
	require.NoError(t, f.room.PassBet(ctx, 3))
	require.Error(t, f.room.PassBet(ctx, 3), "betting twice in a row is out of turn")
	require.NoError(t, f.room.PassBet(ctx, 1))

	assert.Equal(t, PhasePlaying, f.room.Phase())
	assert.Equal(t, 1, f.emitter.count(EventStartRound))

	st := f.room.StateFor(3)
	assert.Equal(t, int64(3), st.TurnID, "dealer leads the round")
	assert.Len(t, st.Cards, rules.HandSize+rules.HiddenCount, "dealer picked up the hidden cards")
	assert.Len(t, st.HiddenCards, rules.HiddenCount)
}

func TestLevelUpDoublesStakeAndTakesDealer(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()

	require.NoError(t, f.room.LevelUp(ctx, 2))
	st := f.room.StateFor(0)
	assert.Equal(t, int64(2), st.DealerID)
	assert.Equal(t, 2, st.DealerLevel)
	assert.Equal(t, int64(200), st.RoundPoint)

	require.NoError(t, f.room.PassBet(ctx, 3))
	require.NoError(t, f.room.PassBet(ctx, 1))

	// The raiser would be next, which closes the betting.
	assert.Equal(t, PhasePlaying, f.room.Phase())
	st = f.room.StateFor(2)
	assert.Equal(t, int64(2), st.TurnID)
	assert.Len(t, st.Cards, rules.HandSize+rules.HiddenCount)
}

func TestBetTimeoutAutoPasses(t *testing.T) {
	f := newFixture(t)
	f.ready(t)

	f.clock.Advance(20 * time.Second).MustWait(context.Background())
	st := f.room.StateFor(0)
	assert.Equal(t, int64(3), st.TurnID, "timed-out bettor was passed over")
	assert.Equal(t, 1, f.emitter.count(EventPassBet))

	f.clock.Advance(20 * time.Second).MustWait(context.Background())
	f.clock.Advance(20 * time.Second).MustWait(context.Background())
	assert.Equal(t, PhasePlaying, f.room.Phase(), "three timeouts start the round")
}

func TestDailyRoomNumberReset(t *testing.T) {
	f := newFixture(t)
	first := f.room.ID()

	p1, _ := f.players.Get(1)
	cat := Category{ID: 1, Type: CategoryNormal, UnitJewel: 100, TimeLimit: 20 * time.Second}
	r2 := f.registry.Create(p1, cat)
	assert.Equal(t, first+1, r2.ID())

	f.registry.Remove(r2.ID())
	f.clock.Advance(24 * time.Hour)
	r3 := f.registry.Create(p1, cat)
	assert.Equal(t, first+1, r3.ID(), "numbering restarts each day, skipping live rooms")
}

func TestRejoinRestoresReadyMidRound(t *testing.T) {
	f := newFixture(t)
	f.ready(t)

	p2, _ := f.players.Get(2)
	st, err := f.room.AddPlayer(p2)
	require.NoError(t, err)
	assert.Equal(t, Ready, st.SeatStatus[1])
	assert.Len(t, st.Cards, rules.HandSize, "rejoin snapshot carries the player's own hand")
	assert.Equal(t, PhaseReady, f.room.Phase(), "rejoin does not disturb the round")
}
