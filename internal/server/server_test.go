package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jewelpark/poker3/internal/auth"
	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/room"
	"github.com/jewelpark/poker3/internal/rules"
)

// fakeStore satisfies every persistence interface the transport and
// the room registry need, entirely in memory.
type fakeStore struct {
	tournamentRounds []room.TournamentRound
	enrolled         map[player.ID]bool
}

func (f *fakeStore) LoadPlayerProfile(ctx context.Context, id player.ID) (player.Profile, error) {
	return player.Profile{
		ID:       id,
		Username: fmt.Sprintf("player%d", id),
		Jewels:   1000,
		Level:    1,
	}, nil
}

func (f *fakeStore) LoadMissions(ctx context.Context, id player.ID, level int) ([player.MissionsPerLevel]player.Mission, bool, error) {
	return [player.MissionsPerLevel]player.Mission{}, true, nil
}

func (f *fakeStore) CreateMissions(ctx context.Context, id player.ID, level int) ([player.MissionsPerLevel]player.Mission, error) {
	return [player.MissionsPerLevel]player.Mission{}, nil
}

func (f *fakeStore) LoadItems(ctx context.Context, id player.ID) ([]*player.Item, error) {
	return nil, nil
}

func (f *fakeStore) LoadInitCardGrants(ctx context.Context, id player.ID) ([]rules.Grant, error) {
	return nil, nil
}

func (f *fakeStore) CheckMissionComplete(ctx context.Context, cards []rules.Card, id player.ID, level int, roomID int64,
	missions [player.MissionsPerLevel]player.Mission) ([player.MissionsPerLevel]player.Mission, bool, error) {
	return missions, false, nil
}

func (f *fakeStore) UpdateMissions(ctx context.Context, id player.ID, level int, missions [player.MissionsPerLevel]player.Mission) error {
	return nil
}

func (f *fakeStore) PersistPlayerBalances(ctx context.Context, id player.ID, jewels, tournamentJewels int64, score float64, level int) error {
	return nil
}

func (f *fakeStore) PersistRoundHistory(ctx context.Context, blob []byte) (string, error) {
	return "hist-1", nil
}

func (f *fakeStore) PersistPlayLog(ctx context.Context, row room.PlayLog) (int64, error) {
	return 1, nil
}

func (f *fakeStore) PersistItemLog(ctx context.Context, rows []room.ItemLog) error { return nil }

func (f *fakeStore) PersistItemCount(ctx context.Context, id player.ID, itemID int64, count int) error {
	return nil
}

func (f *fakeStore) UpdateAdminJewels(ctx context.Context, delta int64) error { return nil }

func (f *fakeStore) UpdateTournamentRound(ctx context.Context, endAt time.Time, status int, jewels int64, tournamentID int64, id player.ID) error {
	return nil
}

func (f *fakeStore) UpdateTournamentProcess(ctx context.Context, roundNumber int, roundID int64, tournamentID int64, id player.ID) error {
	return nil
}

func (f *fakeStore) LoadTournamentRounds(ctx context.Context, tournamentID int64) ([]room.TournamentRound, error) {
	return f.tournamentRounds, nil
}

func (f *fakeStore) CanEnterTournament(ctx context.Context, id player.ID, tournamentID int64) (bool, error) {
	return f.enrolled[id], nil
}

func (f *fakeStore) LoadTournamentEntry(ctx context.Context, id player.ID, roomID int64) (int64, error) {
	for _, tr := range f.tournamentRounds {
		if tr.RoomID == roomID && f.enrolled[id] {
			return tr.EntryMoney, nil
		}
	}
	return 0, errors.New("not found")
}

func (f *fakeStore) LoadCategory(ctx context.Context, id int64) (room.Category, error) {
	return room.Category{
		ID:        id,
		Name:      "beginner",
		Type:      room.CategoryNormal,
		UnitJewel: 100,
		Fee:       10,
		TimeLimit: 20 * time.Second,
	}, nil
}

func (f *fakeStore) LoadCategories(ctx context.Context) ([]room.Category, error) {
	c, _ := f.LoadCategory(ctx, 1)
	return []room.Category{c}, nil
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	return newTestServerWith(t, &fakeStore{})
}

func newTestServerWith(t *testing.T, store *fakeStore) (*Server, *httptest.Server) {
	t.Helper()
	logger := log.New(io.Discard)
	players := player.NewRegistry(store, logger)

	srv := New(Deps{
		Validator:   auth.NewNoopValidator(),
		Players:     players,
		Categories:  store,
		Tournaments: store,
		Logger:      logger,
	})
	rooms := room.NewRegistry(room.Deps{
		Emitter: srv,
		Players: players,
		Store:   store,
		Clock:   quartz.NewReal(),
		Logger:  logger,
	})
	srv.SetRooms(rooms)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		srv.Stop()
		ts.Close()
	})
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, id int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") +
		fmt.Sprintf("/ws?username=%d&token=tok%d", id, id)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForEvent reads until the named event arrives.
func waitForEvent(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}
		if msg.Event == event {
			return msg.Data
		}
	}
	t.Fatalf("event %q never arrived", event)
	return nil
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	msg, err := NewMessage(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func TestConnectDeliversProfileAndLobby(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts, 1)

	var profile profileResponse
	require.NoError(t, json.Unmarshal(waitForEvent(t, conn, eventGetProfile), &profile))
	assert.Equal(t, int64(1), profile.Profile.UserID)
	assert.Equal(t, "player1", profile.Profile.Username)
	assert.EqualValues(t, 1000, profile.Profile.Jewels)

	waitForEvent(t, conn, eventPlayerList)
	waitForEvent(t, conn, room.EventJoinPlayer)
	waitForEvent(t, conn, eventJoinWaitroom)
}

func TestCreateRoomAndList(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts, 1)
	waitForEvent(t, conn, eventJoinWaitroom)

	send(t, conn, "create-room", createRoomRequest{Token: "tok1", CategoryID: 1})

	var resp createRoomResponse
	require.NoError(t, json.Unmarshal(waitForEvent(t, conn, eventCreateRoom), &resp))
	require.Equal(t, statusSuccess, resp.Success)
	require.NotNil(t, resp.Room)
	assert.EqualValues(t, 100, resp.Room.Point)
	assert.Equal(t, int64(1), resp.Room.Players[0])

	httpResp, err := http.Get(ts.URL + "/rooms")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	var infos []room.Info
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&infos))
	require.Len(t, infos, 1)
	assert.Equal(t, resp.Room.ID, infos[0].ID)

	rm, ok := srv.deps.Rooms.Get(resp.Room.ID)
	require.True(t, ok)
	assert.True(t, rm.Seated(1))
}

func TestSecondPlayerJoinsRoom(t *testing.T) {
	_, ts := newTestServer(t)

	creator := dial(t, ts, 1)
	waitForEvent(t, creator, eventJoinWaitroom)
	send(t, creator, "create-room", createRoomRequest{Token: "tok1", CategoryID: 1})
	var created createRoomResponse
	require.NoError(t, json.Unmarshal(waitForEvent(t, creator, eventCreateRoom), &created))
	require.Equal(t, statusSuccess, created.Success)

	joiner := dial(t, ts, 2)
	waitForEvent(t, joiner, eventJoinWaitroom)
	send(t, joiner, "join-room", joinRoomRequest{Token: "tok2", RoomID: created.Room.ID})

	var joined joinRoomResponse
	require.NoError(t, json.Unmarshal(waitForEvent(t, joiner, room.EventJoinRoom), &joined))
	require.Equal(t, statusSuccess, joined.Success)
	require.NotNil(t, joined.Room)
	assert.Equal(t, int64(2), joined.Room.Players[1])

	// The creator's room topic sees the seat change.
	var update updateRoomEvent
	require.NoError(t, json.Unmarshal(waitForEvent(t, creator, room.EventUpdateRoom), &update))
	assert.Equal(t, "add", update.Action)
}

func TestStaleTokenLogsOut(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts, 1)
	waitForEvent(t, conn, eventJoinWaitroom)

	send(t, conn, "room-list", baseRequest{Token: "wrong"})
	waitForEvent(t, conn, eventLogout)
}

func TestHandshakeRejectsBadCredentials(t *testing.T) {
	_, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?username=notanumber&token=x"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestReconnectEvictsOldSession(t *testing.T) {
	_, ts := newTestServer(t)

	first := dial(t, ts, 1)
	waitForEvent(t, first, eventJoinWaitroom)

	second := dial(t, ts, 1)
	waitForEvent(t, second, eventJoinWaitroom)

	// The superseded connection is told to log out before it closes.
	waitForEvent(t, first, eventLogout)
}

func TestJoinTournamentRoomChecksEnrollment(t *testing.T) {
	store := &fakeStore{
		tournamentRounds: []room.TournamentRound{
			{RoomID: 500, TournamentID: 77, EntryMoney: 300, MaxRounds: 3, RoundMoney: 100},
		},
		enrolled: map[player.ID]bool{2: true},
	}
	srv, ts := newTestServerWith(t, store)
	_, err := srv.deps.Rooms.MaterializeTournaments(context.Background(), 0)
	require.NoError(t, err)

	outsider := dial(t, ts, 1)
	waitForEvent(t, outsider, eventJoinWaitroom)
	send(t, outsider, "join-tournament-room", joinRoomRequest{Token: "tok1", RoomID: 500})

	var denied joinRoomResponse
	require.NoError(t, json.Unmarshal(waitForEvent(t, outsider, eventJoinTournament), &denied))
	assert.Equal(t, statusFailed, denied.Success)
	assert.Equal(t, int64(500), denied.RoomID)

	entrant := dial(t, ts, 2)
	waitForEvent(t, entrant, eventJoinWaitroom)
	send(t, entrant, "join-tournament-room", joinRoomRequest{Token: "tok2", RoomID: 500})

	var joined joinRoomResponse
	require.NoError(t, json.Unmarshal(waitForEvent(t, entrant, eventJoinTournament), &joined))
	require.Equal(t, statusSuccess, joined.Success)
	require.NotNil(t, joined.Room)
	assert.Equal(t, int64(2), joined.Room.Players[0])

	rm, ok := srv.deps.Rooms.Get(500)
	require.True(t, ok)
	assert.True(t, rm.Seated(2))
	assert.False(t, rm.Seated(1))

	// Seating grants the round's entry stake.
	p, ok := srv.deps.Players.Get(2)
	require.True(t, ok)
	assert.EqualValues(t, 300, p.TournamentJewels)
}

func TestTournamentRoomListOnlyTournaments(t *testing.T) {
	store := &fakeStore{
		tournamentRounds: []room.TournamentRound{
			{RoomID: 500, TournamentID: 77, EntryMoney: 300, MaxRounds: 3, RoundMoney: 100},
		},
	}
	srv, ts := newTestServerWith(t, store)
	_, err := srv.deps.Rooms.MaterializeTournaments(context.Background(), 0)
	require.NoError(t, err)

	conn := dial(t, ts, 1)
	waitForEvent(t, conn, eventJoinWaitroom)
	send(t, conn, "create-room", createRoomRequest{Token: "tok1", CategoryID: 1})
	waitForEvent(t, conn, eventCreateRoom)

	send(t, conn, "tournament-room-list", baseRequest{Token: "tok1"})
	var tourList roomListResponse
	require.NoError(t, json.Unmarshal(waitForEvent(t, conn, eventTournamentRoomList), &tourList))
	require.Len(t, tourList.Rooms, 1)
	assert.Equal(t, int64(500), tourList.Rooms[0].ID)
	assert.Equal(t, room.CategoryTournament, tourList.Rooms[0].CategoryType)

	send(t, conn, "room-list", baseRequest{Token: "tok1"})
	var normalList roomListResponse
	require.NoError(t, json.Unmarshal(waitForEvent(t, conn, eventRoomList), &normalList))
	for _, info := range normalList.Rooms {
		assert.Equal(t, room.CategoryNormal, info.CategoryType)
	}
}

func TestSeatedGamerCannotInviteJoin(t *testing.T) {
	srv, ts := newTestServer(t)

	creator := dial(t, ts, 1)
	waitForEvent(t, creator, eventJoinWaitroom)
	send(t, creator, "create-room", createRoomRequest{Token: "tok1", CategoryID: 1})
	var roomA createRoomResponse
	require.NoError(t, json.Unmarshal(waitForEvent(t, creator, eventCreateRoom), &roomA))
	require.Equal(t, statusSuccess, roomA.Success)

	second := dial(t, ts, 2)
	waitForEvent(t, second, eventJoinWaitroom)
	send(t, second, "create-room", createRoomRequest{Token: "tok2", CategoryID: 1})
	var roomB createRoomResponse
	require.NoError(t, json.Unmarshal(waitForEvent(t, second, eventCreateRoom), &roomB))
	require.Equal(t, statusSuccess, roomB.Success)

	send(t, second, "invite-join-room", joinRoomRequest{Token: "tok2", RoomID: roomA.Room.ID})

	// The profile round trip guarantees the previous message was
	// dispatched before we inspect seating.
	send(t, second, "get-profile", baseRequest{Token: "tok2"})
	waitForEvent(t, second, eventGetProfile)

	rmA, ok := srv.deps.Rooms.Get(roomA.Room.ID)
	require.True(t, ok)
	assert.False(t, rmA.Seated(2), "a seated gamer must not convert into another room")
	rmB, ok := srv.deps.Rooms.Get(roomB.Room.ID)
	require.True(t, ok)
	assert.True(t, rmB.Seated(2))
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
