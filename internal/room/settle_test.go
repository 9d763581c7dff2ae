package room

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/rules"
)

func TestHomeWinShutoutSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPlaying(1, map[player.ID][]rules.Card{
		1: {cardOf(13, 0)},
		2: {cardOf(4, 0)},
		3: {cardOf(5, 0)},
	})

	require.NoError(t, f.room.PutCards(ctx, 1, []rules.Card{cardOf(13, 0)}))
	assert.Equal(t, 1, f.emitter.count(EventLastCard))
	ev, _ := f.emitter.last(EventLastCard)
	assert.Len(t, ev.payload.(lastCardPayload).Others, 2, "losers' hands are revealed")

	f.clock.Advance(EndRoundDelay).MustWait(ctx)

	// Both losers stuck on their final card: the 100 pot doubles to
	// 200, each loser pays it, the winner nets 400 minus the 10% fee.
	p1, _ := f.players.Get(1)
	p2, _ := f.players.Get(2)
	p3, _ := f.players.Get(3)
	assert.Equal(t, int64(1360), p1.Jewels)
	assert.Equal(t, int64(800), p2.Jewels)
	assert.Equal(t, int64(800), p3.Jewels)

	assert.Equal(t, int64(1360), f.store.balances[1])
	assert.Equal(t, int64(40), f.store.adminFee)
	assert.Len(t, f.store.playLogs, 3)
	assert.Equal(t, 1, f.emitter.count(EventEndRound))
	assert.Equal(t, 1, f.emitter.count(EventUpdatePlayerInfo))

	ev, _ = f.emitter.last(EventEndRound)
	states := ev.payload.(endRoundPayload).Players
	require.Len(t, states, 3)
	assert.Equal(t, int64(1), states[0].UserID, "home player listed first")
	require.NotNil(t, states[0].PointChange)
	assert.Equal(t, 1, states[0].PointChange.Direction)
	assert.Equal(t, int64(360), states[0].PointChange.FreePoint)

	st := f.room.StateFor(0)
	assert.Equal(t, PhaseRoundEnd, st.Phase)
	assert.Equal(t, 2, st.RoundCount)
	assert.Equal(t, int64(100), st.RoundPoint, "pot resets to the base stake")
}

func TestSettlementRunsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPlaying(1, map[player.ID][]rules.Card{
		1: {cardOf(13, 0)},
		2: {cardOf(4, 0), cardOf(6, 0)},
		3: {cardOf(5, 0), cardOf(7, 0)},
	})
	require.NoError(t, f.room.PutCards(ctx, 1, []rules.Card{cardOf(13, 0)}))

	f.clock.Advance(EndRoundDelay).MustWait(ctx)
	assert.Equal(t, 1, f.emitter.count(EventEndRound))

	// A stray second callback must not settle again.
	f.room.endRoundTimeout(1)
	assert.Equal(t, 1, f.emitter.count(EventEndRound))
	assert.Len(t, f.store.playLogs, 3)
}

func TestOpponentWinProportionalSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPlaying(1, map[player.ID][]rules.Card{
		1: {cardOf(12, 0), cardOf(3, 0)},
		2: {cardOf(13, 0)},
		3: {cardOf(4, 0), cardOf(5, 0)},
	})

	require.NoError(t, f.room.PassTurn(ctx, 1))
	require.NoError(t, f.room.PutCards(ctx, 2, []rules.Card{cardOf(13, 0)}))
	f.clock.Advance(EndRoundDelay).MustWait(ctx)

	// The losing home pays the pot once per opponent; each opponent
	// collects a 100 share less the floored fee.
	p1, _ := f.players.Get(1)
	p2, _ := f.players.Get(2)
	p3, _ := f.players.Get(3)
	assert.Equal(t, int64(800), p1.Jewels)
	assert.Equal(t, int64(1090), p2.Jewels)
	assert.Equal(t, int64(1090), p3.Jewels)
}

func TestSettlementScoresAndMissionBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.completions[1] = true
	f.setPlaying(1, map[player.ID][]rules.Card{
		1: {cardOf(13, 0)},
		2: {cardOf(4, 0), cardOf(6, 0)},
		3: {cardOf(5, 0), cardOf(7, 0)},
	})
	require.NoError(t, f.room.PutCards(ctx, 1, []rules.Card{cardOf(13, 0)}))
	f.clock.Advance(EndRoundDelay).MustWait(ctx)

	// Winner: 100/500 plus the level-1 mission bonus 25/500.
	p1, _ := f.players.Get(1)
	p2, _ := f.players.Get(2)
	assert.InDelta(t, 0.25, p1.Score, 1e-9)
	assert.InDelta(t, 0.04, p2.Score, 1e-9)

	// The completed mission is linked to the winner's play-log row.
	saved, ok := f.store.missionSaves[1]
	require.True(t, ok)
	assert.Positive(t, saved[0].HistoryID)
}

func TestBrokeLoserEvictedAtRoundBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.players.Update(3, func(p *player.Profile) { p.Jewels = 150 })
	f.setPlaying(1, map[player.ID][]rules.Card{
		1: {cardOf(13, 0)},
		2: {cardOf(4, 0)},
		3: {cardOf(5, 0)},
	})
	require.NoError(t, f.room.PutCards(ctx, 1, []rules.Card{cardOf(13, 0)}))
	f.clock.Advance(EndRoundDelay).MustWait(ctx)

	// Shutout pot is 200; player 3 could only cover 150 and is left
	// with nothing.
	p3, _ := f.players.Get(3)
	assert.Zero(t, p3.Jewels)

	f.clock.Advance(NewRoundDelay).MustWait(ctx)
	assert.False(t, f.room.Seated(3))
	assert.Equal(t, PhaseJoined, f.room.Phase(), "an eviction blocks the auto-restart")
	p3, _ = f.players.Get(3)
	assert.Zero(t, p3.RoomID)
	assert.Equal(t, 1, f.emitter.count(EventLeaveRoom))
}

func TestRoundAutoRestartsWhenAllStay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPlaying(1, map[player.ID][]rules.Card{
		1: {cardOf(13, 0)},
		2: {cardOf(4, 0), cardOf(6, 0)},
		3: {cardOf(5, 0), cardOf(7, 0)},
	})
	require.NoError(t, f.room.PutCards(ctx, 1, []rules.Card{cardOf(13, 0)}))
	f.clock.Advance(EndRoundDelay).MustWait(ctx)
	f.clock.Advance(NewRoundDelay).MustWait(ctx)

	assert.Equal(t, PhaseReady, f.room.Phase(), "solvent, willing players roll straight into the next round")
	assert.Equal(t, 1, f.emitter.count(EventNewRound))
}

func TestCustodyMismatchTearsRoomDown(t *testing.T) {
	f := newFixture(t)
	f.setPlaying(1, map[player.ID][]rules.Card{
		1: {cardOf(13, 0)},
		2: {cardOf(4, 0)},
		3: {cardOf(5, 0)},
	})

	// Settlement for a "winner" still holding cards is a programming
	// fault, not a game state.
	f.room.endRoundTimeout(1)
	_, alive := f.registry.Get(f.room.ID())
	assert.False(t, alive)
	assert.Zero(t, f.emitter.count(EventEndRound))
}

func TestLeaveRequestBeforeRoundEmptiesSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.room.LeaveRequest(ctx, 2))
	assert.False(t, f.room.Seated(2))
	p2, _ := f.players.Get(2)
	assert.Zero(t, p2.RoomID)

	require.NoError(t, f.room.LeaveRequest(ctx, 1))
	require.NoError(t, f.room.LeaveRequest(ctx, 3))
	_, alive := f.registry.Get(f.room.ID())
	assert.False(t, alive, "last leaver takes the room with them")
	assert.Equal(t, 1, f.emitter.count(EventRemoveRoom))
}

func TestLeaveRequestMidRoundOnlyFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPlaying(1, map[player.ID][]rules.Card{
		1: {cardOf(13, 0), cardOf(3, 0)},
		2: {cardOf(4, 0), cardOf(6, 0)},
		3: {cardOf(5, 0), cardOf(7, 0)},
	})

	require.NoError(t, f.room.LeaveRequest(ctx, 2))
	assert.True(t, f.room.Seated(2), "mid-round leave waits for the boundary")
	assert.Equal(t, 1, f.emitter.count(EventLeaveRequest))

	require.NoError(t, f.room.LeaveCancel(ctx, 2))
	st := f.room.StateFor(0)
	assert.Equal(t, Ready, st.SeatStatus[1])

	require.ErrorIs(t, f.room.LeaveCancel(ctx, 2), ErrWrongPhase, "nothing to cancel")
}

func TestLeaveRequestedSeatEvictedAtBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPlaying(1, map[player.ID][]rules.Card{
		1: {cardOf(13, 0)},
		2: {cardOf(4, 0), cardOf(6, 0)},
		3: {cardOf(5, 0), cardOf(7, 0)},
	})
	require.NoError(t, f.room.LeaveRequest(ctx, 2))
	require.NoError(t, f.room.PutCards(ctx, 1, []rules.Card{cardOf(13, 0)}))
	f.clock.Advance(EndRoundDelay).MustWait(ctx)
	f.clock.Advance(NewRoundDelay).MustWait(ctx)

	assert.False(t, f.room.Seated(2))
	assert.Equal(t, PhaseJoined, f.room.Phase())
}

func TestSweepDropsStaleSeats(t *testing.T) {
	f := newFixture(t)

	// Player 2's binding moved elsewhere; the waiting room lets go.
	f.players.Update(2, func(p *player.Profile) { p.RoomID = 999 })
	f.registry.Sweep()
	assert.False(t, f.room.Seated(2))
	assert.True(t, f.room.Seated(1))

	f.players.Update(1, func(p *player.Profile) { p.RoomID = 0 })
	f.players.Update(3, func(p *player.Profile) { p.RoomID = 0 })
	f.registry.Sweep()
	_, alive := f.registry.Get(f.room.ID())
	assert.False(t, alive)
}

func TestSweepLeavesActiveRoundsAlone(t *testing.T) {
	f := newFixture(t)
	f.setPlaying(1, map[player.ID][]rules.Card{
		1: {cardOf(13, 0)},
		2: {cardOf(4, 0)},
		3: {cardOf(5, 0)},
	})
	f.players.Update(2, func(p *player.Profile) { p.RoomID = 0 })
	f.registry.Sweep()
	assert.True(t, f.room.Seated(2), "reconnection window stays open mid-round")
}

func TestTournamentRoomEndsWhenAnyoneLeaves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.tournaments = []TournamentRound{{RoomID: 500, TournamentID: 7, EntryMoney: 3000, MaxRounds: 5, RoundMoney: 100}}
	rooms, err := f.registry.MaterializeTournaments(ctx, 7)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	tr := rooms[0]

	for id := player.ID(1); id <= 3; id++ {
		p, _ := f.players.Get(id)
		_, err := tr.AddPlayer(p)
		require.NoError(t, err)
		f.players.SetRoom(id, tr.ID(), player.Gamer)
	}
	p1, _ := f.players.Get(1)
	assert.Equal(t, int64(3000), p1.TournamentJewels, "entry stake granted on join")

	setPlaying(tr, 1, map[player.ID][]rules.Card{
		1: {cardOf(13, 0)},
		2: {cardOf(4, 0), cardOf(6, 0)},
		3: {cardOf(5, 0), cardOf(7, 0)},
	})
	require.NoError(t, tr.LeaveRequest(ctx, 2))
	require.NoError(t, tr.PutCards(ctx, 1, []rules.Card{cardOf(13, 0)}))
	f.clock.Advance(EndRoundDelay).MustWait(ctx)
	f.clock.Advance(NewRoundDelay).MustWait(ctx)

	// Tournament tables cannot refill, so the departure closes out the
	// remaining players' standings and removes the room.
	_, alive := f.registry.Get(tr.ID())
	assert.False(t, alive)
	assert.NotEmpty(t, f.store.tournamentOps)
}
