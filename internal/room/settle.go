package room

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jewelpark/poker3/internal/history"
	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/rules"
)

const (
	scoreNormalizer = 500.0
	missionBonusDiv = 10.0
)

// settlementSeat is one player's working copy during settlement.
type settlementSeat struct {
	id      player.ID
	profile player.Profile
	change  history.PointChange
	fee     int64
	score   float64
	winType int
	team    int
}

func (s *settlementSeat) jewels(tournament bool) int64 {
	if tournament {
		return s.profile.TournamentJewels
	}
	return s.profile.Jewels
}

func (s *settlementSeat) addJewels(tournament bool, delta int64) {
	if tournament {
		s.profile.TournamentJewels += delta
	} else {
		s.profile.Jewels += delta
	}
}

// endRoundTimeout settles the round after the last-card display delay.
// The settled flag makes settlement exactly-once even if a stale timer
// fires after a concurrent teardown already ran it.
func (r *Room) endRoundTimeout(winner player.ID) {
	r.mu.Lock()
	if r.settled || r.phase != PhasePlaying {
		r.mu.Unlock()
		return
	}
	r.settled = true

	if r.holdingCount(winner) != 0 {
		r.logger.Error("card custody mismatch at settlement", "winner", winner, "held", r.holdingCount(winner))
		r.stopTimer()
		r.emitter.ToRoom(r.id, EventLeaveRoom, nil)
		r.emitter.ToLobby(EventRemoveRoom, removeRoomPayload{RoomID: r.id})
		destroy := r.destroy
		r.mu.Unlock()
		if destroy != nil {
			destroy()
		}
		return
	}

	r.settleLocked(context.Background(), winner)
	r.mu.Unlock()
}

// settleLocked applies the full round settlement: shutout doubling,
// capped jewel transfers, fees, mission checks, score and level updates,
// persistence and the next-round timer.
func (r *Room) settleLocked(ctx context.Context, winner player.ID) {
	isTournament := r.category.Type == CategoryTournament
	isHomeWin := winner == r.dealerID
	players := r.playerIDs()

	// A shutout, either way, doubles the pot: both losers stuck on
	// their first discard or never got one in at all.
	counts := make([]int, 0, 2)
	for _, id := range players {
		if id != winner {
			counts = append(counts, r.holdingCount(id))
		}
	}
	if len(counts) == 2 {
		if (counts[0] == 1 && counts[1] == 1) || (counts[0] == 17 && counts[1] == 17) {
			r.roundPoint *= 2
		}
	}

	// Order seats home-first, then the two opponents in seat rotation.
	homeSeat := r.seatOf(r.dealerID)
	order := [3]player.ID{players[homeSeat], players[(homeSeat+1)%3], players[(homeSeat+2)%3]}
	seats := [3]*settlementSeat{}
	for i, id := range order {
		p, ok := r.players.Get(id)
		if !ok {
			r.logger.Error("settlement with unknown player", "player", id)
			return
		}
		seats[i] = &settlementSeat{id: id, profile: p, team: 2}
	}
	home, other1, other2 := seats[0], seats[1], seats[2]
	home.team = 1

	feeRatio := float64(r.category.Fee) / float64(r.category.UnitJewel)

	if isHomeWin {
		limit := home.jewels(isTournament)
		if limit > r.roundPoint {
			limit = r.roundPoint
		}
		var freeTotal int64
		for _, loser := range []*settlementSeat{other1, other2} {
			pay := limit
			if have := loser.jewels(isTournament); have < pay {
				pay = have
				r.leaveRequestLocked(loser.id)
				if isTournament {
					r.leaveRequestLocked(home.id)
					if loser == other1 {
						r.leaveRequestLocked(other2.id)
					} else {
						r.leaveRequestLocked(other1.id)
					}
				}
			}
			freeTotal += pay
			loser.change = history.PointChange{Direction: -1, FreePoint: pay}
			loser.addJewels(isTournament, -pay)
		}

		fee := int64(math.Round(float64(freeTotal) * feeRatio))
		home.fee = fee
		home.addJewels(isTournament, freeTotal-fee)
		home.change = history.PointChange{Direction: 1, FreePoint: freeTotal - fee}
		home.winType = 1

		home.score = r.winnerScore()
		other1.score = r.loserScore()
		other2.score = r.loserScore()
		r.applyMissionBonus(ctx, home)
	} else {
		limit1 := min64(other1.jewels(isTournament), r.roundPoint)
		limit2 := min64(other2.jewels(isTournament), r.roundPoint)
		limit := limit1 + limit2

		freeTotal := limit
		if have := home.jewels(isTournament); have < limit {
			freeTotal = have
			r.leaveRequestLocked(home.id)
			if isTournament {
				r.leaveRequestLocked(other1.id)
				r.leaveRequestLocked(other2.id)
			}
		}
		home.change = history.PointChange{Direction: -1, FreePoint: freeTotal}
		home.addJewels(isTournament, -freeTotal)

		var share1 int64
		if limit > 0 {
			share1 = int64(math.Floor(float64(freeTotal) / float64(limit) * float64(limit1)))
		}
		share2 := freeTotal - share1
		fee1 := int64(math.Floor(float64(share1) * feeRatio))
		fee2 := int64(math.Floor(float64(share2) * feeRatio))

		other1.fee = fee1
		other1.addJewels(isTournament, share1-fee1)
		other1.change = history.PointChange{Direction: 1, FreePoint: share1 - fee1}
		other1.winType = 1

		other2.fee = fee2
		other2.addJewels(isTournament, share2-fee2)
		other2.change = history.PointChange{Direction: 1, FreePoint: share2 - fee2}
		other2.winType = 1

		home.score = r.loserScore()
		other1.score = r.winnerScore()
		other2.score = r.winnerScore()
		r.applyMissionBonus(ctx, other1)
		r.applyMissionBonus(ctx, other2)
	}

	for _, s := range seats {
		s.profile.Score += s.score
		level := int(math.Floor(math.Sqrt(s.profile.Score) + 1))
		if level > s.profile.Level {
			missions, err := r.store.CreateMissions(ctx, s.id, level)
			if err != nil {
				r.logger.Error("create missions on level up", "player", s.id, "err", err)
			} else {
				s.profile.Missions = missions
			}
		}
		s.profile.Level = level
	}

	states := make([]PlayerState, 0, 3)
	for _, s := range seats {
		states = append(states, PlayerState{
			UserID:           s.id,
			Jewels:           s.profile.Jewels,
			Coin:             s.profile.Coin,
			TournamentJewels: s.profile.TournamentJewels,
			Level:            s.profile.Level,
		})
	}
	r.emitter.ToAll(EventUpdatePlayerInfo, endRoundPayload{Players: states})

	roomStates := make([]PlayerState, 0, 3)
	for i, s := range seats {
		st := states[i]
		change := s.change
		st.PointChange = &change
		roomStates = append(roomStates, st)
	}
	r.emitter.ToRoom(r.id, EventEndRound, endRoundPayload{Players: roomStates, RoomID: r.id})

	for _, s := range seats {
		seat := s
		r.players.Update(seat.id, func(p *player.Profile) {
			p.Jewels = seat.profile.Jewels
			p.TournamentJewels = seat.profile.TournamentJewels
			p.Score = seat.profile.Score
			p.Level = seat.profile.Level
			p.Missions = seat.profile.Missions
		})
		if err := r.store.PersistPlayerBalances(ctx, seat.id, seat.profile.Jewels,
			seat.profile.TournamentJewels, seat.profile.Score, seat.profile.Level); err != nil {
			r.logger.Error("persist balances", "player", seat.id, "err", err)
		}
	}

	finishedAt := r.clock.Now()
	if r.round != nil {
		jewelStates := make([]history.JewelState, 0, 3)
		for _, s := range seats {
			jewelStates = append(jewelStates, history.JewelState{
				PlayerID:         s.id,
				Change:           s.change,
				Jewels:           s.profile.Jewels,
				TournamentJewels: s.profile.TournamentJewels,
			})
		}
		r.round.Add(history.Entry{
			Action:      history.ActionRoundEnd,
			FinishedAt:  finishedAt,
			JewelStates: jewelStates,
		})
	}

	historyID := ""
	if r.round != nil {
		blob, err := r.round.Blob()
		if err != nil {
			r.logger.Error("encode round history", "err", err)
		} else if historyID, err = r.store.PersistRoundHistory(ctx, blob); err != nil {
			r.logger.Error("persist round history", "err", err)
			historyID = ""
		}
	}
	r.round = nil

	var totalFee int64
	for _, s := range seats {
		totalFee += s.fee
	}

	grp, gctx := errgroup.WithContext(ctx)
	for _, s := range seats {
		seat := s
		others := otherTwo(order, seat.id)
		grp.Go(func() error {
			return r.persistPlayLog(gctx, historyID, seat, others, finishedAt, isTournament)
		})
	}
	if err := grp.Wait(); err != nil {
		r.logger.Error("persist play logs", "err", err)
	}

	if r.category.Type == CategoryNormal && totalFee != 0 {
		if err := r.store.UpdateAdminJewels(ctx, totalFee); err != nil {
			r.logger.Error("credit admin fee", "err", err)
		}
	}

	r.roundCount++
	r.phase = PhaseRoundEnd
	r.dealerLevel = 1
	r.roundPoint = r.category.UnitJewel

	if isTournament && r.tournament != nil && r.roundCount > r.tournament.MaxRounds {
		for _, id := range players {
			r.leaveRequestLocked(id)
		}
	}

	r.armTimer(NewRoundDelay, r.checkNewRound)
}

// winnerScore and loserScore are normalized off the base stake, not the
// doubled round pot.
func (r *Room) winnerScore() float64 {
	return float64(r.category.UnitJewel) / scoreNormalizer
}

func (r *Room) loserScore() float64 {
	return 0.2 * float64(r.category.UnitJewel) / scoreNormalizer
}

// applyMissionBonus checks a winner's missions against the cards they
// were dealt and credits the bonus to their own score.
func (r *Room) applyMissionBonus(ctx context.Context, s *settlementSeat) {
	cards := make([]rules.Card, 0, len(r.hands[s.id]))
	for _, cs := range r.hands[s.id] {
		cards = append(cards, cs.card)
	}
	missions, completed, err := r.store.CheckMissionComplete(ctx, cards, s.id, s.profile.Level, r.id, s.profile.Missions)
	if err != nil {
		r.logger.Error("mission check", "player", s.id, "err", err)
		return
	}
	s.profile.Missions = missions
	if completed {
		bonus := 0.5 * float64(s.profile.Level) * float64(s.profile.Level) * scoreNormalizer / missionBonusDiv
		s.score += bonus / scoreNormalizer
	}
}

// persistPlayLog writes one player's settlement row, their consumed-item
// rows and any newly completed missions linked to that row.
func (r *Room) persistPlayLog(ctx context.Context, historyID string, s *settlementSeat,
	others [2]player.ID, finishedAt time.Time, isTournament bool) error {

	row := PlayLog{
		HistoryID:        historyID,
		PlayerID:         s.id,
		RoomID:           r.id,
		CategoryType:     r.category.Type,
		Team:             s.team,
		WinType:          s.winType,
		RoundLevel:       r.dealerLevel,
		RoundNumber:      r.roundCount,
		RoundPoint:       r.category.UnitJewel,
		JewelDelta:       int64(s.change.Direction) * s.change.FreePoint,
		FreeFee:          s.fee,
		Score:            s.score,
		PlayerLevel:      s.profile.Level,
		OtherPlayers:     others,
		FinishedAt:       finishedAt,
		TournamentJewels: isTournament,
	}
	logID, err := r.store.PersistPlayLog(ctx, row)
	if err != nil {
		return err
	}

	var itemRows []ItemLog
	if p, ok := r.players.Get(s.id); ok {
		for itemID, item := range p.Items {
			if item.Used > 0 {
				itemRows = append(itemRows, ItemLog{ItemID: itemID, PlayLogID: logID})
			}
		}
	}
	if len(itemRows) > 0 {
		if err := r.store.PersistItemLog(ctx, itemRows); err != nil {
			return err
		}
	}

	completed := false
	missions := s.profile.Missions
	for i := range missions {
		if missions[i].HistoryID == player.MissionCompleted {
			missions[i].HistoryID = logID
			completed = true
		}
	}
	if completed {
		r.players.Update(s.id, func(p *player.Profile) { p.Missions = missions })
		return r.store.UpdateMissions(ctx, s.id, s.profile.Level, missions)
	}
	return nil
}

func otherTwo(order [3]player.ID, id player.ID) [2]player.ID {
	var out [2]player.ID
	n := 0
	for _, other := range order {
		if other != id && n < 2 {
			out[n] = other
			n++
		}
	}
	return out
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
