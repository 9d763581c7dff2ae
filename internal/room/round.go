package room

import (
	"context"
	"sort"

	"github.com/jewelpark/poker3/internal/history"
	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/rules"
)

// AddPlayer seats a player, or refreshes their seat on a rejoin. A
// rejoin during an active round restores the Ready flag so settlement
// bookkeeping still counts the seat.
func (r *Room) AddPlayer(p player.Profile) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seat := r.seatOf(p.ID); seat >= 0 {
		status := NotReady
		if r.phase >= PhaseReady {
			status = Ready
		}
		r.seats[seat].Status = status
		r.seats[seat].IP = p.IP
		return r.stateLocked(p.ID), nil
	}

	seat := -1
	for i := range r.seats {
		if r.seats[i].Empty() {
			seat = i
			break
		}
	}
	if seat < 0 {
		return State{}, ErrRoomFull
	}

	r.seats[seat] = Seat{PlayerID: p.ID, IP: p.IP}
	for i := range r.seats {
		r.seats[i].Status = NotReady
	}
	r.dealerID = 0
	r.dealerLevel = 1

	if r.tournament != nil {
		r.players.Update(p.ID, func(pr *player.Profile) {
			pr.TournamentJewels = r.tournament.EntryMoney
		})
	}
	if r.phase == PhaseCreated {
		r.phase = PhaseJoined
	}
	return r.stateLocked(p.ID), nil
}

// SetReady marks a seat ready. When the third seat readies up the next
// round is dealt immediately.
func (r *Room) SetReady(ctx context.Context, id player.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseJoined {
		return ErrWrongPhase
	}
	seat := r.seatOf(id)
	if seat < 0 {
		return ErrNotSeated
	}
	r.seats[seat].Status = Ready
	r.emitter.ToRoom(r.id, EventSetReady, setReadyPayload{PlayerID: id, RoomID: r.id})

	for i := range r.seats {
		if r.seats[i].Empty() || r.seats[i].Status != Ready {
			return nil
		}
	}
	r.initNewRoundLocked(ctx)
	return nil
}

// initNewRoundLocked rotates the lead seat, deals a fresh hand set and
// opens the betting phase.
func (r *Room) initNewRoundLocked(ctx context.Context) {
	r.stopTimer()

	r.startSeat = (r.startSeat + 1) % 3
	players := r.playerIDs()

	r.dealerID = players[(r.startSeat+1)%3]
	r.dealerLevel = 1
	r.roundPoint = r.category.UnitJewel
	r.turnID = players[r.startSeat]
	r.turnIndex = 0
	r.turnCount = 0
	r.turnStarted = r.clock.Now()
	r.turnLimit = r.category.TimeLimit
	r.phase = PhaseReady
	r.last = lastPlay{}
	r.putID = 0
	r.round = nil
	r.settled = false
	r.putGuard.Store(false)

	r.dealLocked(ctx)

	expect := r.turnID
	r.armTimer(r.category.TimeLimit, func() { r.passBetTimeout(expect) })

	r.emitter.ToRoom(r.id, EventNewRound, newRoundPayload{Round: r.stateLocked(0)})
	for _, id := range players {
		r.emitter.ToPlayer(id, EventGetCards, getCardsPayload{Cards: r.holding(id), RoomID: r.id})
	}

	// Per-round item counters restart with the deal.
	for _, id := range players {
		r.players.Update(id, func(p *player.Profile) {
			for _, it := range p.Items {
				it.Used = 0
			}
		})
	}
	r.perTurnItems = nil
	r.perRoundItems = nil
}

// dealLocked builds the three hands. Queued take-card items go first in
// effect-class then owner-level order, then each player's earned grant
// rows in ascending level order, then the shuffled remainder.
func (r *Room) dealLocked(ctx context.Context) {
	deck := rules.NewDeck(r.rng)
	players := r.playerIDs()

	seatOfID := map[player.ID]int{}
	levels := map[player.ID]int{}
	for i, id := range players {
		seatOfID[id] = i
		if p, ok := r.players.Get(id); ok {
			levels[id] = p.Level
		}
	}

	queued := append([]itemRequest(nil), r.perRoundItems...)
	sort.SliceStable(queued, func(i, j int) bool {
		ci, cj := queued[i].effect.Class(), queued[j].effect.Class()
		if ci != cj {
			return ci < cj
		}
		return levels[queued[i].playerID] < levels[queued[j].playerID]
	})
	for _, req := range queued {
		take, ok := req.effect.(player.TakeCard)
		if !ok {
			continue
		}
		grant := take.Grant
		grant.Seat = seatOfID[req.playerID]
		if deck.Apply(grant) {
			r.consumeItemLocked(ctx, req.playerID, req.itemID)
			r.emitter.ToPlayer(req.playerID, EventUseItem, useItemPayload{
				Action: ItemUsed,
				Result: itemResult{RoomID: r.id, PlayerID: req.playerID, ItemID: req.itemID},
			})
		} else {
			r.emitter.ToPlayer(req.playerID, EventUseItem, useItemPayload{
				Action: ItemRejected,
				Result: itemResult{RoomID: r.id, PlayerID: req.playerID, ItemID: req.itemID},
			})
		}
	}

	byLevel := append([]player.ID(nil), players[:]...)
	sort.SliceStable(byLevel, func(i, j int) bool { return levels[byLevel[i]] < levels[byLevel[j]] })
	for _, id := range byLevel {
		grants, err := r.store.LoadInitCardGrants(ctx, id)
		if err != nil {
			r.logger.Error("load init card grants", "player", id, "err", err)
			continue
		}
		for _, g := range grants {
			g.Seat = seatOfID[id]
			deck.Apply(g)
		}
	}

	hands, hidden := deck.Finish()
	r.hands = make(map[player.ID][]cardState, 3)
	for i, id := range players {
		states := make([]cardState, len(hands[i]))
		for n, c := range hands[i] {
			states[n] = cardState{card: c}
		}
		r.hands[id] = states
	}
	r.hidden = hidden
}

// passBetTimeout fires when the bettor ran out the clock. The turn may
// have moved on while the callback was queued, so it re-validates.
func (r *Room) passBetTimeout(expect player.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseReady || r.turnID != expect {
		return
	}
	r.passBetLocked(context.Background(), expect)
}

// PassBet declines to raise. The round starts once everyone has had
// their say.
func (r *Room) PassBet(ctx context.Context, id player.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseReady {
		return ErrWrongPhase
	}
	if r.turnID != id {
		return ErrNotYourTurn
	}
	r.passBetLocked(ctx, id)
	return nil
}

func (r *Room) passBetLocked(ctx context.Context, id player.ID) {
	r.stopTimer()
	players := r.playerIDs()

	r.turnIndex++
	next := players[(r.startSeat+r.turnIndex)%3]

	if (r.turnIndex == 3 && r.dealerLevel == 1) ||
		(r.turnIndex == 3 && r.dealerLevel == MaxDealerLevel) ||
		(r.turnIndex == 3 && r.dealerID == next) ||
		r.turnIndex == 4 {
		r.startRoundLocked(ctx)
		return
	}

	r.turnID = next
	r.turnStarted = r.clock.Now()
	r.turnLimit = r.category.TimeLimit
	r.armTimer(r.category.TimeLimit, func() { r.passBetTimeout(next) })

	r.emitter.ToRoom(r.id, EventPassBet, passBetPayload{
		TurnID:     next,
		NextID:     next,
		TurnTime:   r.category.TimeLimit.Seconds(),
		RoundPoint: r.roundPoint,
		RoomID:     r.id,
	})
}

// LevelUp doubles the stake and takes the dealer position. The ladder
// tops out at MaxDealerLevel.
func (r *Room) LevelUp(ctx context.Context, id player.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseReady || r.turnIndex > 3 {
		return ErrWrongPhase
	}
	if r.turnID != id {
		return ErrNotYourTurn
	}
	if r.dealerLevel >= MaxDealerLevel {
		return ErrLevelCapped
	}
	r.stopTimer()
	players := r.playerIDs()

	r.dealerLevel *= 2
	r.roundPoint = r.category.UnitJewel * int64(r.dealerLevel)
	r.turnIndex++
	next := players[(r.startSeat+r.turnIndex)%3]
	r.dealerID = id
	r.turnID = next
	r.turnStarted = r.clock.Now()
	r.turnLimit = r.category.TimeLimit

	r.emitter.ToRoom(r.id, EventLevelUp, levelUpPayload{
		Level:      r.dealerLevel,
		TurnID:     id,
		NextID:     next,
		TurnTime:   r.category.TimeLimit.Seconds(),
		RoundPoint: r.roundPoint,
		TurnIndex:  r.turnIndex,
		RoomID:     r.id,
	})

	// Raising keeps the bet alive one seat longer than passing does:
	// a raise by the third seat reopens the question for the first.
	if (r.turnIndex == 3 && r.dealerLevel == 1) ||
		(r.turnIndex == 3 && r.dealerLevel == MaxDealerLevel) ||
		r.turnIndex == 4 {
		r.startRoundLocked(ctx)
		return nil
	}
	r.armTimer(r.category.TimeLimit, func() { r.passBetTimeout(next) })
	return nil
}

// startRoundLocked hands the hidden cards to the dealer and opens play.
func (r *Room) startRoundLocked(ctx context.Context) {
	r.stopTimer()

	for _, c := range r.hidden {
		r.hands[r.dealerID] = append(r.hands[r.dealerID], cardState{card: c})
	}

	r.startSeat = (r.startSeat + 1) % 3
	r.phase = PhasePlaying
	r.turnID = r.dealerID
	r.turnIndex = 0
	r.turnStarted = r.clock.Now()
	r.turnLimit = r.category.TimeLimit

	players := r.playerIDs()
	profiles := make([]history.ProfileSnapshot, 0, 3)
	hands := make([][]rules.Card, 0, 3)
	for _, id := range players {
		if p, ok := r.players.Get(id); ok {
			profiles = append(profiles, history.ProfileSnapshot{
				PlayerID: id,
				Username: p.Username,
				Level:    p.Level,
				Score:    p.Score,
				Jewels:   p.Jewels,
			})
		}
		hands = append(hands, r.holding(id))
	}
	r.round = history.NewRound(history.Entry{
		Action:       history.ActionRoundStart,
		RoomID:       r.id,
		CategoryType: r.category.Type,
		RoundLevel:   r.dealerLevel,
		RoundPoint:   r.roundPoint,
		Players:      players[:],
		TurnID:       r.dealerID,
		HiddenCards:  r.hidden,
		Profiles:     profiles,
		Hands:        hands,
	})

	dealer := r.dealerID
	r.armTimer(r.turnLimitFor(dealer), func() { r.passTurnTimeout(dealer) })

	r.emitter.ToRoom(r.id, EventStartRound, startRoundPayload{
		Round:       r.stateLocked(0),
		HiddenCards: r.hidden,
	})
}
