package room

import (
	"context"

	"github.com/jewelpark/poker3/internal/history"
	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/rules"
)

// Turn advance modes. A pass that cycles back to the last putter clears
// the board; a normal advance after a put does not.
const (
	nextNormal = 0
	nextPass   = 1
)

// PutCards plays a card set. The guard rejects a second submission that
// arrives while the first is still being applied, so a double-send can
// never burn two turns.
func (r *Room) PutCards(ctx context.Context, id player.ID, cards []rules.Card) error {
	if !r.putGuard.CompareAndSwap(false, true) {
		return ErrRoomLocked
	}
	defer r.putGuard.Store(false)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhasePlaying {
		return ErrWrongPhase
	}
	if r.turnID != id {
		return ErrNotYourTurn
	}

	hand := r.hands[id]
	indexes := make([]int, 0, len(cards))
	for _, c := range cards {
		found := -1
		for i := range hand {
			if hand[i].card == c && !hand[i].played {
				already := false
				for _, n := range indexes {
					if n == i {
						already = true
						break
					}
				}
				if !already {
					found = i
					break
				}
			}
		}
		if found < 0 {
			return ErrNotYourCards
		}
		indexes = append(indexes, found)
	}

	combo := rules.Classify(cards)
	if combo.Kind == rules.Illegal {
		return ErrIllegalCards
	}
	if !combo.Beats(r.last.combo) {
		return ErrCannotBeat
	}

	isLast := r.holdingCount(id) == len(cards)
	for _, i := range indexes {
		hand[i].played = true
	}

	if combo.Kind.BombClass() {
		r.roundPoint *= 2
	}
	r.last = lastPlay{playerID: id, combo: combo}
	r.putID = id
	r.turnCount = 0

	if r.round != nil {
		r.round.Add(history.Entry{
			Action:   history.ActionPlayCards,
			PlayerID: id,
			Cards:    combo.Cards,
			CardKind: int(combo.Kind),
			Point:    r.roundPoint,
		})
	}

	if isLast {
		r.advanceTurnLocked(ctx, nextNormal, true)
		r.emitter.ToRoom(r.id, EventLastCard, lastCardPayload{
			TurnID:     id,
			Cards:      combo.Cards,
			CardKind:   int(combo.Kind),
			RoundPoint: r.roundPoint,
			Others:     r.othersHoldings(id),
			RoomID:     r.id,
		})
		winner := id
		r.armTimer(EndRoundDelay, func() { r.endRoundTimeout(winner) })
		return nil
	}

	next := r.advanceTurnLocked(ctx, nextNormal, false)
	r.emitter.ToRoom(r.id, EventPutCard, putCardPayload{
		Success:    1,
		TurnID:     id,
		Cards:      combo.Cards,
		CardKind:   int(combo.Kind),
		NextID:     next,
		TurnTime:   r.turnLimit.Seconds(),
		RoundPoint: r.roundPoint,
		RoomID:     r.id,
	})
	return nil
}

// PassTurn yields the turn without playing.
func (r *Room) PassTurn(ctx context.Context, id player.ID) error {
	r.mu.Lock()
	if r.phase != PhasePlaying {
		r.mu.Unlock()
		return ErrWrongPhase
	}
	if r.turnID != id {
		r.mu.Unlock()
		return ErrNotYourTurn
	}
	r.passLocked(ctx, id)
	return nil
}

// passTurnTimeout forces a pass when the clock runs out. Re-validates
// against the expected turn holder since the timer may fire late.
func (r *Room) passTurnTimeout(expect player.ID) {
	r.mu.Lock()
	if r.phase != PhasePlaying || r.turnID != expect {
		r.mu.Unlock()
		return
	}
	r.passLocked(context.Background(), expect)
}

// passLocked advances past id and either broadcasts the pass or, after
// PassTurnLimit consecutive passes, tears the abandoned room down.
// Unlocks r.mu.
func (r *Room) passLocked(ctx context.Context, id player.ID) {
	next := r.advanceTurnLocked(ctx, nextPass, false)

	if r.turnCount >= PassTurnLimit {
		r.logger.Warn("room abandoned, tearing down", "passes", r.turnCount)
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

	if r.round != nil {
		r.round.Add(history.Entry{Action: history.ActionPassTurn, PlayerID: id})
	}
	r.emitter.ToRoom(r.id, EventPassTurn, passTurnPayload{
		TurnID:   id,
		NextID:   next,
		TurnTime: r.turnLimit.Seconds(),
		IsCover:  next == r.putID,
		RoomID:   r.id,
	})
	r.mu.Unlock()
}

// advanceTurnLocked moves the turn pointer to the next seat, consuming
// any queued freeze items first. A freeze batch skips exactly one seat
// no matter how many freezes were stacked. When final is set no timer
// is armed; settlement follows.
func (r *Room) advanceTurnLocked(ctx context.Context, mode int, final bool) player.ID {
	r.stopTimer()

	players := r.playerIDs()
	homeSeat := r.seatOf(r.dealerID)

	if len(r.perTurnItems) > 0 {
		queued := r.perTurnItems
		r.perTurnItems = nil
		r.turnIndex++
		for _, req := range queued {
			r.consumeItemLocked(ctx, req.playerID, req.itemID)
			r.emitter.ToRoom(r.id, EventUseItem, useItemPayload{
				Action: ItemUsed,
				Result: itemResult{RoomID: r.id, PlayerID: req.playerID, ItemID: req.itemID},
			})
		}
		skippedTo := players[(homeSeat+r.turnIndex)%3]
		if r.last.playerID == skippedTo {
			r.last = lastPlay{}
		}
	}

	r.turnIndex++
	next := players[(homeSeat+r.turnIndex)%3]

	if mode == nextPass && next == r.putID {
		r.last = lastPlay{}
	}

	r.turnID = next
	r.turnStarted = r.clock.Now()
	r.turnCount++

	if !final {
		r.turnLimit = r.turnLimitFor(next)
		expect := next
		r.armTimer(r.turnLimit, func() { r.passTurnTimeout(expect) })
	}
	return next
}
