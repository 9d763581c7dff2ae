package room

import (
	"context"

	"github.com/jewelpark/poker3/internal/player"
)

// LeaveRequest asks to leave the table. Outside an active round the
// seat empties immediately; mid-round the seat is only flagged and the
// eviction happens at the next round boundary.
func (r *Room) LeaveRequest(ctx context.Context, id player.ID) error {
	r.mu.Lock()
	if r.seatOf(id) < 0 {
		r.mu.Unlock()
		return ErrNotSeated
	}

	immediate := false
	for i := range r.seats {
		if r.seats[i].Status == NotReady {
			immediate = true
			break
		}
	}
	r.leaveRequestLocked(id)

	if !immediate {
		r.emitter.ToRoom(r.id, EventLeaveRequest, seatEventPayload{UserID: id})
		r.mu.Unlock()
		return nil
	}

	r.players.Update(id, func(p *player.Profile) {
		p.RoomID = 0
		p.Status = player.InLobby
	})
	r.emitter.ToPlayer(id, EventLeaveRoom, nil)
	r.emitter.ToRoom(r.id, EventUpdateRoom, updateRoomPayload{
		Room:     removeRoomPayload{RoomID: r.id},
		Action:   "leave",
		PlayerID: id,
	})
	r.emitter.ToLobby(EventUpdateRoom, updateRoomPayload{Room: r.infoLocked()})

	empty := true
	for i := range r.seats {
		if !r.seats[i].Empty() {
			empty = false
			break
		}
	}
	if !empty {
		r.mu.Unlock()
		return nil
	}
	r.stopTimer()
	destroy := r.destroy
	r.mu.Unlock()
	r.emitter.ToLobby(EventRemoveRoom, removeRoomPayload{RoomID: r.id})
	if destroy != nil {
		destroy()
	}
	return nil
}

// leaveRequestLocked applies the leave to the seat array only. When any
// seat is still NotReady there is no round to protect, so the seat
// empties on the spot and everyone drops back to NotReady.
func (r *Room) leaveRequestLocked(id player.ID) {
	seat := r.seatOf(id)
	if seat < 0 {
		return
	}
	for i := range r.seats {
		if r.seats[i].Status == NotReady {
			r.seats[seat] = Seat{}
			for n := range r.seats {
				r.seats[n].Status = NotReady
			}
			return
		}
	}
	r.seats[seat].Status = LeaveRequested
}

// LeaveCancel withdraws a pending leave request.
func (r *Room) LeaveCancel(ctx context.Context, id player.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seat := r.seatOf(id)
	if seat < 0 {
		return ErrNotSeated
	}
	if r.seats[seat].Status != LeaveRequested {
		return ErrWrongPhase
	}
	if r.phase >= PhaseReady {
		r.seats[seat].Status = Ready
	} else {
		r.seats[seat].Status = NotReady
	}
	r.emitter.ToRoom(r.id, EventLeaveCancel, seatEventPayload{UserID: id})
	return nil
}

// removePlayerLocked empties a seat outright. Any removal aborts the
// auto-restart: the phase drops back to Joined and every seat must
// ready up again.
func (r *Room) removePlayerLocked(id player.ID, updateProfile bool) {
	seat := r.seatOf(id)
	if seat < 0 {
		return
	}
	r.seats[seat] = Seat{}
	for i := range r.seats {
		r.seats[i].Status = NotReady
	}
	r.phase = PhaseJoined
	if updateProfile {
		r.players.Update(id, func(p *player.Profile) {
			p.RoomID = 0
			p.Status = player.InLobby
		})
	}
}

// checkNewRound runs at the round boundary: it evicts leavers and
// players too broke for the stake, restarts the round when all three
// survivors are still ready, and tears the room down when it emptied.
// A tournament room cannot refill, so losing anyone ends it for all.
func (r *Room) checkNewRound() {
	ctx := context.Background()
	r.mu.Lock()

	ids := r.playerIDs()
	statuses := [3]SeatStatus{r.seats[0].Status, r.seats[1].Status, r.seats[2].Status}
	for i, id := range ids {
		if id == 0 {
			continue
		}
		p, ok := r.players.Get(id)
		if !ok {
			r.removePlayerLocked(id, false)
			continue
		}
		balance := p.Jewels
		if r.category.Type == CategoryTournament {
			balance = p.TournamentJewels
		}
		if statuses[i] == LeaveRequested || balance < r.category.UnitJewel*MinJewelMultiple {
			r.removePlayerLocked(id, true)
			r.emitter.ToPlayer(id, EventLeaveRoom, nil)
			r.emitter.ToRoom(r.id, EventUpdateRoom, updateRoomPayload{
				Room:     removeRoomPayload{RoomID: r.id},
				Action:   "leave",
				PlayerID: id,
			})
			r.emitter.ToLobby(EventUpdateRoom, updateRoomPayload{Room: r.infoLocked()})
		}
	}

	full := true
	empty := true
	allReady := true
	for i := range r.seats {
		if r.seats[i].Empty() {
			full = false
			allReady = false
		} else {
			empty = false
			if r.seats[i].Status != Ready {
				allReady = false
			}
		}
	}

	if full && allReady {
		r.initNewRoundLocked(ctx)
		r.mu.Unlock()
		return
	}

	if empty {
		r.stopTimer()
		destroy := r.destroy
		r.mu.Unlock()
		r.emitter.ToLobby(EventRemoveRoom, removeRoomPayload{RoomID: r.id})
		if destroy != nil {
			destroy()
		}
		return
	}

	if r.category.Type == CategoryTournament && !full {
		for _, id := range ids {
			if id == 0 || r.seatOf(id) < 0 {
				continue
			}
			p, ok := r.players.Get(id)
			if !ok {
				r.removePlayerLocked(id, false)
				continue
			}
			if r.tournament != nil {
				endAt := r.clock.Now()
				if err := r.store.UpdateTournamentRound(ctx, endAt, 2, p.TournamentJewels, r.tournament.ID, id); err != nil {
					r.logger.Error("update tournament round", "player", id, "err", err)
				}
				if err := r.store.UpdateTournamentProcess(ctx, p.TournamentRoundNumber, p.TournamentRoundID, r.tournament.ID, id); err != nil {
					r.logger.Error("update tournament process", "player", id, "err", err)
				}
			}
			r.removePlayerLocked(id, true)
			r.emitter.ToPlayer(id, EventLeaveRoom, nil)
		}
		r.stopTimer()
		destroy := r.destroy
		r.mu.Unlock()
		r.emitter.ToLobby(EventRemoveRoom, removeRoomPayload{RoomID: r.id})
		if destroy != nil {
			destroy()
		}
		return
	}

	r.mu.Unlock()
}

// sweep drops seated players whose registry binding moved elsewhere.
// Only rooms still waiting to start are touched; an active round keeps
// its seats for reconnection.
func (r *Room) sweep() {
	r.mu.Lock()
	if r.phase >= PhaseReady {
		r.mu.Unlock()
		return
	}
	for i := range r.seats {
		id := r.seats[i].PlayerID
		if id == 0 {
			continue
		}
		p, ok := r.players.Get(id)
		if !ok || p.RoomID != r.id {
			r.seats[i] = Seat{}
			for n := range r.seats {
				r.seats[n].Status = NotReady
			}
		}
	}

	empty := true
	for i := range r.seats {
		if !r.seats[i].Empty() {
			empty = false
			break
		}
	}
	if !empty {
		r.mu.Unlock()
		return
	}
	r.stopTimer()
	destroy := r.destroy
	r.mu.Unlock()
	r.emitter.ToLobby(EventRemoveRoom, removeRoomPayload{RoomID: r.id})
	if destroy != nil {
		destroy()
	}
}
