package room

import (
	"context"

	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/rules"
)

// UseItem resolves or queues an item. Instant items fire right away,
// per-turn items wait for the next turn advance, per-round items wait
// for the next deal. Queued items are only charged when they fire.
func (r *Room) UseItem(ctx context.Context, id player.ID, itemID int64, targetID player.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seatOf(id) < 0 {
		return ErrNotSeated
	}
	p, ok := r.players.Get(id)
	if !ok {
		return ErrNotSeated
	}
	item := p.Items[itemID]
	if !item.Usable() {
		return ErrItemUnusable
	}

	switch effect := item.Effect.(type) {
	case player.Binocular:
		r.useBinocularLocked(ctx, id, itemID, targetID)
	case player.Freeze:
		r.perTurnItems = append(r.perTurnItems, itemRequest{
			playerID: id, itemID: itemID, targetID: targetID, effect: effect,
		})
		r.emitter.ToPlayer(id, EventUseItem, useItemPayload{
			Action: ItemQueued,
			Result: itemResult{RoomID: r.id, PlayerID: id, ItemID: itemID},
		})
	case player.TakeCard:
		r.perRoundItems = append(r.perRoundItems, itemRequest{
			playerID: id, itemID: itemID, effect: effect,
		})
		r.emitter.ToPlayer(id, EventUseItem, useItemPayload{
			Action: ItemQueued,
			Result: itemResult{RoomID: r.id, PlayerID: id, ItemID: itemID},
		})
	default:
		return ErrItemUnusable
	}
	return nil
}

// useBinocularLocked reveals one random unplayed card from the target's
// hand to the user and charges the item.
func (r *Room) useBinocularLocked(ctx context.Context, id player.ID, itemID int64, targetID player.ID) {
	reject := func() {
		r.emitter.ToPlayer(id, EventUseItem, useItemPayload{
			Action: ItemRejected,
			Result: itemResult{RoomID: r.id, PlayerID: id, ItemID: itemID},
		})
	}
	if targetID == 0 || r.seatOf(targetID) < 0 {
		reject()
		return
	}
	cards := r.holding(targetID)
	if len(cards) == 0 {
		reject()
		return
	}
	peeked := cards[r.rng.IntN(len(cards))]

	r.consumeItemLocked(ctx, id, itemID)
	r.emitter.ToPlayer(id, EventUseItem, useItemPayload{
		Action: ItemUsed,
		Result: itemResult{RoomID: r.id, PlayerID: id, ItemID: itemID, Cards: []rules.Card{peeked}},
	})
}

// consumeItemLocked charges an item in the registry and persists the
// new stock count.
func (r *Room) consumeItemLocked(ctx context.Context, id player.ID, itemID int64) {
	count, ok := r.players.ConsumeItem(id, itemID)
	if !ok {
		r.logger.Warn("consuming item the player no longer holds", "player", id, "item", itemID)
		return
	}
	if err := r.store.PersistItemCount(ctx, id, itemID, count); err != nil {
		r.logger.Error("persist item count", "player", id, "item", itemID, "err", err)
	}
}
