package player

import (
	"context"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
)

// Store is the persistence the registry fetches through. Implemented by
// internal/store; tests use a memory double.
type Store interface {
	LoadPlayerProfile(ctx context.Context, id ID) (Profile, error)
	LoadMissions(ctx context.Context, id ID, level int) ([MissionsPerLevel]Mission, bool, error)
	CreateMissions(ctx context.Context, id ID, level int) ([MissionsPerLevel]Mission, error)
	LoadItems(ctx context.Context, id ID) ([]*Item, error)
}

// Registry is the mutex-guarded player map. Profiles are only reachable
// through Get (copy) and Update (closure under the lock), which keeps
// concurrent rooms from racing on jewel balances.
type Registry struct {
	mu       sync.RWMutex
	profiles map[ID]*Profile
	sessions map[ID]*Session

	store  Store
	logger *log.Logger
}

func NewRegistry(store Store, logger *log.Logger) *Registry {
	return &Registry{
		profiles: make(map[ID]*Profile),
		sessions: make(map[ID]*Session),
		store:    store,
		logger:   logger.WithPrefix("players"),
	}
}

// Load fetches a player through the store, merging onto any cached
// profile so room binding survives a reconnect. Missions for the
// player's level are created when absent.
func (r *Registry) Load(ctx context.Context, id ID) (Profile, error) {
	fresh, err := r.store.LoadPlayerProfile(ctx, id)
	if err != nil {
		return Profile{}, err
	}

	missions, ok, err := r.store.LoadMissions(ctx, id, fresh.Level)
	if err != nil {
		return Profile{}, err
	}
	if !ok {
		missions, err = r.store.CreateMissions(ctx, id, fresh.Level)
		if err != nil {
			return Profile{}, err
		}
	}
	items, err := r.store.LoadItems(ctx, id)
	if err != nil {
		return Profile{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, known := r.profiles[id]
	if !known {
		p = &Profile{ID: id, Status: InLobby}
		r.profiles[id] = p
	}
	p.Username = fresh.Username
	p.Avatar = fresh.Avatar
	p.Gender = fresh.Gender
	p.Coin = fresh.Coin
	p.Jewels = fresh.Jewels
	p.Score = fresh.Score
	p.Level = fresh.Level
	p.IP = fresh.IP
	p.TournamentJewels = fresh.TournamentJewels
	p.TournamentRoundID = fresh.TournamentRoundID
	p.TournamentRoundNumber = fresh.TournamentRoundNumber
	p.Missions = missions
	if p.Items == nil {
		p.Items = make(map[int64]*Item, len(items))
		for _, it := range items {
			p.Items[it.ID] = it
		}
	}
	return snapshot(p), nil
}

// snapshot copies a profile, including its item map, so nothing the
// caller holds aliases state guarded by the registry lock.
func snapshot(p *Profile) Profile {
	out := *p
	if p.Items != nil {
		out.Items = make(map[int64]*Item, len(p.Items))
		for id, it := range p.Items {
			c := *it
			out.Items[id] = &c
		}
	}
	return out
}

// Get returns a copy of the profile.
func (r *Registry) Get(id ID) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, false
	}
	return snapshot(p), true
}

// All returns copies of every known profile.
func (r *Registry) All() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, snapshot(p))
	}
	return out
}

// Ranked orders known players by score and refreshes their rank field.
func (r *Registry) Ranked() []Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return list[i].ID < list[j].ID
	})
	out := make([]Profile, 0, len(list))
	for i, p := range list {
		p.Rank = i + 1
		out = append(out, snapshot(p))
	}
	return out
}

// Remove forgets a player entirely. Used when a player with no room
// binding disconnects.
func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.profiles, id)
	delete(r.sessions, id)
}

// Update runs fn on the live profile under the registry lock. It
// reports false for unknown players without calling fn.
func (r *Registry) Update(id ID, fn func(*Profile)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

// SetRoom binds a player to a room (or the lobby for roomID 0).
func (r *Registry) SetRoom(id ID, roomID int64, status Status) {
	r.Update(id, func(p *Profile) {
		p.RoomID = roomID
		p.Status = status
	})
}

// ClearRoom drops every player bound to the room back to the lobby.
func (r *Registry) ClearRoom(roomID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.profiles {
		if p.RoomID == roomID {
			p.RoomID = 0
			p.Status = InLobby
		}
	}
}

// Observers lists players watching a room.
func (r *Registry) Observers(roomID int64) []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []ID
	for id, p := range r.profiles {
		if p.RoomID == roomID && p.Status == Observer {
			ids = append(ids, id)
		}
	}
	return ids
}

// Invitable lists players free to receive a game invitation.
func (r *Registry) Invitable() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []ID
	for id, p := range r.profiles {
		if p.Status != Gamer && p.Status != Disconnected {
			ids = append(ids, id)
		}
	}
	return ids
}

// BindSession records the transport identity for a player, returning
// the session it replaced so the caller can evict the old connection.
func (r *Registry) BindSession(id ID, s Session) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, had := r.sessions[id]
	r.sessions[id] = &s
	if had {
		return *old, true
	}
	return Session{}, false
}

// Session returns the current session for a player.
func (r *Registry) Session(id ID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// DropSession removes the session iff it still belongs to connID.
// A reconnect that already rebound the player keeps its new session.
func (r *Registry) DropSession(id ID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.ConnID != connID {
		return false
	}
	delete(r.sessions, id)
	return true
}

// ValidToken reports whether the token matches the player's session.
func (r *Registry) ValidToken(id ID, token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return ok && s.Token == token
}

// ConsumeItem decrements an owned item after a successful use. It
// returns the remaining count, and false when the player does not hold
// the item.
func (r *Registry) ConsumeItem(id ID, itemID int64) (int, bool) {
	count, consumed := 0, false
	r.Update(id, func(p *Profile) {
		it, ok := p.Items[itemID]
		if !ok || it.Count <= 0 {
			return
		}
		it.Count--
		it.Used++
		count = it.Count
		consumed = true
	})
	return count, consumed
}
