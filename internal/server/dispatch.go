package server

import (
	"encoding/json"
	"errors"

	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/room"
)

// dispatch routes one inbound message. Every handler revalidates the
// session token before touching game state; a stale token logs the
// client out.
func (s *Server) dispatch(c *Connection, msg *Message) {
	handler, ok := s.handlers()[msg.Event]
	if !ok {
		s.logger.Debug("unknown event", "event", msg.Event, "player", c.player())
		return
	}
	handler(c, msg.Data)
}

type handlerFunc func(c *Connection, data json.RawMessage)

func (s *Server) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"join-waitroom":          s.handleJoinWaitroom,
		"get-profile":            s.handleGetProfile,
		"room-list":              s.handleRoomList,
		"create-room":            s.handleCreateRoom,
		"join-room":              s.handleJoinRoom,
		"tournament-room-list":   s.handleTournamentRoomList,
		"join-tournament-room":   s.handleJoinTournamentRoom,
		"get-tournament-profile": s.handleTournamentProfile,
		"set-ready":              s.handleSetReady,
		"pass-bet":               s.handlePassBet,
		"level-up":               s.handleLevelUp,
		"get-cards":              s.handleGetCards,
		"pick-cards":             s.handlePickCards,
		"pass-turn":              s.handlePassTurn,
		"put-card":               s.handlePutCard,
		"leave-request":          s.handleLeaveRequest,
		"leave-cancel":           s.handleLeaveCancel,
		"use-item":               s.handleUseItem,
		"join-observer":          s.handleJoinObserver,
		"invite-user":            s.handleInviteUser,
		"invite-join-room":       s.handleInviteJoinRoom,
		"idle-players":           s.handleIdlePlayers,
		"player-list":            s.handlePlayerList,
		"player-info":            s.handlePlayerInfo,
	}
}

// authorize parses the request into dst (which must embed the token
// field) and checks the token against the player's session. On a stale
// token the client is logged out and disconnected.
func (s *Server) authorize(c *Connection, data json.RawMessage, dst any, token func() string) bool {
	if len(data) > 0 {
		if err := json.Unmarshal(data, dst); err != nil {
			s.logger.Debug("bad request payload", "player", c.player(), "err", err)
			return false
		}
	}
	if !s.deps.Players.ValidToken(c.player(), token()) {
		_ = c.sendEvent(eventLogout, statusResponse{Success: statusSuccess})
		_ = c.close()
		return false
	}
	return true
}

// roomOf resolves the caller's current room through the registry.
func (s *Server) roomOf(c *Connection) (*room.Room, player.Profile, bool) {
	p, ok := s.deps.Players.Get(c.player())
	if !ok || !p.InRoom() {
		return nil, p, false
	}
	rm, ok := s.deps.Rooms.Get(p.RoomID)
	return rm, p, ok
}

// onConnect restores a freshly authenticated connection: evict any
// older session for the same player, push the profile and player list,
// then re-enter the player's prior room if one survives.
func (s *Server) onConnect(c *Connection, token, ip string) {
	id := c.player()

	old, had := s.deps.Players.BindSession(id, player.Session{Token: token, ConnID: c.id, IP: ip})
	if had && old.ConnID != c.id {
		s.mu.RLock()
		for conn := range s.conns {
			if conn.id == old.ConnID {
				_ = conn.sendEvent(eventLogout, statusResponse{Success: statusSuccess})
				_ = conn.close()
				break
			}
		}
		s.mu.RUnlock()
	}

	profile, err := s.deps.Players.Load(c.ctx, id)
	if err != nil {
		s.logger.Error("profile load failed", "player", id, "err", err)
		_ = c.close()
		return
	}
	s.deps.Players.Update(id, func(p *player.Profile) { p.IP = ip })
	profile.IP = ip

	_ = c.sendEvent(eventGetProfile, profileResponse{Profile: profileViewOf(profile, true)})
	_ = c.sendEvent(eventPlayerList, playerListResponse{Players: s.playerViews()})
	s.ToAll(room.EventJoinPlayer, profileViewOf(profile, false))

	if rm, ok := s.deps.Rooms.Get(profile.RoomID); profile.InRoom() && ok {
		switch rm.Phase() {
		case room.PhaseJoined:
			s.seatPlayer(c, rm, profile, false, room.EventJoinRoom)
			return
		case room.PhaseReady, room.PhasePlaying, room.PhaseRoundEnd:
			s.seatPlayer(c, rm, profile, true, room.EventJoinRoom)
			return
		}
	}

	c.leaveAllTopics()
	c.joinTopic(topicWaitroom)
	_ = c.sendEvent(eventJoinWaitroom, statusResponse{Success: statusSuccess})
	s.deps.Players.SetRoom(id, 0, player.InLobby)
}

// seatPlayer runs the shared join/rejoin tail: seat through the room,
// bind the registry, move topics and emit the join events. The result
// goes back on event, which differs between the normal and tournament
// join flows.
func (s *Server) seatPlayer(c *Connection, rm *room.Room, profile player.Profile, rejoin bool, event string) {
	state, err := rm.AddPlayer(profile)
	if err != nil {
		_ = c.sendEvent(event, joinRoomResponse{Success: statusFailed, RoomID: rm.ID()})
		return
	}
	s.deps.Players.SetRoom(profile.ID, rm.ID(), player.Gamer)
	c.leaveAllTopics()
	c.joinTopic(roomTopic(rm.ID()))

	if rejoin {
		state.ContinueGame = true
		s.ToRoom(rm.ID(), room.EventLeaveCancel, seatEvent{UserID: profile.ID})
		_ = c.sendEvent(room.EventRejoinRoom, roomPayload{Room: state})
		_ = c.sendEvent(event, joinRoomResponse{Success: statusSuccess, Room: &state})
		return
	}

	s.ToLobby(room.EventUpdateRoom, updateRoomEvent{Room: rm.Info()})
	s.ToRoom(rm.ID(), room.EventUpdateRoom, updateRoomEvent{Room: state, Action: "add"})
	_ = c.sendEvent(event, joinRoomResponse{Success: statusSuccess, Room: &state})
}

// onDisconnect mirrors an explicit leave for seated players and drops
// observers outright. A connection superseded by a reconnect is left
// alone.
func (s *Server) onDisconnect(c *Connection) {
	id := c.player()
	if id == 0 {
		return
	}
	if !s.deps.Players.DropSession(id, c.id) {
		return
	}

	p, ok := s.deps.Players.Get(id)
	if !ok {
		return
	}
	if !p.InRoom() {
		s.deps.Players.Remove(id)
		return
	}

	rm, ok := s.deps.Rooms.Get(p.RoomID)
	if !ok {
		s.deps.Players.Remove(id)
		return
	}

	if rm.Seated(id) {
		s.deps.Players.Update(id, func(pr *player.Profile) { pr.Status = player.Disconnected })
		if err := rm.LeaveRequest(c.ctx, id); err != nil {
			s.logger.Debug("disconnect leave ignored", "player", id, "err", err)
		}
		return
	}

	// Observer.
	roomID := p.RoomID
	s.deps.Players.Remove(id)
	s.ToLobby(room.EventUpdateRoom, updateRoomEvent{Room: rm.Info()})
	s.ToRoom(roomID, room.EventUpdateRoom, updateRoomEvent{
		Room:      room.Info{ID: roomID},
		Observers: s.deps.Players.Observers(roomID),
		Action:    "observer",
	})
}

func (s *Server) playerViews() []profileView {
	profiles := s.deps.Players.All()
	views := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, profileViewOf(p, false))
	}
	return views
}

func (s *Server) handleJoinWaitroom(c *Connection, data json.RawMessage) {
	var req baseRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	c.leaveAllTopics()
	c.joinTopic(topicWaitroom)
	_ = c.sendEvent(eventJoinWaitroom, statusResponse{Success: statusSuccess})
}

func (s *Server) handleGetProfile(c *Connection, data json.RawMessage) {
	var req baseRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	if p, ok := s.deps.Players.Get(c.player()); ok {
		_ = c.sendEvent(eventGetProfile, profileResponse{Profile: profileViewOf(p, true)})
	}
}

func (s *Server) handleRoomList(c *Connection, data json.RawMessage) {
	var req baseRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	categories, err := s.deps.Categories.LoadCategories(c.ctx)
	if err != nil {
		s.logger.Error("category load failed", "err", err)
	}
	views := make([]categoryView, 0, len(categories))
	for _, cat := range categories {
		views = append(views, categoryViewOf(cat))
	}
	rooms := make([]room.Info, 0)
	for _, info := range s.deps.Rooms.List() {
		if info.CategoryType == room.CategoryNormal {
			rooms = append(rooms, info)
		}
	}
	_ = c.sendEvent(eventRoomList, roomListResponse{Rooms: rooms, Categories: views})
}

func (s *Server) handleCreateRoom(c *Connection, data json.RawMessage) {
	var req createRoomRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	profile, ok := s.deps.Players.Get(c.player())
	if !ok || profile.InRoom() {
		return
	}
	category, err := s.deps.Categories.LoadCategory(c.ctx, req.CategoryID)
	if err != nil {
		s.logger.Error("category load failed", "category", req.CategoryID, "err", err)
		return
	}
	if category.Type != room.CategoryNormal {
		return
	}
	minJewels := category.UnitJewel * room.MinJewelMultiple
	if profile.Jewels < minJewels {
		_ = c.sendEvent(eventCreateRoom, createRoomResponse{
			Success:      statusFailed,
			MinJewels:    minJewels,
			CategoryType: category.Type,
		})
		return
	}

	rm := s.deps.Rooms.Create(profile, category)
	s.deps.Players.SetRoom(profile.ID, rm.ID(), player.Gamer)
	c.leaveAllTopics()
	c.joinTopic(roomTopic(rm.ID()))

	info := rm.Info()
	_ = c.sendEvent(eventCreateRoom, createRoomResponse{Success: statusSuccess, Room: &info})
	s.ToLobby(room.EventAddRoom, addRoomEvent{Room: info})
}

func (s *Server) handleJoinRoom(c *Connection, data json.RawMessage) {
	var req joinRoomRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	profile, ok := s.deps.Players.Get(c.player())
	if !ok || profile.InRoom() {
		return
	}
	rm, ok := s.deps.Rooms.Get(req.RoomID)
	if !ok {
		return
	}
	info := rm.Info()
	if info.CategoryType != room.CategoryNormal && !rm.Seated(profile.ID) {
		return
	}
	if profile.Jewels < info.Point*room.MinJewelMultiple {
		_ = c.sendEvent(room.EventJoinRoom, joinRoomResponse{Success: statusFailed, RoomID: req.RoomID})
		return
	}
	s.seatPlayer(c, rm, profile, rm.Phase() >= room.PhaseReady, room.EventJoinRoom)
}

// handleTournamentRoomList sends the open tournament rooms.
func (s *Server) handleTournamentRoomList(c *Connection, data json.RawMessage) {
	var req baseRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	rooms := make([]room.Info, 0)
	for _, info := range s.deps.Rooms.List() {
		if info.CategoryType == room.CategoryTournament {
			rooms = append(rooms, info)
		}
	}
	_ = c.sendEvent(eventTournamentRoomList, roomListResponse{Rooms: rooms})
}

// handleJoinTournamentRoom seats an enrolled player at a tournament
// table. Entry requires an open round in the room's tournament.
func (s *Server) handleJoinTournamentRoom(c *Connection, data json.RawMessage) {
	var req joinRoomRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	profile, ok := s.deps.Players.Get(c.player())
	if !ok || profile.InRoom() {
		return
	}
	rm, ok := s.deps.Rooms.Get(req.RoomID)
	if !ok {
		return
	}
	tour, ok := rm.Tournament()
	if !ok {
		return
	}
	can, err := s.deps.Tournaments.CanEnterTournament(c.ctx, profile.ID, tour.ID)
	if err != nil {
		s.logger.Error("tournament entry check failed", "player", profile.ID, "tournament", tour.ID, "err", err)
		return
	}
	if !can {
		_ = c.sendEvent(eventJoinTournament, joinRoomResponse{Success: statusFailed, RoomID: req.RoomID})
		return
	}
	s.seatPlayer(c, rm, profile, rm.Phase() >= room.PhaseReady, eventJoinTournament)
}

// handleTournamentProfile refreshes the caller's tournament stake from
// the room's round and resends the profile.
func (s *Server) handleTournamentProfile(c *Connection, data json.RawMessage) {
	var req joinRoomRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	entry, err := s.deps.Tournaments.LoadTournamentEntry(c.ctx, c.player(), req.RoomID)
	if err == nil {
		s.deps.Players.Update(c.player(), func(p *player.Profile) { p.TournamentJewels = entry })
	}
	if p, ok := s.deps.Players.Get(c.player()); ok {
		_ = c.sendEvent(eventTournamentProfile, profileResponse{Profile: profileViewOf(p, true)})
	}
}

func (s *Server) handleSetReady(c *Connection, data json.RawMessage) {
	var req baseRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	rm, _, ok := s.roomOf(c)
	if !ok {
		return
	}
	if err := rm.SetReady(c.ctx, c.player()); err != nil {
		s.rejectAction(c, room.EventSetReady, err)
	}
}

func (s *Server) handlePassBet(c *Connection, data json.RawMessage) {
	var req baseRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	rm, _, ok := s.roomOf(c)
	if !ok {
		return
	}
	if err := rm.PassBet(c.ctx, c.player()); err != nil {
		s.rejectAction(c, room.EventPassBet, err)
	}
}

func (s *Server) handleLevelUp(c *Connection, data json.RawMessage) {
	var req baseRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	rm, _, ok := s.roomOf(c)
	if !ok {
		return
	}
	if err := rm.LevelUp(c.ctx, c.player()); err != nil {
		s.rejectAction(c, room.EventLevelUp, err)
	}
}

// handleGetCards resends the caller's unplayed hand.
func (s *Server) handleGetCards(c *Connection, data json.RawMessage) {
	var req baseRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	rm, _, ok := s.roomOf(c)
	if !ok || !rm.Seated(c.player()) {
		return
	}
	state := rm.StateFor(c.player())
	_ = c.sendEvent(room.EventGetCards, getCardsResponse{Cards: state.Cards, RoomID: rm.ID()})
}

// handlePickCards relays card-arrangement hints to the room. The server
// never trusts them; card custody stays authoritative in the room.
func (s *Server) handlePickCards(c *Connection, data json.RawMessage) {
	var req pickCardsRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	rm, _, ok := s.roomOf(c)
	if !ok || !rm.Seated(c.player()) {
		return
	}
	s.ToRoom(rm.ID(), room.EventPickCards, pickCardsEvent{UserID: c.player(), Cards: req.Cards})
}

func (s *Server) handlePassTurn(c *Connection, data json.RawMessage) {
	var req baseRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	rm, _, ok := s.roomOf(c)
	if !ok {
		return
	}
	if err := rm.PassTurn(c.ctx, c.player()); err != nil {
		s.rejectAction(c, room.EventPassTurn, err)
	}
}

func (s *Server) handlePutCard(c *Connection, data json.RawMessage) {
	var req putCardRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	rm, _, ok := s.roomOf(c)
	if !ok {
		return
	}
	if err := rm.PutCards(c.ctx, c.player(), req.Cards); err != nil {
		if errors.Is(err, room.ErrRoomLocked) {
			// Duplicate submit, drop silently.
			return
		}
		s.rejectAction(c, room.EventPutCard, err)
	}
}

func (s *Server) handleLeaveRequest(c *Connection, data json.RawMessage) {
	var req baseRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	rm, _, ok := s.roomOf(c)
	if !ok {
		return
	}
	if err := rm.LeaveRequest(c.ctx, c.player()); err != nil {
		s.rejectAction(c, room.EventLeaveRequest, err)
	}
}

func (s *Server) handleLeaveCancel(c *Connection, data json.RawMessage) {
	var req baseRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	rm, _, ok := s.roomOf(c)
	if !ok {
		return
	}
	if err := rm.LeaveCancel(c.ctx, c.player()); err != nil {
		s.rejectAction(c, room.EventLeaveCancel, err)
	}
}

func (s *Server) handleUseItem(c *Connection, data json.RawMessage) {
	var req useItemRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	rm, _, ok := s.roomOf(c)
	if !ok {
		return
	}
	if err := rm.UseItem(c.ctx, c.player(), req.ItemID, req.TargetID); err != nil {
		reject := useItemReject{Action: room.ItemRejected}
		reject.Result.ItemID = req.ItemID
		_ = c.sendEvent(room.EventUseItem, reject)
	}
}

func (s *Server) handleJoinObserver(c *Connection, data json.RawMessage) {
	var req joinRoomRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	profile, ok := s.deps.Players.Get(c.player())
	if !ok || profile.InRoom() {
		return
	}
	rm, ok := s.deps.Rooms.Get(req.RoomID)
	if !ok || rm.Seated(profile.ID) {
		return
	}
	info := rm.Info()
	if info.Players[0] == 0 && info.Players[1] == 0 && info.Players[2] == 0 {
		return
	}

	s.deps.Players.SetRoom(profile.ID, req.RoomID, player.Observer)
	c.leaveAllTopics()
	c.joinTopic(roomTopic(req.RoomID))

	state := rm.StateFor(0)
	observers := s.deps.Players.Observers(req.RoomID)
	state.Observers = observers

	s.ToLobby(room.EventUpdateRoom, updateRoomEvent{Room: rm.Info()})
	s.ToRoom(req.RoomID, room.EventUpdateRoom, updateRoomEvent{
		Room:      room.Info{ID: req.RoomID},
		Observers: observers,
		Action:    "observer",
	})
	_ = c.sendEvent(room.EventJoinObserver, roomPayload{Room: state})
}

func (s *Server) handleInviteUser(c *Connection, data json.RawMessage) {
	var req inviteRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	rm, _, ok := s.roomOf(c)
	if !ok {
		return
	}
	target, ok := s.deps.Players.Get(req.InviteID)
	if !ok || target.Status == player.Gamer {
		return
	}
	info := rm.Info()
	if target.Jewels < info.Point*room.MinJewelMultiple {
		return
	}

	event := room.EventInviteWaitroom
	if target.Status == player.Observer {
		event = room.EventInviteRoom
	}
	s.ToPlayer(req.InviteID, event, inviteEvent{
		InviteInfo: inviteInfo{Player: c.player(), RoomID: rm.ID(), Point: info.Point},
	})
}

// handleInviteJoinRoom moves an observer into a seat in another room.
func (s *Server) handleInviteJoinRoom(c *Connection, data json.RawMessage) {
	var req joinRoomRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	profile, ok := s.deps.Players.Get(c.player())
	if !ok || profile.Status != player.Observer {
		return
	}
	rm, ok := s.deps.Rooms.Get(req.RoomID)
	if !ok {
		return
	}
	info := rm.Info()
	if profile.Jewels < info.Point*room.MinJewelMultiple {
		_ = c.sendEvent(room.EventJoinRoom, joinRoomResponse{Success: statusFailed, RoomID: req.RoomID})
		return
	}

	oldRoomID := profile.RoomID
	s.seatPlayer(c, rm, profile, false, room.EventJoinRoom)

	if oldRoomID != 0 && oldRoomID != req.RoomID {
		s.ToRoom(oldRoomID, room.EventUpdateRoom, updateRoomEvent{
			Room:      room.Info{ID: oldRoomID},
			Observers: s.deps.Players.Observers(oldRoomID),
			Action:    "observer",
		})
	}
}

func (s *Server) handleIdlePlayers(c *Connection, data json.RawMessage) {
	var req baseRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	_ = c.sendEvent(room.EventIdlePlayers, idlePlayersResponse{Players: s.deps.Players.Invitable()})
}

func (s *Server) handlePlayerList(c *Connection, data json.RawMessage) {
	var req baseRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	_ = c.sendEvent(eventPlayerList, playerListResponse{Players: s.playerViews()})
}

func (s *Server) handlePlayerInfo(c *Connection, data json.RawMessage) {
	var req playerInfoRequest
	if !s.authorize(c, data, &req, func() string { return req.Token }) {
		return
	}
	if p, ok := s.deps.Players.Get(req.PlayerID); ok {
		_ = c.sendEvent(eventPlayerInfo, playerInfoResponse{Player: profileViewOf(p, false)})
	}
}

// rejectAction turns an expected rejection sentinel into a failure
// event on the same name; anything else is a server-side fault.
func (s *Server) rejectAction(c *Connection, event string, err error) {
	switch {
	case errors.Is(err, room.ErrNotYourTurn),
		errors.Is(err, room.ErrWrongPhase),
		errors.Is(err, room.ErrNotYourCards),
		errors.Is(err, room.ErrIllegalCards),
		errors.Is(err, room.ErrCannotBeat),
		errors.Is(err, room.ErrNotSeated),
		errors.Is(err, room.ErrLevelCapped),
		errors.Is(err, room.ErrRoomFull):
		_ = c.sendEvent(event, statusResponse{Success: statusFailed})
	default:
		s.logger.Error("action failed", "event", event, "player", c.player(), "err", err)
	}
}
