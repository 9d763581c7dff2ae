// Package server is the websocket transport: connection lifecycle,
// topic broadcast and the dispatch from inbound events into the room
// state machines.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/jewelpark/poker3/internal/auth"
	"github.com/jewelpark/poker3/internal/fanout"
	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/room"
)

const topicWaitroom = "waitroom"

func roomTopic(id int64) string { return fmt.Sprintf("room_%d", id) }

// CategoryStore is the persistence slice the transport reads directly.
type CategoryStore interface {
	LoadCategory(ctx context.Context, id int64) (room.Category, error)
	LoadCategories(ctx context.Context) ([]room.Category, error)
}

// TournamentStore gates entry into tournament rooms.
type TournamentStore interface {
	CanEnterTournament(ctx context.Context, id player.ID, tournamentID int64) (bool, error)
	LoadTournamentEntry(ctx context.Context, id player.ID, roomID int64) (int64, error)
}

// Deps bundles the server's collaborators.
type Deps struct {
	Validator   auth.Validator
	Players     *player.Registry
	Rooms       *room.Registry
	Categories  CategoryStore
	Tournaments TournamentStore
	Fanout      *fanout.Publisher
	Logger      *log.Logger
}

// Server accepts websocket clients and routes their events. It is the
// room package's Emitter: room broadcasts go out through the topic
// subscriptions kept on each connection.
type Server struct {
	deps     Deps
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu    sync.RWMutex
	conns map[*Connection]bool

	httpServer *http.Server
}

func New(deps Deps) *Server {
	return &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: deps.Logger.WithPrefix("server"),
		conns:  make(map[*Connection]bool),
	}
}

// SetRooms binds the room registry. The registry is built after the
// server because the server is its Emitter.
func (s *Server) SetRooms(rooms *room.Registry) {
	s.deps.Rooms = rooms
}

// Router builds the HTTP surface: the websocket endpoint plus a small
// read-only REST facade for monitoring.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Get("/rooms", s.handleRooms)
	return r
}

// Serve runs the HTTP listener until the context is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.Stop()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop closes the listener and every live connection.
func (s *Server) Stop() {
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		_ = c.close()
	}
	s.mu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.deps.Rooms.List())
}

// handleWebSocket authenticates the handshake, upgrades and starts the
// connection pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	token := r.URL.Query().Get("token")

	id, err := s.deps.Validator.Validate(r.Context(), username, token)
	if err != nil {
		s.logger.Debug("handshake rejected", "username", username, "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade failed", "error", err)
		return
	}

	c := newConnection(conn, s)
	c.setPlayer(id)

	s.mu.Lock()
	s.conns[c] = true
	total := len(s.conns)
	s.mu.Unlock()
	s.logger.Debug("client connected", "player", id, "total", total)

	c.start()
	go s.onConnect(c, token, remoteIP(r))

	go func() {
		<-c.ctx.Done()
		s.unregister(c)
	}()
}

func (s *Server) unregister(c *Connection) {
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	total := len(s.conns)
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = c.close()
	s.logger.Debug("client disconnected", "player", c.player(), "total", total)
	s.onDisconnect(c)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// connFor finds the live connection of a player.
func (s *Server) connFor(id player.ID) (*Connection, bool) {
	session, ok := s.deps.Players.Session(id)
	if !ok {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.conns {
		if c.id == session.ConnID {
			return c, true
		}
	}
	return nil, false
}

// broadcast sends an event to every connection subscribed to a topic.
func (s *Server) broadcast(topic, event string, payload any) {
	msg, err := NewMessage(event, payload)
	if err != nil {
		s.logger.Error("unencodable broadcast", "event", event, "err", err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.conns {
		if c.inTopic(topic) {
			_ = c.sendMessage(msg)
		}
	}
}

// ToRoom implements room.Emitter.
func (s *Server) ToRoom(roomID int64, event string, payload any) {
	s.broadcast(roomTopic(roomID), event, payload)
}

// ToLobby implements room.Emitter.
func (s *Server) ToLobby(event string, payload any) {
	s.broadcast(topicWaitroom, event, payload)
}

// ToPlayer implements room.Emitter.
func (s *Server) ToPlayer(id player.ID, event string, payload any) {
	if c, ok := s.connFor(id); ok {
		_ = c.sendEvent(event, payload)
	}
}

// BroadcastRanks pushes the refreshed leaderboard to every client.
func (s *Server) BroadcastRanks() {
	ranked := s.deps.Players.Ranked()
	views := make([]profileView, 0, len(ranked))
	for _, p := range ranked {
		views = append(views, profileViewOf(p, false))
	}
	s.ToAll(room.EventUpdateRank, playerListResponse{Players: views})
}

// ToAll implements room.Emitter. Global events are also mirrored to the
// cross-server bus.
func (s *Server) ToAll(event string, payload any) {
	msg, err := NewMessage(event, payload)
	if err != nil {
		s.logger.Error("unencodable broadcast", "event", event, "err", err)
		return
	}
	s.mu.RLock()
	for c := range s.conns {
		_ = c.sendMessage(msg)
	}
	s.mu.RUnlock()
	s.deps.Fanout.Publish(event, payload)
}
