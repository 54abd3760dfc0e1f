// Package server holds the authoritative replication state: connected
// players, the canonical world and authority assignment.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rocketsync/rocketsync/internal/authority"
	"github.com/rocketsync/rocketsync/internal/config"
	"github.com/rocketsync/rocketsync/internal/dispatcher"
	"github.com/rocketsync/rocketsync/internal/transport"
	"github.com/rocketsync/rocketsync/internal/world"
	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rocketsync/rocketsync/pkg/protocol"
)

// Join rejection reasons sent to clients.
const (
	ReasonServerFull      = "server full"
	ReasonBadPassword     = "incorrect password"
	ReasonNameInUse       = "name already in use"
	ReasonInvalidName     = "invalid name"
	ReasonVersionMismatch = "protocol version mismatch"
	ReasonBlocked         = "blocked"
	ReasonShutdown        = "server shutting down"
)

// ServerEpoch tags the rocket and part ids allocated by the server.
const ServerEpoch uint8 = 1

const (
	maxNameLength = 32
	storeTimeout  = 10 * time.Second
)

// Peer is the outbound side of a player connection.
type Peer interface {
	Send(data []byte) bool
	Close(reason string) error
	RTT() time.Duration
	SessionID() uuid.UUID
	RemoteAddr() string
}

// Store persists worlds and sessions. Nil disables persistence.
type Store interface {
	SaveWorld(ctx context.Context, w *core.World) error
	RecordSession(ctx context.Context, s *core.Session) error
}

type player struct {
	id         int32
	name       string
	peer       Peer
	session    core.Session
	controlled int32
	authority  []int32
}

// Options wires a ServerState.
type Options struct {
	Config config.ServerConfig
	// World is the canonical world, usually restored from storage. Nil starts empty.
	World          *world.World
	Store          Store
	Logger         *slog.Logger
	DispatchLogger dispatcher.Logger
}

// ServerState owns every piece of mutable server state. A single mutex
// serializes packet handling, joins, leaves, reassignment and ticks.
type ServerState struct {
	mu      sync.Mutex
	cfg     config.ServerConfig
	world   *world.World
	players map[int32]*player
	nextID  int32
	pins    map[int32]int32

	dispatcher *dispatcher.Dispatcher
	store      Store
	logger     *slog.Logger
	metrics    *metrics

	packetsIn        atomic.Uint64
	packetsOut       atomic.Uint64
	packetsRejected  atomic.Uint64
	authorityChanges atomic.Uint64

	lastTick     time.Time
	lastTimeSync time.Time
	lastResync   time.Time
	lastSave     time.Time
}

// New creates the server state and registers the packet handlers.
func New(opts Options) (*ServerState, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := opts.World
	if w == nil {
		w = world.New(opts.Config.Difficulty, ServerEpoch)
	}
	dl := opts.DispatchLogger
	if dl == nil {
		dl = slogDispatchLogger{logger}
	}
	d, err := dispatcher.New(dl)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	s := &ServerState{
		cfg:        opts.Config,
		world:      w,
		players:    make(map[int32]*player),
		nextID:     1,
		pins:       make(map[int32]int32),
		dispatcher: d,
		store:      opts.Store,
		logger:     logger,
		metrics:    m,
	}
	s.registerHandlers()
	return s, nil
}

// World returns the canonical world.
func (s *ServerState) World() *world.World { return s.world }

// Handler returns the websocket endpoint.
func (s *ServerState) Handler() http.Handler {
	return transport.NewListener(s.connect, transport.Options{
		PingInterval: s.cfg.PingInterval,
		RateLimit:    s.cfg.InboundRateLimit,
		Burst:        s.cfg.InboundBurst,
		Logger:       s.logger,
	})
}

func (s *ServerState) connect(req *protocol.JoinRequest, c *transport.Conn) {
	resp, err := s.Join(req, c)
	if err != nil {
		var rejected *transport.RejectedError
		if errors.As(err, &rejected) {
			s.logger.Info("join rejected", "name", req.PlayerName, "remote", c.RemoteAddr(), "reason", rejected.Reason)
			_ = c.Reject(rejected.Reason)
			return
		}
		s.logger.Error("join failed", "name", req.PlayerName, "error", err)
		_ = c.Close(err.Error())
		return
	}

	id := resp.PlayerID
	err = c.Accept(resp,
		func(raw []byte) { s.HandlePacket(id, raw) },
		func(err error) { s.Leave(id, err) },
	)
	if err != nil {
		s.Leave(id, err)
	}
}

func (s *ServerState) validate(req *protocol.JoinRequest) string {
	if req.ProtocolVersion != protocol.ProtocolVersion {
		return ReasonVersionMismatch
	}
	name := strings.TrimSpace(req.PlayerName)
	if slices.ContainsFunc(s.cfg.BlockedNames, func(b string) bool { return strings.EqualFold(b, name) }) {
		return ReasonBlocked
	}
	if name == "" || name != req.PlayerName || utf8.RuneCountInString(name) > maxNameLength {
		return ReasonInvalidName
	}
	if s.cfg.Password != "" && req.Password != s.cfg.Password {
		return ReasonBadPassword
	}
	for _, p := range s.players {
		if strings.EqualFold(p.name, name) {
			return ReasonNameInUse
		}
	}
	if s.cfg.MaxPlayers > 0 && len(s.players) >= s.cfg.MaxPlayers {
		return ReasonServerFull
	}
	return ""
}

// Join admits a player. On success the baseline (players, controls, every
// rocket, authority) is already queued on peer behind the returned response.
// A refused join returns *transport.RejectedError.
func (s *ServerState) Join(req *protocol.JoinRequest, peer Peer) (*protocol.JoinResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reason := s.validate(req); reason != "" {
		return nil, &transport.RejectedError{Reason: reason}
	}

	id := s.nextID
	s.nextID++
	p := &player{
		id:         id,
		name:       req.PlayerName,
		peer:       peer,
		controlled: core.NoRocket,
		session: core.Session{
			ID:         peer.SessionID(),
			PlayerID:   id,
			PlayerName: req.PlayerName,
			Address:    peer.RemoteAddr(),
			JoinedAt:   time.Now(),
		},
	}

	for _, other := range s.sortedPlayers() {
		s.send(p, &protocol.PlayerConnected{PlayerID: other.id, Name: other.name, PrintMessage: false})
		s.send(p, &protocol.UpdatePlayerControl{PlayerID: other.id, RocketID: other.controlled})
	}
	for _, rid := range s.world.RocketIDs() {
		if r, ok := s.world.Rocket(rid); ok {
			s.send(p, &protocol.CreateRocket{GlobalID: rid, Rocket: r})
		}
	}
	s.broadcast(protocol.Encode(&protocol.PlayerConnected{PlayerID: id, Name: p.name, PrintMessage: true}), 0)

	s.players[id] = p
	s.reassign()
	if len(p.authority) == 0 {
		s.send(p, &protocol.UpdatePlayerAuthority{})
	}

	s.logger.Info("player joined", "player", id, "name", p.name, "remote", p.session.Address, "session", p.session.ID.String())
	return &protocol.JoinResponse{
		Accepted:     true,
		PlayerID:     id,
		WorldTime:    s.world.Time(),
		Difficulty:   s.world.Difficulty(),
		UpdatePeriod: s.cfg.UpdatePeriod.Seconds(),
	}, nil
}

// Leave retires a player's control and authority and tells everyone else.
func (s *ServerState) Leave(id int32, cause error) {
	s.mu.Lock()
	p, ok := s.players[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.players, id)
	for rid, owner := range s.pins {
		if owner == id {
			delete(s.pins, rid)
		}
	}
	s.broadcast(protocol.Encode(&protocol.PlayerDisconnected{PlayerID: id}), 0)
	s.reassign()

	session := p.session
	session.LeftAt = time.Now()
	session.LastRTT = p.peer.RTT()
	if cause != nil {
		session.Reason = cause.Error()
	}
	s.mu.Unlock()

	_ = p.peer.Close("")
	s.logger.Info("player left", "player", id, "name", p.name, "rtt", session.LastRTT, "reason", session.Reason)

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := s.store.RecordSession(ctx, &session); err != nil {
			s.logger.Warn("failed to record session", "player", id, "error", err)
		}
	}
}

// HandlePacket decodes and applies one message from a player.
func (s *ServerState) HandlePacket(sender int32, raw []byte) {
	s.packetsIn.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[sender]; !ok {
		return
	}
	err := s.dispatcher.DispatchRaw(sender, raw)
	if err == nil {
		return
	}

	typ, _ := protocol.PeekType(raw)
	switch {
	case errors.Is(err, world.ErrUnknownRocket), errors.Is(err, world.ErrUnknownPart):
		s.logger.Debug("skipping update for unknown entity", "player", sender, "packet", typ.String(), "error", err)
	default:
		s.packetsRejected.Add(1)
		s.metrics.rejected(typ)
		s.logger.Warn("rejected packet", "player", sender, "packet", typ.String(), "error", err)
	}
}

// Players returns the connected player ids in ascending order.
func (s *ServerState) Players() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.players))
}

// Authority returns the rockets a player currently owns.
func (s *ServerState) Authority(id int32) []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[id]; ok {
		return slices.Clone(p.authority)
	}
	return nil
}

// Controlled returns the rocket a player flies.
func (s *ServerState) Controlled(id int32) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[id]; ok {
		return p.controlled
	}
	return core.NoRocket
}

func (s *ServerState) sortedPlayers() []*player {
	ids := slices.Sorted(maps.Keys(s.players))
	out := make([]*player, len(ids))
	for i, id := range ids {
		out[i] = s.players[id]
	}
	return out
}

func (s *ServerState) send(p *player, pkt protocol.Packet) {
	s.sendRaw(p, protocol.Encode(pkt))
}

func (s *ServerState) sendRaw(p *player, raw []byte) {
	if p.peer.Send(raw) {
		s.packetsOut.Add(1)
	}
}

// broadcast sends raw to every player except the one with id except.
// Player ids start at 1, so 0 reaches everyone.
func (s *ServerState) broadcast(raw []byte, except int32) {
	for _, p := range s.sortedPlayers() {
		if p.id != except {
			s.sendRaw(p, raw)
		}
	}
}

// reassign recomputes authority and notifies every player whose set changed.
func (s *ServerState) reassign() {
	in := authority.Input{
		Pins:      s.pins,
		LoadRange: s.cfg.LoadRange,
	}
	for _, p := range s.sortedPlayers() {
		in.Players = append(in.Players, authority.Player{ID: p.id, RTT: p.peer.RTT(), Controlled: p.controlled})
	}
	for id, loc := range s.world.Locations() {
		in.Entities = append(in.Entities, authority.Entity{ID: id, Frame: loc.Frame, Position: loc.Position})
	}

	assigned := authority.Assign(in)
	s.pins = make(map[int32]int32)
	s.metrics.reassigned()

	for _, p := range s.sortedPlayers() {
		next := assigned[p.id]
		if !authority.Changed(p.authority, next) {
			continue
		}
		p.authority = next
		s.authorityChanges.Add(1)
		s.send(p, &protocol.UpdatePlayerAuthority{RocketIDs: next})
	}
}

// owns reports whether the player holds authority over the rocket.
func (p *player) owns(rocketID int32) bool {
	_, ok := slices.BinarySearch(p.authority, rocketID)
	return ok
}
