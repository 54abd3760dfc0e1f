// Package client holds the replication state of one player: the mirror of
// the server world, the authority set and playback of remote rockets.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rocketsync/rocketsync/internal/config"
	"github.com/rocketsync/rocketsync/internal/dispatcher"
	"github.com/rocketsync/rocketsync/internal/extrapolate"
	"github.com/rocketsync/rocketsync/internal/reconcile"
	"github.com/rocketsync/rocketsync/internal/transport"
	"github.com/rocketsync/rocketsync/internal/world"
	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rocketsync/rocketsync/pkg/protocol"
)

// ClientEpoch tags ids allocated on a client: local rocket ids awaiting a
// global id and part ids created by docking.
const ClientEpoch uint8 = 64

// ErrNotConnected is returned by operations that need a server connection.
var ErrNotConnected = errors.New("not connected")

// Discrete is the pilot input of a rocket as published in secondary updates.
type Discrete struct {
	ThrottleOn      bool
	ThrottlePercent float32
	RCS             bool
	Controls        core.Controls
}

// Host is the physics engine the client drives.
type Host interface {
	reconcile.Host
	// Spawn creates or replaces the local instance of a rocket.
	Spawn(rocketID int32, state *core.RocketState)
	// Despawn removes a rocket instance.
	Despawn(rocketID int32)
	// Rekey moves a rocket the host created from its local id to the global id.
	Rekey(localID, rocketID int32)
	// LiveDiscrete reads the pilot input of a simulated rocket.
	LiveDiscrete(rocketID int32) (Discrete, bool)
}

// Sender is the outbound side of the server connection.
type Sender interface {
	Send(data []byte) bool
}

// Player is another participant as seen from this client.
type Player struct {
	ID         int32
	Name       string
	Controlled int32
}

// Options wires a ClientState.
type Options struct {
	Config         config.ClientConfig
	Host           Host
	Environment    extrapolate.Environment
	Logger         *slog.Logger
	DispatchLogger dispatcher.Logger
	// OnDisconnect is called once when the server connection ends.
	OnDisconnect func(err error)
}

// ClientState owns every piece of mutable client state behind one mutex.
// The transport goroutine calls HandlePacket, the host calls Tick and the
// change notifications.
type ClientState struct {
	mu     sync.Mutex
	cfg    config.ClientConfig
	host   Host
	logger *slog.Logger

	world      *world.World
	localIDs   *world.IDAllocator
	pending    map[int32]*core.RocketState
	reconciler *reconcile.Reconciler
	dispatcher *dispatcher.Dispatcher

	conn         Sender
	closer       func(reason string) error
	onDisconnect func(error)

	playerID     int32
	updatePeriod float64
	accumulator  float64
	players      map[int32]*Player
	controlled   int32
	authority    map[int32]struct{}
	published    map[int32]Discrete

	packetsIn       atomic.Uint64
	packetsOut      atomic.Uint64
	packetsRejected atomic.Uint64
}

// New creates a disconnected client.
func New(opts Options) (*ClientState, error) {
	if opts.Host == nil {
		return nil, errors.New("client needs a host")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dl := opts.DispatchLogger
	if dl == nil {
		dl = slogDispatchLogger{logger}
	}
	d, err := dispatcher.New(dl)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	rc := reconcile.Config{Delay: opts.Config.PresentationDelay.Seconds()}
	if opts.Config.Extrapolate && opts.Environment != nil {
		rc.Extrapolator = extrapolate.New(opts.Environment, opts.Config.ExtrapolationSubsteps)
	}

	c := &ClientState{
		cfg:          opts.Config,
		host:         opts.Host,
		logger:       logger,
		world:        world.New("", ClientEpoch),
		localIDs:     world.NewIDAllocator(ClientEpoch),
		pending:      make(map[int32]*core.RocketState),
		dispatcher:   d,
		onDisconnect: opts.OnDisconnect,
		players:      make(map[int32]*Player),
		controlled:   core.NoRocket,
		authority:    make(map[int32]struct{}),
		published:    make(map[int32]Discrete),
	}
	c.reconciler = reconcile.New(rc, opts.Host, logger)
	c.registerHandlers()
	return c, nil
}

// Connect dials the server, performs the join handshake and starts
// receiving. A refused join returns *transport.RejectedError.
func (c *ClientState) Connect(ctx context.Context, opts transport.Options) (*protocol.JoinResponse, error) {
	if opts.Logger == nil {
		opts.Logger = c.logger
	}
	req := &protocol.JoinRequest{
		ProtocolVersion: protocol.ProtocolVersion,
		PlayerName:      c.cfg.PlayerName,
		Password:        c.cfg.Password,
	}
	conn, resp, err := transport.DialRetry(ctx, c.cfg.ServerURL, req, opts)
	if err != nil {
		return resp, err
	}

	c.Attach(resp, conn, conn.Close)
	conn.Start(c.HandlePacket, c.disconnected)
	c.logger.Info("joined server", "url", c.cfg.ServerURL, "player", resp.PlayerID, "worldTime", resp.WorldTime)
	return resp, nil
}

// Attach adopts an accepted join: player id, clock, ruleset and publish
// period come from resp, outbound packets go to out.
func (c *ClientState) Attach(resp *protocol.JoinResponse, out Sender, closer func(reason string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = out
	c.closer = closer
	c.playerID = resp.PlayerID
	c.updatePeriod = resp.UpdatePeriod
	c.accumulator = 0
	c.world.SetTime(resp.WorldTime)
	c.world.SetDifficulty(resp.Difficulty)
}

// Close ends the server connection.
func (c *ClientState) Close() error {
	c.mu.Lock()
	closer := c.closer
	c.mu.Unlock()
	if closer == nil {
		return nil
	}
	return closer("")
}

func (c *ClientState) disconnected(err error) {
	c.mu.Lock()
	c.conn = nil
	c.closer = nil
	for id := range c.authority {
		c.reconciler.SetAuthority(id, false)
	}
	c.authority = make(map[int32]struct{})
	cb := c.onDisconnect
	c.mu.Unlock()

	c.logger.Warn("disconnected from server", "error", err)
	if cb != nil {
		cb(err)
	}
}

// HandlePacket decodes and applies one message from the server.
func (c *ClientState) HandlePacket(raw []byte) {
	c.packetsIn.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.dispatcher.DispatchRaw(0, raw)
	if err == nil {
		return
	}
	typ, _ := protocol.PeekType(raw)
	switch {
	case errors.Is(err, world.ErrUnknownRocket), errors.Is(err, world.ErrUnknownPart):
		c.logger.Debug("skipping update for unknown entity", "packet", typ.String(), "error", err)
	default:
		c.packetsRejected.Add(1)
		c.logger.Warn("rejected packet", "packet", typ.String(), "error", err)
	}
}

func (c *ClientState) send(p protocol.Packet) bool {
	if c.conn == nil {
		return false
	}
	if !c.conn.Send(protocol.Encode(p)) {
		return false
	}
	c.packetsOut.Add(1)
	return true
}

// PlayerID returns the id assigned by the server, zero before joining.
func (c *ClientState) PlayerID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// World returns the mirror.
func (c *ClientState) World() *world.World { return c.world }

// WorldTime returns the client's view of the world clock.
func (c *ClientState) WorldTime() float64 { return c.world.Time() }

// Authority returns the rockets this client simulates, ascending.
func (c *ClientState) Authority() []int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.authority))
}

// HasAuthority reports whether this client simulates the rocket.
func (c *ClientState) HasAuthority(rocketID int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.authority[rocketID]
	return ok
}

// Controlled returns the rocket this player flies.
func (c *ClientState) Controlled() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controlled
}

// Players returns the other connected players, ascending by id.
func (c *ClientState) Players() []Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Player, 0, len(c.players))
	for _, id := range slices.Sorted(maps.Keys(c.players)) {
		out = append(out, *c.players[id])
	}
	return out
}

// Stats is a snapshot of client counters.
type Stats struct {
	WorldTime       float64
	Rockets         int
	Authority       int
	Pending         int
	PacketsIn       uint64
	PacketsOut      uint64
	PacketsRejected uint64
}

// Stats returns the current counters.
func (c *ClientState) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		WorldTime:       c.world.Time(),
		Rockets:         c.world.Len(),
		Authority:       len(c.authority),
		Pending:         len(c.pending),
		PacketsIn:       c.packetsIn.Load(),
		PacketsOut:      c.packetsOut.Load(),
		PacketsRejected: c.packetsRejected.Load(),
	}
}

type slogDispatchLogger struct {
	l *slog.Logger
}

func (s slogDispatchLogger) Debug(msg string, kv ...any) { s.l.Debug(msg, kv...) }
func (s slogDispatchLogger) Info(msg string, kv ...any)  { s.l.Info(msg, kv...) }
func (s slogDispatchLogger) Error(msg string, kv ...any) { s.l.Error(msg, kv...) }
