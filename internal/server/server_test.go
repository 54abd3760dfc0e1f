package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketsync/rocketsync/internal/config"
	"github.com/rocketsync/rocketsync/internal/transport"
	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rocketsync/rocketsync/pkg/protocol"
)

type fakePeer struct {
	mu      sync.Mutex
	session uuid.UUID
	rtt     time.Duration
	sent    []protocol.Packet
	closed  bool
	reason  string
}

func newFakePeer(rtt time.Duration) *fakePeer {
	return &fakePeer{session: uuid.New(), rtt: rtt}
}

func (p *fakePeer) Send(data []byte) bool {
	pkt, err := protocol.Decode(data)
	if err != nil {
		panic(err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, pkt)
	return true
}

func (p *fakePeer) Close(reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.reason = reason
	return nil
}

func (p *fakePeer) RTT() time.Duration   { return p.rtt }
func (p *fakePeer) SessionID() uuid.UUID { return p.session }
func (p *fakePeer) RemoteAddr() string   { return "127.0.0.1:1" }

// take returns and clears everything sent so far.
func (p *fakePeer) take() []protocol.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.sent
	p.sent = nil
	return out
}

func ofType[T protocol.Packet](pkts []protocol.Packet) []T {
	var out []T
	for _, p := range pkts {
		if v, ok := p.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

type memStore struct {
	mu       sync.Mutex
	saved    []*core.World
	sessions []*core.Session
}

func (m *memStore) SaveWorld(_ context.Context, w *core.World) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, w)
	return nil
}

func (m *memStore) RecordSession(_ context.Context, s *core.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, s)
	return nil
}

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		MaxPlayers:            3,
		Difficulty:            "normal",
		LoadRange:             1000,
		UpdatePeriod:          50 * time.Millisecond,
		ResyncInterval:        30 * time.Second,
		WorldTimeSyncInterval: 5 * time.Second,
		SaveInterval:          time.Minute,
		BlockedNames:          []string{"griefer"},
	}
}

func newTestServer(t *testing.T, mutate ...func(*config.ServerConfig)) (*ServerState, *memStore) {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	store := &memStore{}
	s, err := New(Options{Config: cfg, Store: store})
	require.NoError(t, err)
	return s, store
}

func join(t *testing.T, s *ServerState, name string) (int32, *fakePeer) {
	t.Helper()
	peer := newFakePeer(50 * time.Millisecond)
	resp, err := s.Join(&protocol.JoinRequest{ProtocolVersion: protocol.ProtocolVersion, PlayerName: name}, peer)
	require.NoError(t, err)
	require.True(t, resp.Accepted)
	return resp.PlayerID, peer
}

func rocketAt(x float64) *core.RocketState {
	r := core.NewRocketState("scout")
	r.Parts[1] = core.NewPartState("capsule")
	r.Parts[2] = core.NewPartState("tank")
	r.Joints = []core.JointState{{A: 1, B: 2}}
	r.Stages = []core.StageState{{ID: 0, PartIDs: []int32{2}}}
	r.Location = core.Location{Frame: 1, Position: mgl64.Vec2{x, 0}}
	return r
}

// launch creates a rocket from player id and returns its global id.
func launch(t *testing.T, s *ServerState, id int32, local int32, r *core.RocketState) int32 {
	t.Helper()
	before := s.World().RocketIDs()
	s.HandlePacket(id, protocol.Encode(&protocol.CreateRocket{LocalID: local, Rocket: r}))
	after := s.World().RocketIDs()
	require.Len(t, after, len(before)+1)
	for _, rid := range after {
		found := false
		for _, b := range before {
			found = found || b == rid
		}
		if !found {
			return rid
		}
	}
	t.Fatal("no new rocket")
	return 0
}

func TestJoin_Rejections(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.ServerConfig) {
		c.Password = "pw"
		c.MaxPlayers = 1
	})
	ok := func(name string) *protocol.JoinRequest {
		return &protocol.JoinRequest{ProtocolVersion: protocol.ProtocolVersion, PlayerName: name, Password: "pw"}
	}
	_, err := s.Join(ok("jeb"), newFakePeer(0))
	require.NoError(t, err)

	tests := []struct {
		name string
		req  *protocol.JoinRequest
		want string
	}{
		{"version", &protocol.JoinRequest{ProtocolVersion: 1, PlayerName: "bob", Password: "pw"}, ReasonVersionMismatch},
		{"blocked", ok("Griefer"), ReasonBlocked},
		{"empty name", ok("  "), ReasonInvalidName},
		{"padded name", ok(" bob"), ReasonInvalidName},
		{"long name", ok("abcdefghijklmnopqrstuvwxyz0123456789"), ReasonInvalidName},
		{"password", &protocol.JoinRequest{ProtocolVersion: protocol.ProtocolVersion, PlayerName: "bob", Password: "no"}, ReasonBadPassword},
		{"duplicate", ok("JEB"), ReasonNameInUse},
		{"full", ok("bob"), ReasonServerFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Join(tt.req, newFakePeer(0))
			var rejected *transport.RejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tt.want, rejected.Reason)
		})
	}
	assert.Equal(t, []int32{1}, s.Players())
}

func TestJoin_Baseline(t *testing.T) {
	s, _ := newTestServer(t)
	a, peerA := join(t, s, "jeb")
	rid := launch(t, s, a, 5, rocketAt(0))
	s.HandlePacket(a, protocol.Encode(&protocol.UpdatePlayerControl{PlayerID: a, RocketID: rid}))
	peerA.take()

	b, peerB := join(t, s, "bill")
	got := peerB.take()

	require.GreaterOrEqual(t, len(got), 4)
	assert.Equal(t, &protocol.PlayerConnected{PlayerID: a, Name: "jeb"}, got[0])
	assert.Equal(t, &protocol.UpdatePlayerControl{PlayerID: a, RocketID: rid}, got[1])
	create, ok := got[2].(*protocol.CreateRocket)
	require.True(t, ok)
	assert.Equal(t, rid, create.GlobalID)
	assert.Len(t, create.Rocket.Parts, 2)
	auth, ok := got[len(got)-1].(*protocol.UpdatePlayerAuthority)
	require.True(t, ok)
	assert.Empty(t, auth.RocketIDs)

	toA := peerA.take()
	assert.Contains(t, toA, protocol.Packet(&protocol.PlayerConnected{PlayerID: b, Name: "bill", PrintMessage: true}))
}

func TestCreateRocket_AssignsGlobalIDAndPinsCreator(t *testing.T) {
	s, _ := newTestServer(t)
	a, peerA := join(t, s, "jeb")
	b, peerB := join(t, s, "bill")

	// bill flies something so authority is handed out at all
	first := launch(t, s, b, 1, rocketAt(0))
	s.HandlePacket(b, protocol.Encode(&protocol.UpdatePlayerControl{PlayerID: b, RocketID: first}))
	peerA.take()
	peerB.take()

	rid := launch(t, s, a, 77, rocketAt(5))
	assert.Equal(t, ServerEpoch, uint8(rid>>24))

	for peer, local := range map[*fakePeer]int32{peerA: 77, peerB: 0} {
		creates := ofType[*protocol.CreateRocket](peer.take())
		require.Len(t, creates, 1, "creator and others both receive the create")
		assert.Equal(t, local, creates[0].LocalID)
		assert.Equal(t, rid, creates[0].GlobalID)
	}
	assert.Contains(t, s.Authority(a), rid, "creator is first authority")
	assert.NotContains(t, s.Authority(b), rid)
}

func TestUpdate_RebroadcastToOthers(t *testing.T) {
	s, _ := newTestServer(t)
	a, peerA := join(t, s, "jeb")
	_, peerB := join(t, s, "bill")
	_, peerC := join(t, s, "bob")
	rid := launch(t, s, a, 1, rocketAt(0))
	s.HandlePacket(a, protocol.Encode(&protocol.UpdatePlayerControl{PlayerID: a, RocketID: rid}))
	for _, p := range []*fakePeer{peerA, peerB, peerC} {
		p.take()
	}

	update := &protocol.UpdateRocketPrimary{RocketID: rid, WorldTime: 3, Frame: 1, Position: mgl64.Vec2{10, 20}}
	s.HandlePacket(a, protocol.Encode(update))

	assert.Empty(t, peerA.take())
	assert.Equal(t, []protocol.Packet{update}, peerB.take())
	assert.Equal(t, []protocol.Packet{update}, peerC.take())

	r, ok := s.World().Rocket(rid)
	require.True(t, ok)
	assert.Equal(t, mgl64.Vec2{10, 20}, r.Location.Position)
}

func TestUpdate_UnknownRocketNotRebroadcast(t *testing.T) {
	s, _ := newTestServer(t)
	a, _ := join(t, s, "jeb")
	_, peerB := join(t, s, "bill")
	peerB.take()

	s.HandlePacket(a, protocol.Encode(&protocol.UpdateEngineModule{RocketID: 999, PartID: 1, WorldTime: 1}))
	assert.Empty(t, peerB.take())
	assert.Zero(t, s.Stats().PacketsRejected)
}

func TestUpdate_ResourceWithUnknownPartLeavesEveryoneEqual(t *testing.T) {
	s, _ := newTestServer(t)
	a, _ := join(t, s, "jeb")
	_, peerB := join(t, s, "bill")
	rid := launch(t, s, a, 1, rocketAt(0))
	peerB.take()

	s.HandlePacket(a, protocol.Encode(&protocol.UpdateResourceModule{RocketID: rid, WorldTime: 1, PartIDs: []int32{1, 99}, ResourcePercent: 0.25}))

	assert.Empty(t, peerB.take())
	r, ok := s.World().Rocket(rid)
	require.True(t, ok)
	assert.NotContains(t, r.Parts[1].NumberVariables, core.VarResourcePercent)

	s.HandlePacket(a, protocol.Encode(&protocol.UpdateResourceModule{RocketID: rid, WorldTime: 2, PartIDs: []int32{1, 2}, ResourcePercent: 0.5}))
	assert.Len(t, ofType[*protocol.UpdateResourceModule](peerB.take()), 1)
	r, _ = s.World().Rocket(rid)
	assert.Equal(t, 0.5, r.Parts[1].NumberVariables[core.VarResourcePercent])
}

func TestUpdate_ProtocolErrorsCounted(t *testing.T) {
	s, _ := newTestServer(t)
	a, _ := join(t, s, "jeb")
	_, peerB := join(t, s, "bill")
	peerB.take()

	s.HandlePacket(a, []byte{0xEE})
	s.HandlePacket(a, protocol.Encode(&protocol.JoinRequest{ProtocolVersion: protocol.ProtocolVersion, PlayerName: "x"}))
	s.HandlePacket(a, protocol.Encode(&protocol.UpdateWorldTime{WorldTime: 1e9}))

	assert.Equal(t, uint64(3), s.Stats().PacketsRejected)
	assert.Empty(t, peerB.take())
	assert.Zero(t, s.World().Time())
}

func TestUpdate_FromNonAuthorityIsAccepted(t *testing.T) {
	s, _ := newTestServer(t)
	a, _ := join(t, s, "jeb")
	b, peerB := join(t, s, "bill")
	rid := launch(t, s, a, 1, rocketAt(0))
	s.HandlePacket(a, protocol.Encode(&protocol.UpdatePlayerControl{PlayerID: a, RocketID: rid}))
	require.NotContains(t, s.Authority(b), rid)
	peerB.take()

	s.HandlePacket(b, protocol.Encode(&protocol.UpdateRocketSecondary{RocketID: rid, WorldTime: 2, ThrottleOn: true}))

	r, _ := s.World().Rocket(rid)
	assert.True(t, r.ThrottleOn)
}

func TestControl_ReencodedWithSender(t *testing.T) {
	s, _ := newTestServer(t)
	a, peerA := join(t, s, "jeb")
	_, peerB := join(t, s, "bill")
	rid := launch(t, s, a, 1, rocketAt(0))
	peerA.take()
	peerB.take()

	s.HandlePacket(a, protocol.Encode(&protocol.UpdatePlayerControl{PlayerID: 42, RocketID: rid}))

	controls := ofType[*protocol.UpdatePlayerControl](peerB.take())
	require.Len(t, controls, 1)
	assert.Equal(t, &protocol.UpdatePlayerControl{PlayerID: a, RocketID: rid}, controls[0])
	assert.Empty(t, ofType[*protocol.UpdatePlayerControl](peerA.take()))
	assert.Equal(t, rid, s.Controlled(a))
	assert.Equal(t, []int32{rid}, s.Authority(a))
}

func TestControl_UnknownRocket(t *testing.T) {
	s, _ := newTestServer(t)
	a, _ := join(t, s, "jeb")
	s.HandlePacket(a, protocol.Encode(&protocol.UpdatePlayerControl{PlayerID: a, RocketID: 12345}))
	assert.Equal(t, core.NoRocket, s.Controlled(a))
}

func TestAuthority_AtMostOneOwnerAndNoneWithoutControl(t *testing.T) {
	s, _ := newTestServer(t)
	a, _ := join(t, s, "jeb")
	b, _ := join(t, s, "bill")
	ra := launch(t, s, a, 1, rocketAt(0))
	rb := launch(t, s, b, 1, rocketAt(5000))
	launch(t, s, a, 2, rocketAt(10))

	// nobody controls anything yet
	assert.Empty(t, s.Authority(a))
	assert.Empty(t, s.Authority(b))

	s.HandlePacket(a, protocol.Encode(&protocol.UpdatePlayerControl{PlayerID: a, RocketID: ra}))
	s.HandlePacket(b, protocol.Encode(&protocol.UpdatePlayerControl{PlayerID: b, RocketID: rb}))

	owned := map[int32]int{}
	for _, id := range []int32{a, b} {
		for _, rid := range s.Authority(id) {
			owned[rid]++
		}
	}
	assert.Len(t, owned, 3)
	for rid, n := range owned {
		assert.Equal(t, 1, n, "rocket %d", rid)
	}
}

func TestLeave_ReassignsAndRecordsSession(t *testing.T) {
	s, store := newTestServer(t)
	a, peerA := join(t, s, "jeb")
	b, peerB := join(t, s, "bill")
	ra := launch(t, s, a, 1, rocketAt(0))
	rb := launch(t, s, b, 1, rocketAt(10))
	s.HandlePacket(a, protocol.Encode(&protocol.UpdatePlayerControl{PlayerID: a, RocketID: ra}))
	s.HandlePacket(b, protocol.Encode(&protocol.UpdatePlayerControl{PlayerID: b, RocketID: rb}))
	require.Equal(t, []int32{ra}, s.Authority(a))
	peerA.take()

	s.Leave(b, errors.New("connection reset"))

	got := peerA.take()
	assert.Contains(t, got, protocol.Packet(&protocol.PlayerDisconnected{PlayerID: b}))
	auth := ofType[*protocol.UpdatePlayerAuthority](got)
	require.NotEmpty(t, auth)
	assert.Equal(t, []int32{ra, rb}, auth[len(auth)-1].RocketIDs)
	assert.Equal(t, []int32{a}, s.Players())
	assert.True(t, peerB.closed)

	require.Len(t, store.sessions, 1)
	sess := store.sessions[0]
	assert.Equal(t, b, sess.PlayerID)
	assert.Equal(t, "bill", sess.PlayerName)
	assert.Equal(t, peerB.session, sess.ID)
	assert.Equal(t, "connection reset", sess.Reason)
	assert.Equal(t, 50*time.Millisecond, sess.LastRTT)
	assert.False(t, sess.LeftAt.Before(sess.JoinedAt))

	// leaving twice is harmless
	s.Leave(b, nil)
	assert.Len(t, store.sessions, 1)
}

func TestDestroyPart_LastPartDestroysRocket(t *testing.T) {
	s, _ := newTestServer(t)
	a, peerA := join(t, s, "jeb")
	_, peerB := join(t, s, "bill")
	rid := launch(t, s, a, 1, rocketAt(0))
	s.HandlePacket(a, protocol.Encode(&protocol.UpdatePlayerControl{PlayerID: a, RocketID: rid}))
	peerA.take()
	peerB.take()

	s.HandlePacket(a, protocol.Encode(&protocol.DestroyPart{RocketID: rid, PartID: 1, WorldTime: 1}))
	assert.True(t, s.World().HasRocket(rid))
	s.HandlePacket(a, protocol.Encode(&protocol.DestroyPart{RocketID: rid, PartID: 2, WorldTime: 2}))
	assert.False(t, s.World().HasRocket(rid))

	toB := peerB.take()
	assert.Len(t, ofType[*protocol.DestroyPart](toB), 2)
	assert.Equal(t, []*protocol.DestroyRocket{{RocketID: rid}}, ofType[*protocol.DestroyRocket](toB))
	assert.Equal(t, []*protocol.DestroyRocket{{RocketID: rid}}, ofType[*protocol.DestroyRocket](peerA.take()))
	assert.Equal(t, core.NoRocket, s.Controlled(a))
}

func TestDestroyRocket(t *testing.T) {
	s, _ := newTestServer(t)
	a, _ := join(t, s, "jeb")
	_, peerB := join(t, s, "bill")
	rid := launch(t, s, a, 1, rocketAt(0))
	peerB.take()

	s.HandlePacket(a, protocol.Encode(&protocol.DestroyRocket{RocketID: rid}))
	assert.False(t, s.World().HasRocket(rid))
	assert.Equal(t, []protocol.Packet{&protocol.DestroyRocket{RocketID: rid}}, peerB.take())

	s.HandlePacket(a, protocol.Encode(&protocol.DestroyRocket{RocketID: rid}))
	assert.Empty(t, peerB.take())
}

func TestCreateRocket_ReplaceExisting(t *testing.T) {
	s, _ := newTestServer(t)
	a, _ := join(t, s, "jeb")
	_, peerB := join(t, s, "bill")
	rid := launch(t, s, a, 1, rocketAt(0))
	peerB.take()

	merged := rocketAt(0)
	merged.Parts[3] = core.NewPartState("docking_port")
	merged.Joints = append(merged.Joints, core.JointState{A: 2, B: 3})
	replace := &protocol.CreateRocket{GlobalID: rid, Rocket: merged}
	s.HandlePacket(a, protocol.Encode(replace))

	assert.Equal(t, 3, s.World().PartCount(rid))
	assert.Len(t, ofType[*protocol.CreateRocket](peerB.take()), 1)

	s.HandlePacket(a, protocol.Encode(&protocol.CreateRocket{GlobalID: 424242, Rocket: merged}))
	assert.False(t, s.World().HasRocket(424242))
}

func TestTick_WorldClockAndBroadcasts(t *testing.T) {
	s, store := newTestServer(t)
	a, peerA := join(t, s, "jeb")
	rid := launch(t, s, a, 1, rocketAt(0))
	launch(t, s, a, 2, rocketAt(50))
	peerA.take()

	start := time.Unix(1000, 0)
	s.Tick(start)
	s.Tick(start.Add(time.Second))
	assert.Zero(t, s.World().Time(), "clock holds while nobody flies")

	s.HandlePacket(a, protocol.Encode(&protocol.UpdatePlayerControl{PlayerID: a, RocketID: rid}))
	s.Tick(start.Add(3 * time.Second))
	assert.InDelta(t, 2, s.World().Time(), 1e-9)
	peerA.take()

	s.Tick(start.Add(6 * time.Second))
	times := ofType[*protocol.UpdateWorldTime](peerA.take())
	require.Len(t, times, 1)
	assert.InDelta(t, 5, times[0].WorldTime, 1e-9)

	s.Tick(start.Add(31 * time.Second))
	assert.Len(t, ofType[*protocol.CreateRocket](peerA.take()), 2, "resync re-sends every rocket")

	assert.Empty(t, store.saved)
	s.Tick(start.Add(61 * time.Second))
	require.Len(t, store.saved, 1)
	assert.Len(t, store.saved[0].Rockets, 2)
}

func TestRun_ShutdownSavesAndCloses(t *testing.T) {
	s, store := newTestServer(t, func(c *config.ServerConfig) { c.TickInterval = time.Millisecond })
	_, peer := join(t, s, "jeb")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, peer.closed)
	assert.Equal(t, ReasonShutdown, peer.reason)
	assert.NotEmpty(t, store.saved)
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(t)
	a, _ := join(t, s, "jeb")
	rid := launch(t, s, a, 1, rocketAt(0))
	s.HandlePacket(a, protocol.Encode(&protocol.UpdatePlayerControl{PlayerID: a, RocketID: rid}))

	st := s.Stats()
	assert.Equal(t, 1, st.Players)
	assert.Equal(t, 1, st.Rockets)
	assert.Equal(t, 2, st.Parts)
	assert.Equal(t, uint64(2), st.PacketsIn)
	assert.NotZero(t, st.PacketsOut)
	require.Len(t, st.PlayerStats, 1)
	assert.Equal(t, core.PlayerStats{PlayerID: a, Name: "jeb", RTT: 50 * time.Millisecond, Controlled: rid, Authority: 1}, st.PlayerStats[0])
}
