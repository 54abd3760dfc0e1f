package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketsync/rocketsync/internal/transport"
	"github.com/rocketsync/rocketsync/pkg/protocol"
)

type received struct {
	mu   sync.Mutex
	pkts []protocol.Packet
}

func (r *received) add(raw []byte) {
	p, err := protocol.Decode(raw)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.pkts = append(r.pkts, p)
	r.mu.Unlock()
}

func (r *received) creates() []*protocol.CreateRocket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ofType[*protocol.CreateRocket](r.pkts)
}

func TestHandler_EndToEnd(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dial := func(name string) (*transport.Conn, *protocol.JoinResponse, *received) {
		c, resp, err := transport.Dial(ctx, url, &protocol.JoinRequest{ProtocolVersion: protocol.ProtocolVersion, PlayerName: name}, transport.Options{})
		require.NoError(t, err)
		in := &received{}
		c.Start(in.add, nil)
		t.Cleanup(func() { _ = c.Close("") })
		return c, resp, in
	}

	jeb, resp, jebIn := dial("jeb")
	assert.Equal(t, int32(1), resp.PlayerID)
	assert.Equal(t, "normal", resp.Difficulty)
	assert.InDelta(t, 0.05, resp.UpdatePeriod, 1e-9)

	require.True(t, jeb.Send(protocol.Encode(&protocol.CreateRocket{LocalID: 9, Rocket: rocketAt(0)})))
	require.Eventually(t, func() bool { return len(jebIn.creates()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(9), jebIn.creates()[0].LocalID)

	_, _, billIn := dial("bill")
	require.Eventually(t, func() bool { return len(billIn.creates()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, jebIn.creates()[0].GlobalID, billIn.creates()[0].GlobalID)

	_, _, err := transport.Dial(ctx, url, &protocol.JoinRequest{ProtocolVersion: protocol.ProtocolVersion, PlayerName: "jeb"}, transport.Options{})
	var rejected *transport.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonNameInUse, rejected.Reason)

	require.NoError(t, jeb.Close(""))
	require.Eventually(t, func() bool { return len(s.Players()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_BaselineLargerThanSendQueue(t *testing.T) {
	s, _ := newTestServer(t)
	const rockets = 1500
	for i := 0; i < rockets; i++ {
		_, err := s.World().CreateRocket(rocketAt(float64(i)))
		require.NoError(t, err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, _, err := transport.Dial(ctx, url, &protocol.JoinRequest{ProtocolVersion: protocol.ProtocolVersion, PlayerName: "jeb"}, transport.Options{})
	require.NoError(t, err)
	in := &received{}
	c.Start(in.add, nil)
	t.Cleanup(func() { _ = c.Close("") })

	require.Eventually(t, func() bool { return len(in.creates()) == rockets }, 5*time.Second, 10*time.Millisecond)
	seen := make(map[int32]bool, rockets)
	for _, create := range in.creates() {
		seen[create.GlobalID] = true
	}
	assert.Len(t, seen, rockets)
	assert.ElementsMatch(t, s.World().RocketIDs(), keys(seen))
}

func keys(m map[int32]bool) []int32 {
	out := make([]int32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
