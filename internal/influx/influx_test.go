package influx

import (
	"compress/gzip"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rocketsync/rocketsync/internal/config"
	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unhealthyInflux(t *testing.T) config.InfluxConfig {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	return config.InfluxConfig{Enabled: true, Protocol: "http", Host: host, Port: port, Org: "rocketsync"}
}

func readBackup(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(data)
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(zerolog.Nop(), filepath.Join(t.TempDir(), "influx.lp.gz"))
	assert.ErrorIs(t, m.Connect(context.Background(), config.InfluxConfig{}), ErrDisabled)
	assert.NoError(t, m.Close())
}

func TestWritePoint_NotConnected(t *testing.T) {
	m := NewManager(zerolog.Nop(), "")
	err := m.WritePoint(BucketServer, influxdb2_write.NewPointWithMeasurement("x"))
	assert.Error(t, err)
}

func TestConnect_FallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "influx.lp.gz")
	m := NewManager(zerolog.Nop(), path)
	m.Tags["server"] = "test"

	require.NoError(t, m.Connect(context.Background(), unhealthyInflux(t)))
	assert.False(t, m.IsValid)
	require.NotNil(t, m.BackupWriter)

	ts := time.Unix(1700000000, 0)
	require.NoError(t, m.WritePerformance(core.Performance{
		Time:      ts,
		WorldTime: 12.5,
		Players:   2,
		Rockets:   3,
		PlayerStats: []core.PlayerStats{
			{PlayerID: 7, Name: "jeb", RTT: 40 * time.Millisecond, Controlled: core.NoRocket, Authority: 1},
		},
	}))
	require.NoError(t, m.Close())

	out := readBackup(t, path)
	assert.Contains(t, out, "replication,server=test ")
	assert.Contains(t, out, "rockets=3i")
	assert.Contains(t, out, "player,")
	assert.Contains(t, out, "name=jeb")
	assert.Contains(t, out, "player_id=7")
	assert.Contains(t, out, "rtt_ms=40")
	assert.Contains(t, out, "1700000000000000000")
}
