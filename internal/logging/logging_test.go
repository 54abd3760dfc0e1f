package logging

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogFilePath(t *testing.T) {
	start := time.Date(2026, 10, 19, 8, 5, 3, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		want    string
	}{
		{"relative", "logs", filepath.Join("logs", "rocketsync-server.20261019_080503.log")},
		{"dot prefix", "./logs", filepath.Join(".", "logs", "rocketsync-server.20261019_080503.log")},
		{"absolute", filepath.Join("/var", "log", "rocketsync"), filepath.Join("/var", "log", "rocketsync", "rocketsync-server.20261019_080503.log")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogFilePath(tt.logsDir, "rocketsync-server", start))
		})
	}
}
