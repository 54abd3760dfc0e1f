// Package logging builds the slog handler chain shared by the server and
// client binaries.
package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath names the log file of one process run.
func LogFilePath(logsDir, name string, start time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", name, start.Format("20060102_150405")),
	)
}
