package loadgen

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/openpotd/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging initialises the global logger on stdout and, when logFile
// is set, on that file too. The returned closer releases the file.
func SetupLogging(logFile string, verbose bool) (io.Closer, error) {
	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(nil)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closer = f
	}
	if err := logger.InitWith(w, logger.FormatText); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	return closer, nil
}

// ShowHelp prints usage information for the load tool.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`openpotd load tool
==================

Posts generated official submissions to a running server, forces a season
refresh and checks the served ranking against locally computed scores.
The target season's current problem must have no solves yet.

Usage:
  go run ./cmd/potd-load [options]

Options:
  -url string       Base URL of the service (default "http://localhost:9080")
  -season int       Season id, 0 for the running season
  -users int        Number of distinct users (default 1000)
  -offset int       First generated user id (default 1000000)
  -max-wrong int    Most wrong attempts before the correct one (default 4)
  -answer int       Correct answer of the current problem (required)
  -pool float       Point pool configured on the server (default 100)
  -top int          Ranking entries to verify (default 50)
  -workers int      Concurrent workers (default CPU cores * 2)
  -timeout dur      HTTP request timeout (default 30s)
  -output string    Write generated scripts to this JSON file
  -log string       Also log to this file
  -verbose          Enable verbose logging
  -help             Show this help message

Example:
  go run ./cmd/potd-load -answer 42 -users 5000 -workers 16
`)
}
