// Package rxlog wires the receiver's diagnostic stream through zerolog, in
// the style of itohio-EasyRobot's pkg/logger wrapper.
package rxlog

import (
	"os"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger, writing a human-readable console format to
// stderr. Verbosity is set via SetVerbosity from the CLI -v flag.
var Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
	With().Timestamp().Logger()

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// SetVerbosity maps the CLI's -v {0,1,2} to a zerolog level: 0 disables all
// diagnostic output, 1 is informational, 2 is per-frame debug tracing.
func SetVerbosity(v int) {
	switch {
	case v <= 0:
		Log = Log.Level(zerolog.Disabled)
	case v == 1:
		Log = Log.Level(zerolog.InfoLevel)
	default:
		Log = Log.Level(zerolog.DebugLevel)
	}
}
