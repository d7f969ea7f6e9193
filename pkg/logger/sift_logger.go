// Package logger builds the process-wide zerolog root logger.
// Components derive their own loggers from it via
// log.With().Str("component", ...).
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New creates the root logger. Pretty output is for interactive runs;
// otherwise plain JSON lines.
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	return zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("service", "jobsift").
		Logger()
}
