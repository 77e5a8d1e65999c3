// Package logger builds the zerolog loggers used across the service.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level  string // zerolog level tag: debug, info, warn, error
	Pretty bool   // Enable pretty console output
}

// New creates the root logger the components derive theirs from. Unknown
// level tags are rejected rather than silently downgraded. Components are
// identified by their "component" field; caller frames are not recorded.
func New(cfg Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("unknown log level %q: %w", cfg.Level, err)
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger(), nil
}
