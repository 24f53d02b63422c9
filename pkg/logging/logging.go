// Package logging configures the process-wide zerolog logger shared by
// every portal layer above L0. Until Init runs, the zero-value Logger
// drops everything, so library code can log unconditionally and stay
// silent inside tests that never configure logging.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/portalforge/pkg/ids"
)

// Logger is the process-wide logger. Library code derives child loggers
// from it via WithComponent/WithPortal rather than writing to it directly.
var Logger zerolog.Logger

// Config holds the knobs the CLI's flags and bootstrap file expose.
type Config struct {
	// Level is a zerolog level name ("debug", "info", "warn", "error").
	// An empty or unrecognized value falls back to info.
	Level string
	// JSON switches from human-readable console output to one JSON
	// object per line.
	JSON bool
	// Output defaults to os.Stdout.
	Output io.Writer
}

// Init configures Logger. Every line is stamped with the short node
// signature, so logs collected from a swarm of hosts sharing one portal
// root stay attributable to the machine that wrote them; any process on
// the same host that calls Init gets the same stamp.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSON {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	node := ids.NodeSignature()
	if len(node) > 8 {
		node = node[:8]
	}
	Logger = zerolog.New(output).With().Timestamp().Str("node", node).Logger()
}

// WithComponent derives a child logger for one portal layer.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithPortal derives a child logger carrying a portal's fingerprint, for
// state scoped to one portal rather than one layer.
func WithPortal(fingerprint string) zerolog.Logger {
	return Logger.With().Str("portal", fingerprint).Logger()
}
