package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Until Init runs it writes
// human-readable output to stderr at info level, so early startup
// failures (flag parsing, store open) are still visible.
var Logger = zerolog.New(consoleWriter(os.Stderr)).
	Level(zerolog.InfoLevel).
	With().Timestamp().Logger()

// Init rebuilds the root logger from the agent's --log-level and
// --log-json flags. An unknown level is an error and leaves the
// current logger untouched. A nil out writes to stdout.
func Init(level string, json bool, out io.Writer) error {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	if parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	if out == nil {
		out = os.Stdout
	}
	if !json {
		out = consoleWriter(out)
	}

	Logger = zerolog.New(out).Level(parsed).With().Timestamp().Logger()
	return nil
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

// WithComponent returns a child logger tagged with a subsystem name
// (reconciler, api, state-poller, ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNode returns a child logger tagged with a data-plane node id.
func WithNode(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}

// WithResource returns a child logger tagged with the resource kind and
// id a log line concerns, e.g. WithResource("Nexus", n.UUID).
func WithResource(kind, id string) zerolog.Logger {
	return Logger.With().Str("resource_kind", kind).Str("resource_id", id).Logger()
}

// Fatal logs at fatal level and exits the process. Reserved for
// conditions the process must not survive, such as cluster lease loss.
func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
