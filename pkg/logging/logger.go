// Package logging provides structured logging using bolt.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/felixgeelhaar/bolt/v3"
)

var (
	mu            sync.RWMutex
	defaultLogger *bolt.Logger
)

// Config configures the logger.
type Config struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`

	// Format is the output format (json or console).
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`

	// Output is the output destination. Defaults to stderr so stdout stays
	// free for command output and the MCP transport.
	Output io.Writer `yaml:"-"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
		Output: os.Stderr,
	}
}

func parseLevel(s string) bolt.Level {
	switch s {
	case "trace":
		return bolt.TRACE
	case "debug":
		return bolt.DEBUG
	case "warn":
		return bolt.WARN
	case "error":
		return bolt.ERROR
	default:
		return bolt.INFO
	}
}

// New builds a logger from cfg without touching the default logger.
func New(cfg Config) *bolt.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var handler bolt.Handler
	if cfg.Format == "json" {
		handler = bolt.NewJSONHandler(output)
	} else {
		handler = bolt.NewConsoleHandler(output)
	}
	return bolt.New(handler).SetLevel(parseLevel(cfg.Level))
}

// Init replaces the default logger.
func Init(cfg Config) {
	l := New(cfg)
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

// Get returns the default logger, initializing if necessary.
func Get() *bolt.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(DefaultConfig())
	}
	return defaultLogger
}

// LogEvent wraps a bolt.Event so Fields can be chained onto it.
type LogEvent struct {
	event *bolt.Event
}

// Add applies a field to the event and returns the wrapper for chaining.
func (l *LogEvent) Add(f Field) *LogEvent {
	l.event = f(l.event)
	return l
}

// Msg sends the log event with a message.
func (l *LogEvent) Msg(msg string) {
	l.event.Msg(msg)
}

// Debug returns a LogEvent for debug level logging.
func Debug() *LogEvent {
	return &LogEvent{event: Get().Debug()}
}

// Info returns a LogEvent for info level logging.
func Info() *LogEvent {
	return &LogEvent{event: Get().Info()}
}

// Warn returns a LogEvent for warn level logging.
func Warn() *LogEvent {
	return &LogEvent{event: Get().Warn()}
}

// Error returns a LogEvent for error level logging.
func Error() *LogEvent {
	return &LogEvent{event: Get().Error()}
}

// Scoped logs through a specific logger. The zero value uses the default.
type Scoped struct {
	l *bolt.Logger
}

// For returns a Scoped bound to l.
func For(l *bolt.Logger) Scoped {
	return Scoped{l: l}
}

func (s Scoped) logger() *bolt.Logger {
	if s.l == nil {
		return Get()
	}
	return s.l
}

// Debug returns a LogEvent for debug level logging.
func (s Scoped) Debug() *LogEvent {
	return &LogEvent{event: s.logger().Debug()}
}

// Info returns a LogEvent for info level logging.
func (s Scoped) Info() *LogEvent {
	return &LogEvent{event: s.logger().Info()}
}

// Warn returns a LogEvent for warn level logging.
func (s Scoped) Warn() *LogEvent {
	return &LogEvent{event: s.logger().Warn()}
}

// Error returns a LogEvent for error level logging.
func (s Scoped) Error() *LogEvent {
	return &LogEvent{event: s.logger().Error()}
}
