// Package logger provides component-tagged structured logging for the
// execution client. Every call carries a component name ("registry",
// "source", "orchestrator", ...) and an optional field map, and is written
// through a shared zap core.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls how the global logger is built.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

var (
	mu     sync.RWMutex
	base   = newDefault()
	levels = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func newDefault() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// Init replaces the global logger according to opts.
func Init(opts Options) error {
	levels.SetLevel(parseLevel(opts.Level))

	var cfg zap.Config
	if strings.EqualFold(opts.Format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = levels
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	base = l
	mu.Unlock()
	return nil
}

// SetLogger installs an already-built zap logger. Tests use this with
// zaptest/observer cores.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	base = l
	mu.Unlock()
}

// Sync flushes any buffered entries.
func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	_ = l.Sync()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func toFields(component string, fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	out = append(out, zap.String("component", component))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}

func DebugC(component, msg string) { current().Debug(msg, toFields(component, nil)...) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	current().Debug(msg, toFields(component, fields)...)
}

func InfoC(component, msg string) { current().Info(msg, toFields(component, nil)...) }

func InfoCF(component, msg string, fields map[string]interface{}) {
	current().Info(msg, toFields(component, fields)...)
}

func WarnC(component, msg string) { current().Warn(msg, toFields(component, nil)...) }

func WarnCF(component, msg string, fields map[string]interface{}) {
	current().Warn(msg, toFields(component, fields)...)
}

func ErrorC(component, msg string) { current().Error(msg, toFields(component, nil)...) }

func ErrorCF(component, msg string, fields map[string]interface{}) {
	current().Error(msg, toFields(component, fields)...)
}

// ---------------------------------------------------------------------------
// Component handle
// ---------------------------------------------------------------------------

// ComponentLogger is a logger bound to one component name. Plugins receive
// one of these in their initialization context.
type ComponentLogger struct {
	component string
}

// Component returns a handle that tags every entry with name.
func Component(name string) *ComponentLogger {
	return &ComponentLogger{component: name}
}

// Name returns the component tag.
func (c *ComponentLogger) Name() string { return c.component }

func (c *ComponentLogger) Debug(msg string, fields map[string]interface{}) {
	DebugCF(c.component, msg, fields)
}

func (c *ComponentLogger) Info(msg string, fields map[string]interface{}) {
	InfoCF(c.component, msg, fields)
}

func (c *ComponentLogger) Warn(msg string, fields map[string]interface{}) {
	WarnCF(c.component, msg, fields)
}

func (c *ComponentLogger) Error(msg string, fields map[string]interface{}) {
	ErrorCF(c.component, msg, fields)
}
