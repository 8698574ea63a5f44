package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Log levels accepted in config (log.level).
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

var (
	globalLogger *Logger
	once         sync.Once
)

// Get returns the process logger. The first call sets the initial level;
// later calls return the same instance. Change the level with SetLevel.
func Get(level string) *Logger {
	once.Do(func() {
		globalLogger = newZapLogger(normalizeLevel(level))
	})
	return globalLogger
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return NewNop()
	}
	return l
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.Named(component), level: l.level}
}

// SetLevel changes the minimum level at runtime for l and every logger
// sharing its core. Unknown names fall back to info.
func (l *Logger) SetLevel(level string) {
	l.level.SetLevel(toZapLevel(normalizeLevel(level)))
}

// Level reports the current minimum level.
func (l *Logger) Level() string {
	return l.level.Level().String()
}

func normalizeLevel(level string) string {
	return strings.ToLower(strings.TrimSpace(level))
}
