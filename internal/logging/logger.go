// Package logging provides the leveled key-value logger used across the service.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents different levels of logging
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelOff silences the logger entirely.
	LevelOff
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelOff:   "OFF",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// Logger writes "[LEVEL] component: message key=value ..." lines.
// Derived loggers share the underlying writer and lock.
type Logger struct {
	name     string
	out      *log.Logger
	mu       *sync.Mutex
	minLevel Level
}

// New creates a logger writing to stderr. Stdout is left to command output.
func New(name string, minLevel Level) *Logger {
	return &Logger{
		name:     name,
		out:      log.New(os.Stderr, "", log.LstdFlags),
		mu:       &sync.Mutex{},
		minLevel: minLevel,
	}
}

// Nop returns a logger that discards everything. Used by tests and as the
// fallback when a component is built without a logger.
func Nop() *Logger {
	l := New("", LevelOff)
	l.out.SetOutput(io.Discard)
	return l
}

// WithName returns a logger for a sub-component, e.g. "localrag.search".
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		name:     name,
		out:      l.out,
		mu:       l.mu,
		minLevel: l.minLevel,
	}
}

// WithLevel returns a copy with a different minimum level.
func (l *Logger) WithLevel(level Level) *Logger {
	return &Logger{
		name:     l.name,
		out:      l.out,
		mu:       l.mu,
		minLevel: level,
	}
}

func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.SetOutput(w)
}

func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

func (l *Logger) Enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.minLevel && l.minLevel != LevelOff
}

func (l *Logger) Debug(format string, v ...any) { l.log(LevelDebug, format, v...) }
func (l *Logger) Info(format string, v ...any)  { l.log(LevelInfo, format, v...) }
func (l *Logger) Warn(format string, v ...any)  { l.log(LevelWarn, format, v...) }
func (l *Logger) Error(format string, v ...any) { l.log(LevelError, format, v...) }

func (l *Logger) DebugKV(msg string, kv ...any) { l.logKV(LevelDebug, msg, kv...) }
func (l *Logger) InfoKV(msg string, kv ...any)  { l.logKV(LevelInfo, msg, kv...) }
func (l *Logger) WarnKV(msg string, kv ...any)  { l.logKV(LevelWarn, msg, kv...) }
func (l *Logger) ErrorKV(msg string, kv ...any) { l.logKV(LevelError, msg, kv...) }

// Printf lets the logger stand in where a *log.Logger style sink is expected.
func (l *Logger) Printf(format string, v ...any) {
	l.Info(format, v...)
}

func (l *Logger) log(level Level, format string, v ...any) {
	if !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, v...)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf("[%s] %s: %s", levelNames[level], l.name, msg)
}

func (l *Logger) logKV(level Level, msg string, keyValues ...any) {
	if !l.Enabled(level) {
		return
	}

	if len(keyValues)%2 != 0 {
		keyValues = append(keyValues, "<missing value>")
	}

	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyValues[i])
		}
		fmt.Fprintf(&b, " %s=%v", key, keyValues[i+1])
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf("[%s] %s: %s", levelNames[level], l.name, b.String())
}

// ParseLevel converts a level name to a Level. Unknown names map to info.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "OFF", "NONE", "QUIET":
		return LevelOff
	default:
		return LevelInfo
	}
}
