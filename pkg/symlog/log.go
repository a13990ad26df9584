// Package symlog is a thin leveled wrapper over the standard log package,
// used for the state core's hot-path diagnostics (global allocation,
// memory access, backtracking) the way the original Rust implementation
// logs at debug/info level throughout state.rs and memory.rs.
package symlog

import (
	"log"
	"os"
)

// Level selects which messages Logger.Debugf/Infof actually print.
type Level int

const (
	LevelSilent Level = iota
	LevelInfo
	LevelDebug
)

// Logger is a level-gated wrapper around a standard library *log.Logger.
type Logger struct {
	level Level
	std   *log.Logger
}

// New constructs a Logger writing to os.Stderr at the given level.
func New(level Level) *Logger {
	return &Logger{level: level, std: log.New(os.Stderr, "", log.LstdFlags)}
}

// Debugf logs at debug level; silent unless the logger's level is LevelDebug.
func (l *Logger) Debugf(format string, args ...any) {
	if l.level >= LevelDebug {
		l.std.Printf("DEBUG "+format, args...)
	}
}

// Infof logs at info level; silent when the logger's level is LevelSilent.
func (l *Logger) Infof(format string, args ...any) {
	if l.level >= LevelInfo {
		l.std.Printf("INFO "+format, args...)
	}
}
