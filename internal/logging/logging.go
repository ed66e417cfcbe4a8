// Package logging provides leveled printf-style helpers on top of the standard
// log package. The sink can be swapped with SetLogger so tests can capture or
// mute output.
package logging

import (
	"log"
	"strings"
	"sync"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu    sync.RWMutex
	level = LevelInfo
	logf  = log.Printf
)

// ParseLevel maps names like "DEBUG" or "warning" to a Level, defaulting to
// LevelInfo for anything unknown.
func ParseLevel(name string) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR", "CRITICAL":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel sets the minimum level that is written.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetLogger replaces the sink. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	mu.Lock()
	defer mu.Unlock()
	if f == nil {
		logf = func(string, ...interface{}) {}
		return
	}
	logf = f
}

// Debugf logs at debug level.
func Debugf(format string, v ...interface{}) { write(LevelDebug, "DEBUG: ", format, v...) }

// Infof logs at info level.
func Infof(format string, v ...interface{}) { write(LevelInfo, "INFO: ", format, v...) }

// Warnf logs at warning level.
func Warnf(format string, v ...interface{}) { write(LevelWarn, "WARN: ", format, v...) }

// Errorf logs at error level.
func Errorf(format string, v ...interface{}) { write(LevelError, "ERROR: ", format, v...) }

func write(l Level, prefix, format string, v ...interface{}) {
	mu.RLock()
	threshold, sink := level, logf
	mu.RUnlock()
	if l < threshold {
		return
	}
	sink(prefix+format, v...)
}
