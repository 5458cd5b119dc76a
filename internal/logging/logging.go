package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel orders message severities; lower values are chattier.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

var (
	level     LogLevel
	levelOnce sync.Once
)

// threshold resolves the active level once, from DEBUG and LOG_LEVEL.
// DEBUG wins so an operator can flip on verbose output without
// knowing which LOG_LEVEL the deployment sets.
func threshold() LogLevel {
	levelOnce.Do(func() { level = levelFromEnv(os.Getenv("DEBUG"), os.Getenv("LOG_LEVEL")) })
	return level
}

func levelFromEnv(debug, name string) LogLevel {
	switch strings.ToLower(debug) {
	case "1", "true", "yes", "on":
		return LevelDebug
	}
	switch strings.ToLower(name) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func logAt(l LogLevel, format string, args []interface{}) {
	if l < threshold() {
		return
	}
	log.Printf("["+strings.ToUpper(levelNames[l])+"] "+format, args...)
}

// Debug logs a message visible only with DEBUG=true or LOG_LEVEL=debug.
func Debug(format string, args ...interface{}) { logAt(LevelDebug, format, args) }

// Info logs a routine operational message.
func Info(format string, args ...interface{}) { logAt(LevelInfo, format, args) }

// Warn logs a recoverable problem.
func Warn(format string, args ...interface{}) { logAt(LevelWarn, format, args) }

// Error logs a failure.
func Error(format string, args ...interface{}) { logAt(LevelError, format, args) }

// Fatal logs the message and exits; it ignores the level threshold.
func Fatal(format string, args ...interface{}) {
	log.Fatalf("[FATAL] "+format, args...)
}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("unknown(%d)", l)
	}
	return levelNames[l]
}
