package logger

import (
	"os"
	"sync/atomic"
)

// Level is the severity of a log entry.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	default:
		return "unknown"
	}
}

// LoggerInstance is a logging backend. Write must not terminate the
// process, not even for FatalLevel.
type LoggerInstance interface {
	Write(level Level, message string, keyvals ...any)
}

// Logger dispatches every entry to all of its backends.
type Logger struct {
	instances []LoggerInstance
}

var singleton atomic.Pointer[Logger]

// exit is replaced in tests.
var exit = os.Exit

// Init installs the global logger with one or more backends. Until it is
// called all logging is discarded.
func Init(instances ...LoggerInstance) {
	singleton.Store(&Logger{instances: instances})
}

func write(level Level, message string, keyvals []any) {
	l := singleton.Load()
	if l == nil {
		return
	}
	for _, instance := range l.instances {
		instance.Write(level, message, keyvals...)
	}
}

// Debug writes a message at DEBUG level to all configured backends.
func Debug(message string, keyvals ...any) {
	write(DebugLevel, message, keyvals)
}

// Info writes a message at INFO level to all configured backends.
func Info(message string, keyvals ...any) {
	write(InfoLevel, message, keyvals)
}

// Warn writes a message at WARN level to all configured backends.
func Warn(message string, keyvals ...any) {
	write(WarnLevel, message, keyvals)
}

// Error writes a message at ERROR level to all configured backends.
func Error(message string, keyvals ...any) {
	write(ErrorLevel, message, keyvals)
}

// Fatal writes a message at FATAL level to all backends and terminates the
// program with exit code 1.
func Fatal(message string, keyvals ...any) {
	write(FatalLevel, message, keyvals)
	exit(1)
}
