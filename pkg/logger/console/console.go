package console

import (
	"io"
	"os"

	"github.com/OFFIS-RIT/depparse/pkg/logger"

	"github.com/charmbracelet/log"
)

// ConsoleLogger implements logger.LoggerInstance using charmbracelet/log.
type ConsoleLogger struct {
	logger *log.Logger
}

// ConsoleLoggerParams contains configuration for creating a ConsoleLogger.
type ConsoleLoggerParams struct {
	Debug bool
	// Prefix is prepended to every line, e.g. the process name.
	Prefix string
	// JSON switches to one JSON object per line.
	JSON bool
	// Output defaults to stderr.
	Output io.Writer
}

// NewConsoleLogger creates a new console logger.
func NewConsoleLogger(params ConsoleLoggerParams) *ConsoleLogger {
	level := log.InfoLevel
	if params.Debug {
		level = log.DebugLevel
	}
	formatter := log.TextFormatter
	if params.JSON {
		formatter = log.JSONFormatter
	}
	out := params.Output
	if out == nil {
		out = os.Stderr
	}

	return &ConsoleLogger{
		logger: log.NewWithOptions(out, log.Options{
			ReportTimestamp: true,
			Level:           level,
			Prefix:          params.Prefix,
			Formatter:       formatter,
		}),
	}
}

var levels = map[logger.Level]log.Level{
	logger.DebugLevel: log.DebugLevel,
	logger.InfoLevel:  log.InfoLevel,
	logger.WarnLevel:  log.WarnLevel,
	logger.ErrorLevel: log.ErrorLevel,
	logger.FatalLevel: log.FatalLevel,
}

// Write logs the message at the given level. FatalLevel is written like any
// other level; terminating is left to the logger package.
func (c *ConsoleLogger) Write(level logger.Level, message string, keyvals ...any) {
	lvl, ok := levels[level]
	if !ok {
		lvl = log.InfoLevel
	}
	c.logger.Log(lvl, message, keyvals...)
}
