package internal

import (
	"io"
	"log"
	"os"
	"strings"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is a leveled logger with a component prefix, e.g. "[ENGINE]".
type Logger struct {
	level  LogLevel
	logger *log.Logger
}

// NewLogger creates a logger for one component writing to w.
func NewLogger(level LogLevel, component string, w io.Writer) *Logger {
	prefix := ""
	if component != "" {
		prefix = "[" + component + "] "
	}
	return &Logger{
		level:  level,
		logger: log.New(w, prefix, log.LstdFlags),
	}
}

// NewComponentLogger creates a stdout logger for one component.
func NewComponentLogger(level LogLevel, component string) *Logger {
	return NewLogger(level, component, os.Stdout)
}

func (l *Logger) Debug(format string, args ...interface{}) { l.print(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.print(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.print(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.print(ERROR, format, args...) }

func (l *Logger) print(level LogLevel, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.logger.Printf("["+level.String()+"] "+format, args...)
}

// ParseLogLevel parses a log level name, defaulting to INFO.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}
