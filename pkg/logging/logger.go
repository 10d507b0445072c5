package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger provides leveled logging for pipeline components.
// The abstraction allows swapping implementations without touching callers.
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})
}

// defaultLogger implements Logger using the standard log package.
type defaultLogger struct {
	errorLogger *log.Logger
	warnLogger  *log.Logger
	infoLogger  *log.Logger
	debugLogger *log.Logger
}

// New creates the default logger: errors and warnings to stderr,
// info and debug to stdout.
func New() Logger {
	return &defaultLogger{
		errorLogger: log.New(os.Stderr, "[ERROR] ", log.LstdFlags|log.Lshortfile),
		warnLogger:  log.New(os.Stderr, "[WARN] ", log.LstdFlags|log.Lshortfile),
		infoLogger:  log.New(os.Stdout, "[INFO] ", log.LstdFlags|log.Lshortfile),
		debugLogger: log.New(os.Stdout, "[DEBUG] ", log.LstdFlags|log.Lshortfile),
	}
}

// NewWithWriter creates a logger with all levels directed at w and no
// timestamp flags. Mainly useful in tests.
func NewWithWriter(w io.Writer) Logger {
	return &defaultLogger{
		errorLogger: log.New(w, "[ERROR] ", 0),
		warnLogger:  log.New(w, "[WARN] ", 0),
		infoLogger:  log.New(w, "[INFO] ", 0),
		debugLogger: log.New(w, "[DEBUG] ", 0),
	}
}

// NewNop creates a logger that discards everything.
func NewNop() Logger {
	return NewWithWriter(io.Discard)
}

func (l *defaultLogger) Error(args ...interface{}) {
	_ = l.errorLogger.Output(2, fmt.Sprint(args...))
}

func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	_ = l.errorLogger.Output(2, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Warn(args ...interface{}) {
	_ = l.warnLogger.Output(2, fmt.Sprint(args...))
}

func (l *defaultLogger) Warnf(format string, args ...interface{}) {
	_ = l.warnLogger.Output(2, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Info(args ...interface{}) {
	_ = l.infoLogger.Output(2, fmt.Sprint(args...))
}

func (l *defaultLogger) Infof(format string, args ...interface{}) {
	_ = l.infoLogger.Output(2, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Debug(args ...interface{}) {
	_ = l.debugLogger.Output(2, fmt.Sprint(args...))
}

func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	_ = l.debugLogger.Output(2, fmt.Sprintf(format, args...))
}
