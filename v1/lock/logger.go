package lock

import (
	"context"
	"fmt"
	"log"
	"os"
)

// Logger is the interface that wraps the logging methods used by the engines.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
}

// defaultLogger logs to the standard library log package.
type defaultLogger struct {
	debug *log.Logger
	warn  *log.Logger
	error *log.Logger
}

func newDefaultLogger() *defaultLogger {
	return &defaultLogger{
		debug: log.New(os.Stdout, "[DEBUG] ", log.LstdFlags),
		warn:  log.New(os.Stdout, "[WARN] ", log.LstdFlags),
		error: log.New(os.Stderr, "[ERROR] ", log.LstdFlags),
	}
}

func (l *defaultLogger) Debug(ctx context.Context, msg string, args ...any) {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.debug.Println(msg)
}

func (l *defaultLogger) Warn(ctx context.Context, msg string, args ...any) {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.warn.Println(msg)
}

func (l *defaultLogger) Error(ctx context.Context, msg string, args ...any) {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.error.Println(msg)
}

// NoopLogger is a logger that does nothing.
type NoopLogger struct{}

func (NoopLogger) Debug(ctx context.Context, msg string, args ...any) {}
func (NoopLogger) Warn(ctx context.Context, msg string, args ...any)  {}
func (NoopLogger) Error(ctx context.Context, msg string, args ...any) {}
