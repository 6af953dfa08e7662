package websocket

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Logger receives transport-level diagnostics. The core invokes it but never owns its output.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}

// ConsoleLogger writes one line per entry, with the level tag colored.
type ConsoleLogger struct {
	mu    sync.Mutex
	out   io.Writer
	debug bool

	debugTag *color.Color
	infoTag  *color.Color
	errorTag *color.Color
}

// NewConsoleLogger creates a logger writing to out. Debug entries are dropped unless debug is set.
func NewConsoleLogger(out io.Writer, debug bool) *ConsoleLogger {
	return &ConsoleLogger{
		out:      out,
		debug:    debug,
		debugTag: color.New(color.FgHiBlack),
		infoTag:  color.New(color.FgCyan),
		errorTag: color.New(color.FgRed, color.Bold),
	}
}

// Debugf writes protocol traffic, only when debug output is enabled
func (l *ConsoleLogger) Debugf(format string, args ...any) {
	if !l.debug {
		return
	}
	l.write(l.debugTag, "DEBUG", format, args...)
}

// Infof writes lifecycle events
func (l *ConsoleLogger) Infof(format string, args ...any) {
	l.write(l.infoTag, "INFO", format, args...)
}

// Errorf writes failures
func (l *ConsoleLogger) Errorf(format string, args ...any) {
	l.write(l.errorTag, "ERROR", format, args...)
}

func (l *ConsoleLogger) write(tag *color.Color, level string, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprint(l.out, time.Now().Format(time.RFC3339), " ")
	tag.Fprintf(l.out, "[%s]", level)
	fmt.Fprintf(l.out, " "+format+"\n", args...)
}
