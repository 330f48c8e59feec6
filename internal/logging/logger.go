package logging

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Logger is the printf-style contract every component logs through.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop discards everything.
func Nop() Logger { return nopLogger{} }

// OrNop guards optional loggers. Typed nil pointers count as absent.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	if v := reflect.ValueOf(logger); v.Kind() == reflect.Pointer && v.IsNil() {
		return Nop()
	}
	return logger
}

// NewComponentLogger returns a logger that writes through the configured
// backend under the component's name.
func NewComponentLogger(component string) Logger {
	if component == "" {
		component = "autoloom"
	}
	return &zapLogger{name: component}
}

// Recorder keeps formatted lines in memory for assertions.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *Recorder) record(level, format string, args []any) {
	line := level + " " + fmt.Sprintf(format, args...)
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *Recorder) Debug(format string, args ...any) { r.record("DEBUG", format, args) }
func (r *Recorder) Info(format string, args ...any)  { r.record("INFO", format, args) }
func (r *Recorder) Warn(format string, args ...any)  { r.record("WARN", format, args) }
func (r *Recorder) Error(format string, args ...any) { r.record("ERROR", format, args) }

// Lines returns a copy of everything recorded so far.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Contains reports whether any recorded line contains substr.
func (r *Recorder) Contains(substr string) bool {
	for _, line := range r.Lines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
