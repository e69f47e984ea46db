package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Logger is a small leveled logger with optional JSON output. Sub-loggers
// created with With() share the writer and prefix their component name, so
// concurrent workers can log without interleaving partial lines.
type Logger struct {
	min       Level
	json      bool
	component string
	mu        *sync.Mutex
	out       io.Writer
}

func New(level string, jsonOut bool) *Logger {
	return &Logger{
		min:  ParseLevel(level),
		json: jsonOut,
		mu:   &sync.Mutex{},
		out:  os.Stderr,
	}
}

// NewWriter builds a logger targeting an explicit writer. Used by tests and
// by the TUI, which owns the terminal.
func NewWriter(w io.Writer, level string, jsonOut bool) *Logger {
	l := New(level, jsonOut)
	l.out = w
	return l
}

// With returns a sub-logger tagged with a component name.
func (l *Logger) With(component string) *Logger {
	cp := *l
	cp.component = component
	return &cp
}

func (l *Logger) Enabled(v Level) bool { return v >= l.min }

func (l *Logger) Debugf(format string, a ...any) { l.log(Debug, fmt.Sprintf(format, a...)) }
func (l *Logger) Infof(format string, a ...any)  { l.log(Info, fmt.Sprintf(format, a...)) }
func (l *Logger) Warnf(format string, a ...any)  { l.log(Warn, fmt.Sprintf(format, a...)) }
func (l *Logger) Errorf(format string, a ...any) { l.log(Error, fmt.Sprintf(format, a...)) }

func (l *Logger) log(level Level, msg string) {
	if !l.Enabled(level) {
		return
	}
	lvl := levelString(level)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.json {
		payload := map[string]any{
			"ts":    time.Now().Format(time.RFC3339Nano),
			"level": lvl,
			"msg":   msg,
		}
		if l.component != "" {
			payload["component"] = l.component
		}
		_ = json.NewEncoder(l.out).Encode(payload)
		return
	}
	if l.component != "" {
		fmt.Fprintf(l.out, "%s\t%s\t%s\n", strings.ToUpper(lvl), l.component, msg)
		return
	}
	fmt.Fprintf(l.out, "%s\t%s\n", strings.ToUpper(lvl), msg)
}

func levelString(l Level) string {
	switch l {
	case Debug:
		return "debug"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}
