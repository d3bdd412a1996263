package gridbase

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Logger is the structured logger used by DB, the cache and the security
// layer. fields are alternating key/value pairs.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NoOpLogger discards everything. It is the default.
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, fields ...interface{}) {}
func (l *NoOpLogger) Info(msg string, fields ...interface{})  {}
func (l *NoOpLogger) Warn(msg string, fields ...interface{})  {}
func (l *NoOpLogger) Error(msg string, fields ...interface{}) {}

// StdLogger writes one "time LEVEL msg key=value..." line per entry.
type StdLogger struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel int
	now      func() time.Time
}

var logLevels = []string{"DEBUG", "INFO", "WARN", "ERROR"}

// NewStdLogger writes entries at or above level ("debug", "info", "warn",
// "error") to out. Unknown levels mean info.
func NewStdLogger(out io.Writer, level string) *StdLogger {
	min := 1
	for i, name := range logLevels {
		if strings.EqualFold(name, level) {
			min = i
		}
	}
	return &StdLogger{out: out, minLevel: min, now: time.Now}
}

func (l *StdLogger) Debug(msg string, fields ...interface{}) { l.log(0, msg, fields) }
func (l *StdLogger) Info(msg string, fields ...interface{})  { l.log(1, msg, fields) }
func (l *StdLogger) Warn(msg string, fields ...interface{})  { l.log(2, msg, fields) }
func (l *StdLogger) Error(msg string, fields ...interface{}) { l.log(3, msg, fields) }

func (l *StdLogger) log(level int, msg string, fields []interface{}) {
	if level < l.minLevel {
		return
	}
	line := fmt.Sprintf("%s %-5s %s%s\n", l.now().UTC().Format(time.RFC3339), logLevels[level], msg, formatFields(fields))

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.out, line)
}

// formatFields renders key/value pairs. A dangling key is dropped.
func formatFields(fields []interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%s", fields[i], fieldText(fields[i+1]))
	}
	return b.String()
}

func fieldText(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case string:
		if strings.ContainsAny(val, " \t\n\"=") {
			return fmt.Sprintf("%q", val)
		}
		return val
	case error:
		return fmt.Sprintf("%q", val.Error())
	default:
		return fmt.Sprint(val)
	}
}
