package flow

import (
	"fmt"
	"sync"
	"time"
)

// LogLevel mirrors the teacher library's level scheme so that adapters for
// any third-party logger only need to implement five printf-style methods.
type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelTrace
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// Logger is the interface the flow engine uses for all of its diagnostics.
// Any structured logger can be adapted to it; see package logging for a
// go.uber.org/zap based implementation.
type Logger interface {
	Tracef(msg string, args ...any)
	Debugf(msg string, args ...any)
	Infof(msg string, args ...any)
	Warnf(msg string, args ...any)
	Errorf(msg string, args ...any)
}

// SimpleLogger writes to stdout every message at or above the given level
// (LogLevelNone writes nothing). Useful for local
// development; production deployments should use an adapter from package logging.
type SimpleLogger LogLevel

type lazyTimestamp struct{}

func (lazyTimestamp) String() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

var stamp = lazyTimestamp{}

func (sl SimpleLogger) log(level LogLevel, tag, msg string, args []any) {
	if level >= LogLevel(sl) && LogLevel(sl) != LogLevelNone {
		fmt.Println(stamp, tag, fmt.Sprintf(msg, args...))
	}
}

func (sl SimpleLogger) Tracef(msg string, args ...any) { sl.log(LogLevelTrace, "[TRACE]", msg, args) }
func (sl SimpleLogger) Debugf(msg string, args ...any) { sl.log(LogLevelDebug, "[DEBUG]", msg, args) }
func (sl SimpleLogger) Infof(msg string, args ...any)  { sl.log(LogLevelInfo, "[INFO]", msg, args) }
func (sl SimpleLogger) Warnf(msg string, args ...any)  { sl.log(LogLevelWarn, "[WARN]", msg, args) }
func (sl SimpleLogger) Errorf(msg string, args ...any) { sl.log(LogLevelError, "[ERROR]", msg, args) }

var log Logger = SimpleLogger(LogLevelError)
var once sync.Once

// InitLogger sets the package-wide Logger used by flow. Only the first call
// takes effect, matching the teacher's one-shot initialization so that a
// library embedding flow cannot have its logger silently swapped later.
func InitLogger(l Logger) Logger {
	once.Do(func() {
		log = l
	})
	return log
}
