// Package logging wraps logrus with five levels (debug, info, notice,
// warning, error) and an async-signal-safe variant for use from the
// control plane's signal handlers: handlers should do as little as
// possible, deferring real formatting to the main loop.
package logging

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
)

// Level is the log sink's level enum.
type Level int

const (
	Debug Level = iota
	Info
	Notice
	Warning
	Error
)

func (l Level) logrusLevel() logrus.Level {
	switch l {
	case Debug:
		return logrus.DebugLevel
	case Info, Notice:
		return logrus.InfoLevel
	case Warning:
		return logrus.WarnLevel
	case Error:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is the daemon-wide log sink.
type Logger struct {
	base *logrus.Logger

	mu       sync.Mutex
	sigQueue *ringbuffer.RingBuffer
}

// New builds a Logger writing formatted lines to out, filtered to level
// and above. Info and Notice share logrus's info level, so a Notice
// filter also passes Info lines.
func New(out io.Writer, level Level) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(level.logrusLevel())
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{
		base:     base,
		sigQueue: ringbuffer.New(4096),
	}
}

func (l *Logger) Debugf(format string, args ...any) { l.base.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any) { l.base.Infof(format, args...) }
func (l *Logger) Warningf(format string, args ...any) { l.base.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.base.Errorf(format, args...) }

// Noticef logs at info level, tagged notice=true — logrus has no distinct
// "notice" level, so this maps onto the closest level it does have.
func (l *Logger) Noticef(format string, args ...any) {
	l.base.WithField("notice", true).Infof(format, args...)
}

// SignalSafe appends a pre-formatted line to the async queue without
// touching logrus's formatter or output mutex. Intended for call sites
// that run off the control-plane's signal-notification goroutine
// (internal/control), where only atomic writes are safe.
// Non-blocking: if the queue is full the line is dropped, never blocked
// on.
func (l *Logger) SignalSafe(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.sigQueue.Write([]byte(line + "\n"))
}

// DrainSignalQueue flushes any lines queued by SignalSafe into the normal
// logger, at notice level. Called once per multiplexor tick — never from
// a signal context itself.
func (l *Logger) DrainSignalQueue() {
	l.mu.Lock()
	n := l.sigQueue.Length()
	if n == 0 {
		l.mu.Unlock()
		return
	}
	buf := make([]byte, n)
	_, _ = l.sigQueue.Read(buf)
	l.mu.Unlock()

	l.base.WithField("notice", true).Info(string(buf))
}
