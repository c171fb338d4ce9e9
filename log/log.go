// Package log provides the process-wide structured logger used by every
// other package in waddle: a package-level logrus instance plus short
// helper functions so call sites never touch the underlying library
// directly.
package log

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu  sync.RWMutex
	std = newLogger(os.Stderr, logrus.InfoLevel)
)

func newLogger(w io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Configure replaces the process-wide logger's output and level. Call once
// at startup from main after reading the server configuration.
func Configure(w io.Writer, debug bool) {
	mu.Lock()
	defer mu.Unlock()
	lvl := logrus.InfoLevel
	if debug {
		lvl = logrus.DebugLevel
	}
	std = newLogger(w, lvl)
}

func logger() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// WithFields returns a logrus.Entry pre-populated with structured fields,
// for call sites that want to attach e.g. stream_id/jid without string
// interpolation.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return logger().WithFields(fields)
}

func Debugf(format string, args ...interface{}) { logger().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { logger().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { logger().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { logger().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { logger().Fatalf(format, args...) }

// Error logs a Go error value at error level, redacting nothing by default;
// callers handling credentials/tokens must pre-redact before calling this
// (see errors.Redact).
func Error(err error) {
	if err == nil {
		return
	}
	logger().Error(err)
}
