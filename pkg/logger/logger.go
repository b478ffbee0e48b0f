// Package logger is a level-gated, structured logging wrapper around
// logrus. The call-site API mirrors the level-gated stdlib logger this
// project started from (Init/Debug/Info/Error), but the implementation
// underneath is a real structured logger so callers can attach fields
// (peer, revision, document id) instead of interpolating them into the
// message string.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Init configures the logger's level from the LOG_LEVEL environment
// variable ("debug", "info", or "error"; defaults to "info").
func Init() {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
}

// Fields is re-exported so callers can attach structured context without
// importing logrus directly.
type Fields = logrus.Fields

// Debug logs a debug-level message.
func Debug(format string, v ...interface{}) {
	log.Debugf(format, v...)
}

// Info logs an info-level message.
func Info(format string, v ...interface{}) {
	log.Infof(format, v...)
}

// Warn logs a warn-level message.
func Warn(format string, v ...interface{}) {
	log.Warnf(format, v...)
}

// Error always logs, regardless of level.
func Error(format string, v ...interface{}) {
	log.Errorf(format, v...)
}

// WithFields returns an entry pre-populated with structured context, for
// call sites that want to attach e.g. {"peer": id, "revision": rev}.
func WithFields(fields Fields) *logrus.Entry {
	return log.WithFields(fields)
}
