// Package logging provides the structured logger used across every
// dlmd component, backed by logrus instead of a bare stdlib
// *log.Logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal leveled-logging contract every component
// depends on. Components never import logrus directly, only this
// interface, so a test double can swap it out without pulling in a
// real formatter.
type Logger interface {
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Debugf(format string, v ...interface{})

	// With returns a derived logger carrying an extra structured field,
	// e.g. component="heartbeat" or peer="node-b".
	With(key string, value interface{}) Logger
}

// logrusLogger adapts a *logrus.Entry to the Logger interface.
type logrusLogger struct {
	entry *logrus.Entry
}

// New builds the default logger: text formatter, info level, writing
// to stderr. debug toggles the verbosity the way dlmd.c's -t flag
// toggles the load generator.
func New(debug bool) Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
	return &logrusLogger{entry: logrus.NewEntry(base)}
}

func (l *logrusLogger) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *logrusLogger) Warnf(format string, v ...interface{})  { l.entry.Warnf(format, v...) }
func (l *logrusLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
func (l *logrusLogger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }

func (l *logrusLogger) With(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}
