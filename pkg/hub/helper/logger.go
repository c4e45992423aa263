package helper

import (
	"github.com/sirupsen/logrus"

	"github.com/jabolina/go-hub/pkg/hub/types"
)

// The default logger used if the user does not provide its
// own implementation, backed by logrus.
type DefaultLogger struct {
	entry *logrus.Logger
	debug bool
}

func NewDefaultLogger() types.Logger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	return &DefaultLogger{
		entry: l,
		debug: false,
	}
}

func (l *DefaultLogger) Info(v ...interface{}) {
	l.entry.Info(v...)
}

func (l *DefaultLogger) Infof(format string, v ...interface{}) {
	l.entry.Infof(format, v...)
}

func (l *DefaultLogger) Warn(v ...interface{}) {
	l.entry.Warn(v...)
}

func (l *DefaultLogger) Warnf(format string, v ...interface{}) {
	l.entry.Warnf(format, v...)
}

func (l *DefaultLogger) Error(v ...interface{}) {
	l.entry.Error(v...)
}

func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}

func (l *DefaultLogger) Debug(v ...interface{}) {
	if l.debug {
		l.entry.Debug(v...)
	}
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.entry.Debugf(format, v...)
	}
}

func (l *DefaultLogger) Fatal(v ...interface{}) {
	l.entry.Fatal(v...)
}

func (l *DefaultLogger) Fatalf(format string, v ...interface{}) {
	l.entry.Fatalf(format, v...)
}

func (l *DefaultLogger) Panic(v ...interface{}) {
	l.entry.Panic(v...)
}

func (l *DefaultLogger) Panicf(format string, v ...interface{}) {
	l.entry.Panicf(format, v...)
}

func (l *DefaultLogger) ToggleDebug(value bool) bool {
	old := l.debug
	l.debug = value
	return old
}
