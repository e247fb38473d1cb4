// Package log provides a structured logging wrapper around logrus.
package log

import (
	"io"
	"log/syslog"
	"os"

	"github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
)

// SyslogTag identifies krolyk entries in the system log
const SyslogTag = "krolyk"

// Logger wraps logrus.Logger for dependency injection
type Logger struct {
	log *logrus.Logger
}

// New creates a console logger; the level comes from LOG_LEVEL (default info)
func New() *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetLevel(logrus.InfoLevel)

	logger := &Logger{log: l}
	logger.SetLevel(os.Getenv("LOG_LEVEL"))
	return logger
}

// SetLevel changes the level; unknown names are ignored
func (l *Logger) SetLevel(level string) {
	switch level {
	case "trace":
		l.log.SetLevel(logrus.TraceLevel)
	case "debug":
		l.log.SetLevel(logrus.DebugLevel)
	case "info":
		l.log.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		l.log.SetLevel(logrus.WarnLevel)
	case "error":
		l.log.SetLevel(logrus.ErrorLevel)
	}
}

// SetOutput redirects console output
func (l *Logger) SetOutput(w io.Writer) {
	l.log.SetOutput(w)
}

// EnableSyslog attaches a hook forwarding every entry to the local syslog daemon
func (l *Logger) EnableSyslog() error {
	hook, err := lsyslog.NewSyslogHook("", "", syslog.LOG_INFO|syslog.LOG_DAEMON, SyslogTag)
	if err != nil {
		return err
	}
	l.log.AddHook(hook)
	return nil
}

// GetLogrus returns the underlying logrus instance
func (l *Logger) GetLogrus() *logrus.Logger {
	return l.log
}

// Trace logs trace-level messages
func (l *Logger) Trace(format string, v ...interface{}) {
	l.log.Tracef(format, v...)
}

// Debug logs debug messages
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log.Debugf(format, v...)
}

// DebugWithFields logs a debug message with structured fields
func (l *Logger) DebugWithFields(fields logrus.Fields, format string, v ...interface{}) {
	l.log.WithFields(fields).Debugf(format, v...)
}

// Info logs informational messages
func (l *Logger) Info(format string, v ...interface{}) {
	l.log.Infof(format, v...)
}

// InfoWithFields logs an info message with structured fields
func (l *Logger) InfoWithFields(fields logrus.Fields, format string, v ...interface{}) {
	l.log.WithFields(fields).Infof(format, v...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, v ...interface{}) {
	l.log.Warnf(format, v...)
}

// WarnWithFields logs a warning with structured fields
func (l *Logger) WarnWithFields(fields logrus.Fields, format string, v ...interface{}) {
	l.log.WithFields(fields).Warnf(format, v...)
}

// Error logs error messages
func (l *Logger) Error(format string, v ...interface{}) {
	l.log.Errorf(format, v...)
}

// ErrorWithFields logs an error with structured fields
func (l *Logger) ErrorWithFields(fields logrus.Fields, format string, v ...interface{}) {
	l.log.WithFields(fields).Errorf(format, v...)
}

// WithField creates an entry with one structured field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.log.WithField(key, value)
}
