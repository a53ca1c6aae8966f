package util

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

// pionLogger forwards pion's internal logs to the pterm logger. pion is
// chatty at info level, so trace/debug/info all land on debug.
type pionLogger struct {
	scope string
}

var _ logging.LeveledLogger = (*pionLogger)(nil)

func (l *pionLogger) args() []pterm.LoggerArgument {
	return pterm.DefaultLogger.Args("pion", l.scope)
}

func (l *pionLogger) Trace(msg string) { pterm.DefaultLogger.Trace(msg, l.args()) }
func (l *pionLogger) Tracef(format string, args ...interface{}) {
	l.Trace(fmt.Sprintf(format, args...))
}
func (l *pionLogger) Debug(msg string) { pterm.DefaultLogger.Debug(msg, l.args()) }
func (l *pionLogger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}
func (l *pionLogger) Info(msg string) { pterm.DefaultLogger.Debug(msg, l.args()) }
func (l *pionLogger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}
func (l *pionLogger) Warn(msg string) { pterm.DefaultLogger.Warn(msg, l.args()) }
func (l *pionLogger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}
func (l *pionLogger) Error(msg string) { pterm.DefaultLogger.Error(msg, l.args()) }
func (l *pionLogger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

type pionLoggerFactory struct{}

func (pionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{scope: scope}
}

// NewPionLoggerFactory returns a LoggerFactory for webrtc.SettingEngine that
// writes through the same pterm logger as the rest of the program.
func NewPionLoggerFactory() logging.LoggerFactory {
	return pionLoggerFactory{}
}
