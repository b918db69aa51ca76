// Package logging provides the ambient logging surface shared by every
// bridge component. Components take a Logger at construction time rather
// than reaching for a package-level global.
package logging

import (
	"fmt"
	"log"
	"os"
)

// Logger is the minimal leveled-logging surface the bridge depends on.
// Embedders may supply their own implementation (platform log sink,
// structured logger, no-op) in place of DefaultLogger.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

const calldepth = 3

// DefaultLogger wraps the standard library logger with level prefixes and
// an optional debug gate, matching the shape embedders get for free when
// they don't provide their own Logger.
type DefaultLogger struct {
	*log.Logger
	debug bool
}

// NewDefaultLogger returns a DefaultLogger writing to stderr with debug
// output disabled.
func NewDefaultLogger(prefix string) *DefaultLogger {
	return &DefaultLogger{
		Logger: log.New(os.Stderr, prefix+" ", log.LstdFlags),
	}
}

// ToggleDebug enables or disables Debugf output and returns the new state.
func (l *DefaultLogger) ToggleDebug(on bool) bool {
	l.debug = on
	return l.debug
}

func level(tag, msg string) string {
	return fmt.Sprintf("[%s] %s", tag, msg)
}

func (l *DefaultLogger) Infof(format string, args ...interface{}) {
	l.Output(calldepth, level("INFO", fmt.Sprintf(format, args...)))
}

func (l *DefaultLogger) Warnf(format string, args ...interface{}) {
	l.Output(calldepth, level("WARN", fmt.Sprintf(format, args...)))
}

func (l *DefaultLogger) Errorf(format string, args ...interface{}) {
	l.Output(calldepth, level("ERROR", fmt.Sprintf(format, args...)))
}

func (l *DefaultLogger) Debugf(format string, args ...interface{}) {
	if l.debug {
		l.Output(calldepth, level("DEBUG", fmt.Sprintf(format, args...)))
	}
}

// NopLogger discards everything. Useful in tests that don't want log
// noise but still need to satisfy the Logger interface.
type NopLogger struct{}

func (NopLogger) Infof(string, ...interface{})  {}
func (NopLogger) Warnf(string, ...interface{})  {}
func (NopLogger) Errorf(string, ...interface{}) {}
func (NopLogger) Debugf(string, ...interface{}) {}
