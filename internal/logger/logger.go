// Package logger provides the application logger: cometbft's key/value TM
// logger, filtered to errors unless debug is enabled.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// Logger wraps a cometbft logger with the debug flag and printf helpers.
type Logger struct {
	debug bool
	cmtlog.Logger
}

// New creates a logger on stderr. Without debug nothing is written.
func New(debug bool) *Logger {
	var writer io.Writer = io.Discard
	if debug {
		writer = os.Stderr
	}
	return NewWithWriter(debug, writer)
}

// NewWithWriter creates a logger on w. Without debug only errors pass.
func NewWithWriter(debug bool, w io.Writer) *Logger {
	allow := cmtlog.AllowError()
	if debug {
		allow = cmtlog.AllowDebug()
	}
	return &Logger{
		debug:  debug,
		Logger: cmtlog.NewFilter(cmtlog.NewTMLogger(cmtlog.NewSyncWriter(w)), allow),
	}
}

// Debugging reports whether debug output is enabled.
func (l *Logger) Debugging() bool { return l.debug }

// Printf logs at info level if debug is enabled
func (l *Logger) Printf(format string, v ...interface{}) {
	if l.debug {
		l.Logger.Info(fmt.Sprintf(format, v...))
	}
}

// Println logs at info level if debug is enabled
func (l *Logger) Println(v ...interface{}) {
	if l.debug {
		l.Logger.Info(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
	}
}

// Fatalf always logs, then exits
func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.Logger.Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}
