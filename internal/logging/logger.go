// Package logging provides the tuple-prefixed trace sink used
// throughout the engine: a logger that accumulates a tuple of name
// segments via Subspace and prefixes every line with it in a
// bracket-tagged style, backed by glog.
package logging

import (
	"strings"

	"github.com/golang/glog"
)

// Logger is the cross-cutting trace sink used throughout the engine.
// Implementations must be safe for concurrent use.
type Logger interface {
	Infof(format string, args ...any)
	Warningf(format string, args ...any)
	Errorf(format string, args ...any)
	// Subspace returns a child logger whose prefix is this logger's
	// tuple with name appended.
	Subspace(name string) Logger
}

type glogLogger struct {
	tuple []string
}

// New returns a root Logger backed by glog.
func New() Logger {
	return &glogLogger{}
}

func (l *glogLogger) prefix() string {
	if len(l.tuple) == 0 {
		return ""
	}
	var b strings.Builder
	for _, seg := range l.tuple {
		b.WriteByte('[')
		b.WriteString(seg)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	return b.String()
}

func (l *glogLogger) Infof(format string, args ...any) {
	glog.Infof(l.prefix()+format, args...)
}

func (l *glogLogger) Warningf(format string, args ...any) {
	glog.Warningf(l.prefix()+format, args...)
}

func (l *glogLogger) Errorf(format string, args ...any) {
	glog.Errorf(l.prefix()+format, args...)
}

func (l *glogLogger) Subspace(name string) Logger {
	tuple := make([]string, len(l.tuple)+1)
	copy(tuple, l.tuple)
	tuple[len(l.tuple)] = name
	return &glogLogger{tuple: tuple}
}

// Nop is a Logger that discards everything, for tests and for callers
// that don't want glog's process-wide flag registration.
type Nop struct{}

func (Nop) Infof(string, ...any)    {}
func (Nop) Warningf(string, ...any) {}
func (Nop) Errorf(string, ...any)   {}
func (n Nop) Subspace(string) Logger {
	return n
}

var _ Logger = (*glogLogger)(nil)
var _ Logger = Nop{}
