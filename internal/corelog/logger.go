// Package corelog defines the narrow logging surface used across the
// storage core, backed by zap the way src/app/start.go builds one for its
// server entrypoint.
package corelog

import "go.uber.org/zap"

// Logger is the subset of *zap.SugaredLogger the storage core depends on.
// Components take a Logger instead of a concrete *zap.SugaredLogger so tests
// can swap in Noop().
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// New builds a development-mode zap logger. Callers that want production
// settings should construct their own zap.Logger and call .Sugar().
func New() Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		return Noop()
	}
	return l.Sugar()
}

type noop struct{}

func (noop) Debugw(string, ...interface{}) {}
func (noop) Infow(string, ...interface{})  {}
func (noop) Warnw(string, ...interface{})  {}
func (noop) Errorw(string, ...interface{}) {}

// Noop returns a Logger that discards everything, for tests.
func Noop() Logger { return noop{} }
