// Package plog is the ambient logging facade used across the runtime core.
// It exposes a package-level singleton, swappable at runtime, backed by
// zap.SugaredLogger so that handler, middleware, and assembler code never
// reaches for fmt.Println or the stdlib log package directly.
package plog

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	singleton.Store(l.Sugar())
}

// SetLogger replaces the package-level logger. Tests and embedders use this
// to redirect output or inject a development/nop logger.
func SetLogger(l *zap.SugaredLogger) {
	singleton.Store(l)
}

// L returns the current singleton logger.
func L() *zap.SugaredLogger {
	return singleton.Load()
}

func Debug(args ...any)                  { L().Debug(args...) }
func Debugf(template string, args ...any) { L().Debugf(template, args...) }
func Debugw(msg string, kv ...any)        { L().Debugw(msg, kv...) }

func Info(args ...any)                  { L().Info(args...) }
func Infof(template string, args ...any) { L().Infof(template, args...) }
func Infow(msg string, kv ...any)        { L().Infow(msg, kv...) }

func Warn(args ...any)                  { L().Warn(args...) }
func Warnf(template string, args ...any) { L().Warnf(template, args...) }
func Warnw(msg string, kv ...any)        { L().Warnw(msg, kv...) }

func Error(args ...any)                  { L().Error(args...) }
func Errorf(template string, args ...any) { L().Errorf(template, args...) }
func Errorw(msg string, kv ...any)        { L().Errorw(msg, kv...) }

func DPanic(args ...any)                  { L().DPanic(args...) }
func DPanicf(template string, args ...any) { L().DPanicf(template, args...) }
func DPanicw(msg string, kv ...any)        { L().DPanicw(msg, kv...) }
