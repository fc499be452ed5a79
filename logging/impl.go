package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Logger is the structured logger handed to every component.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	CDebugw(ctx context.Context, msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Sublogger returns a child logger named "<parent>.<subname>" that shares its parent's level.
	Sublogger(subname string) Logger
	SetLevel(level Level)
	GetLevel() Level
	Sync() error
}

type impl struct {
	name  string
	level AtomicLevel
	base  *zap.Logger
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}

	return &impl{
		name:  newName,
		level: imp.level,
		base:  imp.base.Named(subname),
	}
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sync() error {
	return imp.base.Sync()
}

func (imp *impl) sugar() *zap.SugaredLogger {
	// skip the impl frame so callers show up in the caller field
	return imp.base.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func (imp *impl) Debug(args ...interface{}) {
	imp.sugar().Debug(args...)
}

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.sugar().Debugf(template, args...)
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.sugar().Debugw(msg, keysAndValues...)
}

// CDebugw logs at debug level, or at info level with a "trace" field when the context was marked
// with EnableDebugMode.
func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	if id := TraceID(ctx); id != "" {
		imp.sugar().With("trace", id).Infow(msg, keysAndValues...)
		return
	}
	imp.sugar().Debugw(msg, keysAndValues...)
}

func (imp *impl) Info(args ...interface{}) {
	imp.sugar().Info(args...)
}

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.sugar().Infof(template, args...)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.sugar().Infow(msg, keysAndValues...)
}

func (imp *impl) Warn(args ...interface{}) {
	imp.sugar().Warn(args...)
}

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.sugar().Warnf(template, args...)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.sugar().Warnw(msg, keysAndValues...)
}

func (imp *impl) Error(args ...interface{}) {
	imp.sugar().Error(args...)
}

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.sugar().Errorf(template, args...)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.sugar().Errorw(msg, keysAndValues...)
}
