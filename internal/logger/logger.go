// Package logger provides structured, context-aware logging used by every
// component of the retrieval core. It wraps logrus the way the teacher
// repository's internal/logger package does: a small set of
// context-first helpers rather than exposing the logrus API directly, so
// request-scoped fields (tenant, request id, trace id) can be attached
// once and carried by every call site.
package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const fieldsKey ctxKey = "logger_fields"

var std = logrus.New()

func init() {
	std.SetFormatter(&logrus.JSONFormatter{})
}

// SetLevel sets the global log level from a string ("debug", "info", ...).
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	std.SetLevel(lvl)
}

// WithFields returns a context carrying fields that every subsequent log
// call made with it will include (tenant_id, kb_id, request_id, ...).
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	merged := logrus.Fields{}
	if existing, ok := ctx.Value(fieldsKey).(logrus.Fields); ok {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, fieldsKey, merged)
}

func entry(ctx context.Context) *logrus.Entry {
	if fields, ok := ctx.Value(fieldsKey).(logrus.Fields); ok {
		return std.WithFields(fields)
	}
	return logrus.NewEntry(std)
}

func Debug(ctx context.Context, args ...any)          { entry(ctx).Debug(args...) }
func Debugf(ctx context.Context, format string, args ...any) { entry(ctx).Debugf(format, args...) }
func Info(ctx context.Context, args ...any)           { entry(ctx).Info(args...) }
func Infof(ctx context.Context, format string, args ...any)  { entry(ctx).Infof(format, args...) }
func Warn(ctx context.Context, args ...any)           { entry(ctx).Warn(args...) }
func Warnf(ctx context.Context, format string, args ...any)  { entry(ctx).Warnf(format, args...) }
func Error(ctx context.Context, args ...any)          { entry(ctx).Error(args...) }
func Errorf(ctx context.Context, format string, args ...any) { entry(ctx).Errorf(format, args...) }

// ErrorWithFields logs err alongside ad-hoc fields, the call shape used
// throughout the teacher's handler layer for recording a failure without
// hand-writing a format string each time.
func ErrorWithFields(ctx context.Context, err error, fields logrus.Fields) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["error"] = err.Error()
	entry(ctx).WithFields(fields).Error("operation failed")
}
