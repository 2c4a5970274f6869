// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package log

import (
	"context"
	"log/slog"
	"os"
	"time"

	luxlog "github.com/luxfi/log"
)

// handlerAdapter adapts a plain slog.Handler to the luxfi/log.Logger
// interface so the gateway can direct its logs at any slog sink. The
// embedded Logger supplies the rest of the (large) luxfi/log.Logger
// surface that has no slog.Handler equivalent (Fatal, Verbo, WithFields,
// WithOptions, SetLevel/GetLevel, StopOnPanic, RecoverAndPanic/Exit, Stop,
// and the raw io.Writer path).
type handlerAdapter struct {
	luxlog.Logger
	handler slog.Handler
}

// NewFromHandler wraps an slog handler as a luxfi/log Logger.
func NewFromHandler(handler slog.Handler) luxlog.Logger {
	return &handlerAdapter{Logger: luxlog.New(), handler: handler}
}

func (a *handlerAdapter) With(ctx ...interface{}) luxlog.Logger {
	attrs := ctxToAttrs(ctx)
	if len(attrs) == 0 {
		return a
	}
	return &handlerAdapter{Logger: a.Logger, handler: a.handler.WithAttrs(attrs)}
}

func (a *handlerAdapter) New(ctx ...interface{}) luxlog.Logger {
	return a.With(ctx...)
}

func (a *handlerAdapter) Log(level slog.Level, msg string, ctx ...interface{}) {
	a.WriteLog(level, msg, ctx...)
}

func (a *handlerAdapter) Trace(msg string, ctx ...interface{}) {
	a.WriteLog(luxlog.LevelTrace, msg, ctx...)
}

func (a *handlerAdapter) Debug(msg string, ctx ...interface{}) {
	a.WriteLog(slog.LevelDebug, msg, ctx...)
}

func (a *handlerAdapter) Info(msg string, ctx ...interface{}) {
	a.WriteLog(slog.LevelInfo, msg, ctx...)
}

func (a *handlerAdapter) Warn(msg string, ctx ...interface{}) {
	a.WriteLog(slog.LevelWarn, msg, ctx...)
}

func (a *handlerAdapter) Error(msg string, ctx ...interface{}) {
	a.WriteLog(slog.LevelError, msg, ctx...)
}

func (a *handlerAdapter) Crit(msg string, ctx ...interface{}) {
	a.WriteLog(luxlog.LevelCrit, msg, ctx...)
	os.Exit(1)
}

func (a *handlerAdapter) WriteLog(level slog.Level, msg string, attrs ...any) {
	if !a.handler.Enabled(context.Background(), level) {
		return
	}
	record := slog.NewRecord(time.Now(), level, msg, 0)
	record.AddAttrs(ctxToAttrs(attrs)...)
	_ = a.handler.Handle(context.Background(), record)
}

func (a *handlerAdapter) Enabled(ctx context.Context, level slog.Level) bool {
	return a.handler.Enabled(ctx, level)
}

func (a *handlerAdapter) EnabledLevel(lvl slog.Level) bool {
	return a.Enabled(context.Background(), lvl)
}

func (a *handlerAdapter) Handler() slog.Handler {
	return a.handler
}

// ctxToAttrs converts key-value pairs to slog attrs, dropping malformed
// pairs rather than panicking in a logging path.
func ctxToAttrs(ctx []interface{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(ctx)/2)
	for i := 0; i < len(ctx)-1; i += 2 {
		if key, ok := ctx[i].(string); ok {
			attrs = append(attrs, slog.Any(key, ctx[i+1]))
		}
	}
	return attrs
}
