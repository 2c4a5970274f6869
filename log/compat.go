// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package log provides gateway-wide logging, redirecting the familiar
// geth-style surface to luxfi/log.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	luxlog "github.com/luxfi/log"
)

// Re-export types from luxfi/log
type (
	Logger = luxlog.Logger
)

// Re-export functions from luxfi/log
var (
	New  = luxlog.New
	Root = luxlog.Root
)

// Global logging functions
func Trace(msg string, ctx ...interface{}) { luxlog.Root().Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { luxlog.Root().Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { luxlog.Root().Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { luxlog.Root().Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { luxlog.Root().Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { luxlog.Root().Crit(msg, ctx...) }

// SetDefault sets the default logger
func SetDefault(l Logger) {
	luxlog.SetDefault(l)
}

// LvlFromString returns the appropriate level from a string name
func LvlFromString(lvlString string) (slog.Level, error) {
	level, err := luxlog.ToLevel(lvlString)
	return slog.Level(level), err
}

// InitLogger builds the process logger over the given writer (JSON or text
// per the flag), installs it as the default, and returns it.
func InitLogger(level string, jsonFormat bool, writer io.Writer) (Logger, error) {
	logLevel := &slog.LevelVar{}
	parsed, err := LvlFromString(level)
	if err != nil {
		return nil, fmt.Errorf("log: invalid level %q: %w", level, err)
	}
	logLevel.Set(parsed)

	if writer == nil {
		writer = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	logger := NewFromHandler(handler)
	luxlog.SetDefault(logger)
	return logger, nil
}
