// Package main: structured logging.
//
// Every component receives a logger already tagged with a "component"
// key so log lines can be filtered the way spec.md's bracketed tags
// ([up], [down], [gps], [main]) were meant to be filtered, without
// hand-rolling prefix strings.
package main

import (
	"os"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// NewRootLogger builds the base logger all components derive from.
func NewRootLogger() log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	return logger
}

// WithComponent tags a logger with the named subsystem.
func WithComponent(logger log.Logger, component string) log.Logger {
	return log.With(logger, "component", component)
}

// WithEndpoint further tags a component logger with the remote endpoint
// it's serving, for the one-task-per-endpoint components (C5/C7).
func WithEndpoint(logger log.Logger, addr string) log.Logger {
	return log.With(logger, "endpoint", addr)
}

func logDebug(logger log.Logger, msg string, kv ...interface{}) {
	level.Debug(logger).Log(append([]interface{}{"msg", msg}, kv...)...)
}

func logInfo(logger log.Logger, msg string, kv ...interface{}) {
	level.Info(logger).Log(append([]interface{}{"msg", msg}, kv...)...)
}

func logWarn(logger log.Logger, msg string, kv ...interface{}) {
	level.Warn(logger).Log(append([]interface{}{"msg", msg}, kv...)...)
}

func logError(logger log.Logger, msg string, kv ...interface{}) {
	level.Error(logger).Log(append([]interface{}{"msg", msg}, kv...)...)
}
