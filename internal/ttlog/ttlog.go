// Package ttlog is the thin process-level logger TealTree's core packages
// write to. It mirrors the teacher's own log/log.go: a package-level
// *zap.Logger set once at process startup, retrieved anywhere with Get(),
// synced before exit.
package ttlog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	global     *zap.Logger
	globalOnce sync.Once
)

// Options configures Init. LogFile, when non-empty, routes output to a
// rotating lumberjack.Logger instead of stderr.
type Options struct {
	Level       string // "trace", "debug", "info", "warn", "error"
	LogFile     string
	Development bool
}

// Init initializes the global logger. Must be called once from main();
// subsequent calls panic, matching the teacher's contract.
func Init(o Options) (syncFn func() error) {
	if IsInitialized() {
		panic("ttlog.Init initialized multiple times")
	}
	globalOnce.Do(func() {
		global = build(o)
	})
	return global.Sync
}

// IsInitialized reports whether Init has run.
func IsInitialized() bool { return global != nil }

// Get returns the global logger, or a no-op logger if Init was never
// called (useful for tests that don't care about log output).
func Get() *zap.Logger {
	if global == nil {
		return zap.NewNop()
	}
	return global
}

func build(o Options) *zap.Logger {
	level := parseLevel(o.Level)
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if o.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encoder := zapcore.NewConsoleEncoder(encCfg)

	var sink zapcore.WriteSyncer
	if o.LogFile != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   o.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	} else {
		sink = zapcore.AddSync(os.Stderr)
	}

	opts := []zap.Option{zap.AddCaller()}
	if o.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewCore(encoder, sink, level), opts...)
}

// parseLevel maps TealTree's --logging_severity vocabulary onto zap
// levels. "trace" has no zap equivalent, so it maps to Debug; workflow.cpp
// used a numeric severity where <= 0 meant "log gradients/hessians",
// which in this port corresponds to Debug level or finer.
func parseLevel(s string) zapcore.Level {
	switch s {
	case "trace", "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "", "info":
		return zapcore.InfoLevel
	default:
		return zapcore.InfoLevel
	}
}

// TraceEnabled reports whether the global logger would emit Debug-level
// records, used by internal/trainer to gate the per-tree gradient dump
// (workflow.cpp: Workflow::log_gradient) behind a cheap check.
func TraceEnabled() bool {
	return Get().Core().Enabled(zapcore.DebugLevel)
}
