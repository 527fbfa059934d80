// Package logging owns the process logger. It is a thin layer over zap: a
// production JSON logger writing under the state directory, or a console
// development logger when dev mode is on. Packages fetch the shared logger
// with L() and attach their own fields.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	Dir   string // directory for termdock.log; empty means stderr only
	Level string // "debug", "info", "warn", "error"; default "info"
	Dev   bool   // console encoder, debug level, caller info
}

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
)

// Init builds the shared logger. Safe to call more than once; the last call
// wins. Returns an error if the log directory cannot be created.
func Init(cfg Config) error {
	lvl := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := lvl.Set(cfg.Level); err != nil {
			return fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
	}

	var l *zap.Logger
	if cfg.Dev {
		zcfg := zap.NewDevelopmentConfig()
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		var err error
		l, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("build dev logger: %w", err)
		}
	} else {
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
		if cfg.Dir != "" {
			if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
				return fmt.Errorf("create log directory: %w", err)
			}
			zcfg.OutputPaths = []string{filepath.Join(cfg.Dir, "termdock.log")}
			zcfg.ErrorOutputPaths = zcfg.OutputPaths
		} else {
			zcfg.OutputPaths = []string{"stderr"}
			zcfg.ErrorOutputPaths = []string{"stderr"}
		}
		var err error
		l, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
	}

	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}

// L returns the shared logger. Before Init it is a no-op logger, so library
// code can log unconditionally.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	l := logger
	mu.RUnlock()
	_ = l.Sync()
}
