// Package logging provides the process-wide structured logger for crucible.
//
// Every subsystem gets its logger via Get, which attaches a "category"
// field so log lines stay greppable without per-category log files.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies the subsystem emitting a log line.
type Category string

const (
	CategoryMark      Category = "mark"
	CategoryCrystal   Category = "crystal"
	CategorySovereign Category = "sovereign"
	CategoryEdgeGraph Category = "edgegraph"
	CategorySandbox   Category = "sandbox"
	CategoryTrust     Category = "trust"
	CategoryRPC       Category = "rpc"
	CategoryCLI       Category = "cli"
)

var (
	mu     sync.RWMutex
	base   *zap.Logger
	loggers = make(map[Category]*zap.Logger)
)

// Init configures the base logger. debug=true switches to a development
// config (console encoding, debug level); otherwise production JSON at
// info level.
func Init(debug bool) error {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	l, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	base = l
	loggers = make(map[Category]*zap.Logger)
	mu.Unlock()
	return nil
}

// Get returns the logger scoped to category, lazily attaching the field.
// If Init was never called, falls back to zap.NewNop() so packages can
// log unconditionally in tests without panicking.
func Get(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	b := base
	mu.RUnlock()

	if b == nil {
		b = zap.NewNop()
	}
	scoped := b.With(zap.String("category", string(cat)))

	mu.Lock()
	loggers[cat] = scoped
	mu.Unlock()
	return scoped
}

// Sync flushes any buffered log entries. Call during shutdown.
func Sync() error {
	mu.RLock()
	b := base
	mu.RUnlock()
	if b == nil {
		return nil
	}
	return b.Sync()
}
