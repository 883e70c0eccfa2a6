// Package logging builds the zap loggers used across yat. Every component logs
// under a category. With debug_mode off all categories follow the configured
// level (debug under --verbose); with it on each category can be switched off.
package logging

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"yatrt/internal/config"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot        Category = "boot"        // CLI startup, config
	CategoryKernel      Category = "kernel"      // Syscall bridge, device mapping
	CategoryCtrlPage    Category = "ctrlpage"    // Non-preemptive sections
	CategoryTask        Category = "task"        // Parameter install
	CategoryReservation Category = "reservation" // Reservation create
	CategoryMode        Category = "mode"        // Mode switches, synchronous release
	CategoryLocking     Category = "locking"     // Lock protocols
	CategoryLaunch      Category = "launch"      // Launcher setup sequence
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryBoot,
	CategoryKernel,
	CategoryCtrlPage,
	CategoryTask,
	CategoryReservation,
	CategoryMode,
	CategoryLocking,
	CategoryLaunch,
}

// New builds the base logger described by cfg. verbose forces debug level.
func New(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	}

	level, err := zapcore.ParseLevel(levelOrDefault(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid logging level %q: %w", cfg.Level, err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	zc.OutputPaths = []string{"stderr"}
	if cfg.File != "" {
		zc.OutputPaths = append(zc.OutputPaths, cfg.File)
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.With(zap.Int("pid", os.Getpid())), nil
}

func levelOrDefault(level string) string {
	if level == "" {
		return "warn"
	}
	return level
}

// Registry hands out one logger per category.
type Registry struct {
	base *zap.Logger
	cfg  config.LoggingConfig

	mu      sync.RWMutex
	loggers map[Category]*zap.Logger
}

// NewRegistry returns a registry deriving category loggers from base.
func NewRegistry(base *zap.Logger, cfg config.LoggingConfig) *Registry {
	if base == nil {
		base = zap.NewNop()
	}
	return &Registry{base: base, cfg: cfg, loggers: make(map[Category]*zap.Logger)}
}

// Get returns the logger for a category. It logs at the base logger's level
// unless debug mode switched the category off, which yields a no-op logger.
func (r *Registry) Get(category Category) *zap.Logger {
	r.mu.RLock()
	if l, ok := r.loggers[category]; ok {
		r.mu.RUnlock()
		return l
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.loggers[category]; ok {
		return l
	}

	l := zap.NewNop()
	if r.cfg.IsCategoryEnabled(string(category)) {
		l = r.base.Named(string(category))
	}
	r.loggers[category] = l
	return l
}

// Enabled reports whether a category writes below warning level.
func (r *Registry) Enabled(category Category) bool {
	if !r.cfg.IsCategoryEnabled(string(category)) {
		return false
	}
	return r.base.Core().Enabled(zapcore.InfoLevel)
}

// Sync flushes the base logger.
func (r *Registry) Sync() error {
	return r.base.Sync()
}
