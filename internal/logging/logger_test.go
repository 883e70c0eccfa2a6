package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"yatrt/internal/config"
)

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestRegistry_FollowsBaseLevel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := NewRegistry(zap.New(core), config.LoggingConfig{})

	l := r.Get(CategoryLocking)
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "shown", entry.Message)
	assert.Equal(t, "locking", entry.LoggerName)
	assert.False(t, r.Enabled(CategoryLocking))
}

func TestRegistry_VerboseWithoutDebugMode(t *testing.T) {
	cfg := config.DefaultConfig().Logging
	require.False(t, cfg.DebugMode)
	cfg.File = filepath.Join(t.TempDir(), "yat.log")

	base, err := New(cfg, true)
	require.NoError(t, err)
	r := NewRegistry(base, cfg)

	r.Get(CategoryLaunch).Info("launching real-time task")
	r.Get(CategoryMode).Debug("waiting for release")
	_ = r.Sync()

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "launching real-time task")
	assert.Contains(t, string(data), "waiting for release")
	assert.True(t, r.Enabled(CategoryLaunch))
}

func TestRegistry_DefaultConfigIsQuiet(t *testing.T) {
	cfg := config.DefaultConfig().Logging
	cfg.File = filepath.Join(t.TempDir(), "yat.log")

	base, err := New(cfg, false)
	require.NoError(t, err)
	r := NewRegistry(base, cfg)

	r.Get(CategoryLaunch).Info("launching real-time task")
	r.Get(CategoryLaunch).Warn("migration skipped")
	_ = r.Sync()

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "launching real-time task")
	assert.Contains(t, string(data), "migration skipped")
	assert.False(t, r.Enabled(CategoryLaunch))
}

func TestRegistry_DebugMode(t *testing.T) {
	base, logs := observed()
	r := NewRegistry(base, config.LoggingConfig{
		DebugMode:  true,
		Categories: map[string]bool{"ctrlpage": false},
	})

	r.Get(CategoryKernel).Debug("mapped")
	r.Get(CategoryCtrlPage).Error("dropped")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kernel", logs.All()[0].LoggerName)
	assert.True(t, r.Enabled(CategoryKernel))
	assert.False(t, r.Enabled(CategoryCtrlPage))
}

func TestRegistry_Cached(t *testing.T) {
	r := NewRegistry(nil, config.LoggingConfig{DebugMode: true})
	assert.Same(t, r.Get(CategoryMode), r.Get(CategoryMode))
	assert.NoError(t, r.Sync())
}

func TestNew(t *testing.T) {
	file := filepath.Join(t.TempDir(), "yat.log")
	l, err := New(config.LoggingConfig{Level: "info", Format: "json", File: file}, false)
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("written")
	_ = l.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"written"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNew_Verbose(t *testing.T) {
	file := filepath.Join(t.TempDir(), "yat.log")
	l, err := New(config.LoggingConfig{Level: "error", File: file}, true)
	require.NoError(t, err)

	l.Debug("debugging")
	_ = l.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debugging")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"}, false)
	assert.Error(t, err)
}

func TestCategories(t *testing.T) {
	seen := make(map[Category]bool)
	for _, c := range Categories {
		assert.False(t, seen[c], c)
		seen[c] = true
	}
	assert.Len(t, Categories, 8)
}
