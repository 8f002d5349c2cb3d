package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/worker"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := common.NewDefaultConfig()
	cfg.Paths.DataDir = dir
	cfg.Paths.CacheDir = filepath.Join(dir, "cache")
	cfg.Paths.UploadDir = filepath.Join(dir, "uploads")
	cfg.Paths.TempDir = filepath.Join(dir, "tmp")
	cfg.Storage.SQLite.Path = filepath.Join(dir, "jobs.db")
	cfg.Storage.Badger.Path = filepath.Join(dir, "badger")
	return cfg
}

func closeApp(t *testing.T, a *App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
}

func TestNew_ProcessModeWithSQLite(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg, []string{"mapgen.toml"}, arbor.NewLogger())
	require.NoError(t, err)
	defer closeApp(t, a)

	assert.IsType(t, &worker.ProcessDispatcher{}, a.Dispatcher)
	assert.NotNil(t, a.Retention)
	assert.NotNil(t, a.MapHandler)
	assert.NotNil(t, a.MonitorHandler)
	assert.NotNil(t, a.APIHandler)
	assert.DirExists(t, cfg.Paths.CacheDir)
	assert.DirExists(t, cfg.Paths.UploadDir)
}

func TestNew_BadgerForcesInProcess(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "badger"
	cfg.Retention.Enabled = false

	a, err := New(cfg, nil, arbor.NewLogger())
	require.NoError(t, err)
	defer closeApp(t, a)

	assert.IsType(t, &worker.WorkerPool{}, a.Dispatcher)
	assert.Equal(t, "inprocess", cfg.Worker.Mode)
	assert.Nil(t, a.Retention)
}

func TestNew_BadRetentionSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.Schedule = "whenever"

	_, err := New(cfg, nil, arbor.NewLogger())
	assert.Error(t, err)
}
