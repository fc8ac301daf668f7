package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Nil(t, cfg.Validate())
	assert.Equal(t, int64(4<<20), cfg.MaxFileSize)
	assert.Equal(t, time.Second, cfg.IdleCommitInterval)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	assert.Nil(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "applog.yaml")
	data := []byte(`
root_folder: /var/lib/applog
max_file_size: 1mb
buffer_size: 4096
idle_commit_interval: 250ms
purge_interval: 1m
max_log_size: 10mb
`)
	require.Nil(t, os.WriteFile(file, data, 0644))

	cfg, err := Load(file)
	assert.Nil(t, err)
	assert.Equal(t, "/var/lib/applog", cfg.RootFolder)
	assert.Equal(t, int64(1<<20), cfg.MaxFileSize)
	assert.Equal(t, 4096, cfg.BufferSize)
	assert.Equal(t, 250*time.Millisecond, cfg.IdleCommitInterval)
	assert.Equal(t, time.Minute, cfg.PurgeInterval)
	assert.Equal(t, int64(10<<20), cfg.MaxLogSize)
	assert.Equal(t, Default().PollInterval, cfg.PollInterval)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("APPLOG_ROOT_FOLDER", "/srv/logs")
	t.Setenv("APPLOG_IDLE_COMMIT_INTERVAL", "2s")

	cfg, err := Load("")
	assert.Nil(t, err)
	assert.Equal(t, "/srv/logs", cfg.RootFolder)
	assert.Equal(t, 2*time.Second, cfg.IdleCommitInterval)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, err)

	t.Setenv("APPLOG_MAX_FILE_SIZE", "0")
	_, err = Load("")
	assert.NotNil(t, err)
}
