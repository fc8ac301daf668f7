// Package config loads the settings shared by log writers and readers
// from a config file and APPLOG_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	KeyRootFolder         = "root_folder"
	KeyMaxFileSize        = "max_file_size"
	KeyBufferSize         = "buffer_size"
	KeyIdleCommitInterval = "idle_commit_interval"
	KeyPurgeInterval      = "purge_interval"
	KeyMaxLogSize         = "max_log_size"
	KeyPollInterval       = "poll_interval"

	EnvPrefix = "APPLOG"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// RootFolder is the base directory of all named logs
	RootFolder string
	// MaxFileSize is the size at which the writer rotates to a new segment
	MaxFileSize int64
	BufferSize  int
	// IdleCommitInterval commits pending records once no write happened for this long, 0 disables
	IdleCommitInterval time.Duration
	// PurgeInterval is the period of the background retention sweep, 0 disables
	PurgeInterval time.Duration
	// MaxLogSize bounds the committed segments except the newest, <= 0 keeps everything
	MaxLogSize int64
	// PollInterval is how often readers look for newly committed segments
	PollInterval time.Duration
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		RootFolder:         filepath.Join(os.TempDir(), "applog"),
		MaxFileSize:        4 << 20,
		BufferSize:         64 << 10,
		IdleCommitInterval: time.Second,
		PurgeInterval:      30 * time.Second,
		MaxLogSize:         1 << 30,
		PollInterval:       500 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.RootFolder == "" {
		return errors.New("config: root_folder is empty")
	}
	if c.MaxFileSize <= 0 {
		return errors.Errorf("config: max_file_size is %d, want > 0", c.MaxFileSize)
	}
	if c.BufferSize <= 0 {
		return errors.Errorf("config: buffer_size is %d, want > 0", c.BufferSize)
	}
	if c.IdleCommitInterval < 0 || c.PurgeInterval < 0 || c.PollInterval < 0 {
		return errors.New("config: intervals must not be negative")
	}
	return nil
}

// Load reads configuration from path (any format viper understands, by
// extension) with APPLOG_* environment overrides. If path is empty only the
// defaults and the environment are used.
func Load(path string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault(KeyRootFolder, def.RootFolder)
	v.SetDefault(KeyMaxFileSize, def.MaxFileSize)
	v.SetDefault(KeyBufferSize, def.BufferSize)
	v.SetDefault(KeyIdleCommitInterval, def.IdleCommitInterval)
	v.SetDefault(KeyPurgeInterval, def.PurgeInterval)
	v.SetDefault(KeyMaxLogSize, def.MaxLogSize)
	v.SetDefault(KeyPollInterval, def.PollInterval)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "config: read %s", path)
		}
	}

	cfg := Config{
		RootFolder:         v.GetString(KeyRootFolder),
		MaxFileSize:        int64(v.GetSizeInBytes(KeyMaxFileSize)),
		BufferSize:         int(v.GetSizeInBytes(KeyBufferSize)),
		IdleCommitInterval: v.GetDuration(KeyIdleCommitInterval),
		PurgeInterval:      v.GetDuration(KeyPurgeInterval),
		MaxLogSize:         int64(v.GetSizeInBytes(KeyMaxLogSize)),
		PollInterval:       v.GetDuration(KeyPollInterval),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
