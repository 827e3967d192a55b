package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon configuration, loaded from opportunityd.yaml with
// OPPENG_* environment overrides.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "text" or "json"

	Store StoreConfig `mapstructure:"store"`

	Processor ProcessorConfig `mapstructure:"processor"`

	Sweeper SweeperConfig `mapstructure:"sweeper"`
}

// StoreConfig selects and tunes the persistence backend.
type StoreConfig struct {
	Type            string        `mapstructure:"type"` // sqlite | postgres | memory
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ProcessorConfig tunes batch execution.
type ProcessorConfig struct {
	BatchSize            int           `mapstructure:"batch_size"`
	MaxConcurrentBatches int           `mapstructure:"max_concurrent_batches"`
	BatchTimeout         time.Duration `mapstructure:"batch_timeout"`
	TargetPosition       int           `mapstructure:"target_position"`
}

// SweeperConfig tunes the stale-job sweep.
type SweeperConfig struct {
	CheckInterval  time.Duration `mapstructure:"check_interval"`
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`
}

// Load reads the daemon configuration. An empty path searches the working
// directory and $HOME/.opptool for opportunityd.yaml; a missing file is
// fine, defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.dsn", "opportunity.db")
	v.SetDefault("processor.batch_size", 100)
	v.SetDefault("processor.max_concurrent_batches", 5)
	v.SetDefault("processor.batch_timeout", 5*time.Minute)
	v.SetDefault("processor.target_position", 3)
	v.SetDefault("sweeper.check_interval", time.Minute)
	v.SetDefault("sweeper.stale_threshold", 30*time.Minute)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("opportunityd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".opptool"))
		}
	}

	v.SetEnvPrefix("OPPENG")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
