// Package config loads llinstall settings from an optional config file,
// LLINSTALL_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/goplus/llinstall/internal/env"
)

const (
	// AppName is the application name.
	AppName = "llinstall"
	// EnvPrefix is the prefix of environment variables, e.g. LLINSTALL_WORK_DIR.
	EnvPrefix = "LLINSTALL"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
)

// Config holds the settings of a run.
type Config struct {
	WorkDir  string `mapstructure:"work_dir"`
	LogLevel string `mapstructure:"log_level"`
	// OnConflict is the prefix conflict policy, "wipe" or "reject". It has
	// no default.
	OnConflict string `mapstructure:"on_conflict"`
	S3         S3     `mapstructure:"s3"`
}

// S3 configures access to s3:// archive URLs.
type S3 struct {
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Secure   bool   `mapstructure:"secure"`
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"work-dir":    "work_dir",
	"log-level":   "log_level",
	"on-conflict": "on_conflict",
}

// Dir returns the directory searched for the config file.
func Dir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

// Load reads the configuration. If file is empty, config.yaml or
// config.toml in Dir is used when present. Flags of fs that were set on the
// command line override every other source.
func Load(file string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	workDir, err := env.WorkDir()
	if err != nil {
		return nil, err
	}
	v.SetDefault("work_dir", workDir)
	v.SetDefault("log_level", "info")
	v.SetDefault("on_conflict", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.secure", true)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else if dir, err := Dir(); err == nil {
		v.SetConfigName(ConfigFileName)
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	switch c.OnConflict {
	case "", "wipe", "reject":
	default:
		return fmt.Errorf("config: on_conflict: %q is not one of wipe, reject", c.OnConflict)
	}
	if c.WorkDir == "" {
		return errors.New("config: work_dir is empty")
	}
	return nil
}

// SourcesDir is where fetched sources are kept.
func (c *Config) SourcesDir() string {
	return filepath.Join(c.WorkDir, "sources")
}

// InstallsDir is the default parent of install prefixes.
func (c *Config) InstallsDir() string {
	return filepath.Join(c.WorkDir, "installs")
}

// BinDir is the default directory of generated launchers.
func (c *Config) BinDir() string {
	return filepath.Join(c.WorkDir, "bin")
}
