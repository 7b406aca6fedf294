// Package config loads debugserver settings from defaults, an optional YAML
// file and DEBUGSERVER_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/viper"
	"github.com/vsrad/debugserver/internal/files"
	inet "github.com/vsrad/debugserver/internal/net"
	"github.com/vsrad/debugserver/internal/version"
)

const (
	FileName  = "debugserver.yaml"
	EnvPrefix = "DEBUGSERVER"
)

type Config struct {
	ListenAddr       string        `mapstructure:"listen_addr"`
	Verbose          bool          `mapstructure:"verbose"`
	StatusAddr       string        `mapstructure:"status_addr"`
	MaxMessageSize   uint32        `mapstructure:"max_message_size"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	LogFile          string        `mapstructure:"log_file"`
	MinClientVersion string        `mapstructure:"min_client_version"`
	KillWaitDelay    time.Duration `mapstructure:"kill_wait_delay"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// Defaults are the settings used when nothing overrides them.
var Defaults = Config{
	ListenAddr:       "0.0.0.0:9339",
	MaxMessageSize:   256 << 20,
	MinClientVersion: version.Version,
	KillWaitDelay:    2 * time.Second,
}

// Load reads the configuration. If path is empty, FileName is searched for in
// workDir and its parents, and a missing file is not an error.
func Load(path, workDir string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen_addr", Defaults.ListenAddr)
	v.SetDefault("verbose", Defaults.Verbose)
	v.SetDefault("status_addr", Defaults.StatusAddr)
	v.SetDefault("max_message_size", Defaults.MaxMessageSize)
	v.SetDefault("write_timeout", Defaults.WriteTimeout)
	v.SetDefault("log_file", Defaults.LogFile)
	v.SetDefault("min_client_version", Defaults.MinClientVersion)
	v.SetDefault("kill_wait_delay", Defaults.KillWaitDelay)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" && workDir != "" {
		found, err := files.FindUp(FileName, workDir)
		if err != nil {
			return nil, fmt.Errorf("searching for %s: %w", FileName, err)
		}
		path = found
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = path
	return &cfg, nil
}

// Validate checks the settings and normalizes ListenAddr.
func (c *Config) Validate() error {
	var errs []error
	addr, err := inet.ParseEndpoint(c.ListenAddr)
	if err != nil {
		errs = append(errs, fmt.Errorf("listen_addr: %w", err))
	} else {
		c.ListenAddr = addr
	}
	if c.StatusAddr != "" {
		if _, _, err := net.SplitHostPort(c.StatusAddr); err != nil {
			errs = append(errs, fmt.Errorf("status_addr: %w", err))
		}
	}
	if c.MaxMessageSize == 0 {
		errs = append(errs, errors.New("max_message_size must be positive"))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, errors.New("write_timeout must not be negative"))
	}
	if c.KillWaitDelay < 0 {
		errs = append(errs, errors.New("kill_wait_delay must not be negative"))
	}
	if c.MinClientVersion != "" {
		if _, err := semver.NewVersion(c.MinClientVersion); err != nil {
			errs = append(errs, fmt.Errorf("min_client_version: %w", err))
		}
	}
	return errors.Join(errs...)
}
