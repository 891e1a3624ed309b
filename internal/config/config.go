package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Environment variable names
const (
	EnvConfigPath      = "CVGENIUS_CONFIG"
	EnvServiceURL      = "GENERATION_SERVICE_URL"
	EnvServiceToken    = "GENERATION_SERVICE_TOKEN"
	EnvPort            = "PORT"
	EnvLogLevel        = "LOG_LEVEL"
	EnvPollInterval    = "POLL_INTERVAL"
	EnvMaxDuration     = "MAX_GENERATION_DURATION"
	EnvPollRetryWindow = "POLL_RETRY_WINDOW"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Service ServiceConfig `yaml:"generation_service"`
	Tracker TrackerConfig `yaml:"tracker"`
	Stub    StubConfig    `yaml:"stub"`
}

type ServerConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type ServiceConfig struct {
	URL        string        `yaml:"url"`
	Token      string        `yaml:"token"`
	PathPrefix string        `yaml:"path_prefix"`
	Timeout    time.Duration `yaml:"timeout"`
}

type TrackerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	PollRetryWindow time.Duration `yaml:"poll_retry_window"`
}

// StubConfig configures cmd/stubservice.
type StubConfig struct {
	Port              string        `yaml:"port"`
	StepDelay         time.Duration `yaml:"step_delay"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	RetainFor         time.Duration `yaml:"retain_for"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "3000", LogLevel: "info"},
		Service: ServiceConfig{
			URL:        "http://localhost:8000",
			PathPrefix: "/api/v1/async",
			Timeout:    60 * time.Second,
		},
		Tracker: TrackerConfig{PollInterval: 2 * time.Second},
		Stub: StubConfig{
			Port:              "8000",
			StepDelay:         time.Second,
			RequestsPerMinute: 10,
			RetainFor:         24 * time.Hour,
		},
	}
}

// Path picks the config file: the flag value when set, else $CVGENIUS_CONFIG.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvConfigPath)
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setString(EnvServiceURL, &c.Service.URL)
	setString(EnvServiceToken, &c.Service.Token)
	setString(EnvPort, &c.Server.Port)
	setString(EnvLogLevel, &c.Server.LogLevel)

	for env, dst := range map[string]*time.Duration{
		EnvPollInterval:    &c.Tracker.PollInterval,
		EnvMaxDuration:     &c.Tracker.MaxDuration,
		EnvPollRetryWindow: &c.Tracker.PollRetryWindow,
	} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		*dst = d
	}
	return nil
}

// Watch reloads the file at path whenever it changes and hands the new
// configuration to onChange. A file that fails to load is logged and
// skipped. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *zap.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	logger.Info("Watching configuration file", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.Error("Failed to reload configuration", zap.String("path", path), zap.Error(err))
				continue
			}
			logger.Info("Configuration reloaded", zap.String("path", path))
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}
