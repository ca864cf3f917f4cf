// Package config loads daemon configuration from a YAML file with
// environment variable overrides for containerized deployments.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the daemon
type Config struct {
	Milter    MilterConfig    `yaml:"milter"`
	Web       WebConfig       `yaml:"web"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Directory DirectoryConfig `yaml:"directory"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// MilterConfig holds filter protocol server settings
type MilterConfig struct {
	// Listen accepts host:port or unix:/path/to/socket
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	MaxConnections int    `yaml:"max_connections"`
	MaxMessageSize int    `yaml:"max_message_size"`
}

// WebConfig holds beacon & reporting server settings
type WebConfig struct {
	Listen   string `yaml:"listen"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TrackingConfig holds the tracking policy
type TrackingConfig struct {
	// BaseURL is public beacon endpoint, message id is appended as ?id=
	BaseURL string `yaml:"base_url"`
	// RequireOptIn makes tracking apply only to messages carrying OptInHeader
	RequireOptIn bool   `yaml:"require_opt_in"`
	OptInHeader  string `yaml:"opt_in_header"`
	// Disclose adds DisclosureHeader to tracked messages
	Disclose         bool   `yaml:"disclose"`
	DisclosureHeader string `yaml:"disclosure_header"`
	// FooterHTML is static footer used when directory service is not configured
	FooterHTML string `yaml:"footer_html"`
}

// DirectoryConfig holds account/domain directory client settings
type DirectoryConfig struct {
	URL   string        `yaml:"url"`
	Token string        `yaml:"token"`
	TTL   time.Duration `yaml:"ttl"`
}

// StorageConfig holds message store settings
type StorageConfig struct {
	Root string `yaml:"root"`
	// RedisURL enables redis backed opens cache, like redis://127.0.0.1:6379/0
	RedisURL string `yaml:"redis_url"`
}

// LogConfig holds logging settings
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error
	Level string `yaml:"level"`
}

// TracingConfig holds OpenTelemetry reporting settings
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	JaegerHost  string `yaml:"jaeger_host"`
	JaegerPort  string `yaml:"jaeger_port"`
	ServiceName string `yaml:"service_name"`
}

// Default returns configuration with sane defaults applied
func Default() Config {
	return Config{
		Milter: MilterConfig{
			Listen: "127.0.0.1:10025",
		},
		Web: WebConfig{
			Listen: ":8443",
		},
		Tracking: TrackingConfig{
			OptInHeader:      "X-Track",
			Disclose:         true,
			DisclosureHeader: "X-Tracked-By",
		},
		Storage: StorageConfig{
			Root: "/var/lib/trackd",
		},
		Log: LogConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			JaegerHost:  "127.0.0.1",
			JaegerPort:  "6831",
			ServiceName: "trackd",
		},
	}
}

// Load reads configuration file, applies environment overrides and
// validates the result. Empty path loads defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("%s : while reading config file %s", err, path)
		}
		err = yaml.Unmarshal(raw, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("%s : while parsing config file %s", err, path)
		}
	}
	cfg.applyEnv()
	err := cfg.Validate()
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides settings commonly changed per container
func (cfg *Config) applyEnv() {
	setFromEnv(&cfg.Milter.Listen, "TRACKD_MILTER_LISTEN")
	setFromEnv(&cfg.Web.Listen, "TRACKD_WEB_LISTEN")
	setFromEnv(&cfg.Web.CertFile, "TRACKD_WEB_CERT_FILE")
	setFromEnv(&cfg.Web.KeyFile, "TRACKD_WEB_KEY_FILE")
	setFromEnv(&cfg.Tracking.BaseURL, "TRACKD_BASE_URL")
	setFromEnv(&cfg.Directory.URL, "TRACKD_DIRECTORY_URL")
	setFromEnv(&cfg.Directory.Token, "TRACKD_DIRECTORY_TOKEN")
	setFromEnv(&cfg.Storage.Root, "TRACKD_STORAGE_ROOT")
	setFromEnv(&cfg.Storage.RedisURL, "TRACKD_REDIS_URL")
	setFromEnv(&cfg.Log.Level, "TRACKD_LOG_LEVEL")
}

func setFromEnv(target *string, name string) {
	if val := os.Getenv(name); val != "" {
		*target = val
	}
}

// Validate ensures configuration makes sense before daemon starts
func (cfg *Config) Validate() error {
	if cfg.Tracking.BaseURL == "" {
		return fmt.Errorf("tracking.base_url is required, beacons need a public address")
	}
	if (cfg.Web.CertFile == "") != (cfg.Web.KeyFile == "") {
		return fmt.Errorf("web.cert_file and web.key_file must be provided together")
	}
	if cfg.Milter.Listen == "" {
		return fmt.Errorf("milter.listen is required")
	}
	if cfg.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	return nil
}
