package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Worker    WorkerConfig    `yaml:"worker"`
	Download  DownloadConfig  `yaml:"download"`
	Detection DetectionConfig `yaml:"detection"`
	Events    EventsConfig    `yaml:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"127.0.0.1"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT" default:"9848"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"5m"`
}

// StorageConfig holds filesystem storage configuration.
type StorageConfig struct {
	DownloadPath string `yaml:"download_path" envconfig:"DOWNLOAD_PATH" default:"/data/downloads"`
	SettingsPath string `yaml:"settings_path" envconfig:"SETTINGS_PATH" default:"/data/canvasgrab.db"`
	MaxFileSize  int64  `yaml:"max_file_size" envconfig:"MAX_FILE_SIZE" default:"5368709120"` // 5GB
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	Count        int           `yaml:"count" envconfig:"WORKER_COUNT" default:"2"`
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"WORKER_POLL_INTERVAL" default:"500ms"`
	// JobRetention is how many finished jobs stay queryable.
	JobRetention int `yaml:"job_retention" envconfig:"WORKER_JOB_RETENTION" default:"1000"`
}

// DownloadConfig holds media download configuration.
type DownloadConfig struct {
	Timeout          time.Duration `yaml:"timeout" envconfig:"DOWNLOAD_TIMEOUT" default:"30s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" envconfig:"DOWNLOAD_READ_TIMEOUT" default:"2m"`
	UserAgent        string        `yaml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"`
	BlobTTL          time.Duration `yaml:"blob_ttl" envconfig:"DOWNLOAD_BLOB_TTL" default:"60s"`
	DefaultExtension string        `yaml:"default_extension" envconfig:"DOWNLOAD_DEFAULT_EXTENSION" default:"mp4"`
}

// DetectionConfig holds media classification configuration.
type DetectionConfig struct {
	// MediaHosts are vendor hostnames whose subdomains always serve media.
	MediaHosts []string `yaml:"media_hosts" envconfig:"DETECTION_MEDIA_HOSTS" default:"instructuremedia.com"`
}

// EventsConfig holds the in-memory event feed configuration.
type EventsConfig struct {
	RingBufferSize int `yaml:"ring_buffer_size" envconfig:"EVENTS_RING_BUFFER_SIZE" default:"500"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Load from YAML file if provided
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	cfg.Download.DefaultExtension = strings.TrimPrefix(cfg.Download.DefaultExtension, ".")

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Server.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.Storage.DownloadPath == "" {
		return fmt.Errorf("DOWNLOAD_PATH is required")
	}
	if c.Storage.SettingsPath == "" {
		return fmt.Errorf("SETTINGS_PATH is required")
	}
	if c.Storage.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.Download.BlobTTL <= 0 {
		return fmt.Errorf("DOWNLOAD_BLOB_TTL must be positive")
	}
	if c.Download.DefaultExtension == "" {
		return fmt.Errorf("DOWNLOAD_DEFAULT_EXTENSION is required")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
