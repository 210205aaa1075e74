package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"shotty/internal/utils"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultProfile is the shared-config profile used when no keys are set
	DefaultProfile = "shotty"

	// DefaultDescription marks every snapshot this tool creates
	DefaultDescription = "Created by SnapshotAlyzer 30000"
)

// Config holds the application configuration
type Config struct {
	AWS      AWSConfig
	Snapshot SnapshotConfig
	Storage  StorageConfig
}

// AWSConfig holds AWS-specific configuration
type AWSConfig struct {
	Profile   string
	Region    string
	AccessKey string
	SecretKey string
}

// SnapshotConfig tunes the snapshot workflow
type SnapshotConfig struct {
	Description       string
	WaitTimeout       time.Duration
	PollInterval      time.Duration
	VolumeConcurrency int
}

// StorageConfig locates the run history file
type StorageConfig struct {
	Path string
}

// fileConfig mirrors the YAML layout; durations are kept as strings so
// "10m", "90" and "2 hours" are all accepted
type fileConfig struct {
	AWS struct {
		Profile string `yaml:"profile"`
		Region  string `yaml:"region"`
	} `yaml:"aws"`
	Snapshot struct {
		Description       string `yaml:"description"`
		WaitTimeout       string `yaml:"wait_timeout"`
		PollInterval      string `yaml:"poll_interval"`
		VolumeConcurrency int    `yaml:"volume_concurrency"`
	} `yaml:"snapshot"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		AWS: AWSConfig{
			Profile: DefaultProfile,
			Region:  "us-east-1",
		},
		Snapshot: SnapshotConfig{
			Description:       DefaultDescription,
			WaitTimeout:       10 * time.Minute,
			PollInterval:      5 * time.Second,
			VolumeConcurrency: 1,
		},
		Storage: StorageConfig{
			Path: defaultStoragePath(),
		},
	}
}

// DefaultConfigPath returns ~/.shotty/config.yaml
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".shotty", "config.yaml")
}

func defaultStoragePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/shotty-runs.json"
	}
	return filepath.Join(homeDir, ".shotty", "runs.json")
}

// LoadConfig layers defaults, the YAML file and environment variables.
// An empty path reads the default file if it exists; an explicit path must exist.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	if path != "" {
		if err := config.mergeFile(path, explicit); err != nil {
			return nil, err
		}
	}

	if err := config.mergeEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) mergeFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.AWS.Profile != "" {
		c.AWS.Profile = fc.AWS.Profile
	}
	if fc.AWS.Region != "" {
		c.AWS.Region = fc.AWS.Region
	}
	if fc.Snapshot.Description != "" {
		c.Snapshot.Description = fc.Snapshot.Description
	}
	if fc.Snapshot.WaitTimeout != "" {
		d, err := utils.ParseDuration(fc.Snapshot.WaitTimeout)
		if err != nil {
			return fmt.Errorf("invalid snapshot.wait_timeout: %w", err)
		}
		c.Snapshot.WaitTimeout = d
	}
	if fc.Snapshot.PollInterval != "" {
		d, err := utils.ParseDuration(fc.Snapshot.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid snapshot.poll_interval: %w", err)
		}
		c.Snapshot.PollInterval = d
	}
	if fc.Snapshot.VolumeConcurrency != 0 {
		c.Snapshot.VolumeConcurrency = fc.Snapshot.VolumeConcurrency
	}
	if fc.Storage.Path != "" {
		c.Storage.Path = fc.Storage.Path
	}

	return nil
}

func (c *Config) mergeEnv() error {
	c.AWS.Profile = getEnvOrDefault("AWS_PROFILE", c.AWS.Profile)
	c.AWS.Region = getEnvOrDefault("AWS_REGION", c.AWS.Region)
	c.AWS.AccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
	c.AWS.SecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")

	if value := os.Getenv("SHOTTY_WAIT_TIMEOUT"); value != "" {
		d, err := utils.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid SHOTTY_WAIT_TIMEOUT: %w", err)
		}
		c.Snapshot.WaitTimeout = d
	}

	return nil
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if c.AWS.Region == "" {
		return errors.New("AWS region is required")
	}
	if (c.AWS.AccessKey == "") != (c.AWS.SecretKey == "") {
		return errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}
	if c.AWS.AccessKey == "" && c.AWS.Profile == "" {
		return errors.New("either static AWS keys or a profile is required")
	}
	if c.Snapshot.WaitTimeout <= 0 {
		return errors.New("snapshot wait timeout must be positive")
	}
	if c.Snapshot.PollInterval <= 0 {
		return errors.New("snapshot poll interval must be positive")
	}
	if c.Snapshot.PollInterval > c.Snapshot.WaitTimeout {
		return fmt.Errorf("poll interval %s exceeds wait timeout %s", c.Snapshot.PollInterval, c.Snapshot.WaitTimeout)
	}
	if c.Snapshot.VolumeConcurrency < 1 {
		return errors.New("volume concurrency must be at least 1")
	}
	return nil
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
