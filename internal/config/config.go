package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings
// coordinator. Clean separation between configuration management and business logic.
type Config struct {
	Database *DatabaseConfig `json:"database"`
	HTTP     *HTTPConfig     `json:"http"`
	Sync     *SyncConfig     `json:"sync"`
	Revision *RevisionConfig `json:"revision"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// SyncConfig carries the knobs of the client-side synchronization core:
// retry budget and backoff base for REST calls, debounce quiescence window
// for code writes, polling cadence for the broadcast fallback, and the
// broadcast subscription timeout/attempt bound.
type SyncConfig struct {
	RetryAttempts      int           `json:"retry_attempts"`
	RetryBaseDelay     time.Duration `json:"retry_base_delay"`
	DebounceWindow     time.Duration `json:"debounce_window"`
	PollInterval       time.Duration `json:"poll_interval"`
	SubscribeTimeout   time.Duration `json:"subscribe_timeout"`
	MaxConnectAttempts int           `json:"max_connect_attempts"`
}

// RevisionConfig controls the recorder's snapshot policy
type RevisionConfig struct {
	SnapshotEvery int `json:"snapshot_every"`
}

// DefaultConfig returns production-ready defaults based on classroom
// requirements: 3 retry attempts from a 1s base, 300ms debounce window,
// 2s polling fallback interval.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./codesession.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		Sync: &SyncConfig{
			RetryAttempts:      3,
			RetryBaseDelay:     time.Second,
			DebounceWindow:     300 * time.Millisecond,
			PollInterval:       2 * time.Second,
			SubscribeTimeout:   10 * time.Second,
			MaxConnectAttempts: 5,
		},
		Revision: &RevisionConfig{
			SnapshotEvery: 10,
		},
	}
}

// Validate prevents invalid system configurations from reaching runtime
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.Sync == nil {
		return fmt.Errorf("sync configuration is required")
	}
	if c.Sync.RetryAttempts <= 0 {
		return fmt.Errorf("retry attempts must be positive")
	}
	if c.Sync.RetryBaseDelay <= 0 {
		return fmt.Errorf("retry base delay must be positive")
	}
	if c.Sync.DebounceWindow <= 0 {
		return fmt.Errorf("debounce window must be positive")
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Sync.SubscribeTimeout <= 0 {
		return fmt.Errorf("subscribe timeout must be positive")
	}
	if c.Sync.MaxConnectAttempts <= 0 {
		return fmt.Errorf("max connect attempts must be positive")
	}

	if c.Revision == nil {
		return fmt.Errorf("revision configuration is required")
	}
	if c.Revision.SnapshotEvery <= 0 {
		return fmt.Errorf("snapshot cadence must be positive")
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables with defaults
// as fallback. Supports containerized deployments and configuration
// management systems.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("CODESESSION_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("CODESESSION_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if dbPath := os.Getenv("CODESESSION_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if readTimeout := os.Getenv("CODESESSION_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}
	if writeTimeout := os.Getenv("CODESESSION_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}
	if dbTimeout := os.Getenv("CODESESSION_DATABASE_TIMEOUT"); dbTimeout != "" {
		if timeout, err := time.ParseDuration(dbTimeout); err == nil {
			config.Database.Timeout = timeout
		}
	}
	if attempts := os.Getenv("CODESESSION_SYNC_RETRY_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			config.Sync.RetryAttempts = n
		}
	}
	if baseDelay := os.Getenv("CODESESSION_SYNC_RETRY_BASE_DELAY"); baseDelay != "" {
		if d, err := time.ParseDuration(baseDelay); err == nil {
			config.Sync.RetryBaseDelay = d
		}
	}
	if window := os.Getenv("CODESESSION_SYNC_DEBOUNCE_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			config.Sync.DebounceWindow = d
		}
	}
	if interval := os.Getenv("CODESESSION_SYNC_POLL_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Sync.PollInterval = d
		}
	}
	if timeout := os.Getenv("CODESESSION_SYNC_SUBSCRIBE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Sync.SubscribeTimeout = d
		}
	}
	if attempts := os.Getenv("CODESESSION_SYNC_MAX_CONNECT_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			config.Sync.MaxConnectAttempts = n
		}
	}
	if every := os.Getenv("CODESESSION_REVISION_SNAPSHOT_EVERY"); every != "" {
		if n, err := strconv.Atoi(every); err == nil {
			config.Revision.SnapshotEvery = n
		}
	}

	return config
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle
// duration strings
type ConfigFile struct {
	Database *DatabaseConfigFile `json:"database"`
	HTTP     *HTTPConfigFile     `json:"http"`
	Sync     *SyncConfigFile     `json:"sync"`
	Revision *RevisionConfig     `json:"revision"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type SyncConfigFile struct {
	RetryAttempts      int    `json:"retry_attempts"`
	RetryBaseDelay     string `json:"retry_base_delay"`
	DebounceWindow     string `json:"debounce_window"`
	PollInterval       string `json:"poll_interval"`
	SubscribeTimeout   string `json:"subscribe_timeout"`
	MaxConnectAttempts int    `json:"max_connect_attempts"`
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	// Convert to runtime config with duration parsing
	config := DefaultConfig()

	if configFile.Database != nil {
		if configFile.Database.Path != "" {
			config.Database.Path = configFile.Database.Path
		}
		if configFile.Database.Timeout != "" {
			if timeout, err := time.ParseDuration(configFile.Database.Timeout); err == nil {
				config.Database.Timeout = timeout
			}
		}
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = timeout
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = timeout
			}
		}
	}

	if configFile.Sync != nil {
		if configFile.Sync.RetryAttempts > 0 {
			config.Sync.RetryAttempts = configFile.Sync.RetryAttempts
		}
		if configFile.Sync.MaxConnectAttempts > 0 {
			config.Sync.MaxConnectAttempts = configFile.Sync.MaxConnectAttempts
		}
		if configFile.Sync.RetryBaseDelay != "" {
			if d, err := time.ParseDuration(configFile.Sync.RetryBaseDelay); err == nil {
				config.Sync.RetryBaseDelay = d
			}
		}
		if configFile.Sync.DebounceWindow != "" {
			if d, err := time.ParseDuration(configFile.Sync.DebounceWindow); err == nil {
				config.Sync.DebounceWindow = d
			}
		}
		if configFile.Sync.PollInterval != "" {
			if d, err := time.ParseDuration(configFile.Sync.PollInterval); err == nil {
				config.Sync.PollInterval = d
			}
		}
		if configFile.Sync.SubscribeTimeout != "" {
			if d, err := time.ParseDuration(configFile.Sync.SubscribeTimeout); err == nil {
				config.Sync.SubscribeTimeout = d
			}
		}
	}

	if configFile.Revision != nil && configFile.Revision.SnapshotEvery > 0 {
		config.Revision.SnapshotEvery = configFile.Revision.SnapshotEvery
	}

	// Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence loads configuration with file > environment >
// defaults precedence, enabling flexible deployment patterns while
// maintaining sane defaults
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
		// Silently ignore file errors - environment/defaults still work
	}

	return config
}
