// Package config provides configuration management for the campaign runner.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	State     StateConfig
	History   HistoryConfig
	Executor  ExecutorConfig
	Catalog   CatalogConfig
	Profiles  ProfilesConfig
	Providers ProvidersConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	MigrationsPath string
	AutoMigrate    bool
}

// URL returns the connection URL used by golang-migrate
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// StateConfig controls where checkpoints and the active-jobs snapshot live
type StateConfig struct {
	DataDir      string
	RedisEnabled bool
	KeyPrefix    string
	TTL          time.Duration // expiry applied to Redis job-state records
}

// JobStatesFile is the local mirror of every job checkpoint
func (c StateConfig) JobStatesFile() string {
	return filepath.Join(c.DataDir, "job_states.json")
}

// ActiveJobsFile is the local mirror of the active-jobs snapshot
func (c StateConfig) ActiveJobsFile() string {
	return filepath.Join(c.DataDir, "active_jobs.json")
}

// HistoryConfig selects and tunes the history backend
type HistoryConfig struct {
	Backend    string // file or postgres
	FilePath   string
	MaxEntries int
}

// ExecutorConfig tunes campaign execution and job scheduling
type ExecutorConfig struct {
	DelayTick          time.Duration
	CheckpointInterval time.Duration
	MaxMessages        int
	MaxConcurrentJobs  int
	PollInterval       time.Duration
}

// CatalogConfig locates the service catalog
type CatalogConfig struct {
	Path  string
	Watch bool
}

// ProfilesConfig locates stored campaign definitions
type ProfilesConfig struct {
	Path string
}

// ProvidersConfig holds order provider configuration
type ProvidersConfig struct {
	Enabled   []string
	Providers map[string]ProviderConfig
	Timeout   time.Duration
}

// ProviderConfig holds configuration for a single SMM panel
type ProviderConfig struct {
	APIURL string
	APIKey string
	RPS    float64
	Burst  int
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// defaultProviderURLs are the public v2 endpoints of the supported panels
var defaultProviderURLs = map[string]string{
	"justanotherpanel": "https://justanotherpanel.com/api/v2",
	"peakerr":          "https://peakerr.com/api/v2",
	"smmkings":         "https://smmkings.com/api/v2",
	"mysocialsboost":   "https://mysocialsboost.com/api/v2",
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	dataDir := getEnv("DATA_DIR", "data")

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "campaigns"),
				User:           getEnv("POSTGRES_USER", "campaigns"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
				MigrationsPath: getEnv("POSTGRES_MIGRATIONS_PATH", "migrations/postgres"),
				AutoMigrate:    getEnvAsBool("POSTGRES_AUTO_MIGRATE", true),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		State: StateConfig{
			DataDir:      dataDir,
			RedisEnabled: getEnvAsBool("STATE_REDIS_ENABLED", true),
			KeyPrefix:    getEnv("STATE_KEY_PREFIX", "campaign"),
			TTL:          getEnvAsDuration("STATE_TTL", 7*24*time.Hour),
		},
		History: HistoryConfig{
			Backend:    getEnv("HISTORY_BACKEND", "file"),
			FilePath:   getEnv("HISTORY_FILE", filepath.Join(dataDir, "order_history.json")),
			MaxEntries: getEnvAsInt("HISTORY_MAX_ENTRIES", 100),
		},
		Executor: ExecutorConfig{
			DelayTick:          getEnvAsDuration("EXECUTOR_DELAY_TICK", 500*time.Millisecond),
			CheckpointInterval: getEnvAsDuration("EXECUTOR_CHECKPOINT_INTERVAL", 5*time.Second),
			MaxMessages:        getEnvAsInt("EXECUTOR_MAX_MESSAGES", 50),
			MaxConcurrentJobs:  getEnvAsInt("EXECUTOR_MAX_CONCURRENT_JOBS", 20),
			PollInterval:       getEnvAsDuration("SCHEDULER_POLL_INTERVAL", time.Second),
		},
		Catalog: CatalogConfig{
			Path:  getEnv("CATALOG_PATH", filepath.Join(dataDir, "services.json")),
			Watch: getEnvAsBool("CATALOG_WATCH", true),
		},
		Profiles: ProfilesConfig{
			Path: getEnv("PROFILES_PATH", filepath.Join(dataDir, "profiles.json")),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("API_RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("API_RATE_LIMIT_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	providers, err := loadProviderConfigs()
	if err != nil {
		return nil, err
	}
	config.Providers = providers

	return config, nil
}

// loadProviderConfigs loads per-panel configuration.
// A key may be given inline (<NAME>_API_KEY) or as a file path (<NAME>_API_KEY_FILE).
func loadProviderConfigs() (ProvidersConfig, error) {
	var enabled []string
	providers := make(map[string]ProviderConfig)

	for _, name := range strings.Split(getEnv("ENABLED_PROVIDERS", "justanotherpanel,peakerr,smmkings,mysocialsboost"), ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}

		prefix := strings.ToUpper(name)
		key := getEnv(prefix+"_API_KEY", "")
		if keyFile := getEnv(prefix+"_API_KEY_FILE", ""); key == "" && keyFile != "" {
			raw, err := os.ReadFile(keyFile) // #nosec G304 - operator supplied path
			if err != nil {
				return ProvidersConfig{}, fmt.Errorf("failed to read %s_API_KEY_FILE: %w", prefix, err)
			}
			key = strings.TrimSpace(string(raw))
		}

		enabled = append(enabled, name)
		providers[name] = ProviderConfig{
			APIURL: getEnv(prefix+"_API_URL", defaultProviderURLs[name]),
			APIKey: key,
			RPS:    getEnvAsFloat(prefix+"_RPS", 2),
			Burst:  getEnvAsInt(prefix+"_BURST", 2),
		}
	}

	return ProvidersConfig{
		Enabled:   enabled,
		Providers: providers,
		Timeout:   getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
	}, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
