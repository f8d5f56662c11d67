package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Search    SearchConfig
	Embedding EmbeddingConfig
	Tracker   TrackerConfig
	Log       LogConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds catalog and missing-product store configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // "postgres" or "sqlite"
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// CacheConfig holds cache-related configuration
type CacheConfig struct {
	Type     string        `mapstructure:"type"` // "memory" or "redis"
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	PerIP int `mapstructure:"per_ip"` // requests per minute
	Burst int `mapstructure:"burst"`
}

// SearchConfig holds the matching cascade tunables.
// Floors are low/medium/high confidence knobs, not product constants.
type SearchConfig struct {
	MaxQueryLength     int           `mapstructure:"max_query_length"`
	DefaultLimit       int           `mapstructure:"default_limit"`
	MaxLimit           int           `mapstructure:"max_limit"`
	StageTimeout       time.Duration `mapstructure:"stage_timeout"`
	ResolveTimeout     time.Duration `mapstructure:"resolve_timeout"`
	VariantFloor       float64       `mapstructure:"variant_floor"`
	FuzzyFloor         float64       `mapstructure:"fuzzy_floor"`
	SemanticFloor      float64       `mapstructure:"semantic_floor"`
	SemanticTopK       int           `mapstructure:"semantic_top_k"`
	AlternativeFloor   float64       `mapstructure:"alternative_floor"`
	AlternativesLimit  int           `mapstructure:"alternatives_limit"`
	MaxAlternatives    int           `mapstructure:"max_alternatives"`
	EnableDebugLogging bool          `mapstructure:"enable_debug_logging"`
}

// EmbeddingConfig holds the ordered embedding provider list and breaker settings
type EmbeddingConfig struct {
	Providers        []ProviderConfig `mapstructure:"providers"`
	Timeout          time.Duration    `mapstructure:"timeout"`
	FailureThreshold int              `mapstructure:"failure_threshold"`
	Cooldown         time.Duration    `mapstructure:"cooldown"`
	RequestsPerSec   float64          `mapstructure:"requests_per_sec"`
}

// ProviderConfig describes one embedding vendor
type ProviderConfig struct {
	Name       string `mapstructure:"name"`
	Kind       string `mapstructure:"kind"` // "openai" or "http"
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// TrackerConfig holds missing-product tracker configuration
type TrackerConfig struct {
	Workers      int                `mapstructure:"workers"`
	QueueSize    int                `mapstructure:"queue_size"`
	WriteTimeout time.Duration      `mapstructure:"write_timeout"`
	UniqueWeight float64            `mapstructure:"unique_weight"`
	BrandTiers   map[string]float64 `mapstructure:"brand_tiers"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// envKeyReplacer maps nested keys such as "search.fuzzy_floor" to SCENTMATCH_SEARCH_FUZZY_FLOOR
var envKeyReplacer = strings.NewReplacer(".", "_")

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/scentmatch/")

	// Environment variable settings
	v.SetEnvPrefix("SCENTMATCH")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// A single provider can be configured from the environment alone
	if len(config.Embedding.Providers) == 0 && v.GetString("embedding.api_key") != "" {
		config.Embedding.Providers = []ProviderConfig{{
			Name:       "primary",
			Kind:       v.GetString("embedding.kind"),
			BaseURL:    v.GetString("embedding.base_url"),
			APIKey:     v.GetString("embedding.api_key"),
			Model:      v.GetString("embedding.model"),
			Dimensions: v.GetInt("embedding.dimensions"),
		}}
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads a .env file from the working directory when one exists.
// Variables already present in the environment win.
func loadEnvFile() error {
	if _, err := os.Stat(".env"); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(".env")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:scentmatch.db?_pragma=busy_timeout(5000)")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.connect_timeout", "30s")

	// Cache defaults
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", "10m")

	// Rate limit defaults
	v.SetDefault("ratelimit.per_ip", 100)
	v.SetDefault("ratelimit.burst", 20)

	// Search defaults
	v.SetDefault("search.max_query_length", 200)
	v.SetDefault("search.default_limit", 20)
	v.SetDefault("search.max_limit", 100)
	v.SetDefault("search.stage_timeout", "2s")
	v.SetDefault("search.resolve_timeout", "2s")
	v.SetDefault("search.variant_floor", 0.0)
	v.SetDefault("search.fuzzy_floor", 0.3)
	v.SetDefault("search.semantic_floor", 0.0)
	v.SetDefault("search.semantic_top_k", 10)
	v.SetDefault("search.alternative_floor", 0.15)
	v.SetDefault("search.alternatives_limit", 10)
	v.SetDefault("search.max_alternatives", 20)
	v.SetDefault("search.enable_debug_logging", false)

	// Embedding defaults
	v.SetDefault("embedding.kind", "openai")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 0)
	v.SetDefault("embedding.timeout", "1500ms")
	v.SetDefault("embedding.failure_threshold", 3)
	v.SetDefault("embedding.cooldown", "1m")
	v.SetDefault("embedding.requests_per_sec", 10.0)

	// Tracker defaults
	v.SetDefault("tracker.workers", 2)
	v.SetDefault("tracker.queue_size", 256)
	v.SetDefault("tracker.write_timeout", "5s")
	v.SetDefault("tracker.unique_weight", 2.0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Database.Driver != "postgres" && config.Database.Driver != "sqlite" {
		return fmt.Errorf("database driver must be 'postgres' or 'sqlite', got: %s", config.Database.Driver)
	}

	if config.Database.DSN == "" {
		return fmt.Errorf("database DSN is required (set SCENTMATCH_DATABASE_DSN)")
	}

	if config.Cache.Type != "memory" && config.Cache.Type != "redis" {
		return fmt.Errorf("cache type must be 'memory' or 'redis', got: %s", config.Cache.Type)
	}

	if config.Cache.Type == "redis" && config.Cache.RedisURL == "" {
		return fmt.Errorf("Redis URL is required when cache type is 'redis'")
	}

	if config.Search.MaxQueryLength <= 0 {
		return fmt.Errorf("search max_query_length must be positive, got: %d", config.Search.MaxQueryLength)
	}

	if config.Search.StageTimeout <= 0 {
		return fmt.Errorf("search stage_timeout must be positive, got: %s", config.Search.StageTimeout)
	}

	for name, floor := range map[string]float64{
		"variant_floor":     config.Search.VariantFloor,
		"fuzzy_floor":       config.Search.FuzzyFloor,
		"semantic_floor":    config.Search.SemanticFloor,
		"alternative_floor": config.Search.AlternativeFloor,
	} {
		if floor < 0 || floor > 1 {
			return fmt.Errorf("search %s must be within [0,1], got: %v", name, floor)
		}
	}

	for i, p := range config.Embedding.Providers {
		if p.Kind != "openai" && p.Kind != "http" {
			return fmt.Errorf("embedding provider %d kind must be 'openai' or 'http', got: %s", i, p.Kind)
		}
		if p.APIKey == "" {
			return fmt.Errorf("embedding provider %d (%s) requires an API key", i, p.Name)
		}
		if p.Kind == "http" && p.BaseURL == "" {
			return fmt.Errorf("embedding provider %d (%s) requires a base URL", i, p.Name)
		}
	}

	return nil
}
