// Package config loads BookSphere configuration from YAML files with
// environment-variable overrides. Every service (catalog, searcher) reads the
// same file and picks the sections it needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server          ServerConfig `yaml:"server"`
	CatalogServer   ServerConfig `yaml:"catalogServer"`
	// AnalyticsServer is used by the standalone analytics service.
	AnalyticsServer ServerConfig    `yaml:"analyticsServer"`
	Analytics       AnalyticsConfig `yaml:"analytics"`
	Postgres        PostgresConfig  `yaml:"postgres"`
	Kafka           KafkaConfig     `yaml:"kafka"`
	Redis           RedisConfig     `yaml:"redis"`
	Search          SearchConfig    `yaml:"search"`
	Logging         LoggingConfig   `yaml:"logging"`
	Metrics         MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the number of requests a single client may issue per
	// minute. Zero disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name. A non-empty URL (as in
// DATABASE_URL) wins over the discrete fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CatalogEvents   string `yaml:"catalogEvents"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// SearchConfig controls ranking limits, fallbacks and snapshot refresh.
type SearchConfig struct {
	DefaultLimit     int           `yaml:"defaultLimit"`
	MaxResults       int           `yaml:"maxResults"`
	FallbackLimit    int           `yaml:"fallbackLimit"`
	SimilarCacheSize int           `yaml:"similarCacheSize"`
	RefreshInterval  time.Duration `yaml:"refreshInterval"`
	// ExactMatchFirst places title/author substring matches ahead of purely
	// statistical matches.
	ExactMatchFirst bool `yaml:"exactMatchFirst"`
}

// AnalyticsConfig controls search-event buffering and snapshot persistence.
type AnalyticsConfig struct {
	BufferSize       int           `yaml:"bufferSize"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
	// Retention is how long persisted snapshots are kept. Zero keeps them
	// forever.
	Retention time.Duration `yaml:"retention"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	if c.Search.DefaultLimit < 0 {
		return fmt.Errorf("search.defaultLimit must be >= 0, got %d", c.Search.DefaultLimit)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.maxResults must be > 0, got %d", c.Search.MaxResults)
	}
	if c.Search.DefaultLimit > c.Search.MaxResults {
		return fmt.Errorf("search.defaultLimit (%d) exceeds search.maxResults (%d)",
			c.Search.DefaultLimit, c.Search.MaxResults)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       600,
		},
		CatalogServer: ServerConfig{
			Port:            8081,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		AnalyticsServer: ServerConfig{
			Port:            8082,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Analytics: AnalyticsConfig{
			BufferSize:       10000,
			BatchSize:        100,
			FlushInterval:    5 * time.Second,
			SnapshotInterval: time.Minute,
			Retention:        7 * 24 * time.Hour,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "booksphere",
			User:            "booksphere",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       true,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "booksphere-search",
			Topics: KafkaTopics{
				CatalogEvents:   "catalog-events",
				AnalyticsEvents: "search-analytics",
			},
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Search: SearchConfig{
			DefaultLimit:     5,
			MaxResults:       50,
			FallbackLimit:    8,
			SimilarCacheSize: 1024,
			RefreshInterval:  5 * time.Minute,
			ExactMatchFirst:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads BS_* environment variables (and DATABASE_URL) and
// overrides the corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setInt("BS_SERVER_PORT", &cfg.Server.Port)
	setInt("BS_CATALOG_PORT", &cfg.CatalogServer.Port)
	setInt("BS_ANALYTICS_PORT", &cfg.AnalyticsServer.Port)
	setInt("BS_SERVER_RATE_LIMIT", &cfg.Server.RateLimit)

	setString("DATABASE_URL", &cfg.Postgres.URL)
	setString("BS_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("BS_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("BS_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("BS_POSTGRES_USER", &cfg.Postgres.User)
	setString("BS_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("BS_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)

	setBool("BS_KAFKA_ENABLED", &cfg.Kafka.Enabled)
	if v := os.Getenv("BS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	setBool("BS_REDIS_ENABLED", &cfg.Redis.Enabled)
	setString("BS_REDIS_ADDR", &cfg.Redis.Addr)
	setString("BS_REDIS_PASSWORD", &cfg.Redis.Password)

	setInt("BS_SEARCH_DEFAULT_LIMIT", &cfg.Search.DefaultLimit)
	setInt("BS_SEARCH_MAX_RESULTS", &cfg.Search.MaxResults)
	setBool("BS_SEARCH_EXACT_MATCH_FIRST", &cfg.Search.ExactMatchFirst)

	setString("BS_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("BS_LOGGING_FORMAT", &cfg.Logging.Format)
	setBool("BS_METRICS_ENABLED", &cfg.Metrics.Enabled)
	setInt("BS_METRICS_PORT", &cfg.Metrics.Port)
}
