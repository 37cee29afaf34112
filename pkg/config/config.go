// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Indexer, Scheduler, Search, Participants, Postgres,
// Kafka, Redis, etc.).
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
	Server       ServerConfig        `yaml:"server"`
	Indexer      IndexerConfig       `yaml:"indexer"`
	Scheduler    SchedulerConfig     `yaml:"scheduler"`
	Search       SearchConfig        `yaml:"search"`
	Participants []ParticipantConfig `yaml:"participants"`
	Postgres     PostgresConfig      `yaml:"postgres"`
	Kafka        KafkaConfig         `yaml:"kafka"`
	Redis        RedisConfig         `yaml:"redis"`
	Analytics    AnalyticsConfig     `yaml:"analytics"`
	Logging      LoggingConfig       `yaml:"logging"`
	Tracing      TracingConfig       `yaml:"tracing"`
	Metrics      MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings. RateLimit is the number of
// requests per minute allowed for each client; zero disables limiting. An
// empty APIKeys leaves the API open.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	RateLimit       int           `yaml:"rateLimit"`
	APIKeys         []string      `yaml:"apiKeys"`
}

// IndexerConfig controls where index files live, how many shard indexes each
// participant spreads its documents over, and how often dirty indexes are
// saved in the background.
type IndexerConfig struct {
	DataDir        string        `yaml:"dataDir"`
	Shards         int           `yaml:"shards"`
	SaveInterval   time.Duration `yaml:"saveInterval"`
	ReindexOnStart bool          `yaml:"reindexOnStart"`
}

// SchedulerConfig sizes the job worker pool.
type SchedulerConfig struct {
	Workers int `yaml:"workers"`
}

// SearchConfig controls result limits, the per-request deadline applied by
// the HTTP API and the candidate cache.
type SearchConfig struct {
	MaxMatches   int           `yaml:"maxMatches"`
	Timeout      time.Duration `yaml:"timeout"`
	CacheEnabled bool          `yaml:"cacheEnabled"`
}

// ParticipantConfig declares one document corpus. Kind is "fs" (files under
// Root), "postgres" (rows of the documents table tagged with Name) or
// "memory" (documents pushed through the API or Kafka, kept in process).
type ParticipantConfig struct {
	Name       string   `yaml:"name"`
	Kind       string   `yaml:"kind"`
	Root       string   `yaml:"root"`
	Extensions []string `yaml:"extensions"`
	Watch      bool     `yaml:"watch"`
	Words      bool     `yaml:"words"`
	CacheSize  int      `yaml:"cacheSize"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
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
	DocumentEvents string `yaml:"documentEvents"`
	SearchEvents   string `yaml:"searchEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// AnalyticsConfig controls event publishing and the Postgres snapshots of
// aggregated stats. Snapshots need postgres.enabled.
type AnalyticsConfig struct {
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles span logging for searches.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
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

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	if c.Indexer.DataDir == "" {
		return fmt.Errorf("indexer.dataDir must be set")
	}
	if c.Indexer.Shards <= 0 {
		return fmt.Errorf("indexer.shards must be positive, got %d", c.Indexer.Shards)
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers)
	}
	seen := make(map[string]struct{}, len(c.Participants))
	for i, p := range c.Participants {
		if p.Name == "" {
			return fmt.Errorf("participants[%d]: name must be set", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("participants[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
		switch p.Kind {
		case "fs":
			if p.Root == "" {
				return fmt.Errorf("participant %q: root must be set for kind fs", p.Name)
			}
		case "postgres":
			if !c.Postgres.Enabled {
				return fmt.Errorf("participant %q: kind postgres requires postgres.enabled", p.Name)
			}
		case "memory":
		default:
			return fmt.Errorf("participant %q: unknown kind %q", p.Name, p.Kind)
		}
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Indexer: IndexerConfig{
			DataDir:      "data/indexes",
			Shards:       4,
			SaveInterval: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Workers: 4,
		},
		Search: SearchConfig{
			MaxMatches:   1000,
			Timeout:      10 * time.Second,
			CacheEnabled: false,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "searchcore",
			User:            "searchcore",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "searchcore-indexer",
			Topics: KafkaTopics{
				DocumentEvents: "document-events",
				SearchEvents:   "search-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Analytics: AnalyticsConfig{
			BatchSize:        100,
			FlushInterval:    5 * time.Second,
			SnapshotInterval: time.Minute,
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

// applyEnvOverrides reads SC_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SC_SERVER_API_KEYS"); v != "" {
		cfg.Server.APIKeys = strings.Split(v, ",")
	}
	if v := os.Getenv("SC_INDEXER_DATA_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("SC_INDEXER_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexer.Shards = n
		}
	}
	if v := os.Getenv("SC_INDEXER_REINDEX_ON_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Indexer.ReindexOnStart = b
		}
	}
	if v := os.Getenv("SC_SCHEDULER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.Workers = n
		}
	}
	if v := os.Getenv("SC_SEARCH_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Search.CacheEnabled = b
		}
	}
	if v := os.Getenv("SC_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SC_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SC_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SC_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SC_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SC_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("SC_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SC_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
