// Package config loads and validates the crawlpool configuration from file
// and environment via viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree.
type Config struct {
	Pool    PoolConfig    `mapstructure:"pool"`
	Fetcher FetcherConfig `mapstructure:"fetcher"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	API     APIConfig     `mapstructure:"api"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PoolConfig tunes the scheduler and the concurrency controller.
type PoolConfig struct {
	MinConcurrency     int           `mapstructure:"min_concurrency"`
	MaxConcurrency     int           `mapstructure:"max_concurrency"`
	DesiredRatio       float64       `mapstructure:"desired_ratio"`
	ScaleUpStepRatio   float64       `mapstructure:"scale_up_step_ratio"`
	ScaleDownStepRatio float64       `mapstructure:"scale_down_step_ratio"`
	MaxRetries         int           `mapstructure:"max_retries"`
	MaxItems           int           `mapstructure:"max_items"`
	HandlerTimeout     time.Duration `mapstructure:"handler_timeout"`
	LeaseTimeout       time.Duration `mapstructure:"lease_timeout"`
	SampleInterval     time.Duration `mapstructure:"sample_interval"`
	ReclaimInterval    time.Duration `mapstructure:"reclaim_interval"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
	CPUHighWater       float64       `mapstructure:"cpu_high_water"`
	CPULowWater        float64       `mapstructure:"cpu_low_water"`
	MemHighWater       float64       `mapstructure:"mem_high_water"`
	MemLowWater        float64       `mapstructure:"mem_low_water"`
	ErrorHighWater     float64       `mapstructure:"error_high_water"`
	HealthyTicks       int           `mapstructure:"healthy_ticks"`
}

// FetcherConfig tunes the reference HTTP handler.
type FetcherConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	AllowedDomains []string      `mapstructure:"allowed_domains"`
	MaxDepth       int           `mapstructure:"max_depth"`
	FollowLinks    bool          `mapstructure:"follow_links"`
	PerDomainRPS   float64       `mapstructure:"per_domain_rps"`
	Burst          int           `mapstructure:"burst"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects the checkpoint provider.
type StorageConfig struct {
	// Provider is one of memory, local, postgres, gcs.
	Provider string `mapstructure:"provider"`
	Local    struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"local"`
	GCS struct {
		Bucket string `mapstructure:"bucket"`
		Prefix string `mapstructure:"prefix"`
	} `mapstructure:"gcs"`
}

// DBConfig holds the Postgres connection settings, used by both the postgres
// checkpoint provider and the progress repository.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int    `mapstructure:"max_conns"`
}

// DSN renders the pgx connection string.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// PubSubConfig configures run notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// APIConfig configures the ops HTTP server.
type APIConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load reads the configuration. path may name a specific file; when empty the
// default search path applies. CRAWLPOOL_* environment variables override
// file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("crawlpool")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/crawlpool")
	}
	v.SetEnvPrefix("CRAWLPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.min_concurrency", 1)
	v.SetDefault("pool.max_concurrency", 16)
	v.SetDefault("pool.desired_ratio", 0.9)
	v.SetDefault("pool.scale_up_step_ratio", 0.1)
	v.SetDefault("pool.scale_down_step_ratio", 0.2)
	v.SetDefault("pool.max_retries", 3)
	v.SetDefault("pool.max_items", 0)
	v.SetDefault("pool.handler_timeout", "60s")
	v.SetDefault("pool.lease_timeout", "90s")
	v.SetDefault("pool.sample_interval", "1s")
	v.SetDefault("pool.reclaim_interval", "5s")
	v.SetDefault("pool.checkpoint_interval", "30s")
	v.SetDefault("pool.heartbeat_interval", "15s")
	v.SetDefault("pool.retry_base_delay", "500ms")
	v.SetDefault("pool.retry_max_delay", "30s")
	v.SetDefault("pool.cpu_high_water", 0.85)
	v.SetDefault("pool.cpu_low_water", 0.6)
	v.SetDefault("pool.mem_high_water", 0.8)
	v.SetDefault("pool.mem_low_water", 0.6)
	v.SetDefault("pool.error_high_water", 0.5)
	v.SetDefault("pool.healthy_ticks", 3)

	v.SetDefault("fetcher.user_agent", "crawlpool/1.0")
	v.SetDefault("fetcher.max_depth", 2)
	v.SetDefault("fetcher.follow_links", true)
	v.SetDefault("fetcher.per_domain_rps", 1.0)
	v.SetDefault("fetcher.burst", 2)
	v.SetDefault("fetcher.timeout", "30s")

	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.local.path", "./data")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "crawlpool")
	v.SetDefault("db.name", "crawlpool")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 8)

	v.SetDefault("pubsub.enabled", false)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "30s")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate rejects configurations that can never run.
func (c *Config) Validate() error {
	if c.Pool.MinConcurrency < 1 {
		return errors.New("pool.min_concurrency must be >= 1")
	}
	if c.Pool.MaxConcurrency < c.Pool.MinConcurrency {
		return errors.New("pool.max_concurrency must be >= pool.min_concurrency")
	}
	if c.Pool.DesiredRatio <= 0 || c.Pool.DesiredRatio > 1 {
		return errors.New("pool.desired_ratio must be in (0, 1]")
	}
	if c.Pool.ScaleUpStepRatio <= 0 || c.Pool.ScaleUpStepRatio > 1 {
		return errors.New("pool.scale_up_step_ratio must be in (0, 1]")
	}
	if c.Pool.ScaleDownStepRatio <= 0 || c.Pool.ScaleDownStepRatio > 1 {
		return errors.New("pool.scale_down_step_ratio must be in (0, 1]")
	}
	if c.Pool.MaxRetries < 0 {
		return errors.New("pool.max_retries must be >= 0")
	}
	if c.Pool.HandlerTimeout >= c.Pool.LeaseTimeout {
		return errors.New("pool.handler_timeout must be below pool.lease_timeout")
	}
	switch c.Storage.Provider {
	case "memory", "local", "postgres", "gcs":
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCS.Bucket == "" {
		return errors.New("storage.gcs.bucket is required for the gcs provider")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return errors.New("pubsub.project_id and pubsub.topic are required when pubsub is enabled")
	}
	if c.Fetcher.PerDomainRPS <= 0 {
		return errors.New("fetcher.per_domain_rps must be > 0")
	}
	return nil
}
