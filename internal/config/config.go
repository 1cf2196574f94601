package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/timmy/batchmigrate/internal/validator"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Admission    AdmissionConfig    `mapstructure:"admission"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Reconciler   ReconcilerConfig   `mapstructure:"reconciler"`
	Importer     ImporterConfig     `mapstructure:"importer"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Schemas      []validator.Schema `mapstructure:"schemas"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite or postgres
	Path     string `mapstructure:"path"`   // sqlite file, ":memory:" for tests
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
	SlowQuery       time.Duration `mapstructure:"slow_query"`
}

// DSN builds the driver-specific connection string.
func (d DatabaseConfig) DSN() string {
	if d.Driver != "postgres" {
		if d.Path == ":memory:" {
			return "file::memory:?cache=shared"
		}
		return d.Path
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type StorageConfig struct {
	Type         string        `mapstructure:"type"` // s3, r2, s3compatible, minio, memory
	Endpoint     string        `mapstructure:"endpoint"`
	AccessKey    string        `mapstructure:"access_key"`
	SecretKey    string        `mapstructure:"secret_key"`
	UseSSL       bool          `mapstructure:"use_ssl"`
	Bucket       string        `mapstructure:"bucket"`
	Region       string        `mapstructure:"region"`
	EnsureBucket bool          `mapstructure:"ensure_bucket"`
	SignedURLTTL time.Duration `mapstructure:"signed_url_ttl"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type AdmissionConfig struct {
	MaxSizeBytes              int64    `mapstructure:"max_size_bytes"`
	AllowedTypes              []string `mapstructure:"allowed_types"`
	RequireAuthenticatedOwner bool     `mapstructure:"require_authenticated_owner"`
	UploadsPerMinute          int      `mapstructure:"uploads_per_minute"`
}

type OrchestratorConfig struct {
	Workers           int           `mapstructure:"workers"`
	BatchSize         int           `mapstructure:"batch_size"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	TickBudget        time.Duration `mapstructure:"tick_budget"`
	CommitTimeout     time.Duration `mapstructure:"commit_timeout"`
	CommitAttempts    int           `mapstructure:"commit_attempts"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	FailureThreshold  float64       `mapstructure:"failure_threshold"`
	RequireWarningAck bool          `mapstructure:"require_warning_ack"`
	ErrorDetailsCap   int           `mapstructure:"error_details_cap"`
	TrimSpace         bool          `mapstructure:"trim_space"`        // trim every field before commit
	UppercaseColumns  []string      `mapstructure:"uppercase_columns"` // upper-case these columns before commit
}

type ReconcilerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BatchSize   int           `mapstructure:"batch_size"`
}

type ImporterConfig struct {
	Workers     int    `mapstructure:"workers"`
	BatchSize   int    `mapstructure:"batch_size"`
	StagingPath string `mapstructure:"staging_path"`
}

type TelemetryConfig struct {
	Source         string        `mapstructure:"source"` // static or http
	Endpoint       string        `mapstructure:"endpoint"`
	Cadence        time.Duration `mapstructure:"cadence"`
	MaxLatency     time.Duration `mapstructure:"max_latency"`
	Smoothing      float64       `mapstructure:"smoothing"`
	WindowSamples  int           `mapstructure:"window_samples"`
	WindowDuration time.Duration `mapstructure:"window_duration"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment endpoints
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.host", "DATABASE_HOST")
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	_ = v.BindEnv("redis.address", "REDIS_ADDRESS")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("telemetry.endpoint", "TELEMETRY_ENDPOINT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/batchmigrate.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_query", 500*time.Millisecond)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.bucket", "datasets")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.signed_url_ttl", 15*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.prefix", "batchmigrate")

	v.SetDefault("admission.max_size_bytes", 50<<20)
	v.SetDefault("admission.allowed_types", []string{"text/csv", "text/plain", "text/tab-separated-values", "application/vnd.ms-excel"})
	v.SetDefault("admission.require_authenticated_owner", true)
	v.SetDefault("admission.uploads_per_minute", 30)

	v.SetDefault("orchestrator.workers", 4)
	v.SetDefault("orchestrator.batch_size", 100)
	v.SetDefault("orchestrator.tick_interval", time.Second)
	v.SetDefault("orchestrator.tick_budget", 5*time.Second)
	v.SetDefault("orchestrator.commit_timeout", 5*time.Second)
	v.SetDefault("orchestrator.commit_attempts", 3)
	v.SetDefault("orchestrator.backoff_initial", 100*time.Millisecond)
	v.SetDefault("orchestrator.backoff_max", 2*time.Second)
	v.SetDefault("orchestrator.failure_threshold", 0.0)
	v.SetDefault("orchestrator.require_warning_ack", false)
	v.SetDefault("orchestrator.error_details_cap", 50)
	v.SetDefault("orchestrator.trim_space", true)

	v.SetDefault("reconciler.interval", 5*time.Minute)
	v.SetDefault("reconciler.max_attempts", 5)
	v.SetDefault("reconciler.batch_size", 100)

	v.SetDefault("importer.workers", 4)
	v.SetDefault("importer.batch_size", 50)
	v.SetDefault("importer.staging_path", "./data/staging")

	v.SetDefault("telemetry.source", "static")
	v.SetDefault("telemetry.cadence", 5*time.Second)
	v.SetDefault("telemetry.max_latency", 10*time.Second)
	v.SetDefault("telemetry.smoothing", 0.0)
	v.SetDefault("telemetry.window_samples", 20)
	v.SetDefault("telemetry.window_duration", 2*time.Minute)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Orchestrator.Workers <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.workers must be positive, got %d", c.Orchestrator.Workers))
	}
	if c.Orchestrator.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.batch_size must be positive, got %d", c.Orchestrator.BatchSize))
	}
	if c.Orchestrator.CommitAttempts <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.commit_attempts must be positive, got %d", c.Orchestrator.CommitAttempts))
	}
	if t := c.Orchestrator.FailureThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("orchestrator.failure_threshold must be within [0,1], got %v", t))
	}
	if s := c.Telemetry.Smoothing; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("telemetry.smoothing must be within [0,1], got %v", s))
	}
	if c.Telemetry.Source == "http" && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required for the http source"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	for _, s := range c.Schemas {
		if err := s.Check(); err != nil {
			errs = append(errs, fmt.Errorf("schema %q: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
