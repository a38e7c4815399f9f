package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`

	Detection DetectionConfig `koanf:"detection"`
	Alerting  AlertingConfig  `koanf:"alerting"`
	Retention RetentionConfig `koanf:"retention"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Clients   ClientsConfig   `koanf:"clients"`
}

// ClientsConfig locates the external collaborators: the device telemetry
// aggregator that serves behavior snapshots and the notification gateway.
type ClientsConfig struct {
	SnapshotServiceURL string        `koanf:"snapshot_service_url"`
	NotifierURL        string        `koanf:"notifier_url"`
	Timeout            time.Duration `koanf:"timeout"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	// RiskCacheTTL bounds how long the latest pair risk score is served from
	// cache before a fresh read.
	RiskCacheTTL time.Duration `koanf:"risk_cache_ttl"`
}

type DetectionConfig struct {
	// DefaultWindow is the behavior window evaluated when the caller does not
	// specify one.
	DefaultWindow   time.Duration `koanf:"default_window"`
	SnapshotTimeout time.Duration `koanf:"snapshot_timeout"`
	PersistTimeout  time.Duration `koanf:"persist_timeout"`
}

type AlertingConfig struct {
	// EscalationMinSequence is the shortest non-decreasing assessment run
	// that counts as escalation.
	EscalationMinSequence int           `koanf:"escalation_min_sequence"`
	EscalationMinIncrease int           `koanf:"escalation_min_increase"`
	EscalationLookback    time.Duration `koanf:"escalation_lookback"`
	NotificationsEnabled  bool          `koanf:"notifications_enabled"`
}

type RetentionConfig struct {
	MaxAge       time.Duration `koanf:"max_age"`
	Interval     time.Duration `koanf:"interval"`
	SweepTimeout time.Duration `koanf:"sweep_timeout"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SampleRate   float64 `koanf:"sample_rate"`
	Enabled      bool    `koanf:"enabled"`
}

// Load layers defaults, the optional configs/config.yaml file, and CSG_
// environment variables (CSG_DATABASE_URL -> database.url).
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:           0,
			RiskCacheTTL: 5 * time.Minute,
		},
		Detection: DetectionConfig{
			DefaultWindow:   7 * 24 * time.Hour,
			SnapshotTimeout: 5 * time.Second,
			PersistTimeout:  5 * time.Second,
		},
		Alerting: AlertingConfig{
			EscalationMinSequence: 3,
			EscalationMinIncrease: 20,
			EscalationLookback:    30 * 24 * time.Hour,
			NotificationsEnabled:  true,
		},
		Retention: RetentionConfig{
			MaxAge:       365 * 24 * time.Hour,
			Interval:     24 * time.Hour,
			SweepTimeout: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			SampleRate: 0.1,
		},
		Clients: ClientsConfig{
			SnapshotServiceURL: "http://localhost:8081",
			NotifierURL:        "http://localhost:8082",
			Timeout:            10 * time.Second,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional.
	if err := k.Load(file.Provider("configs/config.yaml"), yaml.Parser()); err != nil {
		_ = err
	}

	if err := k.Load(env.Provider("CSG_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CSG_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
