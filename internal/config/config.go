// Package config loads amlwatch settings from YAML files and AMLWATCH_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Aidin1998/amlwatch/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "AMLWATCH"

// Config is the full process configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	TextGen  TextGenConfig  `mapstructure:"textgen"`
	Log      logger.Config  `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
	Mode string `mapstructure:"mode" validate:"oneof=debug release test"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN          string `mapstructure:"dsn" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLife  int    `mapstructure:"conn_max_life_seconds" validate:"gte=0"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	QueueKey string `mapstructure:"queue_key"`
}

type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	IngestTopic string   `mapstructure:"ingest_topic"`
	AlertTopic  string   `mapstructure:"alert_topic"`
	GroupID     string   `mapstructure:"group_id"`
}

// RulesConfig holds detection thresholds
type RulesConfig struct {
	StructuringThreshold float64       `mapstructure:"structuring_threshold" validate:"gt=0"`
	StructuringWindow    time.Duration `mapstructure:"structuring_window" validate:"gt=0"`
	StructuringMinCount  int           `mapstructure:"structuring_min_count" validate:"gte=1"`
	HighRiskCountries    []string      `mapstructure:"high_risk_countries"`
	WatchlistSimilarity  float64       `mapstructure:"watchlist_similarity" validate:"gt=0,lte=1"`
}

// ScoringConfig locates model artifacts and holds decision thresholds
type ScoringConfig struct {
	ArtifactDir  string  `mapstructure:"artifact_dir"`
	IsoThreshold float64 `mapstructure:"iso_threshold" validate:"lt=0"`
	AEThreshold  float64 `mapstructure:"ae_threshold" validate:"gt=0"`
}

type JobsConfig struct {
	Workers            int           `mapstructure:"workers" validate:"gte=1"`
	QueueSize          int           `mapstructure:"queue_size" validate:"gte=1"`
	OrphanTTL          time.Duration `mapstructure:"orphan_ttl" validate:"gt=0"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	ExplanationTimeout time.Duration `mapstructure:"explanation_timeout" validate:"gt=0"`
	ResultCacheTTL     time.Duration `mapstructure:"result_cache_ttl"`
}

type TextGenConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from the given files (or the default locations),
// overlays AMLWATCH_* environment variables, and validates the result.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	setDefaults(v)

	if len(paths) == 0 {
		paths = []string{"./config.yaml", "./configs/config.yaml", "/etc/amlwatch/config.yaml"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "amlwatch.db")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.conn_max_life_seconds", 0)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queue_key", "amlwatch:jobs")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.ingest_topic", "aml.transactions")
	v.SetDefault("kafka.alert_topic", "aml.alerts")
	v.SetDefault("kafka.group_id", "amlwatch-ingest")

	v.SetDefault("rules.structuring_threshold", 50000)
	v.SetDefault("rules.structuring_window", 48*time.Hour)
	v.SetDefault("rules.structuring_min_count", 4)
	v.SetDefault("rules.high_risk_countries", []string{"Iran", "North Korea", "Syria", "Yemen"})
	v.SetDefault("rules.watchlist_similarity", 0.85)

	v.SetDefault("scoring.artifact_dir", "ml_models")
	v.SetDefault("scoring.iso_threshold", -0.05)
	v.SetDefault("scoring.ae_threshold", 0.2)

	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue_size", 256)
	v.SetDefault("jobs.orphan_ttl", 30*time.Minute)
	v.SetDefault("jobs.sweep_interval", time.Minute)
	v.SetDefault("jobs.explanation_timeout", 30*time.Second)
	v.SetDefault("jobs.result_cache_ttl", 10*time.Minute)

	v.SetDefault("textgen.endpoint", "")
	v.SetDefault("textgen.model", "llama3")
	v.SetDefault("textgen.api_key", "")
	v.SetDefault("textgen.timeout", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/amlwatch.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
}

func (c *Config) validate() error {
	return validator.New().Struct(c)
}
