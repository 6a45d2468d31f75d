// Package config loads dairyledger settings.
//
// Sources, lowest precedence first: built-in defaults, an optional YAML file,
// an optional .env file and DAIRY_* environment variables. Nested keys map to
// variables by upper-casing and replacing dots with underscores, so
// sync.batch_size is DAIRY_SYNC_BATCH_SIZE.
//
// The decoded result is checked against an embedded CUE schema and every
// violation is reported at once.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/roach88/dairyledger/internal/engine"
	"github.com/roach88/dairyledger/internal/remote"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DAIRY"

// Config is the decoded configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Device   DeviceConfig   `mapstructure:"device" json:"device"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
	Sync     SyncConfig     `mapstructure:"sync" json:"sync"`
	Liveness LivenessConfig `mapstructure:"liveness" json:"liveness"`
	Remote   RemoteConfig   `mapstructure:"remote" json:"remote"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" json:"path"`
}

type DeviceConfig struct {
	OperatorID string `mapstructure:"operator_id" json:"operator_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// SyncConfig is the drain policy and reconcile cadence.
type SyncConfig struct {
	Interval        time.Duration   `mapstructure:"interval" json:"interval"`
	BatchSize       int             `mapstructure:"batch_size" json:"batch_size"`
	MaxRetries      int             `mapstructure:"max_retries" json:"max_retries"`
	Backoff         []time.Duration `mapstructure:"backoff" json:"backoff"`
	SendTimeout     time.Duration   `mapstructure:"send_timeout" json:"send_timeout"`
	PruneThreshold  int             `mapstructure:"prune_threshold" json:"prune_threshold"`
	SyncedRetention time.Duration   `mapstructure:"synced_retention" json:"synced_retention"`
}

type LivenessConfig struct {
	Interval time.Duration `mapstructure:"interval" json:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

type RemoteConfig struct {
	Kind     string         `mapstructure:"kind" json:"kind"`
	HTTP     HTTPConfig     `mapstructure:"http" json:"http"`
	Postgres PostgresConfig `mapstructure:"postgres" json:"postgres"`
	Kafka    KafkaConfig    `mapstructure:"kafka" json:"kafka"`
	AMQP     AMQPConfig     `mapstructure:"amqp" json:"amqp"`
}

type HTTPConfig struct {
	BaseURL string `mapstructure:"base_url" json:"base_url"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn" json:"dsn"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers" json:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix" json:"topic_prefix"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url" json:"url"`
	Exchange string `mapstructure:"exchange" json:"exchange"`
}

// Options selects the optional sources.
type Options struct {
	// File is a YAML config file. Empty means none.
	File string
	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	def := engine.DefaultConfig()
	return Config{
		Database: DatabaseConfig{Path: "dairyledger.db"},
		Device:   DeviceConfig{OperatorID: "operator"},
		Log:      LogConfig{Level: "info", Format: "text"},
		Sync: SyncConfig{
			Interval:        engine.DefaultInterval,
			BatchSize:       def.BatchSize,
			MaxRetries:      def.MaxRetries,
			Backoff:         def.Backoff,
			SendTimeout:     def.SendTimeout,
			PruneThreshold:  def.PruneThreshold,
			SyncedRetention: def.SyncedRetention,
		},
		Liveness: LivenessConfig{
			Interval: engine.DefaultProbeInterval,
			Timeout:  engine.DefaultProbeTimeout,
		},
		Remote: RemoteConfig{
			Kind:  remote.KindNone,
			Kafka: KafkaConfig{Brokers: []string{}, TopicPrefix: "dairy."},
			AMQP:  AMQPConfig{Exchange: "dairy.sync"},
		},
	}
}

// Load reads every source in opts, decodes and validates the result.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, Defaults())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("device.operator_id", d.Device.OperatorID)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.batch_size", d.Sync.BatchSize)
	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)
	v.SetDefault("sync.backoff", d.Sync.Backoff)
	v.SetDefault("sync.send_timeout", d.Sync.SendTimeout)
	v.SetDefault("sync.prune_threshold", d.Sync.PruneThreshold)
	v.SetDefault("sync.synced_retention", d.Sync.SyncedRetention)

	v.SetDefault("liveness.interval", d.Liveness.Interval)
	v.SetDefault("liveness.timeout", d.Liveness.Timeout)

	v.SetDefault("remote.kind", d.Remote.Kind)
	v.SetDefault("remote.http.base_url", d.Remote.HTTP.BaseURL)
	v.SetDefault("remote.postgres.dsn", d.Remote.Postgres.DSN)
	v.SetDefault("remote.kafka.brokers", d.Remote.Kafka.Brokers)
	v.SetDefault("remote.kafka.topic_prefix", d.Remote.Kafka.TopicPrefix)
	v.SetDefault("remote.amqp.url", d.Remote.AMQP.URL)
	v.SetDefault("remote.amqp.exchange", d.Remote.AMQP.Exchange)
}

// EngineConfig returns the drain policy.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		BatchSize:       c.Sync.BatchSize,
		MaxRetries:      c.Sync.MaxRetries,
		Backoff:         c.Sync.Backoff,
		SendTimeout:     c.Sync.SendTimeout,
		PruneThreshold:  c.Sync.PruneThreshold,
		SyncedRetention: c.Sync.SyncedRetention,
	}
}

// RemoteConfig returns the remote selection.
func (c Config) RemoteConfig() remote.Config {
	return remote.Config{
		Kind:             c.Remote.Kind,
		HTTPBaseURL:      c.Remote.HTTP.BaseURL,
		PostgresDSN:      c.Remote.Postgres.DSN,
		KafkaBrokers:     c.Remote.Kafka.Brokers,
		KafkaTopicPrefix: c.Remote.Kafka.TopicPrefix,
		AMQPURL:          c.Remote.AMQP.URL,
		AMQPExchange:     c.Remote.AMQP.Exchange,
	}
}
