package config

import (
	"time"

	"github.com/mvolkov/roomcast-server/internal/core"
)

// Storage backend selectors.
const (
	StorageMemory = "memory"
	StorageScylla = "scylla"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	Storage           string        `mapstructure:"storage" yaml:"storage"`

	Room   RoomConfig   `mapstructure:"room" yaml:"room"`
	Scylla ScyllaConfig `mapstructure:"scylla" yaml:"scylla"`
	S3     S3Config     `mapstructure:"s3" yaml:"s3"`
	Kafka  KafkaConfig  `mapstructure:"kafka" yaml:"kafka"`
}

// RoomConfig tunes the broadcast engine.
type RoomConfig struct {
	// QueueCapacity is the per-room delivery queue depth; a subscriber that
	// falls further behind starts losing the oldest messages.
	QueueCapacity int `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	// HistoryLimit is the number of persisted messages replayed on join.
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`
	// MaxMessageLength bounds accepted chat text, in bytes.
	MaxMessageLength int `mapstructure:"max_message_length" yaml:"max_message_length"`
}

// ScyllaConfig selects the durable message store cluster.
type ScyllaConfig struct {
	Hosts    []string `mapstructure:"hosts" yaml:"hosts"`
	Keyspace string   `mapstructure:"keyspace" yaml:"keyspace"`
}

// S3Config selects the object storage endpoint. An empty endpoint disables
// attachment routes.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Region    string `mapstructure:"region" yaml:"region"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// KafkaConfig selects the attachment event side channel. No brokers disables
// it.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
	GroupID string   `mapstructure:"group_id" yaml:"group_id"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":3000",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		Storage:           StorageMemory,
		Room: RoomConfig{
			QueueCapacity:    core.DefaultQueueCapacity,
			HistoryLimit:     core.DefaultHistoryLimit,
			MaxMessageLength: core.DefaultMaxMessageLength,
		},
		Scylla: ScyllaConfig{
			Hosts:    []string{"127.0.0.1:9042"},
			Keyspace: "chat",
		},
		S3: S3Config{
			Region: "us-east-1",
			Bucket: "roomcast",
		},
		Kafka: KafkaConfig{
			Topic:   "images",
			GroupID: "roomcast-service",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Storage != "" {
		c.Storage = other.Storage
	}
}
