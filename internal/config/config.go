// Package config loads service configuration from a YAML file with
// environment variable overrides. Every key can be overridden with a
// MESSAGING_ prefixed variable, e.g. MESSAGING_SERVER_ADDR.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string        `mapstructure:"environment"`
	Server      ServerConfig  `mapstructure:"server"`
	Database    Database      `mapstructure:"database"`
	AMQP        AMQPConfig    `mapstructure:"amqp"`
	Blob        BlobConfig    `mapstructure:"blob"`
	Identity    Identity      `mapstructure:"identity"`
	AI          AIConfig      `mapstructure:"ai"`
	Hub         HubConfig     `mapstructure:"hub"`
	Tracing     TracingConfig `mapstructure:"tracing"`
	Log         LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Database struct {
	DSN string `mapstructure:"dsn"`
}

type AMQPConfig struct {
	URL           string `mapstructure:"url"`
	FeedExchange  string `mapstructure:"feed_exchange"`
	AuditExchange string `mapstructure:"audit_exchange"`
	FeedQueue     string `mapstructure:"feed_queue"`
}

type BlobConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Identity points at the external auth service that verifies session
// tokens and serves capability grants.
type Identity struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HubConfig struct {
	RingSize int `mapstructure:"ring_size"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads the named config file (empty means ./configs/local.yaml) and
// applies env overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("environment", "local")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("amqp.feed_exchange", "conversation.events")
	v.SetDefault("amqp.audit_exchange", "platform.audit")
	v.SetDefault("amqp.feed_queue", "messaging.feed")
	v.SetDefault("blob.bucket", "message-attachments")
	v.SetDefault("identity.timeout", 5*time.Second)
	v.SetDefault("ai.timeout", 30*time.Second)
	v.SetDefault("hub.ring_size", 256)
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("local")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("MESSAGING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when env vars carry the config.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Hub.RingSize <= 0 {
		return fmt.Errorf("hub.ring_size must be positive")
	}
	return nil
}
