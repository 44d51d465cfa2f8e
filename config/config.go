// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

// Package config loads the routeqd configuration from a YAML file.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration of the routeqd binary.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Provider ProviderConfig `mapstructure:"provider"`
	Queues   []QueueConfig  `mapstructure:"queues"`
	UI       UIConfig       `mapstructure:"ui"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// BrokerConfig selects the queue backing store.
type BrokerConfig struct {
	// Backend is either "memory" or "redis".
	Backend string        `mapstructure:"backend"`
	Lease   time.Duration `mapstructure:"lease"`
}

// RedisConfig configures the shared Redis connection, used by the
// redis-backed broker, the route cache and the notifier.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MySQLConfig configures the route store.
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ProviderConfig configures the external routing service.
type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// QueueConfig configures one job type.
type QueueConfig struct {
	Type        string `mapstructure:"type"`
	Concurrency int    `mapstructure:"concurrency"`
}

// UIConfig configures the live dashboard.
type UIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("app.name", "routeqd")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("broker.backend", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("provider.timeout", 10*time.Second)
	v.SetDefault("ui.addr", ":8997")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	switch c.Broker.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("broker.backend must be memory or redis, have %q", c.Broker.Backend)
	}
	if c.Broker.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for the redis broker")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	for i, q := range c.Queues {
		if q.Type == "" {
			return fmt.Errorf("queues[%d].type is required", i)
		}
		if q.Concurrency < 0 {
			return fmt.Errorf("queues[%d].concurrency must not be negative", i)
		}
	}
	return nil
}
