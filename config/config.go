package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

/* Config é um pacote auxiliar. Poderia ser uma lib externa*/

type Config struct {
	Port          string `mapstructure:"PORT"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	EventsFile string `mapstructure:"EVENTS_FILE"`

	DeliveryTimeoutSeconds int   `mapstructure:"DELIVERY_TIMEOUT_SECONDS"`
	DispatchMaxInFlight    int64 `mapstructure:"DISPATCH_MAX_INFLIGHT"`

	RetryMaxAttempts        int `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryBackoffBaseSeconds int `mapstructure:"RETRY_BACKOFF_BASE_SECONDS"`
	RetryMaxDelaySeconds    int `mapstructure:"RETRY_MAX_DELAY_SECONDS"`
	RetryJitterSeconds      int `mapstructure:"RETRY_JITTER_SECONDS"`
	RetryPollSeconds        int `mapstructure:"RETRY_POLL_SECONDS"`

	StatsDefaultWindowDays int `mapstructure:"STATS_DEFAULT_WINDOW_DAYS"`
}

func GetConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("EVENTS_FILE", "")
	viper.SetDefault("DELIVERY_TIMEOUT_SECONDS", 5)
	viper.SetDefault("DISPATCH_MAX_INFLIGHT", 64)
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 5)
	viper.SetDefault("RETRY_BACKOFF_BASE_SECONDS", 30)
	viper.SetDefault("RETRY_MAX_DELAY_SECONDS", 3600)
	viper.SetDefault("RETRY_JITTER_SECONDS", 10)
	viper.SetDefault("RETRY_POLL_SECONDS", 5)
	viper.SetDefault("STATS_DEFAULT_WINDOW_DAYS", 30)

	err := viper.ReadInConfig()
	if err != nil {
		// A config file is optional; env vars and defaults cover everything
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	err = viper.Unmarshal(&config)
	if err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	return &config, nil
}

// DeliveryTimeout returns the per-attempt transport timeout
func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutSeconds) * time.Second
}

// RetryBackoffBase returns the backoff base duration
func (c *Config) RetryBackoffBase() time.Duration {
	return time.Duration(c.RetryBackoffBaseSeconds) * time.Second
}

// RetryMaxDelay returns the backoff cap
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelaySeconds) * time.Second
}

// RetryJitter returns the maximum random jitter added to a backoff delay
func (c *Config) RetryJitter() time.Duration {
	return time.Duration(c.RetryJitterSeconds) * time.Second
}

// RetryPollInterval returns how often the scheduler checks for due retries
func (c *Config) RetryPollInterval() time.Duration {
	return time.Duration(c.RetryPollSeconds) * time.Second
}

// StatsDefaultWindow returns the default statistics window
func (c *Config) StatsDefaultWindow() time.Duration {
	return time.Duration(c.StatsDefaultWindowDays) * 24 * time.Hour
}
