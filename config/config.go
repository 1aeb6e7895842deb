package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

/* Config is loaded once at startup from a .env file (TOML format)
 * with environment variables taking precedence
 */

type Config struct {
	Port          string `mapstructure:"PORT"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// PartnersFile is the YAML file holding the partner registry
	PartnersFile string `mapstructure:"PARTNERS_FILE"`

	// WorkerCount is the size of the delivery worker pool
	WorkerCount int `mapstructure:"WORKER_COUNT"`

	// SweepIntervalSeconds controls how often the recovery sweep runs
	SweepIntervalSeconds int `mapstructure:"SWEEP_INTERVAL_SECONDS"`

	// SweepStaleSeconds is the age after which a non-terminal attempt
	// is considered stuck and eligible for re-drive
	SweepStaleSeconds int `mapstructure:"SWEEP_STALE_SECONDS"`
}

func GetConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("PARTNERS_FILE", "partners.yaml")
	viper.SetDefault("WORKER_COUNT", 8)
	viper.SetDefault("SWEEP_INTERVAL_SECONDS", 60)
	viper.SetDefault("SWEEP_STALE_SECONDS", 300)

	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Missing .env is fine, defaults and env vars apply
	}
	var config Config
	err = viper.Unmarshal(&config)
	if err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	return &config, nil
}

// SweepInterval returns the recovery sweep period as a duration
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// SweepStaleAfter returns the stuck-attempt age threshold as a duration
func (c *Config) SweepStaleAfter() time.Duration {
	return time.Duration(c.SweepStaleSeconds) * time.Second
}
