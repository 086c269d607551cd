/**
 * @description
 * This file handles the configuration management for the subscription-service.
 * It uses the 'viper' library to load configuration from environment variables,
 * providing a centralized and consistent way to manage application settings.
 */
package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	ClerkJWKSURL         string `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	PastDueSweepSchedule string `mapstructure:"PAST_DUE_SWEEP_SCHEDULE"`
	RateLimitPerMinute   int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("PAST_DUE_SWEEP_SCHEDULE", "0 * * * *") // At minute 0 of every hour.
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("PAST_DUE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("RATE_LIMIT_PER_MINUTE")

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if config.RateLimitPerMinute < 1 {
		log.Printf("WARN: RATE_LIMIT_PER_MINUTE %d is invalid, falling back to 120", config.RateLimitPerMinute)
		config.RateLimitPerMinute = 120
	}

	return
}
