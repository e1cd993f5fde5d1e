/**
 * @description
 * This package handles the configuration management for the payments-service. It
 * uses the Viper library to read configuration from environment variables, with
 * an optional .env file for local development.
 *
 * The platform fee rate lives here and is injected into the application service
 * at construction. Nothing in the escrow or release paths reads the environment
 * at call time.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration loading.
 * - github.com/shopspring/decimal: The fee rate is parsed into a decimal once.
 */

package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payments-service.
type Config struct {
	ServerPort                string  `mapstructure:"SERVER_PORT"`
	DatabaseURL               string  `mapstructure:"DATABASE_URL"`
	RedisURL                  string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string  `mapstructure:"RABBITMQ_URL"`
	EscrowEventExchange       string  `mapstructure:"ESCROW_EVENT_EXCHANGE"`
	ProcessorAPIBaseURL       string  `mapstructure:"PROCESSOR_API_BASE_URL"`
	ProcessorAPIKey           string  `mapstructure:"PROCESSOR_API_KEY"`
	ProcessorWebhookSecret    string  `mapstructure:"PROCESSOR_WEBHOOK_SECRET"`
	ClerkJWKSURL              string  `mapstructure:"CLERK_JWKS_URL"`
	ClerkAudience             string  `mapstructure:"CLERK_AUDIENCE"`
	ClerkIssuer               string  `mapstructure:"CLERK_ISSUER"`
	PlatformFeePercent        string  `mapstructure:"PLATFORM_FEE_PERCENT"`
	ConnectReturnURL          string  `mapstructure:"CONNECT_RETURN_URL"`
	ReleaseRateLimitPerMinute int     `mapstructure:"RELEASE_RATE_LIMIT_PER_MINUTE"`
	WebhookDedupeTTLMinutes   int     `mapstructure:"WEBHOOK_DEDUPE_TTL_MINUTES"`
}

// FeeRate parses PLATFORM_FEE_PERCENT into a fractional decimal rate (10 -> 0.10).
// The percent is carried as a string so the rate never round-trips through a float.
func (c Config) FeeRate() (decimal.Decimal, error) {
	percent, err := decimal.NewFromString(strings.TrimSpace(c.PlatformFeePercent))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid PLATFORM_FEE_PERCENT %q: %w", c.PlatformFeePercent, err)
	}
	if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, fmt.Errorf("PLATFORM_FEE_PERCENT %s out of range [0, 100]", percent)
	}
	return percent.Div(decimal.NewFromInt(100)), nil
}

// LoadConfig reads configuration from environment variables from the given path.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("ESCROW_EVENT_EXCHANGE", "markinflu.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "markinflu:rate_limit")
	viper.SetDefault("PLATFORM_FEE_PERCENT", "10")
	viper.SetDefault("RELEASE_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("WEBHOOK_DEDUPE_TTL_MINUTES", 1440)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("ESCROW_EVENT_EXCHANGE")
	_ = viper.BindEnv("PROCESSOR_API_BASE_URL")
	_ = viper.BindEnv("PROCESSOR_API_KEY")
	_ = viper.BindEnv("PROCESSOR_WEBHOOK_SECRET")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("CLERK_AUDIENCE")
	_ = viper.BindEnv("CLERK_ISSUER")
	_ = viper.BindEnv("CLERK_AUDIENCE")
	_ = viper.BindEnv("CLERK_ISSUER")
	_ = viper.BindEnv("PLATFORM_FEE_PERCENT")
	_ = viper.BindEnv("CONNECT_RETURN_URL")
	_ = viper.BindEnv("RELEASE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("WEBHOOK_DEDUPE_TTL_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "markinflu:rate_limit"
	}

	return
}
