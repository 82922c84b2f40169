/**
 * @description
 * This package handles the configuration management for the payment-service. It uses
 * the Viper library to read configuration from environment variables and an optional
 * .env file, providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/shopspring/decimal: Monetary settings are parsed as decimals.
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

const (
	defaultPlatformFeePercent = "10"
	defaultMinWithdrawAmount  = "50000"
	defaultRateLimitPrefix    = "learnary:rate_limit"

	// Ledger amounts are stored as NUMERIC(18,2).
	maxCurrencyScale = 2
)

// Config holds all the configuration variables for the payment-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                        string   `mapstructure:"SERVER_PORT"`
	DatabaseURL                       string   `mapstructure:"DATABASE_URL"`
	AutoMigrate                       bool     `mapstructure:"AUTO_MIGRATE"`
	RedisURL                          string   `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix              string   `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                       string   `mapstructure:"RABBITMQ_URL"`
	EventsExchange                    string   `mapstructure:"EVENTS_EXCHANGE"`
	JWTSecret                         string   `mapstructure:"JWT_SECRET"`
	CORSAllowedOrigins                []string `mapstructure:"-"`
	GatewayBaseURL                    string   `mapstructure:"GATEWAY_BASE_URL"`
	GatewayClientID                   string   `mapstructure:"GATEWAY_CLIENT_ID"`
	GatewayAPIKey                     string   `mapstructure:"GATEWAY_API_KEY"`
	GatewayChecksumKey                string   `mapstructure:"GATEWAY_CHECKSUM_KEY"`
	GatewayTimeoutSeconds             int      `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	PaymentReturnURL                  string   `mapstructure:"PAYMENT_RETURN_URL"`
	PaymentCancelURL                  string   `mapstructure:"PAYMENT_CANCEL_URL"`
	Currency                          string   `mapstructure:"CURRENCY"`
	CurrencyScale                     int32    `mapstructure:"CURRENCY_SCALE"`
	PendingPaymentTTLMinutes          int      `mapstructure:"PENDING_PAYMENT_TTL_MINUTES"`
	ExpirySweepSchedule               string   `mapstructure:"EXPIRY_SWEEP_SCHEDULE"`
	ExpirySweepBatchSize              int      `mapstructure:"EXPIRY_SWEEP_BATCH_SIZE"`
	OutboxPollIntervalMS              int      `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
	OutboxBatchSize                   int      `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxRetentionHours              int      `mapstructure:"OUTBOX_RETENTION_HOURS"`
	OutboxCleanupSchedule             string   `mapstructure:"OUTBOX_CLEANUP_SCHEDULE"`
	PaymentLinkRateLimitPerMinute     int      `mapstructure:"PAYMENT_LINK_RATE_LIMIT_PER_MINUTE"`
	WithdrawRequestRateLimitPerMinute int      `mapstructure:"WITHDRAW_REQUEST_RATE_LIMIT_PER_MINUTE"`
	MetricsEnabled                    bool     `mapstructure:"METRICS_ENABLED"`

	// Monetary settings, parsed from strings so no precision is lost.
	PlatformFeePercent decimal.Decimal `mapstructure:"-"`
	MinWithdrawAmount  decimal.Decimal `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("AUTO_MIGRATE", true)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("EVENTS_EXCHANGE", "learnary.events")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("GATEWAY_BASE_URL", "https://api-merchant.payos.vn")
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", 15)
	viper.SetDefault("PAYMENT_RETURN_URL", "http://localhost:3000/payment/success")
	viper.SetDefault("PAYMENT_CANCEL_URL", "http://localhost:3000/payment/cancel")
	viper.SetDefault("CURRENCY", "VND")
	viper.SetDefault("CURRENCY_SCALE", 0)
	viper.SetDefault("PLATFORM_FEE_PERCENT", defaultPlatformFeePercent)
	viper.SetDefault("MIN_WITHDRAW_AMOUNT", defaultMinWithdrawAmount)
	viper.SetDefault("PENDING_PAYMENT_TTL_MINUTES", 15)
	viper.SetDefault("EXPIRY_SWEEP_SCHEDULE", "@every 1m")
	viper.SetDefault("EXPIRY_SWEEP_BATCH_SIZE", 200)
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", 1200)
	viper.SetDefault("OUTBOX_BATCH_SIZE", 50)
	viper.SetDefault("OUTBOX_RETENTION_HOURS", 168)
	viper.SetDefault("OUTBOX_CLEANUP_SCHEDULE", "@hourly")
	viper.SetDefault("PAYMENT_LINK_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("WITHDRAW_REQUEST_RATE_LIMIT_PER_MINUTE", 5)
	viper.SetDefault("METRICS_ENABLED", true)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range []string{
		"SERVER_PORT",
		"PORT",
		"DATABASE_URL",
		"AUTO_MIGRATE",
		"REDIS_URL",
		"REDIS_RATE_LIMIT_PREFIX",
		"RABBITMQ_URL",
		"EVENTS_EXCHANGE",
		"JWT_SECRET",
		"CORS_ALLOWED_ORIGINS",
		"GATEWAY_BASE_URL",
		"GATEWAY_CLIENT_ID",
		"GATEWAY_API_KEY",
		"GATEWAY_TIMEOUT_SECONDS",
		"PAYMENT_RETURN_URL",
		"PAYMENT_CANCEL_URL",
		"CURRENCY",
		"CURRENCY_SCALE",
		"PLATFORM_FEE_PERCENT",
		"MIN_WITHDRAW_AMOUNT",
		"PENDING_PAYMENT_TTL_MINUTES",
		"EXPIRY_SWEEP_SCHEDULE",
		"EXPIRY_SWEEP_BATCH_SIZE",
		"OUTBOX_POLL_INTERVAL_MS",
		"OUTBOX_BATCH_SIZE",
		"OUTBOX_RETENTION_HOURS",
		"OUTBOX_CLEANUP_SCHEDULE",
		"PAYMENT_LINK_RATE_LIMIT_PER_MINUTE",
		"WITHDRAW_REQUEST_RATE_LIMIT_PER_MINUTE",
		"METRICS_ENABLED",
	} {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("GATEWAY_CHECKSUM_KEY", "GATEWAY_CHECKSUM_KEY", "PAYOS_CHECKSUM_KEY")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.Currency = strings.ToUpper(strings.TrimSpace(config.Currency))
	if config.Currency == "" {
		config.Currency = "VND"
	}
	config.CORSAllowedOrigins = splitList(viper.GetString("CORS_ALLOWED_ORIGINS"))

	config.PlatformFeePercent = parseDecimal("PLATFORM_FEE_PERCENT", defaultPlatformFeePercent)
	if config.PlatformFeePercent.IsNegative() {
		log.Printf("level=warn component=config msg=\"negative platform fee percent configured; coercing to zero\" fee_percent=%s", config.PlatformFeePercent)
		config.PlatformFeePercent = decimal.Zero
	}
	if config.PlatformFeePercent.GreaterThan(decimal.NewFromInt(100)) {
		log.Printf("level=warn component=config msg=\"platform fee percent too high; capping at 100\" fee_percent=%s", config.PlatformFeePercent)
		config.PlatformFeePercent = decimal.NewFromInt(100)
	}

	config.MinWithdrawAmount = parseDecimal("MIN_WITHDRAW_AMOUNT", defaultMinWithdrawAmount)
	if !config.MinWithdrawAmount.IsPositive() {
		log.Printf("level=warn component=config msg=\"non-positive minimum withdraw amount; using default\" value=%s", config.MinWithdrawAmount)
		config.MinWithdrawAmount = decimal.RequireFromString(defaultMinWithdrawAmount)
	}

	if config.CurrencyScale < 0 {
		config.CurrencyScale = 0
	}
	if config.CurrencyScale > maxCurrencyScale {
		err = fmt.Errorf("CURRENCY_SCALE %d exceeds the ledger precision of %d decimal places", config.CurrencyScale, maxCurrencyScale)
		return
	}
	if config.GatewayTimeoutSeconds <= 0 {
		config.GatewayTimeoutSeconds = 15
	}
	if config.PendingPaymentTTLMinutes <= 0 {
		config.PendingPaymentTTLMinutes = 15
	}
	if strings.TrimSpace(config.ExpirySweepSchedule) == "" {
		config.ExpirySweepSchedule = "@every 1m"
	}
	if config.ExpirySweepBatchSize <= 0 {
		config.ExpirySweepBatchSize = 200
	}
	if config.OutboxPollIntervalMS <= 0 {
		config.OutboxPollIntervalMS = 1200
	}
	if config.OutboxBatchSize <= 0 {
		config.OutboxBatchSize = 50
	}
	if config.OutboxRetentionHours <= 0 {
		config.OutboxRetentionHours = 168
	}
	if strings.TrimSpace(config.OutboxCleanupSchedule) == "" {
		config.OutboxCleanupSchedule = "@hourly"
	}
	if config.PaymentLinkRateLimitPerMinute <= 0 {
		config.PaymentLinkRateLimitPerMinute = 10
	}
	if config.WithdrawRequestRateLimitPerMinute <= 0 {
		config.WithdrawRequestRateLimitPerMinute = 5
	}

	return
}

func parseDecimal(key, fallback string) decimal.Decimal {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		raw = fallback
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid decimal setting; using default\" key=%s value=%q err=%v", key, raw, err)
		return decimal.RequireFromString(fallback)
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
