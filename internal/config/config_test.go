package config

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"PORT", "SERVER_PORT", "PLATFORM_FEE_PERCENT", "MIN_WITHDRAW_AMOUNT", "CURRENCY", "CORS_ALLOWED_ORIGINS", "PENDING_PAYMENT_TTL_MINUTES"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if !cfg.PlatformFeePercent.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected default fee 10, got %s", cfg.PlatformFeePercent)
	}
	if !cfg.MinWithdrawAmount.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("expected default minimum withdraw 50000, got %s", cfg.MinWithdrawAmount)
	}
	if cfg.Currency != "VND" || cfg.CurrencyScale != 0 {
		t.Fatalf("unexpected currency settings %q scale=%d", cfg.Currency, cfg.CurrencyScale)
	}
	if cfg.PendingPaymentTTLMinutes != 15 {
		t.Fatalf("expected ttl 15, got %d", cfg.PendingPaymentTTLMinutes)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("expected wildcard CORS origin, got %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.AutoMigrate || !cfg.MetricsEnabled {
		t.Fatalf("expected migrations and metrics enabled by default")
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "7000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "7000" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_PlatformFeePercent(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  decimal.Decimal
	}{
		{name: "fractional", value: "12.5", want: decimal.RequireFromString("12.5")},
		{name: "negative coerced to zero", value: "-3", want: decimal.Zero},
		{name: "capped at 100", value: "150", want: decimal.NewFromInt(100)},
		{name: "garbage keeps default", value: "ten", want: decimal.NewFromInt(10)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			setEnvWithCleanup(t, "PLATFORM_FEE_PERCENT", tc.value)

			cfg, err := LoadConfig(t.TempDir())
			if err != nil {
				t.Fatalf("LoadConfig returned error: %v", err)
			}
			if !cfg.PlatformFeePercent.Equal(tc.want) {
				t.Fatalf("expected fee %s, got %s", tc.want, cfg.PlatformFeePercent)
			}
		})
	}
}

func TestLoadConfig_MinWithdrawAmount(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MIN_WITHDRAW_AMOUNT", "100000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.MinWithdrawAmount.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("expected 100000, got %s", cfg.MinWithdrawAmount)
	}
}

func TestLoadConfig_CurrencyScale(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    int32
		wantErr bool
	}{
		{name: "whole units", value: "0", want: 0},
		{name: "cents", value: "2", want: 2},
		{name: "negative coerced to zero", value: "-1", want: 0},
		{name: "finer than the ledger columns", value: "3", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			setEnvWithCleanup(t, "CURRENCY_SCALE", tc.value)

			cfg, err := LoadConfig(t.TempDir())
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected an error for scale %s", tc.value)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadConfig returned error: %v", err)
			}
			if cfg.CurrencyScale != tc.want {
				t.Fatalf("expected scale %d, got %d", tc.want, cfg.CurrencyScale)
			}
		})
	}
}

func TestLoadConfig_CORSOriginsList(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "CORS_ALLOWED_ORIGINS", "https://learnary.io, http://localhost:3000 ,")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://localhost:3000" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfig_ChecksumKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "GATEWAY_CHECKSUM_KEY")
	setEnvWithCleanup(t, "PAYOS_CHECKSUM_KEY", "alias-checksum")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.GatewayChecksumKey != "alias-checksum" {
		t.Fatalf("expected checksum key from alias, got %q", cfg.GatewayChecksumKey)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
