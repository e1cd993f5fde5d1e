package config

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

func TestLoadConfig_DefaultPlatformFeePercent(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "PLATFORM_FEE_PERCENT")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	rate, err := cfg.FeeRate()
	if err != nil {
		t.Fatalf("FeeRate returned error: %v", err)
	}
	if !rate.Equal(decimal.NewFromFloat(0.10)) {
		t.Fatalf("expected default fee rate 0.10, got %s", rate)
	}
}

func TestLoadConfig_FeeRateFromEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PLATFORM_FEE_PERCENT", "12.5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	rate, err := cfg.FeeRate()
	if err != nil {
		t.Fatalf("FeeRate returned error: %v", err)
	}
	if !rate.Equal(decimal.NewFromFloat(0.125)) {
		t.Fatalf("expected fee rate 0.125, got %s", rate)
	}
}

func TestFeeRate_RejectsOutOfRangePercent(t *testing.T) {
	cfg := Config{PlatformFeePercent: "120"}
	if _, err := cfg.FeeRate(); err == nil {
		t.Fatal("expected error for percent above 100")
	}

	cfg = Config{PlatformFeePercent: "-1"}
	if _, err := cfg.FeeRate(); err == nil {
		t.Fatal("expected error for negative percent")
	}

	cfg = Config{PlatformFeePercent: "ten"}
	if _, err := cfg.FeeRate(); err == nil {
		t.Fatal("expected error for non-numeric percent")
	}
}

func TestLoadConfig_PortOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT override to win, got %q", cfg.ServerPort)
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
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
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
			os.Setenv(key, prev)
		}
	})
}
