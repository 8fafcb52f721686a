package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rl1809/planet-auction/internal/core/domain"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	for _, key := range []string{"AUCTION_STORE", "AUCTION_SAMPLE_PERCENT", "AUCTION_PRICE_POLICY", "AUCTION_MAX_SHARES", "CORS_ORIGINS", "APP_LOG_LEVEL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store != StoreSpanner {
		t.Errorf("expected store %q, got %q", StoreSpanner, cfg.Store)
	}
	if cfg.SamplePercent != 10 {
		t.Errorf("expected sample percent 10, got %v", cfg.SamplePercent)
	}
	if cfg.RetryFirstDelay != time.Second || cfg.RetryMultiplier != 2 || cfg.RetryMaxRetries != 0 {
		t.Errorf("unexpected retry defaults: %v %v %d", cfg.RetryFirstDelay, cfg.RetryMultiplier, cfg.RetryMaxRetries)
	}
	if cfg.MaxShares != 100000 {
		t.Errorf("expected max shares 100000, got %d", cfg.MaxShares)
	}
	if cfg.Policy() != domain.PriceAtMatch {
		t.Errorf("expected match policy, got %q", cfg.Policy())
	}
	if diff := cmp.Diff([]string{"*"}, cfg.CORSOrigins); diff != "" {
		t.Errorf("CORS origins mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("AUCTION_STORE", "memory")
	t.Setenv("AUCTION_PRICE_POLICY", "commit")
	t.Setenv("AUCTION_RETRY_MAX_RETRIES", "3")
	t.Setenv("AUCTION_RETRY_FIRST_DELAY", "250ms")
	t.Setenv("CORS_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("APP_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store != StoreMemory {
		t.Errorf("expected memory store, got %q", cfg.Store)
	}
	if cfg.Policy() != domain.PriceAtCommit {
		t.Errorf("expected commit policy, got %q", cfg.Policy())
	}
	if cfg.RetryMaxRetries != 3 || cfg.RetryFirstDelay != 250*time.Millisecond {
		t.Errorf("unexpected retry settings: %d %v", cfg.RetryMaxRetries, cfg.RetryFirstDelay)
	}
	if p := cfg.RetryPolicy(); p.MaxRetries != 3 || p.FirstRetryDelay != 250*time.Millisecond || p.ShouldRetry != nil {
		t.Errorf("unexpected retry policy: %+v", p)
	}
	if diff := cmp.Diff([]string{"http://a.test", "http://b.test"}, cfg.CORSOrigins); diff != "" {
		t.Errorf("CORS origins mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Store:         StoreMemory,
		SamplePercent: 10,
		PricePolicy:   "match",
		MaxShares:     100,
		LogLevel:      "info",
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown store", func(c *Config) { c.Store = "oracle" }, true},
		{"zero sample", func(c *Config) { c.SamplePercent = 0 }, true},
		{"sample over 100", func(c *Config) { c.SamplePercent = 101 }, true},
		{"full sample", func(c *Config) { c.SamplePercent = 100 }, false},
		{"bad policy", func(c *Config) { c.PricePolicy = "auction" }, true},
		{"negative in flight", func(c *Config) { c.MaxInFlight = -1 }, true},
		{"zero max shares", func(c *Config) { c.MaxShares = 0 }, true},
		{"scheduled above max shares", func(c *Config) { c.ScheduledShares = 101 }, true},
		{"negative retries", func(c *Config) { c.RetryMaxRetries = -1 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"spanner without coordinates", func(c *Config) { c.Store = StoreSpanner }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSpannerConfigured(t *testing.T) {
	cfg := Config{SpannerProject: "p", SpannerInstance: "i"}
	if cfg.SpannerConfigured() {
		t.Error("expected incomplete coordinates to report false")
	}
	cfg.SpannerDatabase = "d"
	if !cfg.SpannerConfigured() {
		t.Error("expected complete coordinates to report true")
	}
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir, Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}
