package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadAppliesEnvOverrides(t *testing.T) {
	os.Setenv("BREAKER_THRESHOLD", "9")
	os.Setenv("RETRY_BASE_DELAY_SECONDS", "2")
	defer os.Unsetenv("BREAKER_THRESHOLD")
	defer os.Unsetenv("RETRY_BASE_DELAY_SECONDS")

	cfg := Load()
	if cfg.BreakerThreshold != 9 {
		t.Fatalf("expected breaker threshold 9, got %d", cfg.BreakerThreshold)
	}
	if cfg.RetryBaseDelay != 2*time.Second {
		t.Fatalf("expected retry base delay 2s, got %s", cfg.RetryBaseDelay)
	}
}

func TestDefaultHasSixSources(t *testing.T) {
	cfg := Default()
	if len(cfg.WorkerTimeout) != 6 {
		t.Fatalf("expected 6 configured worker timeouts, got %d", len(cfg.WorkerTimeout))
	}
}
