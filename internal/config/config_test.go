package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("OPTIONS_CACHE_TTL", "90s")
	t.Setenv("RECOMMENDATION_CACHE_TTL", "-1s")
	t.Setenv("MANAGER_PIN", "  482913 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9090" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if cfg.OptionsCacheTTL != 90*time.Second {
		t.Fatalf("unexpected options ttl %s", cfg.OptionsCacheTTL)
	}
	if cfg.RecommendationTTL != 20*time.Second {
		t.Fatalf("expected non-positive ttl to fall back, got %s", cfg.RecommendationTTL)
	}
	if cfg.AccessTokenTTL != 8*time.Hour || cfg.RateLimitPerMinute != 120 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ManagerPIN != "482913" {
		t.Fatalf("expected trimmed pin, got %q", cfg.ManagerPIN)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("REDIS_DB", "zero")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed REDIS_DB")
	}
}
