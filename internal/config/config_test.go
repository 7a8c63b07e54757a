package config

import "testing"

func TestLoadEnvAppliesDefaults(t *testing.T) {
	cfg, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if cfg.Host != "0.0.0.0" || cfg.Port != 8080 {
		t.Fatalf("unexpected defaults: host=%q port=%d", cfg.Host, cfg.Port)
	}
	if cfg.OfferingsFile != "offerings.yaml" {
		t.Fatalf("got OfferingsFile %q, want offerings.yaml", cfg.OfferingsFile)
	}
	if cfg.RetryAttempts != 3 || cfg.RetryBackoff != "2s" {
		t.Fatalf("unexpected retry defaults: attempts=%d backoff=%q", cfg.RetryAttempts, cfg.RetryBackoff)
	}
}

func TestLoadEnvHonorsOverrides(t *testing.T) {
	t.Setenv("SITEBRIDGE_HOST", "127.0.0.1")
	t.Setenv("SITEBRIDGE_PORT", "9090")
	t.Setenv("SITEBRIDGE_CORS_ALLOWED_ORIGINS", "https://a.example.org,https://b.example.org")

	cfg, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 9090 {
		t.Fatalf("overrides not applied: host=%q port=%d", cfg.Host, cfg.Port)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[0] != "https://a.example.org" {
		t.Fatalf("got CORSAllowedOrigins %v", cfg.CORSAllowedOrigins)
	}
}

func TestListenAddrCombinesHostAndPort(t *testing.T) {
	cfg := &EnvConfig{Host: "0.0.0.0", Port: 8080}
	if got := cfg.ListenAddr(); got != "0.0.0.0:8080" {
		t.Fatalf("got %q, want 0.0.0.0:8080", got)
	}
}
