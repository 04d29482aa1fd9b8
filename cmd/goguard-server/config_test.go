package main

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GOGUARD_ADDR", ":9090")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("SUPABASE_URL", "")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.CleanupSchedule != "@hourly" || cfg.RateLimitRetention != 24*time.Hour {
		t.Fatalf("job defaults = %q %v", cfg.CleanupSchedule, cfg.RateLimitRetention)
	}

	ec := cfg.engineConfig()
	if ec.Backend.Hosted() {
		t.Fatalf("hosted backend selected without credentials")
	}
	if err := ec.Validate(); err != nil {
		t.Fatalf("engine config invalid: %v", err)
	}
}

func TestEngineConfigOverlay(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://project.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("DATABASE_URL", "postgres://localhost/goguard")
	t.Setenv("GOGUARD_TRUST_PROXY", "true")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("GOGUARD_RATE_LIMIT_RETENTION", "2h")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	ec := cfg.engineConfig()
	if !ec.Backend.Hosted() {
		t.Fatalf("hosted backend not selected")
	}
	if !ec.Guard.TrustProxyHeaders || ec.Events.SMTP.Host != "smtp.example.com" || ec.Events.SMTP.Port != 587 {
		t.Fatalf("overlay = %+v %+v", ec.Guard, ec.Events.SMTP)
	}
	if ec.RateLimit.Retention != 2*time.Hour || cfg.jobsConfig().Retention != 2*time.Hour {
		t.Fatalf("retention = %v", ec.RateLimit.Retention)
	}
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	t.Setenv("GOGUARD_SHUTDOWN_TIMEOUT", "soon")
	if _, err := loadConfig(); err == nil {
		t.Fatalf("bad duration accepted")
	}
}
