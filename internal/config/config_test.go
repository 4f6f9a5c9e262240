package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("Addr = %q, want :8787", cfg.Addr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("AccessTTL = %v, want 15m", cfg.AccessTTL)
	}
	if cfg.SMTPConfigured() {
		t.Fatal("SMTP should not be configured by default")
	}
	if cfg.StripeConfigured() {
		t.Fatal("Stripe should not be configured by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("STOREFRONT_REFRESH_TTL", "48h")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM", "support@example.com")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("S3_ENDPOINT", "localhost:9000")
	t.Setenv("S3_ACCESS_KEY", "minio")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.RefreshTTL != 48*time.Hour {
		t.Fatalf("RefreshTTL = %v", cfg.RefreshTTL)
	}
	if !cfg.SMTPConfigured() || !cfg.StripeConfigured() || !cfg.S3Configured() {
		t.Fatalf("expected smtp, stripe and s3 to be configured: %+v", cfg)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("STOREFRONT_ACCESS_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
