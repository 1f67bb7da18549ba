package configs

import (
	"testing"
	"time"
)

func TestLoadConfigDevelopmentDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("PORT", "")
	t.Setenv("ARCHIVE_BACKEND", "")
	t.Setenv("S3_BUCKET_NAME", "")
	t.Setenv("TOKEN_TTL", "")
	t.Setenv("HISTORY_LIMIT", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.ArchiveBackend != BackendMemory {
		t.Errorf("ArchiveBackend = %q, want memory", cfg.ArchiveBackend)
	}
	if cfg.HistoryLimit != 500 {
		t.Errorf("HistoryLimit = %d, want 500", cfg.HistoryLimit)
	}
	if cfg.TokenTTL != 0 {
		t.Errorf("TokenTTL = %v, want no expiry", cfg.TokenTTL)
	}
	if !cfg.StrictAuthorship {
		t.Error("StrictAuthorship should default to true")
	}
	if cfg.StorageEnabled() {
		t.Error("storage should be disabled without S3 settings")
	}
	if cfg.JWTSecret == "" {
		t.Error("development should fall back to a default secret")
	}
}

func TestLoadConfigProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without JWT_SECRET in production")
	}
}

func TestLoadConfigRejectsMemoryInProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ARCHIVE_BACKEND", "memory")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected memory backend to be rejected in production")
	}
}

func TestLoadConfigParsesOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("ARCHIVE_BACKEND", "pebble")
	t.Setenv("PEBBLE_PATH", "/tmp/chat")
	t.Setenv("TOKEN_TTL", "72h")
	t.Setenv("ROOM_IDLE_TIMEOUT", "30s")
	t.Setenv("STRICT_AUTHORSHIP", "false")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.PebblePath != "/tmp/chat" || cfg.ArchiveBackend != BackendPebble {
		t.Errorf("unexpected archive settings %q %q", cfg.ArchiveBackend, cfg.PebblePath)
	}
	if cfg.TokenTTL != 72*time.Hour || cfg.RoomIdleTimeout != 30*time.Second {
		t.Errorf("unexpected durations %v %v", cfg.TokenTTL, cfg.RoomIdleTimeout)
	}
	if cfg.StrictAuthorship {
		t.Error("STRICT_AUTHORSHIP=false not applied")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadConfigPartialS3(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("ARCHIVE_BACKEND", "")
	t.Setenv("S3_BUCKET_NAME", "chat-files")
	t.Setenv("S3_ENDPOINT", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for partial S3 settings")
	}
}
