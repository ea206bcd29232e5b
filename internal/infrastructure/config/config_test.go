package config

import (
	"testing"

	"go-retainer-tracker/internal/infrastructure/logger"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("FRONTEND_URL", "")
	t.Setenv("LOG_LEVEL", "")

	cfg := Load()

	if cfg.Addr != ":8080" {
		t.Errorf("Expected default addr :8080, got %q", cfg.Addr)
	}
	if cfg.DatabasePath != "retainer.db" {
		t.Errorf("Expected default database path, got %q", cfg.DatabasePath)
	}
	if cfg.Logger.Level != logger.LevelInfo {
		t.Errorf("Expected default info level, got %v", cfg.Logger.Level)
	}

	origins := cfg.AllowedOrigins()
	if len(origins) != 2 {
		t.Errorf("Expected only the two dev origins, got %v", origins)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_PATH", "/var/lib/retainer/ledger.db")
	t.Setenv("FRONTEND_URL", "https://dashboard.example.com")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	if cfg.Addr != ":9000" {
		t.Errorf("Expected :9000, got %q", cfg.Addr)
	}
	if cfg.DatabasePath != "/var/lib/retainer/ledger.db" {
		t.Errorf("Unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.Logger.Level != logger.LevelDebug {
		t.Errorf("Expected debug level, got %v", cfg.Logger.Level)
	}

	origins := cfg.AllowedOrigins()
	found := false
	for _, origin := range origins {
		if origin == "https://dashboard.example.com" {
			found = true
		}
	}
	if !found {
		t.Errorf("Frontend origin missing from allow-list: %v", origins)
	}
}
