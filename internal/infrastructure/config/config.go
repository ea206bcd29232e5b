package config

import (
	"os"

	"go-retainer-tracker/internal/infrastructure/logger"
)

// Local development origins always allowed to call the API and open
// live-update connections.
var devOrigins = []string{
	"http://localhost:5173",
	"http://127.0.0.1:5173",
}

// Config holds everything the process reads from its environment.
type Config struct {
	// Addr is the listen address, ":" + PORT.
	Addr string

	// DatabasePath is the SQLite file backing the ledger store.
	DatabasePath string

	// FrontendURL is the deployed dashboard origin, added to the
	// CORS allow-list when set.
	FrontendURL string

	Logger *logger.Config
}

// Load reads the configuration from environment variables, falling
// back to development defaults.
func Load() *Config {
	logCfg := logger.NewDefaultConfig()
	logCfg.Level = parseLevel(os.Getenv("LOG_LEVEL"))
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		logCfg.Format = format
	}
	if output := os.Getenv("LOG_OUTPUT"); output != "" {
		logCfg.Output = output
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		logCfg.Output = "file"
		logCfg.FilePath = file
	}

	return &Config{
		Addr:         ":" + getenv("PORT", "8080"),
		DatabasePath: getenv("DATABASE_PATH", "retainer.db"),
		FrontendURL:  os.Getenv("FRONTEND_URL"),
		Logger:       logCfg,
	}
}

// AllowedOrigins returns the fixed development origins plus the
// configured frontend origin, if any.
func (c *Config) AllowedOrigins() []string {
	origins := append([]string(nil), devOrigins...)
	if c.FrontendURL != "" {
		origins = append(origins, c.FrontendURL)
	}
	return origins
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLevel(value string) logger.Level {
	switch value {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}
