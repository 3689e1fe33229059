package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DeviceDriver string `envconfig:"DEVICE_DRIVER" default:"mx10"`
	DeviceKind   string `envconfig:"DEVICE_KIND" default:"mx10"`

	BridgeBaseURL     string        `envconfig:"BRIDGE_BASE_URL"`
	BridgeAPIURLPath  string        `envconfig:"BRIDGE_API_URL_PATH"`
	BridgePairingCode string        `envconfig:"BRIDGE_PAIRING_CODE"`
	BridgeTimeout     time.Duration `envconfig:"BRIDGE_TIMEOUT" default:"30s"`
	BridgeInsecure    bool          `envconfig:"BRIDGE_INSECURE"`

	PackStoreBaseURL string        `envconfig:"PACK_STORE_BASE_URL"`
	PackStoreToken   string        `envconfig:"PACK_STORE_TOKEN"`
	PackStoreTimeout time.Duration `envconfig:"PACK_STORE_TIMEOUT" default:"15s"`

	InitialiseOnStart bool          `envconfig:"INITIALISE_ON_START" default:"true"`
	ProbeInterval     time.Duration `envconfig:"PROBE_INTERVAL" default:"10m"`
	KeepJournalFor    time.Duration `envconfig:"KEEP_JOURNAL_FOR" default:"168h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string        `envconfig:"DB_PATH" default:"samplesync.db"`

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9310"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"samplesync"`
		ServiceVersion string `split_words:"true" default:"dev"`
		OTLPEndpoint   string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
