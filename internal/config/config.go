package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/italolelis/track_downloader/internal/media"
	"github.com/kelseyhightower/envconfig"
)

const (
	secretSize = 16
	ivSize     = 8
)

// Config struct for environment variables.
type Config struct {
	GatewayURL   string `envconfig:"GATEWAY_URL" default:"https://www.deezer.com/ajax/gw-light.php"`
	MediaURL     string `envconfig:"MEDIA_URL" default:"https://media.deezer.com/v1/get_url"`
	PublicAPIURL string `envconfig:"PUBLIC_API_URL" default:"https://api.deezer.com"`

	// StreamSecret is the 16 byte secret mixed into every per-item key. It is
	// taken verbatim.
	StreamSecret string `envconfig:"STREAM_SECRET" default:"g4el58wc0zvf9na1"`
	// StreamIV is the hex encoded 8 byte CBC initialization vector.
	StreamIV string `envconfig:"STREAM_IV" default:"0001020304050607"`
	Formats  string `envconfig:"FORMATS" default:"MP3_128,MP3_64,MP3_MISC"`

	TargetDir         string        `envconfig:"TARGET_DIR" default:"."`
	PartialMaxAge     time.Duration `envconfig:"PARTIAL_MAX_AGE" default:"1h"`
	MaxParallel       int           `envconfig:"MAX_PARALLEL" default:"8"`
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"2m"`
	RequestsPerSecond float64       `envconfig:"REQUESTS_PER_SECOND" default:"0"`
	SessionMaxTries   uint          `envconfig:"SESSION_MAX_TRIES" default:"3"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string        `envconfig:"DB_PATH" default:"acquisitions.db"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"false"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	// API credentials protect the acquisitions API with basic auth when a
	// username is set.
	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"10m"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the values envconfig cannot.
func (c *Config) Validate() error {
	if len(c.StreamSecret) != secretSize {
		return fmt.Errorf("STREAM_SECRET must be %d bytes, got %d", secretSize, len(c.StreamSecret))
	}

	iv, err := hex.DecodeString(c.StreamIV)
	if err != nil {
		return fmt.Errorf("STREAM_IV must be hex encoded: %w", err)
	}

	if len(iv) != ivSize {
		return fmt.Errorf("STREAM_IV must decode to %d bytes, got %d", ivSize, len(iv))
	}

	if _, err := media.ParseFormats(c.Formats); err != nil {
		return fmt.Errorf("invalid FORMATS: %w", err)
	}

	if c.MaxParallel < 0 {
		return fmt.Errorf("MAX_PARALLEL must not be negative, got %d", c.MaxParallel)
	}

	return nil
}

// IV returns the decoded initialization vector. Call Validate first.
func (c *Config) IV() []byte {
	iv, _ := hex.DecodeString(c.StreamIV)

	return iv
}

// PreferredFormats returns the parsed format list. Call Validate first.
func (c *Config) PreferredFormats() []media.Format {
	formats, _ := media.ParseFormats(c.Formats)

	return formats
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
