package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config contains all Articast configuration options. It is loaded once at
// startup and never mutated afterwards.
type Config struct {
	// Server settings
	Addr         string `yaml:"addr" env:"ARTICAST_ADDR" envDefault:"::1"`
	Port         int    `yaml:"port" env:"ARTICAST_PORT" envDefault:"9382"`
	LogLevel     string `yaml:"log_level" env:"ARTICAST_LOG_LEVEL" envDefault:"info"`
	AudioBlobDir string `yaml:"audio_blob_dir" env:"ARTICAST_AUDIO_BLOB_DIR" envDefault:"audio_blobs"`
	CatalogPath  string `yaml:"catalog_path" env:"ARTICAST_CATALOG_PATH" envDefault:"articast.db"`

	// ExternalURL is the base URL advertised in the podcast feed's
	// enclosure links.
	ExternalURL string `yaml:"external_url" env:"ARTICAST_EXTERNAL_URL" envDefault:"http://localhost:9382"`

	// Ingestion settings
	Engine         string `yaml:"engine" env:"ARTICAST_ENGINE" envDefault:"google"`
	MaxCharsPerMin int    `yaml:"max_chars_per_min" env:"ARTICAST_MAX_CHARS_PER_MIN" envDefault:"5000000"`
	Workers        int    `yaml:"workers" env:"ARTICAST_WORKERS" envDefault:"4"`

	// Feed metadata
	FeedTitle       string `yaml:"feed_title" env:"ARTICAST_FEED_TITLE" envDefault:"Articast"`
	FeedDescription string `yaml:"feed_description" env:"ARTICAST_FEED_DESCRIPTION" envDefault:"Articles, read aloud"`

	// Engine-specific configurations
	Google GoogleConfig `yaml:"google"`
	Mock   MockConfig   `yaml:"mock"`

	// Extraction settings
	Extract ExtractConfig `yaml:"extract"`
}

// GoogleConfig contains Google Cloud TTS settings.
type GoogleConfig struct {
	APIKey       string        `yaml:"api_key" env:"ARTICAST_GOOGLE_API_KEY"`
	APIKeyFile   string        `yaml:"api_key_file" env:"ARTICAST_GOOGLE_API_KEY_FILE"`
	LanguageCode string        `yaml:"language_code" env:"ARTICAST_GOOGLE_LANGUAGE_CODE" envDefault:"en-US"`
	VoiceName    string        `yaml:"voice_name" env:"ARTICAST_GOOGLE_VOICE_NAME" envDefault:"en-US-Standard-C"`
	Wavenet      bool          `yaml:"wavenet" env:"ARTICAST_GOOGLE_WAVENET" envDefault:"false"`
	Timeout      time.Duration `yaml:"timeout" env:"ARTICAST_GOOGLE_TIMEOUT" envDefault:"30s"`
}

// MockConfig contains mock TTS engine settings for testing.
type MockConfig struct {
	GenerationDelay time.Duration `yaml:"generation_delay" env:"ARTICAST_MOCK_GENERATION_DELAY" envDefault:"0ms"`
	BytesPerChar    int           `yaml:"bytes_per_char" env:"ARTICAST_MOCK_BYTES_PER_CHAR" envDefault:"4"`
	FailureRate     float64       `yaml:"failure_rate" env:"ARTICAST_MOCK_FAILURE_RATE" envDefault:"0.0"`
}

// ExtractConfig contains article extraction settings.
type ExtractConfig struct {
	Timeout   time.Duration `yaml:"timeout" env:"ARTICAST_EXTRACT_TIMEOUT" envDefault:"20s"`
	UserAgent string        `yaml:"user_agent" env:"ARTICAST_EXTRACT_USER_AGENT" envDefault:"articast/1.0"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "::1",
		Port:         9382,
		LogLevel:     "info",
		AudioBlobDir: "audio_blobs",
		CatalogPath:  "articast.db",
		ExternalURL:  "http://localhost:9382",

		Engine:         "google",
		MaxCharsPerMin: 5000000,
		Workers:        4,

		FeedTitle:       "Articast",
		FeedDescription: "Articles, read aloud",

		Google: DefaultGoogleConfig(),
		Mock:   DefaultMockConfig(),
		Extract: ExtractConfig{
			Timeout:   20 * time.Second,
			UserAgent: "articast/1.0",
		},
	}
}

// DefaultGoogleConfig returns default Google TTS configuration.
func DefaultGoogleConfig() GoogleConfig {
	return GoogleConfig{
		LanguageCode: "en-US",
		VoiceName:    "en-US-Standard-C",
		Wavenet:      false,
		Timeout:      30 * time.Second,
	}
}

// DefaultMockConfig returns default mock engine configuration.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		GenerationDelay: 0,
		BytesPerChar:    4,
		FailureRate:     0.0,
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MaxCharsPerMin <= 0 {
		return fmt.Errorf("max_chars_per_min must be positive, got %d", c.MaxCharsPerMin)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.AudioBlobDir == "" {
		return fmt.Errorf("audio_blob_dir must not be empty")
	}
	if c.CatalogPath == "" {
		return fmt.Errorf("catalog_path must not be empty")
	}

	switch c.Engine {
	case "google", "mock":
	default:
		return fmt.Errorf("invalid engine %q (want google or mock)", c.Engine)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (want debug, info, warn, or error)", c.LogLevel)
	}

	if c.Mock.FailureRate < 0 || c.Mock.FailureRate > 1 {
		return fmt.Errorf("mock failure_rate must be in [0, 1], got %f", c.Mock.FailureRate)
	}

	return nil
}

// ResolveGoogleAPIKey returns the Google TTS API key, reading it from
// APIKeyFile when APIKey itself is unset. An empty result means no key is
// configured.
func (c *GoogleConfig) ResolveGoogleAPIKey() (string, error) {
	if c.APIKey != "" {
		return c.APIKey, nil
	}
	if c.APIKeyFile == "" {
		return "", nil
	}
	raw, err := os.ReadFile(filepath.Clean(c.APIKeyFile))
	if err != nil {
		return "", fmt.Errorf("could not read API key file %s: %w", c.APIKeyFile, err)
	}
	key := string(raw)
	// Strip the trailing newline most editors leave behind.
	for len(key) > 0 && (key[len(key)-1] == '\n' || key[len(key)-1] == '\r') {
		key = key[:len(key)-1]
	}
	return key, nil
}
