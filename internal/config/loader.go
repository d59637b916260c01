package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// Load builds the configuration in three layers: defaults, then the viper
// config file, then environment variables. The result is validated before
// being returned.
func Load() (Config, error) {
	cfg := LoadFromViper()

	// Environment variables override the config file.
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromViper loads configuration from Viper, falling back to defaults
// for any unset key.
func LoadFromViper() Config {
	cfg := DefaultConfig()

	// Server settings
	if viper.IsSet("addr") {
		cfg.Addr = viper.GetString("addr")
	}
	if viper.IsSet("port") {
		cfg.Port = viper.GetInt("port")
	}
	if viper.IsSet("log_level") {
		cfg.LogLevel = viper.GetString("log_level")
	}
	if viper.IsSet("audio_blob_dir") {
		cfg.AudioBlobDir = viper.GetString("audio_blob_dir")
	}
	if viper.IsSet("catalog_path") {
		cfg.CatalogPath = viper.GetString("catalog_path")
	}
	if viper.IsSet("external_url") {
		cfg.ExternalURL = viper.GetString("external_url")
	}

	// Ingestion settings
	if viper.IsSet("engine") {
		cfg.Engine = viper.GetString("engine")
	}
	if viper.IsSet("max_chars_per_min") {
		cfg.MaxCharsPerMin = viper.GetInt("max_chars_per_min")
	}
	if viper.IsSet("workers") {
		cfg.Workers = viper.GetInt("workers")
	}

	// Feed metadata
	if viper.IsSet("feed_title") {
		cfg.FeedTitle = viper.GetString("feed_title")
	}
	if viper.IsSet("feed_description") {
		cfg.FeedDescription = viper.GetString("feed_description")
	}

	cfg.Google = loadGoogleConfig()
	cfg.Mock = loadMockConfig()
	cfg.Extract = loadExtractConfig()

	return cfg
}

func loadGoogleConfig() GoogleConfig {
	cfg := DefaultGoogleConfig()

	if viper.IsSet("google.api_key") {
		cfg.APIKey = viper.GetString("google.api_key")
	}
	if viper.IsSet("google.api_key_file") {
		cfg.APIKeyFile = viper.GetString("google.api_key_file")
	}
	if viper.IsSet("google.language_code") {
		cfg.LanguageCode = viper.GetString("google.language_code")
	}
	if viper.IsSet("google.voice_name") {
		cfg.VoiceName = viper.GetString("google.voice_name")
	}
	if viper.IsSet("google.wavenet") {
		cfg.Wavenet = viper.GetBool("google.wavenet")
	}
	if viper.IsSet("google.timeout") {
		cfg.Timeout = parseDuration(viper.GetString("google.timeout"), cfg.Timeout)
	}

	return cfg
}

func loadMockConfig() MockConfig {
	cfg := DefaultMockConfig()

	if viper.IsSet("mock.generation_delay") {
		cfg.GenerationDelay = parseDuration(viper.GetString("mock.generation_delay"), cfg.GenerationDelay)
	}
	if viper.IsSet("mock.bytes_per_char") {
		cfg.BytesPerChar = viper.GetInt("mock.bytes_per_char")
	}
	if viper.IsSet("mock.failure_rate") {
		cfg.FailureRate = viper.GetFloat64("mock.failure_rate")
	}

	return cfg
}

func loadExtractConfig() ExtractConfig {
	cfg := ExtractConfig{
		Timeout:   20 * time.Second,
		UserAgent: "articast/1.0",
	}

	if viper.IsSet("extract.timeout") {
		cfg.Timeout = parseDuration(viper.GetString("extract.timeout"), cfg.Timeout)
	}
	if viper.IsSet("extract.user_agent") {
		cfg.UserAgent = viper.GetString("extract.user_agent")
	}

	return cfg
}

// parseDuration parses a duration string, returning the fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
