package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# listen address and port
addr: "::1"
port: 9382
# log verbosity: debug, info, warn, or error
log_level: "info"

# where finished audio blobs are stored
audio_blob_dir: "audio_blobs"
# article catalog database
catalog_path: "articast.db"
# base URL advertised in the podcast feed
external_url: "http://localhost:9382"

# speech engine: google or mock
engine: "google"
# TTS character budget per rolling minute
max_chars_per_min: 5000000
# ingestion worker pool size
workers: 4

# podcast feed metadata
feed_title: "Articast"
feed_description: "Articles, read aloud"

# Google Cloud TTS configuration
google:
  # api_key: "your-api-key-here"
  # api_key_file: "/path/to/api-key"
  language_code: "en-US"
  voice_name: "en-US-Standard-C"
  wavenet: false
  timeout: "30s"

# Mock engine configuration (for testing without a provider)
mock:
  generation_delay: "0ms"
  bytes_per_char: 4
  failure_rate: 0.0

# Article extraction
extract:
  timeout: "20s"
  user_agent: "articast/1.0"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Edit the articast config file",
	Long:    "Edit the articast config file. We'll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.",
	Example: "articast config\narticast config --config path/to/config.yml",
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Articast", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
