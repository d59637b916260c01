// Package main provides the entry point for the Articast server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/articast/internal/config"
	"github.com/dgnsrekt/articast/internal/extract"
	"github.com/dgnsrekt/articast/internal/feed"
	"github.com/dgnsrekt/articast/internal/ingest"
	"github.com/dgnsrekt/articast/internal/ratelimit"
	"github.com/dgnsrekt/articast/internal/server"
	"github.com/dgnsrekt/articast/internal/store"
	"github.com/dgnsrekt/articast/internal/tts"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string

	rootCmd = &cobra.Command{
		Use:          "articast",
		Short:        "Convert articles to speech and serve them as a podcast",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion and feed server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
)

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})

	catalog, err := store.OpenCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	defer catalog.Close() //nolint:errcheck

	blobs, err := store.NewBlobStore(cfg.AudioBlobDir)
	if err != nil {
		return err
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	pipeline := ingest.New(ingest.Options{
		Catalog:   catalog,
		Blobs:     blobs,
		Limiter:   ratelimit.New(cfg.MaxCharsPerMin, ratelimit.SystemClock()),
		Extractor: extract.NewReadabilityExtractor(cfg.Extract),
		Engine:    engine,
		Logger:    logger.WithPrefix("ingest"),
	})
	pipeline.Start(cfg.Workers)
	defer pipeline.Close()

	srv, err := server.New(server.Options{
		Catalog:  catalog,
		Blobs:    blobs,
		Pipeline: pipeline,
		FeedMeta: feed.Meta{
			Title:       cfg.FeedTitle,
			Description: cfg.FeedDescription,
			BaseURL:     cfg.ExternalURL,
		},
		Logger: logger.WithPrefix("http"),
	})
	if err != nil {
		return err
	}
	defer srv.Close() //nolint:errcheck

	addr := net.JoinHostPort(cfg.Addr, strconv.Itoa(cfg.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting",
		"addr", addr,
		"engine", engine.Name(),
		"workers", cfg.Workers,
		"chars_per_min", humanize.Comma(int64(cfg.MaxCharsPerMin)),
		"blob_dir", cfg.AudioBlobDir,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildEngine picks the speech provider. A configured Google engine
// with no resolvable API key fails here, at startup, not on the first
// article.
func buildEngine(cfg config.Config) (tts.Engine, error) {
	switch cfg.Engine {
	case "mock":
		return tts.NewMockEngine(cfg.Mock), nil
	default:
		return tts.NewGoogleEngine(cfg.Google)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.AddCommand(serveCmd, configCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "articast")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "articast")}, dirs...)
	}

	if c := os.Getenv("ARTICAST_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("articast")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("articast")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	configFile = filepath.Join(dirs[0], "articast.yml")
}
