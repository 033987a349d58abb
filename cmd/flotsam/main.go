// Package main provides the entry point for the Flotsam debris detection service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/flotsam/internal/app"
	"github.com/jobrunner/flotsam/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flotsam",
	Short: "Flotsam - floating debris detection on satellite scenes",
	Long: `Flotsam detects floating marine debris in multispectral satellite scenes.

Scenes are split into overlapping windows, classified by a model, stitched
back together and vectorized into GeoJSON points or polygons.

Features:
  - Tiled inference with smooth window blending
  - Local spectral index or remote model server
  - Reprojection, masking and cropping of predictions
  - Multiple storage backends (local, AWS S3, Azure, HTTP)
  - Job tracking in SQLite with duplicate scene detection
  - Inbox watching and periodic storage scans
  - Prometheus metrics`,
	RunE: runServer,
}

var runCmd = &cobra.Command{
	Use:   "run <scene.tif>",
	Short: "Process a single scene and print its detections as GeoJSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runScene,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("Flotsam %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("inference-mode", "local", "predictor (local, remote)")
	rootCmd.PersistentFlags().String("inference-endpoint", "", "model server URL for remote inference")
	rootCmd.PersistentFlags().String("vectorize-mode", "polygon", "vector output (point, polygon)")

	// Server flags
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 8080, "server port")
	rootCmd.Flags().String("storage-type", "local", "storage type (local, s3, azure, http)")
	rootCmd.Flags().String("storage-path", "./data", "local storage path")
	rootCmd.Flags().String("database", "./flotsam.db", "job store path")
	rootCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")

	// Single scene flags
	runCmd.Flags().StringP("out", "o", "", "write GeoJSON to file instead of stdout")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("inference.mode", rootCmd.PersistentFlags().Lookup("inference-mode"))
	_ = viper.BindPFlag("inference.endpoint", rootCmd.PersistentFlags().Lookup("inference-endpoint"))
	_ = viper.BindPFlag("pipeline.vectorize_mode", rootCmd.PersistentFlags().Lookup("vectorize-mode"))
	_ = viper.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("storage.type", rootCmd.Flags().Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", rootCmd.Flags().Lookup("storage-path"))
	_ = viper.BindPFlag("database.path", rootCmd.Flags().Lookup("database"))
	_ = viper.BindPFlag("server.cors.allowed_origins", rootCmd.Flags().Lookup("cors"))

	rootCmd.AddCommand(runCmd, versionCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting Flotsam",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage_type", cfg.Storage.Type,
		"inference_mode", cfg.Inference.Mode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := application.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// runScene processes one local scene with a throwaway job store.
func runScene(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("reading scene: %w", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Storage.Type = "local"
	cfg.Storage.LocalPath = filepath.Dir(path)
	cfg.Database.Path = ":memory:"
	cfg.Sync.Enabled = false
	cfg.Watcher.Enabled = false
	cfg.Metrics.Enabled = false

	// Stdout carries the GeoJSON.
	logger := setupLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = application.Shutdown(context.Background()) }()

	job, err := application.Jobs.Run(ctx, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("processing %s: %w", args[0], err)
	}
	logger.Info("scene processed",
		"job_id", job.ID,
		"vectors", job.VectorCount,
		"duration", job.Duration(),
		"result", job.ResultURL,
	)

	fc, err := application.Jobs.ExportGeoJSON(ctx, job.ID)
	if err != nil {
		return err
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		_, err = fmt.Fprintln(os.Stdout, string(data))
		return err
	}
	return os.WriteFile(out, data, 0o644) //nolint:gosec // GeoJSON output is meant to be shared
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
