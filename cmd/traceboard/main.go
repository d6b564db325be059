package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/traceboard/traceboard/internal/api"
	"github.com/traceboard/traceboard/internal/config"
	"github.com/traceboard/traceboard/internal/dataset"
	"github.com/traceboard/traceboard/internal/storage"
	"github.com/traceboard/traceboard/internal/trace"
)

const version = "0.2.0"

func main() {
	var configFile string
	var portOverride int
	var devMode bool

	rootCmd := &cobra.Command{
		Use:   "traceboard",
		Short: "Real-time collaborative trace annotation server",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the annotation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile, portOverride, devMode)
		},
	}
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	serveCmd.Flags().IntVarP(&portOverride, "port", "p", 0, "Override the configured port")
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Development mode (debug logging, CORS)")

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "traceboard.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.GenerateDefault(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running server's health and stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(configFile)
		},
	}
	statusCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("traceboard " + version)
		},
	}

	dataCmd := &cobra.Command{
		Use:   "data",
		Short: "Offline dataset utilities",
	}

	countCmd := &cobra.Command{
		Use:   "count <path...>",
		Short: "Count entries in dataset files or .json files in directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDataCount(args)
		},
	}

	mergeCmd := &cobra.Command{
		Use:   "merge <input-dir> <output-file>",
		Short: "Merge a directory of JSON files into a single dataset file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, skipped, err := dataset.MergeDir(args[0], args[1])
			if err != nil {
				return err
			}
			for _, name := range skipped {
				fmt.Fprintf(os.Stderr, "warning: skipped %s (invalid JSON)\n", name)
			}
			fmt.Printf("Merged %d entries into %s\n", count, args[1])
			return nil
		},
	}
	dataCmd.AddCommand(countCmd, mergeCmd)

	rootCmd.AddCommand(serveCmd, initCmd, statusCmd, versionCmd, dataCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// findConfigFile looks for a config file in the conventional spots.
func findConfigFile() string {
	for _, candidate := range []string{"traceboard.yaml", "traceboard.yml", "config/traceboard.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func loadConfig(configFile string) (*config.Config, error) {
	loader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := loader.Load(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	return loader.Get(), nil
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func openBackend(cfg config.StorageConfig, logger *slog.Logger) (storage.Backend, error) {
	switch cfg.Driver {
	case "", "file":
		return storage.NewFileBackend(cfg.Path, cfg.BackupInterval.Std(), logger)
	case "sqlite":
		return storage.NewSQLiteBackend(cfg.Path, cfg.BackupInterval.Std(), logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func runServe(configFile string, portOverride int, devMode bool) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}
	if devMode {
		cfg.Server.CORS = true
		cfg.Server.LogLevel = "debug"
	}

	logger := newLogger(cfg.Server.LogLevel)

	backend, err := openBackend(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = backend.Close() }()

	// A corrupt store must not prevent startup; live availability wins.
	snap, err := backend.Load()
	if err != nil {
		logger.Error("failed to load trace store, starting empty", "error", err)
	}
	store := trace.NewStore(snap, backend, logger)

	datasets := dataset.NewRegistry(cfg.Datasets.Dir, cfg.Datasets.Names, logger)
	if cfg.Datasets.Watch {
		watcher, err := dataset.NewWatcher(datasets, logger)
		if err != nil {
			logger.Warn("failed to create dataset watcher", "error", err)
		} else {
			watcher.Start()
			defer func() { _ = watcher.Stop() }()
		}
	}

	server := api.NewServer(cfg.Server, store, datasets, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}

	// Final snapshot so nothing submitted since the last save is lost.
	if err := backend.Save(store.Snapshot()); err != nil {
		logger.Error("final save failed", "error", err)
	}
	return nil
}

func runStatus(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	host := cfg.Server.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	base := fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(base + "/api/stats")
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	var stats struct {
		Tasks   int `json:"tasks"`
		Traces  int `json:"traces"`
		Clients int `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("traceboard at %s\n", base)
	fmt.Printf("  tasks:   %d\n", stats.Tasks)
	fmt.Printf("  traces:  %d\n", stats.Traces)
	fmt.Printf("  clients: %d\n", stats.Clients)
	return nil
}

func runDataCount(paths []string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			n, err := dataset.CountFiles(path)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d JSON files\n", path, n)
			continue
		}
		n, err := dataset.CountEntries(path)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d entries\n", path, n)
	}
	return nil
}
