// Package main is the Kagami CLI entry point.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/builder"
	"github.com/hyperjump/kagami/internal/cli"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/detector"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/hashcache"
	"github.com/hyperjump/kagami/internal/server"
	"github.com/hyperjump/kagami/internal/store"
	"github.com/hyperjump/kagami/internal/syncer"
	"github.com/hyperjump/kagami/internal/watcher"
	"github.com/hyperjump/kagami/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kagami/config.yaml"

const embeddingCacheSize = 1024

// loadConfig loads config from path. When path is the default, it first
// looks for config.yaml in the current directory (for development); if that
// exists it is used. Returns the config and the path that was actually
// loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "watch":
		runWatch()
	case "sync":
		runSync()
	case "cleanup":
		runCleanup()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kagami version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Store    store.Store
	Embedder embedding.Embedder
	Cache    *hashcache.Cache
	Detector *detector.Detector
	Builder  *builder.Builder
	Syncer   *syncer.Syncer
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	st, err := store.Open(&cfg.Store, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := st.EnsureTable(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	var embedder embedding.Embedder
	switch cfg.Embedding.Provider {
	case "openai":
		embedder = embedding.NewOpenAIEmbedder(&cfg.Embedding)
	default:
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}
	embedder = embedding.NewCachedEmbedder(embedder, embeddingCacheSize)

	cache := hashcache.New(cfg.Cache.Path)
	if err := cache.Load(); err != nil {
		logger.Warn("hash cache unreadable, starting empty", zap.Error(err))
	}

	b := builder.New(embedder, cfg.Embedding.MaxTokens, builder.WithLogger(logger))
	det := detector.New(st, cache, &cfg.Watch, detector.WithLogger(logger))
	sync := syncer.New(det, b, st, cache, cfg.Watch.Directory,
		syncer.WithLogger(logger),
		syncer.WithPollInterval(cfg.Watch.PollInterval()))

	return &Components{
		Store:    st,
		Embedder: embedder,
		Cache:    cache,
		Detector: det,
		Builder:  b,
		Syncer:   sync,
	}, nil
}

// logStartup prints the configuration banner, with the credential masked.
func logStartup(cfg *config.Config, det *detector.Detector, logger *zap.Logger) {
	eligible := 0
	filepath.WalkDir(cfg.Watch.Directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if det.Eligible(path) {
			eligible++
		}
		return nil
	})
	logger.Info("kagami starting",
		zap.String("version", version),
		zap.String("watch_dir", cfg.Watch.Directory),
		zap.Strings("extensions", cfg.Watch.Extensions),
		zap.Strings("exclude_dirs", cfg.Watch.ExcludeDirs),
		zap.Duration("poll_interval", cfg.Watch.PollInterval()),
		zap.Int("eligible_files", eligible),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("table", cfg.Store.Table),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.String("api_key", cfg.MaskedAPIKey()),
	)
}

// setup is the shared startup path for commands that need a full stack.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolvedPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("config loaded",
		zap.String("config_path", resolvedPath),
		zap.Bool("debug", debugMode))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

func runWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (events, skips, cache hits)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	logStartup(cfg, components.Detector, logger)

	watchOpts := []watcher.Option{watcher.WithLogger(logger)}
	w := watcher.New(cfg.Watch.Directory, cfg.Watch.Extensions, cfg.Watch.ExcludeDirs, watchOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.NewServer(components.Store, components.Cache, components.Syncer, &cfg.Server, logger)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("Status server failed", zap.Error(err))
			}
		}()
	}

	done := make(chan error, 1)
	go func() {
		done <- components.Syncer.Run(ctx, w.Events())
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("Shutting down...")
		cancel()
		<-done
	case err := <-done:
		if err != nil && err != context.Canceled {
			logger.Error("Sync loop failed", zap.Error(err))
		}
	}

	w.Stop()
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Stop(shutdownCtx)
	}
}

func runSync() {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	logStartup(cfg, components.Detector, logger)

	stats, err := components.Syncer.RunFullPass(context.Background())
	if err != nil {
		logger.Fatal("Full pass failed", zap.Error(err))
	}
	if err := cli.WriteStats(os.Stdout, stats, cli.Format(*outputFormat)); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	if stats.Failed > 0 {
		os.Exit(1)
	}
}

func runCleanup() {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	if !*yes {
		fmt.Printf("This deletes EVERY document from table %q (%s backend).\n",
			cfg.Store.Table, cfg.Store.Backend)
		fmt.Print("Type 'delete' to confirm: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.TrimSpace(line) != "delete" {
			fmt.Println("Aborted.")
			os.Exit(1)
		}
	}

	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("config loaded", zap.String("config_path", resolvedPath))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	count, err := components.Store.CountDocuments(context.Background())
	if err != nil {
		logger.Fatal("Cleanup failed", zap.Error(err))
	}
	if count == 0 {
		fmt.Printf("Table %s is already empty\n", cfg.Store.Table)
		return
	}
	deleted, err := components.Store.DeleteAll(context.Background())
	if err != nil {
		logger.Fatal("Cleanup failed", zap.Error(err))
	}
	// Stale hash entries would suppress re-creation after a cleanup.
	components.Cache.Clear()
	if err := components.Cache.Persist(); err != nil {
		logger.Warn("hash cache persist failed", zap.Error(err))
	}
	fmt.Printf("Deleted %d document(s) from %s\n", deleted, cfg.Store.Table)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "status server URL (empty = query the store directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		body, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteRawStatus(os.Stdout, body, cli.Format(*outputFormat)); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	count, err := components.Store.CountDocuments(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Count documents failed: %v\n", err)
		os.Exit(1)
	}
	status := cli.Status{
		Documents:    count,
		CacheEntries: components.Cache.Len(),
		Table:        cfg.Store.Table,
		Backend:      cfg.Store.Backend,
	}
	if err := cli.WriteStatus(os.Stdout, status, cli.Format(*outputFormat)); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (map[string]interface{}, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return body, nil
}

func printUsage() {
	fmt.Println(`kagami - Mirror a directory tree into a vector document store

Usage:
  kagami watch [flags]     Watch the configured directory and sync continuously
  kagami sync [flags]      Run one full reconciliation pass and exit
  kagami cleanup [flags]   Delete every document from the store
  kagami status [flags]    Show document and cache counts
  kagami version           Show version
  kagami help              Show this help

Watch Flags:
  --config string    Config file path (default: /usr/local/etc/kagami/config.yaml)
  --debug            Enable debug logging (events, skips, cache hits)

Sync Flags:
  --config string    Config file path
  --debug            Enable debug logging
  --output string    Output format: text or json (default: text)

Cleanup Flags:
  --config string    Config file path
  --yes              Skip the confirmation prompt

Status Flags:
  --config string    Config file path
  --server string    Status server URL (empty = query the store directly)
  --output string    Output format: text or json (default: text)

Examples:
  kagami watch
  kagami sync --output json
  kagami cleanup --yes
  kagami status
  kagami status --server http://localhost:8087`)
}
