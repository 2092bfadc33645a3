package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/sttgw/internal/api"
	"github.com/mattjoyce/sttgw/internal/auth"
	"github.com/mattjoyce/sttgw/internal/config"
	"github.com/mattjoyce/sttgw/internal/events"
	"github.com/mattjoyce/sttgw/internal/journal"
	"github.com/mattjoyce/sttgw/internal/lock"
	"github.com/mattjoyce/sttgw/internal/log"
	"github.com/mattjoyce/sttgw/internal/storage"
	"github.com/mattjoyce/sttgw/internal/supervisor"
	"github.com/mattjoyce/sttgw/internal/worker"
)

const (
	eventHistory  = 256
	pruneInterval = time.Hour
)

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: sttgw system <start> [flags]")
}

func printSystemStartHelp() {
	fmt.Println(`Usage: sttgw system start [--config PATH]

Starts the worker supervisor, the journal and (when api.enabled) the HTTP API.
Stops on SIGINT or SIGTERM.`)
}

// resolveConfigPath returns the explicit path or the discovered config directory.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	discovered, err := config.DiscoverConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to discover config: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func pidLockPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.State.Path), "sttgw.lock")
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configFlag := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	configPath, err := resolveConfigPath(*configFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetupWithFormat(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("sttgw starting", "version", version, "config", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		logger.Error("sttgw failed", "error", err)
		return 1
	}
	logger.Info("sttgw stopped")
	return 0
}

// serve runs the gateway until ctx is cancelled or a component fails.
// Cancellation during startup is a clean exit.
func serve(ctx context.Context, cfg *config.Config) error {
	logger := log.WithComponent("main")

	pidLock, err := lock.Acquire(pidLockPath(cfg))
	if err != nil {
		return fmt.Errorf("pid lock: %w", err)
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	// Bootstrap runs to completion even if a signal arrives meanwhile.
	db, err := storage.OpenSQLite(context.WithoutCancel(ctx), cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer db.Close()

	rec := journal.New(db, journal.DefaultBuffer)
	defer rec.Close()

	hub := events.NewHub(eventHistory)
	defer hub.Close()

	strategy, err := cfg.Worker.Restart.Backoff()
	if err != nil {
		return err
	}

	sup := supervisor.New(supervisor.Options{
		Launcher:      worker.NewExecLauncher(cfg.Worker.LaunchSpec()),
		ReadyToken:    cfg.Worker.ReadyToken,
		Mode:          cfg.Worker.WireMode(),
		JobTimeout:    cfg.Worker.JobTimeout,
		KillOnTimeout: cfg.Worker.KillOnTimeout,
		StopGrace:     cfg.Worker.StopGrace,
		Backoff:       strategy,
		AlertAfter:    cfg.Worker.Restart.AlertAfter,
		GiveUpAfter:   cfg.Worker.Restart.GiveUpAfter,
		Observer: supervisor.Observers{
			rec,
			events.NewSupervisorObserver(hub),
			supervisor.NewMetrics(),
		},
	})
	if ctx.Err() != nil {
		logger.Info("shutdown requested during startup")
		return nil
	}
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.StopGrace+5*time.Second)
		defer cancel()
		if err := sup.Stop(stopCtx); err != nil {
			logger.Warn("supervisor stop incomplete", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		srv := api.New(apiConfig(cfg), sup, rec, hub, log.WithComponent("api"))
		g.Go(func() error {
			if err := srv.Start(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		pruneLoop(gctx, rec, cfg.State.Retention)
		return nil
	})

	logger.Info("sttgw running (press Ctrl+C to stop)", "api", cfg.API.Enabled)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func apiConfig(cfg *config.Config) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return api.Config{
		Listen:          cfg.API.Listen,
		APIKey:          cfg.API.Auth.APIKey,
		Tokens:          tokens,
		FallbackOnError: cfg.API.FallbackOnError,
	}
}

// pruneLoop drops journal rows older than retention, once at start and then
// hourly. It returns when ctx ends.
func pruneLoop(ctx context.Context, rec *journal.Recorder, retention time.Duration) {
	if retention <= 0 {
		<-ctx.Done()
		return
	}
	logger := log.WithComponent("journal")
	prune := func() {
		n, err := rec.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("journal prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			logger.Info("journal pruned", "rows", n, "retention", retention)
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
