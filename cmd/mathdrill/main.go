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
	"syscall"

	"github.com/spf13/pflag"

	"github.com/conorfennell/mathdrill/internal/config"
	"github.com/conorfennell/mathdrill/internal/difficulty"
	"github.com/conorfennell/mathdrill/internal/practice"
	"github.com/conorfennell/mathdrill/internal/queue"
	"github.com/conorfennell/mathdrill/internal/sm2"
	"github.com/conorfennell/mathdrill/internal/storage"
	"github.com/conorfennell/mathdrill/internal/sync"
	"github.com/conorfennell/mathdrill/internal/web"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("mathdrill failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("mathdrill", pflag.ContinueOnError)
	configPath := fs.String("config", "", "Path to a YAML configuration file")
	addSource := fs.String("add-source", "", "Add a new source (local path or git URL)")
	runSync := fs.Bool("sync", false, "Sync all sources into the catalog")
	serve := fs.Bool("serve", false, "Start the HTTP server")
	planUser := fs.String("plan", "", "Print today's review plan for a user")
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)

	db, err := storage.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Database opened", "path", cfg.Store.Path)

	sched := sm2.NewScheduler(cfg.Scheduler)
	calc := difficulty.New(cfg.Difficulty, difficulty.WithClock(sched.Now))
	builder := queue.NewBuilder(cfg.Queue, sched)
	svc := practice.NewService(logger, db, sched, calc, builder)

	syncOpts := sync.Options{
		ReposDir:    cfg.Sources.ReposDir,
		Concurrency: cfg.Sources.Concurrency,
		Progress:    os.Stderr,
	}

	acted := false
	if *addSource != "" {
		acted = true
		if _, err := sync.AddSource(ctx, db, *addSource); err != nil {
			return fmt.Errorf("add source: %w", err)
		}
	}

	if *runSync {
		acted = true
		results, err := sync.RunSync(ctx, db, syncOpts)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		for _, r := range results {
			if r.Error != "" {
				logger.Warn("Source failed to sync", "id", r.SourceID, "path", r.Path, "error", r.Error)
			}
		}
	}

	if *planUser != "" {
		acted = true
		plan, err := svc.PlanDay(ctx, *planUser, queue.PlanOptions{})
		if err != nil {
			return fmt.Errorf("plan: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(plan); err != nil {
			return err
		}
	}

	if *serve {
		return serveHTTP(ctx, logger, cfg.Server, web.NewServer(logger, db, svc, syncOpts))
	}

	if !acted {
		fmt.Fprintln(os.Stderr, "Usage of mathdrill:")
		fs.PrintDefaults()
	}
	return nil
}

func serveHTTP(ctx context.Context, logger *slog.Logger, cfg config.ServerConfig, handler http.Handler) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
