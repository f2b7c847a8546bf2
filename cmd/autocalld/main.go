package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autocall/internal/api"
	"autocall/internal/auth"
	"autocall/internal/config"
	"autocall/internal/core"
	"autocall/internal/dialer"
	"autocall/internal/logging"
	autocallmcp "autocall/internal/mcp"
	"autocall/internal/media"
	"autocall/internal/notify"
	"autocall/internal/ratelimit"
	"autocall/internal/store"

	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// stdout carries the MCP protocol, so logs go to stderr whenever MCP is served.
	out := os.Stdout
	if cfg.Server.Mode != config.ModeHTTP {
		out = os.Stderr
	}
	logger := logging.NewWithWriter(out, cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger); err != nil {
		logger.Error("autocalld exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeInst, err := store.Open(ctx, cfg.Store.StateDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer storeInst.Close()

	// Runs left RUNNING by a previous process will never be completed.
	if n, err := storeInst.FailStaleRuns(ctx, time.Now(), "interrupted by restart"); err != nil {
		logger.Error("fail stale runs", "err", err)
	} else if n > 0 {
		logger.Warn("marked stale runs failed", "count", n)
	}

	location := cfg.Location()

	var callDialer core.Dialer
	if cfg.Calls.DialerURL != "" {
		callDialer, err = dialer.NewHTTPDialer(cfg.Calls.DialerURL, cfg.Calls.DialerToken, cfg.Calls.DialerTimeout)
		if err != nil {
			return fmt.Errorf("create dialer: %w", err)
		}
	} else {
		logger.Warn("no dialer url configured, calls are only logged")
		callDialer = dialer.NewLogDialer(logger)
	}
	executor := core.NewCallExecutor(storeInst, callDialer, logger, core.CallExecutorOptions{
		CallSpacing:    cfg.Calls.Spacing,
		RecontactAfter: cfg.Calls.RecontactAfter,
	})

	var notifier core.Notifier
	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			return fmt.Errorf("create bark notifier: %w", err)
		}
		notifier = notify.NewMultiNotifier(bark, notify.NewLogNotifier(logger))
	}

	scheduler := core.NewScheduler(storeInst, executor, notifier, logger, core.SchedulerOptions{
		SweepSpec: cfg.Scheduler.Sweep,
		Workers:   cfg.Scheduler.Workers,
		QueueSize: cfg.Scheduler.QueueSize,
		Location:  location,
	})
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	service := core.NewService(storeInst, storeInst, scheduler, logger, core.ServiceOptions{
		Location:     location,
		RunsPageSize: cfg.Log.RunsPageSize,
	})

	var server *api.Server
	if cfg.Server.Mode != config.ModeMCP {
		server, err = newHTTPServer(ctx, cfg, service, storeInst, logger)
		if err != nil {
			return err
		}
	}

	// mcpDone stays nil in http mode so the select below never fires on it.
	var mcpDone chan error
	if cfg.Server.Mode != config.ModeHTTP {
		mcpServer := autocallmcp.NewMCPServer(service, logger, location, version)
		done := make(chan error, 1)
		// The stdio server is not cancellable; it ends with the process.
		go func() { done <- mcpServer.Run() }()
		mcpDone = done
	}

	g, gctx := errgroup.WithContext(ctx)
	if server != nil {
		g.Go(func() error {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		shutdown := func() error {
			if server == nil {
				return nil
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		}
		for {
			select {
			case <-gctx.Done():
				logger.Info("shutting down")
				return shutdown()
			case err := <-mcpDone:
				if err != nil {
					_ = shutdown()
					return fmt.Errorf("mcp server: %w", err)
				}
				if server == nil {
					logger.Info("mcp client disconnected")
					return nil
				}
				mcpDone = nil
			}
		}
	})
	runErr := g.Wait()

	select {
	case <-scheduler.Stop().Done():
	case <-time.After(cfg.Server.ShutdownGrace):
		logger.Warn("scheduler stop timed out")
	}
	logger.Info("shutdown complete")
	return runErr
}

func newHTTPServer(ctx context.Context, cfg *config.Config, service *core.Service, storeInst *store.Store, logger *slog.Logger) (*api.Server, error) {
	authenticator, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("create authenticator: %w", err)
	}

	deps := api.Deps{
		Service: service,
		Auth:    authenticator,
		Health:  storeInst,
		Logger:  logger,
	}

	if cfg.RateLimit.Enabled {
		var limitStore ratelimit.Store = ratelimit.NewMemoryStore()
		if cfg.RateLimit.RedisURL != "" {
			redisStore, err := ratelimit.NewRedisStoreFromURL(ctx, cfg.RateLimit.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("connect rate limit redis: %w", err)
			}
			go func() {
				<-ctx.Done()
				_ = redisStore.Close()
			}()
			limitStore = redisStore
		}
		deps.Limiter = ratelimit.New(limitStore, cfg.RateLimit.Max, cfg.RateLimit.Window, logger).Middleware
	}

	if cfg.Runway.APIKey != "" {
		runway, err := media.NewRunway(media.RunwayOptions{
			BaseURL:       cfg.Runway.BaseURL,
			APIKey:        cfg.Runway.APIKey,
			Endpoints:     cfg.Runway.Endpoints,
			VersionHeader: cfg.Runway.VersionHeader,
			Versions:      cfg.Runway.Versions,
			Timeout:       cfg.Runway.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create runway client: %w", err)
		}
		deps.Media = runway
	}

	return api.NewServer(cfg.Server.Addr, deps), nil
}
