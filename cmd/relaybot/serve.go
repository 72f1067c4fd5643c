package main

import (
	"context"
	"crypto/subtle"
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

	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/intent"
	"relaybot/internal/metrics"
	"relaybot/internal/provider"
	"relaybot/internal/relay"
	"relaybot/internal/scheduler"
	"relaybot/internal/store"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay: webhook, scheduler endpoint and metrics",
		Long:  "Starts the HTTP surface (gateway webhook, scheduler trigger, health, metrics) and serves until interrupted.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.General.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	events := bus.NewEventBus(logger)
	httpClient := provider.SharedHTTPClient()

	primary, err := provider.New(endpoint(cfg.Routing.Primary), httpClient, logger)
	if err != nil {
		return fmt.Errorf("primary provider: %w", err)
	}
	var fallback domain.Provider
	if cfg.Routing.Fallback != nil {
		fallback, err = provider.New(endpoint(*cfg.Routing.Fallback), httpClient, logger)
		if err != nil {
			return fmt.Errorf("fallback provider: %w", err)
		}
	}
	router := provider.NewRouter(provider.RouterConfig{
		Primary:  primary,
		Fallback: fallback,
		Timeout:  time.Duration(cfg.Routing.TimeoutSeconds) * time.Second,
		Logger:   logger,
	})

	rules := intent.DefaultRules()
	if cfg.Intent.RulesPath != "" {
		rules, err = intent.LoadRules(cfg.Intent.RulesPath)
		if err != nil {
			logger.Warn("intent rules not loaded, using defaults", "path", cfg.Intent.RulesPath, "err", err)
		}
	}
	classifier := intent.New(rules)

	transport, err := channel.NewTransport(cfg.Gateway, httpClient, events, logger)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	chunkDelay := time.Duration(cfg.Gateway.ChunkDelayMs) * time.Millisecond
	processor := relay.NewProcessor(relay.Options{
		Conversations: db,
		Usage:         db,
		Completer:     router,
		Transport:     transport,
		Classifier:    classifier,
		Events:        events,
		Logger:        logger,
		SystemPrompt:  cfg.General.SystemPrompt,
		HistoryWindow: cfg.Store.HistoryWindow,
		ChunkLimit:    cfg.Gateway.ChunkLimit,
		ChunkDelay:    chunkDelay,
	})

	sched := scheduler.New(scheduler.Options{
		Schedules:    db,
		Usage:        db,
		Completer:    router,
		Transport:    transport,
		Events:       events,
		Logger:       logger,
		SystemPrompt: cfg.General.SystemPrompt,
		BatchSize:    cfg.Scheduler.BatchSize,
		ChunkLimit:   cfg.Gateway.ChunkLimit,
		ChunkDelay:   chunkDelay,
	})

	mux := http.NewServeMux()

	if wa, ok := transport.(*channel.WhatsApp); ok {
		wa.Register(mux, processor.Process)
	} else {
		logger.Info("inbound webhook disabled for transport", "transport", transport.Name())
	}

	mux.HandleFunc("POST /scheduler/run", schedulerRunHandler(sched, cfg.Scheduler.Token))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": version})
	})
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Endpoint, metrics.Collector.Handler())
		logger.Info("metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	}

	if cfg.Scheduler.CronExpr != "" {
		runner := cron.New()
		_, err := runner.AddFunc(cfg.Scheduler.CronExpr, func() {
			if _, err := sched.Run(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("cron scheduler run failed", "err", err)
			}
		})
		if err != nil {
			return fmt.Errorf("scheduler cron expression: %w", err)
		}
		runner.Start()
		defer runner.Stop()
		logger.Info("in-process scheduler enabled", "cron", cfg.Scheduler.CronExpr)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("relaybot serving",
			"addr", srv.Addr, "transport", transport.Name(),
			"primary", primary.Name(), "model", primary.Model())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// schedulerRunHandler triggers one scheduler run. The bearer token is
// required; without one configured the endpoint stays closed.
func schedulerRunHandler(sched *scheduler.Scheduler, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if token == "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "scheduler token not configured"})
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}

		sum, err := sched.Run(r.Context(), time.Now().UTC())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "scheduler run failed"})
			return
		}
		json.NewEncoder(w).Encode(sum)
	}
}

func endpoint(ep config.EndpointConfig) provider.Endpoint {
	return provider.Endpoint{
		Provider: ep.Provider,
		Model:    ep.Model,
		APIKey:   ep.APIKey,
		APIBase:  ep.APIBase,
	}
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
