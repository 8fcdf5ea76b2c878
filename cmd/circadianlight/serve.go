package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/saaga0h/circadianlight/internal/display"
	"github.com/saaga0h/circadianlight/internal/history"
	"github.com/saaga0h/circadianlight/internal/light"
	"github.com/saaga0h/circadianlight/pkg/events"
	"github.com/saaga0h/circadianlight/pkg/health"
	"github.com/saaga0h/circadianlight/pkg/metrics"
	"github.com/saaga0h/circadianlight/pkg/mqtt"
	"github.com/saaga0h/circadianlight/pkg/postgres"
	"github.com/saaga0h/circadianlight/pkg/redis"
)

const (
	startupWait    = 15 * time.Second
	historyTimeout = 2 * time.Second
	recentChanges  = 10
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep the screen gamma on the circadian curve until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve()
		},
	}
}

func (a *app) serve() error {
	cfg, logger := a.cfg, a.logger

	logger.Info("Starting circadianlight",
		"version", version,
		"service_name", cfg.ServiceName,
		"mqtt_enabled", cfg.MQTTEnabled,
		"redis_enabled", cfg.RedisEnabled,
		"postgres_enabled", cfg.PostgresEnabled,
		"log_level", cfg.LogLevel)

	// Set up context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	applier, err := display.NewXrandrApplier(logger)
	if err != nil {
		return err
	}

	deps := light.Dependencies{
		Applier: applier,
		Metrics: metrics.New(),
	}

	var (
		mqttClient  mqtt.Client
		redisClient redis.Client
		pgClient    postgres.Client
	)
	if cfg.MQTTEnabled {
		mqttClient = mqtt.NewClient(cfg, logger)
		deps.MQTT = mqttClient
	}
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(cfg, logger)
		deps.Redis = redisClient
	}
	if cfg.PostgresEnabled {
		pgClient = postgres.NewClient(cfg, logger)
		connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
		err := pgClient.Connect(connectCtx)
		connectCancel()
		if err != nil {
			return err
		}
		defer pgClient.Disconnect()
		deps.History = history.NewStore(pgClient)
	}

	var (
		agent *light.Agent
		hub   *events.Hub
	)
	status := func() any { return agent.Status() }
	if cfg.HealthPort > 0 {
		hub = events.NewHub(status, logger)
		deps.Events = hub
	}

	agent, err = light.NewAgent(deps, cfg, logger)
	if err != nil {
		return err
	}

	// Start health check server
	var httpServer *http.Server
	if cfg.HealthPort > 0 {
		checker := health.NewChecker(mqttClient, redisClient, pgClient, statusReporter(agent, logger), logger)
		httpServer = startHealthServer(cfg.HealthPort, checker, deps.Metrics, hub, logger)
	}

	// Start agent in a goroutine
	agentDone := make(chan error, 1)
	go func() {
		agentDone <- agent.Start(ctx)
	}()

	// Wait for shutdown signal or agent error
	var runErr error
	agentReturned := false
	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case runErr = <-agentDone:
		agentReturned = true
		if runErr != nil {
			logger.Error("Agent failed", "error", runErr)
		}
	}

	// Graceful shutdown
	logger.Info("Initiating graceful shutdown")
	cancel()

	// Let Start leave startup before restoring the gamma
	if !agentReturned {
		select {
		case err := <-agentDone:
			if err != nil {
				logger.Error("Agent failed during shutdown", "error", err)
			}
		case <-time.After(startupWait):
			logger.Warn("Agent did not return in time, stopping anyway", "wait", startupWait)
		}
	}

	if err := agent.Stop(); err != nil {
		logger.Error("Error stopping agent", "error", err)
	}

	if httpServer != nil {
		hub.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down health server", "error", err)
		}
	}

	logger.Info("circadianlight shutdown complete")
	return runErr
}

// statusReport is the agent snapshot served on /status
type statusReport struct {
	light.Status
	RecentChanges []history.Entry `json:"recent_changes,omitempty"`
}

// statusReporter adds the latest history entries to the agent status
func statusReporter(agent *light.Agent, logger *slog.Logger) health.StatusFunc {
	return func() any {
		report := statusReport{Status: agent.Status()}

		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		recent, err := agent.RecentChanges(ctx, recentChanges)
		if err != nil {
			logger.Warn("Failed to read gamma history", "error", err)
		}
		report.RecentChanges = recent
		return report
	}
}

func startHealthServer(port int, checker *health.Checker, reg *metrics.Registry, hub *events.Hub, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HandlerFunc())
	mux.HandleFunc("/status", checker.StatusHandlerFunc())
	mux.Handle("/metrics", reg.Handler())
	mux.Handle("/events", hub)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting health check server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server error", "error", err)
		}
	}()

	return server
}
