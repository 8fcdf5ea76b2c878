package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/saaga0h/circadianlight/pkg/mqtt"
	"github.com/saaga0h/circadianlight/pkg/postgres"
	"github.com/saaga0h/circadianlight/pkg/redis"
)

const dependencyTimeout = 2 * time.Second

// StatusFunc returns the JSON-encodable state reported on /status
type StatusFunc func() any

// Checker provides health check functionality for the gamma service.
// Every dependency is optional; nil ones are left out of the report.
type Checker struct {
	mqtt     mqtt.Client
	redis    redis.Client
	postgres postgres.Client
	status   StatusFunc
	logger   *slog.Logger
}

// NewChecker creates a new health checker with the given dependencies
func NewChecker(mqttClient mqtt.Client, redisClient redis.Client, pgClient postgres.Client, status StatusFunc, logger *slog.Logger) *Checker {
	return &Checker{
		mqtt:     mqttClient,
		redis:    redisClient,
		postgres: pgClient,
		status:   status,
		logger:   logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
	Agent     any               `json:"agent,omitempty"`
}

// HandlerFunc returns 200 while the process is alive, without touching
// dependencies
func (h *Checker) HandlerFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.write(w, http.StatusOK, HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// StatusHandlerFunc reports every configured dependency and the agent state.
// Any disconnected dependency makes the service "degraded" with a 503.
func (h *Checker) StatusHandlerFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout)
		defer cancel()

		services := h.checkServices(ctx)

		status := "healthy"
		statusCode := http.StatusOK
		for _, state := range services {
			if state != "connected" {
				status = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Services:  services,
		}
		if h.status != nil {
			response.Agent = h.status()
		}

		h.write(w, statusCode, response)
	}
}

func (h *Checker) checkServices(ctx context.Context) map[string]string {
	services := make(map[string]string)

	if h.mqtt != nil {
		services["mqtt"] = connectedState(h.mqtt.IsConnected())
	}

	if h.redis != nil {
		services["redis"] = connectedState(h.redis.Ping(ctx) == nil)
	}

	if h.postgres != nil {
		pgStatus, err := h.postgres.HealthCheck(ctx)
		services["postgres"] = connectedState(err == nil && pgStatus.Connected)
	}

	return services
}

func connectedState(ok bool) string {
	if ok {
		return "connected"
	}
	return "disconnected"
}

func (h *Checker) write(w http.ResponseWriter, statusCode int, response HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode health response", "error", err)
	}
}
