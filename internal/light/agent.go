package light

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/saaga0h/circadianlight/internal/circadian"
	"github.com/saaga0h/circadianlight/internal/display"
	"github.com/saaga0h/circadianlight/internal/history"
	"github.com/saaga0h/circadianlight/pkg/config"
	"github.com/saaga0h/circadianlight/pkg/events"
	"github.com/saaga0h/circadianlight/pkg/metrics"
	"github.com/saaga0h/circadianlight/pkg/mqtt"
	"github.com/saaga0h/circadianlight/pkg/redis"
)

const (
	restoreTimeout = 5 * time.Second
	stateTTL       = 7 * 24 * time.Hour
)

// Redis hash fields under gamma:state:{name}
const (
	fieldRed         = "red"
	fieldGreen       = "green"
	fieldBlue        = "blue"
	fieldPhase       = "phase"
	fieldOutput      = "output"
	fieldAppliedAt   = "applied_at"
	fieldPausedUntil = "paused_until"
)

var errStopped = errors.New("gamma agent stopped")

// HistoryRecorder stores applied gamma changes
type HistoryRecorder interface {
	Migrate(ctx context.Context) error
	Record(ctx context.Context, name string, reading circadian.Reading, at time.Time) (history.Entry, error)
	Recent(ctx context.Context, name string, limit int) ([]history.Entry, error)
}

// Broadcaster pushes state events to live listeners
type Broadcaster interface {
	Broadcast(eventType string, data any)
}

// Dependencies are the collaborators of an Agent. Only Applier is required.
type Dependencies struct {
	Applier display.Applier
	MQTT    mqtt.Client
	Redis   redis.Client
	History HistoryRecorder
	Events  Broadcaster
	Metrics *metrics.Registry
	Now     func() time.Time
}

// Command is the payload accepted on the gamma command topic
type Command struct {
	Action  string `json:"action"` // "pause", "resume", "refresh"
	Minutes int    `json:"minutes,omitempty"`
}

// GammaState is published on the gamma context topic after every apply
type GammaState struct {
	Source      string             `json:"source"`
	Type        string             `json:"type"`
	Output      string             `json:"output"`
	Phase       circadian.DayPhase `json:"phase"`
	Progress    float64            `json:"progress"`
	Red         float64            `json:"red"`
	Green       float64            `json:"green"`
	Blue        float64            `json:"blue"`
	Reason      string             `json:"reason"`
	Paused      bool               `json:"paused"`
	PausedUntil string             `json:"paused_until,omitempty"`
	Timestamp   string             `json:"timestamp"`
}

// Status is a snapshot of the agent for the /status endpoint
type Status struct {
	Service      string             `json:"service"`
	Output       string             `json:"output"`
	Hour         string             `json:"hour,omitempty"`
	Phase        circadian.DayPhase `json:"phase"`
	Gamma        circadian.Triple   `json:"gamma"`
	LastAction   string             `json:"last_action,omitempty"`
	LastReason   string             `json:"last_reason,omitempty"`
	LastApplied  *time.Time         `json:"last_applied,omitempty"`
	Paused       bool               `json:"paused"`
	PausedUntil  *time.Time         `json:"paused_until,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
	Applications int                `json:"applications"`
}

// Agent keeps one display output on the circadian gamma curve
type Agent struct {
	applier display.Applier
	mqtt    mqtt.Client
	redis   redis.Client
	history HistoryRecorder
	events  Broadcaster
	metrics *metrics.Registry
	gamma   circadian.Config
	cfg     *config.Config
	logger  *slog.Logger
	now     func() time.Time

	overrideManager *OverrideManager
	refreshLimiter  *RefreshLimiter

	// tickMu serialises evaluations from the ticker and command handler
	tickMu sync.Mutex

	stateMux     sync.RWMutex
	output       string
	lastDecision *Decision
	lastError    error
	applications int

	// Periodic decision loop; ticker is guarded by stateMux
	ticker   *time.Ticker
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewAgent creates a new gamma agent. The configuration is validated here,
// so an invalid one never reaches the display.
func NewAgent(deps Dependencies, cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	if deps.Applier == nil {
		return nil, errors.New("gamma agent requires an applier")
	}

	gamma, err := cfg.Circadian()
	if err != nil {
		return nil, err
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.New()
	}

	return &Agent{
		applier:         deps.Applier,
		mqtt:            deps.MQTT,
		redis:           deps.Redis,
		history:         deps.History,
		events:          deps.Events,
		metrics:         reg,
		gamma:           gamma,
		cfg:             cfg,
		logger:          logger,
		now:             now,
		overrideManager: NewOverrideManager(now),
		refreshLimiter:  NewRefreshLimiter(now),
		stopChan:        make(chan struct{}),
	}, nil
}

// Start connects the optional collaborators, applies the current gamma and
// then re-evaluates on every tick until ctx is cancelled
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Info("Starting gamma agent",
		"service_name", a.cfg.ServiceName,
		"day_start", circadian.FormatClock(a.gamma.Hours.DayStart),
		"dusk_start", circadian.FormatClock(a.gamma.Hours.DuskStart),
		"night_start", circadian.FormatClock(a.gamma.Hours.NightStart),
		"night", a.gamma.Night.String(),
		"sleep_seconds", a.cfg.SleepSeconds,
		"refresh_seconds", a.cfg.RefreshSeconds)

	if err := a.Init(ctx); err != nil {
		if a.interrupted(ctx) {
			a.logger.Info("Gamma agent stopped during startup", "error", err)
			return nil
		}
		return err
	}
	if a.interrupted(ctx) {
		a.logger.Info("Gamma agent stopped during startup")
		return nil
	}

	if _, err := a.Tick(ctx); err != nil {
		if errors.Is(err, errStopped) || a.interrupted(ctx) {
			return nil
		}
		return fmt.Errorf("failed to apply initial gamma: %w", err)
	}

	if !a.startPeriodicDecisionLoop() {
		return nil
	}

	a.logger.Info("Gamma agent started and ready", "output", a.Output())

	// Block until context is cancelled or Stop is called
	select {
	case <-ctx.Done():
	case <-a.stopChan:
	}
	a.logger.Info("Gamma agent stopping")

	return nil
}

// Init resolves the output and prepares the optional collaborators
func (a *Agent) Init(ctx context.Context) error {
	output, err := display.ResolveOutput(ctx, a.applier, a.cfg.Output)
	if err != nil {
		return fmt.Errorf("failed to resolve display output: %w", err)
	}
	a.stateMux.Lock()
	a.output = output
	a.stateMux.Unlock()

	if a.redis != nil {
		if err := a.redis.Ping(ctx); err != nil {
			return fmt.Errorf("failed to ping Redis: %w", err)
		}
		a.restorePause(ctx, output)
	}

	if a.history != nil {
		if err := a.history.Migrate(ctx); err != nil {
			return err
		}
	}

	if a.mqtt != nil {
		if err := a.mqtt.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to MQTT: %w", err)
		}

		commandTopic := mqtt.GammaCommandTopic(a.cfg.ServiceName)
		if err := a.mqtt.Subscribe(commandTopic, 1, a.handleCommandMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", commandTopic, err)
		}
		a.logger.Info("Subscribed to gamma commands", "topic", commandTopic)
	}

	return nil
}

// Stop gracefully stops the agent, restoring neutral gamma when configured.
// When it wins against a Start still in startup, nothing is applied.
func (a *Agent) Stop() error {
	a.logger.Info("Stopping gamma agent")

	a.stopOnce.Do(func() {
		a.stateMux.Lock()
		close(a.stopChan)
		if a.ticker != nil {
			a.ticker.Stop()
		}
		a.stateMux.Unlock()
	})

	var errs []error

	// Ticks that take tickMu from here on see stopChan closed and apply nothing
	a.tickMu.Lock()
	if output := a.Output(); a.cfg.RestoreOnExit && output != "" {
		ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
		err := a.applier.Apply(ctx, output, circadian.Neutral)
		cancel()

		if err != nil {
			a.logger.Error("Failed to restore neutral gamma", "output", output, "error", err)
			errs = append(errs, err)
		} else {
			a.refreshLimiter.Forget(output)
			a.logger.Info("Restored neutral gamma", "output", output)
		}
	}
	a.tickMu.Unlock()

	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("Error closing Redis connection", "error", err)
			errs = append(errs, err)
		}
	}

	a.logger.Info("Gamma agent stopped")
	return errors.Join(errs...)
}

// stopping reports whether Stop has been called
func (a *Agent) stopping() bool {
	select {
	case <-a.stopChan:
		return true
	default:
		return false
	}
}

func (a *Agent) interrupted(ctx context.Context) bool {
	return ctx.Err() != nil || a.stopping()
}

// startPeriodicDecisionLoop starts the periodic decision evaluation.
// It returns false when the agent was stopped first.
func (a *Agent) startPeriodicDecisionLoop() bool {
	a.stateMux.Lock()
	if a.stopping() {
		a.stateMux.Unlock()
		return false
	}
	ticker := time.NewTicker(a.cfg.SleepInterval())
	a.ticker = ticker
	a.stateMux.Unlock()

	go func() {
		a.logger.Info("Starting periodic decision loop", "interval_sec", a.cfg.SleepSeconds)
		for {
			select {
			case <-ticker.C:
				if _, err := a.Tick(context.Background()); errors.Is(err, errStopped) {
					return
				} else if err != nil {
					a.logger.Error("Gamma update failed", "output", a.Output(), "error", err)
				}
				if cleaned := a.overrideManager.CleanupExpiredOverrides(); cleaned > 0 {
					a.logger.Info("Manual override expired, resuming", "count", cleaned)
				}
			case <-a.stopChan:
				return
			}
		}
	}()
	return true
}

// Tick evaluates the gamma for the current time and applies it if needed
func (a *Agent) Tick(ctx context.Context) (*Decision, error) {
	a.tickMu.Lock()
	defer a.tickMu.Unlock()

	if a.stopping() {
		return nil, errStopped
	}

	output := a.Output()
	if output == "" {
		return nil, errors.New("gamma agent not initialised")
	}

	now := a.now()
	reading, err := circadian.Evaluate(a.gamma, circadian.HourOf(now))
	if err != nil {
		return nil, err
	}
	a.metrics.ObserveReading(reading)

	decision := MakeGammaDecision(
		output,
		reading,
		a.overrideManager,
		a.refreshLimiter,
		a.cfg.RefreshInterval(),
		a.logger,
	)

	switch decision.Action {
	case ActionMaintain:
		a.metrics.Paused.Set(1)
		a.metrics.Decisions.WithLabelValues(metrics.ResultPaused).Inc()
		a.recordDecision(decision, nil)
		return decision, nil

	case ActionSkip:
		a.metrics.Paused.Set(0)
		a.metrics.Decisions.WithLabelValues(metrics.ResultSkipped).Inc()
		a.logger.Debug("Decision is skip, gamma unchanged",
			"output", output,
			"gamma", reading.Gamma.String())
		a.recordDecision(decision, nil)
		return decision, nil
	}

	a.metrics.Paused.Set(0)
	if err := a.applier.Apply(ctx, output, reading.Gamma); err != nil {
		a.metrics.Decisions.WithLabelValues(metrics.ResultFailed).Inc()
		a.recordDecision(decision, err)
		return decision, err
	}

	appliedAt := a.refreshLimiter.RecordApply(output, reading.Gamma)
	a.metrics.ObserveApplied(reading.Gamma, float64(appliedAt.Unix()))
	a.recordDecision(decision, nil)

	a.logger.Info("Gamma applied",
		"output", output,
		"phase", reading.Phase.String(),
		"gamma", reading.Gamma.String(),
		"reason", decision.Reason)

	a.publishState(ctx, decision, appliedAt)
	return decision, nil
}

// publishState fans an applied decision out to MQTT, Redis and history.
// Failures are logged; they never stop the loop.
func (a *Agent) publishState(ctx context.Context, decision *Decision, appliedAt time.Time) {
	reading := decision.Reading
	state := a.gammaState(decision, appliedAt)

	if a.mqtt != nil {
		if err := a.mqtt.PublishJSON(mqtt.GammaContextTopic(a.cfg.ServiceName), 0, true, state); err != nil {
			a.logger.Error("Failed to publish gamma context", "error", err)
		}
	}

	a.broadcast(events.TypeGammaApplied, state)

	if a.redis != nil {
		key := redis.GammaStateKey(a.cfg.ServiceName)
		err := a.redis.HSet(ctx, key, map[string]interface{}{
			fieldRed:       strconv.FormatFloat(reading.Gamma.Red, 'f', 3, 64),
			fieldGreen:     strconv.FormatFloat(reading.Gamma.Green, 'f', 3, 64),
			fieldBlue:      strconv.FormatFloat(reading.Gamma.Blue, 'f', 3, 64),
			fieldPhase:     reading.Phase.String(),
			fieldOutput:    decision.Output,
			fieldAppliedAt: appliedAt.UTC().Format(time.RFC3339),
		})
		if err == nil {
			err = a.redis.Expire(ctx, key, stateTTL)
		}
		if err != nil {
			a.logger.Error("Failed to store gamma state", "key", key, "error", err)
		}
	}

	// Refreshes re-send the same gamma; only changes go to history
	if a.history != nil && decision.Reason != ReasonRefresh {
		if _, err := a.history.Record(ctx, a.cfg.ServiceName, reading, appliedAt); err != nil {
			a.logger.Error("Failed to record gamma history", "error", err)
		}
	}
}

func (a *Agent) gammaState(decision *Decision, at time.Time) GammaState {
	state := GammaState{
		Source:    a.cfg.ServiceName,
		Type:      "gamma",
		Output:    decision.Output,
		Phase:     decision.Reading.Phase,
		Progress:  decision.Reading.Progress,
		Red:       decision.Reading.Gamma.Red,
		Green:     decision.Reading.Gamma.Green,
		Blue:      decision.Reading.Gamma.Blue,
		Reason:    decision.Reason,
		Timestamp: at.Format(time.RFC3339),
	}
	if until, paused := a.overrideManager.ExpiresAt(decision.Output); paused {
		state.Paused = true
		state.PausedUntil = until.Format(time.RFC3339)
	}
	return state
}

// handleCommandMessage handles pause/resume/refresh commands
func (a *Agent) handleCommandMessage(msg mqtt.Message) {
	if name, ok := mqtt.NameFromTopic(msg.Topic()); !ok || name != a.cfg.ServiceName {
		a.logger.Warn("Ignoring command for another service", "topic", msg.Topic())
		return
	}

	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		a.logger.Error("Failed to parse gamma command", "topic", msg.Topic(), "error", err)
		return
	}

	if err := a.HandleCommand(context.Background(), cmd); err != nil {
		a.logger.Warn("Gamma command failed", "action", cmd.Action, "error", err)
	}
}

// HandleCommand applies a pause, resume or refresh command
func (a *Agent) HandleCommand(ctx context.Context, cmd Command) error {
	output := a.Output()
	if output == "" {
		return errors.New("gamma agent not initialised")
	}

	switch cmd.Action {
	case "pause":
		minutes := cmd.Minutes
		if minutes <= 0 {
			minutes = a.cfg.ManualOverrideMinutes
		}
		until := a.overrideManager.SetManualOverride(output, time.Duration(minutes)*time.Minute)
		a.metrics.Paused.Set(1)
		a.storePause(ctx, until)
		a.broadcast(events.TypePaused, map[string]string{
			"output":       output,
			"paused_until": until.Format(time.RFC3339),
		})

		a.logger.Info("Gamma paused", "output", output, "minutes", minutes, "until", until)
		return nil

	case "resume":
		if !a.overrideManager.ClearManualOverride(output) {
			a.logger.Debug("Resume without active pause", "output", output)
		}
		a.storePause(ctx, time.Time{})
		a.broadcast(events.TypeResumed, map[string]string{"output": output})
		a.logger.Info("Gamma resumed", "output", output)

		// The user may have changed the ramp while paused
		a.refreshLimiter.Forget(output)
		_, err := a.Tick(ctx)
		return err

	case "refresh":
		a.refreshLimiter.Forget(output)
		_, err := a.Tick(ctx)
		return err

	default:
		return fmt.Errorf("unknown gamma command action %q", cmd.Action)
	}
}

// storePause persists the pause expiry so a restart honours it; zero clears
func (a *Agent) storePause(ctx context.Context, until time.Time) {
	if a.redis == nil {
		return
	}

	key := redis.GammaStateKey(a.cfg.ServiceName)
	var err error
	if until.IsZero() {
		err = a.redis.HDel(ctx, key, fieldPausedUntil)
	} else {
		err = a.redis.HSet(ctx, key, map[string]interface{}{
			fieldPausedUntil: until.UTC().Format(time.RFC3339),
		})
	}
	if err != nil {
		a.logger.Error("Failed to store pause state", "key", key, "error", err)
	}
}

// restorePause reinstates a pause that was active before a restart
func (a *Agent) restorePause(ctx context.Context, output string) {
	key := redis.GammaStateKey(a.cfg.ServiceName)
	state, err := a.redis.HGetAll(ctx, key)
	if err != nil {
		a.logger.Warn("Failed to read stored gamma state", "key", key, "error", err)
		return
	}

	raw, ok := state[fieldPausedUntil]
	if !ok {
		return
	}
	until, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		a.logger.Warn("Ignoring malformed pause expiry", "value", raw, "error", err)
		return
	}
	if a.overrideManager.RestoreManualOverride(output, until) {
		a.logger.Info("Restored manual pause", "output", output, "until", until)
	}
}

func (a *Agent) broadcast(eventType string, data any) {
	if a.events != nil {
		a.events.Broadcast(eventType, data)
	}
}

func (a *Agent) recordDecision(decision *Decision, err error) {
	a.stateMux.Lock()
	defer a.stateMux.Unlock()

	a.lastDecision = decision
	a.lastError = err
	if err == nil && decision.Action == ActionApply {
		a.applications++
	}
}

// Output returns the display output the agent drives
func (a *Agent) Output() string {
	a.stateMux.RLock()
	defer a.stateMux.RUnlock()
	return a.output
}

// RecentChanges returns the latest recorded gamma changes, newest first.
// It returns nil when history is disabled.
func (a *Agent) RecentChanges(ctx context.Context, limit int) ([]history.Entry, error) {
	if a.history == nil {
		return nil, nil
	}
	return a.history.Recent(ctx, a.cfg.ServiceName, limit)
}

// Status returns a snapshot of the agent for health reporting
func (a *Agent) Status() Status {
	a.stateMux.RLock()
	status := Status{
		Service:      a.cfg.ServiceName,
		Output:       a.output,
		Applications: a.applications,
	}
	if d := a.lastDecision; d != nil {
		status.Hour = circadian.FormatClock(d.Reading.Hour)
		status.Phase = d.Reading.Phase
		status.Gamma = d.Reading.Gamma
		status.LastAction = d.Action
		status.LastReason = d.Reason
	}
	if a.lastError != nil {
		status.LastError = a.lastError.Error()
	}
	a.stateMux.RUnlock()

	if _, at, ok := a.refreshLimiter.LastApplied(status.Output); ok {
		status.LastApplied = &at
	}
	if until, paused := a.overrideManager.ExpiresAt(status.Output); paused {
		status.Paused = true
		status.PausedUntil = &until
	}
	return status
}
