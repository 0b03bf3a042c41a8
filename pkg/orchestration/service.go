// Package orchestration runs the execution client: it polls for unanswered
// messages on a schedule and drives each one through the capability
// pipeline (collect, enhance, generate, post-process, commit).
//
// Lifecycle:
//
//	Stopped → Initializing → Running → Stopping → Stopped
//
// Initialize connects the store, loads plugins and ensures the identity
// state exists. Start schedules ticks. Stop prevents future ticks and waits
// for an in-flight tick to finish. Cleanup tears everything down best-effort.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sipeed/execclient/pkg/bus"
	"github.com/sipeed/execclient/pkg/config"
	"github.com/sipeed/execclient/pkg/domain"
	"github.com/sipeed/execclient/pkg/events"
	"github.com/sipeed/execclient/pkg/logger"
	"github.com/sipeed/execclient/pkg/plugins"
	"github.com/sipeed/execclient/pkg/providers"
	"github.com/sipeed/execclient/pkg/source"
	"github.com/sipeed/execclient/pkg/store"
)

// ServiceState is the lifecycle state of the execution client service.
type ServiceState string

const (
	StateStopped      ServiceState = "stopped"
	StateInitializing ServiceState = "initializing"
	StateRunning      ServiceState = "running"
	StateStopping     ServiceState = "stopping"
)

type ServiceError string

func (e ServiceError) Error() string { return string(e) }

const (
	ErrNotInitialized ServiceError = "service is not initialized"
	ErrBusy           ServiceError = "service is changing state"
)

// FallbackResponse is committed when the completion provider fails.
const FallbackResponse = "I apologize, but I'm unable to generate a response right now. Please try again later."

const eventSource = "orchestrator"

// Config holds the service's own settings.
type Config struct {
	// ScopeKey identifies the execution client's identity state record.
	ScopeKey string
	Topics   []string
	Limit    int
	Schedule Schedule
	Retry    RetryPolicy
	Plugins  []config.PluginConfig
}

// Deps are the collaborators the service drives. Bus and Clock are optional.
type Deps struct {
	Store    store.Store
	Source   source.Source
	Registry *plugins.Registry
	Provider providers.CompletionProvider
	Bus      *bus.MessageBus
	Clock    func() time.Time
}

// ExecutionClientService owns the polling loop.
type ExecutionClientService struct {
	cfg      Config
	store    store.Store
	source   source.Source
	registry *plugins.Registry
	provider providers.CompletionProvider
	bus      *bus.MessageBus
	now      func() time.Time

	attempts *attemptBook
	tracer   trace.Tracer
	log      *logger.ComponentLogger

	mu          sync.Mutex
	state       ServiceState
	initialized bool
	cancel      context.CancelFunc
	done        chan struct{}
	draining    chan struct{} // set while a timed-out Stop waits for its tick

	// tickMu serializes ticks so two never overlap.
	tickMu   sync.Mutex
	ticks    atomic.Int64
	lastTick atomic.Pointer[TickResult]
}

// NewExecutionClientService wires the service. It performs no I/O.
func NewExecutionClientService(cfg Config, deps Deps) (*ExecutionClientService, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("orchestration: store is required")
	case deps.Source == nil:
		return nil, errors.New("orchestration: source is required")
	case deps.Registry == nil:
		return nil, errors.New("orchestration: registry is required")
	case deps.Provider == nil:
		return nil, errors.New("orchestration: completion provider is required")
	case cfg.ScopeKey == "":
		return nil, errors.New("orchestration: scope key is required")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.Schedule == nil {
		cfg.Schedule = IntervalSchedule(60 * time.Second)
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &ExecutionClientService{
		cfg:      cfg,
		store:    deps.Store,
		source:   deps.Source,
		registry: deps.Registry,
		provider: deps.Provider,
		bus:      deps.Bus,
		now:      now,
		attempts: newAttemptBook(cfg.Retry),
		tracer:   otel.Tracer("github.com/sipeed/execclient/pkg/orchestration"),
		log:      logger.Component("orchestrator"),
		state:    StateStopped,
	}, nil
}

// State returns the current lifecycle state.
func (s *ExecutionClientService) State() ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ExecutionClientService) setStateLocked(to ServiceState) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.log.Info("Service state changed", map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	})
	s.bus.Publish(events.ServiceState, eventSource, events.ServiceEventData{From: string(from), To: string(to)})
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Initialize connects the store, loads the configured plugins and ensures
// the identity state record exists. A plugin registration failure aborts
// initialization and undoes the partial setup.
func (s *ExecutionClientService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	if s.state != StateStopped {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot initialize while %s", ErrBusy, state)
	}
	s.setStateLocked(StateInitializing)
	s.mu.Unlock()

	err := s.initialize(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.setStateLocked(StateStopped)
		return err
	}
	s.initialized = true
	return nil
}

func (s *ExecutionClientService) initialize(ctx context.Context) error {
	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	if err := plugins.LoadConfigured(ctx, s.registry, s.cfg.Plugins); err != nil {
		s.registry.UnregisterAll(ctx)
		s.store.Close()
		return err
	}
	if err := s.ensureState(ctx); err != nil {
		s.registry.UnregisterAll(ctx)
		s.store.Close()
		return err
	}
	s.log.Info("Service initialized", map[string]interface{}{
		"scope":        s.cfg.ScopeKey,
		"capabilities": s.registry.CapabilityIDs(),
		"schedule":     s.cfg.Schedule.String(),
	})
	return nil
}

func (s *ExecutionClientService) ensureState(ctx context.Context) error {
	_, err := s.store.FindState(ctx, s.cfg.ScopeKey)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load execution client state: %w", err)
	}
	st := domain.NewExecutionClientState(s.cfg.ScopeKey)
	st.UpdatedAt = s.now().UTC()
	if err := s.store.CreateState(ctx, st); err != nil {
		return fmt.Errorf("create execution client state: %w", err)
	}
	s.log.Info("Created execution client state", map[string]interface{}{"scope": s.cfg.ScopeKey})
	return nil
}

// Start schedules the polling loop. Starting a running service is a logged
// no-op.
func (s *ExecutionClientService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateRunning:
		s.log.Warn("Start ignored, service already running", nil)
		return nil
	case !s.initialized:
		return ErrNotInitialized
	case s.state == StateStopping:
		return fmt.Errorf("%w: still stopping", ErrBusy)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go s.run(loopCtx, done)

	s.setStateLocked(StateRunning)
	return nil
}

func (s *ExecutionClientService) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	// A tick that has begun runs to completion even if the loop is cancelled.
	tickCtx := context.WithoutCancel(ctx)
	for {
		next, err := s.cfg.Schedule.Next(time.Now())
		if err != nil {
			s.log.Error("Cannot compute next tick, polling stopped", map[string]interface{}{
				"schedule": s.cfg.Schedule.String(),
				"error":    err.Error(),
			})
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Tick(tickCtx); err != nil {
			s.log.Error("Tick failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Stop cancels future ticks and waits for an in-flight tick to finish. It
// is idempotent. If ctx ends first, Stop returns its error and the service
// reaches Stopped once the tick completes.
func (s *ExecutionClientService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(StateStopping)
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		s.finishStop()
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.draining = done
		s.mu.Unlock()
		go func() {
			<-done
			s.finishStop()
		}()
		return ctx.Err()
	}
}

func (s *ExecutionClientService) finishStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = nil
	s.setStateLocked(StateStopped)
}

// Cleanup stops the loop, cleans up every plugin and closes the store. Each
// step runs even if an earlier one failed; the failures are returned joined.
// When Stop times out the store is closed only after the in-flight tick ends.
func (s *ExecutionClientService) Cleanup(ctx context.Context) error {
	var errs []error
	if err := s.Stop(ctx); err != nil {
		s.log.Error("Stop failed during cleanup", map[string]interface{}{"error": err.Error()})
		errs = append(errs, err)
	}

	s.registry.UnregisterAll(ctx)

	s.mu.Lock()
	draining := s.draining
	s.mu.Unlock()
	if draining != nil {
		// The in-flight tick still writes to the store.
		s.log.Warn("Tick still running, store close deferred until it finishes", nil)
		go func() {
			<-draining
			s.closeStore()
		}()
	} else if err := s.closeStore(); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	s.initialized = false
	if s.state == StateInitializing {
		s.setStateLocked(StateStopped)
	}
	s.mu.Unlock()

	s.log.Info("Service cleaned up", nil)
	return errors.Join(errs...)
}

func (s *ExecutionClientService) closeStore() error {
	err := s.store.Close()
	if err != nil {
		s.log.Error("Store close failed during cleanup", map[string]interface{}{"error": err.Error()})
	}
	return err
}

func (s *ExecutionClientService) isInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// ---------------------------------------------------------------------------
// Observability
// ---------------------------------------------------------------------------

// Status is a snapshot of the service for the status API.
type Status struct {
	State          ServiceState         `json:"state"`
	Initialized    bool                 `json:"initialized"`
	ScopeKey       string               `json:"scope_key"`
	Schedule       string               `json:"schedule"`
	Provider       string               `json:"provider"`
	Ticks          int64                `json:"ticks"`
	TotalProcessed int64                `json:"total_processed"`
	StateUpdatedAt *time.Time           `json:"state_updated_at,omitempty"`
	LastTick       *TickResult          `json:"last_tick,omitempty"`
	Plugins        []plugins.PluginInfo `json:"plugins"`
	Capabilities   map[string]int       `json:"capabilities"`
	Retries        []Attempt            `json:"retries"`
}

// Status returns a snapshot of the service.
func (s *ExecutionClientService) Status(ctx context.Context) Status {
	s.mu.Lock()
	st := Status{
		State:       s.state,
		Initialized: s.initialized,
	}
	s.mu.Unlock()

	st.ScopeKey = s.cfg.ScopeKey
	st.Schedule = s.cfg.Schedule.String()
	st.Provider = s.provider.Name()
	st.Ticks = s.ticks.Load()
	st.LastTick = s.lastTick.Load()
	st.Plugins = s.registry.List()
	st.Capabilities = s.registry.CapabilityCounts()
	st.Retries = s.attempts.Snapshot()

	if st.Initialized {
		if rec, err := s.store.FindState(ctx, s.cfg.ScopeKey); err == nil {
			st.TotalProcessed = rec.TotalProcessed
			updated := rec.UpdatedAt
			st.StateUpdatedAt = &updated
		} else {
			s.log.Debug("Status could not read execution client state", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return st
}
