// Package monitor sequences a resolution cycle: load the server registry,
// resolve the external and local addresses, detect changes against the
// saved state, notify, and persist.
package monitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ipwatch/internal/config"
	"ipwatch/internal/detector"
	"ipwatch/internal/registry"
	"ipwatch/internal/resolver"
	"ipwatch/internal/state"
	"ipwatch/internal/types"
)

// Notifier sends change notifications. *notify.Manager implements it.
type Notifier interface {
	NotifyIPChange(event *types.ChangeEvent) error
}

// History records change events. *history.Store implements it.
type History interface {
	Record(ctx context.Context, event *types.ChangeEvent) error
}

// Deps carries the monitor's collaborators
type Deps struct {
	Registry *registry.Manager
	Resolver *resolver.Resolver
	State    *state.Store
	Notifier Notifier // nil disables notifications
	History  History  // nil disables history
}

// Monitor runs resolution cycles
type Monitor struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *registry.Manager
	resolver *resolver.Resolver
	state    *state.Store
	notifier Notifier
	history  History
	dryRun   bool

	mu     sync.RWMutex
	status types.Status
}

// New creates a monitor
func New(cfg *config.Config, deps Deps, dryRun bool, logger *zap.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		logger:   logger,
		registry: deps.Registry,
		resolver: deps.Resolver,
		state:    deps.State,
		notifier: deps.Notifier,
		history:  deps.History,
		dryRun:   dryRun,
		status:   types.Status{Machine: cfg.Machine},
	}
}

// Start runs one cycle and, when repeat is configured, keeps running on
// the interval until the context is cancelled. Cycle failures are soft:
// they are logged and the next cycle proceeds.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.RunCycle(ctx); err != nil {
		m.logger.Error("Check cycle failed", zap.Error(err))
	}

	if m.cfg.Repeat <= 0 {
		return nil
	}

	interval := time.Duration(m.cfg.Repeat) * time.Second
	m.logger.Info("Repeating checks", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.RunCycle(ctx); err != nil {
				m.logger.Error("Check cycle failed", zap.Error(err))
			}
		}
	}
}

// RunCycle performs a single resolution cycle. The returned error is
// diagnostic only; the caller continues to the next cycle regardless.
func (m *Monitor) RunCycle(ctx context.Context) error {
	start := time.Now()

	reg := m.registry.Load(ctx)
	m.logger.Debug("Server registry loaded",
		zap.Int("servers", len(reg.Entries)),
		zap.Time("fetched_at", reg.FetchedAt))

	// A failure on either side leaves the other side's result usable.
	external, extErr := m.resolver.ResolveExternal(ctx, reg)
	if extErr != nil {
		m.logger.Warn("Could not determine external IP this cycle", zap.Error(extErr))
	}

	local, locErr := resolver.ResolveLocal()
	if locErr != nil {
		m.logger.Warn("Could not determine local IP this cycle", zap.Error(locErr))
	}

	saved, err := m.state.Load()
	if err != nil {
		m.logger.Warn("Failed to load saved state, treating as first run", zap.Error(err))
		saved = nil
	}

	changes := detector.Detect(saved, external, local)
	m.recordStatus(external, local, changes, start, extErr, locErr)

	if extErr != nil && locErr != nil {
		return fmt.Errorf("resolution failed: %w", extErr)
	}

	if !changes.HasChanges() {
		m.logger.Info("Current IP matches saved IP, nothing to do",
			zap.Duration("duration", time.Since(start)))
		return nil
	}

	event := m.newEvent(changes, external)
	m.logger.Info("IP change detected",
		zap.String("event_id", event.EventID),
		zap.Strings("changes", changes.Summaries()),
		zap.Bool("first_run", changes.FirstRun))

	if m.dryRun {
		m.logger.Info("Dry run: skipping notification and state write",
			zap.String("event_id", event.EventID))
		return nil
	}

	shouldNotify := m.notifier != nil
	if changes.FirstRun && m.cfg.Notify.SkipFirstRun {
		m.logger.Info("First run: establishing baseline without notification")
		shouldNotify = false
	}

	if shouldNotify {
		if err := m.notifier.NotifyIPChange(event); err != nil {
			// State is intentionally left untouched so the change is
			// re-detected and re-notified next cycle.
			return fmt.Errorf("notification failed, state not persisted: %w", err)
		}
	}

	if err := m.state.Save(mergedState(saved, external, local)); err != nil {
		m.logger.Error("Failed to save state", zap.Error(err))
	}

	if m.history != nil {
		if err := m.history.Record(ctx, event); err != nil {
			m.logger.Error("Failed to record change history", zap.Error(err))
		}
	}

	return nil
}

// Status returns a copy of the current monitor status
func (m *Monitor) Status() types.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// newEvent builds the change event handed to notifiers and history
func (m *Monitor) newEvent(changes types.ChangeSet, external *types.ResolvedAddress) *types.ChangeEvent {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	server := ""
	if external != nil {
		server = external.Server
	}

	return &types.ChangeEvent{
		EventID:   uuid.New().String(),
		Machine:   m.cfg.Machine,
		Hostname:  hostname,
		Changes:   changes,
		Server:    server,
		Timestamp: time.Now(),
	}
}

// recordStatus updates the state exposed over the status API
func (m *Monitor) recordStatus(external, local *types.ResolvedAddress, changes types.ChangeSet, start time.Time, extErr, locErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status.LastCheck = start
	m.status.Cycles++
	m.status.LastError = ""

	if external != nil {
		m.status.External = external.Value
	}
	if local != nil {
		m.status.Local = local.Value
	}
	if changes.HasChanges() {
		m.status.LastChange = start
	}
	if extErr != nil {
		m.status.LastError = extErr.Error()
	} else if locErr != nil {
		m.status.LastError = locErr.Error()
	}
}

// mergedState folds the cycle's results into the next saved state,
// retaining the previous value for a side that failed to resolve
func mergedState(saved *types.SavedState, external, local *types.ResolvedAddress) *types.SavedState {
	next := &types.SavedState{CheckedAt: time.Now()}
	if saved != nil {
		next.External = saved.External
		next.Local = saved.Local
	}
	if external != nil {
		next.External = external.Value
	}
	if local != nil {
		next.Local = local.Value
	}
	return next
}
