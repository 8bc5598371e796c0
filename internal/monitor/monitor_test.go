package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ipwatch/internal/config"
	"ipwatch/internal/registry"
	"ipwatch/internal/resolver"
	"ipwatch/internal/state"
	"ipwatch/internal/types"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []*types.ChangeEvent
	err    error
}

func (f *fakeNotifier) NotifyIPChange(event *types.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeHistory struct {
	mu     sync.Mutex
	events []*types.ChangeEvent
}

func (f *fakeHistory) Record(_ context.Context, event *types.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

// testHarness wires a monitor against an httptest lookup server whose
// answer can be swapped between cycles.
type testHarness struct {
	monitor  *Monitor
	notifier *fakeNotifier
	history  *fakeHistory
	state    *state.Store
	cfg      *config.Config

	mu sync.Mutex
	ip string
}

func newHarness(t *testing.T, dryRun, skipFirstRun bool) *testHarness {
	t.Helper()

	h := &testHarness{
		notifier: &fakeNotifier{},
		history:  &fakeHistory{},
		ip:       "93.184.216.34",
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, _ = w.Write([]byte(h.ip))
	}))
	t.Cleanup(srv.Close)

	h.cfg = &config.Config{
		Machine:    "testbox",
		TryCount:   3,
		SaveIPPath: filepath.Join(t.TempDir(), "saved_ip.txt"),
		Registry: config.RegistryConfig{
			RemoteURL: srv.URL,
			MaxAge:    time.Hour,
			Timeout:   time.Second,
		},
		Notify: config.NotifyConfig{SkipFirstRun: skipFirstRun},
	}

	logger := zaptest.NewLogger(t)

	store := registry.NewMemoryStore(&registry.Snapshot{
		FetchedAt: time.Now(),
		Servers:   []registry.Entry{{URL: srv.URL, Parse: registry.ParsePlainText}},
	})

	h.state = state.NewStore(h.cfg.SaveIPPath)

	deps := Deps{
		Registry: registry.NewManager(&h.cfg.Registry, store, dryRun, logger),
		Resolver: resolver.New(resolver.Options{TryCount: 3, Timeout: time.Second}, logger),
		State:    h.state,
		Notifier: h.notifier,
		History:  h.history,
	}

	h.monitor = New(h.cfg, deps, dryRun, logger)
	return h
}

func (h *testHarness) setIP(ip string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ip = ip
}

func TestRunCycleFirstRunNotifiesAndPersists(t *testing.T) {
	h := newHarness(t, false, false)

	require.NoError(t, h.monitor.RunCycle(context.Background()))

	require.Equal(t, 1, h.notifier.count())
	event := h.notifier.events[0]
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "testbox", event.Machine)
	assert.True(t, event.Changes.FirstRun)
	require.NotNil(t, event.Changes.External)
	assert.Equal(t, "93.184.216.34", event.Changes.External.New)

	saved, err := h.state.Load()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "93.184.216.34", saved.External)

	assert.Len(t, h.history.events, 1)
}

func TestRunCycleIsIdempotent(t *testing.T) {
	h := newHarness(t, false, false)

	require.NoError(t, h.monitor.RunCycle(context.Background()))
	require.Equal(t, 1, h.notifier.count())

	// Same address again: no new notification, no new history row.
	require.NoError(t, h.monitor.RunCycle(context.Background()))
	assert.Equal(t, 1, h.notifier.count())
	assert.Len(t, h.history.events, 1)

	status := h.monitor.Status()
	assert.Equal(t, int64(2), status.Cycles)
	assert.Equal(t, "93.184.216.34", status.External)
}

func TestRunCycleDetectsSubsequentChange(t *testing.T) {
	h := newHarness(t, false, false)

	require.NoError(t, h.monitor.RunCycle(context.Background()))
	h.setIP("198.51.100.7")
	require.NoError(t, h.monitor.RunCycle(context.Background()))

	require.Equal(t, 2, h.notifier.count())
	event := h.notifier.events[1]
	assert.False(t, event.Changes.FirstRun)
	require.NotNil(t, event.Changes.External)
	assert.Equal(t, "93.184.216.34", event.Changes.External.Old)
	assert.Equal(t, "198.51.100.7", event.Changes.External.New)

	saved, err := h.state.Load()
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", saved.External)
}

func TestRunCycleSkipFirstRunSuppressesNotification(t *testing.T) {
	h := newHarness(t, false, true)

	require.NoError(t, h.monitor.RunCycle(context.Background()))

	// No notification, but the baseline was persisted.
	assert.Equal(t, 0, h.notifier.count())
	saved, err := h.state.Load()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "93.184.216.34", saved.External)

	// A genuine change afterwards does notify.
	h.setIP("198.51.100.7")
	require.NoError(t, h.monitor.RunCycle(context.Background()))
	assert.Equal(t, 1, h.notifier.count())
}

func TestRunCycleDryRunHasNoSideEffects(t *testing.T) {
	h := newHarness(t, true, false)

	require.NoError(t, h.monitor.RunCycle(context.Background()))

	assert.Equal(t, 0, h.notifier.count())
	assert.Empty(t, h.history.events)

	_, err := os.Stat(h.cfg.SaveIPPath)
	assert.True(t, os.IsNotExist(err))

	// Dry run still reports what it saw.
	status := h.monitor.Status()
	assert.Equal(t, "93.184.216.34", status.External)
}

func TestRunCycleNotifyFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, false, false)
	h.notifier.err = errors.New("smtp unreachable")

	err := h.monitor.RunCycle(context.Background())
	require.Error(t, err)

	// State was not written, so the change is re-detected next cycle.
	_, statErr := os.Stat(h.cfg.SaveIPPath)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, h.history.events)

	h.notifier.err = nil
	require.NoError(t, h.monitor.RunCycle(context.Background()))
	assert.Equal(t, 1, h.notifier.count())
}

func TestStatusReportsResolutionError(t *testing.T) {
	h := newHarness(t, false, false)
	h.setIP("not an ip at all")

	_ = h.monitor.RunCycle(context.Background())

	status := h.monitor.Status()
	assert.Equal(t, int64(1), status.Cycles)
	assert.NotEmpty(t, status.LastError)
	assert.Empty(t, status.External)
}
