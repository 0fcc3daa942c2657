package manager

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/pyramid-fleet/pkg/command"
	"github.com/jrepp/pyramid-fleet/pkg/config"
	"github.com/jrepp/pyramid-fleet/pkg/controller"
	"github.com/jrepp/pyramid-fleet/pkg/fleeterr"
	"github.com/jrepp/pyramid-fleet/pkg/procmgr"
)

type fakeFleet struct {
	cfg          *config.Config
	restartDelay time.Duration
	startErr     error
	startGate    chan struct{}
	panicOnce    atomic.Bool
	fatal        map[string]bool

	mu    sync.Mutex
	log   []string
	alive map[string]bool
}

func newFakeFleet(withProxy, reviveProxy bool) *fakeFleet {
	cfg := &config.Config{
		Groups: []config.GroupConfig{{ID: "a"}, {ID: "b"}},
		Timing: config.DefaultTiming(),
		Reviver: config.ReviverConfig{
			Interval:    20 * time.Millisecond,
			ReviveProxy: reviveProxy,
		},
	}
	if withProxy {
		cfg.Proxy = &config.ProxyConfig{}
	}
	return &fakeFleet{cfg: cfg, alive: map[string]bool{"a": true, "b": true, "PROXY": true}}
}

func (f *fakeFleet) record(entry string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, entry)
}

func (f *fakeFleet) entries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeFleet) count(entry string) int {
	n := 0
	for _, e := range f.entries() {
		if e == entry {
			n++
		}
	}
	return n
}

func (f *fakeFleet) setAlive(id string, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[id] = alive
}

func (f *fakeFleet) Config() *config.Config       { return f.cfg }
func (f *fakeFleet) PollInterval() time.Duration { return 5 * time.Millisecond }

func (f *fakeFleet) StartAll(ctx context.Context, skipAlreadyAlive bool) error {
	f.record("startall")
	if f.startGate != nil {
		<-f.startGate
	}
	f.record("startall:done")
	return f.startErr
}

func (f *fakeFleet) StopAllRequest(ctx context.Context, skipNotAlive bool) command.Command {
	f.record("stopall")
	return command.Done(true)
}

func (f *fakeFleet) restart(id string) command.Command {
	if f.panicOnce.CompareAndSwap(true, false) {
		panic("restart exploded")
	}
	f.mu.Lock()
	alive := f.alive[id]
	f.mu.Unlock()
	if alive {
		return command.Done(true)
	}

	f.record("restart:" + id)
	if f.fatal[id] {
		return command.NewFunc(func() error {
			return fleeterr.ErrExecutableNotFound(id, "/opt/pyramid/bin/worker", exec.ErrNotFound)
		})
	}
	return command.NewComposite(command.After(f.restartDelay, true)).OnFinish(func(*command.Composite) {
		f.setAlive(id, true)
		f.record("restarted:" + id)
	})
}

func (f *fakeFleet) RestartGroupRequest(ctx context.Context, id string, skipAlreadyAlive bool) (command.Command, error) {
	return f.restart(id), nil
}

func (f *fakeFleet) RestartProxyRequest(ctx context.Context, skipAlreadyAlive bool) (command.Command, error) {
	return f.restart("PROXY"), nil
}

func (f *fakeFleet) Status(ctx context.Context) []controller.Status {
	return []controller.Status{{ID: "a", Alive: true}}
}

func TestServersManager_RevivesDeadGroup(t *testing.T) {
	fleet := newFakeFleet(false, false)
	m := New(fleet)

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.Active())

	fleet.setAlive("b", false)
	require.Eventually(t, func() bool {
		return fleet.count("restarted:b") == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := m.StopAll(context.Background())
	require.NoError(t, err)
	assert.False(t, m.Active())
	assert.Equal(t, 0, fleet.count("restart:a"))
}

func TestServersManager_StartErrorStillRevives(t *testing.T) {
	fleet := newFakeFleet(false, false)
	fleet.startErr = errors.New("group a failed")
	m := New(fleet)

	err := m.StartAll(context.Background())
	assert.EqualError(t, err, "group a failed")
	assert.True(t, m.Active())

	_, err = m.StopAll(context.Background())
	require.NoError(t, err)
}

// StopAll issued while the initial start is still spawning waits for it, so
// nothing started afterwards escapes the final sweep.
func TestServersManager_StopWaitsForInitialStart(t *testing.T) {
	fleet := newFakeFleet(false, false)
	fleet.startGate = make(chan struct{})
	m := New(fleet)

	started := make(chan error, 1)
	go func() { started <- m.StartAll(context.Background()) }()
	require.Eventually(t, func() bool { return fleet.count("startall") == 1 }, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		_, err := m.StopAll(context.Background())
		assert.NoError(t, err)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("StopAll returned while targets were still starting")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, fleet.count("stopall"))

	close(fleet.startGate)
	require.NoError(t, <-started)
	<-stopped

	assert.Equal(t, []string{"startall", "startall:done", "stopall"}, fleet.entries())
	assert.False(t, m.Active())
}

func TestServersManager_StopBeforeStart(t *testing.T) {
	fleet := newFakeFleet(false, false)
	m := New(fleet)

	_, err := m.StopAll(context.Background())
	require.NoError(t, err)

	assert.Error(t, m.StartAll(context.Background()))
	assert.Equal(t, 0, fleet.count("startall"))
}

func TestServersManager_AbandonsFatalTarget(t *testing.T) {
	fleet := newFakeFleet(false, false)
	fleet.fatal = map[string]bool{"a": true}
	m := New(fleet)

	require.NoError(t, m.StartAll(context.Background()))
	fleet.setAlive("a", false)

	require.Eventually(t, func() bool { return len(m.Abandoned()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a"}, m.Abandoned())

	passes := m.Passes()
	require.Eventually(t, func() bool { return m.Passes() >= passes+3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fleet.count("restart:a"), "a missing executable is never retried")

	_, err := m.StopAll(context.Background())
	require.NoError(t, err)
}

func TestServersManager_StartTwice(t *testing.T) {
	fleet := newFakeFleet(false, false)
	m := New(fleet)

	require.NoError(t, m.StartAll(context.Background()))
	assert.Error(t, m.StartAll(context.Background()))

	_, err := m.StopAll(context.Background())
	require.NoError(t, err)
}

// A pass in flight completes before the final sweep, and no restart begins
// after the sweep.
func TestServersManager_StopDoesNotRaceRevival(t *testing.T) {
	fleet := newFakeFleet(false, false)
	fleet.restartDelay = 150 * time.Millisecond
	m := New(fleet)

	require.NoError(t, m.StartAll(context.Background()))
	fleet.setAlive("a", false)

	require.Eventually(t, func() bool {
		return fleet.count("restart:a") == 1
	}, 2*time.Second, time.Millisecond)

	_, err := m.StopAll(context.Background())
	require.NoError(t, err)

	entries := fleet.entries()
	stopAt := -1
	for i, e := range entries {
		if e == "stopall" {
			stopAt = i
		}
	}
	require.NotEqual(t, -1, stopAt)
	assert.Equal(t, 1, fleet.count("stopall"))
	assert.Contains(t, entries[:stopAt], "restarted:a", "pass finished before the sweep")
	for _, e := range entries[stopAt+1:] {
		assert.False(t, strings.HasPrefix(e, "restart"), "restart after sweep: %s", e)
	}
}

func TestServersManager_SurvivesPanickingPass(t *testing.T) {
	fleet := newFakeFleet(false, false)
	metrics := procmgr.NewPrometheusMetricsCollector("test")
	m := New(fleet, WithMetrics(metrics))

	fleet.panicOnce.Store(true)
	require.NoError(t, m.StartAll(context.Background()))

	fleet.setAlive("b", false)
	require.Eventually(t, func() bool {
		return fleet.count("restarted:b") == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, m.Active(), "loop keeps going after a panic")

	count, err := testutil.GatherAndCount(metrics.Registry(), "test_revival_passes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "both success and error passes recorded")

	_, err = m.StopAll(context.Background())
	require.NoError(t, err)
}

func TestServersManager_ReviveProxySwitch(t *testing.T) {
	tests := []struct {
		name        string
		reviveProxy bool
		restarts    int
	}{
		{"disabled", false, 0},
		{"enabled", true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fleet := newFakeFleet(true, tt.reviveProxy)
			fleet.setAlive("PROXY", false)
			m := New(fleet)

			require.NoError(t, m.StartAll(context.Background()))
			require.Eventually(t, func() bool { return m.Passes() >= 3 }, 2*time.Second, 5*time.Millisecond)
			_, err := m.StopAll(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.restarts, fleet.count("restart:PROXY"))
		})
	}
}

func TestServersManager_ContextCancelStopsLoop(t *testing.T) {
	fleet := newFakeFleet(false, false)
	m := New(fleet, WithInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, m.StartAll(ctx))
	cancel()

	require.Eventually(t, func() bool { return !m.Active() }, time.Second, 5*time.Millisecond)

	accepted, err := m.StopAll(context.Background())
	require.NoError(t, err)
	assert.True(t, accepted)
}

func TestServersManager_Handler(t *testing.T) {
	fleet := newFakeFleet(false, false)
	metrics := procmgr.NewPrometheusMetricsCollector("test")
	m := New(fleet, WithMetrics(metrics), WithInterval(time.Hour))

	srv := httptest.NewServer(m.Handler(metrics.Registry()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "loop not running yet")

	require.NoError(t, m.StartAll(context.Background()))

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	metrics.RegistrySize(2)
	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = m.StopAll(context.Background())
	require.NoError(t, err)
}
