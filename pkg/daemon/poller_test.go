package daemon

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nutmon/nutmon/pkg/config"
	"github.com/nutmon/nutmon/pkg/errkind"
	"github.com/nutmon/nutmon/pkg/events"
	"github.com/nutmon/nutmon/pkg/telemetry"
)

type fakeConn struct {
	mu        sync.Mutex
	vars      map[string]string
	listCalls int
	getCalls  int
	getErr    error
	closed    bool
}

func (f *fakeConn) ListVariables(ups string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	out := make(map[string]string, len(f.vars))
	for k, v := range f.vars {
		out[k] = v
	}
	return out, nil
}

func (f *fakeConn) GetVariables(ups string, names []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		if v, ok := f.vars[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) set(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vars[name] = value
}

type fakeChildManager struct {
	mu          sync.Mutex
	ensureCalls int
	stopCalls   int
}

func (f *fakeChildManager) EnsureRunning(cfg config.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	return nil
}

func (f *fakeChildManager) Stop(cfg config.Config, force bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
}

func newTestConfigStore(t *testing.T) *config.Store {
	t.Helper()
	s, err := config.NewStore(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func upsVars() map[string]string {
	return map[string]string{
		"device.type":     "ups",
		"ups.model":       "CP1500PFCLCD",
		"ups.mfr":         "CyberPower",
		"ups.status":      "OL",
		"battery.charge":  "100",
		"battery.voltage": "24.0",
		"input.voltage":   "230.1",
	}
}

// watchStates subscribes to connection state changes and returns a
// channel of state strings.
func watchStates(hub *events.Hub) <-chan string {
	ch := make(chan string, 32)
	hub.Subscribe(events.ConnectionStateChanged, func(payload any) {
		if p, ok := payload.(events.ConnectionStatePayload); ok {
			ch <- p.State
		}
	})
	return ch
}

func waitForState(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func newTestPoller(t *testing.T, conn *fakeConn, dialErr error) (*Poller, *config.Store, *events.Hub, *fakeChildManager) {
	t.Helper()
	cfg := newTestConfigStore(t)
	store, err := telemetry.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	hub := events.NewHub()
	sup := &fakeChildManager{}
	p := NewPoller(cfg, store, hub, sup, PollerOptions{
		Dial: func(config.NUTConfig) (nutConn, error) {
			if dialErr != nil {
				return nil, dialErr
			}
			return conn, nil
		},
		SampleDelay: time.Millisecond,
	})
	return p, cfg, hub, sup
}

func TestPollerReachesReadyAndPersists(t *testing.T) {
	conn := &fakeConn{vars: upsVars()}
	p, _, hub, sup := newTestPoller(t, conn, nil)
	states := watchStates(hub)

	p.Start()
	defer p.Stop()
	waitForState(t, states, StateReady)

	if p.State() != StateReady {
		t.Fatalf("state = %q, want ready", p.State())
	}

	static := p.StaticData()
	if static["ups.model"] != "CP1500PFCLCD" {
		t.Fatalf("static data missing model: %v", static)
	}
	if _, ok := static["battery.charge"]; ok {
		t.Fatal("dynamic variable leaked into static data")
	}

	pt, err := p.store.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if pt == nil {
		t.Fatal("no telemetry row persisted after initialization")
	}
	if v := pt.Values["battery_charge_pct"]; v == nil || *v != 100 {
		t.Fatalf("battery_charge_pct = %v, want 100", v)
	}

	sup.mu.Lock()
	ensures := sup.ensureCalls
	sup.mu.Unlock()
	if ensures != 1 {
		t.Fatalf("EnsureRunning called %d times, want 1", ensures)
	}
}

func TestPollerTickRefreshesSnapshot(t *testing.T) {
	conn := &fakeConn{vars: upsVars()}
	p, _, hub, _ := newTestPoller(t, conn, nil)
	states := watchStates(hub)

	ticks := make(chan events.TelemetryPayload, 8)
	hub.Subscribe(events.UPSTelemetryUpdated, func(payload any) {
		if tp, ok := payload.(events.TelemetryPayload); ok {
			ticks <- tp
		}
	})

	p.Start()
	defer p.Stop()
	waitForState(t, states, StateReady)
	<-ticks // initial sample

	conn.set("battery.charge", "97")
	time.Sleep(2 * time.Millisecond) // distinct row timestamp
	p.pollTick()

	select {
	case tp := <-ticks:
		if v := tp.Values["battery_charge_pct"]; v == nil || *v != 97 {
			t.Fatalf("battery_charge_pct = %v, want 97", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no telemetry event after poll tick")
	}
}

func TestPollerTickFailureDegrades(t *testing.T) {
	conn := &fakeConn{vars: upsVars()}
	p, _, hub, _ := newTestPoller(t, conn, nil)
	states := watchStates(hub)

	p.Start()
	defer p.Stop()
	waitForState(t, states, StateReady)

	conn.mu.Lock()
	conn.getErr = errkind.New(errkind.Io, "connection reset")
	conn.mu.Unlock()

	p.pollTick()
	waitForState(t, states, StateReconnecting)

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Fatal("client not closed after poll failure")
	}
}

func TestPollerTickAfterTeardownIsNoop(t *testing.T) {
	conn := &fakeConn{vars: upsVars()}
	p, _, hub, _ := newTestPoller(t, conn, nil)
	states := watchStates(hub)

	p.Start()
	defer p.Stop()
	waitForState(t, states, StateReady)

	// A timer that fired before teardown still runs its tick. Simulate
	// the race by nilling the client the way ReconnectNow does.
	p.mu.Lock()
	p.client = nil
	p.mu.Unlock()

	conn.mu.Lock()
	before := conn.getCalls
	conn.mu.Unlock()

	p.pollTick()

	conn.mu.Lock()
	after := conn.getCalls
	conn.mu.Unlock()
	if after != before {
		t.Fatalf("tick polled a torn-down connection: getCalls %d -> %d", before, after)
	}
}

func TestPollerDialFailureSchedulesReconnect(t *testing.T) {
	p, _, hub, _ := newTestPoller(t, nil, errkind.New(errkind.Io, "connection refused"))
	states := watchStates(hub)

	p.Start()
	defer p.Stop()
	waitForState(t, states, StateDegraded)
	waitForState(t, states, StateReconnecting)

	p.mu.Lock()
	attempt := p.reconnectAttempt
	p.mu.Unlock()
	if attempt != 1 {
		t.Fatalf("reconnectAttempt = %d, want 1", attempt)
	}
}

func TestPollerStopReturnsToIdle(t *testing.T) {
	conn := &fakeConn{vars: upsVars()}
	p, _, hub, sup := newTestPoller(t, conn, nil)
	states := watchStates(hub)

	p.Start()
	waitForState(t, states, StateReady)

	p.Stop()
	if p.State() != StateIdle {
		t.Fatalf("state after stop = %q, want idle", p.State())
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Fatal("client not closed on stop")
	}
	sup.mu.Lock()
	stops := sup.stopCalls
	sup.mu.Unlock()
	if stops == 0 {
		t.Fatal("supervisor not stopped")
	}

	// Stop again is harmless.
	p.Stop()
}

func TestPollerStartsOnWizardCompletion(t *testing.T) {
	conn := &fakeConn{vars: upsVars()}
	p, cfg, hub, _ := newTestPoller(t, conn, nil)
	states := watchStates(hub)
	cfg.Subscribe(p.HandleConfigUpdated)
	defer p.Stop()

	done := true
	if _, err := cfg.Update(config.Patch{Wizard: &config.WizardPatch{Completed: &done}}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	waitForState(t, states, StateReady)
}

func TestReconnectDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, c := range cases {
		if got := reconnectDelay(c.attempt); got != c.want {
			t.Errorf("reconnectDelay(%d) = %s, want %s", c.attempt, got, c.want)
		}
	}
}

func TestClampInterval(t *testing.T) {
	cases := []struct {
		ms   int
		want time.Duration
	}{
		{2000, 2 * time.Second},
		{500, 500 * time.Millisecond},
		{60000, 60 * time.Second},
		{499, 500 * time.Millisecond},
		{60001, 60 * time.Second},
		{0, 2 * time.Second},
		{-5, 2 * time.Second},
	}
	for _, c := range cases {
		if got := clampInterval(c.ms); got != c.want {
			t.Errorf("clampInterval(%d) = %s, want %s", c.ms, got, c.want)
		}
	}
}
