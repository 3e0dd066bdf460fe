package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nutmon/nutmon/pkg/config"
	"github.com/nutmon/nutmon/pkg/events"
	"github.com/nutmon/nutmon/pkg/nut"
	"github.com/nutmon/nutmon/pkg/telemetry"
)

// Connection states.
const (
	StateIdle         = "idle"
	StateConnecting   = "connecting"
	StateInitializing = "initializing"
	StateReady        = "ready"
	StateDegraded     = "degraded"
	StateReconnecting = "reconnecting"
)

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// nutConn is the client surface the poller depends on; tests substitute
// fakes for the real nut.Client.
type nutConn interface {
	nut.Lister
	GetVariables(ups string, names []string) (map[string]string, error)
	Close() error
}

// DialFunc opens a NUT connection for the given settings.
type DialFunc func(cfg config.NUTConfig) (nutConn, error)

func defaultDial(cfg config.NUTConfig) (nutConn, error) {
	return nut.Connect(nut.ConnectOptions{
		Host:     cfg.Host,
		Port:     cfg.Port,
		UPSName:  cfg.UPSName,
		Username: cfg.Username,
		Password: cfg.Password,
	})
}

// childManager is the supervisor surface the poller uses.
type childManager interface {
	EnsureRunning(cfg config.Config) error
	Stop(cfg config.Config, force bool)
}

// Poller owns the NUT client and drives the connect → discover → poll →
// persist cycle, reconnecting with exponential backoff on any failure.
type Poller struct {
	cfg   *config.Store
	store *telemetry.Store
	hub   *events.Hub
	sup   childManager

	dial        DialFunc
	sampleDelay time.Duration

	mu               sync.Mutex
	started          bool
	state            string
	client           nutConn
	caps             *nut.DiscoveryResult
	snapshot         map[string]string
	pollTimer        *time.Timer
	reconnectTimer   *time.Timer
	reconnectAttempt int
	pollInFlight     bool
}

// PollerOptions carry the injectable pieces; zero values select the
// real implementations.
type PollerOptions struct {
	Dial        DialFunc
	SampleDelay time.Duration
}

func NewPoller(cfg *config.Store, store *telemetry.Store, hub *events.Hub, sup childManager, opts PollerOptions) *Poller {
	p := &Poller{
		cfg:         cfg,
		store:       store,
		hub:         hub,
		sup:         sup,
		dial:        opts.Dial,
		sampleDelay: opts.SampleDelay,
		state:       StateIdle,
	}
	if p.dial == nil {
		p.dial = defaultDial
	}
	return p
}

// State returns the current connection state.
func (p *Poller) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// StaticData returns the current raw snapshot restricted to static
// fields, or nil before discovery has run.
func (p *Poller) StaticData() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.caps == nil {
		return nil
	}
	out := make(map[string]string, len(p.caps.Static))
	for _, name := range p.caps.Static {
		if v, ok := p.snapshot[name]; ok {
			out[name] = v
		}
	}
	return out
}

// Start launches the connect cycle. Calling it again is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.connectAndInitialize()
}

// Stop tears the poller down: timers cleared, client closed, managed
// children terminated, state back to idle. In-flight polls observe the
// stop and abort without emitting.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.started = false
	p.clearTimersLocked()
	client := p.client
	p.client = nil
	p.reconnectAttempt = 0
	p.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	p.sup.Stop(p.cfg.Get(), false)
	p.setState(StateIdle)
}

// connectAndInitialize runs one full connect → discover → persist pass
// and arms the poll timer on success.
func (p *Poller) connectAndInitialize() {
	cfg := p.cfg.Get()
	p.setState(StateConnecting)

	if err := p.sup.EnsureRunning(cfg); err != nil {
		p.handleConnectionFailure(err)
		return
	}

	client, err := p.dial(cfg.NUT)
	if err != nil {
		p.handleConnectionFailure(err)
		return
	}

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		_ = client.Close()
		return
	}
	p.client = client
	p.mu.Unlock()

	p.setState(StateInitializing)

	caps, err := nut.Discover(context.Background(), client, cfg.NUT.UPSName, nut.DiscoveryOptions{SampleDelay: p.sampleDelay})
	if err != nil {
		p.handleConnectionFailure(err)
		return
	}

	snapshot := make(map[string]string, len(caps.StaticSnapshot)+len(caps.InitialDynamicSnapshot))
	for k, v := range caps.StaticSnapshot {
		snapshot[k] = v
	}
	for k, v := range caps.InitialDynamicSnapshot {
		snapshot[k] = v
	}

	p.mu.Lock()
	p.caps = caps
	p.snapshot = snapshot
	p.mu.Unlock()

	p.emitStaticData()

	now := time.Now()
	values, err := p.store.InsertFromSnapshot(now, caps.InitialDynamicSnapshot, cfg.NUT.Mapping)
	if err != nil {
		p.handleConnectionFailure(err)
		return
	}
	p.emitTelemetry(now, values)

	p.mu.Lock()
	p.reconnectAttempt = 0
	p.mu.Unlock()

	p.setState(StateReady)
	p.armPollTimer(cfg.Polling.IntervalMs)

	logrus.WithFields(logrus.Fields{
		"ups":       cfg.NUT.UPSName,
		"available": len(caps.Available),
		"dynamic":   len(caps.Dynamic),
	}).Info("ups connection established")
}

// pollTick fetches the available variable set, refreshes the combined
// snapshot, and persists the dynamic subset. Static fields are
// deliberately overwritten too, so nominal changes (say, after a UPS
// firmware update) are absorbed instead of pinned to the first sample.
func (p *Poller) pollTick() {
	p.mu.Lock()
	// A fired timer cannot be recalled, so a tick may race a teardown
	// that already nilled the client.
	if !p.started || p.pollInFlight || p.caps == nil || p.client == nil {
		p.mu.Unlock()
		return
	}
	p.pollInFlight = true
	client := p.client
	caps := p.caps
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.pollInFlight = false
		p.mu.Unlock()
	}()

	cfg := p.cfg.Get()

	fresh, err := client.GetVariables(cfg.NUT.UPSName, caps.Available)
	if err != nil {
		p.handleConnectionFailure(err)
		return
	}

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	for k, v := range fresh {
		p.snapshot[k] = v
	}
	p.mu.Unlock()

	p.emitStaticData()

	dynamic := make(map[string]string, len(caps.Dynamic))
	for _, name := range caps.Dynamic {
		if v, ok := fresh[name]; ok {
			dynamic[name] = v
		}
	}

	now := time.Now()
	values, err := p.store.InsertFromSnapshot(now, dynamic, cfg.NUT.Mapping)
	if err != nil {
		p.handleConnectionFailure(err)
		return
	}
	p.emitTelemetry(now, values)

	p.armPollTimer(cfg.Polling.IntervalMs)
}

// handleConnectionFailure closes the client, degrades, and schedules a
// reconnect. The poller never gives up; backoff is capped at 30s.
func (p *Poller) handleConnectionFailure(err error) {
	p.mu.Lock()
	if p.pollTimer != nil {
		p.pollTimer.Stop()
		p.pollTimer = nil
	}
	client := p.client
	p.client = nil
	started := p.started
	p.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	if !started {
		return
	}

	logrus.Warnf("ups connection failure: %v", err)
	p.setState(StateDegraded)
	p.scheduleReconnect()
}

func (p *Poller) scheduleReconnect() {
	p.mu.Lock()
	if !p.started || p.reconnectTimer != nil {
		p.mu.Unlock()
		return
	}
	delay := reconnectDelay(p.reconnectAttempt)
	p.reconnectAttempt++
	p.reconnectTimer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		p.reconnectTimer = nil
		started := p.started
		p.mu.Unlock()
		if started {
			p.connectAndInitialize()
		}
	})
	p.mu.Unlock()

	logrus.Infof("reconnecting in %s", delay)
	p.setState(StateReconnecting)
}

// reconnectDelay doubles per attempt from 1s up to the 30s cap.
func reconnectDelay(attempt int) time.Duration {
	d := reconnectBaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= reconnectMaxDelay {
			return reconnectMaxDelay
		}
	}
	return d
}

// HandleConfigUpdated reacts to settings changes: wizard completion
// starts the poller, connection-affecting changes force a reconnect,
// and a bare interval change just re-arms the poll timer.
func (p *Poller) HandleConfigUpdated(prev, next config.Config) {
	p.mu.Lock()
	started := p.started
	state := p.state
	p.mu.Unlock()

	if !prev.Wizard.Completed && next.Wizard.Completed && !started {
		p.Start()
		return
	}
	if !started {
		return
	}

	if config.ConnectionFieldsChanged(prev, next) {
		p.ReconnectNow()
		return
	}

	if prev.Polling.IntervalMs != next.Polling.IntervalMs && state == StateReady {
		p.armPollTimer(next.Polling.IntervalMs)
	}
}

// ReconnectNow tears down the current connection and managed children,
// resets backoff, and immediately re-enters the connect cycle.
func (p *Poller) ReconnectNow() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.clearTimersLocked()
	client := p.client
	p.client = nil
	p.reconnectAttempt = 0
	p.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	p.sup.Stop(p.cfg.Get(), true)

	p.setState(StateReconnecting)
	go p.connectAndInitialize()
}

func (p *Poller) armPollTimer(intervalMs int) {
	interval := clampInterval(intervalMs)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	if p.pollTimer != nil {
		p.pollTimer.Stop()
	}
	p.pollTimer = time.AfterFunc(interval, p.pollTick)
}

// clampInterval bounds the poll interval to [500ms, 60s]; nonsense
// values fall back to 2s.
func clampInterval(ms int) time.Duration {
	switch {
	case ms < 500 || ms > 60000:
		if ms <= 0 {
			return 2 * time.Second
		}
		if ms < 500 {
			return 500 * time.Millisecond
		}
		return 60 * time.Second
	default:
		return time.Duration(ms) * time.Millisecond
	}
}

func (p *Poller) clearTimersLocked() {
	if p.pollTimer != nil {
		p.pollTimer.Stop()
		p.pollTimer = nil
	}
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
		p.reconnectTimer = nil
	}
}

func (p *Poller) setState(state string) {
	p.mu.Lock()
	if p.state == state {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.mu.Unlock()

	logrus.WithField("state", state).Debug("connection state changed")
	p.hub.Publish(events.ConnectionStateChanged, events.ConnectionStatePayload{State: state})
}

func (p *Poller) emitStaticData() {
	p.hub.Publish(events.UPSStaticData, events.StaticDataPayload{Variables: p.StaticData()})
}

func (p *Poller) emitTelemetry(ts time.Time, values map[string]*float64) {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return
	}
	p.hub.Publish(events.UPSTelemetryUpdated, events.TelemetryPayload{
		TS:     ts.UTC().Format(time.RFC3339Nano),
		Values: values,
	})
}
