package daemon

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nutmon/nutmon/pkg/config"
	"github.com/nutmon/nutmon/pkg/osadapter"
)

// hysteresisMargin is added to warningPct to form the recovery
// threshold above which the latches reset.
const hysteresisMargin = 5

// Safety watches the battery charge on every telemetry tick and drives
// warnings, the shutdown countdown, and the actual shutdown dispatch.
// All crossings are edge-triggered and latch until hysteresis recovery.
type Safety struct {
	cfg *config.Store
	os  osadapter.Adapter

	// afterFunc is time.AfterFunc; tests shrink countdowns through it.
	afterFunc func(time.Duration, func()) *time.Timer

	mu                sync.Mutex
	prev              *float64
	warned            bool
	shutdownWarned    bool
	shutdownScheduled bool
	activeMethod      string
	countdown         *time.Timer
}

func NewSafety(cfg *config.Store, adapter osadapter.Adapter) *Safety {
	return &Safety{
		cfg:       cfg,
		os:        adapter,
		afterFunc: time.AfterFunc,
	}
}

// HandleTelemetry processes one tick's derived values.
func (s *Safety) HandleTelemetry(values map[string]*float64) {
	raw, ok := values["battery_charge_pct"]
	if !ok || raw == nil || math.IsNaN(*raw) || math.IsInf(*raw, 0) {
		return
	}
	bp := math.Round(math.Min(100, math.Max(0, *raw)))

	cfg := s.cfg.Get()

	s.mu.Lock()
	prev := s.prev
	v := bp
	s.prev = &v

	warningEdge := !s.warned && crossedBelow(prev, bp, float64(cfg.Battery.WarningPct))
	criticalEdge := !s.shutdownWarned && crossedBelow(prev, bp, float64(cfg.Battery.ShutdownPct))
	recovered := bp > float64(cfg.Battery.WarningPct+hysteresisMargin)

	if warningEdge {
		s.warned = true
	}
	if criticalEdge {
		s.shutdownWarned = true
	}
	s.mu.Unlock()

	if recovered {
		s.recover()
		return
	}

	if warningEdge {
		logrus.WithField("batteryPct", bp).Warn("battery below warning threshold")
		if cfg.Battery.WarningToastEnabled {
			s.toast("UPS battery low", fmt.Sprintf("Battery at %.0f%%, below the %d%% warning threshold.", bp, cfg.Battery.WarningPct))
		}
	}

	if criticalEdge {
		logrus.WithField("batteryPct", bp).Error("battery below shutdown threshold")
		s.toast("UPS battery critical", fmt.Sprintf("Battery at %.0f%%, below the %d%% shutdown threshold.", bp, cfg.Battery.ShutdownPct))

		if !cfg.Battery.ShutdownEnabled {
			return
		}
		if cfg.Battery.CriticalShutdownAlertEnabled {
			s.startCountdown(time.Duration(cfg.Battery.ShutdownCountdownSeconds) * time.Second)
		} else {
			s.DispatchShutdown()
		}
	}
}

// crossedBelow reports an edge-triggered downward crossing of threshold
// t: true on the first sample at or below t, or when the previous
// sample was above it.
func crossedBelow(prev *float64, bp, t float64) bool {
	if bp > t {
		return false
	}
	return prev == nil || *prev > t
}

func (s *Safety) startCountdown(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countdown != nil {
		return
	}
	logrus.Infof("shutdown countdown started, %s remaining", d)
	s.countdown = s.afterFunc(d, func() {
		s.mu.Lock()
		s.countdown = nil
		s.mu.Unlock()
		s.DispatchShutdown()
	})
}

// cancelCountdown stops a pending countdown; returns whether one was
// pending.
func (s *Safety) cancelCountdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countdown == nil {
		return false
	}
	s.countdown.Stop()
	s.countdown = nil
	return true
}

// recover resets the latches once charge is safely above the warning
// threshold and undoes any shutdown that is still pending.
func (s *Safety) recover() {
	s.mu.Lock()
	hadState := s.warned || s.shutdownWarned || s.shutdownScheduled
	s.warned = false
	s.shutdownWarned = false
	scheduled := s.shutdownScheduled
	method := s.activeMethod
	s.shutdownScheduled = false
	s.activeMethod = ""
	s.mu.Unlock()

	s.cancelCountdown()

	if scheduled && method == config.MethodShutdown {
		if err := s.os.CancelShutdown(); err != nil {
			logrus.Warnf("failed to cancel scheduled shutdown: %v", err)
		}
	}
	if hadState {
		logrus.Info("battery recovered, safety latches reset")
	}
}

// DispatchShutdown invokes the configured shutdown method exactly once.
// A failure clears the guard so a later tick can retry.
func (s *Safety) DispatchShutdown() {
	cfg := s.cfg.Get()

	s.mu.Lock()
	if s.shutdownScheduled {
		s.mu.Unlock()
		return
	}
	s.shutdownScheduled = true
	s.activeMethod = cfg.Battery.ShutdownMethod
	s.mu.Unlock()

	logrus.WithField("method", cfg.Battery.ShutdownMethod).Warn("dispatching shutdown")

	var err error
	switch cfg.Battery.ShutdownMethod {
	case config.MethodShutdown:
		err = s.os.RequestShutdown()
	default:
		err = s.os.RequestSleep()
	}
	if err != nil {
		logrus.Errorf("shutdown dispatch failed: %v", err)
		s.mu.Lock()
		s.shutdownScheduled = false
		s.activeMethod = ""
		s.mu.Unlock()
	}
}

// HandleConfigUpdated cancels a pending shutdown when the user flips
// the shutdown switch off mid-countdown.
func (s *Safety) HandleConfigUpdated(prev, next config.Config) {
	if prev.Battery.ShutdownEnabled && !next.Battery.ShutdownEnabled {
		if s.cancelCountdown() {
			logrus.Info("shutdown countdown cancelled by settings change")
		}
		s.mu.Lock()
		scheduled := s.shutdownScheduled
		method := s.activeMethod
		s.shutdownScheduled = false
		s.activeMethod = ""
		s.mu.Unlock()
		if scheduled && method == config.MethodShutdown {
			if err := s.os.CancelShutdown(); err != nil {
				logrus.Warnf("failed to cancel scheduled shutdown: %v", err)
			}
		}
	}
}

// TriggerTest fires a synthetic critical notification so the user can
// verify alerts reach them.
func (s *Safety) TriggerTest() error {
	return s.os.ShowToast("UPS battery critical", "This is a test of the critical battery alert.")
}

func (s *Safety) toast(title, body string) {
	if err := s.os.ShowToast(title, body); err != nil {
		logrus.Debugf("toast failed: %v", err)
	}
}
