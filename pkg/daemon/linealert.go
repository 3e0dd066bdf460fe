package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nutmon/nutmon/pkg/config"
	"github.com/nutmon/nutmon/pkg/osadapter"
)

// lineMetric labels for alert messages.
var lineMetricLabels = map[string]string{
	"input_voltage":       "Input voltage",
	"output_voltage":      "Output voltage",
	"input_frequency_hz":  "Input frequency",
	"output_frequency_hz": "Output frequency",
}

// LineAlert fires a toast when input or output voltage/frequency drifts
// outside the configured tolerance band, rate-limited per metric.
type LineAlert struct {
	cfg *config.Store
	os  osadapter.Adapter

	now func() time.Time

	mu        sync.Mutex
	lastAlert map[string]time.Time
}

func NewLineAlert(cfg *config.Store, adapter osadapter.Adapter) *LineAlert {
	return &LineAlert{
		cfg:       cfg,
		os:        adapter,
		now:       time.Now,
		lastAlert: make(map[string]time.Time),
	}
}

// HandleTelemetry checks the four line metrics against their bands.
func (l *LineAlert) HandleTelemetry(values map[string]*float64) {
	cfg := l.cfg.Get()
	if !cfg.Line.AlertsEnabled {
		return
	}

	nominals := map[string]float64{
		"input_voltage":       cfg.Line.NominalInputVoltage,
		"output_voltage":      cfg.Line.NominalOutputVoltage,
		"input_frequency_hz":  cfg.Line.NominalInputFrequency,
		"output_frequency_hz": cfg.Line.NominalOutputFrequency,
	}
	cooldown := time.Duration(cfg.Line.CooldownMinutes) * time.Minute

	for metric, nominal := range nominals {
		v, ok := values[metric]
		if !ok || v == nil || nominal <= 0 {
			continue
		}
		high := nominal * (1 + cfg.Line.TolerancePositivePct/100)
		low := nominal * (1 - cfg.Line.ToleranceNegativePct/100)
		if *v >= low && *v <= high {
			continue
		}
		l.alert(metric, *v, low, high, cooldown)
	}
}

func (l *LineAlert) alert(metric string, v, low, high float64, cooldown time.Duration) {
	now := l.now()

	l.mu.Lock()
	if last, ok := l.lastAlert[metric]; ok && now.Sub(last) < cooldown {
		l.mu.Unlock()
		return
	}
	l.lastAlert[metric] = now
	l.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"metric": metric,
		"value":  v,
		"low":    low,
		"high":   high,
	}).Warn("line quality out of tolerance")

	body := fmt.Sprintf("%s is %.1f, outside the %.1f to %.1f band.", lineMetricLabels[metric], v, low, high)
	if err := l.os.ShowToast("UPS line quality", body); err != nil {
		logrus.Debugf("toast failed: %v", err)
	}
}

// HandleConfigUpdated clears the cooldown map when alerts are switched
// off, so the next violation after re-enabling fires immediately.
func (l *LineAlert) HandleConfigUpdated(prev, next config.Config) {
	if prev.Line.AlertsEnabled && !next.Line.AlertsEnabled {
		l.mu.Lock()
		l.lastAlert = make(map[string]time.Time)
		l.mu.Unlock()
	}
}
