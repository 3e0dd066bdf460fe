package daemon

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/nutmon/nutmon/pkg/config"
	"github.com/nutmon/nutmon/pkg/telemetry"
)

const retentionSchedule = "@every 24h"

// Retention prunes telemetry rows older than the configured retention
// window: one sweep at startup, then daily.
type Retention struct {
	cfg   *config.Store
	store *telemetry.Store

	cron *cron.Cron
	now  func() time.Time
}

func NewRetention(cfg *config.Store, store *telemetry.Store) *Retention {
	return &Retention{
		cfg:   cfg,
		store: store,
		cron:  cron.New(),
		now:   time.Now,
	}
}

// Start runs the first sweep immediately and schedules the daily one.
// Calling Start twice is harmless.
func (r *Retention) Start() error {
	r.Sweep()
	if len(r.cron.Entries()) == 0 {
		if _, err := r.cron.AddFunc(retentionSchedule, r.Sweep); err != nil {
			return err
		}
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule; a sweep already running completes.
func (r *Retention) Stop() {
	r.cron.Stop()
}

// Sweep deletes everything older than retentionDays.
func (r *Retention) Sweep() {
	days := clampRetentionDays(r.cfg.Get().Data.RetentionDays)
	cutoff := r.now().Add(-time.Duration(days) * 24 * time.Hour)

	deleted, err := r.store.DeleteOlderThan(cutoff)
	if err != nil {
		logrus.Warnf("retention sweep failed: %v", err)
		return
	}
	if deleted > 0 {
		logrus.WithFields(logrus.Fields{
			"deleted":       deleted,
			"retentionDays": days,
		}).Info("pruned old telemetry")
	}
}

// clampRetentionDays bounds the window to [1, 3650] days, defaulting to
// 30 for nonsense values.
func clampRetentionDays(days int) int {
	switch {
	case days < 1:
		return 30
	case days > 3650:
		return 3650
	default:
		return days
	}
}
