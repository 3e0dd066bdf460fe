package daemon

import (
	"testing"
	"time"

	"github.com/nutmon/nutmon/pkg/telemetry"
)

func TestClampRetentionDays(t *testing.T) {
	cases := []struct {
		days int
		want int
	}{
		{30, 30},
		{1, 1},
		{3650, 3650},
		{0, 30},
		{-1, 30},
		{4000, 3650},
	}
	for _, c := range cases {
		if got := clampRetentionDays(c.days); got != c.want {
			t.Errorf("clampRetentionDays(%d) = %d, want %d", c.days, got, c.want)
		}
	}
}

func TestRetentionSweepDeletesOldRows(t *testing.T) {
	cfgStore := newTestConfigStore(t)
	cfg := cfgStore.Get()
	cfg.Data.RetentionDays = 7
	if err := cfgStore.Set(cfg); err != nil {
		t.Fatalf("Set: %v", err)
	}

	store, err := telemetry.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer func() { _ = store.Close() }()

	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	v := 50.0
	old := now.Add(-8 * 24 * time.Hour)
	fresh := now.Add(-time.Hour)
	for _, ts := range []time.Time{old, fresh} {
		if err := store.InsertPoint(ts, map[string]*float64{"battery_charge_pct": &v}); err != nil {
			t.Fatalf("InsertPoint: %v", err)
		}
	}

	r := NewRetention(cfgStore, store)
	r.now = func() time.Time { return now }
	r.Sweep()

	points, err := store.QueryRange(telemetry.RangeQuery{
		Start:     now.Add(-30 * 24 * time.Hour).Format(time.RFC3339),
		End:       now.Format(time.RFC3339),
		MaxPoints: telemetry.DefaultMaxPoints,
	})
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("rows after sweep = %d, want 1", len(points))
	}
	if !points[0].TS.Equal(fresh) {
		t.Fatalf("surviving row ts = %s, want %s", points[0].TS, fresh)
	}
}

func TestRetentionStartRunsImmediateSweep(t *testing.T) {
	cfgStore := newTestConfigStore(t)
	store, err := telemetry.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer func() { _ = store.Close() }()

	v := 1.0
	stale := time.Now().Add(-365 * 24 * time.Hour)
	if err := store.InsertPoint(stale, map[string]*float64{"battery_charge_pct": &v}); err != nil {
		t.Fatalf("InsertPoint: %v", err)
	}

	r := NewRetention(cfgStore, store)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	p, err := store.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if p != nil {
		t.Fatal("stale row survived the startup sweep")
	}

	// A second Start must not double-register the schedule.
	if err := r.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if n := len(r.cron.Entries()); n != 1 {
		t.Fatalf("cron entries = %d, want 1", n)
	}
}
