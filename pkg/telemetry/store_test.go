package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/nutmon/nutmon/pkg/errkind"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func f(v float64) *float64 { return &v }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestInsertAndLatest(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertPoint(t0, map[string]*float64{"battery_charge_pct": f(97), "input_voltage": f(230.1)}); err != nil {
		t.Fatalf("InsertPoint: %v", err)
	}
	if err := s.InsertPoint(t0.Add(time.Second), map[string]*float64{"battery_charge_pct": f(96)}); err != nil {
		t.Fatalf("InsertPoint: %v", err)
	}

	p, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if p == nil {
		t.Fatal("Latest returned nil")
	}
	if !p.TS.Equal(t0.Add(time.Second)) {
		t.Errorf("latest ts = %v", p.TS)
	}
	if v := p.Values["battery_charge_pct"]; v == nil || *v != 96 {
		t.Errorf("battery_charge_pct = %v", v)
	}
	// input_voltage was not assigned in the latest row: must be NULL.
	if v := p.Values["input_voltage"]; v != nil {
		t.Errorf("input_voltage = %v, want nil", *v)
	}
}

func TestLatestOnEmptyStore(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if p != nil {
		t.Errorf("Latest on empty store = %+v", p)
	}
}

func TestDuplicateTimestampUpserts(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertPoint(t0, map[string]*float64{"battery_charge_pct": f(50)}); err != nil {
		t.Fatalf("InsertPoint: %v", err)
	}
	if err := s.InsertPoint(t0, map[string]*float64{"battery_charge_pct": f(51)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	pts, err := s.QueryRange(RangeQuery{Start: t0.Add(-time.Hour).Format(time.RFC3339), End: t0.Add(time.Hour).Format(time.RFC3339), MaxPoints: DefaultMaxPoints})
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(pts) != 1 {
		t.Fatalf("got %d rows, want 1 (ts must stay unique)", len(pts))
	}
	if v := pts[0].Values["battery_charge_pct"]; v == nil || *v != 51 {
		t.Errorf("battery_charge_pct = %v, want upserted 51", v)
	}
}

func TestInsertFromSnapshot(t *testing.T) {
	s := newTestStore(t)

	raw := map[string]string{
		"battery.charge": "97",
		"battery.volt":   "24.2",
		"ups.status":     "OB DISCHRG",
		"input.voltage":  "not-a-number",
	}
	assigned, err := s.InsertFromSnapshot(t0, raw, map[string]string{"battery_voltage": "battery.volt"})
	if err != nil {
		t.Fatalf("InsertFromSnapshot: %v", err)
	}

	if v := assigned["battery_voltage"]; v == nil || *v != 24.2 {
		t.Errorf("battery_voltage = %v, want 24.2 via custom mapping", v)
	}
	if v := assigned["ups_status_num"]; v == nil || *v != 0 {
		t.Errorf("ups_status_num = %v, want 0 for OB", v)
	}
	if v, ok := assigned["input_voltage"]; !ok || v != nil {
		t.Errorf("input_voltage = (%v, %v), want assigned nil", v, ok)
	}
	if _, ok := assigned["output_voltage"]; ok {
		t.Error("output_voltage assigned despite missing variable")
	}
}

func TestQueryRangeValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.QueryRange(RangeQuery{Start: "yesterday", End: t0.Format(time.RFC3339)})
	if !errkind.Is(err, errkind.InvalidArgument) {
		t.Errorf("bad start: kind = %v, want InvalidArgument", errkind.KindOf(err))
	}
	_, err = s.QueryRange(RangeQuery{Start: t0.Format(time.RFC3339), End: ""})
	if !errkind.Is(err, errkind.InvalidArgument) {
		t.Errorf("empty end: kind = %v, want InvalidArgument", errkind.KindOf(err))
	}
	_, err = s.QueryRange(RangeQuery{Start: t0.Format(time.RFC3339), End: t0.Format(time.RFC3339), Columns: []string{"no_such_column"}})
	if !errkind.Is(err, errkind.InvalidArgument) {
		t.Errorf("bad column: kind = %v, want InvalidArgument", errkind.KindOf(err))
	}
}

func insertSeries(t *testing.T, s *Store, n int, step time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		ts := t0.Add(time.Duration(i) * step)
		if err := s.InsertPoint(ts, map[string]*float64{"battery_charge_pct": f(float64(i))}); err != nil {
			t.Fatalf("InsertPoint %d: %v", i, err)
		}
	}
}

func TestQueryRangeDownsample(t *testing.T) {
	s := newTestStore(t)
	insertSeries(t, s, 1200, time.Second)

	pts, err := s.QueryRange(RangeQuery{
		Start:     t0.Format(time.RFC3339),
		End:       t0.Add(2 * time.Hour).Format(time.RFC3339),
		MaxPoints: 300,
	})
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(pts) != 300 {
		t.Fatalf("got %d points, want 300", len(pts))
	}
	// Strictly increasing, endpoints preserved.
	for i := 1; i < len(pts); i++ {
		if !pts[i].TS.After(pts[i-1].TS) {
			t.Fatalf("ts not strictly increasing at %d: %v then %v", i, pts[i-1].TS, pts[i].TS)
		}
	}
	if !pts[0].TS.Equal(t0) {
		t.Errorf("first point = %v, want %v", pts[0].TS, t0)
	}
	if want := t0.Add(1199 * time.Second); !pts[len(pts)-1].TS.Equal(want) {
		t.Errorf("last point = %v, want %v", pts[len(pts)-1].TS, want)
	}
}

func TestQueryRangeMaxPointsClamping(t *testing.T) {
	s := newTestStore(t)
	insertSeries(t, s, 10, time.Second)

	// maxPoints below 1, including an explicit 0, clamps to 1 and
	// returns only the last row.
	for _, mp := range []int{0, -1} {
		pts, err := s.QueryRange(RangeQuery{
			Start:     t0.Format(time.RFC3339),
			End:       t0.Add(time.Hour).Format(time.RFC3339),
			MaxPoints: mp,
		})
		if err != nil {
			t.Fatalf("QueryRange(maxPoints=%d): %v", mp, err)
		}
		if len(pts) != 1 {
			t.Fatalf("maxPoints=%d: got %d points, want 1", mp, len(pts))
		}
		if want := t0.Add(9 * time.Second); !pts[0].TS.Equal(want) {
			t.Errorf("maxPoints=%d: single point = %v, want last row %v", mp, pts[0].TS, want)
		}
	}

	// Oversized budgets clamp to the cap; with fewer rows than the cap the
	// full set comes back.
	pts, err := s.QueryRange(RangeQuery{
		Start:     t0.Format(time.RFC3339),
		End:       t0.Add(time.Hour).Format(time.RFC3339),
		MaxPoints: 9999,
	})
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(pts) != 10 {
		t.Errorf("got %d points, want all 10", len(pts))
	}
}

func TestDownsampleStride(t *testing.T) {
	pts := make([]Point, 5)
	for i := range pts {
		pts[i] = Point{TS: t0.Add(time.Duration(i) * time.Second)}
	}
	out := Downsample(pts, 3)
	if len(out) != 3 {
		t.Fatalf("got %d, want 3", len(out))
	}
	// round(i*(5-1)/(3-1)) for i in 0..2 -> rows 0, 2, 4.
	for i, wantIdx := range []int{0, 2, 4} {
		if !out[i].TS.Equal(pts[wantIdx].TS) {
			t.Errorf("out[%d] = %v, want row %d", i, out[i].TS, wantIdx)
		}
	}
}

func TestMinMaxForRange(t *testing.T) {
	s := newTestStore(t)
	for i, charge := range []float64{80, 60, 95} {
		ts := t0.Add(time.Duration(i) * time.Minute)
		if err := s.InsertPoint(ts, map[string]*float64{"battery_charge_pct": f(charge)}); err != nil {
			t.Fatalf("InsertPoint: %v", err)
		}
	}

	mm, err := s.MinMaxForRange(t0.Format(time.RFC3339), t0.Add(time.Hour).Format(time.RFC3339))
	if err != nil {
		t.Fatalf("MinMaxForRange: %v", err)
	}
	charge := mm["battery_charge_pct"]
	if charge.Min == nil || *charge.Min != 60 {
		t.Errorf("min = %v, want 60", charge.Min)
	}
	if charge.Max == nil || *charge.Max != 95 {
		t.Errorf("max = %v, want 95", charge.Max)
	}
	// A column with no data reports nil extremes.
	volt := mm["output_voltage"]
	if volt.Min != nil || volt.Max != nil {
		t.Errorf("output_voltage extremes = %+v, want nils", volt)
	}
}

func TestDeleteOlderThanIdempotent(t *testing.T) {
	s := newTestStore(t)
	insertSeries(t, s, 10, time.Minute)

	cutoff := t0.Add(5 * time.Minute)
	n, err := s.DeleteOlderThan(cutoff)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if n != 5 {
		t.Errorf("deleted %d rows, want 5", n)
	}

	n, err = s.DeleteOlderThan(cutoff)
	if err != nil {
		t.Fatalf("second DeleteOlderThan: %v", err)
	}
	if n != 0 {
		t.Errorf("second delete removed %d rows, want 0", n)
	}
}

func TestSchemaMigrationIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	// Running migrate again must not fail or drop data.
	if err := s.InsertPoint(t0, map[string]*float64{"ups_load_pct": f(8)}); err != nil {
		t.Fatalf("InsertPoint: %v", err)
	}
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	p, err := s.Latest()
	if err != nil || p == nil {
		t.Fatalf("Latest after re-migrate: %v %v", p, err)
	}
	if v := p.Values["ups_load_pct"]; v == nil || *v != 8 {
		t.Errorf("ups_load_pct = %v after re-migrate", v)
	}
}

func TestTimestampsPortableAndOrdered(t *testing.T) {
	s := newTestStore(t)
	// Interleave insert order; query must come back ascending.
	for _, i := range []int{3, 0, 2, 1} {
		ts := t0.Add(time.Duration(i) * time.Second)
		if err := s.InsertPoint(ts, map[string]*float64{"battery_charge_pct": f(float64(i))}); err != nil {
			t.Fatalf("InsertPoint: %v", err)
		}
	}
	pts, err := s.QueryRange(RangeQuery{Start: t0.Format(time.RFC3339), End: t0.Add(time.Minute).Format(time.RFC3339), MaxPoints: DefaultMaxPoints})
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	for i := range pts {
		want := t0.Add(time.Duration(i) * time.Second)
		if !pts[i].TS.Equal(want) {
			t.Fatalf("row %d ts = %v, want %v", i, pts[i].TS, want)
		}
	}
}

func TestOpenOnDiskCreatesDataDir(t *testing.T) {
	dir := t.TempDir()
	path := fmt.Sprintf("%s/data/ups_telemetry.db", dir)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.InsertPoint(t0, map[string]*float64{"battery_charge_pct": f(1)}); err != nil {
		t.Fatalf("InsertPoint: %v", err)
	}
}
