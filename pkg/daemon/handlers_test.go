package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nutmon/nutmon/pkg/config"
	"github.com/nutmon/nutmon/pkg/events"
	"github.com/nutmon/nutmon/pkg/telemetry"
)

func newTestRouter(t *testing.T) (*gin.Engine, *telemetry.Store) {
	t.Helper()
	cfg := newTestConfigStore(t)
	store, err := telemetry.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	hub := events.NewHub()
	adapter := &fakeAdapter{}
	d := &Daemon{
		cfg:    cfg,
		store:  store,
		hub:    hub,
		os:     adapter,
		poller: NewPoller(cfg, store, hub, &fakeChildManager{}, PollerOptions{Dial: func(config.NUTConfig) (nutConn, error) { return &fakeConn{vars: upsVars()}, nil }}),
		safety: NewSafety(cfg, adapter),
		line:   NewLineAlert(cfg, adapter),
	}
	return d.setupRoutes(), store
}

func getJSON(t *testing.T, router *gin.Engine, url string, out any) int {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	router.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("unmarshal %s: %v\nbody: %s", url, err, w.Body.String())
		}
	}
	return w.Code
}

func TestTelemetryRangeMaxPointsQuery(t *testing.T) {
	router, store := newTestRouter(t)

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	v := 80.0
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		if err := store.InsertPoint(ts, map[string]*float64{"battery_charge_pct": &v}); err != nil {
			t.Fatalf("InsertPoint: %v", err)
		}
	}
	window := fmt.Sprintf("start=%s&end=%s",
		base.Format(time.RFC3339), base.Add(time.Minute).Format(time.RFC3339))

	// maxPoints=0 clamps to 1 and keeps only the last row.
	var pts []telemetry.Point
	if code := getJSON(t, router, "/telemetry/range?"+window+"&maxPoints=0", &pts); code != http.StatusOK {
		t.Fatalf("maxPoints=0: status %d", code)
	}
	if len(pts) != 1 {
		t.Fatalf("maxPoints=0 returned %d rows, want 1", len(pts))
	}
	if want := base.Add(4 * time.Second); !pts[0].TS.Equal(want) {
		t.Fatalf("maxPoints=0 row = %v, want last row %v", pts[0].TS, want)
	}

	// An absent maxPoints keeps the default budget.
	pts = nil
	if code := getJSON(t, router, "/telemetry/range?"+window, &pts); code != http.StatusOK {
		t.Fatalf("default budget: status %d", code)
	}
	if len(pts) != 5 {
		t.Fatalf("default budget returned %d rows, want all 5", len(pts))
	}

	// Garbage stays a 400.
	if code := getJSON(t, router, "/telemetry/range?"+window+"&maxPoints=many", nil); code != http.StatusBadRequest {
		t.Fatalf("maxPoints=many: status %d, want 400", code)
	}
}
