package nut

import (
	"context"
	"sort"
	"testing"
)

// seqLister returns one canned snapshot per ListVariables call.
type seqLister struct {
	snaps []map[string]string
	calls int
}

func (l *seqLister) ListVariables(string) (map[string]string, error) {
	s := l.snaps[l.calls]
	if l.calls < len(l.snaps)-1 {
		l.calls++
	}
	return s, nil
}

// Variable names below mirror a real CyberPower CP1500EPFCLCD exposure.
func TestDiscoverClassification(t *testing.T) {
	s1 := map[string]string{
		"device.model":          "CP1500EPFCLCD",
		"driver.name":           "usbhid-ups",
		"ups.model":             "CP1500EPFCLCD",
		"ups.mfr":               "CPS",
		"ups.serial":            "CRXKS2000211",
		"ups.firmware":          "CR01803B411",
		"input.voltage.nominal": "230",
		"battery.mfr.date":      "CPS",
		"battery.type":          "PbAcid",
		"battery.charge":        "100",
		"battery.voltage":       "24",
		"battery.runtime":       "4890",
		"input.voltage":         "241",
		"output.voltage":        "241",
		"ups.load":              "8",
		"ups.status":            "OL",
		"ups.timer.shutdown":    "-60",
		"ups.beeper.status":     "enabled",
		"ups.delay.shutdown":    "20",
	}
	s2 := map[string]string{}
	for k, v := range s1 {
		s2[k] = v
	}
	// ups.beeper.status is in neither list; a changed second sample must
	// push it to dynamic. ups.delay.shutdown stays put and stays static.
	s2["ups.beeper.status"] = "disabled"
	s2["input.voltage"] = "240"

	res, err := Discover(context.Background(), &seqLister{snaps: []map[string]string{s1, s2}}, "myups", DiscoveryOptions{SampleDelay: 1})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	wantStatic := []string{
		"battery.mfr.date", "battery.type", "device.model", "driver.name",
		"input.voltage.nominal", "ups.delay.shutdown", "ups.firmware",
		"ups.mfr", "ups.model", "ups.serial",
	}
	wantDynamic := []string{
		"battery.charge", "battery.runtime", "battery.voltage",
		"input.voltage", "output.voltage", "ups.beeper.status", "ups.load",
		"ups.status", "ups.timer.shutdown",
	}

	if got := res.Static; !equalStrings(got, wantStatic) {
		t.Errorf("static = %v, want %v", got, wantStatic)
	}
	if got := res.Dynamic; !equalStrings(got, wantDynamic) {
		t.Errorf("dynamic = %v, want %v", got, wantDynamic)
	}
}

func TestDiscoverPartitionInvariant(t *testing.T) {
	s1 := map[string]string{
		"ups.status":     "OL",
		"battery.charge": "100",
		"ups.model":      "X",
		"custom.field":   "1",
	}
	res, err := Discover(context.Background(), &seqLister{snaps: []map[string]string{s1, s1}}, "myups", DiscoveryOptions{SampleDelay: 1})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	union := append(append([]string{}, res.Static...), res.Dynamic...)
	sort.Strings(union)
	if !equalStrings(union, res.Available) {
		t.Errorf("static ∪ dynamic = %v, available = %v", union, res.Available)
	}
	seen := map[string]bool{}
	for _, n := range res.Static {
		seen[n] = true
	}
	for _, n := range res.Dynamic {
		if seen[n] {
			t.Errorf("%s is in both static and dynamic", n)
		}
	}
}

func TestDiscoverSnapshots(t *testing.T) {
	s1 := map[string]string{
		"ups.model":      "X",
		"battery.charge": "100",
	}
	s2 := map[string]string{
		"ups.model":      "X",
		"battery.charge": "99",
	}
	res, err := Discover(context.Background(), &seqLister{snaps: []map[string]string{s1, s2}}, "myups", DiscoveryOptions{SampleDelay: 1})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if got := res.StaticSnapshot["ups.model"]; got != "X" {
		t.Errorf("static snapshot ups.model = %q", got)
	}
	if _, ok := res.StaticSnapshot["battery.charge"]; ok {
		t.Error("battery.charge leaked into static snapshot")
	}
	// Dynamic snapshot comes from the second sample.
	if got := res.InitialDynamicSnapshot["battery.charge"]; got != "99" {
		t.Errorf("initial dynamic battery.charge = %q, want 99", got)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
