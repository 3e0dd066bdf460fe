// Package telemetry persists derived UPS readings as a time series in
// an embedded SQLite database: one row per poll, one REAL column per
// metric, keyed by timestamp.
package telemetry

import (
	"math"
	"strconv"
	"strings"
)

// Columns is the fixed, ordered set of telemetry series.
var Columns = []string{
	"battery_voltage",
	"battery_charge_pct",
	"battery_current",
	"battery_temperature",
	"battery_runtime_sec",
	"input_voltage",
	"input_frequency_hz",
	"input_current",
	"output_voltage",
	"output_frequency_hz",
	"output_current",
	"ups_apparent_power_pct",
	"ups_apparent_power_va",
	"ups_realpower_watts",
	"ups_load_pct",
	"ups_temperature",
	"ups_status_num",
}

// DefaultMapping maps each telemetry column to the NUT variable it is
// derived from. Config-supplied mappings override entries per column.
var DefaultMapping = map[string]string{
	"battery_voltage":        "battery.voltage",
	"battery_charge_pct":     "battery.charge",
	"battery_current":        "battery.current",
	"battery_temperature":    "battery.temperature",
	"battery_runtime_sec":    "battery.runtime",
	"input_voltage":          "input.voltage",
	"input_frequency_hz":     "input.frequency",
	"input_current":          "input.current",
	"output_voltage":         "output.voltage",
	"output_frequency_hz":    "output.frequency",
	"output_current":         "output.current",
	"ups_apparent_power_pct": "ups.power.percent",
	"ups_apparent_power_va":  "ups.power",
	"ups_realpower_watts":    "ups.realpower",
	"ups_load_pct":           "ups.load",
	"ups_temperature":        "ups.temperature",
	"ups_status_num":         "ups.status",
}

// IsColumn reports whether name is a known telemetry column.
func IsColumn(name string) bool {
	for _, c := range Columns {
		if c == name {
			return true
		}
	}
	return false
}

// EffectiveMapping overlays custom on top of the default mapping.
// Unknown columns in custom are ignored.
func EffectiveMapping(custom map[string]string) map[string]string {
	m := make(map[string]string, len(DefaultMapping))
	for col, field := range DefaultMapping {
		m[col] = field
	}
	for col, field := range custom {
		if IsColumn(col) && field != "" {
			m[col] = field
		}
	}
	return m
}

// ParseNumber extracts the leading signed decimal number from a raw NUT
// value like "230.1 V". Unparseable or non-finite values yield ok=false.
func ParseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}

	end := 0
	if s[end] == '+' || s[end] == '-' {
		end++
	}
	digits := false
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
		digits = true
	}
	if end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
			digits = true
		}
	}
	if !digits {
		return 0, false
	}

	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseStatus maps a ups.status string to a numeric series value:
// on-line (OL...) is 1, on-battery (OB...) is 0, anything else is
// unknown.
func ParseStatus(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "OL"):
		return 1, true
	case strings.HasPrefix(s, "OB"):
		return 0, true
	}
	return 0, false
}

// MapSnapshot derives telemetry values from a raw variable snapshot.
// Only columns whose mapped variable is present in the snapshot appear
// in the result; a present but unparseable value maps to an explicit
// nil, never 0.
func MapSnapshot(raw map[string]string, custom map[string]string) map[string]*float64 {
	mapping := EffectiveMapping(custom)
	values := make(map[string]*float64)
	for _, col := range Columns {
		rawVal, ok := raw[mapping[col]]
		if !ok {
			continue
		}
		var v float64
		var parsed bool
		if col == "ups_status_num" {
			v, parsed = ParseStatus(rawVal)
		} else {
			v, parsed = ParseNumber(rawVal)
		}
		if parsed {
			val := v
			values[col] = &val
		} else {
			values[col] = nil
		}
	}
	return values
}
