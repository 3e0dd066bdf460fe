// Package config holds the daemon's validated settings: a single JSON
// file in the per-OS user data directory, mutated only through the
// Store so every consumer observes complete, validated snapshots.
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nutmon/nutmon/pkg/errkind"
)

// Shutdown methods.
const (
	MethodSleep    = "sleep"
	MethodShutdown = "shutdown"
)

// DebugLevels, ordered from silent to most verbose.
var DebugLevels = []string{"off", "error", "warn", "info", "debug", "trace"}

var upsNameRe = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Config is the full application configuration. Consumers treat
// returned values as immutable; all mutation goes through Store.Update.
type Config struct {
	NUT       NUTConfig       `json:"nut"`
	Polling   PollingConfig   `json:"polling"`
	Data      DataConfig      `json:"data"`
	Battery   BatteryConfig   `json:"battery"`
	Line      LineConfig      `json:"line"`
	Debug     DebugConfig     `json:"debug"`
	Theme     ThemeConfig     `json:"theme"`
	I18n      I18nConfig      `json:"i18n"`
	Dashboard DashboardConfig `json:"dashboard"`
	Wizard    WizardConfig    `json:"wizard"`
	Startup   StartupConfig   `json:"startup"`
}

// NUTConfig describes the server connection and the optional locally
// supervised NUT components.
type NUTConfig struct {
	Host                  string            `json:"host"`
	Port                  int               `json:"port"`
	Username              string            `json:"username,omitempty"`
	Password              string            `json:"password,omitempty"`
	UPSName               string            `json:"upsName"`
	Mapping               map[string]string `json:"mapping,omitempty"`
	LaunchLocalComponents bool              `json:"launchLocalComponents"`
	LocalNUTFolderPath    string            `json:"localNutFolderPath,omitempty"`
}

type PollingConfig struct {
	IntervalMs int `json:"intervalMs"`
}

type DataConfig struct {
	RetentionDays int `json:"retentionDays"`
}

type BatteryConfig struct {
	WarningPct                   int    `json:"warningPct"`
	ShutdownPct                  int    `json:"shutdownPct"`
	WarningToastEnabled          bool   `json:"warningToastEnabled"`
	ShutdownEnabled              bool   `json:"shutdownEnabled"`
	CriticalAlertEnabled         bool   `json:"criticalAlertEnabled"`
	CriticalShutdownAlertEnabled bool   `json:"criticalShutdownAlertEnabled"`
	ShutdownCountdownSeconds     int    `json:"shutdownCountdownSeconds"`
	ShutdownMethod               string `json:"shutdownMethod"`
}

// LineConfig configures the voltage/frequency tolerance-band alerts.
type LineConfig struct {
	AlertsEnabled          bool    `json:"alertsEnabled"`
	NominalInputVoltage    float64 `json:"nominalInputVoltage"`
	NominalOutputVoltage   float64 `json:"nominalOutputVoltage"`
	NominalInputFrequency  float64 `json:"nominalInputFrequency"`
	NominalOutputFrequency float64 `json:"nominalOutputFrequency"`
	TolerancePositivePct   float64 `json:"tolerancePositivePct"`
	ToleranceNegativePct   float64 `json:"toleranceNegativePct"`
	CooldownMinutes        int     `json:"cooldownMinutes"`
}

type DebugConfig struct {
	Level string `json:"level"`
}

type ThemeConfig struct {
	Mode string `json:"mode"`
}

type I18nConfig struct {
	Locale string `json:"locale"`
}

type DashboardConfig struct {
	Columns []string `json:"columns,omitempty"`
}

type WizardConfig struct {
	Completed bool `json:"completed"`
}

type StartupConfig struct {
	LaunchOnLogin bool `json:"launchOnLogin"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		NUT: NUTConfig{
			Host:    "127.0.0.1",
			Port:    3493,
			UPSName: "ups",
		},
		Polling: PollingConfig{IntervalMs: 2000},
		Data:    DataConfig{RetentionDays: 30},
		Battery: BatteryConfig{
			WarningPct:                   40,
			ShutdownPct:                  20,
			WarningToastEnabled:          true,
			ShutdownEnabled:              false,
			CriticalAlertEnabled:         true,
			CriticalShutdownAlertEnabled: true,
			ShutdownCountdownSeconds:     60,
			ShutdownMethod:               MethodSleep,
		},
		Line: LineConfig{
			AlertsEnabled:          false,
			NominalInputVoltage:    230,
			NominalOutputVoltage:   230,
			NominalInputFrequency:  50,
			NominalOutputFrequency: 50,
			TolerancePositivePct:   10,
			ToleranceNegativePct:   10,
			CooldownMinutes:        10,
		},
		Debug:   DebugConfig{Level: "info"},
		Theme:   ThemeConfig{Mode: "system"},
		I18n:    I18nConfig{Locale: "en"},
		Wizard:  WizardConfig{Completed: false},
		Startup: StartupConfig{LaunchOnLogin: false},
	}
}

// ValidDebugLevel reports whether level is a recognized debug level.
func ValidDebugLevel(level string) bool {
	for _, l := range DebugLevels {
		if level == l {
			return true
		}
	}
	return false
}

// Validate checks every field range plus the cross-field rule
// shutdownPct < warningPct. All violations are Validation errors.
func Validate(c Config) error {
	var problems []string

	if c.NUT.Host == "" {
		problems = append(problems, "nut.host must not be empty")
	}
	if c.NUT.Port < 1 || c.NUT.Port > 65535 {
		problems = append(problems, fmt.Sprintf("nut.port %d out of range 1..65535", c.NUT.Port))
	}
	if !upsNameRe.MatchString(c.NUT.UPSName) {
		problems = append(problems, fmt.Sprintf("nut.upsName %q must match [A-Za-z0-9-]+", c.NUT.UPSName))
	}
	if c.Polling.IntervalMs < 500 || c.Polling.IntervalMs > 60000 {
		problems = append(problems, fmt.Sprintf("polling.intervalMs %d out of range 500..60000", c.Polling.IntervalMs))
	}
	if c.Data.RetentionDays < 1 || c.Data.RetentionDays > 3650 {
		problems = append(problems, fmt.Sprintf("data.retentionDays %d out of range 1..3650", c.Data.RetentionDays))
	}
	if c.Battery.WarningPct < 1 || c.Battery.WarningPct > 100 {
		problems = append(problems, fmt.Sprintf("battery.warningPct %d out of range 1..100", c.Battery.WarningPct))
	}
	if c.Battery.ShutdownPct < 1 || c.Battery.ShutdownPct > 100 {
		problems = append(problems, fmt.Sprintf("battery.shutdownPct %d out of range 1..100", c.Battery.ShutdownPct))
	}
	if c.Battery.ShutdownPct >= c.Battery.WarningPct {
		problems = append(problems, fmt.Sprintf("battery.shutdownPct %d must be below battery.warningPct %d", c.Battery.ShutdownPct, c.Battery.WarningPct))
	}
	if c.Battery.ShutdownCountdownSeconds < 1 || c.Battery.ShutdownCountdownSeconds > 300 {
		problems = append(problems, fmt.Sprintf("battery.shutdownCountdownSeconds %d out of range 1..300", c.Battery.ShutdownCountdownSeconds))
	}
	if c.Battery.ShutdownMethod != MethodSleep && c.Battery.ShutdownMethod != MethodShutdown {
		problems = append(problems, fmt.Sprintf("battery.shutdownMethod %q must be sleep or shutdown", c.Battery.ShutdownMethod))
	}
	if !ValidDebugLevel(c.Debug.Level) {
		problems = append(problems, fmt.Sprintf("debug.level %q must be one of %v", c.Debug.Level, DebugLevels))
	}
	if c.Line.CooldownMinutes < 0 {
		problems = append(problems, "line.cooldownMinutes must not be negative")
	}

	if len(problems) > 0 {
		return errkind.Newf(errkind.Validation, "invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Normalize replaces invalid or missing fields with their defaults so a
// damaged settings file still yields a usable configuration. Valid
// fields are preserved untouched.
func Normalize(c Config) Config {
	d := Default()

	if c.NUT.Host == "" {
		c.NUT.Host = d.NUT.Host
	}
	if c.NUT.Port < 1 || c.NUT.Port > 65535 {
		c.NUT.Port = d.NUT.Port
	}
	if !upsNameRe.MatchString(c.NUT.UPSName) {
		c.NUT.UPSName = d.NUT.UPSName
	}
	if c.Polling.IntervalMs < 500 || c.Polling.IntervalMs > 60000 {
		c.Polling.IntervalMs = d.Polling.IntervalMs
	}
	if c.Data.RetentionDays < 1 || c.Data.RetentionDays > 3650 {
		c.Data.RetentionDays = d.Data.RetentionDays
	}
	if c.Battery.WarningPct < 1 || c.Battery.WarningPct > 100 {
		c.Battery.WarningPct = d.Battery.WarningPct
	}
	if c.Battery.ShutdownPct < 1 || c.Battery.ShutdownPct > 100 {
		c.Battery.ShutdownPct = d.Battery.ShutdownPct
	}
	if c.Battery.ShutdownPct >= c.Battery.WarningPct {
		c.Battery.WarningPct = d.Battery.WarningPct
		c.Battery.ShutdownPct = d.Battery.ShutdownPct
	}
	if c.Battery.ShutdownCountdownSeconds < 1 || c.Battery.ShutdownCountdownSeconds > 300 {
		c.Battery.ShutdownCountdownSeconds = d.Battery.ShutdownCountdownSeconds
	}
	if c.Battery.ShutdownMethod != MethodSleep && c.Battery.ShutdownMethod != MethodShutdown {
		c.Battery.ShutdownMethod = d.Battery.ShutdownMethod
	}
	if !ValidDebugLevel(c.Debug.Level) {
		c.Debug.Level = d.Debug.Level
	}
	if c.Line.CooldownMinutes < 0 {
		c.Line.CooldownMinutes = d.Line.CooldownMinutes
	}
	if c.Line.NominalInputVoltage <= 0 {
		c.Line.NominalInputVoltage = d.Line.NominalInputVoltage
	}
	if c.Line.NominalOutputVoltage <= 0 {
		c.Line.NominalOutputVoltage = d.Line.NominalOutputVoltage
	}
	if c.Line.NominalInputFrequency <= 0 {
		c.Line.NominalInputFrequency = d.Line.NominalInputFrequency
	}
	if c.Line.NominalOutputFrequency <= 0 {
		c.Line.NominalOutputFrequency = d.Line.NominalOutputFrequency
	}
	if c.Line.TolerancePositivePct <= 0 {
		c.Line.TolerancePositivePct = d.Line.TolerancePositivePct
	}
	if c.Line.ToleranceNegativePct <= 0 {
		c.Line.ToleranceNegativePct = d.Line.ToleranceNegativePct
	}
	if c.Theme.Mode == "" {
		c.Theme.Mode = d.Theme.Mode
	}
	if c.I18n.Locale == "" {
		c.I18n.Locale = d.I18n.Locale
	}
	return c
}

// clone deep-copies the map and slice fields so callers can hold the
// returned Config without aliasing store state.
func clone(c Config) Config {
	if c.NUT.Mapping != nil {
		m := make(map[string]string, len(c.NUT.Mapping))
		for k, v := range c.NUT.Mapping {
			m[k] = v
		}
		c.NUT.Mapping = m
	}
	if c.Dashboard.Columns != nil {
		c.Dashboard.Columns = append([]string(nil), c.Dashboard.Columns...)
	}
	return c
}

// ConnectionFieldsChanged reports whether any setting requiring a
// reconnect differs between the two configs.
func ConnectionFieldsChanged(a, b Config) bool {
	return a.NUT.Host != b.NUT.Host ||
		a.NUT.Port != b.NUT.Port ||
		a.NUT.UPSName != b.NUT.UPSName ||
		a.NUT.Username != b.NUT.Username ||
		a.NUT.Password != b.NUT.Password ||
		a.NUT.LaunchLocalComponents != b.NUT.LaunchLocalComponents ||
		a.NUT.LocalNUTFolderPath != b.NUT.LocalNUTFolderPath
}
