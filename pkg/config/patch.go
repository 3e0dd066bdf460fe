package config

// Patch is a partial configuration: every section and field is optional.
// Merge semantics are shallow per section (field-by-field); maps and
// lists are replaced wholesale.
type Patch struct {
	NUT       *NUTPatch       `json:"nut,omitempty"`
	Polling   *PollingPatch   `json:"polling,omitempty"`
	Data      *DataPatch      `json:"data,omitempty"`
	Battery   *BatteryPatch   `json:"battery,omitempty"`
	Line      *LinePatch      `json:"line,omitempty"`
	Debug     *DebugPatch     `json:"debug,omitempty"`
	Theme     *ThemePatch     `json:"theme,omitempty"`
	I18n      *I18nPatch      `json:"i18n,omitempty"`
	Dashboard *DashboardPatch `json:"dashboard,omitempty"`
	Wizard    *WizardPatch    `json:"wizard,omitempty"`
	Startup   *StartupPatch   `json:"startup,omitempty"`
}

type NUTPatch struct {
	Host                  *string            `json:"host,omitempty"`
	Port                  *int               `json:"port,omitempty"`
	Username              *string            `json:"username,omitempty"`
	Password              *string            `json:"password,omitempty"`
	UPSName               *string            `json:"upsName,omitempty"`
	Mapping               *map[string]string `json:"mapping,omitempty"`
	LaunchLocalComponents *bool              `json:"launchLocalComponents,omitempty"`
	LocalNUTFolderPath    *string            `json:"localNutFolderPath,omitempty"`
}

type PollingPatch struct {
	IntervalMs *int `json:"intervalMs,omitempty"`
}

type DataPatch struct {
	RetentionDays *int `json:"retentionDays,omitempty"`
}

type BatteryPatch struct {
	WarningPct                   *int    `json:"warningPct,omitempty"`
	ShutdownPct                  *int    `json:"shutdownPct,omitempty"`
	WarningToastEnabled          *bool   `json:"warningToastEnabled,omitempty"`
	ShutdownEnabled              *bool   `json:"shutdownEnabled,omitempty"`
	CriticalAlertEnabled         *bool   `json:"criticalAlertEnabled,omitempty"`
	CriticalShutdownAlertEnabled *bool   `json:"criticalShutdownAlertEnabled,omitempty"`
	ShutdownCountdownSeconds     *int    `json:"shutdownCountdownSeconds,omitempty"`
	ShutdownMethod               *string `json:"shutdownMethod,omitempty"`
}

type LinePatch struct {
	AlertsEnabled          *bool    `json:"alertsEnabled,omitempty"`
	NominalInputVoltage    *float64 `json:"nominalInputVoltage,omitempty"`
	NominalOutputVoltage   *float64 `json:"nominalOutputVoltage,omitempty"`
	NominalInputFrequency  *float64 `json:"nominalInputFrequency,omitempty"`
	NominalOutputFrequency *float64 `json:"nominalOutputFrequency,omitempty"`
	TolerancePositivePct   *float64 `json:"tolerancePositivePct,omitempty"`
	ToleranceNegativePct   *float64 `json:"toleranceNegativePct,omitempty"`
	CooldownMinutes        *int     `json:"cooldownMinutes,omitempty"`
}

type DebugPatch struct {
	Level *string `json:"level,omitempty"`
}

type ThemePatch struct {
	Mode *string `json:"mode,omitempty"`
}

type I18nPatch struct {
	Locale *string `json:"locale,omitempty"`
}

type DashboardPatch struct {
	Columns *[]string `json:"columns,omitempty"`
}

type WizardPatch struct {
	Completed *bool `json:"completed,omitempty"`
}

type StartupPatch struct {
	LaunchOnLogin *bool `json:"launchOnLogin,omitempty"`
}

// Merge applies the patch on top of base and returns the result. The
// base is not modified.
func Merge(base Config, p Patch) Config {
	c := clone(base)

	if p.NUT != nil {
		setStr(&c.NUT.Host, p.NUT.Host)
		setInt(&c.NUT.Port, p.NUT.Port)
		setStr(&c.NUT.Username, p.NUT.Username)
		setStr(&c.NUT.Password, p.NUT.Password)
		setStr(&c.NUT.UPSName, p.NUT.UPSName)
		if p.NUT.Mapping != nil {
			m := make(map[string]string, len(*p.NUT.Mapping))
			for k, v := range *p.NUT.Mapping {
				m[k] = v
			}
			c.NUT.Mapping = m
		}
		setBool(&c.NUT.LaunchLocalComponents, p.NUT.LaunchLocalComponents)
		setStr(&c.NUT.LocalNUTFolderPath, p.NUT.LocalNUTFolderPath)
	}
	if p.Polling != nil {
		setInt(&c.Polling.IntervalMs, p.Polling.IntervalMs)
	}
	if p.Data != nil {
		setInt(&c.Data.RetentionDays, p.Data.RetentionDays)
	}
	if p.Battery != nil {
		setInt(&c.Battery.WarningPct, p.Battery.WarningPct)
		setInt(&c.Battery.ShutdownPct, p.Battery.ShutdownPct)
		setBool(&c.Battery.WarningToastEnabled, p.Battery.WarningToastEnabled)
		setBool(&c.Battery.ShutdownEnabled, p.Battery.ShutdownEnabled)
		setBool(&c.Battery.CriticalAlertEnabled, p.Battery.CriticalAlertEnabled)
		setBool(&c.Battery.CriticalShutdownAlertEnabled, p.Battery.CriticalShutdownAlertEnabled)
		setInt(&c.Battery.ShutdownCountdownSeconds, p.Battery.ShutdownCountdownSeconds)
		setStr(&c.Battery.ShutdownMethod, p.Battery.ShutdownMethod)
	}
	if p.Line != nil {
		setBool(&c.Line.AlertsEnabled, p.Line.AlertsEnabled)
		setFloat(&c.Line.NominalInputVoltage, p.Line.NominalInputVoltage)
		setFloat(&c.Line.NominalOutputVoltage, p.Line.NominalOutputVoltage)
		setFloat(&c.Line.NominalInputFrequency, p.Line.NominalInputFrequency)
		setFloat(&c.Line.NominalOutputFrequency, p.Line.NominalOutputFrequency)
		setFloat(&c.Line.TolerancePositivePct, p.Line.TolerancePositivePct)
		setFloat(&c.Line.ToleranceNegativePct, p.Line.ToleranceNegativePct)
		setInt(&c.Line.CooldownMinutes, p.Line.CooldownMinutes)
	}
	if p.Debug != nil {
		setStr(&c.Debug.Level, p.Debug.Level)
	}
	if p.Theme != nil {
		setStr(&c.Theme.Mode, p.Theme.Mode)
	}
	if p.I18n != nil {
		setStr(&c.I18n.Locale, p.I18n.Locale)
	}
	if p.Dashboard != nil && p.Dashboard.Columns != nil {
		c.Dashboard.Columns = append([]string(nil), *p.Dashboard.Columns...)
	}
	if p.Wizard != nil {
		setBool(&c.Wizard.Completed, p.Wizard.Completed)
	}
	if p.Startup != nil {
		setBool(&c.Startup.LaunchOnLogin, p.Startup.LaunchOnLogin)
	}
	return c
}

func setStr(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}
