package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// statusMetrics are the telemetry rows shown by the status command, in
// display order.
var statusMetrics = []struct {
	column string
	label  string
	unit   string
}{
	{"battery_charge_pct", "Battery charge", "%"},
	{"battery_runtime_sec", "Battery runtime", "s"},
	{"battery_voltage", "Battery voltage", "V"},
	{"input_voltage", "Input voltage", "V"},
	{"input_frequency_hz", "Input frequency", "Hz"},
	{"output_voltage", "Output voltage", "V"},
	{"ups_load_pct", "Load", "%"},
	{"ups_realpower_watts", "Real power", "W"},
	{"ups_temperature", "Temperature", "°C"},
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Show UPS connection state and latest readings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetNUTState()
			if err != nil {
				return fmt.Errorf("failed to get nut state: %w", err)
			}

			cmd.Println(bold("Connection:"))
			cmd.Printf("  State: %s\n", colorState(st.State))
			if model := st.StaticData["ups.model"]; model != "" {
				cmd.Printf("  Model: %s\n", bold("%s", model))
			}
			if mfr := st.StaticData["ups.mfr"]; mfr != "" {
				cmd.Printf("  Manufacturer: %s\n", mfr)
			}
			if serial := st.StaticData["ups.serial"]; serial != "" {
				cmd.Printf("  Serial: %s\n", serial)
			}
			cmd.Println()

			p, err := apiClient.GetLatestTelemetry()
			if err != nil {
				return fmt.Errorf("failed to get latest telemetry: %w", err)
			}
			if p == nil {
				cmd.Println("No telemetry recorded yet.")
				return nil
			}

			cmd.Println(bold("Latest readings (%s):", p.TS.Local().Format("2006-01-02 15:04:05")))
			for _, m := range statusMetrics {
				v, ok := p.Values[m.column]
				if !ok || v == nil {
					continue
				}
				cmd.Printf("  %s: %s\n", m.label, bold("%.1f %s", *v, m.unit))
			}
			if v, ok := p.Values["ups_status_num"]; ok && v != nil {
				if *v >= 1 {
					cmd.Printf("  Power source: %s\n", color.New(color.Bold, color.FgGreen).Sprint("line"))
				} else {
					cmd.Printf("  Power source: %s\n", color.New(color.Bold, color.FgRed).Sprint("battery"))
				}
			}
			return nil
		},
	}
}

func colorState(state string) string {
	switch state {
	case "ready":
		return color.New(color.Bold, color.FgGreen).Sprint(state)
	case "degraded", "reconnecting":
		return color.New(color.Bold, color.FgRed).Sprint(state)
	default:
		return color.New(color.Bold, color.FgYellow).Sprint(state)
	}
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
