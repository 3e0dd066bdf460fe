package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nutmon/nutmon/pkg/config"
)

func NewSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "settings",
		Short:   "Read or change daemon settings",
		GroupID: gAdvanced,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the current settings as JSON",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := apiClient.GetSettings()
				if err != nil {
					return fmt.Errorf("failed to get settings: %w", err)
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			},
		},
		&cobra.Command{
			Use:   "set <json-patch>",
			Short: "Apply a JSON settings patch",
			Long: `Apply a JSON settings patch. Only the fields present in the patch
are changed; everything else keeps its current value.

Example:
  nutmon settings set '{"polling":{"intervalMs":5000}}'`,
			Args: cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				var p config.Patch
				if err := json.Unmarshal([]byte(args[0]), &p); err != nil {
					return fmt.Errorf("invalid patch: %w", err)
				}

				merged, err := apiClient.UpdateSettings(p)
				if err != nil {
					return fmt.Errorf("failed to update settings: %w", err)
				}

				logrus.Infof("settings updated, polling every %dms", merged.Polling.IntervalMs)
				return nil
			},
		},
	)

	return cmd
}
