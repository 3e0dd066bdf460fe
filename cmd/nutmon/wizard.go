package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewWizardCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wizard",
		Short:   "First-run setup helpers",
		GroupID: gBasic,
	}

	var (
		host      string
		port      int
		username  string
		password  string
		upsName   string
		timeoutMs int
	)

	test := &cobra.Command{
		Use:   "test-connection",
		Short: "Probe a NUT server without touching the running poller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := apiClient.TestConnection(host, port, username, password, upsName, timeoutMs)
			if err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}

			cmd.Printf("Connected. %d variables visible.\n", res.VariableCount)
			if res.Model != "" {
				cmd.Printf("Model: %s\n", res.Model)
			}
			if res.Status != "" {
				cmd.Printf("Status: %s\n", res.Status)
			}
			return nil
		},
	}
	f := test.Flags()
	f.StringVar(&host, "host", "127.0.0.1", "NUT server host")
	f.IntVar(&port, "port", 3493, "NUT server port")
	f.StringVar(&username, "username", "", "NUT username")
	f.StringVar(&password, "password", "", "NUT password")
	f.StringVar(&upsName, "ups", "ups", "UPS name on the server")
	f.IntVar(&timeoutMs, "timeout-ms", 5000, "connect timeout in milliseconds")

	var (
		folder     string
		driver     string
		driverPort string
	)

	localSetup := &cobra.Command{
		Use:   "local-setup",
		Short: "Write NUT config files for a locally hosted driver and upsd",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := apiClient.WriteLocalSetup(folder, upsName, driver, driverPort); err != nil {
				return fmt.Errorf("failed to write local setup: %w", err)
			}
			logrus.Infof("wrote NUT config under %s/etc", folder)
			return nil
		},
	}
	lf := localSetup.Flags()
	lf.StringVar(&folder, "folder", "", "NUT installation folder (containing bin/, sbin/, etc/)")
	lf.StringVar(&upsName, "ups", "ups", "UPS name to register")
	lf.StringVar(&driver, "driver", "", "NUT driver name (defaults to snmp-ups)")
	lf.StringVar(&driverPort, "driver-port", "", "driver port argument, e.g. an SNMP host")
	_ = localSetup.MarkFlagRequired("folder")

	complete := &cobra.Command{
		Use:   "complete",
		Short: "Mark setup as complete and start polling",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := apiClient.CompleteWizard(); err != nil {
				return fmt.Errorf("failed to complete wizard: %w", err)
			}
			logrus.Info("setup complete, the daemon is now polling")
			return nil
		},
	}

	cmd.AddCommand(test, localSetup, complete)
	return cmd
}

func NewTestAlertCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "test-alert",
		Short:   "Fire a test critical battery notification",
		GroupID: gBasic,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := apiClient.TestCriticalAlert(); err != nil {
				return fmt.Errorf("failed to trigger test alert: %w", err)
			}
			logrus.Info("test alert sent")
			return nil
		},
	}
}
