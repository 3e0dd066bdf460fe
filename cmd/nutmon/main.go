package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nutmon/nutmon/pkg/client"
	"github.com/nutmon/nutmon/pkg/daemon"
)

var (
	logLevel      = "info"
	configPath    = ""
	dbPath        = ""
	socketNetwork = ""
	socketAddr    = ""
)

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
	}
)

var apiClient *client.Client

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: nutmon daemon is not running")
		fmt.Fprintln(os.Stderr, "Start it with 'nutmon daemon'")
	} else if errors.Is(err, client.ErrPermissionDenied) {
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	defaultNetwork, defaultAddr := daemon.DefaultListen()

	cmd := &cobra.Command{
		Use:   "nutmon",
		Short: "nutmon monitors a UPS through Network UPS Tools",
		Long: `nutmon is a daemon and CLI that polls a NUT (Network UPS Tools) server,
records UPS telemetry, and reacts to low battery and bad line quality.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := setupLogger(); err != nil {
				return err
			}
			apiClient = client.New(socketNetwork, socketAddr)
			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", daemon.DefaultConfigPath(), "settings file path")
	globalFlags.StringVar(&dbPath, "db", daemon.DefaultDBPath(), "telemetry database path")
	globalFlags.StringVar(&socketNetwork, "daemon-network", defaultNetwork, `daemon endpoint network ("unix" or "tcp")`)
	globalFlags.StringVar(&socketAddr, "daemon-addr", defaultAddr, "daemon socket path or host:port")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewStatusCommand(),
		NewSettingsCommand(),
		NewWizardCommand(),
		NewTestAlertCommand(),
	)

	return cmd
}
