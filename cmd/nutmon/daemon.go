package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nutmon/nutmon/pkg/daemon"
	"github.com/nutmon/nutmon/pkg/version"
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "daemon",
		Short:   "Run the nutmon daemon in the foreground",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("nutmon daemon starting")
			return daemon.Run(daemon.Options{
				ConfigPath: configPath,
				DBPath:     dbPath,
				Network:    socketNetwork,
				Addr:       socketAddr,
			})
		},
	}
}
