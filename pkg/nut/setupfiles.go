package nut

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nutmon/nutmon/pkg/errkind"
)

// LocalSetup describes the files the setup wizard writes for a locally
// hosted NUT driver and upsd.
type LocalSetup struct {
	Folder  string
	UPSName string
	Driver  string // e.g. snmp-ups
	Port    string // driver port argument, e.g. an SNMP host
}

// WriteLocalConfig writes <folder>/etc/upsd.conf and <folder>/etc/ups.conf
// for a single locally supervised UPS. upsd listens on loopback only.
func WriteLocalConfig(s LocalSetup) error {
	if !ValidUPSName(s.UPSName) {
		return errkind.Newf(errkind.InvalidArgument, "invalid ups name %q", s.UPSName)
	}
	if s.Driver == "" {
		return errkind.New(errkind.InvalidArgument, "driver must not be empty")
	}

	etc := filepath.Join(s.Folder, "etc")
	if err := os.MkdirAll(etc, 0o755); err != nil {
		return errkind.Wrap(errkind.Io, err, "create etc directory")
	}

	upsdConf := fmt.Sprintf("LISTEN 127.0.0.1 %d\n", DefaultPort)
	if err := os.WriteFile(filepath.Join(etc, "upsd.conf"), []byte(upsdConf), 0o644); err != nil {
		return errkind.Wrap(errkind.Io, err, "write upsd.conf")
	}

	upsConf := fmt.Sprintf("[%s]\n\tdriver = %s\n", s.UPSName, s.Driver)
	if s.Port != "" {
		upsConf += fmt.Sprintf("\tport = %s\n", s.Port)
	}
	if err := os.WriteFile(filepath.Join(etc, "ups.conf"), []byte(upsConf), 0o644); err != nil {
		return errkind.Wrap(errkind.Io, err, "write ups.conf")
	}
	return nil
}
