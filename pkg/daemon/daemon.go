// Package daemon wires the UPS monitor together: the NUT poller, the
// telemetry store, battery and line alerting, retention, the local NUT
// component supervisor, and the HTTP control API the UI talks to.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nutmon/nutmon/pkg/config"
	"github.com/nutmon/nutmon/pkg/errkind"
	"github.com/nutmon/nutmon/pkg/events"
	"github.com/nutmon/nutmon/pkg/osadapter"
	"github.com/nutmon/nutmon/pkg/telemetry"
)

// Options configure Run. Zero values select the per-OS defaults.
type Options struct {
	ConfigPath string
	DBPath     string
	// Network is "unix" or "tcp"; Addr is the socket path or host:port.
	Network string
	Addr    string
}

// DefaultConfigPath returns <user config dir>/nutmon/settings.json.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "settings.json"
	}
	return filepath.Join(dir, "nutmon", "settings.json")
}

// DefaultDBPath returns <user config dir>/nutmon/data/ups_telemetry.db.
func DefaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join("data", "ups_telemetry.db")
	}
	return filepath.Join(dir, "nutmon", "data", "ups_telemetry.db")
}

// DefaultListen returns the control API endpoint: a unix socket in the
// runtime dir, or loopback TCP on Windows where unix sockets are not
// dependable.
func DefaultListen() (network, addr string) {
	if runtime.GOOS == "windows" {
		return "tcp", "127.0.0.1:14733"
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return "unix", filepath.Join(dir, "nutmon.sock")
	}
	return "unix", "/var/run/nutmon.sock"
}

// Daemon holds the long-lived services.
type Daemon struct {
	cfg       *config.Store
	store     *telemetry.Store
	hub       *events.Hub
	os        osadapter.Adapter
	sup       *Supervisor
	poller    *Poller
	safety    *Safety
	line      *LineAlert
	retention *Retention
}

// Run starts everything and blocks until SIGINT or SIGTERM.
func Run(opts Options) error {
	if opts.ConfigPath == "" {
		opts.ConfigPath = DefaultConfigPath()
	}
	if opts.DBPath == "" {
		opts.DBPath = DefaultDBPath()
	}
	if opts.Network == "" {
		opts.Network, opts.Addr = DefaultListen()
	}

	cfg, err := config.NewStore(opts.ConfigPath)
	if err != nil {
		return err
	}
	applyLogLevel(cfg.Get().Debug.Level)
	logrus.WithFields(config.LogrusFields(cfg.Get())).Info("config loaded")

	store, err := telemetry.Open(opts.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.Errorf("failed to close telemetry store: %v", err)
		}
	}()

	adapter := osadapter.New()
	hub := events.NewHub()
	sup := NewSupervisor(adapter)
	poller := NewPoller(cfg, store, hub, sup, PollerOptions{})
	safety := NewSafety(cfg, adapter)
	line := NewLineAlert(cfg, adapter)
	retention := NewRetention(cfg, store)

	d := &Daemon{
		cfg:       cfg,
		store:     store,
		hub:       hub,
		os:        adapter,
		sup:       sup,
		poller:    poller,
		safety:    safety,
		line:      line,
		retention: retention,
	}
	d.wire()

	if err := retention.Start(); err != nil {
		return err
	}
	defer retention.Stop()

	if cfg.Get().Wizard.Completed {
		poller.Start()
	} else {
		logrus.Info("setup wizard not completed, polling idle until it is")
	}
	defer poller.Stop()

	srv := &http.Server{Handler: d.setupRoutes()}

	if opts.Network == "unix" {
		if err := removeStaleSocket(opts.Addr); err != nil {
			return err
		}
	}
	l, err := net.Listen(opts.Network, opts.Addr)
	if err != nil {
		return err
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logrus.Infof("caught signal %q: shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("exiting")
	return nil
}

// removeStaleSocket clears a socket file left by an unclean exit. A
// socket that still answers belongs to a live daemon; refusing to bind
// keeps a single instance, which the telemetry store's single-writer
// assumption depends on.
func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		_ = conn.Close()
		return errkind.Newf(errkind.State, "another daemon is already listening on %s", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// wire connects the event bus and config subscribers. Subscription
// order matters: the poller must observe connection-affecting changes
// before the alerting components see the same tick.
func (d *Daemon) wire() {
	d.hub.Subscribe(events.UPSTelemetryUpdated, func(payload any) {
		tp, ok := payload.(events.TelemetryPayload)
		if !ok {
			return
		}
		d.safety.HandleTelemetry(tp.Values)
		d.line.HandleTelemetry(tp.Values)
	})

	d.cfg.Subscribe(d.poller.HandleConfigUpdated)
	d.cfg.Subscribe(d.safety.HandleConfigUpdated)
	d.cfg.Subscribe(d.line.HandleConfigUpdated)
	d.cfg.Subscribe(func(prev, next config.Config) {
		if prev.Debug.Level != next.Debug.Level {
			applyLogLevel(next.Debug.Level)
		}
		if prev.Startup.LaunchOnLogin != next.Startup.LaunchOnLogin {
			if err := d.os.SetLoginItem(next.Startup.LaunchOnLogin); err != nil {
				logrus.Warnf("failed to update login item: %v", err)
			}
		}
	})
}

// applyLogLevel maps the config debug level onto logrus. "off" keeps
// only panics, which in practice silences the daemon.
func applyLogLevel(level string) {
	switch level {
	case "off":
		logrus.SetLevel(logrus.PanicLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
