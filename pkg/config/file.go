package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nutmon/nutmon/pkg/errkind"
)

// Environment overrides applied at load time.
const (
	EnvResetSettings = "RESET_SETTINGS_ON_START"
	EnvDebugLevel    = "DEBUG_LEVEL_ON_START"
)

// Subscriber receives the previous and next config after every
// successful Set/Update. Delivery order matches subscription order.
type Subscriber func(prev, next Config)

// Store owns the settings file. It is the only writer of that file;
// consumers read immutable snapshots via Get.
type Store struct {
	mu   sync.Mutex
	path string
	cur  Config

	subMu   sync.Mutex
	subs    []subscription
	nextSub int
}

type subscription struct {
	id int
	fn Subscriber
}

// NewStore loads the settings file at path, normalizing missing or
// invalid fields to defaults, and applies the startup environment
// overrides. A missing or unreadable file yields the defaults.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	cfg := Default()
	if !truthyEnv(os.Getenv(EnvResetSettings)) {
		loaded, err := readFile(path)
		if err != nil {
			logrus.Warnf("settings file unusable, falling back to defaults: %v", err)
		} else if loaded != nil {
			cfg = Normalize(*loaded)
		}
	} else {
		logrus.Infof("%s is set, discarding persisted settings", EnvResetSettings)
	}

	if lvl := os.Getenv(EnvDebugLevel); lvl != "" {
		if ValidDebugLevel(strings.ToLower(lvl)) {
			cfg.Debug.Level = strings.ToLower(lvl)
		} else {
			logrus.Warnf("ignoring invalid %s=%q", EnvDebugLevel, lvl)
		}
	}

	s.cur = cfg
	if err := s.persist(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the current snapshot. The returned value does not alias
// store state.
func (s *Store) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.cur)
}

// Set validates the full config and replaces the current one.
func (s *Store) Set(full Config) error {
	if err := Validate(full); err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.cur
	if err := s.persist(full); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cur = clone(full)
	next := s.cur
	s.mu.Unlock()

	s.notify(prev, next)
	return nil
}

// Update merges the patch over the current config, revalidates,
// persists, and returns the merged result. On validation failure the
// old config remains in force.
func (s *Store) Update(p Patch) (Config, error) {
	s.mu.Lock()
	merged := Merge(s.cur, p)
	if err := Validate(merged); err != nil {
		s.mu.Unlock()
		return Config{}, err
	}
	prev := s.cur
	if err := s.persist(merged); err != nil {
		s.mu.Unlock()
		return Config{}, err
	}
	s.cur = merged
	next := clone(merged)
	s.mu.Unlock()

	s.notify(prev, next)
	return clone(merged), nil
}

// Subscribe registers fn for change notifications and returns an
// unsubscribe handle.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// notify delivers (prev, next) serially in subscription order.
func (s *Store) notify(prev, next Config) {
	s.subMu.Lock()
	subs := append([]subscription(nil), s.subs...)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(prev, next)
	}
}

// persist writes cfg to the settings file. Caller holds s.mu.
func (s *Store) persist(cfg Config) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errkind.Wrap(errkind.Io, err, "create settings directory")
	}
	fp, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errkind.Wrapf(errkind.Io, err, "open settings file %s", s.path)
	}
	defer func() {
		if err := fp.Close(); err != nil {
			logrus.Warnf("failed to close settings file %s", s.path)
		}
	}()

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return errkind.Wrapf(errkind.Io, err, "encode settings to %s", s.path)
	}
	return nil
}

// readFile parses the settings file. A missing or empty file returns
// (nil, nil) so the caller falls back to defaults.
func readFile(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrapf(err, "failed to read settings file %s", path)
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil, nil
	}

	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal settings file %s", path)
	}
	return &cfg, nil
}

func truthyEnv(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// LogrusFields summarizes the config for startup logging. Credentials
// are omitted.
func LogrusFields(c Config) logrus.Fields {
	return logrus.Fields{
		"nutHost":       c.NUT.Host,
		"nutPort":       c.NUT.Port,
		"upsName":       c.NUT.UPSName,
		"launchLocal":   c.NUT.LaunchLocalComponents,
		"intervalMs":    c.Polling.IntervalMs,
		"retentionDays": c.Data.RetentionDays,
		"warningPct":    c.Battery.WarningPct,
		"shutdownPct":   c.Battery.ShutdownPct,
		"debugLevel":    c.Debug.Level,
	}
}
