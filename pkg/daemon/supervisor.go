package daemon

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nutmon/nutmon/pkg/config"
	"github.com/nutmon/nutmon/pkg/errkind"
	"github.com/nutmon/nutmon/pkg/osadapter"
)

const (
	// DefaultDriver is used when etc/ups.conf does not name one.
	DefaultDriver = "snmp-ups"

	driverStartDelay = 1200 * time.Millisecond
	upsdStartDelay   = 1000 * time.Millisecond

	captureMaxLines   = 240
	captureMaxLineLen = 2000
)

// Supervisor runs the local NUT driver and upsd when the user hosts NUT
// on this machine. Externally started components are detected and
// reused, never spawned twice.
type Supervisor struct {
	os osadapter.Adapter

	mu     sync.Mutex
	driver *child
	upsd   *child
}

func NewSupervisor(adapter osadapter.Adapter) *Supervisor {
	return &Supervisor{os: adapter}
}

// child is one supervised process. external children were found already
// running and are never terminated by us.
type child struct {
	name     string
	cmd      *exec.Cmd
	pid      int32
	external bool

	stdout *captureRing
	stderr *captureRing

	done    chan struct{}
	waitErr error
}

func (c *child) alive() bool {
	if c == nil {
		return false
	}
	if c.external {
		return true
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// EnsureRunning brings up the driver and upsd. When both managed
// children are already live it is a no-op; otherwise any half-dead pair
// is stopped and both are started fresh.
func (s *Supervisor) EnsureRunning(cfg config.Config) error {
	if !cfg.NUT.LaunchLocalComponents {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.driver.alive() && s.upsd.alive() {
		return nil
	}
	s.stopLocked()

	folder := cfg.NUT.LocalNUTFolderPath
	if folder == "" {
		return errkind.New(errkind.InvalidArgument, "localNutFolderPath must be set when launching local components")
	}

	driverName := resolveDriverName(folder, cfg.NUT.UPSName)
	driverPath, err := resolveBinary(folder, driverName)
	if err != nil {
		return err
	}

	driver, err := s.startChild("driver", driverPath, []string{"-a", cfg.NUT.UPSName}, cfg.NUT.UPSName, driverStartDelay)
	if err != nil {
		return err
	}
	s.driver = driver

	upsdPath := filepath.Join(folder, "sbin", exeName("upsd"))
	if _, err := os.Stat(upsdPath); err != nil {
		s.stopLocked()
		return errkind.Wrapf(errkind.Io, err, "upsd binary not found at %s", upsdPath)
	}
	upsd, err := s.startChild("upsd", upsdPath, nil, cfg.NUT.UPSName, upsdStartDelay)
	if err != nil {
		s.stopLocked()
		return err
	}
	s.upsd = upsd

	return nil
}

// startChild reuses an externally running process with a matching
// executable and command line, else spawns one and waits out its grace
// delay to catch immediate startup failures.
func (s *Supervisor) startChild(name, path string, args []string, upsName string, grace time.Duration) (*child, error) {
	if existing := s.findExternal(path, name, upsName); existing != nil {
		logrus.WithFields(logrus.Fields{
			"component": name,
			"pid":       existing.pid,
		}).Info("reusing externally started NUT component")
		return existing, nil
	}

	c := &child{
		name:   name,
		stdout: newCaptureRing(),
		stderr: newCaptureRing(),
		done:   make(chan struct{}),
	}

	cmd := exec.Command(path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errkind.Wrapf(errkind.Io, err, "pipe %s stdout", name)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errkind.Wrapf(errkind.Io, err, "pipe %s stderr", name)
	}
	if err := cmd.Start(); err != nil {
		return nil, errkind.Wrapf(errkind.Io, err, "spawn %s (%s)", name, path)
	}
	c.cmd = cmd
	c.pid = int32(cmd.Process.Pid)

	go c.stdout.consume(stdout)
	go c.stderr.consume(stderr)
	go func() {
		c.waitErr = cmd.Wait()
		close(c.done)
	}()

	logrus.WithFields(logrus.Fields{
		"component": name,
		"path":      path,
		"pid":       c.pid,
	}).Info("spawned NUT component")

	time.Sleep(grace)

	select {
	case <-c.done:
		// Exited during the grace period. A concurrently started external
		// instance (e.g. a service manager beat us to it) still counts.
		if ext := s.findExternal(path, name, upsName); ext != nil {
			return ext, nil
		}
		// Exit status 0 is not a failure: NUT launchers fork the real
		// process into the background and return cleanly.
		if c.waitErr == nil {
			logrus.WithField("component", name).Debug("launcher exited cleanly during grace delay")
			return c, nil
		}
		return nil, errkind.Newf(errkind.Io,
			"%s exited during startup (%v)\nstdout:\n%s\nstderr:\n%s",
			name, c.waitErr, c.stdout.String(), c.stderr.String())
	default:
		return c, nil
	}
}

// findExternal scans running processes for one with our target
// executable path; the driver must also carry "-a <upsName>".
func (s *Supervisor) findExternal(path, name, upsName string) *child {
	procs, err := s.os.EnumerateProcesses()
	if err != nil {
		logrus.Debugf("process enumeration failed: %v", err)
		return nil
	}
	for _, p := range procs {
		if !samePath(p.Exe, path) {
			continue
		}
		if name == "driver" && !strings.Contains(p.Cmdline, "-a "+upsName) {
			continue
		}
		return &child{name: name, pid: p.PID, external: true}
	}
	return nil
}

// Stop terminates managed children. When local components are disabled
// the children belong to the user and are left alone unless force is
// set.
func (s *Supervisor) Stop(cfg config.Config, force bool) {
	if !cfg.NUT.LaunchLocalComponents && !force {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	for _, c := range []*child{s.upsd, s.driver} {
		if c == nil || c.external {
			continue
		}
		if !c.alive() {
			s.logAbnormalExit(c)
			continue
		}
		if err := s.terminate(c); err != nil {
			logrus.Warnf("failed to stop %s (pid %d): %v", c.name, c.pid, err)
		}
	}
	s.driver = nil
	s.upsd = nil
}

func (s *Supervisor) terminate(c *child) error {
	if runtime.GOOS == "windows" {
		return s.os.KillTree(c.pid)
	}
	if err := c.cmd.Process.Signal(os.Interrupt); err != nil {
		return s.os.KillTree(c.pid)
	}
	select {
	case <-c.done:
	case <-time.After(3 * time.Second):
		return s.os.KillTree(c.pid)
	}
	return nil
}

func (s *Supervisor) logAbnormalExit(c *child) {
	if c.waitErr == nil {
		return
	}
	logrus.WithFields(logrus.Fields{
		"component": c.name,
		"err":       c.waitErr,
	}).Debugf("child exited abnormally\nstdout:\n%s\nstderr:\n%s", c.stdout.String(), c.stderr.String())
}

// resolveDriverName reads etc/ups.conf under folder and returns the
// driver= value from the [upsName] section, defaulting to snmp-ups.
func resolveDriverName(folder, upsName string) string {
	b, err := os.ReadFile(filepath.Join(folder, "etc", "ups.conf"))
	if err != nil {
		return DefaultDriver
	}

	inSection := false
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inSection = line == "["+upsName+"]"
			continue
		}
		if !inSection || line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) == "driver" {
			if v := strings.Trim(strings.TrimSpace(val), `"`); v != "" {
				return v
			}
		}
	}
	return DefaultDriver
}

// resolveBinary probes bin/ then sbin/ under folder for the named
// executable.
func resolveBinary(folder, name string) (string, error) {
	exe := exeName(name)
	for _, sub := range []string{"bin", "sbin"} {
		p := filepath.Join(folder, sub, exe)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errkind.Newf(errkind.Io, "driver binary %s not found under %s/bin or %s/sbin", exe, folder, folder)
}

func exeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func samePath(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

// captureRing retains the last captureMaxLines lines of a child's
// output, each truncated to captureMaxLineLen characters.
type captureRing struct {
	mu    sync.Mutex
	lines []string
}

func newCaptureRing() *captureRing {
	return &captureRing{}
}

func (r *captureRing) consume(rd io.Reader) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		r.add(sc.Text())
	}
}

func (r *captureRing) add(line string) {
	if len(line) > captureMaxLineLen {
		line = line[:captureMaxLineLen]
	}
	r.mu.Lock()
	if len(r.lines) >= captureMaxLines {
		r.lines = r.lines[1:]
	}
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *captureRing) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}
