// Package osadapter isolates every platform-specific operation the
// daemon needs: process enumeration, power state changes, login items,
// and desktop notifications. Core code depends only on the Adapter
// interface; New returns the implementation for the build platform.
package osadapter

import (
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// ProcessInfo describes one running process.
type ProcessInfo struct {
	PID     int32
	Exe     string
	Cmdline string
}

// Adapter is the platform capability set.
type Adapter interface {
	// EnumerateProcesses lists running processes with their executable
	// path and command line. Processes we lack permission to inspect are
	// skipped silently.
	EnumerateProcesses() ([]ProcessInfo, error)

	// KillTree terminates pid and all of its descendants.
	KillTree(pid int32) error

	// RequestSleep suspends the system.
	RequestSleep() error

	// RequestShutdown powers the system off immediately.
	RequestShutdown() error

	// CancelShutdown aborts a previously requested shutdown, where the
	// platform supports it.
	CancelShutdown() error

	// SetLoginItem registers or removes the daemon as a login item.
	SetLoginItem(enabled bool) error

	// ShowToast delivers a desktop notification.
	ShowToast(title, body string) error
}

// enumerateProcesses is the gopsutil-backed implementation shared by
// every platform adapter.
func enumerateProcesses() ([]ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		exe, err := p.Exe()
		if err != nil {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil {
			cmdline = ""
		}
		out = append(out, ProcessInfo{PID: p.Pid, Exe: exe, Cmdline: cmdline})
	}
	return out, nil
}

// killTreeUnix terminates the process group rooted at pid, children
// first so orphans don't get reparented before we reach them.
func killTreeUnix(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	children, err := p.Children()
	if err == nil {
		for _, c := range children {
			if err := killTreeUnix(c.Pid); err != nil {
				logrus.Debugf("failed to kill child %d: %v", c.Pid, err)
			}
		}
	}
	return p.Terminate()
}
