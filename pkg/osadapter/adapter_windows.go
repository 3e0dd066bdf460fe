package osadapter

import (
	"fmt"
	"os"
	"os/exec"

	pkgerrors "github.com/pkg/errors"
)

type windowsAdapter struct{}

// New returns the Windows adapter.
func New() Adapter { return &windowsAdapter{} }

func (a *windowsAdapter) EnumerateProcesses() ([]ProcessInfo, error) {
	return enumerateProcesses()
}

// KillTree uses taskkill /T so the whole child tree goes down with the
// root; plain TerminateProcess would orphan the driver's helpers.
func (a *windowsAdapter) KillTree(pid int32) error {
	if err := exec.Command("taskkill", "/T", "/F", "/PID", fmt.Sprintf("%d", pid)).Run(); err != nil {
		return pkgerrors.Wrapf(err, "taskkill of pid %d failed", pid)
	}
	return nil
}

func (a *windowsAdapter) RequestSleep() error {
	if err := exec.Command("rundll32.exe", "powrprof.dll,SetSuspendState", "0,1,0").Run(); err != nil {
		return pkgerrors.Wrap(err, "suspend failed")
	}
	return nil
}

func (a *windowsAdapter) RequestShutdown() error {
	if err := exec.Command("shutdown", "/s", "/t", "0").Run(); err != nil {
		return pkgerrors.Wrap(err, "shutdown failed")
	}
	return nil
}

func (a *windowsAdapter) CancelShutdown() error {
	if err := exec.Command("shutdown", "/a").Run(); err != nil {
		return pkgerrors.Wrap(err, "shutdown abort failed")
	}
	return nil
}

func (a *windowsAdapter) SetLoginItem(enabled bool) error {
	exe, err := os.Executable()
	if err != nil {
		return pkgerrors.Wrap(err, "resolve executable path")
	}
	const key = `HKCU\Software\Microsoft\Windows\CurrentVersion\Run`
	if enabled {
		err = exec.Command("reg", "add", key, "/v", "nutmon", "/t", "REG_SZ", "/d", exe+" daemon", "/f").Run()
	} else {
		err = exec.Command("reg", "delete", key, "/v", "nutmon", "/f").Run()
	}
	if err != nil {
		return pkgerrors.Wrap(err, "registry Run key update failed")
	}
	return nil
}

func (a *windowsAdapter) ShowToast(title, body string) error {
	// msg is universally present; proper toast notifications require a
	// packaged AppUserModelID the daemon does not have.
	if err := exec.Command("msg", "*", fmt.Sprintf("%s: %s", title, body)).Run(); err != nil {
		return pkgerrors.Wrap(err, "msg notification failed")
	}
	return nil
}
