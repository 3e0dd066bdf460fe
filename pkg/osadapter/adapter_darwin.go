package osadapter

import (
	"fmt"
	"os"
	"os/exec"

	pkgerrors "github.com/pkg/errors"
)

type darwinAdapter struct{}

// New returns the macOS adapter.
func New() Adapter { return &darwinAdapter{} }

func (a *darwinAdapter) EnumerateProcesses() ([]ProcessInfo, error) {
	return enumerateProcesses()
}

func (a *darwinAdapter) KillTree(pid int32) error {
	return killTreeUnix(pid)
}

func (a *darwinAdapter) RequestSleep() error {
	if err := exec.Command("pmset", "sleepnow").Run(); err != nil {
		return pkgerrors.Wrap(err, "pmset sleepnow failed")
	}
	return nil
}

func (a *darwinAdapter) RequestShutdown() error {
	if err := exec.Command("osascript", "-e", `tell app "System Events" to shut down`).Run(); err != nil {
		return pkgerrors.Wrap(err, "shutdown via osascript failed")
	}
	return nil
}

// CancelShutdown is a no-op: macOS has no pending-shutdown queue to
// abort once System Events has been told to shut down.
func (a *darwinAdapter) CancelShutdown() error {
	return nil
}

func (a *darwinAdapter) SetLoginItem(enabled bool) error {
	exe, err := os.Executable()
	if err != nil {
		return pkgerrors.Wrap(err, "resolve executable path")
	}
	var script string
	if enabled {
		script = fmt.Sprintf(`tell app "System Events" to make login item at end with properties {path:%q, hidden:true}`, exe)
	} else {
		script = `tell app "System Events" to delete login item "nutmon"`
	}
	if err := exec.Command("osascript", "-e", script).Run(); err != nil {
		return pkgerrors.Wrap(err, "login item toggle failed")
	}
	return nil
}

func (a *darwinAdapter) ShowToast(title, body string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, body, title)
	if err := exec.Command("osascript", "-e", script).Run(); err != nil {
		return pkgerrors.Wrap(err, "display notification failed")
	}
	return nil
}
