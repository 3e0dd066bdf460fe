package osadapter

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
)

type linuxAdapter struct{}

// New returns the Linux adapter.
func New() Adapter { return &linuxAdapter{} }

func (a *linuxAdapter) EnumerateProcesses() ([]ProcessInfo, error) {
	return enumerateProcesses()
}

func (a *linuxAdapter) KillTree(pid int32) error {
	return killTreeUnix(pid)
}

func (a *linuxAdapter) RequestSleep() error {
	if err := exec.Command("systemctl", "suspend").Run(); err != nil {
		return pkgerrors.Wrap(err, "systemctl suspend failed")
	}
	return nil
}

func (a *linuxAdapter) RequestShutdown() error {
	if err := exec.Command("shutdown", "-h", "now").Run(); err != nil {
		return pkgerrors.Wrap(err, "shutdown failed")
	}
	return nil
}

func (a *linuxAdapter) CancelShutdown() error {
	if err := exec.Command("shutdown", "-c").Run(); err != nil {
		return pkgerrors.Wrap(err, "shutdown -c failed")
	}
	return nil
}

// SetLoginItem manages an XDG autostart desktop entry.
func (a *linuxAdapter) SetLoginItem(enabled bool) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return pkgerrors.Wrap(err, "resolve config dir")
	}
	path := filepath.Join(dir, "autostart", "nutmon.desktop")

	if !enabled {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return pkgerrors.Wrap(err, "remove autostart entry")
		}
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return pkgerrors.Wrap(err, "resolve executable path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pkgerrors.Wrap(err, "create autostart dir")
	}
	entry := fmt.Sprintf("[Desktop Entry]\nType=Application\nName=nutmon\nExec=%s daemon\nX-GNOME-Autostart-enabled=true\n", exe)
	return os.WriteFile(path, []byte(entry), 0o644)
}

func (a *linuxAdapter) ShowToast(title, body string) error {
	if err := exec.Command("notify-send", title, body).Run(); err != nil {
		return pkgerrors.Wrap(err, "notify-send failed")
	}
	return nil
}
