package daemon

import (
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/nutmon/nutmon/pkg/errkind"
)

func TestRemoveStaleSocket(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets only")
	}
	path := filepath.Join(t.TempDir(), "nutmon.sock")

	// Nothing there yet.
	if err := removeStaleSocket(path); err != nil {
		t.Fatalf("missing socket: %v", err)
	}

	// A live daemon's socket must be left alone and reported.
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	err = removeStaleSocket(path)
	if !errkind.Is(err, errkind.State) {
		t.Fatalf("live socket: error kind = %v, want State (%v)", errkind.KindOf(err), err)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("live socket was removed: %v", statErr)
	}

	// Keep the file around on close, like an unclean exit would.
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	_ = l.Close()
	if err := removeStaleSocket(path); err != nil {
		t.Fatalf("stale socket: %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("stale socket still present after cleanup: %v", statErr)
	}
}
