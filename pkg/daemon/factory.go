package daemon

import (
	"net"
	"os"
	"time"

	"github.com/grovetools/multiworld/errors"
	"github.com/grovetools/multiworld/pkg/paths"
)

// New returns a Client connected to the daemon at socketPath (the default
// socket when empty). It fails with DAEMON_NOT_RUNNING when nothing listens.
func New(socketPath string, id Identity) (Client, error) {
	if socketPath == "" {
		socketPath = paths.SocketPath()
	}
	if !Reachable(socketPath) {
		return nil, errors.DaemonNotRunning(socketPath)
	}
	return NewRemoteClient(socketPath, id)
}

// Reachable reports whether something accepts connections on socketPath.
func Reachable(socketPath string) bool {
	if _, err := os.Stat(socketPath); err != nil {
		return false
	}
	conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
