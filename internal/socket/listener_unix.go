//go:build !windows

package socket

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Listen creates the Unix socket for endpoint with owner-only permissions. A socket
// left behind by a crashed launcher is removed; a live one is an error.
func Listen(endpoint string, logger *zap.Logger) (net.Listener, error) {
	if !isUnixSocket(endpoint) {
		return nil, fmt.Errorf("unsupported endpoint on this platform: %s", endpoint)
	}
	socketPath := extractUnixSocketPath(endpoint)
	if socketPath == "" {
		return nil, fmt.Errorf("invalid unix socket path in endpoint: %s", endpoint)
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return nil, fmt.Errorf("cannot create socket directory: %w", err)
	}
	if err := cleanupStaleSocket(socketPath, logger); err != nil {
		return nil, err
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("cannot create Unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		ln.Close()
		os.Remove(socketPath)
		return nil, fmt.Errorf("cannot set socket permissions: %w", err)
	}
	if err := verifySocketOwnership(socketPath); err != nil {
		ln.Close()
		os.Remove(socketPath)
		return nil, err
	}

	logger.Info("Activation socket listening", zap.String("path", socketPath))
	return &unixListener{Listener: ln, socketPath: socketPath, logger: logger}, nil
}

func cleanupStaleSocket(socketPath string, logger *zap.Logger) error {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil
	}

	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("socket is in use by another process: %s", socketPath)
	}

	logger.Info("Removing stale socket file", zap.String("path", socketPath))
	if err := os.Remove(socketPath); err != nil {
		return fmt.Errorf("cannot remove stale socket: %w", err)
	}
	return nil
}

func verifySocketOwnership(socketPath string) error {
	info, err := os.Stat(socketPath)
	if err != nil {
		return fmt.Errorf("cannot stat socket: %w", err)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("cannot get socket ownership info")
	}
	if uid := uint32(os.Getuid()); stat.Uid != uid {
		return fmt.Errorf("socket not owned by current user (uid=%d, expected=%d)", stat.Uid, uid)
	}
	return nil
}

// unixListener removes the socket file on Close.
type unixListener struct {
	net.Listener
	socketPath string
	logger     *zap.Logger
}

func (ul *unixListener) Close() error {
	err := ul.Listener.Close()
	if removeErr := os.Remove(ul.socketPath); removeErr != nil && !os.IsNotExist(removeErr) {
		ul.logger.Warn("Failed to remove socket file", zap.Error(removeErr), zap.String("path", ul.socketPath))
	}
	return err
}
