// Package socket provides the local endpoint used between launcher instances: a Unix
// domain socket in the data directory, or a per-user named pipe on Windows.
package socket

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// EndpointEnv overrides the endpoint, mainly for tests and side-by-side installs.
const EndpointEnv = "SIGMA_LAUNCHER_ENDPOINT"

// SocketFileName is the Unix socket inside the data directory.
const SocketFileName = "launcher.sock"

const pipePrefix = "sigma-launcher"

// Endpoint returns the activation endpoint for dataDir, honouring EndpointEnv.
func Endpoint(dataDir string) string {
	if env := os.Getenv(EndpointEnv); env != "" {
		return env
	}
	return DefaultEndpoint(dataDir, runtime.GOOS)
}

// DefaultEndpoint returns unix://<dataDir>/launcher.sock, or on Windows
// npipe:////./pipe/sigma-launcher-<user>-<hash of dataDir>.
func DefaultEndpoint(dataDir, goos string) string {
	if strings.HasPrefix(dataDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dataDir = filepath.Join(home, dataDir[2:])
		}
	}

	if goos == "windows" {
		username := os.Getenv("USERNAME")
		if username == "" {
			username = "default"
		}
		// Different data dirs must not share a pipe.
		hash := sha256.Sum256([]byte(dataDir))
		return fmt.Sprintf("npipe:////./pipe/%s-%s-%x", pipePrefix, username, hash[:4])
	}

	return "unix://" + filepath.Join(dataDir, SocketFileName)
}

func isUnixSocket(endpoint string) bool {
	return strings.HasPrefix(endpoint, "unix://")
}

func extractUnixSocketPath(endpoint string) string {
	return strings.TrimPrefix(endpoint, "unix://")
}

func isNamedPipe(endpoint string) bool {
	return strings.HasPrefix(endpoint, "npipe://")
}

// extractPipePath converts npipe:////./pipe/name to //./pipe/name.
func extractPipePath(endpoint string) string {
	if !isNamedPipe(endpoint) {
		return ""
	}
	pipePath := strings.TrimLeft(strings.TrimPrefix(endpoint, "npipe://"), "/")
	if pipePath == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(pipePath, "./pipe/"):
		pipePath = "//" + pipePath
	case strings.HasPrefix(pipePath, `\\.\`):
	default:
		pipePath = "//./pipe/" + pipePath
	}
	return pipePath
}
