//go:build !windows

package socket

import (
	"context"
	"fmt"
	"net"
)

// CreateDialer returns a DialContext for a unix:// endpoint and the placeholder
// base URL to use with it. Other endpoints yield a nil dialer and are returned as-is.
func CreateDialer(endpoint string) (func(context.Context, string, string) (net.Conn, error), string, error) {
	if !isUnixSocket(endpoint) {
		return nil, endpoint, nil
	}

	socketPath := extractUnixSocketPath(endpoint)
	if socketPath == "" {
		return nil, "", fmt.Errorf("invalid unix socket path in endpoint: %s", endpoint)
	}

	dialer := func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
	return dialer, "http://localhost", nil
}
