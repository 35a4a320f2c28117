//go:build windows

package socket

import (
	"context"
	"fmt"
	"net"

	winio "github.com/Microsoft/go-winio"
)

// CreateDialer returns a DialContext for an npipe:// endpoint and the placeholder
// base URL to use with it. Other endpoints yield a nil dialer and are returned as-is.
func CreateDialer(endpoint string) (func(context.Context, string, string) (net.Conn, error), string, error) {
	if !isNamedPipe(endpoint) {
		return nil, endpoint, nil
	}

	pipePath := extractPipePath(endpoint)
	if pipePath == "" {
		return nil, "", fmt.Errorf("invalid named pipe path in endpoint: %s", endpoint)
	}

	dialer := func(ctx context.Context, _, _ string) (net.Conn, error) {
		return winio.DialPipeContext(ctx, pipePath)
	}
	return dialer, "http://localhost", nil
}
