//go:build windows

package socket

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
	"go.uber.org/zap"
)

// Listen creates the named pipe for endpoint. go-winio's default security
// descriptor restricts it to the current user.
func Listen(endpoint string, logger *zap.Logger) (net.Listener, error) {
	pipePath := extractPipePath(endpoint)
	if pipePath == "" {
		return nil, fmt.Errorf("unsupported endpoint on this platform: %s", endpoint)
	}

	ln, err := winio.ListenPipe(pipePath, &winio.PipeConfig{
		InputBufferSize:  65536,
		OutputBufferSize: 65536,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create named pipe: %w", err)
	}

	logger.Info("Activation pipe listening", zap.String("pipe", pipePath))
	return ln, nil
}
