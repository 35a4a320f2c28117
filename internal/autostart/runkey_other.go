//go:build !windows

package autostart

import "go.uber.org/zap"

func newRunKey(string, []string, *zap.Logger) (Registrar, error) {
	return nil, ErrUnsupported
}
