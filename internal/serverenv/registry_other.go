//go:build !windows

package serverenv

func registryPath() []string { return nil }
