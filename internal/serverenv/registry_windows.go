//go:build windows

package serverenv

import (
	"os"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// registryPath reads the user then machine PATH. Processes started by an installer
// or the login item may not have inherited either.
func registryPath() []string {
	var dirs []string
	read := func(root registry.Key, path string) {
		k, err := registry.OpenKey(root, path, registry.QUERY_VALUE)
		if err != nil {
			return
		}
		defer k.Close()
		value, _, err := k.GetStringValue("Path")
		if err != nil || value == "" {
			return
		}
		// REG_EXPAND_SZ values embed %VAR% references.
		expanded, err := registry.ExpandString(value)
		if err != nil {
			expanded = os.ExpandEnv(value)
		}
		dirs = append(dirs, strings.Split(expanded, ";")...)
	}

	read(registry.CURRENT_USER, `Environment`)
	read(registry.LOCAL_MACHINE, `SYSTEM\CurrentControlSet\Control\Session Manager\Environment`)
	return dirs
}
