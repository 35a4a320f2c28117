// Package settings persists the user's tray preferences.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"
)

// FileName is the settings document inside the data directory.
const FileName = "settings.json"

// Settings is the only durable user state. Unknown keys are ignored; absent or
// mistyped keys keep their default.
type Settings struct {
	UseBetaChannel bool `json:"useBetaChannel"`
	LaunchAtLogin  bool `json:"launchAtLogin"`
}

// Defaults returns the documented default settings.
func Defaults() Settings {
	return Settings{}
}

// Store loads and saves Settings at a fixed path.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore creates a store for <dataDir>/settings.json.
func NewStore(dataDir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   filepath.Join(dataDir, FileName),
		logger: logger.Named("settings"),
	}
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the settings. A missing, unreadable or unparsable document yields the
// defaults. A key holding the wrong type falls back on its own without discarding
// the others. Failures are logged.
func (s *Store) Load() Settings {
	out := Defaults()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read settings, using defaults",
				zap.String("path", s.path), zap.Error(err))
		}
		return out
	}
	if len(data) == 0 {
		return out
	}

	// Hand-edited files may carry comments or trailing commas.
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		s.logger.Warn("Failed to parse settings, using defaults",
			zap.String("path", s.path), zap.Error(err))
		return Defaults()
	}

	fields := map[string]*bool{
		"useBetaChannel": &out.UseBetaChannel,
		"launchAtLogin":  &out.LaunchAtLogin,
	}
	for key, dst := range fields {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			s.logger.Warn("Ignoring invalid setting, using default",
				zap.String("path", s.path), zap.String("key", key), zap.Error(err))
			continue
		}
		*dst = v
	}
	return out
}

// Save writes the settings synchronously, replacing the previous document.
func (s *Store) Save(v Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace settings file: %w", err)
	}

	s.logger.Debug("Settings saved",
		zap.Bool("use_beta_channel", v.UseBetaChannel),
		zap.Bool("launch_at_login", v.LaunchAtLogin))
	return nil
}
