//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/jsonc"
)

func defaultDataDir() string {
	return orLocal(appDir("XDG_DATA_HOME", ".local", "share"), appName+"-data")
}

func settingsFilePath() string {
	return filepath.Join(orLocal(appDir("XDG_CONFIG_HOME", ".config"), "."), "config.json")
}

// fileSettings is a flat JSON object keyed by dotted config key. The file
// may carry comments and trailing commas; rewriting it drops them.
type fileSettings struct {
	path   string
	values map[string]any
}

func newPlatformSettings() Settings {
	s := &fileSettings{path: settingsFilePath(), values: make(map[string]any)}
	if err := s.read(); err != nil {
		warnf("%v. Using default values.", err)
	}
	return s
}

func (s *fileSettings) Where() string { return s.path }

func (s *fileSettings) read() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not read config file %s: %w", s.path, err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(raw), &s.values); err != nil {
		return fmt.Errorf("could not parse config file %s: %w", s.path, err)
	}
	return nil
}

func (s *fileSettings) write() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	raw, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, append(raw, '\n'), 0o600)
}

// Lookup renders JSON numbers and booleans in their literal form so that
// hand-written files may use `"server.port": 4100`.
func (s *fileSettings) Lookup(key string) (string, bool, error) {
	v, ok := s.values[key]
	if !ok {
		return "", false, nil
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true, nil
	case bool:
		return strconv.FormatBool(val), true, nil
	default:
		return "", true, fmt.Errorf("%s: expected a string or number, got %T", key, v)
	}
}

func (s *fileSettings) Store(key, value string) error {
	s.values[key] = value
	return s.write()
}

func (s *fileSettings) Remove(key string) error {
	delete(s.values, key)
	return s.write()
}
