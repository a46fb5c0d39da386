//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// defaultsDomain is the UserDefaults domain holding ticketdesk's settings.
const defaultsDomain = "com.ticketdesk.app"

func defaultDataDir() string {
	return orLocal(appDir("", "Library", "Application Support"), appName+"-data")
}

// defaultsSettings reads and writes UserDefaults through the defaults CLI.
type defaultsSettings struct {
	domain string
}

func newPlatformSettings() Settings {
	return defaultsSettings{domain: defaultsDomain}
}

func (d defaultsSettings) Where() string {
	return "UserDefaults domain " + d.domain
}

func (d defaultsSettings) run(args ...string) (string, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (d defaultsSettings) Lookup(key string) (string, bool, error) {
	out, err := d.run("read", d.domain, key)
	if err == nil {
		return out, true, nil
	}
	// defaults exits 1 for a key that was never written.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", false, nil
	}
	return "", false, fmt.Errorf("defaults read %s: %w (%s)", key, err, out)
}

func (d defaultsSettings) Store(key, value string) error {
	if out, err := d.run("write", d.domain, key, "-string", value); err != nil {
		return fmt.Errorf("defaults write %s: %w (%s)", key, err, out)
	}
	return nil
}

func (d defaultsSettings) Remove(key string) error {
	if out, err := d.run("delete", d.domain, key); err != nil {
		return fmt.Errorf("defaults delete %s: %w (%s)", key, err, out)
	}
	return nil
}
