package config

import (
	"os"
	"path/filepath"
)

const appName = "ticketdesk"

// appDir returns $envVar/ticketdesk, falling back to ~/<homeRel...>/ticketdesk
// when envVar is unset or empty. It returns "" when neither resolves.
func appDir(envVar string, homeRel ...string) string {
	if envVar != "" {
		if dir := os.Getenv(envVar); dir != "" {
			return filepath.Join(dir, appName)
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append(append([]string{home}, homeRel...), appName)...)
}

// orLocal falls back to a directory next to the working directory.
func orLocal(dir, local string) string {
	if dir == "" {
		return local
	}
	return dir
}
