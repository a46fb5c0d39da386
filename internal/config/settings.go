package config

// Settings is the persisted, non-secret side of the configuration. Values
// are kept as strings and parsed per key when loaded.
type Settings interface {
	Lookup(key string) (value string, ok bool, err error)
	Store(key, value string) error
	Remove(key string) error
	// Where names the location shown by `ticketdesk config show`.
	Where() string
}

// SettingsLocation describes where SetKey writes on this platform.
func SettingsLocation() string {
	return newPlatformSettings().Where()
}
