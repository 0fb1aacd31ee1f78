package config

import (
	"strconv"
	"time"
)

// SettingsGetter is the read side of the catalog settings store.
type SettingsGetter interface {
	GetSetting(key string) (string, error)
}

// Loader provides typed access to catalog settings with defaults. Lookup
// errors and malformed values fall back to the default; settings tune
// behavior, they never abort it.
type Loader struct {
	settings SettingsGetter
}

// NewLoader creates a settings loader.
func NewLoader(settings SettingsGetter) *Loader {
	return &Loader{settings: settings}
}

// Int retrieves an integer setting.
func (l *Loader) Int(key string, defaultVal int) int {
	if val, _ := l.settings.GetSetting(key); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			return v
		}
	}
	return defaultVal
}

// Bool retrieves a boolean setting. Only "true" is true.
func (l *Loader) Bool(key string, defaultVal bool) bool {
	if val, _ := l.settings.GetSetting(key); val != "" {
		return val == "true"
	}
	return defaultVal
}

// String retrieves a string setting.
func (l *Loader) String(key, defaultVal string) string {
	if val, _ := l.settings.GetSetting(key); val != "" {
		return val
	}
	return defaultVal
}

// Duration retrieves a setting in Go duration format (e.g. "1h30m").
func (l *Loader) Duration(key string, defaultVal time.Duration) time.Duration {
	if val, _ := l.settings.GetSetting(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
