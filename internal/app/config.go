package app

import (
	"fmt"
	"path/filepath"

	"github.com/adrg/xdg"
)

const appName = "goplay"

// UserConfiguration holds the runtime paths resolved from the XDG Base
// Directory specification.
type UserConfiguration struct {
	SettingsPath      string // ~/.config/goplay/settings.yaml
	SessionPath       string // ~/.local/state/goplay/session.yaml
	VersionsCachePath string // ~/.cache/goplay/versions.yaml
}

// NewUserConfiguration resolves the XDG paths, creating their parent
// directories when absent.
func NewUserConfiguration() (UserConfiguration, error) {
	settings, err := xdg.ConfigFile(filepath.Join(appName, "settings.yaml"))
	if err != nil {
		return UserConfiguration{}, fmt.Errorf("config: resolve settings path: %w", err)
	}
	session, err := xdg.StateFile(filepath.Join(appName, "session.yaml"))
	if err != nil {
		return UserConfiguration{}, fmt.Errorf("config: resolve session path: %w", err)
	}
	cache, err := xdg.CacheFile(filepath.Join(appName, "versions.yaml"))
	if err != nil {
		return UserConfiguration{}, fmt.Errorf("config: resolve cache path: %w", err)
	}
	return UserConfiguration{
		SettingsPath:      settings,
		SessionPath:       session,
		VersionsCachePath: cache,
	}, nil
}
