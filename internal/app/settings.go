package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"codeberg.org/sigterm-de/goplay/assets"
	"codeberg.org/sigterm-de/goplay/internal/compiler"
	"codeberg.org/sigterm-de/goplay/internal/library"
	"codeberg.org/sigterm-de/goplay/internal/versions"
	"gopkg.in/yaml.v3"
)

// Settings are the user-configurable defaults of every front end. They are
// read from the settings file and never written back.
type Settings struct {
	Version     string                 `yaml:"version"`
	TypeSystem  string                 `yaml:"typeSystem"` // typescript, flow, none or auto
	View        string                 `yaml:"view"`       // react or solid
	CDN         string                 `yaml:"cdn"`
	Canary      string                 `yaml:"canary"`
	Registry    string                 `yaml:"registry"`
	HTTPTimeout time.Duration          `yaml:"httpTimeout"`
	Stylesheets []string               `yaml:"stylesheets"`
	Compiler    compiler.PluginOptions `yaml:"compiler"`
}

// autoTypeSystem detects the type system per run.
const autoTypeSystem = "auto"

func defaultSettings() Settings {
	var s Settings
	if err := yaml.Unmarshal(assets.DefaultSettings(), &s); err != nil {
		panic("settings: embedded defaults: " + err.Error())
	}
	return s
}

// LoadSettings reads the settings file at path on top of the defaults. A
// missing file yields the defaults; an unreadable one is an error.
func LoadSettings(path string) (Settings, error) {
	s := defaultSettings()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("settings: read: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return defaultSettings(), fmt.Errorf("settings: parse %s: %w", path, err)
	}
	sanitizeSettings(&s)
	return s, nil
}

// sanitizeSettings replaces any field that would make every run fail with
// its default value, so a hand-edited file cannot leave the front ends in a
// broken state.
func sanitizeSettings(s *Settings) {
	def := defaultSettings()
	if !versions.Valid(s.Version) {
		s.Version = def.Version
	}
	switch s.TypeSystem {
	case compiler.TypeScript, compiler.Flow, compiler.NoTypes, autoTypeSystem:
	default:
		s.TypeSystem = def.TypeSystem
	}
	switch s.View {
	case compiler.ViewReact, compiler.ViewSolid:
	default:
		s.View = def.View
	}
	if s.CDN == "" {
		s.CDN = library.DefaultCDN
	}
	if s.Canary == "" {
		s.Canary = library.DefaultCanary
	}
	if s.Registry == "" {
		s.Registry = versions.DefaultRegistry
	}
	if s.HTTPTimeout <= 0 {
		s.HTTPTimeout = def.HTTPTimeout
	}
	if len(s.Stylesheets) == 0 {
		s.Stylesheets = def.Stylesheets
	}
}

// typeSystem is the type system handed to the playground; empty detects.
func (s Settings) typeSystem() string {
	if s.TypeSystem == autoTypeSystem {
		return ""
	}
	return s.TypeSystem
}
