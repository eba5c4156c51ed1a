// Package library fetches the versioned CommonJS bundles user code runs
// against and compiles each one once per process.
package library

import (
	"fmt"
	"strings"
)

// Master is the sentinel version served from the canary location.
const Master = "master"

// Default bundle locations.
const (
	DefaultCDN    = "https://unpkg.com"
	DefaultCanary = "https://effector--canary.s3-eu-west-1.amazonaws.com"
)

// Library names known to the default registry.
const (
	Effector         = "effector"
	SyncShim         = "use-sync-external-store/shim"
	SyncWithSelector = "use-sync-external-store/shim/with-selector"
	EffectorReact    = "effector-react"
	Forest           = "forest"
	EffectorReactSSR = "effector-react/scope"
	Patronum         = "patronum"
)

// Spec describes where a library is fetched from. URL templates may use
// {cdn}, {canary} and {version}.
type Spec struct {
	Name string
	// VersionedURL is used for concrete versions. Empty means the canary
	// URL is used for every version.
	VersionedURL string
	CanaryURL    string
	// MasterOnly libraries are only part of a run plan for the master version.
	MasterOnly bool
	// Requires lists the libraries the bundle require()s, in load order.
	Requires []string
}

// URL resolves the download location of the spec for version.
func (s Spec) URL(version, cdn, canary string) string {
	tmpl := s.VersionedURL
	if version == Master || tmpl == "" {
		tmpl = s.CanaryURL
	}
	return strings.NewReplacer(
		"{cdn}", strings.TrimSuffix(cdn, "/"),
		"{canary}", strings.TrimSuffix(canary, "/"),
		"{version}", version,
	).Replace(tmpl)
}

// DefaultSpecs returns the library registry of the playground.
func DefaultSpecs() []Spec {
	const (
		shimURL         = "{cdn}/use-sync-external-store/cjs/use-sync-external-store-shim.production.min.js"
		withSelectorURL = "{cdn}/use-sync-external-store/cjs/use-sync-external-store-shim/with-selector.production.min.js"
	)
	return []Spec{
		{
			Name:         Effector,
			VersionedURL: "{cdn}/effector@{version}/effector.cjs.js",
			CanaryURL:    "{canary}/effector/effector.cjs.js",
		},
		{Name: SyncShim, VersionedURL: shimURL, CanaryURL: shimURL},
		{Name: SyncWithSelector, VersionedURL: withSelectorURL, CanaryURL: withSelectorURL, Requires: []string{SyncShim}},
		{
			Name:      EffectorReact,
			CanaryURL: "{canary}/effector-react/effector-react.cjs.js",
			Requires:  []string{Effector, SyncShim, SyncWithSelector},
		},
		{
			Name:       Forest,
			CanaryURL:  "{canary}/forest/forest.cjs.js",
			MasterOnly: true,
			Requires:   []string{Effector},
		},
		{
			Name:       EffectorReactSSR,
			CanaryURL:  "{canary}/effector-react/scope.js",
			MasterOnly: true,
			Requires:   []string{Effector, SyncShim, SyncWithSelector},
		},
		{
			Name:         Patronum,
			VersionedURL: "{cdn}/patronum/patronum.cjs",
			CanaryURL:    "{cdn}/patronum/patronum.cjs",
			MasterOnly:   true,
			Requires:     []string{Effector},
		},
	}
}

// Plan returns the libraries a run on version needs, in an order where
// every library follows its requirements.
func Plan(specs []Spec, version string) ([]string, error) {
	byName := make(map[string]Spec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}

	var (
		order []string
		state = make(map[string]int) // 1 visiting, 2 done
		visit func(name string) error
	)
	visit = func(name string) error {
		switch state[name] {
		case 1:
			return fmt.Errorf("library: dependency cycle at %q", name)
		case 2:
			return nil
		}
		s, ok := byName[name]
		if !ok {
			return fmt.Errorf("library: unknown library %q", name)
		}
		state[name] = 1
		for _, dep := range s.Requires {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = 2
		order = append(order, name)
		return nil
	}

	for _, s := range specs {
		if s.MasterOnly && version != Master {
			continue
		}
		if err := visit(s.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
