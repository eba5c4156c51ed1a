package compiler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
)

// Plugin is one step of the compile pipeline. Features toggles esbuild
// syntax support (false lowers the feature to older syntax); Apply, when
// set, rewrites esbuild's output in place.
type Plugin struct {
	Name     string
	Features map[string]bool
	Apply    func(u *Unit) error
}

// Preset selects the loader and JSX settings for a type system or view
// library.
type Preset struct {
	Name        string
	Loader      api.Loader
	JSXFactory  string
	JSXFragment string
}

// Registry holds the named plugins and presets a Compiler draws from. It is
// an explicit value: each Compiler owns the registry it was built with.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	plugins map[string]Plugin
	presets map[string]Preset
}

// NewRegistry returns a registry populated with the baseline plugin list
// and the typescript, flow, react and solid presets.
func NewRegistry() *Registry {
	r := &Registry{
		plugins: make(map[string]Plugin),
		presets: make(map[string]Preset),
	}
	for _, p := range baselinePlugins() {
		r.RegisterPlugin(p)
	}
	r.RegisterPreset(Preset{Name: "typescript", Loader: api.LoaderTSX})
	// Flow annotations are parsed with the TSX loader; the common subset of
	// the two annotation syntaxes covers playground snippets.
	r.RegisterPreset(Preset{Name: "flow", Loader: api.LoaderTSX})
	r.RegisterPreset(Preset{Name: "none", Loader: api.LoaderJSX})
	r.RegisterPreset(Preset{Name: "react", JSXFactory: "React.createElement", JSXFragment: "React.Fragment"})
	r.RegisterPreset(Preset{Name: "solid", JSXFactory: "h", JSXFragment: "Fragment"})
	return r
}

// RegisterPlugin adds p, replacing a plugin of the same name in place.
func (r *Registry) RegisterPlugin(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[p.Name]; !ok {
		r.order = append(r.order, p.Name)
	}
	r.plugins[p.Name] = p
}

// RegisterPreset adds p, replacing a preset of the same name.
func (r *Registry) RegisterPreset(p Preset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets[p.Name] = p
}

// Plugins returns the registered plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.plugins[name])
	}
	return out
}

// Preset looks up a preset by name.
func (r *Registry) Preset(name string) (Preset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset %q", name)
	}
	return p, nil
}

// features merges the Features of every plugin. Later plugins win.
func (r *Registry) features() map[string]bool {
	out := make(map[string]bool)
	for _, p := range r.Plugins() {
		for k, v := range p.Features {
			out[k] = v
		}
	}
	return out
}

// PluginNames lists the registered plugin names in order.
func (r *Registry) PluginNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// PresetNames lists the registered preset names sorted.
func (r *Registry) PresetNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.presets))
	for name := range r.presets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func baselinePlugins() []Plugin {
	return []Plugin{
		{Name: "transform-strict-mode"},
		{Name: "syntax-bigint", Features: map[string]bool{"bigint": true}},
		// esbuild's printer drops numeric separators on its own.
		{Name: "proposal-numeric-separator"},
		{Name: "proposal-nullish-coalescing-operator", Features: map[string]bool{"nullish-coalescing": false}},
		{Name: "proposal-optional-chaining", Features: map[string]bool{"optional-chain": false}},
		{Name: "proposal-class-properties", Features: map[string]bool{"class-field": false, "class-static-field": false}},
		{Name: "effector/babel-plugin", Apply: annotatePass},
		{Name: "@effector/repl-remove-imports", Apply: removeImportsPass},
	}
}
