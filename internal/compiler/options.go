package compiler

// PluginOptions configures the framework annotation pass and import
// redirection. Nil pointers, empty strings and empty lists mean "unset".
type PluginOptions struct {
	AddNames   *bool    `yaml:"addNames,omitempty" json:"addNames,omitempty"`
	DebugSids  *bool    `yaml:"debugSids,omitempty" json:"debugSids,omitempty"`
	Factories  []string `yaml:"factories,omitempty" json:"factories,omitempty"`
	ImportName string   `yaml:"importName,omitempty" json:"importName,omitempty"`
	ReactSsr   *bool    `yaml:"reactSsr,omitempty" json:"reactSsr,omitempty"`
}

// Effective returns only the options that carry a value, keyed by their
// configuration names. Unset options are left to the pass defaults.
func (o PluginOptions) Effective() map[string]any {
	out := make(map[string]any, 5)
	if o.AddNames != nil {
		out["addNames"] = *o.AddNames
	}
	if o.DebugSids != nil {
		out["debugSids"] = *o.DebugSids
	}
	if len(o.Factories) > 0 {
		out["factories"] = append([]string(nil), o.Factories...)
	}
	if o.ImportName != "" {
		out["importName"] = o.ImportName
	}
	if o.ReactSsr != nil {
		out["reactSsr"] = *o.ReactSsr
	}
	return out
}

// Normalize drops unset values so two option sets that differ only in
// "unset" spellings compare equal.
func (o PluginOptions) Normalize() PluginOptions {
	if len(o.Factories) == 0 {
		o.Factories = nil
	}
	return o
}

func (o PluginOptions) addNames() bool  { return o.AddNames == nil || *o.AddNames }
func (o PluginOptions) debugSids() bool { return o.DebugSids != nil && *o.DebugSids }
func (o PluginOptions) reactSsr() bool  { return o.ReactSsr != nil && *o.ReactSsr }

// Bool is a convenience for building PluginOptions literals.
func Bool(v bool) *bool { return &v }
