// Package assets exposes the embedded default source, default settings and
// the host view runtime loaded into every realm.
package assets

import (
	"embed"
)

//go:embed default.ts settings.yaml runtime
var embedded embed.FS

// DefaultSource returns the source shown when no session exists.
func DefaultSource() string {
	return string(mustRead("default.ts"))
}

// DefaultSettings returns the contents of the default settings file.
func DefaultSettings() []byte { return mustRead("settings.yaml") }

// ReactRuntime returns the CommonJS source of the host view framework.
func ReactRuntime() string {
	return string(mustRead("runtime/react.js"))
}

func mustRead(name string) []byte {
	data, err := embedded.ReadFile(name)
	if err != nil {
		panic("assets: read " + name + ": " + err.Error())
	}
	return data
}
