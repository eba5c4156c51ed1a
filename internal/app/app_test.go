package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeberg.org/sigterm-de/goplay/internal/compiler"
	"codeberg.org/sigterm-de/goplay/internal/library"
	"github.com/adrg/xdg"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Version != library.Master || s.View != compiler.ViewReact || s.TypeSystem != compiler.TypeScript {
		t.Errorf("defaults = %+v", s)
	}
	if s.HTTPTimeout != 30*time.Second || len(s.Stylesheets) != 2 {
		t.Errorf("defaults = %+v", s)
	}
	if s.Compiler.AddNames == nil || !*s.Compiler.AddNames {
		t.Error("compiler.addNames not set by defaults")
	}
}

func TestLoadSettingsSanitizes(t *testing.T) {
	cases := []struct {
		name  string
		yaml  string
		check func(Settings) bool
	}{
		{"partial override keeps defaults", "view: solid\n", func(s Settings) bool {
			return s.View == compiler.ViewSolid && s.CDN == library.DefaultCDN
		}},
		{"invalid version", "version: latest\n", func(s Settings) bool { return s.Version == library.Master }},
		{"concrete version", "version: 22.8.0\n", func(s Settings) bool { return s.Version == "22.8.0" }},
		{"unknown view", "view: vue\n", func(s Settings) bool { return s.View == compiler.ViewReact }},
		{"auto type system", "typeSystem: auto\n", func(s Settings) bool { return s.typeSystem() == "" }},
		{"unknown type system", "typeSystem: coffee\n", func(s Settings) bool { return s.TypeSystem == compiler.TypeScript }},
		{"zero timeout", "httpTimeout: 0s\n", func(s Settings) bool { return s.HTTPTimeout == 30*time.Second }},
		{"compiler options", "compiler:\n  debugSids: true\n  factories: [lib/factory]\n", func(s Settings) bool {
			return s.Compiler.DebugSids != nil && *s.Compiler.DebugSids && len(s.Compiler.Factories) == 1
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "settings.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			s, err := LoadSettings(path)
			if err != nil {
				t.Fatal(err)
			}
			if !tc.check(s) {
				t.Errorf("settings = %+v", s)
			}
		})
	}
}

func TestLoadSettingsRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("view: [unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSettings(path)
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if s.View != compiler.ViewReact {
		t.Errorf("settings after error = %+v; want defaults", s)
	}
}

// isolate points the XDG directories at a temp dir and writes settings that
// fetch every bundle from srv.
func isolate(t *testing.T, srv *httptest.Server) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(home, "state"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, "cache"))
	xdg.Reload()
	t.Cleanup(xdg.Reload)

	dir := filepath.Join(home, "config", appName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	settings := "cdn: " + srv.URL + "\ncanary: " + srv.URL + "\nhttpTimeout: 5s\n"
	if err := os.WriteFile(filepath.Join(dir, "settings.yaml"), []byte(settings), 0o644); err != nil {
		t.Fatal(err)
	}
}

func bundleServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/effector.cjs.js") {
			w.Write([]byte("exports.createStore = function (v) { return {kind: 'store', sid: null, getState: function () { return v }} }\n"))
			return
		}
		w.Write([]byte("module.exports = {}\n"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunCommand(t *testing.T) {
	isolate(t, bundleServer(t))

	cases := []struct {
		name     string
		source   string
		code     int
		stdout   string
		stderrIn string
	}{
		{"success", "console.log('sum', 1 + 1)\n", exitOK, "sum 2\n", ""},
		{"runtime error", "throw new Error('boom')\n", exitFailed, "", "Error: boom"},
		{"compile error", "const = \n", exitFailed, "", "SyntaxError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run([]string{"run", "-"}, "test", strings.NewReader(tc.source), &stdout, &stderr)
			if code != tc.code {
				t.Fatalf("exit = %d; want %d; stderr = %s", code, tc.code, stderr.String())
			}
			if tc.stdout != "" && stdout.String() != tc.stdout {
				t.Errorf("stdout = %q; want %q", stdout.String(), tc.stdout)
			}
			if tc.stderrIn != "" && !strings.Contains(stderr.String(), tc.stderrIn) {
				t.Errorf("stderr = %q; want it to contain %q", stderr.String(), tc.stderrIn)
			}
		})
	}
}

func TestRunCommandRendersDOM(t *testing.T) {
	isolate(t, bundleServer(t))
	src := "ReactDOM.render(React.createElement('i', null, 'x'), document.getElementById('root'))\n"
	var stdout, stderr bytes.Buffer
	if code := run([]string{"run", "-dom", "-"}, "test", strings.NewReader(src), &stdout, &stderr); code != exitOK {
		t.Fatalf("exit = %d; stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "<i>x</i>") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, "test", nil, &stdout, &stderr); code != exitUsage {
		t.Errorf("exit = %d; want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), "usage: goplay") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
