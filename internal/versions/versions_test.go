package versions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"
)

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"master":       true,
		"22.8.6":       true,
		"23.0.0-rc.1":  true,
		"22.8":         false,
		"v22.8.6":      false,
		"latest":       false,
		"22.8.6-":      false,
	}
	for v, want := range cases {
		if got := Valid(v); got != want {
			t.Errorf("Valid(%q) = %v; want %v", v, got, want)
		}
	}
}

func TestCatalogOrder(t *testing.T) {
	c := New([]string{"21.8.12", "22.0.0", "master", "bogus", "22.0.0-rc.1", "9.0.0", "22.0.0"})
	want := []string{"master", "22.0.0", "22.0.0-rc.1", "21.8.12", "9.0.0"}
	if got := c.All(); !reflect.DeepEqual(got, want) {
		t.Errorf("All = %v; want %v", got, want)
	}
	if !c.Contains("9.0.0") || c.Contains("bogus") || c.Len() != 5 {
		t.Error("Contains/Len mismatch")
	}
}

func TestCatalogSearch(t *testing.T) {
	c := New([]string{"21.8.12", "22.0.0", "22.8.6"})
	if got := c.Search(""); len(got) != 4 {
		t.Errorf("empty search = %v", got)
	}
	got := c.Search("228")
	if len(got) == 0 || got[0] != "22.8.6" {
		t.Errorf("Search(228) = %v", got)
	}
	if got := c.Search("zzz"); got == nil || len(got) != 0 {
		t.Errorf("Search(zzz) = %#v; want empty non-nil", got)
	}
}

func TestLoadFromRegistryAndCache(t *testing.T) {
	up := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up || r.URL.Path != "/effector" {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"versions": {
			"20.0.0": {"files": ["effector.cjs.js", "index.d.ts"]},
			"0.18.0": {"files": ["effector.js"]},
			"22.1.0": {"files": ["effector.cjs.js"]}
		}}`))
	}))
	defer srv.Close()

	opts := Options{Registry: srv.URL, CachePath: filepath.Join(t.TempDir(), "versions.yaml")}
	c, err := Load(context.Background(), opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"master", "22.1.0", "20.0.0"}
	if !reflect.DeepEqual(c.All(), want) {
		t.Errorf("All = %v; want %v", c.All(), want)
	}

	up = false
	cached, err := Load(context.Background(), opts)
	if err != nil || !reflect.DeepEqual(cached.All(), want) {
		t.Errorf("cached Load = %v, %v", cached, err)
	}

	opts.CachePath = ""
	if _, err := Load(context.Background(), opts); err == nil {
		t.Error("Load without registry or cache succeeded")
	}
}
