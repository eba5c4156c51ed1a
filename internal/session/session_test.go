package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStartGuardsStuckSource(t *testing.T) {
	for _, name := range []string{"session.yaml", "session.plist"} {
		t.Run(name, func(t *testing.T) {
			s := NewStore(filepath.Join(t.TempDir(), "state", name))

			st, err := s.Start("default()", "master")
			if err != nil {
				t.Fatalf("Start on empty store: %v", err)
			}
			if st.Source != "default()" || st.Version != "master" || st.Stuck {
				t.Fatalf("fresh state = %+v", st)
			}

			if err := s.Remember("while (true) {}", "22.0.0"); err != nil {
				t.Fatal(err)
			}
			if err := s.SetStuck(true); err != nil {
				t.Fatal(err)
			}

			st, err = s.Start("default()", "master")
			if err != nil {
				t.Fatal(err)
			}
			if st.Source != Guard+"while (true) {}" || st.Version != "22.0.0" || st.Stuck {
				t.Errorf("guarded state = %+v", st)
			}
			stored, _ := s.Load()
			if stored != st {
				t.Errorf("stored = %+v; want %+v", stored, st)
			}

			// The guard is applied once.
			again, _ := s.Start("default()", "master")
			if strings.Count(again.Source, Guard) != 1 {
				t.Errorf("source guarded twice: %q", again.Source)
			}
		})
	}
}

func TestPlistEncoding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.plist")
	s := NewStore(path)
	if err := s.Save(State{Source: "a", Version: "master", Stuck: true}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "<key>stuck</key>") {
		t.Errorf("plist output = %s", data)
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	if err := os.WriteFile(path, []byte("source: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(path).Load(); err == nil {
		t.Error("corrupt session loaded without error")
	}
}
