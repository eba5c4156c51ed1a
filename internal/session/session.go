// Package session persists the playground state between process starts:
// the last source, the selected version and the flag that marks a run as
// in progress.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"codeberg.org/sigterm-de/goplay/internal/logging"
	"gopkg.in/yaml.v3"
	"howett.net/plist"
)

// Guard is prepended to the stored source when the previous process died
// with a run in progress.
const Guard = "throw Error('this code leads to infinite loop')\n"

// State is the persisted session.
type State struct {
	Source  string `yaml:"source" plist:"source"`
	Version string `yaml:"version" plist:"version"`
	// Stuck is set while a run is in progress and cleared when it settles.
	Stuck bool `yaml:"stuck" plist:"stuck"`
}

// Store reads and writes the session file. Files ending in .plist use the
// XML property list format, every other path YAML. Store is safe for
// concurrent use.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store for path. The file is created on first save.
func NewStore(path string) *Store { return &Store{path: path} }

// Path returns the session file path.
func (s *Store) Path() string { return s.path }

// Load reads the session. A missing file yields a zero State and no error.
func (s *Store) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (State, error) {
	var st State
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("session: read: %w", err)
	}
	if s.isPlist() {
		if _, err := plist.Unmarshal(data, &st); err != nil {
			return State{}, fmt.Errorf("session: decode plist: %w", err)
		}
		return st, nil
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("session: decode yaml: %w", err)
	}
	return st, nil
}

// Save writes the session atomically.
func (s *Store) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(st)
}

func (s *Store) save(st State) error {
	var (
		data []byte
		err  error
	)
	if s.isPlist() {
		data, err = plist.MarshalIndent(st, plist.XMLFormat, "\t")
	} else {
		data, err = yaml.Marshal(st)
	}
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("session: create dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	return nil
}

// Update loads the session, applies fn and saves the result.
func (s *Store) Update(fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load()
	if err != nil {
		return err
	}
	fn(&st)
	return s.save(st)
}

// Start loads the session for a new process. When the stored stuck flag is
// set, the source gets the guard prepended and the guarded source is
// persisted with the flag cleared. Empty fields are filled from the
// defaults without being saved.
func (s *Store) Start(defaultSource, defaultVersion string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return State{}, err
	}
	if st.Stuck {
		logging.Log(logging.WARN, "session", "previous run did not finish; guarding stored source")
		if st.Source == "" {
			st.Source = defaultSource
		}
		st.Source = Guard + st.Source
		st.Stuck = false
		if err := s.save(st); err != nil {
			return State{}, err
		}
	}
	if st.Source == "" {
		st.Source = defaultSource
	}
	if st.Version == "" {
		st.Version = defaultVersion
	}
	return st, nil
}

// SetStuck persists the in-progress flag.
func (s *Store) SetStuck(stuck bool) error {
	return s.Update(func(st *State) { st.Stuck = stuck })
}

// Remember persists the current source and version.
func (s *Store) Remember(source, version string) error {
	return s.Update(func(st *State) {
		st.Source = source
		st.Version = version
	})
}

func (s *Store) isPlist() bool {
	return strings.EqualFold(filepath.Ext(s.path), ".plist")
}
