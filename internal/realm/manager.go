package realm

import (
	"sync"
)

// Stats count realm lifecycle events.
type Stats struct {
	Constructions    int64
	Instrumentations int64
}

// Manager owns the single live realm. It is safe for concurrent use.
type Manager struct {
	opts Options

	mu       sync.Mutex
	current  *Realm
	mounted  bool
	closed   bool
	nextID   int64
	built    int64
	wrapped  int64
	recorder ActivityRecorder
}

// NewManager returns a mounted manager with no realm; the first Ensure
// builds one.
func NewManager(opts Options) *Manager {
	rec := opts.Recorder
	if rec == nil {
		rec = DiscardActivity
	}
	return &Manager{opts: opts, mounted: true, recorder: rec}
}

// Ensure returns the live realm, constructing one when there is none.
func (m *Manager) Ensure() (*Realm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if !m.mounted {
		return nil, ErrNotReady
	}
	if m.current != nil {
		return m.current, nil
	}

	m.nextID++
	r, err := newRealm(m.nextID, m.opts)
	if err != nil {
		return nil, err
	}
	m.built++
	m.wrapped += r.Instrumentations()
	m.current = r
	if m.opts.OnActivate != nil {
		m.opts.OnActivate(r)
	}
	return r, nil
}

// Current returns the live realm or nil.
func (m *Manager) Current() *Realm {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Invalidate discards the live realm; the next Ensure builds a fresh one.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discard()
}

// Release discards r if it is still the live realm. It leaves a realm
// that already replaced r alone.
func (m *Manager) Release(r *Realm) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == r {
		m.discard()
	}
}

// Mount attaches the host document. Callers re-trigger evaluation after it.
func (m *Manager) Mount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted = true
}

// Unmount detaches the host document and discards the live realm.
func (m *Manager) Unmount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted = false
	m.discard()
}

// Mounted reports whether the host document is attached.
func (m *Manager) Mounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// Stats returns the lifecycle counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Constructions: m.built, Instrumentations: m.wrapped}
}

// Close discards the live realm; later Ensure calls fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.discard()
}

func (m *Manager) discard() {
	if m.current == nil {
		return
	}
	m.current.Close()
	m.current = nil
	m.recorder.RealmReset()
}
