// Package logs collects console output of the realm between resets and
// renders it for front ends.
package logs

import (
	"sync"

	"codeberg.org/sigterm-de/goplay/internal/realm"
)

// Log is one captured console call.
type Log struct {
	ID     int64
	Method string
	Data   []any
}

// String renders the log data with console substitutions.
func (l Log) String() string { return Format(l.Data) }

// Buffer collects logs. It implements realm.LogSink and is safe for
// concurrent use. Logs are dropped when the source or version changes and
// when a new realm becomes active.
type Buffer struct {
	mu      sync.Mutex
	logs    []Log
	nextID  int64
	source  string
	version string
	subs    []func(Log)
}

var _ realm.LogSink = (*Buffer)(nil)

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer { return &Buffer{} }

// Log implements realm.LogSink.
func (b *Buffer) Log(e realm.Entry) {
	b.mu.Lock()
	b.nextID++
	l := Log{ID: b.nextID, Method: e.Method, Data: e.Args}
	b.logs = append(b.logs, l)
	subs := append(([]func(Log))(nil), b.subs...)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(l)
	}
}

// Observe records the current source and version and clears the buffer when
// either differs from the previous call. It reports whether it cleared.
func (b *Buffer) Observe(source, version string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if source == b.source && version == b.version {
		return false
	}
	b.source, b.version = source, version
	b.logs = nil
	return true
}

// RealmActivated clears the buffer for a freshly activated realm.
func (b *Buffer) RealmActivated() { b.Clear() }

// Clear drops every log.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = nil
}

// Logs returns the captured logs in order.
func (b *Buffer) Logs() []Log {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Log(nil), b.logs...)
}

// Subscribe calls fn for every later log. fn runs on the realm's event loop
// and must not block.
func (b *Buffer) Subscribe(fn func(Log)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}
