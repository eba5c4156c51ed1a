package realm

import (
	"sync"

	"github.com/dop251/goja"
)

// Listener is an event listener registration observed on an instrumented
// target. Target is the DOM target name: window, document, body or root.
type Listener struct {
	Type    string
	Target  string
	Fn      goja.Value
	Options goja.Value
}

// TimerKind distinguishes setTimeout from setInterval handles.
type TimerKind string

const (
	Timeout  TimerKind = "timeout"
	Interval TimerKind = "interval"
)

// Timer is a timer handle observed through the instrumented timer globals.
type Timer struct {
	Kind TimerKind
	ID   int64
}

// Invocation records a call through one of the wrapped framework creators.
type Invocation struct {
	Method   string
	Params   []goja.Value
	Instance goja.Value
}

// ActivityRecorder observes what code running in a realm leaves behind.
// Methods are called on the realm's event loop goroutine and MUST NOT block.
type ActivityRecorder interface {
	ListenerAdded(l Listener)
	ListenerRemoved(l Listener)
	TimerStarted(t Timer)
	TimerStopped(t Timer)
	Invoked(inv Invocation)
	// RealmReset is called when the realm the activity belonged to is
	// discarded.
	RealmReset()
}

// ActivityLog is an in-memory ActivityRecorder. It is safe for concurrent
// use.
type ActivityLog struct {
	mu          sync.Mutex
	listeners   []Listener
	timers      map[Timer]bool
	invocations []Invocation
	resets      int
}

// NewActivityLog returns an empty log.
func NewActivityLog() *ActivityLog {
	return &ActivityLog{timers: make(map[Timer]bool)}
}

func (a *ActivityLog) ListenerAdded(l Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

// ListenerRemoved drops the first registration with the same type, target
// and function.
func (a *ActivityLog) ListenerRemoved(l Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, x := range a.listeners {
		if x.Type == l.Type && x.Target == l.Target && sameValue(x.Fn, l.Fn) {
			a.listeners = append(a.listeners[:i], a.listeners[i+1:]...)
			return
		}
	}
}

func (a *ActivityLog) TimerStarted(t Timer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timers[t] = true
}

func (a *ActivityLog) TimerStopped(t Timer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.timers, t)
}

func (a *ActivityLog) Invoked(inv Invocation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invocations = append(a.invocations, inv)
}

func (a *ActivityLog) RealmReset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = nil
	a.timers = make(map[Timer]bool)
	a.invocations = nil
	a.resets++
}

// Listeners returns the currently registered listeners.
func (a *ActivityLog) Listeners() []Listener {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Listener(nil), a.listeners...)
}

// Timers returns the number of live timeouts and intervals.
func (a *ActivityLog) Timers() (timeouts, intervals int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for t := range a.timers {
		if t.Kind == Timeout {
			timeouts++
		} else {
			intervals++
		}
	}
	return timeouts, intervals
}

// Invocations returns the recorded creator calls.
func (a *ActivityLog) Invocations() []Invocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Invocation(nil), a.invocations...)
}

// Methods returns the method names of the recorded creator calls in order.
func (a *ActivityLog) Methods() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.invocations))
	for i, inv := range a.invocations {
		out[i] = inv.Method
	}
	return out
}

// Active reports whether anything registered in the realm is still live.
func (a *ActivityLog) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners) > 0 || len(a.timers) > 0
}

// Resets returns how many realms the log has seen discarded.
func (a *ActivityLog) Resets() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resets
}

func sameValue(a, b goja.Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.SameAs(b)
}

// DiscardActivity is an ActivityRecorder that ignores everything.
var DiscardActivity ActivityRecorder = nopRecorder{}

type nopRecorder struct{}

func (nopRecorder) ListenerAdded(Listener)   {}
func (nopRecorder) ListenerRemoved(Listener) {}
func (nopRecorder) TimerStarted(Timer)       {}
func (nopRecorder) TimerStopped(Timer)       {}
func (nopRecorder) Invoked(Invocation)       {}
func (nopRecorder) RealmReset()              {}
