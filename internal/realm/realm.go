// Package realm owns the isolated JavaScript execution context user code
// runs in: a goja runtime driven by an event loop, a minimal document model
// and the instrumentation that reports what the code leaves running.
package realm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"codeberg.org/sigterm-de/goplay/internal/library"
	"codeberg.org/sigterm-de/goplay/internal/logging"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
)

var (
	// ErrNotReady is returned by Manager.Ensure while the host document is
	// not mounted. It is not a failure: callers retry on the next trigger.
	ErrNotReady = errors.New("realm: host document not mounted")

	// ErrClosed is returned for work submitted to a discarded realm.
	ErrClosed = errors.New("realm: closed")

	// errDiscarded interrupts code still running in a discarded realm.
	errDiscarded = errors.New("realm discarded")
)

// Options configure every realm a Manager builds.
type Options struct {
	Sink        LogSink
	Recorder    ActivityRecorder
	Stylesheets []string

	// OnActivate is called with every realm the Manager builds, before
	// Ensure returns it. It MUST NOT call back into the Manager.
	OnActivate func(r *Realm)
}

// Realm is one isolated execution context. All JavaScript access goes
// through Do, which runs on the realm's event loop goroutine; the methods
// documented as loop-only MUST be called from inside Do.
type Realm struct {
	id       int64
	loop     *eventloop.EventLoop
	vm       *goja.Runtime
	modules  *require.RequireModule
	doc      *Document
	console  *goja.Object
	recorder ActivityRecorder

	hostExports *goja.Object
	instances   map[string]goja.Value
	timers      map[any]Timer
	nextTimer   int64

	instrumented     bool
	instrumentations atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

func newRealm(id int64, opts Options) (*Realm, error) {
	if opts.Sink == nil {
		opts.Sink = LogSinkFunc(func(Entry) {})
	}
	if opts.Recorder == nil {
		opts.Recorder = DiscardActivity
	}
	if opts.Stylesheets == nil {
		opts.Stylesheets = DefaultStylesheets
	}

	r := &Realm{
		id:        id,
		loop:      eventloop.NewEventLoop(eventloop.EnableConsole(false)),
		recorder:  opts.Recorder,
		instances: make(map[string]goja.Value),
		timers:    make(map[any]Timer),
		closed:    make(chan struct{}),
	}
	r.loop.Start()

	err := r.Do(context.Background(), func(vm *goja.Runtime) error {
		r.vm = vm
		r.modules = newRegistry(r).Enable(vm)
		// Only bundles get a require, through their module shim.
		vm.Set("require", goja.Undefined())

		r.console = newConsole(vm, opts.Sink)
		vm.Set("console", r.console)

		r.doc = newDocument(vm)
		r.doc.ResetHead(opts.Stylesheets)
		r.doc.ResetBody()
		r.doc.global.obj = vm.GlobalObject()
		r.doc.global.bindEvents(vm.GlobalObject())
		vm.Set("window", vm.GlobalObject())
		vm.Set("self", vm.GlobalObject())
		vm.Set("document", r.doc.object())

		r.instrument(vm)
		return nil
	})
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("realm: setup: %w", err)
	}
	logging.Logf(logging.DEBUG, "realm", "realm %d ready", id)
	return r, nil
}

// ID returns the construction sequence number of the realm.
func (r *Realm) ID() int64 { return r.id }

// Do runs fn on the realm's event loop and waits for it. A panic inside fn
// is returned as an error. When ctx ends first, fn keeps running and
// ctx.Err() is returned.
func (r *Realm) Do(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	done := make(chan error, 1)
	queued := r.loop.RunOnLoop(func(vm *goja.Runtime) {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("realm: panic: %v", p)
			}
		}()
		done <- fn(vm)
	})
	if !queued {
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.closed:
		return ErrClosed
	}
}

// Instantiate executes a bundle inside the module shim and returns its
// exports. The result is memoised per bundle for the life of the realm.
// libs are the modules the bundle's require resolves after the builtins.
// Loop-only.
func (r *Realm) Instantiate(b *library.Bundle, libs map[string]goja.Value) (goja.Value, error) {
	if v, ok := r.instances[b.Key()]; ok {
		return v, nil
	}
	vm := r.vm

	wrapper, err := vm.RunProgram(b.Program)
	if err != nil {
		return nil, fmt.Errorf("realm: instantiate %s: %w", b.Key(), err)
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return nil, fmt.Errorf("realm: instantiate %s: bundle is not a function", b.Key())
	}

	module := vm.NewObject()
	exports := vm.NewObject()
	module.Set("exports", exports)
	env := vm.NewObject()
	env.Set("NODE_ENV", "development")
	process := vm.NewObject()
	process.Set("env", env)

	if _, err := fn(goja.Undefined(), exports, vm.ToValue(r.newRequire(vm, libs)), module, process, r.console); err != nil {
		return nil, fmt.Errorf("realm: instantiate %s: %w", b.Key(), err)
	}
	result := module.Get("exports")
	r.instances[b.Key()] = result
	return result, nil
}

// Builtin returns a builtin module by name. Loop-only.
func (r *Realm) Builtin(name string) (goja.Value, error) {
	if name == ModuleSymbolObservable {
		return symbolObservable(r.vm), nil
	}
	return r.modules.Require(name)
}

// Console returns the realm console object. Loop-only.
func (r *Realm) Console() *goja.Object { return r.console }

// Document returns the realm's document model. Loop-only.
func (r *Realm) Document() *Document { return r.doc }

// Done is closed when the realm is discarded.
func (r *Realm) Done() <-chan struct{} { return r.closed }

// Instrumentations returns how many times instrumentation was installed.
func (r *Realm) Instrumentations() int64 { return r.instrumentations.Load() }

// RootHTML serialises the root element.
func (r *Realm) RootHTML(ctx context.Context) (string, error) {
	var out string
	err := r.Do(ctx, func(*goja.Runtime) error {
		if root := r.doc.Root(); root != nil {
			out = root.OuterHTML()
		}
		return nil
	})
	return out, err
}

// Close interrupts running code and stops the event loop. Pending timers
// are orphaned. Close is idempotent.
func (r *Realm) Close() {
	r.closeOnce.Do(func() {
		if r.vm != nil {
			r.vm.Interrupt(errDiscarded)
		}
		r.loop.StopNoWait()
		close(r.closed)
		logging.Logf(logging.DEBUG, "realm", "realm %d discarded", r.id)
	})
}
