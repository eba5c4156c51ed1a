// Package evaluator runs playground source end to end: it resolves the
// library bundles of a version, compiles the source, executes it in the
// realm and turns every failure into a Record.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"codeberg.org/sigterm-de/goplay/internal/compiler"
	"codeberg.org/sigterm-de/goplay/internal/library"
	"codeberg.org/sigterm-de/goplay/internal/logging"
	"codeberg.org/sigterm-de/goplay/internal/realm"
	"codeberg.org/sigterm-de/goplay/internal/runstate"
	"github.com/dop251/goja"
)

// Request is one evaluation input.
type Request struct {
	Source     string
	Version    string // defaults to master
	FileName   string
	TypeSystem string
	ViewPreset string
	Options    compiler.PluginOptions
}

// Outcome describes a finished run.
type Outcome struct {
	Run      int64
	Version  string // the version the run executed against
	FellBack bool
	State    runstate.State
	Result   *compiler.Result // nil unless compilation succeeded
	Record   *Record          // nil unless the run failed
}

// Evaluator orchestrates runs. It is safe for concurrent use; concurrent
// runs proceed independently and the last one to finish owns the run state.
type Evaluator struct {
	cfg  Config
	runs atomic.Int64
}

// New validates cfg and returns an Evaluator.
func New(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Evaluator{cfg: cfg}, nil
}

// State returns the run state store.
func (e *Evaluator) State() *runstate.Store { return e.cfg.State }

// Compiler returns the compiler runs use.
func (e *Evaluator) Compiler() compiler.Compiler { return e.cfg.Compiler }

// Evaluate performs one run. A failed run returns its Outcome together with
// the *Record as error. ErrDeferred means no run happened. When ctx ends
// before the run settles, the realm is discarded, ctx.Err() is returned and
// the stuck flag stays set.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (out *Outcome, err error) {
	id := e.runs.Add(1)
	version := req.Version
	if version == "" {
		version = library.Master
	}

	r, err := e.cfg.Realms.Ensure()
	if errors.Is(err, realm.ErrNotReady) {
		logging.Logf(logging.DEBUG, "evaluator", "run %d deferred: realm not ready", id)
		return nil, ErrDeferred
	}
	if err != nil {
		return nil, fmt.Errorf("evaluator: %w", err)
	}

	e.cfg.State.Set(runstate.Running)
	e.setStuck(true)
	out = &Outcome{Run: id, Version: version, State: runstate.Running}

	defer func() {
		if p := recover(); p != nil {
			logging.Logf(logging.ERROR, "evaluator", "run %d panicked: %v", id, p)
			out, err = e.fail(out, newRecord(KindRuntime, "InternalError", fmt.Sprint(p), nil))
		}
	}()

	// ── Libraries ────────────────────────────────────────────────────────────
	r, libs, err := e.resolve(ctx, r, out)
	if err != nil {
		if aborted(ctx, err) {
			return nil, e.abort(ctx, id, err)
		}
		return e.fail(out, newRecord(KindLoad, "LoadError", err.Error(), err))
	}

	// ── Compile ──────────────────────────────────────────────────────────────
	res, err := e.cfg.Compiler.Compile(compiler.Request{
		Source:     req.Source,
		FileName:   req.FileName,
		TypeSystem: req.TypeSystem,
		ViewPreset: req.ViewPreset,
		Options:    req.Options,
	})
	if err != nil {
		name, message := "SyntaxError", err.Error()
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			name, message = ce.Name(), ce.Message()
		}
		return e.fail(out, newRecord(KindCompile, name, message, err))
	}
	out.Result = res

	// ── Execute ──────────────────────────────────────────────────────────────
	env := &environment{
		version:  out.Version,
		view:     req.ViewPreset,
		libs:     libs,
		recorder: e.cfg.Recorder,
	}
	f, err := e.execute(ctx, r, res, env)
	if err != nil {
		if aborted(ctx, err) {
			e.cfg.Realms.Release(r)
			return nil, e.abort(ctx, id, err)
		}
		f = &failure{name: "Error", message: err.Error(), err: err}
	}
	if f != nil {
		rec := newRecord(KindRuntime, f.name, f.message, f.err)
		rec.Stack = f.stack
		if frames := e.cfg.Symbolicator.Resolve(f.stack, res.SourceMap, res.GeneratedName); frames != nil {
			rec.StackFrames = frames
		}
		return e.fail(out, rec)
	}

	out.State = runstate.Done
	e.cfg.State.Set(runstate.Done)
	if cb := e.cfg.Callbacks.OnError; cb != nil {
		cb(nil)
	}
	if cb := e.cfg.Callbacks.OnCompiledCodeReady; cb != nil {
		cb(res.Code)
	}
	e.setStuck(false)
	logging.Logf(logging.INFO, "evaluator", "run %d done on %s", id, out.Version)
	return out, nil
}

// resolve loads and instantiates the libraries of out.Version, falling back
// to master once when that fails. It returns the realm the libraries live in.
func (e *Evaluator) resolve(ctx context.Context, r *realm.Realm, out *Outcome) (*realm.Realm, map[string]goja.Value, error) {
	libs, err := e.load(ctx, r, out.Version)
	if err == nil || out.Version == library.Master || aborted(ctx, err) {
		return r, libs, err
	}

	logging.Logf(logging.WARN, "evaluator", "run %d: version %s unavailable, falling back to %s: %v",
		out.Run, out.Version, library.Master, err)
	e.cfg.Realms.Release(r)
	out.Version = library.Master
	out.FellBack = true
	if cb := e.cfg.Callbacks.OnVersionFallback; cb != nil {
		cb(library.Master)
	}

	r, err = e.cfg.Realms.Ensure()
	if err != nil {
		return nil, nil, err
	}
	libs, err = e.load(ctx, r, library.Master)
	return r, libs, err
}

// load fetches the bundles version needs and instantiates them in
// dependency order.
func (e *Evaluator) load(ctx context.Context, r *realm.Realm, version string) (map[string]goja.Value, error) {
	names, err := library.Plan(e.cfg.Loader.Specs(), version)
	if err != nil {
		return nil, err
	}
	bundles, err := e.cfg.Loader.LoadAll(ctx, names, version)
	if err != nil {
		return nil, err
	}

	libs := make(map[string]goja.Value, len(bundles))
	err = r.Do(ctx, func(*goja.Runtime) error {
		for _, b := range bundles {
			deps := make(map[string]goja.Value, len(b.Requires))
			for _, name := range b.Requires {
				deps[name] = libs[name]
			}
			v, err := r.Instantiate(b, deps)
			if err != nil {
				return err
			}
			libs[b.Name] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return libs, nil
}

// failure is a settled rejection, extracted on the loop.
type failure struct {
	name    string
	message string
	stack   string
	err     error
}

// execute injects env, runs the program and waits for the entry promise.
// It returns a nil failure when the promise fulfilled.
func (e *Evaluator) execute(ctx context.Context, r *realm.Realm, res *compiler.Result, env *environment) (*failure, error) {
	settled := make(chan *failure, 1)
	settle := func(f *failure) {
		select {
		case settled <- f:
		default:
		}
	}

	err := r.Do(ctx, func(vm *goja.Runtime) error {
		if err := env.install(vm, r); err != nil {
			return err
		}
		v, err := vm.RunProgram(res.Program)
		if err != nil {
			var interrupted *goja.InterruptedError
			if errors.As(err, &interrupted) {
				return realm.ErrClosed
			}
			settle(thrown(err))
			return nil
		}

		p, ok := v.Export().(*goja.Promise)
		if !ok {
			settle(nil)
			return nil
		}
		switch p.State() {
		case goja.PromiseStateFulfilled:
			settle(nil)
		case goja.PromiseStateRejected:
			settle(rejection(p.Result()))
		default:
			then, ok := goja.AssertFunction(v.ToObject(vm).Get("then"))
			if !ok {
				return fmt.Errorf("evaluator: entry promise has no then")
			}
			onOk := func(goja.FunctionCall) goja.Value {
				settle(nil)
				return goja.Undefined()
			}
			onErr := func(call goja.FunctionCall) goja.Value {
				settle(rejection(call.Argument(0)))
				return goja.Undefined()
			}
			if _, err := then(v, vm.ToValue(onOk), vm.ToValue(onErr)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	select {
	case f := <-settled:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.Done():
		return nil, realm.ErrClosed
	}
}

// thrown converts a synchronous exception from RunProgram.
func thrown(err error) *failure {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		f := rejection(ex.Value())
		if f.stack == "" {
			f.stack = ex.String()
		}
		f.err = err
		return f
	}
	return &failure{name: "Error", message: err.Error(), err: err}
}

// rejection reads name, message and stack off a rejection value. Loop-only.
func rejection(v goja.Value) *failure {
	if !present(v) {
		return &failure{message: fmt.Sprint(v), err: errors.New("rejected")}
	}
	f := &failure{}
	if obj, ok := v.(*goja.Object); ok {
		f.name = stringField(obj, "name")
		f.message = stringField(obj, "message")
		f.stack = stringField(obj, "stack")
	}
	if f.name == "" && f.message == "" {
		f.message = v.String()
	}
	f.err = errors.New(stringOr(f.message, f.name))
	return f
}

func stringField(obj *goja.Object, name string) string {
	if v := obj.Get(name); present(v) {
		return v.String()
	}
	return ""
}

func stringOr(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// aborted reports whether err ends a run without a record: the caller gave
// up, or a newer run discarded the realm.
func aborted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, realm.ErrClosed) || errors.Is(err, realm.ErrNotReady)
}

// abort maps an aborted run to its return error. The stuck flag is left as
// it is: a run that never settled may well have been stuck.
func (e *Evaluator) abort(ctx context.Context, id int64, err error) error {
	if ctx.Err() != nil {
		logging.Logf(logging.WARN, "evaluator", "run %d abandoned: %v", id, ctx.Err())
		return ctx.Err()
	}
	if errors.Is(err, realm.ErrNotReady) {
		return ErrDeferred
	}
	logging.Logf(logging.DEBUG, "evaluator", "run %d superseded", id)
	return ErrSuperseded
}

func (e *Evaluator) fail(out *Outcome, rec *Record) (*Outcome, error) {
	out.State = runstate.Failed
	out.Record = rec
	e.cfg.State.Set(runstate.Failed)
	if cb := e.cfg.Callbacks.OnError; cb != nil {
		cb(rec)
	}
	e.setStuck(false)
	logging.Logf(logging.INFO, "evaluator", "run %d failed on %s: %s", out.Run, out.Version, rec.Error())
	return out, rec
}

func (e *Evaluator) setStuck(stuck bool) {
	if e.cfg.Stuck == nil {
		return
	}
	if err := e.cfg.Stuck.SetStuck(stuck); err != nil {
		logging.Logf(logging.WARN, "evaluator", "persist stuck flag: %v", err)
	}
}
