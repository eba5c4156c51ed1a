package realm

import (
	"github.com/dop251/goja"
)

// originalKey holds the unwrapped listener methods on an instrumented
// target and doubles as its wrapped flag.
const originalKey = "__original__"

// instrument wraps timers and listener targets of the realm. It is a no-op
// on an already instrumented realm.
func (r *Realm) instrument(vm *goja.Runtime) {
	if r.instrumented {
		return
	}
	r.instrumented = true
	r.instrumentations.Add(1)

	r.wrapTimers(vm)
	r.wrapListeners(vm, "window", vm.GlobalObject())
	r.wrapListeners(vm, "document", r.doc.object())
	r.wrapListeners(vm, "body", r.doc.body.object())
	if root := r.doc.Root(); root != nil {
		r.wrapListeners(vm, "root", root.object())
	}
}

// ── Timers ───────────────────────────────────────────────────────────────────

func (r *Realm) wrapTimers(vm *goja.Runtime) {
	r.wrapStart(vm, "setTimeout", Timeout)
	r.wrapStart(vm, "setInterval", Interval)
	r.wrapClear(vm, "clearTimeout")
	r.wrapClear(vm, "clearInterval")
}

func (r *Realm) wrapStart(vm *goja.Runtime, name string, kind TimerKind) {
	orig, ok := goja.AssertFunction(vm.Get(name))
	if !ok {
		return
	}
	vm.Set(name, func(call goja.FunctionCall) goja.Value {
		r.nextTimer++
		t := Timer{Kind: kind, ID: r.nextTimer}

		args := append([]goja.Value(nil), call.Arguments...)
		if len(args) > 0 {
			if fn, ok := goja.AssertFunction(args[0]); ok {
				args[0] = vm.ToValue(r.timerCallback(vm, t, fn))
			}
		}
		handle, err := orig(goja.Undefined(), args...)
		if err != nil {
			panic(err)
		}
		r.timers[timerKey(handle)] = t
		r.recorder.TimerStarted(t)
		return handle
	})
}

// timerCallback reports a fired timeout as stopped and keeps exceptions
// thrown by the callback inside the realm console.
func (r *Realm) timerCallback(vm *goja.Runtime, t Timer, fn goja.Callable) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if t.Kind == Timeout {
			r.forgetTimer(t)
		}
		if _, err := fn(goja.Undefined(), call.Arguments...); err != nil {
			r.reportUncaught(vm, err)
		}
		return goja.Undefined()
	}
}

func (r *Realm) wrapClear(vm *goja.Runtime, name string) {
	orig, ok := goja.AssertFunction(vm.Get(name))
	if !ok {
		return
	}
	vm.Set(name, func(call goja.FunctionCall) goja.Value {
		if t, ok := r.timers[timerKey(call.Argument(0))]; ok {
			r.forgetTimer(t)
		}
		if _, err := orig(goja.Undefined(), call.Arguments...); err != nil {
			panic(err)
		}
		return goja.Undefined()
	})
}

func (r *Realm) forgetTimer(t Timer) {
	for k, v := range r.timers {
		if v == t {
			delete(r.timers, k)
			r.recorder.TimerStopped(t)
			return
		}
	}
}

// timerKey identifies a timer handle. Handles wrap Go pointers, so the
// exported value is comparable.
func timerKey(handle goja.Value) any {
	if handle == nil || goja.IsUndefined(handle) || goja.IsNull(handle) {
		return nil
	}
	k := handle.Export()
	switch k.(type) {
	case map[string]any, []any:
		return nil
	}
	return k
}

// reportUncaught logs an exception that escaped an async callback the way a
// browser console would.
func (r *Realm) reportUncaught(vm *goja.Runtime, err error) {
	if _, interrupted := err.(*goja.InterruptedError); interrupted {
		return
	}
	var v goja.Value
	if ex, ok := err.(*goja.Exception); ok {
		v = ex.Value()
	} else {
		v = vm.ToValue(err.Error())
	}
	if fn, ok := goja.AssertFunction(r.console.Get("error")); ok {
		_, _ = fn(r.console, vm.ToValue("Uncaught"), v)
	}
}

// ── Listeners ────────────────────────────────────────────────────────────────

func (r *Realm) wrapListeners(vm *goja.Runtime, name string, target *goja.Object) {
	if v := target.Get(originalKey); v != nil && !goja.IsUndefined(v) {
		return
	}
	add, okAdd := goja.AssertFunction(target.Get("addEventListener"))
	remove, okRemove := goja.AssertFunction(target.Get("removeEventListener"))
	if !okAdd || !okRemove {
		return
	}

	original := vm.NewObject()
	original.Set("addEventListener", target.Get("addEventListener"))
	original.Set("removeEventListener", target.Get("removeEventListener"))
	_ = target.DefineDataProperty(originalKey, original, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)

	listener := func(call goja.FunctionCall) Listener {
		return Listener{
			Type:    call.Argument(0).String(),
			Target:  name,
			Fn:      call.Argument(1),
			Options: call.Argument(2),
		}
	}
	target.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		r.recorder.ListenerAdded(listener(call))
		res, err := add(call.This, call.Arguments...)
		if err != nil {
			panic(err)
		}
		return res
	})
	target.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		r.recorder.ListenerRemoved(listener(call))
		res, err := remove(call.This, call.Arguments...)
		if err != nil {
			panic(err)
		}
		return res
	})
}
