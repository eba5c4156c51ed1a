package evaluator

import (
	"fmt"

	"codeberg.org/sigterm-de/goplay/internal/compiler"
	"codeberg.org/sigterm-de/goplay/internal/library"
	"codeberg.org/sigterm-de/goplay/internal/realm"
	"github.com/dop251/goja"
)

// apiMethods are the framework creators that get wrapped so every call is
// reported. global is the name user code sees, export the effector export.
var apiMethods = []struct{ global, export string }{
	{"createEvent", "createEvent"},
	{"createEffect", "createEffect"},
	{"createStore", "createStore"},
	{"createStoreObject", "createStoreObject"},
	{"createDomain", "createDomain"},
	{"createApi", "createApi"},
	{"restoreEvent", "restoreEvent"},
	{"restoreEffect", "restoreEffect"},
	{"restore", "restore"},
	{"combine", "combine"},
	{"sample", "sample"},
	{"merge", "merge"},
	{"split", "split"},
	{"clearNode", "clearNode"},
	{"_withFactory", "withFactory"},
}

// unitKinds are the values of the "kind" field __annotate accepts.
var unitKinds = map[string]bool{"store": true, "event": true, "effect": true, "domain": true}

// environment is the set of globals one run injects into the realm.
type environment struct {
	version  string
	view     string
	libs     map[string]goja.Value
	recorder realm.ActivityRecorder
}

// install defines the run globals. Loop-only.
func (e *environment) install(vm *goja.Runtime, r *realm.Realm) error {
	effector, ok := e.libs[library.Effector].(*goja.Object)
	if !ok {
		return fmt.Errorf("evaluator: %s exports missing", library.Effector)
	}

	api := vm.NewObject()
	var keys []string
	for _, m := range apiMethods {
		fn, ok := goja.AssertFunction(effector.Get(m.export))
		if !ok {
			continue
		}
		api.Set(m.global, e.wrap(m.global, fn))
		keys = append(keys, m.global)
	}

	view, lib, err := e.viewBindings(vm, r)
	if err != nil {
		return err
	}
	keys = assignLibrary(api, effector, keys)
	keys = assignLibrary(api, lib, keys)

	for _, k := range keys {
		vm.Set(k, api.Get(k))
	}
	// View bindings win over library exports of the same name, so the JSX
	// factory always resolves to the renderer.
	for k, v := range view {
		vm.Set(k, v)
	}

	vm.Set("__VERSION__", e.version)
	vm.Set("effector", effector)
	vm.Set("effectorFork", effector)
	vm.Set("forest", e.lib(library.Forest))
	vm.Set("dom", e.lib(library.Forest))
	vm.Set("effectorReact", e.lib(library.EffectorReact))
	vm.Set("effectorReactSSR", e.lib(library.EffectorReactSSR))
	vm.Set("patronum", e.lib(library.Patronum))
	vm.Set("__annotate", annotate)
	return nil
}

// lib returns the exports of name, or undefined when the run did not load it.
func (e *environment) lib(name string) goja.Value {
	if v, ok := e.libs[name]; ok && v != nil {
		return v
	}
	return goja.Undefined()
}

// viewBindings returns the renderer globals and the library whose exports
// join the API map.
func (e *environment) viewBindings(vm *goja.Runtime, r *realm.Realm) (map[string]goja.Value, goja.Value, error) {
	react, err := r.Builtin(realm.ModuleReact)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluator: %s: %w", realm.ModuleReact, err)
	}
	if e.view == compiler.ViewSolid {
		o := react.ToObject(vm)
		return map[string]goja.Value{
			"h":        o.Get("createElement"),
			"Fragment": o.Get("Fragment"),
		}, e.lib(library.Forest), nil
	}
	dom, err := r.Builtin(realm.ModuleReactDOM)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluator: %s: %w", realm.ModuleReactDOM, err)
	}
	return map[string]goja.Value{
		"React":    react,
		"ReactDOM": dom,
	}, e.lib(library.EffectorReact), nil
}

// wrap reports every call of fn as an Invocation of method.
func (e *environment) wrap(method string, fn goja.Callable) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		instance, err := fn(call.This, call.Arguments...)
		if err != nil {
			panic(err)
		}
		e.recorder.Invoked(realm.Invocation{
			Method:   method,
			Params:   append([]goja.Value(nil), call.Arguments...),
			Instance: instance,
		})
		return instance
	}
}

// assignLibrary copies the exports of src into dst, keeping keys dst
// already has. It returns keys extended by the copied names.
func assignLibrary(dst *goja.Object, src goja.Value, keys []string) []string {
	obj, ok := src.(*goja.Object)
	if !ok {
		return keys
	}
	for _, k := range obj.Keys() {
		if dst.Get(k) != nil {
			continue
		}
		dst.Set(k, obj.Get(k))
		keys = append(keys, k)
	}
	return keys
}

// annotate implements __annotate(unit, meta): it names framework units after
// the declaration they were assigned to and gives them a stable sid.
func annotate(call goja.FunctionCall) goja.Value {
	unit := call.Argument(0)
	obj, ok := unit.(*goja.Object)
	if !ok {
		return unit
	}
	if kind := obj.Get("kind"); kind == nil || !unitKinds[kind.String()] {
		return unit
	}
	meta, ok := call.Argument(1).(*goja.Object)
	if !ok {
		return unit
	}
	if name := meta.Get("name"); present(name) {
		_ = obj.Set("shortName", name)
	}
	if sid := meta.Get("sid"); present(sid) && !present(obj.Get("sid")) {
		_ = obj.Set("sid", sid)
	}
	return unit
}

func present(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}
