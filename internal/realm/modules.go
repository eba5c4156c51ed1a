package realm

import (
	"fmt"
	"path"
	"strings"

	"codeberg.org/sigterm-de/goplay/assets"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
)

// Builtin module names resolved by the bundle require shim before any
// caller-supplied library.
const (
	ModuleSymbolObservable = "symbol-observable"
	ModulePath             = "path"
	ModuleReact            = "react"
	ModuleReactDOM         = "react-dom"
)

// newRegistry returns the module registry of one realm. Only the builtin
// native modules resolve; every other path is rejected.
func newRegistry(r *Realm) *require.Registry {
	registry := require.NewRegistry(require.WithLoader(blockingRequireLoader))
	registry.RegisterNativeModule(ModulePath, pathModuleLoader)
	registry.RegisterNativeModule(ModuleReact, func(vm *goja.Runtime, module *goja.Object) {
		module.Set("exports", r.host(vm).Get("React"))
	})
	registry.RegisterNativeModule(ModuleReactDOM, func(vm *goja.Runtime, module *goja.Object) {
		module.Set("exports", r.host(vm).Get("ReactDOM"))
	})
	return registry
}

// host evaluates the embedded view runtime once per realm.
func (r *Realm) host(vm *goja.Runtime) *goja.Object {
	if r.hostExports != nil {
		return r.hostExports
	}
	fn, err := vm.RunString("(function (module, exports) {" + assets.ReactRuntime() + "\n})")
	if err != nil {
		panic(vm.NewGoError(fmt.Errorf("host runtime: %w", err)))
	}
	call, _ := goja.AssertFunction(fn)
	module := vm.NewObject()
	exports := vm.NewObject()
	module.Set("exports", exports)
	if _, err := call(goja.Undefined(), module, exports); err != nil {
		panic(vm.NewGoError(fmt.Errorf("host runtime: %w", err)))
	}
	r.hostExports = module.Get("exports").ToObject(vm)
	return r.hostExports
}

// pathModuleLoader exposes a POSIX subset of the node path module.
func pathModuleLoader(vm *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)

	strArgs := func(call goja.FunctionCall) []string {
		out := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			out[i] = a.String()
		}
		return out
	}

	exports.Set("sep", "/")
	exports.Set("delimiter", ":")
	exports.Set("join", func(call goja.FunctionCall) goja.Value {
		joined := path.Join(strArgs(call)...)
		if joined == "" {
			joined = "."
		}
		return vm.ToValue(joined)
	})
	exports.Set("resolve", func(call goja.FunctionCall) goja.Value {
		resolved := "/"
		for _, p := range strArgs(call) {
			if strings.HasPrefix(p, "/") {
				resolved = p
			} else {
				resolved = path.Join(resolved, p)
			}
		}
		return vm.ToValue(path.Clean(resolved))
	})
	exports.Set("normalize", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(path.Clean(call.Argument(0).String()))
	})
	exports.Set("dirname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(path.Dir(call.Argument(0).String()))
	})
	exports.Set("basename", func(call goja.FunctionCall) goja.Value {
		base := path.Base(call.Argument(0).String())
		if ext := call.Argument(1); !goja.IsUndefined(ext) {
			base = strings.TrimSuffix(base, ext.String())
		}
		return vm.ToValue(base)
	})
	exports.Set("extname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(path.Ext(call.Argument(0).String()))
	})
	exports.Set("isAbsolute", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(path.IsAbs(call.Argument(0).String()))
	})
}

// blockingRequireLoader rejects every file module; only the registered
// native modules resolve.
func blockingRequireLoader(p string) ([]byte, error) {
	return nil, fmt.Errorf("cannot find module '%s'", strings.TrimPrefix(p, "node_modules/"))
}

// symbolObservable returns Symbol.observable when the engine defines it and
// the string "@@observable" otherwise.
func symbolObservable(vm *goja.Runtime) goja.Value {
	sym := vm.Get("Symbol")
	if sym != nil {
		if obs := sym.ToObject(vm).Get("observable"); obs != nil && !goja.IsUndefined(obs) {
			return obs
		}
	}
	return vm.ToValue("@@observable")
}

// newRequire returns the closed require function handed to one bundle:
// builtin modules first, then libs, else a console warning and undefined.
func (r *Realm) newRequire(vm *goja.Runtime, libs map[string]goja.Value) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		switch name {
		case ModuleSymbolObservable:
			return symbolObservable(vm)
		case ModulePath, ModuleReact, ModuleReactDOM:
			v, err := r.modules.Require(name)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			return v
		}
		if v, ok := libs[name]; ok {
			return v
		}
		if warn, ok := goja.AssertFunction(r.console.Get("warn")); ok {
			_, _ = warn(r.console, vm.ToValue("require: "), vm.ToValue(name))
		}
		return goja.Undefined()
	}
}
