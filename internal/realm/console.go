package realm

import (
	"encoding/json"
	"fmt"
	"strings"

	"codeberg.org/sigterm-de/goplay/internal/logging"
	"github.com/dop251/goja"
)

// Entry is one console call made inside a realm. Args hold the exported Go
// values of the call arguments; for console.error, Error objects are
// replaced by their stack.
type Entry struct {
	Method string
	Args   []any
}

// LogSink receives console output. Log is called on the realm's event loop
// goroutine and MUST NOT block.
type LogSink interface {
	Log(e Entry)
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(Entry)

func (f LogSinkFunc) Log(e Entry) { f(e) }

var consoleMethods = []string{
	"log", "info", "warn", "error", "debug", "trace", "table", "dir",
	"group", "groupCollapsed", "groupEnd", "time", "timeEnd", "count", "clear",
}

// newConsole builds the console object handed to user code and bundles.
func newConsole(vm *goja.Runtime, sink LogSink) *goja.Object {
	console := vm.NewObject()
	emit := func(method string, args []goja.Value) {
		exported := make([]any, len(args))
		parts := make([]string, len(args))
		for i, a := range args {
			// Getters and proxies run user code during export; a throw
			// there must not escape the console call.
			if ex := vm.Try(func() {
				if method == "error" {
					a = stackOf(a)
				}
				exported[i] = exportArg(a)
			}); ex != nil {
				exported[i] = objectTag(a)
			}
			parts[i] = logText(exported[i])
		}
		logging.Log(logging.INFO, "console."+method, strings.Join(parts, " "))
		sink.Log(Entry{Method: method, Args: exported})
	}

	for _, method := range consoleMethods {
		console.Set(method, func(call goja.FunctionCall) goja.Value {
			if method == "warn" && len(call.Arguments) > 0 {
				if s, ok := primitiveString(call.Arguments[0]); ok && strings.Contains(s, "multiple instances of Solid") {
					return goja.Undefined()
				}
			}
			emit(method, call.Arguments)
			return goja.Undefined()
		})
	}

	console.Set("assert", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 && call.Arguments[0].ToBoolean() {
			return goja.Undefined()
		}
		var args []goja.Value
		if len(call.Arguments) > 1 {
			args = call.Arguments[1:]
		}
		if len(args) == 0 {
			args = []goja.Value{vm.ToValue("console.assert")}
		}
		if s, ok := primitiveString(args[0]); ok {
			args = append([]goja.Value{vm.ToValue("Assertion failed: " + s)}, args[1:]...)
		} else {
			args = append([]goja.Value{vm.ToValue("Assertion failed:")}, args...)
		}
		emit("error", args)
		return goja.Undefined()
	})
	return console
}

// stackOf returns error.stack when v carries one.
func stackOf(v goja.Value) goja.Value {
	obj, ok := v.(*goja.Object)
	if !ok {
		return v
	}
	if st := obj.Get("stack"); st != nil && !goja.IsUndefined(st) && !goja.IsNull(st) {
		return st
	}
	return v
}

// exportArg converts a console argument to a plain Go value. Functions are
// rendered by name since they do not survive export.
func exportArg(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) {
		return nil
	}
	if _, ok := goja.AssertFunction(v); ok {
		name := v.(*goja.Object).Get("name")
		if name == nil || name.String() == "" {
			return "ƒ anonymous()"
		}
		return "ƒ " + name.String() + "()"
	}
	return v.Export()
}

// logText renders an exported argument for the file log without calling
// back into the runtime.
func logText(v any) string {
	switch x := v.(type) {
	case nil:
		return "undefined"
	case string:
		return x
	case map[string]any, []any:
		if b, err := json.Marshal(x); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

// primitiveString returns v when it is a string primitive.
func primitiveString(v goja.Value) (string, bool) {
	if _, isObject := v.(*goja.Object); isObject || v == nil {
		return "", false
	}
	s, ok := v.Export().(string)
	return s, ok
}

// objectTag is the Object.prototype.toString rendering of v, used when v
// cannot be exported.
func objectTag(v goja.Value) string {
	if _, ok := v.(*goja.Object); ok {
		return "[object Object]"
	}
	return v.String()
}
