// Package compiler turns playground source (TypeScript, Flow or plain
// JavaScript, with JSX) into a script the realm can run: esbuild transforms
// the syntax, registry plugins rewrite the output, and the result is wrapped
// in an async entry function with an inline source map.
package compiler

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"codeberg.org/sigterm-de/goplay/internal/logging"
	"codeberg.org/sigterm-de/goplay/internal/stackframe"
	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/go-sourcemap/sourcemap"
)

// Type systems understood by Compile.
const (
	TypeScript = "typescript"
	Flow       = "flow"
	NoTypes    = "none"
)

// View presets understood by Compile.
const (
	ViewReact = "react"
	ViewSolid = "solid"
)

// EntryFunction is the name of the async function wrapping user code.
const EntryFunction = "main"

// wrapperHeader occupies the first generated line; user code starts on the
// second.
const wrapperHeader = "async function " + EntryFunction + "() {\"use strict\";"

// Request is one compilation input. The output is a deterministic function
// of the request and the compiler's registry.
type Request struct {
	Source     string
	FileName   string
	TypeSystem string
	ViewPreset string
	Options    PluginOptions
}

// Result is a successful compilation.
type Result struct {
	Code          string        // wrapped script with inline source map
	SourceMap     string        // source map JSON for Code
	FileName      string        // original file name (source map source)
	GeneratedName string        // program name reported in engine stack frames
	Program       *goja.Program // parsed and compiled Code, reusable across runtimes
	Diagnostics   []string      // non-fatal notes, e.g. removed imports
}

// Unit is the mutable state plugins operate on: esbuild's output split into
// lines. Plugins MUST keep the number of lines and the columns of code they
// do not rewrite, so that the source map stays valid.
type Unit struct {
	Lines       []string
	FileName    string
	Options     PluginOptions
	Imports     []ImportDecl
	Diagnostics []string

	consumer *sourcemap.Consumer
}

// origin maps a 0-based generated line and column of the esbuild output to
// the 1-based original line and column.
func (u *Unit) origin(line, col int) (int, int, bool) {
	if u.consumer == nil {
		return 0, 0, false
	}
	_, _, l, c, ok := u.consumer.Source(line+1, col)
	if !ok || l <= 0 {
		return 0, 0, false
	}
	return l, c + 1, true
}

// Compiler compiles playground source.
type Compiler interface {
	// Compile MUST NOT execute anything. Errors are *CompileError.
	Compile(req Request) (*Result, error)
	Registry() *Registry
}

type compiler struct {
	reg *Registry
}

// New returns a Compiler drawing plugins and presets from reg. A nil reg
// uses NewRegistry().
func New(reg *Registry) Compiler {
	if reg == nil {
		reg = NewRegistry()
	}
	return &compiler{reg: reg}
}

func (c *compiler) Registry() *Registry { return c.reg }

var scriptExt = regexp.MustCompile(`\.[jt]sx?$`)

// FileNameFor returns the file name used for the source map, adding an
// extension matching the type system when name has none.
func FileNameFor(name, typeSystem string) string {
	if name == "" {
		name = "repl"
	}
	if scriptExt.MatchString(name) {
		return name
	}
	if typeSystem == TypeScript {
		return name + ".ts"
	}
	return name + ".js"
}

// GeneratedNameFor is the program name of the compiled script.
func GeneratedNameFor(fileName string) string {
	return strings.TrimSuffix(fileName, path.Ext(fileName)) + ".compiled.js"
}

// Compile implements Compiler.
func (c *compiler) Compile(req Request) (*Result, error) {
	typeSystem := req.TypeSystem
	if typeSystem == "" {
		typeSystem = TypeScript
	}
	view := req.ViewPreset
	if view == "" {
		view = ViewReact
	}
	fileName := FileNameFor(req.FileName, typeSystem)
	generated := GeneratedNameFor(fileName)

	lang, err := c.reg.Preset(typeSystem)
	if err != nil {
		return nil, &CompileError{Err: err}
	}
	jsx, err := c.reg.Preset(view)
	if err != nil {
		return nil, &CompileError{Err: err}
	}

	// ── esbuild transform ────────────────────────────────────────────────────
	features := c.reg.features()
	features["top-level-await"] = true
	features["async-await"] = true
	out := api.Transform(req.Source, api.TransformOptions{
		Loader:         lang.Loader,
		Sourcefile:     fileName,
		Sourcemap:      api.SourceMapExternal,
		SourcesContent: api.SourcesContentInclude,
		Target:         api.ESNext,
		JSX:            api.JSXTransform,
		JSXFactory:     jsx.JSXFactory,
		JSXFragment:    jsx.JSXFragment,
		Supported:      features,
		LogLevel:       api.LogLevelSilent,
	})
	if len(out.Errors) > 0 {
		return nil, newCompileError(out.Errors)
	}

	// ── Plugin passes ────────────────────────────────────────────────────────
	code := strings.TrimSuffix(string(out.Code), "\n")
	unit := &Unit{
		Lines:    strings.Split(code, "\n"),
		FileName: fileName,
		Options:  req.Options.Normalize(),
	}
	if code == "" {
		unit.Lines = nil
	}
	if consumer, err := sourcemap.Parse("", out.Map); err == nil {
		unit.consumer = consumer
	} else {
		logging.Logf(logging.WARN, "compiler", "esbuild source map unreadable: %v", err)
	}
	if unit.Imports, err = parseImports(unit.Lines); err != nil {
		return nil, &CompileError{Err: err}
	}
	lineCount := len(unit.Lines)
	for _, p := range c.reg.Plugins() {
		if p.Apply == nil {
			continue
		}
		if err := p.Apply(unit); err != nil {
			return nil, &CompileError{Err: fmt.Errorf("%s: %w", p.Name, err)}
		}
		if len(unit.Lines) != lineCount {
			return nil, &CompileError{Err: fmt.Errorf("%s: plugin changed the line count", p.Name)}
		}
	}

	// ── Wrap + source map ────────────────────────────────────────────────────
	sm, err := shiftSourceMap(out.Map, generated, 1)
	if err != nil {
		return nil, &CompileError{Err: err}
	}
	var b strings.Builder
	b.WriteString(wrapperHeader)
	b.WriteByte('\n')
	for _, l := range unit.Lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteString("}\n")
	b.WriteString(EntryFunction + "()\n")
	b.WriteString("//# sourceURL=" + generated + "\n")
	b.WriteString(stackframe.InlineSourceMapComment(sm))
	wrapped := b.String()

	// ── Engine parse ─────────────────────────────────────────────────────────
	// goja would otherwise apply the inline map itself and report original
	// positions; the symbolicator expects generated ones.
	ast, err := goja.Parse(generated, wrapped, parser.WithDisableSourceMaps)
	if err != nil {
		return nil, &CompileError{Err: err}
	}
	prg, err := goja.CompileAST(ast, true)
	if err != nil {
		return nil, &CompileError{Err: err}
	}

	return &Result{
		Code:          wrapped,
		SourceMap:     sm,
		FileName:      fileName,
		GeneratedName: generated,
		Program:       prg,
		Diagnostics:   unit.Diagnostics,
	}, nil
}

// shiftSourceMap moves every mapping down by lines generated lines and sets
// the map's file name.
func shiftSourceMap(raw []byte, file string, lines int) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("decode source map: %w", err)
	}
	mappings, _ := m["mappings"].(string)
	m["mappings"] = strings.Repeat(";", lines) + mappings
	m["file"] = file
	out, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode source map: %w", err)
	}
	return string(out), nil
}
