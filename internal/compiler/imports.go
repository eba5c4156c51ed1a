package compiler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"codeberg.org/sigterm-de/goplay/internal/logging"
)

// ImportName is one named specifier: import {Imported as Local}.
type ImportName struct {
	Imported string
	Local    string
}

// ImportDecl is a top-level import statement found in esbuild output.
// StartLine and EndLine are 0-based and inclusive.
type ImportDecl struct {
	Source    string
	Default   string
	Namespace string
	Named     []ImportName
	StartLine int
	EndLine   int
}

// Locals returns every local binding the declaration introduces.
func (d ImportDecl) Locals() []string {
	var out []string
	if d.Default != "" {
		out = append(out, d.Default)
	}
	if d.Namespace != "" {
		out = append(out, d.Namespace)
	}
	for _, n := range d.Named {
		out = append(out, n.Local)
	}
	return out
}

// virtualModules maps import sources to the realm globals that stand in for
// them.
var virtualModules = map[string]string{
	"forest":               "forest",
	"effector-dom":         "forest",
	"effector/fork":        "effectorFork",
	"effector-react/scope": "effectorReactSSR",
	"effector-react/ssr":   "effectorReactSSR",
	"patronum":             "patronum",
}

// ambientModules export realm globals directly, so named imports need no
// binding. The value is the global holding the whole module, used for
// default and namespace imports; empty when there is none.
var ambientModules = map[string]string{
	"effector":       "effector",
	"effector-react": "effectorReact",
	"react":          "React",
	"react-dom":      "ReactDOM",
	"solid-js":       "",
}

// ambientBinding binds only what a plain global lookup would not: default
// and namespace imports, and renamed specifiers.
func ambientBinding(d ImportDecl, module string) string {
	var stmts []string
	if module != "" {
		var names []string
		if d.Default != "" {
			names = append(names, d.Default+" = globalThis."+module)
		}
		if d.Namespace != "" {
			names = append(names, d.Namespace+" = globalThis."+module)
		}
		if len(names) > 0 {
			stmts = append(stmts, "const "+strings.Join(names, ", ")+";")
		}
	}
	var renamed []ImportName
	for _, n := range d.Named {
		if n.Imported != n.Local {
			renamed = append(renamed, n)
		}
	}
	if len(renamed) > 0 {
		stmts = append(stmts, destructure(ImportDecl{Named: renamed}, "globalThis"))
	}
	return strings.Join(stmts, " ")
}

// globalFor resolves the realm global for an import source.
func globalFor(source string, opts PluginOptions) (string, bool) {
	if source == "effector-react" && opts.reactSsr() {
		return "effectorReactSSR", true
	}
	if g, ok := virtualModules[source]; ok {
		return g, true
	}
	if strings.HasPrefix(source, "patronum/") {
		return "patronum", true
	}
	return "", false
}

var (
	importStart  = regexp.MustCompile(`^import[\s{*"']`)
	importFrom   = regexp.MustCompile(`(?s)^import\s*(.*?)\s*from\s*["']([^"']+)["'];?\s*$`)
	importEffect = regexp.MustCompile(`^import\s*["']([^"']+)["'];?\s*$`)
	namespaceRe  = regexp.MustCompile(`^\*\s*as\s+([\w$]+)$`)
)

// maxImportLines bounds how far a multi-line import clause is followed.
const maxImportLines = 256

// parseImports finds the top-level import statements in lines. esbuild
// prints top-level statements at column zero, one statement per line except
// for multi-line specifier lists. Lines inside template literals and
// comments are skipped.
func parseImports(lines []string) ([]ImportDecl, error) {
	starts := lineStarts(lines)
	var decls []ImportDecl
	for i := 0; i < len(lines); i++ {
		if !starts[i] || !importStart.MatchString(lines[i]) {
			continue
		}
		var (
			stmt string
			end  = -1
		)
		for j := i; j < len(lines) && j < i+maxImportLines; j++ {
			if j == i {
				stmt = lines[j]
			} else {
				stmt += " " + strings.TrimSpace(lines[j])
			}
			if importEffect.MatchString(stmt) || importFrom.MatchString(stmt) {
				end = j
				break
			}
		}
		if end < 0 {
			return nil, fmt.Errorf("unterminated import at line %d", i+1)
		}
		d, err := parseImportStatement(stmt)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		d.StartLine, d.EndLine = i, end
		decls = append(decls, d)
		i = end
	}
	return decls, nil
}

func parseImportStatement(stmt string) (ImportDecl, error) {
	if m := importEffect.FindStringSubmatch(stmt); m != nil {
		return ImportDecl{Source: m[1]}, nil
	}
	m := importFrom.FindStringSubmatch(stmt)
	if m == nil {
		return ImportDecl{}, fmt.Errorf("malformed import %q", stmt)
	}
	d := ImportDecl{Source: m[2]}
	clause := strings.TrimSpace(m[1])

	// default binding, optionally followed by ", {…}" or ", * as ns"
	if clause != "" && clause[0] != '{' && clause[0] != '*' {
		name, rest, _ := strings.Cut(clause, ",")
		d.Default = strings.TrimSpace(name)
		clause = strings.TrimSpace(rest)
	}
	switch {
	case clause == "":
	case clause[0] == '*':
		ns := namespaceRe.FindStringSubmatch(clause)
		if ns == nil {
			return ImportDecl{}, fmt.Errorf("malformed namespace import %q", clause)
		}
		d.Namespace = ns[1]
	case clause[0] == '{':
		body := strings.TrimSuffix(strings.TrimPrefix(clause, "{"), "}")
		for _, spec := range strings.Split(body, ",") {
			spec = strings.TrimSpace(spec)
			if spec == "" {
				continue
			}
			imported, local, ok := strings.Cut(spec, " as ")
			imported, local = strings.TrimSpace(imported), strings.TrimSpace(local)
			if !ok {
				local = imported
			}
			d.Named = append(d.Named, ImportName{Imported: strings.Trim(imported, `"'`), Local: local})
		}
	default:
		return ImportDecl{}, fmt.Errorf("malformed import clause %q", clause)
	}
	return d, nil
}

// destructure renders the const declaration binding the specifiers of d
// from the object src evaluates to.
func destructure(d ImportDecl, src string) string {
	var parts []string
	if d.Default != "" {
		parts = append(parts, d.Default+" = "+src)
	}
	if d.Namespace != "" {
		parts = append(parts, d.Namespace+" = "+src)
	}
	if len(d.Named) > 0 {
		props := make([]string, len(d.Named))
		for i, n := range d.Named {
			if n.Imported == n.Local {
				props[i] = n.Local
			} else {
				props[i] = propertyKey(n.Imported) + ": " + n.Local
			}
		}
		parts = append(parts, "{"+strings.Join(props, ", ")+"} = "+src)
	}
	if len(parts) == 0 {
		return ""
	}
	return "const " + strings.Join(parts, ", ") + ";"
}

var identRe = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)

func propertyKey(name string) string {
	if identRe.MatchString(name) {
		return name
	}
	return fmt.Sprintf("%q", name)
}

// removeImportsPass rewrites imports of virtual modules into destructuring
// of realm globals and removes every other import. Each statement keeps its
// line span so the source map stays aligned.
func removeImportsPass(u *Unit) error {
	var dropped []string
	for _, d := range u.Imports {
		replacement := ""
		if g, ok := globalFor(d.Source, u.Options); ok {
			replacement = destructure(d, "globalThis."+g)
		} else if module, ok := ambientModules[d.Source]; ok {
			replacement = ambientBinding(d, module)
		} else if d.Source != u.Options.ImportName {
			dropped = append(dropped, d.Source)
		}
		u.Lines[d.StartLine] = replacement
		for l := d.StartLine + 1; l <= d.EndLine; l++ {
			u.Lines[l] = ""
		}
	}
	if len(dropped) > 0 {
		sort.Strings(dropped)
		msg := "removed imports of unknown modules: " + strings.Join(dropped, ", ")
		u.Diagnostics = append(u.Diagnostics, msg)
		logging.Log(logging.WARN, "compiler", msg)
	}
	return removeExports(u)
}

var (
	exportDecl    = regexp.MustCompile(`^export\s+(?:const|let|var|function|async\s+function|class)\b`)
	exportDefault = regexp.MustCompile(`^export\s+default\b`)
	exportList    = regexp.MustCompile(`^export\s*(?:\{|\*)`)
)

// removeExports strips export syntax. "export <decl>" keeps the declaration;
// export lists, re-exports and default exports are removed whole, so a
// default-exported expression never runs. Columns of surviving code are
// kept by padding with spaces.
func removeExports(u *Unit) error {
	starts := lineStarts(u.Lines)
	for i := 0; i < len(u.Lines); i++ {
		if !starts[i] {
			continue
		}
		line := u.Lines[i]
		switch {
		case exportDecl.MatchString(line):
			u.Lines[i] = "       " + line[len("export "):]
		case exportDefault.MatchString(line), exportList.MatchString(line):
			end := statementEnd(u.Lines, i)
			if end < 0 {
				return fmt.Errorf("unterminated export at line %d", i+1)
			}
			for l := i; l <= end; l++ {
				u.Lines[l] = ""
			}
			i = end
		}
	}
	return nil
}
