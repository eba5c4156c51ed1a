package compiler

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
)

// creators are the effector factory functions whose results get names and
// stable ids attached.
var creators = map[string]bool{
	"createStore":  true,
	"createEvent":  true,
	"createEffect": true,
	"createDomain": true,
	"createApi":    true,
	"restore":      true,
	"combine":      true,
	"sample":       true,
	"merge":        true,
	"split":        true,
	"attach":       true,
}

// creatorModules are the import sources whose creators are recognised under
// an alias.
var creatorModules = map[string]bool{"effector": true, "effector/compat": true}

var declCall = regexp.MustCompile(`^(\s*)(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:await\s+)?((?:[A-Za-z_$][\w$]*\.)*)([A-Za-z_$][\w$]*)\(`)

// annotatePass appends "__annotate(<id>, {...});" to single-line
// declarations whose initializer calls a creator or a factory. Lines that
// continue a template literal are data, not declarations.
func annotatePass(u *Unit) error {
	known := make(map[string]bool, len(creators))
	for name := range creators {
		known[name] = true
	}
	factories := make(map[string]bool)
	namespaces := map[string]bool{"effector": true}
	for _, d := range u.Imports {
		switch {
		case creatorModules[d.Source] || (u.Options.ImportName != "" && d.Source == u.Options.ImportName):
			for _, n := range d.Named {
				if creators[n.Imported] {
					known[n.Local] = true
				}
			}
			if d.Default != "" {
				namespaces[d.Default] = true
			}
			if d.Namespace != "" {
				namespaces[d.Namespace] = true
			}
		case isFactoryModule(d.Source, u.Options.Factories):
			for _, local := range d.Locals() {
				factories[local] = true
			}
		}
	}

	starts := lineStarts(u.Lines)
	for i, line := range u.Lines {
		if !starts[i] {
			continue
		}
		m := declCall.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		indent, id, receiver, callee := m[1], m[2], m[3], m[4]
		root, _, _ := strings.Cut(receiver, ".")
		factory := (receiver == "" && factories[callee]) || (receiver != "" && factories[root])
		creator := known[callee] && (receiver == "" || namespaces[root] || strings.HasPrefix(callee, "create"))
		if !creator && !factory {
			continue
		}
		if !closesOnLine(line) {
			continue
		}
		u.Lines[i] = line + " __annotate(" + id + ", " + u.annotation(i, len(indent), id, factory) + ");"
	}
	return nil
}

func isFactoryModule(source string, factories []string) bool {
	for _, f := range factories {
		if source == f || strings.HasPrefix(source, strings.TrimSuffix(f, "/")+"/") {
			return true
		}
	}
	return false
}

// closesOnLine reports whether the statement on line ends there: it ends in
// ");" and its parentheses balance once string literals are skipped.
func closesOnLine(line string) bool {
	if !strings.HasSuffix(strings.TrimSpace(line), ");") {
		return false
	}
	depth := 0
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return depth == 0 && quote == 0
}

// annotation renders the metadata object literal for a declaration on the
// 0-based generated line.
func (u *Unit) annotation(line, col int, id string, factory bool) string {
	file, origLine, origCol := u.FileName, line+1, col+1
	if l, c, ok := u.origin(line, col); ok {
		origLine, origCol = l, c
	}

	var fields []string
	if u.Options.addNames() {
		fields = append(fields, "name: "+strconv.Quote(id))
	}
	fields = append(fields, "sid: "+strconv.Quote(sid(file, origLine, origCol, id, u.Options.debugSids())))
	fields = append(fields, fmt.Sprintf("loc: {file: %s, line: %d, column: %d}", strconv.Quote(file), origLine, origCol))
	if factory {
		fields = append(fields, "factory: true")
	}
	return "{" + strings.Join(fields, ", ") + "}"
}

// sid derives a stable unit id. Debug sids are human readable.
func sid(file string, line, col int, name string, debug bool) string {
	if debug {
		return fmt.Sprintf("%s:%d:%d", file, line, col)
	}
	h := fnv.New32a()
	fmt.Fprintf(h, "%s:%d:%s", file, line, name)
	return strconv.FormatUint(uint64(h.Sum32()), 36)
}
