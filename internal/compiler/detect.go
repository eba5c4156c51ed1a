package compiler

import (
	"path"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// maxDetectBytes is the content-size limit beyond which only the file
// extension is consulted.
const maxDetectBytes = 1024 * 1024 // 1 MB

var (
	flowPragma = regexp.MustCompile(`^\s*(?://|/\*)\s*@flow\b`)
	// typeSyntax matches constructs that only parse with type annotations.
	typeSyntax = regexp.MustCompile(`(?m)(^\s*(?:export\s+)?(?:interface|type)\s+[A-Za-z_$][\w$]*(?:<[^>]*>)?\s*(?:=|\{|extends)|[)\w$\]]\s*:\s*(?:string|number|boolean|any|unknown|void|never)\b|\bas\s+const\b|<[A-Z][\w$]*(?:,\s*[A-Z][\w$]*)*>\()`)
)

// DetectTypeSystem returns the type system for a source file using a
// two-tier approach: the file name decides when it has a script extension,
// otherwise a cheap syntax heuristic acts as a gate and a plain-JavaScript
// parse validates the candidate. Returns TypeScript when nothing else fits,
// matching the default of Compile.
func DetectTypeSystem(fileName, source string) string {
	switch path.Ext(fileName) {
	case ".ts", ".tsx":
		return TypeScript
	case ".js", ".jsx", ".mjs", ".cjs":
		if hasFlowPragma(source) {
			return Flow
		}
		return NoTypes
	}

	if hasFlowPragma(source) {
		return Flow
	}
	if len(source) > maxDetectBytes {
		return TypeScript
	}
	if !typeSyntax.MatchString(source) && parsesAsJavaScript(source) {
		return NoTypes
	}
	return TypeScript
}

// hasFlowPragma checks the leading comment block for an @flow pragma.
func hasFlowPragma(source string) bool {
	for i, line := range strings.SplitN(source, "\n", 11) {
		if i == 10 {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if flowPragma.MatchString(line) {
			return true
		}
		if !strings.HasPrefix(strings.TrimSpace(line), "//") && !strings.HasPrefix(strings.TrimSpace(line), "/*") {
			return false
		}
	}
	return false
}

// parsesAsJavaScript validates that source is plain JavaScript (with JSX).
func parsesAsJavaScript(source string) bool {
	res := api.Transform(source, api.TransformOptions{
		Loader:   api.LoaderJSX,
		LogLevel: api.LogLevelSilent,
	})
	return len(res.Errors) == 0
}
