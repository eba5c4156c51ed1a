package stackframe

import (
	"encoding/base64"
	"fmt"
	"strings"

	"codeberg.org/sigterm-de/goplay/internal/logging"
	"github.com/go-sourcemap/sourcemap"
)

const inlineMapPrefix = "//# sourceMappingURL=data:application/json;base64,"

// Symbolicator resolves stack traces against the source map of the compiled
// entry program.
type Symbolicator interface {
	// Resolve parses stack and maps every frame whose file is entryFile
	// through sourceMap. Frames from other files are returned unresolved.
	// Resolve MUST NOT panic: on any internal failure it returns the parsed
	// frames without original positions, or nil when nothing could be parsed.
	Resolve(stack, sourceMap, entryFile string) []Frame
}

type symbolicator struct{}

// NewSymbolicator returns the go-sourcemap backed Symbolicator.
func NewSymbolicator() Symbolicator {
	return &symbolicator{}
}

// Resolve implements Symbolicator.
func (s *symbolicator) Resolve(stack, sourceMap, entryFile string) (frames []Frame) {
	defer func() {
		if r := recover(); r != nil {
			logging.Logf(logging.WARN, "stackframe", "resolve panicked: %v", r)
			frames = safeParse(stack)
		}
	}()

	frames = Parse(stack)
	if sourceMap == "" || len(frames) == 0 {
		return frames
	}

	consumer, err := sourcemap.Parse("", []byte(sourceMap))
	if err != nil {
		logging.Logf(logging.WARN, "stackframe", "parse source map: %v", err)
		return frames
	}

	for i := range frames {
		if frames[i].FileName != entryFile {
			continue
		}
		frames[i].Original = mapFrame(consumer, frames[i])
	}
	return frames
}

// mapFrame returns the original position of f or nil. go-sourcemap takes a
// 1-based line and a 0-based column; engine columns are 1-based.
func mapFrame(consumer *sourcemap.Consumer, f Frame) *Position {
	if f.IsNative || f.LineNumber <= 0 {
		return nil
	}
	col := f.ColumnNumber - 1
	if col < 0 {
		col = 0
	}
	file, name, line, origCol, ok := consumer.Source(f.LineNumber, col)
	if !ok || file == "" || line <= 0 {
		return nil
	}
	return &Position{FileName: file, Line: line, Column: origCol + 1, Name: name}
}

func safeParse(stack string) (frames []Frame) {
	defer func() {
		if recover() != nil {
			frames = nil
		}
	}()
	return Parse(stack)
}

// InlineSourceMap extracts the base64 data URL source map appended to
// compiled code. The last sourceMappingURL comment wins.
func InlineSourceMap(code string) (string, error) {
	i := strings.LastIndex(code, inlineMapPrefix)
	if i < 0 {
		return "", fmt.Errorf("stackframe: no inline source map")
	}
	payload := code[i+len(inlineMapPrefix):]
	if nl := strings.IndexByte(payload, '\n'); nl >= 0 {
		payload = payload[:nl]
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", fmt.Errorf("stackframe: decode inline source map: %w", err)
	}
	return string(raw), nil
}

// InlineSourceMapComment renders sourceMap as a trailing data URL comment.
func InlineSourceMapComment(sourceMap string) string {
	return inlineMapPrefix + base64.StdEncoding.EncodeToString([]byte(sourceMap))
}
