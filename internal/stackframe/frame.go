// Package stackframe turns JavaScript stack traces into structured frames and
// maps frames that point at compiled user code back to the original source.
package stackframe

import (
	"regexp"
	"strconv"
	"strings"
)

// Position is a resolved location in the original (pre-compilation) source.
type Position struct {
	FileName string `json:"fileName"`
	Line     int    `json:"line"`   // 1-based
	Column   int    `json:"column"` // 1-based, 0 when unknown
	Name     string `json:"name,omitempty"`
}

// Frame is one entry of a call stack. Line and column numbers are 1-based;
// zero means the engine did not report a position.
type Frame struct {
	FunctionName string    `json:"functionName"`
	FileName     string    `json:"fileName"`
	LineNumber   int       `json:"lineNumber,omitempty"`
	ColumnNumber int       `json:"columnNumber,omitempty"`
	Original     *Position `json:"original,omitempty"`
	IsNative     bool      `json:"isNative,omitempty"`
	Raw          string    `json:"raw"`
}

// Mapped reports whether the frame was resolved through a source map.
func (f Frame) Mapped() bool { return f.Original != nil }

// Location renders the preferred display location: the original position
// when one is known, the generated one otherwise. A zero column is omitted.
func (f Frame) Location() string {
	file, line, col := f.FileName, f.LineNumber, f.ColumnNumber
	if f.Original != nil {
		file, line, col = f.Original.FileName, f.Original.Line, f.Original.Column
	}
	if f.IsNative && line == 0 {
		return "native"
	}
	var b strings.Builder
	b.WriteString(PrettyURL(file))
	if line > 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(line))
		if col > 0 {
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(col))
		}
	}
	return b.String()
}

// DisplayName is the function name shown for the frame.
func (f Frame) DisplayName() string {
	if f.Original != nil && f.Original.Name != "" {
		return f.Original.Name
	}
	if f.FunctionName == "" {
		return "<anonymous>"
	}
	return f.FunctionName
}

// String renders the frame as one line of a stack listing.
func (f Frame) String() string {
	return "at " + f.DisplayName() + " (" + f.Location() + ")"
}

var prefixedMessage = regexp.MustCompile(`^\w*:`)

// Header picks the heading for an error display: the message when it already
// carries a "Kind:" prefix or when the name is empty, the name otherwise.
func Header(name, message string) string {
	if name == "" || prefixedMessage.MatchString(message) {
		return message
	}
	return name
}

var prettyURLMarkers = []string{"/src/", "/node_modules/"}

// PrettyURL shortens absolute URLs and paths to the part a reader cares
// about: everything from the last src/ or node_modules/ segment on.
func PrettyURL(u string) string {
	for _, m := range prettyURLMarkers {
		if i := strings.LastIndex(u, m); i >= 0 {
			return u[i+1:]
		}
	}
	return u
}
