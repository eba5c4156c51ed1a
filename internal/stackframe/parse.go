package stackframe

import (
	"regexp"
	"strconv"
	"strings"
)

// Stack line shapes. goja appends the program counter in parentheses after
// the column ("file:3:9(12)"); V8-style traces do not.
var (
	nativeWithName = regexp.MustCompile(`^at\s+(.+?)\s+\(native\)$`)
	namedFrame     = regexp.MustCompile(`^at\s+(.+?)\s+\((.+?):(\d+):(\d+)(?:\(\d+\))?\)$`)
	anonymousFrame = regexp.MustCompile(`^at\s+(.+?):(\d+):(\d+)(?:\(\d+\))?$`)
	bareLocation   = regexp.MustCompile(`^(.+?):(\d+):(\d+)$`)
)

// Parse splits a stack trace into frames. Lines that do not look like frames
// (the leading "Name: message" line, blank lines) are skipped.
func Parse(stack string) []Frame {
	lines := strings.Split(stack, "\n")
	frames := make([]Frame, 0, len(lines))
	for _, line := range lines {
		if f, ok := ParseLine(line); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

// ParseLine parses one stack line. Handled shapes:
//
//	at fn (file:line:col(pc))
//	at file:line:col(pc)
//	at fn (file:line:col)
//	at fn (native)
//	at native
func ParseLine(line string) (Frame, bool) {
	s := strings.TrimSpace(line)
	if s == "" {
		return Frame{}, false
	}

	if s == "at native" {
		return Frame{Raw: line, FileName: "native", IsNative: true}, true
	}
	if m := nativeWithName.FindStringSubmatch(s); m != nil {
		return Frame{Raw: line, FunctionName: m[1], FileName: "native", IsNative: true}, true
	}

	if m := namedFrame.FindStringSubmatch(s); m != nil {
		return Frame{
			Raw:          line,
			FunctionName: m[1],
			FileName:     m[2],
			LineNumber:   atoi(m[3]),
			ColumnNumber: atoi(m[4]),
		}, true
	}
	if m := anonymousFrame.FindStringSubmatch(s); m != nil {
		return Frame{
			Raw:          line,
			FileName:     m[1],
			LineNumber:   atoi(m[2]),
			ColumnNumber: atoi(m[3]),
		}, true
	}
	if m := bareLocation.FindStringSubmatch(s); m != nil && !strings.Contains(m[1], " ") {
		return Frame{
			Raw:          line,
			FileName:     m[1],
			LineNumber:   atoi(m[2]),
			ColumnNumber: atoi(m[3]),
		}, true
	}
	return Frame{}, false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
