package stackframe

import (
	"strings"
	"testing"
)

// Line 2 col 0 -> repl.ts 1:0, line 3 col 4 -> repl.ts 2:6.
const testMap = `{"version":3,"sources":["repl.ts"],"names":[],"mappings":";AAAA;IACM"}`

func TestParseLine(t *testing.T) {
	cases := []struct {
		name   string
		line   string
		ok     bool
		fn     string
		file   string
		ln     int
		col    int
		native bool
	}{
		{"goja named", "\tat main (repl.compiled.js:3:5(12))", true, "main", "repl.compiled.js", 3, 5, false},
		{"goja anonymous", "\tat repl.compiled.js:7:1(40)", true, "", "repl.compiled.js", 7, 1, false},
		{"v8 named", "    at foo (https://x.test/src/a.js:10:2)", true, "foo", "https://x.test/src/a.js", 10, 2, false},
		{"native named", "\tat Array.prototype.map (native)", true, "Array.prototype.map", "native", 0, 0, true},
		{"native bare", "\tat native", true, "", "native", 0, 0, true},
		{"message line", "Error: boom", false, "", "", 0, 0, false},
		{"message with location", "Error: bad at a:1:2", false, "", "", 0, 0, false},
		{"blank", "   ", false, "", "", 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, ok := ParseLine(tc.line)
			if ok != tc.ok {
				t.Fatalf("ParseLine(%q) ok = %v; want %v", tc.line, ok, tc.ok)
			}
			if !ok {
				return
			}
			if f.FunctionName != tc.fn || f.FileName != tc.file || f.LineNumber != tc.ln ||
				f.ColumnNumber != tc.col || f.IsNative != tc.native {
				t.Errorf("ParseLine(%q) = %+v", tc.line, f)
			}
			if f.Raw != tc.line {
				t.Errorf("Raw = %q; want %q", f.Raw, tc.line)
			}
		})
	}
}

func TestResolveMapsEntryFramesOnly(t *testing.T) {
	stack := "Error: boom\n" +
		"\tat main (repl.compiled.js:3:5(12))\n" +
		"\tat helper (effector.master.js:3:5(1))\n" +
		"\tat native\n"

	frames := NewSymbolicator().Resolve(stack, testMap, "repl.compiled.js")
	if len(frames) != 3 {
		t.Fatalf("got %d frames; want 3: %+v", len(frames), frames)
	}

	main := frames[0]
	if main.Original == nil {
		t.Fatalf("entry frame not mapped: %+v", main)
	}
	if main.Original.FileName != "repl.ts" || main.Original.Line != 2 || main.Original.Column != 7 {
		t.Errorf("original = %+v; want repl.ts:2:7", *main.Original)
	}
	if got := main.Location(); got != "repl.ts:2:7" {
		t.Errorf("Location() = %q; want repl.ts:2:7", got)
	}

	if frames[1].Mapped() {
		t.Errorf("library frame should stay unresolved: %+v", frames[1])
	}
	if !frames[2].IsNative || frames[2].Location() != "native" {
		t.Errorf("native frame = %+v", frames[2])
	}
}

func TestResolveNeverFails(t *testing.T) {
	stack := "TypeError: x\n\tat main (repl.compiled.js:2:1(0))"
	cases := []struct {
		name string
		sm   string
	}{
		{"empty map", ""},
		{"garbage map", "{not json"},
		{"wrong mappings", `{"version":3,"sources":[],"names":[],"mappings":"!!!"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frames := NewSymbolicator().Resolve(stack, tc.sm, "repl.compiled.js")
			if len(frames) != 1 {
				t.Fatalf("got %d frames; want the raw frame", len(frames))
			}
			if frames[0].Mapped() {
				t.Errorf("frame mapped through an unusable map: %+v", frames[0])
			}
			if frames[0].Location() != "repl.compiled.js:2:1" {
				t.Errorf("Location() = %q", frames[0].Location())
			}
		})
	}
	if got := NewSymbolicator().Resolve("", testMap, "x"); len(got) != 0 {
		t.Errorf("empty stack produced frames: %+v", got)
	}
}

func TestLocationSuppressesZeroColumn(t *testing.T) {
	cases := []struct {
		name  string
		frame Frame
		want  string
	}{
		{"generated", Frame{FileName: "a.js", LineNumber: 4, ColumnNumber: 2}, "a.js:4:2"},
		{"generated zero column", Frame{FileName: "a.js", LineNumber: 4}, "a.js:4"},
		{"original preferred", Frame{FileName: "a.js", LineNumber: 4, ColumnNumber: 2,
			Original: &Position{FileName: "repl.ts", Line: 1, Column: 9}}, "repl.ts:1:9"},
		{"original zero column", Frame{FileName: "a.js", LineNumber: 4, ColumnNumber: 2,
			Original: &Position{FileName: "repl.ts", Line: 1}}, "repl.ts:1"},
		{"pretty url", Frame{FileName: "https://cdn.test/pkg/src/index.js", LineNumber: 1, ColumnNumber: 1}, "src/index.js:1:1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.frame.Location(); got != tc.want {
				t.Errorf("Location() = %q; want %q", got, tc.want)
			}
		})
	}
}

func TestHeader(t *testing.T) {
	cases := []struct {
		name, errName, message, want string
	}{
		{"name wins", "Error", "boom", "Error"},
		{"prefixed message", "Error", "TypeError: x is not a function", "TypeError: x is not a function"},
		{"empty name", "", "boom", "boom"},
		{"bare colon", "RangeError", ": odd", ": odd"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Header(tc.errName, tc.message); got != tc.want {
				t.Errorf("Header(%q, %q) = %q; want %q", tc.errName, tc.message, got, tc.want)
			}
		})
	}
}

func TestInlineSourceMap(t *testing.T) {
	code := "main()\n" + InlineSourceMapComment(testMap) + "\n"
	got, err := InlineSourceMap(code)
	if err != nil {
		t.Fatalf("InlineSourceMap: %v", err)
	}
	if got != testMap {
		t.Errorf("InlineSourceMap = %q; want %q", got, testMap)
	}
	if _, err := InlineSourceMap("main()"); err == nil || !strings.Contains(err.Error(), "no inline source map") {
		t.Errorf("missing map error = %v", err)
	}
}
