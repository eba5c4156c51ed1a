package evaluator

import (
	"errors"
	"strings"

	"codeberg.org/sigterm-de/goplay/internal/stackframe"
)

// Sentinel errors for error classification.
var (
	// ErrLoad indicates a library bundle could not be fetched or
	// bootstrapped, even after falling back to master.
	ErrLoad = errors.New("library load error")

	// ErrCompile indicates the source did not compile. Nothing ran.
	ErrCompile = errors.New("compile error")

	// ErrRuntime indicates the compiled code threw or rejected.
	ErrRuntime = errors.New("runtime error")

	// ErrDeferred is returned when no realm could be provided because the
	// host document is not mounted. It is not a failure and does not touch
	// the run state.
	ErrDeferred = errors.New("evaluation deferred")

	// ErrSuperseded is returned by a run whose realm was discarded by a
	// newer run before it settled.
	ErrSuperseded = errors.New("evaluation superseded")

	// ErrConfiguration indicates an invalid or incomplete Config.
	ErrConfiguration = errors.New("configuration error")
)

// Kind names the origin of a Record, in the wording error displays use.
type Kind string

const (
	KindCompile Kind = "babel-error"
	KindRuntime Kind = "runtime-error"
	KindLoad    Kind = "load-error"
)

// Record is the uniform error value a failed run publishes. It is the only
// error shape that crosses the pipeline boundary.
type Record struct {
	Kind    Kind
	Name    string
	Message string
	// Header is the line an error display leads with.
	Header string
	// Stack is the engine stack as reported, empty for compile errors.
	Stack       string
	StackFrames []stackframe.Frame
	Original    error
}

func newRecord(kind Kind, name, message string, original error) *Record {
	return &Record{
		Kind:        kind,
		Name:        name,
		Message:     message,
		Header:      stackframe.Header(name, message),
		StackFrames: []stackframe.Frame{},
		Original:    original,
	}
}

// Error renders the record as "Header: message" unless the header already is
// the message.
func (r *Record) Error() string {
	if r.Header == r.Message || r.Message == "" {
		return r.Header
	}
	return r.Header + ": " + r.Message
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (r *Record) Unwrap() error { return r.Original }

// Is matches the sentinel of the record's kind.
func (r *Record) Is(target error) bool {
	switch r.Kind {
	case KindCompile:
		return target == ErrCompile
	case KindRuntime:
		return target == ErrRuntime
	case KindLoad:
		return target == ErrLoad
	}
	return false
}

// Trace renders the header followed by one line per frame.
func (r *Record) Trace() string {
	var b strings.Builder
	b.WriteString(r.Error())
	for _, f := range r.StackFrames {
		b.WriteString("\n    ")
		b.WriteString(f.String())
	}
	return b.String()
}
