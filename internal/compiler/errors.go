package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// ErrCompile is matched by every *CompileError via errors.Is.
var ErrCompile = errors.New("compile error")

// Message is one diagnostic with its source position (1-based line,
// 0-based column as reported by the transpiler).
type Message struct {
	Text     string `json:"text"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	LineText string `json:"lineText,omitempty"`
}

func (m Message) String() string {
	if m.File == "" {
		return m.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", m.File, m.Line, m.Column, m.Text)
}

// CompileError is a terminal compilation failure. Nothing was executed.
type CompileError struct {
	Messages  []Message
	Formatted []string // human readable rendering with code excerpts
	Err       error
}

func newCompileError(msgs []api.Message) *CompileError {
	ce := &CompileError{
		Formatted: api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: api.ErrorMessage}),
	}
	for _, m := range msgs {
		msg := Message{Text: m.Text}
		if m.Location != nil {
			msg.File = m.Location.File
			msg.Line = m.Location.Line
			msg.Column = m.Location.Column
			msg.LineText = m.Location.LineText
		}
		ce.Messages = append(ce.Messages, msg)
	}
	return ce
}

func (e *CompileError) Error() string {
	if len(e.Messages) > 0 {
		parts := make([]string, len(e.Messages))
		for i, m := range e.Messages {
			parts[i] = m.String()
		}
		return "compiler: " + strings.Join(parts, "; ")
	}
	if e.Err != nil {
		return "compiler: " + e.Err.Error()
	}
	return "compiler: unknown error"
}

// Name is the error kind shown as the display header.
func (e *CompileError) Name() string { return "SyntaxError" }

// Message is the first diagnostic without position.
func (e *CompileError) Message() string {
	if len(e.Messages) > 0 {
		return e.Messages[0].Text
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

func (e *CompileError) Unwrap() error { return e.Err }

func (e *CompileError) Is(target error) bool { return target == ErrCompile }
