package bundler

import (
	"fmt"
	"strings"
)

// Message is a diagnostic reported by the bundler
type Message struct {
	Text     string
	Plugin   string
	File     string
	Line     int
	Column   int
	LineText string
	Notes    []string
}

// String formats the message as file:line:column: text
func (m Message) String() string {
	var b strings.Builder
	if m.Plugin != "" {
		fmt.Fprintf(&b, "[plugin %s] ", m.Plugin)
	}
	if m.File != "" {
		fmt.Fprintf(&b, "%s:%d:%d: ", m.File, m.Line, m.Column)
	}
	b.WriteString(m.Text)
	return b.String()
}

// FatalError reports that invoking the bundler failed, as opposed to the
// build reporting errors about its inputs
type FatalError struct {
	Err     error
	Details []string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("bundler failed: %v", e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *FatalError) Unwrap() error {
	return e.Err
}

// CompileError is one error reported by a build
type CompileError struct {
	Message Message
}

func (e *CompileError) Error() string {
	return "compile error: " + e.Message.String()
}

// Details returns the message notes, one per line
func (e *CompileError) Details() string {
	return strings.Join(e.Message.Notes, "\n")
}
