package types

import (
	"errors"
	"fmt"
	"strings"
)

// Error tag constants. Every FormulaError carries exactly one of the first
// three; IndexError is raised by the variable store collaborator.
const (
	TagLexError   = "LexError"
	TagParseError = "ParseError"
	TagEvalError  = "EvalError"
	TagIndexError = "IndexError"
)

// FormulaError represents a compile-time or evaluation-time formula failure.
type FormulaError struct {
	Message string
	Pos     int // position in the normalised formula text, -1 when not applicable
	Tags    []string
}

// Error implements the error interface.
func (e *FormulaError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%s at position %d (tags=[%s])", e.Message, e.Pos, strings.Join(e.Tags, ", "))
	}
	return fmt.Sprintf("%s (tags=[%s])", e.Message, strings.Join(e.Tags, ", "))
}

// HasTag returns true if the error has the specified tag.
func (e *FormulaError) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Tag returns the primary tag of the error.
func (e *FormulaError) Tag() string {
	if len(e.Tags) == 0 {
		return ""
	}
	return e.Tags[0]
}

// TagOf returns the primary tag of err if it wraps a FormulaError, or "".
func TagOf(err error) string {
	var fe *FormulaError
	if errors.As(err, &fe) {
		return fe.Tag()
	}
	return ""
}

// HasTag reports whether err wraps a FormulaError carrying tag.
func HasTag(err error, tag string) bool {
	var fe *FormulaError
	if errors.As(err, &fe) {
		return fe.HasTag(tag)
	}
	return false
}

// Common error constructors.

// NewLexError creates a LexError for an unrecognised character or keyword.
func NewLexError(pos int, msg string) *FormulaError {
	return &FormulaError{Message: msg, Pos: pos, Tags: []string{TagLexError}}
}

// NewParseError creates a structural ParseError.
func NewParseError(pos int, msg string) *FormulaError {
	return &FormulaError{Message: msg, Pos: pos, Tags: []string{TagParseError}}
}

// NewEvalError creates an EvalError (list/scalar mismatch).
func NewEvalError(msg string) *FormulaError {
	return &FormulaError{Message: msg, Pos: -1, Tags: []string{TagEvalError}}
}

// NewIndexError creates an IndexError for variable store lookups.
func NewIndexError(msg string) *FormulaError {
	return &FormulaError{Message: msg, Pos: -1, Tags: []string{TagIndexError}}
}
