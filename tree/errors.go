/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package tree

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/launix-de/arraytree/ir"
)

type ErrorKind uint8

const (
	SyntaxError ErrorKind = iota + 1
	UnboundName
	UnknownPrimitive
	ArityMismatch
	TypeMismatch
	ShapeMismatch
	UnsupportedDType
	DomainError
	InvalidAnnotation
	TileCoverageError
	StackLimitExceeded
	RemoteEvaluationError
)

var errorKindNames = [...]string{
	SyntaxError:           "SyntaxError",
	UnboundName:           "UnboundName",
	UnknownPrimitive:      "UnknownPrimitive",
	ArityMismatch:         "ArityMismatch",
	TypeMismatch:          "TypeMismatch",
	ShapeMismatch:         "ShapeMismatch",
	UnsupportedDType:      "UnsupportedDType",
	DomainError:           "DomainError",
	InvalidAnnotation:     "InvalidAnnotation",
	TileCoverageError:     "TileCoverageError",
	StackLimitExceeded:    "StackLimitExceeded",
	RemoteEvaluationError: "RemoteEvaluationError",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) && errorKindNames[k] != "" {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// Error is what run() hands back to its caller
type Error struct {
	Kind      ErrorKind
	Primitive string
	Message   string
	Span      *SourceInfo
	Cause     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Span != nil {
		b.WriteString(e.Span.String())
		b.WriteString(": ")
	}
	if e.Primitive != "" {
		b.WriteString(e.Primitive)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err (or one of its causes) is an *Error of kind
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err, or 0
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// classify maps errors of the array layer onto the taxonomy
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ir.ErrShape):
		return ShapeMismatch
	case errors.Is(err, ir.ErrDType):
		return UnsupportedDType
	case errors.Is(err, ir.ErrAnnotation):
		return InvalidAnnotation
	case errors.Is(err, ir.ErrCoverage):
		return TileCoverageError
	}
	return DomainError
}

// attach fills in primitive name and span of an error on its way up
func attach(err error, primitive string, span *SourceInfo) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*earlyReturn); ok {
		return err
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Primitive != "" && e.Span != nil {
			return err
		}
		c := *e
		if c.Primitive == "" {
			c.Primitive = primitive
		}
		if c.Span == nil {
			c.Span = span
		}
		return &c
	}
	return &Error{Kind: classify(err), Primitive: primitive, Message: err.Error(), Span: span, Cause: err}
}

// SettingsHaveGoodBacktraces appends the Go stack of recovered panics to error messages
var SettingsHaveGoodBacktraces bool

func fromPanic(r any) error {
	var err error
	switch v := r.(type) {
	case error:
		err = v
	case string:
		err = &Error{Kind: DomainError, Message: v}
	default:
		err = &Error{Kind: DomainError, Message: fmt.Sprint(v)}
	}
	if SettingsHaveGoodBacktraces {
		var e *Error
		if errors.As(err, &e) {
			c := *e
			c.Message += "\n" + string(debug.Stack())
			err = &c
		}
	}
	return err
}

// earlyReturn carries the value of return() up to the enclosing call
type earlyReturn struct {
	value Value
}

func (r *earlyReturn) Error() string { return "return outside of a function" }

// PrintError reports failures of background goroutines
func PrintError(msg string) {
	fmt.Fprintln(os.Stderr, "error:", msg)
}
