// Package apperr defines the failure taxonomy returned by the content store.
//
// Every failure carries the entity kind, the identifying key and the
// offending value so that transports can render precise messages without
// the store knowing anything about presentation.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure
type Kind string

const (
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindValidation  Kind = "validation_failed"
	KindUnavailable Kind = "storage_unavailable"
)

// FieldError describes one invalid input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// Error is a classified failure
type Error struct {
	Kind   Kind
	Entity string // "article", "article_version", "tag"
	Field  string // identifying key: "id", "slug", "version_number"
	Value  string // identifying or conflicting value
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	switch e.Kind {
	case KindNotFound:
		fmt.Fprintf(&b, "%s with %s %q not found", e.Entity, e.Field, e.Value)
	case KindConflict:
		fmt.Fprintf(&b, "%s %s %q already exists", e.Entity, e.Field, e.Value)
	case KindValidation:
		fmt.Fprintf(&b, "invalid %s", e.Entity)
		for i, f := range e.Fields {
			if i == 0 {
				b.WriteString(": ")
			} else {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s %s", f.Field, f.Message)
		}
	case KindUnavailable:
		b.WriteString("storage unavailable")
		if e.Field != "" {
			fmt.Fprintf(&b, " during %s", e.Field)
		}
	default:
		b.WriteString(string(e.Kind))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports an absent entity
func NotFound(entity, field string, value any) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, Field: field, Value: fmt.Sprint(value)}
}

// Conflict reports a uniqueness violation
func Conflict(entity, field string, value any) *Error {
	return &Error{Kind: KindConflict, Entity: entity, Field: field, Value: fmt.Sprint(value)}
}

// Validation reports malformed input
func Validation(entity string, fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Entity: entity, Fields: fields}
}

// Unavailable wraps a transient storage failure. op names the operation.
func Unavailable(op string, err error) *Error {
	return &Error{Kind: KindUnavailable, Field: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsNotFound(err error) bool    { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool    { return KindOf(err) == KindConflict }
func IsValidation(err error) bool  { return KindOf(err) == KindValidation }
func IsUnavailable(err error) bool { return KindOf(err) == KindUnavailable }
