// Package agtraceerr defines the closed error taxonomy shared by every
// core component: a small set of categorical kinds plus a wrapped cause.
package agtraceerr

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure the way the rest of the system needs to
// branch on it. New variants require a matching index schema version bump
// (see pkg/index), same as any other closed enum in this module.
type Kind int

const (
	KindUnknown Kind = iota
	KindParseMissingField
	KindParseTypeMismatch
	KindParseMalformedRecord
	KindToolOrphan
	KindFileUnreadable
	KindIndexSchemaMismatch
	KindAmbiguous
	KindNotFound
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindParseMissingField:
		return "parse_missing_field"
	case KindParseTypeMismatch:
		return "parse_type_mismatch"
	case KindParseMalformedRecord:
		return "parse_malformed_record"
	case KindToolOrphan:
		return "tool_orphan"
	case KindFileUnreadable:
		return "file_unreadable"
	case KindIndexSchemaMismatch:
		return "index_schema_mismatch"
	case KindAmbiguous:
		return "ambiguous"
	case KindNotFound:
		return "not_found"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every package in this
// module for categorized failures. Use errors.Is/errors.As against it;
// Is compares by Kind, not by message or wrapped cause.
type Error struct {
	Kind    Kind
	Field   string // populated for ParseMissingField/ParseTypeMismatch
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Field, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports Kind equality so callers can do errors.Is(err, agtraceerr.New(KindNotFound, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func MissingField(field string) *Error {
	return &Error{Kind: KindParseMissingField, Field: field, Message: "required field absent"}
}

func TypeMismatch(field string) *Error {
	return &Error{Kind: KindParseTypeMismatch, Field: field, Message: "field has unexpected shape"}
}

func MalformedRecord(cause error) *Error {
	return &Error{Kind: KindParseMalformedRecord, Message: "record is not valid JSON", Cause: cause}
}

func Unreadable(path string, cause error) *Error {
	return &Error{Kind: KindFileUnreadable, Message: fmt.Sprintf("cannot read %s", path), Cause: cause}
}

// IsKind is a convenience helper for callers that don't want to construct
// a sentinel *Error just to compare kinds.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
