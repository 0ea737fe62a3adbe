package apperror

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error for retry decisions and the HTTP boundary
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindExternalService
	KindSignature
	KindStateConflict
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindExternalService:
		return "external_service"
	case KindSignature:
		return "signature"
	case KindStateConflict:
		return "state_conflict"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

// Error is a classified domain error
type Error struct {
	Kind    Kind
	Message string
	// Fields holds per-field validation messages
	Fields map[string]string
	// Upstream holds the response body of a failed external call
	Upstream string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s", k, e.Fields[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the same operation
func (e *Error) Retryable() bool {
	return e.Kind == KindStorage || e.Kind == KindExternalService
}

// Validation builds a validation error from field messages
func Validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// NotFound reports a missing entity
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found: %s", entity, id)}
}

// External reports a failed call to a third-party service
func External(service string, upstream string, err error) *Error {
	return &Error{
		Kind:     KindExternalService,
		Message:  fmt.Sprintf("%s request failed", service),
		Upstream: upstream,
		Err:      err,
	}
}

// Signature reports a webhook signature mismatch
func Signature(msg string) *Error {
	return &Error{Kind: KindSignature, Message: msg}
}

// Conflict reports a transition that would break a lifecycle
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindStateConflict, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a store failure
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// As returns the classified error in err's chain, if any
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
