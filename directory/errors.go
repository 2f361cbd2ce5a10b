package directory

import (
	"errors"
	"fmt"
)

// Precondition errors. They signal a caller bug, not a runtime failure.
var (
	// ErrInvalidURL is returned when the directory address is not an
	// absolute http or https URL.
	ErrInvalidURL = errors.New("directory: url must be an absolute http(s) url")

	// ErrInvalidWindow is returned for a negative freshness window.
	ErrInvalidWindow = errors.New("directory: freshness window must not be negative")
)

// Failure sentinels matched by *Error through errors.Is.
var (
	ErrFetch  = errors.New("directory: fetch failed")
	ErrParse  = errors.New("directory: malformed json")
	ErrSchema = errors.New("directory: invalid directory")
)

// Kind classifies a resolution failure.
type Kind string

const (
	// KindFetch covers transport failures, timeouts, non-2xx responses and
	// an open circuit breaker.
	KindFetch Kind = "FetchError"

	// KindParse means the body was not valid JSON.
	KindParse Kind = "ParseError"

	// KindSchema means the JSON did not describe a valid directory.
	KindSchema Kind = "SchemaError"
)

// Error is the typed failure returned by Parse and Resolver.Resolve.
type Error struct {
	Kind Kind

	// URL is the directory address. Empty when returned by Parse.
	URL string

	// Status is the HTTP status code of a non-2xx response, otherwise 0.
	Status int

	// Index is the position of the offending key for schema errors that
	// concern a single key, otherwise -1.
	Index int

	// Message is a human readable description of the failure.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}

	return fmt.Sprintf("%s: %s: %s", e.Kind, e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error kind.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindFetch:
		return target == ErrFetch
	case KindParse:
		return target == ErrParse
	case KindSchema:
		return target == ErrSchema
	}

	return false
}

func schemaError(index int, format string, args ...any) *Error {
	return &Error{Kind: KindSchema, Index: index, Message: fmt.Sprintf(format, args...)}
}

func fetchError(url string, status int, err error, format string, args ...any) *Error {
	return &Error{Kind: KindFetch, URL: url, Status: status, Index: -1, Message: fmt.Sprintf(format, args...), Err: err}
}
