// Package apperr defines the error taxonomy shared by handlers and reconcilers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how the inbound surface must react to it.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindAuthentication
	KindNotFound
	KindUpstream
	KindValidation
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error carries a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with kind and op. A nil err still yields a non-nil *Error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Configuration(op string, err error) error  { return E(KindConfiguration, op, err) }
func Authentication(op string, err error) error { return E(KindAuthentication, op, err) }
func NotFound(op string, err error) error       { return E(KindNotFound, op, err) }
func Upstream(op string, err error) error       { return E(KindUpstream, op, err) }
func Validation(op string, err error) error     { return E(KindValidation, op, err) }
func Conflict(op string, err error) error       { return E(KindConflict, op, err) }

// KindOf returns the outermost Kind found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// HTTPStatus maps a Kind onto the status returned to webhook senders.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindConfiguration:
		return http.StatusInternalServerError
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream, KindConflict:
		return http.StatusBadGateway
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
