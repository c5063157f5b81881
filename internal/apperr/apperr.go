// ABOUTME: Typed failure kinds returned by the conversation and authorization services
// ABOUTME: Each kind maps to a short user-facing message; internal detail never leaks

package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an expected, recoverable failure.
type Kind int

const (
	// Internal is anything that is not one of the expected kinds (storage down, corruption).
	Internal Kind = iota
	NotFound
	WrongOwner
	Unreachable
	AlreadyExists
	UnknownModel
	Unauthorized
	ExternalCallFailed
	PermissionDenied
	InvalidArgument
)

var kindNames = map[Kind]string{
	Internal:           "internal",
	NotFound:           "not_found",
	WrongOwner:         "wrong_owner",
	Unreachable:        "unreachable",
	AlreadyExists:      "already_exists",
	UnknownModel:       "unknown_model",
	Unauthorized:       "unauthorized",
	ExternalCallFailed: "external_call_failed",
	PermissionDenied:   "permission_denied",
	InvalidArgument:    "invalid_argument",
}

// String returns the stable snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a typed failure about a subject (a context id, a model id, a user id).
type Error struct {
	Kind    Kind
	Subject string
	Err     error // optional cause, never shown to users
}

// New creates a typed failure.
func New(kind Kind, subject string) *Error {
	return &Error{Kind: kind, Subject: subject}
}

// Wrap creates a typed failure that keeps cause for logging.
func Wrap(kind Kind, subject string, cause error) *Error {
	return &Error{Kind: kind, Subject: subject, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.message(), e.Err)
	}
	return e.message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, apperr.New(apperr.NotFound, ""))
// works regardless of subject.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) message() string {
	switch e.Kind {
	case NotFound:
		return fmt.Sprintf("Context '%s' not found.", e.Subject)
	case WrongOwner:
		return fmt.Sprintf("Context '%s' belongs to another user.", e.Subject)
	case Unreachable:
		return "Unreachable state, please report this."
	case AlreadyExists:
		return fmt.Sprintf("Context id '%s' has been used.", e.Subject)
	case UnknownModel:
		return fmt.Sprintf("Unknown model '%s'.", e.Subject)
	case Unauthorized:
		return fmt.Sprintf("You are not allowed to use model '%s'.", e.Subject)
	case ExternalCallFailed:
		return "The model provider failed to answer, nothing was saved."
	case PermissionDenied:
		return "You are not allowed to run this command."
	case InvalidArgument:
		return fmt.Sprintf("Invalid argument: %s.", e.Subject)
	default:
		return "Internal error."
	}
}

// KindOf classifies err. Errors that are not *Error are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns the short user-facing description of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.message()
	}
	return "Internal error."
}

// Is reports whether err is a typed failure of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
