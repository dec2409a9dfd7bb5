package apperror

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Kind groups errors by how callers should react to them.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindState      Kind = "state"
	KindDependency Kind = "dependency"
	KindInvariant  Kind = "invariant"
)

// Error carries a stable machine-readable code next to the human message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New returns a sentinel *Error. Compare with errors.Is.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// From unwraps err to the first *Error in its chain.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a kind to the status code the handlers respond with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return fiber.StatusBadRequest
	case KindNotFound:
		return fiber.StatusNotFound
	case KindState:
		return fiber.StatusConflict
	case KindDependency:
		return fiber.StatusBadGateway
	case KindInvariant:
		return fiber.StatusLocked
	default:
		return fiber.StatusInternalServerError
	}
}
