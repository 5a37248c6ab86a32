package broker

import (
	"errors"
	"fmt"
)

// Domain error kinds. Match with errors.Is; anything else returned by the
// broker is an infrastructure failure the caller may retry.
var (
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrExpired    = errors.New("expired")
	ErrValidation = errors.New("validation failed")
)

type Error struct {
	Op     string
	Kind   error
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("broker: %s: %s", e.Op, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func conflict(op, detail string, err error) error {
	return &Error{Op: op, Kind: ErrConflict, Detail: detail, Err: err}
}

func notFound(op, detail string) error {
	return &Error{Op: op, Kind: ErrNotFound, Detail: detail}
}

func expired(op, detail string) error {
	return &Error{Op: op, Kind: ErrExpired, Detail: detail}
}

func invalid(op, detail string) error {
	return &Error{Op: op, Kind: ErrValidation, Detail: detail}
}

// Result classifies err for metrics and logs.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
