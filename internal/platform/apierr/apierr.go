package apierr

import (
	"errors"
	"fmt"
	"net/http"

	errs "github.com/yungbote/neurobridge-rag/internal/pkg/errors"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func BadRequest(code string, err error) *Error { return New(http.StatusBadRequest, code, err) }
func NotFound(code string, err error) *Error   { return New(http.StatusNotFound, code, err) }
func Conflict(code string, err error) *Error   { return New(http.StatusConflict, code, err) }

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae != nil {
		return ae, true
	}
	return nil, false
}

// FromError maps the domain sentinels onto HTTP statuses. Anything unrecognised is a 500 with fallbackCode.
func FromError(err error, fallbackCode string) *Error {
	if ae, ok := As(err); ok {
		return ae
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrNotFound):
		return NotFound("not_found", err)
	case errors.Is(err, errs.ErrInvalidArgument):
		return BadRequest("invalid_argument", err)
	case errors.Is(err, errs.ErrInvalidTransition):
		return Conflict("invalid_transition", err)
	case errors.Is(err, errs.ErrConflict):
		return Conflict("conflict", err)
	default:
		return New(http.StatusInternalServerError, fallbackCode, err)
	}
}
