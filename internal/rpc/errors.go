package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/staffhub/staffhub/internal/database"
)

// Code identifies an error class on the wire
type Code string

const (
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeMethodNotSupported Code = "METHOD_NOT_SUPPORTED"
	CodeConflict           Code = "CONFLICT"
	CodeTooManyRequests    Code = "TOO_MANY_REQUESTS"
	CodeInternal           Code = "INTERNAL_SERVER_ERROR"
)

var statusByCode = map[Code]int{
	CodeBadRequest:         http.StatusBadRequest,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeForbidden:          http.StatusForbidden,
	CodeNotFound:           http.StatusNotFound,
	CodeMethodNotSupported: http.StatusMethodNotAllowed,
	CodeConflict:           http.StatusConflict,
	CodeTooManyRequests:    http.StatusTooManyRequests,
	CodeInternal:           http.StatusInternalServerError,
}

// HTTPStatus returns the status code sent with c
func (c Code) HTTPStatus() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a procedure failure that is safe to show to the caller.
// Cause is logged but never serialized.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Errorf builds an Error with a formatted message
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// BadRequest reports invalid input
func BadRequest(msg string) *Error {
	return &Error{Code: CodeBadRequest, Message: msg}
}

// Unauthorized reports a missing or invalid bearer token
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// Forbidden reports an authenticated caller lacking permission
func Forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// NotFound reports a missing record, named by what
func NotFound(what string) *Error {
	return &Error{Code: CodeNotFound, Message: what + " not found"}
}

// Conflict reports a state or uniqueness conflict
func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg}
}

// Internal wraps an unexpected failure
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal server error", Cause: err}
}

// FromError converts any error returned by a procedure into an *Error.
// Database constraint sentinels become CONFLICT and validation failures
// BAD_REQUEST; everything else is INTERNAL_SERVER_ERROR.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return &Error{Code: CodeBadRequest, Message: validationMessage(verrs), Cause: err}
	}

	switch {
	case errors.Is(err, database.ErrConflict):
		return &Error{Code: CodeConflict, Message: "record already exists", Cause: err}
	case errors.Is(err, database.ErrInUse):
		return &Error{Code: CodeConflict, Message: "record is still referenced", Cause: err}
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		return &Error{Code: CodeBadRequest, Message: "password must be at most 72 bytes", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeInternal, Message: "request timed out", Cause: err}
	}

	return Internal(err)
}

func validationMessage(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "email":
			parts = append(parts, field+" must be a valid email address")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "min", "gte", "gt":
			parts = append(parts, fmt.Sprintf("%s must be %s %s", field, boundWord(fe.Tag()), fe.Param()))
		case "max", "lte", "lt":
			parts = append(parts, fmt.Sprintf("%s must be %s %s", field, boundWord(fe.Tag()), fe.Param()))
		case "maxbytes":
			parts = append(parts, fmt.Sprintf("%s must be at most %s bytes", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func boundWord(tag string) string {
	switch tag {
	case "min", "gte":
		return "at least"
	case "gt":
		return "greater than"
	case "max", "lte":
		return "at most"
	default:
		return "less than"
	}
}
