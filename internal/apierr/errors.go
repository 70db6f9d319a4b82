// Package apierr defines the error taxonomy the retrieval core uses to
// cross component boundaries. Every error that should be visible to a
// caller (as opposed to logged and swallowed per the recovery rules of
// spec §7) is constructed through this package.
package apierr

import (
	"errors"
	"fmt"
)

// Code identifies one entry of the core's error taxonomy.
type Code string

const (
	OperatorNotFound  Code = "OPERATOR_NOT_FOUND"
	KBConfigError     Code = "KB_CONFIG_ERROR"
	KBNotFound        Code = "KB_NOT_FOUND"
	DocNotFound       Code = "DOC_NOT_FOUND"
	KBNotInScope      Code = "KB_NOT_IN_SCOPE"
	NoPermission      Code = "NO_PERMISSION"
	ValidationError   Code = "VALIDATION_ERROR"
	EmbeddingDimMismatch Code = "EMBEDDING_DIM_MISMATCH"
	IndexingFailed    Code = "INDEXING_FAILED"
	ProviderTransient Code = "PROVIDER_TRANSIENT"
	TenantDisabled    Code = "TENANT_DISABLED"
	InternalError     Code = "INTERNAL_ERROR"
)

// httpStatus mirrors the propagation column of spec §7's taxonomy table.
var httpStatus = map[Code]int{
	OperatorNotFound:     400,
	KBConfigError:        400,
	KBNotFound:           404,
	DocNotFound:          404,
	KBNotInScope:         403,
	NoPermission:         403,
	ValidationError:      422,
	EmbeddingDimMismatch: 500,
	IndexingFailed:       500,
	ProviderTransient:    502,
	TenantDisabled:       403,
	InternalError:        500,
}

// Error is the single error type that crosses component boundaries in the
// retrieval core. Detail is safe to surface to a caller; it must never
// leak internal state for InternalError.
type Error struct {
	Code   Code
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status code a collaborator HTTP surface should use
// for this error. Returns 500 for unrecognized codes.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return 500
}

// New constructs a taxonomy error with a detail message.
func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Newf constructs a taxonomy error with a formatted detail message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy code to an underlying error, preserving it for
// errors.Unwrap/errors.Is/errors.As.
func Wrap(code Code, detail string, cause error) *Error {
	return &Error{Code: code, Detail: detail, cause: cause}
}

// CodeOf extracts the taxonomy code from err, defaulting to InternalError
// when err is not (or does not wrap) an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
