// Package errors provides structured error handling for custody operations.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Custody state machine errors
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeAlreadyPending    Code = "ALREADY_PENDING"
	CodeForbidden         Code = "FORBIDDEN"

	// Identity errors
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeVerificationFailed Code = "VERIFICATION_FAILED"

	// Ledger errors
	CodeLedgerConflict Code = "LEDGER_CONFLICT"
	CodeNotFound       Code = "NOT_FOUND"
	CodeAlreadyExists  Code = "ALREADY_EXISTS"

	// Input errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeVerificationFailed:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyPending, CodeAlreadyExists, CodeLedgerConflict:
		return http.StatusConflict
	case CodeInvalidTransition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
