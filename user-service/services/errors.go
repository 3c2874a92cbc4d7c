// Package services implements the membership lifecycle: organizations, invitations,
// join requests and the reconciliation of organization roles against the identity
// authority's flat role model.
package services

import (
	"errors"
	"fmt"
)

// Code is a machine-readable failure code. Calling layers map codes to transport
// status codes; the services never produce a transport-specific representation.
type Code string

const (
	// CodeNotFound means the entity or token does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeNotAuthorized means the caller lacks the required organization role.
	CodeNotAuthorized Code = "NOT_AUTHORIZED"
	// CodeForbidden means the caller does not own the targeted record.
	CodeForbidden Code = "FORBIDDEN"
	// CodeNotPending means the record is no longer awaiting a decision.
	CodeNotPending Code = "NOT_PENDING"
	// CodeWrongOrganization means the record belongs to a different organization.
	CodeWrongOrganization Code = "WRONG_ORGANIZATION"
	// CodeExpired means the invitation is past its expiry.
	CodeExpired Code = "EXPIRED"
	// CodeConflictingProposal means a pending invitation, pending join request or an
	// existing membership already ties the user to the organization.
	CodeConflictingProposal Code = "CONFLICTING_PROPOSAL"
	// CodeAdminConflict means the user already administers another organization.
	CodeAdminConflict Code = "ADMIN_CONFLICT"
	// CodeSelfRemovalForbidden means an admin tried to remove themselves through the
	// admin-only removal path.
	CodeSelfRemovalForbidden Code = "SELF_REMOVAL_FORBIDDEN"
	// CodeAuthorityUnavailable means identity-authority retries were exhausted or the
	// circuit breaker is open. Retryable by the caller.
	CodeAuthorityUnavailable Code = "AUTHORITY_UNAVAILABLE"
	// CodeInvalidArgument means the input failed validation.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
)

// Error is a typed service failure.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// IsCode reports whether err carries the given failure code.
func IsCode(err error, code Code) bool {
	var serviceErr *Error
	return errors.As(err, &serviceErr) && serviceErr.Code == code
}

// ErrorCode extracts the failure code from err, or CodeUnknown semantics via false.
func ErrorCode(err error) (Code, bool) {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr.Code, true
	}
	return "", false
}
