// Package apperr defines the error taxonomy shared by the herald core
// services. Services wrap these sentinels with context via fmt.Errorf and
// %w; the HTTP layer maps them back to status codes with errors.Is.
package apperr

import "errors"

var (
	// ErrNotFound indicates a tenant, channel, or subscription is absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a duplicate identifier on creation.
	ErrConflict = errors.New("already exists")
	// ErrForbidden indicates an admin-only action attempted by a non-admin.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidRequest indicates a structurally invalid request, such as an
	// empty target list.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPreconditionRequired indicates a direct send to a user that has
	// never registered a device token.
	ErrPreconditionRequired = errors.New("precondition required")
)
