package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable means the token endpoint could not be reached or
	// refused the admin grant. Fatal to any admin operation; no retries here.
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// ErrInvalidCredentials is returned on any login exchange or token decode
	// failure. It deliberately carries no provider detail.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrEmailTaken       = errors.New("email already registered")
	ErrDocumentRequired = errors.New("document is required")
	ErrDocumentTaken    = errors.New("document already registered")
	ErrDocumentConflict = errors.New("document already linked to another account")
	ErrSubjectTaken     = errors.New("directory account already linked to a profile")
	ErrUsernameConflict = errors.New("username already taken by another directory account")

	ErrProfileNotFound = errors.New("profile not found")
	ErrUserNotFound    = errors.New("directory user not found")

	ErrUserCreationFailed = errors.New("directory user creation yielded no id")
)

// RequestError captures a failed call against the identity provider: the
// operation attempted, the HTTP status (0 for transport failures) and the
// response body for diagnostics.
type RequestError struct {
	Op     string
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Body)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

// AttributeSyncError reports a failed attribute write-back to the directory.
// The local profile has already been persisted when this surfaces, so callers
// treat it as a lagging-mirror condition, not a data loss.
type AttributeSyncError struct {
	UserID string
	Cause  error
}

func (e *AttributeSyncError) Error() string {
	return fmt.Sprintf("syncing attributes for directory user %s: %v", e.UserID, e.Cause)
}

func (e *AttributeSyncError) Unwrap() error { return e.Cause }
