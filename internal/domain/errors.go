package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("version conflict")
	ErrTransport  = errors.New("transport failure")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")

	// Expired and revoked invites are reported as absent tokens.
	ErrInviteExpired = fmt.Errorf("invite expired: %w", ErrNotFound)
	ErrInviteRevoked = fmt.Errorf("invite revoked: %w", ErrNotFound)
	ErrInviteUsed    = fmt.Errorf("invite already used: %w", ErrNotFound)
	ErrAlreadyMember = errors.New("already a member")
)

// ValidationError rejects a malformed mutation without applying it.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(op, format string, args ...any) error {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError names the kind and id of a missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// TransportError wraps network, driver and auth failures from a remote call.
// Both ErrTransport and the underlying cause match errors.Is.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// Transport wraps err as a TransportError unless it is nil or already
// classified by this package.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) || errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrConflict) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &TransportError{Op: op, Err: err}
}

// Forbidden reports an action the actor's role does not allow.
func Forbidden(actor, action string) error {
	return fmt.Errorf("%s may not %s: %w", actor, action, ErrForbidden)
}
