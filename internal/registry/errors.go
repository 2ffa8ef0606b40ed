package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrActivityNotFound is returned when no activity has the requested name
	ErrActivityNotFound = errors.New("activity not found")

	// ErrAlreadySignedUp is returned when the email is already on the roster
	ErrAlreadySignedUp = errors.New("student is already signed up")

	// ErrNotSignedUp is returned when unregistering an email that is not on the roster
	ErrNotSignedUp = errors.New("student is not signed up for this activity")
)

// MembershipError carries the activity and email a rejected operation targeted.
type MembershipError struct {
	Activity string
	Email    string
	Err      error
}

func (e *MembershipError) Error() string {
	if e.Email == "" {
		return fmt.Sprintf("%s: %v", e.Activity, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Activity, e.Email, e.Err)
}

func (e *MembershipError) Unwrap() error { return e.Err }

// IsNotFound reports whether err means the activity does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrActivityNotFound) }

// IsInvalidState reports whether err rejects a signup or unregister because of
// the current roster membership.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrAlreadySignedUp) || errors.Is(err, ErrNotSignedUp)
}
