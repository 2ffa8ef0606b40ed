package registry

import "time"

// Action names a roster transition.
type Action string

const (
	ActionSignup     Action = "signup"
	ActionUnregister Action = "unregister"
)

// Change describes one successful roster mutation.
type Change struct {
	Activity     string    `json:"activity"`
	Email        string    `json:"email"`
	Action       Action    `json:"action"`
	Participants int       `json:"participants"`
	At           time.Time `json:"at"`
}

// Listener observes successful mutations. It runs while the activity is locked,
// so it must not block or call back into the registry.
type Listener func(Change)

// Store is the surface the HTTP layer depends on
type Store interface {
	List() map[string]Activity
	Signup(name, email string) (string, error)
	Unregister(name, email string) (string, error)
}

var _ Store = (*Registry)(nil)
