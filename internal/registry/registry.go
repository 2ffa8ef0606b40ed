package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/config"
)

// Activity is the public view of one activity and its roster.
type Activity struct {
	Description     string   `json:"description"`
	Schedule        string   `json:"schedule"`
	MaxParticipants int      `json:"max_participants"`
	Participants    []string `json:"participants"`
}

func (a Activity) clone() Activity {
	out := a
	out.Participants = make([]string, len(a.Participants))
	copy(out.Participants, a.Participants)
	return out
}

func (a Activity) indexOf(email string) int {
	for i, p := range a.Participants {
		if p == email {
			return i
		}
	}
	return -1
}

type entry struct {
	mu       sync.RWMutex
	activity Activity
}

// Registry is the in-memory activity store. The map is guarded by mu and each
// roster by its entry lock, so mutations of different activities never contend.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	listeners []Listener
	logger    *zap.Logger
	now       func() time.Time
}

// ApplyResult reports which activities a catalog apply touched.
type ApplyResult struct {
	Added   []string
	Updated []string
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
		now:     time.Now,
	}
}

// NewFromCatalog creates a registry seeded from cat.
func NewFromCatalog(cat *config.Catalog, logger *zap.Logger) *Registry {
	r := New(logger)
	r.Apply(cat)
	return r
}

// AddListener registers l for every later successful signup or unregister.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Apply merges a catalog into the registry. Unknown names are added with their
// seeded roster. Known names get their metadata refreshed but keep the live
// roster. Activities missing from cat are left in place.
func (r *Registry) Apply(cat *config.Catalog) ApplyResult {
	var res ApplyResult
	if cat == nil {
		return res
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range sortedNames(cat.Activities) {
		seed := cat.Activities[name]
		if e, ok := r.entries[name]; ok {
			e.mu.Lock()
			e.activity.Description = seed.Description
			e.activity.Schedule = seed.Schedule
			e.activity.MaxParticipants = seed.MaxParticipants
			e.mu.Unlock()
			res.Updated = append(res.Updated, name)
			continue
		}

		// Apply also takes catalogs built in code that never went through
		// Catalog.Validate, so the roster invariant is enforced here too.
		participants := make([]string, 0, len(seed.Participants))
		seen := make(map[string]struct{}, len(seed.Participants))
		for _, p := range seed.Participants {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			participants = append(participants, p)
		}
		r.entries[name] = &entry{activity: Activity{
			Description:     seed.Description,
			Schedule:        seed.Schedule,
			MaxParticipants: seed.MaxParticipants,
			Participants:    participants,
		}}
		res.Added = append(res.Added, name)
	}

	r.logger.Info("Activity catalog applied",
		zap.Int("added", len(res.Added)),
		zap.Int("updated", len(res.Updated)),
		zap.Int("total", len(r.entries)),
	)
	return res
}

// List returns a deep copy of every activity keyed by name.
func (r *Registry) List() map[string]Activity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Activity, len(r.entries))
	for name, e := range r.entries {
		e.mu.RLock()
		out[name] = e.activity.clone()
		e.mu.RUnlock()
	}
	return out
}

// Get returns a copy of a single activity.
func (r *Registry) Get(name string) (Activity, error) {
	e, _, ok := r.lookup(name)
	if !ok {
		return Activity{}, &MembershipError{Activity: name, Err: ErrActivityNotFound}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activity.clone(), nil
}

// Names returns the activity names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Signup appends email to the named activity's roster.
func (r *Registry) Signup(name, email string) (string, error) {
	e, listeners, ok := r.lookup(name)
	if !ok {
		return "", &MembershipError{Activity: name, Email: email, Err: ErrActivityNotFound}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activity.indexOf(email) >= 0 {
		return "", &MembershipError{Activity: name, Email: email, Err: ErrAlreadySignedUp}
	}
	e.activity.Participants = append(e.activity.Participants, email)
	notify(listeners, Change{
		Activity:     name,
		Email:        email,
		Action:       ActionSignup,
		Participants: len(e.activity.Participants),
		At:           r.now(),
	})

	r.logger.Debug("Participant signed up",
		zap.String("activity", name),
		zap.String("email", email),
		zap.Int("participants", len(e.activity.Participants)),
	)
	return fmt.Sprintf("Signed up %s for %s", email, name), nil
}

// Unregister removes email from the named activity's roster, keeping the order
// of the remaining participants.
func (r *Registry) Unregister(name, email string) (string, error) {
	e, listeners, ok := r.lookup(name)
	if !ok {
		return "", &MembershipError{Activity: name, Email: email, Err: ErrActivityNotFound}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.activity.indexOf(email)
	if idx < 0 {
		return "", &MembershipError{Activity: name, Email: email, Err: ErrNotSignedUp}
	}
	roster := make([]string, 0, len(e.activity.Participants)-1)
	roster = append(roster, e.activity.Participants[:idx]...)
	roster = append(roster, e.activity.Participants[idx+1:]...)
	e.activity.Participants = roster
	notify(listeners, Change{
		Activity:     name,
		Email:        email,
		Action:       ActionUnregister,
		Participants: len(roster),
		At:           r.now(),
	})

	r.logger.Debug("Participant unregistered",
		zap.String("activity", name),
		zap.String("email", email),
		zap.Int("participants", len(roster)),
	)
	return fmt.Sprintf("Unregistered %s from %s", email, name), nil
}

// lookup also snapshots the listeners so notify never needs r.mu while an
// entry lock is held.
func (r *Registry) lookup(name string) (*entry, []Listener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, r.listeners, ok
}

func notify(listeners []Listener, c Change) {
	for _, l := range listeners {
		l(c)
	}
}

func sortedNames(m map[string]config.CatalogActivity) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
