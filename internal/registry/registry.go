// Package registry provides the concurrent catalog of active sessions.
//
// The registry is the single source of truth for which sessions exist. Reads
// are lock-free relative to each other; writes serialize under the write
// lock so uniqueness checks and inserts are atomic with respect to one
// another, closing the check-then-insert race.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/atelier-dev/atelier/pkg/types"
)

var (
	// ErrLimitReached is returned when registering would exceed the
	// configured session maximum.
	ErrLimitReached = errors.New("session limit reached")

	// ErrIDExists is returned when a session with the same id is already
	// registered.
	ErrIDExists = errors.New("session id already registered")

	// ErrPathInUse is returned when another active session owns the same
	// project path.
	ErrPathInUse = errors.New("project path already in use")

	// ErrNotFound is returned by lookups and updates that miss.
	ErrNotFound = errors.New("session not found")
)

// Registry is the concurrent session catalog.
type Registry struct {
	mu     sync.RWMutex
	max    int
	byID   map[string]*types.Session
	byPath map[string]string // project path -> session id
}

// New creates a registry capped at max sessions. A non-positive max falls
// back to the default.
func New(max int) *Registry {
	if max <= 0 {
		max = types.DefaultMaxSessions
	}
	return &Registry{
		max:    max,
		byID:   make(map[string]*types.Session),
		byPath: make(map[string]string),
	}
}

// Register inserts a session after validating, cheapest check first: count
// limit, id collision, path collision. The stored session is a copy; the
// registry never aliases caller memory.
func (r *Registry) Register(session *types.Session) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byID) >= r.max {
		return nil, fmt.Errorf("%w: max %d", ErrLimitReached, r.max)
	}
	if _, ok := r.byID[session.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrIDExists, session.ID)
	}
	if owner, ok := r.byPath[session.ProjectPath]; ok {
		return nil, fmt.Errorf("%w: %s (session %s)", ErrPathInUse, session.ProjectPath, owner)
	}

	stored := *session
	r.byID[stored.ID] = &stored
	r.byPath[stored.ProjectPath] = stored.ID
	return &stored, nil
}

// LookupByID returns the session with the given id.
func (r *Registry) LookupByID(id string) (*types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c := *session
	return &c, nil
}

// LookupByPath returns the active session owning the given project path.
func (r *Registry) LookupByPath(projectPath string) (*types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPath[projectPath]
	if !ok {
		return nil, fmt.Errorf("%w: path %s", ErrNotFound, projectPath)
	}
	c := *r.byID[id]
	return &c, nil
}

// LookupByName returns the first session with the given name, oldest first.
// Names are not unique; callers wanting determinism should use ids.
func (r *Registry) LookupByName(name string) (*types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var match *types.Session
	for _, session := range r.byID {
		if session.Name != name {
			continue
		}
		if match == nil || session.Time.Created < match.Time.Created {
			match = session
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: name %s", ErrNotFound, name)
	}
	c := *match
	return &c, nil
}

// ListAll returns all sessions sorted by creation time, oldest first, with
// id as the tiebreaker.
func (r *Registry) ListAll() []*types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*types.Session, 0, len(r.byID))
	for _, session := range r.byID {
		c := *session
		sessions = append(sessions, &c)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Time.Created != sessions[j].Time.Created {
			return sessions[i].Time.Created < sessions[j].Time.Created
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions
}

// Update replaces a registered session's data. The project path may change;
// path uniqueness is re-checked when it does.
func (r *Registry) Update(session *types.Session) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[session.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, session.ID)
	}
	if session.ProjectPath != existing.ProjectPath {
		if owner, taken := r.byPath[session.ProjectPath]; taken {
			return nil, fmt.Errorf("%w: %s (session %s)", ErrPathInUse, session.ProjectPath, owner)
		}
		delete(r.byPath, existing.ProjectPath)
		r.byPath[session.ProjectPath] = session.ID
	}

	stored := *session
	r.byID[stored.ID] = &stored
	c := stored
	return &c, nil
}

// Unregister removes a session. Removing an unknown id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if r.byPath[session.ProjectPath] == id {
		delete(r.byPath, session.ProjectPath)
	}
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
