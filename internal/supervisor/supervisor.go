// Package supervisor starts, watches, and tears down session units.
//
// A unit is the paired (Manager, State) actor set for one session. The pair
// is one-for-all: a crash in either actor tears down both, and the
// supervisor restarts the whole unit with exponential backoff up to a
// restart cap. Beyond the cap the unit is stopped and unregistered.
//
// The handle map keyed by (role, session id) is the only state shared
// across sessions; everything else is exclusively owned by its unit.
package supervisor

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/atelier-dev/atelier/internal/event"
	"github.com/atelier-dev/atelier/internal/logging"
	"github.com/atelier-dev/atelier/internal/manager"
	"github.com/atelier-dev/atelier/internal/registry"
	"github.com/atelier-dev/atelier/internal/state"
	"github.com/atelier-dev/atelier/pkg/types"
)

// DefaultMaxRestarts caps crash restarts per unit before it is abandoned.
const DefaultMaxRestarts = 3

type role string

const (
	roleManager role = "manager"
	roleState   role = "state"
)

type handleKey struct {
	role      role
	sessionID string
}

type unit struct {
	session  types.Session
	mgr      *manager.Manager
	st       *state.Store
	stopping atomic.Bool
	restarts int
}

// Options configures a Tree.
type Options struct {
	MaxSessions int
	MaxRestarts int
	Bus         *event.Bus
}

// Tree supervises all session units.
type Tree struct {
	mu          sync.Mutex
	reg         *registry.Registry
	bus         *event.Bus
	handles     map[handleKey]*unit
	maxRestarts int
}

// NewTree creates a supervisor tree with its own registry.
func NewTree(opts Options) *Tree {
	if opts.Bus == nil {
		opts.Bus = event.Default()
	}
	if opts.MaxRestarts <= 0 {
		opts.MaxRestarts = DefaultMaxRestarts
	}
	return &Tree{
		reg:         registry.New(opts.MaxSessions),
		bus:         opts.Bus,
		handles:     make(map[handleKey]*unit),
		maxRestarts: opts.MaxRestarts,
	}
}

// Registry exposes the session catalog for read-side consumers.
func (t *Tree) Registry() *registry.Registry { return t.reg }

// CreateOptions are the inputs for a new session.
type CreateOptions struct {
	Name        string
	ProjectPath string
	Config      types.SessionConfig
}

// CreateSession builds a session for the given project path, registers it,
// and starts its unit. On start failure the registration is rolled back.
func (t *Tree) CreateSession(opts CreateOptions) (*types.Session, error) {
	canon, err := canonicalDir(opts.ProjectPath)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	session := &types.Session{
		ID:          uuid.NewString(),
		Name:        opts.Name,
		ProjectPath: canon,
		Config:      opts.Config,
		Time:        types.SessionTime{Created: now, Updated: now},
	}
	if session.Name == "" {
		session.Name = filepath.Base(canon)
	}
	return session, t.StartSession(session)
}

// StartSession registers a fully-formed session (fresh or reconstructed by
// an external persistence layer) and starts its unit.
func (t *Tree) StartSession(session *types.Session) error {
	registered, err := t.reg.Register(session)
	if err != nil {
		return err
	}

	u, err := t.startUnit(*registered)
	if err != nil {
		t.reg.Unregister(registered.ID)
		return fmt.Errorf("starting session unit: %w", err)
	}

	t.mu.Lock()
	t.handles[handleKey{roleManager, registered.ID}] = u
	t.handles[handleKey{roleState, registered.ID}] = u
	t.mu.Unlock()

	go t.watch(u)

	t.bus.Publish(event.Event{
		Type:      event.SessionCreated,
		SessionID: registered.ID,
		Data:      event.SessionData{Info: registered},
	})
	logging.Info().Str("sessionID", registered.ID).Str("path", registered.ProjectPath).Msg("session started")
	return nil
}

func (t *Tree) startUnit(session types.Session) (*unit, error) {
	mgr, err := manager.New(session.ID, session.ProjectPath, session.Config.AllowedCommands)
	if err != nil {
		return nil, err
	}
	st := state.New(session.ID, t.bus)
	return &unit{session: session, mgr: mgr, st: st}, nil
}

// watch blocks until either actor of the unit exits. A deliberate stop ends
// the watch; anything else is a crash and triggers a one-for-all restart.
func (t *Tree) watch(u *unit) {
	select {
	case <-u.mgr.Done():
	case <-u.st.Done():
	}
	if u.stopping.Load() {
		return
	}

	logging.Warn().Str("sessionID", u.session.ID).Msg("session unit crashed")
	t.teardown(u)
	t.restart(u)
}

// teardown stops both actors of a unit without touching the registry.
func (t *Tree) teardown(u *unit) {
	u.stopping.Store(true)
	u.mgr.Stop()
	u.st.Stop()
}

func (t *Tree) restart(u *unit) {
	if u.restarts >= t.maxRestarts {
		logging.Error().Str("sessionID", u.session.ID).Int("restarts", u.restarts).Msg("restart cap reached, abandoning session")
		t.removeUnit(u.session.ID)
		t.bus.Publish(event.Event{
			Type:      event.SessionStopped,
			SessionID: u.session.ID,
			Data:      event.SessionData{Info: &u.session},
		})
		return
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second

	// The catalog may carry a newer config than the crashed unit's snapshot.
	session := u.session
	if current, err := t.reg.LookupByID(session.ID); err == nil {
		session = *current
	}

	var fresh *unit
	err := backoff.Retry(func() error {
		var unitErr error
		fresh, unitErr = t.startUnit(session)
		return unitErr
	}, policy)
	if err != nil {
		logging.Error().Str("sessionID", u.session.ID).Err(err).Msg("session restart failed")
		t.removeUnit(u.session.ID)
		t.bus.Publish(event.Event{
			Type:      event.SessionStopped,
			SessionID: u.session.ID,
			Data:      event.SessionData{Info: &u.session},
		})
		return
	}

	fresh.restarts = u.restarts + 1
	if !t.installIfCurrent(u, fresh) {
		// The session was stopped while the new unit was being built.
		t.teardown(fresh)
		return
	}

	go t.watch(fresh)

	t.bus.Publish(event.Event{
		Type:      event.SessionRestarted,
		SessionID: u.session.ID,
		Data:      event.SessionData{Info: &u.session},
	})
	logging.Info().Str("sessionID", u.session.ID).Int("attempt", fresh.restarts).Msg("session unit restarted")
}

// installIfCurrent swaps fresh in for old under the lock. It fails when the
// session was stopped or its unit replaced while fresh was being built, in
// which case fresh must not serve traffic.
func (t *Tree) installIfCurrent(old, fresh *unit) bool {
	mgrKey := handleKey{roleManager, old.session.ID}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handles[mgrKey] != old {
		return false
	}
	t.handles[mgrKey] = fresh
	t.handles[handleKey{roleState, old.session.ID}] = fresh
	return true
}

func (t *Tree) removeUnit(sessionID string) {
	t.mu.Lock()
	delete(t.handles, handleKey{roleManager, sessionID})
	delete(t.handles, handleKey{roleState, sessionID})
	t.mu.Unlock()
	t.reg.Unregister(sessionID)
}

func (t *Tree) lookup(r role, sessionID string) (*unit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.handles[handleKey{r, sessionID}]
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, sessionID)
	}
	return u, nil
}

// StopSession terminates a session's unit and removes it from the catalog.
func (t *Tree) StopSession(sessionID string) error {
	u, err := t.lookup(roleManager, sessionID)
	if err != nil {
		return err
	}
	t.teardown(u)
	t.removeUnit(sessionID)
	t.bus.Publish(event.Event{
		Type:      event.SessionStopped,
		SessionID: sessionID,
		Data:      event.SessionData{Info: &u.session},
	})
	logging.Info().Str("sessionID", sessionID).Msg("session stopped")
	return nil
}

// RestartSession stops a session's unit and starts a fresh one, keeping its
// registration. State does not survive; callers wanting continuity snapshot
// it first through the persistence surface.
func (t *Tree) RestartSession(sessionID string) error {
	u, err := t.lookup(roleManager, sessionID)
	if err != nil {
		return err
	}
	t.teardown(u)

	session := u.session
	if current, err := t.reg.LookupByID(sessionID); err == nil {
		session = *current
	}
	fresh, err := t.startUnit(session)
	if err != nil {
		t.removeUnit(sessionID)
		return fmt.Errorf("restarting session unit: %w", err)
	}

	if !t.installIfCurrent(u, fresh) {
		t.teardown(fresh)
		return fmt.Errorf("%w: %s", registry.ErrNotFound, sessionID)
	}

	go t.watch(fresh)

	t.bus.Publish(event.Event{
		Type:      event.SessionRestarted,
		SessionID: sessionID,
		Data:      event.SessionData{Info: &u.session},
	})
	return nil
}

// UpdateConfig replaces a session's configuration and bumps its update time.
// Permission changes take effect on the next tool call; the running actors
// keep the command allow-list they started with until the unit restarts.
func (t *Tree) UpdateConfig(sessionID string, cfg types.SessionConfig) (*types.Session, error) {
	session, err := t.reg.LookupByID(sessionID)
	if err != nil {
		return nil, err
	}
	session.Config = cfg
	session.Time.Updated = time.Now().UnixMilli()

	updated, err := t.reg.Update(session)
	if err != nil {
		return nil, err
	}
	t.bus.Publish(event.Event{
		Type:      event.SessionUpdated,
		SessionID: sessionID,
		Data:      event.SessionData{Info: updated},
	})
	logging.Info().Str("sessionID", sessionID).Msg("session config updated")
	return updated, nil
}

// Rename changes a session's display name and bumps its update time. Names
// need not be unique across sessions.
func (t *Tree) Rename(sessionID, name string) (*types.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("session name must not be empty")
	}

	session, err := t.reg.LookupByID(sessionID)
	if err != nil {
		return nil, err
	}
	session.Name = name
	session.Time.Updated = time.Now().UnixMilli()

	updated, err := t.reg.Update(session)
	if err != nil {
		return nil, err
	}
	t.bus.Publish(event.Event{
		Type:      event.SessionUpdated,
		SessionID: sessionID,
		Data:      event.SessionData{Info: updated},
	})
	return updated, nil
}

// ManagerFor returns the execution runtime for a session.
func (t *Tree) ManagerFor(sessionID string) (*manager.Manager, error) {
	u, err := t.lookup(roleManager, sessionID)
	if err != nil {
		return nil, err
	}
	return u.mgr, nil
}

// StateFor returns the state store for a session.
func (t *Tree) StateFor(sessionID string) (*state.Store, error) {
	u, err := t.lookup(roleState, sessionID)
	if err != nil {
		return nil, err
	}
	return u.st, nil
}

// GetSession returns the catalog entry for a session.
func (t *Tree) GetSession(sessionID string) (*types.Session, error) {
	return t.reg.LookupByID(sessionID)
}

// ListSessions returns all active sessions, oldest first.
func (t *Tree) ListSessions() []*types.Session {
	return t.reg.ListAll()
}

// Shutdown stops every unit. The tree is unusable afterwards.
func (t *Tree) Shutdown() {
	for _, session := range t.reg.ListAll() {
		if err := t.StopSession(session.ID); err != nil {
			logging.Warn().Str("sessionID", session.ID).Err(err).Msg("shutdown: stop failed")
		}
	}
}

// canonicalDir resolves path to an absolute, symlink-free directory path.
func canonicalDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid project path: %w", err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("project path does not exist: %s", path)
	}
	return canon, nil
}
