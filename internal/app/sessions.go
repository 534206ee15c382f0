package app

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/billsplit/billsplit/internal/session"
	"github.com/billsplit/billsplit/internal/store"
)

// userSession is one user's live bill plus what the service tracks beside it.
type userSession struct {
	mu sync.Mutex
	s  *session.Session
	// images are the archived uploads behind the active receipt.
	images []string
	// savedID is set once the active receipt has been saved to history, so
	// later saves update the same document.
	savedID string
	// ready is set once the default group has been considered.
	ready bool
}

// Sessions holds one session per user. Each session has its own lock so
// users never wait on each other.
type Sessions struct {
	mu       sync.Mutex
	cfg      session.Config
	db       store.DB
	sessions map[string]*userSession
}

// NewSessions creates an empty registry. db may be nil, in which case no
// default group is loaded.
func NewSessions(cfg session.Config, db store.DB) *Sessions {
	return &Sessions{
		cfg:      cfg,
		db:       db,
		sessions: make(map[string]*userSession),
	}
}

// with runs fn while holding the user's session lock, creating the session
// on first use. The default group is read under the user's lock only, so a
// slow store never blocks other users.
func (r *Sessions) with(userID string, fn func(us *userSession) error) error {
	us := r.get(userID)
	us.mu.Lock()
	defer us.mu.Unlock()
	if !us.ready {
		r.loadDefaultGroup(userID, us.s)
		us.ready = true
	}
	return fn(us)
}

func (r *Sessions) get(userID string) *userSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	us, ok := r.sessions[userID]
	if !ok {
		us = &userSession{s: session.New(r.cfg)}
		r.sessions[userID] = us
	}
	return us
}

// loadDefaultGroup silently loads the user's default group into a fresh
// session. Read failures are logged and leave the roster empty.
func (r *Sessions) loadDefaultGroup(userID string, s *session.Session) {
	if r.db == nil {
		return
	}
	prefs, err := r.db.GetPreferences(userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Failed to read preferences", "user", userID, "error", err)
		}
		return
	}
	if prefs.DefaultGroupID == "" {
		return
	}
	group, err := r.db.GetGroup(userID, prefs.DefaultGroupID)
	if err != nil {
		slog.Warn("Failed to load default group", "user", userID, "group", prefs.DefaultGroupID, "error", err)
		return
	}
	if err := s.LoadGroup(*group); err != nil {
		slog.Warn("Failed to load default group", "user", userID, "group", prefs.DefaultGroupID, "error", err)
		return
	}
	slog.Debug("Loaded default group", "user", userID, "group", group.Name, "people", len(group.People))
}
