// Package auth holds the session-scoped authorization context. Capabilities
// are loaded once at login and answered from memory afterwards, instead of
// re-querying the profile store on every request.
package auth

import (
	"context"
	"sync"
)

// ProfileLoader resolves the capability set granted to a user. It is only
// consulted at login.
type ProfileLoader interface {
	LoadCapabilities(ctx context.Context, userID string) ([]string, error)
}

// SessionContext caches per-user capability sets between login and logout.
// Safe for concurrent use from multiple sessions of the same user.
type SessionContext struct {
	loader ProfileLoader

	mu       sync.RWMutex
	sessions map[string]map[string]struct{}
}

// NewSessionContext builds an empty context over the given loader.
func NewSessionContext(loader ProfileLoader) *SessionContext {
	return &SessionContext{
		loader:   loader,
		sessions: make(map[string]map[string]struct{}),
	}
}

// Login populates the capability set for the user. Calling it again for an
// already-logged-in user refreshes the set.
func (s *SessionContext) Login(ctx context.Context, userID string) error {
	caps, err := s.loader.LoadCapabilities(ctx, userID)
	if err != nil {
		return err
	}

	set := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}

	s.mu.Lock()
	s.sessions[userID] = set
	s.mu.Unlock()
	return nil
}

// Logout tears down the user's cached capabilities.
func (s *SessionContext) Logout(userID string) {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
}

// Active reports whether the user has a live session.
func (s *SessionContext) Active(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[userID]
	return ok
}

// HasCapability answers from the session cache. A user without an active
// session has no capabilities.
func (s *SessionContext) HasCapability(userID string, capability string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sessions[userID]
	if !ok {
		return false
	}
	_, ok = set[capability]
	return ok
}
