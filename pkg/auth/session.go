package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// SessionStore is the in-memory table of live official sessions.
// It is constructed once and shared; sessions do not survive a restart.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.AuthSession
	now      func() time.Time
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*models.AuthSession),
		now:      time.Now,
	}
}

// Create opens a session for official with the fixed lifetime.
func (s *SessionStore) Create(official *Official) *models.AuthSession {
	issued := s.now().UTC()
	session := &models.AuthSession{
		ID:         uuid.NewString(),
		OfficialID: official.ID,
		Email:      official.Email,
		Name:       official.Name,
		Department: official.Department,
		Role:       official.Role,
		IssuedAt:   issued,
		ExpiresAt:  issued.Add(models.SessionTTL),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	c := *session
	return &c
}

// Verify returns the live session with the given id. Expired sessions are
// removed on the way out and reported as apperrors.ErrSessionExpired.
func (s *SessionStore) Verify(id string) (*models.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown session", apperrors.ErrUnauthorized)
	}
	if session.IsExpired(s.now()) {
		delete(s.sessions, id)
		return nil, fmt.Errorf("%w: session %s", apperrors.ErrSessionExpired, id)
	}
	c := *session
	return &c, nil
}

// Delete ends a session. Unknown ids are ignored.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len returns the number of sessions held, including expired ones not yet evicted.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
