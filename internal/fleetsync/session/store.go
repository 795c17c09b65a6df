// Package session owns the provider session: where it is kept and how its
// validity is established.
package session

import (
	"context"
	"sync"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
)

// Store is the single source of truth for the current provider session.
// Reads are served from memory once loaded; writes go through to the
// repository and are serialized.
type Store struct {
	repo core.SessionRepository

	mu      sync.RWMutex
	current *model.Session
	loaded  bool
}

func NewStore(repo core.SessionRepository) *Store {
	return &Store{repo: repo}
}

// Get returns the current session, or nil when there is none.
func (s *Store) Get(ctx context.Context) (*model.Session, error) {
	s.mu.RLock()
	if s.loaded {
		cur := s.current
		s.mu.RUnlock()
		return clone(cur), nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		latest, err := s.repo.Latest(ctx)
		if err != nil {
			return nil, err
		}
		s.current = latest
		s.loaded = true
	}
	return clone(s.current), nil
}

// List returns up to limit stored sessions, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]model.Session, error) {
	return s.repo.List(ctx, limit)
}

// Put replaces the current session.
func (s *Store) Put(ctx context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Put(ctx, sess); err != nil {
		return err
	}
	s.current = &sess
	s.loaded = true
	return nil
}

// Clear drops every stored session.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Clear(ctx); err != nil {
		return err
	}
	s.current = nil
	s.loaded = true
	return nil
}

func clone(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
