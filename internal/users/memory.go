package users

import (
	"context"
	"sync"
)

var _ Store = (*InMemory)(nil)

// InMemory is a process-local Store used in tests and single-node development.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *InMemory) Create(ctx context.Context, u *User) error {
	if u == nil || u.ID == "" || u.Email == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[u.Email]; ok {
		return ErrConflict
	}
	if _, ok := s.byID[u.ID]; ok {
		return ErrConflict
	}
	s.byID[u.ID] = cloneUser(u)
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *InMemory) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *InMemory) AppendAssignedFiles(ctx context.Context, email string, names []string) ([]string, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, nil, ErrNotFound
	}
	u := s.byID[id]
	added := MergeNew(u.AssignedFiles, names)
	u.AssignedFiles = append(u.AssignedFiles, added...)
	return added, append([]string(nil), u.AssignedFiles...), nil
}

func (s *InMemory) Ping(ctx context.Context) error { return nil }

func cloneUser(u *User) *User {
	c := *u
	c.AssignedFiles = append([]string{}, u.AssignedFiles...)
	return &c
}
