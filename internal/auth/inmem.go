package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryUsers implements UserStore with in-process concurrency safety.
// Used in tests and single-node development.
type InMemoryUsers struct {
	mu    sync.RWMutex
	users map[string]*User
}

var _ UserStore = (*InMemoryUsers)(nil)

// NewInMemoryUsers creates an empty user store.
func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{users: make(map[string]*User)}
}

func (s *InMemoryUsers) CreateUser(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return ErrConflict
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *InMemoryUsers) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *InMemoryUsers) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryUsers) ListUsers(ctx context.Context, orgID string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0)
	for _, user := range s.users {
		if user.OrgID == orgID {
			out = append(out, *user)
		}
	}
	return out, nil
}

func (s *InMemoryUsers) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		user.Name = *upd.Name
	}
	if upd.Role != nil {
		user.Role = *upd.Role
	}
	if upd.OrgID != nil {
		user.OrgID = *upd.OrgID
	}
	user.UpdatedAt = time.Now().UTC()
	cp := *user
	return &cp, nil
}
