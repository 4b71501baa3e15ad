package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"copyflow.org/internal/ids"
	"copyflow.org/internal/workflow"
)

// User is an account record. Created on first authentication; role and org
// are assigned during onboarding and thereafter mutable only by an Admin.
type User struct {
	ID        string        `json:"uid"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Role      workflow.Role `json:"role"`
	OrgID     string        `json:"org_id"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Identity converts the record to an acting identity.
func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Name: u.Name, Role: u.Role, OrgID: u.OrgID}
}

// UserUpdate carries optional field changes. Nil means leave unchanged.
type UserUpdate struct {
	Name  *string
	Role  *workflow.Role
	OrgID *string
}

// UserStore persists user records.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, orgID string) ([]User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error)
}

// Users provides onboarding and administration of user accounts.
type Users struct {
	store UserStore
	now   func() time.Time
}

// NewUsers constructs the user service.
func NewUsers(store UserStore) (*Users, error) {
	if store == nil {
		return nil, errors.New("auth: user store is required")
	}
	return &Users{store: store, now: time.Now}, nil
}

// WithClock overrides the time source. Test use only.
func (s *Users) WithClock(fn func() time.Time) *Users {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Ensure returns the user for the external uid, creating the record on first
// authentication. New users start as Content Creator in a fresh personal
// workspace, matching the onboarding default.
func (s *Users) Ensure(ctx context.Context, uid, name, email string) (*User, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, fmt.Errorf("%w: uid is required", ErrInvalidInput)
	}
	existing, err := s.store.GetUser(ctx, uid)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = "New User"
	}
	email = strings.TrimSpace(strings.ToLower(email))
	now := s.now().UTC()
	user := &User{
		ID:        uid,
		Name:      name,
		Email:     email,
		Role:      workflow.RoleContentCreator,
		OrgID:     ids.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate verifies a bearer token and reloads the user record, so role
// or org changes take effect on the next request rather than at token expiry.
func (s *Users) Authenticate(ctx context.Context, token string) (*User, error) {
	claims, err := ParseAndValidate(token)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

// Get loads a user visible to the actor: same org, or any org for Admins.
func (s *Users) Get(ctx context.Context, actor Identity, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.OrgID != actor.OrgID && !actor.IsAdmin() {
		return nil, ErrNotFound
	}
	return user, nil
}

// List returns the actor's org members.
func (s *Users) List(ctx context.Context, actor Identity) ([]User, error) {
	return s.store.ListUsers(ctx, actor.OrgID)
}

// Update applies role or org changes. Only Admin actors may change either;
// a user may rename themselves.
func (s *Users) Update(ctx context.Context, actor Identity, id string, upd UserUpdate) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if upd.Role != nil || upd.OrgID != nil {
		if !actor.IsAdmin() {
			return nil, fmt.Errorf("%w: only Admin may change role or org", ErrUnauthorized)
		}
	}
	if upd.Role != nil {
		role, err := workflow.ParseRole(string(*upd.Role))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		upd.Role = &role
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
		}
		if id != actor.UserID && !actor.IsAdmin() {
			return nil, fmt.Errorf("%w: cannot rename another user", ErrUnauthorized)
		}
		upd.Name = &name
	}
	if upd.OrgID != nil {
		org := strings.TrimSpace(*upd.OrgID)
		if org == "" {
			return nil, fmt.Errorf("%w: org id is required", ErrInvalidInput)
		}
		upd.OrgID = &org
	}
	return s.store.UpdateUser(ctx, id, upd)
}
