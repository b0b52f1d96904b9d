// Package memory provides an in-process auth.UserStore for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"inkpost.org/internal/auth"
	"inkpost.org/internal/ids"
)

var _ auth.UserStore = (*Store)(nil)

// Store keeps users in maps guarded by a RWMutex. Username and email indexes
// enforce the same uniqueness the database backends get from unique indexes.
type Store struct {
	mu         sync.RWMutex
	users      map[string]*auth.User
	byEmail    map[string]string
	byUsername map[string]string
	now        func() time.Time
}

// Option configures Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		users:      make(map[string]*auth.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) FindByEmail(_ context.Context, email string, includeSensitive bool) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[auth.NormalizeEmail(email)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return snapshot(s.users[id], includeSensitive), nil
}

func (s *Store) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[auth.NormalizeUsername(username)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return snapshot(s.users[id], false), nil
}

func (s *Store) FindByID(_ context.Context, id string, includeSensitive bool) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return snapshot(u, includeSensitive), nil
}

func (s *Store) Create(_ context.Context, nu auth.NewUser) (*auth.User, error) {
	email := auth.NormalizeEmail(nu.Email)
	username := auth.NormalizeUsername(nu.Username)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byUsername[username]; taken {
		return nil, auth.ErrDuplicateUsername
	}
	if _, taken := s.byEmail[email]; taken {
		return nil, auth.ErrDuplicateEmail
	}

	now := s.now().UTC()
	u := &auth.User{
		ID:           ids.NewAt(now),
		Email:        email,
		Username:     username,
		FullName:     nu.FullName,
		PasswordHash: nu.PasswordHash,
		Role:         nu.Role,
		Status:       nu.Status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.Role == "" {
		u.Role = auth.RoleUser
	}
	if u.Status == "" {
		u.Status = auth.StatusActive
	}
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	s.byUsername[username] = u.ID
	return snapshot(u, false), nil
}

func (s *Store) UpdateByID(_ context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if upd.Email != nil {
		email := auth.NormalizeEmail(*upd.Email)
		if owner, taken := s.byEmail[email]; taken && owner != id {
			return nil, auth.ErrDuplicateEmail
		}
		delete(s.byEmail, u.Email)
		s.byEmail[email] = id
		u.Email = email
	}
	if upd.FullName != nil {
		u.FullName = *upd.FullName
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.RefreshToken != nil {
		token := *upd.RefreshToken
		u.RefreshToken = &token
	}
	if upd.LastLoginAt != nil {
		at := upd.LastLoginAt.UTC()
		u.LastLoginAt = &at
	}
	u.UpdatedAt = s.now().UTC()
	return snapshot(u, false), nil
}

func (s *Store) ClearRefreshToken(_ context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	u.RefreshToken = nil
	u.UpdatedAt = s.now().UTC()
	return snapshot(u, false), nil
}

func (s *Store) List(_ context.Context) ([]*auth.User, error) {
	s.mu.RLock()
	out := make([]*auth.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, snapshot(u, false))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.byEmail, u.Email)
	delete(s.byUsername, u.Username)
	delete(s.users, id)
	return nil
}

// SetStatus changes a user's account status. Status management has no API
// surface; this exists for seeding and tests.
func (s *Store) SetStatus(id string, status auth.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = s.now().UTC()
	return nil
}

// SetRole changes a user's role. Like SetStatus, it has no API surface.
func (s *Store) SetRole(id string, role auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.Role = role
	u.UpdatedAt = s.now().UTC()
	return nil
}

// snapshot copies u so callers never alias store state.
func snapshot(u *auth.User, includeSensitive bool) *auth.User {
	cp := *u
	if u.LastLoginAt != nil {
		at := *u.LastLoginAt
		cp.LastLoginAt = &at
	}
	cp.RefreshToken = nil
	if !includeSensitive {
		cp.PasswordHash = ""
		return &cp
	}
	if u.RefreshToken != nil {
		token := *u.RefreshToken
		cp.RefreshToken = &token
	}
	return &cp
}
