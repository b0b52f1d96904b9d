package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	minFullNameLen = 3
	maxFullNameLen = 50
)

// AccountUpdate carries the profile fields a user may change on their own
// account. Nil fields are left as they are.
type AccountUpdate struct {
	FullName *string
	Email    *string
}

// ListUsers returns every account, newest first.
func (s *Service) ListUsers(ctx context.Context) ([]UserView, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, u.View())
	}
	return views, nil
}

// GetUser returns the sanitized record of id.
func (s *Service) GetUser(ctx context.Context, id string) (UserView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return UserView{}, validationError("user id is required")
	}
	return s.CurrentUser(ctx, id)
}

// UpdateAccount changes the full name and/or email of userID. An email already
// held by another account yields ErrEmailTaken.
func (s *Service) UpdateAccount(ctx context.Context, userID string, in AccountUpdate) (view UserView, err error) {
	defer func() { s.record("update_account", err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserView{}, validationError("user id is required")
	}
	if in.FullName == nil && in.Email == nil {
		return UserView{}, validationError("fullName or email is required")
	}

	var upd UserUpdate
	if in.FullName != nil {
		name := strings.TrimSpace(*in.FullName)
		if n := utf8.RuneCountInString(name); n < minFullNameLen || n > maxFullNameLen {
			return UserView{}, validationError(fmt.Sprintf("fullName must be between %d and %d characters", minFullNameLen, maxFullNameLen))
		}
		upd.FullName = &name
	}
	if in.Email != nil {
		email := NormalizeEmail(*in.Email)
		if !validEmail(email) {
			return UserView{}, validationError("email must be a valid email address")
		}
		existing, err := s.users.FindByEmail(ctx, email, false)
		switch {
		case err == nil && existing.ID != userID:
			return UserView{}, ErrEmailTaken
		case err != nil && !errors.Is(err, ErrNotFound):
			return UserView{}, fmt.Errorf("find user by email: %w", err)
		}
		upd.Email = &email
	}

	updated, err := s.users.UpdateByID(ctx, userID, upd)
	switch {
	case errors.Is(err, ErrNotFound):
		return UserView{}, ErrUserNotFound
	case errors.Is(err, ErrDuplicateEmail):
		return UserView{}, ErrEmailTaken
	case err != nil:
		return UserView{}, fmt.Errorf("update account: %w", err)
	}
	s.log.Info("account updated", zap.String("user_id", updated.ID))
	return updated.View(), nil
}

// DeleteUser removes the account with id.
func (s *Service) DeleteUser(ctx context.Context, id string) (err error) {
	defer func() { s.record("delete_user", err) }()

	id = strings.TrimSpace(id)
	if id == "" {
		return validationError("user id is required")
	}
	if err := s.users.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}
	s.log.Info("user deleted", zap.String("user_id", id))
	return nil
}

// validEmail accepts a bare addr-spec with a dotted domain. Display names
// ("Ann <ann@example.com>") are rejected.
func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && strings.Contains(email[at+1:], ".")
}
