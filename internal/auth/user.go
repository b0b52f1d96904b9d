package auth

import (
	"strings"
	"time"
)

// Role is the enumerated authorization role of a user.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleAuthor Role = "author"
	RoleUser   Role = "user"
)

// Status is the account state of a user.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// User is the stored user record. PasswordHash and RefreshToken are only
// populated when a store read explicitly asks for sensitive fields.
type User struct {
	ID           string
	Email        string
	Username     string
	FullName     string
	PasswordHash string
	Role         Role
	Status       Status
	RefreshToken *string
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// View returns the sanitized representation handed to callers.
func (u *User) View() UserView {
	return UserView{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		FullName:    u.FullName,
		Role:        u.Role,
		Status:      u.Status,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// StoredRefreshToken returns the persisted refresh token, or "" when cleared.
func (u *User) StoredRefreshToken() string {
	if u.RefreshToken == nil {
		return ""
	}
	return *u.RefreshToken
}

// UserView is a user without password hash or refresh token.
type UserView struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	FullName    string     `json:"fullName"`
	Role        Role       `json:"role"`
	Status      Status     `json:"status"`
	LastLoginAt *time.Time `json:"lastLogin"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewUser holds the fields required to create a user record.
type NewUser struct {
	Email        string
	Username     string
	FullName     string
	PasswordHash string
	Role         Role
	Status       Status
}

// UserUpdate is a partial update; nil fields are left untouched. Email must
// already be normalized.
type UserUpdate struct {
	FullName     *string
	Email        *string
	PasswordHash *string
	RefreshToken *string
	LastLoginAt  *time.Time
}

// NormalizeUsername lower-cases and trims a username for storage and lookup.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeEmail lower-cases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
