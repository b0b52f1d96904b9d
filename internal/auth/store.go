package auth

import "context"

// UserStore describes the persistence operations required by the auth subsystem.
//
// Lookups return ErrNotFound when no record matches. Create returns
// ErrDuplicateUsername or ErrDuplicateEmail when a unique index rejects the
// insert; UpdateByID returns ErrDuplicateEmail when a changed email collides.
// PasswordHash and RefreshToken are left empty unless includeSensitive
// is set.
type UserStore interface {
	FindByEmail(ctx context.Context, email string, includeSensitive bool) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id string, includeSensitive bool) (*User, error)
	Create(ctx context.Context, u NewUser) (*User, error)
	UpdateByID(ctx context.Context, id string, upd UserUpdate) (*User, error)
	ClearRefreshToken(ctx context.Context, id string) (*User, error)
	// List returns every user, newest first, without sensitive fields.
	List(ctx context.Context) ([]*User, error)
	DeleteByID(ctx context.Context, id string) error
}
