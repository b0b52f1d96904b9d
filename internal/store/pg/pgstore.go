package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"inkpost.org/internal/auth"
	"inkpost.org/internal/ids"
)

// Constraint names from migrations/0001_users.up.sql.
const (
	usernameConstraint = "users_username_key"
	emailConstraint    = "users_email_key"
)

// newID is swapped in tests for deterministic ids.
var newID = ids.New

// Store implements auth.UserStore on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ auth.UserStore = (*Store)(nil)

// Open connects through the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const (
	publicColumns    = `id, email, username, full_name, role, status, last_login_at, created_at, updated_at`
	sensitiveColumns = publicColumns + `, password_hash, refresh_token`
)

func columns(includeSensitive bool) string {
	if includeSensitive {
		return sensitiveColumns
	}
	return publicColumns
}

func (s *Store) FindByEmail(ctx context.Context, email string, includeSensitive bool) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+columns(includeSensitive)+` from users where email = $1`, auth.NormalizeEmail(email))
	return scanUser(row, includeSensitive)
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+publicColumns+` from users where username = $1`, auth.NormalizeUsername(username))
	return scanUser(row, false)
}

func (s *Store) FindByID(ctx context.Context, id string, includeSensitive bool) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+columns(includeSensitive)+` from users where id = $1`, id)
	return scanUser(row, includeSensitive)
}

func (s *Store) Create(ctx context.Context, nu auth.NewUser) (*auth.User, error) {
	role := nu.Role
	if role == "" {
		role = auth.RoleUser
	}
	status := nu.Status
	if status == "" {
		status = auth.StatusActive
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, username, full_name, password_hash, role, status)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+publicColumns,
		newID(), auth.NormalizeEmail(nu.Email), auth.NormalizeUsername(nu.Username),
		nu.FullName, nu.PasswordHash, string(role), string(status),
	)
	u, err := scanUser(row, false)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	return u, nil
}

// UpdateByID applies the non-nil fields of upd. Nil fields bind as NULL and
// coalesce back to the current value.
func (s *Store) UpdateByID(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	var lastLogin sql.NullTime
	if upd.LastLoginAt != nil {
		lastLogin = sql.NullTime{Time: upd.LastLoginAt.UTC(), Valid: true}
	}
	var email sql.NullString
	if upd.Email != nil {
		email = sql.NullString{String: auth.NormalizeEmail(*upd.Email), Valid: true}
	}
	row := s.db.QueryRowContext(ctx, `
		update users set
			password_hash = coalesce($2, password_hash),
			refresh_token = coalesce($3, refresh_token),
			last_login_at = coalesce($4, last_login_at),
			full_name = coalesce($5, full_name),
			email = coalesce($6, email),
			updated_at = now()
		where id = $1
		returning `+publicColumns,
		id, nullString(upd.PasswordHash), nullString(upd.RefreshToken), lastLogin,
		nullString(upd.FullName), email,
	)
	u, err := scanUser(row, false)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	return u, nil
}

func (s *Store) ClearRefreshToken(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		update users set refresh_token = null, updated_at = now()
		where id = $1
		returning `+publicColumns, id)
	return scanUser(row, false)
}

// List returns all users, newest first.
func (s *Store) List(ctx context.Context) ([]*auth.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+publicColumns+` from users order by created_at desc, id desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*auth.User
	for rows.Next() {
		u, err := scanUser(rows, false)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) DeleteByID(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner, includeSensitive bool) (*auth.User, error) {
	var (
		u         auth.User
		role      string
		status    string
		lastLogin sql.NullTime
		refresh   sql.NullString
	)
	dest := []any{&u.ID, &u.Email, &u.Username, &u.FullName, &role, &status, &lastLogin, &u.CreatedAt, &u.UpdatedAt}
	if includeSensitive {
		dest = append(dest, &u.PasswordHash, &refresh)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	u.Role = auth.Role(role)
	u.Status = auth.Status(status)
	if lastLogin.Valid {
		at := lastLogin.Time.UTC()
		u.LastLoginAt = &at
	}
	if refresh.Valid {
		token := refresh.String
		u.RefreshToken = &token
	}
	return &u, nil
}

func mapUniqueViolation(err error) error {
	pgErr, ok := maybePgError(err)
	if !ok || pgErr.Code != pgerrcode.UniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case usernameConstraint:
		return auth.ErrDuplicateUsername
	case emailConstraint:
		return auth.ErrDuplicateEmail
	default:
		return fmt.Errorf("%w: %s", auth.ErrConflict, pgErr.ConstraintName)
	}
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
