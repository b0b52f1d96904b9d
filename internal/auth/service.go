package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"inkpost.org/internal/obs"
)

const (
	defaultAccessExpiry  = "15m"
	defaultRefreshExpiry = "7d"
)

// Service orchestrates registration, login, logout, refresh and password change.
type Service struct {
	users  UserStore
	hasher Hasher
	codec  *Codec
	log    *zap.Logger
	now    func() time.Time

	accessSecret  string
	accessExpiry  string
	refreshSecret string
	refreshExpiry string
}

// TokenPair holds access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	FullName string
	Email    string
	Username string
	Password string
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	User   UserView
	Tokens TokenPair
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithHasher overrides the password hasher.
func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: hasher is nil")
		}
		s.hasher = h
		return nil
	}
}

// WithCodec overrides the token codec.
func WithCodec(c *Codec) ServiceOption {
	return func(s *Service) error {
		if c == nil {
			return errors.New("auth: codec is nil")
		}
		s.codec = c
		return nil
	}
}

// WithAccessToken sets the access token secret and expiry ("15m", "1h", ...).
// An empty expiry keeps the default.
func WithAccessToken(secret, expiry string) ServiceOption {
	return func(s *Service) error {
		s.accessSecret = secret
		if strings.TrimSpace(expiry) != "" {
			if _, err := ParseExpiry(expiry); err != nil {
				return err
			}
			s.accessExpiry = expiry
		}
		return nil
	}
}

// WithRefreshToken sets the refresh token secret and expiry.
func WithRefreshToken(secret, expiry string) ServiceOption {
	return func(s *Service) error {
		s.refreshSecret = secret
		if strings.TrimSpace(expiry) != "" {
			if _, err := ParseExpiry(expiry); err != nil {
				return err
			}
			s.refreshExpiry = expiry
		}
		return nil
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service. Signing secrets may be left unset; token
// issuance then fails with ErrConfiguration.
func NewService(users UserStore, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	svc := &Service{
		users:         users,
		hasher:        NewBcryptHasher(),
		now:           time.Now,
		accessExpiry:  defaultAccessExpiry,
		refreshExpiry: defaultRefreshExpiry,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.codec == nil {
		svc.codec = NewCodec(WithCodecClock(svc.now))
	}
	if svc.log == nil {
		svc.log = obs.Logger().Named("auth")
	}
	return svc, nil
}

// Register creates an account with a hashed password and returns its sanitized view.
func (s *Service) Register(ctx context.Context, in RegisterInput) (view UserView, err error) {
	defer func() { s.record("register", err) }()

	fullName := strings.TrimSpace(in.FullName)
	email := NormalizeEmail(in.Email)
	username := NormalizeUsername(in.Username)
	if fullName == "" || email == "" || username == "" || in.Password == "" {
		return UserView{}, validationError("fullName, email, username and password are required")
	}

	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return UserView{}, ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return UserView{}, fmt.Errorf("find user by username: %w", err)
	}
	if _, err := s.users.FindByEmail(ctx, email, false); err == nil {
		return UserView{}, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return UserView{}, fmt.Errorf("find user by email: %w", err)
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return UserView{}, err
	}

	user, err := s.users.Create(ctx, NewUser{
		Email:        email,
		Username:     username,
		FullName:     fullName,
		PasswordHash: hash,
		Role:         RoleUser,
		Status:       StatusActive,
	})
	switch {
	case errors.Is(err, ErrDuplicateUsername):
		return UserView{}, ErrUsernameTaken
	case errors.Is(err, ErrDuplicateEmail):
		return UserView{}, ErrEmailTaken
	case err != nil:
		return UserView{}, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("user registered", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return user.View(), nil
}

// Login verifies credentials and rotates the stored refresh token.
func (s *Service) Login(ctx context.Context, email, password string) (res LoginResult, err error) {
	defer func() { s.record("login", err) }()

	email = NormalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return LoginResult{}, validationError("email and password are required")
	}

	user, err := s.users.FindByEmail(ctx, email, true)
	if errors.Is(err, ErrNotFound) {
		return LoginResult{}, ErrUserNotFound
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("find user by email: %w", err)
	}
	if user.Status == StatusInactive {
		return LoginResult{}, ErrUserInactive
	}
	if user.PasswordHash == "" {
		return LoginResult{}, fmt.Errorf("user %s has no password hash on record", user.ID)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.log.Debug("login rejected", zap.String("user_id", user.ID))
		return LoginResult{}, ErrInvalidCredentials
	}

	updated, pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	s.log.Info("user logged in", zap.String("user_id", updated.ID))
	return LoginResult{User: updated.View(), Tokens: pair}, nil
}

// Logout clears the stored refresh token. Repeated calls succeed.
func (s *Service) Logout(ctx context.Context, userID string) (err error) {
	defer func() { s.record("logout", err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return validationError("user id is required")
	}
	if _, err := s.users.ClearRefreshToken(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	s.log.Info("user logged out", zap.String("user_id", userID))
	return nil
}

// RefreshAccessToken mints a new access token from a refresh token that still
// matches the one stored for its user. The refresh token itself is not rotated.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (pair TokenPair, err error) {
	defer func() { s.record("refresh", err) }()

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, ErrRefreshTokenMissing
	}

	claims, err := s.codec.Verify(refreshToken, s.refreshSecret)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.Use != UseRefresh || strings.TrimSpace(claims.UserID) == "" {
		return TokenPair{}, &Error{Kind: KindTokenInvalid, Message: "invalid refresh token payload"}
	}

	user, err := s.users.FindByID(ctx, claims.UserID, true)
	if errors.Is(err, ErrNotFound) {
		return TokenPair{}, &Error{Kind: KindTokenInvalid, Message: "invalid refresh token"}
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("find user by id: %w", err)
	}

	stored := user.StoredRefreshToken()
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(refreshToken)) != 1 {
		s.log.Warn("refresh token mismatch", zap.String("user_id", user.ID), zap.Bool("stored_cleared", stored == ""))
		return TokenPair{}, ErrRefreshTokenMismatch
	}
	if user.Status == StatusInactive {
		return TokenPair{}, ErrUserInactive
	}

	access, accessExp, err := s.codec.SignAccessToken(accessClaims(user), s.accessSecret, s.accessExpiry)
	if err != nil {
		return TokenPair{}, err
	}
	pair = TokenPair{
		AccessToken:     access,
		RefreshToken:    refreshToken,
		AccessExpiresAt: accessExp,
	}
	if claims.ExpiresAt != nil {
		pair.RefreshExpiresAt = claims.ExpiresAt.Time
	}
	return pair, nil
}

// ChangePassword replaces the password hash after verifying the old password.
// The stored refresh token is left in place, so existing sessions survive.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (err error) {
	defer func() { s.record("change_password", err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return validationError("user id is required")
	}
	if oldPassword == "" || newPassword == "" {
		return validationError("oldPassword and newPassword are required")
	}

	user, err := s.users.FindByID(ctx, userID, true)
	if errors.Is(err, ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("find user by id: %w", err)
	}
	if !s.hasher.Verify(oldPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if _, err := s.users.UpdateByID(ctx, user.ID, UserUpdate{PasswordHash: &hash}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}
	s.log.Info("password changed", zap.String("user_id", user.ID))
	return nil
}

// CurrentUser returns the sanitized record of userID.
func (s *Service) CurrentUser(ctx context.Context, userID string) (UserView, error) {
	user, err := s.users.FindByID(ctx, userID, false)
	if errors.Is(err, ErrNotFound) {
		return UserView{}, ErrUserNotFound
	}
	if err != nil {
		return UserView{}, fmt.Errorf("find user by id: %w", err)
	}
	return user.View(), nil
}

// issueTokens signs a fresh pair and persists the refresh token, replacing
// whatever was stored before. This is the rotation point.
func (s *Service) issueTokens(ctx context.Context, user *User) (*User, TokenPair, error) {
	access, accessExp, err := s.codec.SignAccessToken(accessClaims(user), s.accessSecret, s.accessExpiry)
	if err != nil {
		return nil, TokenPair{}, err
	}
	refresh, refreshExp, err := s.codec.SignRefreshToken(user.ID, s.refreshSecret, s.refreshExpiry)
	if err != nil {
		return nil, TokenPair{}, err
	}
	now := s.now().UTC()
	updated, err := s.users.UpdateByID(ctx, user.ID, UserUpdate{RefreshToken: &refresh, LastLoginAt: &now})
	if errors.Is(err, ErrNotFound) {
		return nil, TokenPair{}, ErrUserNotFound
	}
	if err != nil {
		return nil, TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	return updated, TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if _, ok := KindOf(err); ok {
			return "", err
		}
		return "", wrapError(KindHashingFailure, ErrHashingFailure.Message, err)
	}
	if hash == "" {
		return "", ErrHashingFailure
	}
	return hash, nil
}

func (s *Service) record(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if kind, ok := KindOf(err); ok {
			outcome = string(kind)
		}
	}
	obs.RecordAuthEvent(operation, outcome)
}

func accessClaims(u *User) Claims {
	return Claims{
		UserID:   u.ID,
		Email:    u.Email,
		Username: u.Username,
		FullName: u.FullName,
		Role:     u.Role,
		Status:   u.Status,
	}
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}
