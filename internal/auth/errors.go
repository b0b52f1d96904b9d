package auth

import "errors"

// Kind classifies an expected authentication failure. Transports branch on it.
type Kind string

const (
	KindValidation           Kind = "VALIDATION_ERROR"
	KindUsernameTaken        Kind = "USERNAME_TAKEN"
	KindEmailTaken           Kind = "EMAIL_TAKEN"
	KindUserNotFound         Kind = "USER_NOT_FOUND"
	KindUserInactive         Kind = "USER_INACTIVE"
	KindInvalidCredentials   Kind = "INVALID_CREDENTIALS"
	KindHashingFailure       Kind = "PASSWORD_HASH_FAILED"
	KindTokenMissing         Kind = "TOKEN_MISSING"
	KindTokenInvalid         Kind = "TOKEN_INVALID"
	KindTokenExpired         Kind = "TOKEN_EXPIRED"
	KindAccessTokenExpired   Kind = "ACCESS_TOKEN_EXPIRED"
	KindRefreshTokenMissing  Kind = "REFRESH_TOKEN_MISSING"
	KindRefreshTokenMismatch Kind = "REFRESH_TOKEN_MISMATCH"
	KindUnauthorized         Kind = "UNAUTHORIZED"
	KindInvalidRole          Kind = "INVALID_ROLE"
	KindPermissionDenied     Kind = "PERMISSION_DENIED"
	KindConfiguration        Kind = "CONFIGURATION_ERROR"
	KindInvalidDuration      Kind = "INVALID_DURATION_FORMAT"
)

// Error is an operational failure with a stable kind and a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf reports the kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

var (
	ErrValidation           = newError(KindValidation, "validation failed")
	ErrUsernameTaken        = newError(KindUsernameTaken, "username is already taken")
	ErrEmailTaken           = newError(KindEmailTaken, "email is already registered")
	ErrUserNotFound         = newError(KindUserNotFound, "user not found")
	ErrUserInactive         = newError(KindUserInactive, "user account is inactive")
	ErrInvalidCredentials   = newError(KindInvalidCredentials, "invalid credentials")
	ErrHashingFailure       = newError(KindHashingFailure, "failed to hash password")
	ErrTokenMissing         = newError(KindTokenMissing, "unauthorized request: token missing")
	ErrTokenInvalid         = newError(KindTokenInvalid, "invalid token")
	ErrTokenExpired         = newError(KindTokenExpired, "token expired")
	ErrAccessTokenExpired   = newError(KindAccessTokenExpired, "access token expired")
	ErrRefreshTokenMissing  = newError(KindRefreshTokenMissing, "refresh token missing")
	ErrRefreshTokenMismatch = newError(KindRefreshTokenMismatch, "refresh token expired or already used")
	ErrUnauthorized         = newError(KindUnauthorized, "unauthorized request")
	ErrInvalidRole          = newError(KindInvalidRole, "access denied: invalid role")
	ErrPermissionDenied     = newError(KindPermissionDenied, "forbidden: insufficient permissions")
	ErrConfiguration        = newError(KindConfiguration, "token signing is not configured")
	ErrInvalidDuration      = newError(KindInvalidDuration, "invalid expiry format")
)

// Store-level errors. Stores return these; the service maps them to kinds.
var (
	ErrNotFound          = errors.New("auth: not found")
	ErrConflict          = errors.New("auth: already exists")
	ErrDuplicateUsername = errors.Join(ErrConflict, errors.New("auth: duplicate username"))
	ErrDuplicateEmail    = errors.Join(ErrConflict, errors.New("auth: duplicate email"))
)
