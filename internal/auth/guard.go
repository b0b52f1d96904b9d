package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Guard authenticates access tokens at the request boundary.
//
// Signature and expiry are checked statelessly, then the user is re-read so
// that role and status reflect the current record rather than the snapshot
// taken at issuance. A demoted or deactivated user loses access immediately.
type Guard struct {
	users  UserStore
	codec  *Codec
	secret string
}

// NewGuard constructs a Guard verifying tokens signed with accessSecret.
func NewGuard(users UserStore, codec *Codec, accessSecret string) (*Guard, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if codec == nil {
		codec = NewCodec()
	}
	return &Guard{users: users, codec: codec, secret: accessSecret}, nil
}

// Authenticate verifies token and returns the principal it identifies.
func (g *Guard) Authenticate(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrTokenMissing
	}

	claims, err := g.codec.Verify(token, g.secret)
	switch {
	case err == nil:
	case errors.Is(err, ErrConfiguration):
		return Principal{}, err
	case errors.Is(err, ErrTokenExpired):
		return Principal{}, wrapError(KindAccessTokenExpired, ErrAccessTokenExpired.Message, err)
	default:
		return Principal{}, wrapError(KindTokenInvalid, "invalid access token", err)
	}
	if strings.TrimSpace(claims.UserID) == "" || claims.Use != UseAccess {
		return Principal{}, &Error{Kind: KindTokenInvalid, Message: "invalid or malformed token payload"}
	}

	user, err := g.users.FindByID(ctx, claims.UserID, false)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, &Error{Kind: KindTokenInvalid, Message: "invalid or expired access token"}
	}
	if err != nil {
		return Principal{}, fmt.Errorf("load principal: %w", err)
	}
	if user.Status == StatusInactive {
		return Principal{}, ErrUserInactive
	}

	return Principal{
		ID:       user.ID,
		Email:    user.Email,
		Username: user.Username,
		FullName: user.FullName,
		Role:     user.Role,
		Status:   user.Status,
	}, nil
}
