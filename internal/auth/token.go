package auth

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "inkpost"

// TokenUse distinguishes access tokens from refresh tokens signed by the same codec.
type TokenUse string

const (
	UseAccess  TokenUse = "access"
	UseRefresh TokenUse = "refresh"
)

// Claims is the JWT payload. Refresh tokens only carry UserID.
type Claims struct {
	UserID   string   `json:"id"`
	Email    string   `json:"email,omitempty"`
	Username string   `json:"username,omitempty"`
	FullName string   `json:"fullName,omitempty"`
	Role     Role     `json:"role,omitempty"`
	Status   Status   `json:"status,omitempty"`
	Use      TokenUse `json:"use"`
	jwt.RegisteredClaims
}

var expiryPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// maxExpirySeconds is the longest lifetime a time.Duration can hold, a little
// over 106751 days.
const maxExpirySeconds = math.MaxInt64 / int64(time.Second)

// ParseExpiry converts strings like "30m", "10h" or "1d" to seconds. Lifetimes
// beyond maxExpirySeconds are rejected.
func ParseExpiry(spec string) (int64, error) {
	m := expiryPattern.FindStringSubmatch(strings.TrimSpace(spec))
	if m == nil {
		return 0, wrapError(KindInvalidDuration, ErrInvalidDuration.Message, fmt.Errorf("%q", spec))
	}
	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, wrapError(KindInvalidDuration, ErrInvalidDuration.Message, err)
	}
	var unit int64
	switch m[2] {
	case "s":
		unit = 1
	case "m":
		unit = 60
	case "h":
		unit = 60 * 60
	case "d":
		unit = 60 * 60 * 24
	default:
		return 0, wrapError(KindInvalidDuration, "unknown time unit", fmt.Errorf("%q", m[2]))
	}
	if value > maxExpirySeconds/unit {
		return 0, wrapError(KindInvalidDuration, ErrInvalidDuration.Message, fmt.Errorf("%q exceeds the maximum token lifetime", spec))
	}
	return value * unit, nil
}

func expiryDuration(spec string) (time.Duration, error) {
	secs, err := ParseExpiry(spec)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

// Codec signs and verifies HS256 tokens.
type Codec struct {
	issuer string
	now    func() time.Time
}

// CodecOption configures Codec.
type CodecOption func(*Codec)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{issuer: defaultIssuer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SignAccessToken signs the identity snapshot carried by an access token.
func (c *Codec) SignAccessToken(claims Claims, secret, ttl string) (string, time.Time, error) {
	claims.Use = UseAccess
	return c.sign(claims, secret, ttl)
}

// SignRefreshToken signs a refresh token that carries only the user id.
func (c *Codec) SignRefreshToken(userID, secret, ttl string) (string, time.Time, error) {
	return c.sign(Claims{UserID: userID, Use: UseRefresh}, secret, ttl)
}

func (c *Codec) sign(claims Claims, secret, ttl string) (string, time.Time, error) {
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, ErrConfiguration
	}
	lifetime, err := expiryDuration(ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	now := c.now().UTC()
	exp := now.Add(lifetime)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer and expiry. Expiry is reported
// as ErrTokenExpired; every other failure as ErrTokenInvalid.
func (c *Codec) Verify(token, secret string) (*Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrConfiguration
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, wrapError(KindTokenExpired, ErrTokenExpired.Message, err)
		}
		return nil, wrapError(KindTokenInvalid, ErrTokenInvalid.Message, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
