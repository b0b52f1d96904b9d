package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkpost.org/internal/auth"
	"inkpost.org/internal/store/memory"
)

func loginAlice(t *testing.T, h *harness) (auth.UserView, auth.TokenPair) {
	t.Helper()
	view := h.register(t, "alice", "alice@example.com", "Secret123")
	res, err := h.svc.Login(context.Background(), "alice@example.com", "Secret123")
	require.NoError(t, err)
	return view, res.Tokens
}

func TestGuardRejectsMissingAndMalformedTokens(t *testing.T) {
	h := newHarness(t)
	_, err := h.guard.Authenticate(context.Background(), "")
	requireKind(t, err, auth.KindTokenMissing)

	_, err = h.guard.Authenticate(context.Background(), "abc.def.ghi")
	requireKind(t, err, auth.KindTokenInvalid)
}

func TestGuardRejectsRefreshTokens(t *testing.T) {
	h := newHarness(t)
	_, tokens := loginAlice(t, h)

	_, err := h.guard.Authenticate(context.Background(), tokens.RefreshToken)
	requireKind(t, err, auth.KindTokenInvalid)
}

func TestGuardReportsExpiredAccessToken(t *testing.T) {
	h := newHarness(t)
	_, tokens := loginAlice(t, h)

	h.clock.Advance(16 * time.Minute)
	_, err := h.guard.Authenticate(context.Background(), tokens.AccessToken)
	requireKind(t, err, auth.KindAccessTokenExpired)
}

func TestGuardReflectsCurrentRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	view, tokens := loginAlice(t, h)

	require.NoError(t, h.store.SetRole(view.ID, auth.RoleEditor))
	p, err := h.guard.Authenticate(ctx, tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleEditor, p.Role, "role changes apply without a new token")

	require.NoError(t, h.store.SetStatus(view.ID, auth.StatusInactive))
	_, err = h.guard.Authenticate(ctx, tokens.AccessToken)
	requireKind(t, err, auth.KindUserInactive)
}

func TestGuardRejectsTokenForUnknownUser(t *testing.T) {
	codec := auth.NewCodec()
	guard, err := auth.NewGuard(memory.New(), codec, accessSecret)
	require.NoError(t, err)

	token, _, err := codec.SignAccessToken(auth.Claims{UserID: "ghost", Role: auth.RoleAdmin}, accessSecret, "5m")
	require.NoError(t, err)
	_, err = guard.Authenticate(context.Background(), token)
	requireKind(t, err, auth.KindTokenInvalid)
}

func TestGuardWithoutSecret(t *testing.T) {
	guard, err := auth.NewGuard(memory.New(), nil, "")
	require.NoError(t, err)
	_, err = guard.Authenticate(context.Background(), "some.token.value")
	requireKind(t, err, auth.KindConfiguration)

	_, err = auth.NewGuard(nil, nil, accessSecret)
	require.Error(t, err)
}
