package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkpost.org/internal/auth"
)

func seed(t *testing.T, s *Store, username, email string) *auth.User {
	t.Helper()
	u, err := s.Create(context.Background(), auth.NewUser{
		Email:        email,
		Username:     username,
		FullName:     "Test User",
		PasswordHash: "hash",
	})
	require.NoError(t, err)
	return u
}

func TestCreateAppliesDefaultsAndNormalizes(t *testing.T) {
	s := New()
	u := seed(t, s, "  Alice ", "Alice@Example.COM")

	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, auth.RoleUser, u.Role)
	assert.Equal(t, auth.StatusActive, u.Status)
	assert.Empty(t, u.PasswordHash, "create must not echo the hash")
}

func TestCreateRejectsDuplicates(t *testing.T) {
	s := New()
	seed(t, s, "alice", "alice@example.com")

	_, err := s.Create(context.Background(), auth.NewUser{Username: "ALICE", Email: "other@example.com"})
	require.ErrorIs(t, err, auth.ErrDuplicateUsername)
	require.ErrorIs(t, err, auth.ErrConflict)

	_, err = s.Create(context.Background(), auth.NewUser{Username: "bob", Email: "ALICE@example.com"})
	require.ErrorIs(t, err, auth.ErrDuplicateEmail)
}

func TestSensitiveFieldsRequireOptIn(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := seed(t, s, "alice", "alice@example.com")
	token := "refresh-token"
	_, err := s.UpdateByID(ctx, u.ID, auth.UserUpdate{RefreshToken: &token})
	require.NoError(t, err)

	plain, err := s.FindByID(ctx, u.ID, false)
	require.NoError(t, err)
	assert.Empty(t, plain.PasswordHash)
	assert.Nil(t, plain.RefreshToken)

	full, err := s.FindByEmail(ctx, "alice@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, "hash", full.PasswordHash)
	assert.Equal(t, token, full.StoredRefreshToken())

	byName, err := s.FindByUsername(ctx, "Alice")
	require.NoError(t, err)
	assert.Empty(t, byName.PasswordHash)
}

func TestUpdateAndClearRefreshToken(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))
	u := seed(t, s, "alice", "alice@example.com")

	token := "t1"
	login := now.Add(time.Minute)
	updated, err := s.UpdateByID(ctx, u.ID, auth.UserUpdate{RefreshToken: &token, LastLoginAt: &login})
	require.NoError(t, err)
	require.NotNil(t, updated.LastLoginAt)
	assert.True(t, updated.LastLoginAt.Equal(login))

	_, err = s.ClearRefreshToken(ctx, u.ID)
	require.NoError(t, err)
	full, err := s.FindByID(ctx, u.ID, true)
	require.NoError(t, err)
	assert.Empty(t, full.StoredRefreshToken())
	assert.Equal(t, "hash", full.PasswordHash, "clearing the token leaves the password alone")
}

func TestMissingUser(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.FindByID(ctx, "nope", true)
	require.ErrorIs(t, err, auth.ErrNotFound)
	_, err = s.UpdateByID(ctx, "nope", auth.UserUpdate{})
	require.ErrorIs(t, err, auth.ErrNotFound)
	_, err = s.ClearRefreshToken(ctx, "nope")
	require.ErrorIs(t, err, auth.ErrNotFound)
	require.ErrorIs(t, s.SetStatus("nope", auth.StatusInactive), auth.ErrNotFound)
	require.ErrorIs(t, s.DeleteByID(ctx, "nope"), auth.ErrNotFound)
}

func TestUpdateProfileReindexesEmail(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice := seed(t, s, "alice", "alice@example.com")
	seed(t, s, "bob", "bob@example.com")

	name, email := "Alice Liddell", "alice@wonder.land"
	updated, err := s.UpdateByID(ctx, alice.ID, auth.UserUpdate{FullName: &name, Email: &email})
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", updated.FullName)
	assert.Equal(t, "alice@wonder.land", updated.Email)

	_, err = s.FindByEmail(ctx, "alice@example.com", false)
	require.ErrorIs(t, err, auth.ErrNotFound)
	got, err := s.FindByEmail(ctx, "alice@wonder.land", false)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	taken := "bob@example.com"
	_, err = s.UpdateByID(ctx, alice.ID, auth.UserUpdate{Email: &taken})
	require.ErrorIs(t, err, auth.ErrDuplicateEmail)
	require.ErrorIs(t, err, auth.ErrConflict)
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))
	alice := seed(t, s, "alice", "alice@example.com")
	now = now.Add(time.Minute)
	bob := seed(t, s, "bob", "bob@example.com")

	users, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, bob.ID, users[0].ID)
	assert.Empty(t, users[0].PasswordHash)

	require.NoError(t, s.DeleteByID(ctx, bob.ID))
	users, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, alice.ID, users[0].ID)

	// Indexes are released with the record.
	seed(t, s, "bob", "bob@example.com")
}

func TestSnapshotsDoNotAlias(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := seed(t, s, "alice", "alice@example.com")

	got, err := s.FindByID(ctx, u.ID, true)
	require.NoError(t, err)
	got.PasswordHash = "mutated"
	got.Role = auth.RoleAdmin

	again, err := s.FindByID(ctx, u.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "hash", again.PasswordHash)
	assert.Equal(t, auth.RoleUser, again.Role)
}

func TestConcurrentCreateKeepsUsernamesUnique(t *testing.T) {
	s := New()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Create(context.Background(), auth.NewUser{
				Username: "race",
				Email:    "race" + string(rune('a'+i)) + "@example.com",
			})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}
