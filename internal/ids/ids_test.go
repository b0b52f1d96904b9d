package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortableAndValid(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		require.True(t, Valid(next), next)
		require.Less(t, prev, next)
		prev = next
	}
}

func TestNewAtEmbedsTimestamp(t *testing.T) {
	at := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	id := NewAt(at)
	u, err := ulid.ParseStrict(id)
	require.NoError(t, err)
	got := ulid.Time(u.Time())
	assert.True(t, got.Equal(at), "got %s", got)
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("not-a-ulid"))
	assert.False(t, Valid("65f1c2a9e4b0a1b2c3d4e5f6"))
	assert.True(t, Valid(NewAt(time.Unix(0, 0))))
}
