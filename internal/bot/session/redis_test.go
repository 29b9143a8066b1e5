package session_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pulsegate/pulsegate/internal/bot/session"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTest(t *testing.T) (*session.RedisStore, func()) {
	t.Helper()
	// Start miniredis server
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Create Redis client
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)

	store := session.NewRedisStore(client, zap.NewNop())

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return store, cleanup
}

func TestGetMissingSession(t *testing.T) {
	t.Parallel()
	store, cleanup := setupTest(t)
	defer cleanup()

	_, err := store.Get(t.Context(), 123)
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestPutAndGet(t *testing.T) {
	t.Parallel()
	store, cleanup := setupTest(t)
	defer cleanup()

	ctx := t.Context()

	s := session.New(123)
	s.State = session.StateWaitingCode
	s.Data.Email = "alice@corp.example"
	s.Data.Code = 482913
	s.Data.CodeSendCount = 2
	s.Data.CodeSentTime = time.Date(2025, 8, 12, 9, 30, 0, 0, time.UTC)

	require.NoError(t, store.Put(ctx, s))

	got, err := store.Get(ctx, 123)
	require.NoError(t, err)
	assert.Equal(t, session.StateWaitingCode, got.State)
	assert.Equal(t, "alice@corp.example", got.Data.Email)
	assert.Equal(t, 482913, got.Data.Code)
	assert.Equal(t, 2, got.Data.CodeSendCount)
	assert.True(t, got.Data.CodeSentTime.Equal(s.Data.CodeSentTime))
}

func TestPutOverwrites(t *testing.T) {
	t.Parallel()
	store, cleanup := setupTest(t)
	defer cleanup()

	ctx := t.Context()

	s := session.New(123)
	require.NoError(t, store.Put(ctx, s))

	s.State = session.StateVerified
	require.NoError(t, store.Put(ctx, s))

	got, err := store.Get(ctx, 123)
	require.NoError(t, err)
	assert.Equal(t, session.StateVerified, got.State)
}

func TestClear(t *testing.T) {
	t.Parallel()
	store, cleanup := setupTest(t)
	defer cleanup()

	ctx := t.Context()

	require.NoError(t, store.Put(ctx, session.New(123)))
	require.NoError(t, store.Clear(ctx, 123))

	_, err := store.Get(ctx, 123)
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	// Clearing a missing session is not an error
	require.NoError(t, store.Clear(ctx, 456))
}
