package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndFindUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "alice", "hash-1", "alice@example.com")
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Equal(t, "alice", created.Username)
	require.Equal(t, "hash-1", created.PasswordHash)
	require.Equal(t, "alice@example.com", created.Email)
	require.WithinDuration(t, time.Now(), created.CreatedAt, time.Minute)

	byID, err := s.FindUserByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created, byID)

	byName, err := s.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, created, byName)
}

func TestCreateUserWithoutEmail(t *testing.T) {
	s := testStore(t)

	created, err := s.CreateUser(context.Background(), "bob", "hash-2", "")
	require.NoError(t, err)
	require.Empty(t, created.Email)
}

func TestDuplicateUsernameFails(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, "alice", "hash-1", "")
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, "alice", "hash-2", "")
	require.Error(t, err)
}

func TestFindMissingUserReturnsErrNotFound(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.FindUserByID(ctx, 12345)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.FindUserByUsername(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUserMessagesNewestFirstWithPaging(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "alice", "hash-1", "")
	require.NoError(t, err)

	require.NoError(t, s.SaveMessage(ctx, user.ID, "user", "first", "c1"))
	require.NoError(t, s.SaveMessage(ctx, user.ID, "assistant", "second", "c1"))
	require.NoError(t, s.SaveMessage(ctx, user.ID, "user", "third", ""))

	all, err := s.UserMessages(ctx, user.ID, 50, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "third", all[0].Content)
	require.Equal(t, "second", all[1].Content)
	require.Equal(t, "first", all[2].Content)
	require.Empty(t, all[0].ClientID)
	require.Equal(t, "c1", all[1].ClientID)

	page, err := s.UserMessages(ctx, user.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "second", page[0].Content)
}

func TestUserMessagesScopedToUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, "alice", "hash-1", "")
	require.NoError(t, err)
	bob, err := s.CreateUser(ctx, "bob", "hash-2", "")
	require.NoError(t, err)

	require.NoError(t, s.SaveMessage(ctx, alice.ID, "user", "alice says hi", "c1"))

	got, err := s.UserMessages(ctx, bob.ID, 50, 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{}, stats)

	user, err := s.CreateUser(ctx, "alice", "hash-1", "")
	require.NoError(t, err)
	require.NoError(t, s.SaveMessage(ctx, user.ID, "user", "hello", "c1"))

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Users: 1, Messages: 1}, stats)
}
