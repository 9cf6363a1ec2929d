package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/civicmesh/presence/internal/common/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) Database {
	t.Helper()
	db, err := NewDatabase(&config.DatabaseConfig{
		Type:   "sqlite",
		DBName: filepath.Join(t.TempDir(), "presence_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewDatabase_UnsupportedType(t *testing.T) {
	_, err := NewDatabase(&config.DatabaseConfig{Type: "oracle"})
	assert.Error(t, err)
}

func TestUserRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	avatar := "https://example.com/a.png"
	user := &User{Username: "alice", AvatarURL: &avatar}
	require.NoError(t, db.CreateUser(ctx, user))
	require.NotZero(t, user.ID)

	got, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	require.NotNil(t, got.AvatarURL)
	assert.Equal(t, avatar, *got.AvatarURL)

	_, err = db.GetUserByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHelpRequestRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := &User{Username: "alice"}
	require.NoError(t, db.CreateUser(ctx, user))

	req := &HelpRequest{
		RequesterID: user.ID,
		Title:       "fix fence",
		Description: "storm damage on the north side",
		Category:    "repairs",
		Urgency:     "medium",
		Status:      "open",
	}
	require.NoError(t, db.CreateHelpRequest(ctx, req))
	require.NotZero(t, req.ID)

	got, err := db.GetHelpRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "fix fence", got.Title)

	_, err = db.GetHelpRequestByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessages_SavedInOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := &User{Username: "alice"}
	require.NoError(t, db.CreateUser(ctx, user))
	req := &HelpRequest{RequesterID: user.ID, Title: "t", Status: "open"}
	require.NoError(t, db.CreateHelpRequest(ctx, req))

	for _, body := range []string{"first", "second", "third"} {
		msg := &Message{HelpRequestID: req.ID, SenderID: user.ID, Message: body}
		require.NoError(t, db.SaveMessage(ctx, msg))
		assert.NotZero(t, msg.ID)
		assert.False(t, msg.CreatedAt.IsZero())
	}

	messages, err := db.GetMessages(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Message)
	assert.Equal(t, "third", messages[2].Message)

	other, err := db.GetMessages(ctx, 9999)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestConnections_InsertListDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := &User{Username: "alice"}
	require.NoError(t, db.CreateUser(ctx, user))

	require.NoError(t, db.InsertConnection(ctx, user.ID, "conn-1"))
	require.NoError(t, db.InsertConnection(ctx, user.ID, "conn-2"))

	records, err := db.ListConnections(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, db.DeleteConnectionByConnID(ctx, "conn-1"))
	records, err = db.ListConnections(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "conn-2", records[0].ConnectionID)

	// deleting an absent record succeeds
	require.NoError(t, db.DeleteConnectionByConnID(ctx, "conn-1"))
}

func TestConnections_DuplicateConnIDRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertConnection(ctx, 1, "conn-1"))
	assert.Error(t, db.InsertConnection(ctx, 2, "conn-1"))
}
