package seed

import (
	"context"
	"strings"
	"testing"
	"time"

	"researchhub/backend/internal/conversation"
	"researchhub/backend/internal/directory"
	"researchhub/backend/internal/models"
	"researchhub/backend/internal/social"
	"researchhub/backend/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoFixtureParses(t *testing.T) {
	fx, err := Demo()
	require.NoError(t, err)
	assert.Len(t, fx.Users, 6)
	assert.Len(t, fx.Connections, 6)
	assert.Len(t, fx.Requests, 2)
	assert.Len(t, fx.Messages, 4)
	assert.Equal(t, time.Date(2024, 11, 1, 8, 0, 0, 0, time.UTC), fx.Requests[0].SentAt.UTC())
}

func TestLoadRejectsBadFixtures(t *testing.T) {
	_, err := Load(strings.NewReader("users:\n  - id: a\n    nickname: x\n"))
	assert.Error(t, err)

	_, err = Load(strings.NewReader("users:\n  - id: a\nconnections:\n  - [a, ghost]\n"))
	assert.ErrorContains(t, err, "unknown user")

	_, err = Load(strings.NewReader("users:\n  - id: a\n  - id: a\n"))
	assert.ErrorContains(t, err, "duplicate id")
}

func TestApplyDemoIsIdempotent(t *testing.T) {
	ctx := context.Background()
	parts := store.NewPartitions(store.NewMemoryStore())
	dir := directory.New(parts, nil)
	registry := social.NewRegistry(parts, nil, nil, time.Minute)
	engine := social.NewEngine(parts, dir, registry, nil, nil, nil)
	conversations := conversation.NewStore(parts, dir, nil, nil, nil)
	seeder := NewSeeder(parts, dir, registry, nil)

	fx, err := Demo()
	require.NoError(t, err)

	sum, err := seeder.Apply(ctx, fx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Users: 6, Connections: 6, Requests: 2, Messages: 4}, sum)

	again, err := seeder.Apply(ctx, fx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, again)

	for _, pair := range [][2]string{{"user_1", "user_2"}, {"user_2", "user_1"}, {"user_6", "user_5"}} {
		ok, err := registry.IsConnected(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, ok, pair)
	}

	pending, err := engine.PendingRequests(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "user_4", pending[0].SenderID)
	assert.Equal(t, "David Brown", pending[0].Sender.FullName())

	sent, err := engine.SentRequests(ctx, "user_6")
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "user_2", sent[0].RecipientID)

	conv, err := conversations.Conversation(ctx, "user_2", "user_1")
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, "msg_1", conv[0].ID)

	conv, err = conversations.Conversation(ctx, "user_4", "user_2")
	require.NoError(t, err)
	assert.Len(t, conv, 1)

	// The seeded request can be accepted like any other.
	_, err = engine.Accept(ctx, "user_1", "user_4")
	require.NoError(t, err)
}

func TestReapplyKeepsEditsAndRemovals(t *testing.T) {
	ctx := context.Background()
	parts := store.NewPartitions(store.NewMemoryStore())
	dir := directory.New(parts, nil)
	registry := social.NewRegistry(parts, nil, nil, time.Minute)
	engine := social.NewEngine(parts, dir, registry, nil, nil, nil)
	seeder := NewSeeder(parts, dir, registry, nil)

	fx, err := Demo()
	require.NoError(t, err)
	_, err = seeder.Apply(ctx, fx)
	require.NoError(t, err)

	sarah, err := dir.FindByID(ctx, "user_1")
	require.NoError(t, err)
	sarah.Institution = "Edited Institute"
	_, err = dir.Upsert(ctx, sarah)
	require.NoError(t, err)

	_, err = registry.RemoveConnection(ctx, "user_1", "user_2")
	require.NoError(t, err)
	require.NoError(t, engine.Reject(ctx, "user_1", "user_4"))

	// A restart loads the same file again.
	again, err := Demo()
	require.NoError(t, err)
	sum, err := seeder.Apply(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)

	sarah, err = dir.FindByID(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "Edited Institute", sarah.Institution)

	ok, err := registry.IsConnected(ctx, "user_1", "user_2")
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := engine.PendingRequests(ctx, "user_1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestNewFixtureKeepsExistingProfiles(t *testing.T) {
	ctx := context.Background()
	parts := store.NewPartitions(store.NewMemoryStore())
	dir := directory.New(parts, nil)
	registry := social.NewRegistry(parts, nil, nil, time.Minute)
	seeder := NewSeeder(parts, dir, registry, nil)

	_, err := dir.Upsert(ctx, models.UserRecord{ID: "user_1", FirstName: "Sarah", LastName: "Johnson", Institution: "Edited Institute"})
	require.NoError(t, err)

	fx, err := Load(strings.NewReader(`
users:
  - id: user_1
    firstName: Sarah
    lastName: Johnson
    institution: Stanford University
  - id: user_9
    firstName: Ines
    lastName: Moreau
connections:
  - [user_1, user_9]
`))
	require.NoError(t, err)

	sum, err := seeder.Apply(ctx, fx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Users: 1, Connections: 1}, sum)

	sarah, err := dir.FindByID(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "Edited Institute", sarah.Institution)

	ok, err := registry.IsConnected(ctx, "user_9", "user_1")
	require.NoError(t, err)
	assert.True(t, ok)
}
