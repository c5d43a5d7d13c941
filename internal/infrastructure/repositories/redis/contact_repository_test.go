package redis

import (
	"context"
	"testing"

	"ringline/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisContactRepository(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	repo := NewRedisContactRepository(client)

	require.NoError(t, repo.PutIdentity(ctx, domain.Identity{
		ID:       "1001",
		Name:     "Alice",
		Contacts: []domain.IdentityID{"1003", "1002", "1001"},
	}))
	require.NoError(t, repo.PutIdentity(ctx, domain.Identity{ID: "1002", Name: "Bob"}))

	t.Run("identity exists", func(t *testing.T) {
		ok, err := repo.IdentityExists(ctx, "1001")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.IdentityExists(ctx, "9999")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("display name", func(t *testing.T) {
		name, err := repo.DisplayName(ctx, "1002")
		require.NoError(t, err)
		assert.Equal(t, "Bob", name)

		_, err = repo.DisplayName(ctx, "9999")
		assert.ErrorIs(t, err, domain.ErrUnknownIdentity)
	})

	t.Run("relationships are directional", func(t *testing.T) {
		ok, err := repo.RelationshipExists(ctx, "1001", "1002")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.RelationshipExists(ctx, "1002", "1001")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("contacts sorted without self", func(t *testing.T) {
		contacts, err := repo.Contacts(ctx, "1001")
		require.NoError(t, err)
		assert.Equal(t, []domain.IdentityID{"1002", "1003"}, contacts)
	})

	t.Run("add and remove", func(t *testing.T) {
		require.NoError(t, repo.AddContact(ctx, "1002", "1001"))
		assert.True(t, mr.Exists("ringline:contacts:1002"))

		ok, _ := repo.RelationshipExists(ctx, "1002", "1001")
		assert.True(t, ok)

		require.NoError(t, repo.RemoveContact(ctx, "1002", "1001"))
		ok, _ = repo.RelationshipExists(ctx, "1002", "1001")
		assert.False(t, ok)

		assert.ErrorIs(t, repo.AddContact(ctx, "ghost", "1001"), domain.ErrUnknownIdentity)
		assert.ErrorIs(t, repo.AddContact(ctx, "1001", "1001"), domain.ErrInvalidMessage)
	})

	t.Run("identity count", func(t *testing.T) {
		n, err := repo.IdentityCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

func TestRedisContactRepository_StoreDown(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	repo := NewRedisContactRepository(client)
	mr.Close()

	_, err := repo.IdentityExists(ctx, "1001")
	assert.Error(t, err)
	_, err = repo.RelationshipExists(ctx, "1001", "1002")
	assert.Error(t, err)
	_, err = repo.DisplayName(ctx, "1001")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUnknownIdentity)
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)

	// Identity hashes written before the index existed.
	mr.HSet("ringline:identity:1001", "name", "Alice")
	mr.HSet("ringline:identity:1002", "name", "Bob")

	require.NoError(t, Migrate(ctx, client, nil))

	v, err := SchemaVersion(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion(), v)

	members, err := mr.Members("ringline:identities")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1001", "1002"}, members)

	// Second run is a no-op.
	require.NoError(t, Migrate(ctx, client, nil))
}
