package repositories

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ringline/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRepositoryFactory_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()

	f := NewRepositoryFactory(ctx, cfg, zaptest.NewLogger(t).Sugar())
	defer func() { _ = f.Close() }()

	assert.False(t, f.UsingRedis())
	assert.Nil(t, f.RedisClient())
	assert.NoError(t, f.HealthCheck(ctx))
}

func TestRepositoryFactory_FallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = addr

	f := NewRepositoryFactory(ctx, cfg, zaptest.NewLogger(t).Sugar())
	defer func() { _ = f.Close() }()
	assert.False(t, f.UsingRedis())
}

func TestRepositoryFactory_RedisSeed(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = mr.Addr()

	f := NewRepositoryFactory(ctx, cfg, zaptest.NewLogger(t).Sugar())
	defer func() { _ = f.Close() }()
	require.True(t, f.UsingRedis())
	require.NoError(t, f.HealthCheck(ctx))

	path := filepath.Join(t.TempDir(), "contacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	dir := f.CreateContactDirectory()
	n, err := f.LoadSeed(ctx, path, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, mr.Exists(seedLockKey), "seed lock must be released")

	name, err := dir.DisplayName(ctx, "1002")
	require.NoError(t, err)
	assert.Equal(t, "Bob", name)
}
