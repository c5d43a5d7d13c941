package repositories

import (
	"context"
	"time"

	"ringline/internal/core/ports"
	"ringline/internal/infrastructure/repositories/memory"
	redisrepo "ringline/internal/infrastructure/repositories/redis"
	"ringline/pkg/config"
	"ringline/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates the contact directory, falling back to memory
// when Redis is unreachable.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory contact store",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis contact store")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory contact store")
	}
	return factory
}

func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// RedisClient is nil unless the directory is Redis backed.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if f.UsingRedis() {
		return f.redisClient
	}
	return nil
}

func (f *RepositoryFactory) CreateContactDirectory() ports.ContactDirectory {
	if f.UsingRedis() {
		return redisrepo.NewRedisContactRepository(f.redisClient)
	}
	return memory.NewMemoryContactRepository()
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck pings Redis when it backs the directory.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.UsingRedis() {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

const seedLockKey = "ringline:lock:seed"

// LoadSeed loads a seed file into dir. With Redis, loads from several
// processes are serialized so their writes do not interleave.
func (f *RepositoryFactory) LoadSeed(ctx context.Context, path string, dir ports.ContactDirectory) (int, error) {
	if !f.UsingRedis() {
		return LoadSeed(ctx, path, dir)
	}

	lock := distributed.NewLock(f.redisClient, seedLockKey, 30*time.Second)
	if err := lock.Acquire(ctx, time.Minute); err != nil {
		return 0, err
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			f.logger.Warnw("failed to release seed lock", "error", err)
		}
	}()
	return LoadSeed(ctx, path, dir)
}
