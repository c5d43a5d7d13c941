package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const schemaVersionKey = keyPrefix + "schema:version"

type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, client redis.UniversalClient) error
}

// migrations are applied in order; append only.
var migrations = []Migration{
	{
		Version:     1,
		Description: "index existing identity hashes",
		Up:          backfillIdentityIndex,
	},
}

// CurrentSchemaVersion is the version Migrate brings a database to.
func CurrentSchemaVersion() int {
	return migrations[len(migrations)-1].Version
}

// Migrate runs every migration newer than the stored schema version.
func Migrate(ctx context.Context, client redis.UniversalClient, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	current, err := SchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if current >= CurrentSchemaVersion() {
		logger.Debugw("schema is up to date", "version", current)
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Infow("running migration", "version", m.Version, "description", m.Description)
		if err := m.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, m.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	logger.Infow("migrations completed", "version", CurrentSchemaVersion())
	return nil
}

func SchemaVersion(ctx context.Context, client redis.UniversalClient) (int, error) {
	v, err := client.Get(ctx, schemaVersionKey).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func backfillIdentityIndex(ctx context.Context, client redis.UniversalClient) error {
	iter := client.Scan(ctx, 0, identityPrefix+"*", 500).Iterator()
	batch := make([]interface{}, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := client.SAdd(ctx, identityIndex, batch...).Err()
		batch = batch[:0]
		return err
	}

	for iter.Next(ctx) {
		batch = append(batch, strings.TrimPrefix(iter.Val(), identityPrefix))
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return flush()
}
