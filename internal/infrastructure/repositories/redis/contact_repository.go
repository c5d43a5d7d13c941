package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"
	"ringline/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "ringline:"
	identityPrefix = keyPrefix + "identity:"
	contactsPrefix = keyPrefix + "contacts:"
	identityIndex  = keyPrefix + "identities"

	nameField = "name"
)

// RedisContactRepository keeps one hash per identity and one set of listed
// contacts per identity.
//
//	ringline:identity:<id>  HASH {name}
//	ringline:contacts:<id>  SET  of identity IDs
//	ringline:identities     SET  of every identity ID
type RedisContactRepository struct {
	client redis.UniversalClient
}

func NewRedisContactRepository(client redis.UniversalClient) *RedisContactRepository {
	return &RedisContactRepository{client: client}
}

var _ ports.ContactDirectory = (*RedisContactRepository)(nil)

func identityKey(id domain.IdentityID) string { return identityPrefix + string(id) }
func contactsKey(id domain.IdentityID) string { return contactsPrefix + string(id) }

func (r *RedisContactRepository) IdentityExists(ctx context.Context, id domain.IdentityID) (bool, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "redis", "EXISTS", identityKey(id))
	defer span.End()

	n, err := r.client.Exists(ctx, identityKey(id)).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return false, fmt.Errorf("failed to check identity in Redis: %w", err)
	}
	return n == 1, nil
}

func (r *RedisContactRepository) RelationshipExists(ctx context.Context, from, to domain.IdentityID) (bool, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "redis", "SISMEMBER", contactsKey(from))
	defer span.End()

	ok, err := r.client.SIsMember(ctx, contactsKey(from), string(to)).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return false, fmt.Errorf("failed to check relationship in Redis: %w", err)
	}
	return ok, nil
}

func (r *RedisContactRepository) DisplayName(ctx context.Context, id domain.IdentityID) (string, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "redis", "HGET", identityKey(id))
	defer span.End()

	name, err := r.client.HGet(ctx, identityKey(id), nameField).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("identity %s: %w", id, domain.ErrUnknownIdentity)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", fmt.Errorf("failed to get display name from Redis: %w", err)
	}
	return name, nil
}

func (r *RedisContactRepository) PutIdentity(ctx context.Context, identity domain.Identity) error {
	if identity.ID == "" {
		return fmt.Errorf("identity without id: %w", domain.ErrInvalidMessage)
	}
	ctx, span := tracing.TraceDatabaseOperation(ctx, "redis", "HSET", identityKey(identity.ID))
	defer span.End()

	contacts := make([]interface{}, 0, len(identity.Contacts))
	for _, c := range identity.Contacts {
		if c != "" && c != identity.ID {
			contacts = append(contacts, string(c))
		}
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, identityKey(identity.ID), nameField, identity.Name)
		pipe.SAdd(ctx, identityIndex, string(identity.ID))
		if len(contacts) > 0 {
			pipe.SAdd(ctx, contactsKey(identity.ID), contacts...)
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to store identity in Redis: %w", err)
	}
	return nil
}

func (r *RedisContactRepository) AddContact(ctx context.Context, owner, contact domain.IdentityID) error {
	if owner == contact {
		return fmt.Errorf("identity %s cannot list itself: %w", owner, domain.ErrInvalidMessage)
	}
	exists, err := r.IdentityExists(ctx, owner)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("identity %s: %w", owner, domain.ErrUnknownIdentity)
	}

	ctx, span := tracing.TraceDatabaseOperation(ctx, "redis", "SADD", contactsKey(owner))
	defer span.End()

	if err := r.client.SAdd(ctx, contactsKey(owner), string(contact)).Err(); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to add contact in Redis: %w", err)
	}
	return nil
}

func (r *RedisContactRepository) RemoveContact(ctx context.Context, owner, contact domain.IdentityID) error {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "redis", "SREM", contactsKey(owner))
	defer span.End()

	if err := r.client.SRem(ctx, contactsKey(owner), string(contact)).Err(); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to remove contact in Redis: %w", err)
	}
	return nil
}

func (r *RedisContactRepository) Contacts(ctx context.Context, owner domain.IdentityID) ([]domain.IdentityID, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "redis", "SMEMBERS", contactsKey(owner))
	defer span.End()

	members, err := r.client.SMembers(ctx, contactsKey(owner)).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to list contacts from Redis: %w", err)
	}

	out := make([]domain.IdentityID, 0, len(members))
	for _, m := range members {
		out = append(out, domain.IdentityID(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// IdentityCount reports how many identities the directory holds.
func (r *RedisContactRepository) IdentityCount(ctx context.Context) (int64, error) {
	return r.client.SCard(ctx, identityIndex).Result()
}
