package services

import (
	"context"
	"errors"
	"fmt"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"

	"go.uber.org/zap"
)

// AuthorizationGate allows signaling only between identities that list each
// other. Every decision goes to the store; nothing is cached.
type AuthorizationGate struct {
	store  ports.ContactStore
	logger *zap.SugaredLogger
}

func NewAuthorizationGate(store ports.ContactStore, logger *zap.SugaredLogger) *AuthorizationGate {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AuthorizationGate{store: store, logger: logger}
}

// CanSignal fails closed on any error.
func (g *AuthorizationGate) CanSignal(ctx context.Context, a, b domain.IdentityID) bool {
	err := g.Check(ctx, a, b)
	if err != nil && !errors.Is(err, domain.ErrUnauthorized) {
		g.logger.Warnw("authorization lookup failed", "from", a, "to", b, "error", err)
	}
	return err == nil
}

// Check returns nil when a may signal b, ErrUnauthorized when the relationship
// guard fails and ErrStoreUnavailable when the store could not answer.
func (g *AuthorizationGate) Check(ctx context.Context, a, b domain.IdentityID) error {
	if a == "" || b == "" || a == b {
		return domain.ErrUnauthorized
	}

	for _, id := range []domain.IdentityID{a, b} {
		ok, err := g.store.IdentityExists(ctx, id)
		if err != nil {
			return fmt.Errorf("identity %s: %v: %w", id, err, domain.ErrStoreUnavailable)
		}
		if !ok {
			return fmt.Errorf("identity %s: %w", id, domain.ErrUnauthorized)
		}
	}

	for _, pair := range [][2]domain.IdentityID{{a, b}, {b, a}} {
		ok, err := g.store.RelationshipExists(ctx, pair[0], pair[1])
		if err != nil {
			return fmt.Errorf("relationship %s->%s: %v: %w", pair[0], pair[1], err, domain.ErrStoreUnavailable)
		}
		if !ok {
			return domain.ErrUnauthorized
		}
	}
	return nil
}
