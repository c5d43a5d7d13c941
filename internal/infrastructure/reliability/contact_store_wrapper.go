package reliability

import (
	"context"
	"errors"
	"fmt"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"
	"ringline/pkg/circuitbreaker"
	"ringline/pkg/retry"

	"go.uber.org/zap"
)

// ContactStoreWrapper guards a ContactDirectory with retries and a circuit
// breaker. Any store failure that survives both comes back wrapped in
// domain.ErrStoreUnavailable; unknown identities pass through untouched.
type ContactStoreWrapper struct {
	store   ports.ContactDirectory
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

var _ ports.ContactDirectory = (*ContactStoreWrapper)(nil)

// NewContactStoreWrapper builds the wrapper. onState, when set, sees every
// breaker transition.
func NewContactStoreWrapper(
	store ports.ContactDirectory,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	onState func(circuitbreaker.State),
	logger *zap.SugaredLogger,
) *ContactStoreWrapper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	retryConfig.Retryable = func(err error) bool {
		return !isOutcome(err) && !errors.Is(err, circuitbreaker.ErrOpen)
	}
	cbConfig.IsFailure = func(err error) bool { return !isOutcome(err) }

	w := &ContactStoreWrapper{
		store:   store,
		retry:   retryConfig,
		breaker: circuitbreaker.New(cbConfig),
		logger:  logger,
	}
	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("contact store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
		if onState != nil {
			onState(to)
		}
	})
	return w
}

// isOutcome reports errors that are answers from a healthy store.
func isOutcome(err error) bool {
	return errors.Is(err, domain.ErrUnknownIdentity) ||
		errors.Is(err, domain.ErrInvalidMessage) ||
		errors.Is(err, context.Canceled)
}

func protect[T any](ctx context.Context, w *ContactStoreWrapper, op string, fn func(context.Context) (T, error)) (T, error) {
	res, err := retry.Do(ctx, w.retry, func(ctx context.Context) (T, error) {
		return circuitbreaker.Execute(ctx, w.breaker, fn)
	})
	if err == nil || isOutcome(err) {
		return res, err
	}
	w.logger.Warnw("contact store unavailable", "operation", op, "error", err)
	return res, fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

func (w *ContactStoreWrapper) IdentityExists(ctx context.Context, id domain.IdentityID) (bool, error) {
	return protect(ctx, w, "identity_exists", func(ctx context.Context) (bool, error) {
		return w.store.IdentityExists(ctx, id)
	})
}

func (w *ContactStoreWrapper) RelationshipExists(ctx context.Context, from, to domain.IdentityID) (bool, error) {
	return protect(ctx, w, "relationship_exists", func(ctx context.Context) (bool, error) {
		return w.store.RelationshipExists(ctx, from, to)
	})
}

func (w *ContactStoreWrapper) DisplayName(ctx context.Context, id domain.IdentityID) (string, error) {
	return protect(ctx, w, "display_name", func(ctx context.Context) (string, error) {
		return w.store.DisplayName(ctx, id)
	})
}

func (w *ContactStoreWrapper) Contacts(ctx context.Context, owner domain.IdentityID) ([]domain.IdentityID, error) {
	return protect(ctx, w, "contacts", func(ctx context.Context) ([]domain.IdentityID, error) {
		return w.store.Contacts(ctx, owner)
	})
}

func (w *ContactStoreWrapper) PutIdentity(ctx context.Context, identity domain.Identity) error {
	_, err := protect(ctx, w, "put_identity", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.store.PutIdentity(ctx, identity)
	})
	return err
}

func (w *ContactStoreWrapper) AddContact(ctx context.Context, owner, contact domain.IdentityID) error {
	_, err := protect(ctx, w, "add_contact", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.store.AddContact(ctx, owner, contact)
	})
	return err
}

func (w *ContactStoreWrapper) RemoveContact(ctx context.Context, owner, contact domain.IdentityID) error {
	_, err := protect(ctx, w, "remove_contact", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.store.RemoveContact(ctx, owner, contact)
	})
	return err
}

// BreakerState exposes the breaker for health checks.
func (w *ContactStoreWrapper) BreakerState() circuitbreaker.State {
	return w.breaker.State()
}
