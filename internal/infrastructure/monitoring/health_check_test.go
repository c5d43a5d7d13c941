package monitoring

import (
	"context"
	"testing"
	"time"

	"ringline/internal/core/domain"
	"ringline/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
)

type downStore struct {
	*memory.MemoryContactRepository
}

func (downStore) IdentityExists(context.Context, domain.IdentityID) (bool, error) {
	return false, domain.ErrStoreUnavailable
}

func TestHealthChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		h := NewHealthChecker()
		h.AddContactStoreCheck(memory.NewMemoryContactRepository(), time.Second)
		h.AddCheck("noop", func(context.Context) error { return nil }, 0)

		status := h.CheckAll(ctx)
		assert.Equal(t, StatusHealthy, status.Status)
		assert.Equal(t, StatusHealthy, status.Checks["contact_store"])
		assert.True(t, h.IsReady(ctx))
	})

	t.Run("store down", func(t *testing.T) {
		h := NewHealthChecker()
		h.AddContactStoreCheck(downStore{}, time.Second)

		status := h.CheckAll(ctx)
		assert.Equal(t, StatusUnhealthy, status.Status)
		assert.Contains(t, status.Checks["contact_store"], "unavailable")
		assert.False(t, h.IsReady(ctx))
	})

	t.Run("timeout applies", func(t *testing.T) {
		h := NewHealthChecker()
		h.AddCheck("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}, 10*time.Millisecond)

		status := h.CheckAll(ctx)
		assert.Equal(t, StatusUnhealthy, status.Status)
		assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
	})
}
