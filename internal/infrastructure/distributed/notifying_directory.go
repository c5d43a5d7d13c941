package distributed

import (
	"context"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"

	"go.uber.org/zap"
)

// NotifyingDirectory announces identity changes on the event bus after they
// are written. onChange, when set, runs for local writes as well.
type NotifyingDirectory struct {
	ports.ContactDirectory
	bus      *EventBus
	onChange func(domain.IdentityID)
	logger   *zap.SugaredLogger
}

func NewNotifyingDirectory(dir ports.ContactDirectory, bus *EventBus, onChange func(domain.IdentityID), logger *zap.SugaredLogger) *NotifyingDirectory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &NotifyingDirectory{ContactDirectory: dir, bus: bus, onChange: onChange, logger: logger}
}

func (d *NotifyingDirectory) PutIdentity(ctx context.Context, identity domain.Identity) error {
	if err := d.ContactDirectory.PutIdentity(ctx, identity); err != nil {
		return err
	}
	if d.onChange != nil {
		d.onChange(identity.ID)
	}
	// Peers fall back to their cache TTL if this is lost.
	if err := d.bus.Publish(ctx, Event{Type: EventIdentityUpdated, Identity: identity.ID}); err != nil {
		d.logger.Warnw("identity change not announced", "identity", identity.ID, "error", err)
	}
	return nil
}

// HandleEvent applies a remote event to the local onChange hook.
func (d *NotifyingDirectory) HandleEvent(event Event) {
	if event.Type == EventIdentityUpdated && event.Identity != "" && d.onChange != nil {
		d.onChange(event.Identity)
	}
}
