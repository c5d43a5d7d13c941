package services

import (
	"errors"
	"fmt"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"

	"go.uber.org/zap"
)

// Relay forwards envelopes to the live connection of their target. It keeps
// no state and does not look inside payloads.
type Relay struct {
	registry *PresenceRegistry
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
}

func NewRelay(registry *PresenceRegistry, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *Relay {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Relay{registry: registry, metrics: metrics, logger: logger}
}

// Relay delivers env to env.To. It returns ErrTargetOffline when the target
// has no live connection or its connection refused the frame.
func (r *Relay) Relay(env domain.Envelope) error {
	msg, err := outbound(env)
	if err != nil {
		r.metrics.RecordDropped(env.Type, "invalid")
		return err
	}

	if err := r.registry.SendTo(env.To, msg); err != nil {
		r.metrics.RecordDropped(env.Type, "offline")
		r.logger.Debugw("relay target offline",
			"type", env.Type,
			"from", env.From,
			"to", env.To,
			"error", err,
		)
		if errors.Is(err, domain.ErrTargetOffline) {
			return domain.ErrTargetOffline
		}
		return err
	}

	r.metrics.RecordRelayed(env.Type)
	r.logger.Debugw("relayed signal",
		"type", env.Type,
		"from", env.From,
		"to", env.To,
		"payload_bytes", len(env.Payload),
	)
	return nil
}

// outbound maps an envelope onto the frame its receiver expects. The sender
// appears under a different key depending on the event.
func outbound(env domain.Envelope) (domain.Message, error) {
	msg := domain.Message{Type: env.Type}
	switch env.Type {
	case domain.SignalIncomingCall:
		msg.CallerID = env.From
		msg.CallerName = env.FromName
	case domain.SignalOffer:
		msg.CallerID = env.From
		msg.Payload = env.Payload
	case domain.SignalAnswer:
		msg.RecipientID = env.From
		msg.Payload = env.Payload
	case domain.SignalCandidate:
		msg.Identity = env.From
		msg.Payload = env.Payload
	case domain.SignalCallAccepted, domain.SignalCallRejected:
		msg.RecipientID = env.From
	case domain.SignalCallEnded:
		msg.Identity = env.From
	default:
		return domain.Message{}, fmt.Errorf("cannot relay %q: %w", env.Type, domain.ErrInvalidMessage)
	}
	return msg, nil
}
