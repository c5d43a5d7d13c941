package ports

import (
	"context"
	"time"

	"ringline/internal/core/domain"
)

type SignalingService interface {
	Connect(ctx context.Context, identity domain.IdentityID, conn Connection) error
	Disconnect(ctx context.Context, conn Connection)
	Handle(ctx context.Context, from domain.IdentityID, msg domain.Message) error
}

type PresenceService interface {
	IsOnline(identity domain.IdentityID) bool
	Count() int
}

type AuthorizationService interface {
	CanSignal(ctx context.Context, a, b domain.IdentityID) bool
}

// MetricsRecorder receives signaling counters. Implementations must be safe
// for concurrent use.
type MetricsRecorder interface {
	RecordAttach()
	RecordDetach()
	RecordCallStarted()
	RecordCallConnected(setup time.Duration)
	RecordCallEnded(reason domain.EndReason, duration time.Duration)
	RecordCallRefused(reason string)
	RecordRelayed(t domain.SignalType)
	RecordDropped(t domain.SignalType, reason string)
}

type NoopMetrics struct{}

func (NoopMetrics) RecordAttach()                                   {}
func (NoopMetrics) RecordDetach()                                   {}
func (NoopMetrics) RecordCallStarted()                              {}
func (NoopMetrics) RecordCallConnected(time.Duration)               {}
func (NoopMetrics) RecordCallEnded(domain.EndReason, time.Duration) {}
func (NoopMetrics) RecordCallRefused(string)                        {}
func (NoopMetrics) RecordRelayed(domain.SignalType)                 {}
func (NoopMetrics) RecordDropped(domain.SignalType, string)         {}
