package services

import (
	"fmt"
	"sync"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"

	"go.uber.org/zap"
)

// AttachPolicy decides what happens when an identity attaches while it is
// already live on another connection.
type AttachPolicy string

const (
	AttachReplace AttachPolicy = "replace"
	AttachReject  AttachPolicy = "reject"
)

// PresenceRegistry is the single source of truth for who is online and on
// which connection. Both directions of the mapping change under one lock.
type PresenceRegistry struct {
	mu         sync.RWMutex
	byIdentity map[domain.IdentityID]ports.Connection
	byConn     map[domain.ConnectionID]domain.IdentityID

	policy  AttachPolicy
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
}

func NewPresenceRegistry(policy AttachPolicy, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *PresenceRegistry {
	if policy == "" {
		policy = AttachReplace
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PresenceRegistry{
		byIdentity: make(map[domain.IdentityID]ports.Connection),
		byConn:     make(map[domain.ConnectionID]domain.IdentityID),
		policy:     policy,
		metrics:    metrics,
		logger:     logger,
	}
}

// Attach records conn as the live connection of identity. When the identity
// was already live on another connection, that connection is returned so the
// caller can close it; its reverse mapping is dropped, which turns its later
// Detach into a no-op.
func (r *PresenceRegistry) Attach(identity domain.IdentityID, conn ports.Connection) (ports.Connection, error) {
	connID := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byConn[connID]; ok && owner != identity {
		return nil, fmt.Errorf("connection %s already bound to %s: %w", connID, owner, domain.ErrAlreadyAttached)
	}

	prev, wasOnline := r.byIdentity[identity]
	if wasOnline && prev.ID() == connID {
		return nil, nil
	}
	if wasOnline && r.policy == AttachReject {
		return nil, fmt.Errorf("identity %s: %w", identity, domain.ErrAlreadyAttached)
	}

	if wasOnline {
		delete(r.byConn, prev.ID())
	}
	r.byIdentity[identity] = conn
	r.byConn[connID] = identity

	if wasOnline {
		r.logger.Infow("identity reattached",
			"identity", identity,
			"old_conn", prev.ID(),
			"new_conn", connID,
		)
		return prev, nil
	}

	r.metrics.RecordAttach()
	r.logger.Infow("identity online", "identity", identity, "conn", connID)
	r.broadcastLocked(domain.Message{Type: domain.SignalUserOnline, Identity: identity})
	return nil, nil
}

// Detach removes the entry owned by connID. It reports the identity only
// when an entry was actually removed, so concurrent or repeated calls
// cascade at most once.
func (r *PresenceRegistry) Detach(connID domain.ConnectionID) (domain.IdentityID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	delete(r.byIdentity, identity)

	r.metrics.RecordDetach()
	r.logger.Infow("identity offline", "identity", identity, "conn", connID)
	r.broadcastLocked(domain.Message{Type: domain.SignalUserOffline, Identity: identity})
	return identity, true
}

func (r *PresenceRegistry) Lookup(identity domain.IdentityID) (ports.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byIdentity[identity]
	return conn, ok
}

func (r *PresenceRegistry) IsOnline(identity domain.IdentityID) bool {
	_, ok := r.Lookup(identity)
	return ok
}

// SendTo delivers msg to the live connection of identity. The send happens
// under the read lock so a concurrent Detach cannot slip in between lookup
// and delivery.
func (r *PresenceRegistry) SendTo(identity domain.IdentityID, msg domain.Message) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byIdentity[identity]
	if !ok {
		return domain.ErrTargetOffline
	}
	if err := conn.Send(msg); err != nil {
		return fmt.Errorf("send to %s: %v: %w", identity, err, domain.ErrTargetOffline)
	}
	return nil
}

func (r *PresenceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}

func (r *PresenceRegistry) broadcastLocked(msg domain.Message) {
	for id, conn := range r.byIdentity {
		if err := conn.Send(msg); err != nil {
			r.logger.Debugw("presence broadcast skipped",
				"type", msg.Type,
				"to", id,
				"error", err,
			)
		}
	}
}
