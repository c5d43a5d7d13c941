package services

import (
	"context"
	"errors"
	"fmt"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"
	"ringline/pkg/cache"

	"go.uber.org/zap"
)

const (
	msgCannotCall     = "Cannot call this user. Both users must add each other as contacts."
	msgUserOffline    = "User is offline"
	msgCallInProgress = "Call already in progress"

	unknownCallerName = "Unknown"
)

// SignalingService turns inbound connection events into presence changes,
// state machine transitions and relayed signals.
//
// Handle and Disconnect for one connection are expected to be called from
// that connection's read loop, so they never overlap for the same sender.
type SignalingService struct {
	store    ports.ContactStore
	registry *PresenceRegistry
	gate     *AuthorizationGate
	sessions *CallSessions
	relay    *Relay
	names    *cache.Cache[string]

	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
}

func NewSignalingService(
	store ports.ContactStore,
	registry *PresenceRegistry,
	gate *AuthorizationGate,
	sessions *CallSessions,
	relay *Relay,
	names *cache.Cache[string], // optional display name cache
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *SignalingService {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &SignalingService{
		store:    store,
		registry: registry,
		gate:     gate,
		sessions: sessions,
		relay:    relay,
		names:    names,
		metrics:  metrics,
		logger:   logger,
	}
	sessions.OnExpire(s.onRingTimeout)
	return s
}

// Connect attaches conn for an identity the store knows about. Store failures
// refuse the attach.
func (s *SignalingService) Connect(ctx context.Context, identity domain.IdentityID, conn ports.Connection) error {
	ok, err := s.store.IdentityExists(ctx, identity)
	if err != nil {
		return fmt.Errorf("attach %s: %v: %w", identity, err, domain.ErrStoreUnavailable)
	}
	if !ok {
		return fmt.Errorf("attach %s: %w", identity, domain.ErrUnknownIdentity)
	}

	superseded, err := s.registry.Attach(identity, conn)
	if err != nil {
		return err
	}
	if superseded != nil {
		superseded.Close()
		// The new connection starts without calls.
		s.endCallsOf(identity)
	}
	return nil
}

// Disconnect detaches conn and ends every call of its identity. A connection
// that was superseded or already detached changes nothing.
func (s *SignalingService) Disconnect(ctx context.Context, conn ports.Connection) {
	identity, ok := s.registry.Detach(conn.ID())
	if !ok {
		return
	}
	s.endCallsOf(identity)
}

func (s *SignalingService) endCallsOf(identity domain.IdentityID) {
	for _, session := range s.sessions.Disconnect(identity) {
		peer := session.Peer(identity)
		if err := s.relay.Relay(domain.Envelope{
			Type: domain.SignalCallEnded,
			From: identity,
			To:   peer,
		}); err != nil {
			s.logger.Debugw("call-ended not delivered", "session_id", session.ID, "to", peer, "error", err)
		}
	}
}

// Handle processes one inbound frame from an attached identity. Errors meant
// for the sender are delivered as call-error before returning; everything
// else is returned for logging only.
func (s *SignalingService) Handle(ctx context.Context, from domain.IdentityID, msg domain.Message) error {
	if msg.Type.IsNegotiation() {
		if msg.TargetID == "" {
			return fmt.Errorf("%s without targetId: %w", msg.Type, domain.ErrInvalidMessage)
		}
		return s.negotiate(from, msg)
	}

	switch msg.Type {
	case domain.SignalInitiateCall:
		if msg.TargetID == "" {
			return fmt.Errorf("%s without targetId: %w", msg.Type, domain.ErrInvalidMessage)
		}
		return s.initiate(ctx, from, msg.TargetID)

	case domain.SignalAcceptCall, domain.SignalRejectCall:
		if msg.CallerID == "" {
			return fmt.Errorf("%s without callerId: %w", msg.Type, domain.ErrInvalidMessage)
		}
		return s.answerRing(from, msg.CallerID, msg.Type == domain.SignalAcceptCall)

	case domain.SignalEndCall:
		if msg.TargetID == "" {
			return fmt.Errorf("%s without targetId: %w", msg.Type, domain.ErrInvalidMessage)
		}
		return s.end(from, msg.TargetID)

	default:
		return fmt.Errorf("unknown message type %q: %w", msg.Type, domain.ErrInvalidMessage)
	}
}

func (s *SignalingService) initiate(ctx context.Context, caller, callee domain.IdentityID) error {
	if err := s.gate.Check(ctx, caller, callee); err != nil {
		reason := "unauthorized"
		if errors.Is(err, domain.ErrStoreUnavailable) {
			reason = "store_unavailable"
			s.logger.Warnw("call refused, contact store unavailable", "caller", caller, "callee", callee, "error", err)
			err = fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
		}
		s.metrics.RecordCallRefused(reason)
		s.replyError(caller, msgCannotCall)
		return err
	}

	if !s.registry.IsOnline(callee) {
		s.metrics.RecordCallRefused("offline")
		s.replyError(caller, msgUserOffline)
		return domain.ErrTargetOffline
	}

	session, err := s.sessions.Initiate(caller, callee)
	if err != nil {
		s.metrics.RecordCallRefused("in_progress")
		s.replyError(caller, msgCallInProgress)
		return err
	}

	err = s.relay.Relay(domain.Envelope{
		Type:     domain.SignalIncomingCall,
		From:     caller,
		To:       callee,
		FromName: s.displayName(ctx, caller),
	})
	if err != nil {
		// The callee went away between the presence check and delivery.
		s.sessions.Abort(session)
		s.metrics.RecordCallRefused("offline")
		s.replyError(caller, msgUserOffline)
		return err
	}
	return nil
}

func (s *SignalingService) answerRing(callee, caller domain.IdentityID, accept bool) error {
	var (
		err     error
		session domain.CallSession
		reply   = domain.SignalCallRejected
	)
	if accept {
		reply = domain.SignalCallAccepted
		session, err = s.sessions.Accept(callee, caller)
	} else {
		session, err = s.sessions.Reject(callee, caller)
	}
	if err != nil {
		s.drop(reply, callee, caller, err)
		return err
	}

	if err := s.relay.Relay(domain.Envelope{Type: reply, From: callee, To: caller}); err != nil {
		s.logger.Debugw("ring answer not delivered", "session_id", session.ID, "type", reply, "error", err)
	}
	return nil
}

func (s *SignalingService) negotiate(from domain.IdentityID, msg domain.Message) error {
	if _, ok := s.sessions.Active(from, msg.TargetID); !ok {
		s.drop(msg.Type, from, msg.TargetID, domain.ErrNoSuchSession)
		return domain.ErrNoSuchSession
	}
	return s.relay.Relay(domain.Envelope{
		Type:    msg.Type,
		From:    from,
		To:      msg.TargetID,
		Payload: msg.Payload,
	})
}

func (s *SignalingService) end(from, target domain.IdentityID) error {
	session, err := s.sessions.End(from, target)
	if err != nil {
		s.drop(domain.SignalCallEnded, from, target, err)
		return err
	}
	if err := s.relay.Relay(domain.Envelope{Type: domain.SignalCallEnded, From: from, To: target}); err != nil {
		s.logger.Debugw("call-ended not delivered", "session_id", session.ID, "to", target, "error", err)
	}
	return nil
}

func (s *SignalingService) onRingTimeout(session domain.CallSession) {
	s.logger.Infow("ringing call timed out", "session_id", session.ID, "caller", session.Caller, "callee", session.Callee)
	_ = s.relay.Relay(domain.Envelope{Type: domain.SignalCallEnded, From: session.Callee, To: session.Caller})
	_ = s.relay.Relay(domain.Envelope{Type: domain.SignalCallEnded, From: session.Caller, To: session.Callee})
}

func (s *SignalingService) drop(t domain.SignalType, from, to domain.IdentityID, err error) {
	s.metrics.RecordDropped(t, "no_session")
	s.logger.Debugw("signal dropped", "type", t, "from", from, "to", to, "error", err)
}

func (s *SignalingService) replyError(to domain.IdentityID, text string) {
	if err := s.registry.SendTo(to, domain.Message{Type: domain.SignalCallError, Message: text}); err != nil {
		s.logger.Debugw("call-error not delivered", "to", to, "error", err)
	}
}

func (s *SignalingService) displayName(ctx context.Context, id domain.IdentityID) string {
	lookup := func(ctx context.Context) (string, error) {
		return s.store.DisplayName(ctx, id)
	}

	var (
		name string
		err  error
	)
	if s.names != nil {
		name, err = s.names.GetOrSet(ctx, string(id), lookup)
	} else {
		name, err = lookup(ctx)
	}
	if err != nil || name == "" {
		return unknownCallerName
	}
	return name
}
