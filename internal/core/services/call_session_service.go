package services

import (
	"sync"
	"time"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type pairKey struct {
	caller domain.IdentityID
	callee domain.IdentityID
}

type callEntry struct {
	session domain.CallSession
	timer   *time.Timer
}

// CallSessions is the call lifecycle state machine. It holds only active
// sessions (RINGING or CONNECTED), at most one per ordered caller/callee pair;
// a session that reaches ENDED is dropped and can never transition again.
// Callers receive copies.
type CallSessions struct {
	mu     sync.Mutex
	byPair map[pairKey]*callEntry

	ringTimeout time.Duration
	onExpire    func(domain.CallSession)

	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewCallSessions creates the session set. A zero ringTimeout leaves ringing
// calls open until they are answered, rejected or ended.
func NewCallSessions(ringTimeout time.Duration, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *CallSessions {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CallSessions{
		byPair:      make(map[pairKey]*callEntry),
		ringTimeout: ringTimeout,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// OnExpire registers the callback run after a ringing call times out.
// It is invoked outside the session lock.
func (c *CallSessions) OnExpire(fn func(domain.CallSession)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpire = fn
}

// Initiate moves the (caller, callee) pair from NONE to RINGING. The
// relationship and presence guards are evaluated by the caller beforehand.
func (c *CallSessions) Initiate(caller, callee domain.IdentityID) (domain.CallSession, error) {
	key := pairKey{caller: caller, callee: callee}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byPair[key]; exists {
		return domain.CallSession{}, domain.ErrAlreadyInProgress
	}

	entry := &callEntry{
		session: domain.CallSession{
			ID:        domain.SessionID(uuid.NewString()),
			Caller:    caller,
			Callee:    callee,
			State:     domain.CallRinging,
			CreatedAt: c.now(),
		},
	}
	if c.ringTimeout > 0 {
		id := entry.session.ID
		entry.timer = time.AfterFunc(c.ringTimeout, func() { c.expire(key, id) })
	}
	c.byPair[key] = entry

	c.metrics.RecordCallStarted()
	c.logger.Infow("call ringing",
		"session_id", entry.session.ID,
		"caller", caller,
		"callee", callee,
	)
	return entry.session, nil
}

// Accept moves a RINGING session to CONNECTED. Only the recorded callee can
// accept, which the pair lookup enforces.
func (c *CallSessions) Accept(callee, caller domain.IdentityID) (domain.CallSession, error) {
	key := pairKey{caller: caller, callee: callee}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byPair[key]
	if !ok || entry.session.State != domain.CallRinging {
		return domain.CallSession{}, domain.ErrNoSuchSession
	}
	stopTimer(entry)
	entry.session.State = domain.CallConnected
	entry.session.ConnectedAt = c.now()

	c.metrics.RecordCallConnected(entry.session.ConnectedAt.Sub(entry.session.CreatedAt))
	c.logger.Infow("call connected", "session_id", entry.session.ID, "caller", caller, "callee", callee)
	return entry.session, nil
}

// Reject ends a RINGING session on behalf of its callee.
func (c *CallSessions) Reject(callee, caller domain.IdentityID) (domain.CallSession, error) {
	key := pairKey{caller: caller, callee: callee}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byPair[key]
	if !ok || entry.session.State != domain.CallRinging {
		return domain.CallSession{}, domain.ErrNoSuchSession
	}
	return c.endLocked(key, entry, domain.EndByReject), nil
}

// End terminates the active session between issuer and other, whichever of
// the two placed the call. A call the issuer placed wins over one it received.
func (c *CallSessions) End(issuer, other domain.IdentityID) (domain.CallSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range []pairKey{{issuer, other}, {other, issuer}} {
		if entry, ok := c.byPair[key]; ok {
			return c.endLocked(key, entry, domain.EndByParty), nil
		}
	}
	return domain.CallSession{}, domain.ErrNoSuchSession
}

// Abort drops a session that could not be announced to its callee. It is a
// no-op when the session already moved on.
func (c *CallSessions) Abort(session domain.CallSession) bool {
	key := pairKey{caller: session.Caller, callee: session.Callee}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byPair[key]
	if !ok || entry.session.ID != session.ID {
		return false
	}
	c.endLocked(key, entry, domain.EndByAbort)
	return true
}

// Disconnect force-ends every session involving identity and returns them.
func (c *CallSessions) Disconnect(identity domain.IdentityID) []domain.CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ended []domain.CallSession
	for key, entry := range c.byPair {
		if key.caller == identity || key.callee == identity {
			ended = append(ended, c.endLocked(key, entry, domain.EndByDisconnect))
		}
	}
	return ended
}

// Active returns the live session between a and b in either direction.
func (c *CallSessions) Active(a, b domain.IdentityID) (domain.CallSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range []pairKey{{a, b}, {b, a}} {
		if entry, ok := c.byPair[key]; ok && entry.session.State.Active() {
			return entry.session, true
		}
	}
	return domain.CallSession{}, false
}

// Get returns the session placed by caller to callee.
func (c *CallSessions) Get(caller, callee domain.IdentityID) (domain.CallSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byPair[pairKey{caller: caller, callee: callee}]
	if !ok {
		return domain.CallSession{}, false
	}
	return entry.session, true
}

func (c *CallSessions) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byPair)
}

func (c *CallSessions) expire(key pairKey, id domain.SessionID) {
	c.mu.Lock()
	entry, ok := c.byPair[key]
	if !ok || entry.session.ID != id || entry.session.State != domain.CallRinging {
		c.mu.Unlock()
		return
	}
	ended := c.endLocked(key, entry, domain.EndByTimeout)
	fn := c.onExpire
	c.mu.Unlock()

	if fn != nil {
		fn(ended)
	}
}

func (c *CallSessions) endLocked(key pairKey, entry *callEntry, reason domain.EndReason) domain.CallSession {
	stopTimer(entry)
	delete(c.byPair, key)

	var duration time.Duration
	if !entry.session.ConnectedAt.IsZero() {
		duration = c.now().Sub(entry.session.ConnectedAt)
	}
	entry.session.State = domain.CallEnded

	c.metrics.RecordCallEnded(reason, duration)
	c.logger.Infow("call ended",
		"session_id", entry.session.ID,
		"caller", entry.session.Caller,
		"callee", entry.session.Callee,
		"reason", reason,
	)
	return entry.session
}

func stopTimer(entry *callEntry) {
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
}
