package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ringline/internal/core/domain"
	"ringline/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type signalingFixture struct {
	svc      *SignalingService
	registry *PresenceRegistry
	sessions *CallSessions
	metrics  *countingMetrics
}

func newSignalingFixture(t *testing.T, store *contactBook, ringTimeout time.Duration) *signalingFixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	metrics := newCountingMetrics()

	registry := NewPresenceRegistry(AttachReplace, metrics, logger)
	sessions := NewCallSessions(ringTimeout, metrics, logger)
	names := cache.New[string](time.Minute)
	t.Cleanup(names.Stop)

	svc := NewSignalingService(
		store,
		registry,
		NewAuthorizationGate(store, logger),
		sessions,
		NewRelay(registry, metrics, logger),
		names,
		metrics,
		logger,
	)
	return &signalingFixture{svc: svc, registry: registry, sessions: sessions, metrics: metrics}
}

func (f *signalingFixture) connect(t *testing.T, id domain.IdentityID) *fakeConn {
	t.Helper()
	conn := newFakeConn("conn-" + string(id))
	require.NoError(t, f.svc.Connect(context.Background(), id, conn))
	return conn
}

func aliceAndBob() *contactBook {
	return newContactBook().
		add("alice", "Alice").
		add("bob", "Bob").
		mutual("alice", "bob")
}

func TestSignalingService_Connect(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown identity", func(t *testing.T) {
		f := newSignalingFixture(t, aliceAndBob(), 0)
		err := f.svc.Connect(ctx, "mallory", newFakeConn("c-1"))
		assert.ErrorIs(t, err, domain.ErrUnknownIdentity)
		assert.False(t, f.registry.IsOnline("mallory"))
	})

	t.Run("store failure refuses attach", func(t *testing.T) {
		store := new(MockContactStore)
		store.On("IdentityExists", ctx, domain.IdentityID("alice")).Return(false, errors.New("timeout"))
		registry := NewPresenceRegistry(AttachReplace, nil, nil)
		sessions := NewCallSessions(0, nil, nil)
		svc := NewSignalingService(store, registry, NewAuthorizationGate(store, nil), sessions, NewRelay(registry, nil, nil), nil, nil, nil)

		err := svc.Connect(ctx, "alice", newFakeConn("c-1"))
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.Zero(t, registry.Count())
	})

	t.Run("reconnect closes the superseded connection", func(t *testing.T) {
		f := newSignalingFixture(t, aliceAndBob(), 0)
		bob := f.connect(t, "bob")
		old := f.connect(t, "alice")
		bob.reset()

		fresh := newFakeConn("conn-alice-2")
		require.NoError(t, f.svc.Connect(ctx, "alice", fresh))
		assert.True(t, old.isClosed())
		assert.False(t, fresh.isClosed())

		// The old transport shutting down must not take alice offline.
		f.svc.Disconnect(ctx, old)
		assert.True(t, f.registry.IsOnline("alice"))
		assert.Empty(t, bob.ofType(domain.SignalUserOffline))
	})

	t.Run("reconnect ends calls of the superseded connection", func(t *testing.T) {
		f := newSignalingFixture(t, aliceAndBob(), 0)
		f.connect(t, "alice")
		bob := f.connect(t, "bob")
		require.NoError(t, f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"}))
		require.NoError(t, f.svc.Handle(ctx, "bob", domain.Message{Type: domain.SignalAcceptCall, CallerID: "alice"}))
		require.Equal(t, 1, f.sessions.Count())
		bob.reset()

		fresh := newFakeConn("conn-alice-2")
		require.NoError(t, f.svc.Connect(ctx, "alice", fresh))

		ended := bob.ofType(domain.SignalCallEnded)
		require.Len(t, ended, 1)
		assert.Equal(t, domain.IdentityID("alice"), ended[0].Identity)
		assert.Zero(t, f.sessions.Count())
		assert.Equal(t, 1, f.metrics.endedBy(domain.EndByDisconnect))

		// A new call on the same pair is accepted.
		require.NoError(t, f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"}))
		assert.Len(t, bob.ofType(domain.SignalIncomingCall), 1)
	})
}

func TestSignalingService_CallFlow(t *testing.T) {
	ctx := context.Background()
	f := newSignalingFixture(t, aliceAndBob(), 0)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	require.NoError(t, f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"}))
	incoming := bob.ofType(domain.SignalIncomingCall)
	require.Len(t, incoming, 1)
	assert.Equal(t, domain.IdentityID("alice"), incoming[0].CallerID)
	assert.Equal(t, "Alice", incoming[0].CallerName)

	require.NoError(t, f.svc.Handle(ctx, "bob", domain.Message{Type: domain.SignalAcceptCall, CallerID: "alice"}))
	accepted := alice.ofType(domain.SignalCallAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, domain.IdentityID("bob"), accepted[0].RecipientID)

	session, ok := f.sessions.Get("alice", "bob")
	require.True(t, ok)
	assert.Equal(t, domain.CallConnected, session.State)

	offer := json.RawMessage(`{"sdp":"v=0","type":"offer"}`)
	require.NoError(t, f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalOffer, TargetID: "bob", Payload: offer}))
	gotOffer := bob.ofType(domain.SignalOffer)
	require.Len(t, gotOffer, 1)
	assert.Equal(t, domain.IdentityID("alice"), gotOffer[0].CallerID)
	assert.JSONEq(t, string(offer), string(gotOffer[0].Payload))

	answer := json.RawMessage(`{"sdp":"v=0","type":"answer"}`)
	require.NoError(t, f.svc.Handle(ctx, "bob", domain.Message{Type: domain.SignalAnswer, TargetID: "alice", Payload: answer}))
	gotAnswer := alice.ofType(domain.SignalAnswer)
	require.Len(t, gotAnswer, 1)
	assert.Equal(t, domain.IdentityID("bob"), gotAnswer[0].RecipientID)

	candidate := json.RawMessage(`{"candidate":"candidate:1 1 UDP 2122252543 10.0.0.2 50000 typ host"}`)
	require.NoError(t, f.svc.Handle(ctx, "bob", domain.Message{Type: domain.SignalCandidate, TargetID: "alice", Payload: candidate}))
	gotCandidate := alice.ofType(domain.SignalCandidate)
	require.Len(t, gotCandidate, 1)
	assert.Equal(t, domain.IdentityID("bob"), gotCandidate[0].Identity)

	require.NoError(t, f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalEndCall, TargetID: "bob"}))
	ended := bob.ofType(domain.SignalCallEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, domain.IdentityID("alice"), ended[0].Identity)
	assert.Zero(t, f.sessions.Count())

	// A finished session admits nothing and relays nothing.
	bob.reset()
	alice.reset()
	err := f.svc.Handle(ctx, "bob", domain.Message{Type: domain.SignalAcceptCall, CallerID: "alice"})
	assert.ErrorIs(t, err, domain.ErrNoSuchSession)
	err = f.svc.Handle(ctx, "bob", domain.Message{Type: domain.SignalEndCall, TargetID: "alice"})
	assert.ErrorIs(t, err, domain.ErrNoSuchSession)
	err = f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalOffer, TargetID: "bob", Payload: offer})
	assert.ErrorIs(t, err, domain.ErrNoSuchSession)
	assert.Empty(t, alice.messages())
	assert.Empty(t, bob.messages())
}

func TestSignalingService_InitiateRefused(t *testing.T) {
	ctx := context.Background()

	t.Run("one-way relationship", func(t *testing.T) {
		book := newContactBook().add("alice", "Alice").add("bob", "Bob").link("alice", "bob")
		f := newSignalingFixture(t, book, 0)
		alice := f.connect(t, "alice")
		bob := f.connect(t, "bob")
		bob.reset()

		err := f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)

		errs := alice.ofType(domain.SignalCallError)
		require.Len(t, errs, 1)
		assert.Equal(t, "Cannot call this user. Both users must add each other as contacts.", errs[0].Message)
		assert.Empty(t, bob.messages())
		assert.Zero(t, f.sessions.Count())
		assert.Equal(t, 1, f.metrics.refusedFor("unauthorized"))
	})

	t.Run("target offline", func(t *testing.T) {
		f := newSignalingFixture(t, aliceAndBob(), 0)
		alice := f.connect(t, "alice")

		err := f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"})
		assert.ErrorIs(t, err, domain.ErrTargetOffline)

		errs := alice.ofType(domain.SignalCallError)
		require.Len(t, errs, 1)
		assert.Equal(t, "User is offline", errs[0].Message)
		assert.Zero(t, f.sessions.Count())
	})

	t.Run("callee lost between presence check and ring", func(t *testing.T) {
		f := newSignalingFixture(t, aliceAndBob(), 0)
		alice := f.connect(t, "alice")
		bob := f.connect(t, "bob")
		// Still registered, but every send fails.
		bob.Close()

		err := f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"})
		assert.ErrorIs(t, err, domain.ErrTargetOffline)

		errs := alice.ofType(domain.SignalCallError)
		require.Len(t, errs, 1)
		assert.Equal(t, "User is offline", errs[0].Message)
		assert.Zero(t, f.sessions.Count())
		assert.Equal(t, 1, f.metrics.endedBy(domain.EndByAbort))
		assert.Equal(t, 1, f.metrics.refusedFor("offline"))

		// The aborted session does not block a retry.
		err = f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"})
		assert.NotErrorIs(t, err, domain.ErrAlreadyInProgress)
		assert.ErrorIs(t, err, domain.ErrTargetOffline)
	})

	t.Run("already in progress", func(t *testing.T) {
		f := newSignalingFixture(t, aliceAndBob(), 0)
		alice := f.connect(t, "alice")
		bob := f.connect(t, "bob")

		require.NoError(t, f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"}))
		err := f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"})
		assert.ErrorIs(t, err, domain.ErrAlreadyInProgress)

		assert.Len(t, bob.ofType(domain.SignalIncomingCall), 1)
		errs := alice.ofType(domain.SignalCallError)
		require.Len(t, errs, 1)
		assert.Equal(t, "Call already in progress", errs[0].Message)
	})

	t.Run("store failure fails closed", func(t *testing.T) {
		store := new(MockContactStore)
		store.On("IdentityExists", ctx, mock.Anything).Return(true, nil)
		store.On("RelationshipExists", ctx, mock.Anything, mock.Anything).Return(false, errors.New("redis down"))
		logger := zaptest.NewLogger(t).Sugar()
		metrics := newCountingMetrics()
		registry := NewPresenceRegistry(AttachReplace, metrics, logger)
		sessions := NewCallSessions(0, metrics, logger)
		svc := NewSignalingService(store, registry, NewAuthorizationGate(store, logger), sessions, NewRelay(registry, metrics, logger), nil, metrics, logger)

		alice := newFakeConn("c-alice")
		require.NoError(t, svc.Connect(ctx, "alice", alice))
		require.NoError(t, svc.Connect(ctx, "bob", newFakeConn("c-bob")))

		err := svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.Len(t, alice.ofType(domain.SignalCallError), 1)
		assert.Equal(t, 1, metrics.refusedFor("store_unavailable"))
		assert.Zero(t, sessions.Count())
	})
}

func TestSignalingService_Reject(t *testing.T) {
	ctx := context.Background()
	f := newSignalingFixture(t, aliceAndBob(), 0)
	alice := f.connect(t, "alice")
	f.connect(t, "bob")

	require.NoError(t, f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"}))
	require.NoError(t, f.svc.Handle(ctx, "bob", domain.Message{Type: domain.SignalRejectCall, CallerID: "alice"}))

	rejected := alice.ofType(domain.SignalCallRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, domain.IdentityID("bob"), rejected[0].RecipientID)
	assert.Zero(t, f.sessions.Count())

	// The pair is free again.
	require.NoError(t, f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"}))
}

func TestSignalingService_Disconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("callee leaves while ringing", func(t *testing.T) {
		f := newSignalingFixture(t, aliceAndBob(), 0)
		alice := f.connect(t, "alice")
		bob := f.connect(t, "bob")
		require.NoError(t, f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"}))

		f.svc.Disconnect(ctx, bob)
		f.svc.Disconnect(ctx, bob)

		ended := alice.ofType(domain.SignalCallEnded)
		require.Len(t, ended, 1)
		assert.Equal(t, domain.IdentityID("bob"), ended[0].Identity)
		assert.Len(t, alice.ofType(domain.SignalUserOffline), 1)
		assert.Zero(t, f.sessions.Count())
		assert.Equal(t, 1, f.metrics.endedBy(domain.EndByDisconnect))
	})

	t.Run("negotiation to a departed peer is dropped", func(t *testing.T) {
		f := newSignalingFixture(t, aliceAndBob(), 0)
		f.connect(t, "alice")
		bob := f.connect(t, "bob")
		require.NoError(t, f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"}))
		require.NoError(t, f.svc.Handle(ctx, "bob", domain.Message{Type: domain.SignalAcceptCall, CallerID: "alice"}))
		f.svc.Disconnect(ctx, bob)

		err := f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalCandidate, TargetID: "bob", Payload: json.RawMessage(`{}`)})
		assert.ErrorIs(t, err, domain.ErrNoSuchSession)
	})
}

func TestSignalingService_RingTimeout(t *testing.T) {
	ctx := context.Background()
	f := newSignalingFixture(t, aliceAndBob(), 30*time.Millisecond)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	require.NoError(t, f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"}))

	toCaller := waitFor(t, alice, domain.SignalCallEnded)
	assert.Equal(t, domain.IdentityID("bob"), toCaller.Identity)
	toCallee := waitFor(t, bob, domain.SignalCallEnded)
	assert.Equal(t, domain.IdentityID("alice"), toCallee.Identity)
	assert.Zero(t, f.sessions.Count())

	err := f.svc.Handle(ctx, "bob", domain.Message{Type: domain.SignalAcceptCall, CallerID: "alice"})
	assert.ErrorIs(t, err, domain.ErrNoSuchSession)
}

func TestSignalingService_InvalidMessages(t *testing.T) {
	ctx := context.Background()
	f := newSignalingFixture(t, aliceAndBob(), 0)
	f.connect(t, "alice")

	tests := []domain.Message{
		{Type: "dial"},
		{Type: domain.SignalInitiateCall},
		{Type: domain.SignalAcceptCall},
		{Type: domain.SignalOffer, Payload: json.RawMessage(`{}`)},
		{Type: domain.SignalEndCall},
		{Type: domain.SignalIncomingCall, TargetID: "bob"},
	}
	for _, msg := range tests {
		t.Run(string(msg.Type), func(t *testing.T) {
			err := f.svc.Handle(ctx, "alice", msg)
			assert.ErrorIs(t, err, domain.ErrInvalidMessage)
		})
	}
}

func TestSignalingService_CallerNameIsCached(t *testing.T) {
	ctx := context.Background()
	book := aliceAndBob()
	f := newSignalingFixture(t, book, 0)
	f.connect(t, "alice")
	bob := f.connect(t, "bob")

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalInitiateCall, TargetID: "bob"}))
		require.NoError(t, f.svc.Handle(ctx, "alice", domain.Message{Type: domain.SignalEndCall, TargetID: "bob"}))
	}

	assert.Len(t, bob.ofType(domain.SignalIncomingCall), 3)
	assert.Equal(t, 1, book.nameLookups())
}
