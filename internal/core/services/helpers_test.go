package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ringline/internal/core/domain"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("connection closed")

// fakeConn records every frame it is handed.
type fakeConn struct {
	id domain.ConnectionID

	mu     sync.Mutex
	msgs   []domain.Message
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: domain.ConnectionID(id)}
}

func (c *fakeConn) ID() domain.ConnectionID { return c.id }

func (c *fakeConn) Send(msg domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *fakeConn) ofType(t domain.SignalType) []domain.Message {
	var out []domain.Message
	for _, m := range c.messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}

// waitFor polls until conn has received a frame of type t.
func waitFor(t *testing.T, conn *fakeConn, typ domain.SignalType) domain.Message {
	t.Helper()
	var got domain.Message
	require.Eventually(t, func() bool {
		msgs := conn.ofType(typ)
		if len(msgs) == 0 {
			return false
		}
		got = msgs[len(msgs)-1]
		return true
	}, 2*time.Second, 5*time.Millisecond, "no %s received by %s", typ, conn.id)
	return got
}

// contactBook is a map-backed ContactStore.
type contactBook struct {
	mu       sync.Mutex
	names    map[domain.IdentityID]string
	contacts map[domain.IdentityID]map[domain.IdentityID]bool
	lookups  int
}

func newContactBook() *contactBook {
	return &contactBook{
		names:    make(map[domain.IdentityID]string),
		contacts: make(map[domain.IdentityID]map[domain.IdentityID]bool),
	}
}

func (b *contactBook) add(id domain.IdentityID, name string) *contactBook {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names[id] = name
	if b.contacts[id] == nil {
		b.contacts[id] = make(map[domain.IdentityID]bool)
	}
	return b
}

func (b *contactBook) link(from, to domain.IdentityID) *contactBook {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contacts[from][to] = true
	return b
}

func (b *contactBook) mutual(x, y domain.IdentityID) *contactBook {
	return b.link(x, y).link(y, x)
}

func (b *contactBook) IdentityExists(ctx context.Context, id domain.IdentityID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.names[id]
	return ok, nil
}

func (b *contactBook) RelationshipExists(ctx context.Context, from, to domain.IdentityID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contacts[from][to], nil
}

func (b *contactBook) DisplayName(ctx context.Context, id domain.IdentityID) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lookups++
	return b.names[id], nil
}

func (b *contactBook) nameLookups() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lookups
}

type MockContactStore struct {
	mock.Mock
}

func (m *MockContactStore) IdentityExists(ctx context.Context, id domain.IdentityID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockContactStore) RelationshipExists(ctx context.Context, from, to domain.IdentityID) (bool, error) {
	args := m.Called(ctx, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockContactStore) DisplayName(ctx context.Context, id domain.IdentityID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

// countingMetrics tallies the recorder calls the tests care about.
type countingMetrics struct {
	mu        sync.Mutex
	attached  int
	detached  int
	started   int
	connected int
	ended     map[domain.EndReason]int
	refused   map[string]int
	relayed   map[domain.SignalType]int
	dropped   map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		ended:   make(map[domain.EndReason]int),
		refused: make(map[string]int),
		relayed: make(map[domain.SignalType]int),
		dropped: make(map[string]int),
	}
}

func (m *countingMetrics) RecordAttach() { m.mu.Lock(); m.attached++; m.mu.Unlock() }
func (m *countingMetrics) RecordDetach() { m.mu.Lock(); m.detached++; m.mu.Unlock() }
func (m *countingMetrics) RecordCallStarted() {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordCallConnected(time.Duration) {
	m.mu.Lock()
	m.connected++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordCallEnded(reason domain.EndReason, _ time.Duration) {
	m.mu.Lock()
	m.ended[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordCallRefused(reason string) {
	m.mu.Lock()
	m.refused[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordRelayed(t domain.SignalType) {
	m.mu.Lock()
	m.relayed[t]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordDropped(t domain.SignalType, reason string) {
	m.mu.Lock()
	m.dropped[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) endedBy(reason domain.EndReason) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended[reason]
}

func (m *countingMetrics) refusedFor(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refused[reason]
}
