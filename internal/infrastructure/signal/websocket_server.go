package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"
	"ringline/internal/core/services"
	"ringline/internal/infrastructure/middleware"
	"ringline/pkg/config"
	"ringline/pkg/tracing"
	"ringline/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	msgInvalidMessage  = "Invalid message"
	msgTooManyMessages = "Too many messages"
)

type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	MaxMessageSize int64

	// MessagesPerSecond limits inbound frames per connection; 0 disables.
	MessagesPerSecond float64
	Burst             int

	AllowedOrigins []string
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendBuffer:     cfg.Signal.SendBuffer,
		MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		AllowedOrigins: cfg.Auth.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		opts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		opts.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	return opts
}

// WebSocketServer authenticates signaling sockets and feeds their frames to
// the signaling service.
type WebSocketServer struct {
	signaling ports.SignalingService
	auth      services.AuthService
	opts      Options
	upgrader  websocket.Upgrader

	mu          sync.Mutex
	connections map[domain.ConnectionID]*wsConnection
	shutdown    bool
	wg          sync.WaitGroup

	logger *zap.SugaredLogger
}

func NewWebSocketServer(signaling ports.SignalingService, auth services.AuthService, opts Options, logger *zap.SugaredLogger) *WebSocketServer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	s := &WebSocketServer{
		signaling:   signaling,
		auth:        auth,
		opts:        opts,
		connections: make(map[domain.ConnectionID]*wsConnection),
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return validation.ValidateOrigin(r.Header.Get("Origin"), opts.AllowedOrigins) == nil
		},
	}
	return s
}

// ActiveConnections reports sockets currently open, attached or not.
func (s *WebSocketServer) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.ExtractToken(r)
	if !ok {
		http.Error(w, "authorization token required", http.StatusUnauthorized)
		return
	}
	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	identity := claims.Identity
	if err := validation.ValidateIdentityID(string(identity)); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "identity", identity, "error", err)
		return
	}

	conn := newWSConnection(ws, s.opts, s.logger)
	if !s.track(conn) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(s.opts.WriteTimeout))
		_ = ws.Close()
		return
	}
	defer s.untrack(conn)

	go conn.writePump()

	ctx, span := tracing.TraceConnection(context.Background(), "attach", string(identity), string(conn.ID()))
	err = s.signaling.Connect(ctx, identity, conn)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	span.End()
	if err != nil {
		s.logger.Infow("attach refused", "identity", identity, "conn", conn.ID(), "error", err)
		conn.CloseWithReason(closeCodeFor(err), attachRefusal(err))
		s.drain(ws)
		return
	}

	s.logger.Infow("connection attached", "identity", identity, "conn", conn.ID(), "remote", r.RemoteAddr)
	s.readLoop(identity, conn)

	s.signaling.Disconnect(context.Background(), conn)
	conn.Close()
	s.logger.Infow("connection closed", "identity", identity, "conn", conn.ID())
}

func (s *WebSocketServer) readLoop(identity domain.IdentityID, conn *wsConnection) {
	ws := conn.ws
	if s.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(s.opts.MaxMessageSize)
	}
	s.extendReadDeadline(ws)
	ws.SetPongHandler(func(string) error {
		s.extendReadDeadline(ws)
		return nil
	})

	var limiter *rate.Limiter
	if s.opts.MessagesPerSecond > 0 {
		burst := s.opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), burst)
	}

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !conn.isClosed() {
				s.logger.Debugw("read failed", "identity", identity, "conn", conn.ID(), "error", err)
			}
			return
		}
		s.extendReadDeadline(ws)

		if limiter != nil && !limiter.Allow() {
			s.replyError(conn, msgTooManyMessages)
			continue
		}
		if mt != websocket.TextMessage {
			s.replyError(conn, msgInvalidMessage)
			continue
		}

		msg, err := decodeMessage(data)
		if err != nil {
			s.logger.Debugw("invalid frame", "identity", identity, "error", err)
			s.replyError(conn, msgInvalidMessage)
			continue
		}
		s.dispatch(identity, conn, msg)
	}
}

func (s *WebSocketServer) dispatch(identity domain.IdentityID, conn *wsConnection, msg domain.Message) {
	target := msg.TargetID
	if target == "" {
		target = msg.CallerID
	}
	ctx, span := tracing.TraceSignal(context.Background(), string(msg.Type), string(identity), string(target), len(msg.Payload))
	defer span.End()

	if err := s.signaling.Handle(ctx, identity, msg); err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Debugw("signal not handled",
			"identity", identity,
			"type", msg.Type,
			"target", target,
			"error", err,
		)
		if errors.Is(err, domain.ErrInvalidMessage) {
			s.replyError(conn, msgInvalidMessage)
		}
	}
}

// decodeMessage parses one inbound frame and rejects malformed identity
// fields before they reach the core.
func decodeMessage(data []byte) (domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	if msg.Type == "" {
		return msg, errors.New("missing type")
	}
	for _, id := range []domain.IdentityID{msg.TargetID, msg.CallerID} {
		if id == "" {
			continue
		}
		if err := validation.ValidateIdentityID(string(id)); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

func (s *WebSocketServer) replyError(conn *wsConnection, text string) {
	_ = conn.Send(domain.Message{Type: domain.SignalCallError, Message: text})
}

func (s *WebSocketServer) extendReadDeadline(ws *websocket.Conn) {
	if s.opts.PongTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	}
}

// drain reads until the peer acknowledges the close frame or the write pump
// drops the socket.
func (s *WebSocketServer) drain(ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.WriteTimeout))
	for {
		if _, _, err := ws.NextReader(); err != nil {
			return
		}
	}
}

func (s *WebSocketServer) track(conn *wsConnection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.connections[conn.ID()] = conn
	s.wg.Add(1)
	return true
}

func (s *WebSocketServer) untrack(conn *wsConnection) {
	s.mu.Lock()
	delete(s.connections, conn.ID())
	s.mu.Unlock()
	s.wg.Done()
}

// Shutdown closes every socket with "going away" and waits for their
// disconnect handling to finish or ctx to expire.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	open := make([]*wsConnection, 0, len(s.connections))
	for _, c := range s.connections {
		open = append(open, c)
	}
	s.mu.Unlock()

	for _, c := range open {
		c.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("signaling connections drained", "count", len(open))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func closeCodeFor(err error) int {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return websocket.CloseTryAgainLater
	}
	return websocket.ClosePolicyViolation
}

func attachRefusal(err error) string {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "contact store unavailable"
	case errors.Is(err, domain.ErrUnknownIdentity):
		return "unknown identity"
	case errors.Is(err, domain.ErrAlreadyAttached):
		return "already connected elsewhere"
	default:
		return "attach refused"
	}
}
