package ports

import "ringline/internal/core/domain"

// Connection is a live signaling endpoint owned by the transport.
// Send must not block: it either queues the frame or returns an error.
type Connection interface {
	ID() domain.ConnectionID
	Send(msg domain.Message) error
	Close()
}
