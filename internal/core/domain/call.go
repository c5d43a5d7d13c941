package domain

import "time"

type SessionID string

type CallState string

const (
	CallRinging   CallState = "RINGING"
	CallConnected CallState = "CONNECTED"
	CallEnded     CallState = "ENDED"
)

// Active reports whether the state still admits transitions.
func (s CallState) Active() bool {
	return s == CallRinging || s == CallConnected
}

type CallSession struct {
	ID          SessionID
	Caller      IdentityID
	Callee      IdentityID
	State       CallState
	CreatedAt   time.Time
	ConnectedAt time.Time
}

// Involves reports whether id is one of the two participants.
func (s *CallSession) Involves(id IdentityID) bool {
	return s.Caller == id || s.Callee == id
}

// Peer returns the participant that is not id.
func (s *CallSession) Peer(id IdentityID) IdentityID {
	if s.Caller == id {
		return s.Callee
	}
	return s.Caller
}

type EndReason string

const (
	EndByParty      EndReason = "hangup"
	EndByReject     EndReason = "rejected"
	EndByDisconnect EndReason = "disconnect"
	EndByTimeout    EndReason = "timeout"
	EndByAbort      EndReason = "aborted"
)
