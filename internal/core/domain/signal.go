package domain

import "encoding/json"

type SignalType string

// Inbound events.
const (
	SignalInitiateCall SignalType = "initiate-call"
	SignalAcceptCall   SignalType = "accept-call"
	SignalRejectCall   SignalType = "reject-call"
	SignalEndCall      SignalType = "end-call"
)

// Negotiation events travel in both directions under the same name.
const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
)

// Outbound events.
const (
	SignalUserOnline   SignalType = "user-online"
	SignalUserOffline  SignalType = "user-offline"
	SignalIncomingCall SignalType = "incoming-call"
	SignalCallAccepted SignalType = "call-accepted"
	SignalCallRejected SignalType = "call-rejected"
	SignalCallError    SignalType = "call-error"
	SignalCallEnded    SignalType = "call-ended"
)

func (t SignalType) IsNegotiation() bool {
	return t == SignalOffer || t == SignalAnswer || t == SignalCandidate
}

// Message is a single JSON frame on the signaling socket. Only the fields
// belonging to Type are populated.
type Message struct {
	Type        SignalType      `json:"type"`
	TargetID    IdentityID      `json:"targetId,omitempty"`
	CallerID    IdentityID      `json:"callerId,omitempty"`
	CallerName  string          `json:"callerName,omitempty"`
	RecipientID IdentityID      `json:"recipientId,omitempty"`
	Identity    IdentityID      `json:"identity,omitempty"`
	Message     string          `json:"message,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Envelope is a routed signal between exactly two identities. Payload is
// carried as-is and never decoded here.
type Envelope struct {
	Type    SignalType
	From    IdentityID
	To      IdentityID
	Payload json.RawMessage
	// FromName is only used for incoming-call.
	FromName string
}
