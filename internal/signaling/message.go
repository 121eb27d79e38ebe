package signaling

import "encoding/json"

// Role identifies a room participant on the wire.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Valid reports whether r is one of the two room roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleClient
}

// Other returns the opposite room role.
func (r Role) Other() Role {
	if r == RoleAdmin {
		return RoleClient
	}
	return RoleAdmin
}

// Kind is the type of a call signal.
type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
	KindCallEnd      Kind = "call-end"
	KindCallReject   Kind = "call-reject"
)

// Signal is one call-signaling message relayed within a room.
type Signal struct {
	RoomID     string  `json:"room_id" msgpack:"room_id"`
	SenderRole Role    `json:"sender_role" msgpack:"sender_role"`
	Kind       Kind    `json:"kind" msgpack:"kind"`
	Payload    Payload `json:"payload" msgpack:"payload"`
}

// Payload carries a session description with its video intent, or one ICE
// candidate, or nothing.
type Payload struct {
	SDP       string     `json:"sdp,omitempty" msgpack:"sdp,omitempty"`
	Video     bool       `json:"video,omitempty" msgpack:"video,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
}

// Candidate mirrors the ICE candidate init dictionary.
type Candidate struct {
	Candidate        string  `json:"candidate" msgpack:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty" msgpack:"usernameFragment,omitempty"`
}

// Message represents all WebSocket messages between a participant and the relay.
type Message struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	Role      Role            `json:"role,omitempty"`
	Token     string          `json:"token,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Message type constants.
const (
	MessageTypeJoinRoom   = "join_room"
	MessageTypeSignal     = "signal"
	MessageTypeFetchOffer = "fetch_offer"

	MessageTypeJoinSuccess = "join_success"
	MessageTypePeerJoined  = "peer_joined"
	MessageTypePeerLeft    = "peer_left"
	MessageTypeLatestOffer = "latest_offer"
	MessageTypeError       = "error"
)

// ErrorPayload represents error messages from the relay.
type ErrorPayload struct {
	Error string `json:"error"`
}

// JoinPayload describes the room state returned by join_success. RoomID is
// set by the relay, which picks one when an admin joins without a room.
type JoinPayload struct {
	RoomID      string `json:"room_id"`
	PeerPresent bool   `json:"peer_present"`
}

// NewMessage builds an envelope with payload marshalled as JSON.
func NewMessage(msgType string, payload any) (*Message, error) {
	msg := &Message{Type: msgType}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = b
	}
	return msg, nil
}

// DecodePayload decodes the message payload into v.
func (m *Message) DecodePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}
