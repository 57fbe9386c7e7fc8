// Package protocol defines the two JSON wire formats in this engine: the
// rendezvous control protocol between a peer and the rendezvous service
// (spec.md §4.4, §6), and the per-session data-channel protocol between two
// peers (spec.md §4.5, §4.6).
package protocol

import "encoding/json"

// Control message type discriminators, server<->client (spec.md §4.4, §4.6).
const (
	TypePeers      = "peers"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
	TypeSignal     = "signal"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeDisconnect = "disconnect"
)

// Envelope is the JSON object every control frame is wrapped in: a type
// discriminator plus whatever payload that type carries.
type Envelope struct {
	Type string `json:"type"`

	Peers  []PeerDescriptor `json:"peers,omitempty"`
	Peer   *PeerDescriptor  `json:"peer,omitempty"`
	PeerID string           `json:"peerId,omitempty"`
	Signal *Signal          `json:"signal,omitempty"`
}

// PeerDescriptor is a peer as observed from the rendezvous service:
// attributes observed are id and RTC capability (spec.md §3).
type PeerDescriptor struct {
	ID           string `json:"id"`
	RTCSupported bool   `json:"rtcSupported"`
}

// Signal carries exactly one of SDP or ICE, plus the routing field (to
// outbound, sender inbound), per spec.md §6.
type Signal struct {
	To     string              `json:"to,omitempty"`
	Sender string              `json:"sender,omitempty"`
	SDP    *SessionDescription `json:"sdp,omitempty"`
	ICE    *ICECandidate       `json:"ice,omitempty"`
}

// SessionDescription is an opaque SDP blob with its type (offer/answer).
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is an opaque ICE candidate, carrying just enough structure
// for pion/webrtc's AddICECandidate.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// Marshal and Unmarshal are thin wrappers kept so call sites read like the
// session-frame protocol's codec below, rather than sprinkling encoding/json
// calls through rendezvous.Client.
func Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
