// Package session implements the per-peer Session state machine of
// spec.md §4.5, specialized over a minimal Transport by RTCSession
// (spec.md §4.6) and RelaySession (spec.md §4.7).
package session

import "context"

// Transport is the minimal capability a Session needs from whatever carries
// its bytes: send text (a JSON session frame) or send binary (a file
// chunk). spec.md §9 calls this out explicitly as the seam to abstract
// over — a direct data channel on one side, the rendezvous service on the
// other.
type Transport interface {
	SendText(ctx context.Context, payload []byte) error
	SendBinary(ctx context.Context, payload []byte) error
	// Close tears down the transport. Idempotent.
	Close() error
}

// Inbound is implemented by anything that wants to be the sink for frames
// arriving on a Transport: Session.OnMessage and Session.OnBinary.
type Inbound interface {
	OnMessage(ctx context.Context, payload []byte)
	OnBinary(payload []byte)
}
