package session

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/kestrel-labs/swiftdrop/internal/protocol"
)

// RelayTo is the seam RelaySession uses to hand an envelope to the
// rendezvous service for forwarding, without importing rendezvous (same
// cycle concern as session.SignalSender).
type RelayTo interface {
	SendRelay(ctx context.Context, env protocol.RelayEnvelope) error
}

// relayTransport adapts the rendezvous relay path to the Transport
// interface: text frames go out wrapped in RelayEnvelope.Frame, binary
// chunks go out base64-encoded in RelayEnvelope.Chunk (spec.md §4.7, §9).
type relayTransport struct {
	peerID string
	relay  RelayTo
}

func (t *relayTransport) SendText(ctx context.Context, payload []byte) error {
	var frame protocol.SessionFrame
	if err := protocol.Unmarshal(payload, &frame); err != nil {
		return fmt.Errorf("relay transport: re-decoding outbound frame: %w", err)
	}
	return t.relay.SendRelay(ctx, protocol.RelayEnvelope{To: t.peerID, Frame: &frame})
}

func (t *relayTransport) SendBinary(ctx context.Context, payload []byte) error {
	return t.relay.SendRelay(ctx, protocol.RelayEnvelope{
		To:    t.peerID,
		Chunk: base64.StdEncoding.EncodeToString(payload),
	})
}

func (t *relayTransport) Close() error { return nil }

// RelaySession is the fallback Peer Session of spec.md §4.7: the same
// Session state machine, carried over the rendezvous service's control
// link instead of a direct data channel. Used when the local or the remote
// peer does not support RTC (spec.md §4.8 fallback selection); a failed ICE
// negotiation does not move a peer onto the relay path.
type RelaySession struct {
	*Session
}

// NewRelaySession constructs a Session whose Transport tunnels through the
// rendezvous relay path.
func NewRelaySession(peerID string, relay RelayTo, deps Deps) *RelaySession {
	tr := &relayTransport{peerID: peerID, relay: relay}
	return &RelaySession{Session: New(peerID, tr, deps.Bus, deps.Config, deps.Logger, deps.Handle)}
}

// DeliverFrame hands an inbound RelayEnvelope to the underlying Session,
// dispatching to OnMessage or OnBinary depending on whether it carries a
// JSON frame or a base64 chunk.
func (rs *RelaySession) DeliverFrame(ctx context.Context, env protocol.RelayEnvelope) error {
	switch {
	case env.Frame != nil:
		data, err := protocol.Marshal(*env.Frame)
		if err != nil {
			return fmt.Errorf("relay session: re-encoding inbound frame: %w", err)
		}
		rs.Session.OnMessage(ctx, data)
		return nil
	case env.Chunk != "":
		chunk, err := base64.StdEncoding.DecodeString(env.Chunk)
		if err != nil {
			return fmt.Errorf("relay session: decoding inbound chunk: %w", err)
		}
		rs.Session.OnBinary(chunk)
		return nil
	}
	return fmt.Errorf("relay envelope carries neither frame nor chunk")
}
