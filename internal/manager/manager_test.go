package manager

import (
	"context"
	"testing"

	"github.com/kestrel-labs/swiftdrop/internal/config"
	"github.com/kestrel-labs/swiftdrop/internal/eventbus"
	"github.com/kestrel-labs/swiftdrop/internal/protocol"
	"github.com/kestrel-labs/swiftdrop/internal/session"
	"github.com/sirupsen/logrus"
)

// fakeRelay records outbound signal/relay traffic without touching a real
// websocket, so the Manager's role-assignment and routing logic can be
// exercised in isolation from internal/rendezvous.
type fakeRelay struct {
	signals []protocol.Signal
	relayed []protocol.RelayEnvelope
}

func (f *fakeRelay) SendSignal(_ context.Context, signal protocol.Signal) error {
	f.signals = append(f.signals, signal)
	return nil
}

func (f *fakeRelay) SendRelay(_ context.Context, env protocol.RelayEnvelope) error {
	f.relayed = append(f.relayed, env)
	return nil
}

func newTestManager(rtcSupported bool) (*Manager, *fakeRelay) {
	relay := &fakeRelay{}
	m := New(rtcSupported, config.Default(), eventbus.New(), logrus.New(), nil, relay)
	return m, relay
}

func TestOnPeersCreatesRelaySessionWhenRemoteLacksRTC(t *testing.T) {
	m, _ := newTestManager(true)
	m.OnPeers(context.Background(), []protocol.PeerDescriptor{{ID: "peer-a", RTCSupported: false}})

	if m.Count() != 1 {
		t.Fatalf("expected one session, got %d", m.Count())
	}
	s, ok := m.get("peer-a")
	if !ok {
		t.Fatal("expected session for peer-a")
	}
	if _, ok := s.(*session.RelaySession); !ok {
		t.Errorf("expected RelaySession, got %T", s)
	}
}

func TestOnPeersCreatesRelaySessionWhenLocalLacksRTC(t *testing.T) {
	m, _ := newTestManager(false)
	m.OnPeers(context.Background(), []protocol.PeerDescriptor{{ID: "peer-a", RTCSupported: true}})

	s, ok := m.get("peer-a")
	if !ok {
		t.Fatal("expected session for peer-a")
	}
	if _, ok := s.(*session.RelaySession); !ok {
		t.Errorf("expected RelaySession, got %T", s)
	}
}

func TestOnPeersIsIdempotentForKnownPeer(t *testing.T) {
	m, _ := newTestManager(true)
	m.OnPeers(context.Background(), []protocol.PeerDescriptor{{ID: "peer-a", RTCSupported: false}})
	first, _ := m.get("peer-a")

	m.OnPeers(context.Background(), []protocol.PeerDescriptor{{ID: "peer-a", RTCSupported: false}})
	second, _ := m.get("peer-a")

	if first != second {
		t.Error("expected the same session instance to be reused across peers events")
	}
	if m.Count() != 1 {
		t.Errorf("expected exactly one session to be tracked, got %d", m.Count())
	}
}

func TestOnPeerLeftRemovesSession(t *testing.T) {
	m, _ := newTestManager(true)
	m.OnPeers(context.Background(), []protocol.PeerDescriptor{{ID: "peer-a", RTCSupported: false}})
	if m.Count() != 1 {
		t.Fatalf("expected one session, got %d", m.Count())
	}

	m.OnPeerLeft("peer-a")
	if m.Count() != 0 {
		t.Errorf("expected session to be removed, got %d remaining", m.Count())
	}
}

func TestSendTextRoutesToNamedSession(t *testing.T) {
	m, relay := newTestManager(true)
	m.OnPeers(context.Background(), []protocol.PeerDescriptor{{ID: "peer-a", RTCSupported: false}})

	if err := m.SendText(context.Background(), "peer-a", "hi"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(relay.relayed) != 1 {
		t.Fatalf("expected one relayed frame, got %d", len(relay.relayed))
	}
	if relay.relayed[0].To != "peer-a" || relay.relayed[0].Frame == nil {
		t.Errorf("unexpected relay envelope: %+v", relay.relayed[0])
	}
}

func TestSendTextToUnknownPeerErrors(t *testing.T) {
	m, _ := newTestManager(true)
	if err := m.SendText(context.Background(), "ghost", "hi"); err == nil {
		t.Error("expected an error for an unknown peer")
	}
}

// capturingSignaler stands in for the Server Connection just long enough to
// capture the offer a throwaway caller session produces, so OnSignal below
// can be exercised with a real, parseable SDP offer rather than a fixture
// string pion's SDP parser would reject.
type capturingSignaler struct {
	last protocol.Signal
}

func (c *capturingSignaler) SendSignal(_ context.Context, signal protocol.Signal) error {
	c.last = signal
	return nil
}

func TestOnSignalCreatesCalleeSessionForUnknownSender(t *testing.T) {
	m, relay := newTestManager(true)

	capture := &capturingSignaler{}
	cfg := config.Default()
	cfg.ICEServers = nil
	throwaway := session.NewRTCSessionAsCaller("peer-a", cfg, eventbus.New(), logrus.New(), capture, nil)
	if err := throwaway.StartHandshake(context.Background()); err != nil {
		t.Fatalf("generating a real offer: %v", err)
	}
	offer := capture.last

	err := m.OnSignal(context.Background(), protocol.Signal{Sender: "peer-a", SDP: offer.SDP})
	if err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	if m.Count() != 1 {
		t.Fatalf("expected one session, got %d", m.Count())
	}
	// Setting the remote offer and creating an answer triggers an outbound
	// signal back through the relay.
	if len(relay.signals) == 0 {
		t.Error("expected an answer to be signaled back")
	}

	_ = throwaway.Close()
}
