package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/kestrel-labs/swiftdrop/internal/config"
	"github.com/kestrel-labs/swiftdrop/internal/eventbus"
	"github.com/kestrel-labs/swiftdrop/internal/protocol"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// SignalSender is the seam RTCSession uses to reach the rendezvous service
// without importing the rendezvous client package (which would create an
// import cycle: rendezvous routes signals into sessions, sessions signal
// back out through rendezvous).
type SignalSender interface {
	SendSignal(ctx context.Context, signal protocol.Signal) error
}

// rtcTransport adapts a pion DataChannel to the Transport interface.
type rtcTransport struct {
	mu sync.Mutex
	dc *webrtc.DataChannel
}

func (t *rtcTransport) setChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()
}

func (t *rtcTransport) channel() *webrtc.DataChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dc
}

func (t *rtcTransport) SendText(_ context.Context, payload []byte) error {
	dc := t.channel()
	if dc == nil {
		return fmt.Errorf("data channel not open")
	}
	return dc.SendText(string(payload))
}

func (t *rtcTransport) SendBinary(_ context.Context, payload []byte) error {
	dc := t.channel()
	if dc == nil {
		return fmt.Errorf("data channel not open")
	}
	return dc.Send(payload)
}

func (t *rtcTransport) Close() error {
	dc := t.channel()
	if dc == nil {
		return nil
	}
	return dc.Close()
}

// RTCSession is the concrete Peer Session of spec.md §4.6: a direct binary
// duplex channel negotiated via ICE, with caller/callee role assignment and
// SDP/ICE handshake driven through the rendezvous service.
type RTCSession struct {
	*Session

	peerID    string
	isCaller  bool
	cfg       config.Config
	logger    *logrus.Logger
	signaler  SignalSender
	bus       *eventbus.Bus

	mu   sync.Mutex
	pc   *webrtc.PeerConnection
	tr   *rtcTransport
}

// NewRTCSessionAsCaller constructs a session for a peer discovered via the
// peer-list path (spec.md §4.6 "Role assignment"). The caller must invoke
// StartHandshake once signaler is able to reach the remote peer; the two
// are kept separate so a Peers Manager can finish wiring both sides of a
// signaling path before any SDP is sent.
func NewRTCSessionAsCaller(peerID string, cfg config.Config, bus *eventbus.Bus, logger *logrus.Logger, signaler SignalSender, handle MakeHandle) *RTCSession {
	return newRTCSession(peerID, true, cfg, bus, logger, signaler, handle)
}

// NewRTCSessionAsCallee constructs a session for a peer whose identity is
// first learned from an inbound signaling message: it waits for the
// remote-created channel to appear (spec.md §4.6 "Role assignment").
func NewRTCSessionAsCallee(peerID string, cfg config.Config, bus *eventbus.Bus, logger *logrus.Logger, signaler SignalSender, handle MakeHandle) (*RTCSession, error) {
	rs := newRTCSession(peerID, false, cfg, bus, logger, signaler, handle)
	if err := rs.newPeerConnection(); err != nil {
		return nil, err
	}
	return rs, nil
}

func newRTCSession(peerID string, isCaller bool, cfg config.Config, bus *eventbus.Bus, logger *logrus.Logger, signaler SignalSender, handle MakeHandle) *RTCSession {
	tr := &rtcTransport{}
	return &RTCSession{
		Session:  New(peerID, tr, bus, cfg, logger, handle),
		peerID:   peerID,
		isCaller: isCaller,
		cfg:      cfg,
		logger:   logger,
		signaler: signaler,
		bus:      bus,
		tr:       tr,
	}
}

func iceServersFrom(cfg config.Config) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, url := range cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	return servers
}

func (rs *RTCSession) newPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:         iceServersFrom(rs.cfg),
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	})
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}

	rs.mu.Lock()
	rs.pc = pc
	rs.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		ice := c.ToJSON()
		sdpMLineIndex := uint16(0)
		if ice.SDPMLineIndex != nil {
			sdpMLineIndex = *ice.SDPMLineIndex
		}
		sdpMid := ""
		if ice.SDPMid != nil {
			sdpMid = *ice.SDPMid
		}
		err := rs.signaler.SendSignal(context.Background(), protocol.Signal{
			To: rs.peerID,
			ICE: &protocol.ICECandidate{
				Candidate:     ice.Candidate,
				SDPMid:        sdpMid,
				SDPMLineIndex: sdpMLineIndex,
			},
		})
		if err != nil {
			rs.logger.WithField("peer", rs.peerID).Warnf("failed to send ICE candidate: %v", err)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		rs.logger.WithField("peer", rs.peerID).Debugf("connection state changed: %s", s)
		switch s {
		case webrtc.PeerConnectionStateFailed:
			// spec.md §4.6: drop the connection object entirely before
			// treating as channel-closed.
			rs.mu.Lock()
			rs.pc = nil
			rs.mu.Unlock()
			rs.onChannelClosed()
		case webrtc.PeerConnectionStateDisconnected:
			rs.onChannelClosed()
		}
	})

	if rs.isCaller {
		dc, err := pc.CreateDataChannel("data", nil)
		if err != nil {
			return fmt.Errorf("creating data channel: %w", err)
		}
		rs.setupDataChannel(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			rs.setupDataChannel(dc)
		})
	}

	return nil
}

func (rs *RTCSession) setupDataChannel(dc *webrtc.DataChannel) {
	rs.tr.setChannel(dc)

	dc.OnOpen(func() {
		rs.logger.WithField("peer", rs.peerID).Debug("data channel open")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			rs.Session.OnMessage(context.Background(), msg.Data)
		} else {
			rs.Session.OnBinary(msg.Data)
		}
	})
	dc.OnClose(func() {
		rs.onChannelClosed()
	})
}

// StartHandshake creates a local offer and signals it, per spec.md §4.6's
// caller path: "new → caller creates channel and local offer →
// have-local-offer → on local-description set, signal SDP".
func (rs *RTCSession) StartHandshake(ctx context.Context) error {
	if err := rs.newPeerConnection(); err != nil {
		return err
	}

	rs.mu.Lock()
	pc := rs.pc
	rs.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}

	return rs.signaler.SendSignal(ctx, protocol.Signal{
		To:  rs.peerID,
		SDP: &protocol.SessionDescription{Type: "offer", SDP: offer.SDP},
	})
}

// HandleSignal applies an inbound offer, answer, or ICE candidate, per
// spec.md §4.6.
func (rs *RTCSession) HandleSignal(ctx context.Context, signal protocol.Signal) error {
	rs.mu.Lock()
	pc := rs.pc
	rs.mu.Unlock()
	if pc == nil {
		if err := rs.newPeerConnection(); err != nil {
			return err
		}
		rs.mu.Lock()
		pc = rs.pc
		rs.mu.Unlock()
	}

	switch {
	case signal.SDP != nil && signal.SDP.Type == "offer":
		if err := pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  signal.SDP.SDP,
		}); err != nil {
			return fmt.Errorf("setting remote offer: %w", err)
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("creating answer: %w", err)
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("setting local answer: %w", err)
		}
		return rs.signaler.SendSignal(ctx, protocol.Signal{
			To:  rs.peerID,
			SDP: &protocol.SessionDescription{Type: "answer", SDP: answer.SDP},
		})

	case signal.SDP != nil && signal.SDP.Type == "answer":
		if err := pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  signal.SDP.SDP,
		}); err != nil {
			return fmt.Errorf("setting remote answer: %w", err)
		}
		return nil

	case signal.ICE != nil:
		mLineIndex := signal.ICE.SDPMLineIndex
		return pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     signal.ICE.Candidate,
			SDPMid:        &signal.ICE.SDPMid,
			SDPMLineIndex: &mLineIndex,
		})
	}

	return fmt.Errorf("signal carries neither sdp nor ice")
}

func (rs *RTCSession) channelOpen() bool {
	dc := rs.tr.channel()
	return dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Refresh restarts the handshake in the current role if the channel is
// absent or not open; otherwise it is a no-op (spec.md §4.6 "Refresh").
func (rs *RTCSession) Refresh(ctx context.Context) error {
	if rs.channelOpen() {
		return nil
	}
	if rs.isCaller {
		return rs.StartHandshake(ctx)
	}
	return nil
}

func (rs *RTCSession) onChannelClosed() {
	rs.logger.WithField("peer", rs.peerID).Info("data channel closed")
	rs.mu.Lock()
	rs.pc = nil
	rs.mu.Unlock()
	rs.tr.setChannel(nil)

	if rs.isCaller {
		// spec.md §4.6: "the caller re-initiates the handshake with the
		// same peer id".
		if err := rs.StartHandshake(context.Background()); err != nil {
			rs.logger.WithField("peer", rs.peerID).Warnf("failed to re-initiate handshake: %v", err)
		}
	}
	// The callee waits to be re-called; nothing to do here.
}

// Close tears down the underlying peer connection and data channel.
func (rs *RTCSession) Close() error {
	rs.mu.Lock()
	pc := rs.pc
	rs.mu.Unlock()
	if pc != nil {
		return pc.Close()
	}
	return nil
}
