// Package manager implements the Peers Manager of spec.md §4.8: the
// registry that correlates server-visible peer identities with live
// sessions, wires up caller/callee role assignment, and routes
// user-initiated files-selected/send-text actions to the right session.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/kestrel-labs/swiftdrop/internal/config"
	"github.com/kestrel-labs/swiftdrop/internal/eventbus"
	"github.com/kestrel-labs/swiftdrop/internal/protocol"
	"github.com/kestrel-labs/swiftdrop/internal/session"
	"github.com/sirupsen/logrus"
)

// peerSession is the minimal surface the Manager needs out of whichever
// concrete session type (RTCSession or RelaySession) backs a peer id.
type peerSession interface {
	SendFiles(ctx context.Context, files []session.OutboundFile)
	SendText(ctx context.Context, text string) error
	Close() error
}

// signalable is additionally implemented by RTCSession: sessions that did
// not negotiate RTC at all (pure Relay) never receive signaling frames.
type signalable interface {
	HandleSignal(ctx context.Context, signal protocol.Signal) error
}

// refreshable is implemented by RTCSession; Relay sessions have no
// handshake to refresh (spec.md §4.7).
type refreshable interface {
	Refresh(ctx context.Context) error
}

// Relay is the capability the Manager needs to hand a freshly constructed
// RelaySession its transport, and to reach the Server Connection for
// signaling on behalf of a freshly constructed RTCSession.
type Relay interface {
	session.SignalSender
	session.RelayTo
}

// Manager is the registry `peer id -> session` of spec.md §4.8.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]peerSession

	localRTCSupported bool
	cfg               config.Config
	bus               *eventbus.Bus
	logger            *logrus.Logger
	handle            session.MakeHandle
	relay             Relay
}

// New constructs an empty Manager. localRTCSupported mirrors the browser
// runtime's capability flag from spec.md §3; swiftdrop's CLI daemon sets it
// true unless run with `--no-rtc`, and tests also exercise the relay-only
// mode through it.
func New(localRTCSupported bool, cfg config.Config, bus *eventbus.Bus, logger *logrus.Logger, handle session.MakeHandle, relay Relay) *Manager {
	return &Manager{
		sessions:          make(map[string]peerSession),
		localRTCSupported: localRTCSupported,
		cfg:               cfg,
		bus:               bus,
		logger:            logger,
		handle:            handle,
		relay:             relay,
	}
}

func (m *Manager) get(peerID string) (peerSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[peerID]
	return s, ok
}

func (m *Manager) set(peerID string, s peerSession) {
	m.mu.Lock()
	m.sessions[peerID] = s
	m.mu.Unlock()
}

// OnSignal handles an inbound `signal` control frame: ensure a session
// exists for sender (creating an RTC session in callee role if not), then
// forward the frame to it (spec.md §4.8).
func (m *Manager) OnSignal(ctx context.Context, signal protocol.Signal) error {
	peerID := signal.Sender
	s, ok := m.get(peerID)
	if !ok {
		rtc, err := session.NewRTCSessionAsCallee(peerID, m.cfg, m.bus, m.logger, m.relay, m.handle)
		if err != nil {
			return fmt.Errorf("creating callee session for %s: %w", peerID, err)
		}
		m.set(peerID, rtc)
		s = rtc
	}

	sig, ok := s.(signalable)
	if !ok {
		return fmt.Errorf("session for %s does not accept signaling frames", peerID)
	}
	return sig.HandleSignal(ctx, signal)
}

// OnPeers handles the `peers` control frame: for each listed peer, refresh
// an existing session or create one in the role spec.md §4.8 calls for.
func (m *Manager) OnPeers(ctx context.Context, peers []protocol.PeerDescriptor) {
	for _, p := range peers {
		if s, ok := m.get(p.ID); ok {
			if r, ok := s.(refreshable); ok {
				if err := r.Refresh(ctx); err != nil {
					m.logger.WithField("peer", p.ID).Warnf("refresh failed: %v", err)
				}
			}
			continue
		}

		if m.localRTCSupported && p.RTCSupported {
			rtc := session.NewRTCSessionAsCaller(p.ID, m.cfg, m.bus, m.logger, m.relay, m.handle)
			m.set(p.ID, rtc)
			if err := rtc.StartHandshake(ctx); err != nil {
				m.logger.WithField("peer", p.ID).Warnf("failed to start handshake: %v", err)
			}
			continue
		}

		rs := session.NewRelaySession(p.ID, m.relay, session.Deps{
			Bus: m.bus, Config: m.cfg, Logger: m.logger, Handle: m.handle,
		})
		m.set(p.ID, rs)
	}
}

// OnPeerLeft removes the entry for peerID and closes its session.
func (m *Manager) OnPeerLeft(peerID string) {
	m.mu.Lock()
	s, ok := m.sessions[peerID]
	delete(m.sessions, peerID)
	m.mu.Unlock()

	if ok {
		if err := s.Close(); err != nil {
			m.logger.WithField("peer", peerID).Warnf("error closing session: %v", err)
		}
	}
}

// OnRelayFrame delivers an inbound RelayEnvelope, arriving from the Server
// Connection's fallback path, to the matching RelaySession.
func (m *Manager) OnRelayFrame(ctx context.Context, env protocol.RelayEnvelope) error {
	s, ok := m.get(env.Sender)
	if !ok {
		return fmt.Errorf("no session for relay sender %s", env.Sender)
	}
	rs, ok := s.(*session.RelaySession)
	if !ok {
		return fmt.Errorf("session for %s is not a relay session", env.Sender)
	}
	return rs.DeliverFrame(ctx, env)
}

// SendFiles routes a `files-selected {to, files}` user action to the named
// session's send_files.
func (m *Manager) SendFiles(ctx context.Context, to string, files []session.OutboundFile) error {
	s, ok := m.get(to)
	if !ok {
		return fmt.Errorf("no session for peer %s", to)
	}
	s.SendFiles(ctx, files)
	return nil
}

// SendText routes a `send-text {to, text}` user action to the named
// session's send_text.
func (m *Manager) SendText(ctx context.Context, to string, text string) error {
	s, ok := m.get(to)
	if !ok {
		return fmt.Errorf("no session for peer %s", to)
	}
	return s.SendText(ctx, text)
}

// Count reports the number of live sessions, for diagnostics and tests.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
