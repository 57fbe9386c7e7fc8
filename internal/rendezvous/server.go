package rendezvous

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kestrel-labs/swiftdrop/internal/protocol"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServerConfig configures the rendezvous service.
type ServerConfig struct {
	Addr         string
	PingInterval time.Duration
	Logger       *logrus.Logger
}

const defaultPingInterval = 30 * time.Second

// peerConn is one connected client of the rendezvous service: its id,
// capability flag, and underlying websocket.
type peerConn struct {
	mu           sync.Mutex
	id           string
	rtcSupported bool
	conn         *websocket.Conn
}

func (p *peerConn) send(v any) error {
	data, err := protocol.Marshal(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Server is the rendezvous service of spec.md §1-§4.4: it announces
// presence of co-located peers and relays signaling (and, in fallback
// mode, session frames) between them. All connected peers share one room.
type Server struct {
	cfg    ServerConfig
	logger *logrus.Logger

	mu    sync.Mutex
	peers map[string]*peerConn
}

// NewServer constructs a Server. cfg.Logger defaults to logrus.New().
func NewServer(cfg ServerConfig) *Server {
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaultPingInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		peers:  make(map[string]*peerConn),
	}
}

// Handler returns the http.Handler to mount at /webrtc and /fallback; the
// path a peer dials tells the server its local RTC capability (spec.md
// §4.4).
func (s *Server) Handler(rtcSupported bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warnf("upgrade failed: %v", err)
			return
		}
		s.handlePeer(conn, rtcSupported)
	}
}

func (s *Server) handlePeer(conn *websocket.Conn, rtcSupported bool) {
	peer := &peerConn{id: uuid.NewString(), rtcSupported: rtcSupported, conn: conn}

	s.mu.Lock()
	s.peers[peer.id] = peer
	s.mu.Unlock()

	s.logger.WithField("peer", peer.id).Info("peer connected")

	defer func() {
		s.mu.Lock()
		delete(s.peers, peer.id)
		s.mu.Unlock()
		_ = conn.Close()
		s.broadcastExcept(peer.id, protocol.Envelope{Type: protocol.TypePeerLeft, PeerID: peer.id})
		s.logger.WithField("peer", peer.id).Info("peer disconnected")
	}()

	if err := peer.send(protocol.Envelope{Type: protocol.TypePeers, Peers: s.peerDescriptorsExcept(peer.id)}); err != nil {
		s.logger.WithField("peer", peer.id).Warnf("failed to send initial peer list: %v", err)
		return
	}
	s.broadcastExcept(peer.id, protocol.Envelope{
		Type: protocol.TypePeerJoined,
		Peer: &protocol.PeerDescriptor{ID: peer.id, RTCSupported: rtcSupported},
	})

	go s.pingLoop(peer)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(peer, data)
	}
}

func (s *Server) handleFrame(peer *peerConn, data []byte) {
	var env protocol.Envelope
	if err := protocol.Unmarshal(data, &env); err == nil && env.Type != "" {
		switch env.Type {
		case protocol.TypePong:
			// Liveness only; nothing to do.
		case protocol.TypeSignal:
			if env.Signal != nil {
				s.routeSignal(peer.id, *env.Signal)
			}
		default:
			s.logger.WithField("peer", peer.id).Warnf("dropping unexpected control frame type %q", env.Type)
		}
		return
	}

	var relay protocol.RelayEnvelope
	if err := protocol.Unmarshal(data, &relay); err != nil {
		s.logger.WithField("peer", peer.id).Warnf("dropping malformed frame: %v", err)
		return
	}
	relay.Sender = peer.id
	s.forward(relay.To, relay)
}

func (s *Server) routeSignal(senderID string, signal protocol.Signal) {
	signal.Sender = senderID
	to := signal.To
	signal.To = ""
	s.forward(to, protocol.Envelope{Type: protocol.TypeSignal, Signal: &signal})
}

func (s *Server) forward(to string, v any) {
	s.mu.Lock()
	target, ok := s.peers[to]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := target.send(v); err != nil {
		s.logger.WithField("peer", to).Warnf("forwarding frame failed: %v", err)
	}
}

func (s *Server) broadcastExcept(exceptID string, v any) {
	s.mu.Lock()
	targets := make([]*peerConn, 0, len(s.peers))
	for id, p := range s.peers {
		if id != exceptID {
			targets = append(targets, p)
		}
	}
	s.mu.Unlock()

	for _, p := range targets {
		if err := p.send(v); err != nil {
			s.logger.WithField("peer", p.id).Warnf("broadcast failed: %v", err)
		}
	}
}

func (s *Server) peerDescriptorsExcept(exceptID string) []protocol.PeerDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.PeerDescriptor, 0, len(s.peers))
	for id, p := range s.peers {
		if id == exceptID {
			continue
		}
		out = append(out, protocol.PeerDescriptor{ID: id, RTCSupported: p.rtcSupported})
	}
	return out
}

// pingLoop sends a server-initiated ping on a fixed interval, per spec.md
// §4.4's "ping is server-initiated, the client only replies".
func (s *Server) pingLoop(peer *peerConn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		_, alive := s.peers[peer.id]
		s.mu.Unlock()
		if !alive {
			return
		}
		if err := peer.send(protocol.Envelope{Type: protocol.TypePing}); err != nil {
			return
		}
	}
}
