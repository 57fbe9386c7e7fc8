// Package rendezvous implements the Server Connection of spec.md §4.4: the
// single shared link to the rendezvous service that carries peer presence
// and signaling frames, plus the rendezvous service itself (server.go).
package rendezvous

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kestrel-labs/swiftdrop/internal/config"
	"github.com/kestrel-labs/swiftdrop/internal/eventbus"
	"github.com/kestrel-labs/swiftdrop/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Inbound is implemented by the Peers Manager: the three control events
// and the relay fallback frames the Client dispatches inbound messages to.
type Inbound interface {
	OnPeers(ctx context.Context, peers []protocol.PeerDescriptor)
	OnPeerLeft(peerID string)
	OnSignal(ctx context.Context, signal protocol.Signal) error
	OnRelayFrame(ctx context.Context, env protocol.RelayEnvelope) error
}

// Client is the Server Connection: a single websocket to the rendezvous
// service, shared by the Manager and every session's relay fallback. Path
// selection mirrors spec.md §4.4's `/webrtc` vs `/fallback` distinction.
type Client struct {
	cfg          config.Config
	logger       *logrus.Logger
	bus          *eventbus.Bus
	rtcSupported bool
	manager      Inbound

	mu         sync.Mutex
	conn       *websocket.Conn
	peerID     string
	closed     bool
	reconnecTm *time.Timer
}

// New constructs a Client. Connect must be called to establish the
// websocket; it is not dialed as a side effect of construction so callers
// can finish wiring the Inbound (usually a *manager.Manager) first.
func New(cfg config.Config, bus *eventbus.Bus, logger *logrus.Logger, rtcSupported bool, manager Inbound) *Client {
	return &Client{
		cfg:          cfg,
		logger:       logger,
		bus:          bus,
		rtcSupported: rtcSupported,
		manager:      manager,
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.RendezvousAddr)
	if err != nil {
		return "", fmt.Errorf("parsing rendezvous address: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "ws"
	}
	// spec.md §4.4: path selection by local RTC capability.
	if c.rtcSupported {
		u.Path = "/webrtc"
	} else {
		u.Path = "/fallback"
	}
	return u.String(), nil
}

// Connect dials the rendezvous service and starts the read loop in the
// background. It blocks until the first connection attempt completes.
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dialing rendezvous service: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	c.logger.Info("connected to rendezvous service")
	go c.readLoop(ctx)
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warnf("rendezvous connection read error: %v", err)
			c.bus.Fire(eventbus.EventNotifyUser, "lost connection to rendezvous service")
			c.scheduleReconnect(ctx)
			return
		}

		var env protocol.Envelope
		if err := protocol.Unmarshal(data, &env); err == nil && env.Type != "" {
			c.dispatchEnvelope(ctx, env)
			continue
		}

		var relay protocol.RelayEnvelope
		if err := protocol.Unmarshal(data, &relay); err != nil {
			c.logger.Warnf("dropping malformed rendezvous frame: %v", err)
			continue
		}
		if err := c.manager.OnRelayFrame(ctx, relay); err != nil {
			c.logger.Warnf("relay dispatch failed: %v", err)
		}
	}
}

func (c *Client) dispatchEnvelope(ctx context.Context, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypePeers:
		c.bus.Fire(eventbus.EventPeers, env.Peers)
		c.manager.OnPeers(ctx, env.Peers)
	case protocol.TypePeerJoined:
		if env.Peer != nil {
			c.bus.Fire(eventbus.EventPeerJoined, *env.Peer)
		}
	case protocol.TypePeerLeft:
		c.bus.Fire(eventbus.EventPeerLeft, env.PeerID)
		c.manager.OnPeerLeft(env.PeerID)
	case protocol.TypeSignal:
		if env.Signal != nil {
			c.bus.Fire(eventbus.EventSignal, *env.Signal)
			if err := c.manager.OnSignal(ctx, *env.Signal); err != nil {
				c.logger.Warnf("signal dispatch failed: %v", err)
			}
		}
	case protocol.TypePing:
		// spec.md §4.4: ping is server-initiated; the client only replies.
		c.send(protocol.Envelope{Type: protocol.TypePong})
	default:
		c.logger.Warnf("dropping unknown control frame type %q", env.Type)
	}
}

func (c *Client) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.reconnecTm != nil {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.reconnecTm = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		c.reconnecTm = nil
		c.mu.Unlock()
		if err := c.Connect(ctx); err != nil {
			c.logger.Warnf("reconnect attempt failed: %v", err)
			c.scheduleReconnect(ctx)
		}
	})
	c.mu.Unlock()
}

func (c *Client) send(v any) {
	data, err := protocol.Marshal(v)
	if err != nil {
		c.logger.Warnf("marshaling outbound control frame: %v", err)
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		// spec.md §7: send on closed transport is silently dropped.
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warnf("writing to rendezvous service failed: %v", err)
	}
}

// SendSignal implements session.SignalSender: outbound SDP/ICE for a peer.
func (c *Client) SendSignal(_ context.Context, signal protocol.Signal) error {
	c.send(protocol.Envelope{Type: protocol.TypeSignal, Signal: &signal})
	return nil
}

// SendRelay implements session.RelayTo: outbound relay-path frames for a
// peer that lacks (or whose partner lacks) RTC support.
func (c *Client) SendRelay(_ context.Context, env protocol.RelayEnvelope) error {
	c.send(env)
	return nil
}

// Close tears down the websocket and cancels any pending reconnect timer.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	if c.reconnecTm != nil {
		c.reconnecTm.Stop()
		c.reconnecTm = nil
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}
