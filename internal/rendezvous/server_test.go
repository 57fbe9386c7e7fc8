package rendezvous

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kestrel-labs/swiftdrop/internal/protocol"
	"github.com/sirupsen/logrus"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	srv := NewServer(ServerConfig{PingInterval: time.Hour, Logger: logger})

	mux := http.NewServeMux()
	mux.HandleFunc("/webrtc", srv.Handler(true))
	mux.HandleFunc("/fallback", srv.Handler(false))
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading message: %v", err)
	}
	var env protocol.Envelope
	if err := protocol.Unmarshal(data, &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return env
}

func TestServerSendsInitialPeerList(t *testing.T) {
	_, ts := newTestServer(t)

	connA := dial(t, ts, "/webrtc")
	env := readEnvelope(t, connA)
	if env.Type != protocol.TypePeers || len(env.Peers) != 0 {
		t.Fatalf("expected an empty initial peers list, got %+v", env)
	}
}

func TestServerBroadcastsPeerJoined(t *testing.T) {
	_, ts := newTestServer(t)

	connA := dial(t, ts, "/webrtc")
	_ = readEnvelope(t, connA) // initial peers list

	connB := dial(t, ts, "/fallback")
	_ = readEnvelope(t, connB) // connB's own initial peers list (sees connA)

	env := readEnvelope(t, connA)
	if env.Type != protocol.TypePeerJoined || env.Peer == nil || env.Peer.RTCSupported {
		t.Fatalf("expected peer-joined for a fallback-only peer, got %+v", env)
	}
}

func TestServerRoutesSignalBetweenPeers(t *testing.T) {
	_, ts := newTestServer(t)

	connA := dial(t, ts, "/webrtc")
	_ = readEnvelope(t, connA)

	connB := dial(t, ts, "/webrtc")
	_ = readEnvelope(t, connB)
	joined := readEnvelope(t, connA)
	peerBID := joined.Peer.ID

	offer := protocol.Envelope{Type: protocol.TypeSignal, Signal: &protocol.Signal{
		To:  peerBID,
		SDP: &protocol.SessionDescription{Type: "offer", SDP: "v=0..."},
	}}
	data, err := protocol.Marshal(offer)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := connA.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readEnvelope(t, connB)
	if got.Type != protocol.TypeSignal || got.Signal == nil {
		t.Fatalf("expected a signal frame, got %+v", got)
	}
	if got.Signal.SDP == nil || got.Signal.SDP.SDP != "v=0..." {
		t.Fatalf("unexpected signal payload: %+v", got.Signal)
	}
	if got.Signal.To != "" {
		t.Errorf("expected the forwarded signal to carry no `to`, got %q", got.Signal.To)
	}
}

func TestServerBroadcastsPeerLeft(t *testing.T) {
	_, ts := newTestServer(t)

	connA := dial(t, ts, "/webrtc")
	_ = readEnvelope(t, connA)

	connB := dial(t, ts, "/webrtc")
	_ = readEnvelope(t, connB)
	_ = readEnvelope(t, connA) // peer-joined for B

	_ = connB.Close()

	env := readEnvelope(t, connA)
	if env.Type != protocol.TypePeerLeft || env.PeerID == "" {
		t.Fatalf("expected peer-left, got %+v", env)
	}
}
