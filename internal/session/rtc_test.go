package session

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/kestrel-labs/swiftdrop/internal/config"
	"github.com/kestrel-labs/swiftdrop/internal/eventbus"
	"github.com/kestrel-labs/swiftdrop/internal/protocol"
	"github.com/kestrel-labs/swiftdrop/internal/transfer"
	"github.com/sirupsen/logrus"
)

// pairedSignaler wires two RTCSessions' signals directly into each other's
// HandleSignal, standing in for the rendezvous relay of spec.md §4.4/§4.6
// in-process.
type pairedSignaler struct {
	peer *RTCSession
}

func (p *pairedSignaler) SendSignal(ctx context.Context, signal protocol.Signal) error {
	return p.peer.HandleSignal(ctx, signal)
}

func localOnlyConfig() config.Config {
	cfg := config.Default()
	// No STUN reachable in the test sandbox; host candidates over loopback
	// are sufficient for two in-process peers.
	cfg.ICEServers = nil
	return cfg
}

func TestRTCSessionHandshakeAndFileTransfer(t *testing.T) {
	sharedBus := eventbus.New()
	cfg := localOnlyConfig()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	var received []byte
	calleeHandle := func(data []byte, h transfer.Header) (string, error) {
		received = append([]byte(nil), data...)
		return "handle://" + h.Name, nil
	}

	callerSignaler := &pairedSignaler{}
	calleeSignaler := &pairedSignaler{}

	callee, err := NewRTCSessionAsCallee("caller", cfg, sharedBus, logger, calleeSignaler, calleeHandle)
	if err != nil {
		t.Fatalf("NewRTCSessionAsCallee: %v", err)
	}
	callerSignaler.peer = callee

	caller := NewRTCSessionAsCaller("callee", cfg, sharedBus, logger, callerSignaler, nil)
	calleeSignaler.peer = caller

	if err := caller.StartHandshake(context.Background()); err != nil {
		t.Fatalf("StartHandshake: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for !caller.channelOpen() || !callee.channelOpen() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for data channel to open")
		case <-time.After(20 * time.Millisecond):
		}
	}

	fired := make(chan struct{}, 1)
	sharedBus.On(eventbus.EventFileReceived, func(detail any) {
		fired <- struct{}{}
	})

	data := []byte("hello over a real data channel")
	caller.SendFiles(context.Background(), []OutboundFile{{
		Name:   "hi.txt",
		Size:   int64(len(data)),
		Source: bytes.NewReader(data),
	}})

	select {
	case <-fired:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for file-received")
	}

	if !bytes.Equal(received, data) {
		t.Fatalf("expected received bytes %q, got %q", data, received)
	}

	_ = caller.Close()
	_ = callee.Close()
}
