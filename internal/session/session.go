package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"github.com/kestrel-labs/swiftdrop/internal/config"
	"github.com/kestrel-labs/swiftdrop/internal/eventbus"
	"github.com/kestrel-labs/swiftdrop/internal/protocol"
	"github.com/kestrel-labs/swiftdrop/internal/transfer"
	"github.com/sirupsen/logrus"
)

// OutboundFile is one entry in a Session's outbound queue: the header a
// Chunker will stream, plus the source bytes.
type OutboundFile struct {
	Name   string
	Mime   string
	Size   int64
	Source io.ReaderAt
}

// MakeHandle materializes a completed inbound Artifact's bytes into
// whatever the caller wants to expose them as (a file path under the CLI's
// output directory; spec.md imagines a browser Blob URL). Injected so Session stays
// agnostic to storage.
type MakeHandle func(data []byte, header transfer.Header) (string, error)

// Session holds the per-remote-peer state of spec.md §3/§4.5: send queue,
// current outbound transfer, current inbound transfer, busy flag, and the
// last-reported outbound progress. It is transport-agnostic; RTCSession and
// RelaySession each supply a Transport and otherwise defer to this type.
type Session struct {
	PeerID string

	transport Transport
	bus       *eventbus.Bus
	cfg       config.Config
	logger    *logrus.Logger
	handle    MakeHandle

	mu sync.Mutex

	outboundQueue []OutboundFile
	outboundBusy  bool
	chunker       *transfer.Chunker

	digester    *transfer.Digester
	inboundLast float64
}

// Deps bundles the collaborators every concrete Session (RTCSession,
// RelaySession) needs beyond its Transport, so constructors don't grow a
// new positional parameter each time a spec requirement adds one.
type Deps struct {
	Bus    *eventbus.Bus
	Config config.Config
	Logger *logrus.Logger
	Handle MakeHandle
}

// New constructs a Session over transport. handle is used to materialize
// completed inbound transfers.
func New(peerID string, transport Transport, bus *eventbus.Bus, cfg config.Config, logger *logrus.Logger, handle MakeHandle) *Session {
	return &Session{
		PeerID:    peerID,
		transport: transport,
		bus:       bus,
		cfg:       cfg,
		logger:    logger,
		handle:    handle,
	}
}

// SendFiles appends files to the outbound queue and, if idle, begins the
// next transfer (spec.md §4.5 step 1).
func (s *Session) SendFiles(ctx context.Context, files []OutboundFile) {
	s.mu.Lock()
	s.outboundQueue = append(s.outboundQueue, files...)
	startNow := !s.outboundBusy
	s.mu.Unlock()

	if startNow {
		s.startNextOutbound(ctx)
	}
}

// SendText encodes text as base64(utf8(text)) and sends it as a "text"
// session frame, per spec.md §4.5 and §6.
func (s *Session) SendText(ctx context.Context, text string) error {
	frame := protocol.SessionFrame{
		Type: protocol.FrameText,
		Text: base64.StdEncoding.EncodeToString([]byte(text)),
	}
	return s.sendFrame(ctx, frame)
}

func (s *Session) sendFrame(ctx context.Context, frame protocol.SessionFrame) error {
	data, err := protocol.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshaling session frame: %w", err)
	}
	if err := s.transport.SendText(ctx, data); err != nil {
		// A failed send is not retried: it is logged here and returned to
		// the caller.
		s.logger.WithField("peer", s.PeerID).Warnf("send on session transport failed: %v", err)
		return err
	}
	return nil
}

func (s *Session) startNextOutbound(ctx context.Context) {
	s.mu.Lock()
	if s.outboundBusy || len(s.outboundQueue) == 0 {
		s.mu.Unlock()
		return
	}
	file := s.outboundQueue[0]
	s.outboundQueue = s.outboundQueue[1:]
	s.outboundBusy = true
	chunker := transfer.NewChunker(file.Source, file.Size, s.cfg.ChunkSize, s.cfg.MaxPartitionSize)
	s.chunker = chunker
	s.mu.Unlock()

	mime := file.Mime
	if mime == "" {
		mime = transfer.DefaultMime
	}
	if err := s.sendFrame(ctx, protocol.SessionFrame{
		Type: protocol.FrameHeader,
		Name: file.Name,
		Mime: mime,
		Size: file.Size,
	}); err != nil {
		s.finishOutbound()
		return
	}

	s.sendNextPartition(ctx)
}

// sendNextPartition drives state 2, "sending-partition", of spec.md §4.5:
// it streams chunks over the transport's binary send and, once the
// partition closes, sends the partition marker and waits (returns) for the
// remote's partition_received.
func (s *Session) sendNextPartition(ctx context.Context) {
	s.mu.Lock()
	chunker := s.chunker
	s.mu.Unlock()
	if chunker == nil {
		return
	}

	err := chunker.NextPartition(
		func(chunk []byte) error {
			return s.transport.SendBinary(ctx, chunk)
		},
		func(partitionBytes int) error {
			return s.sendFrame(ctx, protocol.SessionFrame{
				Type:   protocol.FramePartition,
				Offset: int64(partitionBytes),
			})
		},
	)
	if err != nil {
		s.logger.WithField("peer", s.PeerID).Warnf("outbound partition failed: %v", err)
		s.finishOutbound()
	}
}

func (s *Session) finishOutbound() {
	s.mu.Lock()
	s.outboundBusy = false
	s.chunker = nil
	s.mu.Unlock()
}

// OnMessage dispatches one inbound text session frame, per the state
// machines of spec.md §4.5.
func (s *Session) OnMessage(ctx context.Context, payload []byte) {
	var frame protocol.SessionFrame
	if err := protocol.Unmarshal(payload, &frame); err != nil {
		s.logger.WithField("peer", s.PeerID).Warnf("dropping malformed session frame: %v", err)
		return
	}

	switch frame.Type {
	case protocol.FrameHeader:
		s.onHeader(frame)
	case protocol.FramePartition:
		s.onPartition(ctx, frame)
	case protocol.FramePartitionReceived:
		s.onPartitionReceived(ctx)
	case protocol.FrameProgress:
		s.bus.Fire(eventbus.EventFileProgress, FileProgress{PeerID: s.PeerID, Progress: frame.Progress})
	case protocol.FrameTransferComplete:
		s.onTransferComplete()
	case protocol.FrameText:
		s.onText(frame)
	default:
		s.logger.WithField("peer", s.PeerID).Warnf("dropping unknown session frame type %q", frame.Type)
	}
}

// OnBinary dispatches one inbound binary chunk. It is only meaningful while
// an inbound transfer is in "receiving" (spec.md §6); chunks arriving with
// no active Digester are dropped.
func (s *Session) OnBinary(chunk []byte) {
	s.mu.Lock()
	digester := s.digester
	s.mu.Unlock()
	if digester == nil {
		s.logger.WithField("peer", s.PeerID).Warn("dropping binary frame with no inbound transfer")
		return
	}

	if err := digester.Unchunk(chunk); err != nil {
		s.logger.WithField("peer", s.PeerID).Warnf("inbound transfer protocol error: %v", err)
		s.mu.Lock()
		s.digester = nil
		s.mu.Unlock()
		return
	}

	progress := digester.Progress()
	s.bus.Fire(eventbus.EventFileProgress, FileProgress{PeerID: s.PeerID, Progress: progress})

	if digester.Done() {
		// Completion already reported transfer-complete via onHeader's
		// callback; no separate threshold-gated progress frame follows it.
		return
	}

	s.mu.Lock()
	shouldReport := progress-s.inboundLast >= s.cfg.ProgressReportThreshold
	if shouldReport {
		s.inboundLast = progress
	}
	s.mu.Unlock()

	if shouldReport {
		_ = s.sendFrame(context.Background(), protocol.SessionFrame{
			Type:     protocol.FrameProgress,
			Progress: progress,
		})
	}
}

func (s *Session) onHeader(frame protocol.SessionFrame) {
	header := transfer.Header{Name: frame.Name, Mime: frame.Mime, Size: frame.Size}
	digester := transfer.NewDigester(header, s.handle, func(artifact transfer.Artifact) {
		s.bus.Fire(eventbus.EventFileReceived, FileReceived{PeerID: s.PeerID, Artifact: artifact})
		_ = s.sendFrame(context.Background(), protocol.SessionFrame{Type: protocol.FrameTransferComplete})
		s.mu.Lock()
		s.digester = nil
		s.mu.Unlock()
	})

	s.mu.Lock()
	if !digester.Done() {
		s.digester = digester
	}
	s.inboundLast = 0
	s.mu.Unlock()
}

func (s *Session) onPartition(ctx context.Context, frame protocol.SessionFrame) {
	// spec.md §9: the reference implementation echoes the whole inbound
	// partition message rather than the numeric offset; swiftdrop's
	// partition frame carries the partition's byte count as a number in
	// its offset field (see SPEC_FULL.md §13), echoes it back, and discriminates
	// purely by frame type here, same as the source.
	_ = s.sendFrame(ctx, protocol.SessionFrame{
		Type:   protocol.FramePartitionReceived,
		Offset: frame.Offset,
	})
}

func (s *Session) onPartitionReceived(ctx context.Context) {
	s.mu.Lock()
	chunker := s.chunker
	s.mu.Unlock()
	if chunker == nil {
		return
	}

	if chunker.IsFileEnd() {
		// awaiting-complete: nothing to send, wait for transfer-complete.
		return
	}
	s.sendNextPartition(ctx)
}

func (s *Session) onTransferComplete() {
	s.bus.Fire(eventbus.EventFileProgress, FileProgress{PeerID: s.PeerID, Progress: 1})
	s.finishOutbound()
	s.startNextOutbound(context.Background())
}

func (s *Session) onText(frame protocol.SessionFrame) {
	raw, err := base64.StdEncoding.DecodeString(frame.Text)
	if err != nil {
		s.logger.WithField("peer", s.PeerID).Warnf("dropping malformed text frame: %v", err)
		return
	}
	s.bus.Fire(eventbus.EventTextReceived, TextReceived{PeerID: s.PeerID, Text: string(raw)})
}

// Close tears down the underlying transport.
func (s *Session) Close() error {
	return s.transport.Close()
}

// FileProgress, FileReceived, and TextReceived are the detail payloads fired
// on the event bus for file-progress, file-received, and text-received
// (spec.md §6).
type FileProgress struct {
	PeerID   string
	Progress float64
}

type FileReceived struct {
	PeerID   string
	Artifact transfer.Artifact
}

type TextReceived struct {
	PeerID string
	Text   string
}
