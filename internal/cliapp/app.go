// Package cliapp wires the engine — rendezvous client, Peers Manager,
// sessions, and audit log — into a runnable daemon for cmd/swiftdrop, the
// stand-in for spec.md's "UI collaborator" (out of scope per spec.md §3,
// but a CLI still needs something driving the event bus).
package cliapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kestrel-labs/swiftdrop/internal/audit"
	"github.com/kestrel-labs/swiftdrop/internal/config"
	"github.com/kestrel-labs/swiftdrop/internal/eventbus"
	"github.com/kestrel-labs/swiftdrop/internal/manager"
	"github.com/kestrel-labs/swiftdrop/internal/protocol"
	"github.com/kestrel-labs/swiftdrop/internal/rendezvous"
	"github.com/kestrel-labs/swiftdrop/internal/session"
	"github.com/kestrel-labs/swiftdrop/internal/transfer"
	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// Options configures one daemon run.
type Options struct {
	RendezvousAddr string
	RTCSupported   bool
	OutputDir      string
	AuditDBPath    string
	SendFiles      []string
	Logger         *logrus.Logger
}

// App is a running swiftdrop daemon: a rendezvous Client feeding a Peers
// Manager, with a terminal-facing progress bar per active transfer and an
// audit log of completed ones.
type App struct {
	opts    Options
	cfg     config.Config
	bus     *eventbus.Bus
	logger  *logrus.Logger
	client  *rendezvous.Client
	mgr     *manager.Manager
	auditDB *audit.Log

	bars map[string]*progressbar.ProgressBar
}

// New builds an App and its full dependency graph but does not yet dial
// the rendezvous service (call Run for that).
func New(opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}

	cfg := config.Default()
	cfg.RendezvousAddr = opts.RendezvousAddr

	auditDB, err := audit.Open(opts.AuditDBPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	a := &App{
		opts:    opts,
		cfg:     cfg,
		bus:     eventbus.New(),
		logger:  opts.Logger,
		auditDB: auditDB,
		bars:    make(map[string]*progressbar.ProgressBar),
	}

	relay := &relayDialer{}
	a.mgr = manager.New(opts.RTCSupported, cfg, a.bus, a.logger, a.handleInbound, relay)
	a.client = rendezvous.New(cfg, a.bus, a.logger, opts.RTCSupported, a.mgr)
	relay.client = a.client

	a.wireEvents()
	return a, nil
}

// relayDialer exists only so Manager can be constructed with a Relay
// before the Client it delegates to has been built, mirroring the same
// construction-order seam RTCSession's SignalSender crosses.
type relayDialer struct {
	client *rendezvous.Client
}

func (r *relayDialer) SendSignal(ctx context.Context, signal protocol.Signal) error {
	return r.client.SendSignal(ctx, signal)
}

func (r *relayDialer) SendRelay(ctx context.Context, env protocol.RelayEnvelope) error {
	return r.client.SendRelay(ctx, env)
}

// handleInbound materializes a completed inbound transfer's bytes under
// OutputDir, implementing session.MakeHandle.
func (a *App) handleInbound(data []byte, header transfer.Header) (string, error) {
	path := filepath.Join(a.opts.OutputDir, header.Name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing received file: %w", err)
	}
	return path, nil
}

func (a *App) wireEvents() {
	a.bus.On(eventbus.EventPeerJoined, func(detail any) {
		peer := detail.(protocol.PeerDescriptor)
		colorstring.Println(fmt.Sprintf("[green]peer joined:[reset] %s", peer.ID))
		if len(a.opts.SendFiles) > 0 {
			a.sendFilesTo(peer.ID, a.opts.SendFiles)
		}
	})
	a.bus.On(eventbus.EventPeerLeft, func(detail any) {
		colorstring.Println(fmt.Sprintf("[yellow]peer left:[reset] %s", detail.(string)))
		delete(a.bars, detail.(string))
	})
	a.bus.On(eventbus.EventNotifyUser, func(detail any) {
		colorstring.Println(fmt.Sprintf("[red]%s[reset]", detail.(string)))
	})
	a.bus.On(eventbus.EventFileProgress, func(detail any) {
		p := detail.(session.FileProgress)
		bar, ok := a.bars[p.PeerID]
		if !ok {
			bar = progressbar.NewOptions(100, progressbar.OptionSetDescription(fmt.Sprintf("transfer with %s", p.PeerID)))
			a.bars[p.PeerID] = bar
		}
		_ = bar.Set(int(p.Progress * 100))
		if p.Progress >= 1 {
			delete(a.bars, p.PeerID)
		}
	})
	a.bus.On(eventbus.EventFileReceived, func(detail any) {
		fr := detail.(session.FileReceived)
		colorstring.Println(fmt.Sprintf("[green]received[reset] %s (%s) from %s -> %s",
			fr.Artifact.Name, humanize.Bytes(uint64(fr.Artifact.Size)), fr.PeerID, fr.Artifact.Handle))
		if err := a.auditDB.Record(fr.PeerID, audit.DirectionInbound, fr.Artifact.Name, fr.Artifact.Mime, fr.Artifact.Size, time.Now()); err != nil {
			a.logger.Warnf("failed to record audit entry: %v", err)
		}
	})
	a.bus.On(eventbus.EventTextReceived, func(detail any) {
		tr := detail.(session.TextReceived)
		colorstring.Println(fmt.Sprintf("[cyan]%s says:[reset] %s", tr.PeerID, tr.Text))
	})
}

func (a *App) sendFilesTo(peerID string, paths []string) {
	files := make([]session.OutboundFile, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			a.logger.Warnf("skipping %s: %v", p, err)
			continue
		}
		f, err := os.Open(p)
		if err != nil {
			a.logger.Warnf("skipping %s: %v", p, err)
			continue
		}
		files = append(files, session.OutboundFile{
			Name:   filepath.Base(p),
			Mime:   transfer.DefaultMime,
			Size:   info.Size(),
			Source: f,
		})
	}
	if len(files) == 0 {
		return
	}
	if err := a.mgr.SendFiles(context.Background(), peerID, files); err != nil {
		a.logger.Warnf("failed to send files to %s: %v", peerID, err)
	}
}

// SendText routes a send-text user action to peerID, per spec.md §4.8.
func (a *App) SendText(peerID, text string) error {
	return a.mgr.SendText(context.Background(), peerID, text)
}

// Run dials the rendezvous service and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.client.Connect(ctx); err != nil {
		return err
	}
	defer a.client.Close()
	defer a.auditDB.Close()

	<-ctx.Done()
	return nil
}
