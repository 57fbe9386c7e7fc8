// Package config holds the injected configuration structure that spec.md §9
// calls for in place of the RTC configuration and capability flag being
// process-wide constants.
package config

import "time"

// Defaults per spec.md §6.
const (
	DefaultChunkSize               = 64_000
	DefaultMaxPartitionSize        = 1_000_000
	DefaultReconnectDelay          = 5 * time.Second
	DefaultProgressReportThreshold = 0.01
)

var defaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// Config is the injected configuration structure threaded through the
// rendezvous client, sessions, and manager. Nothing in this package reads
// from a process-wide global.
type Config struct {
	// ICEServers is the opaque list of STUN/TURN endpoints handed to the
	// RTC transport. swiftdrop treats these as opaque strings: each entry
	// becomes one ICE server URL, with no username or credential attached.
	ICEServers []string

	ChunkSize               int
	MaxPartitionSize        int
	ReconnectDelay          time.Duration
	ProgressReportThreshold float64

	// RendezvousAddr is the rendezvous service host:port the Server
	// Connection dials.
	RendezvousAddr string
}

// Default returns the tunable defaults from spec.md §6.
func Default() Config {
	return Config{
		ICEServers:              append([]string(nil), defaultICEServers...),
		ChunkSize:               DefaultChunkSize,
		MaxPartitionSize:        DefaultMaxPartitionSize,
		ReconnectDelay:          DefaultReconnectDelay,
		ProgressReportThreshold: DefaultProgressReportThreshold,
	}
}
