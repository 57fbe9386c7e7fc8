package protocol

// Session data-channel frame type discriminators (spec.md §4.5, §6). Binary
// frames (file chunks) carry no type field; they are a separate physical
// frame shape on the same channel.
const (
	FrameHeader            = "header"
	FramePartition         = "partition"
	FramePartitionReceived = "partition_received"
	FrameProgress          = "progress"
	FrameTransferComplete  = "transfer-complete"
	FrameText              = "text"
)

// SessionFrame is the JSON object carried by text frames on the session
// data channel. Only the fields relevant to Type are populated; json tags
// use omitempty so a given frame serializes to just its relevant subset.
type SessionFrame struct {
	Type string `json:"type"`

	// header
	Name string `json:"name,omitempty"`
	Mime string `json:"mime,omitempty"`
	Size int64  `json:"size,omitempty"`

	// partition / partition_received
	Offset int64 `json:"offset,omitempty"`

	// progress
	Progress float64 `json:"progress,omitempty"`

	// text — base64(utf8(text)), per spec.md §6.
	Text string `json:"text,omitempty"`
}

// RelayEnvelope wraps a SessionFrame (or a base64-encoded binary chunk) for
// transit over the rendezvous service in the fallback path (spec.md §4.7).
// The relay transport has no handshake; every frame it forwards names its
// destination peer explicitly.
type RelayEnvelope struct {
	To     string `json:"to,omitempty"`
	Sender string `json:"sender,omitempty"`

	// Frame is set for JSON session frames.
	Frame *SessionFrame `json:"frame,omitempty"`
	// Chunk is set for binary chunks, base64-encoded to traverse the
	// rendezvous service's JSON-only control path. spec.md §4.7 and §9
	// leave relay binary-frame semantics unspecified; this is swiftdrop's
	// chosen encoding.
	Chunk string `json:"chunk,omitempty"`
}
