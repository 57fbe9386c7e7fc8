// Package transfer implements the File Chunker and File Digester described
// in spec.md §4.2 and §4.3: reading a local file as a lazy sequence of
// fixed-size binary chunks grouped into partitions, and reassembling an
// inbound chunk sequence into a materialized artifact.
package transfer

import (
	"fmt"
	"io"
)

// Header describes a transfer's out-of-band metadata, carried in the
// session data-channel protocol's "header" frame (spec.md §4.5).
type Header struct {
	Name string `json:"name"`
	Mime string `json:"mime"`
	Size int64  `json:"size"`
}

// DefaultMime is used by the Digester when a Header omits Mime.
const DefaultMime = "application/octet-stream"

// ChunkSink receives one chunk's bytes as the Chunker reads it.
type ChunkSink func(chunk []byte) error

// PartitionEndSink is invoked once a partition is complete, with the total
// byte count of the partition just sent.
type PartitionEndSink func(partitionBytes int) error

// Chunker is scoped to one outbound file, per spec.md §4.2. It owns the read
// cursor and serializes reads: NextPartition issues reads one at a time and
// does not return until the partition is exhausted.
type Chunker struct {
	source io.ReaderAt
	size   int64

	chunkSize        int
	maxPartitionSize int

	offset           int64
	partitionCounter int
}

// NewChunker constructs a Chunker over source, whose total length is size.
func NewChunker(source io.ReaderAt, size int64, chunkSize, maxPartitionSize int) *Chunker {
	return &Chunker{
		source:           source,
		size:             size,
		chunkSize:        chunkSize,
		maxPartitionSize: maxPartitionSize,
	}
}

// Progress returns offset/size, clamped to [0,1]. A zero-size file reports
// progress 1 immediately, since there is nothing left to read.
func (c *Chunker) Progress() float64 {
	if c.size <= 0 {
		return 1
	}
	p := float64(c.offset) / float64(c.size)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// IsFileEnd reports whether the read cursor has reached or passed the end of
// the file. See SPEC_FULL.md §13 for the boundary convention chosen here:
// offset >= size, not offset > size.
func (c *Chunker) IsFileEnd() bool {
	return c.offset >= c.size
}

// NextPartition resets the partition counter and reads chunks until the
// partition reaches maxPartitionSize or the file ends, invoking onChunk for
// each chunk read and onPartitionEnd exactly once when the partition closes.
// A zero-byte file produces zero chunks and one immediate partition-end of
// size 0.
func (c *Chunker) NextPartition(onChunk ChunkSink, onPartitionEnd PartitionEndSink) error {
	c.partitionCounter = 0

	for !c.IsFileEnd() && c.partitionCounter < c.maxPartitionSize {
		n := c.chunkSize
		remaining := c.size - c.offset
		if int64(n) > remaining {
			n = int(remaining)
		}
		if room := c.maxPartitionSize - c.partitionCounter; n > room {
			n = room
		}

		buf := make([]byte, n)
		if _, err := c.source.ReadAt(buf, c.offset); err != nil && err != io.EOF {
			return fmt.Errorf("reading chunk at offset %d: %w", c.offset, err)
		}

		c.offset += int64(n)
		c.partitionCounter += n

		if err := onChunk(buf); err != nil {
			return fmt.Errorf("chunk sink: %w", err)
		}
	}

	return onPartitionEnd(c.partitionCounter)
}

// RepeatPartition rewinds the offset by the current partition's byte count,
// so the next call to NextPartition re-reads the same chunks. Present for
// retry on a reopened channel, per spec.md §4.2 and §9; swiftdrop's Session
// state machine does not invoke it (no retry trigger is specified).
func (c *Chunker) RepeatPartition() {
	c.offset -= int64(c.partitionCounter)
	if c.offset < 0 {
		c.offset = 0
	}
	c.partitionCounter = 0
}
