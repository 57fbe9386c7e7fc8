package transfer

import (
	"bytes"
	"fmt"
)

// Artifact is the materialized result of a completed inbound transfer: the
// concatenation of all received chunks, under its declared header. Handle is
// an opaque reference a UI collaborator can use to surface the bytes (a
// file path under the output directory in swiftdrop's CLI; spec.md imagines
// a browser Blob URL).
type Artifact struct {
	Name   string
	Mime   string
	Size   int64
	Handle string
}

// OnComplete is invoked exactly once, when a Digester has received its full
// declared size.
type OnComplete func(Artifact)

// ErrOverrun is returned by Unchunk if appending chunk would push bytes
// received past the declared size (spec.md §7: "not explicitly guarded —
// implementers should treat bytes_received > size as a fatal protocol
// error").
var ErrOverrun = fmt.Errorf("digester: received more bytes than declared size")

// Digester is scoped to one inbound transfer, per spec.md §4.3.
type Digester struct {
	header   Header
	onComple OnComplete

	buf      bytes.Buffer
	received int64
	done     bool

	makeHandle func([]byte, Header) (string, error)
}

// NewDigester constructs a Digester for header, materializing the completed
// artifact's handle via makeHandle (which receives the concatenated bytes).
// If header.Mime is empty, DefaultMime is used.
func NewDigester(header Header, makeHandle func([]byte, Header) (string, error), onComplete OnComplete) *Digester {
	if header.Mime == "" {
		header.Mime = DefaultMime
	}
	d := &Digester{
		header:     header,
		onComple:   onComplete,
		makeHandle: makeHandle,
	}
	if header.Size == 0 {
		_ = d.Unchunk(nil)
	}
	return d
}

// BytesReceived returns the number of bytes appended so far.
func (d *Digester) BytesReceived() int64 { return d.received }

// Progress returns BytesReceived/Size, clamped to [0,1]. A zero-size header
// reports progress 1 immediately.
func (d *Digester) Progress() float64 {
	if d.header.Size <= 0 {
		return 1
	}
	p := float64(d.received) / float64(d.header.Size)
	if p > 1 {
		return 1
	}
	return p
}

// Unchunk appends chunk, updates progress, and — once bytes received equals
// the declared size — concatenates the buffer into a single Artifact,
// invokes onComplete exactly once, and releases the buffer. Calling Unchunk
// again after completion is a no-op.
func (d *Digester) Unchunk(chunk []byte) error {
	if d.done {
		return nil
	}

	if d.received+int64(len(chunk)) > d.header.Size {
		return ErrOverrun
	}

	d.buf.Write(chunk)
	d.received += int64(len(chunk))

	if d.received < d.header.Size {
		return nil
	}

	data := d.buf.Bytes()
	handle, err := d.makeHandle(data, d.header)
	if err != nil {
		return fmt.Errorf("materializing artifact: %w", err)
	}

	d.done = true
	d.buf = bytes.Buffer{}

	d.onComple(Artifact{
		Name:   d.header.Name,
		Mime:   d.header.Mime,
		Size:   d.header.Size,
		Handle: handle,
	})
	return nil
}

// Done reports whether the declared size has been reached.
func (d *Digester) Done() bool { return d.done }
