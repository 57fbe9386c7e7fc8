package transfer

import (
	"bytes"
	"testing"
)

func TestChunkerSmallFileOnePartition(t *testing.T) {
	data := []byte("hello")
	c := NewChunker(bytes.NewReader(data), int64(len(data)), 64_000, 1_000_000)

	var chunks [][]byte
	var partitionSize int
	err := c.NextPartition(func(chunk []byte) error {
		chunks = append(chunks, append([]byte(nil), chunk...))
		return nil
	}, func(n int) error {
		partitionSize = n
		return nil
	})
	if err != nil {
		t.Fatalf("NextPartition: %v", err)
	}

	if len(chunks) != 1 || !bytes.Equal(chunks[0], data) {
		t.Fatalf("expected one chunk %q, got %v", data, chunks)
	}
	if partitionSize != len(data) {
		t.Errorf("expected partition size %d, got %d", len(data), partitionSize)
	}
	if !c.IsFileEnd() {
		t.Error("expected file end")
	}
	if c.Progress() != 1 {
		t.Errorf("expected progress 1, got %f", c.Progress())
	}
}

func TestChunkerZeroByteFile(t *testing.T) {
	c := NewChunker(bytes.NewReader(nil), 0, 64_000, 1_000_000)

	var chunkCount int
	var partitionSize int
	err := c.NextPartition(func(chunk []byte) error {
		chunkCount++
		return nil
	}, func(n int) error {
		partitionSize = n
		return nil
	})
	if err != nil {
		t.Fatalf("NextPartition: %v", err)
	}
	if chunkCount != 0 {
		t.Errorf("expected no chunks, got %d", chunkCount)
	}
	if partitionSize != 0 {
		t.Errorf("expected partition size 0, got %d", partitionSize)
	}
	if !c.IsFileEnd() {
		t.Error("expected immediate file end")
	}
}

func TestChunkerExactMultipleOfChunkSize(t *testing.T) {
	data := make([]byte, 128)
	c := NewChunker(bytes.NewReader(data), int64(len(data)), 64, 1_000_000)

	var chunks [][]byte
	err := c.NextPartition(func(chunk []byte) error {
		chunks = append(chunks, chunk)
		return nil
	}, func(n int) error { return nil })
	if err != nil {
		t.Fatalf("NextPartition: %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[1]) != 64 {
		t.Errorf("expected last chunk size 64, got %d", len(chunks[1]))
	}
	if !c.IsFileEnd() {
		t.Error("expected file end with no trailing zero-byte chunk")
	}
}

func TestChunkerMultiplePartitions(t *testing.T) {
	size := int64(2_500_000)
	chunkSize := 64_000
	maxPartition := 1_000_000
	data := make([]byte, size)
	c := NewChunker(bytes.NewReader(data), size, chunkSize, maxPartition)

	var partitionSizes []int
	for !c.IsFileEnd() {
		var partitionBytes int
		var sum int
		err := c.NextPartition(func(chunk []byte) error {
			sum += len(chunk)
			return nil
		}, func(n int) error {
			partitionBytes = n
			return nil
		})
		if err != nil {
			t.Fatalf("NextPartition: %v", err)
		}
		if sum != partitionBytes {
			t.Errorf("chunk sum %d does not match partition size %d", sum, partitionBytes)
		}
		partitionSizes = append(partitionSizes, partitionBytes)
	}

	want := []int{1_000_000, 1_000_000, 500_000}
	if len(partitionSizes) != len(want) {
		t.Fatalf("expected %d partitions, got %d: %v", len(want), len(partitionSizes), partitionSizes)
	}
	for i := range want {
		if partitionSizes[i] != want[i] {
			t.Errorf("partition %d: expected %d, got %d", i, want[i], partitionSizes[i])
		}
	}
}

func TestChunkerRepeatPartitionRewindsOffset(t *testing.T) {
	data := bytes.Repeat([]byte{1}, 200)
	c := NewChunker(bytes.NewReader(data), int64(len(data)), 64, 1_000_000)

	_ = c.NextPartition(func(chunk []byte) error { return nil }, func(n int) error { return nil })
	offsetAfterFirst := c.offset

	c.RepeatPartition()
	if c.offset >= offsetAfterFirst {
		t.Errorf("expected offset to rewind, got %d (was %d)", c.offset, offsetAfterFirst)
	}
	if c.offset != 0 {
		t.Errorf("expected offset to rewind to 0 for a single-partition file, got %d", c.offset)
	}
}
