package sevenzip

import (
	"hash"
	"hash/crc32"
	"io"
)

// BoundedWriter collects writes into an in-memory buffer up to a fixed
// capacity, returning [ErrBoundedWriterFull] once exceeded.
type BoundedWriter struct {
	data    []byte
	maxSize int
}

// ErrBoundedWriterFull is returned once a [BoundedWriter]'s capacity is
// exhausted.
var ErrBoundedWriterFull = &ResourceLimitExceededError{Msg: "bounded writer size limit reached"}

// NewBoundedWriter returns a writer that accepts at most maxSize bytes.
func NewBoundedWriter(maxSize int) *BoundedWriter {
	return &BoundedWriter{maxSize: maxSize}
}

// NewBoundedWriterCapacity pre-allocates capacity bytes (capped at
// maxSize).
func NewBoundedWriterCapacity(capacity, maxSize int) *BoundedWriter {
	if capacity > maxSize {
		capacity = maxSize
	}

	return &BoundedWriter{data: make([]byte, 0, capacity), maxSize: maxSize}
}

// Bytes returns the collected data.
func (w *BoundedWriter) Bytes() []byte { return w.data }

// BytesWritten returns the number of bytes written so far.
func (w *BoundedWriter) BytesWritten() int { return len(w.data) }

// Remaining returns the unused capacity.
func (w *BoundedWriter) Remaining() int { return w.maxSize - len(w.data) }

// Reset clears the collected data.
func (w *BoundedWriter) Reset() { w.data = w.data[:0] }

func (w *BoundedWriter) Write(p []byte) (int, error) {
	remaining := w.Remaining()
	if remaining <= 0 {
		return 0, ErrBoundedWriterFull
	}

	toWrite := len(p)
	if toWrite > remaining {
		toWrite = remaining
	}

	w.data = append(w.data, p[:toWrite]...)

	if toWrite < len(p) {
		return toWrite, ErrBoundedWriterFull
	}

	return toWrite, nil
}

// CRC32Writer computes a running CRC-32 while discarding the data,
// useful for verifying entry integrity without materialising it.
type CRC32Writer struct {
	hasher         hash.Hash32
	bytesProcessed uint64
}

// NewCRC32Writer returns an empty CRC32Writer.
func NewCRC32Writer() *CRC32Writer {
	return &CRC32Writer{hasher: crc32.NewIEEE()}
}

// Sum32 returns the CRC-32 of everything written so far.
func (w *CRC32Writer) Sum32() uint32 { return w.hasher.Sum32() }

// BytesProcessed returns the number of bytes hashed so far.
func (w *CRC32Writer) BytesProcessed() uint64 { return w.bytesProcessed }

// Reset clears the hasher and byte counter.
func (w *CRC32Writer) Reset() {
	w.hasher = crc32.NewIEEE()
	w.bytesProcessed = 0
}

func (w *CRC32Writer) Write(p []byte) (int, error) {
	n, err := w.hasher.Write(p)
	w.bytesProcessed += uint64(n) //nolint:gosec

	return n, err //nolint:wrapcheck
}

// NullWriter discards everything written to it while counting bytes,
// the streaming equivalent of io.Discard with a running total.
type NullWriter struct {
	bytesDiscarded uint64
}

// NewNullWriter returns an empty NullWriter.
func NewNullWriter() *NullWriter { return &NullWriter{} }

// BytesDiscarded returns the total bytes written so far.
func (w *NullWriter) BytesDiscarded() uint64 { return w.bytesDiscarded }

// Reset clears the byte counter.
func (w *NullWriter) Reset() { w.bytesDiscarded = 0 }

func (w *NullWriter) Write(p []byte) (int, error) {
	w.bytesDiscarded += uint64(len(p)) //nolint:gosec

	return len(p), nil
}

// CountingWriter wraps an io.Writer and counts the bytes passed through
// it.
type CountingWriter struct {
	inner        io.Writer
	bytesWritten uint64
}

// NewCountingWriter wraps inner.
func NewCountingWriter(inner io.Writer) *CountingWriter {
	return &CountingWriter{inner: inner}
}

// BytesWritten returns the running total.
func (w *CountingWriter) BytesWritten() uint64 { return w.bytesWritten }

func (w *CountingWriter) Write(p []byte) (int, error) {
	n, err := w.inner.Write(p)
	w.bytesWritten += uint64(n) //nolint:gosec

	return n, err //nolint:wrapcheck
}

// ProgressWriter wraps an io.Writer and invokes onProgress after a write
// once at least threshold bytes have been written since the previous
// call (after every write when threshold is 0, the default).
type ProgressWriter struct {
	inner              io.Writer
	onProgress         func(bytesWritten uint64, totalBytes uint64)
	bytesWritten       uint64
	totalBytes         uint64
	bytesSinceCallback uint64
	threshold          uint64
}

// NewProgressWriter wraps inner, invoking onProgress as writes occur.
func NewProgressWriter(inner io.Writer, onProgress func(uint64, uint64)) *ProgressWriter {
	return &ProgressWriter{inner: inner, onProgress: onProgress}
}

// WithTotal sets the expected total for progress fraction reporting.
func (w *ProgressWriter) WithTotal(total uint64) *ProgressWriter {
	w.totalBytes = total

	return w
}

// WithThreshold sets the minimum bytes between callback invocations.
func (w *ProgressWriter) WithThreshold(threshold uint64) *ProgressWriter {
	w.threshold = threshold

	return w
}

// BytesWritten returns the running total.
func (w *ProgressWriter) BytesWritten() uint64 { return w.bytesWritten }

func (w *ProgressWriter) Write(p []byte) (int, error) {
	n, err := w.inner.Write(p)
	w.bytesWritten += uint64(n)       //nolint:gosec
	w.bytesSinceCallback += uint64(n) //nolint:gosec

	if w.bytesSinceCallback >= w.threshold {
		w.onProgress(w.bytesWritten, w.totalBytes)
		w.bytesSinceCallback = 0
	}

	return n, err //nolint:wrapcheck
}

// TeeWriter writes every call to two underlying writers, failing if
// either one does.
type TeeWriter struct {
	w1, w2       io.Writer
	bytesWritten uint64
}

// NewTeeWriter returns a writer duplicating to w1 and w2.
func NewTeeWriter(w1, w2 io.Writer) *TeeWriter {
	return &TeeWriter{w1: w1, w2: w2}
}

// BytesWritten returns the running total accepted by w1.
func (w *TeeWriter) BytesWritten() uint64 { return w.bytesWritten }

func (w *TeeWriter) Write(p []byte) (int, error) {
	n1, err := w.w1.Write(p)
	if err != nil {
		return n1, err //nolint:wrapcheck
	}

	if _, err := w.w2.Write(p[:n1]); err != nil {
		return n1, err //nolint:wrapcheck
	}

	w.bytesWritten += uint64(n1) //nolint:gosec

	return n1, nil
}

// StreamingMode selects how a solid folder's decoded bytes are handed to
// callers extracting a single entry out of it.
type StreamingMode int

const (
	// StreamingModeChunked reads and discards leading entries of a
	// solid folder in bounded chunks (ChunkSize bytes at a time)
	// until the target entry's offset is reached, then streams the
	// target entry directly. Bounded memory, extra CPU for discarded
	// bytes.
	StreamingModeChunked StreamingMode = iota

	// StreamingModeBuffered decodes the whole folder into memory before
	// slicing out the target entry. Faster for small folders, but its
	// memory cost is the full folder size — callers should pair it with
	// a [MemoryTracker] allocation.
	StreamingModeBuffered
)

// StreamingConfig controls the chunked/buffered tradeoff for solid-block
// extraction.
type StreamingConfig struct {
	Mode           StreamingMode
	ChunkSize      int
	BufferedMaxLen uint64 // 0 means unlimited
}

// DefaultStreamingConfig matches the teacher's existing inline folder
// reads: chunked, 32KiB at a time.
func DefaultStreamingConfig() StreamingConfig {
	return StreamingConfig{Mode: StreamingModeChunked, ChunkSize: 32 * 1024}
}
