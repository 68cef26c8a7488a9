package ppmd

import (
	"fmt"
	"io"
)

// DefaultOrder and DefaultMemoryMiB are the property values written into
// the coder's property blob; they are carried for interoperability but
// this model does not vary its behaviour with them.
const (
	DefaultOrder     = 6
	DefaultMemoryMiB = 16
)

// Properties encodes the 5-byte PPMd coder property blob: a 1-byte model
// order followed by a 4-byte little-endian memory size in bytes.
func Properties(order byte, memoryMiB uint32) []byte {
	memBytes := memoryMiB << 20

	return []byte{
		order,
		byte(memBytes),
		byte(memBytes >> 8),
		byte(memBytes >> 16),
		byte(memBytes >> 24),
	}
}

// Writer is an io.WriteCloser that range-codes its input with the same
// adaptive order-1 model used by [NewReader].
type Writer struct {
	enc *rangeEncoder
	m   *model
}

// NewWriter returns a Writer that writes its encoded stream to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		enc: newRangeEncoder(w),
		m:   newModel(),
	}
}

func (w *Writer) Write(p []byte) (int, error) {
	for i, b := range p {
		sym := int(b)

		cum, freq, total := w.m.cumFreq(w.m.context, sym)
		w.enc.encode(cum, freq, total)

		if w.enc.err != nil {
			return i, fmt.Errorf("ppmd: error writing: %w", w.enc.err)
		}

		w.m.update(w.m.context, sym)
		w.m.advance(sym)
	}

	return len(p), nil
}

// Close flushes any buffered range-coder state. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	return w.enc.flush()
}
