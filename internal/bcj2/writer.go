package bcj2

import (
	"fmt"
	"io"
)

// Writer is the forward side of the BCJ2 filter. It never rewrites a
// call/jump target (it always emits the "not converted" control bit),
// which keeps the call and jump streams empty and the transform trivially
// reversible; it gives up the extra ratio the reference 7-Zip encoder
// gets from actually relocating addresses, but decode(encode(x)) == x
// holds for any input, which is what the folder emitter needs.
type Writer struct {
	main io.Writer
	rd   io.Writer

	low       uint64
	nrange    uint32
	cache     byte
	cacheSize int64

	sd [256 + 2]uint

	previous byte
}

// NewWriter returns a BCJ2 Writer. call and jump are never written to
// since no conversions are ever emitted, but they still need to exist as
// independent zero-length packed streams for the folder to decode.
func NewWriter(main, _, _, control io.Writer) *Writer {
	w := &Writer{
		main:      main,
		rd:        control,
		nrange:    0xffffffff,
		cacheSize: 1,
	}

	for i := range w.sd {
		w.sd[i] = bitModelTotal >> 1
	}

	return w
}

func (w *Writer) shiftLow() error {
	if uint32(w.low>>32) != 0 || w.low < 0xFF000000 {
		c := w.cache

		for ; w.cacheSize > 0; w.cacheSize-- {
			if _, err := w.rd.Write([]byte{c + byte(w.low>>32)}); err != nil {
				return fmt.Errorf("bcj2: error writing control byte: %w", err)
			}

			c = 0xFF
		}

		w.cache = byte(w.low >> 24)
	}

	w.cacheSize++
	w.low = (w.low << 8) & 0xFFFFFFFF

	return nil
}

// encodeBit narrows the range for a single "not converted" decision,
// updating the model the same way decode does on its false branch.
func (w *Writer) encodeBit(i int) error {
	bound := (w.nrange >> numbitModelTotalBits) * w.sd[i]
	w.nrange = bound
	w.sd[i] += (bitModelTotal - w.sd[i]) >> numMoveBits

	for w.nrange < topValue {
		w.nrange <<= 8

		if err := w.shiftLow(); err != nil {
			return err
		}
	}

	return nil
}

// Write feeds raw bytes through the filter, copying them unmodified to
// the main stream and emitting one control bit every time a candidate
// call/jump opcode pair is seen.
func (w *Writer) Write(p []byte) (int, error) {
	for _, b := range p {
		if _, err := w.main.Write([]byte{b}); err != nil {
			return 0, fmt.Errorf("bcj2: error writing main byte: %w", err)
		}

		if isJ(w.previous, b) {
			if err := w.encodeBit(index(w.previous, b)); err != nil {
				return 0, err
			}
		}

		w.previous = b
	}

	return len(p), nil
}

// Close flushes the control stream's range coder. It does not close the
// underlying writers; the caller owns their lifetime.
func (w *Writer) Close() error {
	for i := 0; i < 5; i++ {
		if err := w.shiftLow(); err != nil {
			return err
		}
	}

	return nil
}
