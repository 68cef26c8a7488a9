package lzma2

import (
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// DefaultDictCap is used when the caller doesn't request a specific
// dictionary size: large enough to let a solid folder's LZMA2 stream see
// back across its constituent files.
const DefaultDictCap = 1 << 24 // 16MiB

// dictSizeProperty inverts the bit-packing NewReader derives DictCap from,
// returning the smallest property byte whose implied dictionary capacity is
// at least dictCap. Mirrors 7-Zip's own Lzma2Enc GetDicSizeProp.
func dictSizeProperty(dictCap int) byte {
	for p := 0; p < 40; p++ {
		if dictCap <= (2|(p&1))<<(p/2+11) {
			return byte(p) //nolint:gosec
		}
	}

	return 40
}

// Properties returns the single-byte LZMA2 coder property blob for dictCap.
func Properties(dictCap int) []byte {
	return []byte{dictSizeProperty(dictCap)}
}

type writeCloser struct {
	w *lzma.Writer2
}

func (wc *writeCloser) Write(p []byte) (int, error) {
	n, err := wc.w.Write(p)
	if err != nil {
		return n, fmt.Errorf("lzma2: error writing: %w", err)
	}

	return n, nil
}

func (wc *writeCloser) Close() error {
	if err := wc.w.Close(); err != nil {
		return fmt.Errorf("lzma2: error closing: %w", err)
	}

	return nil
}

// NewWriter returns an io.WriteCloser that LZMA2-compresses to w using a
// dictionary of dictCap bytes (rounded up to the nearest value the 1-byte
// property encoding can represent), along with the property blob to record
// alongside the coder.
func NewWriter(w io.Writer, dictCap int) (io.WriteCloser, []byte, error) {
	if dictCap <= 0 {
		dictCap = DefaultDictCap
	}

	properties := Properties(dictCap)

	config := lzma.Writer2Config{
		DictCap: (2 | (int(properties[0]) & 1)) << (properties[0]/2 + 11),
	}

	if err := config.Verify(); err != nil {
		return nil, nil, fmt.Errorf("lzma2: error verifying config: %w", err)
	}

	lw, err := config.NewWriter2(w)
	if err != nil {
		return nil, nil, fmt.Errorf("lzma2: error creating writer: %w", err)
	}

	return &writeCloser{w: lw}, properties, nil
}
