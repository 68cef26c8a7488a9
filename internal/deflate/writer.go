package deflate

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// NewWriter returns a new DEFLATE io.WriteCloser. A zero level maps to
// flate.DefaultCompression rather than flate.NoCompression, so a
// caller that simply omits a level doesn't silently disable compression.
func NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if level <= 0 {
		level = flate.DefaultCompression
	}

	fw, err := flate.NewWriter(w, level)
	if err != nil {
		return nil, fmt.Errorf("deflate: error creating writer: %w", err)
	}

	return fw, nil
}
