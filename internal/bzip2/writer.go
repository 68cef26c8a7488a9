package bzip2

import (
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
)

// NewWriter returns a new bzip2 io.WriteCloser. level follows the 7z
// convention of 0 (store-like, clamped up by dsnet/compress) through 9
// (best compression).
func NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	bw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: level})
	if err != nil {
		return nil, fmt.Errorf("bzip2: error creating writer: %w", err)
	}

	return bw, nil
}
