package lz4

import (
	"fmt"
	"io"

	lz4 "github.com/pierrec/lz4/v4"
)

// NewWriter returns a new LZ4 io.WriteCloser.
func NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	lw := lz4.NewWriter(w)

	if err := lw.Apply(lz4.CompressionLevelOption(lz4.CompressionLevel(level))); err != nil {
		return nil, fmt.Errorf("lz4: error configuring writer: %w", err)
	}

	return lw, nil
}
