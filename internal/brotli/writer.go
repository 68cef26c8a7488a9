package brotli

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

type writeCloser struct {
	w     io.Writer
	level int
	buf   bytes.Buffer
}

// NewWriter returns a new Brotli io.WriteCloser. Output is buffered until
// Close, since the 7-Zip frame header it prepends (see headerFrame in
// reader.go) records the compressed payload's length up front rather
// than trailing it.
func NewWriter(w io.Writer, level int) io.WriteCloser {
	if level < 0 {
		level = 0
	} else if level > 11 {
		level = 11
	}

	return &writeCloser{w: w, level: level}
}

func (wc *writeCloser) Write(p []byte) (int, error) {
	return wc.buf.Write(p)
}

func (wc *writeCloser) Close() error {
	uncompressedSize := wc.buf.Len()

	var compressed bytes.Buffer

	bw := brotli.NewWriterLevel(&compressed, wc.level)

	if _, err := bw.Write(wc.buf.Bytes()); err != nil {
		return fmt.Errorf("brotli: error compressing: %w", err)
	}

	if err := bw.Close(); err != nil {
		return fmt.Errorf("brotli: error closing encoder: %w", err)
	}

	hr := headerFrame{
		FrameMagic:       frameMagic,
		FrameSize:        frameSize,
		CompressedSize:   uint32(compressed.Len()), //nolint:gosec
		BrotliMagic:      brotliMagic,
		UncompressedSize: uint16((uncompressedSize + 1<<16 - 1) >> 16), //nolint:gosec // rounded up to the nearest 64 KB
	}

	if err := binary.Write(wc.w, binary.LittleEndian, hr); err != nil {
		return fmt.Errorf("brotli: error writing frame: %w", err)
	}

	if _, err := wc.w.Write(compressed.Bytes()); err != nil {
		return fmt.Errorf("brotli: error writing payload: %w", err)
	}

	return nil
}
