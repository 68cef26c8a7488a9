// Package util contains small helpers shared by the archive reader, writer
// and the individual codec packages.
package util

import "io"

// SizeReadSeekCloser groups the interfaces required of a decoded folder
// stream once it is sitting in a [pool.Pooler]: callers need to seek within
// it, read from it, close it, and ask how large the fully decoded stream is.
type SizeReadSeekCloser interface {
	io.ReadSeekCloser
	Size() int64
}

// ReadCloser is an [io.ReadCloser] that can also read a single byte at a
// time, which several of the codecs (notably BCJ2) need directly.
type ReadCloser interface {
	io.ReadCloser
	io.ByteReader
}

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }

// NopCloser returns a ReadCloser with a no-op Close method wrapping the
// provided Reader r.
func NopCloser(r io.Reader) io.ReadCloser {
	return nopCloser{r}
}

type byteReadCloser struct {
	io.ReadCloser
	br io.ByteReader
}

func (brc byteReadCloser) ReadByte() (byte, error) {
	return brc.br.ReadByte()
}

// ByteReadCloser adapts rc so that it also satisfies io.ByteReader. If rc
// already does, it is returned unmodified, otherwise it is wrapped so that
// single bytes are read via its normal Read method.
func ByteReadCloser(rc io.ReadCloser) ReadCloser {
	if brc, ok := rc.(ReadCloser); ok {
		return brc
	}

	if br, ok := rc.(io.ByteReader); ok {
		return byteReadCloser{ReadCloser: rc, br: br}
	}

	return byteReadCloser{ReadCloser: rc, br: &byteReader{rc: rc}}
}

type byteReader struct {
	rc  io.Reader
	buf [1]byte
}

func (br *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(br.rc, br.buf[:]); err != nil {
		return 0, err
	}

	return br.buf[0], nil
}

// CRC32Equal reports whether the CRC-32 checksum sum, in the big-endian
// byte order [hash.Hash32.Sum] produces, matches want.
func CRC32Equal(sum []byte, want uint32) bool {
	if len(sum) != 4 {
		return false
	}

	got := uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3])

	return got == want
}
