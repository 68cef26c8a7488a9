package aes7z

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
)

var errShortIV = errors.New("aes7z: iv must be 16 bytes")

// Properties encodes the AES-256-SHA256 coder property blob: a flags byte
// (salt/iv presence plus the cycle count), a size byte (salt/iv extra
// lengths), then the raw salt and iv.
func Properties(cycles int, salt []byte, iv []byte) []byte {
	saltFlag, ivFlag := byte(0), byte(0)
	if len(salt) > 0 {
		saltFlag = 1
	}

	if len(iv) > 0 {
		ivFlag = 1
	}

	var saltExtra, ivExtra byte

	if saltFlag == 1 {
		saltExtra = byte(len(salt) - 1) //nolint:gosec
	}

	if ivFlag == 1 {
		ivExtra = byte(len(iv) - 1) //nolint:gosec
	}

	p := []byte{
		saltFlag<<7 | ivFlag<<6 | byte(cycles&0x3f), //nolint:gosec
		saltExtra<<4 | ivExtra,
	}

	p = append(p, salt...)
	p = append(p, iv...)

	return p
}

type writeCloser struct {
	w     io.Writer
	cbc   cipher.BlockMode
	block int
	buf   []byte
}

// NewWriter returns an io.WriteCloser that AES-256-CBC encrypts to w, using
// a key derived (via the same SHA-256 stretching [NewReader] decrypts with)
// from password, cycles and salt. The 7z AES coder pads its plaintext with
// zero bytes to the next 16-byte boundary, so the encrypted stream's length
// can exceed the input length by up to 15 bytes; Close flushes that final
// partial block.
func NewWriter(w io.Writer, password string, cycles int, salt []byte, iv []byte) (io.WriteCloser, error) {
	if len(iv) != aes.BlockSize {
		return nil, errShortIV
	}

	key, err := calculateKey(password, cycles, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes7z: error creating cipher: %w", err)
	}

	return &writeCloser{
		w:   w,
		cbc: cipher.NewCBCEncrypter(block, iv),
	}, nil
}

func (wc *writeCloser) Write(p []byte) (int, error) {
	written := len(p)
	wc.buf = append(wc.buf, p...)

	n := len(wc.buf) - len(wc.buf)%aes.BlockSize

	if n > 0 {
		out := make([]byte, n)
		wc.cbc.CryptBlocks(out, wc.buf[:n])

		if _, err := wc.w.Write(out); err != nil {
			return 0, fmt.Errorf("aes7z: error writing block: %w", err)
		}

		wc.buf = wc.buf[n:]
	}

	return written, nil
}

// Close zero-pads any buffered partial block, encrypts and flushes it. It
// does not close the underlying writer.
func (wc *writeCloser) Close() error {
	if len(wc.buf) == 0 {
		return nil
	}

	padded := make([]byte, aes.BlockSize)
	copy(padded, wc.buf)

	out := make([]byte, aes.BlockSize)
	wc.cbc.CryptBlocks(out, padded)

	if _, err := wc.w.Write(out); err != nil {
		return fmt.Errorf("aes7z: error writing final block: %w", err)
	}

	wc.buf = nil

	return nil
}
