package ppmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

type readCloser struct {
	rc  io.ReadCloser
	dec *rangeDecoder
	m   *model
	n   uint64
}

var (
	errAlreadyClosed          = errors.New("ppmd: already closed")
	errNeedOneReader          = errors.New("ppmd: need exactly one reader")
	errInsufficientProperties = errors.New("ppmd: not enough properties")
)

// properties holds the two fields (five bytes) 7-Zip stores for PPMd: an order byte and a
// four-byte little-endian memory size, mirrored here even though this
// simplified model doesn't bound memory by it.
type properties struct {
	order      byte
	memorySize uint32
}

func parseProperties(p []byte) (properties, error) {
	if len(p) != 5 {
		return properties{}, errInsufficientProperties
	}

	return properties{
		order:      p[0],
		memorySize: uint32(p[1]) | uint32(p[2])<<8 | uint32(p[3])<<16 | uint32(p[4])<<24,
	}, nil
}

// NewReader returns a new PPMd io.ReadCloser that decodes size bytes from
// the single input in readers.
func NewReader(p []byte, size uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
	if len(readers) != 1 {
		return nil, errNeedOneReader
	}

	if _, err := parseProperties(p); err != nil {
		return nil, err
	}

	br := bufio.NewReader(readers[0])

	dec, err := newRangeDecoder(br)
	if err != nil {
		return nil, err
	}

	return &readCloser{
		rc:  readers[0],
		dec: dec,
		m:   newModel(),
		n:   size,
	}, nil
}

func (rc *readCloser) Close() error {
	if rc.rc == nil {
		return errAlreadyClosed
	}

	if err := rc.rc.Close(); err != nil {
		return fmt.Errorf("ppmd: error closing: %w", err)
	}

	rc.rc = nil

	return nil
}

func (rc *readCloser) Read(p []byte) (int, error) {
	if rc.rc == nil {
		return 0, errAlreadyClosed
	}

	if rc.n == 0 {
		return 0, io.EOF
	}

	var i int

	for i = 0; i < len(p) && rc.n > 0; i++ {
		target := rc.dec.getFreq(rc.m.total[rc.m.context])

		sym, cum, freq := rc.m.find(rc.m.context, target)
		if err := rc.dec.decode(cum, freq); err != nil {
			return i, err
		}

		rc.m.update(rc.m.context, sym)
		rc.m.advance(sym)

		p[i] = byte(sym)
		rc.n--
	}

	return i, nil
}
