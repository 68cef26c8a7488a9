package bra

import "io"

type writeCloser struct {
	w    io.Writer
	conv converter
}

// Write runs the converter forward (encoding=true) in place before
// passing the buffer on. Convert's return value is not used: bytes at the
// end of p that Convert leaves unconverted are passed on as they are and
// are not carried into the next Write. A caller that writes the whole
// folder's plaintext in one call (as applyFilter in writer.go does) gets
// output the reader side inverts; split writes are not guaranteed to.
func (wc *writeCloser) Write(p []byte) (int, error) {
	wc.conv.Convert(p, true)

	return wc.w.Write(p)
}

func (wc *writeCloser) Close() error {
	if c, ok := wc.w.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

func newWriter(w io.Writer, conv converter) io.WriteCloser {
	return &writeCloser{w: w, conv: conv}
}

// NewARMWriter returns a new ARM branch-filter io.WriteCloser.
func NewARMWriter(w io.Writer) io.WriteCloser { return newWriter(w, new(arm)) }

// NewARM64Writer returns a new ARM64 branch-filter io.WriteCloser.
func NewARM64Writer(w io.Writer) io.WriteCloser { return newWriter(w, new(arm64)) }

// NewPPCWriter returns a new PowerPC branch-filter io.WriteCloser.
func NewPPCWriter(w io.Writer) io.WriteCloser { return newWriter(w, new(ppc)) }

// NewSPARCWriter returns a new SPARC branch-filter io.WriteCloser.
func NewSPARCWriter(w io.Writer) io.WriteCloser { return newWriter(w, new(sparc)) }

// NewBCJWriter returns a new x86 BCJ branch-filter io.WriteCloser.
func NewBCJWriter(w io.Writer) io.WriteCloser { return newWriter(w, new(bcj)) }
