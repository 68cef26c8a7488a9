package delta

import "io"

type writeCloser struct {
	w     io.Writer
	state [stateSize]byte
	delta int
}

// Write mirrors readCloser.Read's rotating-state loop with subtraction in
// place of addition: each byte is replaced by its difference from the
// value delta positions back, and the original (not the diff) feeds the
// rotating state so later bytes keep diffing against real history.
func (wc *writeCloser) Write(p []byte) (int, error) {
	var (
		buffer [stateSize]byte
		j      int
	)

	copy(buffer[:], wc.state[:wc.delta])

	n := len(p)

	for i := 0; i < n; {
		for j = 0; j < wc.delta && i < n; i++ {
			orig := p[i]
			p[i] = orig - buffer[j]
			buffer[j] = orig
			j++
		}
	}

	if j == wc.delta {
		j = 0
	}

	copy(wc.state[:], buffer[j:wc.delta])
	copy(wc.state[wc.delta-j:], buffer[:j])

	return wc.w.Write(p)
}

func (wc *writeCloser) Close() error {
	if c, ok := wc.w.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

// Properties returns the single property byte NewReader expects for the
// given delta distance (1..256).
func Properties(delta int) []byte {
	return []byte{byte(delta - 1)}
}

// NewWriter returns a new Delta io.WriteCloser for the given distance.
func NewWriter(w io.Writer, delta int) io.WriteCloser {
	return &writeCloser{w: w, delta: delta}
}
