// Package pool maintains the decoder pools the archive reader uses to
// avoid re-decompressing a solid block's folder stream from the start
// every time a different file inside it is opened.
package pool

import (
	"runtime"
	"sync"

	"github.com/go-sevenzip/sevenzip/internal/util"
)

// Pooler is the interface implemented by a pool.
type Pooler interface {
	Get(int64) (util.SizeReadSeekCloser, bool)
	Put(int64, util.SizeReadSeekCloser) (bool, error)
}

// Constructor is the function prototype used to instantiate a pool.
type Constructor func() (Pooler, error)

type noopPool struct{}

// NewNoopPool returns a Pooler that doesn't actually pool anything.
func NewNoopPool() (Pooler, error) {
	return new(noopPool), nil
}

func (noopPool) Get(_ int64) (util.SizeReadSeekCloser, bool) {
	return nil, false
}

func (noopPool) Put(_ int64, rc util.SizeReadSeekCloser) (bool, error) {
	return false, rc.Close()
}

type pool struct {
	mutex sync.Mutex
	cache *s3FifoCache
}

// NewPool returns a Pooler that retains decoded folder streams, keyed by
// the byte offset within the folder the stream is currently positioned
// at, using an S3-FIFO eviction strategy sized to the number of available
// CPUs. S3-FIFO was chosen over a strict LRU because a quick scan of a
// solid block (common when an archive is fully extracted) produces a
// once-only access pattern per stream position that LRU handles poorly;
// S3-FIFO's small FIFO absorbs that churn without evicting streams that
// are genuinely being revisited.
func NewPool() (Pooler, error) {
	capacity := runtime.NumCPU()
	if capacity < 1 {
		capacity = 1
	}

	return &pool{cache: newS3FifoCache(capacity)}, nil
}

// Get returns the cached stream positioned at offset if one exists, or
// failing that the cached stream positioned closest to but not after
// offset, since such a stream can seek forward to offset cheaper than a
// fresh decode from the start of the folder. Either way, the returned
// stream is removed from the pool; the caller is expected to either
// consume it and Close it, or Put it back.
func (p *pool) Get(offset int64) (util.SizeReadSeekCloser, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if reader, ok := p.cache.pop(offset); ok {
		return reader, true
	}

	best := int64(-1)

	for k := range p.cache.values {
		if k < offset && k > best {
			best = k
		}
	}

	if best < 0 {
		return nil, false
	}

	reader, _ := p.cache.pop(best)

	return reader, true
}

func (p *pool) Put(offset int64, rc util.SizeReadSeekCloser) (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	old, replaced := p.cache.insert(offset, rc)

	evicted := p.cache.evicted
	p.cache.evicted = nil

	var err error

	if replaced && old != nil {
		err = old.Close()
	}

	for _, ev := range evicted {
		if cerr := ev.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	return replaced, err
}
