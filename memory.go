package sevenzip

import "sync/atomic"

// MemoryTracker is a process-wide (or per-archive, if not shared) atomic
// counter enforcing a memory budget across concurrent decoders. Go has no
// destructors, so where the original tracked-allocation model releases
// memory when a guard is dropped, here the caller must explicitly call
// [MemoryGuard.Release].
type MemoryTracker struct {
	current atomic.Uint64
	peak    atomic.Uint64
	limit   uint64
}

// NewMemoryTracker returns a tracker that fails allocations once limit
// bytes are outstanding.
func NewMemoryTracker(limit uint64) *MemoryTracker {
	return &MemoryTracker{limit: limit}
}

// NewUnlimitedMemoryTracker returns a tracker that never fails an
// allocation.
func NewUnlimitedMemoryTracker() *MemoryTracker {
	return NewMemoryTracker(^uint64(0))
}

// Limit returns the tracker's configured byte budget.
func (t *MemoryTracker) Limit() uint64 { return t.limit }

// CurrentUsage returns the number of bytes presently allocated.
func (t *MemoryTracker) CurrentUsage() uint64 { return t.current.Load() }

// PeakUsage returns the highest CurrentUsage observed since creation or
// the last ResetPeak.
func (t *MemoryTracker) PeakUsage() uint64 { return t.peak.Load() }

// Available returns the remaining budget.
func (t *MemoryTracker) Available() uint64 {
	current := t.current.Load()
	if current >= t.limit {
		return 0
	}

	return t.limit - current
}

// CanAllocate reports whether n additional bytes would fit the budget.
func (t *MemoryTracker) CanAllocate(n uint64) bool {
	return t.current.Load()+n <= t.limit
}

// Allocate reserves n bytes against the budget, returning a guard the
// caller must Release when the memory is freed. It retries its
// compare-and-swap under concurrent contention.
func (t *MemoryTracker) Allocate(n uint64) (*MemoryGuard, error) {
	for {
		current := t.current.Load()

		newUsage := current + n
		if newUsage < current {
			return nil, &ResourceLimitExceededError{Msg: "memory allocation overflow"}
		}

		if newUsage > t.limit {
			return nil, &ResourceLimitExceededError{Msg: "memory limit exceeded"}
		}

		if t.current.CompareAndSwap(current, newUsage) {
			for {
				peak := t.peak.Load()
				if newUsage <= peak || t.peak.CompareAndSwap(peak, newUsage) {
					break
				}
			}

			return &MemoryGuard{tracker: t, bytes: n}, nil
		}
	}
}

// TryAllocate is Allocate without an error return: it reports ok=false
// instead of failing.
func (t *MemoryTracker) TryAllocate(n uint64) (guard *MemoryGuard, ok bool) {
	g, err := t.Allocate(n)
	if err != nil {
		return nil, false
	}

	return g, true
}

// Reset zeroes current usage. Only safe to call once every outstanding
// guard has been released.
func (t *MemoryTracker) Reset() { t.current.Store(0) }

// ResetPeak rewinds PeakUsage down to the current usage.
func (t *MemoryTracker) ResetPeak() { t.peak.Store(t.current.Load()) }

func (t *MemoryTracker) release(n uint64) { t.current.Add(^(n - 1)) } // n -= n via two's complement

// MemoryGuard represents an outstanding allocation against a
// [MemoryTracker]. Release must be called exactly once.
type MemoryGuard struct {
	tracker  *MemoryTracker
	bytes    uint64
	released bool
}

// Bytes returns the number of bytes this guard holds.
func (g *MemoryGuard) Bytes() uint64 { return g.bytes }

// Release returns the held bytes to the tracker's budget. Calling it more
// than once is a no-op.
func (g *MemoryGuard) Release() {
	if g.released {
		return
	}

	g.released = true
	g.tracker.release(g.bytes)
}

// Forget releases this guard's bookkeeping without returning the bytes to
// the budget, for callers transferring ownership of the accounted memory
// elsewhere.
func (g *MemoryGuard) Forget() uint64 {
	g.released = true

	return g.bytes
}
