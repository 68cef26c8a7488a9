package sevenzip

import (
	"io"
	"math/bits"
	"sync/atomic"
)

// ResourceLimits holds caps on what an archive is allowed to ask for.
// Header parsing applies header.go's own inline limits and does not read
// this struct; [Reader.Extract] applies MaxEntryUnpackedBytes, where zero
// means no cap. [DefaultResourceLimits] copies header.go's parser limits
// into the matching fields; callers that need tighter caps construct
// their own.
type ResourceLimits struct {
	MaxEntryUnpackedBytes uint64
	MaxTotalUnpackedBytes uint64
	MaxRatio              uint32 // 0 means unlimited
	MaxFolders            int
	MaxCodersPerFolder    int
	MaxPackedStreams      int
	MaxEntryCount         int
	MaxHeaderSize         int64
	MaxNameLength         int
}

// DefaultResourceLimits mirrors the constants header.go already enforces
// during parsing.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxEntryUnpackedBytes: 0,
		MaxTotalUnpackedBytes: 0,
		MaxRatio:              0,
		MaxFolders:            maxFoldersLimit,
		MaxCodersPerFolder:    maxCodersInFolder,
		MaxPackedStreams:      maxPackedStreams,
		MaxEntryCount:         maxFilesLimit,
		MaxHeaderSize:         0,
		MaxNameLength:         1 << 16,
	}
}

// LimitedReader wraps a reader and enforces three independent caps: a
// per-entry byte cap, a cumulative cap shared across entries via an
// atomic counter, and a compression-ratio cap checked by multiplication
// to avoid the truncation a division-based check would have.
type LimitedReader struct {
	r              io.Reader
	maxEntryBytes  uint64
	bytesRead      uint64
	compressedSize uint64
	maxRatio       uint32 // 0 means unlimited
	total          *atomic.Uint64
	maxTotalBytes  uint64
}

// NewLimitedReader wraps r with no limits configured; use the With*
// methods to add caps before reading.
func NewLimitedReader(r io.Reader) *LimitedReader {
	return &LimitedReader{r: r}
}

// WithMaxEntryBytes sets the per-entry uncompressed byte cap.
func (lr *LimitedReader) WithMaxEntryBytes(max uint64) *LimitedReader {
	lr.maxEntryBytes = max

	return lr
}

// WithRatio sets the compressed size of the underlying stream and the
// maximum allowed uncompressed:compressed ratio.
func (lr *LimitedReader) WithRatio(compressedSize uint64, maxRatio uint32) *LimitedReader {
	lr.compressedSize = compressedSize
	lr.maxRatio = maxRatio

	return lr
}

// WithTotalTracker shares a cumulative byte counter across multiple
// LimitedReaders, capping their combined output at maxTotal.
func (lr *LimitedReader) WithTotalTracker(total *atomic.Uint64, maxTotal uint64) *LimitedReader {
	lr.total = total
	lr.maxTotalBytes = maxTotal

	return lr
}

// BytesRead returns the number of bytes read from this entry so far.
func (lr *LimitedReader) BytesRead() uint64 {
	return lr.bytesRead
}

func (lr *LimitedReader) Read(p []byte) (int, error) {
	n, err := lr.r.Read(p)
	if n == 0 {
		return n, err //nolint:wrapcheck
	}

	lr.bytesRead += uint64(n) //nolint:gosec

	if lr.maxEntryBytes > 0 && lr.bytesRead > lr.maxEntryBytes {
		return n, &ResourceLimitExceededError{Msg: "entry uncompressed size exceeds limit"}
	}

	if lr.maxRatio > 0 && lr.compressedSize > 0 {
		hi, maxAllowed := bits.Mul64(uint64(lr.maxRatio), lr.compressedSize)
		if hi != 0 {
			maxAllowed = ^uint64(0)
		}

		if lr.bytesRead > maxAllowed {
			return n, &ResourceLimitExceededError{Msg: "compression ratio exceeds limit"}
		}
	}

	if lr.total != nil {
		total := lr.total.Add(uint64(n)) //nolint:gosec
		if total > lr.maxTotalBytes {
			return n, &ResourceLimitExceededError{Msg: "cumulative uncompressed size exceeds limit"}
		}
	}

	return n, err //nolint:wrapcheck
}
