package sevenzip

import (
	"errors"
	"fmt"
)

// Sentinel errors that don't carry additional context.
var (
	ErrInvalidFormat    = errors.New("sevenzip: invalid format")
	ErrInvalidPassword  = errors.New("sevenzip: invalid password")
	ErrMissingPassword  = errors.New("sevenzip: password required")
	ErrCancelled        = errors.New("sevenzip: operation cancelled")
	ErrVolumeSequence   = errors.New("sevenzip: volumes must be opened in sequence")
	ErrPathNotSupported = errors.New("sevenzip: destination does not support this path")
)

// CorruptHeaderError reports a malformed header at a known byte offset.
type CorruptHeaderError struct {
	Offset int64
	Reason string
}

func (e *CorruptHeaderError) Error() string {
	return fmt.Sprintf("sevenzip: corrupt header at offset %d: %s", e.Offset, e.Reason)
}

// UnsupportedFeatureError reports a well-formed but unimplemented feature.
type UnsupportedFeatureError struct {
	Feature string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("sevenzip: unsupported feature: %s", e.Feature)
}

// CrcMismatchError reports a checksum failure for a specific location
// (an entry path, a header, or a folder).
type CrcMismatchError struct {
	Declared uint32
	Computed uint32
	Location string
}

func (e *CrcMismatchError) Error() string {
	return fmt.Sprintf("sevenzip: crc mismatch at %s: declared %08x, computed %08x",
		e.Location, e.Declared, e.Computed)
}

// PathTraversalError reports an entry whose archive path escapes the
// configured extraction root under [PathSafety] Strict or Relaxed.
type PathTraversalError struct {
	EntryIndex int
	Path       string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("sevenzip: path traversal rejected for entry %d: %q", e.EntryIndex, e.Path)
}

// InvalidArchivePathError reports a path that fails normalisation before
// any destination is even consulted (absolute path, embedded NUL, unpaired
// surrogate, name too long).
type InvalidArchivePathError struct {
	Reason string
}

func (e *InvalidArchivePathError) Error() string {
	return fmt.Sprintf("sevenzip: invalid archive path: %s", e.Reason)
}

// ResourceLimitExceededError reports a configured or hard-coded resource
// limit violation. Msg names the offending field.
type ResourceLimitExceededError struct {
	Msg string
}

func (e *ResourceLimitExceededError) Error() string {
	return fmt.Sprintf("sevenzip: resource limit exceeded: %s", e.Msg)
}

// VolumeMissingError reports a multi-volume archive with a gap in its
// sequential volume numbering.
type VolumeMissingError struct {
	Volume int
	Path   string
	Source error
}

func (e *VolumeMissingError) Error() string {
	return fmt.Sprintf("sevenzip: volume %d missing (expected %s)", e.Volume, e.Path)
}

func (e *VolumeMissingError) Unwrap() error {
	return e.Source
}

// InvalidRegexError reports a malformed filter pattern supplied to a
// FilterPolicy.
type InvalidRegexError struct {
	Pattern string
	Reason  string
}

func (e *InvalidRegexError) Error() string {
	return fmt.Sprintf("sevenzip: invalid pattern %q: %s", e.Pattern, e.Reason)
}
