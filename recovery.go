package sevenzip

import (
	"bytes"
	"fmt"
	"io"
)

// RecoveryOptions controls how [RecoverArchive] scans for and validates
// a damaged or truncated archive.
type RecoveryOptions struct {
	// SearchLimit bounds how far into the stream the signature scan
	// looks before giving up.
	SearchLimit int64

	// ValidateCRCs checks each recovered entry's declared checksum is
	// present (full byte-for-byte verification happens on read).
	ValidateCRCs bool

	// SkipCorruptEntries continues past an entry that fails validation
	// instead of aborting the whole recovery.
	SkipCorruptEntries bool
}

// DefaultRecoveryOptions matches 7-Zip's own damaged-archive recovery
// defaults: a 1MiB signature search and CRC validation on.
func DefaultRecoveryOptions() RecoveryOptions {
	return RecoveryOptions{SearchLimit: 1 << 20, ValidateCRCs: true}
}

// RecoveryStatus summarises the outcome of a [RecoverArchive] call.
type RecoveryStatus int

const (
	// RecoveryFull reports every entry recovered cleanly.
	RecoveryFull RecoveryStatus = iota
	// RecoveryPartial reports a mix of recovered and failed entries.
	RecoveryPartial
	// RecoveryHeaderOnly reports the header parsed but no entry
	// recovered.
	RecoveryHeaderOnly
	// RecoveryFailed reports the archive could not be opened at all.
	RecoveryFailed
)

// RecoveredEntry is a successfully validated entry found during
// recovery.
type RecoveredEntry struct {
	Path     string
	Size     uint64
	CRCValid bool
	Index    int
}

// FailedEntry is an entry recovery gave up on.
type FailedEntry struct {
	Path   string // empty if the path itself couldn't be determined
	Reason string
	Index  int
}

// RecoveryResult is the outcome of a [RecoverArchive] call.
type RecoveryResult struct {
	Archive          *Reader
	Status           RecoveryStatus
	RecoveredEntries []RecoveredEntry
	FailedEntries    []FailedEntry
	Warnings         []string
	ArchiveOffset    int64
}

// RecoveredCount returns the number of successfully recovered entries.
func (r *RecoveryResult) RecoveredCount() int { return len(r.RecoveredEntries) }

// FailedCount returns the number of entries that could not be recovered.
func (r *RecoveryResult) FailedCount() int { return len(r.FailedEntries) }

// TotalEntries returns RecoveredCount + FailedCount.
func (r *RecoveryResult) TotalEntries() int { return r.RecoveredCount() + r.FailedCount() }

// RecoveryRate returns the fraction of entries recovered, or 1 when
// there were none to recover.
func (r *RecoveryResult) RecoveryRate() float64 {
	total := r.TotalEntries()
	if total == 0 {
		return 1
	}

	return float64(r.RecoveredCount()) / float64(total)
}

var sevenZipSignature = []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c} //nolint:gochecknoglobals

// FindAllSignatures scans r (up to searchLimit bytes, or 1MiB if 0) for
// every occurrence of the 7z magic, useful for locating embedded or
// backup headers in a damaged file.
func FindAllSignatures(r io.ReaderAt, size int64, searchLimit int64) ([]int64, error) {
	if searchLimit <= 0 {
		searchLimit = 1 << 20
	}

	if searchLimit > size {
		searchLimit = size
	}

	const chunk = 4096

	buf := make([]byte, chunk+len(sevenZipSignature))

	var offsets []int64

	for offset := int64(0); offset < searchLimit; offset += chunk {
		n, err := r.ReadAt(buf, offset)

		for i := 0; ; {
			idx := bytes.Index(buf[i:n], sevenZipSignature)
			if idx == -1 {
				break
			}

			offsets = append(offsets, offset+int64(i+idx))
			i += idx + 1
		}

		if err != nil {
			if err == io.EOF { //nolint:errorlint
				break
			}

			return offsets, fmt.Errorf("sevenzip: error scanning for signature: %w", err)
		}
	}

	return offsets, nil
}

// IsValidArchive performs the cheapest possible validity check: does the
// stream begin with the 7z signature.
func IsValidArchive(r io.ReaderAt) bool {
	sig := make([]byte, len(sevenZipSignature))

	n, err := r.ReadAt(sig, 0)
	if err != nil || n != len(sig) {
		return false
	}

	return bytes.Equal(sig, sevenZipSignature)
}

// RecoverArchive attempts to open a possibly-damaged archive: it scans
// for a signature, opens the archive at that offset, and validates every
// entry, reporting per-entry success or failure rather than failing the
// whole operation on the first bad entry.
func RecoverArchive(r io.ReaderAt, size int64, options RecoveryOptions) (*RecoveryResult, error) {
	if options.SearchLimit <= 0 {
		options.SearchLimit = DefaultRecoveryOptions().SearchLimit
	}

	offsets, err := FindAllSignatures(r, size, options.SearchLimit)
	if err != nil {
		return nil, err
	}

	if len(offsets) == 0 {
		return &RecoveryResult{
			Status:   RecoveryFailed,
			Warnings: []string{"no 7z signature found in stream"},
		}, nil
	}

	offset := offsets[0]

	var warnings []string

	if offset > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"archive signature found at offset %d (possible SFX stub or leading corruption)", offset))
	}

	archive, err := NewReader(io.NewSectionReader(r, 0, size), size)
	if err != nil {
		return &RecoveryResult{
			Status:        RecoveryFailed,
			Warnings:      append(warnings, fmt.Sprintf("failed to open archive: %v", err)),
			ArchiveOffset: offset,
		}, nil //nolint:nilerr
	}

	var (
		recovered []RecoveredEntry
		failed    []FailedEntry
	)

	for i, f := range archive.File {
		if f.FileInfo().IsDir() {
			recovered = append(recovered, RecoveredEntry{Path: f.Name, CRCValid: true, Index: i})

			continue
		}

		crcValid := !options.ValidateCRCs || f.CRC32 != 0 || f.UncompressedSize == 0

		if !crcValid {
			failed = append(failed, FailedEntry{Path: f.Name, Reason: "missing CRC", Index: i})

			if !options.SkipCorruptEntries {
				continue
			}
		}

		recovered = append(recovered, RecoveredEntry{
			Path: f.Name, Size: f.UncompressedSize, CRCValid: crcValid, Index: i,
		})
	}

	status := RecoveryFull

	switch {
	case len(failed) > 0 && len(recovered) == 0:
		status = RecoveryHeaderOnly
	case len(failed) > 0:
		status = RecoveryPartial
	}

	return &RecoveryResult{
		Archive:          archive,
		Status:           status,
		RecoveredEntries: recovered,
		FailedEntries:    failed,
		Warnings:         warnings,
		ArchiveOffset:    offset,
	}, nil
}
