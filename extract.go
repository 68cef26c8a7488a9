package sevenzip

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ExtractDestination receives entries during [Reader.Extract]. Callers
// that want something other than a plain filesystem tree (an archive
// inspector, a content-addressed store) implement this directly.
type ExtractDestination interface {
	// CreateFile opens path for writing the content of a regular file
	// entry. The caller closes the returned writer.
	CreateFile(path string, mode os.FileMode, modTime time.Time) (io.WriteCloser, error)

	// CreateDir ensures path exists as a directory.
	CreateDir(path string, mode os.FileMode) error

	// CreateSymlink creates a symlink at path pointing at target, for
	// destinations that support it. Return [ErrPathNotSupported] to have
	// the extractor skip symlinks instead of failing the whole
	// operation.
	CreateSymlink(path, target string) error
}

// FsDestination writes entries onto an [afero.Fs]-backed directory tree
// rooted at Root, validated per Safety.
type FsDestination struct {
	Fs     afero.Fs
	Root   string
	Safety PathSafety
}

// NewFsDestination returns a destination rooted at root on the OS
// filesystem with [PathSafetyStrict] validation.
func NewFsDestination(root string) *FsDestination {
	return &FsDestination{Fs: afero.NewOsFs(), Root: root, Safety: PathSafetyStrict}
}

func (d *FsDestination) resolve(path string) (string, error) {
	return validateExtractPath(d.Root, path, d.Safety, -1)
}

func (d *FsDestination) CreateFile(path string, mode os.FileMode, _ time.Time) (io.WriteCloser, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}

	if err := d.Fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("sevenzip: error creating parent directory: %w", err)
	}

	f, err := d.Fs.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error creating %q: %w", full, err)
	}

	return f, nil
}

func (d *FsDestination) CreateDir(path string, mode os.FileMode) error {
	full, err := d.resolve(path)
	if err != nil {
		return err
	}

	if err := d.Fs.MkdirAll(full, mode); err != nil {
		return fmt.Errorf("sevenzip: error creating directory %q: %w", full, err)
	}

	return nil
}

func (d *FsDestination) CreateSymlink(string, string) error {
	return ErrPathNotSupported
}

// ExtractOptions controls an [Reader.Extract] call.
type ExtractOptions struct {
	Progress       ProgressReporter
	Limits         ResourceLimits
	MaxConcurrency int64 // folders decoded in parallel; 0 or less means one folder at a time
	Streaming      StreamingConfig
}

// DefaultExtractOptions returns sane defaults: no progress reporting, the
// package's default resource limits, and four folders decoded
// concurrently.
func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{
		Limits:         DefaultResourceLimits(),
		MaxConcurrency: 4,
		Streaming:      DefaultStreamingConfig(),
	}
}

// ExtractStats summarises an [Reader.Extract] run.
type ExtractStats struct {
	EntriesExtracted int
	BytesExtracted   uint64
	Failures         error // an aggregated *multierror.Error, or nil
}

// Extract writes every regular-file entry in z to dest. File anti-items
// are skipped (they only make sense when layering incremental volumes
// onto an existing tree); every directory entry, anti-item directories
// included, is passed to dest.CreateDir. Folders are decoded
// concurrently up to opts.MaxConcurrency; entries within a folder are
// written in archive order since a solid folder's stream must be read
// sequentially.
func (z *Reader) Extract(ctx context.Context, dest ExtractDestination, opts ExtractOptions) (*ExtractStats, error) {
	if opts.Progress == nil {
		opts.Progress = NoProgress{}
	}

	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}

	var total uint64
	for _, f := range z.File {
		if !f.IsAnti() && !f.FileInfo().IsDir() {
			total += f.UncompressedSize
		}
	}

	opts.Progress.OnTotal(total)

	byFolder := make(map[int][]int)
	order := make([]int, 0, len(z.File))

	for i, f := range z.File {
		if f.IsAnti() {
			continue
		}

		order = append(order, i)

		if !f.FileInfo().IsDir() {
			byFolder[f.Stream] = append(byFolder[f.Stream], i)
		}
	}

	for i := range z.File {
		if z.File[i].FileInfo().IsDir() {
			if err := dest.CreateDir(z.File[i].Name, z.File[i].FileInfo().Mode()); err != nil {
				return nil, fmt.Errorf("sevenzip: error creating directory for entry %d: %w", i, err)
			}
		}
	}

	stats := &ExtractStats{}

	sem := semaphore.NewWeighted(opts.MaxConcurrency)
	grp, grpCtx := errgroup.WithContext(ctx)

	var (
		mu   sync.Mutex
		merr *multierror.Error
	)

	for folder, indices := range byFolder {
		folder, indices := folder, indices

		if err := sem.Acquire(grpCtx, 1); err != nil {
			break
		}

		grp.Go(func() error {
			defer sem.Release(1)

			n, err := z.extractFolderEntries(grpCtx, dest, indices, opts)

			mu.Lock()
			stats.BytesExtracted += n

			if err != nil {
				merr = multierror.Append(merr, fmt.Errorf("sevenzip: folder %d: %w", folder, err))
			}
			mu.Unlock()

			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return stats, fmt.Errorf("sevenzip: extraction cancelled: %w", err)
	}

	stats.EntriesExtracted = len(order)
	stats.Failures = merr.ErrorOrNil()

	return stats, nil
}

func (z *Reader) extractFolderEntries(
	ctx context.Context, dest ExtractDestination, indices []int, opts ExtractOptions,
) (uint64, error) {
	var (
		written  uint64
		failures *multierror.Error
	)

	for _, idx := range indices {
		if ctx.Err() != nil {
			return written, ctx.Err() //nolint:wrapcheck
		}

		if opts.Progress.ShouldCancel() {
			return written, ErrCancelled
		}

		f := z.File[idx]

		n, err := z.extractOne(f, dest, opts)
		written += n

		opts.Progress.OnEntryComplete(f.Name, err == nil)

		if err != nil {
			if opts.Limits.MaxEntryCount > 0 {
				// A single corrupt entry still counts against the
				// caller's patience; report and move on rather than
				// aborting the whole folder, since a solid folder's
				// remaining entries are independent once decoded.
				opts.Progress.OnWarning(fmt.Sprintf("entry %q: %v", f.Name, err))
			}

			failures = multierror.Append(failures, err)

			continue
		}

		opts.Progress.OnProgress(written, 0)
	}

	return written, failures.ErrorOrNil()
}

func (z *Reader) extractOne(f *File, dest ExtractDestination, opts ExtractOptions) (uint64, error) {
	opts.Progress.OnEntryStart(f.Name, f.UncompressedSize)

	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("sevenzip: error opening entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	w, err := dest.CreateFile(f.Name, f.FileInfo().Mode(), f.Modified)
	if err != nil {
		return 0, err
	}
	defer w.Close()

	limited := NewLimitedReader(rc)
	if opts.Limits.MaxEntryUnpackedBytes > 0 {
		limited = limited.WithMaxEntryBytes(opts.Limits.MaxEntryUnpackedBytes)
	}

	n, err := io.Copy(w, limited)
	if err != nil {
		return uint64(n), fmt.Errorf("sevenzip: error writing entry %q: %w", f.Name, err) //nolint:gosec
	}

	return uint64(n), nil //nolint:gosec
}
