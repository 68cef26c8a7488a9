package sevenzip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// volumePathFor returns the ".NNN"-suffixed path for volume num (1-indexed)
// given base, the path with any ".NNN" suffix already stripped.
func volumePathFor(base string, num int) string {
	return fmt.Sprintf("%s.%03d", base, num)
}

// volumeBasePath strips a trailing ".NNN" volume suffix from name, or
// returns it unchanged if it doesn't have one.
func volumeBasePath(name string) (base string, isVolume bool) {
	ext := filepath.Ext(name)
	if len(ext) != 4 || ext[0] != '.' {
		return name, false
	}

	if _, err := strconv.Atoi(ext[1:]); err != nil {
		return name, false
	}

	return strings.TrimSuffix(name, ext), true
}

// ListVolumes detects every sequential ".NNN" volume file belonging to
// the archive named by name (which may be either the first volume, e.g.
// "archive.7z.001", or the unsuffixed base "archive.7z"), returning their
// paths in order and their sizes.
func ListVolumes(fsys afero.Fs, name string) (paths []string, sizes []int64, err error) {
	base, _ := volumeBasePath(name)

	for i := 1; ; i++ {
		path := volumePathFor(base, i)

		info, statErr := fsys.Stat(path)
		if statErr != nil {
			if i == 1 {
				return nil, nil, &InvalidArchivePathError{Reason: "no volume files found for " + name}
			}

			break
		}

		paths = append(paths, path)
		sizes = append(sizes, info.Size())
	}

	return paths, sizes, nil
}

// signatureHeaderSize is the fixed byte length of a signatureHeader
// followed by a startHeader: 6+1+1+4 (signatureHeader) + 8+8+4
// (startHeader).
const signatureHeaderSize = 32

// ValidateVolumeSequence reads the signature/start header from the first
// volume and checks enough subsequent volumes exist to cover the
// declared next-header offset and size, returning a
// [*VolumeMissingError] naming the first missing volume if not.
func ValidateVolumeSequence(fsys afero.Fs, name string) error {
	base, _ := volumeBasePath(name)

	paths, sizes, err := ListVolumes(fsys, name)
	if err != nil {
		return err
	}

	f, err := fsys.Open(paths[0])
	if err != nil {
		return fmt.Errorf("sevenzip: error opening first volume: %w", err)
	}
	defer f.Close()

	buf := make([]byte, signatureHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return fmt.Errorf("sevenzip: error reading first volume's header: %w", err)
	}

	if !bytes.Equal(buf[:6], sevenZipSignature) {
		return ErrInvalidFormat
	}

	offset := binary.LittleEndian.Uint64(buf[12:20])
	size := binary.LittleEndian.Uint64(buf[20:28])
	expected := uint64(signatureHeaderSize) + offset + size

	var cumulative uint64

	for _, sz := range sizes {
		cumulative += uint64(sz)
		if cumulative >= expected {
			return nil
		}
	}

	missing := len(paths) + 1

	return &VolumeMissingError{
		Volume: missing,
		Path:   volumePathFor(base, missing),
		Source: errors.New("volume file not found"),
	}
}

// VolumeWriter splits a single logical byte stream across fixed-size
// ".NNN" volume files, opening a new file once the configured size is
// reached.
type VolumeWriter struct {
	fsys           afero.Fs
	base           string
	volumeSize     int64
	current        afero.File
	currentVolume  int
	currentWritten int64
	totalWritten   int64
	completedSizes []int64
}

// NewVolumeWriter creates the first volume file at base+".001" and
// returns a writer that rolls over to a new file every volumeSize bytes.
func NewVolumeWriter(fsys afero.Fs, base string, volumeSize int64) (*VolumeWriter, error) {
	if volumeSize <= 0 {
		return nil, &ResourceLimitExceededError{Msg: "volume size must be positive"}
	}

	f, err := fsys.Create(volumePathFor(base, 1))
	if err != nil {
		return nil, fmt.Errorf("sevenzip: error creating first volume: %w", err)
	}

	return &VolumeWriter{fsys: fsys, base: base, volumeSize: volumeSize, current: f, currentVolume: 1}, nil
}

// CurrentVolume returns the 1-indexed volume number being written.
func (w *VolumeWriter) CurrentVolume() int { return w.currentVolume }

// CompletedSizes returns the sizes of every volume finished so far (not
// including the volume currently being written).
func (w *VolumeWriter) CompletedSizes() []int64 { return w.completedSizes }

// TotalWritten returns the cumulative bytes written across all volumes.
func (w *VolumeWriter) TotalWritten() int64 { return w.totalWritten }

func (w *VolumeWriter) Write(p []byte) (int, error) {
	var written int

	for len(p) > 0 {
		remaining := w.volumeSize - w.currentWritten
		if remaining <= 0 {
			if err := w.rollover(); err != nil {
				return written, err
			}

			remaining = w.volumeSize
		}

		chunk := p
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}

		n, err := w.current.Write(chunk)
		written += n
		w.currentWritten += int64(n)
		w.totalWritten += int64(n)

		if err != nil {
			return written, fmt.Errorf("sevenzip: error writing volume %d: %w", w.currentVolume, err)
		}

		p = p[n:]
	}

	return written, nil
}

func (w *VolumeWriter) rollover() error {
	if err := w.current.Close(); err != nil {
		return fmt.Errorf("sevenzip: error closing volume %d: %w", w.currentVolume, err)
	}

	w.completedSizes = append(w.completedSizes, w.currentWritten)
	w.currentVolume++
	w.currentWritten = 0

	f, err := w.fsys.Create(volumePathFor(w.base, w.currentVolume))
	if err != nil {
		return fmt.Errorf("sevenzip: error creating volume %d: %w", w.currentVolume, err)
	}

	w.current = f

	return nil
}

// Close flushes and closes the final volume file.
func (w *VolumeWriter) Close() error {
	w.completedSizes = append(w.completedSizes, w.currentWritten)

	if err := w.current.Close(); err != nil {
		return fmt.Errorf("sevenzip: error closing final volume: %w", err)
	}

	return nil
}
