package sevenzip

import (
	"bytes"
	"fmt"
	"io"
)

// SfxFormat identifies the executable format of a self-extracting stub,
// detected by its leading magic bytes.
type SfxFormat int

const (
	SfxFormatUnknown SfxFormat = iota
	SfxFormatWindowsPE
	SfxFormatLinuxELF
	SfxFormatMachO
)

func (f SfxFormat) String() string {
	switch f {
	case SfxFormatWindowsPE:
		return "windows-pe"
	case SfxFormatLinuxELF:
		return "linux-elf"
	case SfxFormatMachO:
		return "macho"
	default:
		return "unknown"
	}
}

// DetectSfxFormat inspects stub's leading bytes and reports its
// executable format, or [SfxFormatUnknown] if none is recognised.
func DetectSfxFormat(stub []byte) SfxFormat {
	switch {
	case len(stub) >= 2 && stub[0] == 'M' && stub[1] == 'Z':
		return SfxFormatWindowsPE
	case len(stub) >= 4 && bytes.Equal(stub[:4], []byte{0x7f, 'E', 'L', 'F'}):
		return SfxFormatLinuxELF
	case len(stub) >= 4 && (bytes.Equal(stub[:4], []byte{0xfe, 0xed, 0xfa, 0xce}) ||
		bytes.Equal(stub[:4], []byte{0xce, 0xfa, 0xed, 0xfe}) ||
		bytes.Equal(stub[:4], []byte{0xfe, 0xed, 0xfa, 0xcf}) ||
		bytes.Equal(stub[:4], []byte{0xcf, 0xfa, 0xed, 0xfe})):
		return SfxFormatMachO
	default:
		return SfxFormatUnknown
	}
}

// SfxConfig is the optional `;!@Install@!UTF-8!` text block 7-Zip SFX
// stubs read to customise installer behaviour.
type SfxConfig struct {
	Title       string
	RunProgram  string
	ShowProgress bool
}

// NewSfxConfig returns an empty configuration; use the With* methods to
// populate it.
func NewSfxConfig() SfxConfig { return SfxConfig{} }

func (c SfxConfig) WithTitle(title string) SfxConfig {
	c.Title = title

	return c
}

func (c SfxConfig) WithRunProgram(program string) SfxConfig {
	c.RunProgram = program

	return c
}

func (c SfxConfig) WithProgress(show bool) SfxConfig {
	c.ShowProgress = show

	return c
}

// Encode serialises the config block, or returns nil if there is nothing
// to configure.
func (c SfxConfig) Encode() []byte {
	if c.Title == "" && c.RunProgram == "" && !c.ShowProgress {
		return nil
	}

	var b bytes.Buffer

	b.WriteString(";!@Install@!UTF-8!\n")

	if c.Title != "" {
		fmt.Fprintf(&b, "Title=%q\n", c.Title)
	}

	if c.RunProgram != "" {
		fmt.Fprintf(&b, "RunProgram=%q\n", c.RunProgram)
	}

	if c.ShowProgress {
		b.WriteString("Progress=\"yes\"\n")
	}

	b.WriteString(";!@InstallEnd@!\n")

	return b.Bytes()
}

// SfxInfo describes where the 7z payload begins within a detected SFX
// file.
type SfxInfo struct {
	ArchiveOffset int64
	StubSize      int64
	Format        SfxFormat
}

// DetectSFX scans r (which must begin at offset 0) for the 7z signature
// and reports the offset at which the archive proper begins. A zero
// offset means r is already a plain (non-SFX) archive.
func DetectSFX(r io.ReaderAt, size int64) (*SfxInfo, error) {
	offsets, err := FindAllSignatures(r, size, 1<<20)
	if err != nil {
		return nil, err
	}

	if len(offsets) == 0 {
		return nil, ErrInvalidFormat
	}

	offset := offsets[0]

	info := &SfxInfo{ArchiveOffset: offset, StubSize: offset}

	if offset == 0 {
		return info, nil
	}

	stub := make([]byte, offset)
	if _, err := r.ReadAt(stub, 0); err != nil {
		return nil, fmt.Errorf("sevenzip: error reading SFX stub: %w", err)
	}

	info.Format = DetectSfxFormat(stub)

	return info, nil
}

// BuildSFX writes stub, then config's encoded block (if any), then
// archive, to out, returning the total bytes written.
func BuildSFX(out io.Writer, stub []byte, config *SfxConfig, archive io.Reader) (int64, error) {
	if len(stub) == 0 {
		return 0, &UnsupportedFeatureError{Feature: "SFX build with empty stub"}
	}

	n, err := out.Write(stub)
	total := int64(n)

	if err != nil {
		return total, fmt.Errorf("sevenzip: error writing SFX stub: %w", err)
	}

	if config != nil {
		if block := config.Encode(); len(block) > 0 {
			n, err := out.Write(block)
			total += int64(n)

			if err != nil {
				return total, fmt.Errorf("sevenzip: error writing SFX config block: %w", err)
			}
		}
	}

	written, err := io.Copy(out, archive)
	total += written

	if err != nil {
		return total, fmt.Errorf("sevenzip: error writing SFX archive payload: %w", err)
	}

	return total, nil
}
