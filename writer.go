package sevenzip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
	"time"

	"github.com/go-sevenzip/sevenzip/internal/aes7z"
	"github.com/go-sevenzip/sevenzip/internal/bcj2"
	"github.com/go-sevenzip/sevenzip/internal/bra"
	"github.com/go-sevenzip/sevenzip/internal/brotli"
	"github.com/go-sevenzip/sevenzip/internal/bzip2"
	"github.com/go-sevenzip/sevenzip/internal/deflate"
	"github.com/go-sevenzip/sevenzip/internal/delta"
	"github.com/go-sevenzip/sevenzip/internal/lz4"
	"github.com/go-sevenzip/sevenzip/internal/lzma2"
	"github.com/go-sevenzip/sevenzip/internal/ppmd"
	"github.com/go-sevenzip/sevenzip/internal/zstd"
)

var (
	errWriterClosed  = errors.New("sevenzip: writer already closed")
	errEmptyFolder   = errors.New("sevenzip: folder needs at least one entry")
	errDuplicateName = errors.New("sevenzip: duplicate entry name")
)

// defaultFileAttributes and defaultDirAttributes record a POSIX mode in
// the high half of the Windows-shaped attributes field, the convention
// struct.go's Mode already decodes (the 0xf0000000 test there is really
// "does this look like sIFREG|0644 shifted up", which it does for any
// unix mode that carries a file-type bit).
func unixAttributes(sifmt uint32, perm uint32) uint32 {
	return (sifmt | perm) << 16
}

var (
	defaultFileAttributes = unixAttributes(sIFREG, 0o644) //nolint:gochecknoglobals
	defaultDirAttributes  = unixAttributes(sIFDIR, 0o755)  //nolint:gochecknoglobals
)

// Method selects a folder's base codec.
type Method int

const (
	// MethodLZMA2 is the default: 7-Zip's modern general-purpose codec.
	MethodLZMA2 Method = iota

	// MethodCopy stores data unmodified.
	MethodCopy

	// MethodBZip2 compresses with bzip2.
	MethodBZip2

	// MethodDeflate compresses with DEFLATE.
	MethodDeflate

	// MethodZstd compresses with Zstandard.
	MethodZstd

	// MethodLZ4 compresses with LZ4.
	MethodLZ4

	// MethodBrotli compresses with Brotli.
	MethodBrotli

	// MethodPPMd compresses with the order-1 PPMd model internal/ppmd
	// implements.
	MethodPPMd
)

// Filter selects an optional pre-compression transform applied before
// the folder's [Method] codec runs.
type Filter int

const (
	// FilterNone applies no filter.
	FilterNone Filter = iota

	// FilterDelta replaces each byte with its difference from the byte
	// one position back.
	FilterDelta

	// FilterBCJX86 applies the x86 branch-converter filter.
	FilterBCJX86

	// FilterBCJARM applies the ARM branch-converter filter.
	FilterBCJARM

	// FilterBCJARM64 applies the ARM64 branch-converter filter.
	FilterBCJARM64

	// FilterBCJPPC applies the PowerPC branch-converter filter.
	FilterBCJPPC

	// FilterBCJSPARC applies the SPARC branch-converter filter.
	FilterBCJSPARC

	// FilterBCJ2 applies the four-stream x86 BCJ2 filter. Unlike the
	// other filters it replaces [Writer]'s usual single-coder-chain
	// folder shape with BCJ2's own four-input graph, and it composes
	// with [Method] differently: main/call/jump are each compressed
	// independently with the selected Method rather than chained after
	// it. This writer's BCJ2 stage never rewrites a call/jump target
	// (see internal/bcj2's Writer), so it never gets BCJ2's usual ratio
	// gain; it exists for round-trip compatibility with archives that
	// need the coder present.
	FilterBCJ2
)

// GroupFunc assigns an entry to a solid group: entries created via
// [Writer.Create] (rather than an explicit [Writer.CreateSolid] batch)
// that return the same, non-empty key are compressed together in the
// order they were created, provided nothing from a different group was
// created in between.
type GroupFunc func(FileHeader) string

// WriterOption configures a [Writer] at construction time.
type WriterOption func(*Writer)

// WithGroupFunc installs fn as the archive's grouping policy; see
// [GroupFunc].
func WithGroupFunc(fn GroupFunc) WriterOption {
	return func(z *Writer) { z.groupFunc = fn }
}

// WithDictCap overrides the LZMA2 dictionary size (in bytes) used for
// every folder.
func WithDictCap(n int) WriterOption {
	return func(z *Writer) {
		if n > 0 {
			z.dictCap = n
		}
	}
}

// WithMethod selects the base codec used for every folder. The default
// is [MethodLZMA2].
func WithMethod(m Method) WriterOption {
	return func(z *Writer) { z.method = m }
}

// WithFilter installs a pre-compression filter; see [Filter]. The
// default is [FilterNone].
func WithFilter(f Filter) WriterOption {
	return func(z *Writer) { z.filter = f }
}

// WithLevel sets the codec compression level on a 0..9 scale (not every
// codec honours every value; out-of-range and zero values fall back to
// a mid-range default).
func WithLevel(level int) WriterOption {
	return func(z *Writer) { z.level = level }
}

// WithSolid compresses consecutive entries created via [Writer.Create]
// together in one solid folder when no [GroupFunc] is installed; a
// [Writer.CreateDir], [Writer.CreateAnti] or [Writer.CreateSolid] call in
// between starts a new folder. With a GroupFunc installed it has no
// effect, and entries the GroupFunc leaves ungrouped get their own
// folders.
func WithSolid(solid bool) WriterOption {
	return func(z *Writer) { z.solid = solid }
}

// WithDeterministic makes [Writer.Close] stable-sort entries by name
// and zero every timestamp, so two runs over the same input produce a
// byte-identical archive.
func WithDeterministic(deterministic bool) WriterOption {
	return func(z *Writer) { z.deterministic = deterministic }
}

// WithComment attaches an archive-level comment, stored in the header's
// file-info block.
func WithComment(comment string) WriterOption {
	return func(z *Writer) { z.comment = comment }
}

// WithEncryptData toggles AES-256 encryption of folder content. It
// defaults to true: once a password is set with [Writer.SetPassword],
// content is encrypted unless this option explicitly disables it (the
// case of wanting [WithEncryptHeader] without also encrypting content).
func WithEncryptData(encrypt bool) WriterOption {
	return func(z *Writer) { z.encryptData = encrypt }
}

// WithEncryptHeader additionally AES-256-encrypts the archive's main
// header (file names, attributes and folder layout), using the same
// password and nonce source as content encryption. It has no effect
// unless a password is set.
func WithEncryptHeader(encrypt bool) WriterOption {
	return func(z *Writer) { z.encryptHeader = encrypt }
}

type bufferedEntry struct {
	hdr  FileHeader
	data bytes.Buffer
}

// Writer builds a 7z archive one call at a time, buffering entry content
// in memory and compressing only once [Writer.Close] knows the full
// shape of the archive: the pack-stream offsets the signature header
// records have to be known before that header, the very first thing in
// the file, can be written.
type Writer struct {
	w             io.Writer
	entries       []*bufferedEntry
	groups        [][]*bufferedEntry
	openGroup     string // groupFunc key of groups[len(groups)-1], meaningful only if openGroupSet
	openGroupSet  bool
	names         map[string]struct{}
	password      string
	nonce         NonceSource
	groupFunc     GroupFunc
	dictCap       int
	method        Method
	filter        Filter
	level         int
	solid         bool
	deterministic bool
	comment       string
	encryptData   bool
	encryptHeader bool
	closed        bool
}

// NewWriter returns a Writer that emits an archive to w as Close is
// called. w need not be seekable.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	z := &Writer{
		w:           w,
		names:       make(map[string]struct{}),
		dictCap:     lzma2.DefaultDictCap,
		encryptData: true,
	}

	for _, opt := range opts {
		opt(z)
	}

	return z
}

// SetPassword enables AES-256 content encryption, using
// [DefaultNonceSource] for salt/IV generation. Folders are only
// compressed by [Writer.Close], so the password in effect at Close
// applies to every folder, whenever its entries were created. Pass an empty string to disable encryption again.
// Whether encryption actually applies to folder content is governed
// separately by [WithEncryptData] (true by default).
func (z *Writer) SetPassword(password string) {
	z.password = password

	if password != "" {
		z.nonce = DefaultNonceSource()
	} else {
		z.nonce = nil
	}
}

// SetNonceSource overrides the default [RandomNonceSource] used once a
// password is set, useful for deterministic tests.
func (z *Writer) SetNonceSource(nonce NonceSource) {
	z.nonce = nonce
}

func (z *Writer) reserveName(name string) error {
	if _, dup := z.names[name]; dup {
		return fmt.Errorf("%w: %q", errDuplicateName, name)
	}

	z.names[name] = struct{}{}

	return nil
}

func defaultedAttributes(hdr *FileHeader, dir bool) uint32 {
	if hdr.Attributes != 0 {
		return hdr.Attributes
	}

	if dir {
		return defaultDirAttributes
	}

	return defaultFileAttributes
}

// CreateDir records an empty directory entry. hdr's Name and Modified
// are used; its Attributes, if zero, default to a Unix rwxr-xr-x mode.
func (z *Writer) CreateDir(hdr FileHeader) error {
	if z.closed {
		return errWriterClosed
	}

	if err := z.reserveName(hdr.Name); err != nil {
		return err
	}

	hdr.Attributes = defaultedAttributes(&hdr, true)
	hdr.isEmptyStream = true

	z.entries = append(z.entries, &bufferedEntry{hdr: hdr})
	z.openGroup, z.openGroupSet = "", false

	return nil
}

// CreateAnti records an anti-item: a stream-less tombstone entry that
// tells an extractor applying an incremental update to delete an entry
// of the same name left behind by an earlier volume.
func (z *Writer) CreateAnti(hdr FileHeader) error {
	if z.closed {
		return errWriterClosed
	}

	if err := z.reserveName(hdr.Name); err != nil {
		return err
	}

	hdr.isEmptyStream = true
	hdr.isAnti = true

	z.entries = append(z.entries, &bufferedEntry{hdr: hdr})
	z.openGroup, z.openGroupSet = "", false

	return nil
}

// Create returns an io.Writer for a single file's content, compressed in
// its own folder unless a [GroupFunc] installed via [WithGroupFunc], or
// [WithSolid], assigns it to an already-open group. The returned writer
// is only valid until [Writer.Close]; content written to it isn't
// compressed or emitted until then.
func (z *Writer) Create(hdr FileHeader) (io.Writer, error) {
	if z.closed {
		return nil, errWriterClosed
	}

	if err := z.reserveName(hdr.Name); err != nil {
		return nil, err
	}

	hdr.Attributes = defaultedAttributes(&hdr, false)

	e := &bufferedEntry{hdr: hdr}
	z.entries = append(z.entries, e)

	var (
		key    string
		hasKey bool
	)

	switch {
	case z.groupFunc != nil:
		key = z.groupFunc(hdr)
		hasKey = key != ""
	case z.solid:
		hasKey = true
	}

	if hasKey && z.openGroupSet && key == z.openGroup {
		last := z.groups[len(z.groups)-1]
		z.groups[len(z.groups)-1] = append(last, e)
	} else {
		z.groups = append(z.groups, []*bufferedEntry{e})
		z.openGroup, z.openGroupSet = key, hasKey
	}

	return &e.data, nil
}

// CreateSolid returns one io.Writer per header, all compressed together
// in the order given: later files benefit from dictionary matches
// against earlier ones in the same batch, and the batch can only be
// decompressed as a whole. Closes any group a prior [Writer.Create] call
// left open for [GroupFunc] appending.
func (z *Writer) CreateSolid(hdrs []FileHeader) ([]io.Writer, error) {
	if z.closed {
		return nil, errWriterClosed
	}

	if len(hdrs) == 0 {
		return nil, errEmptyFolder
	}

	group := make([]*bufferedEntry, len(hdrs))
	writers := make([]io.Writer, len(hdrs))

	for i, hdr := range hdrs {
		if err := z.reserveName(hdr.Name); err != nil {
			return nil, err
		}

		hdr.Attributes = defaultedAttributes(&hdr, false)
		e := &bufferedEntry{hdr: hdr}
		group[i] = e
		writers[i] = &e.data
	}

	z.entries = append(z.entries, group...)
	z.groups = append(z.groups, group)
	z.openGroup, z.openGroupSet = "", false

	return writers, nil
}

// writeAndClose writes p to wc and closes it, wrapping either error with
// enough context to tell which step failed.
func writeAndClose(wc io.WriteCloser, p []byte) error {
	if _, err := wc.Write(p); err != nil {
		return fmt.Errorf("sevenzip: error compressing folder: %w", err)
	}

	if err := wc.Close(); err != nil {
		return fmt.Errorf("sevenzip: error flushing compressor: %w", err)
	}

	return nil
}

// effectiveLevel maps an unset or out-of-range level to a sensible
// mid-range default; every codec here treats 0..9 as "fast..best" but
// none requires every caller to pick one.
func effectiveLevel(level int) int {
	if level <= 0 || level > 9 {
		return 6
	}

	return level
}

// applyFilter runs in through filter, returning the transformed bytes
// and the coder descriptor to record. FilterNone and FilterBCJ2 (handled
// separately by [Writer.encodeBCJ2Folder]) return a nil coder, meaning
// "no stage".
func applyFilter(filter Filter, in []byte) ([]byte, *coder, error) {
	var buf bytes.Buffer

	switch filter {
	case FilterNone, FilterBCJ2:
		return in, nil, nil

	case FilterDelta:
		if err := writeAndClose(delta.NewWriter(&buf, 1), in); err != nil {
			return nil, nil, err
		}

		return buf.Bytes(), makeCoder(append([]byte(nil), idDelta...), delta.Properties(1)), nil

	case FilterBCJX86:
		if err := writeAndClose(bra.NewBCJWriter(&buf), in); err != nil {
			return nil, nil, err
		}

		return buf.Bytes(), makeCoder(append([]byte(nil), idBCJX86...), nil), nil

	case FilterBCJARM:
		if err := writeAndClose(bra.NewARMWriter(&buf), in); err != nil {
			return nil, nil, err
		}

		return buf.Bytes(), makeCoder(append([]byte(nil), idBCJARM...), nil), nil

	case FilterBCJARM64:
		if err := writeAndClose(bra.NewARM64Writer(&buf), in); err != nil {
			return nil, nil, err
		}

		return buf.Bytes(), makeCoder(append([]byte(nil), idBCJARM6...), nil), nil

	case FilterBCJPPC:
		if err := writeAndClose(bra.NewPPCWriter(&buf), in); err != nil {
			return nil, nil, err
		}

		return buf.Bytes(), makeCoder(append([]byte(nil), idBCJPPC...), nil), nil

	case FilterBCJSPARC:
		if err := writeAndClose(bra.NewSPARCWriter(&buf), in); err != nil {
			return nil, nil, err
		}

		return buf.Bytes(), makeCoder(append([]byte(nil), idBCJSPRC...), nil), nil

	default:
		return in, nil, nil
	}
}

// applyBase runs in through method, the folder's primary codec.
//
//nolint:cyclop
func applyBase(method Method, level, dictCap int, in []byte) ([]byte, *coder, error) {
	var buf bytes.Buffer

	switch method {
	case MethodCopy:
		return append([]byte(nil), in...), makeCoder(append([]byte(nil), idCopy...), nil), nil

	case MethodBZip2:
		bw, err := bzip2.NewWriter(&buf, effectiveLevel(level))
		if err != nil {
			return nil, nil, fmt.Errorf("sevenzip: error creating bzip2 writer: %w", err)
		}

		if err := writeAndClose(bw, in); err != nil {
			return nil, nil, err
		}

		return buf.Bytes(), makeCoder(append([]byte(nil), idBZip2...), nil), nil

	case MethodDeflate:
		fw, err := deflate.NewWriter(&buf, effectiveLevel(level))
		if err != nil {
			return nil, nil, fmt.Errorf("sevenzip: error creating deflate writer: %w", err)
		}

		if err := writeAndClose(fw, in); err != nil {
			return nil, nil, err
		}

		return buf.Bytes(), makeCoder(append([]byte(nil), idDeflate...), nil), nil

	case MethodZstd:
		zw, err := zstd.NewWriter(&buf, effectiveLevel(level))
		if err != nil {
			return nil, nil, fmt.Errorf("sevenzip: error creating zstd writer: %w", err)
		}

		if err := writeAndClose(zw, in); err != nil {
			return nil, nil, err
		}

		return buf.Bytes(), makeCoder(append([]byte(nil), idZstd...), nil), nil

	case MethodLZ4:
		lw, err := lz4.NewWriter(&buf, effectiveLevel(level))
		if err != nil {
			return nil, nil, fmt.Errorf("sevenzip: error creating lz4 writer: %w", err)
		}

		if err := writeAndClose(lw, in); err != nil {
			return nil, nil, err
		}

		return buf.Bytes(), makeCoder(append([]byte(nil), idLZ4...), nil), nil

	case MethodBrotli:
		if err := writeAndClose(brotli.NewWriter(&buf, effectiveLevel(level)), in); err != nil {
			return nil, nil, err
		}

		return buf.Bytes(), makeCoder(append([]byte(nil), idBrotli...), nil), nil

	case MethodPPMd:
		if err := writeAndClose(ppmd.NewWriter(&buf), in); err != nil {
			return nil, nil, err
		}

		props := ppmd.Properties(ppmd.DefaultOrder, ppmd.DefaultMemoryMiB)

		return buf.Bytes(), makeCoder(append([]byte(nil), idPPMd...), props), nil

	case MethodLZMA2:
		fallthrough
	default:
		lw, props, err := lzma2.NewWriter(&buf, dictCap)
		if err != nil {
			return nil, nil, fmt.Errorf("sevenzip: error creating lzma2 writer: %w", err)
		}

		if err := writeAndClose(lw, in); err != nil {
			return nil, nil, err
		}

		return buf.Bytes(), makeCoder(append([]byte(nil), idLZMA2...), props), nil
	}
}

// applyAES AES-256-encrypts in using z's password and nonce source,
// returning the ciphertext and the coder descriptor to record. Callers
// must only call this when z.nonce is non-nil.
func (z *Writer) applyAES(in []byte) ([]byte, *coder, error) {
	salt, iv, err := z.nonce.Generate()
	if err != nil {
		return nil, nil, fmt.Errorf("sevenzip: error generating nonce: %w", err)
	}

	var buf bytes.Buffer

	ew, err := aes7z.NewWriter(&buf, z.password, int(z.nonce.NumCyclesPower()), salt, iv[:])
	if err != nil {
		return nil, nil, fmt.Errorf("sevenzip: error creating AES writer: %w", err)
	}

	if err := writeAndClose(ew, in); err != nil {
		return nil, nil, err
	}

	aesCoder := makeCoder(append([]byte(nil), idAES256...), aes7z.Properties(int(z.nonce.NumCyclesPower()), salt, iv[:]))

	return buf.Bytes(), aesCoder, nil
}

type encodeStage struct {
	coder    *coder
	inputLen uint64
}

// encodeFolder runs plain through z's filter, base codec and (if
// enabled) AES-256 in that application order, appends the final bytes
// to packed, and returns the folder descriptor. A folder's coder array
// records decode order, the reverse of encode order, and each coder's
// recorded size is the byte length fed into that stage while encoding
// (the length a decoder of that coder alone would produce) — so the
// stage list built here in encode order is simply reversed to build the
// folder.
func (z *Writer) encodeFolder(plain []byte, packed *bytes.Buffer) (*folder, []uint64, error) {
	if z.filter == FilterBCJ2 {
		return z.encodeBCJ2Folder(plain, packed)
	}

	var stages []encodeStage

	cur := plain

	if out, c, err := applyFilter(z.filter, cur); err != nil {
		return nil, nil, err
	} else if c != nil {
		stages = append(stages, encodeStage{coder: c, inputLen: uint64(len(cur))})
		cur = out
	}

	out, c, err := applyBase(z.method, z.level, z.dictCap, cur)
	if err != nil {
		return nil, nil, err
	}

	stages = append(stages, encodeStage{coder: c, inputLen: uint64(len(cur))})
	cur = out

	if z.encryptData && z.nonce != nil {
		encOut, aesCoder, err := z.applyAES(cur)
		if err != nil {
			return nil, nil, err
		}

		stages = append(stages, encodeStage{coder: aesCoder, inputLen: uint64(len(cur))})
		cur = encOut
	}

	before := uint64(packed.Len()) //nolint:gosec
	packed.Write(cur)

	coders := make([]*coder, len(stages))
	sizes := make([]uint64, len(stages))

	for i, s := range stages {
		coders[len(stages)-1-i] = s.coder
		sizes[len(stages)-1-i] = s.inputLen
	}

	return linearFolder(coders, sizes), []uint64{uint64(packed.Len()) - before}, nil //nolint:gosec
}

// encodeBCJ2Folder builds the four-coder BCJ2 folder described by
// [bcj2Folder]: main/call/jump are each compressed independently with
// z's base codec (the BCJ2 filter never rewrites an address, so call
// and jump stay empty but still need their own, trivially small, coder),
// and the control stream is written raw, uncompressed, as a fourth
// packed stream.
func (z *Writer) encodeBCJ2Folder(plain []byte, packed *bytes.Buffer) (*folder, []uint64, error) {
	var main, call, jump, control bytes.Buffer

	bw := bcj2.NewWriter(&main, &call, &jump, &control)

	if _, err := bw.Write(plain); err != nil {
		return nil, nil, fmt.Errorf("sevenzip: error running bcj2 filter: %w", err)
	}

	if err := bw.Close(); err != nil {
		return nil, nil, fmt.Errorf("sevenzip: error flushing bcj2 filter: %w", err)
	}

	mainOut, mainCoder, err := applyBase(z.method, z.level, z.dictCap, main.Bytes())
	if err != nil {
		return nil, nil, err
	}

	callOut, callCoder, err := applyBase(z.method, z.level, z.dictCap, call.Bytes())
	if err != nil {
		return nil, nil, err
	}

	jumpOut, jumpCoder, err := applyBase(z.method, z.level, z.dictCap, jump.Bytes())
	if err != nil {
		return nil, nil, err
	}

	bcj2Coder := makeCoder(append([]byte(nil), idBCJ2...), nil)
	bcj2Coder.in = 4

	packed.Write(mainOut)
	packed.Write(callOut)
	packed.Write(jumpOut)
	packed.Write(control.Bytes())

	f := bcj2Folder(mainCoder, callCoder, jumpCoder, bcj2Coder,
		uint64(main.Len()), uint64(call.Len()), uint64(jump.Len()), uint64(len(plain))) //nolint:gosec

	return f, []uint64{
		uint64(len(mainOut)), uint64(len(callOut)), uint64(len(jumpOut)), uint64(control.Len()), //nolint:gosec
	}, nil
}

// encodeHeaderFolder compresses plain — the fully tagged, already
// encoded header — with a fixed LZMA2(+AES) pipeline, independent of
// whatever [Method] and [Filter] content folders used: the header's own
// shape has nothing to do with how file content was compressed, and
// real 7-Zip always encodes headers with LZMA2 regardless of content
// method. Callers must only call this when z.nonce is non-nil.
func (z *Writer) encodeHeaderFolder(plain []byte, packed *bytes.Buffer) (*folder, []uint64, error) {
	lzOut, lzCoder, err := applyBase(MethodLZMA2, z.level, z.dictCap, plain)
	if err != nil {
		return nil, nil, err
	}

	encOut, aesCoder, err := z.applyAES(lzOut)
	if err != nil {
		return nil, nil, err
	}

	packed.Write(encOut)

	f := linearFolder(
		[]*coder{aesCoder, lzCoder},
		[]uint64{uint64(len(lzOut)), uint64(len(plain))}, //nolint:gosec
	)

	return f, []uint64{uint64(len(encOut))}, nil //nolint:gosec
}

// splitEmpty separates group's zero-length entries (recorded as plain
// empty-stream/empty-file metadata, never assigned to any folder) from
// the entries that actually need compressing.
func splitEmpty(group []*bufferedEntry) (nonEmpty []*bufferedEntry) {
	for _, e := range group {
		if e.data.Len() == 0 {
			e.hdr.isEmptyStream = true
			e.hdr.isEmptyFile = true

			continue
		}

		nonEmpty = append(nonEmpty, e)
	}

	return nonEmpty
}

// applyDeterministic stable-sorts directory/anti entries and solid
// groups by name (a group sorts by its first member; solid compression
// benefits from the order files were added, not from final on-disk
// order, so only the group's position moves, never its internal order),
// then zeroes every timestamp.
func (z *Writer) applyDeterministic() {
	sort.SliceStable(z.groups, func(i, j int) bool {
		return z.groups[i][0].hdr.Name < z.groups[j][0].hdr.Name
	})

	inGroup := make(map[*bufferedEntry]bool, len(z.entries))

	for _, g := range z.groups {
		for _, e := range g {
			inGroup[e] = true
		}
	}

	var singles []*bufferedEntry

	for _, e := range z.entries {
		if !inGroup[e] {
			singles = append(singles, e)
		}
	}

	sort.SliceStable(singles, func(i, j int) bool { return singles[i].hdr.Name < singles[j].hdr.Name })

	merged := make([]*bufferedEntry, 0, len(z.entries))

	si, gi := 0, 0

	for si < len(singles) || gi < len(z.groups) {
		switch {
		case si >= len(singles):
			merged = append(merged, z.groups[gi]...)
			gi++
		case gi >= len(z.groups):
			merged = append(merged, singles[si])
			si++
		case singles[si].hdr.Name < z.groups[gi][0].hdr.Name:
			merged = append(merged, singles[si])
			si++
		default:
			merged = append(merged, z.groups[gi]...)
			gi++
		}
	}

	z.entries = merged

	for _, e := range z.entries {
		e.hdr.Modified = time.Time{}
		e.hdr.Created = time.Time{}
		e.hdr.Accessed = time.Time{}
	}
}

// Close compresses every buffered folder, writes the packed data and
// the tagged header, and finally the leading signature header that
// points at it. It is an error to call any Create* method afterwards.
//
//nolint:cyclop,funlen
func (z *Writer) Close() error {
	if z.closed {
		return errWriterClosed
	}

	z.closed = true

	if z.deterministic {
		z.applyDeterministic()
	}

	var packed bytes.Buffer

	pi := &packInfo{}
	ui := &unpackInfo{}
	ssi := &subStreamsInfo{}

	for _, group := range z.groups {
		files := splitEmpty(group)
		if len(files) == 0 {
			continue
		}

		var plain bytes.Buffer
		for _, e := range files {
			plain.Write(e.data.Bytes())
		}

		f, packedSizes, err := z.encodeFolder(plain.Bytes(), &packed)
		if err != nil {
			return err
		}

		ui.folder = append(ui.folder, f)
		pi.size = append(pi.size, packedSizes...)

		if len(files) == 1 {
			ui.digest = append(ui.digest, crc32.ChecksumIEEE(files[0].data.Bytes()))
		} else {
			ui.digest = append(ui.digest, 0)
		}

		ssi.streams = append(ssi.streams, uint64(len(files))) //nolint:gosec

		for _, e := range files {
			crc := crc32.ChecksumIEEE(e.data.Bytes())
			e.hdr.CRC32 = crc
			e.hdr.UncompressedSize = uint64(e.data.Len()) //nolint:gosec

			ssi.size = append(ssi.size, e.hdr.UncompressedSize)
			ssi.digest = append(ssi.digest, crc)
		}
	}

	pi.streams = uint64(len(pi.size)) //nolint:gosec

	fi := &filesInfo{file: make([]FileHeader, len(z.entries)), comment: z.comment}
	for i, e := range z.entries {
		fi.file[i] = e.hdr
	}

	h := &header{filesInfo: fi}

	if len(ui.folder) > 0 {
		h.streamsInfo = &streamsInfo{packInfo: pi, unpackInfo: ui, subStreamsInfo: ssi}
	}

	var headerBuf bytes.Buffer
	if err := encodeHeader(&headerBuf, h); err != nil {
		return err
	}

	region := &headerBuf

	if z.encryptHeader && z.nonce != nil {
		before := uint64(packed.Len()) //nolint:gosec

		hf, hPackedSizes, err := z.encodeHeaderFolder(headerBuf.Bytes(), &packed)
		if err != nil {
			return err
		}

		hpi := &packInfo{position: before, streams: uint64(len(hPackedSizes)), size: hPackedSizes} //nolint:gosec
		hui := &unpackInfo{folder: []*folder{hf}}
		outer := &streamsInfo{packInfo: hpi, unpackInfo: hui}

		var envelope bytes.Buffer

		if err := writeByte(&envelope, idEncodedHeader); err != nil {
			return err
		}

		if err := encodeStreamsInfo(&envelope, outer); err != nil {
			return err
		}

		region = &envelope
	}

	sig := signatureHeader{Signature: [6]byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}, Major: 0, Minor: 4}
	sig.CRC = crc32.ChecksumIEEE(region.Bytes())

	start := startHeader{
		Offset: uint64(packed.Len()),  //nolint:gosec
		Size:   uint64(region.Len()), //nolint:gosec
	}

	var startBuf bytes.Buffer

	if err := binary.Write(&startBuf, binary.LittleEndian, start.Offset); err != nil {
		return fmt.Errorf("sevenzip: error writing start header: %w", err)
	}

	if err := binary.Write(&startBuf, binary.LittleEndian, start.Size); err != nil {
		return fmt.Errorf("sevenzip: error writing start header: %w", err)
	}

	start.CRC = crc32.ChecksumIEEE(startBuf.Bytes())

	if _, err := z.w.Write(sig.Signature[:]); err != nil {
		return fmt.Errorf("sevenzip: error writing signature: %w", err)
	}

	if _, err := z.w.Write([]byte{sig.Major, sig.Minor}); err != nil {
		return fmt.Errorf("sevenzip: error writing version: %w", err)
	}

	var crcBuf [4]byte

	binary.LittleEndian.PutUint32(crcBuf[:], start.CRC)

	if _, err := z.w.Write(crcBuf[:]); err != nil {
		return fmt.Errorf("sevenzip: error writing start header crc: %w", err)
	}

	if _, err := z.w.Write(startBuf.Bytes()); err != nil {
		return fmt.Errorf("sevenzip: error writing start header: %w", err)
	}

	if _, err := z.w.Write(packed.Bytes()); err != nil {
		return fmt.Errorf("sevenzip: error writing packed streams: %w", err)
	}

	if _, err := z.w.Write(region.Bytes()); err != nil {
		return fmt.Errorf("sevenzip: error writing header: %w", err)
	}

	return nil
}
