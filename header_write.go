package sevenzip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
	"unicode/utf16"
)

// header_write.go is the write-side mirror of header.go's read* functions:
// same tagged-tree wire format, opposite direction. Every write* function
// here produces exactly what its read* counterpart consumes.

func writeByte(w io.Writer, b byte) error {
	if _, err := w.Write([]byte{b}); err != nil {
		return fmt.Errorf("sevenzip: error writing byte: %w", err)
	}

	return nil
}

// writeNumber encodes v using the same variable-length scheme readNumber
// decodes: the leading byte's high-bit run counts little-endian trailing
// bytes, and any bits of the leading byte left over become the value's
// high-order bits.
func writeNumber(w io.Writer, v uint64) error {
	var (
		first byte
		mask  byte = 0x80
		extra int
	)

	for extra = 0; extra < 8; extra++ {
		if v < uint64(1)<<uint(7*(extra+1)) {
			first |= byte(v >> uint(8*extra)) //nolint:gosec
			break
		}

		first |= mask
		mask >>= 1
	}

	if err := writeByte(w, first); err != nil {
		return err
	}

	for i := 0; i < extra; i++ {
		if err := writeByte(w, byte(v>>uint(8*i))); err != nil { //nolint:gosec
			return err
		}
	}

	return nil
}

func writeNumberInt(w io.Writer, v int) error {
	return writeNumber(w, uint64(v)) //nolint:gosec
}

// writeBoolVector bit-packs vals MSB-first within each byte, padding the
// final byte with zero bits.
func writeBoolVector(w io.Writer, vals []bool) error {
	var (
		b    byte
		mask byte = 0x80
	)

	for _, v := range vals {
		if v {
			b |= mask
		}

		mask >>= 1

		if mask == 0 {
			if err := writeByte(w, b); err != nil {
				return err
			}

			b, mask = 0, 0x80
		}
	}

	if mask != 0x80 {
		if err := writeByte(w, b); err != nil {
			return err
		}
	}

	return nil
}

// writeOptionalBoolVector writes the "all defined" shortcut byte, followed
// by the full vector only when some entry is false.
func writeOptionalBoolVector(w io.Writer, vals []bool) error {
	allDefined := true

	for _, v := range vals {
		if !v {
			allDefined = false

			break
		}
	}

	if allDefined {
		return writeByte(w, 1)
	}

	if err := writeByte(w, 0); err != nil {
		return err
	}

	return writeBoolVector(w, vals)
}

// writeDigestsDefined writes digest, including only the entries marked
// true in defined in the actual wire payload (matching readDigests, which
// only consumes a uint32 for each defined bit).
func writeDigestsDefined(w io.Writer, digest []uint32, defined []bool) error {
	if err := writeOptionalBoolVector(w, defined); err != nil {
		return err
	}

	for i, d := range digest {
		if !defined[i] {
			continue
		}

		if err := binary.Write(w, binary.LittleEndian, d); err != nil {
			return fmt.Errorf("sevenzip: error writing digest: %w", err)
		}
	}

	return nil
}

// writeDigests writes every entry in digest as defined: CRCs are always
// known for data this package writes itself.
func writeDigests(w io.Writer, digest []uint32) error {
	defined := make([]bool, len(digest))
	for i := range defined {
		defined[i] = true
	}

	return writeDigestsDefined(w, digest, defined)
}

func encodePackInfo(w io.Writer, pi *packInfo) error {
	if err := writeByte(w, idPackInfo); err != nil {
		return err
	}

	if err := writeNumber(w, pi.position); err != nil {
		return err
	}

	if err := writeNumber(w, pi.streams); err != nil {
		return err
	}

	if err := writeByte(w, idSize); err != nil {
		return err
	}

	for _, s := range pi.size {
		if err := writeNumber(w, s); err != nil {
			return err
		}
	}

	if len(pi.digest) > 0 {
		if err := writeByte(w, idCRC); err != nil {
			return err
		}

		if err := writeDigests(w, pi.digest); err != nil {
			return err
		}
	}

	return writeByte(w, idEnd)
}

func encodeCoder(w io.Writer, c *coder) error {
	isComplex := c.in != 1 || c.out != 1
	hasAttributes := len(c.properties) > 0

	attributes := byte(len(c.id)) //nolint:gosec
	if isComplex {
		attributes |= 0x10
	}

	if hasAttributes {
		attributes |= 0x20
	}

	if err := writeByte(w, attributes); err != nil {
		return err
	}

	if _, err := w.Write(c.id); err != nil {
		return fmt.Errorf("sevenzip: error writing coder id: %w", err)
	}

	if isComplex {
		if err := writeNumber(w, c.in); err != nil {
			return err
		}

		if err := writeNumber(w, c.out); err != nil {
			return err
		}
	}

	if hasAttributes {
		if err := writeNumberInt(w, len(c.properties)); err != nil {
			return err
		}

		if _, err := w.Write(c.properties); err != nil {
			return fmt.Errorf("sevenzip: error writing coder properties: %w", err)
		}
	}

	return nil
}

func encodeFolder(w io.Writer, f *folder) error {
	if err := writeNumberInt(w, len(f.coder)); err != nil {
		return err
	}

	for _, c := range f.coder {
		if err := encodeCoder(w, c); err != nil {
			return err
		}
	}

	for _, bp := range f.bindPair {
		if err := writeNumber(w, bp.in); err != nil {
			return err
		}

		if err := writeNumber(w, bp.out); err != nil {
			return err
		}
	}

	if len(f.packed) > 1 {
		for _, p := range f.packed {
			if err := writeNumber(w, p); err != nil {
				return err
			}
		}
	}

	return nil
}

func encodeUnpackInfo(w io.Writer, ui *unpackInfo) error {
	if err := writeByte(w, idUnpackInfo); err != nil {
		return err
	}

	if err := writeByte(w, idFolder); err != nil {
		return err
	}

	if err := writeNumberInt(w, len(ui.folder)); err != nil {
		return err
	}

	if err := writeByte(w, 0); err != nil { // external = false
		return err
	}

	for _, f := range ui.folder {
		if err := encodeFolder(w, f); err != nil {
			return err
		}
	}

	if err := writeByte(w, idCodersUnpackSize); err != nil {
		return err
	}

	for _, f := range ui.folder {
		for _, s := range f.size {
			if err := writeNumber(w, s); err != nil {
				return err
			}
		}
	}

	defined := make([]bool, len(ui.digest))

	var anyDefined bool

	for i, d := range ui.digest {
		defined[i] = d != 0
		anyDefined = anyDefined || defined[i]
	}

	if anyDefined {
		if err := writeByte(w, idCRC); err != nil {
			return err
		}

		if err := writeDigestsDefined(w, ui.digest, defined); err != nil {
			return err
		}
	}

	return writeByte(w, idEnd)
}

// encodeSubStreamsInfo writes explicit per-folder stream counts and
// sizes. A folder's final sub-stream size is never written explicitly
// (readSubStreamsInfo derives it from the folder's total unpacked size),
// and a folder holding exactly one file whose CRC is already recorded in
// unpackInfo's own digest list is skipped here too, matching the
// bookkeeping readSubStreamsInfo's numDigests count performs.
func encodeSubStreamsInfo(w io.Writer, ui *unpackInfo, ssi *subStreamsInfo) error {
	if err := writeByte(w, idSubStreamsInfo); err != nil {
		return err
	}

	allOne := true

	for _, n := range ssi.streams {
		if n != 1 {
			allOne = false

			break
		}
	}

	if !allOne {
		if err := writeByte(w, idNumUnpackStream); err != nil {
			return err
		}

		for _, n := range ssi.streams {
			if err := writeNumberInt(w, int(n)); err != nil {
				return err
			}
		}
	}

	if err := writeByte(w, idSize); err != nil {
		return err
	}

	idx := 0

	for _, n := range ssi.streams {
		for j := uint64(1); j < n; j++ {
			if err := writeNumber(w, ssi.size[idx]); err != nil {
				return err
			}

			idx++
		}

		if n > 0 {
			idx++ // skip the implied final sub-stream size
		}
	}

	var explicit []uint32

	idx = 0

	for i, n := range ssi.streams {
		if n == 1 && len(ui.digest) > 0 && ui.digest[i] != 0 {
			idx++

			continue
		}

		for k := uint64(0); k < n; k++ {
			explicit = append(explicit, ssi.digest[idx])
			idx++
		}
	}

	if len(explicit) > 0 {
		if err := writeByte(w, idCRC); err != nil {
			return err
		}

		if err := writeDigests(w, explicit); err != nil {
			return err
		}
	}

	return writeByte(w, idEnd)
}

func encodeStreamsInfo(w io.Writer, si *streamsInfo) error {
	if err := encodePackInfo(w, si.packInfo); err != nil {
		return err
	}

	if err := encodeUnpackInfo(w, si.unpackInfo); err != nil {
		return err
	}

	if si.subStreamsInfo != nil {
		if err := encodeSubStreamsInfo(w, si.unpackInfo, si.subStreamsInfo); err != nil {
			return err
		}
	}

	return writeByte(w, idEnd)
}

const filetimeUnitsPerSecond = 10000000

func timeToFiletime(t time.Time) int64 {
	if t.IsZero() {
		return filetimeEpochDelta
	}

	return t.UTC().Unix()*filetimeUnitsPerSecond + int64(t.Nanosecond())/100 + filetimeEpochDelta
}

func writeDateTimeVector(w io.Writer, times []time.Time) error {
	defined := make([]bool, len(times))
	for i, t := range times {
		defined[i] = !t.IsZero()
	}

	if err := writeOptionalBoolVector(w, defined); err != nil {
		return err
	}

	if err := writeByte(w, 0); err != nil { // external = false
		return err
	}

	for i, t := range times {
		if !defined[i] {
			continue
		}

		if err := binary.Write(w, binary.LittleEndian, uint64(timeToFiletime(t))); err != nil { //nolint:gosec
			return fmt.Errorf("sevenzip: error writing timestamp: %w", err)
		}
	}

	return nil
}

func writeAttributeVector(w io.Writer, attrs []uint32) error {
	defined := make([]bool, len(attrs))
	for i, a := range attrs {
		defined[i] = a != 0
	}

	if err := writeOptionalBoolVector(w, defined); err != nil {
		return err
	}

	if err := writeByte(w, 0); err != nil {
		return err
	}

	for i, a := range attrs {
		if !defined[i] {
			continue
		}

		if err := binary.Write(w, binary.LittleEndian, a); err != nil {
			return fmt.Errorf("sevenzip: error writing attributes: %w", err)
		}
	}

	return nil
}

func writeNames(w io.Writer, names []string) error {
	if err := writeByte(w, 0); err != nil { // external = false
		return err
	}

	for _, name := range names {
		for _, u := range utf16.Encode([]rune(name)) {
			if err := binary.Write(w, binary.LittleEndian, u); err != nil {
				return fmt.Errorf("sevenzip: error writing name: %w", err)
			}
		}

		if err := binary.Write(w, binary.LittleEndian, uint16(0)); err != nil {
			return fmt.Errorf("sevenzip: error writing name terminator: %w", err)
		}
	}

	return nil
}

// writeProperty writes a length-prefixed sub-property: id, then the
// number of bytes body occupies, then body itself. Every property inside
// filesInfo is framed this way so a reader that doesn't understand an id
// can skip it.
func writeProperty(w io.Writer, id byte, body []byte) error {
	if err := writeByte(w, id); err != nil {
		return err
	}

	if err := writeNumberInt(w, len(body)); err != nil {
		return err
	}

	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("sevenzip: error writing property body: %w", err)
	}

	return nil
}

func encodeFilesInfo(w io.Writer, fi *filesInfo) error {
	if err := writeNumberInt(w, len(fi.file)); err != nil {
		return err
	}

	emptyStream := make([]bool, len(fi.file))

	var numEmptyStream int

	for i, f := range fi.file {
		emptyStream[i] = f.isEmptyStream
		if f.isEmptyStream {
			numEmptyStream++
		}
	}

	if numEmptyStream > 0 {
		var buf bytes.Buffer

		if err := writeBoolVector(&buf, emptyStream); err != nil {
			return err
		}

		if err := writeProperty(w, idEmptyStream, buf.Bytes()); err != nil {
			return err
		}

		emptyFile := make([]bool, 0, numEmptyStream)

		var anyEmptyFile bool

		for _, f := range fi.file {
			if !f.isEmptyStream {
				continue
			}

			emptyFile = append(emptyFile, f.isEmptyFile)
			anyEmptyFile = anyEmptyFile || f.isEmptyFile
		}

		if anyEmptyFile {
			var efBuf bytes.Buffer

			if err := writeBoolVector(&efBuf, emptyFile); err != nil {
				return err
			}

			if err := writeProperty(w, idEmptyFile, efBuf.Bytes()); err != nil {
				return err
			}
		}

		anti := make([]bool, 0, numEmptyStream)

		var anyAnti bool

		for _, f := range fi.file {
			if !f.isEmptyStream {
				continue
			}

			anti = append(anti, f.isAnti)
			anyAnti = anyAnti || f.isAnti
		}

		if anyAnti {
			var antiBuf bytes.Buffer

			if err := writeBoolVector(&antiBuf, anti); err != nil {
				return err
			}

			if err := writeProperty(w, idAnti, antiBuf.Bytes()); err != nil {
				return err
			}
		}
	}

	names := make([]string, len(fi.file))
	times := make([]time.Time, len(fi.file))
	attrs := make([]uint32, len(fi.file))

	for i, f := range fi.file {
		names[i] = f.Name
		times[i] = f.Modified
		attrs[i] = f.Attributes
	}

	{
		var buf bytes.Buffer
		if err := writeNames(&buf, names); err != nil {
			return err
		}

		if err := writeProperty(w, idName, buf.Bytes()); err != nil {
			return err
		}
	}

	{
		var buf bytes.Buffer
		if err := writeDateTimeVector(&buf, times); err != nil {
			return err
		}

		if err := writeProperty(w, idMTime, buf.Bytes()); err != nil {
			return err
		}
	}

	{
		var buf bytes.Buffer
		if err := writeAttributeVector(&buf, attrs); err != nil {
			return err
		}

		if err := writeProperty(w, idWinAttributes, buf.Bytes()); err != nil {
			return err
		}
	}

	if fi.comment != "" {
		var buf bytes.Buffer
		if err := writeNames(&buf, []string{fi.comment}); err != nil {
			return err
		}

		if err := writeProperty(w, idComment, buf.Bytes()); err != nil {
			return err
		}
	}

	return writeByte(w, idEnd)
}

func encodeHeader(w io.Writer, h *header) error {
	if err := writeByte(w, idHeader); err != nil {
		return err
	}

	if h.streamsInfo != nil {
		if err := writeByte(w, idMainStreams); err != nil {
			return err
		}

		if err := encodeStreamsInfo(w, h.streamsInfo); err != nil {
			return err
		}
	}

	if h.filesInfo != nil {
		if err := writeByte(w, idFilesInfo); err != nil {
			return err
		}

		if err := encodeFilesInfo(w, h.filesInfo); err != nil {
			return err
		}
	}

	return writeByte(w, idEnd)
}
