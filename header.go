package sevenzip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf16"
)

// Property IDs used throughout the tagged header tree. Only the ones this
// package understands are named; anything else surfaces as errUnexpectedID.
const (
	idEnd = iota
	idHeader
	idArchiveProperties
	idAdditionalStreams
	idMainStreams
	idFilesInfo
	idPackInfo
	idUnpackInfo
	idSubStreamsInfo
	idSize
	idCRC
	idFolder
	idCodersUnpackSize
	idNumUnpackStream
	idEmptyStream
	idEmptyFile
	idAnti
	idName
	idCTime
	idATime
	idMTime
	idWinAttributes
	idComment
	idEncodedHeader
	idStartPos
	idDummy
)

const (
	maxNumber       = 1<<63 - 1
	maxFoldersLimit = 1 << 20
	maxFilesLimit   = 1 << 24

	maxInOutStreams     = 4
	maxPropertyDataSize = 1 << 16
	maxCodersInFolder   = 64
	maxPackedStreams    = 64
)

var (
	errUnexpectedID       = errors.New("sevenzip: unexpected property id")
	errUnsupportedFeature = errors.New("sevenzip: unsupported feature")
	errInvalidNumber      = errors.New("sevenzip: invalid number")
	errLimitExceeded      = errors.New("sevenzip: resource limit exceeded")
)

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("sevenzip: error reading byte: %w", err)
	}

	return buf[0], nil
}

func expectByte(r io.Reader, want byte) error {
	got, err := readByte(r)
	if err != nil {
		return err
	}

	if got != want {
		return errUnexpectedID
	}

	return nil
}

// readNumber decodes the variable-length integer encoding used pervasively
// throughout the header: the leading byte's high-order bit run selects how
// many little-endian trailing bytes follow, and any unconsumed low bits of
// the leading byte become the integer's high-order bits.
func readNumber(r io.Reader) (uint64, error) {
	first, err := readByte(r)
	if err != nil {
		return 0, err
	}

	var (
		mask  byte = 0x80
		value uint64
	)

	for i := 0; i < 8; i++ {
		if first&mask == 0 {
			value |= uint64(first&(mask-1)) << (8 * i)

			return value, nil
		}

		b, err := readByte(r)
		if err != nil {
			return 0, err
		}

		value |= uint64(b) << (8 * i)
		mask >>= 1
	}

	return value, nil
}

func readNumberInt(r io.Reader) (int, error) {
	n, err := readNumber(r)
	if err != nil {
		return 0, err
	}

	if n > maxNumber {
		return 0, errInvalidNumber
	}

	return int(n), nil //nolint:gosec
}

// readBoolVector decodes a bit vector of length n, MSB-first within each
// byte, with a final partially filled byte as needed.
func readBoolVector(r io.Reader, n int) ([]bool, error) {
	v := make([]bool, n)

	var (
		b    byte
		mask byte
		err  error
	)

	for i := range v {
		if mask == 0 {
			if b, err = readByte(r); err != nil {
				return nil, err
			}

			mask = 0x80
		}

		v[i] = b&mask != 0
		mask >>= 1
	}

	return v, nil
}

// readOptionalBoolVector decodes the "all defined" shortcut: a single 0x01
// byte means every element is true, otherwise a full readBoolVector follows.
func readOptionalBoolVector(r io.Reader, n int) ([]bool, error) {
	allDefined, err := readByte(r)
	if err != nil {
		return nil, err
	}

	if allDefined != 0 {
		v := make([]bool, n)
		for i := range v {
			v[i] = true
		}

		return v, nil
	}

	return readBoolVector(r, n)
}

func readDigests(r io.Reader, n int) ([]uint32, error) {
	defined, err := readOptionalBoolVector(r, n)
	if err != nil {
		return nil, err
	}

	digest := make([]uint32, n)

	for i, d := range defined {
		if !d {
			continue
		}

		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading digest: %w", err)
		}

		digest[i] = v
	}

	return digest, nil
}

func readPackInfo(r io.Reader) (*packInfo, error) {
	pi := new(packInfo)

	position, err := readNumber(r)
	if err != nil {
		return nil, err
	}

	pi.position = position

	streams, err := readNumberInt(r)
	if err != nil {
		return nil, err
	}

	pi.streams = uint64(streams) //nolint:gosec

	for {
		id, err := readByte(r)
		if err != nil {
			return nil, err
		}

		switch id {
		case idSize:
			pi.size = make([]uint64, streams)

			for i := range pi.size {
				if pi.size[i], err = readNumber(r); err != nil {
					return nil, err
				}
			}
		case idCRC:
			if pi.digest, err = readDigests(r, streams); err != nil {
				return nil, err
			}
		case idEnd:
			return pi, nil
		default:
			return nil, errUnexpectedID
		}
	}
}

//nolint:cyclop
func readCoder(r io.Reader) (*coder, error) {
	attributes, err := readByte(r)
	if err != nil {
		return nil, err
	}

	idSize := int(attributes & 0x0f)
	isComplex := attributes&0x10 != 0
	hasAttributes := attributes&0x20 != 0

	c := &coder{in: 1, out: 1}

	if idSize > 0 {
		c.id = make([]byte, idSize)
		if _, err := io.ReadFull(r, c.id); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading coder id: %w", err)
		}
	}

	if isComplex {
		if c.in, err = readNumber(r); err != nil {
			return nil, err
		}

		if c.in == 0 || c.in > maxInOutStreams {
			return nil, fmt.Errorf("%w: coder input stream count", errLimitExceeded)
		}

		if c.out, err = readNumber(r); err != nil {
			return nil, err
		}

		if c.out == 0 || c.out > maxInOutStreams {
			return nil, fmt.Errorf("%w: coder output stream count", errLimitExceeded)
		}
	}

	if hasAttributes {
		size, err := readNumberInt(r)
		if err != nil {
			return nil, err
		}

		if size < 0 || size > maxPropertyDataSize {
			return nil, fmt.Errorf("%w: coder property size", errLimitExceeded)
		}

		c.properties = make([]byte, size)
		if _, err := io.ReadFull(r, c.properties); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading coder properties: %w", err)
		}
	}

	return c, nil
}

func readFolder(r io.Reader) (*folder, error) {
	numCoders, err := readNumberInt(r)
	if err != nil {
		return nil, err
	}

	if numCoders <= 0 || numCoders > maxCodersInFolder {
		return nil, fmt.Errorf("%w: coders in folder", errLimitExceeded)
	}

	f := &folder{coder: make([]*coder, numCoders)}

	for i := range f.coder {
		if f.coder[i], err = readCoder(r); err != nil {
			return nil, err
		}

		f.in += f.coder[i].in
		f.out += f.coder[i].out
	}

	f.bindPair = make([]*bindPair, numCoders-1)

	for i := range f.bindPair {
		bp := new(bindPair)

		if bp.in, err = readNumber(r); err != nil {
			return nil, err
		}

		if bp.out, err = readNumber(r); err != nil {
			return nil, err
		}

		f.bindPair[i] = bp
	}

	numPackedStreams := f.in - uint64(len(f.bindPair)) //nolint:gosec
	f.packedStreams = numPackedStreams

	switch {
	case numPackedStreams == 1:
		for i := uint64(0); i < f.in; i++ {
			if f.findInBindPair(i) == nil {
				f.packed = []uint64{i}

				break
			}
		}
	case numPackedStreams > 1:
		if numPackedStreams > maxPackedStreams {
			return nil, fmt.Errorf("%w: packed streams in folder", errLimitExceeded)
		}

		f.packed = make([]uint64, numPackedStreams)

		for i := range f.packed {
			if f.packed[i], err = readNumber(r); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errUnexpectedID
	}

	return f, nil
}

func readUnpackInfo(r io.Reader) (*unpackInfo, error) {
	if err := expectByte(r, idFolder); err != nil {
		return nil, err
	}

	numFolders, err := readNumberInt(r)
	if err != nil {
		return nil, err
	}

	if numFolders < 0 || numFolders > maxFoldersLimit {
		return nil, fmt.Errorf("%w: folder count", errLimitExceeded)
	}

	external, err := readByte(r)
	if err != nil {
		return nil, err
	}

	if external != 0 {
		return nil, fmt.Errorf("%w: external folder data", errUnsupportedFeature)
	}

	ui := &unpackInfo{folder: make([]*folder, numFolders)}

	for i := range ui.folder {
		if ui.folder[i], err = readFolder(r); err != nil {
			return nil, err
		}
	}

	if err := expectByte(r, idCodersUnpackSize); err != nil {
		return nil, err
	}

	for _, f := range ui.folder {
		f.size = make([]uint64, f.out)

		for i := range f.size {
			if f.size[i], err = readNumber(r); err != nil {
				return nil, err
			}
		}
	}

	id, err := readByte(r)
	if err != nil {
		return nil, err
	}

	if id == idCRC {
		if ui.digest, err = readDigests(r, len(ui.folder)); err != nil {
			return nil, err
		}

		if id, err = readByte(r); err != nil {
			return nil, err
		}
	}

	if id != idEnd {
		return nil, errUnexpectedID
	}

	return ui, nil
}

//nolint:cyclop,funlen
func readSubStreamsInfo(r io.Reader, ui *unpackInfo) (*subStreamsInfo, error) {
	id, err := readByte(r)
	if err != nil {
		return nil, err
	}

	ssi := &subStreamsInfo{streams: make([]uint64, len(ui.folder))}

	for i := range ssi.streams {
		ssi.streams[i] = 1
	}

	if id == idNumUnpackStream {
		for i := range ssi.streams {
			n, err := readNumberInt(r)
			if err != nil {
				return nil, err
			}

			ssi.streams[i] = uint64(n) //nolint:gosec
		}

		if id, err = readByte(r); err != nil {
			return nil, err
		}
	}

	for i, f := range ui.folder {
		if ssi.streams[i] == 0 {
			continue
		}

		var sum uint64

		if id == idSize {
			for j := uint64(1); j < ssi.streams[i]; j++ {
				size, err := readNumber(r)
				if err != nil {
					return nil, err
				}

				sum += size
				ssi.size = append(ssi.size, size)
			}
		}

		ssi.size = append(ssi.size, f.unpackSize()-sum)
	}

	if id == idSize {
		if id, err = readByte(r); err != nil {
			return nil, err
		}
	}

	numDigests := 0

	for i := range ui.folder {
		if ssi.streams[i] != 1 || len(ui.digest) == 0 || ui.digest[i] == 0 {
			numDigests += int(ssi.streams[i])
		}
	}

	if id == idCRC {
		digest, err := readDigests(r, numDigests)
		if err != nil {
			return nil, err
		}

		ssi.digest = make([]uint32, 0, len(ui.folder))
		j := 0

		for i := range ui.folder {
			switch {
			case ssi.streams[i] == 1 && len(ui.digest) > 0 && ui.digest[i] != 0:
				ssi.digest = append(ssi.digest, ui.digest[i])
			default:
				for k := uint64(0); k < ssi.streams[i]; k++ {
					ssi.digest = append(ssi.digest, digest[j])
					j++
				}
			}
		}

		if id, err = readByte(r); err != nil {
			return nil, err
		}
	}

	if id != idEnd {
		return nil, errUnexpectedID
	}

	return ssi, nil
}

//nolint:cyclop
func readStreamsInfo(r io.Reader) (*streamsInfo, error) {
	si := new(streamsInfo)

	for {
		id, err := readByte(r)
		if err != nil {
			return nil, err
		}

		switch id {
		case idPackInfo:
			if si.packInfo, err = readPackInfo(r); err != nil {
				return nil, err
			}
		case idUnpackInfo:
			if si.unpackInfo, err = readUnpackInfo(r); err != nil {
				return nil, err
			}
		case idSubStreamsInfo:
			if si.unpackInfo == nil {
				return nil, errUnexpectedID
			}

			if si.subStreamsInfo, err = readSubStreamsInfo(r, si.unpackInfo); err != nil {
				return nil, err
			}
		case idEnd:
			if si.packInfo == nil || si.unpackInfo == nil {
				return nil, errUnexpectedID
			}

			if si.subStreamsInfo == nil {
				si.subStreamsInfo = &subStreamsInfo{}

				for range si.unpackInfo.folder {
					si.subStreamsInfo.streams = append(si.subStreamsInfo.streams, 1)
				}
			}

			return si, nil
		default:
			return nil, errUnexpectedID
		}
	}
}

// readEncodedHeader reads the decoded content of an encoded-header
// folder, which is itself a complete tagged header: almost always a
// plain idHeader (so filesInfo survives the round trip), but the format
// permits another layer of idEncodedHeader, which the caller in reader.go
// isn't set up to unwrap recursively.
func readEncodedHeader(r io.Reader) (*header, error) {
	id, err := readByte(r)
	if err != nil {
		return nil, err
	}

	switch id {
	case idHeader:
		return readHeader(r)
	case idEncodedHeader:
		si, err := readStreamsInfo(r)
		if err != nil {
			return nil, err
		}

		return &header{streamsInfo: si}, nil
	default:
		return nil, errUnexpectedID
	}
}

const filetimeEpochDelta = 116444736000000000

func filetimeToTime(ft int64) time.Time {
	return time.Unix(0, (ft-filetimeEpochDelta)*100)
}

func readNumberVector(r io.Reader, n int) ([]*int64, error) {
	defined, err := readOptionalBoolVector(r, n)
	if err != nil {
		return nil, err
	}

	if external, err := readByte(r); err != nil {
		return nil, err
	} else if external != 0 {
		return nil, fmt.Errorf("%w: external number vector", errUnsupportedFeature)
	}

	v := make([]*int64, n)

	for i := range v {
		if !defined[i] {
			continue
		}

		var u uint64
		if err := binary.Read(r, binary.LittleEndian, &u); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading timestamp: %w", err)
		}

		n := int64(u) //nolint:gosec
		v[i] = &n
	}

	return v, nil
}

func readDateTimeVector(r io.Reader, n int) ([]time.Time, error) {
	raw, err := readNumberVector(r, n)
	if err != nil {
		return nil, err
	}

	v := make([]time.Time, n)

	for i, ft := range raw {
		if ft != nil {
			v[i] = filetimeToTime(*ft)
		}
	}

	return v, nil
}

func readAttributeVector(r io.Reader, n int) ([]uint32, error) {
	defined, err := readOptionalBoolVector(r, n)
	if err != nil {
		return nil, err
	}

	if external, err := readByte(r); err != nil {
		return nil, err
	} else if external != 0 {
		return nil, fmt.Errorf("%w: external attribute vector", errUnsupportedFeature)
	}

	v := make([]uint32, n)

	for i := range v {
		if !defined[i] {
			continue
		}

		if err := binary.Read(r, binary.LittleEndian, &v[i]); err != nil {
			return nil, fmt.Errorf("sevenzip: error reading attributes: %w", err)
		}
	}

	return v, nil
}

func readNames(r io.Reader, n int) ([]string, error) {
	external, err := readByte(r)
	if err != nil {
		return nil, err
	}

	if external != 0 {
		return nil, fmt.Errorf("%w: external names", errUnsupportedFeature)
	}

	names := make([]string, n)

	for i := range names {
		var units []uint16

		for {
			var u uint16
			if err := binary.Read(r, binary.LittleEndian, &u); err != nil {
				return nil, fmt.Errorf("sevenzip: error reading name: %w", err)
			}

			if u == 0 {
				break
			}

			units = append(units, u)
		}

		names[i] = string(utf16.Decode(units))
	}

	return names, nil
}

//nolint:cyclop,funlen,gocognit
func readFilesInfo(r io.Reader) (*filesInfo, error) {
	numFiles, err := readNumberInt(r)
	if err != nil {
		return nil, err
	}

	if numFiles < 0 || numFiles > maxFilesLimit {
		return nil, fmt.Errorf("%w: file count", errLimitExceeded)
	}

	fi := &filesInfo{file: make([]FileHeader, numFiles)}

	var (
		emptyStream    []bool
		numEmptyStream int
	)

	for {
		id, err := readByte(r)
		if err != nil {
			return nil, err
		}

		if id == idEnd {
			return fi, nil
		}

		size, err := readNumber(r)
		if err != nil {
			return nil, err
		}

		lr := io.LimitReader(r, int64(size)) //nolint:gosec

		switch id {
		case idEmptyStream:
			if emptyStream, err = readBoolVector(lr, numFiles); err != nil {
				return nil, err
			}

			numEmptyStream = 0

			for i, v := range emptyStream {
				fi.file[i].isEmptyStream = v

				if v {
					numEmptyStream++
				}
			}
		case idEmptyFile:
			v, err := readBoolVector(lr, numEmptyStream)
			if err != nil {
				return nil, err
			}

			j := 0

			for i := range fi.file {
				if emptyStream != nil && emptyStream[i] {
					fi.file[i].isEmptyFile = v[j]
					j++
				}
			}
		case idAnti:
			v, err := readBoolVector(lr, numEmptyStream)
			if err != nil {
				return nil, err
			}

			j := 0

			for i := range fi.file {
				if emptyStream != nil && emptyStream[i] {
					fi.file[i].isAnti = v[j]
					j++
				}
			}
		case idName:
			names, err := readNames(lr, numFiles)
			if err != nil {
				return nil, err
			}

			for i, name := range names {
				fi.file[i].Name = name
			}
		case idCTime, idATime, idMTime:
			times, err := readDateTimeVector(lr, numFiles)
			if err != nil {
				return nil, err
			}

			for i, t := range times {
				switch id {
				case idCTime:
					fi.file[i].Created = t
				case idATime:
					fi.file[i].Accessed = t
				case idMTime:
					fi.file[i].Modified = t
				}
			}
		case idWinAttributes:
			attr, err := readAttributeVector(lr, numFiles)
			if err != nil {
				return nil, err
			}

			for i, a := range attr {
				fi.file[i].Attributes = a
			}
		case idDummy, idStartPos, idComment:
			// Padding and properties we intentionally don't surface.
		default:
			return nil, errUnexpectedID
		}

		if _, err := io.Copy(io.Discard, lr); err != nil {
			return nil, fmt.Errorf("sevenzip: error skipping property: %w", err)
		}
	}
}

func readHeader(r io.Reader) (*header, error) {
	h := new(header)

	for {
		id, err := readByte(r)
		if err != nil {
			return nil, err
		}

		switch id {
		case idArchiveProperties:
			if err := skipArchiveProperties(r); err != nil {
				return nil, err
			}
		case idAdditionalStreams:
			return nil, fmt.Errorf("%w: additional streams", errUnsupportedFeature)
		case idMainStreams:
			if h.streamsInfo, err = readStreamsInfo(r); err != nil {
				return nil, err
			}
		case idFilesInfo:
			if h.filesInfo, err = readFilesInfo(r); err != nil {
				return nil, err
			}
		case idEnd:
			return h, nil
		default:
			return nil, errUnexpectedID
		}
	}
}

func skipArchiveProperties(r io.Reader) error {
	for {
		id, err := readByte(r)
		if err != nil {
			return err
		}

		if id == idEnd {
			return nil
		}

		size, err := readNumber(r)
		if err != nil {
			return err
		}

		if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil { //nolint:gosec
			return fmt.Errorf("sevenzip: error skipping archive property: %w", err)
		}
	}
}
