package sevenzip

// chain.go builds the coder/bind-pair/packed-stream shape of a [folder]
// for writing. [streamsInfo.FolderReader] already walks that shape to
// decode; this is its write-side counterpart. [linearFolder] covers the
// linear (non-branching) pipelines [Writer] produces: one packed input
// stream flowing through a sequence of coders to one unpacked output.
// [bcj2Folder] covers the one four-input BCJ2 shape.

// linearFolder builds a folder describing coders chained in decode order:
// coder 0 reads the on-disk packed stream and is the first one a
// decompressor runs (so for an encrypted folder it is the AES coder,
// since decryption must happen before decompression); coder i (i>0)
// reads coder i-1's output; the last coder's output is the folder's
// final unpacked stream. This mirrors how [streamsInfo.FolderReader]
// walks f.coder by index, feeding each coder from either the packed
// stream or a bound predecessor's output.
//
// Every coder here has exactly one input and one output stream, so
// outputSizes[i] is simply the byte length coder i produces.
func linearFolder(coders []*coder, outputSizes []uint64) *folder {
	f := &folder{coder: coders}

	for _, c := range coders {
		f.in += c.in
		f.out += c.out
	}

	f.bindPair = make([]*bindPair, 0, len(coders)-1)

	for i := range coders {
		if i > 0 {
			f.bindPair = append(f.bindPair, &bindPair{in: uint64(i), out: uint64(i - 1)}) //nolint:gosec
		}
	}

	f.packedStreams = 1
	f.packed = []uint64{0}
	f.size = append([]uint64(nil), outputSizes...)

	return f
}

// makeCoder returns a *coder with a single input and output stream, the
// shape every codec [Writer] knows how to produce uses.
func makeCoder(id []byte, properties []byte) *coder {
	return &coder{id: id, in: 1, out: 1, properties: properties}
}

// bcj2Folder builds the one non-linear shape [Writer] produces: three
// independent coders (main/call/jump) each reading their own packed
// stream, feeding their outputs into a fourth coder's first three
// inputs. That fourth coder (BCJ2) has a fourth input bound to nothing,
// read directly from a fourth packed stream instead of a coder output
// (the control bitstream), and its single output is the folder's final
// unpacked stream. The packed-stream order (main, call, jump, control)
// matches the global input index a caller must write coder bytes in.
func bcj2Folder(main, call, jump, bcj2 *coder, mainSize, callSize, jumpSize, unpackSize uint64) *folder {
	f := &folder{coder: []*coder{main, call, jump, bcj2}}

	for _, c := range f.coder {
		f.in += c.in
		f.out += c.out
	}

	f.bindPair = []*bindPair{
		{in: 3, out: 0},
		{in: 4, out: 1},
		{in: 5, out: 2},
	}

	f.packedStreams = 4
	f.packed = []uint64{0, 1, 2, 6}
	f.size = []uint64{mainSize, callSize, jumpSize, unpackSize}

	return f
}
