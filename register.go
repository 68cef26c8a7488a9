package sevenzip

import (
	"io"
	"sync"

	"github.com/go-sevenzip/sevenzip/internal/aes7z"
	"github.com/go-sevenzip/sevenzip/internal/bcj2"
	"github.com/go-sevenzip/sevenzip/internal/bra"
	"github.com/go-sevenzip/sevenzip/internal/brotli"
	"github.com/go-sevenzip/sevenzip/internal/bzip2"
	"github.com/go-sevenzip/sevenzip/internal/deflate"
	"github.com/go-sevenzip/sevenzip/internal/delta"
	"github.com/go-sevenzip/sevenzip/internal/lz4"
	"github.com/go-sevenzip/sevenzip/internal/lzma"
	"github.com/go-sevenzip/sevenzip/internal/lzma2"
	"github.com/go-sevenzip/sevenzip/internal/ppmd"
	"github.com/go-sevenzip/sevenzip/internal/zstd"
)

// Decompressor is the function signature every codec package exposes. p is
// the coder's raw property blob, size is the coder's declared unpacked
// size, and readers holds one io.ReadCloser per bound/packed input stream
// in coder-input order.
type Decompressor func(p []byte, size uint64, readers []io.ReadCloser) (io.ReadCloser, error)

//nolint:gochecknoglobals
var decompressors sync.Map // map[string]Decompressor, keyed by string(methodID)

// Method ids, see the 7-zip coder id table. BCJ filter ids follow the
// 0x040301xx convention used elsewhere in this module.
//
//nolint:gochecknoglobals
var (
	idCopy    = []byte{0x00}
	idDelta   = []byte{0x03}
	idLZMA    = []byte{0x03, 0x01, 0x01}
	idPPMd    = []byte{0x03, 0x04, 0x01}
	idBCJX86  = []byte{0x04, 0x03, 0x01, 0x01}
	idBCJARM  = []byte{0x04, 0x03, 0x01, 0x02}
	idBCJARM6 = []byte{0x04, 0x03, 0x01, 0x03}
	idBCJPPC  = []byte{0x04, 0x03, 0x01, 0x04}
	idBCJSPRC = []byte{0x04, 0x03, 0x01, 0x05}
	idDeflate = []byte{0x04, 0x01, 0x08}
	idBZip2   = []byte{0x04, 0x02, 0x02}
	idLZMA2   = []byte{0x21}
	idBCJ2    = []byte{0x03, 0x03, 0x01, 0x1b}
	idZstd    = []byte{0x04, 0xf7, 0x11, 0x01}
	idLZ4     = []byte{0x04, 0xf7, 0x11, 0x04}
	idBrotli  = []byte{0x04, 0xf7, 0x11, 0x02}
	idAES256  = []byte{0x06, 0xf1, 0x07, 0x01}
)

func copyReader(_ []byte, _ uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
	if len(readers) != 1 {
		return nil, errAlgorithm
	}

	return readers[0], nil
}

//nolint:gochecknoinits
func init() {
	RegisterDecompressor(idCopy, Decompressor(copyReader))
	RegisterDecompressor(idDelta, Decompressor(delta.NewReader))
	RegisterDecompressor(idLZMA, Decompressor(lzma.NewReader))
	RegisterDecompressor(idPPMd, Decompressor(ppmd.NewReader))
	RegisterDecompressor(idBCJX86, Decompressor(bra.NewBCJReader))
	RegisterDecompressor(idBCJARM, Decompressor(bra.NewARMReader))
	RegisterDecompressor(idBCJARM6, Decompressor(bra.NewARM64Reader))
	RegisterDecompressor(idBCJPPC, Decompressor(bra.NewPPCReader))
	RegisterDecompressor(idBCJSPRC, Decompressor(bra.NewSPARCReader))
	RegisterDecompressor(idDeflate, Decompressor(deflate.NewReader))
	RegisterDecompressor(idBZip2, Decompressor(bzip2.NewReader))
	RegisterDecompressor(idLZMA2, Decompressor(lzma2.NewReader))
	RegisterDecompressor(idBCJ2, Decompressor(bcj2.NewReader))
	RegisterDecompressor(idZstd, Decompressor(zstd.NewReader))
	RegisterDecompressor(idLZ4, Decompressor(lz4.NewReader))
	RegisterDecompressor(idBrotli, Decompressor(brotli.NewReader))
	RegisterDecompressor(idAES256, Decompressor(aes7z.NewReader))
}

// RegisterDecompressor records a [Decompressor] for the given method id. It
// panics if a decompressor is already registered for that id, mirroring the
// one-time init() registration this package relies on.
func RegisterDecompressor(method []byte, dcomp Decompressor) {
	if _, dup := decompressors.LoadOrStore(string(method), dcomp); dup {
		panic("sevenzip: decompressor already registered")
	}
}

func decompressor(method []byte) Decompressor {
	d, ok := decompressors.Load(string(method))
	if !ok {
		return nil
	}

	return d.(Decompressor) //nolint:forcetypeassert
}
