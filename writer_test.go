package sevenzip

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeArchive runs fn against a fresh [Writer] over buf, closing it and
// returning the bytes written.
func writeArchive(t *testing.T, opts []WriterOption, fn func(z *Writer)) []byte {
	t.Helper()

	var buf bytes.Buffer

	z := NewWriter(&buf, opts...)
	fn(z)
	require.NoError(t, z.Close())

	return buf.Bytes()
}

// readAll opens f and returns its full contents.
func readAll(t *testing.T, f *File) []byte {
	t.Helper()

	rc, err := f.Open()
	require.NoError(t, err)

	defer func() { require.NoError(t, rc.Close()) }()

	b, err := io.ReadAll(rc)
	require.NoError(t, err)

	return b
}

func TestWriterMethods(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 200)

	tables := map[string]struct {
		method Method
		filter Filter
	}{
		"lzma2":   {method: MethodLZMA2},
		"copy":    {method: MethodCopy},
		"bzip2":   {method: MethodBZip2},
		"deflate": {method: MethodDeflate},
		"zstd":    {method: MethodZstd},
		"lz4":     {method: MethodLZ4},
		"brotli":  {method: MethodBrotli},
		"ppmd":    {method: MethodPPMd},
		"delta":   {method: MethodLZMA2, filter: FilterDelta},
		"bcjx86":  {method: MethodLZMA2, filter: FilterBCJX86},
		"bcj2":    {method: MethodLZMA2, filter: FilterBCJ2},
	}

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			data := writeArchive(t, []WriterOption{WithMethod(table.method), WithFilter(table.filter)}, func(z *Writer) {
				w, err := z.Create(FileHeader{Name: "dog.txt"})
				require.NoError(t, err)

				_, err = w.Write(content)
				require.NoError(t, err)
			})

			r, err := NewReader(bytes.NewReader(data), int64(len(data)))
			require.NoError(t, err)

			require.Len(t, r.File, 1)
			assert.Equal(t, "dog.txt", r.File[0].Name)
			assert.Equal(t, content, readAll(t, r.File[0]))
		})
	}
}

func TestWriterSolidGrouping(t *testing.T) {
	t.Parallel()

	data := writeArchive(t, []WriterOption{WithSolid(true)}, func(z *Writer) {
		for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
			w, err := z.Create(FileHeader{Name: name})
			require.NoError(t, err)

			_, err = w.Write([]byte("content of " + name))
			require.NoError(t, err)
		}
	})

	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	require.Len(t, r.File, 3)

	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		assert.Equal(t, name, r.File[i].Name)
		assert.Equal(t, "content of "+name, string(readAll(t, r.File[i])))
	}

	// All three entries share one folder, the definition of solid.
	assert.Equal(t, r.File[0].Stream, r.File[1].Stream)
	assert.Equal(t, r.File[1].Stream, r.File[2].Stream)
}

func TestWriterGroupFunc(t *testing.T) {
	t.Parallel()

	groupOf := func(hdr FileHeader) string {
		if len(hdr.Name) > 0 && hdr.Name[0] == 'a' {
			return "a-group"
		}

		return ""
	}

	data := writeArchive(t, []WriterOption{WithGroupFunc(groupOf)}, func(z *Writer) {
		for _, name := range []string{"a1.txt", "a2.txt", "b1.txt"} {
			w, err := z.Create(FileHeader{Name: name})
			require.NoError(t, err)

			_, err = w.Write([]byte(name))
			require.NoError(t, err)
		}
	})

	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	require.Len(t, r.File, 3)
	assert.Equal(t, r.File[0].Stream, r.File[1].Stream)
	assert.NotEqual(t, r.File[1].Stream, r.File[2].Stream)
}

func TestWriterDeterministic(t *testing.T) {
	t.Parallel()

	build := func() []byte {
		return writeArchive(t, []WriterOption{WithDeterministic(true)}, func(z *Writer) {
			for _, name := range []string{"zeta.txt", "alpha.txt", "mu.txt"} {
				w, err := z.Create(FileHeader{Name: name})
				require.NoError(t, err)

				_, err = w.Write([]byte(name))
				require.NoError(t, err)
			}
		})
	}

	first := build()
	second := build()

	assert.Equal(t, first, second)

	r, err := NewReader(bytes.NewReader(first), int64(len(first)))
	require.NoError(t, err)

	require.Len(t, r.File, 3)
	assert.Equal(t, "alpha.txt", r.File[0].Name)
	assert.Equal(t, "mu.txt", r.File[1].Name)
	assert.Equal(t, "zeta.txt", r.File[2].Name)
}

func TestWriterEncryptDataAndHeader(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	z := NewWriter(&buf, WithEncryptHeader(true))
	z.SetPassword("hunter2")

	w, err := z.Create(FileHeader{Name: "secret.txt"})
	require.NoError(t, err)

	_, err = w.Write([]byte("this is encrypted content"))
	require.NoError(t, err)

	require.NoError(t, z.Close())

	data := buf.Bytes()

	_, err = NewReader(bytes.NewReader(data), int64(len(data)))
	require.Error(t, err, "header is encrypted, so plain NewReader must fail to parse it")

	r, err := NewReaderWithPassword(bytes.NewReader(data), int64(len(data)), "hunter2")
	require.NoError(t, err)

	require.Len(t, r.File, 1)
	assert.Equal(t, "secret.txt", r.File[0].Name)
	assert.Equal(t, "this is encrypted content", string(readAll(t, r.File[0])))
}

func TestWriterEncryptHeaderWithoutPassword(t *testing.T) {
	t.Parallel()

	// Mirrors the upstream guarantee that encrypt_header without a
	// password set is a no-op: the header stays plain.
	data := writeArchive(t, []WriterOption{WithEncryptHeader(true)}, func(z *Writer) {
		w, err := z.Create(FileHeader{Name: "plain.txt"})
		require.NoError(t, err)

		_, err = w.Write([]byte("not encrypted"))
		require.NoError(t, err)
	})

	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	require.Len(t, r.File, 1)
	assert.Equal(t, "plain.txt", r.File[0].Name)
}

func TestWriterCreateAnti(t *testing.T) {
	t.Parallel()

	data := writeArchive(t, nil, func(z *Writer) {
		require.NoError(t, z.CreateAnti(FileHeader{Name: "deleted.txt"}))

		w, err := z.Create(FileHeader{Name: "kept.txt"})
		require.NoError(t, err)

		_, err = w.Write([]byte("still here"))
		require.NoError(t, err)
	})

	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	require.Len(t, r.File, 2)
	assert.Equal(t, "deleted.txt", r.File[0].Name)
	assert.True(t, r.File[0].IsAnti())
	assert.Equal(t, "kept.txt", r.File[1].Name)
	assert.False(t, r.File[1].IsAnti())
	assert.Equal(t, "still here", string(readAll(t, r.File[1])))
}

func TestWriterComment(t *testing.T) {
	t.Parallel()

	data := writeArchive(t, []WriterOption{WithComment("archive notes")}, func(z *Writer) {
		require.NoError(t, z.CreateDir(FileHeader{Name: "empty-dir"}))
	})

	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	require.Len(t, r.File, 1)
	assert.Equal(t, "empty-dir/", r.File[0].Name)
}

func TestWriterDuplicateName(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	z := NewWriter(&buf)

	_, err := z.Create(FileHeader{Name: "dup.txt"})
	require.NoError(t, err)

	_, err = z.Create(FileHeader{Name: "dup.txt"})
	require.ErrorIs(t, err, errDuplicateName)
}

func TestWriterClosedRejectsFurtherWrites(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	z := NewWriter(&buf)
	require.NoError(t, z.Close())

	_, err := z.Create(FileHeader{Name: "too-late.txt"})
	require.ErrorIs(t, err, errWriterClosed)

	require.ErrorIs(t, z.CreateDir(FileHeader{Name: "too-late-dir"}), errWriterClosed)
	require.ErrorIs(t, z.CreateAnti(FileHeader{Name: "too-late-anti"}), errWriterClosed)
	require.ErrorIs(t, z.Close(), errWriterClosed)
}

func TestWriterCreateSolid(t *testing.T) {
	t.Parallel()

	data := writeArchive(t, nil, func(z *Writer) {
		ws, err := z.CreateSolid([]FileHeader{{Name: "s1.txt"}, {Name: "s2.txt"}})
		require.NoError(t, err)
		require.Len(t, ws, 2)

		_, err = ws[0].Write([]byte("solid one"))
		require.NoError(t, err)

		_, err = ws[1].Write([]byte("solid two"))
		require.NoError(t, err)
	})

	r, err := NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	require.Len(t, r.File, 2)
	assert.Equal(t, r.File[0].Stream, r.File[1].Stream)
	assert.Equal(t, "solid one", string(readAll(t, r.File[0])))
	assert.Equal(t, "solid two", string(readAll(t, r.File[1])))
}

func TestWriterCreateSolidEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	z := NewWriter(&buf)

	_, err := z.CreateSolid(nil)
	require.ErrorIs(t, err, errEmptyFolder)
}
