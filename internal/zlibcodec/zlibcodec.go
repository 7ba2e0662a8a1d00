// Package zlibcodec compresses and decompresses the object streams of the
// streamed packfile codec (packfile.ReadPack/WritePack). The loose-object
// store, object.Compress and the seekable packfile reader use the standard
// library's compress/zlib instead.
//
// It wraps klauspost/compress/zlib instead of the standard library's
// compress/zlib, matching the dependency already pulled in by the rest of
// this project's domain stack for exactly this concern.
package zlibcodec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Compress returns the zlib-compressed form of data.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reads a full zlib stream from r and returns the decompressed
// bytes.
func Decompress(r io.Reader) ([]byte, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close() //nolint:errcheck // read-only decompression

	return io.ReadAll(zr)
}

// NewReader returns a streaming zlib reader, used by callers (e.g. the
// packfile codec) that need to know exactly how many compressed bytes were
// consumed.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	return zlib.NewReader(r)
}
