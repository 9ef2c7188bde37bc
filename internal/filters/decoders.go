package filters

import (
	"compress/zlib"
	"io"

	"github.com/hhrutter/lzw"
)

// zlibReadCloser adapts zlib.NewReader's (ReadCloser, error) shape to the
// Skip helpers' func(io.Reader) io.ReadCloser expectation: a header
// error surfaces as an error from the first Read instead.
func zlibReadCloser(r io.Reader) io.ReadCloser {
	rc, err := zlib.NewReader(r)
	if err != nil {
		return errReadCloser{err}
	}
	return rc
}

func lzwReadCloser(r io.Reader, earlyChange bool) io.ReadCloser {
	return lzw.NewReader(r, earlyChange)
}

type errReadCloser struct{ err error }

func (e errReadCloser) Read([]byte) (int, error) { return 0, e.err }
func (e errReadCloser) Close() error             { return nil }
