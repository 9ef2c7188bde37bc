package filters

import (
	"bytes"
	"fmt"
	"io"
)

// Skipper locates the end of an encoded, filter-specific byte range that
// carries no explicit length (inline image data, BI...ID...EI). It
// returns the number of encoded bytes consumed, including the EOD
// marker itself.
type Skipper interface {
	Skip(encoded []byte) (int, error)
}

// Skip dispatches to the Skipper for the named filter. LZW and Flate,
// which have no fixed EOD byte sequence of their own, are skipped by
// running their decoder and counting how much of the input it consumed.
func Skip(name string, encoded []byte, params Params) (int, error) {
	switch name {
	case ASCIIHex:
		return skipASCIIHex(encoded)
	case ASCII85:
		return skipASCII85(encoded)
	case RunLength:
		return skipRunLength(encoded)
	case LZW:
		return skipByDecoding(encoded, func(r io.Reader) io.ReadCloser {
			return lzwReadCloser(r, params.EarlyChange != 0)
		})
	case Flate:
		return skipByDecoding(encoded, zlibReadCloser)
	default:
		return 0, fmt.Errorf("filter %s: no EOD skipper available", name)
	}
}

func skipASCIIHex(encoded []byte) (int, error) {
	for i, c := range encoded {
		if c == '>' {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("filter ASCIIHexDecode: missing EOD marker")
}

func skipASCII85(encoded []byte) (int, error) {
	i := indexEOD(encoded)
	if i < 0 {
		return 0, fmt.Errorf("filter ASCII85Decode: missing EOD marker")
	}
	return i + len(eodASCII85), nil
}

func skipRunLength(encoded []byte) (int, error) {
	i := 0
	for i < len(encoded) {
		b := encoded[i]
		i++
		if b == eodRunLength {
			return i, nil
		}
		if b < 0x80 {
			i += int(b) + 1
		} else {
			i++ // the single byte to repeat
		}
		if i > len(encoded) {
			return 0, fmt.Errorf("filter RunLengthDecode: truncated run while skipping")
		}
	}
	return 0, fmt.Errorf("filter RunLengthDecode: missing EOD marker")
}

// countingReader wraps a reader and tallies how many bytes were pulled
// through it, so a caller that decodes a stream only to find its EOD can
// recover how many encoded bytes that corresponded to.
type countingReader struct {
	r         *bytes.Reader
	totalRead int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.totalRead += n
	return n, err
}

// ReadByte lets the zlib and LZW decoders read from countingReader
// directly instead of wrapping it in a bufio.Reader, whose read-ahead
// would be counted as consumed input.
func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.totalRead++
	}
	return b, err
}

func skipByDecoding(encoded []byte, newDecoder func(io.Reader) io.ReadCloser) (int, error) {
	cr := &countingReader{r: bytes.NewReader(encoded)}
	rc := newDecoder(cr)
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return 0, err
	}
	if err := rc.Close(); err != nil {
		return 0, err
	}
	return cr.totalRead, nil
}
