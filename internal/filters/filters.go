// Package filters implements the PDF stream-filter pipeline: decoding
// (and, where the writer needs it, encoding) of the standard filter
// names, plus predictor post/pre-processing and the EOD-seeking skippers
// used to bound inline image data that carries no explicit /Length.
package filters

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/hhrutter/lzw"
)

// Standard filter names, PDF 1.7 §7.4.
const (
	ASCII85   = "ASCII85Decode"
	ASCIIHex  = "ASCIIHexDecode"
	RunLength = "RunLengthDecode"
	LZW       = "LZWDecode"
	Flate     = "FlateDecode"
	DCT       = "DCTDecode"
	CCITTFax  = "CCITTFaxDecode"
	Crypt     = "Crypt"
)

// Params carries the subset of a filter's /DecodeParms this package
// understands: predictor post-processing and LZW's EarlyChange.
type Params struct {
	Predictor   int
	Colors      int
	BitsPerComp int
	Columns     int
	EarlyChange int // LZW only; PDF default is 1 (true)
}

// DefaultParams returns the PDF-mandated defaults for an omitted
// /DecodeParms dictionary.
func DefaultParams() Params {
	return Params{Colors: 1, BitsPerComp: 8, Columns: 1, EarlyChange: 1}
}

// Decode applies the named filter to encoded, returning the decoded
// bytes. Unknown filter names are reported as an error: the caller
// (reader) decides whether an unrecognized filter should abort the read
// or pass the stream through raw.
func Decode(name string, encoded []byte, params Params) ([]byte, error) {
	switch name {
	case ASCIIHex:
		return decodeASCIIHex(encoded)
	case ASCII85:
		return decodeASCII85(encoded)
	case RunLength:
		return decodeRunLength(encoded)
	case LZW:
		raw, err := readAll(lzw.NewReader(bytes.NewReader(encoded), params.EarlyChange != 0))
		if err != nil {
			return nil, fmt.Errorf("filter LZWDecode: %w", err)
		}
		return applyPredictor(raw, params)
	case Flate:
		rc, err := zlib.NewReader(bytes.NewReader(encoded))
		if err != nil {
			return nil, fmt.Errorf("filter FlateDecode: %w", err)
		}
		raw, err := ioutil.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("filter FlateDecode: %w", err)
		}
		if err := rc.Close(); err != nil {
			return nil, fmt.Errorf("filter FlateDecode: %w", err)
		}
		return applyPredictor(raw, params)
	case Crypt:
		// The identity Crypt filter is a no-op at the filter-pipeline
		// level: decryption
		// itself happens earlier, per-object, in the crypt package.
		return encoded, nil
	default:
		return nil, fmt.Errorf("filter %s: unsupported", name)
	}
}

// Encode applies the named filter in the encoding direction, for use by
// the writer when it compresses a stream it owns.
func Encode(name string, raw []byte, params Params) ([]byte, error) {
	switch name {
	case ASCIIHex:
		return encodeASCIIHex(raw), nil
	case ASCII85:
		return encodeASCII85(raw), nil
	case RunLength:
		return encodeRunLength(raw), nil
	case LZW:
		var buf bytes.Buffer
		w := lzw.NewWriter(&buf, params.EarlyChange != 0)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("filter LZWDecode (encode): %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("filter LZWDecode (encode): %w", err)
		}
		return buf.Bytes(), nil
	case Flate:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("filter FlateDecode (encode): %w", err)
		}
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("filter FlateDecode (encode): %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("filter FlateDecode (encode): %w", err)
		}
		return buf.Bytes(), nil
	case Crypt:
		return raw, nil
	default:
		return nil, fmt.Errorf("filter %s: unsupported for encoding", name)
	}
}

func readAll(rc io.ReadCloser) ([]byte, error) {
	b, err := ioutil.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return b, rc.Close()
}
