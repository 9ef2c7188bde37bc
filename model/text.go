package model

import (
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

var textStringEnc = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)

// EncodeTextString encodes a UTF-8 Go string into PDF's "text string"
// representation (PDF 1.7 §7.9.2.2): PDFDocEncoding when every rune is
// printable ASCII or common whitespace (PDFDocEncoding agrees with
// ASCII over that range), UTF-16BE with a leading byte-order mark
// otherwise.
func EncodeTextString(s string) (LiteralString, error) {
	if isPDFDocEncodable(s) {
		return LiteralString(s), nil
	}
	sb, err := textStringEnc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("model: invalid text string %q: %w", s, err)
	}
	return LiteralString(sb), nil
}

func isPDFDocEncodable(s string) bool {
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return true
}
