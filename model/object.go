// Package model defines the tagged-variant object tree used to represent
// PDF values, both when read from an existing file and when built up for
// writing a new one.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Object is a node of a PDF syntax tree. The concrete type is always one
// of the types defined in this file (Null, Boolean, Integer, Real, Name,
// LiteralString, HexString, Array, Dict, Reference, Stream, Symbol);
// Object itself carries no behaviour beyond tagging.
//
// A PDF object is never represented by a Go nil: the absence of a value
// is the explicit Null object.
type Object interface {
	// isObject is unexported so that Object cannot be implemented
	// outside this package: the set of shapes is closed, per spec.
	isObject()
}

// Null is the PDF null object.
type Null struct{}

func (Null) isObject() {}

// Boolean is a PDF boolean object.
type Boolean bool

func (Boolean) isObject() {}

// Integer is a PDF integer object, stored as a signed 64 bit value.
type Integer int64

func (Integer) isObject() {}

// Real is a PDF real (floating point) object.
type Real float64

func (Real) isObject() {}

// Name is a PDF name object. It stores the decoded bytes (after #hh
// escapes have been resolved), not the literal on-disk form.
type Name string

func (Name) isObject() {}

// String returns the on-disk form of the name, with the leading slash,
// escaping bytes outside the name-safe set as required on write.
func (n Name) String() string {
	return EncodeName(string(n))
}

// LiteralString is a PDF string object that was written with balanced
// parentheses. The payload is the raw bytes after escape processing.
type LiteralString []byte

func (LiteralString) isObject() {}

// HexString is a PDF string object that was written inside angle
// brackets. The payload is the raw bytes after hex decoding.
type HexString []byte

func (HexString) isObject() {}

// Array is an ordered sequence of objects.
type Array []Object

func (Array) isObject() {}

// Dict is a mapping from Name to Object. Go maps do not preserve
// insertion order, and no key order is recorded for a parsed Dict:
// writer.WriteObject emits a Dict's keys in map iteration order. A fixed
// key order on write comes only from building the dictionary key by key
// through writer.DictionaryContext, or from passing an explicit order
// to writer.WriteDict.
type Dict map[Name]Object

func (Dict) isObject() {}

// Reference is a PDF indirect reference: an object id plus a generation
// number.
type Reference struct {
	Number     uint32
	Generation uint16
}

func (Reference) isObject() {}

// String returns the "id gen R" form used both when parsing and writing.
func (r Reference) String() string {
	return fmt.Sprintf("%d %d R", r.Number, r.Generation)
}

// StreamRange locates the encoded bytes of a Stream inside some
// byte-addressable source. Parsed streams hold only this descriptor: the
// parser does not eagerly read stream content (spec §4.3).
type StreamRange struct {
	Offset int64 // absolute offset of the first content byte
	Length int64 // encoded length, as resolved from /Length
}

// Stream is a PDF stream object: a dictionary plus either a byte range
// into a source file (when parsed) or a content buffer (when constructed
// for writing). At most one of Range/Content is meaningful at a time;
// Content, when non-nil, takes priority.
type Stream struct {
	Dict Dict

	// Range is set for streams produced by the parser: the stream does
	// not own these bytes, it only knows where to find them.
	Range StreamRange

	// Content holds the bytes of a stream built in memory rather than
	// parsed. No package in this module sets it; when it is non-nil, the
	// reader returns it unchanged from both StreamContent and
	// RawStreamContent.
	Content []byte
}

func (Stream) isObject() {}

// Symbol is an unquoted keyword encountered while parsing that is not
// itself reified as another Object kind (true/false/null become Boolean/
// Null instead). Typical values: "obj", "endobj", "stream", "endstream",
// "xref", "trailer", "startxref", "R", "n", "f".
type Symbol string

func (Symbol) isObject() {}

// EncodeName renders s (already-decoded name bytes) as an on-disk PDF
// name token, escaping bytes outside the name-safe set as #hh. The
// slash itself, whitespace, delimiters and '#' are always escaped.
func EncodeName(s string) string {
	var b strings.Builder
	b.WriteByte('/')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isNameSafe(c) {
			b.WriteByte(c)
		} else {
			b.WriteByte('#')
			b.WriteString(hexByte(c))
		}
	}
	return b.String()
}

func hexByte(c byte) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[c>>4], digits[c&0xf]})
}

func isNameSafe(c byte) bool {
	if c <= 0x20 || c == 0x7f || c >= 0x80 {
		return false
	}
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%', '#':
		return false
	}
	return true
}

// DecodeName interprets raw (already slash-stripped) name bytes,
// resolving #hh escapes.
func DecodeName(raw []byte) Name {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] == '#' && i+2 < len(raw) {
			if v, err := strconv.ParseUint(string(raw[i+1:i+3]), 16, 8); err == nil {
				out = append(out, byte(v))
				i += 2
				continue
			}
		}
		out = append(out, raw[i])
	}
	return Name(out)
}
