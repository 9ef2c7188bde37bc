// Package writer implements the imperative object-context API used to
// produce PDF syntax: primitive serializers, an indirect-object
// allocator with a pending cross-reference list, dictionary/stream
// builders, and the final xref-table/trailer emission. It is the
// writing counterpart to parser+xref: where those packages turn bytes
// into model.Object values, this one turns model.Object values (and a
// few lower-level primitives streams don't fit into model.Object) back
// into bytes.
package writer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/halverson/pdfcore/model"
)

// WriteBool appends a PDF boolean literal.
func WriteBool(b *strings.Builder, v bool) {
	if v {
		b.WriteString("true")
	} else {
		b.WriteString("false")
	}
}

// WriteInteger appends a PDF integer literal.
func WriteInteger(b *strings.Builder, v int64) {
	b.WriteString(strconv.FormatInt(v, 10))
}

// WriteReal appends a PDF real literal: fixed-point, trailing zeros
// stripped, the decimal point itself dropped when the value is integral.
func WriteReal(b *strings.Builder, v float64) {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "" || s == "-" {
		s = "0"
	}
	b.WriteString(s)
}

// WriteName appends a PDF name literal, hex-escaping bytes outside the
// name-safe set (it delegates to model.Name.String).
func WriteName(b *strings.Builder, name model.Name) {
	b.WriteString(name.String())
}

// WriteNull appends the PDF null literal.
func WriteNull(b *strings.Builder) { b.WriteString("null") }

// WriteReference appends an "id gen R" indirect reference.
func WriteReference(b *strings.Builder, ref model.Reference) {
	fmt.Fprintf(b, "%d %d R", ref.Number, ref.Generation)
}

// WriteLiteralString appends a balanced-parenthesis string literal,
// escaping the characters PDF 1.7 Table 3 requires.
func WriteLiteralString(b *strings.Builder, raw []byte) {
	b.WriteByte('(')
	for _, c := range raw {
		switch c {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			if c < 0x20 || c >= 0x7f {
				fmt.Fprintf(b, `\%03o`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte(')')
}

// WriteHexString appends a hex-digit string literal.
func WriteHexString(b *strings.Builder, raw []byte) {
	const digits = "0123456789abcdef"
	b.WriteByte('<')
	for _, c := range raw {
		b.WriteByte(digits[c>>4])
		b.WriteByte(digits[c&0xf])
	}
	b.WriteByte('>')
}

// WriteObject serializes any model.Object, dispatching to the
// type-specific writer above. Stream objects cannot be serialized this
// way (they need PDFStream's two-phase length back-patch) and panic if
// passed in; callers that may encounter one should type-switch for
// model.Stream before calling WriteObject.
func WriteObject(b *strings.Builder, o model.Object) {
	switch v := o.(type) {
	case model.Null:
		WriteNull(b)
	case model.Boolean:
		WriteBool(b, bool(v))
	case model.Integer:
		WriteInteger(b, int64(v))
	case model.Real:
		WriteReal(b, float64(v))
	case model.Name:
		WriteName(b, v)
	case model.LiteralString:
		WriteLiteralString(b, []byte(v))
	case model.HexString:
		WriteHexString(b, []byte(v))
	case model.Reference:
		WriteReference(b, v)
	case model.Array:
		WriteArray(b, v)
	case model.Dict:
		WriteDict(b, v, nil)
	case model.Symbol:
		b.WriteString(string(v))
	case model.Stream:
		panic("writer: model.Stream must be written via PDFStream, not WriteObject")
	default:
		panic(fmt.Sprintf("writer: unsupported object type %T", o))
	}
}

// WriteArray appends a bracketed, space-separated array.
func WriteArray(b *strings.Builder, arr model.Array) {
	b.WriteByte('[')
	for i, o := range arr {
		if i > 0 {
			b.WriteByte(' ')
		}
		WriteObject(b, o)
	}
	b.WriteByte(']')
}

// WriteDict appends a "<< ... >>" dictionary. order, when non-nil,
// fixes the key emission order; keys present in d but absent from order
// are appended afterwards in map iteration order. WriteObject passes a
// nil order, so every dictionary written through it comes out in map
// iteration order.
func WriteDict(b *strings.Builder, d model.Dict, order []model.Name) {
	b.WriteString("<<")
	written := make(map[model.Name]bool, len(d))
	emit := func(k model.Name) {
		v, ok := d[k]
		if !ok || written[k] {
			return
		}
		written[k] = true
		b.WriteByte(' ')
		WriteName(b, k)
		b.WriteByte(' ')
		WriteObject(b, v)
	}
	for _, k := range order {
		emit(k)
	}
	for k := range d {
		emit(k)
	}
	b.WriteString(" >>")
}
