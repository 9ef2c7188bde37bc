package reader

import (
	"bytes"
	"compress/zlib"
	"strings"
	"testing"

	"github.com/halverson/pdfcore/model"
)

// buildSimplePDF assembles a minimal classic-xref PDF with one page
// whose content stream is Flate-compressed, and a Pages node carrying
// an inheritable /Resources that the leaf itself omits.
func buildSimplePDF(t *testing.T) []byte {
	t.Helper()

	var content bytes.Buffer
	zw := zlib.NewWriter(&content)
	zw.Write([]byte("1 0 0 1 0 0 cm"))
	zw.Close()

	var b strings.Builder
	b.WriteString("%PDF-1.7\n")

	offsets := make([]int, 6)

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 /Resources << /Font << /F1 5 0 R >> >> /MediaBox [0 0 612 792] >>\nendobj\n")

	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>\nendobj\n")

	offsets[4] = b.Len()
	b.WriteString("4 0 obj\n<< /Length ")
	b.WriteString(itoa(content.Len()))
	b.WriteString(" /Filter /FlateDecode >>\nstream\n")
	b.Write(content.Bytes())
	b.WriteString("\nendstream\nendobj\n")

	offsets[5] = b.Len()
	b.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	xrefOffset := b.Len()
	b.WriteString("xref\n0 6\n")
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		b.WriteString(pad(offsets[i]) + " 00000 n \n")
	}
	b.WriteString("trailer\n<< /Size 6 /Root 1 0 R >>\n")
	b.WriteString("startxref\n")
	b.WriteString(itoa(xrefOffset))
	b.WriteString("\n%%EOF")

	return []byte(b.String())
}

func pad(n int) string {
	s := itoa(n)
	for len(s) < 10 {
		s = "0" + s
	}
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestOpenAndResolveCatalog(t *testing.T) {
	doc, err := Open(buildSimplePDF(t), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	root, err := doc.Resolve(*doc.Trailer.Root)
	if err != nil {
		t.Fatal(err)
	}
	dict, ok := root.(model.Dict)
	if !ok {
		t.Fatalf("got %T", root)
	}
	if dict["Type"] != model.Name("Catalog") {
		t.Fatalf("Type = %v", dict["Type"])
	}
}

func TestStreamContentDecodesFlate(t *testing.T) {
	doc, err := Open(buildSimplePDF(t), "")
	if err != nil {
		t.Fatal(err)
	}
	obj, err := doc.GetObject(model.Reference{Number: 4})
	if err != nil {
		t.Fatal(err)
	}
	st, ok := obj.(model.Stream)
	if !ok {
		t.Fatalf("got %T", obj)
	}
	decoded, err := doc.StreamContent(model.Reference{Number: 4}, st)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != "1 0 0 1 0 0 cm" {
		t.Fatalf("decoded = %q", decoded)
	}
}

func TestPagesFlattenAndInheritResources(t *testing.T) {
	doc, err := Open(buildSimplePDF(t), "")
	if err != nil {
		t.Fatal(err)
	}
	pages, err := doc.LoadPages()
	if err != nil {
		t.Fatal(err)
	}
	if pages.Count() != 1 {
		t.Fatalf("Count() = %d", pages.Count())
	}
	ref, err := pages.PageObjectID(0)
	if err != nil {
		t.Fatal(err)
	}
	if ref.Number != 3 {
		t.Fatalf("PageObjectID(0) = %v", ref)
	}

	page, err := doc.Page(pages, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.MediaBox != (model.Rectangle{Llx: 0, Lly: 0, Urx: 612, Ury: 792}) {
		t.Fatalf("MediaBox = %+v", page.MediaBox)
	}
	if page.CropBox != page.MediaBox {
		t.Fatalf("CropBox should default to MediaBox, got %+v", page.CropBox)
	}
	if page.Resources == nil {
		t.Fatal("expected inherited /Resources from the Pages node")
	}
	if _, has := page.Resources["Font"]; !has {
		t.Fatalf("Resources = %+v", page.Resources)
	}
}

func TestQueryInheritedValueMissingReturnsNull(t *testing.T) {
	doc, err := Open(buildSimplePDF(t), "")
	if err != nil {
		t.Fatal(err)
	}
	pageObj, err := doc.GetObject(model.Reference{Number: 3})
	if err != nil {
		t.Fatal(err)
	}
	dict := pageObj.(model.Dict)
	v, err := doc.QueryInheritedValue(dict, "NoSuchKeyAnywhere")
	if err != nil {
		t.Fatal(err)
	}
	if _, isNull := v.(model.Null); !isNull {
		t.Fatalf("got %T, want model.Null", v)
	}
}
