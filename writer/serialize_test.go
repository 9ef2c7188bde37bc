package writer

import (
	"strings"
	"testing"

	"github.com/halverson/pdfcore/model"
)

func TestWriteRealStripsTrailingZeros(t *testing.T) {
	cases := map[float64]string{
		1.5:  "1.5",
		100:  "100",
		0:    "0",
		-3.25: "-3.25",
	}
	for v, want := range cases {
		var b strings.Builder
		WriteReal(&b, v)
		if b.String() != want {
			t.Errorf("WriteReal(%v) = %q, want %q", v, b.String(), want)
		}
	}
}

func TestWriteNameEscapesUnsafeBytes(t *testing.T) {
	var b strings.Builder
	WriteName(&b, model.Name("A B"))
	if b.String() != "/A#20B" {
		t.Fatalf("got %q", b.String())
	}
}

func TestWriteLiteralStringEscapes(t *testing.T) {
	var b strings.Builder
	WriteLiteralString(&b, []byte("a(b)c\\d\n"))
	if b.String() != `(a\(b\)c\\d\n)` {
		t.Fatalf("got %q", b.String())
	}
}

func TestWriteHexString(t *testing.T) {
	var b strings.Builder
	WriteHexString(&b, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	if b.String() != "<deadbeef>" {
		t.Fatalf("got %q", b.String())
	}
}

func TestWriteDictPreservesOrder(t *testing.T) {
	var b strings.Builder
	d := model.Dict{
		model.Name("Count"): model.Integer(3),
		model.Name("Type"):  model.Name("Pages"),
	}
	WriteDict(&b, d, []model.Name{"Type", "Count"})
	if b.String() != "<< /Type /Pages /Count 3 >>" {
		t.Fatalf("got %q", b.String())
	}
}

func TestWriteArray(t *testing.T) {
	var b strings.Builder
	WriteArray(&b, model.Array{model.Integer(1), model.Reference{Number: 2, Generation: 0}})
	if b.String() != "[1 2 0 R]" {
		t.Fatalf("got %q", b.String())
	}
}
