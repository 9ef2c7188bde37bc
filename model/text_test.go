package model

import (
	"testing"

	"golang.org/x/text/encoding/unicode"
)

func TestEncodeTextStringASCIIPassesThrough(t *testing.T) {
	got, err := EncodeTextString("Hello, world!")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "Hello, world!" {
		t.Fatalf("got %q", got)
	}
}

func TestEncodeTextStringNonASCIIUsesUTF16BOM(t *testing.T) {
	got, err := EncodeTextString("café")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) < 2 || got[0] != 0xFE || got[1] != 0xFF {
		t.Fatalf("expected a UTF-16BE byte-order mark, got %x", []byte(got))
	}

	dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
	back, err := dec.Bytes([]byte(got))
	if err != nil {
		t.Fatal(err)
	}
	if string(back) != "café" {
		t.Fatalf("round trip mismatch: got %q", back)
	}
}
