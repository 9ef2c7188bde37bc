package xref

import (
	"strings"
	"testing"
)

// buildClassicPDF assembles a minimal, syntactically valid one-section
// PDF body with a classic xref table, suitable for exercising Load.
func buildClassicPDF(t *testing.T) []byte {
	t.Helper()
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")

	obj1 := b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	obj2 := b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	obj3 := b.Len()
	b.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R >>\nendobj\n")

	xrefOffset := b.Len()
	b.WriteString("xref\n0 4\n")
	b.WriteString("0000000000 65535 f \n")
	b.WriteString(pad(obj1) + " 00000 n \n")
	b.WriteString(pad(obj2) + " 00000 n \n")
	b.WriteString(pad(obj3) + " 00000 n \n")
	b.WriteString("trailer\n<< /Size 4 /Root 1 0 R >>\n")
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

func TestLoadClassicTable(t *testing.T) {
	data := buildClassicPDF(t)
	table, trailer, err := Load(data, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if trailer.Size != 4 {
		t.Fatalf("Size = %d", trailer.Size)
	}
	if trailer.Root == nil || trailer.Root.Number != 1 {
		t.Fatalf("Root = %+v", trailer.Root)
	}
	if entry, ok := table[0]; !ok || !entry.Free {
		t.Fatalf("object 0 should be the free-list head, got %+v", entry)
	}
	for _, num := range []uint32{1, 2, 3} {
		entry, ok := table[num]
		if !ok || entry.Free {
			t.Fatalf("object %d: %+v", num, entry)
		}
		if entry.Offset <= 0 {
			t.Fatalf("object %d has non-positive offset", num)
		}
	}
}

func TestLoadMissingStartxref(t *testing.T) {
	if _, _, err := Load([]byte("%PDF-1.4\nnot a real pdf"), nil); err == nil {
		t.Fatal("expected error for missing startxref footer")
	}
}

func TestPrevChainNewerWins(t *testing.T) {
	// Two classic sections chained by /Prev: the second (physically
	// later, logically newer) redefines object 1; Load must keep that
	// version, not the original.
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	obj1v1 := b.Len()
	b.WriteString("1 0 obj\n<< /V 1 >>\nendobj\n")
	xref1 := b.Len()
	b.WriteString("xref\n0 2\n0000000000 65535 f \n")
	b.WriteString(pad(obj1v1) + " 00000 n \n")
	b.WriteString("trailer\n<< /Size 2 /Root 1 0 R >>\n")
	b.WriteString("startxref\n" + itoa(xref1) + "\n%%EOF\n")

	obj1v2 := b.Len()
	b.WriteString("1 0 obj\n<< /V 2 >>\nendobj\n")
	xref2 := b.Len()
	b.WriteString("xref\n0 2\n0000000000 65535 f \n")
	b.WriteString(pad(obj1v2) + " 00000 n \n")
	b.WriteString("trailer\n<< /Size 2 /Root 1 0 R /Prev " + itoa(xref1) + " >>\n")
	b.WriteString("startxref\n" + itoa(xref2) + "\n%%EOF")

	data := []byte(b.String())
	table, _, err := Load(data, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	entry := table[1]
	if entry.Offset != int64(obj1v2) {
		t.Fatalf("expected newest section's offset %d, got %d", obj1v2, entry.Offset)
	}
}
