package copier

import (
	"bytes"
	"strings"
	"testing"

	"github.com/halverson/pdfcore/model"
	"github.com/halverson/pdfcore/reader"
	"github.com/halverson/pdfcore/writer"
)

// buildSourcePDF is a two-page document: page 0 has a /F1 font and a
// content stream that references it, page 1 shares nothing. Used to
// exercise both transitive deep-copy and resource-name remapping.
func buildSourcePDF(t *testing.T) []byte {
	t.Helper()
	var b strings.Builder
	b.WriteString("%PDF-1.7\n")
	offsets := make([]int, 8)

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R 6 0 R] /Count 2 /MediaBox [0 0 612 792] >>\nendobj\n")

	offsets[3] = b.Len()
	b.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>\nendobj\n")

	content := "/F1 12 Tf (hi) Tj"
	offsets[4] = b.Len()
	b.WriteString("4 0 obj\n<< /Length ")
	b.WriteString(itoa(len(content)))
	b.WriteString(" >>\nstream\n")
	b.WriteString(content)
	b.WriteString("\nendstream\nendobj\n")

	offsets[5] = b.Len()
	b.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	offsets[6] = b.Len()
	b.WriteString("6 0 obj\n<< /Type /Page /Parent 2 0 R >>\nendobj\n")

	offsets[7] = b.Len()
	b.WriteString("7 0 obj\n<< /Title (untitled) >>\nendobj\n")

	xrefOffset := b.Len()
	b.WriteString("xref\n0 8\n")
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 7; i++ {
		b.WriteString(pad(offsets[i]) + " 00000 n \n")
	}
	b.WriteString("trailer\n<< /Size 8 /Root 1 0 R /Info 7 0 R >>\n")
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

func openSource(t *testing.T) (*reader.Document, *reader.Pages) {
	t.Helper()
	src, err := reader.Open(buildSourcePDF(t), "")
	if err != nil {
		t.Fatalf("reader.Open: %v", err)
	}
	pages, err := src.LoadPages()
	if err != nil {
		t.Fatalf("LoadPages: %v", err)
	}
	return src, pages
}

func TestCopyFormXObjectForPageRoundTrips(t *testing.T) {
	src, pages := openSource(t)

	var out bytes.Buffer
	w := writer.New(&out, false)
	w.WriteHeader("1.7")

	sess := Start(src, w)
	xobjID, err := sess.CopyFormXObjectForPage(pages, 0, model.Rectangle{Llx: 0, Lly: 0, Urx: 612, Ury: 792}, model.Identity)
	if err != nil {
		t.Fatalf("CopyFormXObjectForPage: %v", err)
	}
	if err := sess.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	catalogID := w.AllocateID()
	w.StartNewIndirectObject(catalogID)
	dc := w.StartDictionary()
	dc.WriteKey("Type")
	w.WriteObject(model.Name("Catalog"))
	dc.EndDictionary()
	w.EndIndirectObject()

	if err := w.EndPDF(writer.Trailer{Root: model.Reference{Number: catalogID}}); err != nil {
		t.Fatalf("EndPDF: %v", err)
	}

	doc, err := reader.Open(out.Bytes(), "")
	if err != nil {
		t.Fatalf("reader.Open(output): %v", err)
	}
	obj, err := doc.GetObject(model.Reference{Number: xobjID})
	if err != nil {
		t.Fatal(err)
	}
	st, ok := obj.(model.Stream)
	if !ok {
		t.Fatalf("got %T", obj)
	}
	if st.Dict["Subtype"] != model.Name("Form") {
		t.Fatalf("Subtype = %v", st.Dict["Subtype"])
	}
	content, err := doc.StreamContent(model.Reference{Number: xobjID}, st)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "/F1 12 Tf (hi) Tj\n" {
		t.Fatalf("content = %q", content)
	}

	resources, ok := st.Dict["Resources"].(model.Dict)
	if !ok {
		t.Fatalf("Resources = %T", st.Dict["Resources"])
	}
	fonts, ok := resources["Font"].(model.Dict)
	if !ok || len(fonts) != 1 {
		t.Fatalf("Font resources = %+v", resources["Font"])
	}
	fontRef, ok := fonts["F1"].(model.Reference)
	if !ok {
		t.Fatalf("F1 = %T", fonts["F1"])
	}
	fontObj, err := doc.GetObject(fontRef)
	if err != nil {
		t.Fatal(err)
	}
	if fontObj.(model.Dict)["BaseFont"] != model.Name("Helvetica") {
		t.Fatalf("copied font = %+v", fontObj)
	}
}

func TestAppendPageAsNewPageStripsParent(t *testing.T) {
	src, pages := openSource(t)

	var out bytes.Buffer
	w := writer.New(&out, false)
	w.WriteHeader("1.7")

	sess := Start(src, w)
	newPageID, err := sess.AppendPageAsNewPage(pages, 0)
	if err != nil {
		t.Fatalf("AppendPageAsNewPage: %v", err)
	}
	if err := sess.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	pagesID := w.AllocateID()
	catalogID := w.AllocateID()

	w.StartNewIndirectObject(pagesID)
	dc := w.StartDictionary()
	dc.WriteKey("Type")
	w.WriteObject(model.Name("Pages"))
	dc.WriteKey("Kids")
	w.WriteObject(model.Array{model.Reference{Number: newPageID}})
	dc.WriteKey("Count")
	w.WriteObject(model.Integer(1))
	dc.EndDictionary()
	w.EndIndirectObject()

	w.StartNewIndirectObject(catalogID)
	dc = w.StartDictionary()
	dc.WriteKey("Type")
	w.WriteObject(model.Name("Catalog"))
	dc.WriteKey("Pages")
	w.WriteObject(model.Reference{Number: pagesID})
	dc.EndDictionary()
	w.EndIndirectObject()

	if err := w.EndPDF(writer.Trailer{Root: model.Reference{Number: catalogID}}); err != nil {
		t.Fatal(err)
	}

	doc, err := reader.Open(out.Bytes(), "")
	if err != nil {
		t.Fatal(err)
	}
	newPages, err := doc.LoadPages()
	if err != nil {
		t.Fatal(err)
	}
	if newPages.Count() != 1 {
		t.Fatalf("Count() = %d", newPages.Count())
	}
	page, err := doc.Page(newPages, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, hasParent := page.Dict["Parent"]; hasParent {
		t.Fatal("expected /Parent to be stripped from the copied page")
	}
	if page.Resources == nil {
		t.Fatal("expected copied /Resources")
	}
}

func TestMergePageContentToTargetPageRenamesCollidingResource(t *testing.T) {
	src, pages := openSource(t)

	var out bytes.Buffer
	w := writer.New(&out, false)
	sess := Start(src, w)

	existing := model.Dict{
		"Font": model.Dict{"F1": model.Reference{Number: 999}},
	}
	result, err := sess.MergePageContentToTargetPage(existing, pages, 0)
	if err != nil {
		t.Fatalf("MergePageContentToTargetPage: %v", err)
	}

	fonts := result.Resources["Font"].(model.Dict)
	if _, stillThere := fonts["F1"]; !stillThere {
		t.Fatal("pre-existing /F1 must not be clobbered")
	}
	if _, renamed := fonts["F1_2"]; !renamed {
		t.Fatalf("expected the colliding source font under a fresh name, got %+v", fonts)
	}
	if !strings.Contains(string(result.Content), "/F1_2 12 Tf") {
		t.Fatalf("content not rewritten: %q", result.Content)
	}
}

// TestCopyWholeDocumentRoundTrips exercises the "resave in the clear"
// path: every object reachable from the source's /Root and /Info is
// pulled into a fresh, unencrypted target, and the result opens and
// reads back identically with no password.
func TestCopyWholeDocumentRoundTrips(t *testing.T) {
	src, pages := openSource(t)
	if pages.Count() != 2 {
		t.Fatalf("source page count = %d", pages.Count())
	}

	var out bytes.Buffer
	w := writer.New(&out, false)
	w.WriteHeader("1.7")

	sess := Start(src, w)
	rootID, infoID, err := sess.CopyWholeDocument()
	if err != nil {
		t.Fatalf("CopyWholeDocument: %v", err)
	}
	if err := sess.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	trailer := writer.Trailer{Root: model.Reference{Number: rootID}}
	if infoID != nil {
		ref := model.Reference{Number: *infoID}
		trailer.Info = &ref
	}
	if err := w.EndPDF(trailer); err != nil {
		t.Fatalf("EndPDF: %v", err)
	}

	doc, err := reader.Open(out.Bytes(), "")
	if err != nil {
		t.Fatalf("reader.Open(output): %v", err)
	}
	newPages, err := doc.LoadPages()
	if err != nil {
		t.Fatal(err)
	}
	if newPages.Count() != 2 {
		t.Fatalf("copied page count = %d", newPages.Count())
	}

	page, err := doc.Page(newPages, 0)
	if err != nil {
		t.Fatal(err)
	}
	font, ok := page.Resources["Font"].(model.Dict)
	if !ok || font["F1"] == nil {
		t.Fatalf("copied page lost its /Font resource: %+v", page.Resources)
	}

	if infoID == nil {
		t.Fatal("expected /Info to be copied")
	}
	infoObj, err := doc.GetObject(model.Reference{Number: *infoID})
	if err != nil {
		t.Fatal(err)
	}
	title, ok := infoObj.(model.Dict)["Title"].(model.LiteralString)
	if !ok || string(title) != "untitled" {
		t.Fatalf("copied /Info = %+v", infoObj)
	}
}
