package writer

import (
	"bytes"
	"testing"

	"github.com/halverson/pdfcore/model"
	"github.com/halverson/pdfcore/reader"
)

// buildMinimalDocument drives the Writer's indirect-object, dictionary
// and EndPDF operations (no stream) to produce a one-page PDF, then hands the bytes to the reader package: the
// round-trip is the test, since this package has no parser of its own
// to assert against directly.
func buildMinimalDocument(t *testing.T, compress bool) []byte {
	t.Helper()
	var out bytes.Buffer
	w := New(&out, compress)
	w.WriteHeader("1.7")

	catalogID := w.AllocateID()
	pagesID := w.AllocateID()
	pageID := w.AllocateID()

	ref := w.StartNewIndirectObject(catalogID)
	dc := w.StartDictionary()
	dc.WriteKey("Type")
	w.WriteObject(model.Name("Catalog"))
	dc.WriteKey("Pages")
	w.WriteObject(model.Reference{Number: pagesID})
	dc.EndDictionary()
	w.EndIndirectObject()
	_ = ref

	w.StartNewIndirectObject(pagesID)
	dc = w.StartDictionary()
	dc.WriteKey("Type")
	w.WriteObject(model.Name("Pages"))
	dc.WriteKey("Kids")
	w.WriteObject(model.Array{model.Reference{Number: pageID}})
	dc.WriteKey("Count")
	w.WriteObject(model.Integer(1))
	dc.WriteKey("MediaBox")
	w.WriteObject(model.A4Portrait.ToArray())
	dc.EndDictionary()
	w.EndIndirectObject()

	w.StartNewIndirectObject(pageID)
	dc = w.StartDictionary()
	dc.WriteKey("Type")
	w.WriteObject(model.Name("Page"))
	dc.WriteKey("Parent")
	w.WriteObject(model.Reference{Number: pagesID})
	dc.EndDictionary()
	w.EndIndirectObject()

	if err := w.EndPDF(Trailer{Root: model.Reference{Number: catalogID}}); err != nil {
		t.Fatalf("EndPDF: %v", err)
	}
	return out.Bytes()
}

func TestWriterRoundTripsThroughReader(t *testing.T) {
	for _, compress := range []bool{false, true} {
		data := buildMinimalDocument(t, compress)

		doc, err := reader.Open(data, "")
		if err != nil {
			t.Fatalf("compress=%v: reader.Open: %v", compress, err)
		}
		pages, err := doc.LoadPages()
		if err != nil {
			t.Fatalf("compress=%v: LoadPages: %v", compress, err)
		}
		if pages.Count() != 1 {
			t.Fatalf("compress=%v: Count() = %d", compress, pages.Count())
		}
		page, err := doc.Page(pages, 0)
		if err != nil {
			t.Fatalf("compress=%v: Page(0): %v", compress, err)
		}
		if page.MediaBox != model.A4Portrait {
			t.Fatalf("compress=%v: MediaBox = %+v", compress, page.MediaBox)
		}
	}
}

func TestPDFStreamRoundTripsLength(t *testing.T) {
	var out bytes.Buffer
	w := New(&out, false)
	w.WriteHeader("1.7")

	catalogID := w.AllocateID()
	streamID := w.AllocateID()

	w.StartNewIndirectObject(catalogID)
	dc := w.StartDictionary()
	dc.WriteKey("Type")
	w.WriteObject(model.Name("Catalog"))
	dc.EndDictionary()
	w.EndIndirectObject()

	w.StartNewIndirectObject(streamID)
	ps := w.StartPDFStream(model.Dict{})
	ps.Write([]byte("hello stream content"))
	if err := ps.Close(); err != nil {
		t.Fatal(err)
	}

	if err := w.EndPDF(Trailer{Root: model.Reference{Number: catalogID}}); err != nil {
		t.Fatal(err)
	}

	doc, err := reader.Open(out.Bytes(), "")
	if err != nil {
		t.Fatal(err)
	}
	obj, err := doc.GetObject(model.Reference{Number: streamID})
	if err != nil {
		t.Fatal(err)
	}
	st, ok := obj.(model.Stream)
	if !ok {
		t.Fatalf("got %T", obj)
	}
	content, err := doc.StreamContent(model.Reference{Number: streamID}, st)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hello stream content" {
		t.Fatalf("content = %q", content)
	}
}
