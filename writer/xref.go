package writer

import (
	"fmt"
	"sort"

	"github.com/halverson/pdfcore/model"
)

// Trailer carries the fields the cross-reference emitter writes into
// the trailer dictionary.
type Trailer struct {
	Root    model.Reference
	Info    *model.Reference
	Encrypt model.Object // Reference or Dict, or nil
	ID      model.Array
	Prev    int64 // previous startxref target; 0 for a brand-new file
}

// EndPDF writes the classic xref table (a single "0 N" subsection, per
// spec §4.8's simple policy) and trailer, then the startxref footer. It
// assumes every object number below nextID that is not a free slot has
// an entry in w.offsets; the free-list head (object 0) always points to
// itself with generation 65535.
func (w *Writer) EndPDF(trailer Trailer) error {
	startxref := w.written

	n := w.nextID
	w.raw(fmt.Sprintf("xref\n0 %d\n", n))
	w.raw("0000000000 65535 f \n")
	for id := uint32(1); id < n; id++ {
		offset, ok := w.offsets[id]
		if !ok {
			// An allocated-but-never-written id (a caller that reserved
			// an id and then abandoned it): emit a free entry so the
			// table stays internally consistent rather than lying about
			// an offset that was never written.
			w.raw("0000000000 00000 f \n")
			continue
		}
		w.raw(fmt.Sprintf("%010d 00000 n \n", offset))
	}

	w.raw("trailer\n")
	dc := w.StartDictionary()
	dc.WriteKey("Size")
	w.WriteObject(model.Integer(n))
	dc.WriteKey("Root")
	w.WriteObject(trailer.Root)
	if trailer.Info != nil {
		dc.WriteKey("Info")
		w.WriteObject(*trailer.Info)
	}
	if trailer.Encrypt != nil {
		dc.WriteKey("Encrypt")
		w.WriteObject(trailer.Encrypt)
	}
	if trailer.ID != nil {
		dc.WriteKey("ID")
		w.WriteObject(trailer.ID)
	}
	if trailer.Prev != 0 {
		dc.WriteKey("Prev")
		w.WriteObject(model.Integer(trailer.Prev))
	}
	dc.EndDictionary()
	w.raw("\n")

	w.raw(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", startxref))

	return w.err
}

// EndIncrementalUpdate writes a secondary cross-reference section
// containing only the ids this Writer actually started (the changed or
// newly-appended objects), not the full 0..nextID range EndPDF assumes:
// everything below w's starting id belongs to the prior revision and
// must not be re-declared. trailer.Prev is required, since an
// incremental section with no /Prev would orphan every object the
// update did not touch.
func (w *Writer) EndIncrementalUpdate(trailer Trailer) error {
	if trailer.Prev == 0 {
		return fmt.Errorf("writer: EndIncrementalUpdate requires a non-zero Prev")
	}
	startxref := w.written

	ids := make([]uint32, 0, len(w.offsets))
	for id := range w.offsets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	w.raw("xref\n")
	for i := 0; i < len(ids); {
		j := i + 1
		for j < len(ids) && ids[j] == ids[j-1]+1 {
			j++
		}
		w.raw(fmt.Sprintf("%d %d\n", ids[i], j-i))
		for _, id := range ids[i:j] {
			w.raw(fmt.Sprintf("%010d 00000 n \n", w.offsets[id]))
		}
		i = j
	}

	w.raw("trailer\n")
	dc := w.StartDictionary()
	dc.WriteKey("Size")
	w.WriteObject(model.Integer(int64(w.nextID)))
	dc.WriteKey("Root")
	w.WriteObject(trailer.Root)
	if trailer.Info != nil {
		dc.WriteKey("Info")
		w.WriteObject(*trailer.Info)
	}
	if trailer.Encrypt != nil {
		dc.WriteKey("Encrypt")
		w.WriteObject(trailer.Encrypt)
	}
	if trailer.ID != nil {
		dc.WriteKey("ID")
		w.WriteObject(trailer.ID)
	}
	dc.WriteKey("Prev")
	w.WriteObject(model.Integer(trailer.Prev))
	dc.EndDictionary()
	w.raw("\n")

	w.raw(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", startxref))

	return w.err
}
