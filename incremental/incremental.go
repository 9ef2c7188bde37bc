// Package incremental implements the incremental-update driver: open an
// existing PDF read-only, append new or superseding object versions
// after its last byte, and emit a secondary cross-reference section
// whose /Prev chains back to the original. No byte of the prior file is
// ever touched; every change is a new version of an object, keyed by
// its old id where one exists.
package incremental

import (
	"fmt"
	"io"

	"github.com/halverson/pdfcore/crypt"
	"github.com/halverson/pdfcore/model"
	"github.com/halverson/pdfcore/reader"
	"github.com/halverson/pdfcore/writer"
	"github.com/halverson/pdfcore/xref"
)

// Session drives one incremental update. The source document is opened
// read-only and its bytes are copied to dst up front; every subsequent
// write through Session appends after them.
type Session struct {
	src           *reader.Document
	w             *writer.Writer
	prevStartxref int64

	// crypt is the source's already-authenticated handler, reused as-is
	// when the source is encrypted: a new strings/streams must be
	// encrypted with the same file key, never a fresh one, since this
	// update never rewrites the trailer's /Encrypt dictionary.
	crypt *crypt.Handler
}

// Open copies existing verbatim to dst, then begins a new object-id
// allocator continuing from existing's object count (so ids already in
// use are never reissued) positioned at the true byte offset dst is now
// at. password is used to open existing if it is encrypted; every new
// string and stream this session subsequently writes is encrypted under
// that same, already-authenticated file key (see ModifyPage/AppendPage/
// writeInfo).
func Open(existing []byte, dst io.Writer, password string, compressStreams bool) (*Session, error) {
	doc, err := reader.Open(existing, password)
	if err != nil {
		return nil, fmt.Errorf("incremental: opening source: %w", err)
	}
	if _, err := dst.Write(existing); err != nil {
		return nil, fmt.Errorf("incremental: copying source bytes: %w", err)
	}
	prevStartxref, err := xref.FindStartxref(existing)
	if err != nil {
		return nil, fmt.Errorf("incremental: locating prior xref: %w", err)
	}

	w := writer.NewAt(dst, compressStreams, uint32(doc.Trailer.Size), int64(len(existing)))
	return &Session{src: doc, w: w, prevStartxref: prevStartxref, crypt: doc.CryptHandler()}, nil
}

// encryptBytes encrypts data belonging to ref under the source's file
// key, or returns data unchanged when the source isn't encrypted.
func (s *Session) encryptBytes(ref model.Reference, data []byte) ([]byte, error) {
	if s.crypt == nil {
		return data, nil
	}
	enc, err := s.crypt.Encrypt(ref, data)
	if err != nil {
		return nil, fmt.Errorf("incremental: encrypting object %d: %w", ref.Number, err)
	}
	return enc, nil
}

// encryptObject recursively encrypts every string nested in o (an Array
// or Dict is walked; other kinds carry no string of their own), as if o
// belonged to ref. A no-op when the source isn't encrypted.
func (s *Session) encryptObject(ref model.Reference, o model.Object) (model.Object, error) {
	if s.crypt == nil {
		return o, nil
	}
	switch v := o.(type) {
	case model.LiteralString:
		enc, err := s.encryptBytes(ref, []byte(v))
		if err != nil {
			return nil, err
		}
		return model.LiteralString(enc), nil
	case model.HexString:
		enc, err := s.encryptBytes(ref, []byte(v))
		if err != nil {
			return nil, err
		}
		return model.HexString(enc), nil
	case model.Array:
		out := make(model.Array, len(v))
		for i, e := range v {
			d, err := s.encryptObject(ref, e)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	case model.Dict:
		out := make(model.Dict, len(v))
		for k, e := range v {
			d, err := s.encryptObject(ref, e)
			if err != nil {
				return nil, err
			}
			out[k] = d
		}
		return out, nil
	default:
		return o, nil
	}
}

// ModifyPage supersedes the index-th page: a fresh content stream
// holding newContent is appended, and a new version of the page object
// is written under its ORIGINAL id with every key kept except
// /Contents, which now points at the new stream. Anything elsewhere in
// the document that already references this page's id keeps working
// without needing its own new version.
func (s *Session) ModifyPage(pages *reader.Pages, index int, newContent []byte) error {
	ref, err := pages.PageObjectID(index)
	if err != nil {
		return err
	}
	obj, err := s.src.GetObject(ref)
	if err != nil {
		return err
	}
	dict, ok := obj.(model.Dict)
	if !ok {
		return fmt.Errorf("incremental: object %d is not a page dictionary", ref.Number)
	}

	contentID := s.w.AllocateID()
	contentRef := model.Reference{Number: contentID}
	encContent, err := s.encryptBytes(contentRef, newContent)
	if err != nil {
		return err
	}
	s.w.StartNewIndirectObject(contentID)
	ps := s.w.StartPDFStream(model.Dict{})
	if _, err := ps.Write(encContent); err != nil {
		return err
	}
	if err := ps.Close(); err != nil {
		return err
	}

	updated := make(model.Dict, len(dict))
	for k, v := range dict {
		updated[k] = v
	}
	updated["Contents"] = contentRef

	encUpdated, err := s.encryptObject(ref, updated)
	if err != nil {
		return err
	}

	s.w.StartNewIndirectObject(ref.Number)
	s.w.WriteObject(encUpdated)
	s.w.EndIndirectObject()
	return nil
}

// AppendPage writes pageDict and pageContent as a brand-new page (fresh
// ids for the page object and its content stream; pageDict's own /Type,
// /Parent and /Contents are set by this call and need not be supplied by
// the caller), then writes a new version of the document's /Pages node
// with the new page appended to /Kids and /Count incremented. Every
// other key already on the /Pages node is preserved unchanged. Returns
// the new page's object id.
func (s *Session) AppendPage(pageDict model.Dict, pageContent []byte) (uint32, error) {
	if s.src.Trailer.Root == nil {
		return 0, fmt.Errorf("incremental: source has no /Root")
	}
	root, err := s.src.Resolve(*s.src.Trailer.Root)
	if err != nil {
		return 0, err
	}
	catalog, ok := root.(model.Dict)
	if !ok {
		return 0, fmt.Errorf("incremental: root is not a dictionary")
	}
	pagesRef, ok := catalog["Pages"].(model.Reference)
	if !ok {
		return 0, fmt.Errorf("incremental: catalog has no /Pages reference")
	}
	pagesObj, err := s.src.GetObject(pagesRef)
	if err != nil {
		return 0, err
	}
	pagesDict, ok := pagesObj.(model.Dict)
	if !ok {
		return 0, fmt.Errorf("incremental: object %d is not a page tree node", pagesRef.Number)
	}

	contentID := s.w.AllocateID()
	contentRef := model.Reference{Number: contentID}
	encContent, err := s.encryptBytes(contentRef, pageContent)
	if err != nil {
		return 0, err
	}
	s.w.StartNewIndirectObject(contentID)
	ps := s.w.StartPDFStream(model.Dict{})
	if _, err := ps.Write(encContent); err != nil {
		return 0, err
	}
	if err := ps.Close(); err != nil {
		return 0, err
	}

	pageID := s.w.AllocateID()
	pageRef := model.Reference{Number: pageID}
	newPage := make(model.Dict, len(pageDict)+3)
	for k, v := range pageDict {
		newPage[k] = v
	}
	newPage["Type"] = model.Name("Page")
	newPage["Parent"] = pagesRef
	newPage["Contents"] = contentRef

	encNewPage, err := s.encryptObject(pageRef, newPage)
	if err != nil {
		return 0, err
	}
	s.w.StartNewIndirectObject(pageID)
	s.w.WriteObject(encNewPage)
	s.w.EndIndirectObject()

	kids, _ := pagesDict["Kids"].(model.Array)
	newKids := make(model.Array, len(kids), len(kids)+1)
	copy(newKids, kids)
	newKids = append(newKids, pageRef)

	updatedPages := make(model.Dict, len(pagesDict))
	for k, v := range pagesDict {
		updatedPages[k] = v
	}
	updatedPages["Kids"] = newKids
	count := int64(len(kids))
	switch c := pagesDict["Count"].(type) {
	case model.Integer:
		count = int64(c)
	case model.Reference:
		if obj, err := s.src.GetObject(c); err == nil {
			if n, ok := obj.(model.Integer); ok {
				count = int64(n)
			}
		}
	}
	updatedPages["Count"] = model.Integer(count + 1)

	encUpdatedPages, err := s.encryptObject(pagesRef, updatedPages)
	if err != nil {
		return 0, err
	}
	s.w.StartNewIndirectObject(pagesRef.Number)
	s.w.WriteObject(encUpdatedPages)
	s.w.EndIndirectObject()

	return pageID, nil
}

// EndPDF emits the secondary cross-reference section covering only the
// ids this session wrote, with /Prev chaining back to the source's own
// last startxref and /Root, /Encrypt, /ID copied forward unchanged. The
// document's /Info dictionary is superseded by a new version stamping
// /Producer, the rest of its fields (if any) kept as-is.
func (s *Session) EndPDF() error {
	infoRef, err := s.writeInfo()
	if err != nil {
		return err
	}

	trailer := writer.Trailer{
		Info:    infoRef,
		Encrypt: s.src.Trailer.Encrypt,
		ID:      s.src.Trailer.ID,
		Prev:    s.prevStartxref,
	}
	if s.src.Trailer.Root != nil {
		trailer.Root = *s.src.Trailer.Root
	}
	return s.w.EndIncrementalUpdate(trailer)
}

func (s *Session) writeInfo() (*model.Reference, error) {
	info := model.Dict{}
	if s.src.Trailer.Info != nil {
		if obj, err := s.src.GetObject(*s.src.Trailer.Info); err == nil {
			if dict, ok := obj.(model.Dict); ok {
				for k, v := range dict {
					info[k] = v
				}
			}
		}
	}
	producer, err := model.EncodeTextString("pdfcore")
	if err != nil {
		return nil, err
	}
	info["Producer"] = producer

	var id uint32
	if s.src.Trailer.Info != nil {
		id = s.src.Trailer.Info.Number
	} else {
		id = s.w.AllocateID()
	}
	ref := model.Reference{Number: id}

	// info's carried-forward fields came back from s.src.GetObject
	// already decrypted; re-encrypt the whole dict (including the new
	// /Producer) under this object's own id before writing.
	encInfo, err := s.encryptObject(ref, info)
	if err != nil {
		return nil, err
	}

	s.w.StartNewIndirectObject(id)
	s.w.WriteObject(encInfo)
	s.w.EndIndirectObject()

	return &ref, nil
}
