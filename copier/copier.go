// Package copier implements the document-copying context: given a
// parsed source document and a live target writer, it materializes
// selected source objects as fresh indirect objects in the target,
// remapping object ids transitively so that a sub-graph copied out of
// one document becomes self-contained inside another.
package copier

import (
	"bytes"
	"fmt"

	"github.com/halverson/pdfcore/internal/tokenizer"
	"github.com/halverson/pdfcore/model"
	"github.com/halverson/pdfcore/reader"
	"github.com/halverson/pdfcore/writer"
)

type state uint8

const (
	idle state = iota
	started
	stopped
)

// Session drives one copy operation from a single source document into a
// single target writer. Its source-id to target-id table is built
// lazily as references are discovered; Stop releases it. A Session is
// not safe for concurrent use, matching the single-threaded discipline
// the rest of this module follows.
type Session struct {
	src *reader.Document
	w   *writer.Writer

	state state

	// idMap and worklist implement the "out-of-tree write" policy: the
	// first time a source object number is referenced, a target id is
	// allocated and the source id is queued; Flush drains the queue,
	// writing each one as an indirect object (which may itself enqueue
	// further ids as its own references are remapped).
	idMap    map[uint32]uint32
	worklist []uint32
}

// Start begins a copy session from src into w. Each call returns a new
// Session with its own, empty source-to-target id mapping.
func Start(src *reader.Document, w *writer.Writer) *Session {
	return &Session{src: src, w: w, state: started, idMap: map[uint32]uint32{}}
}

// Stop releases the source-to-target id mapping. Any object still
// queued and not yet flushed is abandoned; callers should call Flush
// before Stop if they need every reachable object actually written.
func (s *Session) Stop() {
	s.idMap = nil
	s.worklist = nil
	s.state = stopped
}

func (s *Session) mapID(srcNum uint32) uint32 {
	if tgt, ok := s.idMap[srcNum]; ok {
		return tgt
	}
	tgt := s.w.AllocateID()
	s.idMap[srcNum] = tgt
	s.worklist = append(s.worklist, srcNum)
	return tgt
}

// remap deep-copies o, replacing every Reference with its mapped target
// id (allocating and queuing new entries as needed) and recursing into
// Array and Dict. Every other kind is returned unchanged, since it
// carries no id of its own.
func (s *Session) remap(o model.Object) model.Object {
	switch v := o.(type) {
	case model.Reference:
		return model.Reference{Number: s.mapID(v.Number)}
	case model.Array:
		out := make(model.Array, len(v))
		for i, e := range v {
			out[i] = s.remap(e)
		}
		return out
	case model.Dict:
		out := make(model.Dict, len(v))
		for k, e := range v {
			out[k] = s.remap(e)
		}
		return out
	default:
		return o
	}
}

// Flush drains the worklist built up by remap/mapID, writing each queued
// source object as an indirect object at its mapped target id. Copying
// an object's contents can discover further references and enqueue
// them, so this loops until nothing is left.
func (s *Session) Flush() error {
	for len(s.worklist) > 0 {
		srcNum := s.worklist[0]
		s.worklist = s.worklist[1:]
		if err := s.copyOne(srcNum); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) copyOne(srcNum uint32) error {
	ref := model.Reference{Number: srcNum}
	obj, err := s.src.GetObject(ref)
	if err != nil {
		return fmt.Errorf("copier: fetching source object %d: %w", srcNum, err)
	}
	targetID := s.idMap[srcNum]

	if st, ok := obj.(model.Stream); ok {
		return s.copyStream(ref, targetID, st)
	}

	remapped := s.remap(obj)
	s.w.StartNewIndirectObject(targetID)
	s.w.WriteObject(remapped)
	s.w.EndIndirectObject()
	return nil
}

// copyStream implements the stream-copying policy: in compressing mode
// the stream is decoded through its full filter chain and re-emitted
// through the target's Flate encoder, with /Filter and /Length rewritten
// accordingly; otherwise the encoded bytes are copied verbatim and the
// source /Filter is preserved. /Length is never copied either way, since
// PDFStream always recomputes it.
func (s *Session) copyStream(ref model.Reference, targetID uint32, st model.Stream) error {
	dict := s.remap(st.Dict).(model.Dict)
	delete(dict, "Length")

	s.w.StartNewIndirectObject(targetID)

	if s.w.IsCompressingStreams() {
		delete(dict, "Filter")
		delete(dict, "DecodeParms")
		content, err := s.src.StreamContent(ref, st)
		if err != nil {
			return fmt.Errorf("copier: decoding stream %d: %w", ref.Number, err)
		}
		ps := s.w.StartPDFStream(dict)
		if _, err := ps.Write(content); err != nil {
			return err
		}
		return ps.Close()
	}

	raw, err := s.src.RawStreamContent(ref, st)
	if err != nil {
		return fmt.Errorf("copier: reading stream %d: %w", ref.Number, err)
	}
	ps := s.w.StartUnfilteredPDFStream(dict)
	if _, err := ps.Write(raw); err != nil {
		return err
	}
	return ps.Close()
}

// pageContentBytes resolves and concatenates a page's /Contents
// (a single stream, or an array of streams per PDF 1.7 §7.8.2), decoding
// each through its filter chain.
func (s *Session) pageContentBytes(page *reader.PageInfo) ([]byte, error) {
	var refs []model.Reference
	switch c := page.Dict[model.Name("Contents")].(type) {
	case model.Reference:
		resolved, err := s.src.GetObject(c)
		if err != nil {
			return nil, err
		}
		if arr, ok := resolved.(model.Array); ok {
			for _, o := range arr {
				if r, ok := o.(model.Reference); ok {
					refs = append(refs, r)
				}
			}
		} else {
			refs = []model.Reference{c}
		}
	case model.Array:
		for _, o := range c {
			if r, ok := o.(model.Reference); ok {
				refs = append(refs, r)
			}
		}
	}

	var buf bytes.Buffer
	for _, ref := range refs {
		obj, err := s.src.GetObject(ref)
		if err != nil {
			return nil, err
		}
		st, ok := obj.(model.Stream)
		if !ok {
			continue
		}
		data, err := s.src.StreamContent(ref, st)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// CopyFormXObjectForPage wraps a source page's content and resources as
// a Form XObject in the target, with the given BBox and Matrix, and
// returns its target object id. The caller is still responsible for
// calling Flush and for placing a /XObject entry referencing the
// returned id somewhere reachable (typically a target page's
// /Resources).
func (s *Session) CopyFormXObjectForPage(pages *reader.Pages, index int, box model.Rectangle, matrix model.Matrix) (uint32, error) {
	page, err := s.src.Page(pages, index)
	if err != nil {
		return 0, err
	}
	content, err := s.pageContentBytes(page)
	if err != nil {
		return 0, err
	}
	resources := s.remap(page.Resources)
	if resources == nil {
		resources = model.Dict{}
	}

	dict := model.Dict{
		"Type":      model.Name("XObject"),
		"Subtype":   model.Name("Form"),
		"BBox":      box.ToArray(),
		"Matrix":    matrix.ToArray(),
		"Resources": resources,
	}

	id := s.w.AllocateID()
	s.w.StartNewIndirectObject(id)
	ps := s.w.StartPDFStream(dict)
	if _, err := ps.Write(content); err != nil {
		return 0, err
	}
	if err := ps.Close(); err != nil {
		return 0, err
	}
	return id, nil
}

// AppendPageAsNewPage materializes a source page as a brand-new page
// object in the target, with /Parent stripped (the caller attaches it
// under whichever /Pages node it is building), and returns its target
// object id. Unlike a reference discovered through remap, the page
// itself is written immediately rather than queued, since the caller
// needs the id right away to extend a /Kids array; everything the page
// transitively references (contents, resources, annotations, ...) is
// still deferred to the worklist and requires a Flush.
func (s *Session) AppendPageAsNewPage(pages *reader.Pages, index int) (uint32, error) {
	srcRef, err := pages.PageObjectID(index)
	if err != nil {
		return 0, err
	}
	if _, already := s.idMap[srcRef.Number]; already {
		return 0, fmt.Errorf("copier: page object %d already copied in this session", srcRef.Number)
	}

	obj, err := s.src.GetObject(srcRef)
	if err != nil {
		return 0, err
	}
	dict, ok := obj.(model.Dict)
	if !ok {
		return 0, fmt.Errorf("copier: object %d is not a page dictionary", srcRef.Number)
	}

	targetID := s.w.AllocateID()
	s.idMap[srcRef.Number] = targetID

	remapped := s.remap(dict).(model.Dict)
	delete(remapped, "Parent")

	s.w.StartNewIndirectObject(targetID)
	s.w.WriteObject(remapped)
	s.w.EndIndirectObject()
	return targetID, nil
}

// CopyWholeDocument queues the source's /Root (and /Info, if present)
// for copying, transitively pulling in everything reachable from them
// once Flush runs. Because the target Writer this Session copies into
// has no /Encrypt of its own, this is how an encrypted source (already
// opened and decrypted by reader.Open) is resaved in the clear: every
// string and stream the worklist visits comes back out of
// s.src.GetObject/StreamContent already decrypted, and is then written
// as plain bytes. The caller still owns building and writing the
// target's own trailer with the returned ids.
func (s *Session) CopyWholeDocument() (rootID uint32, infoID *uint32, err error) {
	if s.src.Trailer.Root == nil {
		return 0, nil, fmt.Errorf("copier: source has no /Root")
	}
	rootID = s.mapID(s.src.Trailer.Root.Number)
	if s.src.Trailer.Info != nil {
		id := s.mapID(s.src.Trailer.Info.Number)
		infoID = &id
	}
	return rootID, infoID, nil
}

var resourceCategories = []model.Name{
	"Font", "XObject", "ExtGState", "ColorSpace", "Pattern", "Shading", "Properties",
}

// MergeResult is the outcome of merging a source page's content and
// resources into an already-existing target page: the rewritten content
// bytes to append to the target's content stream, and the updated
// target resource dictionary (the same Dict passed in, mutated and
// returned for convenience).
type MergeResult struct {
	Content   []byte
	Resources model.Dict
}

// MergePageContentToTargetPage copies a source page's content stream
// into an existing target page, renaming any resource name that would
// collide with one already in targetResources. For each resource
// sub-dictionary category (/Font, /XObject, /ExtGState, /ColorSpace,
// /Pattern, /Shading, /Properties), every source entry is copied
// (queued via remap) under a name guaranteed unique within
// targetResources, and every occurrence of its old name in the content
// stream is substituted for the new one.
//
// Name matching for substitution is global across categories (a content
// stream token is just "/name", with no category attached), matching the
// resource-dictionary key's on-disk encoding so that e.g. a space in a
// name matches its #20 form.
func (s *Session) MergePageContentToTargetPage(targetResources model.Dict, pages *reader.Pages, index int) (MergeResult, error) {
	page, err := s.src.Page(pages, index)
	if err != nil {
		return MergeResult{}, err
	}
	if targetResources == nil {
		targetResources = model.Dict{}
	}

	rename := map[string]string{}
	for _, category := range resourceCategories {
		srcSubObj, err := s.src.Resolve(page.Resources[category])
		if err != nil {
			return MergeResult{}, err
		}
		srcDict, ok := srcSubObj.(model.Dict)
		if !ok || len(srcDict) == 0 {
			continue
		}

		tgtDict, _ := targetResources[category].(model.Dict)
		if tgtDict == nil {
			tgtDict = model.Dict{}
		}

		for name, value := range srcDict {
			newName := freshName(tgtDict, name)
			tgtDict[model.Name(newName)] = s.remap(value)
			rename[string(name)] = newName
		}
		targetResources[category] = tgtDict
	}

	content, err := s.pageContentBytes(page)
	if err != nil {
		return MergeResult{}, err
	}
	return MergeResult{Content: rewriteContentNames(content, rename), Resources: targetResources}, nil
}

// freshName picks a name for `name` that is not already a key of taken,
// appending "_2", "_3", ... until one is free.
func freshName(taken model.Dict, name model.Name) string {
	if _, exists := taken[name]; !exists {
		return string(name)
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", name, n)
		if _, exists := taken[model.Name(candidate)]; !exists {
			return candidate
		}
	}
}

// rewriteContentNames scans content with the content-stream tokenizer
// and replaces every name token whose decoded value is a key of rename,
// copying every other byte (including string and comment bytes the
// tokenizer does not reinterpret) verbatim.
func rewriteContentNames(content []byte, rename map[string]string) []byte {
	tk := tokenizer.NewContent(content)
	var out []byte
	last := int64(0)
	for {
		tok, err := tk.Next()
		if err != nil || tok.Kind == tokenizer.EOF {
			break
		}
		if tok.Kind != tokenizer.Name {
			continue
		}
		end, decoded := scanNameRaw(content, int(tok.Pos))
		newName, ok := rename[decoded]
		if !ok {
			continue
		}
		out = append(out, content[last:tok.Pos]...)
		out = append(out, []byte(model.Name(newName).String())...)
		last = int64(end)
	}
	out = append(out, content[last:]...)
	return out
}

// scanNameRaw re-scans a name token's raw on-disk span starting at the
// '/' byte at content[start], independent of the tokenizer's own decoded
// Value, so the original byte length (which can differ from the decoded
// length when #hh escapes are present) is known for verbatim copying of
// everything around it.
func scanNameRaw(content []byte, start int) (end int, decoded string) {
	i := start + 1
	var b []byte
	for i < len(content) {
		c := content[i]
		if isNameDelim(c) {
			break
		}
		if c == '#' && i+2 < len(content) {
			if v, ok := hexPair(content[i+1], content[i+2]); ok {
				b = append(b, v)
				i += 3
				continue
			}
		}
		b = append(b, c)
		i++
	}
	return i, string(b)
}

func isNameDelim(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ',
		'(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return false
	}
}

func hexPair(hi, lo byte) (byte, bool) {
	h, ok1 := hexDigit(hi)
	l, ok2 := hexDigit(lo)
	if !ok1 || !ok2 {
		return 0, false
	}
	return h<<4 | l, true
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
