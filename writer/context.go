package writer

import (
	"fmt"
	"io"
	"strings"

	"github.com/halverson/pdfcore/internal/filters"
	"github.com/halverson/pdfcore/model"
)

// Writer is the imperative object-context driving a PDF output stream:
// it owns the monotonic object-id allocator, the pending cross-reference
// list (byte offset of every started indirect object), and the low-level
// primitive serializers. It writes through dst as it goes; dst need not
// be seekable (see PDFStream's length back-patch strategy).
type Writer struct {
	dst     io.Writer
	err     error
	written int64

	nextID  uint32
	offsets map[uint32]int64 // object number -> start-of-"N G obj" offset

	// compress is the IsCompressingStreams policy flag: whether
	// StartPDFStream should apply FlateDecode to content it is handed,
	// versus leaving it for a caller that already filtered the bytes
	// itself (the copying context's raw pass-through path).
	compress bool
}

// New builds a Writer over dst. compressStreams sets the
// IsCompressingStreams policy for every subsequent StartPDFStream call.
func New(dst io.Writer, compressStreams bool) *Writer {
	return &Writer{dst: dst, offsets: map[uint32]int64{}, nextID: 1, compress: compressStreams}
}

// NewAt builds a Writer continuing an existing byte stream: nextID seeds
// the object-id allocator (so ids already used by the prior content are
// never reissued) and startOffset seeds the byte-offset counter (so
// every "N G obj" this Writer starts is recorded at its true position in
// the full output, not merely its position since this Writer began
// writing). Used by the incremental-update driver, whose dst already
// has the unmodified source file written to it before this Writer's
// first call.
func NewAt(dst io.Writer, compressStreams bool, nextID uint32, startOffset int64) *Writer {
	return &Writer{dst: dst, offsets: map[uint32]int64{}, nextID: nextID, compress: compressStreams, written: startOffset}
}

// IsCompressingStreams reports the writer's stream-compression policy.
func (w *Writer) IsCompressingStreams() bool { return w.compress }

// Err returns the first write error encountered, if any. Once set, every
// subsequent write call becomes a no-op (mirroring the teacher's
// deferred-error-checking output struct).
func (w *Writer) Err() error { return w.err }

func (w *Writer) raw(s string) {
	if w.err != nil {
		return
	}
	n, err := io.WriteString(w.dst, s)
	w.written += int64(n)
	if err != nil {
		w.err = err
	}
}

// WriteHeader emits the "%PDF-M.m" signature line followed by a
// four-byte binary-data comment (PDF 1.7 §7.5.2), the conventional way
// to tell a naive byte-oriented tool the file is binary.
func (w *Writer) WriteHeader(version string) {
	w.raw("%PDF-" + version + "\n%")
	w.raw(string([]byte{0xE2, 0xE3, 0xCF, 0xD3}))
	w.raw("\n")
}

// AllocateID reserves the next object number without writing anything,
// so a caller can reference it (e.g. /Parent) before the object itself
// is started.
func (w *Writer) AllocateID() uint32 {
	id := w.nextID
	w.nextID++
	return id
}

// StartNewIndirectObject begins a new indirect object at the current
// output position, allocating a fresh id if id is zero (the `id?`
// optional-parameter form from the operation surface this package
// implements), and returns the reference that names it.
func (w *Writer) StartNewIndirectObject(id uint32) model.Reference {
	if id == 0 {
		id = w.AllocateID()
	}
	w.offsets[id] = w.written
	w.raw(fmt.Sprintf("%d 0 obj\n", id))
	return model.Reference{Number: id}
}

// EndIndirectObject closes the object started by the most recent
// StartNewIndirectObject call.
func (w *Writer) EndIndirectObject() {
	w.raw("endobj\n")
}

// WriteObject serializes any non-stream model.Object directly to the
// output.
func (w *Writer) WriteObject(o model.Object) {
	var b strings.Builder
	WriteObject(&b, o)
	w.raw(b.String())
}

// DictionaryContext builds a dictionary's body. Keys are written as
// encountered, and key uniqueness is not enforced: a repeated WriteKey
// call writes the key a second time, and the earlier key and value stay
// in the output. HasKey reports whether a key has already been written,
// so a caller can avoid the repeat; this module's own parser keeps the
// first occurrence of a repeated key.
type DictionaryContext struct {
	w    *Writer
	seen map[model.Name]bool
}

// StartDictionary opens a "<<" dictionary context.
func (w *Writer) StartDictionary() *DictionaryContext {
	w.raw("<<")
	return &DictionaryContext{w: w, seen: map[model.Name]bool{}}
}

// WriteKey writes " /Name " and returns the context so the caller
// follows with exactly one value-serializing call (WriteObject or
// another DictionaryContext/PDFStream builder call).
func (d *DictionaryContext) WriteKey(name model.Name) *DictionaryContext {
	d.seen[name] = true
	d.w.raw(" ")
	d.w.raw(name.String())
	d.w.raw(" ")
	return d
}

// HasKey reports whether name has already been written in this
// dictionary, the uniqueness check WriteKey callers can consult before
// deciding whether to skip a would-be duplicate entry.
func (d *DictionaryContext) HasKey(name model.Name) bool { return d.seen[name] }

// EndDictionary closes the ">>" started by StartDictionary.
func (d *DictionaryContext) EndDictionary() {
	d.w.raw(" >>")
}

// PDFStream writes a stream object's body after its dictionary,
// back-patching /Length once the encoded byte count is known. Because
// the destination need not be seekable, /Length is always written as a
// forward reference (strategy (b) of spec §4.7): a placeholder
// indirect-reference token is emitted in the dictionary, and the actual
// integer is written as a separate trailing indirect object once Close
// runs.
type PDFStream struct {
	w         *Writer
	lengthRef uint32
	compress  bool
	buf       []byte
}

// StartPDFStream emits dict (plus a forward-referenced /Length), the
// "stream\n" keyword, and returns a writer for the encoded content. If
// the writer's IsCompressingStreams policy is on, content handed to
// Write is passed through FlateDecode's encoder before being written;
// StartUnfilteredPDFStream bypasses this.
func (w *Writer) StartPDFStream(dict model.Dict) *PDFStream {
	return w.startStream(dict, w.compress)
}

// StartUnfilteredPDFStream is StartPDFStream without the
// IsCompressingStreams policy applied: used for pass-through copying of
// content that is already filtered the way the caller wants it kept.
func (w *Writer) StartUnfilteredPDFStream(dict model.Dict) *PDFStream {
	return w.startStream(dict, false)
}

func (w *Writer) startStream(dict model.Dict, compress bool) *PDFStream {
	lengthRef := w.AllocateID()

	dc := w.StartDictionary()
	for k, v := range dict {
		if k == "Length" {
			continue // always ours: the forward reference below
		}
		dc.WriteKey(k)
		w.WriteObject(v)
	}
	if compress {
		dc.WriteKey("Filter")
		w.WriteObject(model.Name(filters.Flate))
	}
	dc.WriteKey("Length")
	w.WriteObject(model.Reference{Number: lengthRef})
	dc.EndDictionary()

	w.raw("\nstream\n")

	return &PDFStream{w: w, lengthRef: lengthRef, compress: compress}
}

// Write appends raw bytes to the stream's content. The bytes are
// buffered rather than written straight through: when the stream's
// compression policy is on, Close must Flate-encode the whole payload at
// once (FlateDecode's zlib wrapper has a trailer that depends on the
// complete input), and either way /Length is only known once the final
// byte count is in hand.
func (s *PDFStream) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Close finalizes the stream: applies Flate if this stream was started
// with the writer's compression policy on, writes the encoded bytes
// followed by "endstream\nendobj\n", and emits the forward-referenced
// /Length object.
func (s *PDFStream) Close() error {
	payload := s.buf
	if s.compress {
		encoded, err := filters.Encode(filters.Flate, payload, filters.DefaultParams())
		if err != nil {
			return fmt.Errorf("writer: compressing stream: %w", err)
		}
		payload = encoded
	}

	s.w.raw(string(payload))
	s.w.raw("\nendstream\n")
	s.w.EndIndirectObject()

	s.w.StartNewIndirectObject(s.lengthRef)
	s.w.WriteObject(model.Integer(len(payload)))
	s.w.EndIndirectObject()

	return s.w.err
}
