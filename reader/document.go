// Package reader ties the tokenizer, parser, xref and crypt packages
// together into a document-level API: resolve an indirect reference to
// its object, decode a stream's content, and walk the page tree. It is
// the one package a caller outside this module is expected to import
// directly for read access.
package reader

import (
	"fmt"
	"log/slog"

	"github.com/halverson/pdfcore/crypt"
	"github.com/halverson/pdfcore/internal/filters"
	"github.com/halverson/pdfcore/parser"
	"github.com/halverson/pdfcore/pdflog"
	"github.com/halverson/pdfcore/xref"

	"github.com/halverson/pdfcore/model"
)

// Document is an opened PDF file: its raw bytes, cross-reference table,
// trailer and (if the file is encrypted) an authenticated decryption
// handler. Objects are resolved lazily and cached.
type Document struct {
	data    []byte
	table   xref.Table
	Trailer xref.Trailer
	crypt   *crypt.Handler
	log     *slog.Logger

	cache         map[uint32]model.Object
	objectStreams map[uint32][]model.Object
}

// Open builds a Document from raw file bytes, with diagnostics
// discarded. Equivalent to OpenWithLogger(data, password, nil).
func Open(data []byte, password string) (*Document, error) {
	return OpenWithLogger(data, password, nil)
}

// OpenWithLogger is Open with an explicit diagnostic sink: a nil logger
// behaves exactly like Open. Malformed-but-tolerated input (an xref
// /Prev cycle, a cyclic /Kids entry encountered while flattening the
// page tree) is reported here rather than failing the whole open.
func OpenWithLogger(data []byte, password string, logger *slog.Logger) (*Document, error) {
	logger = pdflog.Or(logger)
	table, trailer, err := xref.Load(data, logger)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		data:          data,
		table:         table,
		Trailer:       trailer,
		log:           logger,
		cache:         map[uint32]model.Object{},
		objectStreams: map[uint32][]model.Object{},
	}

	if trailer.Encrypt != nil {
		encDict, err := doc.resolveEncryptDict(trailer.Encrypt)
		if err != nil {
			return nil, fmt.Errorf("reader: /Encrypt: %w", err)
		}
		var id0 []byte
		if len(trailer.ID) > 0 {
			if s, ok := trailer.ID[0].(model.LiteralString); ok {
				id0 = []byte(s)
			} else if s, ok := trailer.ID[0].(model.HexString); ok {
				id0 = []byte(s)
			}
		}
		h, err := crypt.FromDict(encDict, id0)
		if err != nil {
			return nil, err
		}
		if _, ok := h.Authenticate(password); !ok {
			return nil, ErrPasswordRequired
		}
		doc.crypt = h
	}

	return doc, nil
}

// IsEncrypted reports whether the document was opened with an /Encrypt
// dictionary (and therefore authenticated a crypt.Handler).
func (doc *Document) IsEncrypted() bool { return doc.crypt != nil }

// CryptHandler returns the document's authenticated decryption handler,
// or nil if the document is not encrypted. Callers that need to write
// new strings/streams encrypted under the same file key (the
// incremental-update driver) use this to reuse the handler's already-
// derived key rather than re-deriving or re-authenticating it.
func (doc *Document) CryptHandler() *crypt.Handler { return doc.crypt }

// ErrPasswordRequired is returned by Open when an /Encrypt dictionary is
// present and password does not authenticate as either the user or the
// owner password.
var ErrPasswordRequired = fmt.Errorf("reader: document requires a password")

// resolveEncryptDict reads the /Encrypt entry directly off the xref
// table, bypassing the normal decrypt-on-resolve path: the encryption
// dictionary itself, and any string inside it, is never encrypted.
func (doc *Document) resolveEncryptDict(o model.Object) (model.Dict, error) {
	switch v := o.(type) {
	case model.Dict:
		return v, nil
	case model.Reference:
		entry, ok := doc.table[v.Number]
		if !ok || entry.Free {
			return nil, fmt.Errorf("reference %v not found", v)
		}
		p := parser.New(doc.data)
		p.Tokenizer().Seek(entry.Offset)
		if _, err := p.ParseObjectHeader(); err != nil {
			return nil, err
		}
		obj, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		dict, ok := obj.(model.Dict)
		if !ok {
			return nil, fmt.Errorf("/Encrypt object is not a dictionary (got %T)", obj)
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("/Encrypt must be a dict or reference, got %T", o)
	}
}

// Resolve follows o if it is a Reference, returning the null object for
// a reference to an undefined object number (PDF 1.7 §7.3.10: this is
// never an error). Any other object is returned unchanged.
func (doc *Document) Resolve(o model.Object) (model.Object, error) {
	ref, ok := o.(model.Reference)
	if !ok {
		return o, nil
	}
	return doc.GetObject(ref)
}

// GetObject resolves ref to its object, from cache if already resolved.
// Generation numbers are not checked against the table: like most
// readers, this engine trusts the xref entry for an object number
// regardless of the generation the caller asked for.
func (doc *Document) GetObject(ref model.Reference) (model.Object, error) {
	if obj, ok := doc.cache[ref.Number]; ok {
		return obj, nil
	}

	entry, ok := doc.table[ref.Number]
	if !ok || entry.Free {
		return model.Null{}, nil
	}

	// Assign null before recursing so a malicious or cyclic document
	// (an object stream or stream /Length pointing back at this object)
	// cannot cause infinite recursion.
	doc.cache[ref.Number] = model.Null{}

	var (
		obj model.Object
		err error
	)
	if entry.InObjectStream {
		obj, err = doc.resolveFromObjectStream(entry)
	} else {
		obj, err = doc.resolveAtOffset(ref, entry.Offset)
	}
	if err != nil {
		return nil, err
	}

	doc.cache[ref.Number] = obj
	return obj, nil
}

func (doc *Document) resolveAtOffset(ref model.Reference, offset int64) (model.Object, error) {
	p := parser.New(doc.data)
	p.Tokenizer().Seek(offset)

	if _, err := p.ParseObjectHeader(); err != nil {
		return nil, fmt.Errorf("object %d: header: %w", ref.Number, err)
	}
	obj, err := p.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", ref.Number, err)
	}

	dict, isDict := obj.(model.Dict)
	hasStream, err := p.PeekIsStreamKeyword()
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", ref.Number, err)
	}
	if !hasStream || !isDict {
		if doc.crypt != nil {
			return doc.decryptObject(ref, obj)
		}
		return obj, nil
	}

	if doc.crypt != nil {
		decryptedDict, err := doc.decryptObject(ref, dict)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", ref.Number, err)
		}
		dict = decryptedDict.(model.Dict)
	}

	if err := p.Tokenizer().SkipStreamKeywordEOL(); err != nil {
		return nil, fmt.Errorf("object %d: stream EOL: %w", ref.Number, err)
	}
	lengthObj, err := doc.Resolve(dict[model.Name("Length")])
	if err != nil {
		return nil, fmt.Errorf("object %d: /Length: %w", ref.Number, err)
	}
	length, ok := lengthObj.(model.Integer)
	if !ok {
		return nil, fmt.Errorf("object %d: /Length did not resolve to an integer (got %T)", ref.Number, lengthObj)
	}

	start := p.Tokenizer().Pos()
	if start+int64(length) > int64(len(doc.data)) || length < 0 {
		return nil, fmt.Errorf("object %d: /Length overruns buffer", ref.Number)
	}

	return model.Stream{
		Dict:    dict,
		Range:   model.StreamRange{Offset: start, Length: int64(length)},
		Content: nil,
	}, nil
}

func (doc *Document) decryptObject(ref model.Reference, obj model.Object) (model.Object, error) {
	switch v := obj.(type) {
	case model.LiteralString:
		dec, err := doc.crypt.Decrypt(ref, []byte(v))
		if err != nil {
			return nil, err
		}
		return model.LiteralString(dec), nil
	case model.HexString:
		dec, err := doc.crypt.Decrypt(ref, []byte(v))
		if err != nil {
			return nil, err
		}
		return model.HexString(dec), nil
	case model.Array:
		out := make(model.Array, len(v))
		for i, e := range v {
			d, err := doc.decryptObject(ref, e)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	case model.Dict:
		out := make(model.Dict, len(v))
		for k, e := range v {
			d, err := doc.decryptObject(ref, e)
			if err != nil {
				return nil, err
			}
			out[k] = d
		}
		return out, nil
	default:
		return obj, nil
	}
}

// RawStreamContent returns the stream's bytes decrypted but otherwise
// unfiltered: the encoded form still named by st.Dict's /Filter. Used by
// verbatim-copy paths (the copying context's non-compressing write
// policy) that want to preserve the original encoding rather than
// decode-then-recompress it.
func (doc *Document) RawStreamContent(ref model.Reference, st model.Stream) ([]byte, error) {
	if st.Content != nil {
		return st.Content, nil
	}
	raw := doc.data[st.Range.Offset : st.Range.Offset+st.Range.Length]
	if doc.crypt != nil {
		decrypted, err := doc.crypt.Decrypt(ref, raw)
		if err != nil {
			return nil, fmt.Errorf("object %d: stream decryption: %w", ref.Number, err)
		}
		raw = decrypted
	}
	return raw, nil
}

// StreamContent returns the fully decoded content of a stream that
// belongs to ref (needed for per-object key derivation when the source
// document is encrypted).
func (doc *Document) StreamContent(ref model.Reference, st model.Stream) ([]byte, error) {
	if st.Content != nil {
		return st.Content, nil
	}

	raw := doc.data[st.Range.Offset : st.Range.Offset+st.Range.Length]
	if doc.crypt != nil {
		decrypted, err := doc.crypt.Decrypt(ref, raw)
		if err != nil {
			return nil, fmt.Errorf("object %d: stream decryption: %w", ref.Number, err)
		}
		raw = decrypted
	}

	names, paramsList, err := doc.filterChain(st.Dict)
	if err != nil {
		return nil, err
	}
	data := raw
	for i, name := range names {
		if name == filters.Crypt {
			continue
		}
		params := filters.DefaultParams()
		if i < len(paramsList) {
			params = paramsList[i]
		}
		decoded, err := filters.Decode(name, data, params)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", ref.Number, err)
		}
		data = decoded
	}
	return data, nil
}

func (doc *Document) filterChain(dict model.Dict) ([]string, []filters.Params, error) {
	filterObj, err := doc.Resolve(dict[model.Name("Filter")])
	if err != nil {
		return nil, nil, err
	}
	var names []string
	switch f := filterObj.(type) {
	case model.Name:
		names = []string{string(f)}
	case model.Array:
		for _, o := range f {
			ro, err := doc.Resolve(o)
			if err != nil {
				return nil, nil, err
			}
			if n, ok := ro.(model.Name); ok {
				names = append(names, string(n))
			}
		}
	}

	parmsObj, err := doc.Resolve(dict[model.Name("DecodeParms")])
	if err != nil {
		return nil, nil, err
	}
	var paramsList []filters.Params
	switch dp := parmsObj.(type) {
	case model.Dict:
		p, err := doc.paramsFromDict(dp)
		if err != nil {
			return nil, nil, err
		}
		paramsList = []filters.Params{p}
	case model.Array:
		for _, o := range dp {
			ro, err := doc.Resolve(o)
			if err != nil {
				return nil, nil, err
			}
			if d, ok := ro.(model.Dict); ok {
				p, err := doc.paramsFromDict(d)
				if err != nil {
					return nil, nil, err
				}
				paramsList = append(paramsList, p)
			} else {
				paramsList = append(paramsList, filters.DefaultParams())
			}
		}
	}
	return names, paramsList, nil
}

func (doc *Document) paramsFromDict(d model.Dict) (filters.Params, error) {
	p := filters.DefaultParams()
	intField := func(name string, dst *int) error {
		o, err := doc.Resolve(d[model.Name(name)])
		if err != nil {
			return err
		}
		if v, ok := o.(model.Integer); ok {
			*dst = int(v)
		}
		return nil
	}
	if err := intField("Predictor", &p.Predictor); err != nil {
		return p, err
	}
	if err := intField("Colors", &p.Colors); err != nil {
		return p, err
	}
	if err := intField("BitsPerComponent", &p.BitsPerComp); err != nil {
		return p, err
	}
	if err := intField("Columns", &p.Columns); err != nil {
		return p, err
	}
	if err := intField("EarlyChange", &p.EarlyChange); err != nil {
		return p, err
	}
	return p, nil
}
