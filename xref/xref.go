// Package xref reconstructs a PDF document's cross-reference table: the
// map from object number to the byte offset (or object-stream location)
// where that object's definition lives. It implements both xref
// flavours (classic tables and PDF 1.5 xref streams), the /Prev chain
// that links successive incremental updates, and the /XRefStm hybrid
// extension.
package xref

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/halverson/pdfcore/internal/filters"
	"github.com/halverson/pdfcore/internal/tokenizer"
	"github.com/halverson/pdfcore/model"
	"github.com/halverson/pdfcore/parser"
)

// Entry is one cross-reference table row.
type Entry struct {
	Free       bool
	Offset     int64 // byte offset of "N G obj", when not compressed
	Generation int

	// Compressed object location, set when this entry names an object
	// stored inside an object stream rather than at a byte offset.
	InObjectStream bool
	StreamNumber   int
	StreamIndex    int
}

// Table maps object number to its cross-reference entry.
type Table map[uint32]Entry

// Trailer holds the fields of the document trailer dictionary that the
// reader needs before it can resolve the Root catalog.
type Trailer struct {
	Size    int
	Root    *model.Reference
	Info    *model.Reference
	ID      model.Array
	Encrypt model.Object // Reference or Dict, or nil
}

var (
	errNoStartxref     = errors.New("xref: no startxref/%%EOF footer found")
	errCorruptFooter   = errors.New("xref: corrupted startxref offset")
	errMissingRoot     = errors.New("xref: trailer missing required /Root entry")
	errCorruptXRefW    = errors.New("xref: corrupted /W entry in cross-reference stream")
	errCorruptXRefKind = errors.New("xref: corrupted /Index entry in cross-reference stream")
)

// Load scans data backward from its end to locate the most recent
// cross-reference section, then walks the /Prev chain (merging any
// /XRefStm hybrid sections along the way) to build the complete table.
// Entries from a more recent section always win over older ones for the
// same object number, matching incremental-update semantics. logger may
// be nil; diagnostics (a /Prev cycle) are reported to it rather than
// failing the load, since the table built from the newest sections
// alone is still usable.
func Load(data []byte, logger *slog.Logger) (Table, Trailer, error) {
	offset, err := findStartxref(data)
	if err != nil {
		return nil, Trailer{}, err
	}

	table := Table{}
	var trailer Trailer
	seen := map[int64]bool{}

	for offset != 0 {
		if seen[offset] {
			// A /Prev cycle: stop rather than loop forever. The table
			// built so far (from the newest sections) is returned.
			if logger != nil {
				logger.Warn("xref: /Prev cycle detected, truncating chain", "offset", offset)
			}
			break
		}
		seen[offset] = true

		prev, xrefStm, err := parseOneSection(data, offset, table, &trailer)
		if err != nil {
			return nil, Trailer{}, fmt.Errorf("xref: section at offset %d: %w", offset, err)
		}

		// 1.5-conformant readers process a hybrid file's XRefStm before
		// continuing to the classic section's own /Prev.
		if xrefStm != 0 && !seen[xrefStm] {
			seen[xrefStm] = true
			if _, _, err := parseOneSection(data, xrefStm, table, &trailer); err != nil {
				return nil, Trailer{}, fmt.Errorf("xref: hybrid XRefStm at offset %d: %w", xrefStm, err)
			}
		}

		offset = prev
	}

	if trailer.Root == nil {
		return nil, Trailer{}, errMissingRoot
	}
	return table, trailer, nil
}

// FindStartxref is the exported form of findStartxref, for callers that
// need the byte offset of the most recent cross-reference section
// without loading the whole table (the incremental-update driver's
// /Prev value).
func FindStartxref(data []byte) (int64, error) {
	return findStartxref(data)
}

// findStartxref locates the last "startxref\n<offset>\n%%EOF" footer in
// data. Readers are expected to trust this over any earlier occurrence
// (a damaged file may contain stray older footers mid-stream).
func findStartxref(data []byte) (int64, error) {
	marker := []byte("startxref")
	idx := bytes.LastIndex(data, marker)
	if idx < 0 {
		return 0, errNoStartxref
	}
	rest := data[idx+len(marker):]
	eofIdx := bytes.Index(rest, []byte("%%EOF"))
	if eofIdx < 0 {
		return 0, errNoStartxref
	}
	numText := bytes.TrimSpace(rest[:eofIdx])
	offset, err := strconv.ParseInt(string(numText), 10, 64)
	if err != nil || offset < 0 || offset >= int64(len(data)) {
		return 0, errCorruptFooter
	}
	return offset, nil
}

// parseOneSection parses the classic xref table or xref stream at
// offset, merges its entries into table (without overwriting entries
// already present, so the newest section wins) and folds trailer fields
// in (again, first writer wins per field). It returns the /Prev offset
// and, for a classic section, any hybrid /XRefStm offset.
func parseOneSection(data []byte, offset int64, table Table, trailer *Trailer) (prev, xrefStm int64, err error) {
	tk := tokenizer.New(data)
	tk.Seek(offset)

	tok, err := tk.Next()
	if err != nil {
		return 0, 0, err
	}

	if tok.IsKeyword("xref") {
		return parseClassicSection(tk, table, trailer)
	}
	return parseXRefStreamSection(data, offset, table, trailer)
}

func parseClassicSection(tk *tokenizer.Tokenizer, table Table, trailer *Trailer) (prev, xrefStm int64, err error) {
	for {
		save := tk.Pos()
		tok, err := tk.Next()
		if err != nil {
			return 0, 0, err
		}
		if tok.IsKeyword("trailer") {
			break
		}
		if tok.Kind != tokenizer.Number {
			tk.Seek(save)
			break
		}
		startObj, err := strconv.ParseUint(string(tok.Value), 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("classic xref: invalid start object number: %w", err)
		}
		countTok, err := tk.Next()
		if err != nil {
			return 0, 0, err
		}
		count, err := strconv.ParseInt(string(countTok.Value), 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("classic xref: invalid subsection count: %w", err)
		}

		for i := int64(0); i < count; i++ {
			if err := parseClassicEntry(tk, table, uint32(startObj)+uint32(i)); err != nil {
				return 0, 0, err
			}
		}
	}

	p := parser.NewFromTokenizer(tk)
	obj, err := p.ParseObject()
	if err != nil {
		return 0, 0, fmt.Errorf("classic xref: trailer: %w", err)
	}
	dict, ok := obj.(model.Dict)
	if !ok {
		return 0, 0, fmt.Errorf("classic xref: trailer is not a dictionary (got %T)", obj)
	}

	mergeTrailer(trailer, dict)

	prev = prevOffset(dict)
	if n, ok := dict[model.Name("XRefStm")].(model.Integer); ok {
		xrefStm = int64(n)
	}
	return prev, xrefStm, nil
}

func parseClassicEntry(tk *tokenizer.Tokenizer, table Table, objNum uint32) error {
	offsetTok, err := tk.Next()
	if err != nil {
		return err
	}
	offset, err := strconv.ParseInt(string(offsetTok.Value), 10, 64)
	if err != nil {
		return fmt.Errorf("classic xref entry: invalid offset: %w", err)
	}
	genTok, err := tk.Next()
	if err != nil {
		return err
	}
	gen, err := strconv.Atoi(string(genTok.Value))
	if err != nil {
		return fmt.Errorf("classic xref entry: invalid generation: %w", err)
	}
	kindTok, err := tk.Next()
	if err != nil {
		return err
	}
	kind := string(kindTok.Value)
	if kindTok.Kind != tokenizer.Keyword || (kind != "n" && kind != "f") {
		return fmt.Errorf("classic xref entry: expected 'n' or 'f', got %q", kind)
	}

	if kind == "n" && offset == 0 {
		// A producer bug some readers tolerate: an in-use entry with a
		// zero offset is simply skipped rather than trusted.
		return nil
	}
	if _, exists := table[objNum]; exists {
		return nil // a newer section already claimed this object number
	}
	table[objNum] = Entry{Free: kind == "f", Offset: offset, Generation: gen}
	return nil
}

func prevOffset(dict model.Dict) int64 {
	switch v := dict[model.Name("Prev")].(type) {
	case model.Integer:
		return int64(v)
	case model.Reference:
		// Some producers write "/Prev N 0 R" instead of a direct integer.
		return int64(v.Number)
	default:
		return 0
	}
}

func mergeTrailer(trailer *Trailer, dict model.Dict) {
	if trailer.Size == 0 {
		if size, ok := dict[model.Name("Size")].(model.Integer); ok {
			trailer.Size = int(size)
		}
	}
	if trailer.Root == nil {
		if ref, ok := dict[model.Name("Root")].(model.Reference); ok {
			r := ref
			trailer.Root = &r
		}
	}
	if trailer.Info == nil {
		if ref, ok := dict[model.Name("Info")].(model.Reference); ok {
			r := ref
			trailer.Info = &r
		}
	}
	if trailer.ID == nil {
		if id, ok := dict[model.Name("ID")].(model.Array); ok {
			trailer.ID = id
		}
	}
	if trailer.Encrypt == nil {
		if enc, ok := dict[model.Name("Encrypt")]; ok {
			trailer.Encrypt = enc
		}
	}
}

// xrefStreamLayout is the decoded shape of a cross-reference stream's
// dictionary (PDF 1.7 Table 17).
type xrefStreamLayout struct {
	w     [3]int
	index [][2]int // pairs of (first object number, count)
}

func (x xrefStreamLayout) entrySize() int { return x.w[0] + x.w[1] + x.w[2] }

func (x xrefStreamLayout) count() int {
	total := 0
	for _, sub := range x.index {
		total += sub[1]
	}
	return total
}

func parseXRefStreamSection(data []byte, offset int64, table Table, trailer *Trailer) (prev, xrefStm int64, err error) {
	p := parser.New(data)
	p.Tokenizer().Seek(offset)

	if _, err := p.ParseObjectHeader(); err != nil {
		return 0, 0, fmt.Errorf("xref stream: object header: %w", err)
	}
	obj, err := p.ParseObject()
	if err != nil {
		return 0, 0, fmt.Errorf("xref stream: dictionary: %w", err)
	}
	dict, ok := obj.(model.Dict)
	if !ok {
		return 0, 0, fmt.Errorf("xref stream: expected dictionary, got %T", obj)
	}
	hasStream, err := p.PeekIsStreamKeyword()
	if err != nil {
		return 0, 0, err
	}
	if !hasStream {
		return 0, 0, fmt.Errorf("xref stream: missing 'stream' keyword")
	}
	if err := p.Tokenizer().SkipStreamKeywordEOL(); err != nil {
		return 0, 0, err
	}

	length, ok := dict[model.Name("Length")].(model.Integer)
	if !ok {
		return 0, 0, fmt.Errorf("xref stream: /Length must be a direct integer")
	}
	start := p.Tokenizer().Pos()
	if start+int64(length) > int64(len(data)) {
		return 0, 0, fmt.Errorf("xref stream: /Length overruns buffer")
	}
	encoded := data[start : start+int64(length)]

	decoded, err := decodeDirectStream(dict, encoded)
	if err != nil {
		return 0, 0, err
	}

	layout, err := parseXRefStreamLayout(dict)
	if err != nil {
		return 0, 0, err
	}

	if err := extractEntriesFromStream(decoded, layout, table); err != nil {
		return 0, 0, err
	}

	mergeTrailer(trailer, dict)
	return prevOffset(dict), 0, nil
}

// decodeDirectStream runs the filter pipeline named in dict["Filter"]
// over encoded. Cross-reference streams must use only direct filters
// with direct parameters (PDF 1.7 §7.5.8.2): no indirect references are
// resolved here, unlike a regular stream object.
func decodeDirectStream(dict model.Dict, encoded []byte) ([]byte, error) {
	names, paramsList := directFilterChain(dict)
	data := encoded
	for i, name := range names {
		params := filters.DefaultParams()
		if i < len(paramsList) {
			params = paramsList[i]
		}
		decoded, err := filters.Decode(name, data, params)
		if err != nil {
			return nil, fmt.Errorf("xref stream: %w", err)
		}
		data = decoded
	}
	return data, nil
}

func directFilterChain(dict model.Dict) ([]string, []filters.Params) {
	var names []string
	switch f := dict[model.Name("Filter")].(type) {
	case model.Name:
		names = []string{string(f)}
	case model.Array:
		for _, o := range f {
			if n, ok := o.(model.Name); ok {
				names = append(names, string(n))
			}
		}
	}

	var paramsList []filters.Params
	switch dp := dict[model.Name("DecodeParms")].(type) {
	case model.Dict:
		paramsList = []filters.Params{paramsFromDict(dp)}
	case model.Array:
		for _, o := range dp {
			if d, ok := o.(model.Dict); ok {
				paramsList = append(paramsList, paramsFromDict(d))
			} else {
				paramsList = append(paramsList, filters.DefaultParams())
			}
		}
	}
	return names, paramsList
}

func paramsFromDict(d model.Dict) filters.Params {
	p := filters.DefaultParams()
	if v, ok := d[model.Name("Predictor")].(model.Integer); ok {
		p.Predictor = int(v)
	}
	if v, ok := d[model.Name("Colors")].(model.Integer); ok {
		p.Colors = int(v)
	}
	if v, ok := d[model.Name("BitsPerComponent")].(model.Integer); ok {
		p.BitsPerComp = int(v)
	}
	if v, ok := d[model.Name("Columns")].(model.Integer); ok {
		p.Columns = int(v)
	}
	if v, ok := d[model.Name("EarlyChange")].(model.Integer); ok {
		p.EarlyChange = int(v)
	}
	return p
}

func parseXRefStreamLayout(dict model.Dict) (xrefStreamLayout, error) {
	var out xrefStreamLayout

	wArr, ok := dict[model.Name("W")].(model.Array)
	if !ok || len(wArr) < 3 {
		return out, errCorruptXRefW
	}
	for i := 0; i < 3; i++ {
		n, ok := wArr[i].(model.Integer)
		if !ok || n < 0 {
			return out, errCorruptXRefW
		}
		out.w[i] = int(n)
	}

	size, _ := dict[model.Name("Size")].(model.Integer)
	if idxArr, ok := dict[model.Name("Index")].(model.Array); ok && len(idxArr) != 0 {
		if len(idxArr)%2 != 0 {
			return out, errCorruptXRefKind
		}
		for i := 0; i < len(idxArr); i += 2 {
			first, ok1 := idxArr[i].(model.Integer)
			count, ok2 := idxArr[i+1].(model.Integer)
			if !ok1 || !ok2 {
				return out, errCorruptXRefKind
			}
			out.index = append(out.index, [2]int{int(first), int(count)})
		}
	} else {
		out.index = [][2]int{{0, int(size)}}
	}
	return out, nil
}

func bufToInt64(buf []byte) int64 {
	var v int64
	for _, b := range buf {
		v = v<<8 | int64(b)
	}
	return v
}

func extractEntriesFromStream(buf []byte, layout xrefStreamLayout, table Table) error {
	entrySize := layout.entrySize()
	if entrySize == 0 {
		return fmt.Errorf("xref stream: empty /W entry widths")
	}
	needed := layout.count() * entrySize
	if len(buf) < needed {
		return fmt.Errorf("xref stream: decoded length %d shorter than expected %d", len(buf), needed)
	}
	buf = buf[:needed]

	w0, w1, w2 := layout.w[0], layout.w[1], layout.w[2]
	pos := 0
	for _, sub := range layout.index {
		first, count := sub[0], sub[1]
		for i := 0; i < count; i++ {
			row := buf[pos : pos+entrySize]
			pos += entrySize

			typ := byte(1) // default type when W[0] == 0
			if w0 > 0 {
				typ = row[0]
			}
			f2 := row[w0 : w0+w1]
			f3 := row[w0+w1 : w0+w1+w2]

			objNum := uint32(first + i)
			if _, exists := table[objNum]; exists {
				continue // a newer section already claimed this object
			}

			switch typ {
			case 0:
				table[objNum] = Entry{Free: true, Offset: bufToInt64(f2), Generation: int(bufToInt64(f3))}
			case 1:
				table[objNum] = Entry{Offset: bufToInt64(f2), Generation: int(bufToInt64(f3))}
			case 2:
				table[objNum] = Entry{InObjectStream: true, StreamNumber: int(bufToInt64(f2)), StreamIndex: int(bufToInt64(f3))}
			default:
				return fmt.Errorf("xref stream: unsupported entry type %d", typ)
			}
		}
	}
	return nil
}
