package reader

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/halverson/pdfcore/model"
	"github.com/halverson/pdfcore/parser"
	"github.com/halverson/pdfcore/xref"
)

// resolveFromObjectStream returns the object named by a compressed xref
// entry, decoding and caching the whole containing object stream on
// first use so sibling objects in it resolve for free afterwards.
func (doc *Document) resolveFromObjectStream(entry xref.Entry) (model.Object, error) {
	objects, err := doc.loadObjectStream(uint32(entry.StreamNumber))
	if err != nil {
		return nil, err
	}
	if entry.StreamIndex < 0 || entry.StreamIndex >= len(objects) {
		return nil, fmt.Errorf("object stream %d: index %d out of range (have %d)", entry.StreamNumber, entry.StreamIndex, len(objects))
	}
	return objects[entry.StreamIndex], nil
}

// loadObjectStream parses and caches the N objects packed into the
// /Type /ObjStm numbered streamNum. Per PDF 1.7 §7.5.7, objects inside
// an object stream are never themselves encrypted (the containing
// stream, like any other, is).
func (doc *Document) loadObjectStream(streamNum uint32) ([]model.Object, error) {
	if objs, ok := doc.objectStreams[streamNum]; ok {
		return objs, nil
	}

	entry, ok := doc.table[streamNum]
	if !ok || entry.Free || entry.InObjectStream {
		return nil, fmt.Errorf("object stream %d: not a direct object", streamNum)
	}

	streamRef := model.Reference{Number: streamNum}
	obj, err := doc.resolveAtOffset(streamRef, entry.Offset)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", streamNum, err)
	}
	st, ok := obj.(model.Stream)
	if !ok {
		return nil, fmt.Errorf("object stream %d: expected a stream, got %T", streamNum, obj)
	}

	decoded, err := doc.StreamContent(streamRef, st)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", streamNum, err)
	}

	firstObj, err := doc.Resolve(st.Dict[model.Name("First")])
	if err != nil {
		return nil, err
	}
	first, ok := firstObj.(model.Integer)
	if !ok {
		return nil, fmt.Errorf("object stream %d: /First must be an integer", streamNum)
	}
	if int64(first) > int64(len(decoded)) || first < 0 {
		return nil, fmt.Errorf("object stream %d: /First out of bounds", streamNum)
	}

	nObj, err := doc.Resolve(st.Dict[model.Name("N")])
	if err != nil {
		return nil, err
	}
	n, ok := nObj.(model.Integer)
	if !ok {
		return nil, fmt.Errorf("object stream %d: /N must be an integer", streamNum)
	}

	// The prolog is N pairs "objNum relOffset" separated by whitespace;
	// some producers use a NUL byte instead of whitespace as separator.
	prolog := bytes.ReplaceAll(decoded[:first], []byte{0}, []byte{' '})
	fields := bytes.Fields(prolog)
	if len(fields) != int(n)*2 {
		return nil, fmt.Errorf("object stream %d: prolog has %d fields, want %d", streamNum, len(fields), n*2)
	}

	offsets := make([]int, n)
	for i := range offsets {
		off, err := strconv.Atoi(string(fields[2*i+1]))
		if err != nil {
			return nil, fmt.Errorf("object stream %d: invalid offset %q", streamNum, fields[2*i+1])
		}
		offsets[i] = int(first) + off
		if offsets[i] > len(decoded) {
			return nil, fmt.Errorf("object stream %d: offset %d out of bounds", streamNum, offsets[i])
		}
	}

	objects := make([]model.Object, n)
	for i := range objects {
		start, end := offsets[i], len(decoded)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		p := parser.New(decoded[start:end])
		objects[i], err = p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("object stream %d: object %d: %w", streamNum, i, err)
		}
	}

	doc.objectStreams[streamNum] = objects
	return objects, nil
}
