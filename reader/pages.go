package reader

import (
	"fmt"

	"github.com/halverson/pdfcore/model"
)

// PageInfo is a single flattened page-tree leaf, with every inheritable
// attribute already resolved up the /Parent chain.
type PageInfo struct {
	Ref       model.Reference
	Dict      model.Dict
	MediaBox  model.Rectangle
	CropBox   model.Rectangle
	BleedBox  model.Rectangle
	TrimBox   model.Rectangle
	ArtBox    model.Rectangle
	Rotate    model.Rotation
	Resources model.Dict
}

// Pages is the flattened, document-ordered leaf list of a document's
// page tree. LoadPages walks the tree once and records every leaf's
// reference (so forward-referencing structures elsewhere in the
// document, such as an outline or an action, can link to a page before
// its attributes are resolved); Page then resolves one leaf on demand.
type Pages struct {
	leaves []model.Reference
}

// LoadPages walks /Root/Pages and returns its flattened leaves.
func (doc *Document) LoadPages() (*Pages, error) {
	root, err := doc.Resolve(*doc.Trailer.Root)
	if err != nil {
		return nil, err
	}
	rootDict, ok := root.(model.Dict)
	if !ok {
		return nil, fmt.Errorf("reader: /Root did not resolve to a dictionary (got %T)", root)
	}

	pagesRef, ok := rootDict[model.Name("Pages")].(model.Reference)
	if !ok {
		return nil, fmt.Errorf("reader: /Root/Pages is not an indirect reference")
	}

	p := &Pages{}
	visited := map[uint32]bool{}
	if err := doc.walkPageNode(pagesRef, visited, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (doc *Document) walkPageNode(ref model.Reference, visited map[uint32]bool, out *Pages) error {
	if visited[ref.Number] {
		// A cyclic /Kids array: stop rather than recurse forever. The
		// leaves gathered before the cycle was detected are kept.
		if doc.log != nil {
			doc.log.Warn("reader: cyclic page tree node, truncating walk", "object", ref.Number)
		}
		return nil
	}
	visited[ref.Number] = true

	obj, err := doc.GetObject(ref)
	if err != nil {
		return err
	}
	dict, ok := obj.(model.Dict)
	if !ok {
		return fmt.Errorf("reader: page tree node %v is not a dictionary (got %T)", ref, obj)
	}

	typ, _ := dict[model.Name("Type")].(model.Name)
	if typ == "Page" || (typ != "Pages" && dict[model.Name("Kids")] == nil) {
		out.leaves = append(out.leaves, ref)
		return nil
	}

	kids, _ := dict[model.Name("Kids")].(model.Array)
	for _, kid := range kids {
		kidRef, ok := kid.(model.Reference)
		if !ok {
			continue
		}
		if err := doc.walkPageNode(kidRef, visited, out); err != nil {
			return err
		}
	}
	return nil
}

// Count returns /Root/Pages/Count's effective value: the number of leaf
// pages actually reached by the walk, which tolerates a /Count that
// lies (a corruption some producers introduce).
func (p *Pages) Count() int { return len(p.leaves) }

// PageObjectID returns the object reference of the index-th page leaf,
// in document order.
func (p *Pages) PageObjectID(index int) (model.Reference, error) {
	if index < 0 || index >= len(p.leaves) {
		return model.Reference{}, fmt.Errorf("reader: page index %d out of range (have %d)", index, len(p.leaves))
	}
	return p.leaves[index], nil
}

// Page resolves the index-th leaf's full, inheritance-applied attribute
// set.
func (doc *Document) Page(pages *Pages, index int) (*PageInfo, error) {
	ref, err := pages.PageObjectID(index)
	if err != nil {
		return nil, err
	}
	obj, err := doc.GetObject(ref)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(model.Dict)
	if !ok {
		return nil, fmt.Errorf("reader: page %v is not a dictionary (got %T)", ref, obj)
	}

	info := &PageInfo{Ref: ref, Dict: dict}

	mediaBox, err := doc.queryRectangle(dict, "MediaBox", model.A4Portrait)
	if err != nil {
		return nil, err
	}
	info.MediaBox = mediaBox

	cropBox, err := doc.queryRectangle(dict, "CropBox", mediaBox)
	if err != nil {
		return nil, err
	}
	info.CropBox = cropBox

	for _, f := range []struct {
		name string
		dst  *model.Rectangle
	}{
		{"BleedBox", &info.BleedBox},
		{"TrimBox", &info.TrimBox},
		{"ArtBox", &info.ArtBox},
	} {
		v, err := doc.queryRectangle(dict, f.name, cropBox)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	rotateObj, err := doc.QueryInheritedValue(dict, "Rotate")
	if err != nil {
		return nil, err
	}
	if n, ok := rotateObj.(model.Integer); ok {
		info.Rotate = model.NewRotation(int(n))
	}

	resObj, err := doc.QueryInheritedValue(dict, "Resources")
	if err != nil {
		return nil, err
	}
	resObj, err = doc.Resolve(resObj)
	if err != nil {
		return nil, err
	}
	if res, ok := resObj.(model.Dict); ok {
		info.Resources = res
	}

	return info, nil
}

func (doc *Document) queryRectangle(dict model.Dict, name model.Name, fallback model.Rectangle) (model.Rectangle, error) {
	v, err := doc.QueryInheritedValue(dict, name)
	if err != nil {
		return fallback, err
	}
	v, err = doc.Resolve(v)
	if err != nil {
		return fallback, err
	}
	arr, ok := v.(model.Array)
	if !ok {
		return fallback, nil
	}
	rect, ok := model.RectangleFromArray(arr)
	if !ok {
		return fallback, nil
	}
	return rect, nil
}

// QueryInheritedValue returns dict[name] if present, else recursively
// queries dict's /Parent, returning model.Null{} if the walk terminates
// (root of the tree reached) without finding the key.
func (doc *Document) QueryInheritedValue(dict model.Dict, name model.Name) (model.Object, error) {
	seen := map[uint32]bool{}
	for {
		if v, ok := dict[name]; ok {
			return v, nil
		}

		parentRef, ok := dict[model.Name("Parent")].(model.Reference)
		if !ok || seen[parentRef.Number] {
			return model.Null{}, nil
		}
		seen[parentRef.Number] = true

		parentObj, err := doc.GetObject(parentRef)
		if err != nil {
			return nil, err
		}
		parentDict, ok := parentObj.(model.Dict)
		if !ok {
			return model.Null{}, nil
		}
		dict = parentDict
	}
}
