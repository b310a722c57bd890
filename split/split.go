// Package split builds new object stores from a chosen subset or union of
// pages, with resource graphs copied and renumbered to avoid identifier
// collisions.
package split

import (
	"errors"
	"fmt"

	"pdfops/object"
	"pdfops/pages"
)

type Mode int

const (
	// PerPage emits one store per selected page.
	PerPage Mode = iota
	// SingleFile emits one store holding all selected pages in selection
	// order.
	SingleFile
)

// Split copies the selected pages of store into fresh stores. Every output
// store carries a dense renumbering starting at 1 and owns private copies
// of everything reachable from its pages: no object is duplicated within
// one output, and none is shared across two outputs.
func Split(store *object.Store, set pages.RangeSet, mode Mode) ([]*object.Store, error) {
	if len(set) == 0 {
		return nil, errors.New("empty page selection")
	}
	resolved, err := pages.Resolve(store)
	if err != nil {
		return nil, err
	}
	var selected []pages.Page
	for _, idx := range set {
		if idx < 1 || idx > len(resolved) {
			return nil, fmt.Errorf("page %d outside document with %d pages", idx, len(resolved))
		}
		selected = append(selected, resolved[idx-1])
	}
	if mode == SingleFile {
		out, err := assemble(source{store: store, pages: selected})
		if err != nil {
			return nil, err
		}
		return []*object.Store{out}, nil
	}
	outs := make([]*object.Store, 0, len(selected))
	for _, page := range selected {
		out, err := assemble(source{store: store, pages: []pages.Page{page}})
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// Merge concatenates the page trees of the inputs in order. Renumbering and
// reachability copying follow the split rules, but deduplication is scoped
// per source: structurally identical objects from different inputs stay
// separate because cross-file identity cannot be safely inferred.
func Merge(stores []*object.Store) (*object.Store, error) {
	if len(stores) == 0 {
		return nil, errors.New("nothing to merge")
	}
	srcs := make([]source, 0, len(stores))
	for i, s := range stores {
		resolved, err := pages.Resolve(s)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i+1, err)
		}
		srcs = append(srcs, source{store: s, pages: resolved})
	}
	return assemble(srcs...)
}

type source struct {
	store *object.Store
	pages []pages.Page
}

// assemble builds one output store from page runs, one copier (and thus one
// dedup scope) per source.
func assemble(srcs ...source) (*object.Store, error) {
	dst := object.NewStore()
	catalogID := dst.Allocate()
	pagesID := dst.Allocate()

	var kids object.Array
	for _, src := range srcs {
		c := &copier{src: src.store, dst: dst, mapping: make(map[object.ID]object.ID)}
		for _, page := range src.pages {
			pageID, err := c.copyPage(page, pagesID)
			if err != nil {
				return nil, err
			}
			kids = append(kids, object.Ref(pageID))
			if src.store.IsDamaged(page.ID) {
				dst.MarkDamaged(pageID)
			}
		}
	}

	dst.Put(pagesID, object.Dict{
		"Type":  object.Name("Pages"),
		"Kids":  kids,
		"Count": object.Integer(int64(len(kids))),
	})
	dst.Put(catalogID, object.Dict{
		"Type":  object.Name("Catalog"),
		"Pages": object.Ref(pagesID),
	})
	dst.SetTrailer(object.Dict{
		"Size": object.Integer(int64(dst.MaxNum() + 1)),
		"Root": object.Ref(catalogID),
	})
	return dst, nil
}

// copier transfers one source's objects into the output store, memoizing by
// source id so shared resources are copied exactly once.
type copier struct {
	src     *object.Store
	dst     *object.Store
	mapping map[object.ID]object.ID
}

// copyPage deep-copies a page's leaf dictionary with inherited attributes
// materialized onto it, since the old ancestors do not come along.
func (c *copier) copyPage(page pages.Page, parent object.ID) (object.ID, error) {
	leaf := page.Dict(c.src)
	if leaf == nil {
		leaf = object.Dict{}
	}
	// Register the destination id up front so back references into the page
	// (an annotation's P, a Parent edge) resolve to this copy instead of
	// re-copying the source page tree.
	id := c.dst.Allocate()
	c.mapping[page.ID] = id
	pageDict := object.Dict{}
	for k, v := range leaf {
		if k == "Parent" {
			continue
		}
		copied, err := c.copyValue(v, 0)
		if err != nil {
			return object.ID{}, err
		}
		pageDict[k] = copied
	}
	pageDict["Type"] = object.Name("Page")
	pageDict["Parent"] = object.Ref(parent)
	pageDict["MediaBox"] = page.MediaBox.ToArray()
	if page.HasCrop {
		pageDict["CropBox"] = page.CropBox.ToArray()
	}
	if page.Rotate != 0 {
		pageDict["Rotate"] = object.Integer(int64(page.Rotate))
	}
	if _, hasRes := pageDict["Resources"]; !hasRes && page.Resources != nil {
		copied, err := c.copyValue(page.Resources, 0)
		if err != nil {
			return object.ID{}, err
		}
		pageDict["Resources"] = copied
	}
	c.dst.Put(id, pageDict)
	return id, nil
}

const maxCopyDepth = 512

// copyValue deep-copies a direct object, rewriting references to freshly
// numbered copies of their targets.
func (c *copier) copyValue(obj object.Object, depth int) (object.Object, error) {
	if depth > maxCopyDepth {
		return nil, errors.New("object graph too deep to copy")
	}
	switch v := obj.(type) {
	case object.Ref:
		id, err := c.copyIndirect(v.ID(), depth)
		if err != nil {
			return nil, err
		}
		return object.Ref(id), nil
	case object.Array:
		out := make(object.Array, 0, len(v))
		for _, item := range v {
			copied, err := c.copyValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, copied)
		}
		return out, nil
	case object.Dict:
		out := make(object.Dict, len(v))
		for k, item := range v {
			copied, err := c.copyValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = copied
		}
		return out, nil
	case *object.Stream:
		dictCopy, err := c.copyValue(v.Dict, depth+1)
		if err != nil {
			return nil, err
		}
		return &object.Stream{
			Dict: dictCopy.(object.Dict),
			Raw:  append([]byte(nil), v.Raw...),
		}, nil
	case object.String:
		return object.String{Data: append([]byte(nil), v.Data...), Hex: v.Hex}, nil
	default:
		// names, numbers, booleans, null are immutable values
		return obj, nil
	}
}

// copyIndirect copies the object behind a reference. The destination id is
// registered before the payload is copied so self-referential graphs
// terminate.
func (c *copier) copyIndirect(srcID object.ID, depth int) (object.ID, error) {
	if dstID, done := c.mapping[srcID]; done {
		return dstID, nil
	}
	dstID := c.dst.Allocate()
	c.mapping[srcID] = dstID
	srcObj, ok := c.src.Get(srcID)
	if !ok {
		c.dst.Put(dstID, object.Null{})
		return dstID, nil
	}
	copied, err := c.copyValue(srcObj, depth+1)
	if err != nil {
		return object.ID{}, err
	}
	c.dst.Put(dstID, copied)
	return dstID, nil
}
