// Package pages walks the page tree: ordered page resolution with
// attribute inheritance, page-range expressions, and page rotation.
package pages

import (
	"fmt"

	"pdfops/object"
)

// MalformedTreeError reports a cyclic or unusable page-tree node. The
// offending subtree is skipped; resolution of the rest continues.
type MalformedTreeError struct {
	ID  object.ID
	Msg string
}

func (e *MalformedTreeError) Error() string {
	return fmt.Sprintf("malformed page tree at %s: %s", e.ID, e.Msg)
}

// Page is a view over a /Page dictionary with its inheritable attributes
// resolved. It is recomputed per traversal and never mutated; operations
// mutate the underlying dictionary in the store instead.
type Page struct {
	ID        object.ID
	Index     int // 0-based position in document order
	MediaBox  object.Rect
	CropBox   object.Rect
	HasCrop   bool
	Rotate    int
	Resources object.Object // dict or ref, as found
}

// Dict returns the page's leaf dictionary from the store.
func (p Page) Dict(store *object.Store) object.Dict {
	obj, ok := store.Get(p.ID)
	if !ok {
		return nil
	}
	dict, _ := obj.(object.Dict)
	return dict
}

// ContentIDs lists the indirect content stream ids of the page, flattening
// a /Contents array.
func (p Page) ContentIDs(store *object.Store) []object.ID {
	dict := p.Dict(store)
	if dict == nil {
		return nil
	}
	contents, err := store.Resolve(dict.Get("Contents"))
	if err != nil {
		return nil
	}
	var out []object.ID
	switch v := dict.Get("Contents").(type) {
	case object.Ref:
		if _, isArr := contents.(object.Array); !isArr {
			return []object.ID{v.ID()}
		}
	}
	if arr, ok := contents.(object.Array); ok {
		for _, item := range arr {
			if ref, ok := item.(object.Ref); ok {
				out = append(out, ref.ID())
			}
		}
	}
	return out
}

// inherited carries the attribute values accumulated while descending.
type inherited struct {
	mediaBox  object.Rect
	hasMedia  bool
	cropBox   object.Rect
	hasCrop   bool
	rotate    int
	hasRotate bool
	resources object.Object
}

// letterMediaBox is the fallback when no MediaBox appears anywhere on the
// path from root to leaf.
var letterMediaBox = object.Rect{URX: 612, URY: 792}

// Resolve walks the /Pages tree from the catalog root and returns the
// document's pages in order. Inherited attributes (Resources, MediaBox,
// CropBox, Rotate) apply only where the leaf lacks its own value. Cyclic
// subtrees are skipped.
func Resolve(store *object.Store) ([]Page, error) {
	catalog, err := store.Catalog()
	if err != nil {
		return nil, err
	}
	rootObj := catalog.Get("Pages")
	if rootObj == nil {
		// A repaired document may use a pages node directly as its root.
		if t, ok := catalog.Get("Type").(object.Name); ok && t == "Pages" {
			rootObj = object.Dict(catalog)
		} else {
			return nil, &MalformedTreeError{Msg: "catalog has no Pages entry"}
		}
	}
	w := &walker{store: store, visited: make(map[object.ID]bool)}
	w.walk(rootObj, inherited{})
	return w.pages, nil
}

// Count returns the number of pages without keeping the resolved views.
func Count(store *object.Store) (int, error) {
	pages, err := Resolve(store)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

type walker struct {
	store   *object.Store
	visited map[object.ID]bool
	pages   []Page
	skipped []error
}

func (w *walker) walk(node object.Object, inh inherited) {
	var nodeID object.ID
	if ref, ok := node.(object.Ref); ok {
		nodeID = ref.ID()
		if w.visited[nodeID] {
			w.skipped = append(w.skipped, &MalformedTreeError{ID: nodeID, Msg: "node revisits an ancestor"})
			return
		}
		w.visited[nodeID] = true
		defer delete(w.visited, nodeID)
	}
	dict, err := w.store.ResolveDict(node)
	if err != nil || dict == nil {
		w.skipped = append(w.skipped, &MalformedTreeError{ID: nodeID, Msg: "node is not a dictionary"})
		return
	}

	inh = mergeInherited(w.store, dict, inh)

	typ, _ := dict.Get("Type").(object.Name)
	kidsObj := dict.Get("Kids")
	if typ == "Pages" || (typ == "" && kidsObj != nil) {
		kids, err := w.store.Resolve(kidsObj)
		if err != nil {
			w.skipped = append(w.skipped, &MalformedTreeError{ID: nodeID, Msg: "Kids unresolvable"})
			return
		}
		arr, ok := kids.(object.Array)
		if !ok {
			w.skipped = append(w.skipped, &MalformedTreeError{ID: nodeID, Msg: "Kids is not an array"})
			return
		}
		for _, kid := range arr {
			w.walk(kid, inh)
		}
		return
	}

	// leaf
	media := letterMediaBox
	if inh.hasMedia {
		media = inh.mediaBox
	}
	page := Page{
		ID:        nodeID,
		Index:     len(w.pages),
		MediaBox:  media,
		CropBox:   inh.cropBox,
		HasCrop:   inh.hasCrop,
		Resources: inh.resources,
	}
	if inh.hasRotate {
		page.Rotate = normalizeRotate(inh.rotate)
	}
	w.pages = append(w.pages, page)
}

func mergeInherited(store *object.Store, dict object.Dict, inh inherited) inherited {
	if mb := dict.Get("MediaBox"); mb != nil {
		if arr, err := store.Resolve(mb); err == nil {
			if a, ok := arr.(object.Array); ok {
				if r, ok := object.RectFromArray(a); ok {
					inh.mediaBox = r
					inh.hasMedia = true
				}
			}
		}
	}
	if cb := dict.Get("CropBox"); cb != nil {
		if arr, err := store.Resolve(cb); err == nil {
			if a, ok := arr.(object.Array); ok {
				if r, ok := object.RectFromArray(a); ok {
					inh.cropBox = r
					inh.hasCrop = true
				}
			}
		}
	}
	if rot := dict.Get("Rotate"); rot != nil {
		if v, ok := store.ResolveInt(rot); ok {
			inh.rotate = int(v)
			inh.hasRotate = true
		}
	}
	if res := dict.Get("Resources"); res != nil {
		inh.resources = res
	}
	return inh
}

// normalizeRotate maps a stored Rotate value into {0, 90, 180, 270}.
// Values that are not a multiple of 90 are treated as 0, not rejected.
func normalizeRotate(v int) int {
	if v%90 != 0 {
		return 0
	}
	v %= 360
	if v < 0 {
		v += 360
	}
	return v
}
