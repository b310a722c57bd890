package object

import (
	"fmt"
	"sort"
)

// StructuralError reports an inconsistency in the object graph discovered
// while resolving or materializing objects: an offset outside the file, a
// generation mismatch, an unterminated body, a reference cycle.
type StructuralError struct {
	ID     ID
	Offset int64
	Msg    string
}

func (e *StructuralError) Error() string {
	if e.ID.Num != 0 {
		return fmt.Sprintf("structural error at object %s (offset %d): %s", e.ID, e.Offset, e.Msg)
	}
	return fmt.Sprintf("structural error at offset %d: %s", e.Offset, e.Msg)
}

// DecodeFunc decodes a stream's raw payload according to its filter chain.
// The parser and repair engine install one backed by the filters package;
// keeping it injected avoids a dependency from the object model onto codecs.
type DecodeFunc func(*Stream) ([]byte, error)

// Loader materializes objects on demand. The parser installs one so that
// unused objects are never read from the source bytes.
type Loader interface {
	Load(ID) (Object, error)
	Known() []ID
}

// Store owns the indirect-object graph of one document. All reference
// resolution goes through the Store; nothing holds raw positions into the
// source bytes after parse time. A Store is not safe for concurrent
// mutation.
type Store struct {
	objects map[ID]Object
	trailer Dict
	origLen int64
	maxNum  int

	decoder DecodeFunc
	loader  Loader
	failed  map[ID]error
	decoded map[ID][]byte
	damaged map[ID]bool
}

func NewStore() *Store {
	return &Store{
		objects: make(map[ID]Object),
		decoded: make(map[ID][]byte),
		damaged: make(map[ID]bool),
	}
}

// Put inserts or replaces the object for id.
func (s *Store) Put(id ID, obj Object) {
	s.objects[id] = obj
	if id.Num > s.maxNum {
		s.maxNum = id.Num
	}
	delete(s.decoded, id)
}

// Get returns the object for id, materializing it through the loader on
// first access. A load failure is remembered and surfaces as a miss; Err
// reports it.
func (s *Store) Get(id ID) (Object, bool) {
	if obj, ok := s.objects[id]; ok {
		return obj, true
	}
	if s.loader == nil {
		return nil, false
	}
	if _, bad := s.failed[id]; bad {
		return nil, false
	}
	obj, err := s.loader.Load(id)
	if err != nil {
		if s.failed == nil {
			s.failed = make(map[ID]error)
		}
		s.failed[id] = err
		return nil, false
	}
	s.Put(id, obj)
	return obj, true
}

// Err returns the load error recorded for id, if any.
func (s *Store) Err(id ID) error { return s.failed[id] }

// SetLoader installs the on-demand object loader.
func (s *Store) SetLoader(l Loader) {
	s.loader = l
	for _, id := range l.Known() {
		if id.Num > s.maxNum {
			s.maxNum = id.Num
		}
	}
}

// Delete removes an object and any cached decode for it.
func (s *Store) Delete(id ID) {
	delete(s.objects, id)
	delete(s.decoded, id)
	delete(s.damaged, id)
}

// Allocate reserves a fresh object number and returns its ID.
func (s *Store) Allocate() ID {
	s.maxNum++
	return ID{Num: s.maxNum}
}

// Len reports the number of reachable objects, materialized or not.
func (s *Store) Len() int { return len(s.IDs()) }

// MaxNum reports the highest object number in use.
func (s *Store) MaxNum() int { return s.maxNum }

// IDs returns all object ids in ascending number order, including ids the
// loader knows about but has not materialized yet.
func (s *Store) IDs() []ID {
	seen := make(map[ID]bool, len(s.objects))
	out := make([]ID, 0, len(s.objects))
	for id := range s.objects {
		seen[id] = true
		out = append(out, id)
	}
	if s.loader != nil {
		for _, id := range s.loader.Known() {
			if !seen[id] {
				out = append(out, id)
			}
		}
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Num != ids[j].Num {
			return ids[i].Num < ids[j].Num
		}
		return ids[i].Gen < ids[j].Gen
	})
}

// Trailer returns the trailer dictionary (may be nil on a degraded store).
func (s *Store) Trailer() Dict { return s.trailer }

func (s *Store) SetTrailer(d Dict) { s.trailer = d }

// OriginalLength records the input byte length the store was parsed from.
func (s *Store) OriginalLength() int64     { return s.origLen }
func (s *Store) SetOriginalLength(n int64) { s.origLen = n }

// SetDecoder installs the stream decode function used by GetDecoded.
func (s *Store) SetDecoder(fn DecodeFunc) { s.decoder = fn }

// Resolve follows obj through at most one level of indirection per step
// until a non-reference is reached. Reference cycles are detected and
// reported, never followed.
func (s *Store) Resolve(obj Object) (Object, error) {
	seen := make(map[ID]bool)
	for {
		ref, ok := obj.(Ref)
		if !ok {
			return obj, nil
		}
		id := ref.ID()
		if seen[id] {
			return nil, &StructuralError{ID: id, Msg: "reference cycle"}
		}
		seen[id] = true
		next, ok := s.Get(id)
		if !ok {
			return Null{}, nil
		}
		obj = next
	}
}

// ResolveDict resolves obj and returns it as a dictionary. Streams resolve
// to their dictionaries.
func (s *Store) ResolveDict(obj Object) (Dict, error) {
	resolved, err := s.Resolve(obj)
	if err != nil {
		return nil, err
	}
	switch v := resolved.(type) {
	case Dict:
		return v, nil
	case *Stream:
		return v.Dict, nil
	}
	return nil, nil
}

// ResolveInt resolves obj to an integer value.
func (s *Store) ResolveInt(obj Object) (int64, bool) {
	resolved, err := s.Resolve(obj)
	if err != nil {
		return 0, false
	}
	return IntValue(resolved)
}

// Catalog returns the document catalog dictionary reached through the
// trailer's Root entry.
func (s *Store) Catalog() (Dict, error) {
	if s.trailer == nil {
		return nil, &StructuralError{Msg: "store has no trailer"}
	}
	root := s.trailer.Get("Root")
	if root == nil {
		return nil, &StructuralError{Msg: "trailer has no Root"}
	}
	dict, err := s.ResolveDict(root)
	if err != nil {
		return nil, err
	}
	if dict == nil {
		return nil, &StructuralError{Msg: "Root does not resolve to a dictionary"}
	}
	return dict, nil
}

// GetDecoded returns the decoded payload of the stream object at id,
// running its filter chain on first access and caching the result.
// Repeated calls return the same bytes.
func (s *Store) GetDecoded(id ID) ([]byte, error) {
	if data, ok := s.decoded[id]; ok {
		return data, nil
	}
	obj, ok := s.Get(id)
	if !ok {
		return nil, &StructuralError{ID: id, Msg: "no such object"}
	}
	stream, ok := obj.(*Stream)
	if !ok {
		return nil, &StructuralError{ID: id, Msg: "object is not a stream"}
	}
	if s.decoder == nil {
		data := append([]byte(nil), stream.Raw...)
		s.decoded[id] = data
		return data, nil
	}
	data, err := s.decoder(stream)
	if err != nil {
		return nil, err
	}
	s.decoded[id] = data
	return data, nil
}

// MarkDamaged flags the page or stream at id as non-recoverable: it stays in
// the page tree and counts for page ranges, but content-bearing transforms
// skip it.
func (s *Store) MarkDamaged(id ID) { s.damaged[id] = true }

func (s *Store) IsDamaged(id ID) bool { return s.damaged[id] }
