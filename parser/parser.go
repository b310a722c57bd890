// Package parser builds an object.Store from PDF bytes by locating the
// trailer, walking the cross-reference chain, and materializing objects by
// offset on first access.
package parser

import (
	"bytes"
	"fmt"

	"pdfops/filters"
	"pdfops/object"
	"pdfops/recovery"
	"pdfops/scanner"
)

// ParseError reports input that does not follow the object/xref/trailer
// structure. The ops layer routes it to the repair engine.
type ParseError struct {
	Offset int64
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error at offset %d: %s: %v", e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

type Config struct {
	Recovery     recovery.Strategy
	Scanner      scanner.Config
	Filters      *filters.Pipeline
	MaxXRefChain int
	MaxLoadDepth int
}

const (
	defaultMaxXRefChain = 64
	defaultMaxLoadDepth = 32
)

// Parse reads the whole document structure. Objects are loaded lazily: the
// returned store materializes each object from its recorded offset the
// first time something asks for it.
func Parse(data []byte, cfg Config) (*object.Store, error) {
	if cfg.MaxXRefChain == 0 {
		cfg.MaxXRefChain = defaultMaxXRefChain
	}
	if cfg.MaxLoadDepth == 0 {
		cfg.MaxLoadDepth = defaultMaxLoadDepth
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.Default()
	}

	if !bytes.Contains(head(data, 1024), []byte("%PDF-")) {
		return nil, &ParseError{Msg: "missing %PDF header"}
	}

	ld := &loader{data: data, cfg: cfg}
	index, trailer, err := resolveIndex(ld)
	if err != nil {
		return nil, err
	}
	ld.index = index

	store := object.NewStore()
	store.SetTrailer(trailer)
	store.SetOriginalLength(int64(len(data)))
	store.SetDecoder(cfg.Filters.DecodeStream)
	store.SetLoader(ld)
	ld.store = store
	return store, nil
}

// Version extracts the header version ("1.7") from the first line.
func Version(data []byte) string {
	line := head(data, 64)
	if i := bytes.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	if bytes.HasPrefix(line, []byte("%PDF-")) {
		return string(line[5:])
	}
	return ""
}

func head(data []byte, n int) []byte {
	if len(data) < n {
		return data
	}
	return data[:n]
}

// Entry is a repaired object location: byte offset plus the generation
// found in the object header.
type Entry struct {
	Offset int64
	Gen    int
}

// LoaderFromOffsets builds an object loader over an explicit offset map,
// bypassing any cross-reference table. The repair engine uses this after
// reconstructing object locations by linear scan.
func LoaderFromOffsets(data []byte, entries map[int]Entry, cfg Config) object.Loader {
	if cfg.MaxLoadDepth == 0 {
		cfg.MaxLoadDepth = defaultMaxLoadDepth
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.Default()
	}
	idx := &crossReferenceIndex{entries: make(map[int]xrefEntry, len(entries))}
	for num, e := range entries {
		idx.entries[num] = xrefEntry{offset: e.Offset, gen: e.Gen}
	}
	return &loader{data: data, cfg: cfg, index: idx}
}

// loader materializes objects on demand from the cross-reference index.
// It implements object.Loader.
type loader struct {
	data  []byte
	cfg   Config
	index *crossReferenceIndex
	store *object.Store
}

func (l *loader) Known() []object.ID { return l.index.ids() }

func (l *loader) Load(id object.ID) (object.Object, error) {
	return l.load(id, 0)
}

func (l *loader) load(id object.ID, depth int) (object.Object, error) {
	if depth > l.cfg.MaxLoadDepth {
		return nil, &object.StructuralError{ID: id, Msg: "object load recursion too deep"}
	}
	entry, ok := l.index.lookup(id.Num)
	if !ok {
		return nil, &object.StructuralError{ID: id, Msg: "object not in cross-reference index"}
	}
	if entry.inStream {
		return l.loadFromObjectStream(id, entry, depth)
	}
	if entry.gen != id.Gen {
		return nil, &object.StructuralError{ID: id, Offset: entry.offset, Msg: "generation mismatch"}
	}
	return l.loadAtOffset(id, entry.offset, depth)
}

func (l *loader) loadAtOffset(id object.ID, offset int64, depth int) (object.Object, error) {
	if offset < 0 || offset >= int64(len(l.data)) {
		return nil, &object.StructuralError{ID: id, Offset: offset, Msg: "offset outside file"}
	}
	sc := scanner.New(l.data, l.cfg.Scanner)
	if err := sc.Seek(offset); err != nil {
		return nil, &object.StructuralError{ID: id, Offset: offset, Msg: err.Error()}
	}
	num, gen, err := readObjectHeader(sc)
	if err != nil {
		return nil, &object.StructuralError{ID: id, Offset: offset, Msg: "malformed object header: " + err.Error()}
	}
	if num != id.Num || gen != id.Gen {
		return nil, &object.StructuralError{ID: id, Offset: offset,
			Msg: fmt.Sprintf("header names %d %d obj", num, gen)}
	}
	obj, err := parseObject(sc)
	if err != nil {
		return nil, &object.StructuralError{ID: id, Offset: offset, Msg: "unterminated object body: " + err.Error()}
	}
	dict, isDict := obj.(object.Dict)
	if !isDict {
		return obj, nil
	}
	// A dictionary may be the head of a stream.
	save := sc.Position()
	tok, err := sc.Next()
	if err != nil || tok.Kind != scanner.TokenKeyword || tok.Str != "stream" {
		sc.Seek(save)
		return dict, nil
	}
	length := int64(-1)
	switch v := dict.Get("Length").(type) {
	case object.Integer:
		length = int64(v)
	case object.Ref:
		// /Length stored indirectly must be resolved before the payload
		// can be sliced.
		lenObj, err := l.load(v.ID(), depth+1)
		if err == nil {
			if n, ok := object.IntValue(lenObj); ok {
				length = n
			}
		}
		dict["Length"] = object.Integer(length)
	}
	payload, err := sc.ReadStreamPayload(length)
	if err != nil {
		return nil, &object.StructuralError{ID: id, Offset: offset, Msg: err.Error()}
	}
	dict["Length"] = object.Integer(int64(len(payload)))
	return &object.Stream{Dict: dict, Raw: payload}, nil
}

// loadFromObjectStream loads a compressed object from slot entry.slot of
// the container stream entry.streamNum.
func (l *loader) loadFromObjectStream(id object.ID, e xrefEntry, depth int) (object.Object, error) {
	container, err := l.load(object.ID{Num: e.streamNum}, depth+1)
	if err != nil {
		return nil, err
	}
	stream, ok := container.(*object.Stream)
	if !ok {
		return nil, &object.StructuralError{ID: object.ID{Num: e.streamNum}, Msg: "object stream container is not a stream"}
	}
	decoded, err := l.cfg.Filters.DecodeStream(stream)
	if err != nil {
		return nil, &object.StructuralError{ID: object.ID{Num: e.streamNum}, Msg: "object stream decode: " + err.Error()}
	}
	n, _ := object.IntValue(stream.Dict.Get("N"))
	first, _ := object.IntValue(stream.Dict.Get("First"))
	if first < 0 || first > int64(len(decoded)) {
		return nil, &object.StructuralError{ID: object.ID{Num: e.streamNum}, Msg: "object stream First exceeds payload"}
	}
	sc := scanner.New(decoded[:first], l.cfg.Scanner)
	type pair struct {
		num int
		off int64
	}
	pairs := make([]pair, 0, n)
	for i := int64(0); i < n; i++ {
		numTok, err := sc.Next()
		if err != nil {
			break
		}
		offTok, err := sc.Next()
		if err != nil {
			break
		}
		if numTok.Kind != scanner.TokenNumber || offTok.Kind != scanner.TokenNumber {
			break
		}
		pairs = append(pairs, pair{num: int(numTok.Int), off: offTok.Int})
	}
	if e.slot < 0 || e.slot >= len(pairs) {
		return nil, &object.StructuralError{ID: id, Msg: fmt.Sprintf("slot %d outside object stream", e.slot)}
	}
	p := pairs[e.slot]
	if p.num != id.Num {
		return nil, &object.StructuralError{ID: id, Msg: "object stream slot names a different object"}
	}
	body := scanner.New(decoded, l.cfg.Scanner)
	if err := body.Seek(first + p.off); err != nil {
		return nil, &object.StructuralError{ID: id, Msg: "object stream offset outside payload"}
	}
	return parseObject(body)
}

func readObjectHeader(sc *scanner.Scanner) (num, gen int, err error) {
	numTok, err := sc.Next()
	if err != nil {
		return 0, 0, err
	}
	genTok, err := sc.Next()
	if err != nil {
		return 0, 0, err
	}
	kwTok, err := sc.Next()
	if err != nil {
		return 0, 0, err
	}
	if numTok.Kind != scanner.TokenNumber || !numTok.IsInt ||
		genTok.Kind != scanner.TokenNumber || !genTok.IsInt ||
		kwTok.Kind != scanner.TokenKeyword || kwTok.Str != "obj" {
		return 0, 0, fmt.Errorf("expected \"N G obj\"")
	}
	return int(numTok.Int), int(genTok.Int), nil
}
