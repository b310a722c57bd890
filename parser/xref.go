package parser

import (
	"bytes"
	"sort"
	"strconv"
	"strings"

	"pdfops/object"
	"pdfops/recovery"
	"pdfops/scanner"
)

// xrefEntry records where an object lives: at a byte offset, or inside
// object stream streamNum at the given slot.
type xrefEntry struct {
	offset    int64
	gen       int
	inStream  bool
	streamNum int
	slot      int
}

type crossReferenceIndex struct {
	entries map[int]xrefEntry
}

func (x *crossReferenceIndex) lookup(num int) (xrefEntry, bool) {
	e, ok := x.entries[num]
	return e, ok
}

func (x *crossReferenceIndex) ids() []object.ID {
	out := make([]object.ID, 0, len(x.entries))
	for num, e := range x.entries {
		if num == 0 {
			continue
		}
		gen := e.gen
		if e.inStream {
			gen = 0
		}
		out = append(out, object.ID{Num: num, Gen: gen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// set records an entry unless a newer section already claimed the number.
// Sections are visited newest-first along the /Prev chain, so first wins.
func (x *crossReferenceIndex) set(num int, e xrefEntry) {
	if _, taken := x.entries[num]; !taken {
		x.entries[num] = e
	}
}

// resolveIndex locates startxref near the end of the file and follows the
// cross-reference chain (classic tables and xref streams, chained through
// /Prev and /XRefStm) to a complete index plus the newest trailer.
func resolveIndex(ld *loader) (*crossReferenceIndex, object.Dict, error) {
	data := ld.data
	tailStart := 0
	if len(data) > 2048 {
		tailStart = len(data) - 2048
	}
	rel := bytes.LastIndex(data[tailStart:], []byte("startxref"))
	if rel < 0 {
		return nil, nil, &ParseError{Msg: "startxref not found"}
	}
	at := tailStart + rel + len("startxref")
	offset, ok := nextInt(data[at:])
	if !ok {
		return nil, nil, &ParseError{Offset: int64(at), Msg: "startxref value unreadable"}
	}

	index := &crossReferenceIndex{entries: make(map[int]xrefEntry)}
	var trailer object.Dict
	seen := make(map[int64]bool)
	for steps := 0; offset >= 0; steps++ {
		if steps >= ld.cfg.MaxXRefChain {
			return nil, nil, &ParseError{Offset: offset, Msg: "cross-reference chain too long"}
		}
		if offset >= int64(len(data)) {
			err := &ParseError{Offset: offset, Msg: "cross-reference offset outside file"}
			if steps == 0 || !tolerate(ld, err, offset) {
				return nil, nil, err
			}
			break
		}
		if seen[offset] {
			break // chain loops back on itself
		}
		seen[offset] = true

		sectionTrailer, err := readSection(ld, offset, index)
		if err != nil {
			// The newest section must parse; older sections along the chain
			// may be dropped when the recovery strategy allows it.
			if steps == 0 || !tolerate(ld, err, offset) {
				return nil, nil, err
			}
			break
		}
		if trailer == nil {
			trailer = sectionTrailer
		}
		offset = -1
		if sectionTrailer != nil {
			// Hybrid files point at an xref stream shadowing the table.
			if stm, ok := object.IntValue(sectionTrailer.Get("XRefStm")); ok {
				if !seen[stm] && stm > 0 && stm < int64(len(data)) {
					seen[stm] = true
					if _, err := readSection(ld, stm, index); err != nil {
						if !tolerate(ld, err, stm) {
							return nil, nil, err
						}
					}
				}
			}
			if prev, ok := object.IntValue(sectionTrailer.Get("Prev")); ok {
				offset = prev
			}
		}
	}
	if trailer == nil {
		return nil, nil, &ParseError{Msg: "no trailer found"}
	}
	return index, trailer, nil
}

// tolerate asks the configured recovery strategy whether a damaged
// cross-reference section may be dropped. Without a strategy the walk
// stays strict.
func tolerate(ld *loader, err error, offset int64) bool {
	if ld.cfg.Recovery == nil {
		return false
	}
	action := ld.cfg.Recovery.OnError(err, recovery.Location{
		ByteOffset: offset,
		Component:  "xref",
	})
	return action != recovery.ActionFail
}

// readSection parses one cross-reference section (classic table or xref
// stream) at offset, merging entries into index.
func readSection(ld *loader, offset int64, index *crossReferenceIndex) (object.Dict, error) {
	sc := scanner.New(ld.data, ld.cfg.Scanner)
	if err := sc.Seek(offset); err != nil {
		return nil, &ParseError{Offset: offset, Msg: "cross-reference offset outside file"}
	}
	tok, err := sc.Next()
	if err != nil {
		return nil, &ParseError{Offset: offset, Msg: "empty cross-reference section"}
	}
	if tok.Kind == scanner.TokenKeyword && tok.Str == "xref" {
		return readClassicTable(sc, index)
	}
	if tok.Kind == scanner.TokenNumber {
		// "N G obj" heading an xref stream
		return readXRefStream(ld, offset, index)
	}
	return nil, &ParseError{Offset: offset, Msg: "expected xref keyword or xref stream object"}
}

func readClassicTable(sc *scanner.Scanner, index *crossReferenceIndex) (object.Dict, error) {
	for {
		save := sc.Position()
		tok, err := sc.Next()
		if err != nil {
			return nil, &ParseError{Offset: save, Msg: "cross-reference table ends without trailer"}
		}
		if tok.Kind == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := parseObject(sc)
			if err != nil {
				return nil, &ParseError{Offset: save, Msg: "malformed trailer", Err: err}
			}
			dict, ok := obj.(object.Dict)
			if !ok {
				return nil, &ParseError{Offset: save, Msg: "trailer is not a dictionary"}
			}
			return dict, nil
		}
		if tok.Kind != scanner.TokenNumber || !tok.IsInt {
			return nil, &ParseError{Offset: save, Msg: "malformed cross-reference subsection header"}
		}
		start := int(tok.Int)
		countTok, err := sc.Next()
		if err != nil || countTok.Kind != scanner.TokenNumber || !countTok.IsInt {
			return nil, &ParseError{Offset: save, Msg: "malformed cross-reference subsection header"}
		}
		count := int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err := sc.Next()
			if err != nil || offTok.Kind != scanner.TokenNumber {
				return nil, &ParseError{Offset: sc.Position(), Msg: "truncated cross-reference subsection"}
			}
			genTok, err := sc.Next()
			if err != nil || genTok.Kind != scanner.TokenNumber {
				return nil, &ParseError{Offset: sc.Position(), Msg: "truncated cross-reference subsection"}
			}
			kindTok, err := sc.Next()
			if err != nil || kindTok.Kind != scanner.TokenKeyword {
				return nil, &ParseError{Offset: sc.Position(), Msg: "truncated cross-reference subsection"}
			}
			if kindTok.Str != "n" {
				continue // free entry
			}
			index.set(start+i, xrefEntry{offset: offTok.Int, gen: int(genTok.Int)})
		}
	}
}

// readXRefStream parses a cross-reference stream object at offset.
func readXRefStream(ld *loader, offset int64, index *crossReferenceIndex) (object.Dict, error) {
	// The stream loads like any other object, except the index that would
	// normally locate it is the thing being built, so load by offset.
	sc := scanner.New(ld.data, ld.cfg.Scanner)
	sc.Seek(offset)
	num, gen, err := readObjectHeader(sc)
	if err != nil {
		return nil, &ParseError{Offset: offset, Msg: "malformed xref stream header", Err: err}
	}
	obj, err := ld.loadAtOffset(object.ID{Num: num, Gen: gen}, offset, 0)
	if err != nil {
		return nil, &ParseError{Offset: offset, Msg: "xref stream unreadable", Err: err}
	}
	stream, ok := obj.(*object.Stream)
	if !ok {
		return nil, &ParseError{Offset: offset, Msg: "xref stream object carries no stream"}
	}
	decoded, err := ld.cfg.Filters.DecodeStream(stream)
	if err != nil {
		return nil, &ParseError{Offset: offset, Msg: "xref stream decode failed", Err: err}
	}
	dict := stream.Dict

	wArr, _ := dict.Get("W").(object.Array)
	if len(wArr) < 3 {
		return nil, &ParseError{Offset: offset, Msg: "xref stream missing W"}
	}
	var w [3]int
	for i := 0; i < 3; i++ {
		v, ok := object.IntValue(wArr[i])
		if !ok || v < 0 || v > 8 {
			return nil, &ParseError{Offset: offset, Msg: "xref stream W out of range"}
		}
		w[i] = int(v)
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, &ParseError{Offset: offset, Msg: "xref stream W is all zero"}
	}

	size, _ := object.IntValue(dict.Get("Size"))
	type span struct{ start, count int }
	var spans []span
	if idxArr, ok := dict.Get("Index").(object.Array); ok && len(idxArr)%2 == 0 {
		for i := 0; i < len(idxArr); i += 2 {
			s, _ := object.IntValue(idxArr[i])
			c, _ := object.IntValue(idxArr[i+1])
			spans = append(spans, span{start: int(s), count: int(c)})
		}
	} else {
		spans = []span{{start: 0, count: int(size)}}
	}

	pos := 0
	for _, sp := range spans {
		for i := 0; i < sp.count; i++ {
			if pos+rowLen > len(decoded) {
				return dict, nil // truncated data; keep what parsed
			}
			row := decoded[pos : pos+rowLen]
			pos += rowLen
			ftype := int64(1)
			if w[0] > 0 {
				ftype = beInt(row[:w[0]])
			}
			f2 := beInt(row[w[0] : w[0]+w[1]])
			f3 := beInt(row[w[0]+w[1]:])
			num := sp.start + i
			switch ftype {
			case 0: // free
			case 1:
				index.set(num, xrefEntry{offset: f2, gen: int(f3)})
			case 2:
				index.set(num, xrefEntry{inStream: true, streamNum: int(f2), slot: int(f3)})
			}
		}
	}
	return dict, nil
}

func beInt(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func nextInt(data []byte) (int64, bool) {
	text := string(head(data, 64))
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' || r == ' ' }) {
		if v, err := strconv.ParseInt(line, 10, 64); err == nil {
			return v, true
		}
		break
	}
	return 0, false
}
