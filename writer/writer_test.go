package writer

import (
	"bytes"
	"strings"
	"testing"

	"pdfops/object"
	"pdfops/pages"
	"pdfops/parser"
)

func buildStore() *object.Store {
	store := object.NewStore()
	store.Put(object.ID{Num: 1}, object.Dict{
		"Type":  object.Name("Catalog"),
		"Pages": object.Ref{Num: 2},
	})
	store.Put(object.ID{Num: 2}, object.Dict{
		"Type":     object.Name("Pages"),
		"Kids":     object.Array{object.Ref{Num: 3}},
		"Count":    object.Integer(1),
		"MediaBox": object.Array{object.Integer(0), object.Integer(0), object.Integer(612), object.Integer(792)},
	})
	store.Put(object.ID{Num: 3}, object.Dict{
		"Type":     object.Name("Page"),
		"Parent":   object.Ref{Num: 2},
		"Contents": object.Ref{Num: 4},
	})
	content := []byte("BT (Hi \\(there\\)) Tj ET")
	store.Put(object.ID{Num: 4}, &object.Stream{
		Dict: object.Dict{"Length": object.Integer(int64(len(content)))},
		Raw:  content,
	})
	store.SetTrailer(object.Dict{"Size": object.Integer(5), "Root": object.Ref{Num: 1}})
	return store
}

func TestWriteRoundTrip(t *testing.T) {
	store := buildStore()
	var buf bytes.Buffer
	if err := Write(store, &buf, Config{}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	reparsed, err := parser.Parse(buf.Bytes(), parser.Config{})
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	count, err := pages.Count(reparsed)
	if err != nil {
		t.Fatalf("page resolve on output: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 page after round trip, got %d", count)
	}
	obj, ok := reparsed.Get(object.ID{Num: 4})
	if !ok {
		t.Fatalf("content stream missing after round trip: %v", reparsed.Err(object.ID{Num: 4}))
	}
	stream := obj.(*object.Stream)
	orig, _ := store.Get(object.ID{Num: 4})
	if !bytes.Equal(stream.Raw, orig.(*object.Stream).Raw) {
		t.Fatalf("stream payload changed: %q", stream.Raw)
	}
}

func TestWriteLayout(t *testing.T) {
	store := buildStore()
	var buf bytes.Buffer
	if err := Write(store, &buf, Config{}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "%PDF-1.7\n") {
		t.Fatalf("missing header: %q", out[:20])
	}
	if !strings.HasSuffix(out, "%%EOF\n") {
		t.Fatalf("missing EOF marker")
	}
	for _, want := range []string{"xref\n0 5\n", "trailer\n", "startxref\n", "0000000000 65535 f "} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q", want)
		}
	}
	if strings.Contains(out, "/Prev") {
		t.Fatalf("output must be single revision")
	}
}

func TestWriteNonZeroGenerations(t *testing.T) {
	store := buildStore()
	// move the page to generation 1; Kids and the leaf's back edges follow
	page, _ := store.Get(object.ID{Num: 3})
	store.Delete(object.ID{Num: 3})
	store.Put(object.ID{Num: 3, Gen: 1}, page)
	parent, _ := store.Get(object.ID{Num: 2})
	parent.(object.Dict)["Kids"] = object.Array{object.Ref{Num: 3, Gen: 1}}

	var buf bytes.Buffer
	if err := Write(store, &buf, Config{}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.Contains(buf.String(), " 00001 n \n") {
		t.Fatalf("xref table lost the object's generation")
	}
	reparsed, err := parser.Parse(buf.Bytes(), parser.Config{})
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if _, ok := reparsed.Get(object.ID{Num: 3, Gen: 1}); !ok {
		t.Fatalf("generation 1 object unreadable: %v", reparsed.Err(object.ID{Num: 3, Gen: 1}))
	}
	count, err := pages.Count(reparsed)
	if err != nil || count != 1 {
		t.Fatalf("expected 1 page, got %d (%v)", count, err)
	}
}

func TestWriteFreeEntriesForGaps(t *testing.T) {
	store := buildStore()
	// leave a hole at 5, place an object at 6
	store.Put(object.ID{Num: 6}, object.Integer(42))
	store.SetTrailer(object.Dict{"Size": object.Integer(7), "Root": object.Ref{Num: 1}})

	var buf bytes.Buffer
	if err := Write(store, &buf, Config{}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	reparsed, err := parser.Parse(buf.Bytes(), parser.Config{})
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if _, ok := reparsed.Get(object.ID{Num: 6}); !ok {
		t.Fatalf("object after gap not retrievable")
	}
	if _, ok := reparsed.Get(object.ID{Num: 5}); ok {
		t.Fatalf("gap object should not exist")
	}
}

func TestWriteEscapesStringsAndNames(t *testing.T) {
	store := object.NewStore()
	store.Put(object.ID{Num: 1}, object.Dict{
		"Type":  object.Name("Catalog"),
		"Pages": object.Ref{Num: 2},
	})
	store.Put(object.ID{Num: 2}, object.Dict{
		"Type":  object.Name("Pages"),
		"Kids":  object.Array{},
		"Count": object.Integer(0),
	})
	store.Put(object.ID{Num: 3}, object.Dict{
		"Odd Name":  object.String{Data: []byte("a(b)c\\d")},
		"HexString": object.String{Data: []byte{0x00, 0xFF}, Hex: true},
	})
	store.SetTrailer(object.Dict{"Size": object.Integer(4), "Root": object.Ref{Num: 1}})

	var buf bytes.Buffer
	if err := Write(store, &buf, Config{}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	reparsed, err := parser.Parse(buf.Bytes(), parser.Config{})
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	obj, ok := reparsed.Get(object.ID{Num: 3})
	if !ok {
		t.Fatalf("object missing: %v", reparsed.Err(object.ID{Num: 3}))
	}
	dict := obj.(object.Dict)
	s, _ := dict.Get("Odd Name").(object.String)
	if string(s.Data) != "a(b)c\\d" {
		t.Fatalf("literal string mangled: %q", s.Data)
	}
	h, _ := dict.Get("HexString").(object.String)
	if !bytes.Equal(h.Data, []byte{0x00, 0xFF}) {
		t.Fatalf("hex string mangled: %v", h.Data)
	}
}
