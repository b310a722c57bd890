package compress

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"pdfops/filters"
	"pdfops/object"
	"pdfops/pages"
)

func buildContentDoc(content []byte, contentDict object.Dict) *object.Store {
	store := object.NewStore()
	store.SetDecoder(filters.Default().DecodeStream)
	store.Put(object.ID{Num: 1}, object.Dict{
		"Type":  object.Name("Catalog"),
		"Pages": object.Ref{Num: 2},
	})
	store.Put(object.ID{Num: 2}, object.Dict{
		"Type":  object.Name("Pages"),
		"Kids":  object.Array{object.Ref{Num: 3}},
		"Count": object.Integer(1),
	})
	store.Put(object.ID{Num: 3}, object.Dict{
		"Type":     object.Name("Page"),
		"Parent":   object.Ref{Num: 2},
		"Contents": object.Ref{Num: 4},
	})
	dict := contentDict
	if dict == nil {
		dict = object.Dict{}
	}
	dict["Length"] = object.Integer(int64(len(content)))
	store.Put(object.ID{Num: 4}, &object.Stream{Dict: dict, Raw: content})
	store.SetTrailer(object.Dict{"Size": object.Integer(5), "Root": object.Ref{Num: 1}})
	return store
}

func TestCompressReflatesContent(t *testing.T) {
	content := bytes.Repeat([]byte("0 0 612 792 re f "), 50)
	store := buildContentDoc(content, nil)

	stats, err := Compress(context.Background(), store, Config{Tier: Medium})
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if stats.StreamsRecompressed != 1 {
		t.Fatalf("expected 1 recompressed stream, got %d", stats.StreamsRecompressed)
	}
	obj, _ := store.Get(object.ID{Num: 4})
	stream := obj.(*object.Stream)
	if stream.Dict.Get("Filter") != object.Name("FlateDecode") {
		t.Fatalf("stream not reflated: %v", stream.Dict.Get("Filter"))
	}
	if len(stream.Raw) >= len(content) {
		t.Fatalf("reflate did not shrink repetitive content: %d >= %d", len(stream.Raw), len(content))
	}
	decoded, err := store.GetDecoded(object.ID{Num: 4})
	if err != nil {
		t.Fatalf("decode after compress: %v", err)
	}
	if !bytes.Equal(decoded, content) {
		t.Fatalf("content changed by lossless pass")
	}
}

func TestCompressLeavesUnknownFilterUntouched(t *testing.T) {
	raw := []byte("opaque jpeg2000 payload")
	store := buildContentDoc(raw, object.Dict{"Filter": object.Name("JPXDecode")})

	if _, err := Compress(context.Background(), store, Config{Tier: Low}); err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	obj, _ := store.Get(object.ID{Num: 4})
	stream := obj.(*object.Stream)
	if !bytes.Equal(stream.Raw, raw) {
		t.Fatalf("stream with unknown filter modified")
	}
	if stream.Dict.Get("Filter") != object.Name("JPXDecode") {
		t.Fatalf("filter entry modified: %v", stream.Dict.Get("Filter"))
	}
}

func TestCompressSkipsDamagedPages(t *testing.T) {
	content := bytes.Repeat([]byte("damaged page content "), 20)
	store := buildContentDoc(content, nil)
	store.MarkDamaged(object.ID{Num: 3})

	stats, err := Compress(context.Background(), store, Config{Tier: Low})
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if stats.StreamsRecompressed != 0 {
		t.Fatalf("damaged page was touched")
	}
	obj, _ := store.Get(object.ID{Num: 4})
	if !bytes.Equal(obj.(*object.Stream).Raw, content) {
		t.Fatalf("damaged page content altered")
	}
}

func TestCompressCancellation(t *testing.T) {
	store := buildContentDoc([]byte("content"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Compress(ctx, store, Config{Tier: Low}); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func buildImageDoc(t *testing.T) *object.Store {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y * 2), B: uint8(x + y), A: 255})
		}
	}
	var jp bytes.Buffer
	if err := jpeg.Encode(&jp, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("fixture encode: %v", err)
	}

	store := object.NewStore()
	store.SetDecoder(filters.Default().DecodeStream)
	store.Put(object.ID{Num: 1}, object.Dict{
		"Type":  object.Name("Catalog"),
		"Pages": object.Ref{Num: 2},
	})
	store.Put(object.ID{Num: 2}, object.Dict{
		"Type":  object.Name("Pages"),
		"Kids":  object.Array{object.Ref{Num: 3}},
		"Count": object.Integer(1),
	})
	store.Put(object.ID{Num: 3}, object.Dict{
		"Type":   object.Name("Page"),
		"Parent": object.Ref{Num: 2},
		"Resources": object.Dict{
			"XObject": object.Dict{"Im0": object.Ref{Num: 4}},
		},
	})
	store.Put(object.ID{Num: 4}, &object.Stream{
		Dict: object.Dict{
			"Type":             object.Name("XObject"),
			"Subtype":          object.Name("Image"),
			"Width":            object.Integer(160),
			"Height":           object.Integer(120),
			"ColorSpace":       object.Name("DeviceRGB"),
			"BitsPerComponent": object.Integer(8),
			"Filter":           object.Name("DCTDecode"),
			"Length":           object.Integer(int64(jp.Len())),
		},
		Raw: jp.Bytes(),
	})
	store.SetTrailer(object.Dict{"Size": object.Integer(5), "Root": object.Ref{Num: 1}})
	return store
}

func imageSize(t *testing.T, store *object.Store) int {
	t.Helper()
	obj, ok := store.Get(object.ID{Num: 4})
	if !ok {
		t.Fatalf("image object missing")
	}
	return len(obj.(*object.Stream).Raw)
}

func TestCompressTierSizeOrdering(t *testing.T) {
	sizes := make(map[Tier]int)
	for _, tier := range []Tier{Low, Medium, High} {
		store := buildImageDoc(t)
		stats, err := Compress(context.Background(), store, Config{Tier: tier, MinSavings: 1})
		if err != nil {
			t.Fatalf("compress at %s failed: %v", tier, err)
		}
		if stats.ImagesRecompressed+stats.ImagesSkipped != 1 {
			t.Fatalf("tier %s: image neither recompressed nor skipped", tier)
		}
		sizes[tier] = imageSize(t, store)
	}
	if sizes[Low] > sizes[Medium] || sizes[Medium] > sizes[High] {
		t.Fatalf("tier sizes not monotonic: low=%d medium=%d high=%d",
			sizes[Low], sizes[Medium], sizes[High])
	}
}

func TestCompressImageBecomesJPEG(t *testing.T) {
	store := buildImageDoc(t)
	stats, err := Compress(context.Background(), store, Config{Tier: Low, MinSavings: 1})
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if stats.ImagesRecompressed != 1 {
		t.Fatalf("expected image recompression, stats=%+v", stats)
	}
	obj, _ := store.Get(object.ID{Num: 4})
	stream := obj.(*object.Stream)
	if stream.Dict.Get("Filter") != object.Name("DCTDecode") {
		t.Fatalf("recompressed image must stay DCT encoded")
	}
	if _, err := jpeg.Decode(bytes.NewReader(stream.Raw)); err != nil {
		t.Fatalf("recompressed payload is not a valid JPEG: %v", err)
	}
}

func TestCompressKeepsMaskedImages(t *testing.T) {
	store := buildImageDoc(t)
	obj, _ := store.Get(object.ID{Num: 4})
	img := obj.(*object.Stream)
	img.Dict["SMask"] = object.Ref{Num: 5}
	gray := bytes.Repeat([]byte{0x80}, 160*120)
	store.Put(object.ID{Num: 5}, &object.Stream{
		Dict: object.Dict{
			"Type":             object.Name("XObject"),
			"Subtype":          object.Name("Image"),
			"Width":            object.Integer(160),
			"Height":           object.Integer(120),
			"ColorSpace":       object.Name("DeviceGray"),
			"BitsPerComponent": object.Integer(8),
			"Length":           object.Integer(int64(len(gray))),
		},
		Raw: gray,
	})
	before := append([]byte(nil), img.Raw...)

	stats, err := Compress(context.Background(), store, Config{Tier: Low, MinSavings: 1})
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if stats.ImagesRecompressed != 0 {
		t.Fatalf("masked image was recompressed, stats=%+v", stats)
	}
	obj, _ = store.Get(object.ID{Num: 4})
	after := obj.(*object.Stream)
	if !bytes.Equal(after.Raw, before) {
		t.Fatalf("masked image samples changed")
	}
	if after.Dict.Get("SMask") == nil {
		t.Fatalf("SMask dropped from masked image")
	}
	if _, ok := store.Get(object.ID{Num: 5}); !ok {
		t.Fatalf("mask stream lost")
	}
}

func TestCompressPreservesPageCount(t *testing.T) {
	store := buildImageDoc(t)
	before, _ := pages.Count(store)
	if _, err := Compress(context.Background(), store, Config{Tier: Low, MinSavings: 1}); err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	after, _ := pages.Count(store)
	if before != after {
		t.Fatalf("page count changed: %d -> %d", before, after)
	}
}

func TestParseTier(t *testing.T) {
	for name, want := range map[string]Tier{"low": Low, "medium": Medium, "high": High} {
		got, err := ParseTier(name)
		if err != nil || got != want {
			t.Fatalf("ParseTier(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseTier("extreme"); err == nil {
		t.Fatalf("expected error for unknown tier")
	}
}
