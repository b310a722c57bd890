// Package render turns pages into bitmaps. Full rasterization of content
// streams is behind the Rasterizer interface so a real renderer can be
// plugged in; the package itself ships embedded-image export, which covers
// scanned documents where each page is a single image.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"pdfops/object"
	"pdfops/pages"
)

// DPI is the raster resolution for page rendering.
type DPI int

const (
	DPI150 DPI = 150
	DPI200 DPI = 200
	DPI300 DPI = 300
)

func ParseDPI(n int) (DPI, error) {
	switch n {
	case 150, 200, 300:
		return DPI(n), nil
	case 0:
		return DPI200, nil
	}
	return 0, fmt.Errorf("unsupported dpi %d (use 150, 200 or 300)", n)
}

// Format selects the output encoding for exported bitmaps.
type Format int

const (
	FormatJPEG Format = iota
	FormatPNG
)

func (f Format) Ext() string {
	if f == FormatPNG {
		return ".png"
	}
	return ".jpg"
}

// Rasterizer renders one page to a bitmap at the given resolution.
type Rasterizer interface {
	Render(store *object.Store, pageIndex int, dpi DPI) (image.Image, error)
}

// ErrNoRasterizer is returned by page rendering when no Rasterizer has
// been provided.
var ErrNoRasterizer = errors.New("render: no rasterizer configured")

// Config drives page export.
type Config struct {
	Rasterizer Rasterizer
	DPI        DPI
	Format     Format
	Quality    int // JPEG quality, default 85
}

// ExportPages renders the selected pages and writes one image file per
// page into dir, named page-NNN with the format's extension. It returns
// the written paths in page order.
func ExportPages(ctx context.Context, store *object.Store, set pages.RangeSet, dir string, cfg Config) ([]string, error) {
	if cfg.Rasterizer == nil {
		return nil, ErrNoRasterizer
	}
	if cfg.DPI == 0 {
		cfg.DPI = DPI200
	}
	var paths []string
	for _, num := range set {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		img, err := cfg.Rasterizer.Render(store, num-1, cfg.DPI)
		if err != nil {
			return paths, fmt.Errorf("render page %d: %w", num, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("page-%03d%s", num, cfg.Format.Ext()))
		if err := writeImage(path, img, cfg); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeImage(path string, img image.Image, cfg Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if cfg.Format == FormatPNG {
		if err := png.Encode(f, img); err != nil {
			return err
		}
	} else {
		quality := cfg.Quality
		if quality == 0 {
			quality = 85
		}
		if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
			return err
		}
	}
	return f.Close()
}

// ExportEmbedded writes the image XObjects of the selected pages to dir
// without rasterizing. DCT-encoded images are written out as JPEG files
// byte for byte; flate-packed raster data is rebuilt and written as PNG.
// It returns the written paths.
func ExportEmbedded(ctx context.Context, store *object.Store, set pages.RangeSet, dir string) ([]string, error) {
	pgs, err := pages.Resolve(store)
	if err != nil {
		return nil, err
	}
	var paths []string
	seen := make(map[object.ID]bool)
	n := 0
	for _, page := range pgs {
		if !set.Contains(page.Index + 1) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		for _, id := range pageImageIDs(store, page) {
			if seen[id] {
				continue
			}
			seen[id] = true
			path, err := exportOne(store, id, dir, &n)
			if err != nil {
				return paths, fmt.Errorf("image %s: %w", id, err)
			}
			if path != "" {
				paths = append(paths, path)
			}
		}
	}
	return paths, nil
}

func exportOne(store *object.Store, id object.ID, dir string, n *int) (string, error) {
	obj, ok := store.Get(id)
	if !ok {
		return "", nil
	}
	stream, ok := obj.(*object.Stream)
	if !ok {
		return "", nil
	}
	if hasFilter(stream.Dict, "DCTDecode") {
		*n++
		path := filepath.Join(dir, fmt.Sprintf("image-%03d.jpg", *n))
		return path, os.WriteFile(path, stream.Raw, 0o644)
	}
	img := rawBitmap(store, id, stream)
	if img == nil {
		return "", nil
	}
	*n++
	path := filepath.Join(dir, fmt.Sprintf("image-%03d.png", *n))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return "", err
	}
	return path, f.Close()
}

// rawBitmap rebuilds an image.Image from a decoded raster stream. Only
// 8-bit gray and RGB data is handled; anything else is skipped.
func rawBitmap(store *object.Store, id object.ID, stream *object.Stream) image.Image {
	width, _ := store.ResolveInt(stream.Dict.Get("Width"))
	height, _ := store.ResolveInt(stream.Dict.Get("Height"))
	bpc, _ := store.ResolveInt(stream.Dict.Get("BitsPerComponent"))
	if width <= 0 || height <= 0 || bpc != 8 {
		return nil
	}
	data, err := store.GetDecoded(id)
	if err != nil {
		return nil
	}
	resolved, err := store.Resolve(stream.Dict.Get("ColorSpace"))
	if err != nil {
		return nil
	}
	cs, _ := resolved.(object.Name)
	w, h := int(width), int(height)
	switch cs {
	case "DeviceGray", "CalGray":
		if len(data) < w*h {
			return nil
		}
		img := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			copy(img.Pix[y*img.Stride:], data[y*w:(y+1)*w])
		}
		return img
	case "DeviceRGB", "CalRGB":
		if len(data) < w*h*3 {
			return nil
		}
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < w*h; i++ {
			img.Pix[i*4] = data[i*3]
			img.Pix[i*4+1] = data[i*3+1]
			img.Pix[i*4+2] = data[i*3+2]
			img.Pix[i*4+3] = 0xFF
		}
		return img
	}
	return nil
}

// pageImageIDs walks a page's resource dictionary for image XObjects,
// descending into form XObjects.
func pageImageIDs(store *object.Store, page pages.Page) []object.ID {
	visited := make(map[object.ID]bool)
	var out []object.ID
	var visit func(res object.Object, depth int)
	visit = func(res object.Object, depth int) {
		if depth > 8 {
			return
		}
		resDict, err := store.ResolveDict(res)
		if err != nil || resDict == nil {
			return
		}
		xobjects, err := store.ResolveDict(resDict.Get("XObject"))
		if err != nil || xobjects == nil {
			return
		}
		for _, key := range xobjects.SortedKeys() {
			ref, ok := xobjects.Get(key).(object.Ref)
			if !ok || visited[ref.ID()] {
				continue
			}
			visited[ref.ID()] = true
			obj, ok := store.Get(ref.ID())
			if !ok {
				continue
			}
			stream, ok := obj.(*object.Stream)
			if !ok {
				continue
			}
			switch subtype, _ := stream.Dict.Get("Subtype").(object.Name); subtype {
			case "Image":
				out = append(out, ref.ID())
			case "Form":
				visit(stream.Dict.Get("Resources"), depth+1)
			}
		}
	}
	visit(page.Resources, 0)
	return out
}

func hasFilter(dict object.Dict, name string) bool {
	switch f := dict.Get("Filter").(type) {
	case object.Name:
		return string(f) == name
	case object.Array:
		for _, el := range f {
			if n, ok := el.(object.Name); ok && string(n) == name {
				return true
			}
		}
	}
	return false
}
