package compress

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"pdfops/object"
	"pdfops/observability"
)

// collectImageIDs gathers the indirect image XObjects reachable from a
// resource dictionary, descending into form XObjects.
func collectImageIDs(store *object.Store, resources object.Object) []object.ID {
	var out []object.ID
	visited := make(map[object.ID]bool)
	var visit func(res object.Object, depth int)
	visit = func(res object.Object, depth int) {
		if depth > 8 {
			return
		}
		resDict, err := store.ResolveDict(res)
		if err != nil || resDict == nil {
			return
		}
		xobjDict, err := store.ResolveDict(resDict.Get("XObject"))
		if err != nil || xobjDict == nil {
			return
		}
		for _, key := range xobjDict.SortedKeys() {
			ref, ok := xobjDict.Get(key).(object.Ref)
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
	visit(resources, 0)
	return out
}

// recompressImage decodes one image XObject to raw samples and re-encodes
// it as JPEG at the tier quality, keeping the original when the saving is
// below the configured threshold.
func recompressImage(store *object.Store, id object.ID, cfg Config, stats *Stats) {
	obj, ok := store.Get(id)
	if !ok {
		return
	}
	stream, ok := obj.(*object.Stream)
	if !ok {
		return
	}
	if mask, _ := object.IntValue(stream.Dict.Get("ImageMask")); mask == 1 {
		return // 1-bit stencil masks carry no recompressible samples
	}
	if stream.Dict.Get("SMask") != nil || stream.Dict.Get("Mask") != nil {
		// re-encoding would desync the samples from their transparency mask
		stats.ImagesSkipped++
		return
	}
	img := decodeImage(store, id, stream)
	if img == nil {
		stats.ImagesSkipped++
		return
	}
	if maxDim := cfg.Tier.maxDimension(); maxDim > 0 {
		img = downscale(img, maxDim)
	}
	img = flatten(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: cfg.Tier.jpegQuality()}); err != nil {
		stats.ImagesSkipped++
		return
	}
	saved := len(stream.Raw) - buf.Len()
	if saved < cfg.MinSavings {
		cfg.Log.Debug("image recompression saves too little, keeping original",
			observability.String("object", id.String()),
			observability.Int("saved", saved))
		stats.ImagesSkipped++
		return
	}

	dict := stream.Dict.Clone()
	bounds := img.Bounds()
	dict["Width"] = object.Integer(int64(bounds.Dx()))
	dict["Height"] = object.Integer(int64(bounds.Dy()))
	dict["BitsPerComponent"] = object.Integer(8)
	if _, gray := img.(*image.Gray); gray {
		dict["ColorSpace"] = object.Name("DeviceGray")
	} else {
		dict["ColorSpace"] = object.Name("DeviceRGB")
	}
	dict["Filter"] = object.Name("DCTDecode")
	dict["Length"] = object.Integer(int64(buf.Len()))
	delete(dict, "DecodeParms")
	store.Put(id, &object.Stream{Dict: dict, Raw: buf.Bytes()})
	stats.ImagesRecompressed++
	stats.BytesSaved += int64(saved)
}

// decodeImage turns the XObject payload into raw samples. JPEG payloads
// decode through image/jpeg; everything else runs the filter chain and is
// interpreted per ColorSpace and BitsPerComponent. Unsupported layouts
// return nil and the image stays as it is.
func decodeImage(store *object.Store, id object.ID, stream *object.Stream) image.Image {
	names := filterNames(stream.Dict)
	if contains(names, "DCTDecode") {
		img, err := jpeg.Decode(bytes.NewReader(stream.Raw))
		if err != nil {
			return nil
		}
		return img
	}
	for _, n := range names {
		switch n {
		case "JPXDecode", "JBIG2Decode", "CCITTFaxDecode":
			return nil // codecs outside this core; stream passes through
		}
	}
	data, err := store.GetDecoded(id)
	if err != nil {
		return nil
	}
	width, _ := object.IntValue(stream.Dict.Get("Width"))
	height, _ := object.IntValue(stream.Dict.Get("Height"))
	if width <= 0 || height <= 0 {
		return nil
	}
	bpc, _ := object.IntValue(stream.Dict.Get("BitsPerComponent"))
	if bpc == 0 {
		bpc = 8
	}
	if bpc != 8 {
		return nil
	}
	w, h := int(width), int(height)
	cs := colorSpaceName(store, stream.Dict.Get("ColorSpace"))
	switch cs {
	case "DeviceGray", "CalGray":
		if len(data) < w*h {
			return nil
		}
		return &image.Gray{Pix: data[:w*h], Stride: w, Rect: image.Rect(0, 0, w, h)}
	case "DeviceRGB", "CalRGB":
		if len(data) < w*h*3 {
			return nil
		}
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for i, j := 0, 0; i < w*h*3; i, j = i+3, j+4 {
			img.Pix[j] = data[i]
			img.Pix[j+1] = data[i+1]
			img.Pix[j+2] = data[i+2]
			img.Pix[j+3] = 0xFF
		}
		return img
	case "DeviceCMYK":
		if len(data) < w*h*4 {
			return nil
		}
		img := image.NewCMYK(image.Rect(0, 0, w, h))
		copy(img.Pix, data[:w*h*4])
		return img
	}
	return nil
}

func colorSpaceName(store *object.Store, obj object.Object) string {
	resolved, err := store.Resolve(obj)
	if err != nil {
		return ""
	}
	switch v := resolved.(type) {
	case object.Name:
		return string(v)
	case object.Array:
		if len(v) > 0 {
			if n, ok := v[0].(object.Name); ok {
				return string(n)
			}
		}
	}
	return ""
}

func filterNames(dict object.Dict) []string {
	switch f := dict.Get("Filter").(type) {
	case object.Name:
		return []string{string(f)}
	case object.Array:
		var out []string
		for _, item := range f {
			if n, ok := item.(object.Name); ok {
				out = append(out, string(n))
			}
		}
		return out
	}
	return nil
}

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

// downscale caps the longer image edge at maxDim, preserving aspect ratio.
func downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longer := w
	if h > longer {
		longer = h
	}
	if longer <= maxDim {
		return img
	}
	scale := float64(maxDim) / float64(longer)
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// flatten converts color models the JPEG encoder would round-trip through
// RGBA anyway, keeping Gray as Gray for single-channel output.
func flatten(img image.Image) image.Image {
	switch v := img.(type) {
	case *image.Gray, *image.NRGBA, *image.YCbCr, *image.RGBA:
		return img
	case *image.CMYK:
		b := v.Bounds()
		out := image.NewNRGBA(b)
		draw.Draw(out, b, v, b.Min, draw.Src)
		return out
	default:
		b := img.Bounds()
		out := image.NewNRGBA(b)
		draw.Draw(out, b, img, b.Min, draw.Src)
		return out
	}
}
