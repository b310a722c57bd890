// Package filters implements the stream encodings the core understands:
// FlateDecode (with PNG predictors), LZWDecode, RunLengthDecode,
// ASCIIHexDecode and ASCII85Decode. DCTDecode payloads are passed through
// raw; image recompression decodes them with image/jpeg instead.
package filters

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"pdfops/object"
)

// UnsupportedFilterError names a filter the pipeline has no decoder for.
// Compression passes such streams through unmodified; repair marks the
// owning page non-recoverable.
type UnsupportedFilterError struct {
	Filter string
}

func (e *UnsupportedFilterError) Error() string {
	return fmt.Sprintf("unsupported stream filter %q", e.Filter)
}

// Decoder reverses one stream encoding.
type Decoder interface {
	Name() string
	Decode(input []byte, params object.Dict) ([]byte, error)
}

type Limits struct {
	MaxDecodedSize int64
}

type Pipeline struct {
	decoders map[string]Decoder
	limits   Limits
}

func NewPipeline(limits Limits, decoders ...Decoder) *Pipeline {
	p := &Pipeline{decoders: make(map[string]Decoder), limits: limits}
	for _, d := range decoders {
		p.decoders[d.Name()] = d
	}
	return p
}

// Default returns a pipeline holding every built-in decoder.
func Default() *Pipeline {
	return NewPipeline(Limits{},
		FlateDecoder{},
		LZWDecoder{},
		RunLengthDecoder{},
		ASCIIHexDecoder{},
		ASCII85Decoder{},
	)
}

// Decode runs data through the named filters in order.
func (p *Pipeline) Decode(data []byte, names []string, params []object.Dict) ([]byte, error) {
	for i, name := range names {
		dec, ok := p.decoders[name]
		if !ok {
			return nil, &UnsupportedFilterError{Filter: name}
		}
		var param object.Dict
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecodedSize > 0 && int64(len(out)) > p.limits.MaxDecodedSize {
			return nil, errors.New("decoded size exceeds limit")
		}
		data = out
	}
	return data, nil
}

// DecodeStream decodes a stream's payload according to its /Filter chain.
// Filter entries must already be direct objects (the parser resolves
// indirect Filter/DecodeParms before handing streams out).
func (p *Pipeline) DecodeStream(stream *object.Stream) ([]byte, error) {
	names, params := FilterChain(stream.Dict)
	return p.Decode(stream.Raw, names, params)
}

// FilterChain extracts the filter names and their parameter dictionaries
// from a stream dictionary, normalizing the single-entry short forms.
func FilterChain(dict object.Dict) ([]string, []object.Dict) {
	var names []string
	switch f := dict.Get("Filter").(type) {
	case object.Name:
		names = []string{string(f)}
	case object.Array:
		for _, item := range f {
			if n, ok := item.(object.Name); ok {
				names = append(names, string(n))
			}
		}
	}
	var params []object.Dict
	switch dp := dict.Get("DecodeParms").(type) {
	case object.Dict:
		params = []object.Dict{dp}
	case object.Array:
		for _, item := range dp {
			d, _ := item.(object.Dict)
			params = append(params, d)
		}
	}
	return names, params
}

// FlateEncode compresses data with zlib at the given level (1..9).
// The writer and the compression engine always use the maximum level.
func FlateEncode(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type FlateDecoder struct{}

func (FlateDecoder) Name() string { return "FlateDecode" }

func (FlateDecoder) Decode(input []byte, params object.Dict) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

type LZWDecoder struct{}

func (LZWDecoder) Name() string { return "LZWDecode" }

func (LZWDecoder) Decode(input []byte, params object.Dict) ([]byte, error) {
	if params != nil {
		if early, ok := object.IntValue(params.Get("EarlyChange")); ok && early == 0 {
			return nil, errors.New("EarlyChange 0 not supported")
		}
	}
	r := lzw.NewReader(bytes.NewReader(input), lzw.MSB, 8)
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

type RunLengthDecoder struct{}

func (RunLengthDecoder) Name() string { return "RunLengthDecode" }

func (RunLengthDecoder) Decode(input []byte, params object.Dict) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(input); {
		n := input[i]
		i++
		switch {
		case n == 128: // EOD
			return out.Bytes(), nil
		case n < 128:
			count := int(n) + 1
			if i+count > len(input) {
				return nil, errors.New("truncated literal run")
			}
			out.Write(input[i : i+count])
			i += count
		default:
			if i >= len(input) {
				return nil, errors.New("truncated repeat run")
			}
			count := 257 - int(n)
			out.Write(bytes.Repeat(input[i:i+1], count))
			i++
		}
	}
	return out.Bytes(), nil
}

type ASCIIHexDecoder struct{}

func (ASCIIHexDecoder) Name() string { return "ASCIIHexDecode" }

func (ASCIIHexDecoder) Decode(input []byte, params object.Dict) ([]byte, error) {
	trimmed := input
	if i := bytes.IndexByte(trimmed, '>'); i >= 0 {
		trimmed = trimmed[:i]
	}
	compact := make([]byte, 0, len(trimmed))
	for _, c := range trimmed {
		if !isSpace(c) {
			compact = append(compact, c)
		}
	}
	if len(compact)%2 == 1 {
		compact = append(compact, '0')
	}
	out := make([]byte, hex.DecodedLen(len(compact)))
	n, err := hex.Decode(out, compact)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

type ASCII85Decoder struct{}

func (ASCII85Decoder) Name() string { return "ASCII85Decode" }

func (ASCII85Decoder) Decode(input []byte, params object.Dict) ([]byte, error) {
	trimmed := bytes.TrimSpace(input)
	trimmed = bytes.TrimPrefix(trimmed, []byte("<~"))
	trimmed = bytes.TrimSuffix(trimmed, []byte("~>"))
	out := make([]byte, len(trimmed)*4/5+4)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func isSpace(c byte) bool {
	switch c {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		return true
	}
	return false
}

// applyPredictor undoes the PNG/TIFF predictors that xref streams and
// image data commonly layer over Flate/LZW output.
func applyPredictor(data []byte, params object.Dict) ([]byte, error) {
	if params == nil {
		return data, nil
	}
	predictor, ok := object.IntValue(params.Get("Predictor"))
	if !ok || predictor <= 1 {
		return data, nil
	}
	columns := int64(1)
	if v, ok := object.IntValue(params.Get("Columns")); ok && v > 0 {
		columns = v
	}
	colors := int64(1)
	if v, ok := object.IntValue(params.Get("Colors")); ok && v > 0 {
		colors = v
	}
	bpc := int64(8)
	if v, ok := object.IntValue(params.Get("BitsPerComponent")); ok && v > 0 {
		bpc = v
	}
	bytesPerPixel := int((colors*bpc + 7) / 8)
	rowLen := int((columns*colors*bpc + 7) / 8)
	if predictor == 2 {
		return applyTIFFPredictor(data, rowLen, bytesPerPixel)
	}
	if predictor < 10 {
		return nil, fmt.Errorf("unknown predictor %d", predictor)
	}
	// PNG predictors: each row is prefixed with its filter type byte.
	stride := rowLen + 1
	if len(data)%stride != 0 {
		return nil, errors.New("predictor: data length not a multiple of row size")
	}
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	row := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		ft := data[r*stride]
		copy(row, data[r*stride+1:(r+1)*stride])
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bytesPerPixel; i < rowLen; i++ {
				row[i] += row[i-bytesPerPixel]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				row[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				left := 0
				if i >= bytesPerPixel {
					left = int(row[i-bytesPerPixel])
				}
				row[i] += byte((left + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				var left, upLeft byte
				if i >= bytesPerPixel {
					left = row[i-bytesPerPixel]
					upLeft = prev[i-bytesPerPixel]
				}
				row[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("predictor: unknown PNG filter type %d", ft)
		}
		out = append(out, row...)
		copy(prev, row)
	}
	return out, nil
}

func applyTIFFPredictor(data []byte, rowLen, bytesPerPixel int) ([]byte, error) {
	if rowLen <= 0 || len(data)%rowLen != 0 {
		return nil, errors.New("predictor: data length not a multiple of row size")
	}
	out := append([]byte(nil), data...)
	for r := 0; r < len(out); r += rowLen {
		for i := bytesPerPixel; i < rowLen; i++ {
			out[r+i] += out[r+i-bytesPerPixel]
		}
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
