// Package compress re-encodes content and image streams under a quality
// policy. Page count, page order, and text content are never altered; only
// image sample data and stream encodings change.
package compress

import (
	"context"
	"errors"

	"pdfops/filters"
	"pdfops/object"
	"pdfops/observability"
	"pdfops/pages"
)

type Tier int

const (
	Low Tier = iota
	Medium
	High
)

func (t Tier) String() string {
	switch t {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// ParseTier maps the CLI quality names onto tiers.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	}
	return Medium, errors.New("quality must be low, medium or high")
}

// jpegQuality and maxDimension are the tier policy. The exact numbers are a
// tunable; what matters is that lower tiers never produce larger output
// than higher ones.
func (t Tier) jpegQuality() int {
	switch t {
	case Low:
		return 35
	case High:
		return 80
	default:
		return 60
	}
}

func (t Tier) maxDimension() int {
	switch t {
	case Low:
		return 1200
	case Medium:
		return 2000
	default:
		return 0 // high keeps original resolution
	}
}

type Config struct {
	Tier Tier
	// MinSavings skips image recompression when fewer bytes than this
	// would be saved, avoiding quality loss with no size benefit.
	MinSavings int
	Filters    *filters.Pipeline
	Log        observability.Logger
	// Progress, when set, is called after each page.
	Progress func(done, total int)
}

type Stats struct {
	ImagesRecompressed  int
	ImagesSkipped       int
	StreamsRecompressed int
	BytesSaved          int64
}

const defaultMinSavings = 2048

// Compress mutates store in place: pass one recompresses image XObjects at
// the tier's lossy quality, pass two re-runs the lossless filter on content
// streams at maximum level regardless of tier. Pages flagged as damaged are
// skipped entirely; streams with unknown filters pass through unmodified.
func Compress(ctx context.Context, store *object.Store, cfg Config) (Stats, error) {
	if cfg.Log == nil {
		cfg.Log = observability.NopLogger{}
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.Default()
	}
	if cfg.MinSavings == 0 {
		cfg.MinSavings = defaultMinSavings
	}
	var stats Stats
	resolved, err := pages.Resolve(store)
	if err != nil {
		return stats, err
	}
	seenImages := make(map[object.ID]bool)
	for i, page := range resolved {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if store.IsDamaged(page.ID) {
			cfg.Log.Debug("skipping damaged page", observability.Int("page", i+1))
			continue
		}
		for _, imgID := range collectImageIDs(store, page.Resources) {
			if seenImages[imgID] {
				continue
			}
			seenImages[imgID] = true
			recompressImage(store, imgID, cfg, &stats)
		}
		for _, contentID := range page.ContentIDs(store) {
			recompressContent(store, contentID, cfg, &stats)
		}
		if cfg.Progress != nil {
			cfg.Progress(i+1, len(resolved))
		}
	}
	return stats, nil
}

// recompressContent replaces a content stream's encoding with flate at the
// maximum level. Lossless, so it applies on every tier.
func recompressContent(store *object.Store, id object.ID, cfg Config, stats *Stats) {
	obj, ok := store.Get(id)
	if !ok {
		return
	}
	stream, ok := obj.(*object.Stream)
	if !ok {
		return
	}
	decoded, err := store.GetDecoded(id)
	if err != nil {
		var unsupported *filters.UnsupportedFilterError
		if errors.As(err, &unsupported) {
			cfg.Log.Debug("leaving stream with unknown filter untouched",
				observability.String("object", id.String()),
				observability.String("filter", unsupported.Filter))
			return
		}
		cfg.Log.Warn("content stream decode failed",
			observability.String("object", id.String()),
			observability.Error("err", err))
		return
	}
	encoded, err := filters.FlateEncode(decoded, 9)
	if err != nil {
		return
	}
	stats.BytesSaved += int64(len(stream.Raw) - len(encoded))
	stats.StreamsRecompressed++
	replaceStreamPayload(store, id, stream, encoded, object.Name("FlateDecode"))
}

func replaceStreamPayload(store *object.Store, id object.ID, stream *object.Stream, payload []byte, filter object.Object) {
	dict := stream.Dict.Clone()
	dict["Filter"] = filter
	dict["Length"] = object.Integer(int64(len(payload)))
	delete(dict, "DecodeParms")
	delete(dict, "F")
	delete(dict, "FDecodeParms")
	store.Put(id, &object.Stream{Dict: dict, Raw: payload})
}
