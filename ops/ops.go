// Package ops is the operation layer: it owns file I/O, ties every
// operation to a context for cancellation, reports progress, and
// guarantees that output files appear atomically or not at all.
package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"pdfops/compress"
	"pdfops/extract"
	"pdfops/object"
	"pdfops/observability"
	"pdfops/pages"
	"pdfops/parser"
	"pdfops/render"
	"pdfops/repair"
	"pdfops/split"
)

// Event reports operation progress.
type Event struct {
	Step  string
	Done  int
	Total int
}

func (e Event) Fraction() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Done) / float64(e.Total)
}

// Config controls how documents are opened.
type Config struct {
	Log observability.Logger
	// Strict disables the automatic repair fallback when parsing fails.
	Strict bool
}

// Document wraps a parsed store. A mutex makes each document single
// owner: operations on the same document serialize, operations on
// different documents run freely in parallel.
type Document struct {
	seq      uint64 // creation order, the canonical multi-document lock order
	mu       sync.Mutex
	store    *object.Store
	path     string
	repaired bool
}

var docSeq atomic.Uint64

// Open reads and parses path. When parsing fails and strict mode is off,
// the file goes through structural repair once before the error surfaces.
func Open(path string, cfg Config) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if cfg.Log == nil {
		cfg.Log = observability.NopLogger{}
	}
	store, err := parser.Parse(data, parser.Config{})
	repaired := false
	if err != nil {
		if cfg.Strict {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.Log.Warn("parse failed, attempting structural repair",
			observability.String("path", path), observability.Error("err", err))
		store = repair.Repair(data, repair.Config{Log: cfg.Log})
		repaired = true
	}
	return &Document{seq: docSeq.Add(1), store: store, path: path, repaired: repaired}, nil
}

// FromStore wraps an in-memory store, for callers that built one
// themselves.
func FromStore(store *object.Store) *Document {
	return &Document{seq: docSeq.Add(1), store: store}
}

// Repaired reports whether opening fell back to structural repair.
func (d *Document) Repaired() bool { return d.repaired }

// PageCount returns the number of reachable pages.
func (d *Document) PageCount() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return pages.Count(d.store)
}

// Rotate turns the selected pages by degrees (90, 180 or 270) and writes
// the result to outPath.
func (d *Document) Rotate(ctx context.Context, rangeExpr string, degrees int, outPath string, progress func(Event)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	emit(progress, Event{Step: "rotate", Done: 0, Total: 2})
	set, err := d.parseRange(rangeExpr)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pages.Rotate(d.store, set, degrees); err != nil {
		return err
	}
	emit(progress, Event{Step: "rotate", Done: 1, Total: 2})
	if err := writeAtomic(outPath, d.store); err != nil {
		return err
	}
	emit(progress, Event{Step: "rotate", Done: 2, Total: 2})
	return nil
}

// Compress rewrites the document at the given quality tier and writes it
// to outPath, returning what the pass changed.
func (d *Document) Compress(ctx context.Context, tier compress.Tier, outPath string, progress func(Event)) (compress.Stats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats, err := compress.Compress(ctx, d.store, compress.Config{
		Tier: tier,
		Progress: func(done, total int) {
			emit(progress, Event{Step: "compress", Done: done, Total: total + 1})
		},
	})
	if err != nil {
		return stats, err
	}
	if err := writeAtomic(outPath, d.store); err != nil {
		return stats, err
	}
	emit(progress, Event{Step: "compress", Done: 1, Total: 1})
	return stats, nil
}

// Repair rewrites the document from whatever structure survived parsing
// or recovery. Opening already ran the repair scan when needed, so this
// just normalizes the file into a clean single-revision form.
func (d *Document) Repair(ctx context.Context, outPath string, progress func(Event)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	emit(progress, Event{Step: "repair", Done: 0, Total: 1})
	if err := writeAtomic(outPath, d.store); err != nil {
		return err
	}
	emit(progress, Event{Step: "repair", Done: 1, Total: 1})
	return nil
}

// Split extracts the selected pages. In per-page mode it writes one file
// per page named <out>-page-N.pdf; in single-file mode it writes outPath.
// Output is group atomic: if any file fails, files already written by
// this call are removed.
func (d *Document) Split(ctx context.Context, rangeExpr string, mode split.Mode, outPath string, progress func(Event)) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, err := d.parseRange(rangeExpr)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stores, err := split.Split(d.store, set, mode)
	if err != nil {
		return nil, err
	}
	var written []string
	cleanup := func() {
		for _, p := range written {
			os.Remove(p)
		}
	}
	for i, st := range stores {
		if err := ctx.Err(); err != nil {
			cleanup()
			return nil, err
		}
		path := outPath
		if mode == split.PerPage {
			path = numberedPath(outPath, set[i])
		}
		if err := writeAtomic(path, st); err != nil {
			cleanup()
			return nil, err
		}
		written = append(written, path)
		emit(progress, Event{Step: "split", Done: i + 1, Total: len(stores)})
	}
	return written, nil
}

// Merge concatenates the documents in order and writes the result to
// outPath. Every document's lock is held for the duration; locks are
// taken in creation order so overlapping concurrent merges cannot
// deadlock.
func Merge(ctx context.Context, docs []*Document, outPath string, progress func(Event)) error {
	unique := make([]*Document, 0, len(docs))
	seen := make(map[*Document]bool, len(docs))
	for _, doc := range docs {
		if !seen[doc] {
			seen[doc] = true
			unique = append(unique, doc)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].seq < unique[j].seq })
	for _, doc := range unique {
		doc.mu.Lock()
		defer doc.mu.Unlock()
	}
	stores := make([]*object.Store, 0, len(docs))
	for _, doc := range docs {
		stores = append(stores, doc.store)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	emit(progress, Event{Step: "merge", Done: 0, Total: 2})
	merged, err := split.Merge(stores)
	if err != nil {
		return err
	}
	emit(progress, Event{Step: "merge", Done: 1, Total: 2})
	if err := writeAtomic(outPath, merged); err != nil {
		return err
	}
	emit(progress, Event{Step: "merge", Done: 2, Total: 2})
	return nil
}

// ExportImages writes the embedded images of the selected pages into dir
// and returns the written paths.
func (d *Document) ExportImages(ctx context.Context, rangeExpr, dir string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, err := d.parseRange(rangeExpr)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return render.ExportEmbedded(ctx, d.store, set, dir)
}

// RenderPages rasterizes the selected pages into dir using the
// configured rasterizer.
func (d *Document) RenderPages(ctx context.Context, rangeExpr, dir string, cfg render.Config) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, err := d.parseRange(rangeExpr)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return render.ExportPages(ctx, d.store, set, dir, cfg)
}

// ExportText extracts plain text from every page, one block per page
// separated by form feeds.
func (d *Document) ExportText(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pageTexts, err := extract.Document(d.store)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, pt := range pageTexts {
		if i > 0 {
			b.WriteString("\f")
		}
		b.WriteString(pt.Text())
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (d *Document) parseRange(expr string) (pages.RangeSet, error) {
	count, err := pages.Count(d.store)
	if err != nil {
		return nil, err
	}
	return pages.ParseRange(expr, count)
}

func emit(progress func(Event), ev Event) {
	if progress != nil {
		progress(ev)
	}
}

// numberedPath turns out.pdf into out-page-7.pdf.
func numberedPath(outPath string, page int) string {
	ext := filepath.Ext(outPath)
	base := strings.TrimSuffix(outPath, ext)
	if ext == "" {
		ext = ".pdf"
	}
	return fmt.Sprintf("%s-page-%d%s", base, page, ext)
}
