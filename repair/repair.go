// Package repair reconstructs a usable object store from a file whose
// cross-reference information is missing, truncated, or lying. It ignores
// the trailer and xref entirely and rebuilds object locations by linear
// scan.
package repair

import (
	"pdfops/filters"
	"pdfops/object"
	"pdfops/observability"
	"pdfops/pages"
	"pdfops/parser"
	"pdfops/recovery"
	"pdfops/scanner"
)

type Config struct {
	Scanner  scanner.Config
	Filters  *filters.Pipeline
	Recovery recovery.Strategy
	Log      observability.Logger
}

// Repair never fails; with zero valid objects it degrades to an empty
// document. Later definitions of the same object number supersede earlier
// ones, mirroring incremental-update semantics even without a valid xref
// chain.
func Repair(data []byte, cfg Config) *object.Store {
	if cfg.Log == nil {
		cfg.Log = observability.NopLogger{}
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.Default()
	}
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewLenient(cfg.Log)
	}

	entries := scanObjectHeaders(data)
	cfg.Log.Info("repair scan complete", observability.Int("objects", len(entries)))

	store := object.NewStore()
	store.SetOriginalLength(int64(len(data)))
	store.SetDecoder(cfg.Filters.DecodeStream)
	if len(entries) == 0 {
		store.SetTrailer(emptyCatalog(store))
		return store
	}

	loader := parser.LoaderFromOffsets(data, entries, parser.Config{
		Scanner:  cfg.Scanner,
		Filters:  cfg.Filters,
		Recovery: cfg.Recovery,
	})
	store.SetLoader(loader)

	store.SetTrailer(reconstructTrailer(store, cfg))
	flagUndecodablePages(store, cfg)
	return store
}

// scanObjectHeaders walks the raw bytes for "<int> <int> obj" markers.
// The returned map holds the last occurrence of each object number.
func scanObjectHeaders(data []byte) map[int]parser.Entry {
	entries := make(map[int]parser.Entry)
	for i := 0; i+3 <= len(data); i++ {
		if data[i] != 'o' || data[i+1] != 'b' || data[i+2] != 'j' {
			continue
		}
		if i+3 < len(data) && !isDelimiter(data[i+3]) {
			continue
		}
		num, gen, start, ok := backscanHeader(data, i)
		if !ok {
			continue
		}
		entries[num] = parser.Entry{Offset: int64(start), Gen: gen}
		i += 2
	}
	return entries
}

// backscanHeader walks backwards from the "obj" keyword at position kw over
// "<num> <gen> ", returning the header's starting offset.
func backscanHeader(data []byte, kw int) (num, gen, start int, ok bool) {
	i := kw - 1
	if i < 0 || !isSpace(data[i]) {
		return 0, 0, 0, false
	}
	for i >= 0 && isSpace(data[i]) {
		i--
	}
	genEnd := i
	for i >= 0 && isDigit(data[i]) {
		i--
	}
	if i == genEnd {
		return 0, 0, 0, false
	}
	genStart := i + 1
	if i < 0 || !isSpace(data[i]) {
		return 0, 0, 0, false
	}
	for i >= 0 && isSpace(data[i]) {
		i--
	}
	numEnd := i
	for i >= 0 && isDigit(data[i]) {
		i--
	}
	if i == numEnd {
		return 0, 0, 0, false
	}
	numStart := i + 1
	if i >= 0 && !isDelimiter(data[i]) {
		return 0, 0, 0, false
	}
	num = atoi(data[numStart : numEnd+1])
	gen = atoi(data[genStart : genEnd+1])
	return num, gen, numStart, true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func atoi(b []byte) int {
	v := 0
	for _, c := range b {
		v = v*10 + int(c-'0')
	}
	return v
}

// reconstructTrailer finds the document catalog among the recovered
// objects. When no /Type /Catalog dictionary survives, any dictionary
// carrying a /Pages entry stands in for it.
func reconstructTrailer(store *object.Store, cfg Config) object.Dict {
	var catalogID, pagesOwnerID object.ID
	var found, foundPagesOwner bool
	for _, id := range store.IDs() {
		obj, ok := store.Get(id)
		if !ok {
			continue
		}
		dict, ok := obj.(object.Dict)
		if !ok {
			continue
		}
		if t, ok := dict.Get("Type").(object.Name); ok && t == "Catalog" {
			catalogID = id
			found = true
			break
		}
		if !foundPagesOwner {
			if _, hasPages := dict["Pages"]; hasPages {
				pagesOwnerID = id
				foundPagesOwner = true
			}
		}
	}
	trailer := object.Dict{
		"Size": object.Integer(int64(store.MaxNum() + 1)),
	}
	switch {
	case found:
		trailer["Root"] = object.Ref(catalogID)
	case foundPagesOwner:
		cfg.Log.Warn("no catalog found, synthesizing trailer",
			observability.String("root", pagesOwnerID.String()))
		trailer["Root"] = object.Ref(pagesOwnerID)
	default:
		cfg.Log.Warn("no catalog or pages dictionary recovered, document degrades to zero pages")
		return emptyCatalog(store)
	}
	return trailer
}

// emptyCatalog installs a catalog with an empty page tree so the degraded
// document still resolves to zero pages instead of erroring on a missing
// Root.
func emptyCatalog(store *object.Store) object.Dict {
	pagesID := store.Allocate()
	store.Put(pagesID, object.Dict{
		"Type":  object.Name("Pages"),
		"Kids":  object.Array{},
		"Count": object.Integer(0),
	})
	catalogID := store.Allocate()
	store.Put(catalogID, object.Dict{
		"Type":  object.Name("Catalog"),
		"Pages": object.Ref(pagesID),
	})
	return object.Dict{
		"Size": object.Integer(int64(store.MaxNum() + 1)),
		"Root": object.Ref(catalogID),
	}
}

// flagUndecodablePages marks pages whose content streams fail to decode as
// non-recoverable. They stay in the page tree and count for page-range
// purposes; content-bearing transforms skip them.
func flagUndecodablePages(store *object.Store, cfg Config) {
	resolved, err := pages.Resolve(store)
	if err != nil {
		return
	}
	for _, page := range resolved {
		for _, contentID := range page.ContentIDs(store) {
			if _, err := store.GetDecoded(contentID); err != nil {
				store.MarkDamaged(page.ID)
				cfg.Log.Warn("page content undecodable, keeping page as placeholder",
					observability.String("page", page.ID.String()),
					observability.Error("err", err))
				break
			}
		}
	}
}

func isSpace(c byte) bool {
	switch c {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isSpace(c)
}
