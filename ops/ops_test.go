package ops

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pdfops/parser"
	"pdfops/split"
)

// writePDF builds a classic-xref document with n pages and writes it to
// dir under name, returning the full path.
func writePDF(t *testing.T, dir, name string, n int) string {
	t.Helper()
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	var offsets []int
	offsets = append(offsets, buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	kids := make([]string, n)
	next := 3
	pageNums := make([]int, n)
	for i := 0; i < n; i++ {
		pageNums[i] = next
		kids[i] = fmt.Sprintf("%d 0 R", next)
		next += 2
	}
	offsets = append(offsets, buf.Len())
	fmt.Fprintf(buf, "2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] >>\nendobj\n",
		strings.Join(kids, " "), n)

	for i := 0; i < n; i++ {
		pageNum := pageNums[i]
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(buf, "%d 0 obj\n<< /Type /Page /Parent 2 0 R /Contents %d 0 R >>\nendobj\n", pageNum, pageNum+1)
		content := fmt.Sprintf("BT 72 700 Td (Page %d) Tj ET", i+1)
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(buf, "%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", pageNum+1, len(content), content)
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xrefOffset)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func mustParseFile(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	store, err := parser.Parse(data, parser.Config{})
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	doc := FromStore(store)
	count, err := doc.PageCount()
	if err != nil {
		t.Fatalf("page count of %s: %v", path, err)
	}
	return count
}

func TestOpenAndPageCount(t *testing.T) {
	dir := t.TempDir()
	path := writePDF(t, dir, "in.pdf", 3)
	doc, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if doc.Repaired() {
		t.Fatalf("healthy file must not trigger repair")
	}
	count, err := doc.PageCount()
	if err != nil || count != 3 {
		t.Fatalf("PageCount = %d, %v", count, err)
	}
}

func TestOpenFallsBackToRepair(t *testing.T) {
	dir := t.TempDir()
	path := writePDF(t, dir, "in.pdf", 2)
	data, _ := os.ReadFile(path)
	// destroy the startxref pointer
	broken := bytes.Replace(data, []byte("startxref"), []byte("xxxxxxxxx"), 1)
	if err := os.WriteFile(path, broken, 0o644); err != nil {
		t.Fatalf("rewrite fixture: %v", err)
	}

	doc, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("open should recover: %v", err)
	}
	if !doc.Repaired() {
		t.Fatalf("expected repair fallback")
	}
	count, err := doc.PageCount()
	if err != nil || count != 2 {
		t.Fatalf("PageCount after repair = %d, %v", count, err)
	}
}

func TestOpenStrictSurfacesParseError(t *testing.T) {
	dir := t.TempDir()
	path := writePDF(t, dir, "in.pdf", 1)
	data, _ := os.ReadFile(path)
	broken := bytes.Replace(data, []byte("startxref"), []byte("xxxxxxxxx"), 1)
	os.WriteFile(path, broken, 0o644)

	if _, err := Open(path, Config{Strict: true}); err == nil {
		t.Fatalf("strict open must fail on a broken xref")
	}
}

func TestRotateWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := writePDF(t, dir, "in.pdf", 1)
	doc, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	out := filepath.Join(dir, "rotated.pdf")
	if err := doc.Rotate(context.Background(), "", 90, out, nil); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if mustParseFile(t, out) != 1 {
		t.Fatalf("rotated output lost pages")
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, ".pdfops-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestSplitPerPageWritesNumberedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writePDF(t, dir, "in.pdf", 3)
	doc, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	out := filepath.Join(dir, "out.pdf")
	paths, err := doc.Split(context.Background(), "1,3", split.PerPage, out, nil)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := []string{
		filepath.Join(dir, "out-page-1.pdf"),
		filepath.Join(dir, "out-page-3.pdf"),
	}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for _, p := range paths {
		if mustParseFile(t, p) != 1 {
			t.Fatalf("%s does not hold exactly one page", p)
		}
	}
}

func TestSplitSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writePDF(t, dir, "in.pdf", 4)
	doc, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	out := filepath.Join(dir, "out.pdf")
	paths, err := doc.Split(context.Background(), "2-4", split.SingleFile, out, nil)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(paths) != 1 || paths[0] != out {
		t.Fatalf("paths = %v", paths)
	}
	if mustParseFile(t, out) != 3 {
		t.Fatalf("expected 3 pages in single-file output")
	}
}

func TestSplitGroupAtomicOnCancel(t *testing.T) {
	dir := t.TempDir()
	path := writePDF(t, dir, "in.pdf", 3)
	doc, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	out := filepath.Join(dir, "out.pdf")
	// cancel as soon as the first file lands; the second write must then
	// fail and take the first file with it
	_, err = doc.Split(ctx, "", split.PerPage, out, func(ev Event) {
		if ev.Done == 1 {
			cancel()
		}
	})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	files, _ := filepath.Glob(filepath.Join(dir, "out-page-*.pdf"))
	if len(files) != 0 {
		t.Fatalf("partial split output left behind: %v", files)
	}
}

func TestMergeConcurrentOpposingOrders(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(writePDF(t, dir, "a.pdf", 2), Config{})
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	b, err := Open(writePDF(t, dir, "b.pdf", 2), Config{})
	if err != nil {
		t.Fatalf("open b: %v", err)
	}

	done := make(chan error, 2)
	go func() {
		done <- Merge(context.Background(), []*Document{a, b}, filepath.Join(dir, "ab.pdf"), nil)
	}()
	go func() {
		done <- Merge(context.Background(), []*Document{b, a}, filepath.Join(dir, "ba.pdf"), nil)
	}()
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("merge: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("opposing-order merges deadlocked")
		}
	}
	if mustParseFile(t, filepath.Join(dir, "ab.pdf")) != 4 {
		t.Fatalf("ab.pdf page count wrong")
	}
	if mustParseFile(t, filepath.Join(dir, "ba.pdf")) != 4 {
		t.Fatalf("ba.pdf page count wrong")
	}
}

func TestMergeDocuments(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(writePDF(t, dir, "a.pdf", 2), Config{})
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	b, err := Open(writePDF(t, dir, "b.pdf", 3), Config{})
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	out := filepath.Join(dir, "merged.pdf")
	if err := Merge(context.Background(), []*Document{a, b}, out, nil); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if mustParseFile(t, out) != 5 {
		t.Fatalf("merged output page count wrong")
	}
}

func TestExportText(t *testing.T) {
	dir := t.TempDir()
	doc, err := Open(writePDF(t, dir, "in.pdf", 2), Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	text, err := doc.ExportText(context.Background())
	if err != nil {
		t.Fatalf("export text: %v", err)
	}
	if !strings.Contains(text, "Page 1") || !strings.Contains(text, "Page 2") {
		t.Fatalf("text missing page content: %q", text)
	}
	if !strings.Contains(text, "\f") {
		t.Fatalf("pages not separated by form feed")
	}
}

func TestJobStreamsEvents(t *testing.T) {
	job := Start(func(progress func(Event)) error {
		for i := 1; i <= 3; i++ {
			progress(Event{Step: "work", Done: i, Total: 3})
		}
		return nil
	})
	var seen int
	for range job.Events {
		seen++
	}
	if err := job.Wait(); err != nil {
		t.Fatalf("job failed: %v", err)
	}
	if seen != 3 {
		t.Fatalf("expected 3 events, got %d", seen)
	}
}

func TestEventFraction(t *testing.T) {
	ev := Event{Step: "x", Done: 1, Total: 4}
	if ev.Fraction() != 0.25 {
		t.Fatalf("Fraction = %v", ev.Fraction())
	}
	if (Event{}).Fraction() != 0 {
		t.Fatalf("zero total must not divide")
	}
}
