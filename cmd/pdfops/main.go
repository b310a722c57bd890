package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pdfops/compress"
	"pdfops/observability"
	"pdfops/ops"
	"pdfops/split"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]
	args := os.Args[2:]
	var err error
	switch cmd {
	case "split":
		err = runSplit(ctx, args)
	case "merge":
		err = runMerge(ctx, args)
	case "rotate":
		err = runRotate(ctx, args)
	case "compress":
		err = runCompress(ctx, args)
	case "repair":
		err = runRepair(ctx, args)
	case "images":
		err = runImages(ctx, args)
	case "text":
		err = runText(ctx, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfops %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: pdfops <command> [flags] <input...>

Commands:
  split     extract pages into new files
  merge     concatenate documents
  rotate    rotate pages
  compress  recompress images and streams
  repair    rebuild a damaged file
  images    export embedded images
  text      extract plain text
`)
}

func logger(verbose bool) observability.Logger {
	if verbose {
		return observability.NewTextLogger(os.Stderr)
	}
	return observability.NopLogger{}
}

func progressPrinter(quiet bool) func(ops.Event) {
	if quiet {
		return nil
	}
	return func(ev ops.Event) {
		fmt.Fprintf(os.Stderr, "\r%s %d/%d", ev.Step, ev.Done, ev.Total)
		if ev.Done == ev.Total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

func openOne(fs *flag.FlagSet, verbose bool) (*ops.Document, error) {
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one input file")
	}
	return ops.Open(fs.Arg(0), ops.Config{Log: logger(verbose)})
}

func runSplit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("split", flag.ExitOnError)
	rangeExpr := fs.String("pages", "", "page range, e.g. 1-3,7 (default all)")
	out := fs.String("out", "out.pdf", "output path (per-page mode appends -page-N)")
	single := fs.Bool("single", false, "write all selected pages into one file")
	verbose := fs.Bool("v", false, "verbose logging")
	quiet := fs.Bool("q", false, "suppress progress output")
	fs.Parse(args)
	doc, err := openOne(fs, *verbose)
	if err != nil {
		return err
	}
	mode := split.PerPage
	if *single {
		mode = split.SingleFile
	}
	paths, err := doc.Split(ctx, *rangeExpr, mode, *out, progressPrinter(*quiet))
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

func runMerge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	out := fs.String("out", "merged.pdf", "output path")
	verbose := fs.Bool("v", false, "verbose logging")
	quiet := fs.Bool("q", false, "suppress progress output")
	fs.Parse(args)
	if fs.NArg() < 2 {
		return fmt.Errorf("expected at least two input files")
	}
	docs := make([]*ops.Document, 0, fs.NArg())
	for _, path := range fs.Args() {
		doc, err := ops.Open(path, ops.Config{Log: logger(*verbose)})
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if err := ops.Merge(ctx, docs, *out, progressPrinter(*quiet)); err != nil {
		return err
	}
	fmt.Println(*out)
	return nil
}

func runRotate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rotate", flag.ExitOnError)
	rangeExpr := fs.String("pages", "", "page range (default all)")
	degrees := fs.Int("degrees", 90, "rotation in degrees: 90, 180 or 270")
	out := fs.String("out", "rotated.pdf", "output path")
	verbose := fs.Bool("v", false, "verbose logging")
	quiet := fs.Bool("q", false, "suppress progress output")
	fs.Parse(args)
	doc, err := openOne(fs, *verbose)
	if err != nil {
		return err
	}
	if err := doc.Rotate(ctx, *rangeExpr, *degrees, *out, progressPrinter(*quiet)); err != nil {
		return err
	}
	fmt.Println(*out)
	return nil
}

func runCompress(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compress", flag.ExitOnError)
	quality := fs.String("quality", "medium", "quality tier: low, medium or high")
	out := fs.String("out", "compressed.pdf", "output path")
	verbose := fs.Bool("v", false, "verbose logging")
	quiet := fs.Bool("q", false, "suppress progress output")
	fs.Parse(args)
	tier, err := compress.ParseTier(*quality)
	if err != nil {
		return err
	}
	doc, err := openOne(fs, *verbose)
	if err != nil {
		return err
	}
	stats, err := doc.Compress(ctx, tier, *out, progressPrinter(*quiet))
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d images recompressed, %d skipped, %d streams reflated, %d bytes saved\n",
		*out, stats.ImagesRecompressed, stats.ImagesSkipped, stats.StreamsRecompressed, stats.BytesSaved)
	return nil
}

func runRepair(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("repair", flag.ExitOnError)
	out := fs.String("out", "repaired.pdf", "output path")
	verbose := fs.Bool("v", false, "verbose logging")
	quiet := fs.Bool("q", false, "suppress progress output")
	fs.Parse(args)
	doc, err := openOne(fs, *verbose)
	if err != nil {
		return err
	}
	if err := doc.Repair(ctx, *out, progressPrinter(*quiet)); err != nil {
		return err
	}
	if doc.Repaired() {
		fmt.Fprintln(os.Stderr, "structure was rebuilt from an object scan")
	}
	fmt.Println(*out)
	return nil
}

func runImages(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("images", flag.ExitOnError)
	rangeExpr := fs.String("pages", "", "page range (default all)")
	dir := fs.String("dir", "images", "output directory")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Parse(args)
	doc, err := openOne(fs, *verbose)
	if err != nil {
		return err
	}
	paths, err := doc.ExportImages(ctx, *rangeExpr, *dir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

func runText(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("text", flag.ExitOnError)
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Parse(args)
	doc, err := openOne(fs, *verbose)
	if err != nil {
		return err
	}
	text, err := doc.ExportText(ctx)
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}
