package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"pdfverify"
	"pdfverify/config"
	"pdfverify/extractor"
	"pdfverify/host"
	"pdfverify/observability"
)

type options struct {
	pdfPath    string
	configPath string
	text       string
	page       int
	record     bool
	dumpText   bool
	verbose    bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfverify: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "pdfverify: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: pdfverify [flags] <pdf>\n")
		flag.PrintDefaults()
	}
	configPath := flag.String("config", "", "YAML limits configuration file")
	text := flag.String("text", "", "Expected text to search for")
	page := flag.Int("page", -1, "Restrict search to a zero-based page (-1 for all pages)")
	record := flag.Bool("record", false, "Print the raw eight-word result record")
	dumpText := flag.Bool("dump-text", false, "Print extracted text per page")
	verbose := flag.Bool("v", false, "Log parse and verification details to stderr")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing pdf path")
	}
	opts.pdfPath = flag.Arg(0)
	opts.configPath = *configPath
	opts.text = *text
	opts.page = *page
	opts.record = *record
	opts.dumpText = *dumpText
	opts.verbose = *verbose
	return opts, nil
}

func run(opts options) error {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	pdf, err := os.ReadFile(opts.pdfPath)
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}

	runOpts := pdfverify.Options{
		Limits:   cfg.ParserLimits(),
		MaxPages: cfg.Limits.MaxPages,
		Repair:   cfg.Repair,
	}
	if opts.verbose {
		h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		runOpts.Logger = observability.NewSlog(slog.New(h))
	}

	ctx := context.Background()

	if opts.dumpText {
		pages, err := pdfverify.ExtractText(ctx, pdf, runOpts)
		if err != nil {
			return err
		}
		for _, page := range pages {
			fmt.Printf("== page %d (hash %d) ==\n%s\n\n", page.Page, extractor.TextHash(page.Content), page.Content)
		}
		return nil
	}

	pageFilter := pdfverify.AllPages
	if opts.page >= 0 {
		pageFilter = opts.page
	}
	res, err := pdfverify.ValidateAndExtract(ctx, pdf, opts.text, pageFilter, runOpts)
	if err != nil {
		return err
	}

	if opts.record {
		selector := uint32(host.AllPagesSelector)
		if opts.page >= 0 {
			selector = uint32(opts.page)
		}
		input := frameInput(pdf, opts.text, selector)
		rec := host.Run(ctx, input, runOpts)
		fmt.Printf("%d %d %d %d %d %d %d %d\n",
			rec[0], rec[1], rec[2], rec[3], rec[4], rec[5], rec[6], rec[7])
		return nil
	}

	fmt.Printf("signature valid: %v\n", res.SignatureValid)
	if opts.text != "" {
		fmt.Printf("text found:      %v (page %d of %d)\n", res.Found, res.PageIndex, res.PageCount)
	} else {
		fmt.Printf("pages:           %d\n", res.PageCount)
	}
	fmt.Printf("text hash:       %d\n", res.TextHash)
	return nil
}

func frameInput(pdf []byte, text string, selector uint32) []byte {
	pad := func(b []byte) []byte {
		for len(b)%4 != 0 {
			b = append(b, 0)
		}
		return b
	}
	be := func(v uint32) []byte { return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)} }

	var out []byte
	out = append(out, be(uint32(len(pdf)))...)
	out = append(out, pad(append([]byte(nil), pdf...))...)
	out = append(out, be(uint32(len(text)))...)
	out = append(out, pad([]byte(text))...)
	out = append(out, be(selector)...)
	return out
}
