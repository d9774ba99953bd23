// Package pdfverify combines PDF signature validation with page text
// search over a single in-memory document.
//
// ValidateAndExtract is the one-call entry point: it checks the
// embedded RSA PKCS#7 signature, extracts text for every page (or one
// selected page), and reports whether an expected string occurs. All
// traversals are bounded, and no input can make the call panic.
package pdfverify

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"pdfverify/extractor"
	"pdfverify/observability"
	"pdfverify/parser"
	"pdfverify/security"
)

// AllPages selects every page for extraction and search.
const AllPages = -1

// ErrorKind classifies failures crossing the package boundary.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindParse covers header, xref and object loading failures.
	KindParse
	// KindSignature covers structurally broken or absent signatures.
	// An intact signature that merely fails to verify is not an error.
	KindSignature
	// KindExtraction covers page tree and content stream failures,
	// including an out-of-range page selector.
	KindExtraction
)

func (k ErrorKind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindSignature:
		return "signature"
	case KindExtraction:
		return "extraction"
	default:
		return "none"
	}
}

// Error wraps a failure with its kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Options configures a validation run. The zero value uses defaults.
type Options struct {
	Limits   parser.Limits
	MaxPages int
	// Repair enables the slow full-scan xref reconstruction fallback.
	Repair bool
	Logger observability.Logger
}

// CombinedResult is the outcome of ValidateAndExtract.
type CombinedResult struct {
	// SignatureValid reports whether the embedded signature verifies.
	SignatureValid bool
	// SignatureErr explains an absent or structurally broken signature
	// (always a *Error with KindSignature). A signature that parsed but
	// failed to verify leaves it nil with SignatureValid=false.
	SignatureErr error
	// Found reports whether the expected text occurs. Always true when
	// no expected text was supplied.
	Found bool
	// PageIndex is the zero-based page the text was found on, or 0.
	PageIndex int
	PageCount int
	// PageText is the text of the matched page (the first examined page
	// when nothing matched).
	PageText string
	// TextHash fingerprints PageText; see extractor.TextHash.
	TextHash uint32
}

// VerifySignature checks the first embedded signature of the document.
func VerifySignature(pdf []byte, opts Options) (security.Result, error) {
	v := security.NewVerifier(security.Config{Logger: opts.Logger})
	res, err := v.Verify(pdf)
	if err != nil {
		return security.Result{}, &Error{Kind: KindSignature, Err: err}
	}
	return res, nil
}

// ExtractText parses the document and extracts every page's text.
func ExtractText(ctx context.Context, pdf []byte, opts Options) ([]extractor.PageText, error) {
	ext, err := newExtractor(ctx, pdf, opts)
	if err != nil {
		return nil, err
	}
	pages, err := ext.ExtractText(ctx)
	if err != nil {
		return nil, &Error{Kind: KindExtraction, Err: err}
	}
	return pages, nil
}

// ValidateAndExtract verifies the document signature and searches the
// extracted text for expectedText. pageFilter selects a single
// zero-based page, or AllPages.
//
// Every signature problem, structural or not, yields
// SignatureValid=false and extraction still runs: an absent or
// malformed signature is a normal boolean outcome, recorded in
// SignatureErr. Only parse and extraction failures return an error.
func ValidateAndExtract(ctx context.Context, pdf []byte, expectedText string, pageFilter int, opts Options) (CombinedResult, error) {
	var result CombinedResult
	sigRes, sigErr := VerifySignature(pdf, opts)
	if sigErr != nil {
		result.SignatureErr = sigErr
	} else {
		result.SignatureValid = sigRes.Valid
	}

	ext, err := newExtractor(ctx, pdf, opts)
	if err != nil {
		return CombinedResult{}, err
	}
	pages, err := ext.Pages(ctx)
	if err != nil {
		return CombinedResult{}, &Error{Kind: KindExtraction, Err: err}
	}
	result.PageCount = len(pages)

	scope := pages
	if pageFilter != AllPages {
		if pageFilter < 0 || pageFilter >= len(pages) {
			return CombinedResult{}, &Error{
				Kind: KindExtraction,
				Err:  fmt.Errorf("page %d out of range (document has %d)", pageFilter, len(pages)),
			}
		}
		scope = pages[pageFilter : pageFilter+1]
	}
	if len(scope) == 0 {
		// A zero-page document is a normal outcome: nothing to search,
		// empty text, zero hash.
		result.Found = expectedText == ""
		return result, nil
	}

	texts := make([]string, len(scope))
	for i, page := range scope {
		text, err := ext.ExtractPageText(ctx, page)
		if err != nil {
			return CombinedResult{}, &Error{Kind: KindExtraction, Err: err}
		}
		texts[i] = text
	}

	if expectedText == "" {
		// Nothing to search for: report the first page in scope.
		result.Found = true
		result.PageIndex = scope[0].Index
		result.PageText = texts[0]
		result.TextHash = extractor.TextHash(texts[0])
		return result, nil
	}

	for i, text := range texts {
		if strings.Contains(text, expectedText) {
			result.Found = true
			result.PageIndex = scope[i].Index
			result.PageText = text
			result.TextHash = extractor.TextHash(text)
			return result, nil
		}
	}
	result.Found = false
	result.PageIndex = 0
	result.PageText = texts[0]
	result.TextHash = extractor.TextHash(texts[0])
	return result, nil
}

func newExtractor(ctx context.Context, pdf []byte, opts Options) (*extractor.Extractor, error) {
	p := parser.NewDocumentParser(parser.Config{
		Limits: opts.Limits,
		Repair: opts.Repair,
		Logger: opts.Logger,
	})
	doc, err := p.Parse(ctx, bytes.NewReader(pdf))
	if err != nil {
		return nil, &Error{Kind: KindParse, Err: err}
	}
	ext, err := extractor.New(doc, extractor.Config{
		MaxPages: opts.MaxPages,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, &Error{Kind: KindParse, Err: err}
	}
	return ext, nil
}
