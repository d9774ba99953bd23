package extractor

import (
	"context"
	"errors"
	"fmt"

	"pdfverify/ir/raw"
	"pdfverify/observability"
	"pdfverify/parser"
)

type Config struct {
	MaxPages      int
	MaxTextLength int
	MaxFormDepth  int
	Logger        observability.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxPages:      10000,
		MaxTextLength: 16 << 20,
		MaxFormDepth:  8,
	}
}

// Extractor walks the page tree and pulls text out of content streams.
type Extractor struct {
	doc *parser.Document
	cfg Config
}

func New(doc *parser.Document, cfg Config) (*Extractor, error) {
	if doc == nil {
		return nil, errors.New("nil document")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultConfig().MaxPages
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultConfig().MaxTextLength
	}
	if cfg.MaxFormDepth <= 0 {
		cfg.MaxFormDepth = DefaultConfig().MaxFormDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &Extractor{doc: doc, cfg: cfg}, nil
}

// Page is a leaf of the page tree with its inherited attributes applied.
type Page struct {
	Index     int
	Dict      raw.Dictionary
	Resources raw.Dictionary
}

// Pages flattens the page tree in document order. A visited set
// rejects malformed trees whose /Kids cycle back.
func (e *Extractor) Pages(ctx context.Context) ([]Page, error) {
	catalog, err := e.doc.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	rootObj, ok := raw.DictGet(catalog, "Pages")
	if !ok {
		return nil, errors.New("catalog missing Pages")
	}

	var pages []Page
	visited := make(map[raw.ObjectRef]bool)
	if err := e.walk(ctx, rootObj, nil, visited, 0, &pages); err != nil {
		return nil, err
	}
	e.cfg.Logger.Debug("page tree walked", observability.Int(observability.MetricPageCount, len(pages)))
	return pages, nil
}

func (e *Extractor) walk(ctx context.Context, node raw.Object, inheritedRes raw.Dictionary, visited map[raw.ObjectRef]bool, depth int, out *[]Page) error {
	if depth > 64 {
		return errors.New("page tree too deep")
	}
	if ref, ok := node.(raw.RefObj); ok {
		if visited[ref.R] {
			return fmt.Errorf("page tree cycle at %d %d R", ref.R.Num, ref.R.Gen)
		}
		visited[ref.R] = true
	}
	dict, err := e.doc.ResolveDict(ctx, node)
	if err != nil {
		return fmt.Errorf("resolve page tree node: %w", err)
	}

	res := inheritedRes
	if resObj, ok := raw.DictGet(dict, "Resources"); ok {
		if r, err := e.doc.ResolveDict(ctx, resObj); err == nil {
			res = r
		}
	}

	switch raw.DictName(dict, "Type") {
	case "Page":
		if len(*out) >= e.cfg.MaxPages {
			return fmt.Errorf("page count exceeds limit %d", e.cfg.MaxPages)
		}
		*out = append(*out, Page{Index: len(*out), Dict: dict, Resources: res})
		return nil
	case "Pages", "":
		kidsObj, ok := raw.DictGet(dict, "Kids")
		if !ok {
			// A node that is neither a Page nor has Kids contributes nothing.
			return nil
		}
		kidsRes, err := e.doc.Resolve(ctx, kidsObj)
		if err != nil {
			return err
		}
		kids, ok := kidsRes.(*raw.ArrayObj)
		if !ok {
			return errors.New("Kids is not an array")
		}
		for _, kid := range kids.Items {
			if err := e.walk(ctx, kid, res, visited, depth+1, out); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}
