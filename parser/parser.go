// Package parser turns PDF bytes into lazily loaded raw objects.
//
// Parse resolves the cross-reference machinery and returns a Document
// whose objects are materialized on first access through the loader;
// nothing beyond the trailer and header is touched up front.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"pdfverify/filters"
	"pdfverify/ir/raw"
	"pdfverify/observability"
	"pdfverify/recovery"
	"pdfverify/xref"
)

// ErrEncrypted is returned for documents carrying an /Encrypt dictionary.
// Encrypted files are out of scope for this library.
var ErrEncrypted = errors.New("document is encrypted")

type Config struct {
	Limits          Limits
	MaxXRefSections int
	Repair          bool
	Recovery        recovery.Strategy
	Logger          observability.Logger
}

type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &DocumentParser{cfg: cfg}
}

// Document gives lazy access to the objects of a parsed PDF.
type Document struct {
	Version string
	Trailer raw.Dictionary

	table    xref.Table
	loader   ObjectLoader
	pipeline *filters.Pipeline
	maxDepth int
	logger   observability.Logger
}

func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*Document, error) {
	start := time.Now()
	version, err := detectHeaderVersion(r)
	if err != nil {
		return nil, err
	}

	resolver := xref.NewResolver(xref.ResolverConfig{
		MaxSections:         p.cfg.MaxXRefSections,
		Repair:              p.cfg.Repair,
		MaxDecompressedSize: p.cfg.Limits.MaxDecompressedSize,
		Recovery:            p.cfg.Recovery,
		Logger:              p.cfg.Logger,
	})
	table, err := resolver.Resolve(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}

	trailer := table.Trailer()
	if _, ok := raw.DictGet(trailer, "Encrypt"); ok {
		return nil, ErrEncrypted
	}

	loader, err := (&ObjectLoaderBuilder{}).
		WithReader(r).
		WithXRef(table).
		WithLimits(p.cfg.Limits).
		WithCache(&mapCache{}).
		WithRecovery(p.cfg.Recovery).
		Build()
	if err != nil {
		return nil, err
	}

	p.cfg.Logger.Debug("document parsed",
		observability.String("version", version),
		observability.Int(observability.MetricObjectCount, len(table.Objects())),
		observability.Int64(observability.MetricParseTime, time.Since(start).Microseconds()))

	return &Document{
		Version:  version,
		Trailer:  trailer,
		table:    table,
		loader:   loader,
		pipeline: filters.NewDefaultPipeline(filters.Limits{MaxDecompressedSize: p.cfg.Limits.MaxDecompressedSize}),
		maxDepth: p.cfg.Limits.MaxIndirectDepth,
		logger:   p.cfg.Logger,
	}, nil
}

// Object loads the indirect object behind ref.
func (d *Document) Object(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	return d.loader.Load(ctx, ref)
}

// Resolve follows reference chains until a non-reference object is
// reached, bounded by the configured indirect depth.
func (d *Document) Resolve(ctx context.Context, obj raw.Object) (raw.Object, error) {
	for depth := 0; ; depth++ {
		if depth > d.maxDepth {
			return nil, errors.New("reference chain too deep")
		}
		ref, ok := obj.(raw.RefObj)
		if !ok {
			return obj, nil
		}
		next, err := d.loader.LoadIndirect(ctx, ref.R, depth)
		if err != nil {
			return nil, err
		}
		obj = next
	}
}

// ResolveDict resolves obj and asserts it is a dictionary.
func (d *Document) ResolveDict(ctx context.Context, obj raw.Object) (raw.Dictionary, error) {
	res, err := d.Resolve(ctx, obj)
	if err != nil {
		return nil, err
	}
	switch v := res.(type) {
	case *raw.DictObj:
		return v, nil
	case *raw.StreamObj:
		return v.Dict, nil
	default:
		return nil, fmt.Errorf("expected dictionary, got %s", res.Type())
	}
}

// DecodedStream runs the stream's filter chain and returns the payload.
func (d *Document) DecodedStream(ctx context.Context, st *raw.StreamObj) ([]byte, error) {
	names, params := filtersForStream(st.Dict)
	if len(names) == 0 {
		return st.RawData(), nil
	}
	return d.pipeline.Decode(ctx, st.RawData(), names, params)
}

// Catalog resolves the document catalog from the trailer's /Root.
func (d *Document) Catalog(ctx context.Context) (raw.Dictionary, error) {
	rootObj, ok := raw.DictGet(d.Trailer, "Root")
	if !ok {
		return nil, errors.New("trailer missing Root")
	}
	return d.ResolveDict(ctx, rootObj)
}

// XRef exposes the merged cross-reference table.
func (d *Document) XRef() xref.Table { return d.table }

// detectHeaderVersion requires the %PDF- marker at byte 0 and returns
// the advertised version string.
func detectHeaderVersion(r io.ReaderAt) (string, error) {
	buf := make([]byte, 16)
	n, err := r.ReadAt(buf, 0)
	if n < 5 && err != nil {
		return "", fmt.Errorf("read header: %w", err)
	}
	buf = buf[:n]
	if len(buf) < 5 || string(buf[:5]) != "%PDF-" {
		return "", errors.New("missing %PDF- header")
	}
	end := 5
	for end < len(buf) && buf[end] != '\r' && buf[end] != '\n' && buf[end] != ' ' {
		end++
	}
	return string(buf[5:end]), nil
}

type mapCache struct {
	mu sync.RWMutex
	m  map[raw.ObjectRef]raw.Object
}

func (c *mapCache) Get(ref raw.ObjectRef) (raw.Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.m[ref]
	return obj, ok
}

func (c *mapCache) Put(ref raw.ObjectRef, obj raw.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[raw.ObjectRef]raw.Object)
	}
	c.m[ref] = obj
}
