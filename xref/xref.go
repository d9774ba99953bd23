package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"pdfverify/filters"
	"pdfverify/ir/raw"
	"pdfverify/observability"
	"pdfverify/recovery"
	"pdfverify/scanner"
)

// Table holds object locations merged across every revision of the file.
type Table interface {
	// Lookup returns the byte offset of an uncompressed object.
	Lookup(objNum int) (offset int64, gen int, found bool)
	// ObjStream locates an object stored inside an object stream.
	ObjStream(objNum int) (container int, idx int, ok bool)
	Trailer() raw.Dictionary
	Objects() []int
	Type() string
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt) (Table, error)
}

type ResolverConfig struct {
	// MaxSections bounds the /Prev chain walk across incremental updates.
	MaxSections int
	// Repair enables the full-file reconstruction scan when the xref
	// machinery fails. Considerably slower; off by default.
	Repair              bool
	MaxDecompressedSize int64
	Recovery            recovery.Strategy
	Logger              observability.Logger
}

const defaultMaxSections = 64

func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxSections <= 0 {
		cfg.MaxSections = defaultMaxSections
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &resolver{cfg: cfg}
}

type resolver struct {
	cfg ResolverConfig
}

type entry struct {
	offset int64
	gen    int
}

type streamEntry struct {
	container int
	idx       int
}

type table struct {
	entries  map[int]entry
	inStream map[int]streamEntry
	trailer  raw.Dictionary
	kind     string
}

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok {
		return 0, 0, false
	}
	return e.offset, e.gen, true
}

func (t *table) ObjStream(objNum int) (int, int, bool) {
	e, ok := t.inStream[objNum]
	if !ok {
		return 0, 0, false
	}
	return e.container, e.idx, true
}

func (t *table) Trailer() raw.Dictionary { return t.trailer }

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries)+len(t.inStream))
	for k := range t.entries {
		out = append(out, k)
	}
	for k := range t.inStream {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func (t *table) Type() string { return t.kind }

func (r *resolver) Resolve(ctx context.Context, rd io.ReaderAt) (Table, error) {
	data := readAll(rd)

	tab, err := r.resolveFromStartXRef(ctx, data)
	if err == nil {
		return tab, nil
	}
	if !r.cfg.Repair {
		return nil, err
	}
	r.cfg.Logger.Warn("xref resolution failed, running repair scan", observability.Error("cause", err))
	return repair(ctx, data)
}

func (r *resolver) resolveFromStartXRef(ctx context.Context, data []byte) (Table, error) {
	offset, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}

	merged := &table{
		entries:  make(map[int]entry),
		inStream: make(map[int]streamEntry),
		kind:     "table",
	}
	// Sections are walked newest-first; an object claimed by a newer
	// revision (including one freed by it) is never overwritten by an
	// older one.
	seen := make(map[int]bool)
	visited := make(map[int64]bool)

	for sections := 0; ; sections++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if sections >= r.cfg.MaxSections {
			return nil, fmt.Errorf("xref chain exceeds %d sections", r.cfg.MaxSections)
		}
		if offset < 0 || offset >= int64(len(data)) {
			return nil, fmt.Errorf("xref offset out of range: %d", offset)
		}
		if visited[offset] {
			return nil, errors.New("xref chain contains a cycle")
		}
		visited[offset] = true

		trailer, err := r.parseSection(ctx, data, offset, merged, seen)
		if err != nil {
			return nil, err
		}
		if merged.trailer == nil {
			merged.trailer = trailer
		}
		prev, ok := raw.DictGet(trailer, "Prev")
		if !ok {
			break
		}
		num, ok := prev.(raw.NumberObj)
		if !ok || !num.IsInteger() {
			return nil, errors.New("trailer Prev is not an integer")
		}
		offset = num.Int()
	}

	if merged.trailer == nil {
		return nil, errors.New("no trailer found")
	}
	if _, ok := raw.DictGet(merged.trailer, "Root"); !ok {
		return nil, errors.New("trailer missing Root")
	}
	return merged, nil
}

// parseSection dispatches between a classic table and an xref stream by
// looking at what sits at the offset.
func (r *resolver) parseSection(ctx context.Context, data []byte, offset int64, merged *table, seen map[int]bool) (raw.Dictionary, error) {
	s := r.newScanner(data)
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tok, err := s.Next()
	if err != nil {
		return nil, fmt.Errorf("read xref section: %w", err)
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		return r.parseClassicSection(s, merged, seen)
	}
	if tok.Type == scanner.TokenNumber && tok.IsInt {
		merged.kind = "stream"
		return r.parseStreamSection(ctx, s, tok, merged, seen)
	}
	return nil, fmt.Errorf("no xref section at offset %d", offset)
}

func (r *resolver) parseClassicSection(s scanner.Scanner, merged *table, seen map[int]bool) (raw.Dictionary, error) {
	tr := &tokenReader{s: s}
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, fmt.Errorf("read xref subsection: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := parseObject(tr)
			if err != nil {
				return nil, fmt.Errorf("parse trailer: %w", err)
			}
			dict, ok := obj.(*raw.DictObj)
			if !ok {
				return nil, errors.New("trailer is not a dictionary")
			}
			return dict, nil
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, errors.New("invalid xref subsection header")
		}
		start := int(tok.Int)
		tok, err = tr.next()
		if err != nil {
			return nil, fmt.Errorf("read xref subsection count: %w", err)
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt || tok.Int < 0 {
			return nil, errors.New("invalid xref subsection count")
		}
		count := int(tok.Int)
		for i := 0; i < count; i++ {
			offTok, err := tr.next()
			if err != nil {
				return nil, fmt.Errorf("read xref entry: %w", err)
			}
			genTok, err := tr.next()
			if err != nil {
				return nil, fmt.Errorf("read xref entry: %w", err)
			}
			kindTok, err := tr.next()
			if err != nil {
				return nil, fmt.Errorf("read xref entry: %w", err)
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber || kindTok.Type != scanner.TokenKeyword {
				return nil, errors.New("malformed xref entry")
			}
			objNum := start + i
			if seen[objNum] {
				continue
			}
			seen[objNum] = true
			if kindTok.Str == "n" {
				merged.entries[objNum] = entry{offset: offTok.Int, gen: int(genTok.Int)}
			}
			// 'f' marks the object free in this revision; the seen mark
			// keeps older revisions from resurrecting it.
		}
	}
}

func (r *resolver) parseStreamSection(ctx context.Context, s scanner.Scanner, first scanner.Token, merged *table, seen map[int]bool) (raw.Dictionary, error) {
	tr := &tokenReader{s: s}
	genTok, err := tr.next()
	if err != nil {
		return nil, err
	}
	objTok, err := tr.next()
	if err != nil {
		return nil, err
	}
	if genTok.Type != scanner.TokenNumber || objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return nil, errors.New("xref stream object header malformed")
	}
	obj, err := parseObject(tr)
	if err != nil {
		return nil, fmt.Errorf("parse xref stream dict: %w", err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, errors.New("xref stream has no dictionary")
	}
	if raw.DictName(dict, "Type") != "XRef" {
		return nil, errors.New("stream at xref offset is not an XRef stream")
	}
	// /Length of an xref stream must be direct: there is no table to
	// resolve a reference against yet.
	length, ok := raw.DictGet(dict, "Length")
	if !ok {
		return nil, errors.New("xref stream missing Length")
	}
	num, ok := length.(raw.NumberObj)
	if !ok {
		return nil, errors.New("xref stream Length must be a direct integer")
	}
	s.SetNextStreamLength(num.Int())
	streamTok, err := tr.next()
	if err != nil {
		return nil, fmt.Errorf("read xref stream data: %w", err)
	}
	if streamTok.Type != scanner.TokenStream {
		return nil, errors.New("xref stream payload missing")
	}

	payload := streamTok.Bytes
	names, params := filtersForStream(dict)
	if len(names) > 0 {
		p := filters.NewDefaultPipeline(filters.Limits{MaxDecompressedSize: r.cfg.MaxDecompressedSize})
		payload, err = p.Decode(ctx, payload, names, params)
		if err != nil {
			return nil, fmt.Errorf("decode xref stream: %w", err)
		}
	}

	widths, err := fieldWidths(dict)
	if err != nil {
		return nil, err
	}
	index, err := indexRanges(dict)
	if err != nil {
		return nil, err
	}

	rowLen := widths[0] + widths[1] + widths[2]
	if rowLen <= 0 {
		return nil, errors.New("xref stream W sums to zero")
	}
	pos := 0
	for _, rng := range index {
		for i := 0; i < rng.count; i++ {
			if pos+rowLen > len(payload) {
				return nil, errors.New("xref stream data truncated")
			}
			row := payload[pos : pos+rowLen]
			pos += rowLen

			typ := int64(1) // w1 == 0 defaults the type to 1
			if widths[0] > 0 {
				typ = beInt(row[:widths[0]])
			}
			f2 := beInt(row[widths[0] : widths[0]+widths[1]])
			f3 := beInt(row[widths[0]+widths[1]:])

			objNum := rng.start + i
			if seen[objNum] {
				continue
			}
			seen[objNum] = true
			switch typ {
			case 0:
				// free
			case 1:
				merged.entries[objNum] = entry{offset: f2, gen: int(f3)}
			case 2:
				merged.inStream[objNum] = streamEntry{container: int(f2), idx: int(f3)}
			default:
				// Unknown entry types are reserved; treat as free per spec.
			}
		}
	}
	return dict, nil
}

type indexRange struct {
	start int
	count int
}

func fieldWidths(dict *raw.DictObj) ([3]int, error) {
	var widths [3]int
	wObj, ok := raw.DictGet(dict, "W")
	if !ok {
		return widths, errors.New("xref stream missing W")
	}
	arr, ok := wObj.(*raw.ArrayObj)
	if !ok || arr.Len() != 3 {
		return widths, errors.New("xref stream W must be a 3-element array")
	}
	for i := 0; i < 3; i++ {
		item, _ := arr.Get(i)
		num, ok := item.(raw.NumberObj)
		if !ok || !num.IsInteger() || num.Int() < 0 || num.Int() > 8 {
			return widths, errors.New("xref stream W field width invalid")
		}
		widths[i] = int(num.Int())
	}
	return widths, nil
}

func indexRanges(dict *raw.DictObj) ([]indexRange, error) {
	if idxObj, ok := raw.DictGet(dict, "Index"); ok {
		arr, ok := idxObj.(*raw.ArrayObj)
		if !ok || arr.Len()%2 != 0 {
			return nil, errors.New("xref stream Index malformed")
		}
		out := make([]indexRange, 0, arr.Len()/2)
		for i := 0; i < arr.Len(); i += 2 {
			a, _ := arr.Get(i)
			b, _ := arr.Get(i + 1)
			an, aok := a.(raw.NumberObj)
			bn, bok := b.(raw.NumberObj)
			if !aok || !bok {
				return nil, errors.New("xref stream Index malformed")
			}
			out = append(out, indexRange{start: int(an.Int()), count: int(bn.Int())})
		}
		return out, nil
	}
	size := raw.DictInt(dict, "Size", 0)
	if size <= 0 {
		return nil, errors.New("xref stream missing Size")
	}
	return []indexRange{{start: 0, count: int(size)}}, nil
}

func beInt(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// findStartXRef scans backwards from EOF for the startxref keyword and
// parses the decimal offset on the following line.
func findStartXRef(data []byte) (int64, error) {
	const tailWindow = 2048
	from := 0
	if len(data) > tailWindow {
		from = len(data) - tailWindow
	}
	idx := bytes.LastIndex(data[from:], []byte("startxref"))
	if idx < 0 {
		// Fall back to the whole file for producers that append junk.
		idx = bytes.LastIndex(data, []byte("startxref"))
		if idx < 0 {
			return 0, errors.New("startxref not found")
		}
		from = 0
	}
	rest := data[from+idx+len("startxref"):]
	i := 0
	for i < len(rest) && (rest[i] == '\r' || rest[i] == '\n' || rest[i] == ' ') {
		i++
	}
	j := i
	for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
		j++
	}
	if j == i {
		return 0, errors.New("startxref offset missing")
	}
	off, err := strconv.ParseInt(string(rest[i:j]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	return off, nil
}

func (r *resolver) newScanner(data []byte) scanner.Scanner {
	return scanner.New(bytes.NewReader(data), scanner.Config{Recovery: r.cfg.Recovery})
}

func filtersForStream(d *raw.DictObj) ([]string, []raw.Dictionary) {
	fObj, ok := raw.DictGet(d, "Filter")
	if !ok {
		return nil, nil
	}
	var names []string
	switch v := fObj.(type) {
	case raw.NameObj:
		names = []string{v.Val}
	case *raw.ArrayObj:
		for _, it := range v.Items {
			if n, ok := it.(raw.NameObj); ok {
				names = append(names, n.Val)
			}
		}
	}
	var params []raw.Dictionary
	if dp, ok := raw.DictGet(d, "DecodeParms"); ok {
		switch p := dp.(type) {
		case *raw.DictObj:
			params = append(params, p)
		case *raw.ArrayObj:
			for _, it := range p.Items {
				if dd, ok := it.(*raw.DictObj); ok {
					params = append(params, dd)
				} else {
					params = append(params, nil)
				}
			}
		}
	}
	return names, params
}

func readAll(r io.ReaderAt) []byte {
	var buf bytes.Buffer
	const chunk = int64(32 * 1024)
	for off := int64(0); ; off += chunk {
		tmp := make([]byte, chunk)
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil {
			break
		}
		if int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}
