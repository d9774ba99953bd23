package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"pdfverify/ir/raw"
	"pdfverify/scanner"
)

// PageText is the extracted text of one page.
type PageText struct {
	Page    int
	Content string
}

// ExtractText extracts text for every page in document order.
func (e *Extractor) ExtractText(ctx context.Context) ([]PageText, error) {
	pages, err := e.Pages(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PageText, 0, len(pages))
	for _, page := range pages {
		text, err := e.ExtractPageText(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page.Index, err)
		}
		out = append(out, PageText{Page: page.Index, Content: text})
	}
	return out, nil
}

// ExtractPageText concatenates the page's content streams, separated by
// a single space, and runs the text operator machine over the result.
func (e *Extractor) ExtractPageText(ctx context.Context, page Page) (string, error) {
	streams, err := e.collectContentStreams(ctx, page.Dict)
	if err != nil {
		return "", err
	}
	var content bytes.Buffer
	for i, st := range streams {
		data, err := e.doc.DecodedStream(ctx, st)
		if err != nil {
			return "", fmt.Errorf("decode content stream: %w", err)
		}
		if i > 0 {
			content.WriteByte(' ')
		}
		content.Write(data)
	}

	st := &textState{extractor: e, resources: page.Resources}
	if err := st.run(ctx, content.Bytes(), 0); err != nil {
		return "", err
	}
	return strings.TrimRight(st.out.String(), " \n"), nil
}

func (e *Extractor) collectContentStreams(ctx context.Context, page raw.Dictionary) ([]*raw.StreamObj, error) {
	contentsObj, ok := raw.DictGet(page, "Contents")
	if !ok {
		return nil, nil
	}
	resolved, err := e.doc.Resolve(ctx, contentsObj)
	if err != nil {
		return nil, err
	}
	switch v := resolved.(type) {
	case *raw.StreamObj:
		return []*raw.StreamObj{v}, nil
	case *raw.ArrayObj:
		var out []*raw.StreamObj
		for _, item := range v.Items {
			r, err := e.doc.Resolve(ctx, item)
			if err != nil {
				return nil, err
			}
			if st, ok := r.(*raw.StreamObj); ok {
				out = append(out, st)
			}
		}
		return out, nil
	default:
		return nil, nil
	}
}

// textState runs the subset of content stream operators that produce
// text: BT/ET, Tf, Tj, TJ, ', ", Td, TD, T*, and Do for form XObjects.
type textState struct {
	extractor *Extractor
	resources raw.Dictionary
	out       strings.Builder
	font      *fontDecoder
	fonts     map[string]*fontDecoder
	visited   map[raw.ObjectRef]bool
}

// kerning gaps wider than this (in thousandths of text space units,
// negated) count as an inter-word space
const kerningSpaceThreshold = -200

func (s *textState) run(ctx context.Context, content []byte, depth int) error {
	if depth > s.extractor.cfg.MaxFormDepth {
		return errors.New("form XObject nesting too deep")
	}
	sc := scanner.New(bytes.NewReader(content), scanner.Config{})
	var stack []scanner.Token

	for {
		tok, err := sc.Next()
		if err != nil {
			break // EOF or scan noise past the last operator
		}
		switch tok.Type {
		case scanner.TokenKeyword:
			switch tok.Str {
			case "]", ">>":
				stack = append(stack, tok)
				continue
			}
			if err := s.apply(ctx, tok.Str, stack, depth); err != nil {
				return err
			}
			stack = stack[:0]
		case scanner.TokenInlineImage:
			stack = stack[:0]
		default:
			stack = append(stack, tok)
		}
		if s.out.Len() > s.extractor.cfg.MaxTextLength {
			return errors.New("extracted text exceeds limit")
		}
	}
	return nil
}

func (s *textState) apply(ctx context.Context, op string, stack []scanner.Token, depth int) error {
	switch op {
	case "BT", "ET":
		// text object boundaries carry no state we track
	case "Tf":
		// name size Tf
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].Type == scanner.TokenName {
				return s.selectFont(ctx, stack[i].Str)
			}
		}
	case "Tj":
		if str, ok := lastString(stack); ok {
			s.show(str)
		}
	case "'":
		s.space()
		if str, ok := lastString(stack); ok {
			s.show(str)
		}
	case "\"":
		s.space()
		if str, ok := lastString(stack); ok {
			s.show(str)
		}
	case "TJ":
		s.showArray(stack)
	case "T*":
		s.space()
	case "Td", "TD":
		// A vertical displacement starts a new line.
		if len(stack) >= 2 {
			ty := stack[len(stack)-1]
			if ty.Type == scanner.TokenNumber && numValue(ty) != 0 {
				s.space()
			}
		}
	case "Do":
		if len(stack) >= 1 && stack[len(stack)-1].Type == scanner.TokenName {
			return s.runForm(ctx, stack[len(stack)-1].Str, depth)
		}
	}
	return nil
}

// showArray handles TJ: strings are shown, large negative kerning
// adjustments become spaces.
func (s *textState) showArray(stack []scanner.Token) {
	start := 0
	for i, tok := range stack {
		if tok.Type == scanner.TokenArray {
			start = i + 1
		}
	}
	for _, tok := range stack[start:] {
		switch tok.Type {
		case scanner.TokenString:
			s.show(tok.Bytes)
		case scanner.TokenNumber:
			if numValue(tok) < kerningSpaceThreshold {
				s.space()
			}
		}
	}
}

func (s *textState) show(b []byte) {
	s.out.WriteString(s.font.decode(b))
}

// space appends a single separating space, collapsing runs.
func (s *textState) space() {
	str := s.out.String()
	if len(str) > 0 && !strings.HasSuffix(str, " ") {
		s.out.WriteByte(' ')
	}
}

func (s *textState) selectFont(ctx context.Context, name string) error {
	if s.fonts == nil {
		s.fonts = make(map[string]*fontDecoder)
	}
	if dec, ok := s.fonts[name]; ok {
		s.font = dec
		return nil
	}
	s.font = nil
	fontsObj, ok := raw.DictGet(s.resources, "Font")
	if !ok {
		return nil
	}
	fonts, err := s.extractor.doc.ResolveDict(ctx, fontsObj)
	if err != nil {
		return nil
	}
	fontObj, ok := raw.DictGet(fonts, name)
	if !ok {
		return nil
	}
	fontDict, err := s.extractor.doc.ResolveDict(ctx, fontObj)
	if err != nil {
		return nil
	}
	dec, err := s.extractor.buildFontDecoder(ctx, fontDict)
	if err != nil {
		return err
	}
	s.fonts[name] = dec
	s.font = dec
	return nil
}

// runForm recurses into a form XObject's content, carrying its own
// resources when present and the caller's otherwise.
func (s *textState) runForm(ctx context.Context, name string, depth int) error {
	xobjsObj, ok := raw.DictGet(s.resources, "XObject")
	if !ok {
		return nil
	}
	xobjs, err := s.extractor.doc.ResolveDict(ctx, xobjsObj)
	if err != nil {
		return nil
	}
	entry, ok := raw.DictGet(xobjs, name)
	if !ok {
		return nil
	}
	if ref, isRef := entry.(raw.RefObj); isRef {
		if s.visited == nil {
			s.visited = make(map[raw.ObjectRef]bool)
		}
		if s.visited[ref.R] {
			return nil
		}
		s.visited[ref.R] = true
		defer delete(s.visited, ref.R)
	}
	resolved, err := s.extractor.doc.Resolve(ctx, entry)
	if err != nil {
		return nil
	}
	st, ok := resolved.(*raw.StreamObj)
	if !ok || raw.DictName(st.Dict, "Subtype") != "Form" {
		return nil
	}
	data, err := s.extractor.doc.DecodedStream(ctx, st)
	if err != nil {
		return err
	}

	formRes := s.resources
	if resObj, ok := raw.DictGet(st.Dict, "Resources"); ok {
		if r, err := s.extractor.doc.ResolveDict(ctx, resObj); err == nil {
			formRes = r
		}
	}
	sub := &textState{extractor: s.extractor, resources: formRes, visited: s.visited}
	if err := sub.run(ctx, data, depth+1); err != nil {
		return err
	}
	s.out.WriteString(sub.out.String())
	return nil
}

func lastString(stack []scanner.Token) ([]byte, bool) {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].Type == scanner.TokenString {
			return stack[i].Bytes, true
		}
	}
	return nil, false
}

func numValue(tok scanner.Token) float64 {
	if tok.IsInt {
		return float64(tok.Int)
	}
	return tok.Float
}

// TextHash folds the first 32 bytes of a page's UTF-8 text into a
// 32-bit fingerprint: hash = rotl(hash, 7) XOR byte. Stable across
// runs and platforms; used in the boundary output record.
func TextHash(text string) uint32 {
	var h uint32
	b := []byte(text)
	if len(b) > 32 {
		b = b[:32]
	}
	for _, c := range b {
		h = (h<<7 | h>>25) ^ uint32(c)
	}
	return h
}
