package extractor

import (
	"bytes"
	"context"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"pdfverify/ir/raw"
	"pdfverify/scanner"
)

// fontDecoder maps content-stream string bytes to Unicode text for one
// font resource. Lookup order for simple fonts: ToUnicode CMap, then
// /Differences glyph names, then the base encoding's character map,
// then printable ASCII passthrough. Composite (Identity-H) fonts use
// two-byte codes and rely on the CMap alone.
type fontDecoder struct {
	cid         bool
	toUnicode   map[uint32]string
	differences map[byte]rune
	base        *charmap.Charmap
}

func (f *fontDecoder) decode(b []byte) string {
	var out bytes.Buffer
	if f != nil && f.cid {
		for i := 0; i+1 < len(b); i += 2 {
			code := uint32(b[i])<<8 | uint32(b[i+1])
			if s, ok := f.toUnicode[code]; ok {
				out.WriteString(s)
			} else {
				out.WriteRune(utf8.RuneError)
			}
		}
		return out.String()
	}
	for _, c := range b {
		if f != nil {
			if s, ok := f.toUnicode[uint32(c)]; ok {
				out.WriteString(s)
				continue
			}
			if r, ok := f.differences[c]; ok {
				out.WriteRune(r)
				continue
			}
			if f.base != nil {
				r := f.base.DecodeByte(c)
				if r != utf8.RuneError {
					out.WriteRune(r)
					continue
				}
			}
		}
		if c >= 0x20 && c <= 0x7e {
			out.WriteByte(c)
		} else if c == '\n' || c == '\r' || c == '\t' {
			out.WriteByte(' ')
		}
	}
	return out.String()
}

// buildFontDecoder inspects a font dictionary and assembles the decoder.
func (e *Extractor) buildFontDecoder(ctx context.Context, fontDict raw.Dictionary) (*fontDecoder, error) {
	dec := &fontDecoder{}

	if raw.DictName(fontDict, "Subtype") == "Type0" {
		dec.cid = true
	}
	switch encObj, ok := raw.DictGet(fontDict, "Encoding"); {
	case !ok:
	default:
		enc, err := e.doc.Resolve(ctx, encObj)
		if err != nil {
			return nil, err
		}
		switch v := enc.(type) {
		case raw.NameObj:
			switch v.Val {
			case "Identity-H", "Identity-V":
				dec.cid = true
			case "WinAnsiEncoding":
				dec.base = charmap.Windows1252
			case "MacRomanEncoding":
				dec.base = charmap.Macintosh
			}
		case *raw.DictObj:
			switch raw.DictName(v, "BaseEncoding") {
			case "WinAnsiEncoding":
				dec.base = charmap.Windows1252
			case "MacRomanEncoding":
				dec.base = charmap.Macintosh
			}
			if diffObj, ok := raw.DictGet(v, "Differences"); ok {
				if diffs, err := e.doc.Resolve(ctx, diffObj); err == nil {
					if arr, ok := diffs.(*raw.ArrayObj); ok {
						dec.differences = parseDifferences(arr)
					}
				}
			}
		}
	}

	if tuObj, ok := raw.DictGet(fontDict, "ToUnicode"); ok {
		res, err := e.doc.Resolve(ctx, tuObj)
		if err != nil {
			return nil, err
		}
		if st, ok := res.(*raw.StreamObj); ok {
			data, err := e.doc.DecodedStream(ctx, st)
			if err != nil {
				return nil, err
			}
			dec.toUnicode = parseToUnicodeCMap(data)
		}
	}
	return dec, nil
}

// parseDifferences expands a /Differences array into a byte→rune map.
// The array alternates integer start codes with runs of glyph names.
func parseDifferences(arr *raw.ArrayObj) map[byte]rune {
	out := make(map[byte]rune)
	code := 0
	for _, item := range arr.Items {
		switch v := item.(type) {
		case raw.NumberObj:
			code = int(v.Int())
		case raw.NameObj:
			if code >= 0 && code < 256 {
				if r, ok := glyphToRune(v.Val); ok {
					out[byte(code)] = r
				}
			}
			code++
		}
	}
	return out
}

// parseToUnicodeCMap reads bfchar and bfrange sections from a CMap
// stream. Everything outside those sections is skipped.
func parseToUnicodeCMap(data []byte) map[uint32]string {
	out := make(map[uint32]string)
	s := scanner.New(bytes.NewReader(data), scanner.Config{})
	for {
		tok, err := s.Next()
		if err != nil {
			break
		}
		if tok.Type != scanner.TokenKeyword {
			continue
		}
		switch tok.Str {
		case "beginbfchar":
			parseBFChar(s, out)
		case "beginbfrange":
			parseBFRange(s, out)
		}
	}
	return out
}

func parseBFChar(s scanner.Scanner, out map[uint32]string) {
	for {
		src, err := s.Next()
		if err != nil {
			return
		}
		if src.Type == scanner.TokenKeyword {
			return // endbfchar or malformed
		}
		dst, err := s.Next()
		if err != nil {
			return
		}
		if src.Type == scanner.TokenString && dst.Type == scanner.TokenString {
			out[codeFromBytes(src.Bytes)] = utf16BEToString(dst.Bytes)
		}
	}
}

func parseBFRange(s scanner.Scanner, out map[uint32]string) {
	for {
		lo, err := s.Next()
		if err != nil {
			return
		}
		if lo.Type == scanner.TokenKeyword {
			return // endbfrange or malformed
		}
		hi, err := s.Next()
		if err != nil {
			return
		}
		dst, err := s.Next()
		if err != nil {
			return
		}
		if lo.Type != scanner.TokenString || hi.Type != scanner.TokenString {
			continue
		}
		loCode := codeFromBytes(lo.Bytes)
		hiCode := codeFromBytes(hi.Bytes)
		if hiCode < loCode || hiCode-loCode > 65535 {
			continue
		}
		switch dst.Type {
		case scanner.TokenString:
			// Destination string increments with the code.
			base := append([]byte(nil), dst.Bytes...)
			for c := loCode; c <= hiCode; c++ {
				out[c] = utf16BEToString(base)
				incrementBE(base)
			}
		case scanner.TokenArray:
			for c := loCode; ; c++ {
				item, err := s.Next()
				if err != nil {
					return
				}
				if item.Type == scanner.TokenKeyword && item.Str == "]" {
					break
				}
				if item.Type == scanner.TokenString && c <= hiCode {
					out[c] = utf16BEToString(item.Bytes)
				}
			}
		}
	}
}

func codeFromBytes(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

func incrementBE(b []byte) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i]++
		if b[i] != 0 {
			return
		}
	}
}

func utf16BEToString(b []byte) string {
	if len(b) == 1 {
		return string(rune(b[0]))
	}
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return string(utf16.Decode(units))
}

// glyphToRune covers the glyph names that show up in /Differences arrays
// of text-bearing documents. Single-letter names map to themselves.
func glyphToRune(name string) (rune, bool) {
	if len(name) == 1 {
		return rune(name[0]), true
	}
	if r, ok := glyphNames[name]; ok {
		return r, true
	}
	return 0, false
}

var glyphNames = map[string]rune{
	"space": ' ', "exclam": '!', "quotedbl": '"', "numbersign": '#',
	"dollar": '$', "percent": '%', "ampersand": '&', "quotesingle": '\'',
	"parenleft": '(', "parenright": ')', "asterisk": '*', "plus": '+',
	"comma": ',', "hyphen": '-', "period": '.', "slash": '/',
	"zero": '0', "one": '1', "two": '2', "three": '3', "four": '4',
	"five": '5', "six": '6', "seven": '7', "eight": '8', "nine": '9',
	"colon": ':', "semicolon": ';', "less": '<', "equal": '=',
	"greater": '>', "question": '?', "at": '@', "bracketleft": '[',
	"backslash": '\\', "bracketright": ']', "asciicircum": '^',
	"underscore": '_', "grave": '`', "braceleft": '{', "bar": '|',
	"braceright": '}', "asciitilde": '~',
	"quoteleft": '‘', "quoteright": '’',
	"quotedblleft": '“', "quotedblright": '”',
	"endash": '–', "emdash": '—', "bullet": '•',
	"fi": 'ﬁ', "fl": 'ﬂ', "germandbls": 'ß',
	"adieresis": 'ä', "odieresis": 'ö', "udieresis": 'ü',
	"Adieresis": 'Ä', "Odieresis": 'Ö', "Udieresis": 'Ü',
	"eacute": 'é', "egrave": 'è', "agrave": 'à', "ccedilla": 'ç',
}
