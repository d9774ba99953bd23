package security

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
)

// Signature is the located signature material of a signed PDF.
type Signature struct {
	// ByteRange holds the two signed spans as [start1 len1 start2 len2].
	ByteRange [4]int64
	// Contents is the decoded (formerly hex) PKCS#7 blob, still carrying
	// the zero padding writers reserve after the DER value.
	Contents []byte
	// ByteRangePos is the file offset of the /ByteRange key.
	ByteRangePos int
}

var ErrNoSignature = errors.New("no signature found")

// contentsSearchBack is how far before /ByteRange the /Contents key is
// sought. Writers emit both keys inside the same signature dictionary,
// with /Contents usually preceding /ByteRange.
const contentsSearchBack = 500

// FindSignature locates the /ByteRange array and the /Contents hex
// string textually. Signature dictionaries cannot be located through
// the object graph alone: their byte positions are what the ByteRange
// spans are relative to, so the scan works on the raw file.
func FindSignature(pdf []byte) (*Signature, error) {
	brPos := bytes.Index(pdf, []byte("/ByteRange"))
	if brPos < 0 {
		return nil, ErrNoSignature
	}

	ranges, err := parseByteRangeArray(pdf[brPos:])
	if err != nil {
		return nil, err
	}
	for i := 0; i < 4; i += 2 {
		start, length := ranges[i], ranges[i+1]
		if start < 0 || length < 0 || start+length > int64(len(pdf)) {
			return nil, fmt.Errorf("byte range [%d %d] outside file", start, length)
		}
	}

	contents, err := findContentsHex(pdf, brPos)
	if err != nil {
		return nil, err
	}

	return &Signature{ByteRange: ranges, Contents: contents, ByteRangePos: brPos}, nil
}

// SignedBytes concatenates the two ByteRange spans, i.e. everything the
// signature covers (the file minus the /Contents hole).
func (s *Signature) SignedBytes(pdf []byte) []byte {
	out := make([]byte, 0, s.ByteRange[1]+s.ByteRange[3])
	out = append(out, pdf[s.ByteRange[0]:s.ByteRange[0]+s.ByteRange[1]]...)
	out = append(out, pdf[s.ByteRange[2]:s.ByteRange[2]+s.ByteRange[3]]...)
	return out
}

func parseByteRangeArray(data []byte) ([4]int64, error) {
	var ranges [4]int64
	open := bytes.IndexByte(data, '[')
	if open < 0 {
		return ranges, errors.New("ByteRange array missing [")
	}
	close := bytes.IndexByte(data[open:], ']')
	if close < 0 {
		return ranges, errors.New("ByteRange array missing ]")
	}
	fields := bytes.Fields(data[open+1 : open+close])
	if len(fields) != 4 {
		return ranges, fmt.Errorf("ByteRange has %d values, want 4", len(fields))
	}
	for i, f := range fields {
		v, err := parseDecimal(f)
		if err != nil {
			return ranges, fmt.Errorf("ByteRange value %d: %w", i, err)
		}
		ranges[i] = v
	}
	return ranges, nil
}

func parseDecimal(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, errors.New("empty number")
	}
	var v int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid digit %q", c)
		}
		v = v*10 + int64(c-'0')
		if v < 0 {
			return 0, errors.New("number overflow")
		}
	}
	return v, nil
}

// findContentsHex locates the /Contents hex string belonging to the
// signature dictionary. Other dictionaries in the window carry
// /Contents too (every page does), so a candidate only counts when its
// value is a hex string: after the key, optional whitespace, then '<'
// not opening a '<<' dictionary.
func findContentsHex(pdf []byte, brPos int) ([]byte, error) {
	from := brPos - contentsSearchBack
	if from < 0 {
		from = 0
	}
	search := pdf[from:]
	for off := 0; ; {
		idx := bytes.Index(search[off:], []byte("/Contents"))
		if idx < 0 {
			return nil, errors.New("signature /Contents not found")
		}
		rest := search[off+idx+len("/Contents"):]
		i := 0
		for i < len(rest) && isPDFWhitespace(rest[i]) {
			i++
		}
		if i < len(rest) && rest[i] == '<' && !(i+1 < len(rest) && rest[i+1] == '<') {
			return decodeContentsHex(rest[i+1:])
		}
		off += idx + len("/Contents")
	}
}

func isPDFWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func decodeContentsHex(rest []byte) ([]byte, error) {
	end := bytes.IndexByte(rest, '>')
	if end < 0 {
		return nil, errors.New("signature /Contents hex string unterminated")
	}
	hexBytes := make([]byte, 0, end)
	for _, c := range rest[:end] {
		if isPDFWhitespace(c) {
			continue
		}
		hexBytes = append(hexBytes, c)
	}
	if len(hexBytes)%2 == 1 {
		hexBytes = append(hexBytes, '0')
	}
	out := make([]byte, hex.DecodedLen(len(hexBytes)))
	if _, err := hex.Decode(out, hexBytes); err != nil {
		return nil, fmt.Errorf("decode /Contents: %w", err)
	}
	return out, nil
}
