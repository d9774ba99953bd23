// Package der implements a small strict DER reader. It decodes a byte
// slice into a tree of tagged values without interpreting them; the
// PKCS#7 walk in the security package gives the nodes meaning.
//
// Only definite lengths are accepted. Indefinite lengths (BER) and
// trailing bytes after the outermost value are errors.
package der

import (
	"errors"
	"fmt"
)

type Class int

const (
	ClassUniversal Class = iota
	ClassApplication
	ClassContextSpecific
	ClassPrivate
)

// Universal tag numbers this package's callers care about.
const (
	TagInteger         = 0x02
	TagBitString       = 0x03
	TagOctetString     = 0x04
	TagNull            = 0x05
	TagOID             = 0x06
	TagUTF8String      = 0x0c
	TagSequence        = 0x10
	TagSet             = 0x11
	TagPrintableString = 0x13
	TagUTCTime         = 0x17
)

// Value is one decoded TLV node. Content holds the raw content octets;
// Children is populated for constructed values. Full spans the complete
// encoding including tag and length, which re-encoding callers need.
type Value struct {
	Class       Class
	Tag         uint32
	Constructed bool
	Content     []byte
	Children    []Value
	Full        []byte
}

const maxNestingDepth = 48

var (
	ErrTruncated   = errors.New("der: truncated input")
	ErrTrailing    = errors.New("der: trailing bytes after value")
	ErrIndefinite  = errors.New("der: indefinite length not allowed")
	ErrDepth       = errors.New("der: nesting too deep")
	ErrLengthValue = errors.New("der: invalid length encoding")
)

// Parse decodes exactly one value covering all of data.
func Parse(data []byte) (Value, error) {
	v, n, err := parseValue(data, 0)
	if err != nil {
		return Value{}, err
	}
	if n != len(data) {
		return Value{}, ErrTrailing
	}
	return v, nil
}

// ParsePrefix decodes one value from the front of data and returns the
// number of bytes it occupied.
func ParsePrefix(data []byte) (Value, int, error) {
	return parseValue(data, 0)
}

func parseValue(data []byte, depth int) (Value, int, error) {
	if depth > maxNestingDepth {
		return Value{}, 0, ErrDepth
	}
	if len(data) < 2 {
		return Value{}, 0, ErrTruncated
	}

	var v Value
	first := data[0]
	v.Class = Class(first >> 6)
	v.Constructed = first&0x20 != 0
	pos := 1

	tag := uint32(first & 0x1f)
	if tag == 0x1f { // high-tag-number form
		tag = 0
		for {
			if pos >= len(data) {
				return Value{}, 0, ErrTruncated
			}
			b := data[pos]
			pos++
			if tag > 1<<24 {
				return Value{}, 0, fmt.Errorf("der: tag number too large")
			}
			tag = tag<<7 | uint32(b&0x7f)
			if b&0x80 == 0 {
				break
			}
		}
	}
	v.Tag = tag

	if pos >= len(data) {
		return Value{}, 0, ErrTruncated
	}
	lb := data[pos]
	pos++
	var length int
	switch {
	case lb < 0x80:
		length = int(lb)
	case lb == 0x80:
		return Value{}, 0, ErrIndefinite
	default:
		n := int(lb & 0x7f)
		if n > 4 {
			return Value{}, 0, ErrLengthValue
		}
		if pos+n > len(data) {
			return Value{}, 0, ErrTruncated
		}
		for i := 0; i < n; i++ {
			length = length<<8 | int(data[pos+i])
		}
		pos += n
	}
	if length < 0 || pos+length > len(data) {
		return Value{}, 0, ErrTruncated
	}

	v.Content = data[pos : pos+length]
	v.Full = data[:pos+length]
	end := pos + length

	if v.Constructed {
		rest := v.Content
		for len(rest) > 0 {
			child, n, err := parseValue(rest, depth+1)
			if err != nil {
				return Value{}, 0, err
			}
			v.Children = append(v.Children, child)
			rest = rest[n:]
		}
	}
	return v, end, nil
}

// IsUniversal reports whether v carries the given universal tag.
func (v Value) IsUniversal(tag uint32) bool {
	return v.Class == ClassUniversal && v.Tag == tag
}

// IsContext reports whether v is context-specific with the given tag.
func (v Value) IsContext(tag uint32) bool {
	return v.Class == ClassContextSpecific && v.Tag == tag
}

// OID returns the content octets of an OBJECT IDENTIFIER, or nil.
func (v Value) OID() []byte {
	if !v.IsUniversal(TagOID) {
		return nil
	}
	return v.Content
}

// Integer returns the content octets of an INTEGER with any leading
// zero (positive-sign padding) stripped.
func (v Value) Integer() ([]byte, error) {
	if !v.IsUniversal(TagInteger) {
		return nil, errors.New("der: not an integer")
	}
	b := v.Content
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	return b, nil
}

// BitStringBytes returns the payload of a BIT STRING, requiring zero
// unused bits (the case for key and signature material).
func (v Value) BitStringBytes() ([]byte, error) {
	if !v.IsUniversal(TagBitString) {
		return nil, errors.New("der: not a bit string")
	}
	if len(v.Content) < 1 {
		return nil, ErrTruncated
	}
	if v.Content[0] != 0 {
		return nil, errors.New("der: bit string has unused bits")
	}
	return v.Content[1:], nil
}
