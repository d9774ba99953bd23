package der

import (
	"bytes"
	"errors"
	"testing"
)

func TestParsePrimitive(t *testing.T) {
	v, err := Parse([]byte{0x02, 0x01, 0x05})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !v.IsUniversal(TagInteger) || v.Constructed {
		t.Fatalf("got class=%d tag=%d constructed=%v", v.Class, v.Tag, v.Constructed)
	}
	if !bytes.Equal(v.Content, []byte{0x05}) {
		t.Fatalf("content % x", v.Content)
	}
	if !bytes.Equal(v.Full, []byte{0x02, 0x01, 0x05}) {
		t.Fatalf("full % x", v.Full)
	}
}

func TestParseSequenceChildren(t *testing.T) {
	// SEQUENCE { INTEGER 1, OID 1.2 }
	data := []byte{0x30, 0x07, 0x02, 0x01, 0x01, 0x06, 0x02, 0x2a, 0x03}
	v, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !v.IsUniversal(TagSequence) || !v.Constructed {
		t.Fatalf("got tag=%d constructed=%v", v.Tag, v.Constructed)
	}
	if len(v.Children) != 2 {
		t.Fatalf("got %d children", len(v.Children))
	}
	if !v.Children[0].IsUniversal(TagInteger) {
		t.Fatalf("child 0 tag %d", v.Children[0].Tag)
	}
	if oid := v.Children[1].OID(); !bytes.Equal(oid, []byte{0x2a, 0x03}) {
		t.Fatalf("child 1 OID % x", oid)
	}
}

func TestParseLongFormLength(t *testing.T) {
	content := bytes.Repeat([]byte{0xAA}, 200)
	data := append([]byte{0x04, 0x81, 200}, content...)
	v, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !bytes.Equal(v.Content, content) {
		t.Fatalf("content length %d", len(v.Content))
	}
}

func TestParseHighTagNumber(t *testing.T) {
	// Primitive context-specific tag 200 (0x1f prefix, then 0x81 0x48).
	data := []byte{0x9f, 0x81, 0x48, 0x01, 0xff}
	v, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v.Class != ClassContextSpecific || v.Tag != 200 || v.Constructed {
		t.Fatalf("got class=%d tag=%d constructed=%v", v.Class, v.Tag, v.Constructed)
	}
	if !bytes.Equal(v.Content, []byte{0xff}) {
		t.Fatalf("content % x", v.Content)
	}
}

func TestParseRejectsIndefiniteLength(t *testing.T) {
	_, err := Parse([]byte{0x30, 0x80, 0x00, 0x00})
	if !errors.Is(err, ErrIndefinite) {
		t.Fatalf("got %v, want ErrIndefinite", err)
	}
}

func TestParseRejectsTrailing(t *testing.T) {
	_, err := Parse([]byte{0x02, 0x01, 0x05, 0x00})
	if !errors.Is(err, ErrTrailing) {
		t.Fatalf("got %v, want ErrTrailing", err)
	}
}

func TestParsePrefixAllowsTrailing(t *testing.T) {
	v, n, err := ParsePrefix([]byte{0x02, 0x01, 0x05, 0x00, 0x00})
	if err != nil {
		t.Fatalf("ParsePrefix: %v", err)
	}
	if n != 3 {
		t.Fatalf("consumed %d bytes, want 3", n)
	}
	if !bytes.Equal(v.Content, []byte{0x05}) {
		t.Fatalf("content % x", v.Content)
	}
}

func TestParseTruncated(t *testing.T) {
	inputs := [][]byte{
		{},
		{0x02},
		{0x02, 0x05, 0x00},
		{0x02, 0x82, 0xff},
	}
	for _, in := range inputs {
		if _, err := Parse(in); !errors.Is(err, ErrTruncated) {
			t.Fatalf("% x: got %v, want ErrTruncated", in, err)
		}
	}
}

func TestParseDepthLimit(t *testing.T) {
	// 60 nested SEQUENCEs, innermost a NULL.
	data := []byte{0x05, 0x00}
	for i := 0; i < 60; i++ {
		hdr := []byte{0x30, byte(len(data))}
		data = append(hdr, data...)
	}
	if _, err := Parse(data); !errors.Is(err, ErrDepth) {
		t.Fatalf("got %v, want ErrDepth", err)
	}
}

func TestIntegerStripsLeadingZero(t *testing.T) {
	v, err := Parse([]byte{0x02, 0x02, 0x00, 0x80})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := v.Integer()
	if err != nil {
		t.Fatalf("Integer: %v", err)
	}
	if !bytes.Equal(got, []byte{0x80}) {
		t.Fatalf("got % x", got)
	}

	// Zero itself keeps one octet.
	v, _ = Parse([]byte{0x02, 0x01, 0x00})
	got, _ = v.Integer()
	if !bytes.Equal(got, []byte{0x00}) {
		t.Fatalf("zero: got % x", got)
	}
}

func TestBitStringBytes(t *testing.T) {
	v, err := Parse([]byte{0x03, 0x03, 0x00, 0xde, 0xad})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := v.BitStringBytes()
	if err != nil {
		t.Fatalf("BitStringBytes: %v", err)
	}
	if !bytes.Equal(got, []byte{0xde, 0xad}) {
		t.Fatalf("got % x", got)
	}

	v, _ = Parse([]byte{0x03, 0x02, 0x04, 0xf0})
	if _, err := v.BitStringBytes(); err == nil {
		t.Fatal("unused bits accepted")
	}
}

func TestIsContext(t *testing.T) {
	v, err := Parse([]byte{0xa0, 0x02, 0x05, 0x00})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !v.IsContext(0) {
		t.Fatalf("got class=%d tag=%d", v.Class, v.Tag)
	}
	if v.IsUniversal(0) {
		t.Fatal("context value claims universal")
	}
}
