package filters

import (
	"bytes"
	"compress/zlib"
	"context"
	"strings"
	"testing"
	"time"

	"pdfverify/ir/raw"
)

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func TestFlateRoundTrip(t *testing.T) {
	plain := []byte("BT /F1 12 Tf (Hello) Tj ET")
	dec := NewFlateDecoder()
	out, err := dec.Decode(context.Background(), zlibCompress(t, plain), nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Fatalf("got %q, want %q", out, plain)
	}
}

func TestFlateGarbage(t *testing.T) {
	dec := NewFlateDecoder()
	if _, err := dec.Decode(context.Background(), []byte{0xFF, 0xFE, 0xFD, 0xFC}, nil); err == nil {
		t.Fatal("expected error for garbage input")
	}
}

func TestASCIIHexDecode(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"48656C6C6F>", "Hello"},
		{"48 65 6C\n6C 6F>", "Hello"},
		{"48656C6C6F", "Hello"},
	}
	dec := NewASCIIHexDecoder()
	for _, tt := range tests {
		out, err := dec.Decode(context.Background(), []byte(tt.input), nil)
		if err != nil {
			t.Fatalf("%q: %v", tt.input, err)
		}
		if string(out) != tt.want {
			t.Fatalf("%q: got %q, want %q", tt.input, out, tt.want)
		}
	}

	// Odd nibble count pads with 0.
	out, err := dec.Decode(context.Background(), []byte("4865F>"), nil)
	if err != nil {
		t.Fatalf("odd count: %v", err)
	}
	if !bytes.Equal(out, []byte{0x48, 0x65, 0xF0}) {
		t.Fatalf("odd count: got % x", out)
	}
}

func TestASCII85Decode(t *testing.T) {
	dec := NewASCII85Decoder()
	out, err := dec.Decode(context.Background(), []byte("87cUR~>"), nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(out) != "Hell" {
		t.Fatalf("got %q, want Hell", out)
	}

	// <~ prefix and the z shorthand for four zero bytes.
	out, err = dec.Decode(context.Background(), []byte("<~z~>"), nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out, []byte{0, 0, 0, 0}) {
		t.Fatalf("got % x, want four zero bytes", out)
	}
}

func TestRunLengthDecode(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  []byte
	}{
		{"literal run", []byte{4, 'H', 'e', 'l', 'l', 'o', 128}, []byte("Hello")},
		{"repeat run", []byte{254, 'A', 128}, []byte("AAA")},
		{"mixed", []byte{1, 'a', 'b', 255, 'c', 128}, []byte("abcc")},
		{"no eod", []byte{0, 'x'}, []byte("x")},
	}
	dec := NewRunLengthDecoder()
	for _, tt := range tests {
		out, err := dec.Decode(context.Background(), tt.input, nil)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if !bytes.Equal(out, tt.want) {
			t.Fatalf("%s: got %q, want %q", tt.name, out, tt.want)
		}
	}
}

func TestRunLengthTruncated(t *testing.T) {
	dec := NewRunLengthDecoder()
	if _, err := dec.Decode(context.Background(), []byte{5, 'a'}, nil); err == nil {
		t.Fatal("expected truncation error")
	}
	if _, err := dec.Decode(context.Background(), []byte{254}, nil); err == nil {
		t.Fatal("expected truncation error")
	}
}

func predictorParams(predictor, columns int64) raw.Dictionary {
	d := raw.Dict()
	d.Set(raw.NameLiteral("Predictor"), raw.NumberInt(predictor))
	d.Set(raw.NameLiteral("Columns"), raw.NumberInt(columns))
	return d
}

func TestPNGPredictorUp(t *testing.T) {
	// Two rows of 4 columns, filter type 2 (Up). Row deltas accumulate.
	data := []byte{
		2, 1, 2, 3, 4,
		2, 1, 1, 1, 1,
	}
	out, err := applyPredictor(data, predictorParams(12, 4))
	if err != nil {
		t.Fatalf("applyPredictor: %v", err)
	}
	want := []byte{1, 2, 3, 4, 2, 3, 4, 5}
	if !bytes.Equal(out, want) {
		t.Fatalf("got % d, want % d", out, want)
	}
}

func TestPNGPredictorSub(t *testing.T) {
	data := []byte{1, 10, 5, 5, 5}
	out, err := applyPredictor(data, predictorParams(11, 4))
	if err != nil {
		t.Fatalf("applyPredictor: %v", err)
	}
	want := []byte{10, 15, 20, 25}
	if !bytes.Equal(out, want) {
		t.Fatalf("got % d, want % d", out, want)
	}
}

func TestPNGPredictorNoneAndAbsent(t *testing.T) {
	data := []byte{0, 9, 8, 7, 6}
	out, err := applyPredictor(data, predictorParams(10, 4))
	if err != nil {
		t.Fatalf("applyPredictor: %v", err)
	}
	if !bytes.Equal(out, []byte{9, 8, 7, 6}) {
		t.Fatalf("got % d", out)
	}

	// No params: pass-through.
	raw5 := []byte{1, 2, 3, 4, 5}
	out, err = applyPredictor(raw5, nil)
	if err != nil || !bytes.Equal(out, raw5) {
		t.Fatalf("pass-through failed: %v % d", err, out)
	}
}

func TestPredictorRejectsTIFF(t *testing.T) {
	if _, err := applyPredictor([]byte{0, 0}, predictorParams(2, 1)); err == nil {
		t.Fatal("TIFF predictor accepted")
	}
}

func TestPredictorRaggedRows(t *testing.T) {
	if _, err := applyPredictor([]byte{2, 1, 2, 3}, predictorParams(12, 4)); err == nil {
		t.Fatal("ragged input accepted")
	}
}

func TestPipelineChain(t *testing.T) {
	plain := []byte("chained payload")
	compressed := zlibCompress(t, plain)
	hexed := make([]byte, 0, len(compressed)*2+1)
	const digits = "0123456789ABCDEF"
	for _, b := range compressed {
		hexed = append(hexed, digits[b>>4], digits[b&0x0F])
	}
	hexed = append(hexed, '>')

	p := NewDefaultPipeline(Limits{})
	out, err := p.Decode(context.Background(), hexed, []string{"ASCIIHexDecode", "FlateDecode"}, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Fatalf("got %q, want %q", out, plain)
	}
}

func TestPipelineUnknownFilter(t *testing.T) {
	p := NewDefaultPipeline(Limits{})
	if _, err := p.Decode(context.Background(), nil, []string{"DCTDecode"}, nil); err == nil {
		t.Fatal("unknown filter accepted")
	}
}

func TestPipelineSizeLimit(t *testing.T) {
	plain := bytes.Repeat([]byte{'z'}, 1024)
	p := NewDefaultPipeline(Limits{MaxDecompressedSize: 100})
	if _, err := p.Decode(context.Background(), zlibCompress(t, plain), []string{"FlateDecode"}, nil); err == nil {
		t.Fatal("size limit not enforced")
	}
}

func TestFlateStopsAtSizeLimit(t *testing.T) {
	// A tiny compressed input that inflates far past the cap must be cut
	// off mid-inflation, not buffered whole and measured afterwards.
	plain := bytes.Repeat([]byte{0}, 1<<20)
	dec := flateDecoder{maxSize: 4096}
	_, err := dec.Decode(context.Background(), zlibCompress(t, plain), nil)
	if err == nil || !strings.Contains(err.Error(), "exceeds limit") {
		t.Fatalf("got %v, want size limit error", err)
	}

	// At or under the cap the same decoder succeeds.
	small := bytes.Repeat([]byte{0}, 4096)
	out, err := dec.Decode(context.Background(), zlibCompress(t, small), nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out, small) {
		t.Fatalf("got %d bytes", len(out))
	}
}

func TestPipelineCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewDefaultPipeline(Limits{})
	if _, err := p.Decode(ctx, zlibCompress(t, []byte("x")), []string{"FlateDecode"}, nil); err == nil {
		t.Fatal("canceled context not honored")
	}
}

func TestPipelineDecodeTimeLimit(t *testing.T) {
	// A one-nanosecond budget is spent before the first stage runs.
	p := NewDefaultPipeline(Limits{MaxDecodeTime: time.Nanosecond})
	if _, err := p.Decode(context.Background(), zlibCompress(t, []byte("x")), []string{"FlateDecode"}, nil); err == nil {
		t.Fatal("decode time limit not enforced")
	}
}
