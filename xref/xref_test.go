package xref

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"testing"

	"pdfverify/ir/raw"
)

// pdfBuilder assembles a PDF in memory, tracking object offsets so the
// tests can write correct xref entries.
type pdfBuilder struct {
	buf     bytes.Buffer
	offsets map[int]int64
}

func newPDFBuilder() *pdfBuilder {
	b := &pdfBuilder{offsets: make(map[int]int64)}
	b.buf.WriteString("%PDF-1.7\n")
	return b
}

func (b *pdfBuilder) addObject(num int, body string) {
	b.offsets[num] = int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
}

func (b *pdfBuilder) pos() int64 { return int64(b.buf.Len()) }

func (b *pdfBuilder) writeClassicXref(entries map[int]int64, free []int, trailer string) int64 {
	start := b.pos()
	max := 0
	for n := range entries {
		if n > max {
			max = n
		}
	}
	for _, n := range free {
		if n > max {
			max = n
		}
	}
	fmt.Fprintf(&b.buf, "xref\n0 %d\n", max+1)
	freeSet := make(map[int]bool)
	for _, n := range free {
		freeSet[n] = true
	}
	b.buf.WriteString("0000000000 65535 f \n")
	for n := 1; n <= max; n++ {
		if off, ok := entries[n]; ok {
			fmt.Fprintf(&b.buf, "%010d 00000 n \n", off)
		} else if freeSet[n] {
			b.buf.WriteString("0000000000 00001 f \n")
		} else {
			b.buf.WriteString("0000000000 65535 f \n")
		}
	}
	fmt.Fprintf(&b.buf, "trailer\n%s\n", trailer)
	return start
}

func (b *pdfBuilder) finish(xrefOffset int64) []byte {
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return b.buf.Bytes()
}

func TestResolveClassicTable(t *testing.T) {
	b := newPDFBuilder()
	b.addObject(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.addObject(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	xoff := b.writeClassicXref(
		map[int]int64{1: b.offsets[1], 2: b.offsets[2]},
		nil,
		"<< /Size 3 /Root 1 0 R >>",
	)
	pdf := b.finish(xoff)

	tab, err := NewResolver(ResolverConfig{}).Resolve(context.Background(), bytes.NewReader(pdf))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tab.Type() != "table" {
		t.Fatalf("type %q, want table", tab.Type())
	}
	off, gen, found := tab.Lookup(1)
	if !found || off != b.offsets[1] || gen != 0 {
		t.Fatalf("Lookup(1) = %d %d %v", off, gen, found)
	}
	if _, _, found := tab.Lookup(9); found {
		t.Fatal("Lookup(9) found a nonexistent object")
	}
	if _, ok := raw.DictGet(tab.Trailer(), "Root"); !ok {
		t.Fatal("trailer missing Root")
	}
	if got := tab.Objects(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Objects() = %v", got)
	}
}

func TestIncrementalUpdateNewestWins(t *testing.T) {
	b := newPDFBuilder()
	b.addObject(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.addObject(2, "(old revision)")
	firstObj2 := b.offsets[2]
	xref1 := b.writeClassicXref(
		map[int]int64{1: b.offsets[1], 2: firstObj2},
		nil,
		"<< /Size 3 /Root 1 0 R >>",
	)
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", xref1)

	// Incremental update redefines object 2.
	b.addObject(2, "(new revision)")
	xref2 := b.pos()
	fmt.Fprintf(&b.buf, "xref\n2 1\n%010d 00000 n \ntrailer\n<< /Size 3 /Root 1 0 R /Prev %d >>\n", b.offsets[2], xref1)
	pdf := b.finish(xref2)

	tab, err := NewResolver(ResolverConfig{}).Resolve(context.Background(), bytes.NewReader(pdf))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	off, _, found := tab.Lookup(2)
	if !found {
		t.Fatal("object 2 not found")
	}
	if off == firstObj2 {
		t.Fatal("older revision shadowed the update")
	}
	if off != b.offsets[2] {
		t.Fatalf("Lookup(2) = %d, want %d", off, b.offsets[2])
	}
}

func TestFreedObjectNotResurrected(t *testing.T) {
	b := newPDFBuilder()
	b.addObject(1, "<< /Type /Catalog >>")
	b.addObject(2, "(doomed)")
	xref1 := b.writeClassicXref(
		map[int]int64{1: b.offsets[1], 2: b.offsets[2]},
		nil,
		"<< /Size 3 /Root 1 0 R >>",
	)
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", xref1)

	// The update frees object 2; the old definition must stay dead.
	xref2 := b.pos()
	fmt.Fprintf(&b.buf, "xref\n2 1\n0000000000 00001 f \ntrailer\n<< /Size 3 /Root 1 0 R /Prev %d >>\n", xref1)
	pdf := b.finish(xref2)

	tab, err := NewResolver(ResolverConfig{}).Resolve(context.Background(), bytes.NewReader(pdf))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, _, found := tab.Lookup(2); found {
		t.Fatal("freed object resurrected by older revision")
	}
	if _, _, found := tab.Lookup(1); !found {
		t.Fatal("object 1 lost")
	}
}

func TestPrevCycleDetected(t *testing.T) {
	b := newPDFBuilder()
	b.addObject(1, "<< /Type /Catalog >>")
	xoff := b.pos()
	// Trailer whose Prev points back at itself.
	fmt.Fprintf(&b.buf, "xref\n0 2\n0000000000 65535 f \n%010d 00000 n \ntrailer\n<< /Size 2 /Root 1 0 R /Prev %d >>\n", b.offsets[1], xoff)
	pdf := b.finish(xoff)

	if _, err := NewResolver(ResolverConfig{}).Resolve(context.Background(), bytes.NewReader(pdf)); err == nil {
		t.Fatal("cyclic Prev chain accepted")
	}
}

func TestMissingRootRejected(t *testing.T) {
	b := newPDFBuilder()
	b.addObject(1, "(whatever)")
	xoff := b.writeClassicXref(map[int]int64{1: b.offsets[1]}, nil, "<< /Size 2 >>")
	pdf := b.finish(xoff)

	if _, err := NewResolver(ResolverConfig{}).Resolve(context.Background(), bytes.NewReader(pdf)); err == nil {
		t.Fatal("trailer without Root accepted")
	}
}

// xrefStreamRow packs one W=[1 2 1] row.
func xrefStreamRow(typ int, f2 int64, f3 int) []byte {
	return []byte{byte(typ), byte(f2 >> 8), byte(f2), byte(f3)}
}

func TestResolveXRefStream(t *testing.T) {
	b := newPDFBuilder()
	b.addObject(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.addObject(2, "<< /Type /Pages /Kids [] /Count 0 >>")

	var rows []byte
	rows = append(rows, xrefStreamRow(0, 0, 0)...)                 // obj 0 free
	rows = append(rows, xrefStreamRow(1, b.offsets[1], 0)...)      // obj 1
	rows = append(rows, xrefStreamRow(1, b.offsets[2], 0)...)      // obj 2
	rows = append(rows, xrefStreamRow(2, 7, 3)...)                 // obj 3 lives in stream 7 at index 3

	xoff := b.pos()
	fmt.Fprintf(&b.buf,
		"4 0 obj\n<< /Type /XRef /Size 4 /W [1 2 1] /Root 1 0 R /Length %d >>\nstream\n",
		len(rows))
	b.buf.Write(rows)
	b.buf.WriteString("\nendstream\nendobj\n")
	pdf := b.finish(xoff)

	tab, err := NewResolver(ResolverConfig{}).Resolve(context.Background(), bytes.NewReader(pdf))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tab.Type() != "stream" {
		t.Fatalf("type %q, want stream", tab.Type())
	}
	off, _, found := tab.Lookup(2)
	if !found || off != b.offsets[2] {
		t.Fatalf("Lookup(2) = %d %v", off, found)
	}
	container, idx, ok := tab.ObjStream(3)
	if !ok || container != 7 || idx != 3 {
		t.Fatalf("ObjStream(3) = %d %d %v", container, idx, ok)
	}
	if _, _, found := tab.Lookup(0); found {
		t.Fatal("free entry resolved")
	}
}

func TestResolveCompressedXRefStream(t *testing.T) {
	b := newPDFBuilder()
	b.addObject(1, "<< /Type /Catalog >>")

	var rows []byte
	rows = append(rows, xrefStreamRow(0, 0, 0)...)
	rows = append(rows, xrefStreamRow(1, b.offsets[1], 0)...)

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(rows); err != nil {
		t.Fatalf("compress: %v", err)
	}
	zw.Close()

	xoff := b.pos()
	fmt.Fprintf(&b.buf,
		"2 0 obj\n<< /Type /XRef /Size 2 /W [1 2 1] /Root 1 0 R /Filter /FlateDecode /Length %d >>\nstream\n",
		compressed.Len())
	b.buf.Write(compressed.Bytes())
	b.buf.WriteString("\nendstream\nendobj\n")
	pdf := b.finish(xoff)

	tab, err := NewResolver(ResolverConfig{}).Resolve(context.Background(), bytes.NewReader(pdf))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	off, _, found := tab.Lookup(1)
	if !found || off != b.offsets[1] {
		t.Fatalf("Lookup(1) = %d %v", off, found)
	}
}

func TestXRefStreamIndirectLengthRejected(t *testing.T) {
	b := newPDFBuilder()
	b.addObject(1, "<< /Type /Catalog >>")
	xoff := b.pos()
	b.buf.WriteString("2 0 obj\n<< /Type /XRef /Size 2 /W [1 2 1] /Root 1 0 R /Length 3 0 R >>\nstream\n\x00\x00\x00\x00\nendstream\nendobj\n")
	pdf := b.finish(xoff)

	if _, err := NewResolver(ResolverConfig{}).Resolve(context.Background(), bytes.NewReader(pdf)); err == nil {
		t.Fatal("indirect Length on xref stream accepted")
	}
}

func TestRepairReconstructsTable(t *testing.T) {
	b := newPDFBuilder()
	b.addObject(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.addObject(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	// startxref points at garbage.
	pdf := b.finish(999999999)

	// Without repair the bad offset is fatal.
	if _, err := NewResolver(ResolverConfig{}).Resolve(context.Background(), bytes.NewReader(pdf)); err == nil {
		t.Fatal("bad startxref accepted without repair")
	}

	tab, err := NewResolver(ResolverConfig{Repair: true}).Resolve(context.Background(), bytes.NewReader(pdf))
	if err != nil {
		t.Fatalf("Resolve with repair: %v", err)
	}
	if tab.Type() != "repaired" {
		t.Fatalf("type %q, want repaired", tab.Type())
	}
	off, _, found := tab.Lookup(1)
	if !found || off != b.offsets[1] {
		t.Fatalf("Lookup(1) = %d %v, want %d", off, found, b.offsets[1])
	}
	if _, ok := raw.DictGet(tab.Trailer(), "Root"); !ok {
		t.Fatal("repair lost the trailer Root")
	}
}

func TestFindStartXRef(t *testing.T) {
	data := []byte("junk\nstartxref\n  1234\n%%EOF")
	off, err := findStartXRef(data)
	if err != nil {
		t.Fatalf("findStartXRef: %v", err)
	}
	if off != 1234 {
		t.Fatalf("got %d, want 1234", off)
	}

	if _, err := findStartXRef([]byte("no marker here")); err == nil {
		t.Fatal("missing startxref accepted")
	}
}
