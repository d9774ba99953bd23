// Package host implements the word-oriented boundary protocol: a framed
// input buffer in, a fixed eight-word result record out. The framing
// and error codes match the protocol's original definition, so records
// produced here can be compared against ones produced elsewhere.
package host

import (
	"context"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"pdfverify"
)

// Input framing:
//
//	u32 BE pdf size | pdf bytes, zero-padded to a 4-byte multiple |
//	u32 BE text size | text bytes, zero-padded to a 4-byte multiple |
//	u32 BE page selector (AllPagesSelector = every page)
const AllPagesSelector = 0xFFFFFFFF

// Error codes carried in word 1 of a failure record.
const (
	CodeInvalidInputSize = 1
	CodeProcessingFailed = 2
	CodeInvalidUTF8      = 3
	CodeBadHeader        = 5
)

// errorWord marks word 0 of every failure record.
const errorWord = 0xFFFFFFFF

// Record is the eight-word output. On success:
//
//	[0] signature valid (1/0)   [1] text found (1/0)
//	[2] matched page index      [3] page count
//	[4] pdf size                [5] page text hash
//	[6] expected text size      [7] reserved, zero
//
// On failure word 0 is 0xFFFFFFFF, word 1 the error code; code 2 puts a
// hash of the error text in word 2, code 5 echoes the first four header
// bytes in words 2..5.
type Record [8]uint32

// Encode serializes the record as big-endian words.
func (r Record) Encode() []byte {
	out := make([]byte, 32)
	for i, w := range r {
		binary.BigEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// Input is a decoded boundary request.
type Input struct {
	PDF          []byte
	ExpectedText string
	PageSelector uint32
}

// PageFilter converts the wire selector to the library's convention.
func (in Input) PageFilter() int {
	if in.PageSelector == AllPagesSelector {
		return pdfverify.AllPages
	}
	return int(in.PageSelector)
}

func pad4(n int) int { return (n + 3) &^ 3 }

// DecodeInput parses the framed buffer. A framing violation is reported
// as (zero Input, false); the caller maps it to CodeInvalidInputSize.
func DecodeInput(buf []byte) (Input, bool) {
	if len(buf) < 4 {
		return Input{}, false
	}
	pdfSize := int(binary.BigEndian.Uint32(buf))
	pos := 4
	if pdfSize < 0 || pos+pad4(pdfSize) > len(buf) {
		return Input{}, false
	}
	pdf := buf[pos : pos+pdfSize]
	pos += pad4(pdfSize)

	if pos+4 > len(buf) {
		return Input{}, false
	}
	textSize := int(binary.BigEndian.Uint32(buf[pos:]))
	pos += 4
	if textSize < 0 || pos+pad4(textSize) > len(buf) {
		return Input{}, false
	}
	text := buf[pos : pos+textSize]
	pos += pad4(textSize)

	if pos+4 > len(buf) {
		return Input{}, false
	}
	selector := binary.BigEndian.Uint32(buf[pos:])

	return Input{PDF: pdf, ExpectedText: string(text), PageSelector: selector}, true
}

// Run executes the full boundary contract over a framed input buffer.
// It never panics: unexpected faults become a CodeProcessingFailed
// record.
func Run(ctx context.Context, buf []byte, opts pdfverify.Options) (rec Record) {
	defer func() {
		if r := recover(); r != nil {
			rec = failureRecord(CodeProcessingFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	in, ok := DecodeInput(buf)
	if !ok {
		return Record{errorWord, CodeInvalidInputSize, 0, 0, 0, 0, 0, 0}
	}

	if len(in.PDF) < 5 || string(in.PDF[:5]) != "%PDF-" {
		rec := Record{errorWord, CodeBadHeader, 0, 0, 0, 0, 0, 0}
		for i := 0; i < 4 && i < len(in.PDF); i++ {
			rec[2+i] = uint32(in.PDF[i])
		}
		return rec
	}

	if !utf8.ValidString(in.ExpectedText) {
		return Record{errorWord, CodeInvalidUTF8, 0, 0, 0, 0, 0, 0}
	}

	res, err := pdfverify.ValidateAndExtract(ctx, in.PDF, in.ExpectedText, in.PageFilter(), opts)
	if err != nil {
		return failureRecord(CodeProcessingFailed, err.Error())
	}

	return Record{
		boolWord(res.SignatureValid),
		boolWord(res.Found),
		uint32(res.PageIndex),
		uint32(res.PageCount),
		uint32(len(in.PDF)),
		res.TextHash,
		uint32(len(in.ExpectedText)),
		0,
	}
}

func failureRecord(code uint32, msg string) Record {
	rec := Record{errorWord, code, 0, 0, 0, 0, 0, 0}
	if code == CodeProcessingFailed {
		rec[2] = ErrorContextHash(msg)
	}
	return rec
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// ErrorContextHash folds the first 16 bytes of an error message into a
// 32-bit diagnostic: hash = rotl(hash, 3) XOR byte.
func ErrorContextHash(msg string) uint32 {
	var h uint32
	b := []byte(msg)
	if len(b) > 16 {
		b = b[:16]
	}
	for _, c := range b {
		h = (h<<3 | h>>29) ^ uint32(c)
	}
	return h
}
