package xref

import (
	"bytes"
	"context"
	"errors"
	"io"

	"pdfverify/ir/raw"
	"pdfverify/recovery"
	"pdfverify/scanner"
)

// repair scans the entire file to reconstruct the xref table.
// It looks for "<num> <gen> obj" patterns and "trailer" dictionaries.
// Later definitions shadow earlier ones, which matches incremental
// updates written in file order.
func repair(ctx context.Context, data []byte) (Table, error) {
	s := scanner.New(bytes.NewReader(data), scanner.Config{Recovery: recovery.Lenient{}})
	entries := make(map[int]entry)
	var lastTrailer *raw.DictObj

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Skip a byte and keep scanning; a repair pass must survive
			// arbitrary garbage between objects.
			if serr := s.SeekTo(s.Position() + 1); serr != nil {
				break
			}
			continue
		}

		if tok.Type == scanner.TokenNumber && tok.IsInt {
			objNum := int(tok.Int)

			tokGen, err := s.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				continue
			}
			if tokGen.Type == scanner.TokenNumber && tokGen.IsInt {
				gen := int(tokGen.Int)

				tokObj, err := s.Next()
				if err != nil {
					if errors.Is(err, io.EOF) {
						break
					}
					continue
				}
				if tokObj.Type == scanner.TokenKeyword && tokObj.Str == "obj" {
					entries[objNum] = entry{offset: tok.Pos, gen: gen}
					continue
				}
				// Mismatch. Backtrack to tokGen so a definition starting
				// there is not skipped.
				if err := s.SeekTo(tokGen.Pos); err != nil {
					return nil, err
				}
				continue
			}
		} else if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			tr := &tokenReader{s: s}
			obj, err := parseObject(tr)
			if err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					lastTrailer = dict
				}
			}
		}
	}

	if len(entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}

	if lastTrailer == nil {
		lastTrailer = raw.Dict()
		lastTrailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(len(entries))))
	}

	return &table{
		entries:  entries,
		inStream: make(map[int]streamEntry),
		trailer:  lastTrailer,
		kind:     "repaired",
	}, nil
}
