package filters

import (
	"errors"

	"pdfverify/ir/raw"
)

// applyPredictor undoes the PNG row predictors (10..15) declared in a
// stream's DecodeParms. Predictor 1 and absent params pass data through;
// TIFF predictor 2 is rejected as unsupported.
func applyPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	if params == nil {
		return data, nil
	}
	predictor := raw.DictInt(params, "Predictor", 1)
	if predictor <= 1 {
		return data, nil
	}
	if predictor == 2 {
		return nil, errors.New("TIFF predictor not supported")
	}
	if predictor < 10 || predictor > 15 {
		return nil, errors.New("unknown predictor")
	}

	columns := raw.DictInt(params, "Columns", 1)
	colors := raw.DictInt(params, "Colors", 1)
	bpc := raw.DictInt(params, "BitsPerComponent", 8)
	if columns <= 0 || colors <= 0 || bpc <= 0 {
		return nil, errors.New("invalid predictor parameters")
	}

	bpp := int((colors*bpc + 7) / 8)
	rowLen := int((columns*colors*bpc + 7) / 8)
	if rowLen <= 0 || bpp <= 0 {
		return nil, errors.New("invalid predictor row size")
	}
	stride := rowLen + 1 // each row is prefixed with a filter-type byte
	if len(data)%stride != 0 {
		return nil, errors.New("predicted data not a whole number of rows")
	}

	out := make([]byte, 0, len(data)/stride*rowLen)
	prev := make([]byte, rowLen)
	row := make([]byte, rowLen)
	for off := 0; off < len(data); off += stride {
		ft := data[off]
		copy(row, data[off+1:off+stride])
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < rowLen; i++ {
				row[i] += row[i-bpp]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				row[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				var left int
				if i >= bpp {
					left = int(row[i-bpp])
				}
				row[i] += byte((left + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				var left, upLeft int
				if i >= bpp {
					left = int(row[i-bpp])
					upLeft = int(prev[i-bpp])
				}
				row[i] += byte(paeth(left, int(prev[i]), upLeft))
			}
		default:
			return nil, errors.New("invalid PNG filter type")
		}
		out = append(out, row...)
		copy(prev, row)
	}
	return out, nil
}

func paeth(a, b, c int) int {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
