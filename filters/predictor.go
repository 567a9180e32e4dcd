package filters

import (
	"errors"

	"github.com/prepress/preflight/ir/raw"
)

// applyPredictor reverses the Predictor transform declared in DecodeParms.
// Predictor 1 (or absent) is the identity; 2 is TIFF horizontal differencing;
// 10..15 are the PNG filter set applied row by row.
func applyPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	if params == nil {
		return data, nil
	}
	predictor, _ := raw.DictInt(params, "Predictor", nil)
	if predictor <= 1 {
		return data, nil
	}
	colors := int64(1)
	if v, ok := raw.DictInt(params, "Colors", nil); ok && v > 0 {
		colors = v
	}
	bpc := int64(8)
	if v, ok := raw.DictInt(params, "BitsPerComponent", nil); ok && v > 0 {
		bpc = v
	}
	columns := int64(1)
	if v, ok := raw.DictInt(params, "Columns", nil); ok && v > 0 {
		columns = v
	}
	bpp := int((colors*bpc + 7) / 8)            // bytes per pixel
	rowLen := int((colors*bpc*columns + 7) / 8) // bytes per row
	if bpp <= 0 || rowLen <= 0 {
		return nil, errors.New("invalid predictor parameters")
	}

	if predictor == 2 {
		if bpc != 8 {
			// Sub-byte TIFF predictors are vanishingly rare; refuse rather
			// than silently corrupt.
			return nil, errors.New("TIFF predictor requires 8 bits per component")
		}
		for r := 0; r+rowLen <= len(data); r += rowLen {
			row := data[r : r+rowLen]
			for i := bpp; i < len(row); i++ {
				row[i] += row[i-bpp]
			}
		}
		return data, nil
	}

	// PNG predictors: each row is prefixed with a filter-type byte.
	in := data
	stride := rowLen + 1
	rows := len(in) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	for r := 0; r+stride <= len(in); r += stride {
		ft := in[r]
		row := append([]byte(nil), in[r+1:r+stride]...)
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < len(row); i++ {
				row[i] += row[i-bpp]
			}
		case 2: // Up
			for i := range row {
				row[i] += prev[i]
			}
		case 3: // Average
			for i := range row {
				var left byte
				if i >= bpp {
					left = row[i-bpp]
				}
				row[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := range row {
				var left, upLeft byte
				if i >= bpp {
					left = row[i-bpp]
					upLeft = prev[i-bpp]
				}
				row[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, errors.New("unknown PNG predictor filter type")
		}
		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
