package filters

import (
	"fmt"
	"io"
)

// applyPredictor reverses the TIFF (predictor 2) or PNG (predictors
// 10-15) row-prediction filter that flate/LZW data may carry, per PDF
// 1.7 table 8 (DecodeParms Predictor). Predictor 0 or 1 means "no
// prediction was applied": the data passes through unchanged.
func applyPredictor(data []byte, p Params) ([]byte, error) {
	switch p.Predictor {
	case 0, 1:
		return data, nil
	case 2:
		return applyTIFFPredictor(data, p)
	case 10, 11, 12, 13, 14, 15:
		return applyPNGPredictor(data, p)
	default:
		return nil, fmt.Errorf("filter: unsupported Predictor %d", p.Predictor)
	}
}

func applyTIFFPredictor(data []byte, p Params) ([]byte, error) {
	if p.BitsPerComp != 8 {
		// Sub-byte TIFF prediction is not needed by any scenario this
		// engine targets; PDF producers overwhelmingly use 8 bpc here.
		return nil, fmt.Errorf("filter: TIFF predictor only supports 8 bits per component, got %d", p.BitsPerComp)
	}
	colors := p.Colors
	if colors <= 0 {
		colors = 1
	}
	rowSize := colors * p.Columns
	if rowSize <= 0 {
		return data, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	for start := 0; start+rowSize <= len(out); start += rowSize {
		row := out[start : start+rowSize]
		for i := colors; i < len(row); i++ {
			row[i] += row[i-colors]
		}
	}
	return out, nil
}

func applyPNGPredictor(data []byte, p Params) ([]byte, error) {
	colors := p.Colors
	if colors <= 0 {
		colors = 1
	}
	bpc := p.BitsPerComp
	if bpc <= 0 {
		bpc = 8
	}
	bytesPerPixel := (bpc*colors + 7) / 8
	rowSize := (bpc*colors*p.Columns + 7) / 8
	if rowSize <= 0 {
		return nil, fmt.Errorf("filter: invalid Columns/Colors/BitsPerComponent for PNG predictor")
	}

	cr := make([]byte, rowSize+1)
	pr := make([]byte, rowSize+1)

	var out []byte
	src := data
	for len(src) > 0 {
		n := copy(cr, src)
		if n < len(cr) {
			return nil, io.ErrUnexpectedEOF
		}
		src = src[len(cr):]

		if err := unfilterPNGRow(pr[1:], cr, bytesPerPixel); err != nil {
			return nil, err
		}
		out = append(out, cr[1:]...)
		pr, cr = cr, pr
	}
	return out, nil
}

// unfilterPNGRow reverses the PNG filter byte at cr[0] in place, writing
// the reconstructed row into cr[1:]. prev is the previously reconstructed
// row's pixel bytes (without its own filter byte).
func unfilterPNGRow(prev []byte, cr []byte, bpp int) error {
	filterType := cr[0]
	cdat := cr[1:]
	switch filterType {
	case 0: // None
	case 1: // Sub
		for i := bpp; i < len(cdat); i++ {
			cdat[i] += cdat[i-bpp]
		}
	case 2: // Up
		for i := range cdat {
			cdat[i] += prev[i]
		}
	case 3: // Average
		for i := 0; i < bpp; i++ {
			cdat[i] += prev[i] / 2
		}
		for i := bpp; i < len(cdat); i++ {
			cdat[i] += byte((int(cdat[i-bpp]) + int(prev[i])) / 2)
		}
	case 4: // Paeth
		filterPaeth(cdat, prev, bpp)
	default:
		return fmt.Errorf("filter: unsupported PNG row filter type %d", filterType)
	}
	return nil
}

func filterPaeth(cdat, prev []byte, bpp int) {
	var a, b, c, pa, pb, pc int32
	for i := 0; i < bpp; i++ {
		a, c = 0, 0
		for j := i; j < len(cdat); j += bpp {
			b = int32(prev[j])
			pa = b - c
			pb = a - c
			pc = absInt32(pa + pb)
			pa = absInt32(pa)
			pb = absInt32(pb)
			switch {
			case pa <= pb && pa <= pc:
				// predictor stays 'a' (no-op)
			case pb <= pc:
				a = b
			default:
				a = c
			}
			a += int32(cdat[j])
			a &= 0xff
			cdat[j] = uint8(a)
			c = b
		}
	}
}

func absInt32(x int32) int32 {
	m := x >> 31
	return (x ^ m) - m
}
