package filters

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"compress/zlib"
	"context"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/image/ccitt"

	"github.com/prepress/preflight/ir/raw"
)

// flateDecoder implements FlateDecode with optional predictor post-processing.
type flateDecoder struct{}

func NewFlateDecoder() Decoder { return flateDecoder{} }

func (flateDecoder) Name() string { return "FlateDecode" }

func (flateDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var r io.ReadCloser
	zr, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		// Some producers omit the zlib wrapper and emit bare deflate.
		r = flate.NewReader(bytes.NewReader(in))
	} else {
		r = zr
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

// lzwDecoder implements LZWDecode. PDF uses the MSB-first TIFF variant.
type lzwDecoder struct{}

func NewLZWDecoder() Decoder { return lzwDecoder{} }

func (lzwDecoder) Name() string { return "LZWDecode" }

func (lzwDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	r := lzw.NewReader(bytes.NewReader(in), lzw.MSB, 8)
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

// runLengthDecoder implements RunLengthDecode (PDF 7.4.5).
type runLengthDecoder struct{}

func NewRunLengthDecoder() Decoder { return runLengthDecoder{} }

func (runLengthDecoder) Name() string { return "RunLengthDecode" }

func (runLengthDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(in); {
		l := in[i]
		i++
		if l == 128 { // EOD
			break
		}
		if l < 128 {
			n := int(l) + 1
			if i+n > len(in) {
				return nil, errors.New("run length literal overruns input")
			}
			out.Write(in[i : i+n])
			i += n
			continue
		}
		if i >= len(in) {
			return nil, errors.New("run length repeat overruns input")
		}
		n := 257 - int(l)
		b := in[i]
		i++
		for k := 0; k < n; k++ {
			out.WriteByte(b)
		}
	}
	return out.Bytes(), nil
}

type asciiHexDecoder struct{}

func NewASCIIHexDecoder() Decoder { return asciiHexDecoder{} }

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var cleaned []byte
	for _, c := range in {
		if c == '>' {
			break
		}
		if c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20 {
			continue
		}
		cleaned = append(cleaned, c)
	}
	if len(cleaned)%2 == 1 {
		cleaned = append(cleaned, '0')
	}
	out := make([]byte, hex.DecodedLen(len(cleaned)))
	n, err := hex.Decode(out, cleaned)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

type ascii85Decoder struct{}

func NewASCII85Decoder() Decoder { return ascii85Decoder{} }

func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	if bytes.HasPrefix(trimmed, []byte("<~")) {
		trimmed = trimmed[2:]
	}
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, len(trimmed)*4)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// ccittDecoder implements CCITTFaxDecode for Group 3/4 image streams.
type ccittDecoder struct{}

func NewCCITTDecoder() Decoder { return ccittDecoder{} }

func (ccittDecoder) Name() string { return "CCITTFaxDecode" }

func (ccittDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	columns := int64(1728)
	if v, ok := raw.DictInt(params, "Columns", nil); ok {
		columns = v
	}
	rows := int64(0)
	if v, ok := raw.DictInt(params, "Rows", nil); ok {
		rows = v
	}
	k := int64(0)
	if v, ok := raw.DictInt(params, "K", nil); ok {
		k = v
	}
	blackIs1 := false
	if v, ok := raw.DictBool(params, "BlackIs1", nil); ok {
		blackIs1 = v
	}
	byteAlign := false
	if v, ok := raw.DictBool(params, "EncodedByteAlign", nil); ok {
		byteAlign = v
	}

	var subFormat ccitt.SubFormat
	switch {
	case k < 0:
		subFormat = ccitt.Group4
	case k == 0:
		subFormat = ccitt.Group3
	default:
		// Mixed 1D/2D Group 3 is not supported by the decoder; treat as 1D.
		subFormat = ccitt.Group3
	}

	opts := &ccitt.Options{Invert: !blackIs1, Align: byteAlign}
	h := int(rows)
	if h <= 0 {
		// Rows is optional; pick a defensive upper bound and trim on EOF.
		h = 1 << 16
	}
	r := ccitt.NewReader(bytes.NewReader(in), ccitt.MSB, subFormat, int(columns), h, opts)
	out, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return out, nil
}

// dctDecoder passes DCTDecode (JPEG) data through untouched; image analysis
// reads parameters from the image dictionary rather than the pixels.
type dctDecoder struct{}

func NewDCTDecoder() Decoder { return dctDecoder{} }

func (dctDecoder) Name() string { return "DCTDecode" }

func (dctDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	return in, nil
}

// jpxDecoder passes JPXDecode (JPEG 2000) data through untouched.
type jpxDecoder struct{}

func NewJPXDecoder() Decoder { return jpxDecoder{} }

func (jpxDecoder) Name() string { return "JPXDecode" }

func (jpxDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	return in, nil
}
