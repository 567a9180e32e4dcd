package xref

import (
	"context"
	"errors"
	"fmt"

	"github.com/prepress/preflight/filters"
	"github.com/prepress/preflight/ir/raw"
)

// parseXrefStreamSection parses an xref stream object (PDF 1.5+) at offset,
// merging its entries into entries. Existing entries win, matching the
// newest-first walk in Resolve.
func parseXrefStreamSection(ctx context.Context, data []byte, offset int64, entries map[int]entry) (raw.Dictionary, int64, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, 0, errors.New("xref stream offset out of range")
	}

	p := newObjScanner(data[offset:])
	_, obj, err := p.parseIndirect()
	if err != nil {
		return nil, 0, fmt.Errorf("parse xref stream object: %w", err)
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, 0, errors.New("object at xref offset is not a stream")
	}
	if t, _ := raw.DictName(st.Dict, "Type", nil); t != "" && t != "XRef" {
		return nil, 0, fmt.Errorf("unexpected xref stream type %q", t)
	}

	names, params := filters.ExtractFilters(st.Dict)
	pipeline := filters.NewDefaultPipeline(filters.Limits{})
	decoded, err := pipeline.Decode(ctx, st.Data, names, params)
	if err != nil {
		return nil, 0, fmt.Errorf("decode xref stream: %w", err)
	}

	widths, err := fieldWidths(st.Dict)
	if err != nil {
		return nil, 0, err
	}
	size, ok := raw.DictInt(st.Dict, "Size", nil)
	if !ok {
		return nil, 0, errors.New("xref stream missing Size")
	}
	subsections, err := indexSubsections(st.Dict, size)
	if err != nil {
		return nil, 0, err
	}

	rowLen := widths[0] + widths[1] + widths[2]
	pos := 0
	for _, sub := range subsections {
		for i := int64(0); i < sub.count; i++ {
			if pos+rowLen > len(decoded) {
				return nil, 0, errors.New("xref stream data shorter than Index declares")
			}
			row := decoded[pos : pos+rowLen]
			pos += rowLen

			// A zero-width type field defaults to 1 (in-use entry).
			typ := int64(1)
			if widths[0] > 0 {
				typ = readField(row[:widths[0]])
			}
			f2 := readField(row[widths[0] : widths[0]+widths[1]])
			f3 := readField(row[widths[0]+widths[1]:])

			num := int(sub.start + i)
			if _, exists := entries[num]; exists {
				continue
			}
			switch typ {
			case 0:
				// free entry
			case 1:
				entries[num] = entry{offset: f2, gen: int(f3)}
			case 2:
				entries[num] = entry{inStream: true, streamNum: int(f2), streamIdx: int(f3)}
			}
		}
	}

	prev, _ := raw.DictInt(st.Dict, "Prev", nil)
	return st.Dict, prev, nil
}

func fieldWidths(dict raw.Dictionary) ([3]int, error) {
	var widths [3]int
	wObj, ok := dict.Get(raw.NameLiteral("W"))
	if !ok {
		return widths, errors.New("xref stream missing W")
	}
	arr, ok := wObj.(*raw.ArrayObj)
	if !ok || arr.Len() < 3 {
		return widths, errors.New("xref stream W must hold three widths")
	}
	for i := 0; i < 3; i++ {
		n, ok := arr.Items[i].(raw.NumberObj)
		if !ok || n.Int() < 0 || n.Int() > 8 {
			return widths, errors.New("invalid xref stream field width")
		}
		widths[i] = int(n.Int())
	}
	return widths, nil
}

type subsection struct {
	start, count int64
}

func indexSubsections(dict raw.Dictionary, size int64) ([]subsection, error) {
	idxObj, ok := dict.Get(raw.NameLiteral("Index"))
	if !ok {
		return []subsection{{start: 0, count: size}}, nil
	}
	arr, ok := idxObj.(*raw.ArrayObj)
	if !ok || arr.Len()%2 != 0 {
		return nil, errors.New("xref stream Index must hold start/count pairs")
	}
	var subs []subsection
	for i := 0; i+1 < arr.Len(); i += 2 {
		start, okA := arr.Items[i].(raw.NumberObj)
		count, okB := arr.Items[i+1].(raw.NumberObj)
		if !okA || !okB || start.Int() < 0 || count.Int() < 0 {
			return nil, errors.New("invalid xref stream Index pair")
		}
		subs = append(subs, subsection{start: start.Int(), count: count.Int()})
	}
	return subs, nil
}

func readField(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}
