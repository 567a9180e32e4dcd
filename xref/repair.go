package xref

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/prepress/preflight/ir/raw"
)

var objHeaderRE = regexp.MustCompile(`(?:^|[\r\n\t\f ])(\d{1,10})[\r\n\t\f ]+(\d{1,5})[\r\n\t\f ]+obj\b`)

// repairScan rebuilds a cross-reference table by scanning the whole file for
// indirect object headers. The last occurrence of an object number wins,
// since incremental updates append newer generations.
func repairScan(ctx context.Context, data []byte) (Table, raw.Dictionary, error) {
	matches := objHeaderRE.FindAllSubmatchIndex(data, -1)
	if len(matches) == 0 {
		return nil, nil, errors.New("no indirect objects found")
	}

	entries := make(map[int]entry, len(matches))
	for i, m := range matches {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		num, err := strconv.Atoi(string(data[m[2]:m[3]]))
		if err != nil {
			continue
		}
		gen, err := strconv.Atoi(string(data[m[4]:m[5]]))
		if err != nil {
			continue
		}
		entries[num] = entry{offset: int64(m[2]), gen: gen}
	}
	if len(entries) == 0 {
		return nil, nil, errors.New("no indirect objects found")
	}

	trailer := findTrailerDict(data)
	if trailer == nil {
		trailer = findCatalogTrailer(ctx, data, entries)
	}
	return &table{entries: entries, kind: "repaired"}, trailer, nil
}

// findTrailerDict parses the last trailer dictionary in the file, walking
// backwards until one parses cleanly.
func findTrailerDict(data []byte) raw.Dictionary {
	end := len(data)
	for end > 0 {
		idx := bytes.LastIndex(data[:end], []byte("trailer"))
		if idx < 0 {
			return nil
		}
		if dict, err := parseDictAt(data, int64(idx+len("trailer"))); err == nil {
			return dict
		}
		end = idx
	}
	return nil
}

// findCatalogTrailer synthesizes a trailer by locating the document catalog.
// Files whose trailer lives only in a corrupt xref stream end up here.
func findCatalogTrailer(ctx context.Context, data []byte, entries map[int]entry) raw.Dictionary {
	for num, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if e.offset < 0 || e.offset >= int64(len(data)) {
			continue
		}
		p := newObjScanner(data[e.offset:])
		_, obj, err := p.parseIndirect()
		if err != nil {
			continue
		}
		dict, ok := obj.(*raw.DictObj)
		if !ok {
			continue
		}
		if t, _ := raw.DictName(dict, "Type", nil); t == "Catalog" {
			trailer := raw.Dict()
			trailer.Set(raw.NameLiteral("Root"), raw.Ref(num, e.gen))
			trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(len(entries))+1))
			return trailer
		}
	}
	return nil
}
