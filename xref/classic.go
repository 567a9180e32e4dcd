package xref

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/prepress/preflight/ir/raw"
)

// parseClassicSection parses a classic "xref" table plus its trailer.
// Entries already present in entries are kept: callers walk sections newest
// first and newer updates win.
func parseClassicSection(data []byte, offset int64, entries map[int]entry) (trailer raw.Dictionary, prev, xrefStm int64, err error) {
	sc := bufio.NewScanner(bytes.NewReader(data[offset:]))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "xref" {
		return nil, 0, 0, errors.New("xref keyword not found at offset")
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "trailer") {
			break
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, 0, 0, fmt.Errorf("invalid xref subsection header: %q", line)
		}
		startObj, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, 0, 0, fmt.Errorf("parse xref start: %w", err)
		}
		count, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, 0, 0, fmt.Errorf("parse xref count: %w", err)
		}
		for i := 0; i < count; i++ {
			if !sc.Scan() {
				return nil, 0, 0, errors.New("unexpected end of xref section")
			}
			entryLine := strings.TrimSpace(sc.Text())
			fields := strings.Fields(entryLine)
			if len(fields) < 3 {
				return nil, 0, 0, fmt.Errorf("invalid xref entry: %q", entryLine)
			}
			off, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return nil, 0, 0, fmt.Errorf("parse xref offset: %w", err)
			}
			gen, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, 0, 0, fmt.Errorf("parse xref gen: %w", err)
			}
			if fields[2] != "n" {
				continue // free entry
			}
			num := startObj + i
			if _, exists := entries[num]; !exists {
				entries[num] = entry{offset: off, gen: gen}
			}
		}
	}

	// The trailer keyword follows the subsections; the entry lines cannot
	// contain the word, so a byte search from the section start is safe.
	idx := bytes.Index(data[offset:], []byte("trailer"))
	if idx < 0 {
		// A trailer is required after a classic table, but a missing one
		// should not sink the whole parse.
		return nil, 0, 0, nil
	}
	dict, err := parseDictAt(data, offset+int64(idx)+int64(len("trailer")))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("parse trailer: %w", err)
	}
	if v, ok := raw.DictInt(dict, "Prev", nil); ok {
		prev = v
	}
	if v, ok := raw.DictInt(dict, "XRefStm", nil); ok {
		xrefStm = v
	}
	return dict, prev, xrefStm, nil
}

// parseDictAt scans a dictionary object starting at or after offset.
func parseDictAt(data []byte, offset int64) (raw.Dictionary, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, errors.New("dictionary offset out of range")
	}
	tr := newObjScanner(data[offset:])
	obj, err := tr.parseObject()
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, errors.New("expected dictionary")
	}
	return dict, nil
}
