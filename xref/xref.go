package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/prepress/preflight/ir/raw"
	"github.com/prepress/preflight/recovery"
)

// Table maps object numbers to their location in the file. Objects stored in
// object streams resolve through ObjStream instead of Lookup.
type Table interface {
	Lookup(objNum int) (offset int64, gen int, found bool)
	ObjStream(objNum int) (streamNum int, index int, found bool)
	Objects() []int
	Type() string
}

// Resolver locates and parses cross-reference information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt) (Table, error)
	Trailer() raw.Dictionary
	Repaired() bool
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
}

func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 50
	}
	return &resolver{cfg: cfg}
}

type entry struct {
	offset    int64
	gen       int
	inStream  bool
	streamNum int
	streamIdx int
}

type table struct {
	entries map[int]entry
	kind    string
}

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.inStream {
		return 0, 0, false
	}
	return e.offset, e.gen, true
}

func (t *table) ObjStream(objNum int) (int, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || !e.inStream {
		return 0, 0, false
	}
	return e.streamNum, e.streamIdx, true
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func (t *table) Type() string { return t.kind }

type resolver struct {
	cfg      ResolverConfig
	trailer  raw.Dictionary
	repaired bool
}

func (rs *resolver) Trailer() raw.Dictionary { return rs.trailer }
func (rs *resolver) Repaired() bool          { return rs.repaired }

func (rs *resolver) Resolve(ctx context.Context, r io.ReaderAt) (Table, error) {
	data := readAll(r)
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}

	start, err := findStartXref(data)
	if err != nil {
		return rs.repair(ctx, data, err)
	}

	entries := make(map[int]entry)
	seen := make(map[int64]bool)
	offset := start
	hasStreams := false
	for depth := 0; offset > 0 && depth < rs.cfg.MaxXRefDepth; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if offset >= int64(len(data)) || seen[offset] {
			break
		}
		seen[offset] = true

		var trailer raw.Dictionary
		var prev, xrefStm int64
		if isClassicSection(data, offset) {
			trailer, prev, xrefStm, err = parseClassicSection(data, offset, entries)
		} else {
			trailer, prev, err = parseXrefStreamSection(ctx, data, offset, entries)
			hasStreams = true
		}
		if err != nil {
			if rs.noteError(err, offset) {
				return rs.repair(ctx, data, err)
			}
			return nil, fmt.Errorf("xref section at %d: %w", offset, err)
		}
		if rs.trailer == nil {
			rs.trailer = trailer
		}
		// Hybrid files carry both a classic table and an xref stream.
		if xrefStm > 0 && !seen[xrefStm] {
			seen[xrefStm] = true
			if _, _, err := parseXrefStreamSection(ctx, data, xrefStm, entries); err == nil {
				hasStreams = true
			}
		}
		offset = prev
	}

	if len(entries) == 0 {
		return rs.repair(ctx, data, errors.New("no xref entries found"))
	}
	kind := "table"
	if hasStreams {
		kind = "stream"
	}
	return &table{entries: entries, kind: kind}, nil
}

// noteError reports the error to the recovery strategy and returns true when
// processing should fall back to a repair scan.
func (rs *resolver) noteError(err error, offset int64) bool {
	if rs.cfg.Recovery == nil {
		return false
	}
	action := rs.cfg.Recovery.OnError(nil, err, recovery.Location{ByteOffset: offset, Component: "xref"})
	return action != recovery.ActionFail
}

func (rs *resolver) repair(ctx context.Context, data []byte, cause error) (Table, error) {
	tbl, trailer, err := repairScan(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("xref resolution failed (%v) and repair failed: %w", cause, err)
	}
	if rs.cfg.Recovery != nil {
		rs.cfg.Recovery.OnError(nil, fmt.Errorf("xref rebuilt by full scan: %v", cause), recovery.Location{Component: "xref"})
	}
	rs.repaired = true
	if rs.trailer == nil {
		rs.trailer = trailer
	}
	return tbl, nil
}

func findStartXref(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	rest := data[idx+len("startxref"):]
	fields := bytes.Fields(rest)
	if len(fields) == 0 {
		return 0, errors.New("startxref value missing")
	}
	val, err := strconv.ParseInt(string(fields[0]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	if val <= 0 || val >= int64(len(data)) {
		return 0, fmt.Errorf("startxref offset out of range: %d", val)
	}
	return val, nil
}

func isClassicSection(data []byte, offset int64) bool {
	rest := data[offset:]
	// Skip leading whitespace before the keyword.
	i := 0
	for i < len(rest) && (rest[i] == ' ' || rest[i] == '\r' || rest[i] == '\n' || rest[i] == '\t') {
		i++
	}
	return bytes.HasPrefix(rest[i:], []byte("xref"))
}

func readAll(r io.ReaderAt) []byte {
	var buf bytes.Buffer
	const chunk = int64(64 * 1024)
	tmp := make([]byte, chunk)
	for off := int64(0); ; off += chunk {
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil || int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}
