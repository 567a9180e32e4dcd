package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/prepress/preflight/filters"
	"github.com/prepress/preflight/ir/raw"
	"github.com/prepress/preflight/recovery"
	"github.com/prepress/preflight/scanner"
	"github.com/prepress/preflight/security"
	"github.com/prepress/preflight/xref"
)

// Cache stores loaded objects across Load calls.
type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

// ObjectLoader loads single indirect objects on demand, following the xref
// table into object streams when needed.
type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	reader    io.ReaderAt
	xrefTable xref.Table
	security  security.Handler
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy
}

func (b *ObjectLoaderBuilder) WithReader(r io.ReaderAt) *ObjectLoaderBuilder {
	b.reader = r
	return b
}
func (b *ObjectLoaderBuilder) WithXRef(t xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = t
	return b
}
func (b *ObjectLoaderBuilder) WithSecurity(h security.Handler) *ObjectLoaderBuilder {
	b.security = h
	return b
}
func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}
func (b *ObjectLoaderBuilder) WithCache(c Cache) *ObjectLoaderBuilder { b.cache = c; return b }
func (b *ObjectLoaderBuilder) WithRecovery(s recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = s
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.reader == nil || b.xrefTable == nil {
		return nil, errors.New("reader and xref table required")
	}
	sec := b.security
	if sec == nil {
		sec = security.NoopHandler()
	}
	limits := b.limits
	if limits == (security.Limits{}) {
		limits = security.DefaultLimits()
	}
	return &objectLoader{
		reader:    b.reader,
		xrefTable: b.xrefTable,
		security:  sec,
		limits:    limits,
		cache:     b.cache,
		recovery:  b.recovery,
	}, nil
}

type objectLoader struct {
	reader    io.ReaderAt
	xrefTable xref.Table
	security  security.Handler
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy

	mu     sync.Mutex
	objstm map[int]map[int]raw.Object
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if o.cache != nil {
		if obj, ok := o.cache.Get(ref); ok {
			return obj, nil
		}
	}
	obj, err := o.loadOnce(ctx, ref)
	if err != nil {
		return nil, err
	}
	if o.cache != nil {
		o.cache.Put(ref, obj)
	}
	return obj, nil
}

func (o *objectLoader) loadOnce(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	offset, gen, found := o.xrefTable.Lookup(ref.Num)
	if !found {
		if osNum, idx, ok := o.xrefTable.ObjStream(ref.Num); ok {
			return o.loadFromObjectStream(ctx, ref, osNum, idx)
		}
		return nil, &raw.MissingObjectError{Ref: ref}
	}
	return o.loadAtOffset(ctx, ref.Num, offset, gen)
}

// loadAtOffset parses "num gen obj <body>" at a file offset. The caller holds
// the loader mutex.
func (o *objectLoader) loadAtOffset(ctx context.Context, objNum int, offset int64, gen int) (raw.Object, error) {
	s := o.newScanner(o.reader)
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tr := newTokenReader(s)

	tokNum, err := tr.next()
	if err != nil {
		return nil, err
	}
	if tokNum.Type != scanner.TokenNumber || !tokNum.IsInt || int(tokNum.Int) != objNum {
		return nil, fmt.Errorf("object %d: header number mismatch", objNum)
	}
	tokGen, err := tr.next()
	if err != nil {
		return nil, err
	}
	if tokGen.Type != scanner.TokenNumber || !tokGen.IsInt {
		return nil, fmt.Errorf("object %d: header generation mismatch", objNum)
	}
	tokObj, err := tr.next()
	if err != nil {
		return nil, err
	}
	if tokObj.Type != scanner.TokenKeyword || tokObj.Str != "obj" {
		return nil, fmt.Errorf("object %d: expected obj keyword", objNum)
	}

	obj, err := parseObject(tr, o.recovery, objNum, gen)
	if err != nil {
		return nil, err
	}
	if dict, ok := obj.(*raw.DictObj); ok {
		// Length may be indirect; resolve it before the stream token so the
		// scanner can slice the payload instead of hunting for endstream.
		hint, err := o.resolveStreamLength(ctx, dict)
		if err != nil {
			return nil, err
		}
		tr.setStreamLengthHint(hint)
		if streamTok, err := tr.next(); err == nil && streamTok.Type == scanner.TokenStream {
			obj = raw.NewStream(dict, streamTok.Bytes)
		} else if err == nil {
			tr.unread(streamTok)
		}
	}
	return o.decryptObject(raw.ObjectRef{Num: objNum, Gen: gen}, obj)
}

func (o *objectLoader) newScanner(r io.ReaderAt) scanner.Scanner {
	return scanner.New(r, scanner.Config{
		Recovery:        o.recovery,
		MaxStringLength: o.limits.MaxStringLength,
		MaxArrayDepth:   o.limits.MaxArraySize,
		MaxDictDepth:    o.limits.MaxDictSize,
		MaxStreamLength: o.limits.MaxStreamLength,
	})
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, ref raw.ObjectRef, objStreamNum, idx int) (raw.Object, error) {
	if objs, ok := o.objstm[objStreamNum]; ok {
		if obj, ok := objs[ref.Num]; ok {
			return obj, nil
		}
		return nil, fmt.Errorf("object %d not in object stream %d", ref.Num, objStreamNum)
	}

	offset, gen, ok := o.xrefTable.Lookup(objStreamNum)
	if !ok {
		return nil, fmt.Errorf("object stream %d missing from xref", objStreamNum)
	}
	streamObj, err := o.loadAtOffset(ctx, objStreamNum, offset, gen)
	if err != nil {
		return nil, err
	}
	st, ok := streamObj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("object %d is not an object stream", objStreamNum)
	}

	nObj, _ := raw.DictInt(st.Dict, "N", nil)
	first, _ := raw.DictInt(st.Dict, "First", nil)
	data := st.Data
	names, params := filters.ExtractFilters(st.Dict)
	if len(names) > 0 {
		pipeline := filters.NewDefaultPipeline(filters.Limits{
			MaxDecompressedSize: o.limits.MaxDecompressedSize,
			MaxDecodeTime:       o.limits.MaxDecodeTime,
		})
		data, err = pipeline.Decode(ctx, data, names, params)
		if err != nil {
			return nil, fmt.Errorf("decode object stream %d: %w", objStreamNum, err)
		}
	}
	if first < 0 || first > int64(len(data)) {
		return nil, fmt.Errorf("object stream %d: First out of range", objStreamNum)
	}

	// Header: nObj pairs of "objnum offset" relative to First.
	header := o.newScanner(bytes.NewReader(data[:first]))
	pairs := make([]int, 0, 2*nObj)
	for int64(len(pairs)) < 2*nObj {
		tok, err := header.Next()
		if err != nil {
			return nil, fmt.Errorf("object stream %d header: %w", objStreamNum, err)
		}
		if tok.Type == scanner.TokenNumber && tok.IsInt {
			pairs = append(pairs, int(tok.Int))
		}
	}

	body := data[first:]
	objs := make(map[int]raw.Object, nObj)
	for i := 0; i+1 < len(pairs); i += 2 {
		num, off := pairs[i], pairs[i+1]
		if off < 0 || off > len(body) {
			return nil, fmt.Errorf("object stream %d: offset for object %d out of range", objStreamNum, num)
		}
		tr := newTokenReader(o.newScanner(bytes.NewReader(body[off:])))
		obj, err := parseObject(tr, o.recovery, num, 0)
		if err != nil {
			return nil, fmt.Errorf("object stream %d: parse object %d: %w", objStreamNum, num, err)
		}
		objs[num] = obj
	}
	if o.objstm == nil {
		o.objstm = make(map[int]map[int]raw.Object)
	}
	o.objstm[objStreamNum] = objs

	if obj, ok := objs[ref.Num]; ok {
		return obj, nil
	}
	return nil, fmt.Errorf("object %d not in object stream %d", ref.Num, objStreamNum)
}

func (o *objectLoader) resolveStreamLength(ctx context.Context, dict *raw.DictObj) (int64, error) {
	val, ok := dict.Get(raw.NameLiteral("Length"))
	if !ok {
		return -1, nil
	}
	switch v := val.(type) {
	case raw.NumberObj:
		return v.Int(), nil
	case raw.RefObj:
		offset, gen, ok := o.xrefTable.Lookup(v.R.Num)
		if !ok {
			return -1, nil
		}
		obj, err := o.loadAtOffset(ctx, v.R.Num, offset, gen)
		if err != nil {
			return 0, err
		}
		if n, ok := obj.(raw.NumberObj); ok {
			return n.Int(), nil
		}
		return 0, fmt.Errorf("stream Length %v is not numeric", v.R)
	default:
		return -1, nil
	}
}

// decryptObject walks strings and stream payloads of a freshly loaded object.
// Objects that came out of object streams are never encrypted individually.
func (o *objectLoader) decryptObject(ref raw.ObjectRef, obj raw.Object) (raw.Object, error) {
	if !o.security.IsEncrypted() {
		return obj, nil
	}
	switch v := obj.(type) {
	case raw.StringObj:
		dec, err := o.security.Decrypt(ref.Num, ref.Gen, v.Bytes, security.DataClassString)
		if err != nil {
			return nil, err
		}
		return raw.Str(dec), nil
	case *raw.ArrayObj:
		for i, item := range v.Items {
			dec, err := o.decryptObject(ref, item)
			if err != nil {
				return nil, err
			}
			v.Items[i] = dec
		}
		return v, nil
	case *raw.DictObj:
		for key, item := range v.KV {
			dec, err := o.decryptObject(ref, item)
			if err != nil {
				return nil, err
			}
			v.KV[key] = dec
		}
		return v, nil
	case *raw.StreamObj:
		if v.Dict != nil {
			if _, err := o.decryptObject(ref, v.Dict); err != nil {
				return nil, err
			}
		}
		class := security.DataClassStream
		if isMetadataStream(v.Dict) {
			class = security.DataClassMetadataStream
		}
		cryptFilter, _ := cryptFilterForStream(v.Dict)
		dec, err := o.security.DecryptWithFilter(ref.Num, ref.Gen, v.Data, class, cryptFilter)
		if err != nil {
			return nil, err
		}
		v.Data = dec
		if v.Dict != nil {
			v.Dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(dec))))
		}
		return v, nil
	default:
		return obj, nil
	}
}

func isMetadataStream(d *raw.DictObj) bool {
	t, _ := raw.DictName(d, "Type", nil)
	return t == "Metadata"
}

// cryptFilterForStream reports the Crypt filter name attached to a stream, if
// any. Streams with /Crypt /Identity stay untouched by the handler.
func cryptFilterForStream(d *raw.DictObj) (string, bool) {
	if d == nil {
		return "", false
	}
	names, params := filters.ExtractFilters(d)
	for i, name := range names {
		if name != "Crypt" {
			continue
		}
		var dp raw.Dictionary
		if i < len(params) {
			dp = params[i]
		} else if len(params) == 1 {
			dp = params[0]
		}
		if n, ok := raw.DictName(dp, "Name", nil); ok {
			return n, true
		}
		return "", true
	}
	return "", false
}

// tokenReader adds one-token lookahead over a scanner.
type tokenReader struct {
	s   scanner.Scanner
	buf []scanner.Token
}

func newTokenReader(s scanner.Scanner) *tokenReader { return &tokenReader{s: s} }

func (r *tokenReader) next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *tokenReader) unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

func (r *tokenReader) setStreamLengthHint(n int64) { r.s.SetNextStreamLength(n) }

func parseObject(tr *tokenReader, rec recovery.Strategy, objNum, gen int) (raw.Object, error) {
	tok, err := tr.next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return raw.NameLiteral(tok.Str), nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case scanner.TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case scanner.TokenNull:
		return raw.NullObj{}, nil
	case scanner.TokenString:
		return raw.Str(tok.Bytes), nil
	case scanner.TokenRef:
		return raw.Ref(int(tok.Int), tok.Gen), nil
	case scanner.TokenArray:
		return parseArrayBody(tr, rec, objNum, gen)
	case scanner.TokenDict:
		return parseDictBody(tr, rec, objNum, gen)
	}
	return nil, fmt.Errorf("object %d: unexpected token %q", objNum, tok.Str)
}

func parseArrayBody(tr *tokenReader, rec recovery.Strategy, objNum, gen int) (raw.Object, error) {
	arr := &raw.ArrayObj{}
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		tr.unread(tok)
		item, err := parseObject(tr, rec, objNum, gen)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func parseDictBody(tr *tokenReader, rec recovery.Strategy, objNum, gen int) (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			// "endobj" inside a dict means the closing >> was dropped.
			if tok.Type == scanner.TokenKeyword && tok.Str == "endobj" && rec != nil {
				err := errors.New("unterminated dictionary")
				loc := recovery.Location{ObjectNum: objNum, ObjectGen: gen, Component: "parser"}
				if action := rec.OnError(nil, err, loc); action != recovery.ActionFail {
					tr.unread(tok)
					return d, nil
				}
				return nil, err
			}
			return nil, fmt.Errorf("object %d: dictionary key must be a name", objNum)
		}
		key := tok.Str
		val, err := parseObject(tr, rec, objNum, gen)
		if err != nil {
			return nil, err
		}
		d.Set(raw.NameLiteral(key), val)
	}
}
