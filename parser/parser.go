package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prepress/preflight/ir/raw"
	"github.com/prepress/preflight/recovery"
	"github.com/prepress/preflight/security"
	"github.com/prepress/preflight/xref"
)

// Config controls document parsing: xref resolution, object loading and
// decryption.
type Config struct {
	Recovery recovery.Strategy
	Limits   security.Limits
	Cache    Cache
	Password string
}

// ErrEncrypted reports a document that could not be opened with the supplied
// (or empty) password. Callers may still produce a metadata-only result.
var ErrEncrypted = errors.New("document is encrypted and the password does not match")

// DocumentParser builds a raw.Document from a byte source. It implements
// raw.Parser.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.Limits == (security.Limits{}) {
		cfg.Limits = security.DefaultLimits()
	}
	return &DocumentParser{cfg: cfg}
}

func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	if p.cfg.Limits.MaxParseTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Limits.MaxParseTime)
		defer cancel()
	}

	resolver := xref.NewResolver(xref.ResolverConfig{
		MaxXRefDepth: p.cfg.Limits.MaxXRefDepth,
		Recovery:     p.cfg.Recovery,
	})
	table, err := resolver.Resolve(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	trailer := resolver.Trailer()

	sec, err := p.selectSecurity(ctx, r, table, trailer)
	if err != nil {
		return nil, err
	}

	loader, err := (&ObjectLoaderBuilder{}).
		WithReader(r).
		WithXRef(table).
		WithSecurity(sec).
		WithLimits(p.cfg.Limits).
		WithCache(p.cfg.Cache).
		WithRecovery(p.cfg.Recovery).
		Build()
	if err != nil {
		return nil, err
	}

	doc := &raw.Document{
		Objects:     make(map[raw.ObjectRef]raw.Object),
		Trailer:     trailer,
		Version:     DetectHeaderVersion(r),
		Permissions: toRawPermissions(sec.Permissions()),
		Encrypted:   sec.IsEncrypted(),
		Repaired:    resolver.Repaired(),
	}

	for _, objNum := range table.Objects() {
		if objNum == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ref := p.refFor(table, objNum)
		obj, err := loader.Load(ctx, ref)
		if err != nil {
			if p.noteError(err, ref) {
				continue
			}
			return nil, fmt.Errorf("load object %d: %w", objNum, err)
		}
		doc.Objects[ref] = obj
	}

	if trailer != nil {
		p.populateMetadata(ctx, loader, doc)
	}
	return doc, nil
}

func (p *DocumentParser) refFor(table xref.Table, objNum int) raw.ObjectRef {
	if _, gen, found := table.Lookup(objNum); found {
		return raw.ObjectRef{Num: objNum, Gen: gen}
	}
	return raw.ObjectRef{Num: objNum}
}

// noteError reports a load failure to the recovery strategy and returns true
// when the object should be skipped rather than failing the parse.
func (p *DocumentParser) noteError(err error, ref raw.ObjectRef) bool {
	if p.cfg.Recovery == nil {
		return false
	}
	loc := recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "parser"}
	return p.cfg.Recovery.OnError(nil, err, loc) != recovery.ActionFail
}

func (p *DocumentParser) selectSecurity(ctx context.Context, r io.ReaderAt, table xref.Table, trailer raw.Dictionary) (security.Handler, error) {
	if trailer == nil {
		return security.NoopHandler(), nil
	}
	encObj, ok := trailer.Get(raw.NameLiteral("Encrypt"))
	if !ok {
		return security.NoopHandler(), nil
	}

	var encDict *raw.DictObj
	switch v := encObj.(type) {
	case *raw.DictObj:
		encDict = v
	case raw.RefObj:
		loader, err := (&ObjectLoaderBuilder{}).
			WithReader(r).
			WithXRef(table).
			WithLimits(p.cfg.Limits).
			WithRecovery(p.cfg.Recovery).
			Build()
		if err != nil {
			return nil, err
		}
		if obj, err := loader.Load(ctx, v.R); err == nil {
			encDict, _ = obj.(*raw.DictObj)
		}
	}
	if encDict == nil {
		return security.NoopHandler(), nil
	}

	handler, err := (&security.HandlerBuilder{}).
		WithEncryptDict(encDict).
		WithTrailer(trailer).
		Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncrypted, err)
	}
	if err := handler.Authenticate(p.cfg.Password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncrypted, err)
	}
	return handler, nil
}

func (p *DocumentParser) populateMetadata(ctx context.Context, loader ObjectLoader, doc *raw.Document) {
	infoObj, ok := doc.Trailer.Get(raw.NameLiteral("Info"))
	if !ok {
		return
	}
	var dict *raw.DictObj
	switch v := infoObj.(type) {
	case *raw.DictObj:
		dict = v
	case raw.RefObj:
		if obj, err := loader.Load(ctx, v.R); err == nil {
			dict, _ = obj.(*raw.DictObj)
		}
	}
	if dict == nil {
		return
	}
	md := raw.DocumentMetadata{}
	if v, ok := raw.DictString(dict, "Title", nil); ok {
		md.Title = decodeTextString(v)
	}
	if v, ok := raw.DictString(dict, "Author", nil); ok {
		md.Author = decodeTextString(v)
	}
	if v, ok := raw.DictString(dict, "Creator", nil); ok {
		md.Creator = decodeTextString(v)
	}
	if v, ok := raw.DictString(dict, "Producer", nil); ok {
		md.Producer = decodeTextString(v)
	}
	if v, ok := raw.DictString(dict, "Subject", nil); ok {
		md.Subject = decodeTextString(v)
	}
	if v, ok := raw.DictString(dict, "Keywords", nil); ok {
		for _, kw := range strings.Split(decodeTextString(v), ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				md.Keywords = append(md.Keywords, kw)
			}
		}
	}
	doc.Metadata = md
}

// decodeTextString converts a PDF text string to UTF-8. UTF-16BE strings
// carry a BOM; everything else is treated as PDFDocEncoding, which matches
// ASCII for the printable range.
func decodeTextString(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		runes := make([]rune, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			runes = append(runes, rune(b[i])<<8|rune(b[i+1]))
		}
		return string(runes)
	}
	return string(b)
}

func toRawPermissions(p security.Permissions) raw.Permissions {
	return raw.Permissions{
		Print:             p.Print,
		Modify:            p.Modify,
		Copy:              p.Copy,
		ModifyAnnotations: p.ModifyAnnotations,
		FillForms:         p.FillForms,
		ExtractAccessible: p.ExtractAccessible,
		Assemble:          p.Assemble,
		PrintHighQuality:  p.PrintHighQuality,
	}
}

// DetectHeaderVersion reads the %PDF-N.N comment from the first line,
// or "" when there is none. It needs no further structure, so it works
// on files nothing else can parse.
func DetectHeaderVersion(r io.ReaderAt) string {
	buf := make([]byte, 64)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	line := string(buf[:n])
	for _, sep := range []string{"\r\n", "\n", "\r"} {
		if idx := strings.Index(line, sep); idx >= 0 {
			line = line[:idx]
			break
		}
	}
	if strings.HasPrefix(line, "%PDF-") {
		return strings.TrimSpace(line[5:])
	}
	return ""
}
