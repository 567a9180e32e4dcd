package xref

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/prepress/preflight/ir/raw"
	"github.com/prepress/preflight/recovery"
	"github.com/prepress/preflight/scanner"
)

// objScanner is a small recursive-descent object parser over an in-memory
// slice. The xref layer uses it for trailers, xref stream objects and repair
// scans, where the input is already bounded and strict failure is wanted.
type objScanner struct {
	sc     scanner.Scanner
	peeked *scanner.Token
}

func newObjScanner(data []byte) *objScanner {
	sc := scanner.New(bytes.NewReader(data), scanner.Config{
		Recovery: recovery.NewStrictStrategy(),
	})
	return &objScanner{sc: sc}
}

func (p *objScanner) next() (scanner.Token, error) {
	if p.peeked != nil {
		t := *p.peeked
		p.peeked = nil
		return t, nil
	}
	return p.sc.Next()
}

func (p *objScanner) push(t scanner.Token) { p.peeked = &t }

func (p *objScanner) parseObject() (raw.Object, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	return p.parseValue(tok)
}

func (p *objScanner) parseValue(tok scanner.Token) (raw.Object, error) {
	switch tok.Type {
	case scanner.TokenDict:
		return p.parseDict()
	case scanner.TokenArray:
		return p.parseArray()
	case scanner.TokenName:
		return raw.NameLiteral(tok.Str), nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case scanner.TokenString:
		return raw.Str(tok.Bytes), nil
	case scanner.TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case scanner.TokenNull:
		return raw.NullObj{}, nil
	case scanner.TokenRef:
		return raw.Ref(int(tok.Int), tok.Gen), nil
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", tok.Str, tok.Pos)
}

func (p *objScanner) parseDict() (*raw.DictObj, error) {
	d := raw.Dict()
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("dictionary key must be a name at offset %d", tok.Pos)
		}
		key := tok.Str
		val, err := p.parseObject()
		if err != nil {
			return nil, err
		}
		d.Set(raw.NameLiteral(key), val)
	}
}

func (p *objScanner) parseArray() (*raw.ArrayObj, error) {
	arr := raw.NewArray()
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		val, err := p.parseValue(tok)
		if err != nil {
			return nil, err
		}
		arr.Append(val)
	}
}

// parseIndirect reads "num gen obj <body>" from the scanner's current
// position. When the body is a dictionary followed by a stream keyword, the
// stream payload is consumed and a StreamObj is returned.
func (p *objScanner) parseIndirect() (raw.ObjectRef, raw.Object, error) {
	var ref raw.ObjectRef

	numTok, err := p.next()
	if err != nil {
		return ref, nil, err
	}
	genTok, err := p.next()
	if err != nil {
		return ref, nil, err
	}
	kwTok, err := p.next()
	if err != nil {
		return ref, nil, err
	}
	if numTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber ||
		kwTok.Type != scanner.TokenKeyword || kwTok.Str != "obj" {
		return ref, nil, errors.New("expected indirect object header")
	}
	ref = raw.ObjectRef{Num: int(numTok.Int), Gen: int(genTok.Int)}

	body, err := p.parseObject()
	if err != nil {
		return ref, nil, err
	}
	dict, isDict := body.(*raw.DictObj)
	if !isDict {
		return ref, body, nil
	}

	// If a stream keyword follows, the scanner consumes the payload in one
	// token; give it the length hint when the dictionary holds a direct one.
	if n, ok := raw.DictInt(dict, "Length", nil); ok {
		p.sc.SetNextStreamLength(n)
	}
	tok, err := p.next()
	if err != nil {
		// A bare dictionary at end of input is still a valid object.
		return ref, dict, nil
	}
	if tok.Type != scanner.TokenStream {
		p.sc.SetNextStreamLength(-1)
		p.push(tok)
		return ref, dict, nil
	}
	return ref, raw.NewStream(dict, tok.Bytes), nil
}
