// Package contentstream parses page description operators and walks the
// graphics state to observe what a page actually paints: placed images,
// selected color spaces and marked-content layers.
package contentstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/prepress/preflight/ir/raw"
	"github.com/prepress/preflight/recovery"
	"github.com/prepress/preflight/scanner"
)

// Operand is a value pushed before an operator. One of NumberOperand,
// NameOperand, StringOperand, BoolOperand, ArrayOperand, DictOperand or
// InlineImageOperand.
type Operand interface{}

type NumberOperand struct{ Value float64 }

type NameOperand struct{ Value string }

type StringOperand struct{ Value []byte }

type BoolOperand struct{ Value bool }

type ArrayOperand struct{ Values []Operand }

type DictOperand struct{ Dict *raw.DictObj }

// InlineImageOperand carries a BI..ID..EI image: the parameter pairs
// that preceded ID and the raw payload.
type InlineImageOperand struct {
	Params map[string]Operand
	Data   []byte
}

// Operation is an operator with the operands that preceded it.
type Operation struct {
	Operator string
	Operands []Operand
}

// Parse splits a decoded content stream into operations. Unknown
// operators are kept so callers can ignore what they do not handle.
func Parse(data []byte) ([]Operation, error) {
	sc := scanner.New(bytes.NewReader(data), scanner.Config{
		Recovery: recovery.NewStrictStrategy(),
	})

	var ops []Operation
	var operands []Operand
	for {
		tok, err := sc.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return ops, fmt.Errorf("content stream: %w", err)
		}

		switch tok.Type {
		case scanner.TokenKeyword:
			if tok.Str == "BI" {
				// Parameter pairs accumulate until the scanner
				// hands back the payload after ID.
				operands = operands[:0]
				continue
			}
			ops = append(ops, Operation{Operator: tok.Str, Operands: operands})
			operands = nil

		case scanner.TokenInlineImage:
			img := InlineImageOperand{Params: pairParams(operands), Data: tok.Bytes}
			ops = append(ops, Operation{Operator: "BI", Operands: []Operand{img}})
			operands = nil

		case scanner.TokenArray:
			arr, err := parseArrayOperand(sc)
			if err != nil {
				return ops, err
			}
			operands = append(operands, arr)

		case scanner.TokenDict:
			dict, err := parseDictOperand(sc)
			if err != nil {
				return ops, err
			}
			operands = append(operands, dict)

		default:
			if op, ok := scalarOperand(tok); ok {
				operands = append(operands, op)
			}
		}
	}
	return ops, nil
}

func scalarOperand(tok scanner.Token) (Operand, bool) {
	switch tok.Type {
	case scanner.TokenNumber:
		if tok.IsInt {
			return NumberOperand{Value: float64(tok.Int)}, true
		}
		return NumberOperand{Value: tok.Float}, true
	case scanner.TokenName:
		return NameOperand{Value: tok.Str}, true
	case scanner.TokenString:
		return StringOperand{Value: tok.Bytes}, true
	case scanner.TokenBoolean:
		return BoolOperand{Value: tok.Bool}, true
	}
	return nil, false
}

func parseArrayOperand(sc scanner.Scanner) (ArrayOperand, error) {
	arr := ArrayOperand{}
	for {
		tok, err := sc.Next()
		if err != nil {
			return arr, fmt.Errorf("unterminated array operand: %w", err)
		}
		switch tok.Type {
		case scanner.TokenKeyword:
			if tok.Str == "]" {
				return arr, nil
			}
		case scanner.TokenArray:
			sub, err := parseArrayOperand(sc)
			if err != nil {
				return arr, err
			}
			arr.Values = append(arr.Values, sub)
		case scanner.TokenDict:
			sub, err := parseDictOperand(sc)
			if err != nil {
				return arr, err
			}
			arr.Values = append(arr.Values, sub)
		default:
			if op, ok := scalarOperand(tok); ok {
				arr.Values = append(arr.Values, op)
			}
		}
	}
}

func parseDictOperand(sc scanner.Scanner) (DictOperand, error) {
	dict := DictOperand{Dict: raw.Dict()}
	for {
		keyTok, err := sc.Next()
		if err != nil {
			return dict, fmt.Errorf("unterminated dict operand: %w", err)
		}
		if keyTok.Type == scanner.TokenKeyword && keyTok.Str == ">>" {
			return dict, nil
		}
		if keyTok.Type != scanner.TokenName {
			continue
		}
		valTok, err := sc.Next()
		if err != nil {
			return dict, fmt.Errorf("unterminated dict operand: %w", err)
		}
		var val raw.Object
		switch valTok.Type {
		case scanner.TokenName:
			val = raw.NameLiteral(valTok.Str)
		case scanner.TokenNumber:
			if valTok.IsInt {
				val = raw.NumberInt(valTok.Int)
			} else {
				val = raw.NumberFloat(valTok.Float)
			}
		case scanner.TokenString:
			val = raw.Str(valTok.Bytes)
		case scanner.TokenBoolean:
			val = raw.Bool(valTok.Bool)
		case scanner.TokenArray:
			sub, err := parseArrayOperand(sc)
			if err != nil {
				return dict, err
			}
			items := make([]raw.Object, 0, len(sub.Values))
			for _, v := range sub.Values {
				if o := operandToRaw(v); o != nil {
					items = append(items, o)
				}
			}
			val = &raw.ArrayObj{Items: items}
		case scanner.TokenDict:
			sub, err := parseDictOperand(sc)
			if err != nil {
				return dict, err
			}
			val = sub.Dict
		default:
			val = raw.NullObj{}
		}
		dict.Dict.Set(raw.NameLiteral(keyTok.Str), val)
	}
}

func operandToRaw(op Operand) raw.Object {
	switch v := op.(type) {
	case NumberOperand:
		return raw.NumberFloat(v.Value)
	case NameOperand:
		return raw.NameLiteral(v.Value)
	case StringOperand:
		return raw.Str(v.Value)
	case BoolOperand:
		return raw.Bool(v.Value)
	}
	return nil
}

// pairParams folds name/value operand pairs into a map, for inline
// image parameters.
func pairParams(operands []Operand) map[string]Operand {
	params := make(map[string]Operand)
	for i := 0; i+1 < len(operands); i += 2 {
		name, ok := operands[i].(NameOperand)
		if !ok {
			continue
		}
		params[name.Value] = operands[i+1]
	}
	return params
}
