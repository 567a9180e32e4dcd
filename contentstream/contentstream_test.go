package contentstream

import (
	"math"
	"testing"

	"github.com/prepress/preflight/ir/semantic"
)

func TestParseOperations(t *testing.T) {
	ops, err := Parse([]byte("q 1 0 0 1 50 50 cm /Im0 Do Q 0.5 g BT /F1 12 Tf (hi) Tj ET"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := []string{"q", "cm", "Do", "Q", "g", "BT", "Tf", "Tj", "ET"}
	if len(ops) != len(want) {
		t.Fatalf("expected %d operations, got %d: %+v", len(want), len(ops), ops)
	}
	for i, op := range ops {
		if op.Operator != want[i] {
			t.Errorf("op %d: expected %q, got %q", i, want[i], op.Operator)
		}
	}

	cm := ops[1]
	if len(cm.Operands) != 6 {
		t.Fatalf("cm expected 6 operands, got %d", len(cm.Operands))
	}
	if n := cm.Operands[4].(NumberOperand); n.Value != 50 {
		t.Errorf("expected tx 50, got %v", n.Value)
	}
	if name := ops[2].Operands[0].(NameOperand); name.Value != "Im0" {
		t.Errorf("expected /Im0, got %q", name.Value)
	}
	if str := ops[7].Operands[0].(StringOperand); string(str.Value) != "hi" {
		t.Errorf("expected (hi), got %q", str.Value)
	}
}

func TestParseArrayAndDictOperands(t *testing.T) {
	ops, err := Parse([]byte("[(a) -120 (b)] TJ /OC << /Type /OCMD /Name (Die) >> BDC"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(ops))
	}

	arr, ok := ops[0].Operands[0].(ArrayOperand)
	if !ok {
		t.Fatalf("expected array operand, got %T", ops[0].Operands[0])
	}
	if len(arr.Values) != 3 {
		t.Errorf("expected 3 array values, got %d", len(arr.Values))
	}
	if n := arr.Values[1].(NumberOperand); n.Value != -120 {
		t.Errorf("expected kern -120, got %v", n.Value)
	}

	if ops[1].Operator != "BDC" || len(ops[1].Operands) != 2 {
		t.Fatalf("unexpected BDC op: %+v", ops[1])
	}
	if _, ok := ops[1].Operands[1].(DictOperand); !ok {
		t.Errorf("expected dict operand, got %T", ops[1].Operands[1])
	}
}

func TestParseInlineImage(t *testing.T) {
	ops, err := Parse([]byte("BI /W 4 /H 2 /CS /RGB /BPC 8 ID \x01\x02\x03\x04 EI Q"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(ops) != 2 || ops[0].Operator != "BI" {
		t.Fatalf("unexpected ops: %+v", ops)
	}
	img, ok := ops[0].Operands[0].(InlineImageOperand)
	if !ok {
		t.Fatalf("expected inline image operand, got %T", ops[0].Operands[0])
	}
	if w := img.Params["W"].(NumberOperand); w.Value != 4 {
		t.Errorf("expected W 4, got %v", w.Value)
	}
	if cs := img.Params["CS"].(NameOperand); cs.Value != "RGB" {
		t.Errorf("expected CS RGB, got %q", cs.Value)
	}
	if len(img.Data) == 0 {
		t.Error("expected inline image payload")
	}
}

func testImageResources() *semantic.Resources {
	return &semantic.Resources{
		XObjects: map[string]*semantic.XObject{
			"Im0": {
				Subtype:          "Image",
				Width:            300,
				Height:           300,
				BitsPerComponent: 8,
				ColorSpace:       semantic.DeviceColorSpace{Name: "DeviceRGB"},
			},
		},
		ColorSpaces: map[string]semantic.ColorSpace{
			"Cut": semantic.SeparationColorSpace{
				Colorant:  "CutContour",
				Alternate: semantic.DeviceColorSpace{Name: "DeviceCMYK"},
			},
		},
		Properties: map[string]semantic.OptionalContentGroup{
			"MC0": {Name: "Varnish"},
		},
	}
}

func TestTraceImagePlacementDPI(t *testing.T) {
	// 300px image placed into 2x1 inch: 150 DPI horizontal, 300 vertical.
	page := &semantic.Page{
		Resources: testImageResources(),
		Contents: []semantic.ContentStream{
			{Data: []byte("q 144 0 0 72 100 100 cm /Im0 Do Q")},
		},
	}

	usage, warnings := NewTracer().Trace(page)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(usage.Images) != 1 {
		t.Fatalf("expected 1 image placement, got %d", len(usage.Images))
	}
	p := usage.Images[0]
	if p.PlacedWidth != 144 || p.PlacedHeight != 72 {
		t.Errorf("unexpected placement %vx%v", p.PlacedWidth, p.PlacedHeight)
	}
	x, y, ok := p.DPI()
	if !ok {
		t.Fatal("expected DPI to be computable")
	}
	if math.Abs(x-150) > 1e-9 || math.Abs(y-300) > 1e-9 {
		t.Errorf("expected 150x300 DPI, got %vx%v", x, y)
	}
}

func TestTraceStateStackRestore(t *testing.T) {
	// The inner cm is bracketed by q/Q, so the second Do sees the outer
	// CTM again.
	page := &semantic.Page{
		Resources: testImageResources(),
		Contents: []semantic.ContentStream{
			{Data: []byte("72 0 0 72 0 0 cm q 2 0 0 2 0 0 cm /Im0 Do Q /Im0 Do")},
		},
	}

	usage, _ := NewTracer().Trace(page)
	if len(usage.Images) != 2 {
		t.Fatalf("expected 2 placements, got %d", len(usage.Images))
	}
	if usage.Images[0].PlacedWidth != 144 {
		t.Errorf("expected inner placement 144, got %v", usage.Images[0].PlacedWidth)
	}
	if usage.Images[1].PlacedWidth != 72 {
		t.Errorf("expected outer placement 72, got %v", usage.Images[1].PlacedWidth)
	}
}

func TestTraceColorSelections(t *testing.T) {
	page := &semantic.Page{
		Resources: testImageResources(),
		Contents: []semantic.ContentStream{
			{Data: []byte("0 0 1 rg /Cut CS 1 SCN 0 0 0 1 k")},
		},
	}

	usage, warnings := NewTracer().Trace(page)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(usage.ColorSpaces) != 3 {
		t.Fatalf("expected 3 selections, got %d: %+v", len(usage.ColorSpaces), usage.ColorSpaces)
	}
	if usage.ColorSpaces[0].Family() != "DeviceRGB" {
		t.Errorf("expected DeviceRGB first, got %s", usage.ColorSpaces[0].Family())
	}
	if usage.ColorSpaces[1].Family() != "Separation" {
		t.Errorf("expected Separation second, got %s", usage.ColorSpaces[1].Family())
	}
	if !usage.Colorants["CutContour"] {
		t.Errorf("expected CutContour colorant, got %v", usage.Colorants)
	}
}

func TestTraceMarkedLayers(t *testing.T) {
	page := &semantic.Page{
		Resources: testImageResources(),
		Contents: []semantic.ContentStream{
			{Data: []byte("/OC /MC0 BDC (x) Tj EMC")},
		},
	}

	usage, _ := NewTracer().Trace(page)
	if !usage.Layers["Varnish"] {
		t.Errorf("expected Varnish layer mark, got %v", usage.Layers)
	}
}

func TestTraceFormRecursion(t *testing.T) {
	form := &semantic.XObject{
		Subtype: "Form",
		Data:    []byte("q 0.5 0 0 0.5 0 0 cm /Im0 Do Q"),
	}
	res := testImageResources()
	res.XObjects["Fm0"] = form

	page := &semantic.Page{
		Resources: res,
		Contents: []semantic.ContentStream{
			{Data: []byte("144 0 0 144 0 0 cm /Fm0 Do")},
		},
	}

	usage, warnings := NewTracer().Trace(page)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(usage.Images) != 1 {
		t.Fatalf("expected 1 placement through the form, got %d", len(usage.Images))
	}
	if usage.Images[0].PlacedWidth != 72 {
		t.Errorf("expected composed placement 72, got %v", usage.Images[0].PlacedWidth)
	}
}

func TestTraceInlineImage(t *testing.T) {
	page := &semantic.Page{
		Contents: []semantic.ContentStream{
			{Data: []byte("q 72 0 0 72 0 0 cm BI /W 36 /H 36 /CS /G ID \xff\xfe\xfd EI Q")},
		},
	}

	usage, _ := NewTracer().Trace(page)
	if len(usage.Images) != 1 {
		t.Fatalf("expected 1 inline image, got %d", len(usage.Images))
	}
	p := usage.Images[0]
	if !p.Inline {
		t.Error("expected inline flag")
	}
	x, _, ok := p.DPI()
	if !ok || math.Abs(x-36) > 1e-9 {
		t.Errorf("expected 36 DPI, got %v (ok=%v)", x, ok)
	}
	if p.ColorSpace == nil || p.ColorSpace.Family() != "DeviceGray" {
		t.Errorf("unexpected inline color space: %+v", p.ColorSpace)
	}
}
