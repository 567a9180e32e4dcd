package contentstream

import (
	"fmt"

	"github.com/prepress/preflight/coords"
	"github.com/prepress/preflight/ir/raw"
	"github.com/prepress/preflight/ir/semantic"
)

// ImagePlacement is one image drawn by a content stream, with the
// dimensions it was placed at.
type ImagePlacement struct {
	Name    string
	XObject *semantic.XObject
	Inline  bool
	// Pixel dimensions. Zero when the stream did not declare them.
	Width, Height int
	ColorSpace    semantic.ColorSpace
	// Placed dimensions in user space units (1/72 inch), from the CTM
	// at the draw operator.
	PlacedWidth, PlacedHeight float64
}

// DPI returns the effective resolution of the placement. ok is false
// when either pixel or placed dimensions are unknown.
func (p ImagePlacement) DPI() (x, y float64, ok bool) {
	if p.Width <= 0 || p.Height <= 0 || p.PlacedWidth <= 0 || p.PlacedHeight <= 0 {
		return 0, 0, false
	}
	return float64(p.Width) / (p.PlacedWidth / 72), float64(p.Height) / (p.PlacedHeight / 72), true
}

// Usage is what a page's content streams were observed to paint.
type Usage struct {
	Images      []ImagePlacement
	ColorSpaces []semantic.ColorSpace
	Colorants   map[string]bool
	Layers      map[string]bool
}

// Tracer walks content streams tracking the graphics state stack.
type Tracer struct {
	maxFormDepth int
}

func NewTracer() *Tracer {
	return &Tracer{maxFormDepth: 12}
}

type graphicsState struct {
	ctm    coords.Matrix
	fill   semantic.ColorSpace
	stroke semantic.ColorSpace
}

type traceRun struct {
	usage    *Usage
	warnings []string
}

// Trace executes the page's content streams virtually. Problems are
// reported as warnings, never as a failure.
func (t *Tracer) Trace(page *semantic.Page) (*Usage, []string) {
	run := &traceRun{usage: &Usage{
		Colorants: make(map[string]bool),
		Layers:    make(map[string]bool),
	}}
	for _, cs := range page.Contents {
		t.traceStream(run, cs.Data, page.Resources, coords.Identity(), 0)
	}
	return run.usage, run.warnings
}

func (t *Tracer) traceStream(run *traceRun, data []byte, res *semantic.Resources, base coords.Matrix, depth int) {
	if depth > t.maxFormDepth {
		run.warnings = append(run.warnings, "form xobject nesting too deep")
		return
	}
	ops, err := Parse(data)
	if err != nil {
		run.warnings = append(run.warnings, fmt.Sprintf("content stream parse: %v", err))
		// Operations before the failure still count.
	}

	gs := graphicsState{ctm: base}
	var stack []graphicsState

	for _, op := range ops {
		switch op.Operator {
		case "q":
			stack = append(stack, gs)
		case "Q":
			if n := len(stack); n > 0 {
				gs = stack[n-1]
				stack = stack[:n-1]
			}
		case "cm":
			if m, ok := operandMatrix(op.Operands); ok {
				gs.ctm = m.Multiply(gs.ctm)
			}

		case "g", "G":
			t.selectSpace(run, &gs, op.Operator == "g", semantic.DeviceColorSpace{Name: "DeviceGray"})
		case "rg", "RG":
			t.selectSpace(run, &gs, op.Operator == "rg", semantic.DeviceColorSpace{Name: "DeviceRGB"})
		case "k", "K":
			t.selectSpace(run, &gs, op.Operator == "k", semantic.DeviceColorSpace{Name: "DeviceCMYK"})
		case "cs", "CS":
			if len(op.Operands) != 1 {
				continue
			}
			name, ok := op.Operands[0].(NameOperand)
			if !ok {
				continue
			}
			space := lookupColorSpace(name.Value, res)
			if space == nil {
				run.warnings = append(run.warnings, fmt.Sprintf("undefined color space %s", name.Value))
				continue
			}
			t.selectSpace(run, &gs, op.Operator == "cs", space)

		case "BDC", "DP":
			t.markLayer(run, op.Operands, res)

		case "BI":
			if len(op.Operands) == 1 {
				if img, ok := op.Operands[0].(InlineImageOperand); ok {
					run.usage.Images = append(run.usage.Images, inlinePlacement(img, gs.ctm))
				}
			}

		case "Do":
			if len(op.Operands) != 1 {
				continue
			}
			name, ok := op.Operands[0].(NameOperand)
			if !ok {
				continue
			}
			if res == nil {
				continue
			}
			xobj, ok := res.XObjects[name.Value]
			if !ok {
				run.warnings = append(run.warnings, fmt.Sprintf("undefined xobject %s", name.Value))
				continue
			}
			switch xobj.Subtype {
			case "Image":
				run.usage.Images = append(run.usage.Images, ImagePlacement{
					Name:         name.Value,
					XObject:      xobj,
					Width:        xobj.Width,
					Height:       xobj.Height,
					ColorSpace:   xobj.ColorSpace,
					PlacedWidth:  gs.ctm.ScaleX(),
					PlacedHeight: gs.ctm.ScaleY(),
				})
			case "Form":
				inner := res
				if xobj.Resources != nil {
					inner = xobj.Resources
				}
				t.traceStream(run, xobj.Data, inner, gs.ctm, depth+1)
			}
		}
	}
}

func operandMatrix(operands []Operand) (coords.Matrix, bool) {
	if len(operands) != 6 {
		return coords.Matrix{}, false
	}
	var m coords.Matrix
	for i, op := range operands {
		n, ok := op.(NumberOperand)
		if !ok {
			return coords.Matrix{}, false
		}
		m[i] = n.Value
	}
	return m, true
}

func (t *Tracer) selectSpace(run *traceRun, gs *graphicsState, fill bool, space semantic.ColorSpace) {
	if fill {
		gs.fill = space
	} else {
		gs.stroke = space
	}
	run.usage.ColorSpaces = append(run.usage.ColorSpaces, space)
	recordColorants(run.usage.Colorants, space)
}

func (t *Tracer) markLayer(run *traceRun, operands []Operand, res *semantic.Resources) {
	if len(operands) != 2 {
		return
	}
	tag, ok := operands[0].(NameOperand)
	if !ok || tag.Value != "OC" {
		return
	}
	switch prop := operands[1].(type) {
	case NameOperand:
		if res != nil {
			if ocg, ok := res.Properties[prop.Value]; ok && ocg.Name != "" {
				run.usage.Layers[ocg.Name] = true
			}
		}
	case DictOperand:
		if name, ok := raw.DictString(prop.Dict, "Name", nil); ok {
			run.usage.Layers[string(name)] = true
		}
	}
}

func recordColorants(colorants map[string]bool, space semantic.ColorSpace) {
	switch cs := space.(type) {
	case semantic.SeparationColorSpace:
		if cs.Colorant != "" {
			colorants[cs.Colorant] = true
		}
	case semantic.DeviceNColorSpace:
		for _, name := range cs.Colorants {
			colorants[name] = true
		}
	case semantic.IndexedColorSpace:
		recordColorants(colorants, cs.Base)
	}
}

// deviceColorSpaceNames maps the abbreviated inline-image forms and the
// device family names onto color spaces.
var deviceColorSpaceNames = map[string]semantic.ColorSpace{
	"DeviceGray": semantic.DeviceColorSpace{Name: "DeviceGray"},
	"DeviceRGB":  semantic.DeviceColorSpace{Name: "DeviceRGB"},
	"DeviceCMYK": semantic.DeviceColorSpace{Name: "DeviceCMYK"},
	"G":          semantic.DeviceColorSpace{Name: "DeviceGray"},
	"RGB":        semantic.DeviceColorSpace{Name: "DeviceRGB"},
	"CMYK":       semantic.DeviceColorSpace{Name: "DeviceCMYK"},
	"CalGray":    semantic.CIEColorSpace{Name: "CalGray"},
	"CalRGB":     semantic.CIEColorSpace{Name: "CalRGB"},
	"Lab":        semantic.CIEColorSpace{Name: "Lab"},
	"Pattern":    semantic.PatternColorSpace{},
}

func lookupColorSpace(name string, res *semantic.Resources) semantic.ColorSpace {
	if space, ok := deviceColorSpaceNames[name]; ok {
		return space
	}
	if res != nil {
		if space, ok := res.ColorSpaces[name]; ok {
			return space
		}
	}
	return nil
}

func inlinePlacement(img InlineImageOperand, ctm coords.Matrix) ImagePlacement {
	p := ImagePlacement{
		Inline:       true,
		PlacedWidth:  ctm.ScaleX(),
		PlacedHeight: ctm.ScaleY(),
	}
	p.Width = intParam(img.Params, "W", "Width")
	p.Height = intParam(img.Params, "H", "Height")
	for _, key := range []string{"CS", "ColorSpace"} {
		if name, ok := img.Params[key].(NameOperand); ok {
			if space, ok := deviceColorSpaceNames[name.Value]; ok {
				p.ColorSpace = space
			}
			break
		}
	}
	return p
}

func intParam(params map[string]Operand, keys ...string) int {
	for _, key := range keys {
		if n, ok := params[key].(NumberOperand); ok {
			return int(n.Value)
		}
	}
	return 0
}
