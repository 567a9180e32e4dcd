package semantic

import (
	"context"
	"testing"

	"github.com/prepress/preflight/ir/decoded"
	"github.com/prepress/preflight/ir/raw"
)

func ref(num int) raw.RefObj { return raw.Ref(num, 0) }

func newTestDoc(objects map[raw.ObjectRef]raw.Object, trailer *raw.DictObj) *decoded.Document {
	return &decoded.Document{
		Raw: &raw.Document{
			Objects: objects,
			Trailer: trailer,
		},
		Streams: map[raw.ObjectRef]decoded.Stream{},
	}
}

func TestBuildPageTreeInheritance(t *testing.T) {
	mediaBox := &raw.ArrayObj{Items: []raw.Object{
		raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(595), raw.NumberInt(842),
	}}

	page1 := &raw.DictObj{KV: map[string]raw.Object{
		"Type": raw.NameLiteral("Page"),
	}}
	page2 := &raw.DictObj{KV: map[string]raw.Object{
		"Type":   raw.NameLiteral("Page"),
		"Rotate": raw.NumberInt(90),
		"TrimBox": &raw.ArrayObj{Items: []raw.Object{
			raw.NumberInt(10), raw.NumberInt(10), raw.NumberInt(585), raw.NumberInt(832),
		}},
	}}
	pages := &raw.DictObj{KV: map[string]raw.Object{
		"Type":     raw.NameLiteral("Pages"),
		"MediaBox": mediaBox,
		"Kids":     &raw.ArrayObj{Items: []raw.Object{ref(3), ref(4)}},
		"Count":    raw.NumberInt(2),
	}}
	catalog := &raw.DictObj{KV: map[string]raw.Object{
		"Type":  raw.NameLiteral("Catalog"),
		"Pages": ref(2),
	}}

	dec := newTestDoc(map[raw.ObjectRef]raw.Object{
		{Num: 1}: catalog,
		{Num: 2}: pages,
		{Num: 3}: page1,
		{Num: 4}: page2,
	}, &raw.DictObj{KV: map[string]raw.Object{"Root": ref(1)}})

	doc, err := NewBuilder().Build(context.Background(), dec)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(doc.Pages))
	}

	p1 := doc.Pages[0]
	if p1.Index != 0 {
		t.Errorf("expected page index 0, got %d", p1.Index)
	}
	if p1.MediaBox.Width() != 595 || p1.MediaBox.Height() != 842 {
		t.Errorf("expected inherited MediaBox 595x842, got %+v", p1.MediaBox)
	}
	if p1.CropBox != p1.MediaBox {
		t.Errorf("expected CropBox to default to MediaBox, got %+v", p1.CropBox)
	}
	if p1.Rotate != 0 {
		t.Errorf("expected rotate 0, got %d", p1.Rotate)
	}

	p2 := doc.Pages[1]
	if p2.Index != 1 {
		t.Errorf("expected page index 1, got %d", p2.Index)
	}
	if p2.Rotate != 90 {
		t.Errorf("expected rotate 90, got %d", p2.Rotate)
	}
	if p2.TrimBox == nil || p2.TrimBox.Width() != 575 {
		t.Errorf("expected TrimBox width 575, got %+v", p2.TrimBox)
	}
	if p1.TrimBox != nil {
		t.Errorf("TrimBox must not inherit, got %+v", p1.TrimBox)
	}
}

func TestBuildFontEmbedding(t *testing.T) {
	embeddedDescriptor := &raw.DictObj{KV: map[string]raw.Object{
		"Type":      raw.NameLiteral("FontDescriptor"),
		"FontName":  raw.NameLiteral("OpenSans"),
		"FontFile2": ref(10),
	}}
	fontProgram := raw.NewStream(&raw.DictObj{KV: map[string]raw.Object{
		"Length": raw.NumberInt(4),
	}}, []byte{0x00, 0x01, 0x00, 0x00})

	descendant := &raw.DictObj{KV: map[string]raw.Object{
		"Type":           raw.NameLiteral("Font"),
		"Subtype":        raw.NameLiteral("CIDFontType2"),
		"BaseFont":       raw.NameLiteral("OpenSans"),
		"FontDescriptor": embeddedDescriptor,
	}}
	type0 := &raw.DictObj{KV: map[string]raw.Object{
		"Type":            raw.NameLiteral("Font"),
		"Subtype":         raw.NameLiteral("Type0"),
		"BaseFont":        raw.NameLiteral("OpenSans"),
		"Encoding":        raw.NameLiteral("Identity-H"),
		"DescendantFonts": &raw.ArrayObj{Items: []raw.Object{descendant}},
	}}
	helvetica := &raw.DictObj{KV: map[string]raw.Object{
		"Type":     raw.NameLiteral("Font"),
		"Subtype":  raw.NameLiteral("Type1"),
		"BaseFont": raw.NameLiteral("Helvetica"),
	}}

	page := &raw.DictObj{KV: map[string]raw.Object{
		"Type": raw.NameLiteral("Page"),
		"MediaBox": &raw.ArrayObj{Items: []raw.Object{
			raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(200), raw.NumberInt(200),
		}},
		"Resources": &raw.DictObj{KV: map[string]raw.Object{
			"Font": &raw.DictObj{KV: map[string]raw.Object{
				"F1": type0,
				"F2": helvetica,
			}},
		}},
	}}
	pages := &raw.DictObj{KV: map[string]raw.Object{
		"Type": raw.NameLiteral("Pages"),
		"Kids": &raw.ArrayObj{Items: []raw.Object{ref(3)}},
	}}
	catalog := &raw.DictObj{KV: map[string]raw.Object{"Pages": ref(2)}}

	dec := newTestDoc(map[raw.ObjectRef]raw.Object{
		{Num: 1}:  catalog,
		{Num: 2}:  pages,
		{Num: 3}:  page,
		{Num: 10}: fontProgram,
	}, &raw.DictObj{KV: map[string]raw.Object{"Root": ref(1)}})

	doc, err := NewBuilder().Build(context.Background(), dec)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	res := doc.Pages[0].Resources
	if res == nil {
		t.Fatal("expected page resources")
	}

	f1 := res.Fonts["F1"]
	if f1 == nil {
		t.Fatal("missing font F1")
	}
	if !f1.Embedded() {
		t.Error("Type0 font with descendant FontFile2 should be embedded")
	}
	if f1.Descendant == nil || f1.Descendant.Descriptor.FontFileType != "FontFile2" {
		t.Errorf("unexpected descendant descriptor: %+v", f1.Descendant)
	}
	if f1.Encoding != "Identity-H" {
		t.Errorf("expected Identity-H encoding, got %q", f1.Encoding)
	}

	f2 := res.Fonts["F2"]
	if f2 == nil {
		t.Fatal("missing font F2")
	}
	if f2.Embedded() {
		t.Error("base-14 Type1 font without FontFile should not be embedded")
	}
}

func TestParseColorSpaceVariants(t *testing.T) {
	iccProfile := raw.NewStream(&raw.DictObj{KV: map[string]raw.Object{
		"N": raw.NumberInt(4),
	}}, []byte("profile-bytes"))

	st := &buildState{res: &docResolver{raw: &raw.Document{
		Objects: map[raw.ObjectRef]raw.Object{{Num: 7}: iccProfile},
	}}}

	tests := []struct {
		name       string
		obj        raw.Object
		family     string
		components int
	}{
		{"device gray", raw.NameLiteral("DeviceGray"), "DeviceGray", 1},
		{"device cmyk", raw.NameLiteral("DeviceCMYK"), "DeviceCMYK", 4},
		{"lab", raw.NameLiteral("Lab"), "Lab", 3},
		{
			"icc based",
			&raw.ArrayObj{Items: []raw.Object{raw.NameLiteral("ICCBased"), ref(7)}},
			"ICCBased", 4,
		},
		{
			"separation",
			&raw.ArrayObj{Items: []raw.Object{
				raw.NameLiteral("Separation"),
				raw.NameLiteral("CutContour"),
				raw.NameLiteral("DeviceCMYK"),
			}},
			"Separation", 1,
		},
		{
			"device n",
			&raw.ArrayObj{Items: []raw.Object{
				raw.NameLiteral("DeviceN"),
				&raw.ArrayObj{Items: []raw.Object{
					raw.NameLiteral("Spot1"), raw.NameLiteral("Spot2"),
				}},
				raw.NameLiteral("DeviceCMYK"),
			}},
			"DeviceN", 2,
		},
		{
			"indexed",
			&raw.ArrayObj{Items: []raw.Object{
				raw.NameLiteral("Indexed"),
				raw.NameLiteral("DeviceRGB"),
				raw.NumberInt(255),
			}},
			"Indexed", 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := st.parseColorSpace(tt.obj)
			if err != nil {
				t.Fatalf("parseColorSpace failed: %v", err)
			}
			if cs.Family() != tt.family {
				t.Errorf("expected family %q, got %q", tt.family, cs.Family())
			}
			if cs.Components() != tt.components {
				t.Errorf("expected %d components, got %d", tt.components, cs.Components())
			}
		})
	}

	cs, err := st.parseColorSpace(&raw.ArrayObj{Items: []raw.Object{
		raw.NameLiteral("Separation"),
		raw.NameLiteral("Thru-cut"),
		raw.NameLiteral("DeviceGray"),
	}})
	if err != nil {
		t.Fatalf("parseColorSpace failed: %v", err)
	}
	sep, ok := cs.(SeparationColorSpace)
	if !ok {
		t.Fatalf("expected SeparationColorSpace, got %T", cs)
	}
	if sep.Colorant != "Thru-cut" {
		t.Errorf("expected colorant Thru-cut, got %q", sep.Colorant)
	}
	if sep.Alternate == nil || sep.Alternate.Family() != "DeviceGray" {
		t.Errorf("unexpected alternate: %+v", sep.Alternate)
	}
}

func TestBuildImageXObjects(t *testing.T) {
	embedded := raw.NewStream(&raw.DictObj{KV: map[string]raw.Object{
		"Type":             raw.NameLiteral("XObject"),
		"Subtype":          raw.NameLiteral("Image"),
		"Width":            raw.NumberInt(300),
		"Height":           raw.NumberInt(200),
		"BitsPerComponent": raw.NumberInt(8),
		"ColorSpace":       raw.NameLiteral("DeviceRGB"),
		"SMask":            ref(11),
	}}, []byte("pixels"))
	linked := raw.NewStream(&raw.DictObj{KV: map[string]raw.Object{
		"Type":    raw.NameLiteral("XObject"),
		"Subtype": raw.NameLiteral("Image"),
		"Width":   raw.NumberInt(100),
		"Height":  raw.NumberInt(100),
		"OPI":     &raw.DictObj{KV: map[string]raw.Object{}},
	}}, nil)
	smask := raw.NewStream(&raw.DictObj{KV: map[string]raw.Object{
		"Subtype": raw.NameLiteral("Image"),
	}}, nil)

	page := &raw.DictObj{KV: map[string]raw.Object{
		"Type": raw.NameLiteral("Page"),
		"MediaBox": &raw.ArrayObj{Items: []raw.Object{
			raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(400), raw.NumberInt(400),
		}},
		"Resources": &raw.DictObj{KV: map[string]raw.Object{
			"XObject": &raw.DictObj{KV: map[string]raw.Object{
				"Im0": ref(9),
				"Im1": ref(10),
			}},
		}},
	}}
	pages := &raw.DictObj{KV: map[string]raw.Object{
		"Type": raw.NameLiteral("Pages"),
		"Kids": &raw.ArrayObj{Items: []raw.Object{ref(3)}},
	}}
	catalog := &raw.DictObj{KV: map[string]raw.Object{"Pages": ref(2)}}

	dec := newTestDoc(map[raw.ObjectRef]raw.Object{
		{Num: 1}:  catalog,
		{Num: 2}:  pages,
		{Num: 3}:  page,
		{Num: 9}:  embedded,
		{Num: 10}: linked,
		{Num: 11}: smask,
	}, &raw.DictObj{KV: map[string]raw.Object{"Root": ref(1)}})

	doc, err := NewBuilder().Build(context.Background(), dec)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	res := doc.Pages[0].Resources
	if res == nil {
		t.Fatal("expected page resources")
	}

	im0 := res.XObjects["Im0"]
	if im0 == nil {
		t.Fatal("missing Im0")
	}
	if im0.Width != 300 || im0.Height != 200 || im0.BitsPerComponent != 8 {
		t.Errorf("unexpected image geometry: %+v", im0)
	}
	if im0.ColorSpace == nil || im0.ColorSpace.Family() != "DeviceRGB" {
		t.Errorf("unexpected image color space: %+v", im0.ColorSpace)
	}
	if !im0.HasSMask {
		t.Error("expected SMask flag")
	}
	if im0.External {
		t.Error("embedded image must not be flagged external")
	}
	if string(im0.Data) != "pixels" {
		t.Errorf("unexpected image data %q", im0.Data)
	}

	im1 := res.XObjects["Im1"]
	if im1 == nil {
		t.Fatal("missing Im1")
	}
	if !im1.External {
		t.Error("OPI proxy image must be flagged external")
	}
}

func TestBuildLayersAndOutputIntents(t *testing.T) {
	cutLayer := &raw.DictObj{KV: map[string]raw.Object{
		"Type": raw.NameLiteral("OCG"),
		"Name": raw.Str([]byte("CutContour")),
	}}
	artLayer := &raw.DictObj{KV: map[string]raw.Object{
		"Type":   raw.NameLiteral("OCG"),
		"Name":   raw.Str([]byte("Artwork")),
		"Intent": raw.NameLiteral("Design"),
	}}
	profile := raw.NewStream(&raw.DictObj{KV: map[string]raw.Object{
		"N": raw.NumberInt(4),
	}}, []byte("icc"))

	catalog := &raw.DictObj{KV: map[string]raw.Object{
		"Pages": ref(2),
		"OCProperties": &raw.DictObj{KV: map[string]raw.Object{
			"OCGs": &raw.ArrayObj{Items: []raw.Object{ref(5), ref(6)}},
		}},
		"OutputIntents": &raw.ArrayObj{Items: []raw.Object{
			&raw.DictObj{KV: map[string]raw.Object{
				"S":                         raw.NameLiteral("GTS_PDFX"),
				"OutputConditionIdentifier": raw.Str([]byte("FOGRA39")),
				"DestOutputProfile":         ref(7),
			}},
		}},
	}}
	pages := &raw.DictObj{KV: map[string]raw.Object{
		"Type": raw.NameLiteral("Pages"),
		"Kids": &raw.ArrayObj{Items: []raw.Object{}},
	}}

	dec := newTestDoc(map[raw.ObjectRef]raw.Object{
		{Num: 1}: catalog,
		{Num: 2}: pages,
		{Num: 5}: cutLayer,
		{Num: 6}: artLayer,
		{Num: 7}: profile,
	}, &raw.DictObj{KV: map[string]raw.Object{"Root": ref(1)}})

	doc, err := NewBuilder().Build(context.Background(), dec)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(doc.Layers) != 2 {
		t.Fatalf("expected 2 layers, got %d", len(doc.Layers))
	}
	if doc.Layers[0].Name != "CutContour" {
		t.Errorf("expected layer CutContour, got %q", doc.Layers[0].Name)
	}
	if len(doc.Layers[1].Intent) != 1 || doc.Layers[1].Intent[0] != "Design" {
		t.Errorf("unexpected intent: %v", doc.Layers[1].Intent)
	}

	if len(doc.OutputIntents) != 1 {
		t.Fatalf("expected 1 output intent, got %d", len(doc.OutputIntents))
	}
	oi := doc.OutputIntents[0]
	if oi.S != "GTS_PDFX" {
		t.Errorf("expected GTS_PDFX, got %q", oi.S)
	}
	if oi.OutputConditionIdentifier != "FOGRA39" {
		t.Errorf("unexpected condition identifier %q", oi.OutputConditionIdentifier)
	}
	if string(oi.DestOutputProfile) != "icc" {
		t.Errorf("unexpected profile bytes %q", oi.DestOutputProfile)
	}
}

func TestBuildPageTreeCycle(t *testing.T) {
	pages := &raw.DictObj{KV: map[string]raw.Object{
		"Type": raw.NameLiteral("Pages"),
		"Kids": &raw.ArrayObj{Items: []raw.Object{ref(2)}},
	}}
	catalog := &raw.DictObj{KV: map[string]raw.Object{"Pages": ref(2)}}

	dec := newTestDoc(map[raw.ObjectRef]raw.Object{
		{Num: 1}: catalog,
		{Num: 2}: pages,
	}, &raw.DictObj{KV: map[string]raw.Object{"Root": ref(1)}})

	doc, err := NewBuilder().Build(context.Background(), dec)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(doc.Pages) != 0 {
		t.Fatalf("expected no pages from a cyclic tree, got %d", len(doc.Pages))
	}
	if len(doc.Warnings) == 0 {
		t.Error("expected a warning about the cycle")
	}
}

type stubStream struct {
	dict *raw.DictObj
	data []byte
}

func (s stubStream) Raw() raw.Object            { return raw.NewStream(s.dict, nil) }
func (s stubStream) Dictionary() raw.Dictionary { return s.dict }
func (s stubStream) Data() []byte               { return s.data }
func (s stubStream) Filters() []string          { return nil }
func (s stubStream) Decoded() bool              { return true }

func TestBuildPrefersDecodedStreamData(t *testing.T) {
	contentDict := &raw.DictObj{KV: map[string]raw.Object{
		"Filter": raw.NameLiteral("FlateDecode"),
	}}
	content := raw.NewStream(contentDict, []byte("compressed"))

	page := &raw.DictObj{KV: map[string]raw.Object{
		"Type": raw.NameLiteral("Page"),
		"MediaBox": &raw.ArrayObj{Items: []raw.Object{
			raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(100), raw.NumberInt(100),
		}},
		"Contents": ref(4),
	}}
	pages := &raw.DictObj{KV: map[string]raw.Object{
		"Type": raw.NameLiteral("Pages"),
		"Kids": &raw.ArrayObj{Items: []raw.Object{ref(3)}},
	}}
	catalog := &raw.DictObj{KV: map[string]raw.Object{"Pages": ref(2)}}

	dec := newTestDoc(map[raw.ObjectRef]raw.Object{
		{Num: 1}: catalog,
		{Num: 2}: pages,
		{Num: 3}: page,
		{Num: 4}: content,
	}, &raw.DictObj{KV: map[string]raw.Object{"Root": ref(1)}})
	dec.Streams[raw.ObjectRef{Num: 4}] = stubStream{dict: contentDict, data: []byte("q Q")}

	doc, err := NewBuilder().Build(context.Background(), dec)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(doc.Pages) != 1 || len(doc.Pages[0].Contents) != 1 {
		t.Fatalf("expected one page with one content stream, got %+v", doc.Pages)
	}
	if got := string(doc.Pages[0].Contents[0].Data); got != "q Q" {
		t.Errorf("expected decoded payload, got %q", got)
	}
}
