// Package semantic lifts the decoded object graph into document-level
// structures: pages with their inherited geometry, resource tables,
// fonts, color spaces, image XObjects, optional content groups and
// output intents.
package semantic

import (
	"context"

	"github.com/prepress/preflight/ir/decoded"
	"github.com/prepress/preflight/ir/raw"
)

// Rectangle is a PDF rectangle in default user space units.
type Rectangle struct {
	LLX, LLY, URX, URY float64
}

func (r Rectangle) Width() float64 {
	w := r.URX - r.LLX
	if w < 0 {
		return -w
	}
	return w
}

func (r Rectangle) Height() float64 {
	h := r.URY - r.LLY
	if h < 0 {
		return -h
	}
	return h
}

// Document is the semantic view of a parsed file.
type Document struct {
	Pages         []*Page
	Version       string
	Info          raw.DocumentMetadata
	OutputIntents []OutputIntent
	Layers        []OptionalContentGroup
	Permissions   raw.Permissions
	Encrypted     bool
	Repaired      bool

	// Warnings collects non-fatal problems hit while building the
	// semantic view. The document is still usable when it is non-empty.
	Warnings []string
}

// Page is a leaf of the page tree with inheritance already applied.
type Page struct {
	Index     int
	MediaBox  Rectangle
	CropBox   Rectangle
	TrimBox   *Rectangle
	BleedBox  *Rectangle
	ArtBox    *Rectangle
	Rotate    int
	Resources *Resources
	Contents  []ContentStream
}

// ContentStream holds a page's content operators with filters already
// applied.
type ContentStream struct {
	Data []byte
}

// Resources is a page or form XObject resource dictionary.
type Resources struct {
	Fonts       map[string]*Font
	ColorSpaces map[string]ColorSpace
	XObjects    map[string]*XObject
	ExtGStates  map[string]ExtGState
	Properties  map[string]OptionalContentGroup
}

// Font covers simple and composite fonts. For Type0 fonts the embedding
// information lives on the descendant.
type Font struct {
	Subtype    string
	BaseFont   string
	Encoding   string
	Descriptor *FontDescriptor
	Descendant *CIDFont
}

// Embedded reports whether a font program travels with the file. Type3
// fonts carry their glyph procedures inline and always count.
func (f *Font) Embedded() bool {
	if f.Subtype == "Type3" {
		return true
	}
	if f.Descriptor != nil && f.Descriptor.FontFileType != "" {
		return true
	}
	if f.Descendant != nil && f.Descendant.Descriptor != nil {
		return f.Descendant.Descriptor.FontFileType != ""
	}
	return false
}

// CIDFont is the descendant of a Type0 font.
type CIDFont struct {
	Subtype    string
	BaseFont   string
	Descriptor *FontDescriptor
}

// FontDescriptor carries the embedded font program, when present.
// FontFileType is the dictionary key the program was found under
// (FontFile, FontFile2 or FontFile3) and FontFileSubtype its declared
// Subtype.
type FontDescriptor struct {
	FontName        string
	Flags           int
	FontFile        []byte
	FontFileType    string
	FontFileSubtype string
}

// ColorSpace is one of the color space families of ISO 32000 8.6.
type ColorSpace interface {
	Family() string
	// Components is the number of color components, or 0 when unknown.
	Components() int
}

// DeviceColorSpace covers DeviceGray, DeviceRGB and DeviceCMYK.
type DeviceColorSpace struct {
	Name string
}

func (c DeviceColorSpace) Family() string { return c.Name }
func (c DeviceColorSpace) Components() int {
	switch c.Name {
	case "DeviceGray":
		return 1
	case "DeviceRGB":
		return 3
	case "DeviceCMYK":
		return 4
	}
	return 0
}

// CIEColorSpace covers CalGray, CalRGB and Lab.
type CIEColorSpace struct {
	Name string
}

func (c CIEColorSpace) Family() string { return c.Name }
func (c CIEColorSpace) Components() int {
	if c.Name == "CalGray" {
		return 1
	}
	return 3
}

// ICCBasedColorSpace carries the declared component count and the raw
// profile bytes.
type ICCBasedColorSpace struct {
	N       int
	Profile []byte
}

func (c ICCBasedColorSpace) Family() string  { return "ICCBased" }
func (c ICCBasedColorSpace) Components() int { return c.N }

// SeparationColorSpace names a single spot colorant.
type SeparationColorSpace struct {
	Colorant  string
	Alternate ColorSpace
}

func (c SeparationColorSpace) Family() string  { return "Separation" }
func (c SeparationColorSpace) Components() int { return 1 }

// DeviceNColorSpace names several colorants at once.
type DeviceNColorSpace struct {
	Colorants []string
	Alternate ColorSpace
}

func (c DeviceNColorSpace) Family() string  { return "DeviceN" }
func (c DeviceNColorSpace) Components() int { return len(c.Colorants) }

// IndexedColorSpace maps palette indices into a base space.
type IndexedColorSpace struct {
	Base  ColorSpace
	Hival int
}

func (c IndexedColorSpace) Family() string  { return "Indexed" }
func (c IndexedColorSpace) Components() int { return 1 }

// PatternColorSpace, possibly with an underlying space for uncolored
// patterns.
type PatternColorSpace struct {
	Under ColorSpace
}

func (c PatternColorSpace) Family() string  { return "Pattern" }
func (c PatternColorSpace) Components() int { return 0 }

// XObject is an Image or Form external object. Form XObjects keep their
// operator stream and nested resources so traversal can descend into
// them.
type XObject struct {
	Subtype          string
	Width            int
	Height           int
	BitsPerComponent int
	ColorSpace       ColorSpace
	HasSMask         bool
	// External is set when the pixel data lives outside the file,
	// signalled by an OPI proxy dictionary or an F file specification.
	External  bool
	Data      []byte
	BBox      *Rectangle
	Resources *Resources
}

// ExtGState keeps the graphics state parameters relevant to print
// production.
type ExtGState struct {
	Overprint     *bool
	OverprintFill *bool
	OverprintMode *int
	BlendMode     string
}

// OptionalContentGroup is a named layer from OCProperties.
type OptionalContentGroup struct {
	Name   string
	Intent []string
}

// OutputIntent describes the intended output condition of the document.
type OutputIntent struct {
	S                         string
	OutputConditionIdentifier string
	Info                      string
	DestOutputProfile         []byte
}

// Builder constructs the semantic view from a decoded document.
type Builder interface {
	Build(ctx context.Context, dec *decoded.Document) (*Document, error)
}
