package analysis

import (
	"context"
	"errors"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/prepress/preflight/contentstream"
	"github.com/prepress/preflight/fonts"
	"github.com/prepress/preflight/icc"
	"github.com/prepress/preflight/ir"
	"github.com/prepress/preflight/ir/semantic"
	"github.com/prepress/preflight/observability"
	"github.com/prepress/preflight/parser"
	"github.com/prepress/preflight/recovery"
	"github.com/prepress/preflight/security"
)

// DefaultMinImageDPI is the threshold below which a placed image counts
// as low resolution.
const DefaultMinImageDPI = 150.0

// Config tunes the analyzer. Zero values fall back to the defaults.
type Config struct {
	MinImageDPI float64
	Limits      security.Limits
	Password    string
	Logger      observability.Logger
}

// Analyzer runs the preflight checks over a document.
type Analyzer struct {
	cfg Config
}

func New(cfg Config) *Analyzer {
	if cfg.MinImageDPI <= 0 {
		cfg.MinImageDPI = DefaultMinImageDPI
	}
	if cfg.Limits == (security.Limits{}) {
		cfg.Limits = security.DefaultLimits()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &Analyzer{cfg: cfg}
}

// Analyze parses the file and runs every check. It never fails: parse
// errors degrade the result to a report whose warnings say what went
// wrong.
func (a *Analyzer) Analyze(ctx context.Context, r io.ReaderAt) *Report {
	rep := NewReport()

	rec := recovery.NewLenientStrategy()
	pipe := ir.New(ir.Config{
		Recovery: rec,
		Limits:   a.cfg.Limits,
		Password: a.cfg.Password,
	})
	doc, err := pipe.Parse(ctx, r)
	for _, note := range rec.Notes() {
		rep.warnf("%s", note.String())
	}
	if err != nil {
		// Metadata the header alone can supply still gets reported.
		rep.Version = parser.DetectHeaderVersion(r)
		if errors.Is(err, parser.ErrEncrypted) {
			rep.Encrypted = true
			rep.warnf("document is encrypted and could not be opened")
		} else {
			rep.warnf("document could not be analyzed: %v", err)
		}
		rep.finishColorMode()
		a.cfg.Logger.Warn("analysis aborted", observability.Error("err", err))
		return rep
	}

	a.AnalyzeDocument(doc, rep)
	a.cfg.Logger.Info("analysis complete",
		observability.Int("pages", rep.Pages),
		observability.String("color_mode", rep.DocumentColorMode),
		observability.Int("warnings", len(rep.Warnings)))
	return rep
}

// AnalyzeDocument runs the checks over an already parsed document,
// filling rep in place.
func (a *Analyzer) AnalyzeDocument(doc *semantic.Document, rep *Report) {
	rep.Pages = len(doc.Pages)
	rep.Version = doc.Version
	rep.Encrypted = doc.Encrypted
	for _, w := range doc.Warnings {
		rep.warnf("%s", w)
	}

	a.checkFonts(doc, rep)
	a.checkLayers(doc, rep)
	a.checkDeclaredSpaces(doc, rep)
	a.checkProfiles(doc, rep)
	a.checkImages(doc, rep)
	rep.finishColorMode()
}

// checkFonts verifies that every font travels with the file and that
// the embedded programs parse. A document without fonts is enclosed.
func (a *Analyzer) checkFonts(doc *semantic.Document, rep *Report) {
	enclosed := true
	for _, page := range doc.Pages {
		walkResources(page.Resources, 0, func(res *semantic.Resources) {
			for _, name := range sortedFontNames(res) {
				f := res.Fonts[name]
				if !f.Embedded() {
					enclosed = false
					rep.warnf("page %d: font %s (%s) is not embedded", page.Index+1, name, f.BaseFont)
				}
				for _, w := range fonts.Verify(name, f) {
					rep.warnf("page %d: %s", page.Index+1, w)
				}
			}
		})
	}
	rep.FontsEnclosed = enclosed
}

// checkLayers reads the catalog's optional content groups.
func (a *Analyzer) checkLayers(doc *semantic.Document, rep *Report) {
	rep.Layers = len(doc.Layers) > 0
	for _, ocg := range doc.Layers {
		if isCutName(ocg.Name) {
			rep.HasCutContourLayer = true
		}
	}
}

// checkDeclaredSpaces collects the color spaces named in resource
// dictionaries. Spot colorants following a cutting convention count as
// a cut contour even when nothing paints with them.
func (a *Analyzer) checkDeclaredSpaces(doc *semantic.Document, rep *Report) {
	seen := make(map[string]bool)
	for _, page := range doc.Pages {
		walkResources(page.Resources, 0, func(res *semantic.Resources) {
			for _, cs := range res.ColorSpaces {
				seen[declaredName(cs)] = true
				markCutColorants(cs, rep)
			}
		})
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	rep.DeclaredColorSpaces = names
}

// checkProfiles validates the embedded ICC profiles: ICCBased spaces
// whose declared component count disagrees with the profile, and
// unreadable output intent profiles.
func (a *Analyzer) checkProfiles(doc *semantic.Document, rep *Report) {
	for _, page := range doc.Pages {
		walkResources(page.Resources, 0, func(res *semantic.Resources) {
			for _, name := range sortedColorSpaceNames(res) {
				ic, ok := res.ColorSpaces[name].(semantic.ICCBasedColorSpace)
				if !ok || len(ic.Profile) == 0 {
					continue
				}
				prof, err := icc.Parse(ic.Profile)
				if err != nil {
					rep.warnf("page %d: color space %s: unreadable ICC profile: %v", page.Index+1, name, err)
					continue
				}
				if n := prof.Components(); n != 0 && ic.N != 0 && n != ic.N {
					rep.warnf("page %d: color space %s declares %d components but its profile is %s",
						page.Index+1, name, ic.N, prof.ColorSpace())
				}
			}
		})
	}
	for _, oi := range doc.OutputIntents {
		if len(oi.DestOutputProfile) == 0 {
			continue
		}
		if _, err := icc.Parse(oi.DestOutputProfile); err != nil {
			rep.warnf("output intent %s: unreadable ICC profile: %v", oi.OutputConditionIdentifier, err)
		}
	}
}

// checkImages traces every page's content streams, then classifies the
// images its resources carry. Image XObjects count once per page they
// are referenced from; the content color mode is recorded per embedded
// image so duplicates influence the document mode.
func (a *Analyzer) checkImages(doc *semantic.Document, rep *Report) {
	tracer := contentstream.NewTracer()
	for _, page := range doc.Pages {
		usage, warns := tracer.Trace(page)
		for _, w := range warns {
			rep.warnf("page %d: %s", page.Index+1, w)
		}

		placed := make(map[*semantic.XObject][]contentstream.ImagePlacement)
		for _, p := range usage.Images {
			if p.Inline {
				rep.ImagesEmbedded++
				rep.ContentColorModes = append(rep.ContentColorModes, colorMode(p.ColorSpace))
				if x, y, ok := p.DPI(); ok && math.Min(x, y) < a.cfg.MinImageDPI {
					rep.ImagesLowDPI++
				}
				continue
			}
			if p.XObject != nil {
				placed[p.XObject] = append(placed[p.XObject], p)
			}
		}

		for _, img := range collectImages(page.Resources, 0) {
			if img.External {
				rep.ImagesLinked++
				continue
			}
			rep.ImagesEmbedded++
			rep.ContentColorModes = append(rep.ContentColorModes, colorMode(img.ColorSpace))
			if a.lowDPI(img, placed[img], page) {
				rep.ImagesLowDPI++
			}
		}

		for name := range usage.Layers {
			if isCutName(name) {
				rep.HasCutContourLayer = true
			}
		}
		for name := range usage.Colorants {
			if isCutName(name) {
				rep.HasCutContourLayer = true
			}
		}
	}
}

// lowDPI reports whether any placement of img falls under the
// threshold. An image that is never drawn is judged as if it filled the
// page's crop box.
func (a *Analyzer) lowDPI(img *semantic.XObject, placements []contentstream.ImagePlacement, page *semantic.Page) bool {
	if len(placements) == 0 {
		if img.Width <= 0 || img.Height <= 0 {
			return false
		}
		w, h := page.CropBox.Width(), page.CropBox.Height()
		if w <= 0 || h <= 0 {
			return false
		}
		x := float64(img.Width) / (w / 72)
		y := float64(img.Height) / (h / 72)
		return math.Min(x, y) < a.cfg.MinImageDPI
	}
	for _, p := range placements {
		if x, y, ok := p.DPI(); ok && math.Min(x, y) < a.cfg.MinImageDPI {
			return true
		}
	}
	return false
}

const maxResourceWalkDepth = 8

// walkResources visits a resource dictionary and the resources of its
// form XObjects.
func walkResources(res *semantic.Resources, depth int, fn func(*semantic.Resources)) {
	if res == nil || depth > maxResourceWalkDepth {
		return
	}
	fn(res)
	for _, name := range sortedXObjectNames(res) {
		xo := res.XObjects[name]
		if xo.Subtype == "Form" {
			walkResources(xo.Resources, depth+1, fn)
		}
	}
}

// collectImages returns the image XObjects reachable from res in
// resource name order, descending into forms.
func collectImages(res *semantic.Resources, depth int) []*semantic.XObject {
	if res == nil || depth > maxResourceWalkDepth {
		return nil
	}
	var out []*semantic.XObject
	for _, name := range sortedXObjectNames(res) {
		xo := res.XObjects[name]
		switch xo.Subtype {
		case "Image":
			out = append(out, xo)
		case "Form":
			out = append(out, collectImages(xo.Resources, depth+1)...)
		}
	}
	return out
}

func sortedXObjectNames(res *semantic.Resources) []string {
	names := make([]string, 0, len(res.XObjects))
	for n := range res.XObjects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func sortedColorSpaceNames(res *semantic.Resources) []string {
	names := make([]string, 0, len(res.ColorSpaces))
	for n := range res.ColorSpaces {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func sortedFontNames(res *semantic.Resources) []string {
	names := make([]string, 0, len(res.Fonts))
	for n := range res.Fonts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// colorMode maps an image's color space onto the reported mode.
// Indexed images take the mode of their base space.
func colorMode(cs semantic.ColorSpace) string {
	if cs == nil {
		return "Other"
	}
	if idx, ok := cs.(semantic.IndexedColorSpace); ok {
		return colorMode(idx.Base)
	}
	switch cs.Components() {
	case 1:
		return "Grayscale"
	case 3:
		return "RGB"
	case 4:
		return "CMYK"
	}
	return "Other"
}

// declaredName renders a color space for the declared_color_spaces
// list. Spot spaces carry their colorant names.
func declaredName(cs semantic.ColorSpace) string {
	if cs == nil {
		return "Unknown"
	}
	switch c := cs.(type) {
	case semantic.SeparationColorSpace:
		return "Separation (" + c.Colorant + ")"
	case semantic.DeviceNColorSpace:
		return "DeviceN (" + strings.Join(c.Colorants, ", ") + ")"
	case semantic.IndexedColorSpace:
		return "Indexed (" + declaredName(c.Base) + ")"
	}
	return cs.Family()
}

func markCutColorants(cs semantic.ColorSpace, rep *Report) {
	switch c := cs.(type) {
	case semantic.SeparationColorSpace:
		if isCutName(c.Colorant) {
			rep.HasCutContourLayer = true
		}
	case semantic.DeviceNColorSpace:
		for _, name := range c.Colorants {
			if isCutName(name) {
				rep.HasCutContourLayer = true
			}
		}
	case semantic.IndexedColorSpace:
		markCutColorants(c.Base, rep)
	}
}
