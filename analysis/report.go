// Package analysis runs the print-readiness checks over a parsed
// document and aggregates them into a preflight report.
package analysis

import "fmt"

// Report is the preflight result returned to clients. Slice fields are
// always non-nil so they marshal as [] rather than null.
type Report struct {
	ContentColorModes   []string `json:"content_color_modes"`
	DeclaredColorSpaces []string `json:"declared_color_spaces"`
	DocumentColorMode   string   `json:"document_color_mode"`
	FontsEnclosed       bool     `json:"fonts_enclosed"`
	HasCutContourLayer  bool     `json:"has_cut_contour_layer"`
	ImagesEmbedded      int      `json:"images_embedded"`
	ImagesLinked        int      `json:"images_linked"`
	ImagesLowDPI        int      `json:"images_low_dpi"`
	Layers              bool     `json:"layers"`
	ModeConflict        bool     `json:"mode_conflict"`
	Warnings            []string `json:"warnings"`

	// Document metadata reported alongside the checks.
	Pages     int    `json:"pages"`
	Version   string `json:"version,omitempty"`
	Encrypted bool   `json:"encrypted"`
}

// NewReport returns a report with every field at its resting value.
func NewReport() *Report {
	return &Report{
		ContentColorModes:   []string{},
		DeclaredColorSpaces: []string{},
		DocumentColorMode:   "Unknown",
		Warnings:            []string{},
	}
}

func (r *Report) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// finishColorMode applies the precedence rules over the observed
// content modes. CMYK and RGB together are a conflict.
func (r *Report) finishColorMode() {
	seen := make(map[string]bool, len(r.ContentColorModes))
	for _, m := range r.ContentColorModes {
		seen[m] = true
	}
	switch {
	case seen["CMYK"] && seen["RGB"]:
		r.ModeConflict = true
		r.DocumentColorMode = "Mixed"
	case seen["CMYK"]:
		r.DocumentColorMode = "CMYK"
	case seen["RGB"]:
		r.DocumentColorMode = "RGB"
	case seen["Grayscale"]:
		r.DocumentColorMode = "Grayscale"
	default:
		r.DocumentColorMode = "Unknown"
	}
}
