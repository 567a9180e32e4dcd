// Package ir chains the three intermediate representations: raw objects
// out of the parser, decoded streams and the semantic document view.
package ir

import (
	"context"
	"fmt"
	"io"

	"github.com/prepress/preflight/filters"
	"github.com/prepress/preflight/ir/decoded"
	"github.com/prepress/preflight/ir/raw"
	"github.com/prepress/preflight/ir/semantic"
	"github.com/prepress/preflight/parser"
	"github.com/prepress/preflight/recovery"
	"github.com/prepress/preflight/security"
)

// Config tunes the pipeline stages. Zero values fall back to lenient
// recovery and the default resource limits.
type Config struct {
	Recovery recovery.Strategy
	Limits   security.Limits
	Password string
}

type Pipeline struct {
	rawParser       raw.Parser
	decoder         decoded.Decoder
	semanticBuilder semantic.Builder
}

// New constructs a pipeline wired through a shared recovery strategy so
// notes from every stage end up in one place.
func New(cfg Config) *Pipeline {
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewLenientStrategy()
	}
	if cfg.Limits == (security.Limits{}) {
		cfg.Limits = security.DefaultLimits()
	}
	fp := filters.NewDefaultPipeline(filters.Limits{
		MaxDecompressedSize: cfg.Limits.MaxDecompressedSize,
		MaxDecodeTime:       cfg.Limits.MaxDecodeTime,
	})
	return &Pipeline{
		rawParser: parser.NewDocumentParser(parser.Config{
			Recovery: cfg.Recovery,
			Limits:   cfg.Limits,
			Password: cfg.Password,
		}),
		decoder:         decoded.NewDecoder(fp, cfg.Recovery),
		semanticBuilder: semantic.NewBuilder(),
	}
}

// NewDefault constructs a pipeline with lenient recovery and default
// limits.
func NewDefault() *Pipeline {
	return New(Config{})
}

// Parse runs raw parsing, stream decoding and semantic building in
// sequence.
func (p *Pipeline) Parse(ctx context.Context, r io.ReaderAt) (*semantic.Document, error) {
	rawDoc, err := p.rawParser.Parse(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("raw parsing failed: %w", err)
	}

	decodedDoc, err := p.decoder.Decode(ctx, rawDoc)
	if err != nil {
		return nil, fmt.Errorf("decoding failed: %w", err)
	}

	semDoc, err := p.semanticBuilder.Build(ctx, decodedDoc)
	if err != nil {
		return nil, fmt.Errorf("semantic building failed: %w", err)
	}

	return semDoc, nil
}
