package decoded

import (
	"context"

	"github.com/prepress/preflight/ir/raw"
)

// Stream is a PDF stream after its filter chain was applied.
type Stream interface {
	Raw() raw.Object
	Dictionary() raw.Dictionary
	Data() []byte
	Filters() []string
	// Decoded reports whether the filter chain was fully applied. When
	// false, Data returns the raw payload.
	Decoded() bool
}

// Document contains decoded streams plus a back-reference to the raw
// document.
type Document struct {
	Raw     *raw.Document
	Streams map[raw.ObjectRef]Stream
}

// Decoder transforms the raw IR into decoded IR by running every stream
// through the filter pipeline.
type Decoder interface {
	Decode(ctx context.Context, rawDoc *raw.Document) (*Document, error)
}
