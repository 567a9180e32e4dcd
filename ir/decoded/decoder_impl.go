package decoded

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/prepress/preflight/filters"
	"github.com/prepress/preflight/ir/raw"
	"github.com/prepress/preflight/recovery"
)

// NewDecoder constructs a Decoder over the given pipeline. A non-nil recovery
// strategy makes decoding tolerant: streams whose filter chain fails are kept
// with their raw payload and the failure is recorded.
func NewDecoder(p *filters.Pipeline, rec recovery.Strategy) Decoder {
	return &decoderImpl{pipeline: p, recovery: rec}
}

type decoderImpl struct {
	pipeline *filters.Pipeline
	recovery recovery.Strategy
}

func (d *decoderImpl) Decode(ctx context.Context, rawDoc *raw.Document) (*Document, error) {
	streams := make(map[raw.ObjectRef]Stream)

	type task struct {
		ref raw.ObjectRef
		obj raw.Stream
	}
	var tasks []task
	for ref, obj := range rawDoc.Objects {
		if s, ok := obj.(raw.Stream); ok {
			tasks = append(tasks, task{ref: ref, obj: s})
		}
	}
	if len(tasks) == 0 {
		return &Document{Raw: rawDoc, Streams: streams}, nil
	}

	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)

	type result struct {
		ref    raw.ObjectRef
		stream Stream
		err    error
	}
	results := make(chan result, len(tasks))

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results <- result{err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			data := t.obj.RawData()
			names, params := filters.ExtractFilters(t.obj.Dictionary())
			ok := true
			if d.pipeline != nil && len(names) > 0 {
				out, err := d.pipeline.Decode(ctx, data, names, params)
				if err != nil {
					err = fmt.Errorf("decode filters %v for %v: %w", names, t.ref, err)
					if !d.tolerate(err, t.ref) {
						results <- result{err: err}
						return
					}
					ok = false
				} else {
					data = out
				}
			}
			results <- result{ref: t.ref, stream: decodedStream{
				raw:     t.obj,
				data:    data,
				filters: names,
				decoded: ok,
			}}
		}(t)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if res.err != nil {
			return nil, res.err
		}
		streams[res.ref] = res.stream
	}
	return &Document{Raw: rawDoc, Streams: streams}, nil
}

func (d *decoderImpl) tolerate(err error, ref raw.ObjectRef) bool {
	if d.recovery == nil {
		return false
	}
	loc := recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "decoder"}
	return d.recovery.OnError(nil, err, loc) != recovery.ActionFail
}

type decodedStream struct {
	raw     raw.Stream
	data    []byte
	filters []string
	decoded bool
}

func (s decodedStream) Raw() raw.Object            { return s.raw }
func (s decodedStream) Dictionary() raw.Dictionary { return s.raw.Dictionary() }
func (s decodedStream) Data() []byte               { return s.data }
func (s decodedStream) Filters() []string          { return s.filters }
func (s decodedStream) Decoded() bool              { return s.decoded }
