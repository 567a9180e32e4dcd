package semantic

import (
	"context"
	"fmt"

	"github.com/prepress/preflight/ir/decoded"
	"github.com/prepress/preflight/ir/raw"
)

// NewBuilder returns the default semantic builder.
func NewBuilder() Builder {
	return &builderImpl{}
}

type builderImpl struct{}

func (b *builderImpl) Build(ctx context.Context, dec *decoded.Document) (*Document, error) {
	if dec == nil || dec.Raw == nil {
		return nil, fmt.Errorf("semantic: nil decoded document")
	}

	st := &buildState{
		res:  &docResolver{raw: dec.Raw, streams: dec.Streams},
		seen: make(map[raw.ObjectRef]bool),
	}
	doc := &Document{
		Version:     dec.Raw.Version,
		Info:        dec.Raw.Metadata,
		Permissions: dec.Raw.Permissions,
		Encrypted:   dec.Raw.Encrypted,
		Repaired:    dec.Raw.Repaired,
	}

	if dec.Raw.Trailer == nil {
		doc.Warnings = append(doc.Warnings, "document has no trailer")
		return doc, nil
	}

	rootObj, ok := dec.Raw.Trailer.Get(raw.NameLiteral("Root"))
	if !ok {
		doc.Warnings = append(doc.Warnings, "trailer has no Root entry")
		return doc, nil
	}
	catalog, ok := resolveDict(rootObj, st.res)
	if !ok {
		doc.Warnings = append(doc.Warnings, "document catalog is not a dictionary")
		return doc, nil
	}

	if pagesObj, ok := catalog.Get(raw.NameLiteral("Pages")); ok {
		pages, err := st.parsePages(ctx, pagesObj, inheritedPageProps{})
		if err != nil {
			st.warnf("page tree: %v", err)
		} else {
			doc.Pages = pages
		}
	} else {
		st.warnf("catalog has no Pages entry")
	}
	for i, p := range doc.Pages {
		p.Index = i
	}

	if oiObj, ok := catalog.Get(raw.NameLiteral("OutputIntents")); ok {
		ois, err := st.parseOutputIntents(oiObj)
		if err != nil {
			st.warnf("output intents: %v", err)
		} else {
			doc.OutputIntents = ois
		}
	}

	if ocObj, ok := catalog.Get(raw.NameLiteral("OCProperties")); ok {
		doc.Layers = st.parseOCProperties(ocObj)
	}

	doc.Warnings = st.warnings
	return doc, nil
}

// buildState threads the resolver, cycle guard and warning sink through
// the parse functions.
type buildState struct {
	res      *docResolver
	seen     map[raw.ObjectRef]bool
	warnings []string
}

func (s *buildState) warnf(format string, args ...any) {
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
}

func (s *buildState) parseOCProperties(obj raw.Object) []OptionalContentGroup {
	dict, ok := resolveDict(obj, s.res)
	if !ok {
		s.warnf("OCProperties is not a dictionary")
		return nil
	}
	ocgsObj, ok := dict.Get(raw.NameLiteral("OCGs"))
	if !ok {
		return nil
	}
	arr, ok := resolveArray(ocgsObj, s.res)
	if !ok {
		s.warnf("OCProperties OCGs is not an array")
		return nil
	}

	var groups []OptionalContentGroup
	for _, item := range arr.Items {
		ocg, ok := resolveDict(item, s.res)
		if !ok {
			continue
		}
		g := OptionalContentGroup{}
		if v, ok := ocg.Get(raw.NameLiteral("Name")); ok {
			switch n := raw.Deref(v, s.res).(type) {
			case raw.StringObj:
				g.Name = string(n.Value())
			case raw.NameObj:
				g.Name = n.Value()
			}
		}
		if v, ok := ocg.Get(raw.NameLiteral("Intent")); ok {
			switch n := raw.Deref(v, s.res).(type) {
			case raw.NameObj:
				g.Intent = []string{n.Value()}
			case *raw.ArrayObj:
				for _, it := range n.Items {
					if name, ok := it.(raw.NameObj); ok {
						g.Intent = append(g.Intent, name.Value())
					}
				}
			}
		}
		groups = append(groups, g)
	}
	return groups
}

func (s *buildState) parseOutputIntents(obj raw.Object) ([]OutputIntent, error) {
	arr, ok := resolveArray(obj, s.res)
	if !ok {
		return nil, fmt.Errorf("not an array")
	}

	var intents []OutputIntent
	for _, item := range arr.Items {
		dict, ok := resolveDict(item, s.res)
		if !ok {
			continue
		}
		oi := OutputIntent{}
		if v, ok := raw.DictName(dict, "S", s.res); ok {
			oi.S = v
		}
		if v, ok := raw.DictString(dict, "OutputConditionIdentifier", s.res); ok {
			oi.OutputConditionIdentifier = string(v)
		}
		if v, ok := raw.DictString(dict, "Info", s.res); ok {
			oi.Info = string(v)
		}
		if dest, ok := dict.Get(raw.NameLiteral("DestOutputProfile")); ok {
			if stream, ref, ok := resolveStream(dest, s.res); ok {
				oi.DestOutputProfile = s.res.streamBytes(ref, stream)
			}
		}
		intents = append(intents, oi)
	}
	return intents, nil
}

// docResolver resolves references against the raw object map and hands
// out decoded stream payloads when the decode pass produced one.
type docResolver struct {
	raw     *raw.Document
	streams map[raw.ObjectRef]decoded.Stream
}

func (r *docResolver) Resolve(ref raw.ObjectRef) (raw.Object, error) {
	if obj, ok := r.raw.Objects[ref]; ok {
		return obj, nil
	}
	return nil, &raw.MissingObjectError{Ref: ref}
}

func (r *docResolver) streamBytes(ref raw.ObjectRef, s *raw.StreamObj) []byte {
	if ds, ok := r.streams[ref]; ok {
		return ds.Data()
	}
	return s.Data
}

func resolveDict(obj raw.Object, r raw.Resolver) (*raw.DictObj, bool) {
	d, ok := raw.Deref(obj, r).(*raw.DictObj)
	return d, ok
}

func resolveArray(obj raw.Object, r raw.Resolver) (*raw.ArrayObj, bool) {
	arr, ok := raw.Deref(obj, r).(*raw.ArrayObj)
	return arr, ok
}

// resolveStream also reports the reference a stream was reached
// through, so callers can look up its decoded payload. A direct stream
// yields the zero reference.
func resolveStream(obj raw.Object, r raw.Resolver) (*raw.StreamObj, raw.ObjectRef, bool) {
	var ref raw.ObjectRef
	const maxHops = 32
	for hops := 0; hops < maxHops; hops++ {
		rf, ok := obj.(raw.Reference)
		if !ok {
			break
		}
		ref = rf.Ref()
		resolved, err := r.Resolve(ref)
		if err != nil {
			return nil, ref, false
		}
		obj = resolved
	}
	st, ok := obj.(*raw.StreamObj)
	return st, ref, ok
}
