package semantic

import (
	"context"
	"fmt"

	"github.com/prepress/preflight/ir/raw"
)

type inheritedPageProps struct {
	MediaBox  *Rectangle
	CropBox   *Rectangle
	Rotate    *int
	Resources raw.Object
}

// parsePages traverses the page tree and returns a flat list of pages.
func (s *buildState) parsePages(ctx context.Context, obj raw.Object, inherited inheritedPageProps) ([]*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if ref, ok := obj.(raw.Reference); ok {
		if s.seen[ref.Ref()] {
			return nil, fmt.Errorf("page tree cycle at %s", ref.Ref())
		}
		s.seen[ref.Ref()] = true
		resolved, err := s.res.Resolve(ref.Ref())
		if err != nil {
			return nil, err
		}
		obj = resolved
	}

	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, fmt.Errorf("pages node is not a dictionary")
	}

	newInherited := inherited
	if mbObj, ok := dict.Get(raw.NameLiteral("MediaBox")); ok {
		if mb := s.parseRectangle(mbObj); mb != nil {
			newInherited.MediaBox = mb
		}
	}
	if cbObj, ok := dict.Get(raw.NameLiteral("CropBox")); ok {
		if cb := s.parseRectangle(cbObj); cb != nil {
			newInherited.CropBox = cb
		}
	}
	if rotObj, ok := dict.Get(raw.NameLiteral("Rotate")); ok {
		if n, ok := raw.Deref(rotObj, s.res).(raw.Number); ok {
			val := int(n.Int())
			newInherited.Rotate = &val
		}
	}
	if resObj, ok := dict.Get(raw.NameLiteral("Resources")); ok {
		newInherited.Resources = resObj
	}

	isPage := false
	if typeName, ok := raw.DictName(dict, "Type", s.res); ok {
		isPage = typeName == "Page"
	} else if _, hasKids := dict.Get(raw.NameLiteral("Kids")); !hasKids {
		// No Type and no Kids: treat as a leaf.
		isPage = true
	}

	if isPage {
		return []*Page{s.parsePage(dict, newInherited)}, nil
	}

	kidsObj, ok := dict.Get(raw.NameLiteral("Kids"))
	if !ok {
		return nil, fmt.Errorf("pages node missing Kids")
	}
	kidsArr, ok := resolveArray(kidsObj, s.res)
	if !ok {
		return nil, fmt.Errorf("Kids is not an array")
	}

	var pages []*Page
	for _, kid := range kidsArr.Items {
		subPages, err := s.parsePages(ctx, kid, newInherited)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			s.warnf("page tree node: %v", err)
			continue
		}
		pages = append(pages, subPages...)
	}
	return pages, nil
}

func (s *buildState) parsePage(dict *raw.DictObj, inherited inheritedPageProps) *Page {
	page := &Page{}

	if mbObj, ok := dict.Get(raw.NameLiteral("MediaBox")); ok {
		if mb := s.parseRectangle(mbObj); mb != nil {
			page.MediaBox = *mb
		}
	} else if inherited.MediaBox != nil {
		page.MediaBox = *inherited.MediaBox
	} else {
		// US Letter default per the viewer convention.
		page.MediaBox = Rectangle{0, 0, 612, 792}
	}

	if cbObj, ok := dict.Get(raw.NameLiteral("CropBox")); ok {
		if cb := s.parseRectangle(cbObj); cb != nil {
			page.CropBox = *cb
		}
	} else if inherited.CropBox != nil {
		page.CropBox = *inherited.CropBox
	} else {
		page.CropBox = page.MediaBox
	}

	// TrimBox, BleedBox and ArtBox do not inherit.
	if obj, ok := dict.Get(raw.NameLiteral("TrimBox")); ok {
		page.TrimBox = s.parseRectangle(obj)
	}
	if obj, ok := dict.Get(raw.NameLiteral("BleedBox")); ok {
		page.BleedBox = s.parseRectangle(obj)
	}
	if obj, ok := dict.Get(raw.NameLiteral("ArtBox")); ok {
		page.ArtBox = s.parseRectangle(obj)
	}

	if rotObj, ok := dict.Get(raw.NameLiteral("Rotate")); ok {
		if n, ok := raw.Deref(rotObj, s.res).(raw.Number); ok {
			page.Rotate = int(n.Int())
		}
	} else if inherited.Rotate != nil {
		page.Rotate = *inherited.Rotate
	}

	resObj, ok := dict.Get(raw.NameLiteral("Resources"))
	if !ok {
		resObj = inherited.Resources
	}
	if resObj != nil {
		res, err := s.parseResources(resObj, 0)
		if err != nil {
			s.warnf("page resources: %v", err)
		} else {
			page.Resources = res
		}
	}

	if contentsObj, ok := dict.Get(raw.NameLiteral("Contents")); ok {
		streams, err := s.parseContentStreams(contentsObj)
		if err != nil {
			s.warnf("page contents: %v", err)
		} else {
			page.Contents = streams
		}
	}

	return page
}

func (s *buildState) parseContentStreams(obj raw.Object) ([]ContentStream, error) {
	if stream, ref, ok := resolveStream(obj, s.res); ok {
		return []ContentStream{{Data: s.res.streamBytes(ref, stream)}}, nil
	}

	arr, ok := resolveArray(obj, s.res)
	if !ok {
		return nil, fmt.Errorf("Contents is neither a stream nor an array")
	}
	var streams []ContentStream
	for _, item := range arr.Items {
		stream, ref, ok := resolveStream(item, s.res)
		if !ok {
			s.warnf("content stream entry is not a stream")
			continue
		}
		streams = append(streams, ContentStream{Data: s.res.streamBytes(ref, stream)})
	}
	return streams, nil
}

func (s *buildState) parseRectangle(obj raw.Object) *Rectangle {
	nums := s.parseNumberArray(obj)
	if len(nums) < 4 {
		return nil
	}
	r := &Rectangle{LLX: nums[0], LLY: nums[1], URX: nums[2], URY: nums[3]}
	// Normalize so LL is the lower-left corner.
	if r.LLX > r.URX {
		r.LLX, r.URX = r.URX, r.LLX
	}
	if r.LLY > r.URY {
		r.LLY, r.URY = r.URY, r.LLY
	}
	return r
}

func (s *buildState) parseNumberArray(obj raw.Object) []float64 {
	arr, ok := resolveArray(obj, s.res)
	if !ok {
		return nil
	}
	var nums []float64
	for _, item := range arr.Items {
		if n, ok := raw.Deref(item, s.res).(raw.Number); ok {
			nums = append(nums, n.Float())
		}
	}
	return nums
}
