package semantic

import (
	"fmt"

	"github.com/prepress/preflight/ir/raw"
)

// Form XObjects nest their own resource dictionaries. The depth cap
// breaks reference cycles between forms.
const maxResourceDepth = 16

func (s *buildState) parseResources(obj raw.Object, depth int) (*Resources, error) {
	if depth > maxResourceDepth {
		return nil, fmt.Errorf("resource nesting deeper than %d", maxResourceDepth)
	}
	dict, ok := resolveDict(obj, s.res)
	if !ok {
		return nil, fmt.Errorf("resources is not a dictionary")
	}

	res := &Resources{
		Fonts:       make(map[string]*Font),
		ColorSpaces: make(map[string]ColorSpace),
		XObjects:    make(map[string]*XObject),
		ExtGStates:  make(map[string]ExtGState),
		Properties:  make(map[string]OptionalContentGroup),
	}

	if fObj, ok := dict.Get(raw.NameLiteral("Font")); ok {
		if fDict, ok := resolveDict(fObj, s.res); ok {
			for k, v := range fDict.KV {
				font, err := s.parseFont(v)
				if err != nil {
					s.warnf("font %s: %v", k, err)
					continue
				}
				res.Fonts[k] = font
			}
		}
	}

	if csObj, ok := dict.Get(raw.NameLiteral("ColorSpace")); ok {
		if csDict, ok := resolveDict(csObj, s.res); ok {
			for k, v := range csDict.KV {
				cs, err := s.parseColorSpace(v)
				if err != nil {
					s.warnf("color space %s: %v", k, err)
					continue
				}
				res.ColorSpaces[k] = cs
			}
		}
	}

	if xObj, ok := dict.Get(raw.NameLiteral("XObject")); ok {
		if xDict, ok := resolveDict(xObj, s.res); ok {
			for k, v := range xDict.KV {
				xo, err := s.parseXObject(v, depth)
				if err != nil {
					s.warnf("xobject %s: %v", k, err)
					continue
				}
				res.XObjects[k] = xo
			}
		}
	}

	if gsObj, ok := dict.Get(raw.NameLiteral("ExtGState")); ok {
		if gsDict, ok := resolveDict(gsObj, s.res); ok {
			for k, v := range gsDict.KV {
				if gs, ok := s.parseExtGState(v); ok {
					res.ExtGStates[k] = gs
				}
			}
		}
	}

	if propObj, ok := dict.Get(raw.NameLiteral("Properties")); ok {
		if propDict, ok := resolveDict(propObj, s.res); ok {
			for k, v := range propDict.KV {
				ocg, ok := resolveDict(v, s.res)
				if !ok {
					continue
				}
				if typeName, _ := raw.DictName(ocg, "Type", s.res); typeName != "OCG" {
					continue
				}
				g := OptionalContentGroup{}
				if name, ok := raw.DictString(ocg, "Name", s.res); ok {
					g.Name = string(name)
				} else if name, ok := raw.DictName(ocg, "Name", s.res); ok {
					g.Name = name
				}
				res.Properties[k] = g
			}
		}
	}

	return res, nil
}

func (s *buildState) parseFont(obj raw.Object) (*Font, error) {
	dict, ok := resolveDict(obj, s.res)
	if !ok {
		return nil, fmt.Errorf("font is not a dictionary")
	}

	font := &Font{}
	font.Subtype, _ = raw.DictName(dict, "Subtype", s.res)
	font.BaseFont, _ = raw.DictName(dict, "BaseFont", s.res)

	if encObj, ok := dict.Get(raw.NameLiteral("Encoding")); ok {
		switch enc := raw.Deref(encObj, s.res).(type) {
		case raw.NameObj:
			font.Encoding = enc.Value()
		case *raw.DictObj:
			font.Encoding, _ = raw.DictName(enc, "BaseEncoding", s.res)
		}
	}

	if fdObj, ok := dict.Get(raw.NameLiteral("FontDescriptor")); ok {
		font.Descriptor = s.parseFontDescriptor(fdObj)
	}

	if font.Subtype == "Type0" {
		if descObj, ok := dict.Get(raw.NameLiteral("DescendantFonts")); ok {
			if arr, ok := resolveArray(descObj, s.res); ok && len(arr.Items) > 0 {
				if descDict, ok := resolveDict(arr.Items[0], s.res); ok {
					cid := &CIDFont{}
					cid.Subtype, _ = raw.DictName(descDict, "Subtype", s.res)
					cid.BaseFont, _ = raw.DictName(descDict, "BaseFont", s.res)
					if fdObj, ok := descDict.Get(raw.NameLiteral("FontDescriptor")); ok {
						cid.Descriptor = s.parseFontDescriptor(fdObj)
					}
					font.Descendant = cid
				}
			}
		}
	}

	return font, nil
}

func (s *buildState) parseFontDescriptor(obj raw.Object) *FontDescriptor {
	dict, ok := resolveDict(obj, s.res)
	if !ok {
		s.warnf("font descriptor is not a dictionary")
		return nil
	}

	fd := &FontDescriptor{}
	fd.FontName, _ = raw.DictName(dict, "FontName", s.res)
	if flags, ok := raw.DictInt(dict, "Flags", s.res); ok {
		fd.Flags = int(flags)
	}

	for _, key := range []string{"FontFile", "FontFile2", "FontFile3"} {
		ffObj, ok := dict.Get(raw.NameLiteral(key))
		if !ok {
			continue
		}
		stream, ref, ok := resolveStream(ffObj, s.res)
		if !ok {
			s.warnf("%s is not a stream", key)
			continue
		}
		fd.FontFile = s.res.streamBytes(ref, stream)
		fd.FontFileType = key
		fd.FontFileSubtype, _ = raw.DictName(stream.Dict, "Subtype", s.res)
		break
	}

	return fd
}

func (s *buildState) parseColorSpace(obj raw.Object) (ColorSpace, error) {
	obj = raw.Deref(obj, s.res)

	if name, ok := obj.(raw.NameObj); ok {
		return namedColorSpace(name.Value()), nil
	}

	arr, ok := obj.(*raw.ArrayObj)
	if !ok {
		return nil, fmt.Errorf("color space is neither a name nor an array")
	}
	if len(arr.Items) == 0 {
		return nil, fmt.Errorf("empty color space array")
	}
	nameObj, ok := raw.Deref(arr.Items[0], s.res).(raw.NameObj)
	if !ok {
		return nil, fmt.Errorf("color space array does not start with a name")
	}

	switch name := nameObj.Value(); name {
	case "ICCBased":
		cs := ICCBasedColorSpace{}
		if len(arr.Items) > 1 {
			if stream, ref, ok := resolveStream(arr.Items[1], s.res); ok {
				cs.Profile = s.res.streamBytes(ref, stream)
				if n, ok := raw.DictInt(stream.Dict, "N", s.res); ok {
					cs.N = int(n)
				}
			}
		}
		return cs, nil

	case "Separation":
		cs := SeparationColorSpace{}
		if len(arr.Items) > 1 {
			if n, ok := raw.Deref(arr.Items[1], s.res).(raw.NameObj); ok {
				cs.Colorant = n.Value()
			}
		}
		if len(arr.Items) > 2 {
			if alt, err := s.parseColorSpace(arr.Items[2]); err == nil {
				cs.Alternate = alt
			}
		}
		return cs, nil

	case "DeviceN":
		cs := DeviceNColorSpace{}
		if len(arr.Items) > 1 {
			if names, ok := resolveArray(arr.Items[1], s.res); ok {
				for _, item := range names.Items {
					if n, ok := raw.Deref(item, s.res).(raw.NameObj); ok {
						cs.Colorants = append(cs.Colorants, n.Value())
					}
				}
			}
		}
		if len(arr.Items) > 2 {
			if alt, err := s.parseColorSpace(arr.Items[2]); err == nil {
				cs.Alternate = alt
			}
		}
		return cs, nil

	case "Indexed":
		cs := IndexedColorSpace{}
		if len(arr.Items) > 1 {
			if base, err := s.parseColorSpace(arr.Items[1]); err == nil {
				cs.Base = base
			}
		}
		if len(arr.Items) > 2 {
			if n, ok := raw.Deref(arr.Items[2], s.res).(raw.Number); ok {
				cs.Hival = int(n.Int())
			}
		}
		return cs, nil

	case "Pattern":
		cs := PatternColorSpace{}
		if len(arr.Items) > 1 {
			if under, err := s.parseColorSpace(arr.Items[1]); err == nil {
				cs.Under = under
			}
		}
		return cs, nil

	default:
		return namedColorSpace(name), nil
	}
}

func namedColorSpace(name string) ColorSpace {
	switch name {
	case "CalGray", "CalRGB", "Lab":
		return CIEColorSpace{Name: name}
	case "Pattern":
		return PatternColorSpace{}
	default:
		return DeviceColorSpace{Name: name}
	}
}

func (s *buildState) parseXObject(obj raw.Object, depth int) (*XObject, error) {
	stream, ref, ok := resolveStream(obj, s.res)
	if !ok {
		return nil, fmt.Errorf("xobject is not a stream")
	}
	dict := stream.Dict

	xo := &XObject{}
	xo.Subtype, _ = raw.DictName(dict, "Subtype", s.res)
	xo.Data = s.res.streamBytes(ref, stream)

	switch xo.Subtype {
	case "Image":
		if w, ok := raw.DictInt(dict, "Width", s.res); ok {
			xo.Width = int(w)
		}
		if h, ok := raw.DictInt(dict, "Height", s.res); ok {
			xo.Height = int(h)
		}
		if bpc, ok := raw.DictInt(dict, "BitsPerComponent", s.res); ok {
			xo.BitsPerComponent = int(bpc)
		}
		if csObj, ok := dict.Get(raw.NameLiteral("ColorSpace")); ok {
			cs, err := s.parseColorSpace(csObj)
			if err != nil {
				s.warnf("image color space: %v", err)
			} else {
				xo.ColorSpace = cs
			}
		}
		if _, ok := dict.Get(raw.NameLiteral("SMask")); ok {
			xo.HasSMask = true
		}
		// OPI proxies and external file specifications point at
		// pixel data outside the document.
		if _, ok := dict.Get(raw.NameLiteral("OPI")); ok {
			xo.External = true
		}
		if _, ok := dict.Get(raw.NameLiteral("F")); ok {
			xo.External = true
		}

	case "Form":
		if bboxObj, ok := dict.Get(raw.NameLiteral("BBox")); ok {
			xo.BBox = s.parseRectangle(bboxObj)
		}
		if resObj, ok := dict.Get(raw.NameLiteral("Resources")); ok {
			res, err := s.parseResources(resObj, depth+1)
			if err != nil {
				s.warnf("form resources: %v", err)
			} else {
				xo.Resources = res
			}
		}
	}

	return xo, nil
}

func (s *buildState) parseExtGState(obj raw.Object) (ExtGState, bool) {
	dict, ok := resolveDict(obj, s.res)
	if !ok {
		return ExtGState{}, false
	}

	gs := ExtGState{}
	if v, ok := raw.DictBool(dict, "OP", s.res); ok {
		gs.Overprint = &v
	}
	if v, ok := raw.DictBool(dict, "op", s.res); ok {
		gs.OverprintFill = &v
	}
	if v, ok := raw.DictInt(dict, "OPM", s.res); ok {
		mode := int(v)
		gs.OverprintMode = &mode
	}
	if v, ok := raw.DictName(dict, "BM", s.res); ok {
		gs.BlendMode = v
	}
	return gs, true
}
