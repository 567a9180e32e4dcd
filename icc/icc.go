// Package icc reads ICC profile headers and the description tag, enough
// to sanity check the profiles a document embeds.
package icc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"
)

const headerSize = 128

// ErrTruncated reports data too short to hold a profile header.
var ErrTruncated = errors.New("profile truncated")

// Profile wraps validated ICC profile bytes.
type Profile struct {
	data []byte
}

// Parse validates the fixed header and returns the profile.
func Parse(data []byte) (*Profile, error) {
	if len(data) < headerSize {
		return nil, ErrTruncated
	}
	if string(data[36:40]) != "acsp" {
		return nil, errors.New("missing acsp signature")
	}
	size := binary.BigEndian.Uint32(data[0:4])
	if int(size) > len(data) {
		return nil, fmt.Errorf("header declares %d bytes, have %d", size, len(data))
	}
	return &Profile{data: data}, nil
}

// Class is the profile/device class signature, e.g. "mntr" or "prtr".
func (p *Profile) Class() string {
	return strings.TrimRight(string(p.data[12:16]), " ")
}

// ColorSpace is the data color space signature, e.g. "RGB " or "CMYK".
func (p *Profile) ColorSpace() string {
	return strings.TrimRight(string(p.data[16:20]), " ")
}

// PCS is the profile connection space signature.
func (p *Profile) PCS() string {
	return strings.TrimRight(string(p.data[20:24]), " ")
}

// Version renders the header version as "major.minor".
func (p *Profile) Version() string {
	return fmt.Sprintf("%d.%d", p.data[8], p.data[9]>>4)
}

// Components maps the data color space onto a component count, 0 when
// the signature is unknown.
func (p *Profile) Components() int {
	switch space := p.ColorSpace(); space {
	case "GRAY":
		return 1
	case "2CLR":
		return 2
	case "XYZ", "Lab", "Luv", "YCbr", "Yxy", "RGB", "HSV", "HLS", "CMY", "3CLR":
		return 3
	case "CMYK", "4CLR":
		return 4
	default:
		// "5CLR" through "FCLR" for multichannel profiles.
		if len(space) == 4 && strings.HasSuffix(space, "CLR") {
			if c := space[0]; c >= '5' && c <= '9' {
				return int(c - '0')
			}
			if c := space[0]; c >= 'A' && c <= 'F' {
				return int(c-'A') + 10
			}
		}
	}
	return 0
}

// Description returns the profile description from the desc tag, in its
// textDescription (v2) or mluc (v4) form. Empty when absent or
// malformed.
func (p *Profile) Description() string {
	// Header-only profiles carry no tag table at all.
	if len(p.data) < headerSize+4 {
		return ""
	}
	count := binary.BigEndian.Uint32(p.data[headerSize : headerSize+4])
	if count > 1024 {
		return ""
	}
	for i := 0; i < int(count); i++ {
		entry := headerSize + 4 + i*12
		if entry+12 > len(p.data) {
			return ""
		}
		sig := string(p.data[entry : entry+4])
		if sig != "desc" {
			continue
		}
		off := int(binary.BigEndian.Uint32(p.data[entry+4 : entry+8]))
		size := int(binary.BigEndian.Uint32(p.data[entry+8 : entry+12]))
		if off < 0 || size < 12 || off+size > len(p.data) {
			return ""
		}
		return parseDescTag(p.data[off : off+size])
	}
	return ""
}

func parseDescTag(tag []byte) string {
	switch string(tag[0:4]) {
	case "desc":
		// textDescription: ASCII count at 8, string at 12.
		if len(tag) < 12 {
			return ""
		}
		n := int(binary.BigEndian.Uint32(tag[8:12]))
		if n <= 0 || 12+n > len(tag) {
			return ""
		}
		return strings.TrimRight(string(tag[12:12+n]), "\x00")
	case "mluc":
		if len(tag) < 28 {
			return ""
		}
		records := int(binary.BigEndian.Uint32(tag[8:12]))
		if records < 1 {
			return ""
		}
		// First record: language and country codes, then length and
		// offset of the UTF-16BE string relative to the tag start.
		strLen := int(binary.BigEndian.Uint32(tag[20:24]))
		strOff := int(binary.BigEndian.Uint32(tag[24:28]))
		if strLen <= 0 || strLen%2 != 0 || strOff < 0 || strOff+strLen > len(tag) {
			return ""
		}
		units := make([]uint16, strLen/2)
		for i := range units {
			units[i] = binary.BigEndian.Uint16(tag[strOff+2*i : strOff+2*i+2])
		}
		return string(utf16.Decode(units))
	}
	return ""
}
