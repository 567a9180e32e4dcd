// Package fonts verifies embedded font programs. A program that fails
// verification still counts as embedded; the findings surface as report
// warnings.
package fonts

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-text/typesetting/font/opentype"

	"github.com/prepress/preflight/ir/semantic"
)

// Verify inspects the embedded program of a font, including a Type0
// font's descendant. The returned strings are warnings; an empty slice
// means the program parsed cleanly or the font embeds nothing.
func Verify(name string, f *semantic.Font) []string {
	var warnings []string
	if f == nil {
		return nil
	}
	if f.Descriptor != nil {
		warnings = append(warnings, verifyDescriptor(name, f.Descriptor)...)
	}
	if f.Descendant != nil && f.Descendant.Descriptor != nil {
		warnings = append(warnings, verifyDescriptor(name, f.Descendant.Descriptor)...)
	}
	return warnings
}

func verifyDescriptor(name string, fd *semantic.FontDescriptor) []string {
	if fd.FontFileType == "" {
		return nil
	}
	if len(fd.FontFile) == 0 {
		return []string{fmt.Sprintf("font %s: empty %s program", name, fd.FontFileType)}
	}

	var err error
	switch fd.FontFileType {
	case "FontFile":
		err = verifyType1(fd.FontFile)
	case "FontFile2":
		err = verifySFNT(fd.FontFile)
	case "FontFile3":
		if fd.FontFileSubtype == "OpenType" {
			err = verifySFNT(fd.FontFile)
		} else {
			// Type1C and CIDFontType0C are bare CFF.
			err = verifyCFF(fd.FontFile)
		}
	default:
		err = fmt.Errorf("unknown program type %s", fd.FontFileType)
	}
	if err != nil {
		return []string{fmt.Sprintf("font %s: %s: %v", name, fd.FontFileType, err)}
	}
	return nil
}

var (
	glyfTag = opentype.NewTag('g', 'l', 'y', 'f')
	cffTag  = opentype.NewTag('C', 'F', 'F', ' ')
	cff2Tag = opentype.NewTag('C', 'F', 'F', '2')
)

// verifySFNT parses the TrueType/OpenType container and requires an
// outline table.
func verifySFNT(data []byte) error {
	ld, err := opentype.NewLoader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("sfnt parse: %w", err)
	}
	if !ld.HasTable(glyfTag) && !ld.HasTable(cffTag) && !ld.HasTable(cff2Tag) {
		return errors.New("sfnt has no outline table")
	}
	// Cross-check the table directory bounds independently of the
	// loader's lazy reads.
	if _, err := parseTableDirectory(data); err != nil {
		return err
	}
	return nil
}

// verifyCFF checks the bare Compact Font Format header.
func verifyCFF(data []byte) error {
	if len(data) < 4 {
		return errors.New("cff program truncated")
	}
	major, hdrSize := data[0], data[2]
	if major != 1 && major != 2 {
		return fmt.Errorf("unsupported cff major version %d", major)
	}
	if int(hdrSize) < 4 || int(hdrSize) > len(data) {
		return fmt.Errorf("invalid cff header size %d", hdrSize)
	}
	return nil
}

// verifyType1 accepts PFA ("%!" postscript) and PFB (0x80 segment
// marker) containers.
func verifyType1(data []byte) error {
	if len(data) < 2 {
		return errors.New("type1 program truncated")
	}
	if data[0] == '%' && data[1] == '!' {
		return nil
	}
	if data[0] == 0x80 {
		return nil
	}
	return errors.New("type1 program has neither PFA nor PFB header")
}

type tableEntry struct {
	Tag    string
	Offset uint32
	Length uint32
}

// parseTableDirectory reads the sfnt table directory and validates that
// every table lies inside the file.
func parseTableDirectory(data []byte) (map[string]tableEntry, error) {
	r := bytes.NewReader(data)

	var scalerType uint32
	if err := binary.Read(r, binary.BigEndian, &scalerType); err != nil {
		return nil, fmt.Errorf("read sfnt version: %w", err)
	}
	var numTables uint16
	if err := binary.Read(r, binary.BigEndian, &numTables); err != nil {
		return nil, fmt.Errorf("read table count: %w", err)
	}
	if _, err := r.Seek(6, io.SeekCurrent); err != nil {
		return nil, err
	}

	tables := make(map[string]tableEntry, numTables)
	for i := 0; i < int(numTables); i++ {
		var tag [4]byte
		if _, err := io.ReadFull(r, tag[:]); err != nil {
			return nil, fmt.Errorf("read table record %d: %w", i, err)
		}
		var checkSum, offset, length uint32
		if err := binary.Read(r, binary.BigEndian, &checkSum); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		if int64(offset)+int64(length) > int64(len(data)) {
			return nil, fmt.Errorf("table %s out of bounds", tag)
		}
		tables[string(tag[:])] = tableEntry{Tag: string(tag[:]), Offset: offset, Length: length}
	}
	return tables, nil
}
