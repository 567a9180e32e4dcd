package ir

import (
	"bytes"
	"context"
	"fmt"
	"testing"
)

// buildSinglePagePDF writes a minimal classic-xref file with one page
// whose content stream is ASCIIHex encoded.
func buildSinglePagePDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.6\n")

	bodies := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 612 792] >>",
		"<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>",
	}
	var offsets []int
	for i, body := range bodies {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	hexData := "71205120"
	offsets = append(offsets, buf.Len())
	fmt.Fprintf(buf, "4 0 obj\n<< /Length %d /Filter /ASCIIHexDecode >>\nstream\n%s>\nendstream\nendobj\n",
		len(hexData)+1, hexData)

	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(buf, "trailer << /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(offsets)+1, xrefOff)
	return buf.Bytes()
}

func TestPipelineEndToEnd(t *testing.T) {
	pdf := buildSinglePagePDF()

	doc, err := NewDefault().Parse(context.Background(), bytes.NewReader(pdf))
	if err != nil {
		t.Fatalf("pipeline parse failed: %v", err)
	}

	if len(doc.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(doc.Pages))
	}
	page := doc.Pages[0]
	if page.MediaBox.Width() != 612 || page.MediaBox.Height() != 792 {
		t.Errorf("unexpected media box: %+v", page.MediaBox)
	}
	if len(page.Contents) != 1 {
		t.Fatalf("expected 1 content stream, got %d", len(page.Contents))
	}
	if got := string(page.Contents[0].Data); got != "q Q " {
		t.Errorf("expected decoded content operators, got %q", got)
	}
	if doc.Encrypted {
		t.Error("plain file must not be flagged encrypted")
	}
}

func TestPipelineGarbageInput(t *testing.T) {
	_, err := NewDefault().Parse(context.Background(), bytes.NewReader([]byte("not a pdf at all")))
	if err == nil {
		t.Fatal("expected an error for garbage input")
	}
}
