package scanner

import (
	"bytes"
	"io"
	"testing"

	"github.com/prepress/preflight/recovery"
)

func newScanner(t *testing.T, data string, cfg Config) Scanner {
	t.Helper()
	return New(bytes.NewReader([]byte(data)), cfg)
}

func nextToken(t *testing.T, s Scanner) Token {
	t.Helper()
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tok
}

func TestScanner_BasicTokens(t *testing.T) {
	s := newScanner(t, "%PDF-1.7\n1 0 obj\n<< /Name /Value /Nums [1 2 3] /Flag true /Null null >>\nendobj", Config{})

	tok := nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 1 {
		t.Fatalf("expected object number 1, got %+v", tok)
	}
	tok = nextToken(t, s)
	if tok.Type != TokenNumber || !tok.IsInt || tok.Int != 0 {
		t.Fatalf("expected generation 0, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "obj" {
		t.Fatalf("expected obj keyword, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenDict {
		t.Fatalf("expected dict start, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Name" {
		t.Fatalf("expected Name key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Value" {
		t.Fatalf("expected Value name, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Nums" {
		t.Fatalf("expected Nums key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenArray {
		t.Fatalf("expected array start, got %+v", tok)
	}
	for i := int64(1); i <= 3; i++ {
		tok = nextToken(t, s)
		if tok.Type != TokenNumber || !tok.IsInt || tok.Int != i {
			t.Fatalf("expected array number %d, got %+v", i, tok)
		}
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "]" {
		t.Fatalf("expected array close, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Flag" {
		t.Fatalf("expected Flag key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenBoolean || !tok.Bool {
		t.Fatalf("expected true, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Null" {
		t.Fatalf("expected Null key, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenNull {
		t.Fatalf("expected null, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != ">>" {
		t.Fatalf("expected dict close, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "endobj" {
		t.Fatalf("expected endobj, got %+v", tok)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestScanner_IndirectRef(t *testing.T) {
	s := newScanner(t, "<< /Parent 3 0 R /Count 2 >>", Config{})
	nextToken(t, s) // <<
	nextToken(t, s) // /Parent
	tok := nextToken(t, s)
	if tok.Type != TokenRef || tok.Int != 3 || tok.Gen != 0 {
		t.Fatalf("expected ref 3 0 R, got %+v", tok)
	}
	nextToken(t, s) // /Count
	tok = nextToken(t, s)
	if tok.Type != TokenNumber || tok.Int != 2 {
		t.Fatalf("expected number 2 after ref, got %+v", tok)
	}
}

func TestScanner_Strings(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"literal", "(hello)", "hello"},
		{"nested parens", "(a(b)c)", "a(b)c"},
		{"escapes", `(line\nbreak \(x\))`, "line\nbreak (x)"},
		{"octal", `(\101\102)`, "AB"},
		{"hex", "<48656C6C6F>", "Hello"},
		{"hex odd nibble", "<48656C6C6F7>", "Hello p"},
		{"hex embedded whitespace", "<48 65 6C 6C 6F>", "Hello"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newScanner(t, tc.in, Config{})
			tok := nextToken(t, s)
			if tok.Type != TokenString {
				t.Fatalf("expected string token, got %+v", tok)
			}
			if string(tok.Bytes) != tc.want {
				t.Fatalf("got %q, want %q", tok.Bytes, tc.want)
			}
		})
	}
}

func TestScanner_NameHexEscape(t *testing.T) {
	s := newScanner(t, "/A#20B", Config{})
	tok := nextToken(t, s)
	if tok.Type != TokenName || tok.Str != "A B" {
		t.Fatalf("expected name 'A B', got %+v", tok)
	}
}

func TestScanner_Reals(t *testing.T) {
	s := newScanner(t, "[ .5 -4. 3.14 ]", Config{})
	nextToken(t, s) // [
	want := []float64{0.5, -4.0, 3.14}
	for _, w := range want {
		tok := nextToken(t, s)
		if tok.Type != TokenNumber || tok.IsInt || tok.Float != w {
			t.Fatalf("expected real %v, got %+v", w, tok)
		}
	}
}

func TestScanner_StreamWithLength(t *testing.T) {
	s := newScanner(t, "<< /Length 5 >>\nstream\nHELLO\nendstream\nendobj", Config{})
	// Consume the dict.
	for {
		tok := nextToken(t, s)
		if tok.Type == TokenKeyword && tok.Str == ">>" {
			break
		}
	}
	s.SetNextStreamLength(5)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "HELLO" {
		t.Fatalf("expected stream HELLO, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "endobj" {
		t.Fatalf("expected endobj after stream, got %+v", tok)
	}
}

func TestScanner_StreamWithoutLength(t *testing.T) {
	s := newScanner(t, "stream\nDATA BYTES\nendstream", Config{})
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "DATA BYTES" {
		t.Fatalf("expected payload via endstream search, got %q", tok.Bytes)
	}
}

func TestScanner_Comments(t *testing.T) {
	s := newScanner(t, "% header comment\n42 % trailing\n/Name", Config{})
	tok := nextToken(t, s)
	if tok.Type != TokenNumber || tok.Int != 42 {
		t.Fatalf("expected 42, got %+v", tok)
	}
	tok = nextToken(t, s)
	if tok.Type != TokenName || tok.Str != "Name" {
		t.Fatalf("expected /Name, got %+v", tok)
	}
}

func TestScanner_LimitsWithLenientRecovery(t *testing.T) {
	rec := recovery.NewLenientStrategy()
	s := newScanner(t, "(this string runs long)", Config{MaxStringLength: 4, Recovery: rec})
	if _, err := s.Next(); err != nil {
		t.Fatalf("lenient recovery should swallow the limit error, got %v", err)
	}
	if len(rec.Notes()) == 0 {
		t.Fatal("expected a recovery note for the oversized string")
	}
}

func TestScanner_LenientStringLimitKeepsTokenStream(t *testing.T) {
	rec := recovery.NewLenientStrategy()
	s := newScanner(t, "(aaaaaaaaaaaaaaaa) /Next", Config{MaxStringLength: 4, Recovery: rec})

	tok := nextToken(t, s)
	if tok.Type != TokenString {
		t.Fatalf("expected a truncated string token, got %+v", tok)
	}
	if string(tok.Bytes) != "aaaa" {
		t.Fatalf("expected truncation to the limit, got %q", tok.Bytes)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Next" {
		t.Fatalf("expected /Next after the oversized string, got %+v", tok)
	}
	if len(rec.Notes()) == 0 {
		t.Fatal("expected a recovery note for the oversized string")
	}
}

func TestScanner_LenientHexStringLimit(t *testing.T) {
	rec := recovery.NewLenientStrategy()
	s := newScanner(t, "<6161616161616161> /Next", Config{MaxStringLength: 2, Recovery: rec})

	tok := nextToken(t, s)
	if tok.Type != TokenString || string(tok.Bytes) != "aa" {
		t.Fatalf("expected hex string truncated to 2 bytes, got %+v", tok)
	}
	if tok = nextToken(t, s); tok.Type != TokenName || tok.Str != "Next" {
		t.Fatalf("expected /Next after the oversized hex string, got %+v", tok)
	}
	if len(rec.Notes()) == 0 {
		t.Fatal("expected a recovery note for the oversized hex string")
	}
}

func TestScanner_LenientDepthLimitFails(t *testing.T) {
	rec := recovery.NewLenientStrategy()
	s := newScanner(t, "<< <<", Config{MaxDictDepth: 1, Recovery: rec})

	if tok := nextToken(t, s); tok.Type != TokenDict {
		t.Fatalf("expected the first dict open, got %+v", tok)
	}
	tok, err := s.Next()
	if err == nil {
		t.Fatalf("expected an error past the depth limit, got %+v", tok)
	}
	if len(rec.Notes()) == 0 {
		t.Fatal("expected a recovery note for the depth limit")
	}
}

func TestScanner_LimitsStrict(t *testing.T) {
	s := newScanner(t, "(this string runs long)", Config{MaxStringLength: 4})
	if _, err := s.Next(); err == nil {
		t.Fatal("expected error without recovery strategy")
	}
}

func TestScanner_InlineImage(t *testing.T) {
	s := newScanner(t, "BI /W 2 /H 2 ID \x00\x01\x02\x03 EI Q", Config{})
	var tok Token
	for {
		tok = nextToken(t, s)
		if tok.Type == TokenInlineImage {
			break
		}
	}
	if string(tok.Bytes) != "\x00\x01\x02\x03" {
		t.Fatalf("unexpected inline image payload %q", tok.Bytes)
	}
	if tok = nextToken(t, s); tok.Type != TokenKeyword || tok.Str != "Q" {
		t.Fatalf("expected Q after EI, got %+v", tok)
	}
}

func TestScanner_SeekTo(t *testing.T) {
	s := newScanner(t, "AAAA /Target", Config{})
	if err := s.SeekTo(5); err != nil {
		t.Fatalf("seek: %v", err)
	}
	tok := nextToken(t, s)
	if tok.Type != TokenName || tok.Str != "Target" {
		t.Fatalf("expected /Target after seek, got %+v", tok)
	}
	if err := s.SeekTo(-1); err == nil {
		t.Fatal("expected error for negative seek")
	}
}
