package scanner

import (
	"bytes"
	"io"
	"testing"
)

func allTokens(t *testing.T, input string) []Token {
	t.Helper()
	sc := New([]byte(input), Config{})
	var out []Token
	for {
		tok, err := sc.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("scan %q: %v", input, err)
		}
		out = append(out, tok)
	}
}

func TestScanBasicTokens(t *testing.T) {
	toks := allTokens(t, "<< /Type /Page /Count 3 /Ratio 1.5 /Open true /Nothing null >>")
	kinds := []TokenKind{
		TokenDictOpen,
		TokenName, TokenName,
		TokenName, TokenNumber,
		TokenName, TokenNumber,
		TokenName, TokenBoolean,
		TokenName, TokenNull,
		TokenDictClose,
	}
	if len(toks) != len(kinds) {
		t.Fatalf("expected %d tokens, got %d", len(kinds), len(toks))
	}
	for i, k := range kinds {
		if toks[i].Kind != k {
			t.Fatalf("token %d: kind %v, want %v", i, toks[i].Kind, k)
		}
	}
	if toks[4].Int != 3 || !toks[4].IsInt {
		t.Fatalf("integer token wrong: %+v", toks[4])
	}
	if toks[6].Float != 1.5 || toks[6].IsInt {
		t.Fatalf("real token wrong: %+v", toks[6])
	}
}

func TestScanNegativeAndSignedNumbers(t *testing.T) {
	toks := allTokens(t, "-42 +17 -.5")
	if toks[0].Int != -42 {
		t.Fatalf("expected -42, got %+v", toks[0])
	}
	if toks[1].Int != 17 {
		t.Fatalf("expected 17, got %+v", toks[1])
	}
	if toks[2].IsInt || toks[2].Float != -0.5 {
		t.Fatalf("expected -0.5, got %+v", toks[2])
	}
}

func TestScanLiteralStringEscapes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`(plain)`, "plain"},
		{`(par\(en\)s)`, "par(en)s"},
		{`(nested (inner) out)`, "nested (inner) out"},
		{`(tab\there)`, "tab\there"},
		{`(octal \101\102)`, "octal AB"},
		{"(split \\\nline)", "split line"},
	}
	for _, tc := range cases {
		toks := allTokens(t, tc.in)
		if len(toks) != 1 || toks[0].Kind != TokenString {
			t.Fatalf("scan %q: unexpected tokens %+v", tc.in, toks)
		}
		if string(toks[0].Bytes) != tc.want {
			t.Fatalf("scan %q = %q, want %q", tc.in, toks[0].Bytes, tc.want)
		}
	}
}

func TestScanHexString(t *testing.T) {
	toks := allTokens(t, "<48 65 6C6C 6F>")
	if string(toks[0].Bytes) != "Hello" || !toks[0].Hex {
		t.Fatalf("hex string wrong: %+v", toks[0])
	}
	// odd nibble count pads with zero
	toks = allTokens(t, "<414>")
	if !bytes.Equal(toks[0].Bytes, []byte{0x41, 0x40}) {
		t.Fatalf("odd-length hex wrong: %v", toks[0].Bytes)
	}
}

func TestScanNameEscapes(t *testing.T) {
	toks := allTokens(t, "/A#20B /Plain")
	if toks[0].Str != "A B" {
		t.Fatalf("name escape wrong: %q", toks[0].Str)
	}
	if toks[1].Str != "Plain" {
		t.Fatalf("plain name wrong: %q", toks[1].Str)
	}
}

func TestScanSkipsComments(t *testing.T) {
	toks := allTokens(t, "% a comment\n42 % trailing\n43")
	if len(toks) != 2 || toks[0].Int != 42 || toks[1].Int != 43 {
		t.Fatalf("comment handling wrong: %+v", toks)
	}
}

func TestScanKeywords(t *testing.T) {
	toks := allTokens(t, "1 0 obj endobj stream endstream R")
	if toks[2].Kind != TokenKeyword || toks[2].Str != "obj" {
		t.Fatalf("expected obj keyword, got %+v", toks[2])
	}
	if toks[6].Str != "R" {
		t.Fatalf("expected R keyword, got %+v", toks[6])
	}
}

func TestReadStreamPayloadDeclaredLength(t *testing.T) {
	data := []byte("stream\r\nhello world\nendstream more")
	sc := New(data, Config{})
	tok, err := sc.Next()
	if err != nil || tok.Str != "stream" {
		t.Fatalf("setup failed: %+v %v", tok, err)
	}
	payload, err := sc.ReadStreamPayload(11)
	if err != nil {
		t.Fatalf("payload read failed: %v", err)
	}
	if string(payload) != "hello world" {
		t.Fatalf("payload %q", payload)
	}
	tok, err = sc.Next()
	if err != nil || tok.Str != "more" {
		t.Fatalf("scanner not positioned after endstream: %+v %v", tok, err)
	}
}

func TestReadStreamPayloadBadLengthFallsBack(t *testing.T) {
	data := []byte("stream\nhello world\nendstream")
	sc := New(data, Config{})
	sc.Next() // stream keyword
	// declared length is wrong; the scanner searches for endstream instead
	payload, err := sc.ReadStreamPayload(3)
	if err != nil {
		t.Fatalf("payload read failed: %v", err)
	}
	if string(payload) != "hello world" {
		t.Fatalf("payload %q", payload)
	}
}

func TestReadStreamPayloadIgnoresEmbeddedMarker(t *testing.T) {
	data := []byte("stream\nabc endstreamX def\nendstream")
	sc := New(data, Config{})
	sc.Next()
	payload, err := sc.ReadStreamPayload(-1)
	if err != nil {
		t.Fatalf("payload read failed: %v", err)
	}
	if string(payload) != "abc endstreamX def" {
		t.Fatalf("payload %q", payload)
	}
}

func TestReadStreamPayloadUnterminated(t *testing.T) {
	data := []byte("stream\nno terminator here")
	sc := New(data, Config{})
	sc.Next()
	if _, err := sc.ReadStreamPayload(-1); err == nil {
		t.Fatalf("expected unterminated stream error")
	}
}

func TestStringLengthLimit(t *testing.T) {
	long := append([]byte{'('}, bytes.Repeat([]byte{'a'}, 64)...)
	long = append(long, ')')
	sc := New(long, Config{MaxStringLength: 16})
	if _, err := sc.Next(); err == nil {
		t.Fatalf("expected string length limit error")
	}
}
