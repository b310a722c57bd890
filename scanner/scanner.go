// Package scanner tokenizes the PDF object syntax: names, numbers, strings,
// dictionary and array delimiters, keywords, and stream payloads.
package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"
)

type TokenKind int

const (
	TokenNumber TokenKind = iota
	TokenName
	TokenString    // literal or hex string
	TokenDictOpen  // <<
	TokenDictClose // >>
	TokenArrayOpen
	TokenArrayClose
	TokenBoolean
	TokenNull
	TokenKeyword // obj, endobj, stream, endstream, xref, trailer, startxref, R, ...
)

type Token struct {
	Kind  TokenKind
	Pos   int64
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Str   string // name value or keyword text
	Bytes []byte // string payload
	Hex   bool   // string came from hex form
}

// Config bounds the scanner against hostile inputs.
type Config struct {
	MaxStringLength int
	MaxNameLength   int
	MaxStreamScan   int
}

const (
	defaultMaxString = 1 << 20
	defaultMaxName   = 4096
)

// Scanner walks a byte slice. Position can be saved and restored, which the
// parser uses for bounded lookahead when deciding between a plain number and
// an indirect reference.
type Scanner struct {
	data []byte
	pos  int64
	cfg  Config
}

func New(data []byte, cfg Config) *Scanner {
	if cfg.MaxStringLength == 0 {
		cfg.MaxStringLength = defaultMaxString
	}
	if cfg.MaxNameLength == 0 {
		cfg.MaxNameLength = defaultMaxName
	}
	return &Scanner{data: data, cfg: cfg}
}

func (s *Scanner) Position() int64 { return s.pos }

func (s *Scanner) Len() int64 { return int64(len(s.data)) }

func (s *Scanner) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return errors.New("scanner: seek out of range")
	}
	s.pos = offset
	return nil
}

// Next returns the next token, or io.EOF at end of input.
func (s *Scanner) Next() (Token, error) {
	s.skipWhitespaceAndComments()
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch {
	case c == '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return Token{Kind: TokenDictOpen, Pos: start}, nil
		}
		return s.scanHexString()
	case c == '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return Token{Kind: TokenDictClose, Pos: start}, nil
		}
		s.pos++
		return Token{Kind: TokenKeyword, Str: ">", Pos: start}, nil
	case c == '[':
		s.pos++
		return Token{Kind: TokenArrayOpen, Pos: start}, nil
	case c == ']':
		s.pos++
		return Token{Kind: TokenArrayClose, Pos: start}, nil
	case c == '(':
		return s.scanLiteralString()
	case c == '/':
		return s.scanName()
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		return s.scanNumber()
	default:
		return s.scanKeyword()
	}
}

// ReadStreamPayload slices length bytes of stream data starting after the
// EOL that follows the stream keyword, then advances past the endstream
// marker. A negative length means the declared /Length was unusable and the
// payload extends to the next endstream keyword on a token boundary.
func (s *Scanner) ReadStreamPayload(length int64) ([]byte, error) {
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
	start := s.pos
	if length >= 0 && start+length <= int64(len(s.data)) {
		payload := append([]byte(nil), s.data[start:start+length]...)
		s.pos = start + length
		s.skipEOL()
		if s.consumeKeywordAt("endstream") {
			return payload, nil
		}
		// declared length did not land on endstream; fall back to searching
		s.pos = start
	}
	idx := s.findEndstream(start)
	if idx < 0 {
		s.pos = int64(len(s.data))
		return nil, errors.New("scanner: unterminated stream")
	}
	end := int64(idx)
	// trim the EOL separating data from the marker
	if end > start && s.data[end-1] == '\n' {
		end--
	}
	if end > start && s.data[end-1] == '\r' {
		end--
	}
	payload := append([]byte(nil), s.data[start:end]...)
	s.pos = int64(idx + len("endstream"))
	return payload, nil
}

func (s *Scanner) findEndstream(from int64) int {
	needle := []byte("endstream")
	limit := int64(len(s.data))
	if s.cfg.MaxStreamScan > 0 && from+int64(s.cfg.MaxStreamScan) < limit {
		limit = from + int64(s.cfg.MaxStreamScan)
	}
	for i := from; i+int64(len(needle)) <= limit; {
		rel := bytes.Index(s.data[i:limit], needle)
		if rel < 0 {
			return -1
		}
		at := i + int64(rel)
		afterOK := at+int64(len(needle)) >= int64(len(s.data)) || isDelimiter(s.data[at+int64(len(needle))])
		if afterOK {
			return int(at)
		}
		i = at + 1
	}
	return -1
}

func (s *Scanner) skipEOL() {
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
}

func (s *Scanner) consumeKeywordAt(kw string) bool {
	end := s.pos + int64(len(kw))
	if end > int64(len(s.data)) {
		return false
	}
	if string(s.data[s.pos:end]) != kw {
		return false
	}
	if end < int64(len(s.data)) && !isDelimiter(s.data[end]) {
		return false
	}
	s.pos = end
	return true
}

func (s *Scanner) skipWhitespaceAndComments() {
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
			continue
		}
		return
	}
}

func (s *Scanner) peek(n int64) byte {
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *Scanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // '/'
	var out []byte
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) {
			hi, okHi := hexVal(s.data[s.pos+1])
			lo, okLo := hexVal(s.data[s.pos+2])
			if okHi && okLo {
				out = append(out, hi<<4|lo)
				s.pos += 3
				continue
			}
		}
		out = append(out, c)
		s.pos++
		if len(out) > s.cfg.MaxNameLength {
			return Token{}, errors.New("scanner: name too long")
		}
	}
	return Token{Kind: TokenName, Str: string(out), Pos: start}, nil
}

func (s *Scanner) scanNumber() (Token, error) {
	start := s.pos
	isInt := true
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c == '.' {
			isInt = false
		} else if c != '+' && c != '-' && (c < '0' || c > '9') {
			break
		}
		s.pos++
	}
	text := string(s.data[start:s.pos])
	if isInt {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Token{Kind: TokenNumber, Int: i, IsInt: true, Pos: start}, nil
		}
		// overflow or stray sign; retry as float
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Token{}, errors.New("scanner: malformed number " + strconv.Quote(text))
	}
	return Token{Kind: TokenNumber, Float: f, Pos: start}, nil
}

func (s *Scanner) scanKeyword() (Token, error) {
	start := s.pos
	for s.pos < int64(len(s.data)) && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		s.pos++ // skip the stray delimiter byte so scanning keeps making progress
		return Token{Kind: TokenKeyword, Str: string(s.data[start : start+1]), Pos: start}, nil
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true":
		return Token{Kind: TokenBoolean, Bool: true, Pos: start}, nil
	case "false":
		return Token{Kind: TokenBoolean, Bool: false, Pos: start}, nil
	case "null":
		return Token{Kind: TokenNull, Pos: start}, nil
	}
	return Token{Kind: TokenKeyword, Str: kw, Pos: start}, nil
}

func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // '('
	var out []byte
	depth := 1
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		switch c {
		case '\\':
			s.pos++
			if s.pos >= int64(len(s.data)) {
				return Token{}, errors.New("scanner: unterminated literal string")
			}
			esc := s.data[s.pos]
			switch {
			case esc == '\n':
				s.pos++
			case esc == '\r':
				s.pos++
				if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc >= '0' && esc <= '7':
				val := 0
				for k := 0; k < 3 && s.pos < int64(len(s.data)); k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 | int(d-'0')
					s.pos++
				}
				out = append(out, byte(val))
			default:
				out = append(out, unescape(esc))
				s.pos++
			}
		case '(':
			depth++
			out = append(out, c)
			s.pos++
		case ')':
			depth--
			s.pos++
			if depth == 0 {
				return Token{Kind: TokenString, Bytes: out, Pos: start}, nil
			}
			out = append(out, c)
		default:
			out = append(out, c)
			s.pos++
		}
		if len(out) > s.cfg.MaxStringLength {
			return Token{}, errors.New("scanner: string too long")
		}
	}
	return Token{}, errors.New("scanner: unterminated literal string")
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // '<'
	var nibbles []byte
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c == '>' {
			s.pos++
			if len(nibbles)%2 == 1 {
				nibbles = append(nibbles, 0)
			}
			out := make([]byte, 0, len(nibbles)/2)
			for i := 0; i < len(nibbles); i += 2 {
				out = append(out, nibbles[i]<<4|nibbles[i+1])
			}
			return Token{Kind: TokenString, Bytes: out, Hex: true, Pos: start}, nil
		}
		if v, ok := hexVal(c); ok {
			nibbles = append(nibbles, v)
			if len(nibbles)/2 > s.cfg.MaxStringLength {
				return Token{}, errors.New("scanner: string too long")
			}
		} else if !isWhitespace(c) {
			return Token{}, errors.New("scanner: invalid byte in hex string")
		}
		s.pos++
	}
	return Token{}, errors.New("scanner: unterminated hex string")
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func isWhitespace(c byte) bool {
	switch c {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isWhitespace(c)
}
