// Package extract pulls text runs out of page content streams. It tracks
// the text positioning operators well enough to order runs top to bottom
// and attach approximate page coordinates, without building a full layout
// model.
package extract

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"pdfops/object"
	"pdfops/pages"
	"pdfops/scanner"
)

// Run is one contiguous piece of shown text.
type Run struct {
	Text string
	X, Y float64
	Font string
	Size float64
}

// PageText groups the runs of a single page.
type PageText struct {
	Index int // zero-based page index
	Runs  []Run
}

// Page extracts the runs of one page. Damaged pages yield an error.
func Page(store *object.Store, page pages.Page) (PageText, error) {
	out := PageText{Index: page.Index}
	if store.IsDamaged(page.ID) {
		return out, fmt.Errorf("page %d: content streams undecodable", page.Index+1)
	}
	var content []byte
	for _, id := range page.ContentIDs(store) {
		data, err := store.GetDecoded(id)
		if err != nil {
			return out, fmt.Errorf("content stream %s: %w", id, err)
		}
		content = append(content, data...)
		content = append(content, '\n')
	}
	out.Runs = extractRuns(content)
	return out, nil
}

// Document extracts every page in order. Pages whose content cannot be
// decoded are skipped rather than failing the whole document.
func Document(store *object.Store) ([]PageText, error) {
	pgs, err := pages.Resolve(store)
	if err != nil {
		return nil, err
	}
	out := make([]PageText, 0, len(pgs))
	for _, page := range pgs {
		pt, err := Page(store, page)
		if err != nil {
			continue
		}
		out = append(out, pt)
	}
	return out, nil
}

// Text flattens a page's runs into plain text, one line per distinct
// baseline, ordered top to bottom.
func (p PageText) Text() string {
	runs := make([]Run, len(p.Runs))
	copy(runs, p.Runs)
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].Y != runs[j].Y {
			return runs[i].Y > runs[j].Y
		}
		return runs[i].X < runs[j].X
	})
	var b strings.Builder
	lastY := 0.0
	for i, r := range runs {
		if i > 0 {
			if r.Y != lastY {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(r.Text)
		lastY = r.Y
	}
	return b.String()
}

type textState struct {
	x, y     float64
	lineX    float64
	lineY    float64
	leading  float64
	font     string
	fontSize float64
}

// extractRuns walks the content stream operators, maintaining just the
// text cursor. Graphics operators and unknown tokens are ignored.
func extractRuns(content []byte) []Run {
	sc := scanner.New(content, scanner.Config{})
	var st textState
	var runs []Run
	var stack []operand

	flushRun := func(data []byte) {
		text := decodeText(data)
		if strings.TrimSpace(text) == "" {
			return
		}
		runs = append(runs, Run{Text: text, X: st.x, Y: st.y, Font: st.font, Size: st.fontSize})
	}

	for {
		tok, err := sc.Next()
		if err != nil {
			break
		}
		switch tok.Kind {
		case scanner.TokenNumber:
			if tok.IsInt {
				stack = append(stack, operand{num: float64(tok.Int), isNum: true})
			} else {
				stack = append(stack, operand{num: tok.Float, isNum: true})
			}
		case scanner.TokenString:
			stack = append(stack, operand{str: tok.Bytes, isStr: true})
		case scanner.TokenName:
			stack = append(stack, operand{name: tok.Str, isName: true})
		case scanner.TokenArrayOpen:
			arr, aerr := collectArray(sc)
			if aerr != nil {
				return runs
			}
			stack = append(stack, operand{arr: arr, isArr: true})
		case scanner.TokenKeyword:
			switch tok.Str {
			case "BT":
				st = textState{fontSize: st.fontSize, font: st.font, leading: st.leading}
			case "Td":
				if tx, ty, ok := twoNums(stack); ok {
					st.lineX += tx
					st.lineY += ty
					st.x, st.y = st.lineX, st.lineY
				}
			case "TD":
				if tx, ty, ok := twoNums(stack); ok {
					st.leading = -ty
					st.lineX += tx
					st.lineY += ty
					st.x, st.y = st.lineX, st.lineY
				}
			case "Tm":
				if len(stack) >= 6 && stack[len(stack)-1].isNum && stack[len(stack)-2].isNum {
					st.lineX = stack[len(stack)-2].num
					st.lineY = stack[len(stack)-1].num
					st.x, st.y = st.lineX, st.lineY
				}
			case "T*":
				st.lineY -= st.leading
				st.x, st.y = st.lineX, st.lineY
			case "TL":
				if n, ok := oneNum(stack); ok {
					st.leading = n
				}
			case "Tf":
				if len(stack) >= 2 && stack[len(stack)-2].isName && stack[len(stack)-1].isNum {
					st.font = stack[len(stack)-2].name
					st.fontSize = stack[len(stack)-1].num
				}
			case "Tj":
				if s, ok := oneStr(stack); ok {
					flushRun(s)
				}
			case "'":
				st.lineY -= st.leading
				st.x, st.y = st.lineX, st.lineY
				if s, ok := oneStr(stack); ok {
					flushRun(s)
				}
			case "\"":
				st.lineY -= st.leading
				st.x, st.y = st.lineX, st.lineY
				if s, ok := oneStr(stack); ok {
					flushRun(s)
				}
			case "TJ":
				if len(stack) >= 1 && stack[len(stack)-1].isArr {
					var joined []byte
					for _, el := range stack[len(stack)-1].arr {
						if el.isStr {
							joined = append(joined, el.str...)
						}
					}
					flushRun(joined)
				}
			}
			stack = stack[:0]
		case scanner.TokenArrayClose, scanner.TokenDictOpen, scanner.TokenDictClose:
			// inline dicts (BDC properties etc.) are not tracked
			stack = stack[:0]
		default:
			stack = stack[:0]
		}
	}
	return runs
}

type operand struct {
	num    float64
	str    []byte
	name   string
	arr    []operand
	isNum  bool
	isStr  bool
	isName bool
	isArr  bool
}

func collectArray(sc *scanner.Scanner) ([]operand, error) {
	var out []operand
	for {
		tok, err := sc.Next()
		if err != nil {
			return nil, err
		}
		switch tok.Kind {
		case scanner.TokenArrayClose:
			return out, nil
		case scanner.TokenNumber:
			if tok.IsInt {
				out = append(out, operand{num: float64(tok.Int), isNum: true})
			} else {
				out = append(out, operand{num: tok.Float, isNum: true})
			}
		case scanner.TokenString:
			out = append(out, operand{str: tok.Bytes, isStr: true})
		}
	}
}

func twoNums(stack []operand) (float64, float64, bool) {
	if len(stack) >= 2 && stack[len(stack)-2].isNum && stack[len(stack)-1].isNum {
		return stack[len(stack)-2].num, stack[len(stack)-1].num, true
	}
	return 0, 0, false
}

func oneNum(stack []operand) (float64, bool) {
	if len(stack) >= 1 && stack[len(stack)-1].isNum {
		return stack[len(stack)-1].num, true
	}
	return 0, false
}

func oneStr(stack []operand) ([]byte, bool) {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].isStr {
			return stack[i].str, true
		}
	}
	return nil, false
}

var utf16BE = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)

// decodeText converts a string operand to UTF-8. Strings carrying a
// UTF-16BE byte order mark are decoded as such, everything else is treated
// as a latin-range single-byte encoding. The decoder is stateful and built
// per call, so pages on separate goroutines never share one.
func decodeText(data []byte) string {
	if len(data) >= 2 && data[0] == 0xFE && data[1] == 0xFF {
		if out, err := utf16BE.NewDecoder().Bytes(data); err == nil {
			return string(out)
		}
	}
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		if c == 0 {
			continue
		}
		b.WriteRune(rune(c))
	}
	return b.String()
}
