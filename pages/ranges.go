package pages

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RangeError rejects a page-range expression. The whole expression fails;
// nothing is partially applied.
type RangeError struct {
	Token  string
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid page range token %q: %s", e.Token, e.Reason)
}

// RangeSet is an ordered set of distinct 1-based page indices: strictly
// increasing, no duplicates, every index within [1, pageCount] at parse
// time.
type RangeSet []int

// ParseRange parses expressions like "1-3,2,5". Tokens are single numbers
// or N-M pairs; overlaps are merged; the empty expression selects the whole
// document.
func ParseRange(expr string, pageCount int) (RangeSet, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		out := make(RangeSet, pageCount)
		for i := range out {
			out[i] = i + 1
		}
		return out, nil
	}
	selected := make(map[int]bool)
	for _, token := range strings.Split(expr, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, &RangeError{Token: token, Reason: "empty token"}
		}
		lo, hi, err := parseToken(token)
		if err != nil {
			return nil, err
		}
		if lo < 1 {
			return nil, &RangeError{Token: token, Reason: "page numbers start at 1"}
		}
		if hi > pageCount {
			return nil, &RangeError{Token: token, Reason: fmt.Sprintf("beyond last page %d", pageCount)}
		}
		if lo > hi {
			return nil, &RangeError{Token: token, Reason: "start exceeds end"}
		}
		for i := lo; i <= hi; i++ {
			selected[i] = true
		}
	}
	out := make(RangeSet, 0, len(selected))
	for i := range selected {
		out = append(out, i)
	}
	sort.Ints(out)
	return out, nil
}

func parseToken(token string) (lo, hi int, err error) {
	if dash := strings.Index(token, "-"); dash > 0 {
		lo, err = strconv.Atoi(strings.TrimSpace(token[:dash]))
		if err != nil {
			return 0, 0, &RangeError{Token: token, Reason: "not a number"}
		}
		hi, err = strconv.Atoi(strings.TrimSpace(token[dash+1:]))
		if err != nil {
			return 0, 0, &RangeError{Token: token, Reason: "not a number"}
		}
		return lo, hi, nil
	}
	n, err := strconv.Atoi(token)
	if err != nil {
		return 0, 0, &RangeError{Token: token, Reason: "not a number"}
	}
	return n, n, nil
}

// Contains reports whether the 1-based index is selected.
func (s RangeSet) Contains(index int) bool {
	i := sort.SearchInts(s, index)
	return i < len(s) && s[i] == index
}

// String renders the set in canonical "a-b,c" form; re-parsing the result
// yields the same set.
func (s RangeSet) String() string {
	var b strings.Builder
	for i := 0; i < len(s); {
		j := i
		for j+1 < len(s) && s[j+1] == s[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if j > i {
			fmt.Fprintf(&b, "%d-%d", s[i], s[j])
		} else {
			fmt.Fprintf(&b, "%d", s[i])
		}
		i = j + 1
	}
	return b.String()
}
