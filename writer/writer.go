// Package writer serializes an object store into a self-contained PDF byte
// stream: header, body, a freshly computed cross-reference table, and a
// trailer. It never appends incremental updates, so output is independent
// of the input file's byte layout.
package writer

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"pdfops/object"
)

type Config struct {
	Version string // header version, default 1.7
}

// Write emits the complete document to w.
func Write(store *object.Store, w io.Writer, cfg Config) error {
	if cfg.Version == "" {
		cfg.Version = "1.7"
	}
	out := &countingWriter{w: bufio.NewWriter(w)}

	fmt.Fprintf(out, "%%PDF-%s\n", cfg.Version)
	// binary marker comment so transports treat the file as 8-bit data
	out.Write([]byte{'%', 0xE2, 0xE3, 0xCF, 0xD3, '\n'})

	ids := store.IDs()
	type slot struct {
		offset int64
		gen    int
	}
	slots := make(map[int]slot, len(ids))
	maxNum := 0
	for _, id := range ids {
		obj, ok := store.Get(id)
		if !ok {
			continue // object failed to materialize; its xref slot stays free
		}
		slots[id.Num] = slot{offset: out.n, gen: id.Gen}
		if err := writeIndirect(out, id, obj); err != nil {
			return err
		}
		if id.Num > maxNum {
			maxNum = id.Num
		}
	}

	xrefOffset := out.n
	fmt.Fprintf(out, "xref\n0 %d\n", maxNum+1)
	fmt.Fprintf(out, "0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		if s, ok := slots[num]; ok {
			fmt.Fprintf(out, "%010d %05d n \n", s.offset, s.gen)
		} else {
			fmt.Fprintf(out, "0000000000 65535 f \n")
		}
	}

	trailer := buildTrailer(store, maxNum)
	out.Write([]byte("trailer\n"))
	writeValue(out, trailer)
	fmt.Fprintf(out, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	if err := out.err; err != nil {
		return err
	}
	return out.w.(*bufio.Writer).Flush()
}

// buildTrailer carries Root and Info over from the source trailer and drops
// every key tied to the old byte layout.
func buildTrailer(store *object.Store, maxNum int) object.Dict {
	trailer := object.Dict{"Size": object.Integer(int64(maxNum + 1))}
	if src := store.Trailer(); src != nil {
		if root := src.Get("Root"); root != nil {
			trailer["Root"] = root
		}
		if info := src.Get("Info"); info != nil {
			trailer["Info"] = info
		}
		if id := src.Get("ID"); id != nil {
			trailer["ID"] = id
		}
	}
	return trailer
}

func writeIndirect(out *countingWriter, id object.ID, obj object.Object) error {
	fmt.Fprintf(out, "%d %d obj\n", id.Num, id.Gen)
	writeValue(out, obj)
	out.Write([]byte("\nendobj\n"))
	return out.err
}

func writeValue(out *countingWriter, obj object.Object) {
	switch v := obj.(type) {
	case nil, object.Null:
		out.Write([]byte("null"))
	case object.Boolean:
		out.Write([]byte(strconv.FormatBool(bool(v))))
	case object.Integer:
		out.Write([]byte(strconv.FormatInt(int64(v), 10)))
	case object.Real:
		out.Write([]byte(strconv.FormatFloat(float64(v), 'f', -1, 64)))
	case object.Name:
		writeName(out, v)
	case object.String:
		writeString(out, v)
	case object.Ref:
		fmt.Fprintf(out, "%d %d R", v.Num, v.Gen)
	case object.Array:
		out.Write([]byte("["))
		for i, item := range v {
			if i > 0 {
				out.Write([]byte(" "))
			}
			writeValue(out, item)
		}
		out.Write([]byte("]"))
	case object.Dict:
		writeDict(out, v)
	case *object.Stream:
		dict := v.Dict.Clone()
		dict["Length"] = object.Integer(int64(len(v.Raw)))
		writeDict(out, dict)
		out.Write([]byte("\nstream\n"))
		out.Write(v.Raw)
		out.Write([]byte("\nendstream"))
	default:
		out.Write([]byte("null"))
	}
}

func writeDict(out *countingWriter, dict object.Dict) {
	out.Write([]byte("<<"))
	for i, key := range dict.SortedKeys() {
		if i > 0 {
			out.Write([]byte(" "))
		}
		writeName(out, key)
		out.Write([]byte(" "))
		writeValue(out, dict[key])
	}
	out.Write([]byte(">>"))
}

func writeName(out *countingWriter, name object.Name) {
	out.Write([]byte("/"))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c >= 0x7F || isNameEscape(c) {
			fmt.Fprintf(out, "#%02X", c)
		} else {
			out.Write([]byte{c})
		}
	}
}

func isNameEscape(c byte) bool {
	switch c {
	case '#', '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func writeString(out *countingWriter, s object.String) {
	if s.Hex {
		out.Write([]byte("<"))
		for _, c := range s.Data {
			fmt.Fprintf(out, "%02X", c)
		}
		out.Write([]byte(">"))
		return
	}
	out.Write([]byte("("))
	for _, c := range s.Data {
		switch c {
		case '(', ')', '\\':
			out.Write([]byte{'\\', c})
		case '\n':
			out.Write([]byte(`\n`))
		case '\r':
			out.Write([]byte(`\r`))
		default:
			out.Write([]byte{c})
		}
	}
	out.Write([]byte(")"))
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}
