// Package object defines the PDF object model and the Store, the owning
// arena for all indirect objects of one document.
package object

import (
	"fmt"
	"sort"
)

// ID identifies an indirect object: object number plus generation.
// The generation increments when an object number is reused.
type ID struct {
	Num int
	Gen int
}

func (id ID) String() string { return fmt.Sprintf("%d %d R", id.Num, id.Gen) }

// Object is implemented by every PDF value.
type Object interface {
	Kind() Kind
}

type Kind int

const (
	KindNull Kind = iota
	KindBoolean
	KindInteger
	KindReal
	KindString
	KindName
	KindArray
	KindDict
	KindStream
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindString:
		return "string"
	case KindName:
		return "name"
	case KindArray:
		return "array"
	case KindDict:
		return "dict"
	case KindStream:
		return "stream"
	case KindRef:
		return "ref"
	default:
		return "unknown"
	}
}

type Null struct{}

func (Null) Kind() Kind { return KindNull }

type Boolean bool

func (Boolean) Kind() Kind { return KindBoolean }

type Integer int64

func (Integer) Kind() Kind { return KindInteger }

type Real float64

func (Real) Kind() Kind { return KindReal }

// String holds a text or binary string. Hex records which written form it
// came from so round-trips keep the original flavor.
type String struct {
	Data []byte
	Hex  bool
}

func (String) Kind() Kind { return KindString }

type Name string

func (Name) Kind() Kind { return KindName }

type Array []Object

func (Array) Kind() Kind { return KindArray }

// Dict maps names to objects. Values may be direct objects or Refs; use
// Store.Resolve when the resolved value is needed.
type Dict map[Name]Object

func (Dict) Kind() Kind { return KindDict }

// Get returns the entry for key, or nil.
func (d Dict) Get(key Name) Object {
	if d == nil {
		return nil
	}
	return d[key]
}

// SortedKeys returns the dictionary keys in lexical order, for deterministic
// serialization.
func (d Dict) SortedKeys() []Name {
	keys := make([]Name, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Clone returns a shallow copy of the dictionary.
func (d Dict) Clone() Dict {
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Stream couples a dictionary with its raw (still encoded) payload.
// Decoded data is cached on the owning Store, not here.
type Stream struct {
	Dict Dict
	Raw  []byte
}

func (*Stream) Kind() Kind { return KindStream }

// Ref is an indirect reference to an object held by a Store.
type Ref ID

func (Ref) Kind() Kind { return KindRef }

func (r Ref) ID() ID { return ID(r) }

// IntValue returns the numeric value of an Integer or Real truncated to
// int64.
func IntValue(obj Object) (int64, bool) {
	switch v := obj.(type) {
	case Integer:
		return int64(v), true
	case Real:
		return int64(v), true
	}
	return 0, false
}

// FloatValue returns the numeric value of an Integer or Real.
func FloatValue(obj Object) (float64, bool) {
	switch v := obj.(type) {
	case Integer:
		return float64(v), true
	case Real:
		return float64(v), true
	}
	return 0, false
}

// Rect is a PDF rectangle [llx lly urx ury], used for MediaBox and CropBox.
type Rect struct {
	LLX, LLY, URX, URY float64
}

func (r Rect) Width() float64  { return r.URX - r.LLX }
func (r Rect) Height() float64 { return r.URY - r.LLY }

// RectFromArray converts a 4-element numeric array.
func RectFromArray(arr Array) (Rect, bool) {
	if len(arr) != 4 {
		return Rect{}, false
	}
	var vals [4]float64
	for i, item := range arr {
		v, ok := FloatValue(item)
		if !ok {
			return Rect{}, false
		}
		vals[i] = v
	}
	return Rect{LLX: vals[0], LLY: vals[1], URX: vals[2], URY: vals[3]}, true
}

// ToArray converts the rectangle back to its array form.
func (r Rect) ToArray() Array {
	return Array{Real(r.LLX), Real(r.LLY), Real(r.URX), Real(r.URY)}
}
