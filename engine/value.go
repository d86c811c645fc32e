package engine

import (
	"bytes"
	"fmt"
	"math"
)

// Kind enumerates the storage representations a Value can carry. Scalars
// collapse onto a single machine word; wider payloads carry their data
// alongside the word.
type Kind uint8

const (
	KindNull Kind = iota
	KindWord      // integers, bools, characters, timestamps
	KindFloat     // float64 bits in Word
	KindString
	KindBytes
	KindLink // reference to another object
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindWord:
		return "word"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindLink:
		return "link"
	default:
		return fmt.Sprintf("invalid kind %d", int(k))
	}
}

// Value is the engine's internal value representation. It is a plain value
// type: copying it never aliases mutable state (Bytes is treated as
// immutable once handed to the engine).
type Value struct {
	Kind  Kind
	Word  uint64
	Str   string
	Bytes []byte
	Obj   ObjKey
}

func Null() Value               { return Value{} }
func Word(w uint64) Value       { return Value{Kind: KindWord, Word: w} }
func Float(f float64) Value     { return Value{Kind: KindFloat, Word: math.Float64bits(f)} }
func Str(s string) Value        { return Value{Kind: KindString, Str: s} }
func Blob(b []byte) Value       { return Value{Kind: KindBytes, Bytes: b} }
func Link(obj ObjKey) Value     { return Value{Kind: KindLink, Obj: obj} }
func (v Value) IsNull() bool    { return v.Kind == KindNull }
func (v Value) Float() float64  { return math.Float64frombits(v.Word) }

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindWord, KindFloat:
		return v.Word == o.Word
	case KindString:
		return v.Str == o.Str
	case KindBytes:
		return bytes.Equal(v.Bytes, o.Bytes)
	case KindLink:
		return v.Obj == o.Obj
	default:
		panic("unreachable: invalid value kind")
	}
}

// Less establishes the canonical ordering used for set elements. The order
// only needs to be total and stable; it carries no semantic meaning.
func (v Value) Less(o Value) bool {
	if v.Kind != o.Kind {
		return v.Kind < o.Kind
	}
	switch v.Kind {
	case KindNull:
		return false
	case KindWord, KindFloat:
		return v.Word < o.Word
	case KindString:
		return v.Str < o.Str
	case KindBytes:
		return bytes.Compare(v.Bytes, o.Bytes) < 0
	case KindLink:
		if v.Obj.Class != o.Obj.Class {
			return v.Obj.Class < o.Obj.Class
		}
		return v.Obj.ID < o.Obj.ID
	default:
		panic("unreachable: invalid value kind")
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "<null>"
	case KindWord:
		return fmt.Sprintf("%d", v.Word)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float())
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindBytes:
		return fmt.Sprintf("%x", v.Bytes)
	case KindLink:
		return v.Obj.String()
	default:
		return fmt.Sprintf("<invalid kind %d>", int(v.Kind))
	}
}
