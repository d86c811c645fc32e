package odb

import (
	"fmt"
	"time"

	"github.com/vireolabs/odb/engine"
)

// Char is a Unicode code point with its own identity in schemas, stored as a
// plain word. (rune is just int32, so it cannot get its own converter.)
type Char rune

// A Converter maps one exposed element type to and from the engine's value
// representation. Conversions are pure and symmetric: FromValue(ToValue(v))
// yields v for every valid v.
type Converter[T any] interface {
	ToValue(value T) engine.Value
	FromValue(v engine.Value) T
}

type integerValue interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

type unsignedValue interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

type floatValue interface {
	~float32 | ~float64
}

// Narrow integers widen onto a single word with sign extension and narrow
// back on read.
type intConverter[T integerValue] struct{}

func (intConverter[T]) ToValue(value T) engine.Value {
	return engine.Word(uint64(int64(value)))
}
func (intConverter[T]) FromValue(v engine.Value) T {
	return T(int64(v.Word))
}

type uintConverter[T unsignedValue] struct{}

func (uintConverter[T]) ToValue(value T) engine.Value {
	return engine.Word(uint64(value))
}
func (uintConverter[T]) FromValue(v engine.Value) T {
	return T(v.Word)
}

type floatConverter[T floatValue] struct{}

func (floatConverter[T]) ToValue(value T) engine.Value {
	return engine.Float(float64(value))
}
func (floatConverter[T]) FromValue(v engine.Value) T {
	return T(v.Float())
}

type boolConverter struct{}

func (boolConverter) ToValue(value bool) engine.Value {
	if value {
		return engine.Word(1)
	}
	return engine.Word(0)
}
func (boolConverter) FromValue(v engine.Value) bool {
	return v.Word != 0
}

type stringConverter struct{}

func (stringConverter) ToValue(value string) engine.Value  { return engine.Str(value) }
func (stringConverter) FromValue(v engine.Value) string    { return v.Str }

type bytesConverter struct{}

func (bytesConverter) ToValue(value []byte) engine.Value { return engine.Blob(value) }
func (bytesConverter) FromValue(v engine.Value) []byte   { return v.Bytes }

// timeOffsetMicros is the offset to Time.UnixMicro() that odb stores, chosen
// such that time.Time{}.UnixMicro() = -timeOffsetMicros. With this offset,
// 0 micros correspond to zero time instead of Unix epoch, and we can treat
// all times as unsigned words.
const timeOffsetMicros = 62_135_596_800_000_000

type timeConverter struct{}

func (timeConverter) ToValue(value time.Time) engine.Value {
	return engine.Word(uint64(value.UnixMicro()) + timeOffsetMicros)
}
func (timeConverter) FromValue(v engine.Value) time.Time {
	return time.UnixMicro(int64(v.Word) - timeOffsetMicros)
}

// converterFor binds the converter for an exposed scalar type. Object
// element types never come through here; they bind the object converter at
// collection construction instead.
func converterFor[T any]() Converter[T] {
	var zero T
	var conv any
	switch any(zero).(type) {
	case bool:
		conv = boolConverter{}
	case int:
		conv = intConverter[int]{}
	case int8:
		conv = intConverter[int8]{}
	case int16:
		conv = intConverter[int16]{}
	case int32:
		conv = intConverter[int32]{}
	case int64:
		conv = intConverter[int64]{}
	case uint:
		conv = uintConverter[uint]{}
	case uint8:
		conv = uintConverter[uint8]{}
	case uint16:
		conv = uintConverter[uint16]{}
	case uint32:
		conv = uintConverter[uint32]{}
	case uint64:
		conv = uintConverter[uint64]{}
	case float32:
		conv = floatConverter[float32]{}
	case float64:
		conv = floatConverter[float64]{}
	case string:
		conv = stringConverter{}
	case []byte:
		conv = bytesConverter{}
	case Char:
		conv = intConverter[Char]{}
	case time.Time:
		conv = timeConverter{}
	default:
		panic(fmt.Errorf("odb: no converter for element type %T", zero))
	}
	return conv.(Converter[T])
}

func kindFor[T any]() engine.Kind {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return engine.KindFloat
	case string:
		return engine.KindString
	case []byte:
		return engine.KindBytes
	default:
		return engine.KindWord
	}
}
