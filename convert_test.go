package odb

import (
	"testing"
	"time"
)

func roundTrip[T comparable](t *testing.T, values ...T) {
	t.Helper()
	conv := converterFor[T]()
	for _, v := range values {
		got := conv.FromValue(conv.ToValue(v))
		if got != v {
			t.Errorf("** %T: got %v, wanted %v", v, got, v)
		}
	}
}

func TestConverterRoundTrips(t *testing.T) {
	roundTrip[bool](t, false, true)
	roundTrip[int](t, 0, 1, -1, 1<<40, -(1 << 40))
	roundTrip[int8](t, -128, 127)
	roundTrip[int16](t, -32768, 32767)
	roundTrip[int32](t, -1, 1<<30)
	roundTrip[int64](t, -1, 1<<62)
	roundTrip[uint8](t, 0, 255)
	roundTrip[uint64](t, 0, ^uint64(0))
	roundTrip[float32](t, 0, 1.5, -2.25)
	roundTrip[float64](t, 0, 3.14159, -1e300)
	roundTrip[string](t, "", "hello", "héllo wörld")
	roundTrip[Char](t, 'a', 'я', 0)
}

func TestBytesRoundTrip(t *testing.T) {
	conv := converterFor[[]byte]()
	in := []byte{0, 1, 2, 255}
	out := conv.FromValue(conv.ToValue(in))
	deepEqual(t, out, in)
}

func TestTimeRoundTrip(t *testing.T) {
	conv := converterFor[time.Time]()
	for _, v := range []time.Time{
		time.Time{},
		time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2026, 8, 30, 12, 0, 0, 123456000, time.UTC),
	} {
		got := conv.FromValue(conv.ToValue(v))
		if !got.Equal(v) {
			t.Errorf("** time: got %v, wanted %v", got, v)
		}
	}
}

func TestTimeOrderIsWordOrder(t *testing.T) {
	conv := converterFor[time.Time]()
	early := conv.ToValue(time.Time{})
	late := conv.ToValue(time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC))
	if !(early.Word < late.Word) {
		t.Errorf("** stored time order broken: %d >= %d", early.Word, late.Word)
	}
}

func TestScalarTypesThroughStore(t *testing.T) {
	scm := NewSchema(1)
	cls := AddClass(scm, "Sample")
	pBool := AddProp[bool](cls, "b")
	pInt := AddProp[int](cls, "i")
	pFloat := AddProp[float64](cls, "f")
	pStr := AddProp[string](cls, "s")
	pBytes := AddProp[[]byte](cls, "raw")
	pTime := AddProp[time.Time](cls, "at")
	pChar := AddProp[Char](cls, "c")

	r := must(Open("", scm, Options{IsTesting: true}))
	defer r.Close()

	when := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	var obj *Object
	ok(t, r.Write(func(tx *Tx) error {
		obj = must(tx.Create(cls))
		ok(t, SetValue(obj, pBool, true))
		ok(t, SetValue(obj, pInt, -42))
		ok(t, SetValue(obj, pFloat, 2.5))
		ok(t, SetValue(obj, pStr, "hi"))
		ok(t, SetValue(obj, pBytes, []byte{1, 2}))
		ok(t, SetValue(obj, pTime, when))
		return SetValue(obj, pChar, 'x')
	}))

	deepEqual(t, must(Get(obj, pBool)), true)
	deepEqual(t, must(Get(obj, pInt)), -42)
	deepEqual(t, must(Get(obj, pFloat)), 2.5)
	deepEqual(t, must(Get(obj, pStr)), "hi")
	deepEqual(t, must(Get(obj, pBytes)), []byte{1, 2})
	if got := must(Get(obj, pTime)); !got.Equal(when) {
		t.Errorf("** got %v, wanted %v", got, when)
	}
	deepEqual(t, must(Get(obj, pChar)), Char('x'))
}
