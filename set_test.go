package odb

import (
	"errors"
	"testing"
)

func TestSetBasics(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)
	nick := SetOf(p, personNicknames)

	ok(t, r.Write(func(tx *Tx) error {
		added, err := nick.Add("ally")
		ok(t, err)
		deepEqual(t, added, true)
		added, err = nick.Add("ally")
		ok(t, err)
		deepEqual(t, added, false)
		return nick.AddAll("chief", "boss")
	}))

	deepEqual(t, must(nick.Size()), 3)
	deepEqual(t, must(nick.Contains("boss")), true)
	deepEqual(t, must(nick.Contains("nobody")), false)

	// stored order is canonical
	deepEqual(t, must(nick.Values()), []string{"ally", "boss", "chief"})

	ok(t, r.Write(func(tx *Tx) error {
		removed, err := nick.Remove("chief")
		ok(t, err)
		deepEqual(t, removed, true)
		removed, err = nick.Remove("chief")
		ok(t, err)
		deepEqual(t, removed, false)
		return nil
	}))
	deepEqual(t, must(nick.Values()), []string{"ally", "boss"})

	ok(t, r.Write(func(tx *Tx) error { return nick.Clear() }))
	deepEqual(t, must(nick.Size()), 0)
}

func TestSetMutationOutsideWriteFails(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)
	nick := SetOf(p, personNicknames)

	_, err := nick.Add("x")
	var opErr *OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("** got %v, wanted OpError", err)
	}
}

func TestSetFreeze(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)
	nick := SetOf(p, personNicknames)
	ok(t, r.Write(func(tx *Tx) error { return nick.AddAll("a", "b") }))

	fr := must(r.Freeze())
	defer fr.Close()
	fs := must(first(nick.Freeze(fr)))

	ok(t, r.Write(func(tx *Tx) error {
		_, err := nick.Add("c")
		return err
	}))
	deepEqual(t, must(fs.Values()), []string{"a", "b"})
	deepEqual(t, must(nick.Values()), []string{"a", "b", "c"})
}

func TestUnmanagedSet(t *testing.T) {
	p := NewObject(personCls)
	nick := SetOf(p, personNicknames)

	deepEqual(t, must(nick.Add("x")), true)
	deepEqual(t, must(nick.Add("x")), false)
	deepEqual(t, must(nick.Contains("x")), true)
	deepEqual(t, must(nick.Remove("x")), true)
	deepEqual(t, must(nick.Size()), 0)
	deepEqual(t, nick.IsManaged(), false)
}
