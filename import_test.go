package odb

import (
	"errors"
	"testing"

	"github.com/vireolabs/odb/engine"
)

func TestImportGraph(t *testing.T) {
	r := setup(t)

	alice := NewObject(personCls)
	ok(t, SetValue(alice, personName, "alice"))
	ok(t, SetValue(alice, personAge, 34))
	home := NewObject(addressCls)
	ok(t, SetValue(home, addressCity, "Lisbon"))
	ok(t, SetLink(nil, alice, personAddress, home))
	ok(t, ListOf(alice, personTags).AddAll("reader", "writer"))

	var managed *Object
	ok(t, r.Write(func(tx *Tx) error {
		var err error
		managed, err = tx.Import(alice, UpdatePolicyError)
		return err
	}))

	deepEqual(t, managed.IsManaged(), true)
	deepEqual(t, must(Get(managed, personName)), "alice")
	deepEqual(t, must(Get(managed, personAge)), 34)
	deepEqual(t, must(ListOf(managed, personTags).Values()), []string{"reader", "writer"})
	addr := must(first(GetLink(managed, personAddress)))
	deepEqual(t, must(Get(addr, addressCity)), "Lisbon")
}

func TestImportKeyCollision(t *testing.T) {
	r := setup(t)
	addPerson(t, r, "alice", 34)

	dup := NewObject(personCls)
	ok(t, SetValue(dup, personName, "alice"))
	ok(t, SetValue(dup, personAge, 99))

	err := r.Write(func(tx *Tx) error {
		_, err := tx.Import(dup, UpdatePolicyError)
		return err
	})
	if !errors.Is(err, engine.ErrKeyExists) {
		t.Fatalf("** got %v, wanted ErrKeyExists", err)
	}

	// UpdatePolicyAll updates the existing object in place
	ok(t, r.Write(func(tx *Tx) error {
		upd, err := tx.Import(dup, UpdatePolicyAll)
		if err != nil {
			return err
		}
		deepEqual(t, must(Get(upd, personAge)), 99)
		return nil
	}))
	ok(t, r.Write(func(tx *Tx) error {
		people := tx.Objects(personCls)
		deepEqual(t, len(people), 1)
		return nil
	}))
}

func TestImportSharedReference(t *testing.T) {
	r := setup(t)

	shared := NewObject(personCls)
	ok(t, SetValue(shared, personName, "shared"))

	a := NewObject(personCls)
	ok(t, SetValue(a, personName, "a"))
	ok(t, SetLink(nil, a, personBestFriend, shared))
	ok(t, ObjectListOf(a, personFriends).Add(shared))

	ok(t, r.Write(func(tx *Tx) error {
		ma, err := tx.Import(a, UpdatePolicyError)
		if err != nil {
			return err
		}
		bf := must(first(GetLink(ma, personBestFriend)))
		inList := must(ObjectListOf(ma, personFriends).Get(0))
		// one stored object, referenced twice
		deepEqual(t, must(ObjectListOf(ma, personFriends).Contains(bf)), true)
		deepEqual(t, must(Get(bf, personName)), "shared")
		deepEqual(t, must(Get(inList, personName)), "shared")
		deepEqual(t, len(tx.Objects(personCls)), 2)
		return nil
	}))
}

func TestImportCycle(t *testing.T) {
	r := setup(t)

	a := NewObject(personCls)
	ok(t, SetValue(a, personName, "a"))
	b := NewObject(personCls)
	ok(t, SetValue(b, personName, "b"))
	ok(t, SetLink(nil, a, personBestFriend, b))
	ok(t, SetLink(nil, b, personBestFriend, a))

	ok(t, r.Write(func(tx *Tx) error {
		ma, err := tx.Import(a, UpdatePolicyError)
		if err != nil {
			return err
		}
		mb := must(first(GetLink(ma, personBestFriend)))
		back := must(first(GetLink(mb, personBestFriend)))
		deepEqual(t, must(Get(back, personName)), "a")
		deepEqual(t, len(tx.Objects(personCls)), 2)
		return nil
	}))
}

func TestImportManagedFromSameRealmIsZeroCopy(t *testing.T) {
	r := setup(t)
	alice := addPerson(t, r, "alice", 34)

	ok(t, r.Write(func(tx *Tx) error {
		again, err := tx.Import(alice, UpdatePolicyError)
		if err != nil {
			return err
		}
		deepEqual(t, len(tx.Objects(personCls)), 1)
		return SetValue(again, personAge, 35)
	}))
	deepEqual(t, must(Get(alice, personAge)), 35)
}

func TestImportFromFrozenCopies(t *testing.T) {
	r := setup(t)
	alice := addPerson(t, r, "alice", 34)
	ok(t, r.Write(func(tx *Tx) error {
		return ListOf(alice, personTags).AddAll("x", "y")
	}))

	fr := must(r.Freeze())
	defer fr.Close()
	frozenAlice := must(first(alice.Freeze(fr)))

	ok(t, r.Write(func(tx *Tx) error {
		return SetValue(alice, personAge, 99)
	}))

	// importing a frozen object under UpdatePolicyAll restores its state
	// at the frozen version
	ok(t, r.Write(func(tx *Tx) error {
		_, err := tx.Import(frozenAlice, UpdatePolicyAll)
		return err
	}))
	deepEqual(t, must(Get(alice, personAge)), 34)
	deepEqual(t, must(ListOf(alice, personTags).Values()), []string{"x", "y"})
}

func TestImportEmbeddedStandaloneFails(t *testing.T) {
	r := setup(t)
	home := NewObject(addressCls)
	err := r.Write(func(tx *Tx) error {
		_, err := tx.Import(home, UpdatePolicyError)
		return err
	})
	if !errors.Is(err, engine.ErrEmbedded) {
		t.Fatalf("** got %v, wanted ErrEmbedded", err)
	}
}
