package odb

import (
	"errors"
	"log/slog"
	"os"
	"reflect"
	"testing"
)

var (
	testSchema = NewSchema(1)

	personCls        = AddClass(testSchema, "Person")
	personName       = AddKeyProp[string](personCls, "name")
	personAge        = AddProp[int](personCls, "age")
	personAdmin      = AddProp[bool](personCls, "admin")
	personTags       = AddListProp[string](personCls, "tags")
	personNicknames  = AddSetProp[string](personCls, "nicknames")
	personScores     = AddDictProp[int](personCls, "scores")
	personBestFriend = AddLinkProp(personCls, "bestFriend", personCls)
	personFriends    = AddObjectListProp(personCls, "friends", personCls)

	addressCls    = AddEmbeddedClass(testSchema, "Address")
	addressCity   = AddProp[string](addressCls, "city")
	personAddress = AddLinkProp(personCls, "address", addressCls)
	personStops   = AddObjectListProp(personCls, "stops", addressCls)
	personRooms   = AddObjectDictProp(personCls, "rooms", addressCls)
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func setup(t testing.TB) *Realm {
	t.Helper()
	r := must(Open("", testSchema, Options{IsTesting: true}))
	t.Cleanup(r.Close)
	return r
}

func setupFile(t testing.TB, schema *Schema, opt Options) (*Realm, string) {
	t.Helper()
	f := must(os.CreateTemp("", "odb_test_*.db"))
	t.Logf("DB: %s", f.Name())
	f.Close()
	opt.IsTesting = true
	r := must(Open(f.Name(), schema, opt))
	return r, f.Name()
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func ok(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("** %v", err)
	}
}

func addPerson(t testing.TB, r *Realm, name string, age int) *Object {
	t.Helper()
	var p *Object
	ok(t, r.Write(func(tx *Tx) error {
		var err error
		p, err = tx.Create(personCls)
		if err != nil {
			return err
		}
		if err := SetValue(p, personName, name); err != nil {
			return err
		}
		return SetValue(p, personAge, age)
	}))
	return p
}

func TestRealmScalars(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)

	deepEqual(t, must(Get(p, personName)), "alice")
	deepEqual(t, must(Get(p, personAge)), 34)
	deepEqual(t, must(Get(p, personAdmin)), false)

	ok(t, r.Write(func(tx *Tx) error {
		return SetValue(p, personAdmin, true)
	}))
	deepEqual(t, must(Get(p, personAdmin)), true)
}

func TestWriteOutsideTransactionFails(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)

	err := SetValue(p, personAge, 35)
	var opErr *OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("** got %v, wanted OpError", err)
	}
	deepEqual(t, must(Get(p, personAge)), 34)
}

func TestWriteRollsBackOnError(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)

	boom := errors.New("boom")
	err := r.Write(func(tx *Tx) error {
		ok(t, SetValue(p, personAge, 99))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("** got %v, wanted boom", err)
	}
	deepEqual(t, must(Get(p, personAge)), 34)
}

func TestWriteRollsBackOnPanic(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)

	err := r.Write(func(tx *Tx) error {
		ok(t, SetValue(p, personAge, 99))
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("** wanted an error from a panicking transaction")
	}
	deepEqual(t, must(Get(p, personAge)), 34)
}

func TestFreezeIsolation(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)

	fr := must(r.Freeze())
	defer fr.Close()
	fp, found, err := p.Freeze(fr)
	ok(t, err)
	deepEqual(t, found, true)
	deepEqual(t, fr.IsFrozen(), true)

	ok(t, r.Write(func(tx *Tx) error {
		return SetValue(p, personAge, 35)
	}))

	deepEqual(t, must(Get(p, personAge)), 35)
	deepEqual(t, must(Get(fp, personAge)), 34)
}

func TestThaw(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)

	fr := must(r.Freeze())
	defer fr.Close()
	fp := must(first(p.Freeze(fr)))

	ok(t, r.Write(func(tx *Tx) error {
		return SetValue(p, personAge, 35)
	}))

	lp, found, err := fp.Thaw(r)
	ok(t, err)
	deepEqual(t, found, true)
	deepEqual(t, must(Get(lp, personAge)), 35)
}

func TestFreezeAfterDeleteFindsNothing(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)

	ok(t, r.Write(func(tx *Tx) error {
		return tx.Delete(p)
	}))

	fr := must(r.Freeze())
	defer fr.Close()
	_, found, err := p.Freeze(fr)
	ok(t, err)
	deepEqual(t, found, false)
	deepEqual(t, p.IsValid(), false)
}

func TestFrozenRealmRejectsWrites(t *testing.T) {
	r := setup(t)
	addPerson(t, r, "alice", 34)

	fr := must(r.Freeze())
	defer fr.Close()
	err := fr.Write(func(tx *Tx) error { return nil })
	var opErr *OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("** got %v, wanted OpError", err)
	}
}

func TestClosedRealmErrors(t *testing.T) {
	r := must(Open("", testSchema, Options{IsTesting: true}))
	p := addPerson(t, r, "alice", 34)
	r.Close()

	_, err := Get(p, personName)
	var closed *ClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("** got %v, wanted ClosedError", err)
	}
	if err := r.Write(func(tx *Tx) error { return nil }); !errors.As(err, &closed) {
		t.Fatalf("** got %v, wanted ClosedError", err)
	}
	deepEqual(t, r.IsClosed(), true)
	r.Close() // idempotent
}

func TestLinks(t *testing.T) {
	r := setup(t)
	alice := addPerson(t, r, "alice", 34)
	bob := addPerson(t, r, "bob", 35)

	ok(t, r.Write(func(tx *Tx) error {
		return SetLink(tx, alice, personBestFriend, bob)
	}))

	friend, found, err := GetLink(alice, personBestFriend)
	ok(t, err)
	deepEqual(t, found, true)
	deepEqual(t, must(Get(friend, personName)), "bob")

	ok(t, r.Write(func(tx *Tx) error {
		return SetLink(tx, alice, personBestFriend, nil)
	}))
	_, found, err = GetLink(alice, personBestFriend)
	ok(t, err)
	deepEqual(t, found, false)
}

func TestEmbeddedObjects(t *testing.T) {
	r := setup(t)
	alice := addPerson(t, r, "alice", 34)

	home := NewObject(addressCls)
	ok(t, SetValue(home, addressCity, "Lisbon"))

	ok(t, r.Write(func(tx *Tx) error {
		return SetLink(tx, alice, personAddress, home)
	}))

	addr, found, err := GetLink(alice, personAddress)
	ok(t, err)
	deepEqual(t, found, true)
	deepEqual(t, must(Get(addr, addressCity)), "Lisbon")

	// embedded objects cannot be created standalone
	err = r.Write(func(tx *Tx) error {
		_, err := tx.Create(addressCls)
		return err
	})
	if err == nil {
		t.Fatal("** wanted an error creating an embedded class standalone")
	}

	// replacing the slot destroys the old child
	ok(t, r.Write(func(tx *Tx) error {
		other := NewObject(addressCls)
		ok(t, SetValue(other, addressCity, "Porto"))
		return SetLink(tx, alice, personAddress, other)
	}))
	deepEqual(t, addr.IsValid(), false)
}

func TestDeleteCascadesToEmbedded(t *testing.T) {
	r := setup(t)
	alice := addPerson(t, r, "alice", 34)

	home := NewObject(addressCls)
	ok(t, SetValue(home, addressCity, "Lisbon"))
	ok(t, r.Write(func(tx *Tx) error {
		return SetLink(tx, alice, personAddress, home)
	}))
	addr := must(first(GetLink(alice, personAddress)))

	ok(t, r.Write(func(tx *Tx) error {
		return tx.Delete(alice)
	}))
	deepEqual(t, alice.IsValid(), false)
	deepEqual(t, addr.IsValid(), false)
}

func TestFindByKey(t *testing.T) {
	r := setup(t)
	addPerson(t, r, "alice", 34)
	addPerson(t, r, "bob", 35)

	ok(t, r.Write(func(tx *Tx) error {
		p, found := Find(tx, personCls, personName, "bob")
		deepEqual(t, found, true)
		deepEqual(t, must(Get(p, personAge)), 35)
		_, found = Find(tx, personCls, personName, "carol")
		deepEqual(t, found, false)
		return nil
	}))
}

func TestPersistenceAcrossReopen(t *testing.T) {
	r, path := setupFile(t, testSchema, Options{})
	defer os.Remove(path)

	alice := addPerson(t, r, "alice", 34)
	ok(t, r.Write(func(tx *Tx) error {
		ls := ListOf(alice, personTags)
		return ls.AddAll("reader", "writer")
	}))
	r.Close()

	r2 := must(Open(path, testSchema, Options{IsTesting: true}))
	defer r2.Close()
	ok(t, r2.Write(func(tx *Tx) error {
		p, found := Find(tx, personCls, personName, "alice")
		deepEqual(t, found, true)
		deepEqual(t, must(Get(p, personAge)), 34)
		deepEqual(t, must(ListOf(p, personTags).Values()), []string{"reader", "writer"})
		return nil
	}))
}

func TestMigration(t *testing.T) {
	v1 := NewSchema(1)
	thingV1 := AddClass(v1, "Thing")
	thingV1Label := AddProp[string](thingV1, "label")

	r, path := setupFile(t, v1, Options{})
	defer os.Remove(path)
	ok(t, r.Write(func(tx *Tx) error {
		p := must(tx.Create(thingV1))
		return SetValue(p, thingV1Label, "old label")
	}))
	r.Close()

	v2 := NewSchema(2)
	thingV2 := AddClass(v2, "Thing")
	thingV2Label := AddProp[string](thingV2, "label")
	thingV2Upper := AddProp[bool](thingV2, "upper")

	var migrated bool
	r2 := must(Open(path, v2, Options{
		IsTesting: true,
		Migrate: func(mig *Migration) error {
			migrated = true
			deepEqual(t, mig.Old.Version(), uint64(1))
			deepEqual(t, mig.New.Version(), uint64(2))
			for _, obj := range mig.Tx.Objects(thingV2) {
				if err := SetValue(obj, thingV2Upper, true); err != nil {
					return err
				}
			}
			return nil
		},
	}))
	defer r2.Close()
	deepEqual(t, migrated, true)

	ok(t, r2.Write(func(tx *Tx) error {
		things := tx.Objects(thingV2)
		deepEqual(t, len(things), 1)
		deepEqual(t, must(Get(things[0], thingV2Label)), "old label")
		deepEqual(t, must(Get(things[0], thingV2Upper)), true)
		return nil
	}))
}

func TestFailedMigrationLeavesStoreUntouched(t *testing.T) {
	v1 := NewSchema(1)
	thingV1 := AddClass(v1, "Thing")
	AddProp[string](thingV1, "label")

	r, path := setupFile(t, v1, Options{})
	defer os.Remove(path)
	r.Close()

	v2 := NewSchema(2)
	thingV2 := AddClass(v2, "Thing")
	AddProp[string](thingV2, "label")

	boom := errors.New("boom")
	_, err := Open(path, v2, Options{
		IsTesting: true,
		Migrate:   func(mig *Migration) error { return boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("** got %v, wanted boom", err)
	}

	// the old schema still opens cleanly
	r2 := must(Open(path, v1, Options{IsTesting: true}))
	r2.Close()
	_ = thingV2
}

func TestLinkWriteOutsideTransactionFails(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)

	ok(t, r.Read(func(tx *Tx) error {
		home := NewObject(addressCls)
		ok(t, SetValue(home, addressCity, "Lisbon"))
		var opErr *OpError
		if err := SetLink(tx, p, personAddress, home); !errors.As(err, &opErr) {
			t.Errorf("** got %v, wanted OpError for an embedded link outside a write", err)
		}
		if err := SetLink(tx, p, personBestFriend, nil); !errors.As(err, &opErr) {
			t.Errorf("** got %v, wanted OpError for a link outside a write", err)
		}
		return nil
	}))
	_, found, err := GetLink(p, personAddress)
	ok(t, err)
	deepEqual(t, found, false)
}

func TestConcurrentReaderSeesCommittedState(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)

	inTx := make(chan struct{})
	readBack := make(chan int)
	mutate := make(chan error)
	go func() {
		<-inTx
		readBack <- must(Get(p, personAge))
		mutate <- SetValue(p, personAge, 1)
	}()

	ok(t, r.Write(func(tx *Tx) error {
		ok(t, SetValue(p, personAge, 99))
		deepEqual(t, must(Get(p, personAge)), 99) // the writer sees its own write
		inTx <- struct{}{}
		deepEqual(t, <-readBack, 34) // a concurrent reader does not
		var opErr *OpError
		if err := <-mutate; !errors.As(err, &opErr) {
			t.Errorf("** got %v, wanted OpError for a mutation off the writing goroutine", err)
		}
		return nil
	}))
	deepEqual(t, must(Get(p, personAge)), 99)
}

func TestReadTransaction(t *testing.T) {
	r := setup(t)
	addPerson(t, r, "alice", 34)
	addPerson(t, r, "bob", 55)

	ok(t, r.Read(func(tx *Tx) error {
		deepEqual(t, len(tx.Objects(personCls)), 2)
		p, found := Find(tx, personCls, personName, "bob")
		deepEqual(t, found, true)
		deepEqual(t, must(Get(p, personAge)), 55)

		// the handle rejects mutation
		if _, err := tx.Create(personCls); err == nil {
			t.Fatal("** wanted an error creating inside a read transaction")
		}
		return nil
	}))

	// frozen realms read at the pin
	fr := must(r.Freeze())
	defer fr.Close()
	ok(t, r.Write(func(tx *Tx) error {
		p, _ := Find(tx, personCls, personName, "bob")
		return tx.Delete(p)
	}))
	ok(t, fr.Read(func(tx *Tx) error {
		deepEqual(t, len(tx.Objects(personCls)), 2)
		return nil
	}))
	ok(t, r.Read(func(tx *Tx) error {
		deepEqual(t, len(tx.Objects(personCls)), 1)
		return nil
	}))
}

func first[T any](v T, _ bool, err error) (T, error) { return v, err }
