package odb

import (
	"context"
	"strconv"
	"testing"
	"time"
)

func nextEvent[C any](t testing.TB, ch <-chan Change[C]) Change[C] {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("** event stream closed unexpectedly")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("** timed out waiting for an event")
		panic("unreachable")
	}
}

func wantClosed[C any](t testing.TB, ch <-chan Change[C]) {
	t.Helper()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("** got another event, wanted a closed stream")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("** timed out waiting for the stream to close")
	}
}

func TestObserveLifecycle(t *testing.T) {
	r := must(Open("", testSchema, Options{IsTesting: true}))
	p := addPerson(t, r, "alice", 34)
	ls := ListOf(p, personTags)
	ok(t, r.Write(func(tx *Tx) error { return ls.AddAll("a", "b", "c") }))

	ch := must(ls.Observe(context.Background(), 0))

	ev := nextEvent(t, ch)
	deepEqual(t, ev.Kind, ChangeInitial)
	if ev.Changes != nil {
		t.Fatalf("** initial event carries a change set: %v", ev.Changes)
	}
	deepEqual(t, must(ev.Collection.Values()), []string{"a", "b", "c"})

	ok(t, r.Write(func(tx *Tx) error {
		_, err := ls.Remove(1)
		return err
	}))

	ev2 := nextEvent(t, ch)
	deepEqual(t, ev2.Kind, ChangeUpdated)
	deepEqual(t, ev2.Changes.Deletions, []int{1})
	isempty(t, ev2.Changes.Insertions)
	deepEqual(t, must(ev2.Collection.Values()), []string{"a", "c"})
	if !(ev2.Version > ev.Version) {
		t.Fatalf("** versions out of order: %d then %d", ev.Version, ev2.Version)
	}

	// the earlier snapshot still reads the old state
	deepEqual(t, must(ev.Collection.Values()), []string{"a", "b", "c"})

	r.Close()
	ev3 := nextEvent(t, ch)
	deepEqual(t, ev3.Kind, ChangeDeleted)
	deepEqual(t, must(ev3.Collection.Size()), 0)
	wantClosed(t, ch)
}

func TestObserveSkipsUnrelatedCommits(t *testing.T) {
	r := setup(t)
	alice := addPerson(t, r, "alice", 34)
	ls := ListOf(alice, personTags)

	ch := must(ls.Observe(context.Background(), 0))
	deepEqual(t, nextEvent(t, ch).Kind, ChangeInitial)

	// a commit not touching the list produces no event
	addPerson(t, r, "bob", 35)
	ok(t, r.Write(func(tx *Tx) error { return ls.Add("x") }))

	ev := nextEvent(t, ch)
	deepEqual(t, ev.Kind, ChangeUpdated)
	deepEqual(t, ev.Changes.Insertions, []int{0})
}

func TestObserveParentDeletion(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)
	ls := ListOf(p, personTags)
	ok(t, r.Write(func(tx *Tx) error { return ls.Add("a") }))

	ch := must(ls.Observe(context.Background(), 0))
	deepEqual(t, nextEvent(t, ch).Kind, ChangeInitial)

	ok(t, r.Write(func(tx *Tx) error { return tx.Delete(p) }))

	ev := nextEvent(t, ch)
	deepEqual(t, ev.Kind, ChangeDeleted)
	deepEqual(t, ev.Collection.IsManaged(), false)
	wantClosed(t, ch)
}

func TestObserveContextCancel(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)
	ls := ListOf(p, personTags)

	ctx, cancel := context.WithCancel(context.Background())
	ch := must(ls.Observe(ctx, 0))
	deepEqual(t, nextEvent(t, ch).Kind, ChangeInitial)

	cancel()
	wantClosed(t, ch)
}

func TestObserveInsideWriteTransactionFails(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)
	ls := ListOf(p, personTags)

	ok(t, r.Write(func(tx *Tx) error {
		if _, err := ls.Observe(context.Background(), 0); err == nil {
			t.Fatal("** wanted an error subscribing inside a write transaction")
		}
		return nil
	}))
}

func TestObserveSetAndDict(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)

	nick := SetOf(p, personNicknames)
	scores := DictOf(p, personScores)
	nickCh := must(nick.Observe(context.Background(), 0))
	scoreCh := must(scores.Observe(context.Background(), 0))
	deepEqual(t, nextEvent(t, nickCh).Kind, ChangeInitial)
	deepEqual(t, nextEvent(t, scoreCh).Kind, ChangeInitial)

	ok(t, r.Write(func(tx *Tx) error {
		if _, err := nick.Add("chief"); err != nil {
			return err
		}
		_, _, err := scores.Put("math", 90)
		return err
	}))

	nev := nextEvent(t, nickCh)
	deepEqual(t, nev.Kind, ChangeUpdated)
	deepEqual(t, nev.Changes.Insertions, []int{0})
	deepEqual(t, must(nev.Collection.Values()), []string{"chief"})

	sev := nextEvent(t, scoreCh)
	deepEqual(t, sev.Kind, ChangeUpdated)
	deepEqual(t, sev.Changes.Insertions, []int{0})
}

func TestObserveCoalescesNothing(t *testing.T) {
	// two separate commits produce two separate events
	r := setup(t)
	p := addPerson(t, r, "alice", 34)
	ls := ListOf(p, personTags)

	ch := must(ls.Observe(context.Background(), 0))
	deepEqual(t, nextEvent(t, ch).Kind, ChangeInitial)

	ok(t, r.Write(func(tx *Tx) error { return ls.Add("a") }))
	ok(t, r.Write(func(tx *Tx) error { return ls.Add("b") }))

	ev1 := nextEvent(t, ch)
	ev2 := nextEvent(t, ch)
	deepEqual(t, ev1.Changes.Insertions, []int{0})
	deepEqual(t, ev2.Changes.Insertions, []int{1})
	deepEqual(t, must(ev1.Collection.Values()), []string{"a"})
	deepEqual(t, must(ev2.Collection.Values()), []string{"a", "b"})
}

func TestObserveWithQueuedCommits(t *testing.T) {
	// registering while earlier commit notifications are still in flight must
	// yield exactly one initial event followed by strictly version-ordered
	// updates, never an update first
	r := setup(t)
	p := addPerson(t, r, "alice", 34)
	ls := ListOf(p, personTags)

	for i := 0; i < 10; i++ {
		ok(t, r.Write(func(tx *Tx) error { return ls.Add(strconv.Itoa(i)) }))
	}
	ch := must(ls.Observe(context.Background(), 64))
	ok(t, r.Write(func(tx *Tx) error { return ls.Add("tail") }))

	ev := nextEvent(t, ch)
	deepEqual(t, ev.Kind, ChangeInitial)
	last := ev.Version
	for {
		ev = nextEvent(t, ch)
		deepEqual(t, ev.Kind, ChangeUpdated)
		if ev.Version <= last {
			t.Fatalf("** got version %d after %d, wanted a strictly increasing order", ev.Version, last)
		}
		last = ev.Version
		if n := must(ev.Collection.Size()); n == 11 {
			break
		}
	}
}

func TestObserveDropsWhenBufferFull(t *testing.T) {
	r := setup(t)
	p := addPerson(t, r, "alice", 34)
	ls := ListOf(p, personTags)

	ch := must(ls.Observe(context.Background(), 1))
	deepEqual(t, nextEvent(t, ch).Kind, ChangeInitial)

	droppedBefore := metricEventsDropped.Get()
	ok(t, r.Write(func(tx *Tx) error { return ls.Add("a") }))
	ok(t, r.Write(func(tx *Tx) error { return ls.Add("b") }))
	ok(t, r.Write(func(tx *Tx) error { return ls.Add("c") }))

	// with the single buffer slot still holding the first update, the two
	// later events must be counted as dropped while the notifier stays live
	deadline := time.Now().Add(5 * time.Second)
	for metricEventsDropped.Get()-droppedBefore < 2 {
		if time.Now().After(deadline) {
			t.Fatal("** timed out waiting for overflow drops")
		}
		time.Sleep(time.Millisecond)
	}

	ev := nextEvent(t, ch)
	deepEqual(t, ev.Kind, ChangeUpdated)
	deepEqual(t, must(ev.Collection.Values()), []string{"a"})
	last := ev.Version

	// the stream keeps going past the gap, version order intact
	ok(t, r.Write(func(tx *Tx) error { return ls.Add("d") }))
	ev = nextEvent(t, ch)
	deepEqual(t, ev.Kind, ChangeUpdated)
	if ev.Version <= last {
		t.Fatalf("** got version %d after %d, wanted a strictly increasing order", ev.Version, last)
	}
	deepEqual(t, must(ev.Collection.Values()), []string{"a", "b", "c", "d"})
}
