package odb

import (
	"testing"

	"github.com/vireolabs/odb/engine"
)

func diffOf(oldSize int, ops ...engine.CollOp) *engine.Diff {
	return &engine.Diff{OldSize: oldSize, Ops: ops}
}

func TestChangeSetInsert(t *testing.T) {
	cs := buildChangeSet(diffOf(2,
		engine.CollOp{Kind: engine.OpInsert, Index: 1},
		engine.CollOp{Kind: engine.OpInsert, Index: 3},
	))
	isempty(t, cs.Deletions)
	deepEqual(t, cs.Insertions, []int{1, 3})
	isempty(t, cs.Modifications)
	isempty(t, cs.Moves)
}

func TestChangeSetRemove(t *testing.T) {
	cs := buildChangeSet(diffOf(4,
		engine.CollOp{Kind: engine.OpRemove, Index: 1},
		engine.CollOp{Kind: engine.OpRemove, Index: 2},
	))
	// indices report positions in the old collection
	deepEqual(t, cs.Deletions, []int{1, 3})
	isempty(t, cs.Insertions)
}

func TestChangeSetInsertThenRemoveCancels(t *testing.T) {
	cs := buildChangeSet(diffOf(2,
		engine.CollOp{Kind: engine.OpInsert, Index: 1},
		engine.CollOp{Kind: engine.OpRemove, Index: 1},
	))
	deepEqual(t, cs.IsEmpty(), true)
}

func TestChangeSetSet(t *testing.T) {
	cs := buildChangeSet(diffOf(3,
		engine.CollOp{Kind: engine.OpSet, Index: 2},
	))
	deepEqual(t, cs.Modifications, []int{2})
	isempty(t, cs.Deletions)
	isempty(t, cs.Insertions)
}

func TestChangeSetSetOnInsertedStaysInsertion(t *testing.T) {
	cs := buildChangeSet(diffOf(1,
		engine.CollOp{Kind: engine.OpInsert, Index: 0},
		engine.CollOp{Kind: engine.OpSet, Index: 0},
	))
	deepEqual(t, cs.Insertions, []int{0})
	isempty(t, cs.Modifications)
}

func TestChangeSetMove(t *testing.T) {
	cs := buildChangeSet(diffOf(3,
		engine.CollOp{Kind: engine.OpMove, Index: 0, To: 2},
	))
	deepEqual(t, cs.Moves, []Move{{From: 0, To: 2}})
	isempty(t, cs.Deletions)
	isempty(t, cs.Insertions)
}

func TestChangeSetModificationIndexFollowsMoves(t *testing.T) {
	// modify element 0, then move it to the back: the modification is
	// reported at its final index
	cs := buildChangeSet(diffOf(3,
		engine.CollOp{Kind: engine.OpSet, Index: 0},
		engine.CollOp{Kind: engine.OpMove, Index: 0, To: 2},
	))
	deepEqual(t, cs.Modifications, []int{2})
	deepEqual(t, cs.Moves, []Move{{From: 0, To: 2}})
}

func TestChangeSetClear(t *testing.T) {
	cs := buildChangeSet(diffOf(3,
		engine.CollOp{Kind: engine.OpInsert, Index: 0},
		engine.CollOp{Kind: engine.OpClear},
	))
	deepEqual(t, cs.Deletions, []int{0, 1, 2})
	isempty(t, cs.Insertions)
}

func TestChangeSetMixed(t *testing.T) {
	// start: [a b c d]
	// remove b      -> [a c d]        (old index 1 deleted)
	// insert X at 0 -> [X a c d]
	// set c (idx 2) -> [X a c* d]
	cs := buildChangeSet(diffOf(4,
		engine.CollOp{Kind: engine.OpRemove, Index: 1},
		engine.CollOp{Kind: engine.OpInsert, Index: 0},
		engine.CollOp{Kind: engine.OpSet, Index: 2},
	))
	deepEqual(t, cs.Deletions, []int{1})
	deepEqual(t, cs.Insertions, []int{0})
	deepEqual(t, cs.Modifications, []int{2})
}

func TestChangeSetNilDiff(t *testing.T) {
	cs := buildChangeSet(nil)
	deepEqual(t, cs.IsEmpty(), true)
	cs = buildChangeSet(diffOf(3))
	deepEqual(t, cs.IsEmpty(), true)
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}
