package odb

import (
	"github.com/vireolabs/odb/engine"
)

// Move describes one reordering step, with indices as they were at the
// moment the move happened. Moves are reported in the order they were made.
type Move struct {
	From int
	To   int
}

// ChangeSet summarizes how a collection changed between two versions.
// Deletions are indices into the old collection; insertions and
// modifications are indices into the new one. All three are sorted and free
// of duplicates. An element that was inserted and then removed within the
// same span cancels out and is not reported.
type ChangeSet struct {
	Deletions     []int
	Insertions    []int
	Modifications []int
	Moves         []Move
}

func (cs *ChangeSet) IsEmpty() bool {
	return len(cs.Deletions) == 0 && len(cs.Insertions) == 0 &&
		len(cs.Modifications) == 0 && len(cs.Moves) == 0
}

// buildChangeSet replays a collection's op journal, tracking where each
// original element ended up (or that it was deleted) and which positions
// hold new elements.
func buildChangeSet(d *engine.Diff) *ChangeSet {
	if d.Empty() {
		return &ChangeSet{}
	}
	type entry struct {
		origin   int // index in the old collection, -1 for inserted elements
		modified bool
	}
	entries := make([]*entry, d.OldSize)
	for i := range entries {
		entries[i] = &entry{origin: i}
	}

	cs := &ChangeSet{}
	deleted := make(map[int]bool)

	for _, op := range d.Ops {
		switch op.Kind {
		case engine.OpInsert:
			entries = append(entries, nil)
			copy(entries[op.Index+1:], entries[op.Index:])
			entries[op.Index] = &entry{origin: -1}
		case engine.OpRemove:
			e := entries[op.Index]
			entries = append(entries[:op.Index], entries[op.Index+1:]...)
			if e.origin >= 0 {
				deleted[e.origin] = true
			}
		case engine.OpSet:
			entries[op.Index].modified = true
		case engine.OpMove:
			e := entries[op.Index]
			entries = append(entries[:op.Index], entries[op.Index+1:]...)
			entries = append(entries, nil)
			copy(entries[op.To+1:], entries[op.To:])
			entries[op.To] = e
			cs.Moves = append(cs.Moves, Move{From: op.Index, To: op.To})
		case engine.OpClear:
			for _, e := range entries {
				if e.origin >= 0 {
					deleted[e.origin] = true
				}
			}
			entries = entries[:0]
		}
	}

	for i := 0; i < d.OldSize; i++ {
		if deleted[i] {
			cs.Deletions = append(cs.Deletions, i)
		}
	}
	for i, e := range entries {
		if e.origin < 0 {
			cs.Insertions = append(cs.Insertions, i)
		} else if e.modified {
			cs.Modifications = append(cs.Modifications, i)
		}
	}
	return cs
}
