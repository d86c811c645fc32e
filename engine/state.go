package engine

import (
	"slices"
	"sort"
)

// state is one immutable version of the whole store: the class catalog plus
// every live object. A write transaction builds the next state by cloning
// the object table and copying individual objects on first touch; committed
// states are never mutated again, which is what makes frozen reads safe
// without locks.
type state struct {
	version Version
	meta    *Meta
	objects map[ObjKey]*objState
	lastID  ObjID
}

type objState struct {
	gen     Version // version whose transaction created this copy
	scalars map[PropID]Value
	lists   map[PropID][]Value
	sets    map[PropID][]Value // kept in canonical Value order
	dicts   map[PropID][]DictEntry // kept sorted by Key
}

// DictEntry is one dictionary slot. Dictionaries are stored sorted by key so
// that index-based diffs are well-defined.
type DictEntry struct {
	Key string
	Val Value
}

func newState() *state {
	return &state{objects: make(map[ObjKey]*objState)}
}

func (st *state) clone(nextVersion Version) *state {
	objects := make(map[ObjKey]*objState, len(st.objects))
	for k, o := range st.objects {
		objects[k] = o
	}
	return &state{
		version: nextVersion,
		meta:    st.meta,
		objects: objects,
		lastID:  st.lastID,
	}
}

func newObjState(gen Version) *objState {
	return &objState{gen: gen}
}

func (o *objState) clone(gen Version) *objState {
	c := &objState{gen: gen}
	if o.scalars != nil {
		c.scalars = make(map[PropID]Value, len(o.scalars))
		for k, v := range o.scalars {
			c.scalars[k] = v
		}
	}
	if o.lists != nil {
		c.lists = make(map[PropID][]Value, len(o.lists))
		for k, v := range o.lists {
			c.lists[k] = slices.Clone(v)
		}
	}
	if o.sets != nil {
		c.sets = make(map[PropID][]Value, len(o.sets))
		for k, v := range o.sets {
			c.sets[k] = slices.Clone(v)
		}
	}
	if o.dicts != nil {
		c.dicts = make(map[PropID][]DictEntry, len(o.dicts))
		for k, v := range o.dicts {
			c.dicts[k] = slices.Clone(v)
		}
	}
	return c
}

func setSearch(elems []Value, v Value) (int, bool) {
	i := sort.Search(len(elems), func(i int) bool {
		return !elems[i].Less(v)
	})
	return i, i < len(elems) && elems[i].Equal(v)
}

func dictSearch(entries []DictEntry, key string) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Key >= key
	})
	return i, i < len(entries) && entries[i].Key == key
}
