package engine

import (
	"fmt"
	"slices"
)

// Tx is a write transaction. There is at most one at a time; Begin blocks
// until the previous writer commits or rolls back. All mutations apply to a
// working copy of the current state and become visible atomically on Commit,
// which also hands the per-collection diff journals to the notifier.
type Tx struct {
	s    *Store
	base *state
	work *state
	done bool

	diffs   map[CollKey]*Diff
	deleted map[ObjKey]bool
	touched map[ObjKey]bool

	metaDirty bool
}

// Begin starts a write transaction against the latest version.
func (s *Store) Begin() (*Tx, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.writeMu.Lock()
	if s.closed.Load() {
		s.writeMu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Lock()
	base := s.current
	s.mu.Unlock()
	return &Tx{
		s:       s,
		base:    base,
		work:    base.clone(base.version + 1),
		diffs:   make(map[CollKey]*Diff),
		deleted: make(map[ObjKey]bool),
		touched: make(map[ObjKey]bool),
	}, nil
}

// View returns a read view over the transaction's uncommitted working state.
func (tx *Tx) View() *View {
	return &View{st: tx.work}
}

func (tx *Tx) Version() Version { return tx.work.version }

func (tx *Tx) Commit() (Version, error) {
	if tx.done {
		return 0, fmt.Errorf("engine: transaction already finished")
	}
	s := tx.s
	if s.closed.Load() {
		tx.Rollback()
		return 0, ErrClosed
	}

	stx, err := s.stor.BeginTx(true)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("engine: %w", err)
	}
	// the scope's key arena must outlive the storage commit, which retains
	// the key slices by reference
	sc := acquireEncodeScope()
	err = saveStateDelta(stx, sc, tx.work, tx.touched, tx.deleted, tx.metaDirty)
	if err != nil {
		sc.release()
		stx.Rollback()
		tx.Rollback()
		return 0, err
	}
	err = stx.Commit()
	sc.release()
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("engine: %w", err)
	}

	s.mu.Lock()
	s.current = tx.work
	s.mu.Unlock()

	// Hold the new version until the notifier has dispatched it, so that
	// observers can pin it while handling the notification.
	s.retain(tx.work)
	c := &Commit{
		Version: tx.work.version,
		Diffs:   tx.diffs,
		Deleted: tx.deleted,
	}
	if !s.enqueue(c) {
		s.Unpin(tx.work.version)
	}
	s.CommitCount.Add(1)

	tx.done = true
	v := tx.work.version
	s.writeMu.Unlock()
	return v, nil
}

func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.s.writeMu.Unlock()
}

// PutMeta replaces the class catalog as part of this transaction.
func (tx *Tx) PutMeta(meta *Meta) {
	tx.work.meta = meta
	tx.metaDirty = true
}

// touch returns the object's writable copy, cloning it on first touch.
func (tx *Tx) touch(key ObjKey) (*objState, error) {
	o := tx.work.objects[key]
	if o == nil {
		return nil, ErrAbsent
	}
	if o.gen != tx.work.version {
		o = o.clone(tx.work.version)
		tx.work.objects[key] = o
	}
	tx.touched[key] = true
	return o, nil
}

func (tx *Tx) diffFor(coll CollKey) *Diff {
	d := tx.diffs[coll]
	if d == nil {
		d = &Diff{OldSize: tx.baseCollSize(coll)}
		tx.diffs[coll] = d
	}
	return d
}

// baseCollSize is the collection's size at the version the transaction
// started from; the diff journal replays on top of it.
func (tx *Tx) baseCollSize(coll CollKey) int {
	o := tx.base.objects[coll.Obj]
	if o == nil {
		return 0
	}
	if elems, ok := o.lists[coll.Prop]; ok {
		return len(elems)
	}
	if elems, ok := o.sets[coll.Prop]; ok {
		return len(elems)
	}
	if entries, ok := o.dicts[coll.Prop]; ok {
		return len(entries)
	}
	return 0
}

func (tx *Tx) classMeta(class ClassID) *ClassMeta {
	return tx.work.meta.mustClass(class)
}

func (tx *Tx) propMeta(key ObjKey, prop PropID) *PropMeta {
	return tx.classMeta(key.Class).mustProp(prop)
}

// CreateObject creates a fresh object of a top-level class.
func (tx *Tx) CreateObject(class ClassID) (ObjKey, error) {
	if tx.classMeta(class).Embedded {
		return ObjKey{}, ErrEmbedded
	}
	return tx.createObject(class), nil
}

func (tx *Tx) createObject(class ClassID) ObjKey {
	tx.work.lastID++
	key := ObjKey{Class: class, ID: tx.work.lastID}
	tx.work.objects[key] = newObjState(tx.work.version)
	tx.touched[key] = true
	return key
}

// DeleteObject removes an object, cascading into the embedded objects it
// owns. Links pointing at the deleted object are left in place and stop
// resolving.
func (tx *Tx) DeleteObject(key ObjKey) error {
	if tx.work.objects[key] == nil {
		return ErrAbsent
	}
	tx.deleteCascade(key)
	return nil
}

func (tx *Tx) deleteCascade(key ObjKey) {
	o := tx.work.objects[key]
	if o == nil {
		return
	}
	delete(tx.work.objects, key)
	tx.deleted[key] = true

	cascade := func(v Value) {
		if v.Kind == KindLink && tx.classMeta(v.Obj.Class).Embedded {
			tx.deleteCascade(v.Obj)
		}
	}
	for _, v := range o.scalars {
		cascade(v)
	}
	for _, elems := range o.lists {
		for _, v := range elems {
			cascade(v)
		}
	}
	for _, elems := range o.sets {
		for _, v := range elems {
			cascade(v)
		}
	}
	for _, entries := range o.dicts {
		for _, e := range entries {
			cascade(e.Val)
		}
	}
}

// checkValue validates a value against the property's declared kind, and
// enforces the link rules: a link target must resolve, and embedded objects
// can never be linked directly (their slot creates them).
func (tx *Tx) checkValue(pm *PropMeta, v Value) error {
	if v.Kind == KindNull {
		return nil
	}
	if v.Kind != pm.Kind {
		return ErrValue
	}
	if v.Kind == KindLink {
		if tx.classMeta(v.Obj.Class).Embedded {
			return ErrEmbedded
		}
		if tx.work.objects[v.Obj] == nil {
			return ErrAbsent
		}
	}
	return nil
}

func (tx *Tx) SetScalar(key ObjKey, prop PropID, v Value) error {
	pm := tx.propMeta(key, prop)
	if pm.Shape != ShapeScalar {
		panic(fmt.Errorf("engine: prop %d of class %d is not scalar", prop, key.Class))
	}
	if err := tx.checkValue(pm, v); err != nil {
		return err
	}
	o, err := tx.touch(key)
	if err != nil {
		return err
	}
	if old, ok := o.scalars[prop]; ok && old.Kind == KindLink && tx.classMeta(old.Obj.Class).Embedded {
		tx.deleteCascade(old.Obj)
	}
	if o.scalars == nil {
		o.scalars = make(map[PropID]Value)
	}
	o.scalars[prop] = v
	return nil
}

// SetScalarEmbedded assigns a fresh embedded object to a link-valued scalar
// slot, deleting the previous occupant, and returns the new object's key.
func (tx *Tx) SetScalarEmbedded(key ObjKey, prop PropID) (ObjKey, error) {
	pm := tx.propMeta(key, prop)
	target, err := tx.embeddedTarget(pm)
	if err != nil {
		return ObjKey{}, err
	}
	o, err := tx.touch(key)
	if err != nil {
		return ObjKey{}, err
	}
	if old, ok := o.scalars[prop]; ok && old.Kind == KindLink {
		tx.deleteCascade(old.Obj)
	}
	child := tx.createObject(target)
	if o.scalars == nil {
		o.scalars = make(map[PropID]Value)
	}
	o.scalars[prop] = Link(child)
	return child, nil
}

func (tx *Tx) embeddedTarget(pm *PropMeta) (ClassID, error) {
	if pm.Kind != KindLink {
		return 0, ErrValue
	}
	if !tx.classMeta(pm.Target).Embedded {
		return 0, ErrEmbedded
	}
	return pm.Target, nil
}

func (tx *Tx) listProp(coll CollKey) *PropMeta {
	pm := tx.propMeta(coll.Obj, coll.Prop)
	if pm.Shape != ShapeList {
		panic(fmt.Errorf("engine: prop %d of class %d is not a list", coll.Prop, coll.Obj.Class))
	}
	return pm
}

func (tx *Tx) ListInsert(coll CollKey, index int, v Value) error {
	pm := tx.listProp(coll)
	if err := tx.checkValue(pm, v); err != nil {
		return err
	}
	o, err := tx.touch(coll.Obj)
	if err != nil {
		return err
	}
	elems := o.lists[coll.Prop]
	if index < 0 || index > len(elems) {
		return ErrIndex
	}
	if o.lists == nil {
		o.lists = make(map[PropID][]Value)
	}
	o.lists[coll.Prop] = slices.Insert(elems, index, v)
	tx.diffFor(coll).record(OpInsert, index, 0)
	return nil
}

// ListInsertEmbedded creates a fresh embedded object and inserts a link to
// it at the given index.
func (tx *Tx) ListInsertEmbedded(coll CollKey, index int) (ObjKey, error) {
	pm := tx.listProp(coll)
	target, err := tx.embeddedTarget(pm)
	if err != nil {
		return ObjKey{}, err
	}
	o, err := tx.touch(coll.Obj)
	if err != nil {
		return ObjKey{}, err
	}
	elems := o.lists[coll.Prop]
	if index < 0 || index > len(elems) {
		return ObjKey{}, ErrIndex
	}
	child := tx.createObject(target)
	if o.lists == nil {
		o.lists = make(map[PropID][]Value)
	}
	o.lists[coll.Prop] = slices.Insert(elems, index, Link(child))
	tx.diffFor(coll).record(OpInsert, index, 0)
	return child, nil
}

func (tx *Tx) ListSet(coll CollKey, index int, v Value) (Value, error) {
	pm := tx.listProp(coll)
	if err := tx.checkValue(pm, v); err != nil {
		return Value{}, err
	}
	o, err := tx.touch(coll.Obj)
	if err != nil {
		return Value{}, err
	}
	elems := o.lists[coll.Prop]
	if index < 0 || index >= len(elems) {
		return Value{}, ErrIndex
	}
	old := elems[index]
	elems[index] = v
	tx.diffFor(coll).record(OpSet, index, 0)
	return old, nil
}

// ListSetEmbedded replaces the slot at index with a fresh embedded object.
// The previous occupant dies with its slot; the new object's key is
// returned.
func (tx *Tx) ListSetEmbedded(coll CollKey, index int) (ObjKey, error) {
	pm := tx.listProp(coll)
	target, err := tx.embeddedTarget(pm)
	if err != nil {
		return ObjKey{}, err
	}
	o, err := tx.touch(coll.Obj)
	if err != nil {
		return ObjKey{}, err
	}
	elems := o.lists[coll.Prop]
	if index < 0 || index >= len(elems) {
		return ObjKey{}, ErrIndex
	}
	if old := elems[index]; old.Kind == KindLink {
		tx.deleteCascade(old.Obj)
	}
	child := tx.createObject(target)
	elems[index] = Link(child)
	tx.diffFor(coll).record(OpSet, index, 0)
	return child, nil
}

func (tx *Tx) ListRemove(coll CollKey, index int) (Value, error) {
	tx.listProp(coll)
	o, err := tx.touch(coll.Obj)
	if err != nil {
		return Value{}, err
	}
	elems := o.lists[coll.Prop]
	if index < 0 || index >= len(elems) {
		return Value{}, ErrIndex
	}
	old := elems[index]
	o.lists[coll.Prop] = slices.Delete(elems, index, index+1)
	tx.diffFor(coll).record(OpRemove, index, 0)
	if old.Kind == KindLink && tx.classMeta(old.Obj.Class).Embedded {
		tx.deleteCascade(old.Obj)
	}
	return old, nil
}

func (tx *Tx) ListMove(coll CollKey, from, to int) error {
	tx.listProp(coll)
	o, err := tx.touch(coll.Obj)
	if err != nil {
		return err
	}
	elems := o.lists[coll.Prop]
	if from < 0 || from >= len(elems) || to < 0 || to >= len(elems) {
		return ErrIndex
	}
	if from == to {
		return nil
	}
	v := elems[from]
	elems = slices.Delete(elems, from, from+1)
	o.lists[coll.Prop] = slices.Insert(elems, to, v)
	tx.diffFor(coll).record(OpMove, from, to)
	return nil
}

func (tx *Tx) ListClear(coll CollKey) error {
	tx.listProp(coll)
	o, err := tx.touch(coll.Obj)
	if err != nil {
		return err
	}
	elems := o.lists[coll.Prop]
	delete(o.lists, coll.Prop)
	tx.diffFor(coll).record(OpClear, 0, 0)
	for _, v := range elems {
		if v.Kind == KindLink && tx.classMeta(v.Obj.Class).Embedded {
			tx.deleteCascade(v.Obj)
		}
	}
	return nil
}

func (tx *Tx) setProp(coll CollKey) *PropMeta {
	pm := tx.propMeta(coll.Obj, coll.Prop)
	if pm.Shape != ShapeSet {
		panic(fmt.Errorf("engine: prop %d of class %d is not a set", coll.Prop, coll.Obj.Class))
	}
	return pm
}

// SetAdd inserts v into the set; reports whether the set changed.
func (tx *Tx) SetAdd(coll CollKey, v Value) (bool, error) {
	pm := tx.setProp(coll)
	if err := tx.checkValue(pm, v); err != nil {
		return false, err
	}
	o, err := tx.touch(coll.Obj)
	if err != nil {
		return false, err
	}
	elems := o.sets[coll.Prop]
	i, found := setSearch(elems, v)
	if found {
		return false, nil
	}
	if o.sets == nil {
		o.sets = make(map[PropID][]Value)
	}
	o.sets[coll.Prop] = slices.Insert(elems, i, v)
	tx.diffFor(coll).record(OpInsert, i, 0)
	return true, nil
}

func (tx *Tx) SetRemove(coll CollKey, v Value) (bool, error) {
	tx.setProp(coll)
	o, err := tx.touch(coll.Obj)
	if err != nil {
		return false, err
	}
	elems := o.sets[coll.Prop]
	i, found := setSearch(elems, v)
	if !found {
		return false, nil
	}
	o.sets[coll.Prop] = slices.Delete(elems, i, i+1)
	tx.diffFor(coll).record(OpRemove, i, 0)
	return true, nil
}

func (tx *Tx) SetClear(coll CollKey) error {
	tx.setProp(coll)
	o, err := tx.touch(coll.Obj)
	if err != nil {
		return err
	}
	delete(o.sets, coll.Prop)
	tx.diffFor(coll).record(OpClear, 0, 0)
	return nil
}

func (tx *Tx) dictProp(coll CollKey) *PropMeta {
	pm := tx.propMeta(coll.Obj, coll.Prop)
	if pm.Shape != ShapeDict {
		panic(fmt.Errorf("engine: prop %d of class %d is not a dictionary", coll.Prop, coll.Obj.Class))
	}
	return pm
}

// DictPut stores v under key, returning the previous value if the key was
// already present.
func (tx *Tx) DictPut(coll CollKey, key string, v Value) (Value, bool, error) {
	pm := tx.dictProp(coll)
	if err := tx.checkValue(pm, v); err != nil {
		return Value{}, false, err
	}
	o, err := tx.touch(coll.Obj)
	if err != nil {
		return Value{}, false, err
	}
	entries := o.dicts[coll.Prop]
	i, found := dictSearch(entries, key)
	if found {
		old := entries[i].Val
		entries[i].Val = v
		tx.diffFor(coll).record(OpSet, i, 0)
		if old.Kind == KindLink && tx.classMeta(old.Obj.Class).Embedded {
			tx.deleteCascade(old.Obj)
		}
		return old, true, nil
	}
	if o.dicts == nil {
		o.dicts = make(map[PropID][]DictEntry)
	}
	o.dicts[coll.Prop] = slices.Insert(entries, i, DictEntry{Key: key, Val: v})
	tx.diffFor(coll).record(OpInsert, i, 0)
	return Value{}, false, nil
}

// DictPutEmbedded assigns a fresh embedded object to the key's slot,
// deleting any previous occupant. The second result reports whether a
// previous occupant was replaced.
func (tx *Tx) DictPutEmbedded(coll CollKey, key string) (ObjKey, bool, error) {
	pm := tx.dictProp(coll)
	target, err := tx.embeddedTarget(pm)
	if err != nil {
		return ObjKey{}, false, err
	}
	o, err := tx.touch(coll.Obj)
	if err != nil {
		return ObjKey{}, false, err
	}
	child := tx.createObject(target)
	entries := o.dicts[coll.Prop]
	i, found := dictSearch(entries, key)
	if found {
		if old := entries[i].Val; old.Kind == KindLink {
			tx.deleteCascade(old.Obj)
		}
		entries[i].Val = Link(child)
		tx.diffFor(coll).record(OpSet, i, 0)
	} else {
		if o.dicts == nil {
			o.dicts = make(map[PropID][]DictEntry)
		}
		o.dicts[coll.Prop] = slices.Insert(entries, i, DictEntry{Key: key, Val: Link(child)})
		tx.diffFor(coll).record(OpInsert, i, 0)
	}
	return child, found, nil
}

func (tx *Tx) DictRemove(coll CollKey, key string) (Value, bool, error) {
	tx.dictProp(coll)
	o, err := tx.touch(coll.Obj)
	if err != nil {
		return Value{}, false, err
	}
	entries := o.dicts[coll.Prop]
	i, found := dictSearch(entries, key)
	if !found {
		return Value{}, false, nil
	}
	old := entries[i].Val
	o.dicts[coll.Prop] = slices.Delete(entries, i, i+1)
	tx.diffFor(coll).record(OpRemove, i, 0)
	if old.Kind == KindLink && tx.classMeta(old.Obj.Class).Embedded {
		tx.deleteCascade(old.Obj)
	}
	return old, true, nil
}

func (tx *Tx) DictClear(coll CollKey) error {
	tx.dictProp(coll)
	o, err := tx.touch(coll.Obj)
	if err != nil {
		return err
	}
	entries := o.dicts[coll.Prop]
	delete(o.dicts, coll.Prop)
	tx.diffFor(coll).record(OpClear, 0, 0)
	for _, e := range entries {
		if e.Val.Kind == KindLink && tx.classMeta(e.Val.Obj.Class).Embedded {
			tx.deleteCascade(e.Val.Obj)
		}
	}
	return nil
}
