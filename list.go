package odb

import (
	"context"

	"github.com/vireolabs/odb/engine"
)

// List is an ordered collection property. Managed lists are versioned
// references into a realm; unmanaged lists are plain in-memory slices
// attached to an unmanaged object, imported along with it.
type List[T any] struct {
	entity string
	decl   *propDecl
	op     elemOperator[T]

	managed bool
	ref     Ref

	elems []T
}

// ListOf binds a typed list property of the given object.
func ListOf[T any](obj *Object, p *ListProp[T]) *List[T] {
	obj.mustOwn(p.decl)
	return listHandle[T](obj, p.decl, primitiveOperator[T]{p.conv})
}

// ObjectListOf binds an object list property. The element operator depends
// on the target class: embedded targets copy payloads into engine-owned
// children, top-level targets store links.
func ObjectListOf(obj *Object, p *ObjectListProp) *List[*Object] {
	obj.mustOwn(p.decl)
	return listHandle[*Object](obj, p.decl, operatorForTarget(p.decl.target))
}

func operatorForTarget(target *Class) elemOperator[*Object] {
	if target.embedded {
		return embeddedOperator{target}
	}
	return objectOperator{target}
}

func listHandle[T any](obj *Object, pd *propDecl, op elemOperator[T]) *List[T] {
	if obj.managed {
		return &List[T]{
			entity:  "list " + pd.String(),
			decl:    pd,
			op:      op,
			managed: true,
			ref:     Ref{realm: obj.ref.realm, obj: obj.ref.obj, prop: pd.id},
		}
	}
	if existing, ok := obj.field(pd.id); ok {
		return existing.(*List[T])
	}
	ls := &List[T]{entity: "list " + pd.String(), decl: pd, op: op}
	obj.setField(pd.id, ls)
	return ls
}

func (ls *List[T]) IsManaged() bool { return ls.managed }

// Realm returns the owning realm, or nil for unmanaged lists.
func (ls *List[T]) Realm() *Realm {
	if !ls.managed {
		return nil
	}
	return ls.ref.realm
}

// IsValid reports whether the parent object still exists at the list's
// version. Unmanaged lists are always valid.
func (ls *List[T]) IsValid() bool {
	if !ls.managed {
		return true
	}
	if ls.ref.checkClosed(ls.entity) != nil {
		return false
	}
	vw, err := ls.ref.view()
	if err != nil {
		return false
	}
	return vw.ObjectExists(ls.ref.obj)
}

func (ls *List[T]) Size() (int, error) {
	if !ls.managed {
		return len(ls.elems), nil
	}
	if err := ls.ref.checkClosed(ls.entity); err != nil {
		return 0, err
	}
	vw, err := ls.ref.view()
	if err != nil {
		return 0, err
	}
	n, err := vw.ListLen(ls.ref.coll())
	if err != nil {
		return 0, engineErr(err, "could not read %s", ls.entity)
	}
	return n, nil
}

func (ls *List[T]) Get(index int) (T, error) {
	var zero T
	if !ls.managed {
		if index < 0 || index >= len(ls.elems) {
			return zero, opErrf(engine.ErrIndex, "index %d out of bounds for %s of size %d", index, ls.entity, len(ls.elems))
		}
		return ls.elems[index], nil
	}
	if err := ls.ref.checkClosed(ls.entity); err != nil {
		return zero, err
	}
	vw, err := ls.ref.view()
	if err != nil {
		return zero, err
	}
	v, err := vw.ListGet(ls.ref.coll(), index)
	if err != nil {
		return zero, engineErr(err, "could not read %s", ls.entity)
	}
	return ls.op.fromValue(ls.ref.realm, v), nil
}

// Values materializes the whole list as a slice.
func (ls *List[T]) Values() ([]T, error) {
	n, err := ls.Size()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v, err := ls.Get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Add appends an element.
func (ls *List[T]) Add(v T) error {
	n, err := ls.Size()
	if err != nil {
		return err
	}
	return ls.Insert(n, v)
}

func (ls *List[T]) AddAll(vs ...T) error {
	for _, v := range vs {
		if err := ls.Add(v); err != nil {
			return err
		}
	}
	return nil
}

// Insert places an element at index (0 <= index <= size). For embedded
// elements the value is copied into a freshly created child.
func (ls *List[T]) Insert(index int, v T) error {
	if !ls.managed {
		if index < 0 || index > len(ls.elems) {
			return opErrf(engine.ErrIndex, "index %d out of bounds for %s of size %d", index, ls.entity, len(ls.elems))
		}
		ls.elems = append(ls.elems, v)
		copy(ls.elems[index+1:], ls.elems[index:])
		ls.elems[index] = v
		return nil
	}
	if err := ls.ref.checkClosed(ls.entity); err != nil {
		return err
	}
	tx, err := ls.ref.bindingTx()
	if err != nil {
		return engineErr(err, "could not extend %s", ls.entity)
	}
	if ls.op.embedded() {
		child, err := tx.etx.ListInsertEmbedded(ls.ref.coll(), index)
		if err != nil {
			return engineErr(err, "could not extend %s", ls.entity)
		}
		return ls.op.copyInto(tx, child, v)
	}
	ev, err := ls.op.writeValue(tx, v, UpdatePolicyAll, newImportCache())
	if err != nil {
		return err
	}
	if err := tx.etx.ListInsert(ls.ref.coll(), index, ev); err != nil {
		return engineErr(err, "could not extend %s", ls.entity)
	}
	return nil
}

// Set replaces the element at index and returns the previous one. For
// embedded elements the previous child is destroyed and the returned value
// is the freshly created replacement instead.
func (ls *List[T]) Set(index int, v T) (T, error) {
	var zero T
	if !ls.managed {
		if index < 0 || index >= len(ls.elems) {
			return zero, opErrf(engine.ErrIndex, "index %d out of bounds for %s of size %d", index, ls.entity, len(ls.elems))
		}
		old := ls.elems[index]
		ls.elems[index] = v
		return old, nil
	}
	if err := ls.ref.checkClosed(ls.entity); err != nil {
		return zero, err
	}
	tx, err := ls.ref.bindingTx()
	if err != nil {
		return zero, engineErr(err, "could not update %s", ls.entity)
	}
	if ls.op.embedded() {
		child, err := tx.etx.ListSetEmbedded(ls.ref.coll(), index)
		if err != nil {
			return zero, engineErr(err, "could not update %s", ls.entity)
		}
		if err := ls.op.copyInto(tx, child, v); err != nil {
			return zero, err
		}
		return ls.op.fromValue(ls.ref.realm, engine.Link(child)), nil
	}
	ev, err := ls.op.writeValue(tx, v, UpdatePolicyAll, newImportCache())
	if err != nil {
		return zero, err
	}
	old, err := tx.etx.ListSet(ls.ref.coll(), index, ev)
	if err != nil {
		return zero, engineErr(err, "could not update %s", ls.entity)
	}
	return ls.op.fromValue(ls.ref.realm, old), nil
}

// Remove deletes the element at index and returns it. A removed embedded
// child is destroyed; the returned object is no longer valid.
func (ls *List[T]) Remove(index int) (T, error) {
	var zero T
	if !ls.managed {
		if index < 0 || index >= len(ls.elems) {
			return zero, opErrf(engine.ErrIndex, "index %d out of bounds for %s of size %d", index, ls.entity, len(ls.elems))
		}
		old := ls.elems[index]
		ls.elems = append(ls.elems[:index], ls.elems[index+1:]...)
		return old, nil
	}
	if err := ls.ref.checkClosed(ls.entity); err != nil {
		return zero, err
	}
	tx, err := ls.ref.bindingTx()
	if err != nil {
		return zero, engineErr(err, "could not shrink %s", ls.entity)
	}
	old, err := tx.etx.ListRemove(ls.ref.coll(), index)
	if err != nil {
		return zero, engineErr(err, "could not shrink %s", ls.entity)
	}
	return ls.op.fromValue(ls.ref.realm, old), nil
}

// RemoveValue deletes the first occurrence of v; reports whether anything
// was removed.
func (ls *List[T]) RemoveValue(v T) (bool, error) {
	i, err := ls.IndexOf(v)
	if err != nil || i < 0 {
		return false, err
	}
	_, err = ls.Remove(i)
	return err == nil, err
}

// Move relocates the element at from so that it ends up at index to.
func (ls *List[T]) Move(from, to int) error {
	if !ls.managed {
		n := len(ls.elems)
		if from < 0 || from >= n || to < 0 || to >= n {
			return opErrf(engine.ErrIndex, "move %d to %d out of bounds for %s of size %d", from, to, ls.entity, n)
		}
		v := ls.elems[from]
		ls.elems = append(ls.elems[:from], ls.elems[from+1:]...)
		ls.elems = append(ls.elems, v)
		copy(ls.elems[to+1:], ls.elems[to:])
		ls.elems[to] = v
		return nil
	}
	if err := ls.ref.checkClosed(ls.entity); err != nil {
		return err
	}
	tx, err := ls.ref.bindingTx()
	if err != nil {
		return engineErr(err, "could not reorder %s", ls.entity)
	}
	if err := tx.etx.ListMove(ls.ref.coll(), from, to); err != nil {
		return engineErr(err, "could not reorder %s", ls.entity)
	}
	return nil
}

// IndexOf returns the position of the first element equal to v, or -1.
func (ls *List[T]) IndexOf(v T) (int, error) {
	if !ls.managed {
		for i, e := range ls.elems {
			if ls.elemEqual(e, v) {
				return i, nil
			}
		}
		return -1, nil
	}
	if err := ls.ref.checkClosed(ls.entity); err != nil {
		return -1, err
	}
	ev, ok := ls.op.lookupValue(v)
	if !ok {
		return -1, nil
	}
	vw, err := ls.ref.view()
	if err != nil {
		return -1, err
	}
	i, err := vw.ListIndexOf(ls.ref.coll(), ev)
	if err != nil {
		return -1, engineErr(err, "could not read %s", ls.entity)
	}
	return i, nil
}

func (ls *List[T]) Contains(v T) (bool, error) {
	i, err := ls.IndexOf(v)
	return i >= 0, err
}

func (ls *List[T]) Clear() error {
	if !ls.managed {
		ls.elems = nil
		return nil
	}
	if err := ls.ref.checkClosed(ls.entity); err != nil {
		return err
	}
	tx, err := ls.ref.bindingTx()
	if err != nil {
		return engineErr(err, "could not clear %s", ls.entity)
	}
	if err := tx.etx.ListClear(ls.ref.coll()); err != nil {
		return engineErr(err, "could not clear %s", ls.entity)
	}
	return nil
}

// Delete removes every element and detaches the list from its realm. The
// handle keeps working as an empty unmanaged container afterwards.
func (ls *List[T]) Delete() error {
	if ls.managed {
		if err := ls.Clear(); err != nil {
			return err
		}
		ls.managed = false
		ls.ref = Ref{}
	}
	ls.elems = nil
	return nil
}

func (ls *List[T]) elemEqual(a, b T) bool {
	av, aok := ls.op.lookupValue(a)
	bv, bok := ls.op.lookupValue(b)
	if aok && bok {
		return av.Equal(bv)
	}
	return any(a) == any(b)
}

// Freeze resolves the list against the target frozen realm's version.
// Returns false if the parent object no longer exists there.
func (ls *List[T]) Freeze(target *Realm) (*List[T], bool, error) {
	return ls.resolveAt(target)
}

// Thaw resolves the list back onto a live realm's latest version.
func (ls *List[T]) Thaw(live *Realm) (*List[T], bool, error) {
	return ls.resolveAt(live)
}

func (ls *List[T]) resolveAt(target *Realm) (*List[T], bool, error) {
	if !ls.managed {
		return nil, false, unsupportedErr("freezing or thawing")
	}
	if err := ls.ref.checkClosed(ls.entity); err != nil {
		return nil, false, err
	}
	ref, ok, err := ls.ref.resolveAt(target)
	if err != nil || !ok {
		return nil, false, err
	}
	return ls.rebindTo(ref), true, nil
}

func (ls *List[T]) rebindTo(ref Ref) *List[T] {
	return &List[T]{entity: ls.entity, decl: ls.decl, op: ls.op, managed: true, ref: ref}
}

// Observe subscribes to ordered change events for this list. See the
// package documentation for the event contract.
func (ls *List[T]) Observe(ctx context.Context, buffer int) (<-chan Change[*List[T]], error) {
	if !ls.managed {
		return nil, unsupportedErr("observing an unmanaged list")
	}
	return observeHandle(ctx, ls.ref, ls.entity, buffer,
		func(ref Ref) *List[T] { return ls.rebindTo(ref) },
		func() *List[T] { return &List[T]{entity: ls.entity, decl: ls.decl, op: ls.op} })
}

func (ls *List[T]) importInto(tx *Tx, coll engine.CollKey, pol UpdatePolicy, cache ImportCache) error {
	for i, v := range ls.elems {
		if ls.op.embedded() {
			child, err := tx.etx.ListInsertEmbedded(coll, i)
			if err != nil {
				return engineErr(err, "could not extend %s", ls.entity)
			}
			if err := ls.op.copyInto(tx, child, v); err != nil {
				return err
			}
			continue
		}
		ev, err := ls.op.writeValue(tx, v, pol, cache)
		if err != nil {
			return err
		}
		if err := tx.etx.ListInsert(coll, i, ev); err != nil {
			return engineErr(err, "could not extend %s", ls.entity)
		}
	}
	return nil
}

// Iterator returns a cursor over the list's elements at call time. Remove
// is only legal right after a successful Next, once per element.
func (ls *List[T]) Iterator() *Iterator[T] {
	return &Iterator[T]{ls: ls, last: -1}
}

type Iterator[T any] struct {
	ls   *List[T]
	next int
	last int
}

func (it *Iterator[T]) HasNext() bool {
	n, err := it.ls.Size()
	return err == nil && it.next < n
}

func (it *Iterator[T]) Next() (T, error) {
	var zero T
	n, err := it.ls.Size()
	if err != nil {
		return zero, err
	}
	if it.next >= n {
		return zero, noSuchElementErrf("iteration past the end of %s", it.ls.entity)
	}
	v, err := it.ls.Get(it.next)
	if err != nil {
		return zero, err
	}
	it.last = it.next
	it.next++
	return v, nil
}

func (it *Iterator[T]) Remove() error {
	if it.last < 0 {
		return noSuchElementErrf("no current element to remove in %s", it.ls.entity)
	}
	if _, err := it.ls.Remove(it.last); err != nil {
		return err
	}
	it.next = it.last
	it.last = -1
	return nil
}
