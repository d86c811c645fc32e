package odb

import (
	"context"

	"github.com/vireolabs/odb/engine"
)

// Set is an unordered collection of distinct elements. The stored order is
// canonical (sorted by value), which keeps index-based change events well
// defined. Sets never hold embedded objects.
type Set[T any] struct {
	entity string
	decl   *propDecl
	op     elemOperator[T]

	managed bool
	ref     Ref

	elems []T
}

func SetOf[T any](obj *Object, p *SetProp[T]) *Set[T] {
	obj.mustOwn(p.decl)
	return setHandle[T](obj, p.decl, primitiveOperator[T]{p.conv})
}

func ObjectSetOf(obj *Object, p *ObjectSetProp) *Set[*Object] {
	obj.mustOwn(p.decl)
	return setHandle[*Object](obj, p.decl, objectOperator{p.decl.target})
}

func setHandle[T any](obj *Object, pd *propDecl, op elemOperator[T]) *Set[T] {
	if obj.managed {
		return &Set[T]{
			entity:  "set " + pd.String(),
			decl:    pd,
			op:      op,
			managed: true,
			ref:     Ref{realm: obj.ref.realm, obj: obj.ref.obj, prop: pd.id},
		}
	}
	if existing, ok := obj.field(pd.id); ok {
		return existing.(*Set[T])
	}
	st := &Set[T]{entity: "set " + pd.String(), decl: pd, op: op}
	obj.setField(pd.id, st)
	return st
}

func (st *Set[T]) IsManaged() bool { return st.managed }

func (st *Set[T]) Realm() *Realm {
	if !st.managed {
		return nil
	}
	return st.ref.realm
}

func (st *Set[T]) IsValid() bool {
	if !st.managed {
		return true
	}
	if st.ref.checkClosed(st.entity) != nil {
		return false
	}
	vw, err := st.ref.view()
	if err != nil {
		return false
	}
	return vw.ObjectExists(st.ref.obj)
}

func (st *Set[T]) Size() (int, error) {
	if !st.managed {
		return len(st.elems), nil
	}
	if err := st.ref.checkClosed(st.entity); err != nil {
		return 0, err
	}
	vw, err := st.ref.view()
	if err != nil {
		return 0, err
	}
	n, err := vw.SetLen(st.ref.coll())
	if err != nil {
		return 0, engineErr(err, "could not read %s", st.entity)
	}
	return n, nil
}

// Add inserts an element; reports whether the set grew (false when the
// element was already present).
func (st *Set[T]) Add(v T) (bool, error) {
	if !st.managed {
		for _, e := range st.elems {
			if st.elemEqual(e, v) {
				return false, nil
			}
		}
		st.elems = append(st.elems, v)
		return true, nil
	}
	if err := st.ref.checkClosed(st.entity); err != nil {
		return false, err
	}
	tx, err := st.ref.bindingTx()
	if err != nil {
		return false, engineErr(err, "could not extend %s", st.entity)
	}
	ev, err := st.op.writeValue(tx, v, UpdatePolicyAll, newImportCache())
	if err != nil {
		return false, err
	}
	added, err := tx.etx.SetAdd(st.ref.coll(), ev)
	if err != nil {
		return false, engineErr(err, "could not extend %s", st.entity)
	}
	return added, nil
}

func (st *Set[T]) AddAll(vs ...T) error {
	for _, v := range vs {
		if _, err := st.Add(v); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes an element; reports whether it was present.
func (st *Set[T]) Remove(v T) (bool, error) {
	if !st.managed {
		for i, e := range st.elems {
			if st.elemEqual(e, v) {
				st.elems = append(st.elems[:i], st.elems[i+1:]...)
				return true, nil
			}
		}
		return false, nil
	}
	if err := st.ref.checkClosed(st.entity); err != nil {
		return false, err
	}
	tx, err := st.ref.bindingTx()
	if err != nil {
		return false, engineErr(err, "could not shrink %s", st.entity)
	}
	ev, ok := st.op.lookupValue(v)
	if !ok {
		return false, nil
	}
	removed, err := tx.etx.SetRemove(st.ref.coll(), ev)
	if err != nil {
		return false, engineErr(err, "could not shrink %s", st.entity)
	}
	return removed, nil
}

func (st *Set[T]) Contains(v T) (bool, error) {
	if !st.managed {
		for _, e := range st.elems {
			if st.elemEqual(e, v) {
				return true, nil
			}
		}
		return false, nil
	}
	if err := st.ref.checkClosed(st.entity); err != nil {
		return false, err
	}
	ev, ok := st.op.lookupValue(v)
	if !ok {
		return false, nil
	}
	vw, err := st.ref.view()
	if err != nil {
		return false, err
	}
	found, err := vw.SetContains(st.ref.coll(), ev)
	if err != nil {
		return false, engineErr(err, "could not read %s", st.entity)
	}
	return found, nil
}

// Values returns the elements in canonical stored order.
func (st *Set[T]) Values() ([]T, error) {
	if !st.managed {
		return append([]T(nil), st.elems...), nil
	}
	if err := st.ref.checkClosed(st.entity); err != nil {
		return nil, err
	}
	vw, err := st.ref.view()
	if err != nil {
		return nil, err
	}
	values, err := vw.SetValues(st.ref.coll())
	if err != nil {
		return nil, engineErr(err, "could not read %s", st.entity)
	}
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = st.op.fromValue(st.ref.realm, v)
	}
	return out, nil
}

func (st *Set[T]) Clear() error {
	if !st.managed {
		st.elems = nil
		return nil
	}
	if err := st.ref.checkClosed(st.entity); err != nil {
		return err
	}
	tx, err := st.ref.bindingTx()
	if err != nil {
		return engineErr(err, "could not clear %s", st.entity)
	}
	if err := tx.etx.SetClear(st.ref.coll()); err != nil {
		return engineErr(err, "could not clear %s", st.entity)
	}
	return nil
}

// Delete removes every element and detaches the set from its realm.
func (st *Set[T]) Delete() error {
	if st.managed {
		if err := st.Clear(); err != nil {
			return err
		}
		st.managed = false
		st.ref = Ref{}
	}
	st.elems = nil
	return nil
}

func (st *Set[T]) elemEqual(a, b T) bool {
	av, aok := st.op.lookupValue(a)
	bv, bok := st.op.lookupValue(b)
	if aok && bok {
		return av.Equal(bv)
	}
	return any(a) == any(b)
}

func (st *Set[T]) Freeze(target *Realm) (*Set[T], bool, error) {
	return st.resolveAt(target)
}

func (st *Set[T]) Thaw(live *Realm) (*Set[T], bool, error) {
	return st.resolveAt(live)
}

func (st *Set[T]) resolveAt(target *Realm) (*Set[T], bool, error) {
	if !st.managed {
		return nil, false, unsupportedErr("freezing or thawing")
	}
	if err := st.ref.checkClosed(st.entity); err != nil {
		return nil, false, err
	}
	ref, ok, err := st.ref.resolveAt(target)
	if err != nil || !ok {
		return nil, false, err
	}
	return st.rebindTo(ref), true, nil
}

func (st *Set[T]) rebindTo(ref Ref) *Set[T] {
	return &Set[T]{entity: st.entity, decl: st.decl, op: st.op, managed: true, ref: ref}
}

func (st *Set[T]) Observe(ctx context.Context, buffer int) (<-chan Change[*Set[T]], error) {
	if !st.managed {
		return nil, unsupportedErr("observing an unmanaged set")
	}
	return observeHandle(ctx, st.ref, st.entity, buffer,
		func(ref Ref) *Set[T] { return st.rebindTo(ref) },
		func() *Set[T] { return &Set[T]{entity: st.entity, decl: st.decl, op: st.op} })
}

func (st *Set[T]) importInto(tx *Tx, coll engine.CollKey, pol UpdatePolicy, cache ImportCache) error {
	for _, v := range st.elems {
		ev, err := st.op.writeValue(tx, v, pol, cache)
		if err != nil {
			return err
		}
		if _, err := tx.etx.SetAdd(coll, ev); err != nil {
			return engineErr(err, "could not extend %s", st.entity)
		}
	}
	return nil
}
