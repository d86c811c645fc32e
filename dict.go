package odb

import (
	"context"

	"github.com/vireolabs/odb/engine"
)

// Dict is a string-keyed collection property. Entries are stored sorted by
// key, so index-based change events are well defined.
type Dict[T any] struct {
	entity string
	decl   *propDecl
	op     elemOperator[T]

	managed bool
	ref     Ref

	keys  []string
	elems map[string]T
}

func DictOf[T any](obj *Object, p *DictProp[T]) *Dict[T] {
	obj.mustOwn(p.decl)
	return dictHandle[T](obj, p.decl, primitiveOperator[T]{p.conv})
}

func ObjectDictOf(obj *Object, p *ObjectDictProp) *Dict[*Object] {
	obj.mustOwn(p.decl)
	return dictHandle[*Object](obj, p.decl, operatorForTarget(p.decl.target))
}

func dictHandle[T any](obj *Object, pd *propDecl, op elemOperator[T]) *Dict[T] {
	if obj.managed {
		return &Dict[T]{
			entity:  "dictionary " + pd.String(),
			decl:    pd,
			op:      op,
			managed: true,
			ref:     Ref{realm: obj.ref.realm, obj: obj.ref.obj, prop: pd.id},
		}
	}
	if existing, ok := obj.field(pd.id); ok {
		return existing.(*Dict[T])
	}
	d := &Dict[T]{entity: "dictionary " + pd.String(), decl: pd, op: op}
	obj.setField(pd.id, d)
	return d
}

func (d *Dict[T]) IsManaged() bool { return d.managed }

func (d *Dict[T]) Realm() *Realm {
	if !d.managed {
		return nil
	}
	return d.ref.realm
}

func (d *Dict[T]) IsValid() bool {
	if !d.managed {
		return true
	}
	if d.ref.checkClosed(d.entity) != nil {
		return false
	}
	vw, err := d.ref.view()
	if err != nil {
		return false
	}
	return vw.ObjectExists(d.ref.obj)
}

func (d *Dict[T]) Size() (int, error) {
	if !d.managed {
		return len(d.keys), nil
	}
	if err := d.ref.checkClosed(d.entity); err != nil {
		return 0, err
	}
	vw, err := d.ref.view()
	if err != nil {
		return 0, err
	}
	n, err := vw.DictLen(d.ref.coll())
	if err != nil {
		return 0, engineErr(err, "could not read %s", d.entity)
	}
	return n, nil
}

// Get returns the value under key; the second result is false when absent.
func (d *Dict[T]) Get(key string) (T, bool, error) {
	var zero T
	if !d.managed {
		v, ok := d.elems[key]
		return v, ok, nil
	}
	if err := d.ref.checkClosed(d.entity); err != nil {
		return zero, false, err
	}
	vw, err := d.ref.view()
	if err != nil {
		return zero, false, err
	}
	v, ok, err := vw.DictGet(d.ref.coll(), key)
	if err != nil {
		return zero, false, engineErr(err, "could not read %s", d.entity)
	}
	if !ok {
		return zero, false, nil
	}
	return d.op.fromValue(d.ref.realm, v), true, nil
}

// Put stores a value under key, returning the replaced value if any. For
// embedded values a fresh child is created; any previous child is destroyed.
func (d *Dict[T]) Put(key string, v T) (T, bool, error) {
	var zero T
	if !d.managed {
		old, had := d.elems[key]
		if d.elems == nil {
			d.elems = make(map[string]T)
		}
		if !had {
			d.keys = append(d.keys, key)
		}
		d.elems[key] = v
		return old, had, nil
	}
	if err := d.ref.checkClosed(d.entity); err != nil {
		return zero, false, err
	}
	tx, err := d.ref.bindingTx()
	if err != nil {
		return zero, false, engineErr(err, "could not update %s", d.entity)
	}
	if d.op.embedded() {
		child, had, err := tx.etx.DictPutEmbedded(d.ref.coll(), key)
		if err != nil {
			return zero, false, engineErr(err, "could not update %s", d.entity)
		}
		if err := d.op.copyInto(tx, child, v); err != nil {
			return zero, false, err
		}
		return d.op.fromValue(d.ref.realm, engine.Link(child)), had, nil
	}
	ev, err := d.op.writeValue(tx, v, UpdatePolicyAll, newImportCache())
	if err != nil {
		return zero, false, err
	}
	old, had, err := tx.etx.DictPut(d.ref.coll(), key, ev)
	if err != nil {
		return zero, false, engineErr(err, "could not update %s", d.entity)
	}
	if !had {
		return zero, false, nil
	}
	return d.op.fromValue(d.ref.realm, old), true, nil
}

// Remove deletes the entry under key, returning its value if it existed.
func (d *Dict[T]) Remove(key string) (T, bool, error) {
	var zero T
	if !d.managed {
		old, had := d.elems[key]
		if had {
			delete(d.elems, key)
			for i, k := range d.keys {
				if k == key {
					d.keys = append(d.keys[:i], d.keys[i+1:]...)
					break
				}
			}
		}
		return old, had, nil
	}
	if err := d.ref.checkClosed(d.entity); err != nil {
		return zero, false, err
	}
	tx, err := d.ref.bindingTx()
	if err != nil {
		return zero, false, engineErr(err, "could not shrink %s", d.entity)
	}
	old, had, err := tx.etx.DictRemove(d.ref.coll(), key)
	if err != nil {
		return zero, false, engineErr(err, "could not shrink %s", d.entity)
	}
	if !had {
		return zero, false, nil
	}
	return d.op.fromValue(d.ref.realm, old), true, nil
}

func (d *Dict[T]) ContainsKey(key string) (bool, error) {
	_, ok, err := d.Get(key)
	return ok, err
}

// Keys returns the keys in stored (sorted) order.
func (d *Dict[T]) Keys() ([]string, error) {
	if !d.managed {
		out := append([]string(nil), d.keys...)
		return out, nil
	}
	if err := d.ref.checkClosed(d.entity); err != nil {
		return nil, err
	}
	vw, err := d.ref.view()
	if err != nil {
		return nil, err
	}
	keys, err := vw.DictKeys(d.ref.coll())
	if err != nil {
		return nil, engineErr(err, "could not read %s", d.entity)
	}
	return keys, nil
}

func (d *Dict[T]) Clear() error {
	if !d.managed {
		d.keys = nil
		d.elems = nil
		return nil
	}
	if err := d.ref.checkClosed(d.entity); err != nil {
		return err
	}
	tx, err := d.ref.bindingTx()
	if err != nil {
		return engineErr(err, "could not clear %s", d.entity)
	}
	if err := tx.etx.DictClear(d.ref.coll()); err != nil {
		return engineErr(err, "could not clear %s", d.entity)
	}
	return nil
}

// Delete removes every entry and detaches the dictionary from its realm.
func (d *Dict[T]) Delete() error {
	if d.managed {
		if err := d.Clear(); err != nil {
			return err
		}
		d.managed = false
		d.ref = Ref{}
	}
	d.keys = nil
	d.elems = nil
	return nil
}

func (d *Dict[T]) Freeze(target *Realm) (*Dict[T], bool, error) {
	return d.resolveAt(target)
}

func (d *Dict[T]) Thaw(live *Realm) (*Dict[T], bool, error) {
	return d.resolveAt(live)
}

func (d *Dict[T]) resolveAt(target *Realm) (*Dict[T], bool, error) {
	if !d.managed {
		return nil, false, unsupportedErr("freezing or thawing")
	}
	if err := d.ref.checkClosed(d.entity); err != nil {
		return nil, false, err
	}
	ref, ok, err := d.ref.resolveAt(target)
	if err != nil || !ok {
		return nil, false, err
	}
	return d.rebindTo(ref), true, nil
}

func (d *Dict[T]) rebindTo(ref Ref) *Dict[T] {
	return &Dict[T]{entity: d.entity, decl: d.decl, op: d.op, managed: true, ref: ref}
}

func (d *Dict[T]) Observe(ctx context.Context, buffer int) (<-chan Change[*Dict[T]], error) {
	if !d.managed {
		return nil, unsupportedErr("observing an unmanaged dictionary")
	}
	return observeHandle(ctx, d.ref, d.entity, buffer,
		func(ref Ref) *Dict[T] { return d.rebindTo(ref) },
		func() *Dict[T] { return &Dict[T]{entity: d.entity, decl: d.decl, op: d.op} })
}

func (d *Dict[T]) importInto(tx *Tx, coll engine.CollKey, pol UpdatePolicy, cache ImportCache) error {
	for _, key := range d.keys {
		v := d.elems[key]
		if d.op.embedded() {
			child, _, err := tx.etx.DictPutEmbedded(coll, key)
			if err != nil {
				return engineErr(err, "could not extend %s", d.entity)
			}
			if err := d.op.copyInto(tx, child, v); err != nil {
				return err
			}
			continue
		}
		ev, err := d.op.writeValue(tx, v, pol, cache)
		if err != nil {
			return err
		}
		if _, _, err := tx.etx.DictPut(coll, key, ev); err != nil {
			return engineErr(err, "could not extend %s", d.entity)
		}
	}
	return nil
}
