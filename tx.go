package odb

import (
	"github.com/vireolabs/odb/engine"
)

// Tx is the handle passed to Realm.Write and Realm.Read callbacks. All
// mutations of managed objects happen through (or in the presence of) a
// write Tx; it is only valid for the duration of the callback. Read
// transactions see a consistent version but reject mutation.
type Tx struct {
	realm *Realm
	etx   *engine.Tx // nil in read transactions
	gid   uint64     // the writing goroutine; only its reads see uncommitted state
}

func (tx *Tx) Realm() *Realm { return tx.realm }

func (tx *Tx) view() *engine.View {
	if tx.etx != nil {
		return tx.etx.View()
	}
	vw, err := Ref{realm: tx.realm}.view()
	if err != nil {
		return nil
	}
	return vw
}

// Create adds a new empty object of the given class. Embedded classes cannot
// be created standalone.
func (tx *Tx) Create(cls *Class) (*Object, error) {
	if tx.etx == nil {
		return nil, engineErr(engine.ErrNoWriteTx, "could not create %s", cls.name)
	}
	key, err := tx.etx.CreateObject(cls.id)
	if err != nil {
		return nil, engineErr(err, "could not create %s", cls.name)
	}
	return newManagedObject(tx.realm, cls, key), nil
}

// Delete removes a managed object and, recursively, all embedded objects it
// owns.
func (tx *Tx) Delete(obj *Object) error {
	if !obj.managed {
		return unsupportedErr("deleting an unmanaged object")
	}
	if err := obj.ref.checkClosed("object"); err != nil {
		return err
	}
	if tx.etx == nil {
		return engineErr(engine.ErrNoWriteTx, "could not delete %s", obj.cls.name)
	}
	if err := tx.etx.DeleteObject(obj.ref.obj); err != nil {
		return engineErr(err, "could not delete %s", obj.cls.name)
	}
	return nil
}

// Objects returns every object of the given class at the transaction's
// working version.
func (tx *Tx) Objects(cls *Class) []*Object {
	vw := tx.view()
	if vw == nil {
		return nil
	}
	keys := vw.ObjectsOf(cls.id)
	out := make([]*Object, len(keys))
	for i, k := range keys {
		out[i] = newManagedObject(tx.realm, cls, k)
	}
	return out
}

// Find looks an object up by its key property value.
func Find[T any](tx *Tx, cls *Class, p *Prop[T], value T) (*Object, bool) {
	if p.decl.class != cls || !p.decl.key {
		panic("odb: Find requires the class's key property")
	}
	vw := tx.view()
	if vw == nil {
		return nil, false
	}
	key, ok := vw.FindByKeyProp(cls.id, p.decl.id, p.conv.ToValue(value))
	if !ok {
		return nil, false
	}
	return newManagedObject(tx.realm, cls, key), true
}
