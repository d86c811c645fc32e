package odb

import (
	"github.com/vireolabs/odb/engine"
)

// Ref is a versioned reference: an engine handle to an object or one of its
// collection properties, bound to the version its realm sees. Refs are plain
// values; freezing or thawing produces a new Ref and never mutates the
// original. A Ref is valid only while its realm is open, and every public
// operation checks that first, before touching any engine state.
type Ref struct {
	realm *Realm
	obj   engine.ObjKey
	prop  engine.PropID // 0 for object references
}

func (ref Ref) coll() engine.CollKey {
	return engine.CollKey{Obj: ref.obj, Prop: ref.prop}
}

func (ref Ref) checkClosed(entity string) error {
	if ref.realm == nil || ref.realm.IsClosed() {
		return closedErr(entity)
	}
	return nil
}

// view resolves the reference's version to a read view: the pinned snapshot
// for frozen realms, the writer's uncommitted state inside a write
// transaction, and the latest committed version otherwise.
func (ref Ref) view() (*engine.View, error) {
	r := ref.realm
	if r.frozen {
		vw, err := r.eng.At(r.version)
		if err != nil {
			return nil, closedErr("realm")
		}
		return vw, nil
	}
	// only the writing goroutine sees its own uncommitted state; everyone
	// else keeps reading the last committed version
	if tx := r.activeTx.Load(); tx != nil && tx.gid == goroutineID() {
		return tx.etx.View(), nil
	}
	vw, err := r.eng.CurrentView()
	if err != nil {
		return nil, closedErr("realm")
	}
	r.ReadCount.Add(1)
	return vw, nil
}

// writeTx returns the engine transaction mutations must go through. Frozen
// references reject mutation outright; live ones require an open write
// transaction.
func (ref Ref) writeTx() (*engine.Tx, error) {
	tx, err := ref.bindingTx()
	if err != nil {
		return nil, err
	}
	return tx.etx, nil
}

// bindingTx returns the open write transaction's binding handle, for
// operations that also need to import linked objects.
func (ref Ref) bindingTx() (*Tx, error) {
	r := ref.realm
	if r.frozen {
		return nil, engine.ErrFrozen
	}
	tx := r.activeTx.Load()
	if tx == nil || tx.gid != goroutineID() {
		return nil, engine.ErrNoWriteTx
	}
	return tx, nil
}

// resolveAt rebinds the reference onto target's version. Returns false if
// the underlying entity does not exist at that version (deleted, or not yet
// created); that is an absence, not an error.
func (ref Ref) resolveAt(target *Realm) (Ref, bool, error) {
	if err := target.checkClosed("realm"); err != nil {
		return Ref{}, false, err
	}
	vw, err := Ref{realm: target}.view()
	if err != nil {
		return Ref{}, false, err
	}
	if !vw.ObjectExists(ref.obj) {
		return Ref{}, false, nil
	}
	return Ref{realm: target, obj: ref.obj, prop: ref.prop}, true, nil
}
