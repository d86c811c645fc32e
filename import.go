package odb

import (
	"github.com/vireolabs/odb/engine"
)

// UpdatePolicy controls what Import does when an object with the same key
// property value already exists.
type UpdatePolicy int

const (
	// UpdatePolicyError fails the import on a key collision.
	UpdatePolicyError UpdatePolicy = iota
	// UpdatePolicyAll updates every property of the existing object.
	UpdatePolicyAll
)

// ImportCache deduplicates objects across a single import of a graph, so
// that shared (and cyclic) references come out shared in the store.
type ImportCache struct {
	byObject map[*Object]engine.ObjKey
	byKey    map[engine.ObjKey]engine.ObjKey
}

func newImportCache() ImportCache {
	return ImportCache{
		byObject: make(map[*Object]engine.ObjKey),
		byKey:    make(map[engine.ObjKey]engine.ObjKey),
	}
}

// importable is implemented by unmanaged collection containers.
type importable interface {
	importInto(tx *Tx, coll engine.CollKey, pol UpdatePolicy, cache ImportCache) error
}

// Import copies an unmanaged object graph into the realm and returns the
// managed result. A managed object from the same live realm is returned
// as-is; a frozen or foreign managed object is deep-copied at its version.
func (tx *Tx) Import(src *Object, pol UpdatePolicy) (*Object, error) {
	if tx.etx == nil {
		return nil, engineErr(engine.ErrNoWriteTx, "could not import %s", src.cls.name)
	}
	key, err := tx.importObject(src, pol, newImportCache())
	if err != nil {
		return nil, err
	}
	return newManagedObject(tx.realm, src.cls, key), nil
}

func (tx *Tx) importObject(src *Object, pol UpdatePolicy, cache ImportCache) (engine.ObjKey, error) {
	if src == nil {
		panic("odb: cannot import a nil object")
	}
	if src.cls.embedded {
		return engine.ObjKey{}, opErrf(engine.ErrEmbedded, "cannot import embedded class %s on its own", src.cls.name)
	}
	if src.managed {
		if err := src.ref.checkClosed("object"); err != nil {
			return engine.ObjKey{}, err
		}
		if src.ref.realm.eng == tx.realm.eng && !src.ref.realm.frozen {
			return src.ref.obj, nil
		}
		if k, ok := cache.byKey[src.ref.obj]; ok {
			return k, nil
		}
		dst, err := tx.matchOrCreate(src, pol)
		if err != nil {
			return engine.ObjKey{}, err
		}
		cache.byKey[src.ref.obj] = dst
		if err := tx.copyFieldsInto(dst, src.cls, src, pol, cache); err != nil {
			return engine.ObjKey{}, err
		}
		return dst, nil
	}
	if k, ok := cache.byObject[src]; ok {
		return k, nil
	}
	dst, err := tx.matchOrCreate(src, pol)
	if err != nil {
		return engine.ObjKey{}, err
	}
	cache.byObject[src] = dst
	if err := tx.copyFieldsInto(dst, src.cls, src, pol, cache); err != nil {
		return engine.ObjKey{}, err
	}
	return dst, nil
}

// matchOrCreate finds an existing object with the source's key property
// value, or creates a fresh one.
func (tx *Tx) matchOrCreate(src *Object, pol UpdatePolicy) (engine.ObjKey, error) {
	cls := src.cls
	if kp := cls.keyProp; kp != nil {
		kv, ok, err := tx.keyValueOf(src, kp)
		if err != nil {
			return engine.ObjKey{}, err
		}
		if ok {
			if existing, found := tx.etx.View().FindByKeyProp(cls.id, kp.id, kv); found {
				if pol == UpdatePolicyError {
					return engine.ObjKey{}, opErrf(engine.ErrKeyExists, "an object of %s with the same %s already exists", cls.name, kp.name)
				}
				return existing, nil
			}
		}
	}
	key, err := tx.etx.CreateObject(cls.id)
	if err != nil {
		return engine.ObjKey{}, engineErr(err, "could not create %s", cls.name)
	}
	return key, nil
}

func (tx *Tx) keyValueOf(src *Object, kp *propDecl) (engine.Value, bool, error) {
	if src.managed {
		vw, err := src.ref.view()
		if err != nil {
			return engine.Value{}, false, err
		}
		v, err := vw.GetScalar(src.ref.obj, kp.id)
		if err != nil {
			return engine.Value{}, false, engineErr(err, "could not read property %s", kp)
		}
		return v, !v.IsNull(), nil
	}
	raw, ok := src.fields[kp.id]
	if !ok {
		return engine.Value{}, false, nil
	}
	return raw.(engine.Value), true, nil
}

func (tx *Tx) copyFieldsInto(dst engine.ObjKey, cls *Class, src *Object, pol UpdatePolicy, cache ImportCache) error {
	if src.managed {
		return tx.copyManagedFields(dst, cls, src, pol, cache)
	}
	for _, pd := range cls.props {
		raw, ok := src.fields[pd.id]
		if !ok {
			continue
		}
		coll := engine.CollKey{Obj: dst, Prop: pd.id}
		switch pd.shape {
		case engine.ShapeScalar:
			if pd.kind == engine.KindLink {
				child, _ := raw.(*Object)
				if err := tx.importLinkScalar(dst, pd, child, pol, cache); err != nil {
					return err
				}
			} else if err := tx.etx.SetScalar(dst, pd.id, raw.(engine.Value)); err != nil {
				return engineErr(err, "could not set property %s", pd)
			}
		default:
			if err := tx.clearCollection(pd, coll); err != nil {
				return err
			}
			if err := raw.(importable).importInto(tx, coll, pol, cache); err != nil {
				return err
			}
		}
	}
	return nil
}

// clearCollection empties a destination collection before an import refills
// it, so that updating an existing object replaces contents rather than
// appending. No-op (and no journal entry) when already empty.
func (tx *Tx) clearCollection(pd *propDecl, coll engine.CollKey) error {
	vw := tx.etx.View()
	var err error
	switch pd.shape {
	case engine.ShapeList:
		if n, _ := vw.ListLen(coll); n > 0 {
			err = tx.etx.ListClear(coll)
		}
	case engine.ShapeSet:
		if n, _ := vw.SetLen(coll); n > 0 {
			err = tx.etx.SetClear(coll)
		}
	case engine.ShapeDict:
		if n, _ := vw.DictLen(coll); n > 0 {
			err = tx.etx.DictClear(coll)
		}
	}
	if err != nil {
		return engineErr(err, "could not clear property %s", pd)
	}
	return nil
}

func (tx *Tx) importLinkScalar(dst engine.ObjKey, pd *propDecl, child *Object, pol UpdatePolicy, cache ImportCache) error {
	if child == nil {
		if err := tx.etx.SetScalar(dst, pd.id, engine.Null()); err != nil {
			return engineErr(err, "could not set property %s", pd)
		}
		return nil
	}
	if pd.target.embedded {
		ck, err := tx.etx.SetScalarEmbedded(dst, pd.id)
		if err != nil {
			return engineErr(err, "could not set property %s", pd)
		}
		return tx.copyFieldsInto(ck, pd.target, child, pol, cache)
	}
	k, err := tx.importObject(child, pol, cache)
	if err != nil {
		return err
	}
	if err := tx.etx.SetScalar(dst, pd.id, engine.Link(k)); err != nil {
		return engineErr(err, "could not set property %s", pd)
	}
	return nil
}

// copyManagedFields deep-copies a managed object's contents at its realm's
// version, re-importing any linked objects.
func (tx *Tx) copyManagedFields(dst engine.ObjKey, cls *Class, src *Object, pol UpdatePolicy, cache ImportCache) error {
	vw, err := src.ref.view()
	if err != nil {
		return err
	}
	srcKey := src.ref.obj
	childAt := func(target *Class, key engine.ObjKey) *Object {
		return newManagedObject(src.ref.realm, target, key)
	}
	for _, pd := range cls.props {
		srcColl := engine.CollKey{Obj: srcKey, Prop: pd.id}
		dstColl := engine.CollKey{Obj: dst, Prop: pd.id}
		switch pd.shape {
		case engine.ShapeScalar:
			v, err := vw.GetScalar(srcKey, pd.id)
			if err != nil {
				return engineErr(err, "could not read property %s", pd)
			}
			if v.Kind == engine.KindLink {
				if err := tx.importLinkScalar(dst, pd, childAt(pd.target, v.Obj), pol, cache); err != nil {
					return err
				}
			} else if err := tx.etx.SetScalar(dst, pd.id, v); err != nil {
				return engineErr(err, "could not set property %s", pd)
			}
		case engine.ShapeList:
			if err := tx.clearCollection(pd, dstColl); err != nil {
				return err
			}
			n, err := vw.ListLen(srcColl)
			if err != nil {
				return engineErr(err, "could not read property %s", pd)
			}
			for i := 0; i < n; i++ {
				v, err := vw.ListGet(srcColl, i)
				if err != nil {
					return engineErr(err, "could not read property %s", pd)
				}
				if v.Kind == engine.KindLink && pd.target != nil && pd.target.embedded {
					ck, err := tx.etx.ListInsertEmbedded(dstColl, i)
					if err != nil {
						return engineErr(err, "could not extend property %s", pd)
					}
					if err := tx.copyFieldsInto(ck, pd.target, childAt(pd.target, v.Obj), pol, cache); err != nil {
						return err
					}
					continue
				}
				if v.Kind == engine.KindLink {
					k, err := tx.importObject(childAt(pd.target, v.Obj), pol, cache)
					if err != nil {
						return err
					}
					v = engine.Link(k)
				}
				if err := tx.etx.ListInsert(dstColl, i, v); err != nil {
					return engineErr(err, "could not extend property %s", pd)
				}
			}
		case engine.ShapeSet:
			if err := tx.clearCollection(pd, dstColl); err != nil {
				return err
			}
			values, err := vw.SetValues(srcColl)
			if err != nil {
				return engineErr(err, "could not read property %s", pd)
			}
			for _, v := range values {
				if v.Kind == engine.KindLink {
					k, err := tx.importObject(childAt(pd.target, v.Obj), pol, cache)
					if err != nil {
						return err
					}
					v = engine.Link(k)
				}
				if _, err := tx.etx.SetAdd(dstColl, v); err != nil {
					return engineErr(err, "could not extend property %s", pd)
				}
			}
		case engine.ShapeDict:
			if err := tx.clearCollection(pd, dstColl); err != nil {
				return err
			}
			n, err := vw.DictLen(srcColl)
			if err != nil {
				return engineErr(err, "could not read property %s", pd)
			}
			for i := 0; i < n; i++ {
				e, err := vw.DictEntryAt(srcColl, i)
				if err != nil {
					return engineErr(err, "could not read property %s", pd)
				}
				v := e.Val
				if v.Kind == engine.KindLink && pd.target != nil && pd.target.embedded {
					ck, _, err := tx.etx.DictPutEmbedded(dstColl, e.Key)
					if err != nil {
						return engineErr(err, "could not extend property %s", pd)
					}
					if err := tx.copyFieldsInto(ck, pd.target, childAt(pd.target, v.Obj), pol, cache); err != nil {
						return err
					}
					continue
				}
				if v.Kind == engine.KindLink {
					k, err := tx.importObject(childAt(pd.target, v.Obj), pol, cache)
					if err != nil {
						return err
					}
					v = engine.Link(k)
				}
				if _, _, err := tx.etx.DictPut(dstColl, e.Key, v); err != nil {
					return engineErr(err, "could not extend property %s", pd)
				}
			}
		}
	}
	return nil
}
