package odb

import (
	"fmt"

	"github.com/vireolabs/odb/engine"
)

// Object is a database object: either managed (a versioned reference into an
// open realm) or unmanaged (a plain in-memory value holder, typically built
// up for a later import). Unmanaged objects never observe or persist
// anything.
type Object struct {
	cls     *Class
	managed bool

	ref Ref

	// Unmanaged storage, keyed by property: scalars hold engine.Value,
	// links hold *Object, collections hold their container.
	fields map[engine.PropID]any
}

// NewObject creates an unmanaged object of the given class.
func NewObject(cls *Class) *Object {
	return &Object{cls: cls}
}

func newManagedObject(realm *Realm, cls *Class, key engine.ObjKey) *Object {
	return &Object{
		cls:     cls,
		managed: true,
		ref:     Ref{realm: realm, obj: key},
	}
}

func (obj *Object) Class() *Class    { return obj.cls }
func (obj *Object) IsManaged() bool  { return obj.managed }

// Realm returns the owning realm, or nil for unmanaged objects.
func (obj *Object) Realm() *Realm {
	if !obj.managed {
		return nil
	}
	return obj.ref.realm
}

// IsValid reports whether a managed object still resolves at its realm's
// version. Unmanaged objects are always valid.
func (obj *Object) IsValid() bool {
	if !obj.managed {
		return true
	}
	if obj.ref.checkClosed("object") != nil {
		return false
	}
	vw, err := obj.ref.view()
	if err != nil {
		return false
	}
	return vw.ObjectExists(obj.ref.obj)
}

// Freeze resolves this object against the target frozen realm's version.
// Returns false if the object no longer exists there.
func (obj *Object) Freeze(target *Realm) (*Object, bool, error) {
	return obj.resolveAt(target)
}

// Thaw resolves this object back onto a live realm's latest version.
func (obj *Object) Thaw(live *Realm) (*Object, bool, error) {
	return obj.resolveAt(live)
}

func (obj *Object) resolveAt(target *Realm) (*Object, bool, error) {
	if !obj.managed {
		return nil, false, unsupportedErr("freezing or thawing")
	}
	if err := obj.ref.checkClosed("object"); err != nil {
		return nil, false, err
	}
	ref, ok, err := obj.ref.resolveAt(target)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Object{cls: obj.cls, managed: true, ref: ref}, true, nil
}

func (obj *Object) field(id engine.PropID) (any, bool) {
	v, ok := obj.fields[id]
	return v, ok
}

func (obj *Object) setField(id engine.PropID, v any) {
	if obj.fields == nil {
		obj.fields = make(map[engine.PropID]any)
	}
	obj.fields[id] = v
}

func (obj *Object) mustOwn(pd *propDecl) {
	if pd.class != obj.cls {
		panic(fmt.Errorf("odb: property %s does not belong to class %s", pd, obj.cls.name))
	}
}

// Get reads a scalar property.
func Get[T any](obj *Object, p *Prop[T]) (T, error) {
	var zero T
	obj.mustOwn(p.decl)
	if !obj.managed {
		if raw, ok := obj.field(p.decl.id); ok {
			return p.conv.FromValue(raw.(engine.Value)), nil
		}
		return zero, nil
	}
	if err := obj.ref.checkClosed("object"); err != nil {
		return zero, err
	}
	vw, err := obj.ref.view()
	if err != nil {
		return zero, err
	}
	v, err := vw.GetScalar(obj.ref.obj, p.decl.id)
	if err != nil {
		return zero, engineErr(err, "could not read property %s", p.decl)
	}
	if v.IsNull() {
		return zero, nil
	}
	return p.conv.FromValue(v), nil
}

// SetValue writes a scalar property. Managed objects require an open write
// transaction on their realm.
func SetValue[T any](obj *Object, p *Prop[T], value T) error {
	obj.mustOwn(p.decl)
	if !obj.managed {
		obj.setField(p.decl.id, p.conv.ToValue(value))
		return nil
	}
	if err := obj.ref.checkClosed("object"); err != nil {
		return err
	}
	etx, err := obj.ref.writeTx()
	if err != nil {
		return engineErr(err, "could not set property %s", p.decl)
	}
	if err := etx.SetScalar(obj.ref.obj, p.decl.id, p.conv.ToValue(value)); err != nil {
		return engineErr(err, "could not set property %s", p.decl)
	}
	return nil
}

// GetLink reads an object-valued property; the second result is false when
// the slot is empty.
func GetLink(obj *Object, p *LinkProp) (*Object, bool, error) {
	obj.mustOwn(p.decl)
	if !obj.managed {
		if raw, ok := obj.field(p.decl.id); ok && raw != nil {
			return raw.(*Object), true, nil
		}
		return nil, false, nil
	}
	if err := obj.ref.checkClosed("object"); err != nil {
		return nil, false, err
	}
	vw, err := obj.ref.view()
	if err != nil {
		return nil, false, err
	}
	v, err := vw.GetScalar(obj.ref.obj, p.decl.id)
	if err != nil {
		return nil, false, engineErr(err, "could not read property %s", p.decl)
	}
	if v.Kind != engine.KindLink {
		return nil, false, nil
	}
	child := newManagedObject(obj.ref.realm, p.decl.target, v.Obj)
	return child, true, nil
}

// SetLink assigns an object-valued property. For embedded targets the value
// is always copied into a freshly created child (embedded objects have a
// single parent slot); for top-level targets, a managed value from the same
// live realm is linked directly and anything else is imported first.
func SetLink(tx *Tx, obj *Object, p *LinkProp, value *Object) error {
	obj.mustOwn(p.decl)
	if !obj.managed {
		obj.setField(p.decl.id, value)
		return nil
	}
	if err := obj.ref.checkClosed("object"); err != nil {
		return err
	}
	if tx == nil || tx.etx == nil {
		return engineErr(engine.ErrNoWriteTx, "could not set property %s", p.decl)
	}
	if p.decl.target.embedded {
		child, err := tx.etx.SetScalarEmbedded(obj.ref.obj, p.decl.id)
		if err != nil {
			return engineErr(err, "could not set property %s", p.decl)
		}
		if value != nil {
			if err := tx.copyFieldsInto(child, p.decl.target, value, UpdatePolicyAll, newImportCache()); err != nil {
				return err
			}
		}
		return nil
	}
	if value == nil {
		if err := tx.etx.SetScalar(obj.ref.obj, p.decl.id, engine.Null()); err != nil {
			return engineErr(err, "could not set property %s", p.decl)
		}
		return nil
	}
	key, err := tx.importObject(value, UpdatePolicyAll, newImportCache())
	if err != nil {
		return err
	}
	if err := tx.etx.SetScalar(obj.ref.obj, p.decl.id, engine.Link(key)); err != nil {
		return engineErr(err, "could not set property %s", p.decl)
	}
	return nil
}
