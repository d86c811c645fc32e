package odb

import (
	"github.com/vireolabs/odb/engine"
)

// elemOperator adapts one element type to the engine's value model. Each
// collection handle is bound to one operator at construction: primitive
// elements use a converter, object elements translate links, and embedded
// elements copy payloads into engine-owned children.
type elemOperator[T any] interface {
	fromValue(realm *Realm, v engine.Value) T

	// lookupValue converts an element for comparisons and containment
	// checks; ok is false when the element has no stored representation
	// (an unmanaged object that was never imported matches nothing).
	lookupValue(v T) (engine.Value, bool)

	// writeValue prepares an element for storing, importing linked objects
	// as needed. Not used for embedded elements.
	writeValue(tx *Tx, v T, pol UpdatePolicy, cache ImportCache) (engine.Value, error)

	embedded() bool

	// copyInto fills a freshly created embedded child from the element.
	copyInto(tx *Tx, child engine.ObjKey, v T) error
}

type primitiveOperator[T any] struct {
	conv Converter[T]
}

func (op primitiveOperator[T]) fromValue(_ *Realm, v engine.Value) T {
	var zero T
	if v.IsNull() {
		return zero
	}
	return op.conv.FromValue(v)
}

func (op primitiveOperator[T]) lookupValue(v T) (engine.Value, bool) {
	return op.conv.ToValue(v), true
}

func (op primitiveOperator[T]) writeValue(_ *Tx, v T, _ UpdatePolicy, _ ImportCache) (engine.Value, error) {
	return op.conv.ToValue(v), nil
}

func (op primitiveOperator[T]) embedded() bool { return false }

func (op primitiveOperator[T]) copyInto(*Tx, engine.ObjKey, T) error {
	panic("odb: primitive elements are not embedded")
}

type objectOperator struct {
	target *Class
}

func (op objectOperator) fromValue(realm *Realm, v engine.Value) *Object {
	if v.Kind != engine.KindLink {
		return nil
	}
	return newManagedObject(realm, op.target, v.Obj)
}

func (op objectOperator) lookupValue(v *Object) (engine.Value, bool) {
	if v == nil || !v.managed {
		return engine.Value{}, false
	}
	return engine.Link(v.ref.obj), true
}

func (op objectOperator) writeValue(tx *Tx, v *Object, pol UpdatePolicy, cache ImportCache) (engine.Value, error) {
	if v == nil {
		return engine.Null(), nil
	}
	key, err := tx.importObject(v, pol, cache)
	if err != nil {
		return engine.Value{}, err
	}
	return engine.Link(key), nil
}

func (op objectOperator) embedded() bool { return false }

func (op objectOperator) copyInto(*Tx, engine.ObjKey, *Object) error {
	panic("odb: object elements are not embedded")
}

type embeddedOperator struct {
	target *Class
}

func (op embeddedOperator) fromValue(realm *Realm, v engine.Value) *Object {
	if v.Kind != engine.KindLink {
		return nil
	}
	return newManagedObject(realm, op.target, v.Obj)
}

func (op embeddedOperator) lookupValue(v *Object) (engine.Value, bool) {
	if v == nil || !v.managed {
		return engine.Value{}, false
	}
	return engine.Link(v.ref.obj), true
}

func (op embeddedOperator) writeValue(*Tx, *Object, UpdatePolicy, ImportCache) (engine.Value, error) {
	panic("odb: embedded elements are stored through their parent slot")
}

func (op embeddedOperator) embedded() bool { return true }

func (op embeddedOperator) copyInto(tx *Tx, child engine.ObjKey, v *Object) error {
	if v == nil {
		return nil
	}
	return tx.copyFieldsInto(child, op.target, v, UpdatePolicyAll, newImportCache())
}
