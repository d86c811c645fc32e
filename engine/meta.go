package engine

import "fmt"

type (
	ClassID uint32
	PropID  uint32
	ObjID   uint64
	Version uint64
)

// ObjKey identifies an object across all versions of the store.
type ObjKey struct {
	Class ClassID
	ID    ObjID
}

func (k ObjKey) IsZero() bool { return k == ObjKey{} }

func (k ObjKey) String() string {
	return fmt.Sprintf("obj(%d/%d)", k.Class, k.ID)
}

// CollKey identifies a collection-valued property of an object.
type CollKey struct {
	Obj  ObjKey
	Prop PropID
}

func (k CollKey) String() string {
	return fmt.Sprintf("coll(%d/%d.%d)", k.Obj.Class, k.Obj.ID, k.Prop)
}

// Shape says how a property stores its values.
type Shape uint8

const (
	ShapeScalar Shape = iota
	ShapeList
	ShapeSet
	ShapeDict
)

func (s Shape) String() string {
	switch s {
	case ShapeScalar:
		return "scalar"
	case ShapeList:
		return "list"
	case ShapeSet:
		return "set"
	case ShapeDict:
		return "dict"
	default:
		return fmt.Sprintf("invalid shape %d", int(s))
	}
}

// Meta is the engine-facing class catalog. The layer above compiles its
// declared schema down to a Meta; the engine persists it and serves it back
// for reflection. Meta values are immutable once handed to the engine.
type Meta struct {
	SchemaVersion uint64       `msgpack:"v"`
	Classes       []*ClassMeta `msgpack:"c"`
}

type ClassMeta struct {
	ID       ClassID     `msgpack:"i"`
	Name     string      `msgpack:"n"`
	Embedded bool        `msgpack:"e"`
	Props    []*PropMeta `msgpack:"p"`
}

type PropMeta struct {
	ID     PropID  `msgpack:"i"`
	Name   string  `msgpack:"n"`
	Shape  Shape   `msgpack:"s"`
	Kind   Kind    `msgpack:"k"`
	Target ClassID `msgpack:"t"` // for KindLink
	Key    bool    `msgpack:"pk"`
}

func (m *Meta) Class(id ClassID) *ClassMeta {
	for _, cm := range m.Classes {
		if cm.ID == id {
			return cm
		}
	}
	return nil
}

func (m *Meta) mustClass(id ClassID) *ClassMeta {
	cm := m.Class(id)
	if cm == nil {
		panic(fmt.Errorf("engine: unknown class %d", id))
	}
	return cm
}

func (cm *ClassMeta) Prop(id PropID) *PropMeta {
	for _, pm := range cm.Props {
		if pm.ID == id {
			return pm
		}
	}
	return nil
}

func (cm *ClassMeta) mustProp(id PropID) *PropMeta {
	pm := cm.Prop(id)
	if pm == nil {
		panic(fmt.Errorf("engine: class %s has no prop %d", cm.Name, id))
	}
	return pm
}

func (cm *ClassMeta) KeyProp() *PropMeta {
	for _, pm := range cm.Props {
		if pm.Key {
			return pm
		}
	}
	return nil
}
