package odb

import (
	"fmt"
	"strings"

	"github.com/vireolabs/odb/engine"
)

// Schema declares the classes an application stores. Build one with the
// Add* functions at init time, then pass it to Open; schemas are immutable
// afterwards. Bump the version (and supply a migration) whenever the
// declarations change.
type Schema struct {
	version       uint64
	classes       []*Class
	classesByName map[string]*Class
}

func NewSchema(version uint64) *Schema {
	return &Schema{
		version:       version,
		classesByName: make(map[string]*Class),
	}
}

func (scm *Schema) Version() uint64 { return scm.version }

func (scm *Schema) Classes() []*Class {
	return append([]*Class(nil), scm.classes...)
}

func (scm *Schema) ClassNamed(name string) *Class {
	return scm.classesByName[strings.ToLower(name)]
}

type Class struct {
	schema   *Schema
	id       engine.ClassID
	name     string
	embedded bool

	props       []*propDecl
	propsByName map[string]*propDecl
	keyProp     *propDecl
}

func (cls *Class) Name() string     { return cls.name }
func (cls *Class) IsEmbedded() bool { return cls.embedded }

// propDecl is the untyped core of a property declaration; the typed Prop /
// ListProp / ... handles wrap it with the element converter.
type propDecl struct {
	class  *Class
	id     engine.PropID
	name   string
	shape  engine.Shape
	kind   engine.Kind
	target *Class
	key    bool
}

func (pd *propDecl) String() string {
	return pd.class.name + "." + pd.name
}

func AddClass(scm *Schema, name string) *Class {
	return addClass(scm, name, false)
}

// AddEmbeddedClass declares a class whose objects live in exactly one parent
// slot and die with it. Embedded objects cannot be created standalone or
// shared between parents.
func AddEmbeddedClass(scm *Schema, name string) *Class {
	return addClass(scm, name, true)
}

func addClass(scm *Schema, name string, embedded bool) *Class {
	if name == "" {
		panic("class name missing")
	}
	lower := strings.ToLower(name)
	if scm.classesByName[lower] != nil {
		panic(fmt.Errorf("class %s already defined", name))
	}
	cls := &Class{
		schema:      scm,
		id:          engine.ClassID(len(scm.classes) + 1),
		name:        name,
		embedded:    embedded,
		propsByName: make(map[string]*propDecl),
	}
	scm.classes = append(scm.classes, cls)
	scm.classesByName[lower] = cls
	return cls
}

func (cls *Class) addProp(name string, shape engine.Shape, kind engine.Kind, target *Class) *propDecl {
	if name == "" {
		panic("property name missing")
	}
	lower := strings.ToLower(name)
	if cls.propsByName[lower] != nil {
		panic(fmt.Errorf("class %s already has property %s", cls.name, name))
	}
	pd := &propDecl{
		class:  cls,
		id:     engine.PropID(len(cls.props) + 1),
		name:   name,
		shape:  shape,
		kind:   kind,
		target: target,
	}
	cls.props = append(cls.props, pd)
	cls.propsByName[lower] = pd
	return pd
}

// Prop is a typed scalar property handle.
type Prop[T any] struct {
	decl *propDecl
	conv Converter[T]
}

func (p *Prop[T]) Name() string { return p.decl.name }

func AddProp[T any](cls *Class, name string) *Prop[T] {
	pd := cls.addProp(name, engine.ShapeScalar, kindFor[T](), nil)
	return &Prop[T]{decl: pd, conv: converterFor[T]()}
}

// AddKeyProp declares the class's primary key property; at most one per
// class. The key drives the import update policy.
func AddKeyProp[T any](cls *Class, name string) *Prop[T] {
	if cls.keyProp != nil {
		panic(fmt.Errorf("class %s already has key property %s", cls.name, cls.keyProp.name))
	}
	p := AddProp[T](cls, name)
	p.decl.key = true
	cls.keyProp = p.decl
	return p
}

// LinkProp is a scalar property referencing another (possibly embedded)
// class.
type LinkProp struct {
	decl *propDecl
}

func (p *LinkProp) Name() string { return p.decl.name }

func AddLinkProp(cls *Class, name string, target *Class) *LinkProp {
	pd := cls.addProp(name, engine.ShapeScalar, engine.KindLink, target)
	return &LinkProp{decl: pd}
}

// ListProp is a typed list-of-scalars property handle.
type ListProp[T any] struct {
	decl *propDecl
	conv Converter[T]
}

func (p *ListProp[T]) Name() string { return p.decl.name }

func AddListProp[T any](cls *Class, name string) *ListProp[T] {
	pd := cls.addProp(name, engine.ShapeList, kindFor[T](), nil)
	return &ListProp[T]{decl: pd, conv: converterFor[T]()}
}

// ObjectListProp is a list-of-objects property handle. When the target class
// is embedded, collections built from it bind the embedded operator.
type ObjectListProp struct {
	decl *propDecl
}

func (p *ObjectListProp) Name() string { return p.decl.name }

func AddObjectListProp(cls *Class, name string, target *Class) *ObjectListProp {
	pd := cls.addProp(name, engine.ShapeList, engine.KindLink, target)
	return &ObjectListProp{decl: pd}
}

type SetProp[T any] struct {
	decl *propDecl
	conv Converter[T]
}

func (p *SetProp[T]) Name() string { return p.decl.name }

func AddSetProp[T any](cls *Class, name string) *SetProp[T] {
	pd := cls.addProp(name, engine.ShapeSet, kindFor[T](), nil)
	return &SetProp[T]{decl: pd, conv: converterFor[T]()}
}

// ObjectSetProp holds references to top-level objects. Embedded classes are
// rejected: an embedded object has exactly one parent slot, and set
// membership semantics cannot provide one.
type ObjectSetProp struct {
	decl *propDecl
}

func (p *ObjectSetProp) Name() string { return p.decl.name }

func AddObjectSetProp(cls *Class, name string, target *Class) *ObjectSetProp {
	if target.embedded {
		panic(fmt.Errorf("class %s: sets cannot hold embedded class %s", cls.name, target.name))
	}
	pd := cls.addProp(name, engine.ShapeSet, engine.KindLink, target)
	return &ObjectSetProp{decl: pd}
}

type DictProp[T any] struct {
	decl *propDecl
	conv Converter[T]
}

func (p *DictProp[T]) Name() string { return p.decl.name }

func AddDictProp[T any](cls *Class, name string) *DictProp[T] {
	pd := cls.addProp(name, engine.ShapeDict, kindFor[T](), nil)
	return &DictProp[T]{decl: pd, conv: converterFor[T]()}
}

type ObjectDictProp struct {
	decl *propDecl
}

func (p *ObjectDictProp) Name() string { return p.decl.name }

func AddObjectDictProp(cls *Class, name string, target *Class) *ObjectDictProp {
	pd := cls.addProp(name, engine.ShapeDict, engine.KindLink, target)
	return &ObjectDictProp{decl: pd}
}

// compile lowers the declared schema to the engine's catalog format.
func (scm *Schema) compile() *engine.Meta {
	meta := &engine.Meta{SchemaVersion: scm.version}
	for _, cls := range scm.classes {
		cm := &engine.ClassMeta{
			ID:       cls.id,
			Name:     cls.name,
			Embedded: cls.embedded,
		}
		for _, pd := range cls.props {
			pm := &engine.PropMeta{
				ID:    pd.id,
				Name:  pd.name,
				Shape: pd.shape,
				Kind:  pd.kind,
				Key:   pd.key,
			}
			if pd.target != nil {
				pm.Target = pd.target.id
			}
			cm.Props = append(cm.Props, pm)
		}
		meta.Classes = append(meta.Classes, cm)
	}
	return meta
}

func (scm *Schema) classByID(id engine.ClassID) *Class {
	if int(id) >= 1 && int(id) <= len(scm.classes) {
		return scm.classes[id-1]
	}
	return nil
}
