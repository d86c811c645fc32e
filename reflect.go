package odb

import (
	"strings"

	"github.com/vireolabs/odb/engine"
)

// Catalog is a read-only description of a stored schema: what classes and
// properties exist, independent of the typed declarations compiled into the
// program. Migrations receive the before and after catalogs; CatalogOf
// exposes the one a realm currently runs with.
type Catalog struct {
	version uint64
	classes []*ClassInfo
	byName  map[string]*ClassInfo
}

func (cat *Catalog) Version() uint64 { return cat.version }

func (cat *Catalog) Classes() []*ClassInfo {
	return append([]*ClassInfo(nil), cat.classes...)
}

func (cat *Catalog) Class(name string) (*ClassInfo, error) {
	ci := cat.byName[strings.ToLower(name)]
	if ci == nil {
		return nil, argErrf("unknown class %s", name)
	}
	return ci, nil
}

type ClassInfo struct {
	id       engine.ClassID
	name     string
	embedded bool
	props    []*PropInfo
	byName   map[string]*PropInfo
}

func (ci *ClassInfo) Name() string     { return ci.name }
func (ci *ClassInfo) IsEmbedded() bool { return ci.embedded }

func (ci *ClassInfo) Props() []*PropInfo {
	return append([]*PropInfo(nil), ci.props...)
}

func (ci *ClassInfo) Prop(name string) (*PropInfo, error) {
	pi := ci.byName[strings.ToLower(name)]
	if pi == nil {
		return nil, argErrf("class %s has no property %s", ci.name, name)
	}
	return pi, nil
}

type PropInfo struct {
	id     engine.PropID
	name   string
	shape  engine.Shape
	kind   engine.Kind
	key    bool
	target engine.ClassID
}

func (pi *PropInfo) Name() string        { return pi.name }
func (pi *PropInfo) Shape() engine.Shape { return pi.shape }
func (pi *PropInfo) Kind() engine.Kind   { return pi.kind }
func (pi *PropInfo) IsKey() bool         { return pi.key }

func catalogFromMeta(meta *engine.Meta) *Catalog {
	cat := &Catalog{
		version: meta.SchemaVersion,
		byName:  make(map[string]*ClassInfo),
	}
	for _, cm := range meta.Classes {
		ci := &ClassInfo{
			id:       cm.ID,
			name:     cm.Name,
			embedded: cm.Embedded,
			byName:   make(map[string]*PropInfo),
		}
		for _, pm := range cm.Props {
			pi := &PropInfo{
				id:     pm.ID,
				name:   pm.Name,
				shape:  pm.Shape,
				kind:   pm.Kind,
				key:    pm.Key,
				target: pm.Target,
			}
			ci.props = append(ci.props, pi)
			ci.byName[strings.ToLower(pm.Name)] = pi
		}
		cat.classes = append(cat.classes, ci)
		cat.byName[strings.ToLower(cm.Name)] = ci
	}
	return cat
}

// CatalogOf describes the schema the realm's store currently carries.
func CatalogOf(r *Realm) (*Catalog, error) {
	if err := r.checkClosed("realm"); err != nil {
		return nil, err
	}
	meta := r.eng.Meta()
	if meta == nil {
		return nil, argErrf("store carries no schema")
	}
	return catalogFromMeta(meta), nil
}

// GetNamed reads a scalar property by name, without a typed handle. Values
// come back in storage representation: integers (including bools and
// timestamps) as int64, floats as float64, strings, byte slices, and links
// as objects. Absent values are nil.
func (obj *Object) GetNamed(prop string) (any, error) {
	pd := obj.cls.propsByName[strings.ToLower(prop)]
	if pd == nil {
		return nil, argErrf("class %s has no property %s", obj.cls.name, prop)
	}
	if pd.shape != engine.ShapeScalar {
		return nil, unsupportedErr("reading a collection property by name")
	}
	if !obj.managed {
		raw, ok := obj.field(pd.id)
		if !ok {
			return nil, nil
		}
		if pd.kind == engine.KindLink {
			return raw, nil
		}
		return anyFromValue(nil, pd, raw.(engine.Value)), nil
	}
	if err := obj.ref.checkClosed("object"); err != nil {
		return nil, err
	}
	vw, err := obj.ref.view()
	if err != nil {
		return nil, err
	}
	v, err := vw.GetScalar(obj.ref.obj, pd.id)
	if err != nil {
		return nil, engineErr(err, "could not read property %s", pd)
	}
	return anyFromValue(obj.ref.realm, pd, v), nil
}

// SetNamed writes a scalar property by name. Accepts the storage
// representation types that GetNamed returns; linking takes a managed or
// unmanaged object.
func SetNamed(tx *Tx, obj *Object, prop string, value any) error {
	pd := obj.cls.propsByName[strings.ToLower(prop)]
	if pd == nil {
		return argErrf("class %s has no property %s", obj.cls.name, prop)
	}
	if pd.shape != engine.ShapeScalar {
		return unsupportedErr("writing a collection property by name")
	}
	if pd.kind == engine.KindLink {
		child, ok := value.(*Object)
		if value != nil && !ok {
			return argErrf("property %s takes an object, not %T", pd, value)
		}
		return SetLink(tx, obj, &LinkProp{decl: pd}, child)
	}
	v, err := anyToValue(pd, value)
	if err != nil {
		return err
	}
	if !obj.managed {
		obj.setField(pd.id, v)
		return nil
	}
	if err := obj.ref.checkClosed("object"); err != nil {
		return err
	}
	etx, err := obj.ref.writeTx()
	if err != nil {
		return engineErr(err, "could not set property %s", pd)
	}
	if err := etx.SetScalar(obj.ref.obj, pd.id, v); err != nil {
		return engineErr(err, "could not set property %s", pd)
	}
	return nil
}

func anyFromValue(realm *Realm, pd *propDecl, v engine.Value) any {
	switch v.Kind {
	case engine.KindNull:
		return nil
	case engine.KindWord:
		return int64(v.Word)
	case engine.KindFloat:
		return v.Float()
	case engine.KindString:
		return v.Str
	case engine.KindBytes:
		return v.Bytes
	case engine.KindLink:
		if realm == nil || pd.target == nil {
			return nil
		}
		return newManagedObject(realm, pd.target, v.Obj)
	default:
		return nil
	}
}

func anyToValue(pd *propDecl, value any) (engine.Value, error) {
	if value == nil {
		return engine.Null(), nil
	}
	switch x := value.(type) {
	case bool:
		if x {
			return engine.Word(1), nil
		}
		return engine.Word(0), nil
	case int:
		return engine.Word(uint64(int64(x))), nil
	case int64:
		return engine.Word(uint64(x)), nil
	case uint64:
		return engine.Word(x), nil
	case float64:
		return engine.Float(x), nil
	case string:
		return engine.Str(x), nil
	case []byte:
		return engine.Blob(x), nil
	default:
		return engine.Value{}, argErrf("property %s cannot take a %T", pd, value)
	}
}
