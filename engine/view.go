package engine

import "slices"

// View is a read-only window onto one version of the store. Views over
// committed versions are safe for concurrent use; a view over a write
// transaction's working state is only meaningful on the writer goroutine.
type View struct {
	st *state
}

func (vw *View) Version() Version { return vw.st.version }
func (vw *View) Meta() *Meta      { return vw.st.meta }

// ObjectExists reports whether the object resolves at this version.
func (vw *View) ObjectExists(key ObjKey) bool {
	return vw.st.objects[key] != nil
}

func (vw *View) obj(key ObjKey) (*objState, error) {
	o := vw.st.objects[key]
	if o == nil {
		return nil, ErrAbsent
	}
	return o, nil
}

func (vw *View) GetScalar(key ObjKey, prop PropID) (Value, error) {
	o, err := vw.obj(key)
	if err != nil {
		return Value{}, err
	}
	return o.scalars[prop], nil
}

func (vw *View) ListLen(coll CollKey) (int, error) {
	o, err := vw.obj(coll.Obj)
	if err != nil {
		return 0, err
	}
	return len(o.lists[coll.Prop]), nil
}

func (vw *View) ListGet(coll CollKey, index int) (Value, error) {
	o, err := vw.obj(coll.Obj)
	if err != nil {
		return Value{}, err
	}
	elems := o.lists[coll.Prop]
	if index < 0 || index >= len(elems) {
		return Value{}, ErrIndex
	}
	return elems[index], nil
}

// ListIndexOf returns the first index holding v, or -1.
func (vw *View) ListIndexOf(coll CollKey, v Value) (int, error) {
	o, err := vw.obj(coll.Obj)
	if err != nil {
		return -1, err
	}
	for i, e := range o.lists[coll.Prop] {
		if e.Equal(v) {
			return i, nil
		}
	}
	return -1, nil
}

func (vw *View) SetLen(coll CollKey) (int, error) {
	o, err := vw.obj(coll.Obj)
	if err != nil {
		return 0, err
	}
	return len(o.sets[coll.Prop]), nil
}

func (vw *View) SetContains(coll CollKey, v Value) (bool, error) {
	o, err := vw.obj(coll.Obj)
	if err != nil {
		return false, err
	}
	_, found := setSearch(o.sets[coll.Prop], v)
	return found, nil
}

// SetValues returns the set's elements in canonical order.
func (vw *View) SetValues(coll CollKey) ([]Value, error) {
	o, err := vw.obj(coll.Obj)
	if err != nil {
		return nil, err
	}
	return slices.Clone(o.sets[coll.Prop]), nil
}

func (vw *View) SetGet(coll CollKey, index int) (Value, error) {
	o, err := vw.obj(coll.Obj)
	if err != nil {
		return Value{}, err
	}
	elems := o.sets[coll.Prop]
	if index < 0 || index >= len(elems) {
		return Value{}, ErrIndex
	}
	return elems[index], nil
}

func (vw *View) DictLen(coll CollKey) (int, error) {
	o, err := vw.obj(coll.Obj)
	if err != nil {
		return 0, err
	}
	return len(o.dicts[coll.Prop]), nil
}

func (vw *View) DictGet(coll CollKey, key string) (Value, bool, error) {
	o, err := vw.obj(coll.Obj)
	if err != nil {
		return Value{}, false, err
	}
	entries := o.dicts[coll.Prop]
	if i, found := dictSearch(entries, key); found {
		return entries[i].Val, true, nil
	}
	return Value{}, false, nil
}

// DictKeys returns the dictionary's keys in sorted order.
func (vw *View) DictKeys(coll CollKey) ([]string, error) {
	o, err := vw.obj(coll.Obj)
	if err != nil {
		return nil, err
	}
	entries := o.dicts[coll.Prop]
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys, nil
}

func (vw *View) DictEntryAt(coll CollKey, index int) (DictEntry, error) {
	o, err := vw.obj(coll.Obj)
	if err != nil {
		return DictEntry{}, err
	}
	entries := o.dicts[coll.Prop]
	if index < 0 || index >= len(entries) {
		return DictEntry{}, ErrIndex
	}
	return entries[index], nil
}

// ObjectsOf returns the keys of all objects of the given class, in ID order.
func (vw *View) ObjectsOf(class ClassID) []ObjKey {
	var keys []ObjKey
	for k := range vw.st.objects {
		if k.Class == class {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b ObjKey) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return keys
}

// FindByKeyProp locates the object of the given class whose key property
// holds v. Linear over the class; key lookups are not on any hot path here.
func (vw *View) FindByKeyProp(class ClassID, prop PropID, v Value) (ObjKey, bool) {
	for k, o := range vw.st.objects {
		if k.Class != class {
			continue
		}
		if o.scalars[prop].Equal(v) {
			return k, true
		}
	}
	return ObjKey{}, false
}
