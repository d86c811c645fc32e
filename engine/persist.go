package engine

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	metaBucketName    = "meta"
	objectsBucketName = "objects"
)

var (
	catalogKey = []byte("catalog")
	versionKey = []byte("version")
	lastIDKey  = []byte("lastid")
)

type persistedValue struct {
	K  uint8  `msgpack:"k"`
	W  uint64 `msgpack:"w,omitempty"`
	S  string `msgpack:"s,omitempty"`
	B  []byte `msgpack:"b,omitempty"`
	OC uint32 `msgpack:"oc,omitempty"`
	OI uint64 `msgpack:"oi,omitempty"`
}

type persistedEntry struct {
	K string         `msgpack:"k"`
	V persistedValue `msgpack:"v"`
}

type persistedObj struct {
	Scalars map[uint32]persistedValue    `msgpack:"s,omitempty"`
	Lists   map[uint32][]persistedValue  `msgpack:"l,omitempty"`
	Sets    map[uint32][]persistedValue  `msgpack:"t,omitempty"`
	Dicts   map[uint32][]persistedEntry  `msgpack:"d,omitempty"`
}

func packValue(v Value) persistedValue {
	return persistedValue{
		K:  uint8(v.Kind),
		W:  v.Word,
		S:  v.Str,
		B:  v.Bytes,
		OC: uint32(v.Obj.Class),
		OI: uint64(v.Obj.ID),
	}
}

func unpackValue(pv persistedValue) Value {
	return Value{
		Kind:  Kind(pv.K),
		Word:  pv.W,
		Str:   pv.S,
		Bytes: pv.B,
		Obj:   ObjKey{Class: ClassID(pv.OC), ID: ObjID(pv.OI)},
	}
}

// encodeScope holds the transient encode buffers for one persistence pass.
// It is acquired at the start of the pass and released after the storage
// transaction commits, and gets passed down explicitly rather than living in
// a shared global. Keys are sliced off a growing arena: bbolt retains key
// and value slices by reference until its transaction commits, so every key
// handed out within one pass must stay intact and distinct.
type encodeScope struct {
	keys []byte
}

var encodeScopePool = &sync.Pool{
	New: func() any {
		return &encodeScope{keys: make([]byte, 0, 16*objKeyLen)}
	},
}

func acquireEncodeScope() *encodeScope {
	return encodeScopePool.Get().(*encodeScope)
}

func (sc *encodeScope) release() {
	sc.keys = sc.keys[:0]
	encodeScopePool.Put(sc)
}

const objKeyLen = 12

func (sc *encodeScope) objKeyBytes(k ObjKey) []byte {
	var kb [objKeyLen]byte
	binary.BigEndian.PutUint32(kb[:], uint32(k.Class))
	binary.BigEndian.PutUint64(kb[4:], uint64(k.ID))
	n := len(sc.keys)
	// growing may move the arena; slices already handed out keep pointing
	// into the old backing array and stay valid
	sc.keys = append(sc.keys, kb[:]...)
	return sc.keys[n : n+objKeyLen : n+objKeyLen]
}

func decodeObjKey(raw []byte) (ObjKey, error) {
	if len(raw) != 12 {
		return ObjKey{}, fmt.Errorf("engine: malformed object key (%d bytes)", len(raw))
	}
	return ObjKey{
		Class: ClassID(binary.BigEndian.Uint32(raw)),
		ID:    ObjID(binary.BigEndian.Uint64(raw[4:])),
	}, nil
}

func saveObj(b storageBucket, sc *encodeScope, key ObjKey, o *objState) error {
	po := persistedObj{}
	if len(o.scalars) > 0 {
		po.Scalars = make(map[uint32]persistedValue, len(o.scalars))
		for p, v := range o.scalars {
			po.Scalars[uint32(p)] = packValue(v)
		}
	}
	if len(o.lists) > 0 {
		po.Lists = make(map[uint32][]persistedValue, len(o.lists))
		for p, vs := range o.lists {
			po.Lists[uint32(p)] = packValues(vs)
		}
	}
	if len(o.sets) > 0 {
		po.Sets = make(map[uint32][]persistedValue, len(o.sets))
		for p, vs := range o.sets {
			po.Sets[uint32(p)] = packValues(vs)
		}
	}
	if len(o.dicts) > 0 {
		po.Dicts = make(map[uint32][]persistedEntry, len(o.dicts))
		for p, es := range o.dicts {
			pes := make([]persistedEntry, len(es))
			for i, e := range es {
				pes[i] = persistedEntry{K: e.Key, V: packValue(e.Val)}
			}
			po.Dicts[uint32(p)] = pes
		}
	}
	raw, err := msgpack.Marshal(&po)
	if err != nil {
		return fmt.Errorf("engine: encoding %v: %w", key, err)
	}
	return b.Put(sc.objKeyBytes(key), raw)
}

func packValues(vs []Value) []persistedValue {
	pvs := make([]persistedValue, len(vs))
	for i, v := range vs {
		pvs[i] = packValue(v)
	}
	return pvs
}

func loadObj(raw []byte) (*objState, error) {
	var po persistedObj
	if err := msgpack.Unmarshal(raw, &po); err != nil {
		return nil, err
	}
	o := newObjState(0)
	if len(po.Scalars) > 0 {
		o.scalars = make(map[PropID]Value, len(po.Scalars))
		for p, pv := range po.Scalars {
			o.scalars[PropID(p)] = unpackValue(pv)
		}
	}
	if len(po.Lists) > 0 {
		o.lists = make(map[PropID][]Value, len(po.Lists))
		for p, pvs := range po.Lists {
			o.lists[PropID(p)] = unpackValues(pvs)
		}
	}
	if len(po.Sets) > 0 {
		o.sets = make(map[PropID][]Value, len(po.Sets))
		for p, pvs := range po.Sets {
			o.sets[PropID(p)] = unpackValues(pvs)
		}
	}
	if len(po.Dicts) > 0 {
		o.dicts = make(map[PropID][]DictEntry, len(po.Dicts))
		for p, pes := range po.Dicts {
			es := make([]DictEntry, len(pes))
			for i, pe := range pes {
				es[i] = DictEntry{Key: pe.K, Val: unpackValue(pe.V)}
			}
			o.dicts[PropID(p)] = es
		}
	}
	return o, nil
}

func unpackValues(pvs []persistedValue) []Value {
	vs := make([]Value, len(pvs))
	for i, pv := range pvs {
		vs[i] = unpackValue(pv)
	}
	return vs
}

func loadState(stx storageTx) (*state, error) {
	st := newState()

	mb := stx.Bucket(metaBucketName)
	if mb != nil {
		if raw := mb.Get(catalogKey); raw != nil {
			var meta Meta
			if err := msgpack.Unmarshal(raw, &meta); err != nil {
				return nil, fmt.Errorf("engine: decoding catalog: %w", err)
			}
			st.meta = &meta
		}
		if raw := mb.Get(versionKey); len(raw) == 8 {
			st.version = Version(binary.BigEndian.Uint64(raw))
		}
		if raw := mb.Get(lastIDKey); len(raw) == 8 {
			st.lastID = ObjID(binary.BigEndian.Uint64(raw))
		}
	}

	ob := stx.Bucket(objectsBucketName)
	if ob != nil {
		err := ob.ForEach(func(k, v []byte) error {
			key, err := decodeObjKey(k)
			if err != nil {
				return err
			}
			o, err := loadObj(v)
			if err != nil {
				return fmt.Errorf("engine: decoding %v: %w", key, err)
			}
			st.objects[key] = o
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return st, nil
}

func saveStateDelta(stx storageTx, sc *encodeScope, st *state, touched map[ObjKey]bool, deleted map[ObjKey]bool, metaDirty bool) error {
	mb, err := stx.CreateBucket(metaBucketName)
	if err != nil {
		return err
	}
	ob, err := stx.CreateBucket(objectsBucketName)
	if err != nil {
		return err
	}

	if metaDirty && st.meta != nil {
		raw, err := msgpack.Marshal(st.meta)
		if err != nil {
			return fmt.Errorf("engine: encoding catalog: %w", err)
		}
		if err := mb.Put(catalogKey, raw); err != nil {
			return err
		}
	}

	// distinct slices per Put: bbolt holds them until the commit
	ver := binary.BigEndian.AppendUint64(nil, uint64(st.version))
	if err := mb.Put(versionKey, ver); err != nil {
		return err
	}
	lid := binary.BigEndian.AppendUint64(nil, uint64(st.lastID))
	if err := mb.Put(lastIDKey, lid); err != nil {
		return err
	}

	for key := range deleted {
		if err := ob.Delete(sc.objKeyBytes(key)); err != nil {
			return err
		}
	}
	for key := range touched {
		o := st.objects[key]
		if o == nil {
			continue // created and deleted within one transaction
		}
		if err := saveObj(ob, sc, key, o); err != nil {
			return err
		}
	}
	return nil
}
