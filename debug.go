package odb

import (
	"fmt"
	"strings"

	"github.com/vireolabs/odb/engine"
)

type DumpFlags uint64

const (
	DumpClassHeaders = DumpFlags(1 << iota)
	DumpObjects
	DumpCollections

	DumpAll = DumpClassHeaders | DumpObjects | DumpCollections
)

// Dump renders the realm's contents at its current version, for debugging
// and test failure output.
func (r *Realm) Dump(flags DumpFlags) string {
	if err := r.checkClosed("realm"); err != nil {
		return "<closed realm>"
	}
	vw, err := Ref{realm: r}.view()
	if err != nil {
		return "<closed realm>"
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "version %d, schema %d\n", vw.Version(), r.schema.version)
	for _, cls := range r.schema.classes {
		keys := vw.ObjectsOf(cls.id)
		if flags&DumpClassHeaders != 0 {
			fmt.Fprintf(&buf, "class %s (%d objects)\n", cls.name, len(keys))
		}
		if flags&DumpObjects == 0 {
			continue
		}
		for _, key := range keys {
			fmt.Fprintf(&buf, "  %s #%d\n", cls.name, key.ID)
			for _, pd := range cls.props {
				dumpProp(&buf, vw, key, pd, flags)
			}
		}
	}
	return buf.String()
}

// DescribeSubscribers lists the realm's active change-stream registrations,
// for debugging leaked subscriptions.
func (r *Realm) DescribeSubscribers() string {
	if r.IsClosed() {
		return "<closed realm>"
	}
	return r.eng.DescribeObservers()
}

func dumpProp(buf *strings.Builder, vw *engine.View, key engine.ObjKey, pd *propDecl, flags DumpFlags) {
	coll := engine.CollKey{Obj: key, Prop: pd.id}
	switch pd.shape {
	case engine.ShapeScalar:
		v, err := vw.GetScalar(key, pd.id)
		if err != nil || v.IsNull() {
			return
		}
		fmt.Fprintf(buf, "    %s = %s\n", pd.name, v.String())
	case engine.ShapeList:
		if flags&DumpCollections == 0 {
			return
		}
		n, err := vw.ListLen(coll)
		if err != nil || n == 0 {
			return
		}
		var parts []string
		for i := 0; i < n; i++ {
			v, _ := vw.ListGet(coll, i)
			parts = append(parts, v.String())
		}
		fmt.Fprintf(buf, "    %s = [%s]\n", pd.name, strings.Join(parts, ", "))
	case engine.ShapeSet:
		if flags&DumpCollections == 0 {
			return
		}
		values, err := vw.SetValues(coll)
		if err != nil || len(values) == 0 {
			return
		}
		var parts []string
		for _, v := range values {
			parts = append(parts, v.String())
		}
		fmt.Fprintf(buf, "    %s = {%s}\n", pd.name, strings.Join(parts, ", "))
	case engine.ShapeDict:
		if flags&DumpCollections == 0 {
			return
		}
		keys, err := vw.DictKeys(coll)
		if err != nil || len(keys) == 0 {
			return
		}
		var parts []string
		for _, k := range keys {
			v, _, _ := vw.DictGet(coll, k)
			parts = append(parts, fmt.Sprintf("%s: %s", k, v.String()))
		}
		fmt.Fprintf(buf, "    %s = {%s}\n", pd.name, strings.Join(parts, ", "))
	}
}
