package engine

import "fmt"

// OpKind enumerates the element-level operations recorded in a Diff.
type OpKind uint8

const (
	OpInsert OpKind = iota
	OpRemove
	OpSet
	OpMove
	OpClear
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	case OpSet:
		return "set"
	case OpMove:
		return "move"
	case OpClear:
		return "clear"
	default:
		return fmt.Sprintf("invalid op %d", int(k))
	}
}

// CollOp is one journaled operation. Index is the position the operation
// applied to at the time it ran; To is only meaningful for OpMove.
type CollOp struct {
	Kind  OpKind
	Index int
	To    int
}

// Diff is the change token for one collection across one version transition:
// the ordered journal of element operations the writing transaction
// performed, plus the collection's size before the transition. Decoding the
// journal into index sets is the caller's business; the engine only promises
// to report the operations in the order they ran.
type Diff struct {
	OldSize int
	Ops     []CollOp
}

func (d *Diff) Empty() bool {
	return d == nil || len(d.Ops) == 0
}

func (d *Diff) record(kind OpKind, index, to int) {
	d.Ops = append(d.Ops, CollOp{Kind: kind, Index: index, To: to})
}

// Commit describes one committed version transition to observers. Diffs
// holds a token per collection touched by the transaction; Deleted lists the
// objects (including cascaded embedded ones) removed by it.
type Commit struct {
	Version Version
	Diffs   map[CollKey]*Diff
	Deleted map[ObjKey]bool

	// Closed marks the synthetic terminal notification sent when the store
	// shuts down.
	Closed bool

	// Initial marks the synthetic registration notification: the state as of
	// Observe, with no diff. Real commits already queued at registration time
	// may reach the observer before it.
	Initial bool

	// only routes a synthetic initial notification to a single observer.
	only uint64
}
