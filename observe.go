package odb

import (
	"context"
	"sync"

	"github.com/vireolabs/odb/engine"
)

// ChangeKind classifies collection change events.
type ChangeKind int

const (
	// ChangeInitial is the first event on every stream: the collection as
	// of subscription time, with no change set.
	ChangeInitial ChangeKind = iota
	// ChangeUpdated carries a frozen snapshot of the new version plus the
	// change set relative to the previously delivered one.
	ChangeUpdated
	// ChangeDeleted is terminal: the parent object was deleted or the realm
	// shut down. The snapshot is an empty unmanaged collection and the
	// stream closes right after.
	ChangeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInitial:
		return "initial"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is one collection change event. Events arrive strictly in commit
// order; the snapshot in Collection is frozen at the event's version and
// stays readable for as long as the receiver keeps it.
type Change[C any] struct {
	Kind       ChangeKind
	Version    engine.Version
	Collection C
	Changes    *ChangeSet // set for ChangeUpdated only
}

// defaultObserveBuffer is the per-stream channel capacity when the caller
// does not pick one. When a receiver falls that far behind, newer events are
// dropped (and counted) rather than stalling the notifier; callers that need
// every event size the buffer for their worst burst.
const defaultObserveBuffer = 16

type stream[C any] struct {
	mu     sync.Mutex
	ch     chan Change[C]
	closed bool
	token  *engine.Token
}

func (s *stream[C]) send(ev Change[C]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
		metricEventsEmitted.Inc()
	default:
		metricEventsDropped.Inc()
	}
}

func (s *stream[C]) close() {
	s.mu.Lock()
	wasClosed := s.closed
	if !wasClosed {
		s.closed = true
		close(s.ch)
	}
	tok := s.token
	s.mu.Unlock()
	if !wasClosed {
		metricSubscriptions.Dec()
	}
	if tok != nil {
		tok.Cancel()
	}
}

// observeHandle is the subscription core behind List/Set/Dict Observe. The
// engine notifier invokes the callback once per relevant commit, in commit
// order; each event freezes the realm at the commit's version so the
// snapshot outlives the callback. Cancelling ctx ends the stream.
func observeHandle[C any](ctx context.Context, ref Ref, entity string, buffer int,
	frozen func(Ref) C, empty func() C) (<-chan Change[C], error) {

	if buffer <= 0 {
		buffer = defaultObserveBuffer
	}

	r := ref.realm
	if err := r.checkClosed(entity); err != nil {
		return nil, err
	}
	if r.frozen {
		return nil, unsupportedErr("observing a frozen realm")
	}
	if r.activeTx.Load() != nil {
		return nil, unsupportedErr("subscribing inside a write transaction")
	}

	s := &stream[C]{ch: make(chan Change[C], buffer)}
	coll := ref.coll()
	initialSent := false
	metricSubscriptions.Inc()

	tok, err := r.eng.Observe(coll, func(c *engine.Commit) {
		switch {
		case c.Closed:
			s.send(Change[C]{Kind: ChangeDeleted, Version: c.Version, Collection: empty()})
			s.close()
		case c.Deleted[coll.Obj]:
			s.send(Change[C]{Kind: ChangeDeleted, Version: c.Version, Collection: empty()})
			s.close()
		case c.Initial && initialSent:
			// a real commit overtook the registration notification and
			// already carried the first snapshot
		case c.Initial || !initialSent:
			initialSent = true
			fr, err := r.freezeAt(c.Version)
			if err != nil {
				s.close()
				return
			}
			snap := frozen(Ref{realm: fr, obj: ref.obj, prop: ref.prop})
			s.send(Change[C]{Kind: ChangeInitial, Version: c.Version, Collection: snap})
		default:
			fr, err := r.freezeAt(c.Version)
			if err != nil {
				s.close()
				return
			}
			snap := frozen(Ref{realm: fr, obj: ref.obj, prop: ref.prop})
			s.send(Change[C]{
				Kind:       ChangeUpdated,
				Version:    c.Version,
				Collection: snap,
				Changes:    buildChangeSet(c.Diffs[coll]),
			})
		}
	})
	if err != nil {
		metricSubscriptions.Dec()
		return nil, engineErr(err, "could not observe %s", entity)
	}
	s.mu.Lock()
	s.token = tok
	if s.closed {
		// terminal event raced registration
		s.mu.Unlock()
		tok.Cancel()
	} else {
		s.mu.Unlock()
	}

	if ctx != nil && ctx.Done() != nil {
		context.AfterFunc(ctx, s.close)
	}
	return s.ch, nil
}
