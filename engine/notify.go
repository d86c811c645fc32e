package engine

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// observer is one registered collection callback. Callbacks run on the
// notifier goroutine, strictly in commit order, and must not block for long:
// everything behind them in the queue waits.
type observer struct {
	id        uint64
	coll      CollKey
	fn        func(*Commit)
	cancelled atomic.Bool
}

// Token cancels an observer registration. Cancel is idempotent and safe to
// call from any goroutine; after it returns, no new notifications start for
// this observer (one already in flight may still finish).
type Token struct {
	s  *Store
	id uint64
}

func (t *Token) Cancel() {
	if ob, ok := t.s.observers.Load(t.id); ok {
		ob.cancelled.Store(true)
		t.s.observers.Delete(t.id)
	}
}

// Observe registers fn to be called for every committed version transition
// that touches coll, deletes its owning object, or closes the store. The
// registration immediately schedules one synthetic notification carrying the
// current version and no diff, serialized with real commits, so the caller's
// first callback reflects state as of registration.
func (s *Store) Observe(coll CollKey, fn func(*Commit)) (*Token, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	ob := &observer{
		id:   s.lastToken.Add(1),
		coll: coll,
		fn:   fn,
	}
	s.observers.Store(ob.id, ob)

	s.mu.Lock()
	st := s.current
	s.mu.Unlock()
	s.retain(st)
	c := &Commit{Version: st.version, Initial: true, only: ob.id}
	if !s.enqueue(c) {
		s.Unpin(st.version)
		s.observers.Delete(ob.id)
		return nil, ErrClosed
	}
	return &Token{s: s, id: ob.id}, nil
}

// DescribeObservers renders the active observer registrations, one per line,
// for debugging.
func (s *Store) DescribeObservers() string {
	var buf strings.Builder
	s.observers.Range(func(id uint64, ob *observer) bool {
		if !ob.cancelled.Load() {
			fmt.Fprintf(&buf, "observer %d: %v\n", id, ob.coll)
		}
		return true
	})
	return buf.String()
}

func (s *Store) notifyLoop() {
	defer s.notifyWG.Done()
	for c := range s.notifyCh {
		s.dispatch(c)
		if !c.Closed {
			s.Unpin(c.Version)
		}
	}
}

func (s *Store) dispatch(c *Commit) {
	s.observers.Range(func(id uint64, ob *observer) bool {
		if ob.cancelled.Load() {
			return true
		}
		switch {
		case c.Closed:
			// terminal: every observer hears about shutdown
		case c.only != 0:
			if c.only != ob.id {
				return true
			}
		default:
			if c.Diffs[ob.coll] == nil && !c.Deleted[ob.coll.Obj] {
				return true
			}
		}
		s.logDebugf("engine: notifying observer %d of %v at version %d", ob.id, ob.coll, c.Version)
		ob.fn(c)
		return true
	})
}
