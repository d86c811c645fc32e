/*
Package engine implements the versioned object store underneath the odb
binding layer.

The store keeps its entire current state resident as an immutable value: one
*state per committed version, holding the class catalog and every object.
A single writer advances the store one version at a time; a write transaction
clones the object table up front and copies individual objects on first
touch, so every committed state stays immutable forever. Durability comes
from persisting the commit delta to a storage backend (Bolt, or an in-memory
stand-in for tests).

Past versions are retained through pinning. Pin(v) takes a reference on the
snapshot for version v, keeping it resolvable; the snapshot is released when
the last reference goes away. The commit pipeline internally holds every new
version until the notifier has dispatched it, so observers can always pin the
version they are being notified about.

Observers register per collection and receive commits, in commit order, on a
single notifier goroutine. A commit carries one Diff token per collection the
transaction touched plus the set of deleted objects; the layer above turns
those into typed change events.
*/
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

type Store struct {
	stor    storage
	logf    func(format string, args ...any)
	verbose bool

	writeMu sync.Mutex // held from Begin to Commit/Rollback

	mu        sync.Mutex // guards current and snapshots
	current   *state
	snapshots map[Version]*snapshot

	closed atomic.Bool
	sendMu sync.RWMutex // serializes notifyCh senders against Close

	observers *xsync.MapOf[uint64, *observer]
	lastToken atomic.Uint64

	notifyCh chan *Commit
	notifyWG sync.WaitGroup

	CommitCount atomic.Uint64
	PinCount    atomic.Int64
}

type snapshot struct {
	st   *state
	refs int
}

type Options struct {
	Logf      func(format string, args ...any)
	Verbose   bool
	IsTesting bool

	// NotifyQueue overrides the commit notification queue size.
	NotifyQueue int
}

// Open opens a store at the given path. An empty path selects the transient
// in-memory backend.
func Open(path string, opt Options) (*Store, error) {
	var stor storage
	var err error
	if path == "" {
		stor = newMemStorage()
	} else {
		stor, err = openBoltStorage(path, opt.IsTesting)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}

	stx, err := stor.BeginTx(false)
	if err != nil {
		stor.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}
	st, err := loadState(stx)
	stx.Rollback()
	if err != nil {
		stor.Close()
		return nil, err
	}

	queue := opt.NotifyQueue
	if queue == 0 {
		queue = 256
	}

	s := &Store{
		stor:      stor,
		logf:      opt.Logf,
		verbose:   opt.Verbose,
		current:   st,
		snapshots: make(map[Version]*snapshot),
		observers: xsync.NewMapOf[uint64, *observer](),
		notifyCh:  make(chan *Commit, queue),
	}
	s.notifyWG.Add(1)
	go s.notifyLoop()
	return s, nil
}

// Close shuts the store down: observers receive one terminal closed
// notification, the notifier drains, and the storage backend closes. Close
// is idempotent.
func (s *Store) Close() error {
	s.sendMu.Lock()
	if s.closed.Swap(true) {
		s.sendMu.Unlock()
		return nil
	}
	s.notifyCh <- &Commit{Closed: true}
	close(s.notifyCh)
	s.sendMu.Unlock()

	s.notifyWG.Wait()

	s.mu.Lock()
	s.snapshots = make(map[Version]*snapshot)
	s.mu.Unlock()

	if err := s.stor.Close(); err != nil {
		return fmt.Errorf("engine: closing: %w", err)
	}
	return nil
}

func (s *Store) IsClosed() bool {
	return s.closed.Load()
}

func (s *Store) CurrentVersion() Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.version
}

// Meta returns the active class catalog, or nil if none was ever stored.
func (s *Store) Meta() *Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.meta
}

// CurrentView returns a read view over the latest committed version.
func (s *Store) CurrentView() (*View, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &View{st: s.current}, nil
}

// At returns a read view over version v. The version must be the current one
// or a pinned (retained) one.
func (s *Store) At(v Version) (*View, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.version == v {
		return &View{st: s.current}, nil
	}
	if snap := s.snapshots[v]; snap != nil {
		return &View{st: snap.st}, nil
	}
	return nil, ErrVersionGone
}

// Pin retains the snapshot for version v. Every successful Pin must be
// paired with an Unpin.
func (s *Store) Pin(v Version) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap := s.snapshots[v]; snap != nil {
		snap.refs++
	} else if s.current.version == v {
		s.snapshots[v] = &snapshot{st: s.current, refs: 1}
	} else {
		return ErrVersionGone
	}
	s.PinCount.Add(1)
	return nil
}

func (s *Store) Unpin(v Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshots[v]
	if snap == nil {
		return // store closed, or already released
	}
	snap.refs--
	s.PinCount.Add(-1)
	if snap.refs <= 0 {
		delete(s.snapshots, v)
	}
}

// retain is the internal flavor of Pin used by the commit pipeline; the
// state is known, so it works even for a version that just left "current".
func (s *Store) retain(st *state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap := s.snapshots[st.version]; snap != nil {
		snap.refs++
	} else {
		s.snapshots[st.version] = &snapshot{st: st, refs: 1}
	}
}

func (s *Store) enqueue(c *Commit) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return false
	}
	s.notifyCh <- c
	return true
}

func (s *Store) logDebugf(format string, args ...any) {
	if s.verbose && s.logf != nil {
		s.logf(format, args...)
	}
}
