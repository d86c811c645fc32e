package odb

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/vireolabs/odb/engine"
)

// Realm is an open handle onto the store. A live realm tracks the latest
// committed version and accepts write transactions; a frozen realm is pinned
// immutably to one version and never reflects later writes. Every versioned
// reference (object or collection) belongs to exactly one realm and becomes
// invalid the moment that realm closes.
type Realm struct {
	eng    *engine.Store
	schema *Schema
	logf   func(format string, args ...any)

	frozen  bool
	version engine.Version // pinned version; meaningful when frozen
	root    bool           // owns the engine store

	closed    atomic.Bool
	unpinOnce sync.Once

	activeTx atomic.Pointer[Tx]

	WriteCount atomic.Uint64
	ReadCount  atomic.Uint64
}

type Options struct {
	Logf      func(format string, args ...any)
	Verbose   bool
	IsTesting bool

	// Migrate runs when the stored schema version is older than the declared
	// one. Required in that case; the open fails atomically if it returns an
	// error.
	Migrate MigrationFunc
}

// Open opens (creating if needed) a store at path and binds it to the
// declared schema. An empty path opens a transient in-memory store.
func Open(path string, schema *Schema, opt Options) (*Realm, error) {
	eng, err := engine.Open(path, engine.Options{
		Logf:      opt.Logf,
		Verbose:   opt.Verbose,
		IsTesting: opt.IsTesting,
	})
	if err != nil {
		return nil, fmt.Errorf("odb: %w", err)
	}

	r := &Realm{
		eng:    eng,
		schema: schema,
		logf:   opt.Logf,
		root:   true,
	}
	if err := r.adoptSchema(opt); err != nil {
		eng.Close()
		return nil, err
	}
	return r, nil
}

func (r *Realm) adoptSchema(opt Options) error {
	compiled := r.schema.compile()
	stored := r.eng.Meta()

	switch {
	case stored == nil:
		tx, err := r.eng.Begin()
		if err != nil {
			return fmt.Errorf("odb: %w", err)
		}
		tx.PutMeta(compiled)
		if _, err := tx.Commit(); err != nil {
			return fmt.Errorf("odb: storing schema: %w", err)
		}
		return nil

	case stored.SchemaVersion == compiled.SchemaVersion:
		return verifyCompatible(stored, compiled)

	case stored.SchemaVersion < compiled.SchemaVersion:
		return r.migrate(stored, compiled, opt)

	default:
		return fmt.Errorf("odb: stored schema version %d is newer than declared version %d", stored.SchemaVersion, compiled.SchemaVersion)
	}
}

// verifyCompatible catches declarations that changed without a version bump.
// It deliberately checks names and shapes only; converters are not
// observable from the stored side.
func verifyCompatible(stored, compiled *engine.Meta) error {
	for _, cm := range compiled.Classes {
		sm := stored.Class(cm.ID)
		if sm == nil || sm.Name != cm.Name || sm.Embedded != cm.Embedded {
			return fmt.Errorf("odb: class %s changed without a schema version bump", cm.Name)
		}
		for _, pm := range cm.Props {
			sp := sm.Prop(pm.ID)
			if sp == nil || sp.Name != pm.Name || sp.Shape != pm.Shape || sp.Kind != pm.Kind {
				return fmt.Errorf("odb: property %s.%s changed without a schema version bump", cm.Name, pm.Name)
			}
		}
	}
	return nil
}

func (r *Realm) migrate(stored, compiled *engine.Meta, opt Options) error {
	if opt.Migrate == nil {
		return fmt.Errorf("odb: stored schema version %d requires migration to %d, but none was supplied", stored.SchemaVersion, compiled.SchemaVersion)
	}

	before, err := r.Freeze()
	if err != nil {
		return err
	}
	defer before.Close()

	etx, err := r.eng.Begin()
	if err != nil {
		return fmt.Errorf("odb: %w", err)
	}
	etx.PutMeta(compiled)

	tx := &Tx{realm: r, etx: etx, gid: goroutineID()}
	r.activeTx.Store(tx)
	mig := &Migration{
		Old:    catalogFromMeta(stored),
		New:    catalogFromMeta(compiled),
		Before: before,
		Tx:     tx,
	}
	migErr := safelyCall(opt.Migrate, mig)
	r.activeTx.Store(nil)

	if migErr != nil {
		etx.Rollback()
		return fmt.Errorf("odb: migration from version %d to %d failed: %w", stored.SchemaVersion, compiled.SchemaVersion, migErr)
	}
	if _, err := etx.Commit(); err != nil {
		return fmt.Errorf("odb: committing migration: %w", err)
	}
	return nil
}

// MigrationFunc reconciles existing data with a newer schema. It runs inside
// the write transaction that installs the new catalog; returning an error
// rolls everything back and fails the open.
type MigrationFunc func(mig *Migration) error

type Migration struct {
	Old    *Catalog // catalog as stored before the migration
	New    *Catalog // catalog being installed
	Before *Realm   // frozen at the pre-migration version
	Tx     *Tx      // live write transaction for the reconciled data
}

func safelyCall[T any](fn func(T) error, arg T) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(arg)
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func (r *Realm) Schema() *Schema { return r.schema }

func (r *Realm) IsFrozen() bool { return r.frozen }

func (r *Realm) IsClosed() bool {
	return r.closed.Load() || r.eng.IsClosed()
}

// Version is the database version this realm currently sees.
func (r *Realm) Version() engine.Version {
	if r.frozen {
		return r.version
	}
	return r.eng.CurrentVersion()
}

// Freeze pins the realm's current version and returns a frozen realm bound
// to it. The pin is released when the frozen realm is closed, or when it
// becomes unreachable and the garbage collector takes it.
func (r *Realm) Freeze() (*Realm, error) {
	if err := r.checkClosed("realm"); err != nil {
		return nil, err
	}
	return r.freezeAt(r.Version())
}

// freezeAt pins a specific version; the version must be retained at the time
// of the call (current, pinned, or held by the commit pipeline).
func (r *Realm) freezeAt(v engine.Version) (*Realm, error) {
	if err := r.eng.Pin(v); err != nil {
		return nil, engineErr(err, "could not freeze realm at version %d", v)
	}
	fr := &Realm{
		eng:     r.eng,
		schema:  r.schema,
		logf:    r.logf,
		frozen:  true,
		version: v,
	}
	runtime.SetFinalizer(fr, func(fr *Realm) { fr.Close() })
	return fr, nil
}

// Close invalidates the realm and all references derived from it. Closing
// the root live realm shuts the whole store down; closing a frozen realm
// releases its version pin. Idempotent.
func (r *Realm) Close() {
	if r.closed.Swap(true) {
		return
	}
	if r.frozen {
		r.unpinOnce.Do(func() { r.eng.Unpin(r.version) })
		runtime.SetFinalizer(r, nil)
		return
	}
	if r.root {
		ensure(r.eng.Close())
	}
}

func (r *Realm) checkClosed(entity string) error {
	if r.IsClosed() {
		return closedErr(entity)
	}
	return nil
}

// Write runs fn inside a write transaction. There is a single writer: Write
// blocks until any other writer finishes. Mutating managed collections and
// objects is only legal inside fn, on the calling goroutine.
func (r *Realm) Write(fn func(tx *Tx) error) error {
	if err := r.checkClosed("realm"); err != nil {
		return err
	}
	if r.frozen {
		return opErrf(engine.ErrFrozen, "could not begin write transaction on a frozen realm")
	}
	etx, err := r.eng.Begin()
	if err != nil {
		return engineErr(err, "could not begin write transaction")
	}
	tx := &Tx{realm: r, etx: etx, gid: goroutineID()}
	r.activeTx.Store(tx)
	fnErr := safelyCall(fn, tx)
	r.activeTx.Store(nil)
	if fnErr != nil {
		etx.Rollback()
		return fnErr
	}
	if _, err := etx.Commit(); err != nil {
		return engineErr(err, "could not commit write transaction")
	}
	r.WriteCount.Add(1)
	return nil
}

// Read runs fn with a read-only transaction handle. It works on frozen
// realms too, resolving against the pinned version; any mutation attempted
// through the handle fails.
func (r *Realm) Read(fn func(tx *Tx) error) error {
	if err := r.checkClosed("realm"); err != nil {
		return err
	}
	return safelyCall(fn, &Tx{realm: r})
}

// engineErr wraps an engine failure with an operation-specific message,
// normalizing closed-store errors onto the closed-owner taxonomy.
func engineErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if err == engine.ErrClosed {
		return closedErr("realm")
	}
	return opErrf(err, format, args...)
}
