package engine

import "errors"

var (
	// ErrClosed is returned by any operation against a closed store.
	ErrClosed = errors.New("engine: store is closed")

	// ErrFrozen is returned when a mutation targets a frozen version.
	ErrFrozen = errors.New("engine: cannot mutate a frozen version")

	// ErrNoWriteTx is returned when a mutation runs outside a write transaction.
	ErrNoWriteTx = errors.New("engine: no write transaction")

	// ErrIndex is returned for out-of-bounds element access.
	ErrIndex = errors.New("engine: index out of bounds")

	// ErrAbsent is returned when a handle does not resolve at the requested version.
	ErrAbsent = errors.New("engine: no such object at this version")

	// ErrValue is returned when a value's kind does not match the property's
	// declared kind.
	ErrValue = errors.New("engine: value kind does not match property")

	// ErrKeyExists is returned when creating an object whose primary key is taken.
	ErrKeyExists = errors.New("engine: object with this key already exists")

	// ErrEmbedded is returned when an embedded object is used like a
	// top-level one (created standalone, or linked from a second parent).
	ErrEmbedded = errors.New("engine: embedded objects have exactly one parent slot")

	// ErrVersionGone is returned when pinning a version whose snapshot has
	// already been released.
	ErrVersionGone = errors.New("engine: version is no longer retained")
)
