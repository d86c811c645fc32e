/*
Package odb implements an embedded versioned object database with observable
collections (in this case, persisted via Bolt).

We implement:

1. Schemas, declaring classes of objects with typed scalar, link, list, set
and dictionary properties, including embedded classes owned by a single
parent slot.

2. Realms, handles onto the store: a live realm always sees the latest
committed version, a frozen realm is pinned immutably to one version.
Freezing and thawing move objects and collections between the two without
copying data.

3. Write transactions, single-writer, run as a callback on a live realm;
readers are never blocked and keep seeing the previous version until commit.

4. Observable collections, delivering ordered change events: an initial
snapshot, then one event per commit that touched the collection, each with a
frozen snapshot and a change set (deletions against the old indices,
insertions and modifications against the new ones, moves in journal order),
and a terminal event when the parent object is deleted or the store closes.

5. Imports, copying unmanaged object graphs into the store with key-based
deduplication and cycle handling.

# Technical Details

**Versions.**
Every commit produces a new immutable version of the whole store. Versions
are retained only while something references them: a frozen realm, an
in-flight notification, or an explicit pin. Data is copy-on-write per
object, so retaining an old version costs only what differs from newer ones.

**Change journals.**
Write transactions journal every collection operation (insert, remove, set,
move, clear) with its index at the time of the operation. Change sets are
materialized from the journal on delivery, which keeps the write path cheap
and makes reordering information exact rather than diffed.

**Embedded objects.**
An embedded object belongs to exactly one parent slot and is destroyed with
it. The engine enforces this: embedded objects cannot be created standalone
or linked directly, only through parent slots, and deleting a parent
cascades.

**Persistence.**
Objects are stored one per key in a Bolt bucket, keyed by class and object
id, with msgpack-encoded property payloads. The catalog (stored schema),
current version and id counter live in a separate meta bucket. A transient
in-memory backend with the same interface backs tests and throwaway stores.
*/
package odb
