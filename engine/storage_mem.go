package engine

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket
	closed  bool
	writer  bool
}

// newMemStorage returns a transient in-memory storage implementation
// intended for tests and throwaway stores.
func newMemStorage() storage {
	s := &memStorage{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf("storage closed")
		}
		s.writer = true
	}

	// Snapshot the entire store for transactional isolation (simplicity
	// over efficiency).
	snap := make(map[string]*memBucket, len(s.buckets))
	for k, b := range s.buckets {
		snap[k] = b.clone()
	}

	return &memTx{
		writable: writable,
		base:     s,
		buckets:  snap,
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

func (s *memStorage) releaseWriter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = false
	s.cond.Broadcast()
}

type memTx struct {
	writable bool
	done     bool
	base     *memStorage
	buckets  map[string]*memBucket
}

func (tx *memTx) Bucket(name string) storageBucket {
	return orNilBucket(tx.buckets[name])
}

func (tx *memTx) CreateBucket(name string) (storageBucket, error) {
	if !tx.writable {
		return nil, fmt.Errorf("read-only transaction")
	}
	b := tx.buckets[name]
	if b == nil {
		b = newMemBucket()
		tx.buckets[name] = b
	}
	return b, nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true
	if !tx.writable {
		return nil
	}
	tx.base.mu.Lock()
	tx.base.buckets = tx.buckets
	tx.base.mu.Unlock()
	tx.base.releaseWriter()
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	if tx.writable {
		tx.base.releaseWriter()
	}
	return nil
}

// orNilBucket converts a nil *memBucket into a nil storageBucket interface.
func orNilBucket(b *memBucket) storageBucket {
	if b == nil {
		return nil
	}
	return b
}

type memBucket struct {
	keys   []string
	values map[string][]byte
}

func newMemBucket() *memBucket {
	return &memBucket{values: make(map[string][]byte)}
}

func (b *memBucket) clone() *memBucket {
	c := &memBucket{
		keys:   slices.Clone(b.keys),
		values: make(map[string][]byte, len(b.values)),
	}
	for k, v := range b.values {
		c.values[k] = v
	}
	return c
}

func (b *memBucket) Get(key []byte) []byte {
	return b.values[string(key)]
}

func (b *memBucket) Put(key, value []byte) error {
	k := string(key)
	if _, ok := b.values[k]; !ok {
		i := sort.SearchStrings(b.keys, k)
		b.keys = slices.Insert(b.keys, i, k)
	}
	b.values[k] = slices.Clone(value)
	return nil
}

func (b *memBucket) Delete(key []byte) error {
	k := string(key)
	if _, ok := b.values[k]; ok {
		delete(b.values, k)
		i := sort.SearchStrings(b.keys, k)
		b.keys = slices.Delete(b.keys, i, i+1)
	}
	return nil
}

func (b *memBucket) ForEach(fn func(k, v []byte) error) error {
	for _, k := range b.keys {
		if err := fn([]byte(k), b.values[k]); err != nil {
			return err
		}
	}
	return nil
}
