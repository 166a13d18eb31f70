package blockitemstore

import (
	"context"
	"sync"
)

// memoryStore is an in-process Store implementation. It backs unit tests for
// every component that depends on blockitemstore.Store, and is a reasonable
// default for single-process deployments that don't need the data to survive
// a restart.
type memoryStore struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

var _ Store = (*memoryStore)(nil)

// NewMemoryStore creates an empty in-process Store.
func NewMemoryStore() *memoryStore {
	return &memoryStore{
		data: make(map[string]map[string][]byte),
	}
}

func (s *memoryStore) Get(_ context.Context, namespace, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		return nil, ErrNotFound
	}

	val, ok := ns[key]
	if !ok {
		return nil, ErrNotFound
	}

	return val, nil
}

func (s *memoryStore) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ns, ok := s.data[namespace]; ok {
		delete(ns, key)
	}

	return nil
}

func (s *memoryStore) NewBatch() Batch {
	return &memoryBatch{store: s}
}

type writeOp struct {
	namespace string
	key       string
	value     []byte
	delete    bool
}

// memoryBatch buffers writes against its parent memoryStore until Commit.
type memoryBatch struct {
	store *memoryStore
	ops   []writeOp
}

var _ Batch = (*memoryBatch)(nil)

func (b *memoryBatch) Put(namespace, key string, value []byte) {
	b.ops = append(b.ops, writeOp{namespace: namespace, key: key, value: value})
}

func (b *memoryBatch) Delete(namespace, key string) {
	b.ops = append(b.ops, writeOp{namespace: namespace, key: key, delete: true})
}

func (b *memoryBatch) Commit(_ context.Context) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	for _, op := range b.ops {
		ns, ok := b.store.data[op.namespace]
		if !ok {
			ns = make(map[string][]byte)
			b.store.data[op.namespace] = ns
		}

		if op.delete {
			delete(ns, op.key)
			continue
		}

		ns[op.key] = op.value
	}

	return nil
}
