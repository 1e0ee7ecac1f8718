// Package store holds the keyed partition abstraction every other component reads and
// writes through, its backends, and the helpers that turn whole-document puts into list
// updates and best-effort cross-partition writes.
//
// A partition is a single JSON document addressed by a string key. Writes overwrite the
// whole document, so a failed write is a missed write and never a torn one. There is no
// atomicity across keys.
package store

import (
	"context"
	"sync"
)

// PartitionStore is a keyed map of whole documents.
// Get reports ok=false for a key that was never written.
type PartitionStore interface {
	Get(ctx context.Context, key string) (blob []byte, ok bool, err error)
	Put(ctx context.Context, key string, blob []byte) error
}

// Partitions serialises read-modify-write cycles on the same key within this process.
// It gives no guarantee across processes; two servers writing the same key are last-write-wins.
type Partitions struct {
	store PartitionStore

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewPartitions wraps a backend.
func NewPartitions(s PartitionStore) *Partitions {
	return &Partitions{
		store: s,
		locks: make(map[string]*keyLock),
	}
}

// Store returns the wrapped backend.
func (p *Partitions) Store() PartitionStore {
	return p.store
}

func (p *Partitions) lock(key string) func() {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &keyLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}
