// Package storetest provides PartitionStore doubles for tests.
package storetest

import (
	"context"
	"errors"
	"sync"

	"researchhub/backend/internal/store"
)

// ErrInjected is returned by Faulty for keys marked as failing.
var ErrInjected = errors.New("storetest: injected failure")

// Faulty wraps a PartitionStore and fails reads or writes of chosen keys.
type Faulty struct {
	next store.PartitionStore

	mu        sync.Mutex
	failGets  map[string]int
	failPuts  map[string]int
	putCounts map[string]int
}

// NewFaulty wraps next. With no failures configured it is a pass-through.
func NewFaulty(next store.PartitionStore) *Faulty {
	return &Faulty{
		next:      next,
		failGets:  make(map[string]int),
		failPuts:  make(map[string]int),
		putCounts: make(map[string]int),
	}
}

// FailPuts makes the next n puts to key fail. n < 0 fails until Heal.
func (f *Faulty) FailPuts(key string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPuts[key] = n
}

// FailGets makes the next n gets of key fail. n < 0 fails until Heal.
func (f *Faulty) FailGets(key string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failGets[key] = n
}

// Heal clears every injected failure.
func (f *Faulty) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failGets = make(map[string]int)
	f.failPuts = make(map[string]int)
}

// Puts returns how many successful puts key has received.
func (f *Faulty) Puts(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCounts[key]
}

func (f *Faulty) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.consume(true, key) {
		return nil, false, ErrInjected
	}
	return f.next.Get(ctx, key)
}

func (f *Faulty) Put(ctx context.Context, key string, blob []byte) error {
	if f.consume(false, key) {
		return ErrInjected
	}
	if err := f.next.Put(ctx, key, blob); err != nil {
		return err
	}
	f.mu.Lock()
	f.putCounts[key]++
	f.mu.Unlock()
	return nil
}

func (f *Faulty) consume(get bool, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	failures := f.failPuts
	if get {
		failures = f.failGets
	}

	n, ok := failures[key]
	if !ok || n == 0 {
		return false
	}
	if n > 0 {
		failures[key] = n - 1
	}
	return true
}
