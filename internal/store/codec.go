package store

import (
	"context"
	"encoding/json"
	"errors"

	"researchhub/backend/internal/apperr"
)

// ErrUnchanged is returned by an update function to skip the write.
var ErrUnchanged = errors.New("store: partition unchanged")

// LoadList reads the JSON list stored at key. An absent key is an empty list.
func LoadList[T any](ctx context.Context, p *Partitions, key string) ([]T, error) {
	return loadList[T](ctx, p.store, key)
}

// UpdateList reads the list at key, applies fn and writes the result back.
// fn may return ErrUnchanged to leave the partition untouched; UpdateList then returns
// the list as read. Concurrent updates of the same key in this process are serialised.
func UpdateList[T any](ctx context.Context, p *Partitions, key string, fn func([]T) ([]T, error)) ([]T, error) {
	unlock := p.lock(key)
	defer unlock()

	items, err := loadList[T](ctx, p.store, key)
	if err != nil {
		return nil, err
	}

	updated, err := fn(items)
	if errors.Is(err, ErrUnchanged) {
		return items, nil
	}
	if err != nil {
		return nil, err
	}

	if err := saveList(ctx, p.store, key, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func loadList[T any](ctx context.Context, s PartitionStore, key string) ([]T, error) {
	blob, ok, err := s.Get(ctx, key)
	if err != nil {
		return nil, asUnavailable("get", key, err)
	}
	if !ok || len(blob) == 0 {
		return []T{}, nil
	}

	var items []T
	if err := json.Unmarshal(blob, &items); err != nil {
		return nil, apperr.StoreUnavailable("decode", key, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func saveList[T any](ctx context.Context, s PartitionStore, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	blob, err := json.Marshal(items)
	if err != nil {
		return apperr.StoreUnavailable("encode", key, err)
	}
	if err := s.Put(ctx, key, blob); err != nil {
		return asUnavailable("put", key, err)
	}
	return nil
}

// asUnavailable keeps typed errors from decorators and wraps raw backend errors.
func asUnavailable(op, key string, err error) error {
	if apperr.KindOf(err) != "" {
		return err
	}
	return apperr.StoreUnavailable(op, key, err)
}
