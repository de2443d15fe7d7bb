package state

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Load decodes the msgpack record at key into out.
func Load(ctx context.Context, store Store, key string, out any) (bool, error) {
	if store == nil {
		return false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := msgpack.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// Save msgpack-encodes v under key.
func Save(ctx context.Context, store Store, key string, v any) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, payload)
}
