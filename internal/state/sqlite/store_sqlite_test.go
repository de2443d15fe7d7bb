package sqlite

import (
	"bytes"
	"context"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	value := []byte{0x82, 0xa1, 'k', 0x00, 0xff}
	if err := store.Set(ctx, "key", value); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	val, ok, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || !bytes.Equal(val, value) {
		t.Fatalf("unexpected value: %v (ok=%v)", val, ok)
	}
	if err := store.Set(ctx, "key", []byte("second")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	val, _, _ = store.Get(ctx, "key")
	if string(val) != "second" {
		t.Fatalf("expected overwrite, got %q", val)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestStoreKeys(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, key := range []string{"paper:b", "paper:a", "quote:x"} {
		if err := store.Set(ctx, key, []byte("v")); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	keys, err := store.Keys(ctx, "paper:")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "paper:a" || keys[1] != "paper:b" {
		t.Fatalf("unexpected keys %v", keys)
	}
}
