package store

import (
	"context"
	"fmt"
	"testing"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	ms := NewMemory()

	if _, err := ms.Get(ctx, "absent"); err != ErrNotFound {
		t.Errorf("Get on empty store returned %v, expected ErrNotFound", err)
	}

	err := ms.Put(ctx, "alpha", []byte("hello world"))
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	data, err := ms.Get(ctx, "alpha")
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	if string(data) != "hello world" {
		t.Errorf("Get returned %q", data)
	}

	// values are immutable
	err = ms.Put(ctx, "alpha", []byte("other"))
	if err != ErrKeyExists {
		t.Errorf("second Put returned %v, expected ErrKeyExists", err)
	}

	// deletion is idempotent
	if err := ms.Delete(ctx, "alpha"); err != nil {
		t.Errorf("Delete returned %s", err.Error())
	}
	if err := ms.Delete(ctx, "alpha"); err != nil {
		t.Errorf("second Delete returned %s", err.Error())
	}
	if _, err := ms.Get(ctx, "alpha"); err != ErrNotFound {
		t.Errorf("Get after Delete returned %v, expected ErrNotFound", err)
	}
}

func TestMemoryListPrefix(t *testing.T) {
	ctx := context.Background()
	ms := NewMemory()
	for i := 0; i < 5; i++ {
		ms.Put(ctx, fmt.Sprintf("DE4160-%d", i), []byte("x"))
	}
	ms.Put(ctx, "GB5000-0", []byte("x"))

	keys, err := ms.ListPrefix(ctx, "DE4160-")
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	if len(keys) != 5 {
		t.Errorf("ListPrefix returned %d keys, expected 5", len(keys))
	}
}

func TestPrefixStore(t *testing.T) {
	ctx := context.Background()
	ms := NewMemory()
	cache := NewWithPrefix(ms, "respcache/")

	if err := cache.Put(ctx, "DE416080-9-6", []byte("payload")); err != nil {
		t.Fatalf("received %s", err.Error())
	}
	// the underlying store sees the prefixed key
	if _, err := ms.Get(ctx, "respcache/DE416080-9-6"); err != nil {
		t.Errorf("underlying Get returned %v", err)
	}
	// the wrapper strips the prefix again
	data, err := cache.Get(ctx, "DE416080-9-6")
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	if string(data) != "payload" {
		t.Errorf("Get returned %q", data)
	}

	keys, err := cache.ListPrefix(ctx, "DE416080-")
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	if len(keys) != 1 || keys[0] != "DE416080-9-6" {
		t.Errorf("ListPrefix returned %v", keys)
	}

	if err := cache.Delete(ctx, "DE416080-9-6"); err != nil {
		t.Errorf("Delete returned %s", err.Error())
	}
	if _, err := ms.Get(ctx, "respcache/DE416080-9-6"); err != ErrNotFound {
		t.Errorf("underlying Get after Delete returned %v", err)
	}
}

func TestFileSystemKeyValidation(t *testing.T) {
	ctx := context.Background()
	fs := NewFileSystem(t.TempDir())

	var table = []struct {
		key string
		err error
	}{
		{"DE416080-9-6", nil},
		{"bad/key", ErrKeyContainsSlash},
		{"bad key", ErrKeyContainsWhiteSpace},
		{"bad\x01key", ErrKeyContainsControlChar},
	}
	for _, tab := range table {
		err := fs.Put(ctx, tab.key, []byte("zzz"))
		if err != tab.err {
			t.Errorf("Put(%q) returned %v, expected %v", tab.key, err, tab.err)
		}
	}

	data, err := fs.Get(ctx, "DE416080-9-6")
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	if string(data) != "zzz" {
		t.Errorf("Get returned %q", data)
	}
}
