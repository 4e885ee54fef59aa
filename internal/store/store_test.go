package store

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// backends returns every KV implementation that can run in this
// environment. Redis is only exercised when CHATSYNC_TEST_REDIS is set.
func backends(t *testing.T) map[string]KV {
	t.Helper()
	kvs := map[string]KV{
		"sqlite": testDB(t),
		"memory": NewMemory(),
	}
	if addr := os.Getenv("CHATSYNC_TEST_REDIS"); addr != "" {
		r, err := OpenRedis(context.Background(), addr, 15)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			keys, _ := r.ListKeys(context.Background(), "test:")
			_ = r.RemoveAll(context.Background(), keys)
			_ = r.Close()
		})
		kvs["redis"] = r
	}
	return kvs
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate once.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2", result.Version)
	}
	if result.Dirty {
		t.Error("schema should not be dirty")
	}
}

func TestGetMissingKey(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			v, err := kv.Get(ctx, "test:missing")
			if err != nil {
				t.Fatal(err)
			}
			if v != nil {
				t.Errorf("Get(missing) = %q, want nil", v)
			}
		})
	}
}

func TestSetOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := kv.Set(ctx, "test:a", []byte("one")); err != nil {
				t.Fatal(err)
			}
			if err := kv.Set(ctx, "test:a", []byte("two")); err != nil {
				t.Fatal(err)
			}
			v, err := kv.Get(ctx, "test:a")
			if err != nil {
				t.Fatal(err)
			}
			if string(v) != "two" {
				t.Errorf("Get = %q, want two", v)
			}
		})
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = kv.Set(ctx, "test:a", []byte("x"))
			if err := kv.Remove(ctx, "test:a"); err != nil {
				t.Fatal(err)
			}
			// Removing again is fine.
			if err := kv.Remove(ctx, "test:a"); err != nil {
				t.Fatal(err)
			}
			v, _ := kv.Get(ctx, "test:a")
			if v != nil {
				t.Errorf("key still present: %q", v)
			}
		})
	}
}

func TestListKeysAndRemoveAll(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"test:p:b", "test:p:a", "test:q:a", "test:p_x"} {
				if err := kv.Set(ctx, k, []byte(k)); err != nil {
					t.Fatal(err)
				}
			}

			keys, err := kv.ListKeys(ctx, "test:p:")
			if err != nil {
				t.Fatal(err)
			}
			want := []string{"test:p:a", "test:p:b"}
			if !reflect.DeepEqual(keys, want) {
				t.Fatalf("ListKeys = %v, want %v", keys, want)
			}

			if err := kv.RemoveAll(ctx, keys); err != nil {
				t.Fatal(err)
			}
			keys, _ = kv.ListKeys(ctx, "test:")
			want = []string{"test:p_x", "test:q:a"}
			if !reflect.DeepEqual(keys, want) {
				t.Errorf("after RemoveAll = %v, want %v", keys, want)
			}
		})
	}
}

func TestListKeysPrefixIsLiteral(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = kv.Set(ctx, "test:a%b", []byte("1"))
			_ = kv.Set(ctx, "test:axb", []byte("2"))

			keys, err := kv.ListKeys(ctx, "test:a%")
			if err != nil {
				t.Fatal(err)
			}
			if len(keys) != 1 || keys[0] != "test:a%b" {
				t.Errorf("ListKeys(test:a%%) = %v", keys)
			}
		})
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("abc")
	_ = m.Set(ctx, "k", buf)
	buf[0] = 'z'

	v, _ := m.Get(ctx, "k")
	if string(v) != "abc" {
		t.Errorf("stored value aliased caller slice: %q", v)
	}
	v[1] = 'z'
	v2, _ := m.Get(ctx, "k")
	if string(v2) != "abc" {
		t.Errorf("returned value aliased store: %q", v2)
	}
}

func TestDBPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	v, err := db.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "v" {
		t.Errorf("after reopen Get = %q, want v", v)
	}
}

func TestGlobEscape(t *testing.T) {
	got := globEscape(`a*b?[c]\`)
	want := `a\*b\?\[c\]\\`
	if got != want {
		t.Errorf("globEscape = %q, want %q", got, want)
	}
}

func TestSortedUniqueDropsRepeatedScanKeys(t *testing.T) {
	got := sortedUnique([]string{"k:b", "k:a", "k:b", "k:c", "k:a"})
	want := []string{"k:a", "k:b", "k:c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sortedUnique = %v, want %v", got, want)
	}
	if got := sortedUnique(nil); len(got) != 0 {
		t.Errorf("sortedUnique(nil) = %v", got)
	}
}
