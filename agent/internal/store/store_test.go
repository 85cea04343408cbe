package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

// backends returns one fresh instance of every KV implementation.
func backends(t *testing.T) map[string]KV {
	t.Helper()

	sq, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { sq.Close() })

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	rd := NewRedis(rdb, "test:")
	t.Cleanup(func() { rd.Close() })

	return map[string]KV{
		"memory": NewMemory(),
		"sqlite": sq,
		"redis":  rd,
	}
}

func TestKV_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := kv.Get(ctx, Pending, []byte("missing")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
			}

			if err := kv.Put(ctx, Pending, []byte("k"), []byte("v1")); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if err := kv.Put(ctx, Pending, []byte("k"), []byte("v2")); err != nil {
				t.Fatalf("Put() overwrite error = %v", err)
			}
			got, err := kv.Get(ctx, Pending, []byte("k"))
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != "v2" {
				t.Errorf("Get() = %q, want v2", got)
			}

			if err := kv.Delete(ctx, Pending, []byte("k")); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := kv.Get(ctx, Pending, []byte("k")); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after Delete err = %v, want ErrNotFound", err)
			}
			if err := kv.Delete(ctx, Pending, []byte("k")); err != nil {
				t.Errorf("Delete(missing) error = %v", err)
			}
		})
	}
}

func TestKV_CollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = kv.Put(ctx, Pending, []byte("same"), []byte("pending"))
			_ = kv.Put(ctx, Buckets, []byte("same"), []byte("bucket"))

			got, err := kv.Get(ctx, Buckets, []byte("same"))
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != "bucket" {
				t.Errorf("Buckets/same = %q, want bucket", got)
			}

			var n int
			_ = kv.Scan(ctx, Pending, func(_, _ []byte) error { n++; return nil })
			if n != 1 {
				t.Errorf("Scan(Pending) visited %d entries, want 1", n)
			}
		})
	}
}

func TestKV_ScanAllowsWrites(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"a", "b", "c"} {
				_ = kv.Put(ctx, Pending, []byte(k), []byte(k))
			}
			err := kv.Scan(ctx, Pending, func(key, _ []byte) error {
				return kv.Delete(ctx, Pending, key)
			})
			if err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			var left int
			_ = kv.Scan(ctx, Pending, func(_, _ []byte) error { left++; return nil })
			if left != 0 {
				t.Errorf("entries left after delete-in-scan = %d, want 0", left)
			}
		})
	}
}

func TestKV_ScanStopsOnError(t *testing.T) {
	ctx := context.Background()
	stop := errors.New("stop")
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = kv.Put(ctx, Buckets, []byte("1"), []byte("x"))
			_ = kv.Put(ctx, Buckets, []byte("2"), []byte("y"))
			var calls int
			err := kv.Scan(ctx, Buckets, func(_, _ []byte) error {
				calls++
				return stop
			})
			if !errors.Is(err, stop) {
				t.Errorf("Scan() err = %v, want stop", err)
			}
			if calls != 1 {
				t.Errorf("fn called %d times, want 1", calls)
			}
		})
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	s1, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	if err := s1.Put(ctx, Buckets, []byte("chain/1"), []byte("{}")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	s1.Close()

	s2, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close()
	if _, err := s2.Get(ctx, Buckets, []byte("chain/1")); err != nil {
		t.Errorf("Get after reopen error = %v", err)
	}
}

func TestMemory_ConcurrentOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.Put(ctx, Pending, []byte("k"), []byte("v"))
		}()
		go func() {
			defer wg.Done()
			_ = m.Scan(ctx, Pending, func(_, _ []byte) error { return nil })
		}()
	}
	wg.Wait()
	if m.Len(Pending) != 1 {
		t.Errorf("Len = %d, want 1", m.Len(Pending))
	}
}

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestTable_RoundTripAndSkipCorrupt(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tbl := NewTable[sample](m, Records)

	if _, ok, err := tbl.Get(ctx, "a"); ok || err != nil {
		t.Fatalf("Get(missing) = ok %v err %v, want false nil", ok, err)
	}
	if err := tbl.Put(ctx, "a", sample{Name: "a", Count: 1}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := tbl.Put(ctx, "b", sample{Name: "b", Count: 2}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	_ = m.Put(ctx, Records, []byte("c"), []byte("not json"))

	got, ok, err := tbl.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Get(a) = ok %v err %v", ok, err)
	}
	if got.Count != 1 {
		t.Errorf("Get(a).Count = %d, want 1", got.Count)
	}

	if _, _, err := tbl.Get(ctx, "c"); err == nil {
		t.Error("Get(corrupt) should return a decode error")
	}

	all, skipped, err := tbl.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 2 || skipped != 1 {
		t.Errorf("All() = %d entries, %d skipped; want 2, 1", len(all), skipped)
	}
}

// repeatingScan reports every entry twice, like an HSCAN that overlaps a rehash.
type repeatingScan struct{ KV }

func (r repeatingScan) Scan(ctx context.Context, c Collection, fn func(key, value []byte) error) error {
	return r.KV.Scan(ctx, c, func(key, value []byte) error {
		if err := fn(key, value); err != nil {
			return err
		}
		return fn(key, value)
	})
}

func TestTable_AllReportsEachKeyOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tbl := NewTable[sample](repeatingScan{m}, Buckets)
	for _, name := range []string{"a", "b", "c"} {
		if err := tbl.Put(ctx, name, sample{Name: name}); err != nil {
			t.Fatalf("Put(%s) error = %v", name, err)
		}
	}
	_ = m.Put(ctx, Buckets, []byte("d"), []byte("not json"))

	all, skipped, err := tbl.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("All() = %d entries, want 3", len(all))
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
}
