package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]Store {
	stores := map[string]Store{
		"file":   newFileStore(t),
		"sqlite": newSQLiteStore(t),
	}
	if url := os.Getenv("SWITCHYARD_TEST_REDIS_URL"); url != "" {
		rs, err := OpenRedis(context.Background(), url, "switchyard-test-"+t.Name())
		if err != nil {
			t.Fatalf("OpenRedis: %v", err)
		}
		t.Cleanup(func() { rs.Close() })
		stores["redis"] = rs
	}
	return stores
}

func TestStoreReadWrite(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Read(ctx, "queues/forward"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Read(missing) err = %v, want ErrNotFound", err)
			}
			ok, err := s.Exists(ctx, "queues/forward")
			if err != nil || ok {
				t.Fatalf("Exists(missing) = %v, %v", ok, err)
			}

			if err := s.Write(ctx, "queues/forward", []byte(`{"items":[]}`)); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if err := s.Write(ctx, "queues/forward", []byte(`{"items":[1]}`)); err != nil {
				t.Fatalf("Write: %v", err)
			}
			doc, err := s.Read(ctx, "queues/forward")
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if string(doc.Data) != `{"items":[1]}` {
				t.Fatalf("data = %s", doc.Data)
			}
			ok, _ = s.Exists(ctx, "queues/forward")
			if !ok {
				t.Fatal("Exists = false after write")
			}
		})
	}
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"chat/scout", "chat/atlas", "spawn/requests"} {
				if err := s.Write(ctx, k, []byte(`[]`)); err != nil {
					t.Fatalf("Write(%s): %v", k, err)
				}
			}
			keys, err := s.List(ctx, "chat/")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			want := []string{"chat/atlas", "chat/scout"}
			if !reflect.DeepEqual(keys, want) {
				t.Fatalf("List = %v, want %v", keys, want)
			}
		})
	}
}

func TestSQLiteVersionIncrements(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	for i := 0; i < 3; i++ {
		if err := s.Write(ctx, "usage/baseline", []byte(`{}`)); err != nil {
			t.Fatal(err)
		}
	}
	doc, err := s.Read(ctx, "usage/baseline")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != 3 {
		t.Fatalf("version = %d, want 3", doc.Version)
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"chat/scout", false},
		{"usage/log/2026-10-16", false},
		{"", true},
		{"/etc/passwd", true},
		{"chat/../../secret", true},
		{"chat//scout", true},
		{"chat/", true},
	}
	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateKey(%q) err = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}

func TestLoadTreatsCorruptionAsEmpty(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	if err := s.Write(ctx, "usage/baseline", []byte(`{not json`)); err != nil {
		t.Fatal(err)
	}

	v := map[string]int{"default": 1}
	found, err := Load(ctx, s, "usage/baseline", &v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Fatal("found = true for corrupt document")
	}
	if v["default"] != 1 {
		t.Fatalf("value was modified: %v", v)
	}

	doc, _ := s.Read(ctx, "usage/baseline")
	var out map[string]int
	if err := Decode(doc, &out); !IsCorrupt(err) {
		t.Fatalf("Decode err = %v, want CorruptionError", err)
	}
}

func TestLoadPropagatesIOError(t *testing.T) {
	ctx := context.Background()
	s := failingStore{err: &IOError{Op: "read", Key: "x", Err: errors.New("disk gone")}}
	var v map[string]any
	_, err := Load(ctx, s, "x", &v)
	if !IsIO(err) {
		t.Fatalf("Load err = %v, want IOError", err)
	}
}

func TestAppendNative(t *testing.T) {
	ctx := context.Background()
	for name, s := range map[string]Store{"file": newFileStore(t), "sqlite": newSQLiteStore(t)} {
		t.Run(name, func(t *testing.T) {
			for i := 1; i <= 3; i++ {
				if err := Append(ctx, s, "usage/log/2026-10-16", map[string]int{"n": i}); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}
			records, err := ReadRecords(ctx, s, "usage/log/2026-10-16")
			if err != nil {
				t.Fatalf("ReadRecords: %v", err)
			}
			if len(records) != 3 {
				t.Fatalf("records = %d, want 3", len(records))
			}
			var last map[string]int
			json.Unmarshal(records[2], &last)
			if last["n"] != 3 {
				t.Fatalf("last record = %v", last)
			}
		})
	}
}

func TestAppendFallbackQuarantinesCorruptLog(t *testing.T) {
	ctx := context.Background()
	fs := newFileStore(t)
	s := plainStore{fs}
	if err := s.Write(ctx, "outbox/scout", []byte(`garbage`)); err != nil {
		t.Fatal(err)
	}
	if err := Append(ctx, s, "outbox/scout", map[string]string{"m": "hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	records, err := ReadRecords(ctx, s, "outbox/scout")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	keys, _ := s.List(ctx, "outbox/")
	quarantined := 0
	for _, k := range keys {
		if IsQuarantineKey(k) {
			quarantined++
		}
	}
	if quarantined != 1 {
		t.Fatalf("quarantined copies = %d, want 1 (keys %v)", quarantined, keys)
	}
}

// plainStore hides the native append of the wrapped store.
type plainStore struct{ inner *FileStore }

func (p plainStore) Read(ctx context.Context, key string) (*Document, error) {
	return p.inner.Read(ctx, key)
}
func (p plainStore) Exists(ctx context.Context, key string) (bool, error) {
	return p.inner.Exists(ctx, key)
}
func (p plainStore) List(ctx context.Context, prefix string) ([]string, error) {
	return p.inner.List(ctx, prefix)
}
func (p plainStore) Write(ctx context.Context, key string, data []byte) error {
	return p.inner.Write(ctx, key, data)
}
func (p plainStore) Close() error { return nil }

type failingStore struct{ err error }

func (f failingStore) Read(context.Context, string) (*Document, error) { return nil, f.err }
func (f failingStore) Exists(context.Context, string) (bool, error) { return false, f.err }
func (f failingStore) List(context.Context, string) ([]string, error) { return nil, f.err }
func (f failingStore) Write(context.Context, string, []byte) error { return f.err }
func (f failingStore) Close() error { return nil }

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Options{Backend: "mongo"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
