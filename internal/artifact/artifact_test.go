package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/matsen/twotower/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "twotower.db"))
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db)
}

func TestDigest(t *testing.T) {
	a := Digest([]byte("weights"))
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(a))
	}
	if a != Digest([]byte("weights")) {
		t.Error("digest should be deterministic")
	}
	if a == Digest([]byte("weights2")) {
		t.Error("different data should give different digests")
	}
}

func TestSQLiteStore_StoreAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	path := filepath.Join(t.TempDir(), "query-projector-weights.generated.gob")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	info, err := s.Store(ctx, "query-projector-weights", RoleModel, path)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if info.Version != 1 || info.Size != 2 || info.Digest != Digest([]byte("v1")) {
		t.Errorf("unexpected info %+v", info)
	}

	if err := os.WriteFile(path, []byte("v2"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Store(ctx, "query-projector-weights", RoleModel, path); err != nil {
		t.Fatal(err)
	}

	data, err := s.Load(ctx, "query-projector-weights", RoleModel)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("Load() = %q, want newest version", data)
	}

	infos, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].Version != 2 {
		t.Errorf("List() = %+v", infos)
	}
}

func TestSQLiteStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Load(ctx, "doc-projector-weights", RoleModel); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("expected ErrArtifactNotFound, got %v", err)
	}
	if _, err := s.Store(ctx, "x", RoleModel, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSQLiteStore_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "twotower.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.InsertArtifact(ctx, "doc-projector-weights", RoleModel, "not-the-digest", []byte("data")); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSQLiteStore(db).Load(ctx, "doc-projector-weights", RoleModel); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}
}
