package index

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestParseSpace(t *testing.T) {
	for _, s := range []string{"cosine", "l2", "ip"} {
		if _, err := ParseSpace(s); err != nil {
			t.Errorf("ParseSpace(%q) error = %v", s, err)
		}
	}
	if _, err := ParseSpace("hamming"); !errors.Is(err, ErrUnknownSpace) {
		t.Errorf("expected ErrUnknownSpace, got %v", err)
	}
}

func TestCollection_AddAndQuery(t *testing.T) {
	store := Open(t.TempDir())
	c, err := store.CreateOrReplace("docs", Cosine)
	if err != nil {
		t.Fatalf("CreateOrReplace() error = %v", err)
	}

	err = c.Add(
		[]string{"a", "b", "c"},
		[][]float32{{1, 0}, {0.9, 0.1}, {-1, 0}},
	)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	matches, err := c.Query([]float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) != 2 || matches[0].ID != "a" || matches[1].ID != "b" {
		t.Errorf("unexpected matches %+v", matches)
	}
	if matches[0].Distance > 1e-9 {
		t.Errorf("identical vector distance = %v, want 0", matches[0].Distance)
	}

	all, _ := c.Query([]float32{1, 0}, 0)
	if len(all) != 3 || all[2].ID != "c" || math.Abs(all[2].Distance-2) > 1e-9 {
		t.Errorf("unexpected full result %+v", all)
	}
}

func TestCollection_Spaces(t *testing.T) {
	tests := []struct {
		space Space
		want  float64
	}{
		{Cosine, 1 - 0.6},
		{L2, 0.8},
		{InnerProduct, 1 - 0.6},
	}

	for _, tt := range tests {
		t.Run(string(tt.space), func(t *testing.T) {
			c, err := Open(t.TempDir()).CreateOrReplace("docs", tt.space)
			if err != nil {
				t.Fatal(err)
			}
			if err := c.Add([]string{"x"}, [][]float32{{0.6, 0.8}}); err != nil {
				t.Fatal(err)
			}
			m, err := c.Query([]float32{1, 0}, 1)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(m[0].Distance-tt.want) > 1e-6 {
				t.Errorf("distance = %v, want %v", m[0].Distance, tt.want)
			}
		})
	}
}

func TestCollection_AddErrors(t *testing.T) {
	c, _ := Open(t.TempDir()).CreateOrReplace("docs", Cosine)

	if err := c.Add([]string{"a"}, nil); err == nil {
		t.Error("expected error for length mismatch")
	}
	if err := c.Add([]string{"a", "b"}, [][]float32{{1, 0}, {1, 0, 0}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if c.Len() != 0 {
		t.Error("failed Add must not insert anything")
	}
	if _, err := c.Query([]float32{1}, 1); err != nil {
		t.Errorf("query on empty collection should succeed, got %v", err)
	}

	c.Add([]string{"a"}, [][]float32{{1, 0}})
	if _, err := c.Query([]float32{1, 0, 0}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestCollection_AddReplacesExistingID(t *testing.T) {
	c, _ := Open(t.TempDir()).CreateOrReplace("docs", L2)
	c.Add([]string{"a"}, [][]float32{{1, 0}})
	c.Add([]string{"a"}, [][]float32{{0, 1}})

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	vec, ok := c.Get("a")
	if !ok || vec[1] != 1 {
		t.Errorf("Get(a) = %v, %v", vec, ok)
	}
}

func TestCollection_GetReturnsCopy(t *testing.T) {
	c, _ := Open(t.TempDir()).CreateOrReplace("docs", Cosine)
	if err := c.Add([]string{"a"}, [][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}

	vec, _ := c.Get("a")
	vec[0] = 42

	again, ok := c.Get("a")
	if !ok || again[0] != 1 || again[1] != 0 {
		t.Errorf("stored vector changed through Get: %v", again)
	}
	matches, err := c.Query([]float32{1, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Distance > 1e-9 {
		t.Errorf("Query() = %+v, want a single exact match", matches)
	}
}

func TestCollection_ConcurrentAdd(t *testing.T) {
	c, _ := Open(t.TempDir()).CreateOrReplace("docs", Cosine)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			if err := c.Add([]string{id}, [][]float32{{float32(i), 1}}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 8 {
		t.Errorf("Len() = %d, want 8", c.Len())
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := Open(dir)

	if _, err := store.Collection("docs"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound, got %v", err)
	}

	c, _ := store.CreateOrReplace("docs", Cosine)
	c.Add([]string{"a", "b"}, [][]float32{{1, 0}, {0, 1}})
	if err := c.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !store.Exists("docs") {
		t.Error("Exists() should be true after Save")
	}
	if _, err := os.Stat(filepath.Join(dir, "docs.gob.tmp")); !os.IsNotExist(err) {
		t.Error("temp file should be removed after save")
	}

	loaded, err := store.Collection("docs")
	if err != nil {
		t.Fatalf("Collection() error = %v", err)
	}
	if loaded.Len() != 2 || loaded.Space() != Cosine || loaded.Dimensions() != 2 {
		t.Errorf("loaded collection mismatch: len %d space %s dims %d", loaded.Len(), loaded.Space(), loaded.Dimensions())
	}
	m, _ := loaded.Query([]float32{0, 1}, 1)
	if m[0].ID != "b" {
		t.Errorf("nearest = %s, want b", m[0].ID)
	}

	replaced, _ := store.CreateOrReplace("docs", Cosine)
	if replaced.Len() != 0 {
		t.Error("CreateOrReplace should start empty")
	}
	size, err := loaded.Size()
	if err != nil || size == 0 {
		t.Errorf("Size() = %d, %v", size, err)
	}
}

func TestCreateOrReplace_InvalidName(t *testing.T) {
	if _, err := Open(t.TempDir()).CreateOrReplace("../escape", Cosine); err == nil {
		t.Error("expected error for invalid name")
	}
	if _, err := Open(t.TempDir()).CreateOrReplace("docs", "hamming"); !errors.Is(err, ErrUnknownSpace) {
		t.Errorf("expected ErrUnknownSpace, got %v", err)
	}
}
