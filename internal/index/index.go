// Package index is a small persistent nearest-neighbour store. Vectors live
// in named collections, each with its own distance space, and every
// collection is saved as one GOB file.
package index

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// Errors returned by index operations.
var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrUnsupportedVersion = errors.New("unsupported index version")
	ErrUnknownSpace       = errors.New("unknown distance space")
)

// CurrentIndexVersion is the format version for compatibility checking.
// Increment this when making breaking changes to the collection format.
const CurrentIndexVersion = 1

// Space selects the distance function of a collection.
type Space string

// Supported spaces. Smaller distances mean closer vectors in all of them.
const (
	Cosine       Space = "cosine" // 1 - cos(a, b)
	L2           Space = "l2"     // squared euclidean distance
	InnerProduct Space = "ip"     // 1 - a·b
)

// ParseSpace validates a space name.
func ParseSpace(s string) (Space, error) {
	switch Space(s) {
	case Cosine, L2, InnerProduct:
		return Space(s), nil
	}
	return "", fmt.Errorf("%w: %q (valid: cosine, l2, ip)", ErrUnknownSpace, s)
}

var collectionName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Store manages the collections saved in one directory.
type Store struct {
	dir string
}

// Open returns a store rooted at dir. The directory is created on first
// write.
func Open(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory holding collection files.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".gob")
}

// CreateOrReplace starts an empty collection, discarding any existing one
// with the same name once the new one is saved.
func (s *Store) CreateOrReplace(name string, space Space) (*Collection, error) {
	if !collectionName.MatchString(name) {
		return nil, fmt.Errorf("invalid collection name %q", name)
	}
	if _, err := ParseSpace(string(space)); err != nil {
		return nil, err
	}
	return &Collection{
		path: s.path(name),
		data: collectionData{
			Version:   CurrentIndexVersion,
			Name:      name,
			Space:     space,
			CreatedAt: time.Now().UTC(),
		},
		positions: make(map[string]int),
	}, nil
}

// Collection loads a saved collection.
func (s *Store) Collection(name string) (*Collection, error) {
	path := s.path(name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, fmt.Errorf("opening collection file: %w", err)
	}
	defer f.Close()

	var data collectionData
	if err := gob.NewDecoder(f).Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding collection: %w", err)
	}
	if data.Version != CurrentIndexVersion {
		return nil, fmt.Errorf("%w: got %d, want %d (rebuild with 'tower index build')",
			ErrUnsupportedVersion, data.Version, CurrentIndexVersion)
	}

	c := &Collection{path: path, data: data, positions: make(map[string]int, len(data.IDs))}
	for i, id := range data.IDs {
		c.positions[id] = i
	}
	return c, nil
}

// Exists reports whether a collection has been saved.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// collectionData is the persisted form of a collection.
type collectionData struct {
	Version    int
	Name       string
	Space      Space
	Dimensions int
	CreatedAt  time.Time
	IDs        []string
	Vectors    [][]float32
}

// Collection is a set of (id, vector) entries searched with one distance
// function. Add and Query may be called from multiple goroutines.
type Collection struct {
	path      string
	mu        sync.RWMutex
	data      collectionData
	positions map[string]int
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.data.Name
}

// Space returns the distance space.
func (c *Collection) Space() Space {
	return c.data.Space
}

// Dimensions returns the vector size, or 0 for an empty collection.
func (c *Collection) Dimensions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Dimensions
}

// Len returns the number of entries.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data.IDs)
}

// Add inserts entries. An id that already exists has its vector replaced.
// The first added vector fixes the collection's dimensions.
func (c *Collection) Add(ids []string, embeddings [][]float32) error {
	if len(ids) != len(embeddings) {
		return fmt.Errorf("got %d ids and %d embeddings", len(ids), len(embeddings))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dims := c.data.Dimensions
	for i, emb := range embeddings {
		if dims == 0 {
			dims = len(emb)
		}
		if len(emb) == 0 || len(emb) != dims {
			return fmt.Errorf("%w: %s has %d values, want %d", ErrDimensionMismatch, ids[i], len(emb), dims)
		}
	}
	c.data.Dimensions = dims

	for i, id := range ids {
		vec := append([]float32(nil), embeddings[i]...)
		if pos, ok := c.positions[id]; ok {
			c.data.Vectors[pos] = vec
			continue
		}
		c.positions[id] = len(c.data.IDs)
		c.data.IDs = append(c.data.IDs, id)
		c.data.Vectors = append(c.data.Vectors, vec)
	}
	return nil
}

// Get returns a copy of the stored vector for id.
func (c *Collection) Get(id string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos, ok := c.positions[id]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), c.data.Vectors[pos]...), true
}

// Save persists the collection using GOB encoding.
func (c *Collection) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	// Write to a temp file first, then rename for atomicity
	tempPath := c.path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	if err := gob.NewEncoder(f).Encode(&c.data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("encoding collection: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing file: %w", err)
	}

	if err := os.Rename(tempPath, c.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Size returns the size of the saved collection file in bytes.
func (c *Collection) Size() (int64, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrCollectionNotFound
		}
		return 0, err
	}
	return info.Size(), nil
}
