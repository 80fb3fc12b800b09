// Package artifact stores named, versioned binary files such as trained
// projector weights.
package artifact

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/matsen/twotower/internal/storage"
)

// RoleModel is the artifact role of trained model weights.
const RoleModel = "model"

// Errors returned by artifact stores.
var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrChecksumMismatch = errors.New("artifact checksum mismatch")
)

// Info describes one stored artifact version.
type Info struct {
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Version   int       `json:"version"`
	Digest    string    `json:"digest"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists artifacts under a (name, role) key. Each Store call adds a
// new version; Load returns the newest.
type Store interface {
	Store(ctx context.Context, name, role, path string) (Info, error)
	Load(ctx context.Context, name, role string) ([]byte, error)
	List(ctx context.Context) ([]Info, error)
}

// Digest returns the hex BLAKE2b-256 digest of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SQLiteStore keeps artifacts as blobs in the project database.
type SQLiteStore struct {
	db *storage.DB
}

// NewSQLiteStore creates a store backed by db.
func NewSQLiteStore(db *storage.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Store reads the file at path and records it as the next version.
func (s *SQLiteStore) Store(ctx context.Context, name, role, path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("reading artifact file: %w", err)
	}
	return s.StoreBytes(ctx, name, role, data)
}

// StoreBytes records data as the next version of (name, role).
func (s *SQLiteStore) StoreBytes(ctx context.Context, name, role string, data []byte) (Info, error) {
	rec, err := s.db.InsertArtifact(ctx, name, role, Digest(data), data)
	if err != nil {
		return Info{}, fmt.Errorf("storing artifact %s: %w", name, err)
	}
	return infoFromRecord(rec), nil
}

// Load returns the newest version of (name, role) after verifying its
// digest.
func (s *SQLiteStore) Load(ctx context.Context, name, role string) ([]byte, error) {
	rec, data, err := s.db.LatestArtifact(ctx, name, role)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s (role %s)", ErrArtifactNotFound, name, role)
	}
	if err != nil {
		return nil, err
	}
	if got := Digest(data); got != rec.Digest {
		return nil, fmt.Errorf("%w: %s version %d has digest %s, recorded %s",
			ErrChecksumMismatch, name, rec.Version, got, rec.Digest)
	}
	return data, nil
}

// List returns every stored version without data.
func (s *SQLiteStore) List(ctx context.Context) ([]Info, error) {
	records, err := s.db.ListArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, len(records))
	for i, rec := range records {
		infos[i] = infoFromRecord(rec)
	}
	return infos, nil
}

func infoFromRecord(rec storage.ArtifactRecord) Info {
	return Info{
		Name:      rec.Name,
		Role:      rec.Role,
		Version:   rec.Version,
		Digest:    rec.Digest,
		Size:      rec.Size,
		CreatedAt: rec.CreatedAt,
	}
}
