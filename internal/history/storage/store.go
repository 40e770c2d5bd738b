// Package storage persists change histories in badger so undo and redo work
// across processes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stagehand/internal/history"
	"stagehand/internal/staging"
	"stagehand/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type Snapshot = history.Snapshot[staging.Command]

type Store struct {
	store   *storage.BadgerStore
	session string
}

func NewStore(db *badger.DB) (*Store, error) {
	compressor, err := storage.NewCompressor(storage.DefaultCompressionOptions())
	if err != nil {
		return nil, err
	}
	return &Store{
		store:   storage.NewBadgerStore(db, "history", compressor),
		session: uuid.New().String(),
	}, nil
}

// Session identifies this process in saved records.
func (s *Store) Session() string { return s.session }

// historyEntity is the stored record of one repository's history.
type historyEntity struct {
	Root    string            `json:"root"`
	Session string            `json:"session"`
	SavedAt time.Time         `json:"saved_at"`
	Entries []staging.Command `json:"entries"`
	Cursor  int               `json:"cursor"`
}

func (h *historyEntity) GetID() string {
	return h.Root
}

func (s *Store) LoadHistory(ctx context.Context, root string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}

	var entity historyEntity
	err := s.store.Get(root, &entity)
	if errors.Is(err, storage.ErrNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("loading history for %s: %w", root, err)
	}
	return Snapshot{Entries: entity.Entries, Cursor: entity.Cursor}, true, nil
}

// SaveHistory updates the saved record of root, creating it on first save.
func (s *Store) SaveHistory(ctx context.Context, root string, snapshot Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entity := &historyEntity{
		Root:    root,
		Session: s.session,
		SavedAt: time.Now().UTC(),
		Entries: snapshot.Entries,
		Cursor:  snapshot.Cursor,
	}
	err := s.store.Update(entity)
	if errors.Is(err, storage.ErrNotFound) {
		err = s.store.Create(entity)
	}
	if err != nil {
		return fmt.Errorf("saving history for %s: %w", root, err)
	}
	return nil
}

// ForgetHistory drops the saved history of a repository.
func (s *Store) ForgetHistory(ctx context.Context, root string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.store.Delete(root)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// Saved describes one stored history.
type Saved struct {
	Root    string
	Session string
	SavedAt time.Time
	Entries int
	Cursor  int
}

// Saved lists every stored history, ordered by root.
func (s *Store) Saved(ctx context.Context) ([]Saved, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entities []historyEntity
	if err := s.store.List(&entities); err != nil {
		return nil, err
	}
	saved := make([]Saved, len(entities))
	for i, e := range entities {
		saved[i] = Saved{
			Root:    e.Root,
			Session: e.Session,
			SavedAt: e.SavedAt,
			Entries: len(e.Entries),
			Cursor:  e.Cursor,
		}
	}
	return saved, nil
}
