package recordstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDBStore is a durable Store backed by a local LevelDB database.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a LevelDB-backed store at path.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open record store at %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

// Close releases the underlying database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func (s *LevelDBStore) Put(_ context.Context, data []byte) (string, error) {
	cid := CID(data)

	// Write-once: content under this address is by definition identical.
	ok, err := s.db.Has([]byte(cid), nil)
	if err != nil {
		return "", fmt.Errorf("record store: check %s: %w", cid, err)
	}
	if ok {
		return cid, nil
	}

	if err := s.db.Put([]byte(cid), data, nil); err != nil {
		return "", fmt.Errorf("record store: write %s: %w", cid, err)
	}
	return cid, nil
}

func (s *LevelDBStore) Get(_ context.Context, cid string) ([]byte, error) {
	data, err := s.db.Get([]byte(cid), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record store: read %s: %w", cid, err)
	}
	return data, nil
}

func (s *LevelDBStore) Has(_ context.Context, cid string) (bool, error) {
	ok, err := s.db.Has([]byte(cid), nil)
	if err != nil {
		return false, fmt.Errorf("record store: check %s: %w", cid, err)
	}
	return ok, nil
}
