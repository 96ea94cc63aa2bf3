package badger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/interfaces"
)

// BlobStorage is content-addressable storage for raw uploaded files.
// The key is the hex digest of the content, so storing the same bytes
// twice is a no-op and a blob can never be silently overwritten with
// different content.
type BlobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBlobStorage creates a new blob storage instance
func NewBlobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BlobStorage {
	return &BlobStorage{
		db:     db,
		logger: logger,
	}
}

// Put stores raw bytes and returns their content-addressed key
func (s *BlobStorage) Put(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])

	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(blobKey(key))
		if err == nil {
			return nil // Already stored, content-addressed keys are immutable
		}
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return txn.Set(blobKey(key), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}

	s.logger.Debug().Str("blob_key", key).Int("size", len(data)).Msg("Blob stored")
	return key, nil
}

// Get fetches blob bytes by key
func (s *BlobStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.Store().Badger().View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(blobKey(key))
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return interfaces.ErrNotFound
			}
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return data, nil
}

// Exists reports whether a blob key is present
func (s *BlobStorage) Exists(ctx context.Context, key string) (bool, error) {
	err := s.db.Store().Badger().View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(blobKey(key))
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func blobKey(key string) []byte {
	return []byte("blob:" + key)
}
