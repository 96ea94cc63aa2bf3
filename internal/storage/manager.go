// Package storage wires the relational job store and the Badger-backed
// blob and document stores behind one lifecycle.
package storage

import (
	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/common"
	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/storage/badger"
	"github.com/ternarybob/distill/internal/storage/sqlite"
)

// Manager implements interfaces.StorageManager. Jobs and chunks live
// in SQLite because completion counting needs transactional atomicity;
// blobs, indexed documents, and the message bus share one Badger DB.
type Manager struct {
	sqliteDB *sqlite.SQLiteDB
	badgerDB *badger.BadgerDB
	jobs     interfaces.JobStorage
	blobs    interfaces.BlobStorage
	docs     interfaces.DocumentStorage
	logger   arbor.ILogger
}

// NewManager opens both databases and constructs the storage backends
func NewManager(logger arbor.ILogger, config *common.StorageConfig) (*Manager, error) {
	sqliteDB, err := sqlite.NewSQLiteDB(logger, &config.SQLite)
	if err != nil {
		return nil, err
	}

	badgerDB, err := badger.NewBadgerDB(logger, &config.Badger)
	if err != nil {
		sqliteDB.Close()
		return nil, err
	}

	docs, err := badger.NewDocumentStorage(badgerDB, logger)
	if err != nil {
		badgerDB.Close()
		sqliteDB.Close()
		return nil, err
	}

	m := &Manager{
		sqliteDB: sqliteDB,
		badgerDB: badgerDB,
		jobs:     sqlite.NewJobStorage(sqliteDB, logger),
		blobs:    badger.NewBlobStorage(badgerDB, logger),
		docs:     docs,
		logger:   logger,
	}

	logger.Info().Msg("Storage manager initialized")
	return m, nil
}

// JobStorage returns the job and chunk store
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.jobs
}

// BlobStorage returns the blob store
func (m *Manager) BlobStorage() interfaces.BlobStorage {
	return m.blobs
}

// DocumentStorage returns the indexed document store
func (m *Manager) DocumentStorage() interfaces.DocumentStorage {
	return m.docs
}

// BadgerDB exposes the raw Badger handle for the message bus, which
// shares the same database
func (m *Manager) BadgerDB() *badgerdb.DB {
	return m.badgerDB.Store().Badger()
}

// Close releases both databases
func (m *Manager) Close() error {
	var firstErr error
	if err := m.docs.Close(); err != nil {
		firstErr = err
	}
	if err := m.badgerDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.sqliteDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
