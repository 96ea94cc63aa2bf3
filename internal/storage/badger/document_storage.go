package badger

import (
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
)

// DocumentStorage persists indexed documents via badgerhold. A Badger
// sequence hands out the stable integer ids shared by the dense and
// sparse indices. Append-only; documents are never updated or deleted.
type DocumentStorage struct {
	db     *BadgerDB
	seq    *badgerdb.Sequence
	logger arbor.ILogger
}

// NewDocumentStorage creates a new indexed document storage instance
func NewDocumentStorage(db *BadgerDB, logger arbor.ILogger) (interfaces.DocumentStorage, error) {
	seq, err := db.Store().Badger().GetSequence([]byte("seq:indexed_documents"), 64)
	if err != nil {
		return nil, fmt.Errorf("failed to open document id sequence: %w", err)
	}

	return &DocumentStorage{
		db:     db,
		seq:    seq,
		logger: logger,
	}, nil
}

// NextID reserves the next stable document id
func (s *DocumentStorage) NextID() (int64, error) {
	id, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve document id: %w", err)
	}
	return int64(id), nil
}

// SaveDocument inserts an indexed document
func (s *DocumentStorage) SaveDocument(doc *models.IndexedDocument) error {
	if err := s.db.Store().Insert(doc.ID, doc); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			// Redelivered chunk already indexed under this id
			return nil
		}
		return fmt.Errorf("failed to save indexed document: %w", err)
	}
	return nil
}

// GetDocument fetches an indexed document by id
func (s *DocumentStorage) GetDocument(id int64) (*models.IndexedDocument, error) {
	var doc models.IndexedDocument
	if err := s.db.Store().Get(id, &doc); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get indexed document: %w", err)
	}
	return &doc, nil
}

// AllDocuments returns every indexed document ordered by id
func (s *DocumentStorage) AllDocuments() ([]*models.IndexedDocument, error) {
	var docs []*models.IndexedDocument
	if err := s.db.Store().Find(&docs, (&badgerhold.Query{}).SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list indexed documents: %w", err)
	}
	return docs, nil
}

// CountDocuments returns the indexed document count
func (s *DocumentStorage) CountDocuments() (int, error) {
	count, err := s.db.Store().Count(&models.IndexedDocument{}, &badgerhold.Query{})
	if err != nil {
		return 0, fmt.Errorf("failed to count indexed documents: %w", err)
	}
	return int(count), nil
}

// Close releases the id sequence
func (s *DocumentStorage) Close() error {
	return s.seq.Release()
}
