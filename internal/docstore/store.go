// Package docstore provides the generic keyed JSON document store consumed
// by every herald service. Documents live in a single table keyed by
// (collection, key); attribute queries go through SQLite's json_extract so
// callers never depend on the physical schema.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrKeyNotFound indicates the requested document does not exist.
	ErrKeyNotFound = errors.New("docstore: key not found")
	// ErrDuplicateKey indicates an insert collided with an existing document.
	ErrDuplicateKey = errors.New("docstore: duplicate key")

	errMissingDatabase = errors.New("docstore: database handle is required")

	attributePattern = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// StoreConfig describes the dependencies required by the document store.
type StoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Store persists JSON documents keyed by collection and key.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore constructs a Store after validating its dependencies.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, logger: logger}, nil
}

// Put inserts or replaces the document stored under (collection, key).
func (s *Store) Put(ctx context.Context, collection, key string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: marshal %s/%s: %w", collection, key, err)
	}
	record := Document{Collection: collection, Key: key, Data: string(payload)}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"data"}),
		}).
		Create(&record).Error
}

// Insert stores a new document and fails with ErrDuplicateKey when the key
// is already present.
func (s *Store) Insert(ctx context.Context, collection, key string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: marshal %s/%s: %w", collection, key, err)
	}
	record := Document{Collection: collection, Key: key, Data: string(payload)}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_key"}},
			DoNothing: true,
		}).
		Create(&record)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, collection, key)
	}
	return nil
}

// Get loads the document stored under (collection, key) into out.
func (s *Store) Get(ctx context.Context, collection, key string, out any) error {
	var record Document
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_key = ?", collection, key).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s/%s", ErrKeyNotFound, collection, key)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(record.Data), out); err != nil {
		return fmt.Errorf("docstore: decode %s/%s: %w", collection, key, err)
	}
	return nil
}

// Exists reports whether a document is stored under (collection, key).
func (s *Store) Exists(ctx context.Context, collection, key string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Document{}).
		Where("collection = ? AND doc_key = ?", collection, key).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Delete removes the document stored under (collection, key) and fails with
// ErrKeyNotFound when there is nothing to remove.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	result := s.db.WithContext(ctx).
		Where("collection = ? AND doc_key = ?", collection, key).
		Delete(&Document{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrKeyNotFound, collection, key)
	}
	return nil
}

// Filter matches one top-level JSON attribute of the stored document,
// either on equality (Value) or set membership (Values, which takes
// precedence when non-empty).
type Filter struct {
	Attribute string
	Value     string
	Values    []string
}

// Query describes an attribute-filtered lookup over one collection.
type Query struct {
	Collection string
	Filters    []Filter
	// OrderByDesc orders results by the named attribute, descending.
	OrderByDesc string
	Limit       int
}

func (q Query) validate() error {
	if q.Collection == "" {
		return errors.New("docstore: query collection is required")
	}
	if len(q.Filters) == 0 {
		return errors.New("docstore: at least one filter is required")
	}
	for _, filter := range q.Filters {
		if !attributePattern.MatchString(filter.Attribute) {
			return fmt.Errorf("docstore: invalid query attribute %q", filter.Attribute)
		}
	}
	if q.OrderByDesc != "" && !attributePattern.MatchString(q.OrderByDesc) {
		return fmt.Errorf("docstore: invalid order attribute %q", q.OrderByDesc)
	}
	return nil
}

// FindAll decodes every document in a collection into a []T, ordered by key.
func FindAll[T any](ctx context.Context, s *Store, collection string) ([]T, error) {
	var records []Document
	err := s.db.WithContext(ctx).
		Model(&Document{}).
		Where("collection = ?", collection).
		Order("doc_key").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return decodeAll[T](s, records), nil
}

// Find runs a Query and decodes every matching document into a []T.
func Find[T any](ctx context.Context, s *Store, query Query) ([]T, error) {
	if err := query.validate(); err != nil {
		return nil, err
	}

	tx := s.db.WithContext(ctx).
		Model(&Document{}).
		Where("collection = ?", query.Collection)

	for _, filter := range query.Filters {
		selector := fmt.Sprintf("json_extract(data, '$.%s')", filter.Attribute)
		if len(filter.Values) > 0 {
			tx = tx.Where(selector+" IN ?", filter.Values)
		} else {
			tx = tx.Where(selector+" = ?", filter.Value)
		}
	}
	if query.OrderByDesc != "" {
		tx = tx.Order(fmt.Sprintf("json_extract(data, '$.%s') DESC", query.OrderByDesc))
	}
	if query.Limit > 0 {
		tx = tx.Limit(query.Limit)
	}

	var records []Document
	if err := tx.Find(&records).Error; err != nil {
		return nil, err
	}
	return decodeAll[T](s, records), nil
}

// decodeAll unmarshals stored documents, skipping and logging any that no
// longer match the expected shape. Persisted data may have been written
// out-of-band, so shape is validated on read rather than assumed.
func decodeAll[T any](s *Store, records []Document) []T {
	results := make([]T, 0, len(records))
	for _, record := range records {
		var decoded T
		if err := json.Unmarshal([]byte(record.Data), &decoded); err != nil {
			s.logger.Warn("skipping undecodable document",
				zap.String("collection", record.Collection),
				zap.String("key", record.Key),
				zap.Error(err))
			continue
		}
		results = append(results, decoded)
	}
	return results
}
