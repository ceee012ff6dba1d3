// Package tokens owns the per-user device-token sets that fan-out resolves
// delivery targets from.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/herald-notify/herald/internal/docstore"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("tokens: document store is required")
	errMissingLocks = errors.New("tokens: key mutex is required")
)

// ServiceConfig describes the dependencies of the token registry.
type ServiceConfig struct {
	Store  *docstore.Store
	Locks  *docstore.KeyMutex
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service is the token registry.
type Service struct {
	store  *docstore.Store
	locks  *docstore.KeyMutex
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the token registry.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Locks == nil {
		return nil, errMissingLocks
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, locks: cfg.Locks, clock: clock, logger: logger}, nil
}

// Register merges incoming device tokens into the user's stored set. When
// every incoming token is already present the record is left untouched,
// updated_at included. The read-modify-write is serialized per (user,
// tenant) key so two devices registering concurrently cannot lose each
// other's tokens.
func (s *Service) Register(ctx context.Context, tenantID, userID string, incoming []string) (TokenSet, error) {
	key := Key(userID, tenantID)
	unlock := s.locks.Lock(key)
	defer unlock()

	record := TokenSet{ID: key, TenantID: tenantID, UserID: userID}
	err := s.store.Get(ctx, Collection, key, &record)
	if err != nil && !errors.Is(err, docstore.ErrKeyNotFound) {
		return TokenSet{}, fmt.Errorf("tokens: read %s: %w", key, err)
	}

	existing := make(map[string]bool, len(record.DeviceTokens))
	for _, token := range record.DeviceTokens {
		existing[token] = true
	}
	added := 0
	for _, token := range incoming {
		if token == "" || existing[token] {
			continue
		}
		existing[token] = true
		added++
	}
	if added == 0 && err == nil {
		return record, nil
	}

	merged := make([]string, 0, len(existing))
	for token := range existing {
		merged = append(merged, token)
	}
	sort.Strings(merged)

	record.DeviceTokens = merged
	record.UpdatedAt = s.clock().UTC().Format(time.RFC3339Nano)
	if err := s.store.Put(ctx, Collection, key, record); err != nil {
		return TokenSet{}, fmt.Errorf("tokens: write %s: %w", key, err)
	}
	s.logger.Debug("device tokens registered",
		zap.String("user", userID),
		zap.String("tenant", tenantID),
		zap.Int("added", added),
		zap.Int("total", len(merged)))
	return record, nil
}

// TokensFor returns the user's current token set. A user that never
// registered has an empty set; absence is not an error at this layer.
func (s *Service) TokensFor(ctx context.Context, tenantID, userID string) ([]string, error) {
	var record TokenSet
	err := s.store.Get(ctx, Collection, Key(userID, tenantID), &record)
	if errors.Is(err, docstore.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tokens: read %s: %w", Key(userID, tenantID), err)
	}
	return record.DeviceTokens, nil
}
