// Package subscriptions owns the many-to-many relation between users and
// channels within a tenant. It is purely relational: hierarchy expansion
// belongs to the dispatcher, channel existence checks to the caller.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/herald-notify/herald/internal/apperr"
	"github.com/herald-notify/herald/internal/docstore"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("subscriptions: document store is required")
	errMissingLocks = errors.New("subscriptions: key mutex is required")
)

// ServiceConfig describes the dependencies of the subscription ledger.
type ServiceConfig struct {
	Store  *docstore.Store
	Locks  *docstore.KeyMutex
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service is the subscription ledger.
type Service struct {
	store  *docstore.Store
	locks  *docstore.KeyMutex
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the subscription ledger.
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

// Subscribe joins a user to a channel. Repeating the call returns the
// existing membership unchanged. Channel existence is validated by the
// caller against the channel directory before invocation.
func (s *Service) Subscribe(ctx context.Context, tenantID, channelID, userID string) (Subscription, error) {
	key := Key(userID, channelID, tenantID)
	unlock := s.locks.Lock(key)
	defer unlock()

	var existing Subscription
	err := s.store.Get(ctx, Collection, key, &existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, docstore.ErrKeyNotFound) {
		return Subscription{}, fmt.Errorf("subscriptions: read %s: %w", key, err)
	}

	membership := Subscription{
		ID:        key,
		TenantID:  tenantID,
		ChannelID: channelID,
		UserID:    userID,
		CreatedAt: s.clock().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.Insert(ctx, Collection, key, membership); err != nil {
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return membership, nil
		}
		return Subscription{}, fmt.Errorf("subscriptions: insert %s: %w", key, err)
	}
	s.logger.Debug("subscription created",
		zap.String("user", userID),
		zap.String("channel", channelID),
		zap.String("tenant", tenantID))
	return membership, nil
}

// Unsubscribe removes a membership and fails with NotFound when it does
// not exist.
func (s *Service) Unsubscribe(ctx context.Context, tenantID, channelID, userID string) error {
	key := Key(userID, channelID, tenantID)
	err := s.store.Delete(ctx, Collection, key)
	if errors.Is(err, docstore.ErrKeyNotFound) {
		return fmt.Errorf("subscription %w", apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("subscriptions: delete %s: %w", key, err)
	}
	return nil
}

// ListForUser returns the user's memberships within a tenant.
func (s *Service) ListForUser(ctx context.Context, tenantID, userID string) ([]Subscription, error) {
	found, err := docstore.Find[Subscription](ctx, s.store, docstore.Query{
		Collection: Collection,
		Filters: []docstore.Filter{
			{Attribute: "tenant_id", Value: tenantID},
			{Attribute: "user_id", Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("subscriptions: list for user %q: %w", userID, err)
	}
	return found, nil
}

// ChannelsForUser returns the channel ids the user belongs to in a tenant.
func (s *Service) ChannelsForUser(ctx context.Context, tenantID, userID string) ([]string, error) {
	memberships, err := s.ListForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	channelIDs := make([]string, 0, len(memberships))
	for _, membership := range memberships {
		channelIDs = append(channelIDs, membership.ChannelID)
	}
	return channelIDs, nil
}

// SubscribersOf returns the user ids subscribed to exactly this channel,
// not to its descendants.
func (s *Service) SubscribersOf(ctx context.Context, tenantID, channelID string) ([]string, error) {
	found, err := docstore.Find[Subscription](ctx, s.store, docstore.Query{
		Collection: Collection,
		Filters: []docstore.Filter{
			{Attribute: "tenant_id", Value: tenantID},
			{Attribute: "channel_id", Value: channelID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("subscriptions: subscribers of %q: %w", channelID, err)
	}
	userIDs := make([]string, 0, len(found))
	for _, membership := range found {
		userIDs = append(userIDs, membership.UserID)
	}
	return userIDs, nil
}
