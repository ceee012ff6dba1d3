// Package notifications contains the fan-out dispatcher and the history
// reader. The dispatcher owns no state of its own: it resolves targets
// through the channel directory, subscription ledger, and token registry,
// invokes the push collaborator, and writes delivery records.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/herald-notify/herald/internal/apperr"
	"github.com/herald-notify/herald/internal/channels"
	"github.com/herald-notify/herald/internal/docstore"
	"github.com/herald-notify/herald/internal/push"
	"github.com/herald-notify/herald/internal/subscriptions"
	"github.com/herald-notify/herald/internal/tokens"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// resolveConcurrency bounds parallel subscriber and token lookups during
// fan-out resolution.
const resolveConcurrency = 8

var (
	errMissingStore         = errors.New("notifications: document store is required")
	errMissingChannels      = errors.New("notifications: channel directory is required")
	errMissingSubscriptions = errors.New("notifications: subscription ledger is required")
	errMissingTokens        = errors.New("notifications: token registry is required")
	errMissingPusher        = errors.New("notifications: pusher is required")
	errMissingIDProvider    = errors.New("notifications: id provider is required")
)

// IDProvider issues unique, time-sortable record identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dispatcher's collaborators.
type ServiceConfig struct {
	Store         *docstore.Store
	Channels      *channels.Service
	Subscriptions *subscriptions.Service
	Tokens        *tokens.Service
	Pusher        push.Pusher
	IDProvider    IDProvider
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Service dispatches notifications and reads delivery history.
type Service struct {
	store         *docstore.Store
	channels      *channels.Service
	subscriptions *subscriptions.Service
	tokens        *tokens.Service
	pusher        push.Pusher
	idProvider    IDProvider
	clock         func() time.Time
	logger        *zap.Logger
}

// NewService constructs the dispatcher after validating its collaborators.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Channels == nil {
		return nil, errMissingChannels
	}
	if cfg.Subscriptions == nil {
		return nil, errMissingSubscriptions
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokens
	}
	if cfg.Pusher == nil {
		return nil, errMissingPusher
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:         cfg.Store,
		channels:      cfg.Channels,
		subscriptions: cfg.Subscriptions,
		tokens:        cfg.Tokens,
		pusher:        cfg.Pusher,
		idProvider:    cfg.IDProvider,
		clock:         clock,
		logger:        logger,
	}, nil
}

// SendToChannels resolves the targets to a deduplicated token set, pushes
// once, and writes one delivery record per original target channel. Any
// missing target fails the whole request before dispatch; push failures
// never do.
func (s *Service) SendToChannels(ctx context.Context, request ChannelSend) ([]Notification, error) {
	if len(request.ChannelIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one channel id is required", apperr.ErrInvalidRequest)
	}

	// Validate every target before any side effect so a partially bad
	// request never produces a partial broadcast.
	for _, channelID := range request.ChannelIDs {
		exists, err := s.channels.Exists(ctx, channelID)
		if err != nil {
			return nil, fmt.Errorf("notifications: check channel %q: %w", channelID, err)
		}
		if !exists {
			return nil, fmt.Errorf("channel %q %w", channelID, apperr.ErrNotFound)
		}
	}

	expanded, err := s.expandTargets(ctx, request.ChannelIDs, request.IncludeDescendants)
	if err != nil {
		return nil, err
	}

	deviceTokens, err := s.resolveTokens(ctx, request.TenantID, expanded)
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, deviceTokens, request.Title, request.Body)

	if !request.Persist {
		return nil, nil
	}

	// One record per original target channel, not per expanded channel or
	// device: history mirrors the addressing the sender expressed, and it
	// is written even when no tokens resolved.
	sentAt := s.clock().UTC().Format(time.RFC3339Nano)
	records := make([]Notification, 0, len(request.ChannelIDs))
	for _, channelID := range request.ChannelIDs {
		id, err := s.idProvider.NewID()
		if err != nil {
			return nil, fmt.Errorf("notifications: new record id: %w", err)
		}
		record := Notification{
			ID:        id,
			TenantID:  request.TenantID,
			ChannelID: channelID,
			Title:     request.Title,
			Body:      request.Body,
			SentBy:    request.Sender,
			SentAt:    sentAt,
		}
		if err := s.store.Insert(ctx, Collection, record.ID, record); err != nil {
			return nil, fmt.Errorf("notifications: persist record %q: %w", record.ID, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// SendDirect delivers to a single user's devices. A user that never
// registered a token cannot be addressed.
func (s *Service) SendDirect(ctx context.Context, request DirectSend) (Notification, error) {
	if request.UserID == "" {
		return Notification{}, fmt.Errorf("%w: a user id is required", apperr.ErrInvalidRequest)
	}

	deviceTokens, err := s.tokens.TokensFor(ctx, request.TenantID, request.UserID)
	if err != nil {
		return Notification{}, err
	}
	if len(deviceTokens) == 0 {
		return Notification{}, fmt.Errorf("user %q has no registered devices: %w",
			request.UserID, apperr.ErrPreconditionRequired)
	}

	s.dispatch(ctx, deviceTokens, request.Title, request.Body)

	id, err := s.idProvider.NewID()
	if err != nil {
		return Notification{}, fmt.Errorf("notifications: new record id: %w", err)
	}
	record := Notification{
		ID:       id,
		TenantID: request.TenantID,
		// The addressing field carries the user id for direct sends.
		ChannelID: request.UserID,
		Title:     request.Title,
		Body:      request.Body,
		SentBy:    request.Sender,
		SentAt:    s.clock().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.Insert(ctx, Collection, record.ID, record); err != nil {
		return Notification{}, fmt.Errorf("notifications: persist record %q: %w", record.ID, err)
	}
	return record, nil
}

// expandTargets unions the original targets with their descendant closures
// when requested. The result preserves no particular order.
func (s *Service) expandTargets(ctx context.Context, channelIDs []string, includeDescendants bool) ([]string, error) {
	seen := make(map[string]bool, len(channelIDs))
	expanded := make([]string, 0, len(channelIDs))
	for _, channelID := range channelIDs {
		if seen[channelID] {
			continue
		}
		seen[channelID] = true
		expanded = append(expanded, channelID)
	}
	if !includeDescendants {
		return expanded, nil
	}
	for _, channelID := range channelIDs {
		closure, err := s.channels.Descendants(ctx, channelID)
		if err != nil {
			return nil, err
		}
		for _, descendantID := range closure {
			if seen[descendantID] {
				continue
			}
			seen[descendantID] = true
			expanded = append(expanded, descendantID)
		}
	}
	return expanded, nil
}

// resolveTokens fans out across channels and users concurrently and unions
// the results. Set union is order-independent, so the outcome does not
// depend on fetch completion order. No per-key locks are held here.
func (s *Service) resolveTokens(ctx context.Context, tenantID string, channelIDs []string) ([]string, error) {
	var mu sync.Mutex
	userSet := make(map[string]bool)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(resolveConcurrency)
	for _, channelID := range channelIDs {
		channelID := channelID
		group.Go(func() error {
			subscribers, err := s.subscriptions.SubscribersOf(groupCtx, tenantID, channelID)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, userID := range subscribers {
				userSet[userID] = true
			}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	tokenSet := make(map[string]bool)
	group, groupCtx = errgroup.WithContext(ctx)
	group.SetLimit(resolveConcurrency)
	for userID := range userSet {
		userID := userID
		group.Go(func() error {
			deviceTokens, err := s.tokens.TokensFor(groupCtx, tenantID, userID)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, token := range deviceTokens {
				tokenSet[token] = true
			}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	deviceTokens := make([]string, 0, len(tokenSet))
	for token := range tokenSet {
		deviceTokens = append(deviceTokens, token)
	}
	return deviceTokens, nil
}

// dispatch performs the single best-effort multicast call. Provider
// failures are logged and swallowed: the caller observes success once
// resolution and persistence succeed, independent of delivery outcome.
func (s *Service) dispatch(ctx context.Context, deviceTokens []string, title, body string) {
	if len(deviceTokens) == 0 {
		return
	}
	report, err := s.pusher.SendMulticast(ctx, deviceTokens, push.Message{Title: title, Body: body})
	if err != nil {
		s.logger.Warn("push dispatch failed", zap.Int("tokens", len(deviceTokens)), zap.Error(err))
		return
	}
	s.logger.Info("notification dispatched",
		zap.Int("delivered", report.SuccessCount),
		zap.Int("failed", report.FailureCount))
}
