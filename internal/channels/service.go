// Package channels owns channel identity, the parent/child hierarchy, and
// descendant expansion for fan-out.
package channels

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/herald-notify/herald/internal/apperr"
	"github.com/herald-notify/herald/internal/docstore"
	"go.uber.org/zap"
)

// HeartbeatChannelID is the channel seeded at startup for the periodic
// heartbeat sender.
const HeartbeatChannelID = "heartbeat"

// maxTraversalDepth bounds descendant expansion. Creation-time validation
// prevents cycles, but persisted data written out-of-band may not be
// consistent, so traversal guards itself as well.
const maxTraversalDepth = 32

var (
	errMissingStore = errors.New("channels: document store is required")

	idPattern = regexp.MustCompile(`^[a-z0-9._-]+$`)
)

// ServiceConfig describes the dependencies of the channel directory.
type ServiceConfig struct {
	Store  *docstore.Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service is the channel directory.
type Service struct {
	store  *docstore.Store
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the channel directory.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, clock: clock, logger: logger}, nil
}

// Create persists a new channel. The id namespace is global: a duplicate id
// in any tenant is a conflict. A parent, when given, must exist and must
// not be the channel itself.
func (s *Service) Create(ctx context.Context, channel Channel) (Channel, error) {
	if !idPattern.MatchString(channel.ID) {
		return Channel{}, fmt.Errorf("%w: invalid channel id %q", apperr.ErrInvalidRequest, channel.ID)
	}
	if channel.ParentID != "" {
		if channel.ParentID == channel.ID {
			return Channel{}, fmt.Errorf("%w: channel cannot be its own parent", apperr.ErrInvalidRequest)
		}
		parentExists, err := s.store.Exists(ctx, Collection, channel.ParentID)
		if err != nil {
			return Channel{}, fmt.Errorf("channels: check parent %q: %w", channel.ParentID, err)
		}
		if !parentExists {
			return Channel{}, fmt.Errorf("parent channel %q %w", channel.ParentID, apperr.ErrNotFound)
		}
	}

	channel.UpdatedAt = s.clock().UTC().Format(time.RFC3339Nano)
	if err := s.store.Insert(ctx, Collection, channel.ID, channel); err != nil {
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return Channel{}, fmt.Errorf("channel %q %w", channel.ID, apperr.ErrConflict)
		}
		return Channel{}, fmt.Errorf("channels: create %q: %w", channel.ID, err)
	}
	return channel, nil
}

// Get loads one channel by id.
func (s *Service) Get(ctx context.Context, channelID string) (Channel, error) {
	var channel Channel
	err := s.store.Get(ctx, Collection, channelID, &channel)
	if errors.Is(err, docstore.ErrKeyNotFound) {
		return Channel{}, fmt.Errorf("channel %q %w", channelID, apperr.ErrNotFound)
	}
	if err != nil {
		return Channel{}, fmt.Errorf("channels: get %q: %w", channelID, err)
	}
	return channel, nil
}

// Exists reports whether the channel id is registered.
func (s *Service) Exists(ctx context.Context, channelID string) (bool, error) {
	return s.store.Exists(ctx, Collection, channelID)
}

// Delete removes a channel. Children keep their now-dangling parent id and
// subscriptions to the channel remain; readers tolerate both.
func (s *Service) Delete(ctx context.Context, channelID string) error {
	err := s.store.Delete(ctx, Collection, channelID)
	if errors.Is(err, docstore.ErrKeyNotFound) {
		return fmt.Errorf("channel %q %w", channelID, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("channels: delete %q: %w", channelID, err)
	}
	return nil
}

// List returns the channels belonging to a tenant, excluding private
// channels unless includePrivate is set. Authorization for viewing private
// channels is the caller's concern.
func (s *Service) List(ctx context.Context, tenantID string, includePrivate bool) ([]Channel, error) {
	found, err := docstore.Find[Channel](ctx, s.store, docstore.Query{
		Collection: Collection,
		Filters:    []docstore.Filter{{Attribute: "tenant_id", Value: tenantID}},
	})
	if err != nil {
		return nil, fmt.Errorf("channels: list tenant %q: %w", tenantID, err)
	}
	if includePrivate {
		return found, nil
	}
	visible := make([]Channel, 0, len(found))
	for _, channel := range found {
		if !channel.IsPrivate {
			visible = append(visible, channel)
		}
	}
	return visible, nil
}

// Children returns the channels whose parent is channelID. A deleted or
// never-existing parent simply has no children.
func (s *Service) Children(ctx context.Context, channelID string) ([]Channel, error) {
	found, err := docstore.Find[Channel](ctx, s.store, docstore.Query{
		Collection: Collection,
		Filters:    []docstore.Filter{{Attribute: "parent_id", Value: channelID}},
	})
	if err != nil {
		return nil, fmt.Errorf("channels: children of %q: %w", channelID, err)
	}
	return found, nil
}

// Descendants computes the transitive descendant closure of channelID via
// breadth-first traversal, excluding the channel itself. A visited set and
// a depth cap keep the walk finite even over cyclic persisted data.
func (s *Service) Descendants(ctx context.Context, channelID string) ([]string, error) {
	visited := map[string]bool{channelID: true}
	closure := make([]string, 0)
	frontier := []string{channelID}

	for depth := 0; len(frontier) > 0 && depth < maxTraversalDepth; depth++ {
		next := make([]string, 0)
		for _, id := range frontier {
			children, err := s.Children(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if visited[child.ID] {
					continue
				}
				visited[child.ID] = true
				closure = append(closure, child.ID)
				next = append(next, child.ID)
			}
		}
		frontier = next
	}
	return closure, nil
}

// EnsureHeartbeatChannel seeds the heartbeat channel for the default tenant
// when it is absent.
func (s *Service) EnsureHeartbeatChannel(ctx context.Context, tenantID string) error {
	exists, err := s.Exists(ctx, HeartbeatChannelID)
	if err != nil {
		return fmt.Errorf("channels: check heartbeat channel: %w", err)
	}
	if exists {
		return nil
	}
	channel := Channel{
		ID:          HeartbeatChannelID,
		TenantID:    tenantID,
		Name:        "Heartbeat channel",
		Description: "Sends heartbeats once a minute",
		IsOpen:      true,
		UpdatedAt:   s.clock().UTC().Format(time.RFC3339Nano),
		UpdatedBy:   "init",
	}
	if err := s.store.Insert(ctx, Collection, channel.ID, channel); err != nil {
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return nil
		}
		return fmt.Errorf("channels: seed heartbeat channel: %w", err)
	}
	s.logger.Info("heartbeat channel created", zap.String("tenant", tenantID))
	return nil
}
