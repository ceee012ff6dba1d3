package notifications

import (
	"context"
	"fmt"

	"github.com/herald-notify/herald/internal/docstore"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

// HistoryRequest describes one history read. When ChannelIDs is empty the
// reader falls back to the channels the user is subscribed to; the user's
// own id is always included so direct notifications appear in the feed.
type HistoryRequest struct {
	TenantID   string
	UserID     string
	ChannelIDs []string
	Limit      int
}

// History returns the newest notifications addressed to the user, newest
// first, truncated to the clamped limit.
func (s *Service) History(ctx context.Context, request HistoryRequest) ([]Notification, error) {
	limit := request.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	addressing := request.ChannelIDs
	if len(addressing) == 0 {
		subscribed, err := s.subscriptions.ChannelsForUser(ctx, request.TenantID, request.UserID)
		if err != nil {
			return nil, err
		}
		addressing = subscribed
	}
	addressing = append(addressing, request.UserID)

	records, err := docstore.Find[Notification](ctx, s.store, docstore.Query{
		Collection: Collection,
		Filters: []docstore.Filter{
			{Attribute: "tenant_id", Value: request.TenantID},
			{Attribute: "channel_id", Values: addressing},
		},
		OrderByDesc: "sent_at",
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("notifications: history for %q: %w", request.UserID, err)
	}
	return records, nil
}
