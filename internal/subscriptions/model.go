package subscriptions

import "fmt"

// Collection names the docstore collection backing subscription records.
const Collection = "subscriptions"

// Subscription is one membership edge between a user and a channel within
// a tenant. The composite key makes re-subscribing a natural no-op.
type Subscription struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at"`
}

// Key derives the deterministic storage key for a membership.
func Key(userID, channelID, tenantID string) string {
	return fmt.Sprintf("%s@%s:%s", userID, channelID, tenantID)
}
