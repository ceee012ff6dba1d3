package tokens

import "fmt"

// Collection names the docstore collection backing device-token records.
const Collection = "tokens"

// TokenSet is the persisted device-token record: one per (user, tenant),
// holding the unique set of opaque delivery tokens for that user's devices.
// The JSON shape stores the set as a list; order is not meaningful.
type TokenSet struct {
	ID           string   `json:"id"`
	TenantID     string   `json:"tenant_id"`
	UserID       string   `json:"user_id"`
	DeviceTokens []string `json:"device_tokens"`
	UpdatedAt    string   `json:"updated_at"`
}

// Key derives the deterministic storage key for a user's token set.
func Key(userID, tenantID string) string {
	return fmt.Sprintf("%s:%s", userID, tenantID)
}
