package channels

// Collection names the docstore collection backing channel records.
const Collection = "channels"

// Channel is the persisted channel record. The channel id is the storage
// key and is unique across all tenants, not per tenant; the tenant id is an
// attribute only. That keeps subscription and notification addressing to a
// single flat namespace at the cost of a cross-tenant id collision surface.
type Channel struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsOpen      bool   `json:"is_open"`
	IsPrivate   bool   `json:"is_private"`
	ParentID    string `json:"parent_id,omitempty"`
	UpdatedAt   string `json:"updated_at"`
	UpdatedBy   string `json:"updated_by,omitempty"`
}
