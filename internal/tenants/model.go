package tenants

import "context"

// Collection names the docstore collection backing tenant records.
const Collection = "tenants"

// Tenant is the persisted tenant record. Identity is immutable; metadata
// may change over time.
type Tenant struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	DefaultLocale string            `json:"default_locale"`
	Settings      map[string]string `json:"settings,omitempty"`
	AdminRoles    []string          `json:"admin_roles,omitempty"`
	CreatedAt     string            `json:"created_at"`
}

// AdminChecker answers whether a user holds an admin role within a tenant.
// The production implementation is supplied by the surrounding
// authorization system.
type AdminChecker interface {
	IsAdmin(ctx context.Context, tenantID, userID string) (bool, error)
}

// AllowAllAdminChecker treats every authenticated user as a tenant admin.
// It stands in until the external authorization oracle is wired up.
type AllowAllAdminChecker struct{}

// IsAdmin always reports true.
func (AllowAllAdminChecker) IsAdmin(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}
