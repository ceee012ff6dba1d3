// Package tenants owns tenant identity and the default-tenant bootstrap.
package tenants

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

var (
	errMissingStore = errors.New("tenants: document store is required")

	idPattern = regexp.MustCompile(`^[a-z0-9._-]+$`)
)

// ServiceConfig describes the dependencies of the tenant registry.
type ServiceConfig struct {
	Store  *docstore.Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service answers tenant existence and admin questions and seeds the
// default tenant at startup.
type Service struct {
	store  *docstore.Store
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the tenant registry.
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

// Create persists a new tenant record.
func (s *Service) Create(ctx context.Context, tenant Tenant) (Tenant, error) {
	if !idPattern.MatchString(tenant.ID) {
		return Tenant{}, fmt.Errorf("%w: invalid tenant id %q", apperr.ErrInvalidRequest, tenant.ID)
	}
	tenant.CreatedAt = s.clock().UTC().Format(time.RFC3339Nano)
	if err := s.store.Insert(ctx, Collection, tenant.ID, tenant); err != nil {
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return Tenant{}, fmt.Errorf("tenant %q %w", tenant.ID, apperr.ErrConflict)
		}
		return Tenant{}, fmt.Errorf("tenants: create %q: %w", tenant.ID, err)
	}
	return tenant, nil
}

// Get loads one tenant by id.
func (s *Service) Get(ctx context.Context, tenantID string) (Tenant, error) {
	var tenant Tenant
	err := s.store.Get(ctx, Collection, tenantID, &tenant)
	if errors.Is(err, docstore.ErrKeyNotFound) {
		return Tenant{}, fmt.Errorf("tenant %q %w", tenantID, apperr.ErrNotFound)
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("tenants: get %q: %w", tenantID, err)
	}
	return tenant, nil
}

// Exists reports whether the tenant is registered.
func (s *Service) Exists(ctx context.Context, tenantID string) (bool, error) {
	return s.store.Exists(ctx, Collection, tenantID)
}

// List returns every registered tenant.
func (s *Service) List(ctx context.Context) ([]Tenant, error) {
	return docstore.FindAll[Tenant](ctx, s.store, Collection)
}

// EnsureDefault seeds the configured default tenant when it is absent.
func (s *Service) EnsureDefault(ctx context.Context, tenantID, name string) error {
	exists, err := s.Exists(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("tenants: check default tenant: %w", err)
	}
	if exists {
		return nil
	}
	tenant := Tenant{
		ID:            tenantID,
		Name:          name,
		Description:   "Default tenant seeded from configuration.",
		DefaultLocale: "en",
		CreatedAt:     s.clock().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.Insert(ctx, Collection, tenant.ID, tenant); err != nil {
		// A concurrent replica may have seeded it first.
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return nil
		}
		return fmt.Errorf("tenants: seed default tenant: %w", err)
	}
	s.logger.Info("default tenant created", zap.String("tenant", tenantID))
	return nil
}
