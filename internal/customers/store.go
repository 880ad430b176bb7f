// internal/customers/store.go
package customers

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means no matching customer (or the key did not resolve).
	ErrNotFound = errors.New("customer not found")
	// ErrConflict means an active customer already exists for the tenant.
	ErrConflict = errors.New("customer already exists for tenant")
)

// Store is the customer repository. Three interchangeable variants exist:
// postgres, redis (document store) and memory (dev/test fallback).
//
// Tenant uniqueness (one active customer per tenant_id) is enforced by each
// backend, not just by the orchestrator's pre-check.
type Store interface {
	// Create persists a new active customer and returns it together with the
	// raw API key, which is shown to the caller exactly once.
	Create(ctx context.Context, in NewCustomer) (Customer, string, error)
	GetByTenant(ctx context.Context, tenantID string) (Customer, error)
	GetByID(ctx context.Context, id string) (Customer, error)
	// GetByAPIKey resolves a raw key to its active customer. Keys without the
	// soc_ prefix are rejected without touching the backend.
	GetByAPIKey(ctx context.Context, rawKey string) (Customer, error)
	// RegenerateKey replaces the stored hash atomically; the previous key
	// stops resolving immediately.
	RegenerateKey(ctx context.Context, customerID string) (string, error)
	List(ctx context.Context, limit int) ([]Customer, error)

	// AppendAuditEvent is best-effort observability: callers log failures and
	// never roll back the primary operation.
	AppendAuditEvent(ctx context.Context, customerID, eventType string, details map[string]any) (AuditEvent, error)
	ListAuditEvents(ctx context.Context, customerID, eventType string, limit int) ([]AuditEvent, error)
}
