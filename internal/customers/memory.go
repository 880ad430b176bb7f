// internal/customers/memory.go
package customers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is the dev/test fallback used when neither DATABASE_URL nor
// REDIS_URL is configured. Same semantics as the real backends, including
// storage-enforced tenant uniqueness.
type memStore struct {
	mu       sync.Mutex
	byID     map[string]Customer
	byTenant map[string]string
	byHash   map[string]string
	audit    map[string][]AuditEvent
}

func NewMemoryStore() Store {
	return &memStore{
		byID:     map[string]Customer{},
		byTenant: map[string]string{},
		byHash:   map[string]string{},
		audit:    map[string][]AuditEvent{},
	}
}

func (s *memStore) Create(ctx context.Context, in NewCustomer) (Customer, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byTenant[in.TenantID]; exists {
		return Customer{}, "", ErrConflict
	}
	raw, hash, prefix := GenerateAPIKey()
	now := time.Now().UTC()
	c := Customer{
		ID:                uuid.NewString(),
		TenantID:          in.TenantID,
		WorkspaceID:       in.WorkspaceID,
		WorkspaceName:     in.WorkspaceName,
		SubscriptionID:    in.SubscriptionID,
		ResourceGroup:     in.ResourceGroup,
		APIKeyHash:        hash,
		APIKeyPrefix:      prefix,
		CallbackURL:       in.CallbackURL,
		AIAnalysisEnabled: in.AIAnalysisEnabled,
		Status:            StatusActive,
		SubscriptionTier:  "free",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.byID[c.ID] = c
	s.byTenant[c.TenantID] = c.ID
	s.byHash[c.APIKeyHash] = c.ID
	return c, raw, nil
}

func (s *memStore) GetByTenant(ctx context.Context, tenantID string) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byTenant[tenantID]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (s *memStore) GetByAPIKey(ctx context.Context, rawKey string) (Customer, error) {
	if !ValidKeyFormat(rawKey) {
		return Customer{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHash[HashAPIKey(rawKey)]
	if !ok {
		return Customer{}, ErrNotFound
	}
	c := s.byID[id]
	if c.Status != StatusActive {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (s *memStore) RegenerateKey(ctx context.Context, customerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[customerID]
	if !ok {
		return "", ErrNotFound
	}
	raw, hash, prefix := GenerateAPIKey()
	delete(s.byHash, c.APIKeyHash)
	c.APIKeyHash = hash
	c.APIKeyPrefix = prefix
	c.UpdatedAt = time.Now().UTC()
	s.byID[c.ID] = c
	s.byHash[hash] = c.ID
	return raw, nil
}

func (s *memStore) List(ctx context.Context, limit int) ([]Customer, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Customer, 0, len(s.byID))
	for _, c := range s.byID {
		if c.Status == StatusActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) AppendAuditEvent(ctx context.Context, customerID, eventType string, details map[string]any) (AuditEvent, error) {
	ev := AuditEvent{
		ID:            uuid.NewString(),
		CustomerID:    customerID,
		EventType:     eventType,
		Details:       details,
		Timestamp:     time.Now().UTC(),
		RetentionDays: AuditRetentionDays,
	}
	s.mu.Lock()
	s.audit[customerID] = append([]AuditEvent{ev}, s.audit[customerID]...)
	s.mu.Unlock()
	return ev, nil
}

func (s *memStore) ListAuditEvents(ctx context.Context, customerID, eventType string, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEvent
	for _, ev := range s.audit[customerID] {
		if eventType != "" && ev.EventType != eventType {
			continue
		}
		out = append(out, ev)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
