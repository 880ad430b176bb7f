// internal/customers/redis.go
package customers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key layout for the document-store variant:
//
//	onb:customer:<id>            customer JSON document
//	onb:customer:tenant:<tid>    active customer id for tenant (uniqueness lock)
//	onb:customer:key:<hash>      active customer id for api key hash
//	onb:customers                zset of active ids scored by created_at
//	onb:audit:ev:<id>            audit event JSON, expires after 365d
//	onb:audit:<customer_id>      list of event ids, newest first
type redisStore struct {
	cli *redis.Client
	log *zap.SugaredLogger
}

// NewRedisStore constructs the document-store-backed customer store.
func NewRedisStore(cli *redis.Client, log *zap.SugaredLogger) Store {
	return &redisStore{cli: cli, log: log}
}

func custKey(id string) string       { return "onb:customer:" + id }
func tenantKey(tid string) string    { return "onb:customer:tenant:" + tid }
func hashKey(h string) string        { return "onb:customer:key:" + h }
func auditEvKey(id string) string    { return "onb:audit:ev:" + id }
func auditListKey(cid string) string { return "onb:audit:" + cid }
func customersIndexKey() string      { return "onb:customers" }

func (s *redisStore) Create(ctx context.Context, in NewCustomer) (Customer, string, error) {
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
	// SETNX on the tenant index is the uniqueness gate: exactly one of two
	// concurrent creates for the same tenant claims it.
	ok, err := s.cli.SetNX(ctx, tenantKey(c.TenantID), c.ID, 0).Result()
	if err != nil {
		return Customer{}, "", err
	}
	if !ok {
		return Customer{}, "", ErrConflict
	}
	if err := s.writeDoc(ctx, c); err != nil {
		// Roll back the claim so the tenant is not wedged.
		_ = s.cli.Del(ctx, tenantKey(c.TenantID)).Err()
		return Customer{}, "", err
	}
	pipe := s.cli.Pipeline()
	pipe.Set(ctx, hashKey(c.APIKeyHash), c.ID, 0)
	pipe.ZAdd(ctx, customersIndexKey(), redis.Z{Score: float64(now.UnixNano()), Member: c.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return Customer{}, "", err
	}
	s.log.Infow("customer created", "customer_id", c.ID, "tenant_id", c.TenantID)
	return c, raw, nil
}

func (s *redisStore) writeDoc(ctx context.Context, c Customer) error {
	doc := struct {
		Customer
		APIKeyHash string `json:"api_key_hash"`
	}{Customer: c, APIKeyHash: c.APIKeyHash}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.cli.Set(ctx, custKey(c.ID), b, 0).Err()
}

func (s *redisStore) readDoc(ctx context.Context, id string) (Customer, error) {
	b, err := s.cli.Get(ctx, custKey(id)).Bytes()
	if err == redis.Nil {
		return Customer{}, ErrNotFound
	}
	if err != nil {
		return Customer{}, err
	}
	var doc struct {
		Customer
		APIKeyHash string `json:"api_key_hash"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return Customer{}, err
	}
	c := doc.Customer
	c.APIKeyHash = doc.APIKeyHash
	return c, nil
}

func (s *redisStore) GetByTenant(ctx context.Context, tenantID string) (Customer, error) {
	id, err := s.cli.Get(ctx, tenantKey(tenantID)).Result()
	if err == redis.Nil {
		return Customer{}, ErrNotFound
	}
	if err != nil {
		return Customer{}, err
	}
	return s.readDoc(ctx, id)
}

func (s *redisStore) GetByID(ctx context.Context, id string) (Customer, error) {
	return s.readDoc(ctx, id)
}

func (s *redisStore) GetByAPIKey(ctx context.Context, rawKey string) (Customer, error) {
	if !ValidKeyFormat(rawKey) {
		return Customer{}, ErrNotFound
	}
	id, err := s.cli.Get(ctx, hashKey(HashAPIKey(rawKey))).Result()
	if err == redis.Nil {
		return Customer{}, ErrNotFound
	}
	if err != nil {
		return Customer{}, err
	}
	c, err := s.readDoc(ctx, id)
	if err != nil {
		return Customer{}, err
	}
	if c.Status != StatusActive {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (s *redisStore) RegenerateKey(ctx context.Context, customerID string) (string, error) {
	c, err := s.readDoc(ctx, customerID)
	if err != nil {
		return "", err
	}
	raw, hash, prefix := GenerateAPIKey()
	oldHash := c.APIKeyHash
	c.APIKeyHash = hash
	c.APIKeyPrefix = prefix
	c.UpdatedAt = time.Now().UTC()
	if err := s.writeDoc(ctx, c); err != nil {
		return "", err
	}
	pipe := s.cli.Pipeline()
	pipe.Del(ctx, hashKey(oldHash))
	pipe.Set(ctx, hashKey(hash), c.ID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	s.log.Infow("api key regenerated", "customer_id", customerID)
	return raw, nil
}

func (s *redisStore) List(ctx context.Context, limit int) ([]Customer, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.cli.ZRevRange(ctx, customersIndexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Customer, 0, len(ids))
	for _, id := range ids {
		c, err := s.readDoc(ctx, id)
		if err != nil {
			continue
		}
		if c.Status == StatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *redisStore) AppendAuditEvent(ctx context.Context, customerID, eventType string, details map[string]any) (AuditEvent, error) {
	ev := AuditEvent{
		ID:            uuid.NewString(),
		CustomerID:    customerID,
		EventType:     eventType,
		Details:       details,
		Timestamp:     time.Now().UTC(),
		RetentionDays: AuditRetentionDays,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return AuditEvent{}, err
	}
	ttl := time.Duration(AuditRetentionDays) * 24 * time.Hour
	pipe := s.cli.Pipeline()
	pipe.Set(ctx, auditEvKey(ev.ID), b, ttl)
	pipe.LPush(ctx, auditListKey(customerID), ev.ID)
	pipe.Expire(ctx, auditListKey(customerID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return AuditEvent{}, err
	}
	return ev, nil
}

func (s *redisStore) ListAuditEvents(ctx context.Context, customerID, eventType string, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.cli.LRange(ctx, auditListKey(customerID), 0, int64(limit*2)).Result()
	if err != nil {
		return nil, err
	}
	var out []AuditEvent
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		b, err := s.cli.Get(ctx, auditEvKey(id)).Bytes()
		if err != nil {
			// expired event ids linger in the list; skip them
			continue
		}
		var ev AuditEvent
		if err := json.Unmarshal(b, &ev); err != nil {
			continue
		}
		if eventType != "" && ev.EventType != eventType {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
