// internal/customers/postgres.go
package customers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgStore implements Store backed by PostgreSQL.
type pgStore struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

// NewPostgresStore constructs a PostgreSQL-backed customer store.
func NewPostgresStore(pool *pgxpool.Pool, log *zap.SugaredLogger) Store {
	return &pgStore{pool: pool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent). The partial unique indexes enforce
// the one-active-customer-per-tenant and unique-key-hash invariants at the
// storage layer, so concurrent creates cannot both win.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS customers (
  id uuid PRIMARY KEY,
  tenant_id text NOT NULL,
  workspace_id text NOT NULL DEFAULT '',
  workspace_name text NOT NULL DEFAULT '',
  subscription_id text NOT NULL DEFAULT '',
  resource_group text NOT NULL DEFAULT '',
  api_key_hash text NOT NULL,
  api_key_prefix text NOT NULL DEFAULT '',
  callback_url text NOT NULL DEFAULT '',
  ai_analysis_enabled boolean NOT NULL DEFAULT true,
  status text NOT NULL DEFAULT 'active',
  subscription_tier text NOT NULL DEFAULT 'free',
  incident_count int NOT NULL DEFAULT 0,
  monthly_incident_count int NOT NULL DEFAULT 0,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS customers_active_tenant_idx
  ON customers(tenant_id) WHERE status = 'active';
CREATE UNIQUE INDEX IF NOT EXISTS customers_active_key_hash_idx
  ON customers(api_key_hash) WHERE status = 'active';
CREATE TABLE IF NOT EXISTS audit_events (
  id uuid PRIMARY KEY,
  customer_id uuid NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
  event_type text NOT NULL,
  details jsonb NOT NULL DEFAULT '{}'::jsonb,
  user_id text NOT NULL DEFAULT '',
  ts timestamptz NOT NULL DEFAULT NOW(),
  retention_days int NOT NULL DEFAULT 365
);
CREATE INDEX IF NOT EXISTS audit_events_customer_ts_idx
  ON audit_events(customer_id, ts DESC);
`)
	return err
}

const customerCols = `id, tenant_id, workspace_id, workspace_name, subscription_id, resource_group,
  api_key_hash, api_key_prefix, callback_url, ai_analysis_enabled, status, subscription_tier,
  incident_count, monthly_incident_count, created_at, updated_at`

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.TenantID, &c.WorkspaceID, &c.WorkspaceName, &c.SubscriptionID,
		&c.ResourceGroup, &c.APIKeyHash, &c.APIKeyPrefix, &c.CallbackURL, &c.AIAnalysisEnabled,
		&c.Status, &c.SubscriptionTier, &c.IncidentCount, &c.MonthlyIncidentCount,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *pgStore) Create(ctx context.Context, in NewCustomer) (Customer, string, error) {
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
	_, err := s.pool.Exec(ctx, `INSERT INTO customers (`+customerCols+`)
	  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		c.ID, c.TenantID, c.WorkspaceID, c.WorkspaceName, c.SubscriptionID, c.ResourceGroup,
		c.APIKeyHash, c.APIKeyPrefix, c.CallbackURL, c.AIAnalysisEnabled, c.Status,
		c.SubscriptionTier, c.IncidentCount, c.MonthlyIncidentCount, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Customer{}, "", ErrConflict
		}
		return Customer{}, "", err
	}
	s.log.Infow("customer created", "customer_id", c.ID, "tenant_id", c.TenantID)
	return c, raw, nil
}

func (s *pgStore) GetByTenant(ctx context.Context, tenantID string) (Customer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+customerCols+` FROM customers
	  WHERE tenant_id=$1 AND status=$2 LIMIT 1`, tenantID, StatusActive)
	c, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	return c, err
}

func (s *pgStore) GetByID(ctx context.Context, id string) (Customer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+customerCols+` FROM customers WHERE id=$1`, id)
	c, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	return c, err
}

func (s *pgStore) GetByAPIKey(ctx context.Context, rawKey string) (Customer, error) {
	if !ValidKeyFormat(rawKey) {
		return Customer{}, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+customerCols+` FROM customers
	  WHERE api_key_hash=$1 AND status=$2 LIMIT 1`, HashAPIKey(rawKey), StatusActive)
	c, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	return c, err
}

func (s *pgStore) RegenerateKey(ctx context.Context, customerID string) (string, error) {
	raw, hash, prefix := GenerateAPIKey()
	tag, err := s.pool.Exec(ctx, `UPDATE customers
	  SET api_key_hash=$1, api_key_prefix=$2, updated_at=NOW() WHERE id=$3`,
		hash, prefix, customerID)
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 0 {
		return "", ErrNotFound
	}
	s.log.Infow("api key regenerated", "customer_id", customerID)
	return raw, nil
}

func (s *pgStore) List(ctx context.Context, limit int) ([]Customer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT `+customerCols+` FROM customers
	  WHERE status=$1 ORDER BY created_at DESC LIMIT $2`, StatusActive, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *pgStore) AppendAuditEvent(ctx context.Context, customerID, eventType string, details map[string]any) (AuditEvent, error) {
	ev := AuditEvent{
		ID:            uuid.NewString(),
		CustomerID:    customerID,
		EventType:     eventType,
		Details:       details,
		Timestamp:     time.Now().UTC(),
		RetentionDays: AuditRetentionDays,
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO audit_events (id, customer_id, event_type, details, user_id, ts, retention_days)
	  VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ev.ID, ev.CustomerID, ev.EventType, ev.Details, ev.UserID, ev.Timestamp, ev.RetentionDays)
	if err != nil {
		return AuditEvent{}, err
	}
	// Opportunistic expiry; Postgres has no TTL so prune on write, best effort.
	_, _ = s.pool.Exec(ctx, `DELETE FROM audit_events WHERE ts < NOW() - (retention_days || ' days')::interval`)
	return ev, nil
}

func (s *pgStore) ListAuditEvents(ctx context.Context, customerID, eventType string, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, customer_id, event_type, details, user_id, ts, retention_days
	  FROM audit_events WHERE customer_id=$1`
	args := []any{customerID}
	if eventType != "" {
		query += ` AND event_type=$2`
		args = append(args, eventType)
	}
	query += ` ORDER BY ts DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var details []byte
		if err := rows.Scan(&ev.ID, &ev.CustomerID, &ev.EventType, &details, &ev.UserID, &ev.Timestamp, &ev.RetentionDays); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &ev.Details)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
