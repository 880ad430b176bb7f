package customers_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"soconboard/internal/customers"
)

var keyPattern = regexp.MustCompile(`^soc_[A-Za-z0-9_-]+$`)

func newCustomer(tenant string) customers.NewCustomer {
	return customers.NewCustomer{
		TenantID:          tenant,
		WorkspaceID:       "wsid-" + tenant,
		WorkspaceName:     "ws-" + tenant,
		SubscriptionID:    "sub-" + tenant,
		ResourceGroup:     "rg-" + tenant,
		AIAnalysisEnabled: true,
	}
}

func TestCreateAndGetByTenant(t *testing.T) {
	ctx := context.Background()
	s := customers.NewMemoryStore()

	c, raw, err := s.Create(ctx, newCustomer("t1"))
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)
	require.Regexp(t, keyPattern, raw)
	require.NotEqual(t, raw, c.APIKeyHash)
	require.Equal(t, customers.StatusActive, c.Status)

	got, err := s.GetByTenant(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)
	require.Equal(t, "t1", got.TenantID)
}

func TestCreateDuplicateTenantConflicts(t *testing.T) {
	ctx := context.Background()
	s := customers.NewMemoryStore()

	_, _, err := s.Create(ctx, newCustomer("t1"))
	require.NoError(t, err)

	_, _, err = s.Create(ctx, newCustomer("t1"))
	require.ErrorIs(t, err, customers.ErrConflict)
}

func TestGetByAPIKey(t *testing.T) {
	ctx := context.Background()
	s := customers.NewMemoryStore()

	c, raw, err := s.Create(ctx, newCustomer("t1"))
	require.NoError(t, err)

	got, err := s.GetByAPIKey(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)

	// wrong prefix short-circuits without a lookup
	_, err = s.GetByAPIKey(ctx, "sk_totally-wrong")
	require.ErrorIs(t, err, customers.ErrNotFound)

	_, err = s.GetByAPIKey(ctx, "soc_unknownkey")
	require.ErrorIs(t, err, customers.ErrNotFound)
}

func TestRegenerateKeyInvalidatesOldKey(t *testing.T) {
	ctx := context.Background()
	s := customers.NewMemoryStore()

	c, oldRaw, err := s.Create(ctx, newCustomer("t1"))
	require.NoError(t, err)

	newRaw, err := s.RegenerateKey(ctx, c.ID)
	require.NoError(t, err)
	require.Regexp(t, keyPattern, newRaw)
	require.NotEqual(t, oldRaw, newRaw)

	got, err := s.GetByAPIKey(ctx, newRaw)
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)

	_, err = s.GetByAPIKey(ctx, oldRaw)
	require.ErrorIs(t, err, customers.ErrNotFound)
}

func TestRegenerateKeyUnknownCustomer(t *testing.T) {
	s := customers.NewMemoryStore()
	_, err := s.RegenerateKey(context.Background(), "nope")
	require.ErrorIs(t, err, customers.ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := customers.NewMemoryStore()

	for _, tid := range []string{"t1", "t2", "t3"} {
		_, _, err := s.Create(ctx, newCustomer(tid))
		require.NoError(t, err)
	}
	out, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestAuditEvents(t *testing.T) {
	ctx := context.Background()
	s := customers.NewMemoryStore()

	c, _, err := s.Create(ctx, newCustomer("t1"))
	require.NoError(t, err)

	_, err = s.AppendAuditEvent(ctx, c.ID, "customer_onboarded", map[string]any{"tenant_id": "t1"})
	require.NoError(t, err)
	_, err = s.AppendAuditEvent(ctx, c.ID, "api_key_regenerated", map[string]any{"tenant_id": "t1"})
	require.NoError(t, err)

	all, err := s.ListAuditEvents(ctx, c.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	// newest first
	require.Equal(t, "api_key_regenerated", all[0].EventType)

	filtered, err := s.ListAuditEvents(ctx, c.ID, "customer_onboarded", 10)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, customers.AuditRetentionDays, filtered[0].RetentionDays)
}
