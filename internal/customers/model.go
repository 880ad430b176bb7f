// internal/customers/model.go
package customers

import "time"

// Customer statuses. Lookups that matter for auth and tenant uniqueness only
// consider active customers.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// Customer is one tenant's subscription to the SaaS. The raw API key is
// returned exactly once at creation/regeneration; only its hash is stored.
type Customer struct {
	ID                   string    `json:"id"`
	TenantID             string    `json:"tenant_id"`
	WorkspaceID          string    `json:"workspace_id"`
	WorkspaceName        string    `json:"workspace_name"`
	SubscriptionID       string    `json:"subscription_id"`
	ResourceGroup        string    `json:"resource_group"`
	APIKeyHash           string    `json:"-"`
	APIKeyPrefix         string    `json:"api_key_prefix"`
	CallbackURL          string    `json:"callback_url,omitempty"`
	AIAnalysisEnabled    bool      `json:"ai_analysis_enabled"`
	Status               string    `json:"status"`
	SubscriptionTier     string    `json:"subscription_tier"`
	IncidentCount        int       `json:"incident_count"`
	MonthlyIncidentCount int       `json:"monthly_incident_count"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NewCustomer carries the fields the onboarding flow supplies at creation.
type NewCustomer struct {
	TenantID          string
	WorkspaceID       string
	WorkspaceName     string
	SubscriptionID    string
	ResourceGroup     string
	CallbackURL       string
	AIAnalysisEnabled bool
}

// AuditEvent is an immutable, append-only record of a state-changing action.
// Events expire after RetentionDays via the backing store's own mechanism.
type AuditEvent struct {
	ID            string         `json:"id"`
	CustomerID    string         `json:"customer_id"`
	EventType     string         `json:"event_type"`
	Details       map[string]any `json:"details"`
	UserID        string         `json:"user_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	RetentionDays int            `json:"retention_days"`
}

// AuditRetentionDays is the fixed retention window for audit events.
const AuditRetentionDays = 365
