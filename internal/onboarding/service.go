// internal/onboarding/service.go
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"soconboard/internal/arm"
	"soconboard/internal/customers"
	"soconboard/internal/identity"
	"soconboard/internal/statestore"
	"soconboard/pkg/config"
	"soconboard/pkg/metrics"
)

// ErrInvalidState covers unknown, expired and already-consumed state tokens.
var ErrInvalidState = errors.New("invalid state token")

// ErrInvalidInput marks caller mistakes that map to HTTP 400.
var ErrInvalidInput = errors.New("invalid input")

// Service orchestrates the onboarding flow: consent, workspace discovery or
// creation, customer registration and post-deployment automation. It keeps no
// workflow state of its own; each operation stands alone.
type Service struct {
	log          *zap.SugaredLogger
	idp          *identity.Client
	arm          *arm.Client
	store        customers.Store
	states       statestore.Store
	saasEndpoint string
	templateBase string
}

func NewService(cfg config.Config, log *zap.SugaredLogger, idp *identity.Client, armClient *arm.Client, store customers.Store, states statestore.Store) *Service {
	return &Service{
		log:          log,
		idp:          idp,
		arm:          armClient,
		store:        store,
		states:       states,
		saasEndpoint: strings.TrimRight(cfg.SaaSEndpoint, "/"),
		templateBase: strings.TrimRight(cfg.TemplateBaseURL, "/"),
	}
}

type ConsentStart struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// BeginConsent issues a one-shot state token and builds the admin consent URL.
func (s *Service) BeginConsent(redirectURI string) (ConsentStart, error) {
	if redirectURI == "" {
		return ConsentStart{}, fmt.Errorf("%w: redirect_uri is required", ErrInvalidInput)
	}
	state, err := s.states.Issue(redirectURI)
	if err != nil {
		return ConsentStart{}, err
	}
	metrics.ConsentStarted.Inc()
	return ConsentStart{AuthURL: s.idp.ConsentURL(redirectURI, state), State: state}, nil
}

// CompleteConsent validates the callback state, then exchanges the code.
// providerErr is the error the identity provider appended to the redirect;
// when set the flow failed before reaching us and the state stays
// unconsumed so the UI may restart with the same link.
func (s *Service) CompleteConsent(ctx context.Context, code, state, providerErr, providerErrDesc string) (identity.TokenResult, error) {
	if providerErr != "" {
		metrics.ConsentCompleted.WithLabelValues("provider_error").Inc()
		return identity.TokenResult{}, fmt.Errorf("%w: %s: %s", ErrInvalidInput, providerErr, providerErrDesc)
	}
	redirectURI, err := s.states.Consume(state)
	if err != nil {
		metrics.ConsentCompleted.WithLabelValues("invalid_state").Inc()
		return identity.TokenResult{}, ErrInvalidState
	}
	res, err := s.idp.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		metrics.ConsentCompleted.WithLabelValues("exchange_failed").Inc()
		return identity.TokenResult{}, err
	}
	metrics.ConsentCompleted.WithLabelValues("success").Inc()
	s.log.Infow("consent completed", "tenant_id", res.TenantID)
	return res, nil
}

type WorkspaceList struct {
	Workspaces []arm.Workspace `json:"workspaces"`
	Debug      arm.Diagnostics `json:"debug"`
}

// ListWorkspaces enumerates workspaces visible to the delegated token.
func (s *Service) ListWorkspaces(ctx context.Context, accessToken string) (WorkspaceList, error) {
	start := time.Now()
	workspaces, diag, err := s.arm.ListWorkspaces(ctx, accessToken)
	metrics.WorkspaceListDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WorkspacesListed.WithLabelValues("error").Inc()
		return WorkspaceList{}, err
	}
	metrics.WorkspacesListed.WithLabelValues("success").Inc()
	if workspaces == nil {
		workspaces = []arm.Workspace{}
	}
	return WorkspaceList{Workspaces: workspaces, Debug: diag}, nil
}

// Subscriptions lists enabled subscriptions for the delegated token.
func (s *Service) Subscriptions(ctx context.Context, accessToken string) ([]identity.Subscription, error) {
	subs, err := s.idp.ListSubscriptions(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []identity.Subscription{}
	}
	return subs, nil
}

type CustomerStatus struct {
	Exists         bool   `json:"exists"`
	CustomerID     string `json:"customer_id,omitempty"`
	WorkspaceName  string `json:"workspace_name,omitempty"`
	WorkspaceID    string `json:"workspace_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	ResourceGroup  string `json:"resource_group,omitempty"`
}

// Status reports whether a customer already exists for the tenant.
func (s *Service) Status(ctx context.Context, tenantID string) (CustomerStatus, error) {
	c, err := s.store.GetByTenant(ctx, tenantID)
	if errors.Is(err, customers.ErrNotFound) {
		return CustomerStatus{Exists: false}, nil
	}
	if err != nil {
		return CustomerStatus{}, err
	}
	return CustomerStatus{
		Exists:         true,
		CustomerID:     c.ID,
		WorkspaceName:  c.WorkspaceName,
		WorkspaceID:    c.WorkspaceID,
		SubscriptionID: c.SubscriptionID,
		ResourceGroup:  c.ResourceGroup,
	}, nil
}

type CompleteRequest struct {
	TenantID          string `json:"tenant_id"`
	SubscriptionID    string `json:"subscription_id"`
	ResourceGroup     string `json:"resource_group"`
	WorkspaceName     string `json:"workspace_name"`
	WorkspaceID       string `json:"workspace_id"`
	CallbackURL       string `json:"callback_url"`
	AIAnalysisEnabled *bool  `json:"ai_analysis_enabled"`
}

type CompleteResult struct {
	CustomerID string `json:"customer_id"`
	APIKey     string `json:"api_key"`
	Message    string `json:"message"`
}

// Complete registers the customer and returns the raw API key exactly once.
// Tenant uniqueness is enforced by the store; a duplicate maps to
// customers.ErrConflict regardless of which racer got there first.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	for name, v := range map[string]string{
		"tenant_id":       req.TenantID,
		"subscription_id": req.SubscriptionID,
		"resource_group":  req.ResourceGroup,
		"workspace_name":  req.WorkspaceName,
		"workspace_id":    req.WorkspaceID,
	} {
		if v == "" {
			return CompleteResult{}, fmt.Errorf("%w: %s is required", ErrInvalidInput, name)
		}
	}

	aiEnabled := true
	if req.AIAnalysisEnabled != nil {
		aiEnabled = *req.AIAnalysisEnabled
	}
	c, rawKey, err := s.store.Create(ctx, customers.NewCustomer{
		TenantID:          req.TenantID,
		WorkspaceID:       req.WorkspaceID,
		WorkspaceName:     req.WorkspaceName,
		SubscriptionID:    req.SubscriptionID,
		ResourceGroup:     req.ResourceGroup,
		CallbackURL:       req.CallbackURL,
		AIAnalysisEnabled: aiEnabled,
	})
	if err != nil {
		if errors.Is(err, customers.ErrConflict) {
			metrics.OnboardingCompleted.WithLabelValues("conflict").Inc()
		} else {
			metrics.OnboardingCompleted.WithLabelValues("error").Inc()
		}
		return CompleteResult{}, err
	}
	metrics.OnboardingCompleted.WithLabelValues("success").Inc()
	metrics.APIKeyGenerated.WithLabelValues("initial").Inc()

	s.audit(ctx, c.ID, "customer_onboarded", map[string]any{
		"tenant_id":       req.TenantID,
		"workspace_name":  req.WorkspaceName,
		"subscription_id": req.SubscriptionID,
	})
	s.log.Infow("customer onboarded", "customer_id", c.ID, "tenant_id", req.TenantID)

	return CompleteResult{
		CustomerID: c.ID,
		APIKey:     rawKey,
		Message:    "Customer created successfully. Save your API key - it won't be shown again!",
	}, nil
}

type RegenerateResult struct {
	CustomerID string `json:"customer_id"`
	APIKey     string `json:"api_key"`
	Message    string `json:"message"`
}

// RegenerateKey rotates the tenant's API key; the old key stops working
// immediately.
func (s *Service) RegenerateKey(ctx context.Context, tenantID string) (RegenerateResult, error) {
	c, err := s.store.GetByTenant(ctx, tenantID)
	if err != nil {
		return RegenerateResult{}, err
	}
	rawKey, err := s.store.RegenerateKey(ctx, c.ID)
	if err != nil {
		return RegenerateResult{}, err
	}
	metrics.APIKeyGenerated.WithLabelValues("regenerated").Inc()
	s.audit(ctx, c.ID, "api_key_regenerated", map[string]any{"tenant_id": tenantID})
	s.log.Infow("api key regenerated", "customer_id", c.ID, "tenant_id", tenantID)

	return RegenerateResult{
		CustomerID: c.ID,
		APIKey:     rawKey,
		Message:    "New API key generated. Save it securely - it won't be shown again! Your old key has been invalidated.",
	}, nil
}

type CreateWorkspaceRequest struct {
	SubscriptionID      string `json:"subscription_id"`
	ResourceGroup       string `json:"resource_group"`
	WorkspaceName       string `json:"workspace_name"`
	Location            string `json:"location"`
	CreateResourceGroup *bool  `json:"create_resource_group"`
}

type CreateWorkspaceResult struct {
	WorkspaceID     string `json:"workspace_id"`
	WorkspaceName   string `json:"workspace_name"`
	ResourceGroup   string `json:"resource_group"`
	Location        string `json:"location"`
	SentinelEnabled bool   `json:"sentinel_enabled"`
}

// CreateWorkspace provisions a workspace and best-effort enables Sentinel on
// it using the caller's delegated token.
func (s *Service) CreateWorkspace(ctx context.Context, accessToken string, req CreateWorkspaceRequest) (CreateWorkspaceResult, error) {
	for name, v := range map[string]string{
		"subscription_id": req.SubscriptionID,
		"resource_group":  req.ResourceGroup,
		"workspace_name":  req.WorkspaceName,
		"location":        req.Location,
	} {
		if v == "" {
			return CreateWorkspaceResult{}, fmt.Errorf("%w: %s is required", ErrInvalidInput, name)
		}
	}
	createRG := true
	if req.CreateResourceGroup != nil {
		createRG = *req.CreateResourceGroup
	}

	start := time.Now()
	res, err := s.arm.CreateWorkspace(ctx, accessToken, arm.CreateWorkspaceParams{
		SubscriptionID:      req.SubscriptionID,
		ResourceGroup:       req.ResourceGroup,
		WorkspaceName:       req.WorkspaceName,
		Location:            req.Location,
		CreateResourceGroup: createRG,
	})
	metrics.WorkspaceCreationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WorkspaceCreation.WithLabelValues("error").Inc()
		return CreateWorkspaceResult{}, err
	}
	metrics.WorkspaceCreation.WithLabelValues("success").Inc()

	return CreateWorkspaceResult{
		WorkspaceID:     res.WorkspaceID,
		WorkspaceName:   req.WorkspaceName,
		ResourceGroup:   req.ResourceGroup,
		Location:        req.Location,
		SentinelEnabled: res.SentinelEnabled,
	}, nil
}

type CreateAutomationRuleRequest struct {
	SubscriptionID     string `json:"subscription_id"`
	ResourceGroup      string `json:"resource_group"`
	WorkspaceName      string `json:"workspace_name"`
	LogicAppResourceID string `json:"logic_app_resource_id"`
	TenantID           string `json:"tenant_id"`
}

type CreateAutomationRuleResult struct {
	AutomationRuleName string `json:"automation_rule_name"`
	Status             string `json:"status"`
	Message            string `json:"message"`
}

// CreateAutomationRule wires newly created incidents to the customer's
// analysis playbook.
func (s *Service) CreateAutomationRule(ctx context.Context, accessToken string, req CreateAutomationRuleRequest) (CreateAutomationRuleResult, error) {
	for name, v := range map[string]string{
		"subscription_id":       req.SubscriptionID,
		"resource_group":        req.ResourceGroup,
		"workspace_name":        req.WorkspaceName,
		"logic_app_resource_id": req.LogicAppResourceID,
		"tenant_id":             req.TenantID,
	} {
		if v == "" {
			return CreateAutomationRuleResult{}, fmt.Errorf("%w: %s is required", ErrInvalidInput, name)
		}
	}

	res, err := s.arm.CreateAutomationRule(ctx, accessToken, arm.CreateAutomationRuleParams{
		SubscriptionID:     req.SubscriptionID,
		ResourceGroup:      req.ResourceGroup,
		WorkspaceName:      req.WorkspaceName,
		LogicAppResourceID: req.LogicAppResourceID,
		TenantID:           req.TenantID,
	})
	if err != nil {
		metrics.AutomationRule.WithLabelValues("error").Inc()
		return CreateAutomationRuleResult{}, err
	}
	metrics.AutomationRule.WithLabelValues("success").Inc()

	return CreateAutomationRuleResult{
		AutomationRuleName: res.RuleName,
		Status:             res.Status,
		Message:            "Automation rule created successfully. Incidents will now be automatically analyzed.",
	}, nil
}

// ResolveAPIKey adapts the customer store to the auth middleware.
func (s *Service) ResolveAPIKey(ctx context.Context, rawKey string) (string, error) {
	c, err := s.store.GetByAPIKey(ctx, rawKey)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// AuditEvents lists the authenticated customer's audit trail, newest first.
func (s *Service) AuditEvents(ctx context.Context, customerID, eventType string, limit int) ([]customers.AuditEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	events, err := s.store.ListAuditEvents(ctx, customerID, eventType, limit)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []customers.AuditEvent{}
	}
	return events, nil
}

// audit is fire-and-forget: a failed write is logged, never surfaced.
func (s *Service) audit(ctx context.Context, customerID, eventType string, details map[string]any) {
	if _, err := s.store.AppendAuditEvent(ctx, customerID, eventType, details); err != nil {
		s.log.Warnw("audit write failed", "customer_id", customerID, "event_type", eventType, "err", err)
	}
}
