// internal/arm/client.go
package arm

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"soconboard/pkg/config"
	"soconboard/pkg/metrics"
)

// ARM api-versions, pinned per resource provider.
const (
	subscriptionsAPIVersion   = "2022-12-01"
	resourceGroupsAPIVersion  = "2021-04-01"
	workspacesAPIVersion      = "2023-09-01"
	solutionsAPIVersion       = "2015-11-01-preview"
	onboardingAPIVersion      = "2024-03-01"
	roleAssignmentsAPIVersion = "2022-04-01"
	automationRulesAPIVersion = "2024-03-01"
)

// Azure Security Insights service principal and the Sentinel Automation
// Contributor role it needs on the resource group. Fixed, well-known IDs.
const (
	sentinelServicePrincipalID = "b91c279d-7753-4d97-ae0e-e11d595c78cd"
	sentinelAutomationRoleID   = "f4c81013-99ee-4d62-a7ee-b3f1f648599a"
)

// UpstreamError is any non-success ARM response not otherwise classified.
// The upstream body is echoed to the caller for diagnosability.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed (HTTP %d): %s", e.Op, e.Status, e.Body)
}

type Workspace struct {
	SubscriptionID   string `json:"subscription_id"`
	SubscriptionName string `json:"subscription_name"`
	ResourceGroup    string `json:"resource_group"`
	WorkspaceName    string `json:"workspace_name"`
	WorkspaceID      string `json:"workspace_id"`
	Location         string `json:"location"`
	SentinelEnabled  bool   `json:"sentinel_enabled"`
}

// Diagnostics records what workspace enumeration saw, including
// per-subscription listing failures that did not abort the call.
type Diagnostics struct {
	SubscriptionsFound int      `json:"subscriptions_found"`
	SubscriptionNames  []string `json:"subscription_names"`
	WorkspacesChecked  int      `json:"workspaces_checked"`
	Errors             []string `json:"errors"`
}

type CreateWorkspaceParams struct {
	SubscriptionID      string
	ResourceGroup       string
	WorkspaceName       string
	Location            string
	CreateResourceGroup bool
}

type CreateWorkspaceResult struct {
	WorkspaceID     string
	SentinelEnabled bool
}

type CreateAutomationRuleParams struct {
	SubscriptionID     string
	ResourceGroup      string
	WorkspaceName      string
	LogicAppResourceID string
	TenantID           string
}

type CreateAutomationRuleResult struct {
	RuleName string
	Status   string
}

// Client performs ARM control-plane calls using the caller's delegated
// access token. Listing uses a 30s timeout; multi-step creation 120s, since
// ARM PUTs can be slow.
type Client struct {
	base         string
	listClient   *http.Client
	createClient *http.Client
	log          *zap.SugaredLogger
}

func NewClient(cfg config.Config, log *zap.SugaredLogger) *Client {
	return &Client{
		base:         strings.TrimRight(cfg.ARMBaseURL, "/"),
		listClient:   &http.Client{Timeout: 30 * time.Second},
		createClient: &http.Client{Timeout: 120 * time.Second},
		log:          log,
	}
}

// do issues one ARM request and returns status plus raw body. Network-level
// failures return err; HTTP-level failures are the caller's to classify.
func (c *Client) do(ctx context.Context, cli *http.Client, endpoint, method, url, token string, payload any) (int, []byte, error) {
	start := time.Now()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := cli.Do(req)
	if err != nil {
		metrics.AzureAPICalls.WithLabelValues(endpoint, "error").Inc()
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	metrics.AzureAPICalls.WithLabelValues(endpoint, fmt.Sprint(resp.StatusCode)).Inc()
	metrics.AzureAPIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	return resp.StatusCode, out, nil
}

// ListWorkspaces enumerates every enabled subscription, lists its Log
// Analytics workspaces and probes Sentinel enablement per workspace.
// A failure listing subscriptions aborts; per-subscription failures are
// recorded in diagnostics and skipped.
func (c *Client) ListWorkspaces(ctx context.Context, token string) ([]Workspace, Diagnostics, error) {
	diag := Diagnostics{Errors: []string{}}

	status, body, err := c.do(ctx, c.listClient, "subscriptions", http.MethodGet,
		c.base+"/subscriptions?api-version="+subscriptionsAPIVersion, token, nil)
	if err != nil {
		return nil, diag, err
	}
	if status != http.StatusOK {
		return nil, diag, &UpstreamError{Op: "list subscriptions", Status: status, Body: string(body)}
	}

	var subsPayload struct {
		Value []struct {
			SubscriptionID string `json:"subscriptionId"`
			DisplayName    string `json:"displayName"`
			State          string `json:"state"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &subsPayload); err != nil {
		return nil, diag, err
	}
	diag.SubscriptionsFound = len(subsPayload.Value)

	var workspaces []Workspace
	for _, sub := range subsPayload.Value {
		name := sub.DisplayName
		if name == "" {
			name = sub.SubscriptionID
		}
		diag.SubscriptionNames = append(diag.SubscriptionNames, name)

		wsStatus, wsBody, err := c.do(ctx, c.listClient, "workspaces", http.MethodGet,
			fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.OperationalInsights/workspaces?api-version=%s",
				c.base, sub.SubscriptionID, workspacesAPIVersion), token, nil)
		if err != nil || wsStatus != http.StatusOK {
			msg := fmt.Sprintf("Failed to list workspaces in %s: HTTP %d", name, wsStatus)
			c.log.Warnw("workspace listing failed", "subscription", name, "status", wsStatus)
			diag.Errors = append(diag.Errors, msg)
			continue
		}

		var wsPayload struct {
			Value []struct {
				ID         string `json:"id"`
				Name       string `json:"name"`
				Location   string `json:"location"`
				Properties struct {
					CustomerID string `json:"customerId"`
				} `json:"properties"`
			} `json:"value"`
		}
		if err := json.Unmarshal(wsBody, &wsPayload); err != nil {
			diag.Errors = append(diag.Errors, fmt.Sprintf("Bad workspace listing payload in %s", name))
			continue
		}

		for _, ws := range wsPayload.Value {
			diag.WorkspacesChecked++
			rg := resourceGroupFromID(ws.ID)
			workspaces = append(workspaces, Workspace{
				SubscriptionID:   sub.SubscriptionID,
				SubscriptionName: name,
				ResourceGroup:    rg,
				WorkspaceName:    ws.Name,
				WorkspaceID:      ws.Properties.CustomerID,
				Location:         ws.Location,
				SentinelEnabled:  c.sentinelEnabled(ctx, token, sub.SubscriptionID, rg, ws.Name),
			})
		}
	}

	c.log.Infow("workspaces enumerated", "count", len(workspaces), "subscriptions", diag.SubscriptionsFound)
	return workspaces, diag, nil
}

// sentinelEnabled is a best-effort probe, not authoritative: the solution
// resource must exist AND the onboarding state must resolve. Any failure
// reads as "not enabled".
func (c *Client) sentinelEnabled(ctx context.Context, token, subscriptionID, resourceGroup, workspaceName string) bool {
	if resourceGroup == "" {
		return false
	}
	status, _, err := c.do(ctx, c.listClient, "sentinel_solution", http.MethodGet,
		fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.OperationsManagement/solutions/SecurityInsights(%s)?api-version=%s",
			c.base, subscriptionID, resourceGroup, workspaceName, solutionsAPIVersion), token, nil)
	if err != nil || status != http.StatusOK {
		return false
	}
	status, _, err = c.do(ctx, c.listClient, "sentinel_onboarding", http.MethodGet,
		fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.OperationalInsights/workspaces/%s/providers/Microsoft.SecurityInsights/onboardingStates/default?api-version=%s",
			c.base, subscriptionID, resourceGroup, workspaceName, onboardingAPIVersion), token, nil)
	return err == nil && status == http.StatusOK
}

// CreateWorkspace runs the three-step creation sequence. Resource group and
// workspace failures abort; Sentinel enablement failure degrades to
// SentinelEnabled=false because the workspace is still usable and Sentinel
// can be re-tried independently.
func (c *Client) CreateWorkspace(ctx context.Context, token string, p CreateWorkspaceParams) (CreateWorkspaceResult, error) {
	tags := map[string]string{"CreatedBy": "SOC-Onboarding", "Purpose": "Sentinel-Workspace"}

	if p.CreateResourceGroup {
		status, body, err := c.do(ctx, c.createClient, "resource_group", http.MethodPut,
			fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s?api-version=%s",
				c.base, p.SubscriptionID, p.ResourceGroup, resourceGroupsAPIVersion), token,
			map[string]any{"location": p.Location, "tags": tags})
		if err != nil {
			return CreateWorkspaceResult{}, err
		}
		if status != http.StatusOK && status != http.StatusCreated {
			return CreateWorkspaceResult{}, &UpstreamError{Op: "create resource group", Status: status, Body: string(body)}
		}
	}

	status, body, err := c.do(ctx, c.createClient, "workspace_create", http.MethodPut,
		fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.OperationalInsights/workspaces/%s?api-version=%s",
			c.base, p.SubscriptionID, p.ResourceGroup, p.WorkspaceName, workspacesAPIVersion), token,
		map[string]any{
			"location": p.Location,
			"properties": map[string]any{
				"sku":             map[string]string{"name": "PerGB2018"},
				"retentionInDays": 90,
				"features":        map[string]any{"enableLogAccessUsingOnlyResourcePermissions": true},
			},
			"tags": tags,
		})
	if err != nil {
		return CreateWorkspaceResult{}, err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		return CreateWorkspaceResult{}, &UpstreamError{Op: "create workspace", Status: status, Body: string(body)}
	}
	var wsPayload struct {
		Properties struct {
			CustomerID string `json:"customerId"`
		} `json:"properties"`
	}
	_ = json.Unmarshal(body, &wsPayload)

	workspaceResourceID := fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.OperationalInsights/workspaces/%s",
		p.SubscriptionID, p.ResourceGroup, p.WorkspaceName)
	status, body, err = c.do(ctx, c.createClient, "sentinel_enable", http.MethodPut,
		fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.OperationsManagement/solutions/SecurityInsights(%s)?api-version=%s",
			c.base, p.SubscriptionID, p.ResourceGroup, p.WorkspaceName, solutionsAPIVersion), token,
		map[string]any{
			"location":   p.Location,
			"properties": map[string]any{"workspaceResourceId": workspaceResourceID},
			"plan": map[string]any{
				"name":          fmt.Sprintf("SecurityInsights(%s)", p.WorkspaceName),
				"publisher":     "Microsoft",
				"product":       "OMSGallery/SecurityInsights",
				"promotionCode": "",
			},
		})
	sentinelOK := err == nil && (status == http.StatusOK || status == http.StatusCreated || status == http.StatusAccepted)
	if !sentinelOK {
		c.log.Warnw("sentinel enablement failed, workspace still usable",
			"workspace", p.WorkspaceName, "status", status, "body", string(body))
	}

	return CreateWorkspaceResult{
		WorkspaceID:     wsPayload.Properties.CustomerID,
		SentinelEnabled: sentinelOK,
	}, nil
}

// CreateAutomationRule grants the Sentinel automation service principal its
// role (best effort; "already exists" counts as success so re-running
// onboarding for a tenant cannot fail here) and then creates the rule.
// Rule creation failure is fatal.
func (c *Client) CreateAutomationRule(ctx context.Context, token string, p CreateAutomationRuleParams) (CreateAutomationRuleResult, error) {
	roleAssignmentName := uuid.NewString()
	status, body, err := c.do(ctx, c.createClient, "role_assignment", http.MethodPut,
		fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Authorization/roleAssignments/%s?api-version=%s",
			c.base, p.SubscriptionID, p.ResourceGroup, roleAssignmentName, roleAssignmentsAPIVersion), token,
		map[string]any{
			"properties": map[string]any{
				"roleDefinitionId": fmt.Sprintf("/subscriptions/%s/providers/Microsoft.Authorization/roleDefinitions/%s",
					p.SubscriptionID, sentinelAutomationRoleID),
				"principalId":   sentinelServicePrincipalID,
				"principalType": "ServicePrincipal",
			},
		})
	if err != nil || (status != http.StatusOK && status != http.StatusCreated && status != http.StatusConflict) {
		// The role may already exist or the admin may have granted it by hand.
		c.log.Warnw("role assignment failed, continuing", "status", status, "body", string(body))
	}

	ruleName := "SOC-T0-Auto-Analyze-" + randomSuffix(8)
	status, body, err = c.do(ctx, c.createClient, "automation_rule", http.MethodPut,
		fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.OperationalInsights/workspaces/%s/providers/Microsoft.SecurityInsights/automationRules/%s?api-version=%s",
			c.base, p.SubscriptionID, p.ResourceGroup, p.WorkspaceName, ruleName, automationRulesAPIVersion), token,
		map[string]any{
			"properties": map[string]any{
				"displayName": "SOC T0 SaaS - Auto Analyze All Incidents",
				"order":       1,
				"triggeringLogic": map[string]any{
					"isEnabled":    true,
					"triggersOn":   "Incidents",
					"triggersWhen": "Created",
					"conditions":   []any{},
				},
				"actions": []map[string]any{{
					"order":      1,
					"actionType": "RunPlaybook",
					"actionConfiguration": map[string]any{
						"logicAppResourceId": p.LogicAppResourceID,
						"tenantId":           p.TenantID,
					},
				}},
			},
		})
	if err != nil {
		return CreateAutomationRuleResult{}, err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		return CreateAutomationRuleResult{}, &UpstreamError{Op: "create automation rule", Status: status, Body: string(body)}
	}

	c.log.Infow("automation rule created", "rule", ruleName)
	return CreateAutomationRuleResult{RuleName: ruleName, Status: "created"}, nil
}

func resourceGroupFromID(resourceID string) string {
	parts := strings.Split(resourceID, "/")
	for i, p := range parts {
		if strings.EqualFold(p, "resourceGroups") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func randomSuffix(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
