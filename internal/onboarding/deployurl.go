package onboarding

import (
	"encoding/json"
	"net/url"
)

const portalTemplateBlade = "https://portal.azure.com/#create/Microsoft.Template/uri/"

// DeployParams feeds the Deploy-to-Azure link for the full integration
// template. APIKey travels in the URL fragment, which the portal keeps
// client-side.
type DeployParams struct {
	WorkspaceName  string
	ResourceGroup  string
	APIKey         string
	TenantID       string
	SubscriptionID string
	Location       string
}

type DeployLinks struct {
	DeployURL       string         `json:"deploy_url"`
	SimpleDeployURL string         `json:"simple_deploy_url"`
	TemplateURL     string         `json:"template_url"`
	Parameters      map[string]any `json:"parameters"`
}

type WorkspaceTemplate struct {
	DeployURL   string `json:"deploy_url"`
	TemplateURL string `json:"template_url"`
	Description string `json:"description"`
}

// DeployLinks builds portal deployment URLs for the complete integration
// template with parameters pre-filled. Pure, no I/O.
func (s *Service) DeployLinks(p DeployParams) DeployLinks {
	templateURL := s.templateBase + "/soc-t0-complete.json"
	encodedTemplate := url.QueryEscape(templateURL)

	// Portal pre-fill format: {"paramName": {"value": ...}} appended after
	// the template URI with a ~ separator.
	paramsObj := map[string]any{
		"workspaceName":  map[string]any{"value": p.WorkspaceName},
		"tenantId":       map[string]any{"value": p.TenantID},
		"customerApiKey": map[string]any{"value": p.APIKey},
		"saasEndpoint":   map[string]any{"value": s.saasEndpoint},
	}
	if p.Location != "" {
		paramsObj["location"] = map[string]any{"value": p.Location}
	}
	paramsJSON, _ := json.Marshal(paramsObj)

	return DeployLinks{
		DeployURL:       portalTemplateBlade + encodedTemplate + "/~/" + url.QueryEscape(string(paramsJSON)),
		SimpleDeployURL: portalTemplateBlade + encodedTemplate,
		TemplateURL:     templateURL,
		Parameters: map[string]any{
			"workspaceName":  p.WorkspaceName,
			"tenantId":       p.TenantID,
			"resourceGroup":  p.ResourceGroup,
			"customerApiKey": p.APIKey,
			"saasEndpoint":   s.saasEndpoint,
			"location":       p.Location,
		},
	}
}

// WorkspaceTemplateLink is the portal link for the standalone
// workspace-plus-Sentinel template, with no parameters pre-filled.
func (s *Service) WorkspaceTemplateLink() WorkspaceTemplate {
	templateURL := s.templateBase + "/soc-t0-workspace.json"
	return WorkspaceTemplate{
		DeployURL:   portalTemplateBlade + url.QueryEscape(templateURL),
		TemplateURL: templateURL,
		Description: "Creates a Log Analytics Workspace with Microsoft Sentinel enabled",
	}
}
