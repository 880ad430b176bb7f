// pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConsentStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onb_consent_started_total",
		Help: "OAuth consent flows initiated",
	})
	ConsentCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onb_consent_completed_total",
		Help: "OAuth consent flows completed",
	}, []string{"status"})

	WorkspacesListed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onb_workspaces_listed_total",
		Help: "Workspace listing requests",
	}, []string{"status"})
	WorkspaceListDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "onb_workspace_list_duration_seconds",
		Help: "Workspace enumeration duration",
	})

	WorkspaceCreation = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onb_workspace_creation_total",
		Help: "Workspace creation attempts",
	}, []string{"status"})
	WorkspaceCreationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "onb_workspace_creation_duration_seconds",
		Help: "Multi-step workspace creation duration",
	})

	OnboardingCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onb_onboarding_completed_total",
		Help: "Full onboarding completions",
	}, []string{"status"})

	APIKeyGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onb_api_key_generated_total",
		Help: "API keys generated",
	}, []string{"type"})

	AutomationRule = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onb_automation_rule_total",
		Help: "Sentinel automation rule creation attempts",
	}, []string{"status"})

	AzureAPICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onb_azure_api_calls_total",
		Help: "Azure Management API calls",
	}, []string{"endpoint", "status"})
	AzureAPIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "onb_azure_api_duration_seconds",
		Help: "Azure Management API call duration",
	}, []string{"endpoint"})

	StateTokensActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "onb_state_tokens_active",
		Help: "In-memory OAuth state tokens currently held",
	})
)
