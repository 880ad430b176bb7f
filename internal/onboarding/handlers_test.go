package onboarding_test

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"soconboard/internal/arm"
	"soconboard/internal/customers"
	"soconboard/internal/identity"
	"soconboard/internal/onboarding"
	"soconboard/internal/statestore"
	"soconboard/pkg/config"
)

// newAPI wires the whole stack against in-memory stores and fake upstream
// servers, returning the HTTP test server for the public API.
func newAPI(t *testing.T, upstream http.HandlerFunc) *httptest.Server {
	t.Helper()
	if upstream == nil {
		upstream = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unexpected upstream call "+r.URL.Path, http.StatusTeapot)
		}
	}
	fake := httptest.NewServer(upstream)
	t.Cleanup(fake.Close)

	cfg := config.Config{
		ClientID:        "client-1",
		ClientSecret:    "secret-1",
		LoginBaseURL:    fake.URL,
		ARMBaseURL:      fake.URL,
		SaaSEndpoint:    "https://saas.example.com",
		TemplateBaseURL: "https://templates.example.com/templates",
	}
	log := zap.NewNop().Sugar()
	svc := onboarding.NewService(cfg, log,
		identity.NewClient(cfg, log),
		arm.NewClient(cfg, log),
		customers.NewMemoryStore(),
		statestore.NewMemory(15*time.Minute))

	r := chi.NewRouter()
	onboarding.NewHandler(svc, log).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, srv *httptest.Server, path string, want int) map[string]any {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, want, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any, want int) map[string]any {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(string(b)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, want, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func completeBody(tenant string) map[string]any {
	return map[string]any{
		"tenant_id":       tenant,
		"subscription_id": "sub-1",
		"resource_group":  "rg-1",
		"workspace_name":  "ws-1",
		"workspace_id":    "wsid-1",
	}
}

func TestConsentFlow(t *testing.T) {
	enc := base64.RawURLEncoding
	idToken := enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`)) + "." +
		enc.EncodeToString([]byte(`{"tid":"tenant-xyz"}`)) + "." +
		enc.EncodeToString([]byte("sig"))

	srv := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/organizations/oauth2/v2.0/token", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1", "expires_in": 3599, "id_token": idToken,
		})
	})

	out := getJSON(t, srv, "/api/v1/onboarding/auth-url?redirect_uri="+url.QueryEscape("https://app.example.com/cb"), http.StatusOK)
	state, _ := out["state"].(string)
	require.NotEmpty(t, state)
	require.Contains(t, out["auth_url"], "state="+state)
	require.Contains(t, out["auth_url"], "prompt=consent")

	cb := getJSON(t, srv, "/api/v1/onboarding/callback?code=c1&state="+state, http.StatusOK)
	require.Equal(t, "at-1", cb["access_token"])
	require.Equal(t, "tenant-xyz", cb["tenant_id"])

	// state is one-shot
	again := getJSON(t, srv, "/api/v1/onboarding/callback?code=c1&state="+state, http.StatusBadRequest)
	require.Equal(t, "Invalid state token", again["detail"])
}

func TestCallbackProviderError(t *testing.T) {
	srv := newAPI(t, nil)
	out := getJSON(t, srv, "/api/v1/onboarding/callback?code=&state=s1&error=access_denied&error_description=admin+declined", http.StatusBadRequest)
	require.Contains(t, out["detail"], "access_denied")
}

func TestAuthURLRequiresRedirectURI(t *testing.T) {
	srv := newAPI(t, nil)
	getJSON(t, srv, "/api/v1/onboarding/auth-url", http.StatusBadRequest)
}

func TestCompleteThenConflict(t *testing.T) {
	srv := newAPI(t, nil)

	out := postJSON(t, srv, "/api/v1/onboarding/complete", completeBody("tenant-1"), http.StatusOK)
	require.NotEmpty(t, out["customer_id"])
	key, _ := out["api_key"].(string)
	require.True(t, strings.HasPrefix(key, "soc_"))

	dup := postJSON(t, srv, "/api/v1/onboarding/complete", completeBody("tenant-1"), http.StatusConflict)
	require.Contains(t, dup["detail"], "already exists")
}

func TestCompleteValidation(t *testing.T) {
	srv := newAPI(t, nil)
	body := completeBody("tenant-1")
	delete(body, "workspace_id")
	out := postJSON(t, srv, "/api/v1/onboarding/complete", body, http.StatusBadRequest)
	require.Contains(t, out["detail"], "workspace_id")
}

func TestCustomerStatus(t *testing.T) {
	srv := newAPI(t, nil)

	out := getJSON(t, srv, "/api/v1/onboarding/customer-status?tenant_id=tenant-1", http.StatusOK)
	require.Equal(t, false, out["exists"])

	postJSON(t, srv, "/api/v1/onboarding/complete", completeBody("tenant-1"), http.StatusOK)

	out = getJSON(t, srv, "/api/v1/onboarding/customer-status?tenant_id=tenant-1", http.StatusOK)
	require.Equal(t, true, out["exists"])
	require.Equal(t, "ws-1", out["workspace_name"])
	require.Equal(t, "sub-1", out["subscription_id"])
}

func TestRegenerateAPIKey(t *testing.T) {
	srv := newAPI(t, nil)

	notFound := postJSON(t, srv, "/api/v1/onboarding/regenerate-api-key?tenant_id=tenant-1", nil, http.StatusNotFound)
	require.Contains(t, notFound["detail"], "No customer found")

	created := postJSON(t, srv, "/api/v1/onboarding/complete", completeBody("tenant-1"), http.StatusOK)
	oldKey, _ := created["api_key"].(string)

	out := postJSON(t, srv, "/api/v1/onboarding/regenerate-api-key?tenant_id=tenant-1", nil, http.StatusOK)
	newKey, _ := out["api_key"].(string)
	require.True(t, strings.HasPrefix(newKey, "soc_"))
	require.NotEqual(t, oldKey, newKey)
}

func TestRegions(t *testing.T) {
	srv := newAPI(t, nil)
	out := getJSON(t, srv, "/api/v1/onboarding/regions", http.StatusOK)
	regions, _ := out["regions"].([]any)
	require.Len(t, regions, 14)
	first, _ := regions[0].(map[string]any)
	require.Equal(t, "australiaeast", first["name"])
	require.Equal(t, "Australia East", first["display_name"])
}

func TestDeployURL(t *testing.T) {
	srv := newAPI(t, nil)

	getJSON(t, srv, "/api/v1/onboarding/deploy-url?workspace_name=ws-1", http.StatusBadRequest)

	out := getJSON(t, srv, "/api/v1/onboarding/deploy-url?workspace_name=ws-1&resource_group=rg-1&api_key=soc_abc&tenant_id=tenant-1&location=eastus", http.StatusOK)
	deployURL, _ := out["deploy_url"].(string)
	require.Contains(t, deployURL, "portal.azure.com")
	require.Contains(t, deployURL, url.QueryEscape("https://templates.example.com/templates/soc-t0-complete.json"))
	require.Contains(t, deployURL, "/~/")
	require.Equal(t, "https://templates.example.com/templates/soc-t0-complete.json", out["template_url"])

	params, _ := out["parameters"].(map[string]any)
	require.Equal(t, "soc_abc", params["customerApiKey"])
	require.Equal(t, "https://saas.example.com", params["saasEndpoint"])
	require.Equal(t, "eastus", params["location"])
}

func TestWorkspaceTemplateURL(t *testing.T) {
	srv := newAPI(t, nil)
	out := getJSON(t, srv, "/api/v1/onboarding/workspace-template-url", http.StatusOK)
	require.Equal(t, "https://templates.example.com/templates/soc-t0-workspace.json", out["template_url"])
	require.Contains(t, out["deploy_url"], "portal.azure.com")
}

func TestWorkspacesRequiresToken(t *testing.T) {
	srv := newAPI(t, nil)
	out := getJSON(t, srv, "/api/v1/onboarding/workspaces", http.StatusBadRequest)
	require.Contains(t, out["detail"], "access_token")
}

func TestWorkspacesEndToEnd(t *testing.T) {
	srv := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/subscriptions":
			w.Write([]byte(`{"value":[{"subscriptionId":"s1","displayName":"Sub","state":"Enabled"}]}`))
		case strings.HasSuffix(r.URL.Path, "/providers/Microsoft.OperationalInsights/workspaces"):
			w.Write([]byte(`{"value":[{
				"id":"/subscriptions/s1/resourceGroups/rg1/providers/Microsoft.OperationalInsights/workspaces/ws1",
				"name":"ws1","location":"eastus","properties":{"customerId":"wsid-1"}}]}`))
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})

	out := getJSON(t, srv, "/api/v1/onboarding/workspaces?access_token=at-1", http.StatusOK)
	workspaces, _ := out["workspaces"].([]any)
	require.Len(t, workspaces, 1)
	ws, _ := workspaces[0].(map[string]any)
	require.Equal(t, "ws1", ws["workspace_name"])
	require.Equal(t, false, ws["sentinel_enabled"])

	debug, _ := out["debug"].(map[string]any)
	require.Equal(t, float64(1), debug["subscriptions_found"])
}

func TestSubscriptionsEndToEnd(t *testing.T) {
	srv := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[
			{"subscriptionId":"s1","displayName":"Prod","state":"Enabled"},
			{"subscriptionId":"s2","displayName":"Gone","state":"Disabled"}]}`))
	})

	out := getJSON(t, srv, "/api/v1/onboarding/subscriptions?access_token=at-1", http.StatusOK)
	subs, _ := out["subscriptions"].([]any)
	require.Len(t, subs, 1)
}

func TestCreateWorkspaceUpstreamErrorEchoed(t *testing.T) {
	srv := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "InvalidResourceGroup", http.StatusBadRequest)
	})

	out := postJSON(t, srv, "/api/v1/onboarding/create-workspace?access_token=at-1", map[string]any{
		"subscription_id": "s1",
		"resource_group":  "rg-1",
		"workspace_name":  "ws-1",
		"location":        "eastus",
	}, http.StatusBadRequest)
	require.Contains(t, out["detail"], "InvalidResourceGroup")
}

func TestAuditEventsRequireAPIKey(t *testing.T) {
	srv := newAPI(t, nil)

	created := postJSON(t, srv, "/api/v1/onboarding/complete", completeBody("tenant-1"), http.StatusOK)
	key, _ := created["api_key"].(string)

	resp, err := http.Get(srv.URL + "/api/v1/onboarding/audit-events")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/onboarding/audit-events", nil)
	require.NoError(t, err)
	req.Header.Set("X-Api-Key", key)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	events, _ := out["events"].([]any)
	require.Len(t, events, 1)
	ev, _ := events[0].(map[string]any)
	require.Equal(t, "customer_onboarded", ev["event_type"])
}
