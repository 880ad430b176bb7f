// internal/onboarding/handlers.go
package onboarding

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"soconboard/internal/arm"
	"soconboard/internal/customers"
	"soconboard/internal/identity"
	"soconboard/pkg/middleware"
)

// Handler exposes the onboarding API under /api/v1/onboarding.
type Handler struct {
	svc *Service
	log *zap.SugaredLogger
}

func NewHandler(svc *Service, log *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1/onboarding", func(or chi.Router) {
		or.Get("/auth-url", h.authURL)
		or.Get("/callback", h.callback)
		or.Get("/workspaces", h.workspaces)
		or.Get("/subscriptions", h.subscriptions)
		or.Get("/regions", h.regions)
		or.Get("/customer-status", h.customerStatus)
		or.Post("/regenerate-api-key", h.regenerateKey)
		or.Post("/complete", h.complete)
		or.Get("/deploy-url", h.deployURL)
		or.Get("/workspace-template-url", h.workspaceTemplateURL)
		or.Post("/create-workspace", h.createWorkspace)
		or.Post("/create-automation-rule", h.createAutomationRule)

		or.Group(func(pr chi.Router) {
			pr.Use(middleware.APIKeyAuth(h.svc.ResolveAPIKey, h.log))
			pr.Get("/audit-events", h.auditEvents)
		})
	})
}

func (h *Handler) authURL(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.BeginConsent(r.URL.Query().Get("redirect_uri"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.svc.CompleteConsent(r.Context(), q.Get("code"), q.Get("state"),
		q.Get("error"), q.Get("error_description"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) workspaces(w http.ResponseWriter, r *http.Request) {
	token, ok := h.accessToken(w, r)
	if !ok {
		return
	}
	out, err := h.svc.ListWorkspaces(r.Context(), token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) subscriptions(w http.ResponseWriter, r *http.Request) {
	token, ok := h.accessToken(w, r)
	if !ok {
		return
	}
	subs, err := h.svc.Subscriptions(r.Context(), token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (h *Handler) regions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"regions": Regions()})
}

func (h *Handler) customerStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeDetail(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	out, err := h.svc.Status(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) regenerateKey(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeDetail(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	out, err := h.svc.RegenerateKey(r.Context(), tenantID)
	if errors.Is(err, customers.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "No customer found for this tenant. Please complete onboarding first.")
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	out, err := h.svc.Complete(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) deployURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := DeployParams{
		WorkspaceName:  q.Get("workspace_name"),
		ResourceGroup:  q.Get("resource_group"),
		APIKey:         q.Get("api_key"),
		TenantID:       q.Get("tenant_id"),
		SubscriptionID: q.Get("subscription_id"),
		Location:       q.Get("location"),
	}
	if p.WorkspaceName == "" || p.ResourceGroup == "" || p.APIKey == "" || p.TenantID == "" {
		writeDetail(w, http.StatusBadRequest, "workspace_name, resource_group, api_key and tenant_id are required")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.DeployLinks(p))
}

func (h *Handler) workspaceTemplateURL(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.WorkspaceTemplateLink())
}

func (h *Handler) createWorkspace(w http.ResponseWriter, r *http.Request) {
	token, ok := h.accessToken(w, r)
	if !ok {
		return
	}
	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	out, err := h.svc.CreateWorkspace(r.Context(), token, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createAutomationRule(w http.ResponseWriter, r *http.Request) {
	token, ok := h.accessToken(w, r)
	if !ok {
		return
	}
	var req CreateAutomationRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	out, err := h.svc.CreateAutomationRule(r.Context(), token, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) auditEvents(w http.ResponseWriter, r *http.Request) {
	customerID := middleware.CustomerIDFrom(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.svc.AuditEvents(r.Context(), customerID, r.URL.Query().Get("event_type"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// accessToken pulls the delegated Azure token from the query string; missing
// token is a 400 handled here.
func (h *Handler) accessToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		writeDetail(w, http.StatusBadRequest, "access_token is required")
		return "", false
	}
	return token, true
}

// writeError maps service and upstream errors onto HTTP statuses. Upstream
// bodies are echoed verbatim so the portal UI can show the real Azure error.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var authErr *identity.AuthError
	var upErr *arm.UpstreamError
	switch {
	case errors.As(err, &authErr), errors.As(err, &upErr):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidState):
		writeDetail(w, http.StatusBadRequest, "Invalid state token")
	case errors.Is(err, ErrInvalidInput):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, customers.ErrConflict):
		writeDetail(w, http.StatusConflict, "A customer already exists for this tenant. Contact support to manage your subscription.")
	case errors.Is(err, customers.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "customer not found")
	default:
		h.log.Errorw("request failed", "err", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
