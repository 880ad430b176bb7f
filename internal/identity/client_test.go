package identity_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"soconboard/internal/identity"
	"soconboard/pkg/config"
)

func newClient(t *testing.T, loginBase, armBase string) *identity.Client {
	t.Helper()
	return identity.NewClient(config.Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		LoginBaseURL: loginBase,
		ARMBaseURL:   armBase,
	}, zap.NewNop().Sugar())
}

// fakeIDToken builds an unsigned JWT carrying the given claims. The signature
// segment is garbage on purpose; tenant extraction never verifies it.
func fakeIDToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	header := enc(map[string]string{"alg": "HS256", "typ": "JWT"})
	payload := enc(claims)
	sig := base64.RawURLEncoding.EncodeToString([]byte("not-a-real-signature"))
	return header + "." + payload + "." + sig
}

func TestConsentURL(t *testing.T) {
	c := newClient(t, "https://login.example.com", "https://arm.example.com")

	raw := c.ConsentURL("https://app.example.com/cb", "state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/organizations/oauth2/v2.0/authorize", u.Path)

	q := u.Query()
	require.Equal(t, "client-1", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "https://app.example.com/cb", q.Get("redirect_uri"))
	require.Equal(t, "query", q.Get("response_mode"))
	require.Equal(t, "state-123", q.Get("state"))
	require.Equal(t, "consent", q.Get("prompt"))
	require.Contains(t, q.Get("scope"), "https://management.azure.com/.default")
	require.Contains(t, q.Get("scope"), "openid")
}

func TestExchangeCodeExtractsTenant(t *testing.T) {
	idToken := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/organizations/oauth2/v2.0/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.FormValue("grant_type"))
		require.Equal(t, "code-abc", r.FormValue("code"))
		require.Equal(t, "client-1", r.FormValue("client_id"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1",
			"expires_in":   3599,
			"id_token":     idToken,
		})
	}))
	defer srv.Close()
	c := newClient(t, srv.URL, "https://arm.example.com")

	idToken = fakeIDToken(t, map[string]any{"tid": "tenant-123", "oid": "user-1"})
	res, err := c.ExchangeCode(context.Background(), "code-abc", "https://app.example.com/cb")
	require.NoError(t, err)
	require.Equal(t, "at-1", res.AccessToken)
	require.Equal(t, "tenant-123", res.TenantID)
	require.Equal(t, 3599, res.ExpiresIn)
}

func TestExchangeCodeMissingIDToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "at-1", "expires_in": 3599})
	}))
	defer srv.Close()
	c := newClient(t, srv.URL, "https://arm.example.com")

	res, err := c.ExchangeCode(context.Background(), "code-abc", "https://app.example.com/cb")
	require.NoError(t, err)
	require.Equal(t, "at-1", res.AccessToken)
	require.Empty(t, res.TenantID)
}

func TestExchangeCodeUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	c := newClient(t, srv.URL, "https://arm.example.com")

	_, err := c.ExchangeCode(context.Background(), "bad-code", "https://app.example.com/cb")
	var authErr *identity.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusBadRequest, authErr.Status)
	require.Contains(t, authErr.Body, "invalid_grant")
}

func TestListSubscriptionsFiltersDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/subscriptions", r.URL.Path)
		require.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"value":[
			{"subscriptionId":"s1","displayName":"Prod","state":"Enabled"},
			{"subscriptionId":"s2","displayName":"Old","state":"Disabled"},
			{"subscriptionId":"s3","displayName":"","state":"Enabled"}]}`))
	}))
	defer srv.Close()
	c := newClient(t, "https://login.example.com", srv.URL)

	subs, err := c.ListSubscriptions(context.Background(), "at-1")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.Equal(t, "Prod", subs[0].DisplayName)
	// nameless subscriptions fall back to their id
	require.Equal(t, "s3", subs[1].DisplayName)
}

func TestListSubscriptionsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := newClient(t, "https://login.example.com", srv.URL)

	_, err := c.ListSubscriptions(context.Background(), "at-1")
	var authErr *identity.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusUnauthorized, authErr.Status)
}
