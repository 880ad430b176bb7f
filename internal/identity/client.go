// internal/identity/client.go
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	"soconboard/pkg/config"
	"soconboard/pkg/metrics"
)

// Scope requested on admin consent: ARM delegated access plus basic OIDC.
const consentScope = "https://management.azure.com/.default openid profile email"

const subscriptionsAPIVersion = "2022-12-01"

// AuthError is an upstream identity/authorization failure. The upstream
// status and body are kept verbatim for diagnosability.
type AuthError struct {
	Op     string
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s failed (HTTP %d): %s", e.Op, e.Status, e.Body)
}

// TokenResult is the outcome of an authorization-code exchange. TenantID is
// extracted from unverified id_token claims and may be empty when the
// provider returned no id_token.
type TokenResult struct {
	AccessToken string `json:"access_token"`
	TenantID    string `json:"tenant_id"`
	ExpiresIn   int    `json:"expires_in"`
}

type Subscription struct {
	SubscriptionID string `json:"subscription_id"`
	DisplayName    string `json:"display_name"`
	State          string `json:"state"`
}

// Client talks to the Azure AD authorize/token endpoints and the ARM
// subscriptions API on behalf of the onboarding flow.
type Client struct {
	clientID     string
	clientSecret string
	loginBase    string
	armBase      string
	httpClient   *http.Client
	log          *zap.SugaredLogger
}

func NewClient(cfg config.Config, log *zap.SugaredLogger) *Client {
	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		loginBase:    strings.TrimRight(cfg.LoginBaseURL, "/"),
		armBase:      strings.TrimRight(cfg.ARMBaseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          log,
	}
}

// ConsentURL builds the multi-tenant admin-consent URL. Pure, no I/O.
func (c *Client) ConsentURL(redirectURI, state string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", redirectURI)
	params.Set("response_mode", "query")
	params.Set("scope", consentScope)
	params.Set("state", state)
	params.Set("prompt", "consent")
	return c.loginBase + "/organizations/oauth2/v2.0/authorize?" + params.Encode()
}

// ExchangeCode swaps an authorization code for tokens. A non-200 from the
// token endpoint becomes an AuthError; a missing id_token leaves TenantID
// empty rather than failing.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (TokenResult, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("grant_type", "authorization_code")
	form.Set("scope", consentScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.loginBase+"/organizations/oauth2/v2.0/token", strings.NewReader(form.Encode()))
	if err != nil {
		return TokenResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TokenResult{}, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return TokenResult{}, &AuthError{Op: "token exchange", Status: resp.StatusCode, Body: string(body)}
	}

	var tokenData struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		IDToken     string `json:"id_token"`
	}
	if err := json.Unmarshal(body, &tokenData); err != nil {
		return TokenResult{}, err
	}

	return TokenResult{
		AccessToken: tokenData.AccessToken,
		TenantID:    tenantIDFromIDToken(tokenData.IDToken),
		ExpiresIn:   tokenData.ExpiresIn,
	}, nil
}

// tenantIDFromIDToken pulls the tid claim without verifying the signature.
// The token is discarded right after and never used for authorization, so
// verification is intentionally skipped.
func tenantIDFromIDToken(idToken string) string {
	if idToken == "" {
		return ""
	}
	tok, err := jwt.Parse([]byte(idToken), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return ""
	}
	if tid, ok := tok.Get("tid"); ok {
		if s, ok := tid.(string); ok {
			return s
		}
	}
	return ""
}

// ListSubscriptions enumerates ARM subscriptions visible to the delegated
// token, filtered to state == Enabled.
func (c *Client) ListSubscriptions(ctx context.Context, accessToken string) ([]Subscription, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.armBase+"/subscriptions?api-version="+subscriptionsAPIVersion, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.AzureAPICalls.WithLabelValues("subscriptions", "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	metrics.AzureAPICalls.WithLabelValues("subscriptions", fmt.Sprint(resp.StatusCode)).Inc()
	metrics.AzureAPIDuration.WithLabelValues("subscriptions").Observe(time.Since(start).Seconds())
	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{Op: "list subscriptions", Status: resp.StatusCode, Body: string(body)}
	}

	var payload struct {
		Value []struct {
			SubscriptionID string `json:"subscriptionId"`
			DisplayName    string `json:"displayName"`
			State          string `json:"state"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	var subs []Subscription
	for _, s := range payload.Value {
		if s.State != "Enabled" {
			continue
		}
		name := s.DisplayName
		if name == "" {
			name = s.SubscriptionID
		}
		subs = append(subs, Subscription{SubscriptionID: s.SubscriptionID, DisplayName: name, State: s.State})
	}
	return subs, nil
}
