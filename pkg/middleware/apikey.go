// pkg/middleware/apikey.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const CtxKeyCustomerID ctxKey = "customer_id"

// KeyResolver maps a raw API key to the owning customer's ID.
type KeyResolver func(ctx context.Context, rawKey string) (customerID string, err error)

// APIKeyAuth guards customer-facing endpoints with the soc_ bearer key.
// The key is accepted from Authorization: Bearer or X-Api-Key.
func APIKeyAuth(resolve KeyResolver, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-Api-Key")
			if raw == "" {
				if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
					raw = strings.TrimPrefix(h, "Bearer ")
				}
			}
			if raw == "" {
				http.Error(w, "missing api key", http.StatusUnauthorized)
				return
			}
			id, err := resolve(r.Context(), raw)
			if err != nil {
				log.Debugw("api key rejected", "err", err)
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), CtxKeyCustomerID, id)))
		})
	}
}

// CustomerIDFrom returns the customer ID set by APIKeyAuth, if any.
func CustomerIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyCustomerID).(string); ok {
		return v
	}
	return ""
}
