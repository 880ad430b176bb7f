// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string

	// Azure AD multi-tenant app registration used for admin consent.
	ClientID     string
	ClientSecret string

	// Upstream base URLs (overridable for tests / sovereign clouds).
	LoginBaseURL string
	ARMBaseURL   string

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string

	// Which backend holds customer records: postgres | redis | memory.
	// Empty means "pick from whichever URL is configured".
	CustomerStore string

	CORSOrigins   []string
	StateTokenTTL time.Duration

	// Values baked into deploy-url templating.
	SaaSEndpoint    string
	TemplateBaseURL string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:             env("SOC_ENV", "dev"),
		HTTPAddr:        env("SOC_HTTP_ADDR", ":8080"),
		ClientID:        env("AZURE_CLIENT_ID", ""),
		ClientSecret:    env("AZURE_CLIENT_SECRET", ""),
		LoginBaseURL:    env("AZURE_LOGIN_BASE_URL", "https://login.microsoftonline.com"),
		ARMBaseURL:      env("ARM_BASE_URL", "https://management.azure.com"),
		RedisURL:        env("REDIS_URL", ""),
		DatabaseURL:     env("DATABASE_URL", ""),
		CustomerStore:   env("CUSTOMER_STORE", ""),
		CORSOrigins:     envList("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000"),
		StateTokenTTL:   envDur("STATE_TOKEN_TTL_SEC", 900) * time.Second,
		SaaSEndpoint:    env("SAAS_ENDPOINT", "https://soc-t0-saas.azurewebsites.net"),
		TemplateBaseURL: env("TEMPLATE_BASE_URL", "https://soct0templates.blob.core.windows.net/templates"),
	}
	if cfg.ClientID == "" {
		log.Println("[WARN] AZURE_CLIENT_ID not set, consent URLs will not be usable")
	}
	if cfg.DatabaseURL == "" && cfg.RedisURL == "" {
		log.Println("[WARN] neither DATABASE_URL nor REDIS_URL set, using in-memory customer store for dev")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envList(k, def string) []string {
	raw := env(k, def)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i)
		}
	}
	return time.Duration(def)
}
