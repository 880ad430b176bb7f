// cmd/onboarding-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"soconboard/internal/arm"
	"soconboard/internal/customers"
	"soconboard/internal/identity"
	"soconboard/internal/onboarding"
	"soconboard/internal/statestore"
	"soconboard/pkg/config"
	"soconboard/pkg/db"
	"soconboard/pkg/logger"
	"soconboard/pkg/middleware"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var store customers.Store
	switch {
	case cfg.CustomerStore == "memory":
		store = customers.NewMemoryStore()
	case (cfg.CustomerStore == "postgres" || cfg.CustomerStore == "") && pool != nil:
		if err := customers.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		store = customers.NewPostgresStore(pool, log)
	case (cfg.CustomerStore == "redis" || cfg.CustomerStore == "") && rdb != nil:
		store = customers.NewRedisStore(rdb, log)
	default:
		log.Warnw("no customer backend configured, using in-memory store")
		store = customers.NewMemoryStore()
	}

	var states statestore.Store
	if rdb != nil {
		states = statestore.NewRedis(rdb, cfg.StateTokenTTL)
	} else {
		states = statestore.NewMemory(cfg.StateTokenTTL)
	}

	svc := onboarding.NewService(cfg, log,
		identity.NewClient(cfg, log),
		arm.NewClient(cfg, log),
		store, states)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Tracing(cfg))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"healthy","service":"soc-onboarding","env":%q}`, cfg.Env)
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	onboarding.NewHandler(svc, log).Routes(r)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Infow("onboarding-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("onboarding-service stopped")
}
