package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"linkto.me/internal/auth"
	"linkto.me/internal/config"
	"linkto.me/internal/httpapi"
	"linkto.me/internal/obs"
	"linkto.me/internal/profile"
	"linkto.me/internal/ratelimit"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *sql.DB
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if db == nil {
		log.Fatal("missing LINKTO_PG_DSN")
	}

	store := auth.NewPGStore(db)
	tokens, err := auth.NewService(store, cfg.AuthSecret,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	keys := auth.NewKeyService(store)
	limiter := ratelimit.New(ratelimit.NewPGCounterStore(db))
	scorer := ratelimit.NewScorer(cfg.SuspicionThreshold, cfg.AllowedOrigins)
	profiles := profile.NewPGStore(db)

	api, err := httpapi.New(cfg, version, httpapi.Deps{
		Tokens:   tokens,
		Keys:     keys,
		Limiter:  limiter,
		Scorer:   scorer,
		Store:    store,
		Profiles: profiles,
		Ready:    httpapi.ReadyProbe{DB: db},
	})
	if err != nil {
		log.Fatalf("httpapi: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting linkto-api %s on %s (env=%s)", version, srv.Addr, cfg.Env)

	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	go sweepLoop(sweepCtx, time.Hour, "refresh tokens", func(ctx context.Context) (int64, error) {
		return tokens.SweepRefreshTokens(ctx)
	})
	go sweepLoop(sweepCtx, time.Hour, "rate counters", func(ctx context.Context) (int64, error) {
		return limiter.Sweep(ctx)
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	stopSweeps()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("Stopped")
}

// sweepLoop periodically removes expired rows so the tables behind token
// and counter lookups stay small.
func sweepLoop(ctx context.Context, every time.Duration, what string, fn func(context.Context) (int64, error)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := fn(sctx)
			cancel()
			if err != nil {
				obs.LogError("sweep failed", err, map[string]any{"target": what})
				continue
			}
			if n > 0 {
				log.Printf("sweep %s: removed %d rows", what, n)
			}
		}
	}
}
