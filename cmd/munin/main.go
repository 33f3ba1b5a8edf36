// Command munin runs the sovereign authorization and audit core as an
// HTTP service.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jacobsprake/munin/pkg/audit"
	"github.com/jacobsprake/munin/pkg/config"
	"github.com/jacobsprake/munin/pkg/decision"
	"github.com/jacobsprake/munin/pkg/keyregistry"
	"github.com/jacobsprake/munin/pkg/observability"
	"github.com/jacobsprake/munin/pkg/packet"
	"github.com/jacobsprake/munin/pkg/ratelimit"
	"github.com/jacobsprake/munin/pkg/server"
	"github.com/jacobsprake/munin/pkg/session"
	"github.com/jacobsprake/munin/pkg/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Printf("munin: config: %v", err)
		return 1
	}

	db, err := storage.Open(cfg.StorageDriver, cfg.DatabasePath)
	if err != nil {
		log.Printf("munin: open storage: %v", err)
		return 1
	}
	defer db.Close()
	log.Printf("munin: storage ready (%s)", cfg.StorageDriver)

	obs, err := observability.New(ctx, observability.Config{
		ServiceName:  "munin",
		Enabled:      cfg.MetricsEnabled,
		OTLPEndpoint: cfg.OTLPMetricsEndpoint,
		Insecure:     true,
	})
	if err != nil {
		log.Printf("munin: observability: %v", err)
		return 1
	}
	defer obs.Shutdown(ctx)
	slog.SetDefault(obs.Logger())

	var limiter ratelimit.LimiterStore
	if cfg.RateLimitBackend == "redis" {
		limiter = ratelimit.NewRedisStore(cfg.RedisAddr, "", 0)
	} else {
		limiter = ratelimit.NewInMemoryStore()
	}

	auditLog := audit.New(db)
	users := keyregistry.New(db, auditLog)
	decisions := decision.New(db, auditLog, users)
	packets := packet.New(db, auditLog, decisions)
	sessions := session.New(db, auditLog, users, limiter, cfg.SessionSecret, cfg.SessionTTL)

	if cfg.ConfigProfilePath != "" {
		profile, err := config.LoadProfile(cfg.ConfigProfilePath)
		if err != nil {
			log.Printf("munin: load regional profile: %v", err)
			return 1
		}
		obs.Logger().InfoContext(ctx, "regional profile loaded", "region", profile.Name, "island_mode", profile.IsIsland())
	}

	srv := server.New(sessions, users, decisions, packets, auditLog, obs)

	httpServer := &http.Server{
		Addr:              ":8080",
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("munin: listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("munin: server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("munin: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("munin: shutdown error: %v", err)
		return 1
	}
	return 0
}
