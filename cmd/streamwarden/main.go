package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"streamwarden/internal/auth"
	"streamwarden/internal/cache"
	"streamwarden/internal/crypto"
	"streamwarden/internal/distlock"
	"streamwarden/internal/models"
	"streamwarden/internal/policy"
	"streamwarden/internal/provider"
	"streamwarden/internal/server"
	"streamwarden/internal/store"
)

func main() {
	dbPath := envOr("DB_PATH", "./data/streamwarden.db")
	listenAddr := envOr("LISTEN_ADDR", ":7936")
	corsOrigin := os.Getenv("CORS_ORIGIN")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatal(err)
	}

	var storeOpts []store.Option
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		enc, err := crypto.New(key)
		if err != nil {
			log.Fatalf("initializing encryptor: %v", err)
		}
		storeOpts = append(storeOpts, store.WithEncryptor(enc))
	} else {
		log.Println("ENCRYPTION_KEY not set; backend API keys stored in plaintext")
	}

	s, err := store.New(dbPath, storeOpts...)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	if needed, err := s.SetupRequired(); err == nil && needed {
		log.Println("No accounts yet; POST /api/auth/setup to create the admin account")
	}

	sessions := cache.NewSessions()
	users := cache.NewUsers()

	backends, err := s.ListEnabledBackends()
	if err != nil {
		log.Fatalf("loading backends: %v", err)
	}
	for _, b := range backends {
		key, err := s.GetBackendKey(b.ID)
		if err != nil {
			log.Printf("skipping backend %s: %v", b.Name, err)
			continue
		}
		p, err := provider.New(b, key)
		if err != nil {
			log.Printf("skipping backend %s: %v", b.Name, err)
			continue
		}
		sessions.AddBackend(b, p)
		users.AddBackend(b, p)
	}

	policyCfg, err := s.GetPolicyConfig()
	if err != nil {
		log.Fatalf("loading policy config: %v", err)
	}
	engine := policy.NewEngine(sessions, s, policyCfg)

	lease := newLease()
	defer lease.Release(context.Background())

	sessions.AddHook(func(ctx context.Context, items []models.LiveSession) {
		if !lease.TryAcquire(ctx) {
			return
		}
		lease.Renew(ctx)
		engine.Evaluate(ctx, items)
	})

	sessions.Start(context.Background())
	defer sessions.Stop()
	users.Start(context.Background())
	defer users.Stop()

	mgr := auth.NewManager(s, auth.DefaultTokenTTL)
	go pruneTokens(s)

	opts := []server.Option{
		server.WithCaches(sessions, users),
		server.WithPolicy(engine),
	}
	if corsOrigin != "" {
		opts = append(opts, server.WithCORSOrigin(corsOrigin))
	}
	srv := server.NewServer(s, mgr, opts...)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("StreamWarden listening on %s", listenAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// newLease picks the leader lease. With REDIS_ADDR set, a Redis lease makes
// the termination policy single-writer across replicas; without it the no-op
// lease always holds.
func newLease() distlock.Lease {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return distlock.NoopLease{}
	}
	instance := envOr("INSTANCE_ID", hostname())
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	log.Printf("Leader lease via redis at %s (instance %s)", addr, instance)
	return distlock.NewRedisLease(client, "streamwarden:leader:policy", instance, distlock.DefaultLeaseTTL)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "streamwarden"
	}
	return h
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func pruneTokens(s *store.Store) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for range t.C {
		if n, err := s.DeleteExpiredTokens(); err != nil {
			log.Printf("pruning tokens: %v", err)
		} else if n > 0 {
			log.Printf("pruned %d expired tokens", n)
		}
	}
}
