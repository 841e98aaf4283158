package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cloaktalk/cloaktalk/internal/auth"
	"github.com/cloaktalk/cloaktalk/internal/gateway"
	"github.com/cloaktalk/cloaktalk/internal/matchmaking"
	"github.com/cloaktalk/cloaktalk/internal/messaging"
	"github.com/cloaktalk/cloaktalk/internal/metrics"
	"github.com/cloaktalk/cloaktalk/internal/session"
	"github.com/cloaktalk/cloaktalk/internal/store"
	"github.com/cloaktalk/cloaktalk/internal/ws"
)

func main() {
	_ = godotenv.Load()

	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	// --- PostgreSQL ---
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/cloaktalk?sslmode=disable"
	}
	db, err := store.Open(context.Background(), dsn)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "gw-1"
	}

	sessionStore, err := session.NewStore(redisAddr, serverName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	stores := gateway.Stores{
		Users:    store.NewUserStore(db),
		Orgs:     store.NewOrganizationStore(db),
		Chats:    store.NewChatStore(db),
		Messages: store.NewMessageStore(db),
		Waiting:  store.NewWaitingListStore(db),
	}
	svc := matchmaking.NewService(stores.Waiting, stores.Chats,
		matchmaking.NewSessionManager(stores.Chats))
	verifier := auth.NewVerifier([]byte(jwtSecret))

	gw := gateway.New(config, svc, stores, sessionStore, natsClient, verifier)

	// --- Metrics ---
	metricsAddr := ":9090"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	log.Printf("CloakTalk gateway starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  metrics_addr:    %s", metricsAddr)
	log.Printf("  server_name:     %s", serverName)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := gw.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		natsClient.Close()
		if err := sessionStore.Close(); err != nil {
			log.Printf("session store close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := gw.Start(); err != nil {
		log.Fatalf("gateway error: %v", err)
	}
}
