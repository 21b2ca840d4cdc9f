package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/onboarding/internal/api"
	"github.com/ignite/onboarding/internal/config"
	"github.com/ignite/onboarding/internal/events"
	"github.com/ignite/onboarding/internal/pkg/distlock"
	"github.com/ignite/onboarding/internal/pkg/logger"
	"github.com/ignite/onboarding/internal/repository/postgres"
	"github.com/ignite/onboarding/internal/sagalog"
	"github.com/ignite/onboarding/internal/service/accounts"
	"github.com/ignite/onboarding/internal/service/registration"
	"github.com/ignite/onboarding/internal/storage"
	"github.com/ignite/onboarding/internal/verifier"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.Redact())

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Account store
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	db, err := openDB(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("database connected", "host", extractHost(cfg.Database.URL))

	// Redis backs the registration lock and the saga journal. Without it
	// locks fall back to PG advisory locks and the journal is disabled.
	redisClient := openRedis(ctx, cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	gateway, err := storage.NewGateway(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage gateway: %v", err)
	}
	var grants registration.StorageGateway = gateway
	if !cfg.Storage.RevokeOnCompensate {
		grants = storage.WithoutRevoke(gateway)
	}

	verify := verifier.NewClient(cfg.Verification)
	repo := postgres.NewAccountRepo(db)

	orch := registration.NewOrchestrator(repo, grants, verify, registration.Config{
		GrantTTL:         cfg.Storage.GrantTTL(),
		StepTimeout:      cfg.Registration.StepTimeout(),
		GrantMaxAttempts: cfg.Registration.GrantMaxAttempts,
		GrantBackoff:     cfg.Registration.GrantBackoff(),
		AssistantID:      cfg.Verification.AssistantID,
	})
	orch.SetLockFactory(distlock.NewFactory(redisClient, db, cfg.Registration.LockTTL()))

	var journal api.JournalReader
	if redisClient != nil {
		j := sagalog.New(redisClient, cfg.SagaLog.TTL())
		orch.SetJournal(j)
		journal = j
	}

	publisher := openPublisher(cfg.Events)
	defer publisher.Close()
	orch.SetPublisher(publisher)

	handlers := api.NewHandlers(orch, accounts.NewService(repo, verify), journal)
	health := api.NewHealthChecker(db, redisClient, gateway)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           api.SetupRoutes(handlers, health, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.URL
	if !strings.Contains(dsn, "connect_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "connect_timeout=5"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime())
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled || cfg.URL == "" {
		logger.Info("redis not configured, using PG advisory locks and no saga journal")
		return nil
	}

	var client *redis.Client
	if opts, err := redis.ParseURL(cfg.URL); err == nil {
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: cfg.URL})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis connection failed, falling back to PG advisory locks", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}

type eventPublisher interface {
	registration.Publisher
	Close()
}

func openPublisher(cfg config.EventsConfig) eventPublisher {
	if cfg.RabbitMQURL == "" {
		logger.Info("rabbitmq not configured, events will be logged only")
		return events.Fallback{Exchange: cfg.Exchange}
	}
	p, err := events.NewProducer(cfg.RabbitMQURL, cfg.Exchange)
	if err != nil {
		logger.Warn("rabbitmq unavailable, events will be logged only", "error", err)
		return events.Fallback{Exchange: cfg.Exchange}
	}
	return p
}
