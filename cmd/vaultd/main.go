// ==============================================================================
// VAULT SERVICE MAIN - cmd/vaultd/main.go
// ==============================================================================
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"tokenvault/internal/asset"
	"tokenvault/internal/domain"
	"tokenvault/internal/events"
	"tokenvault/internal/handler"
	"tokenvault/internal/metrics"
	"tokenvault/internal/middleware"
	"tokenvault/internal/repository/memory"
	"tokenvault/internal/repository/postgres"
	"tokenvault/internal/vault"
	"tokenvault/pkg/cache"
	"tokenvault/pkg/config"
	"tokenvault/pkg/logger"
	"tokenvault/pkg/validator"
)

type storeBackend interface {
	vault.Store
	handler.EventSource
}

func main() {
	cfg := config.Load()
	log := logger.NewWithLevel("vaultd", cfg.Log.Level)

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	vaultAddr := domain.MustAddress(cfg.Vault.Address)
	log.Info("Starting vault service", map[string]interface{}{
		"port":  cfg.Server.Port,
		"vault": vaultAddr.String(),
		"store": cfg.Vault.Store,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys := handler.NewSystemHandler("vaultd", log)

	// Store
	var store storeBackend
	switch cfg.Vault.Store {
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.Database.URL, postgres.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
		}
		defer db.Close()
		if err := postgres.MigrateUp(db.DB); err != nil {
			log.Fatal("Failed to apply migrations", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Database connected", nil)

		store = postgres.NewVaultStore(db)
		sys.AddCheck("database", db.PingContext)
	default:
		store = memory.NewStore()
		log.Warn("Using in-memory store; state is lost on restart", nil)
	}

	// Redis is optional. Without it, rate limiting, idempotency and token
	// revocation are off and events only reach local websocket clients.
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		client, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		}
		defer client.Close()
		redisClient = client
		sys.AddCheck("redis", func(ctx context.Context) error { return cache.Ping(ctx, client) })
		log.Info("Redis connected", nil)
	}

	// Asset
	resolver := asset.StaticResolver{}
	var simToken *asset.MemoryToken
	if cfg.Vault.SimSupply != "" {
		simToken = newSimToken(cfg, log)
		resolver[simToken.Address()] = simToken
	}

	// Events
	hub := events.NewHub(cfg.Vault.EventBuffer)
	publishers := events.Multi{events.NewLogPublisher(log)}
	if redisClient != nil {
		// Replicas share the Redis channel; the local hub is fed from it
		// so each event reaches websocket clients exactly once.
		publishers = append(publishers, events.NewRedisPublisher(redisClient))
		go func() {
			if err := events.Subscribe(ctx, redisClient, vaultAddr, hub); err != nil {
				log.Error("Event subscription stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	} else {
		publishers = append(publishers, hub)
	}

	rec := metrics.New(true)

	v, err := vault.Open(ctx, vault.Config{
		Address:   vaultAddr,
		Store:     store,
		Resolver:  resolver,
		Clock:     vault.SystemClock{},
		Logger:    log,
		Publisher: publishers,
		Metrics:   rec,
	})
	if err != nil {
		log.Fatal("Failed to open vault", map[string]interface{}{"error": err.Error()})
	}
	rec.SetTotalDeposits(vaultAddr, v.TotalDeposits())

	if err := bootstrap(ctx, cfg, v, simToken); err != nil {
		log.Fatal("Failed to bootstrap vault", map[string]interface{}{"error": err.Error()})
	}
	log.Info("Vault ready", map[string]interface{}{
		"version":        v.ImplementationVersion(),
		"total_deposits": v.TotalDeposits().String(),
	})

	// HTTP
	val := validator.New()
	var blacklist middleware.TokenBlacklist
	var limiter *middleware.RateLimiter
	var idem *middleware.IdempotencyMiddleware
	if redisClient != nil {
		blacklist = middleware.NewRedisTokenBlacklist(redisClient)
		limiter = middleware.NewRateLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		idem = middleware.NewIdempotencyMiddleware(redisClient, 24*time.Hour, log)
	}

	var deployer domain.Address
	if cfg.Vault.Admin != "" {
		deployer = domain.MustAddress(cfg.Vault.Admin)
	}

	routes := handler.RouterConfig{
		Vault:       handler.NewVaultHandler(v, store, deployer, val, log),
		Stream:      handler.NewStreamHandler(hub, vaultAddr, log),
		System:      sys,
		Auth:        middleware.NewAuthMiddleware(cfg.JWT.Secret, blacklist),
		RateLimiter: limiter,
		Idempotency: idem,
		Metrics:     rec,
		Logger:      log,
	}
	if simToken != nil {
		routes.Asset = handler.NewAssetHandler(simToken, vaultAddr, domain.MustAddress(cfg.Vault.Admin), val, log)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.NewRouter(routes),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Vault service started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down vault service...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Vault service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	log.Info("Vault service stopped gracefully", nil)
}

// newSimToken creates the in-process asset and mints the configured supply
// to the admin.
func newSimToken(cfg *config.Config, log logger.Logger) *asset.MemoryToken {
	addr := domain.MustAddress("0x000000000000000000000000000000000000a55e")
	if cfg.Vault.Asset != "" {
		addr = domain.MustAddress(cfg.Vault.Asset)
	}
	token := asset.NewMemoryToken(addr, "SIM")
	supply, _ := decimal.NewFromString(cfg.Vault.SimSupply)
	if err := token.Mint(domain.MustAddress(cfg.Vault.Admin), supply); err != nil {
		log.Fatal("Failed to mint simulation supply", map[string]interface{}{"error": err.Error()})
	}
	log.Info("Simulation token minted", map[string]interface{}{
		"asset":  addr.String(),
		"supply": supply.String(),
	})
	return token
}

func bootstrap(ctx context.Context, cfg *config.Config, v *vault.Vault, sim *asset.MemoryToken) error {
	if cfg.Vault.Version == "" {
		return nil
	}
	target, err := domain.ParseVersion(cfg.Vault.Version)
	if err != nil {
		return err
	}
	admin := domain.MustAddress(cfg.Vault.Admin)
	assetAddr := domain.Address(cfg.Vault.Asset)
	if sim != nil {
		assetAddr = sim.Address()
	}
	return vault.NewMigrator(v).Bootstrap(ctx, admin, vault.BootstrapParams{
		Init: vault.InitParams{
			Asset:         assetAddr,
			Admin:         admin,
			DepositFeeBps: cfg.Vault.DepositFeeBps,
		},
		Target:       target,
		YieldRateBps: cfg.Vault.YieldRateBps,
		DelaySeconds: cfg.Vault.WithdrawalDelaySeconds,
	})
}
