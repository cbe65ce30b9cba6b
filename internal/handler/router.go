package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"tokenvault/internal/metrics"
	"tokenvault/internal/middleware"
	"tokenvault/pkg/logger"
)

// RouterConfig collects the handlers and middleware NewRouter mounts.
// Asset, Stream, RateLimiter, Idempotency and Metrics are optional.
type RouterConfig struct {
	Vault  *VaultHandler
	Asset  *AssetHandler
	Stream *StreamHandler
	System *SystemHandler
	Auth   *middleware.AuthMiddleware

	RateLimiter *middleware.RateLimiter
	Idempotency *middleware.IdempotencyMiddleware
	Metrics     *metrics.Recorder
	Logger      logger.Logger
}

// NewRouter builds the vault API.
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Log)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.InstrumentHandler)
		r.Handle("/metrics", cfg.Metrics.Handler()).Methods("GET")
	}

	r.HandleFunc("/health", cfg.System.Health).Methods("GET")
	r.HandleFunc("/ready", cfg.System.Ready).Methods("GET")
	if cfg.Stream != nil {
		r.HandleFunc("/api/v1/events/ws", cfg.Stream.WebSocketHandler).Methods("GET")
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(cfg.Auth.Authenticate)
	if cfg.RateLimiter != nil {
		api.Use(cfg.RateLimiter.Limit)
	}

	// Operations that move assets replay on a repeated Idempotency-Key.
	once := func(h http.HandlerFunc) http.Handler {
		if cfg.Idempotency == nil {
			return h
		}
		return cfg.Idempotency.Require(h)
	}

	authHandler := NewAuthHandler(cfg.Auth, cfg.Logger)
	api.HandleFunc("/auth/me", authHandler.Me).Methods("GET")
	api.HandleFunc("/auth/logout", authHandler.Logout).Methods("POST")

	v := cfg.Vault
	vault := api.PathPrefix("/vault").Subrouter()
	vault.HandleFunc("", v.Status).Methods("GET")
	vault.Handle("/deposit", once(v.Deposit)).Methods("POST")
	vault.Handle("/withdraw", once(v.Withdraw)).Methods("POST")
	vault.Handle("/yield/claim", once(v.ClaimYield)).Methods("POST")
	vault.HandleFunc("/yield/rate", v.SetYieldRate).Methods("PUT")
	vault.HandleFunc("/deposits/pause", v.PauseDeposits).Methods("POST")
	vault.HandleFunc("/deposits/unpause", v.UnpauseDeposits).Methods("POST")
	vault.Handle("/withdrawals/request", once(v.RequestWithdrawal)).Methods("POST")
	vault.Handle("/withdrawals/execute", once(v.ExecuteWithdrawal)).Methods("POST")
	vault.Handle("/withdrawals/emergency", once(v.EmergencyWithdraw)).Methods("POST")
	vault.HandleFunc("/withdrawals/delay", v.SetWithdrawalDelay).Methods("PUT")
	vault.HandleFunc("/roles/grant", v.GrantRole).Methods("POST")
	vault.HandleFunc("/roles/revoke", v.RevokeRole).Methods("POST")
	vault.HandleFunc("/roles/renounce", v.RenounceRole).Methods("POST")
	vault.HandleFunc("/roles/{role}", v.RoleMembers).Methods("GET")
	vault.HandleFunc("/roles/{role}/{account}", v.HasRole).Methods("GET")
	vault.HandleFunc("/deploy", v.Deploy).Methods("POST")
	vault.HandleFunc("/upgrade", v.Upgrade).Methods("POST")
	vault.HandleFunc("/accounts/{account}", v.Account).Methods("GET")
	vault.HandleFunc("/events", v.Events).Methods("GET")

	if a := cfg.Asset; a != nil {
		asset := api.PathPrefix("/asset").Subrouter()
		asset.HandleFunc("", a.Info).Methods("GET")
		asset.HandleFunc("/balances/{account}", a.Balance).Methods("GET")
		asset.HandleFunc("/approve", a.Approve).Methods("POST")
		asset.HandleFunc("/mint", a.Mint).Methods("POST")
	}

	return r
}
