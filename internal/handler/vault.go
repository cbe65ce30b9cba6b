package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"tokenvault/internal/domain"
	"tokenvault/internal/middleware"
	"tokenvault/internal/vault"
	"tokenvault/pkg/logger"
	"tokenvault/pkg/validator"
)

// EventSource lists a vault's committed events in commit order.
type EventSource interface {
	ListEvents(ctx context.Context, address domain.Address, afterSeq int64, limit int) ([]domain.Event, error)
}

// VaultHandler exposes vault operations and views.
type VaultHandler struct {
	vault     *vault.Vault
	migrator  *vault.Migrator
	events    EventSource
	deployer  domain.Address
	validator *validator.Validator
	logger    logger.Logger
}

// NewVaultHandler creates a VaultHandler. events may be nil. Only deployer
// may deploy V1; a zero deployer disables the deploy endpoint.
func NewVaultHandler(v *vault.Vault, events EventSource, deployer domain.Address, val *validator.Validator, log logger.Logger) *VaultHandler {
	return &VaultHandler{
		vault:     v,
		migrator:  vault.NewMigrator(v),
		events:    events,
		deployer:  deployer,
		validator: val,
		logger:    log,
	}
}

type AmountRequest struct {
	Amount string `json:"amount" validate:"required,base_units"`
}

type RateRequest struct {
	RateBps *int64 `json:"rate_bps" validate:"required"`
}

type DelayRequest struct {
	DelaySeconds *int64 `json:"delay_seconds" validate:"required"`
}

type RoleRequest struct {
	Role    string         `json:"role" validate:"required"`
	Account domain.Address `json:"account" validate:"required,vault_addr"`
}

type RenounceRequest struct {
	Role string `json:"role" validate:"required"`
}

type UpgradeRequest struct {
	Version      string `json:"version" validate:"required"`
	RateBps      *int64 `json:"rate_bps,omitempty"`
	DelaySeconds *int64 `json:"delay_seconds,omitempty"`
}

type DepositResponse struct {
	Credited      decimal.Decimal `json:"credited"`
	Balance       decimal.Decimal `json:"balance"`
	TotalDeposits decimal.Decimal `json:"total_deposits"`
}

type PayoutResponse struct {
	Principal decimal.Decimal `json:"principal"`
	Yield     decimal.Decimal `json:"yield"`
	Total     decimal.Decimal `json:"total"`
	Balance   decimal.Decimal `json:"balance"`
}

// StatusResponse is the vault summary. Fields owned by later versions are
// omitted until the vault runs that version.
type StatusResponse struct {
	Address                domain.Address  `json:"address"`
	Asset                  domain.Address  `json:"asset,omitempty"`
	ImplementationVersion  string          `json:"implementation_version"`
	DepositFeeBps          int64           `json:"deposit_fee_bps"`
	TotalDeposits          decimal.Decimal `json:"total_deposits"`
	YieldRateBps           *int64          `json:"yield_rate_bps,omitempty"`
	DepositsPaused         *bool           `json:"deposits_paused,omitempty"`
	WithdrawalDelaySeconds *int64          `json:"withdrawal_delay_seconds,omitempty"`
}

type AccountResponse struct {
	Account           domain.Address            `json:"account"`
	Balance           decimal.Decimal           `json:"balance"`
	PendingYield      *decimal.Decimal          `json:"pending_yield,omitempty"`
	WithdrawalRequest *domain.WithdrawalRequest `json:"withdrawal_request,omitempty"`
	UnlocksAt         *int64                    `json:"unlocks_at,omitempty"`
}

// caller resolves the authenticated address or writes a 401.
func (h *VaultHandler) caller(w http.ResponseWriter, r *http.Request) (domain.Address, bool) {
	addr, ok := middleware.AddressFromContext(r.Context())
	if !ok {
		respondError(h.logger, w, http.StatusUnauthorized, "Unauthorized")
		return "", false
	}
	return addr, true
}

// bind decodes and validates a request body.
func (h *VaultHandler) bind(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if msg, ok := decodeJSON(w, r, dst, false); !ok {
		respondError(h.logger, w, http.StatusBadRequest, msg)
		return false
	}
	if fields := h.validator.ValidateStructured(dst); fields != nil {
		respondValidationErrors(h.logger, w, fields)
		return false
	}
	return true
}

func (h *VaultHandler) bindAmount(w http.ResponseWriter, r *http.Request) (decimal.Decimal, bool) {
	var req AmountRequest
	if !h.bind(w, r, &req) {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "Invalid amount")
		return decimal.Zero, false
	}
	return amount, true
}

func (h *VaultHandler) payout(w http.ResponseWriter, caller domain.Address, p vault.Payout) {
	respondJSON(h.logger, w, http.StatusOK, PayoutResponse{
		Principal: p.Principal,
		Yield:     p.Yield,
		Total:     p.Total(),
		Balance:   h.vault.BalanceOf(caller),
	})
}

// Deposit handles POST /vault/deposit.
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	amount, ok := h.bindAmount(w, r)
	if !ok {
		return
	}

	credited, err := h.vault.Deposit(r.Context(), caller, amount)
	if err != nil {
		respondVaultError(h.logger, w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, DepositResponse{
		Credited:      credited,
		Balance:       h.vault.BalanceOf(caller),
		TotalDeposits: h.vault.TotalDeposits(),
	})
}

// Withdraw handles POST /vault/withdraw.
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	amount, ok := h.bindAmount(w, r)
	if !ok {
		return
	}

	p, err := h.vault.Withdraw(r.Context(), caller, amount)
	if err != nil {
		respondVaultError(h.logger, w, err)
		return
	}
	h.payout(w, caller, p)
}

// ClaimYield handles POST /vault/yield/claim.
func (h *VaultHandler) ClaimYield(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	paid, err := h.vault.ClaimYield(r.Context(), caller)
	if err != nil {
		respondVaultError(h.logger, w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{"yield": paid})
}

// SetYieldRate handles PUT /vault/yield/rate.
func (h *VaultHandler) SetYieldRate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req RateRequest
	if !h.bind(w, r, &req) {
		return
	}
	if err := h.vault.SetYieldRate(r.Context(), caller, *req.RateBps); err != nil {
		respondVaultError(h.logger, w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{"yield_rate_bps": *req.RateBps})
}

// PauseDeposits handles POST /vault/deposits/pause.
func (h *VaultHandler) PauseDeposits(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// UnpauseDeposits handles POST /vault/deposits/unpause.
func (h *VaultHandler) UnpauseDeposits(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *VaultHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var err error
	if paused {
		err = h.vault.PauseDeposits(r.Context(), caller)
	} else {
		err = h.vault.UnpauseDeposits(r.Context(), caller)
	}
	if err != nil {
		respondVaultError(h.logger, w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{"deposits_paused": paused})
}

// RequestWithdrawal handles POST /vault/withdrawals/request.
func (h *VaultHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	amount, ok := h.bindAmount(w, r)
	if !ok {
		return
	}
	if err := h.vault.RequestWithdrawal(r.Context(), caller, amount); err != nil {
		respondVaultError(h.logger, w, err)
		return
	}

	req, _ := h.vault.WithdrawalRequest(caller)
	delay, _ := h.vault.WithdrawalDelay()
	respondJSON(h.logger, w, http.StatusAccepted, map[string]interface{}{
		"amount":       req.Amount,
		"requested_at": req.RequestedAt,
		"unlocks_at":   req.UnlocksAt(delay),
	})
}

// ExecuteWithdrawal handles POST /vault/withdrawals/execute.
func (h *VaultHandler) ExecuteWithdrawal(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	p, err := h.vault.ExecuteWithdrawal(r.Context(), caller)
	if err != nil {
		respondVaultError(h.logger, w, err)
		return
	}
	h.payout(w, caller, p)
}

// EmergencyWithdraw handles POST /vault/withdrawals/emergency.
func (h *VaultHandler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	p, err := h.vault.EmergencyWithdraw(r.Context(), caller)
	if err != nil {
		respondVaultError(h.logger, w, err)
		return
	}
	h.payout(w, caller, p)
}

// SetWithdrawalDelay handles PUT /vault/withdrawals/delay.
func (h *VaultHandler) SetWithdrawalDelay(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req DelayRequest
	if !h.bind(w, r, &req) {
		return
	}
	if err := h.vault.SetWithdrawalDelay(r.Context(), caller, *req.DelaySeconds); err != nil {
		respondVaultError(h.logger, w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{"withdrawal_delay_seconds": *req.DelaySeconds})
}

// GrantRole handles POST /vault/roles/grant.
func (h *VaultHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, true)
}

// RevokeRole handles POST /vault/roles/revoke.
func (h *VaultHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, false)
}

func (h *VaultHandler) changeRole(w http.ResponseWriter, r *http.Request, grant bool) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req RoleRequest
	if !h.bind(w, r, &req) {
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		respondValidationErrors(h.logger, w, map[string]string{"Role": err.Error()})
		return
	}
	account, err := domain.ParseAddress(req.Account.String())
	if err != nil {
		respondValidationErrors(h.logger, w, map[string]string{"Account": err.Error()})
		return
	}

	if grant {
		err = h.vault.GrantRole(r.Context(), caller, role, account)
	} else {
		err = h.vault.RevokeRole(r.Context(), caller, role, account)
	}
	if err != nil {
		respondVaultError(h.logger, w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"role":    role,
		"account": account,
		"granted": h.vault.HasRole(role, account),
	})
}

// RenounceRole handles POST /vault/roles/renounce.
func (h *VaultHandler) RenounceRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req RenounceRequest
	if !h.bind(w, r, &req) {
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		respondValidationErrors(h.logger, w, map[string]string{"Role": err.Error()})
		return
	}
	if err := h.vault.RenounceRole(r.Context(), caller, role); err != nil {
		respondVaultError(h.logger, w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{"role": role, "account": caller, "granted": false})
}

// Deploy handles POST /vault/deploy: first-time V1 deployment by the
// configured deployer.
func (h *VaultHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if h.deployer.IsZero() || caller != h.deployer {
		respondError(h.logger, w, http.StatusForbidden, "Only the configured deployer may deploy")
		return
	}
	var req vault.InitParams
	if !h.bind(w, r, &req) {
		return
	}
	req.Asset = domain.Address(normalize(req.Asset))
	req.Admin = domain.Address(normalize(req.Admin))

	if err := h.migrator.Deploy(r.Context(), caller, req); err != nil {
		respondVaultError(h.logger, w, err)
		return
	}
	h.Status(w, r)
}

// Upgrade handles POST /vault/upgrade: promote to the next version.
func (h *VaultHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req UpgradeRequest
	if !h.bind(w, r, &req) {
		return
	}
	target, err := domain.ParseVersion(req.Version)
	if err != nil {
		respondValidationErrors(h.logger, w, map[string]string{"Version": err.Error()})
		return
	}

	var arg *int64
	field := ""
	switch target {
	case domain.V2:
		arg, field = req.RateBps, "RateBps"
	case domain.V3:
		arg, field = req.DelaySeconds, "DelaySeconds"
	default:
		respondValidationErrors(h.logger, w, map[string]string{"Version": "Only V2 and V3 can be upgraded to"})
		return
	}
	if arg == nil {
		respondValidationErrors(h.logger, w, map[string]string{field: "This field is required"})
		return
	}

	if err := h.migrator.Upgrade(r.Context(), caller, target, *arg); err != nil {
		respondVaultError(h.logger, w, err)
		return
	}
	h.Status(w, r)
}

// Status handles GET /vault.
func (h *VaultHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Address:               h.vault.Address(),
		Asset:                 h.vault.Asset(),
		ImplementationVersion: h.vault.ImplementationVersion(),
		DepositFeeBps:         h.vault.DepositFee(),
		TotalDeposits:         h.vault.TotalDeposits(),
	}
	if rate, err := h.vault.YieldRate(); err == nil {
		resp.YieldRateBps = &rate
	}
	if paused, err := h.vault.IsDepositsPaused(); err == nil {
		resp.DepositsPaused = &paused
	}
	if delay, err := h.vault.WithdrawalDelay(); err == nil {
		resp.WithdrawalDelaySeconds = &delay
	}
	respondJSON(h.logger, w, http.StatusOK, resp)
}

// Account handles GET /vault/accounts/{account}.
func (h *VaultHandler) Account(w http.ResponseWriter, r *http.Request) {
	account, err := domain.ParseAddress(mux.Vars(r)["account"])
	if err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "Invalid account address")
		return
	}

	resp := AccountResponse{Account: account, Balance: h.vault.BalanceOf(account)}
	if pending, err := h.vault.UserYield(account); err == nil {
		resp.PendingYield = &pending
	}
	if req, err := h.vault.WithdrawalRequest(account); err == nil && req.Pending() {
		resp.WithdrawalRequest = &req
		if delay, err := h.vault.WithdrawalDelay(); err == nil {
			unlocks := req.UnlocksAt(delay)
			resp.UnlocksAt = &unlocks
		}
	}
	respondJSON(h.logger, w, http.StatusOK, resp)
}

// RoleMembers handles GET /vault/roles/{role}.
func (h *VaultHandler) RoleMembers(w http.ResponseWriter, r *http.Request) {
	role, err := domain.ParseRole(mux.Vars(r)["role"])
	if err != nil {
		respondError(h.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	members := h.vault.RoleMembers(role)
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"role":    role,
		"members": members,
		"count":   len(members),
	})
}

// HasRole handles GET /vault/roles/{role}/{account}.
func (h *VaultHandler) HasRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role, err := domain.ParseRole(vars["role"])
	if err != nil {
		respondError(h.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := domain.ParseAddress(vars["account"])
	if err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "Invalid account address")
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"role":    role,
		"account": account,
		"granted": h.vault.HasRole(role, account),
	})
}

// Events handles GET /vault/events?after=N&limit=M.
func (h *VaultHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondError(h.logger, w, http.StatusNotImplemented, "Event history is not available")
		return
	}
	after, err := queryInt(r, "after", 0)
	if err != nil || after < 0 {
		respondError(h.logger, w, http.StatusBadRequest, "Invalid after cursor")
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil || limit <= 0 || limit > 1000 {
		respondError(h.logger, w, http.StatusBadRequest, "Limit must be between 1 and 1000")
		return
	}

	events, err := h.events.ListEvents(r.Context(), h.vault.Address(), after, int(limit))
	if err != nil {
		h.logger.Error("Failed to list events", map[string]interface{}{"error": err.Error()})
		respondError(h.logger, w, http.StatusInternalServerError, "Failed to fetch events")
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func queryInt(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func normalize(a domain.Address) string {
	if parsed, err := domain.ParseAddress(a.String()); err == nil {
		return parsed.String()
	}
	return a.String()
}
