package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"tokenvault/internal/asset"
	"tokenvault/internal/domain"
	"tokenvault/internal/middleware"
	"tokenvault/pkg/logger"
	"tokenvault/pkg/validator"
)

// AssetHandler drives the in-process simulation token so the vault can be
// exercised end to end without a chain.
type AssetHandler struct {
	token     *asset.MemoryToken
	vault     domain.Address
	minter    domain.Address
	validator *validator.Validator
	logger    logger.Logger
}

func NewAssetHandler(token *asset.MemoryToken, vault, minter domain.Address, val *validator.Validator, log logger.Logger) *AssetHandler {
	return &AssetHandler{token: token, vault: vault, minter: minter, validator: val, logger: log}
}

type MintRequest struct {
	Account domain.Address `json:"account" validate:"required,vault_addr"`
	Amount  string         `json:"amount" validate:"required,base_units"`
}

type ApproveRequest struct {
	Amount string `json:"amount" validate:"required"`
}

// Info handles GET /asset.
func (h *AssetHandler) Info(w http.ResponseWriter, r *http.Request) {
	custody, err := h.token.BalanceOf(r.Context(), h.vault)
	if err != nil {
		respondError(h.logger, w, http.StatusInternalServerError, "Failed to read custody")
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"address":       h.token.Address(),
		"symbol":        h.token.Symbol(),
		"total_supply":  h.token.TotalSupply(),
		"vault_custody": custody,
	})
}

// Balance handles GET /asset/balances/{account}.
func (h *AssetHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account, err := domain.ParseAddress(mux.Vars(r)["account"])
	if err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "Invalid account address")
		return
	}
	bal, _ := h.token.BalanceOf(r.Context(), account)
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"account":   account,
		"balance":   bal,
		"allowance": h.token.Allowance(account, h.vault),
	})
}

// Approve handles POST /asset/approve: the caller sets the vault's allowance.
func (h *AssetHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.AddressFromContext(r.Context())
	if !ok {
		respondError(h.logger, w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req ApproveRequest
	if msg, ok := decodeJSON(w, r, &req, false); !ok {
		respondError(h.logger, w, http.StatusBadRequest, msg)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() || !amount.IsInteger() {
		respondValidationErrors(h.logger, w, map[string]string{"Amount": "Must be a non-negative whole number of base units"})
		return
	}
	if _, err := h.token.Approve(r.Context(), caller, h.vault, amount); err != nil {
		respondVaultError(h.logger, w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"owner":     caller,
		"spender":   h.vault,
		"allowance": amount,
	})
}

// Mint handles POST /asset/mint. Only the configured minter may call it.
func (h *AssetHandler) Mint(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.AddressFromContext(r.Context())
	if !ok {
		respondError(h.logger, w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if caller != h.minter {
		respondError(h.logger, w, http.StatusForbidden, "Only the minter may mint")
		return
	}
	var req MintRequest
	if msg, ok := decodeJSON(w, r, &req, false); !ok {
		respondError(h.logger, w, http.StatusBadRequest, msg)
		return
	}
	if fields := h.validator.ValidateStructured(&req); fields != nil {
		respondValidationErrors(h.logger, w, fields)
		return
	}
	account := domain.Address(normalize(req.Account))
	amount, _ := decimal.NewFromString(req.Amount)
	if err := h.token.Mint(account, amount); err != nil {
		respondVaultError(h.logger, w, err)
		return
	}
	bal, _ := h.token.BalanceOf(r.Context(), account)
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{"account": account, "balance": bal})
}
