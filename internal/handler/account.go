package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/discord-lookup/internal/apperror"
	"github.com/sakif/discord-lookup/internal/auth"
	"github.com/sakif/discord-lookup/internal/model"
)

// Accounts is the balance and history side of *service.AccountService.
type Accounts interface {
	Balance(ctx context.Context, id int64) (*model.Account, error)
	Spend(ctx context.Context, id int64, amount int) (*model.Account, error)
	AdminAdjust(ctx context.Context, actorID int64, targetExternalID string, amount int) (*model.Account, error)
	History(ctx context.Context, id int64, kind string) ([]string, error)
}

// AccountHandler serves /api/user/* and /api/admin/*. Every route sits
// behind RequireAuth.
type AccountHandler struct {
	accounts Accounts
	logger   *slog.Logger
}

func NewAccountHandler(accounts Accounts, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

type balanceResponse struct {
	Balance           int        `json:"balance"`
	LastBalanceUpdate *time.Time `json:"lastBalanceUpdate"`
}

func newBalanceResponse(acct *model.Account) balanceResponse {
	return balanceResponse{Balance: acct.Balance, LastBalanceUpdate: acct.LastBalanceUpdate}
}

// HandleBalance returns the balance after applying today's credit.
//
// HTTP: GET /api/user/balance
func (h *AccountHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.viewer(w, r)
	if !ok {
		return
	}

	acct, err := h.accounts.Balance(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newBalanceResponse(acct))
}

type amountRequest struct {
	Amount *int `json:"amount"`
}

// HandleUseBalance spends coins.
//
// HTTP: POST /api/user/balance/use {"amount": -1}
//
// amount must be negative; spending more than the balance is a 400.
func (h *AccountHandler) HandleUseBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.viewer(w, r)
	if !ok {
		return
	}

	var body amountRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if body.Amount == nil {
		writeError(w, h.logger, apperror.ValidationFailed("amount", "amount is required"))
		return
	}

	acct, err := h.accounts.Spend(r.Context(), id, *body.Amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newBalanceResponse(acct))
}

// HandleHistory returns one history list.
//
// HTTP: GET /api/user/history/{type}   type = lookup | roulette | friend
func (h *AccountHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.viewer(w, r)
	if !ok {
		return
	}

	ids, err := h.accounts.History(r.Context(), id, chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"history": ids})
}

type adminAdjustRequest struct {
	TargetDiscordID string `json:"targetDiscordId"`
	Amount          *int   `json:"amount"`
}

type adminAdjustResponse struct {
	Message string      `json:"message"`
	User    adminTarget `json:"user"`
}

type adminTarget struct {
	DiscordID string `json:"discordId"`
	Username  string `json:"username"`
	Balance   int    `json:"balance"`
}

// HandleAdminUpdateBalance credits or debits another account.
//
// HTTP: POST /api/admin/update-balance {"targetDiscordId": "...", "amount": 5}
//
// 403 for non-admins, 404 for an unknown target, 400 when a debit would go
// below zero.
func (h *AccountHandler) HandleAdminUpdateBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.viewer(w, r)
	if !ok {
		return
	}

	var body adminAdjustRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if body.Amount == nil {
		writeError(w, h.logger, apperror.ValidationFailed("amount", "amount is required"))
		return
	}

	acct, err := h.accounts.AdminAdjust(r.Context(), id, body.TargetDiscordID, *body.Amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, adminAdjustResponse{
		Message: "Balance updated successfully",
		User: adminTarget{
			DiscordID: acct.ExternalID,
			Username:  acct.Username,
			Balance:   acct.Balance,
		},
	})
}

func (h *AccountHandler) viewer(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := auth.AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("Authentication required"))
	}
	return id, ok
}
