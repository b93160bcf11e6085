package credit

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clipcraft/clipcraft-api/internal/middleware"
	"github.com/clipcraft/clipcraft-api/internal/pkg/errorhandler"
	"github.com/clipcraft/clipcraft-api/internal/pkg/response"
	"github.com/clipcraft/clipcraft-api/internal/pkg/validator"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

type purchaseRequest struct {
	PackageID string `json:"package_id" validate:"required"`
}

type adminGrantRequest struct {
	Amount      int    `json:"amount" validate:"gt=0"`
	Description string `json:"description" validate:"max=255"`
}

type balanceResponse struct {
	Balance  int  `json:"balance"`
	Advisory bool `json:"advisory"`
}

type grantResponse struct {
	Transaction *Transaction `json:"transaction"`
	Balance     int          `json:"balance"`
	Advisory    bool         `json:"advisory,omitempty"`
}

// Balance handles GET /credits/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetUserID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	reconcile, _ := strconv.ParseBool(r.URL.Query().Get("reconcile"))

	var (
		balance int
		err     error
	)
	if reconcile {
		balance, err = h.ledger.Reconcile(r.Context(), accountID)
	} else {
		balance, err = h.ledger.Balance(r.Context(), accountID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.OK(w, balanceResponse{Balance: balance, Advisory: !reconcile})
}

// Transactions handles GET /credits/transactions
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetUserID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	q := r.URL.Query()
	filter := TransactionFilter{
		Limit:  atoiDefault(q.Get("limit"), defaultListLimit),
		Offset: atoiDefault(q.Get("offset"), 0),
	}

	switch q.Get("tab") {
	case "recharge":
		filter.Categories = RechargeCategories
	case "spend":
		filter.Categories = SpendCategories
	}
	if raw := q.Get("types"); raw != "" {
		filter.Categories = nil
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Categories = append(filter.Categories, Category(part))
			}
		}
	}

	filter = normalizeFilter(filter)
	txs, err := h.ledger.ListTransactions(r.Context(), accountID, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.WithMeta(w, txs, response.Meta{
		Limit:   filter.Limit,
		Offset:  filter.Offset,
		Count:   len(txs),
		HasNext: len(txs) == filter.Limit,
	})
}

// Packages handles GET /credits/packages
func (h *Handler) Packages(w http.ResponseWriter, r *http.Request) {
	response.OK(w, Packages())
}

// Purchase handles POST /credits/purchase. Payment capture happens upstream.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetUserID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req purchaseRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	pkg, err := FindPackage(req.PackageID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	tx, err := h.ledger.Grant(r.Context(), accountID, pkg.Credits, CategoryPurchase, fmt.Sprintf("Purchased %d credits", pkg.Credits))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeGrant(w, r, accountID, tx)
}

// AdminGrant handles POST /admin/accounts/{id}/credits
func (h *Handler) AdminGrant(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid account id")
		return
	}

	var req adminGrantRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	tx, err := h.ledger.Grant(r.Context(), accountID, req.Amount, CategoryAdminTopup, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeGrant(w, r, accountID, tx)
}

// writeGrant answers a grant. A nil tx means the store rejected the write:
// the credit is only in the advisory balance and no history entry exists.
func (h *Handler) writeGrant(w http.ResponseWriter, r *http.Request, accountID uuid.UUID, tx *Transaction) {
	if tx != nil {
		response.OK(w, grantResponse{Transaction: tx, Balance: tx.BalanceAfter})
		return
	}

	balance, err := h.ledger.Balance(r.Context(), accountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, grantResponse{Balance: balance, Advisory: true})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, ErrNoAccount):
		response.Unauthorized(w, "unauthorized")
	case errors.Is(err, ErrInvalidAmount):
		response.BadRequest(w, "amount must be greater than zero")
	case errors.Is(err, ErrInvalidCategory):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrPackageNotFound):
		response.NotFound(w, "credit package not found")
	case errors.Is(err, ErrInsufficientCredits):
		response.PaymentRequired(w, "insufficient credits")
	default:
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
	}
}

// Routes mounts the account-facing credit endpoints.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/balance", h.Balance)
	r.Get("/transactions", h.Transactions)
	r.Get("/packages", h.Packages)
	r.Post("/purchase", h.Purchase)
	return r
}

// AdminRoutes mounts privileged top-ups.
func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())
	r.Post("/accounts/{id}/credits", h.AdminGrant)
	return r
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
