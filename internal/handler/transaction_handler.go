package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ByteSurgeonAmos/pesaTalk/internal/domain"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/phone"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/ratelimit"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/usecase"
)

const (
	confirmPrefix = "confirm_"
	cancelPrefix  = "cancel_"
)

type TransactionHandler struct {
	engine  *usecase.TransactionEngine
	limiter *ratelimit.Limiter
	vault   *phone.Vault
	logger  *zap.Logger
}

func NewTransactionHandler(
	engine *usecase.TransactionEngine,
	limiter *ratelimit.Limiter,
	vault *phone.Vault,
	logger *zap.Logger,
) *TransactionHandler {
	return &TransactionHandler{
		engine:  engine,
		limiter: limiter,
		vault:   vault,
		logger:  logger,
	}
}

type createTransactionRequest struct {
	UserID           string          `json:"user_id"`
	Type             string          `json:"type"`
	Amount           decimal.Decimal `json:"amount"`
	RecipientPhone   string          `json:"recipient_phone"`
	RecipientName    string          `json:"recipient_name"`
	ChannelMessageID string          `json:"channel_message_id"`
}

type actionRequest struct {
	UserID   string `json:"user_id"`
	ButtonID string `json:"button_id"`
}

// transactionView is the channel-facing shape of a transaction. The
// recipient number goes out masked only.
type transactionView struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	Type            string `json:"type"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	RecipientName   string `json:"recipient_name"`
	RecipientPhone  string `json:"recipient_phone"`
	Receipt         string `json:"receipt,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
	ConfirmDeadline string `json:"confirm_deadline,omitempty"`
}

type transactionResponse struct {
	Transaction transactionView `json:"transaction"`
	Prompt      string          `json:"prompt,omitempty"`
	Buttons     []button        `json:"buttons,omitempty"`
}

type button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// CreateTransaction accepts a parsed payment intent from the channel
// webhook and returns the confirmation prompt to render.
func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.limiter.AllowMessage(req.UserID, time.Now().UTC()); err != nil {
		h.writeDomainError(w, err)
		return
	}

	intent := domain.Intent{
		Type:             domain.TransactionType(req.Type),
		Amount:           req.Amount,
		RecipientPhone:   req.RecipientPhone,
		RecipientName:    req.RecipientName,
		ChannelMessageID: req.ChannelMessageID,
	}

	t, err := h.engine.Create(r.Context(), domain.User{ID: req.UserID}, intent)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	view := h.view(t)
	resp := transactionResponse{
		Transaction: view,
		Prompt: fmt.Sprintf("Send %s %s to %s (%s)?",
			view.Currency, view.Amount, view.RecipientName, view.RecipientPhone),
		Buttons: []button{
			{ID: confirmPrefix + t.ID, Label: "Confirm"},
			{ID: cancelPrefix + t.ID, Label: "Cancel"},
		},
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// HandleAction routes a button reply to confirm or cancel.
func (h *TransactionHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.ButtonID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id and button_id are required")
		return
	}

	if err := h.limiter.AllowMessage(req.UserID, time.Now().UTC()); err != nil {
		h.writeDomainError(w, err)
		return
	}

	switch {
	case strings.HasPrefix(req.ButtonID, confirmPrefix):
		h.confirm(w, r, req.UserID, strings.TrimPrefix(req.ButtonID, confirmPrefix))
	case strings.HasPrefix(req.ButtonID, cancelPrefix):
		h.cancel(w, r, req.UserID, strings.TrimPrefix(req.ButtonID, cancelPrefix))
	default:
		h.writeError(w, http.StatusBadRequest, "unrecognized button_id")
	}
}

func (h *TransactionHandler) confirm(w http.ResponseWriter, r *http.Request, userID, transactionID string) {
	t, err := h.engine.Confirm(r.Context(), userID, transactionID)
	if err != nil {
		if t != nil && t.Status == domain.StatusExpired {
			h.writeJSON(w, http.StatusGone, transactionResponse{
				Transaction: h.view(t),
				Prompt:      "This payment request expired. Send a new message to try again.",
			})
			return
		}
		if t != nil && t.Status == domain.StatusFailed {
			resp := transactionResponse{
				Transaction: h.view(t),
				Prompt:      "Payment could not be started: " + t.FailureReason,
			}
			status := http.StatusBadGateway
			if errors.Is(err, domain.ErrGatewayUnavailable) {
				status = http.StatusServiceUnavailable
			}
			h.writeJSON(w, status, resp)
			return
		}
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, transactionResponse{
		Transaction: h.view(t),
		Prompt:      "Enter your M-Pesa PIN on your phone to complete the payment.",
	})
}

func (h *TransactionHandler) cancel(w http.ResponseWriter, r *http.Request, userID, transactionID string) {
	t, err := h.engine.Cancel(r.Context(), userID, transactionID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			h.writeError(w, http.StatusConflict, "too late to cancel this payment")
			return
		}
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, transactionResponse{
		Transaction: h.view(t),
		Prompt:      "Payment cancelled.",
	})
}

// GetTransaction returns one transaction to its owner.
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}

	t, err := h.engine.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transactionResponse{Transaction: h.view(t)})
}

// History returns the user's recent transactions, newest first.
func (h *TransactionHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	txns, err := h.engine.History(r.Context(), userID, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	views := make([]transactionView, 0, len(txns))
	for _, t := range txns {
		views = append(views, h.view(t))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": views})
}

func (h *TransactionHandler) view(t *domain.Transaction) transactionView {
	masked := ""
	if number, err := h.vault.Decrypt(t.RecipientPhoneEncrypted); err == nil {
		masked = phone.Mask(number)
	}

	v := transactionView{
		ID:             t.ID,
		Status:         string(t.Status),
		Type:           string(t.Type),
		Amount:         t.Amount.String(),
		Currency:       t.Currency,
		RecipientName:  t.RecipientName,
		RecipientPhone: masked,
		Receipt:        t.GatewayReceiptNumber,
		FailureReason:  t.FailureReason,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
	}
	if t.Status == domain.StatusPendingConfirmation {
		v.ConfirmDeadline = t.ConfirmationExpiresAt.Format(time.RFC3339)
	}
	return v
}

func (h *TransactionHandler) writeDomainError(w http.ResponseWriter, err error) {
	var rateErr *domain.RateLimitedError
	if errors.As(err, &rateErr) {
		seconds := int(rateErr.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		h.writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":               "rate limited",
			"retry_after_seconds": seconds,
		})
		return
	}

	var amountErr *domain.AmountOutOfRangeError
	if errors.As(err, &amountErr) {
		h.writeError(w, http.StatusBadRequest, amountErr.Error())
		return
	}

	switch {
	case errors.Is(err, domain.ErrDuplicateRequest):
		h.writeError(w, http.StatusConflict, "an identical payment is already in progress")
	case errors.Is(err, domain.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, "transaction not found")
	case errors.Is(err, domain.ErrNotOwner):
		h.writeError(w, http.StatusForbidden, "transaction belongs to another user")
	case errors.Is(err, domain.ErrNotPending):
		h.writeError(w, http.StatusConflict, "transaction is no longer awaiting confirmation")
	case errors.Is(err, domain.ErrInvalidStateTransition):
		h.writeError(w, http.StatusConflict, "transaction state does not allow this action")
	case errors.Is(err, domain.ErrGatewayRejected):
		h.writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, domain.ErrGatewayUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "payment gateway unavailable, try again shortly")
	default:
		h.logger.Error("unhandled request error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *TransactionHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *TransactionHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
