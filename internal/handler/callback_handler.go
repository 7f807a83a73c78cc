package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ByteSurgeonAmos/pesaTalk/internal/provider/mpesa"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/usecase"
)

type CallbackHandler struct {
	reconciler *usecase.CallbackReconciler
	logger     *zap.Logger
}

func NewCallbackHandler(reconciler *usecase.CallbackReconciler, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

// HandleSTKCallback receives the gateway's push result. The gateway
// expects a fast ack and does not retry on our errors, so the body is
// acked unconditionally and settled asynchronously.
func (h *CallbackHandler) HandleSTKCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		// The ack is fixed regardless of outcome; a non-zero code would
		// put the gateway into a retry loop.
		h.logger.Error("failed to read callback payload",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		h.sendCallbackResponse(w, "0", "Success")
		return
	}

	h.logger.Info("stk callback received",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("payload_size", len(payload)))

	go func() {
		// Request context dies with the ack; settlement gets its own.
		ctx := context.Background()

		result, err := mpesa.ParseSTKCallback(payload)
		if err != nil {
			h.logger.Error("failed to parse stk callback",
				zap.Error(err))
			return
		}
		if err := h.reconciler.Reconcile(ctx, result); err != nil {
			h.logger.Error("failed to reconcile stk callback",
				zap.String("checkout_request_id", result.CheckoutRequestID),
				zap.Error(err))
		}
	}()

	h.sendCallbackResponse(w, "0", "Success")
}

// HandleValidation acks the gateway's C2B validation call. Nothing to
// validate on this side; the STK flow carries its own state.
func (h *CallbackHandler) HandleValidation(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("validation callback received",
		zap.String("remote_addr", r.RemoteAddr))
	h.sendCallbackResponse(w, "0", "Accepted")
}

// HandleConfirmation acks the gateway's C2B confirmation probe.
func (h *CallbackHandler) HandleConfirmation(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("confirmation callback received",
		zap.String("remote_addr", r.RemoteAddr))
	h.sendCallbackResponse(w, "0", "Success")
}

func (h *CallbackHandler) sendCallbackResponse(w http.ResponseWriter, resultCode, resultDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := map[string]interface{}{
		"ResultCode": resultCode,
		"ResultDesc": resultDesc,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode callback response", zap.Error(err))
	}
}
