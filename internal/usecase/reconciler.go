package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ByteSurgeonAmos/pesaTalk/internal/domain"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/notify"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/provider/mpesa"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/repository"
)

// ContactCounter bumps a contact's completed transaction count.
type ContactCounter interface {
	IncrementTransactionCount(ctx context.Context, ownerID, phoneHash string) error
}

// CallbackReconciler settles transactions from gateway result callbacks.
// The HTTP layer has already acked by the time Reconcile runs, so every
// outcome here must leave the store consistent without a retry from the
// gateway.
type CallbackReconciler struct {
	store    repository.TransactionStore
	contacts ContactCounter
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewCallbackReconciler(
	store repository.TransactionStore,
	contacts ContactCounter,
	notifier notify.Notifier,
	logger *zap.Logger,
) *CallbackReconciler {
	return &CallbackReconciler{
		store:    store,
		contacts: contacts,
		notifier: notifier,
		logger:   logger,
	}
}

// Reconcile applies one callback result. Unknown checkout IDs and
// repeated callbacks for already settled transactions are logged and
// dropped; only store failures surface as errors.
func (r *CallbackReconciler) Reconcile(ctx context.Context, result *mpesa.CallbackResult) error {
	var alreadySettled bool

	t, err := r.store.MutateByCheckoutID(ctx, result.CheckoutRequestID, func(t *domain.Transaction) error {
		if t.IsTerminal() {
			alreadySettled = true
			return nil
		}

		code := result.ResultCode
		t.ResultCode = &code
		t.ResultDescription = result.ResultDescription

		if result.Success() {
			t.GatewayReceiptNumber = result.ReceiptNumber
			return t.TransitionTo(domain.StatusCompleted)
		}
		t.FailureReason = result.ResultDescription
		return t.TransitionTo(domain.StatusFailed)
	})
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			callbacksProcessed.WithLabelValues("unknown_transaction").Inc()
			r.logger.Warn("callback for unknown transaction",
				zap.String("checkout_request_id", result.CheckoutRequestID),
				zap.Int("result_code", result.ResultCode))
			return nil
		}
		return fmt.Errorf("reconcile callback: %w", err)
	}

	if alreadySettled {
		callbacksProcessed.WithLabelValues("already_terminal").Inc()
		r.logger.Info("callback for settled transaction ignored",
			zap.String("transaction_id", t.ID),
			zap.String("status", string(t.Status)))
		return nil
	}

	if result.Success() {
		callbacksProcessed.WithLabelValues("completed").Inc()
		transactionsFinished.WithLabelValues(string(domain.StatusCompleted)).Inc()
		r.logger.Info("transaction completed",
			zap.String("transaction_id", t.ID),
			zap.String("receipt", t.GatewayReceiptNumber))

		go r.bumpContact(t)
		go r.notifyOutcome(t, fmt.Sprintf(
			"Payment of %s %s to %s completed. Receipt: %s",
			t.Currency, t.Amount.String(), t.RecipientName, t.GatewayReceiptNumber))
		return nil
	}

	callbacksProcessed.WithLabelValues("failed").Inc()
	transactionsFinished.WithLabelValues(string(domain.StatusFailed)).Inc()
	r.logger.Warn("transaction failed at gateway",
		zap.String("transaction_id", t.ID),
		zap.Int("result_code", result.ResultCode),
		zap.String("result_description", result.ResultDescription))

	go r.notifyOutcome(t, fmt.Sprintf(
		"Payment of %s %s to %s failed: %s",
		t.Currency, t.Amount.String(), t.RecipientName, failureText(result)))
	return nil
}

func (r *CallbackReconciler) bumpContact(t *domain.Transaction) {
	ctx := context.Background()
	if err := r.contacts.IncrementTransactionCount(ctx, t.SenderID, t.RecipientPhoneHash); err != nil {
		r.logger.Warn("contact counter update failed",
			zap.String("transaction_id", t.ID),
			zap.Error(err))
	}
}

func (r *CallbackReconciler) notifyOutcome(t *domain.Transaction, message string) {
	ctx := context.Background()
	if err := r.notifier.Notify(ctx, t.SenderID, message); err != nil {
		r.logger.Warn("outcome notification failed",
			zap.String("transaction_id", t.ID),
			zap.Error(err))
	}
}

func failureText(result *mpesa.CallbackResult) string {
	if result.ResultDescription != "" {
		return result.ResultDescription
	}
	return fmt.Sprintf("gateway result code %d", result.ResultCode)
}
