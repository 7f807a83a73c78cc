package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ByteSurgeonAmos/pesaTalk/config"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/domain"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/idempotency"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/phone"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/provider/mpesa"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/repository"
)

const (
	accountReference    = "PesaTalk"
	defaultHistoryLimit = 5
	maxHistoryLimit     = 20
)

// Pusher initiates an STK push on the payment gateway.
type Pusher interface {
	STKPush(ctx context.Context, phoneNumber string, amount decimal.Decimal, reference, description string) (*mpesa.PushResult, error)
}

// RateGate admits or rejects new work for a user.
type RateGate interface {
	AllowTransaction(ctx context.Context, userID string, now time.Time) error
	RecordTransaction(ctx context.Context, userID string, now time.Time) error
}

// TransactionEngine owns the transaction lifecycle from intent to
// terminal state. All state changes go through the store's Mutate so
// concurrent operations on the same transaction serialize on the row.
type TransactionEngine struct {
	store   repository.TransactionStore
	gateway Pusher
	vault   *phone.Vault
	limiter RateGate
	cfg     *config.Config
	logger  *zap.Logger
}

func NewTransactionEngine(
	store repository.TransactionStore,
	gateway Pusher,
	vault *phone.Vault,
	limiter RateGate,
	cfg *config.Config,
	logger *zap.Logger,
) *TransactionEngine {
	return &TransactionEngine{
		store:   store,
		gateway: gateway,
		vault:   vault,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
	}
}

// Create validates the intent and records a transaction awaiting the
// user's confirmation. The returned transaction is PENDING_CONFIRMATION
// with the confirmation deadline already stamped.
func (e *TransactionEngine) Create(ctx context.Context, user domain.User, intent domain.Intent) (*domain.Transaction, error) {
	now := time.Now().UTC()

	if err := e.limiter.AllowTransaction(ctx, user.ID, now); err != nil {
		return nil, err
	}

	normalized, err := e.vault.Normalize(intent.RecipientPhone)
	if err != nil {
		return nil, fmt.Errorf("recipient phone: %w", err)
	}

	// Stored at full resolution; the gateway client truncates to whole
	// shillings on the wire.
	amount := intent.Amount
	if amount.LessThan(e.cfg.Limits.MinAmount) || amount.GreaterThan(e.cfg.Limits.MaxAmount) {
		return nil, &domain.AmountOutOfRangeError{
			Amount: amount,
			Min:    e.cfg.Limits.MinAmount,
			Max:    e.cfg.Limits.MaxAmount,
		}
	}

	key := idempotency.Key(user.ID, normalized, amount, now)
	active, err := e.store.HasActiveByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}
	if active {
		duplicatesRejected.Inc()
		e.logger.Info("duplicate transaction request",
			zap.String("user_id", user.ID),
			zap.String("idempotency_key", key))
		return nil, domain.ErrDuplicateRequest
	}

	encrypted, err := e.vault.Encrypt(normalized)
	if err != nil {
		return nil, fmt.Errorf("encrypt recipient phone: %w", err)
	}

	t := &domain.Transaction{
		ID:             ulid.Make().String(),
		IdempotencyKey: key,
		SenderID:       user.ID,
		Type:           intent.Type,
		Status:         domain.StatusInitiated,

		Amount:   amount,
		Currency: "KES",

		RecipientPhoneHash:      e.vault.Hash(normalized),
		RecipientPhoneEncrypted: encrypted,
		RecipientName:           intent.RecipientName,

		AccountReference: accountReference,
		Description:      describe(intent.Type),
		ChannelMessageID: intent.ChannelMessageID,

		CreatedAt:             now,
		ConfirmationExpiresAt: now.Add(e.cfg.Windows.ConfirmationTTL),
	}
	if err := t.TransitionTo(domain.StatusPendingConfirmation); err != nil {
		return nil, err
	}

	if err := e.store.Create(ctx, t); err != nil {
		if errors.Is(err, domain.ErrDuplicateRequest) {
			duplicatesRejected.Inc()
		}
		return nil, err
	}

	if err := e.limiter.RecordTransaction(ctx, user.ID, now); err != nil {
		// Counter drift here costs one slot of daily headroom at worst.
		e.logger.Warn("daily counter increment failed",
			zap.String("user_id", user.ID), zap.Error(err))
	}

	transactionsCreated.Inc()
	e.logger.Info("transaction created",
		zap.String("transaction_id", t.ID),
		zap.String("user_id", user.ID),
		zap.String("type", string(t.Type)),
		zap.String("amount", t.Amount.String()),
		zap.String("recipient", phone.Mask(normalized)))

	return t, nil
}

// Confirm moves a pending transaction through CONFIRMED and PROCESSING
// and fires the STK push, all under the row lock. If the push fails the
// transaction lands in FAILED and the gateway error is returned alongside
// the persisted record.
func (e *TransactionEngine) Confirm(ctx context.Context, userID, transactionID string) (*domain.Transaction, error) {
	now := time.Now().UTC()

	// The push outcome must reach the store even if the caller
	// disconnects mid-confirm; a lost commit would let a second confirm
	// push the same payment again.
	budget := time.Duration(e.cfg.Mpesa.RetryAttempts+1)*e.cfg.Mpesa.RequestTimeout + 30*time.Second
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
	defer cancel()

	var (
		alreadyInFlight bool
		expired         bool
		gatewayErr      error
	)

	t, err := e.store.Mutate(opCtx, transactionID, func(t *domain.Transaction) error {
		if t.SenderID != userID {
			return domain.ErrNotOwner
		}

		// A repeated confirm tap after the push went out must not
		// trigger a second push.
		if t.Status == domain.StatusProcessing || t.Status == domain.StatusPushed {
			alreadyInFlight = true
			return nil
		}
		if t.Status != domain.StatusPendingConfirmation {
			return domain.ErrNotPending
		}

		if now.After(t.ConfirmationExpiresAt) {
			expired = true
			t.FailureReason = "confirmation window elapsed"
			return t.TransitionTo(domain.StatusExpired)
		}

		if err := t.TransitionTo(domain.StatusConfirmed); err != nil {
			return err
		}
		if err := t.TransitionTo(domain.StatusProcessing); err != nil {
			return err
		}

		number, err := e.vault.Decrypt(t.RecipientPhoneEncrypted)
		if err != nil {
			return fmt.Errorf("decrypt recipient phone: %w", err)
		}

		t.IncrementRetry()
		pushStart := time.Now()
		result, pushErr := e.gateway.STKPush(opCtx, number, t.Amount, t.AccountReference, t.Description)
		stkPushDuration.Observe(time.Since(pushStart).Seconds())
		if pushErr != nil {
			gatewayErr = pushErr
			var rejection *domain.GatewayRejectionError
			if errors.As(pushErr, &rejection) {
				t.FailureReason = rejection.Description
				stkPushes.WithLabelValues("rejected").Inc()
			} else {
				t.FailureReason = "payment gateway unavailable"
				stkPushes.WithLabelValues("unavailable").Inc()
			}
			return t.TransitionTo(domain.StatusFailed)
		}

		t.MerchantRequestID = result.MerchantRequestID
		t.CheckoutRequestID = result.CheckoutRequestID
		stkPushes.WithLabelValues("pushed").Inc()
		return t.TransitionTo(domain.StatusPushed)
	})
	if err != nil {
		return nil, err
	}

	switch {
	case alreadyInFlight:
		e.logger.Info("confirm ignored, push already in flight",
			zap.String("transaction_id", t.ID))
		return t, nil
	case expired:
		transactionsFinished.WithLabelValues(string(domain.StatusExpired)).Inc()
		e.logger.Info("transaction expired on confirm",
			zap.String("transaction_id", t.ID))
		return t, domain.ErrNotPending
	case gatewayErr != nil:
		transactionsFinished.WithLabelValues(string(domain.StatusFailed)).Inc()
		e.logger.Error("stk push failed",
			zap.String("transaction_id", t.ID),
			zap.Error(gatewayErr))
		return t, gatewayErr
	}

	e.logger.Info("stk push sent",
		zap.String("transaction_id", t.ID),
		zap.String("checkout_request_id", t.CheckoutRequestID))
	return t, nil
}

// Cancel aborts a transaction that has not yet gone to the gateway.
// Cancelling an already cancelled transaction is a no-op.
func (e *TransactionEngine) Cancel(ctx context.Context, userID, transactionID string) (*domain.Transaction, error) {
	var already bool

	t, err := e.store.Mutate(ctx, transactionID, func(t *domain.Transaction) error {
		if t.SenderID != userID {
			return domain.ErrNotOwner
		}
		if t.Status == domain.StatusCancelled {
			already = true
			return nil
		}
		t.FailureReason = "cancelled by user"
		return t.TransitionTo(domain.StatusCancelled)
	})
	if err != nil {
		return nil, err
	}

	if !already {
		transactionsFinished.WithLabelValues(string(domain.StatusCancelled)).Inc()
		e.logger.Info("transaction cancelled",
			zap.String("transaction_id", t.ID),
			zap.String("user_id", userID))
	}
	return t, nil
}

// Get returns a transaction only to its owner.
func (e *TransactionEngine) Get(ctx context.Context, userID, transactionID string) (*domain.Transaction, error) {
	t, err := e.store.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.SenderID != userID {
		return nil, domain.ErrNotOwner
	}
	return t, nil
}

// History returns the user's most recent transactions, newest first.
func (e *TransactionEngine) History(ctx context.Context, userID string, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return e.store.RecentBySender(ctx, userID, limit)
}

func describe(t domain.TransactionType) string {
	switch t {
	case domain.TypeBuyAirtime:
		return "Airtime purchase"
	default:
		return "Send money"
	}
}
