package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ByteSurgeonAmos/pesaTalk/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// MutateFunc mutates a transaction while its row lock is held. Returning an
// error aborts the mutation; nothing is written back.
type MutateFunc func(t *domain.Transaction) error

// TransactionStore is the durable home of transaction records. All writes
// after creation go through Mutate/MutateByCheckoutID, which hold an
// exclusive record lock for the read-modify-write so that user confirms,
// gateway callbacks and scheduler sweeps serialize per record.
type TransactionStore interface {
	Create(ctx context.Context, t *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	HasActiveByIdempotencyKey(ctx context.Context, key string) (bool, error)
	RecentBySender(ctx context.Context, senderID string, limit int) ([]*domain.Transaction, error)
	FindExpiredPending(ctx context.Context, now time.Time) ([]string, error)
	FindStalePushed(ctx context.Context, cutoff time.Time) ([]string, error)
	Mutate(ctx context.Context, id string, fn MutateFunc) (*domain.Transaction, error)
	MutateByCheckoutID(ctx context.Context, checkoutRequestID string, fn MutateFunc) (*domain.Transaction, error)
}

type transactionRepo struct {
	db *pgxpool.Pool
}

func NewTransactionRepository(db *pgxpool.Pool) TransactionStore {
	return &transactionRepo{db: db}
}

const transactionColumns = `
	id, idempotency_key, sender_id, transaction_type, status,
	amount::text, currency,
	recipient_phone_hash, recipient_phone_encrypted, recipient_name,
	account_reference, description, channel_message_id,
	merchant_request_id, checkout_request_id, gateway_receipt_number,
	result_code, result_description,
	failure_reason, retry_count,
	created_at, confirmation_expires_at, pushed_at, completed_at, failed_at`

func (r *transactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, idempotency_key, sender_id, transaction_type, status,
			amount, currency,
			recipient_phone_hash, recipient_phone_encrypted, recipient_name,
			account_reference, description, channel_message_id,
			created_at, confirmation_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.Exec(ctx, query,
		t.ID,
		t.IdempotencyKey,
		t.SenderID,
		t.Type,
		t.Status,
		t.Amount.StringFixed(2),
		t.Currency,
		t.RecipientPhoneHash,
		t.RecipientPhoneEncrypted,
		t.RecipientName,
		t.AccountReference,
		t.Description,
		t.ChannelMessageID,
		t.CreatedAt,
		t.ConfirmationExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateRequest
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *transactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *transactionRepo) HasActiveByIdempotencyKey(ctx context.Context, key string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE idempotency_key = $1
			  AND status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED', 'EXPIRED', 'REFUNDED')
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("check idempotency key: %w", err)
	}
	return exists, nil
}

func (r *transactionRepo) RecentBySender(ctx context.Context, senderID string, limit int) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE sender_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, senderID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *transactionRepo) FindExpiredPending(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		SELECT id FROM transactions
		WHERE status = $1 AND confirmation_expires_at <= $2
		ORDER BY confirmation_expires_at
	`
	return r.queryIDs(ctx, query, domain.StatusPendingConfirmation, now)
}

func (r *transactionRepo) FindStalePushed(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		SELECT id FROM transactions
		WHERE status = $1 AND pushed_at <= $2
		ORDER BY pushed_at
	`
	return r.queryIDs(ctx, query, domain.StatusPushed, cutoff)
}

func (r *transactionRepo) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transaction ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan transaction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *transactionRepo) Mutate(ctx context.Context, id string, fn MutateFunc) (*domain.Transaction, error) {
	return r.mutate(ctx, `WHERE id = $1`, id, fn)
}

func (r *transactionRepo) MutateByCheckoutID(ctx context.Context, checkoutRequestID string, fn MutateFunc) (*domain.Transaction, error) {
	return r.mutate(ctx, `WHERE checkout_request_id = $1`, checkoutRequestID, fn)
}

// mutate runs fn against the row under SELECT ... FOR UPDATE. A concurrent
// caller blocks here until the winner commits, then observes the
// post-mutation state; the state machine decides whether its own
// transition still applies.
func (r *transactionRepo) mutate(ctx context.Context, where, arg string, fn MutateFunc) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + transactionColumns + ` FROM transactions ` + where + ` FOR UPDATE`
	t, err := r.scanOne(tx.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, err
	}

	if err := fn(t); err != nil {
		return nil, err
	}

	update := `
		UPDATE transactions SET
			status = $2,
			merchant_request_id = $3,
			checkout_request_id = $4,
			gateway_receipt_number = $5,
			result_code = $6,
			result_description = $7,
			failure_reason = $8,
			retry_count = $9,
			pushed_at = $10,
			completed_at = $11,
			failed_at = $12
		WHERE id = $1
	`
	_, err = tx.Exec(ctx, update,
		t.ID,
		t.Status,
		nullable(t.MerchantRequestID),
		nullable(t.CheckoutRequestID),
		nullable(t.GatewayReceiptNumber),
		t.ResultCode,
		nullable(t.ResultDescription),
		nullable(t.FailureReason),
		t.RetryCount,
		t.PushedAt,
		t.CompletedAt,
		t.FailedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *transactionRepo) scanOne(row rowScanner) (*domain.Transaction, error) {
	var (
		t                 domain.Transaction
		amount            string
		channelMessageID  *string
		merchantRequestID *string
		checkoutRequestID *string
		receiptNumber     *string
		resultDescription *string
		failureReason     *string
	)

	err := row.Scan(
		&t.ID,
		&t.IdempotencyKey,
		&t.SenderID,
		&t.Type,
		&t.Status,
		&amount,
		&t.Currency,
		&t.RecipientPhoneHash,
		&t.RecipientPhoneEncrypted,
		&t.RecipientName,
		&t.AccountReference,
		&t.Description,
		&channelMessageID,
		&merchantRequestID,
		&checkoutRequestID,
		&receiptNumber,
		&t.ResultCode,
		&resultDescription,
		&failureReason,
		&t.RetryCount,
		&t.CreatedAt,
		&t.ConfirmationExpiresAt,
		&t.PushedAt,
		&t.CompletedAt,
		&t.FailedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse stored amount: %w", err)
	}
	t.ChannelMessageID = deref(channelMessageID)
	t.MerchantRequestID = deref(merchantRequestID)
	t.CheckoutRequestID = deref(checkoutRequestID)
	t.GatewayReceiptNumber = deref(receiptNumber)
	t.ResultDescription = deref(resultDescription)
	t.FailureReason = deref(failureReason)
	return &t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
