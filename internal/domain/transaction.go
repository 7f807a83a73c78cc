package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeSendMoney  TransactionType = "SEND_MONEY"
	TypeBuyAirtime TransactionType = "BUY_AIRTIME"
)

type TransactionStatus string

const (
	StatusInitiated           TransactionStatus = "INITIATED"
	StatusPendingConfirmation TransactionStatus = "PENDING_CONFIRMATION"
	StatusConfirmed           TransactionStatus = "CONFIRMED"
	StatusProcessing          TransactionStatus = "PROCESSING"
	StatusPushed              TransactionStatus = "PUSHED"
	StatusCompleted           TransactionStatus = "COMPLETED"
	StatusFailed              TransactionStatus = "FAILED"
	StatusCancelled           TransactionStatus = "CANCELLED"
	StatusExpired             TransactionStatus = "EXPIRED"
	StatusRefunded            TransactionStatus = "REFUNDED"
)

// transitions is the only authority on which status changes are legal.
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusInitiated:           {StatusPendingConfirmation, StatusCancelled},
	StatusPendingConfirmation: {StatusConfirmed, StatusCancelled, StatusExpired},
	StatusConfirmed:           {StatusProcessing, StatusCancelled},
	StatusProcessing:          {StatusPushed, StatusFailed},
	StatusPushed:              {StatusCompleted, StatusFailed},
	StatusCompleted:           {StatusRefunded},
}

// Transaction is the aggregate root for a single outbound push payment.
type Transaction struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key"`
	SenderID       string            `json:"sender_id"`
	Type           TransactionType   `json:"type"`
	Status         TransactionStatus `json:"status"`

	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	RecipientPhoneHash      string `json:"recipient_phone_hash"`
	RecipientPhoneEncrypted string `json:"recipient_phone_encrypted"`
	RecipientName           string `json:"recipient_name"`

	AccountReference string `json:"account_reference"`
	Description      string `json:"description"`
	ChannelMessageID string `json:"channel_message_id,omitempty"`

	MerchantRequestID    string `json:"merchant_request_id,omitempty"`
	CheckoutRequestID    string `json:"checkout_request_id,omitempty"`
	GatewayReceiptNumber string `json:"gateway_receipt_number,omitempty"`
	ResultCode           *int   `json:"result_code,omitempty"`
	ResultDescription    string `json:"result_description,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`
	RetryCount    int    `json:"retry_count"`

	CreatedAt             time.Time  `json:"created_at"`
	ConfirmationExpiresAt time.Time  `json:"confirmation_expires_at"`
	PushedAt              *time.Time `json:"pushed_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	FailedAt              *time.Time `json:"failed_at,omitempty"`
}

func (t *Transaction) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transitions[t.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTo moves the transaction to next and stamps the matching
// lifecycle timestamp. An illegal transition returns an error and leaves
// the transaction untouched.
func (t *Transaction) TransitionTo(next TransactionStatus) error {
	if !t.CanTransitionTo(next) {
		return &InvalidTransitionError{From: t.Status, To: next}
	}
	t.Status = next

	now := time.Now().UTC()
	switch next {
	case StatusPushed:
		t.PushedAt = &now
	case StatusCompleted:
		t.CompletedAt = &now
	case StatusFailed, StatusCancelled, StatusExpired:
		t.FailedAt = &now
	}
	return nil
}

func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

func (t *Transaction) IncrementRetry() {
	t.RetryCount++
}
