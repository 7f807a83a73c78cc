package domain

import "github.com/shopspring/decimal"

// Intent is the normalized output of the message parsing layer. Parsing,
// contact alias resolution and channel transport all happen upstream; the
// engine only ever sees a resolved recipient.
type Intent struct {
	Type             TransactionType `json:"type"`
	Amount           decimal.Decimal `json:"amount"`
	RecipientPhone   string          `json:"recipient_phone"`
	RecipientName    string          `json:"recipient_name"`
	ChannelMessageID string          `json:"channel_message_id,omitempty"`
}

// User is owned by an upstream service; the engine references it for
// ownership checks and notification addressing only.
type User struct {
	ID             string `json:"id"`
	ChannelAddress string `json:"channel_address"`
}

// Contact is owned by the contact service; the engine touches it only to
// bump the transaction counter after a completed payment.
type Contact struct {
	OwnerID          string `json:"owner_id"`
	Alias            string `json:"alias"`
	PhoneHash        string `json:"phone_hash"`
	DisplayName      string `json:"display_name"`
	TransactionCount int    `json:"transaction_count"`
}
