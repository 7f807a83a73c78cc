package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBucket collapses retries of the same logical request that arrive
// within the same clock minute. The chat channel supplies no client request
// id, so this coarse fingerprint is the only duplicate suppression
// available at creation time.
const DefaultBucket = time.Minute

// Key derives the deterministic fingerprint for one logical payment
// request: sender, recipient, amount and the minute the request landed in.
func Key(userID, recipientPhone string, amount decimal.Decimal, at time.Time) string {
	bucket := at.UTC().Truncate(DefaultBucket)
	data := fmt.Sprintf("%s:%s:%s:%s",
		userID,
		recipientPhone,
		amount.StringFixed(2),
		bucket.Format(time.RFC3339),
	)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
